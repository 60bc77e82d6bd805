package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertRing(t *testing.T) {
	t.Run("oldest evicted first", func(t *testing.T) {
		ring := newAlertRing(3)
		for i := 0; i < 5; i++ {
			ring.add(newAlert(AlertHighUsage, fmt.Sprintf("alert %d", i)))
		}

		got := ring.recent(0)
		require.Len(t, got, 3)
		assert.Equal(t, "alert 2", got[0].Message)
		assert.Equal(t, "alert 4", got[2].Message)
	})

	t.Run("recent limits to the newest n", func(t *testing.T) {
		ring := newAlertRing(5)
		ring.add(newAlert(AlertHighUsage, "a"))
		ring.add(newAlert(AlertLeakDetected, "b"))
		ring.add(newAlert(AlertHighUsage, "c"))

		got := ring.recent(2)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].Message)
		assert.Equal(t, "c", got[1].Message)
	})

	t.Run("capacity floor of one", func(t *testing.T) {
		ring := newAlertRing(0)
		ring.add(newAlert(AlertHighUsage, "x"))
		ring.add(newAlert(AlertHighUsage, "y"))
		got := ring.recent(0)
		require.Len(t, got, 1)
		assert.Equal(t, "y", got[0].Message)
	})

	t.Run("alerts carry ids and kinds", func(t *testing.T) {
		a := newAlert(AlertLeakDetected, "suspected leak")
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, AlertLeakDetected, a.Kind)
		assert.NotZero(t, a.At)
	})
}
