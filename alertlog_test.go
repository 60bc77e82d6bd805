package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertLogWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "alerts.log")
	alerts := []Alert{
		newAlert(AlertHighUsage, "memory usage 600.0 MB above 512.0 MB limit"),
		newAlert(AlertLeakDetected, "suspected leak: heap grew 100.0 MB over the last 10 samples"),
	}

	w := newAlertLogWriter(path, time.Minute, func(int) []Alert { return alerts })
	require.NoError(t, w.Start())
	w.Stop() // triggers the final dump

	content, err := w.Tail()
	require.NoError(t, err)
	assert.Contains(t, content, "high-usage")
	assert.Contains(t, content, "leak-detected")
	assert.Contains(t, content, "heap grew 100.0 MB")
	assert.Contains(t, content, alerts[0].ID)
}

func TestAlertLogWriterEmptyHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	w := newAlertLogWriter(path, time.Minute, func(int) []Alert { return nil })

	w.dump()

	_, err := w.Tail()
	assert.True(t, os.IsNotExist(err), "no file is written for an empty history")
}
