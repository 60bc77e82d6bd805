package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader replays a fixed series of usage readings. The last reading
// repeats once the series is exhausted.
type fakeReader struct {
	readings  []uint64
	idx       int
	available bool
}

func (f *fakeReader) ReadMemory() (uint64, uint64, uint64, bool) {
	if !f.available {
		return 0, 0, 0, false
	}
	used := f.readings[f.idx]
	if f.idx < len(f.readings)-1 {
		f.idx++
	}
	return used, used + mbToBytes(64), mbToBytes(8192), true
}

type fakeCounts struct {
	summary ResourceSummary
}

func (f fakeCounts) CurrentCounts() ResourceSummary { return f.summary }

func readerMB(values ...float64) *fakeReader {
	readings := make([]uint64, len(values))
	for i, v := range values {
		readings[i] = mbToBytes(v)
	}
	return &fakeReader{readings: readings, available: true}
}

func testConfig(windowSize int) MonitorConfig {
	return MonitorConfig{
		WindowSize:            windowSize,
		HighUsageThresholdMB:  512,
		LeakGrowthThresholdMB: 64,
		NoiseThresholdPercent: 5,
		AlertHistory:          10,
	}
}

func TestMonitorFirstSampleIsStable(t *testing.T) {
	m := newMonitor(testConfig(5), readerMB(100), fakeCounts{})

	m.Tick()
	snap := m.LastSnapshot()
	assert.True(t, snap.Available)
	assert.Equal(t, TrendStable, snap.Trend)
	assert.False(t, snap.LeakSuspected)
}

func TestMonitorRisingLeakScenario(t *testing.T) {
	// 100,101,102,150,200 MB fills a window of 5 monotonically with 100 MB of
	// growth; continuing at 200 keeps suspicion, a dip clears it, and a fresh
	// monotonic climb re-arms the edge trigger.
	reader := readerMB(100, 101, 102, 150, 200, 200, 150, 160, 170, 180, 300)
	m := newMonitor(testConfig(5), reader, fakeCounts{})

	var leaks []Alert
	m.Subscribe(AlertLeakDetected, func(a Alert) { leaks = append(leaks, a) })

	for i := 0; i < 5; i++ {
		m.Tick()
	}

	snap := m.LastSnapshot()
	assert.Equal(t, TrendIncreasing, snap.Trend)
	assert.True(t, snap.LeakSuspected)
	require.Len(t, leaks, 1, "leak alert fires once on the transition")
	assert.Equal(t, AlertLeakDetected, leaks[0].Kind)

	// Still suspected on the next tick: edge-triggered, no second alert.
	m.Tick()
	assert.True(t, m.LastSnapshot().LeakSuspected)
	assert.Len(t, leaks, 1)

	// A dip clears suspicion.
	m.Tick()
	assert.False(t, m.LastSnapshot().LeakSuspected)

	// Climb back to a full monotonic window: the trigger has re-armed.
	for i := 0; i < 4; i++ {
		m.Tick()
	}
	assert.True(t, m.LastSnapshot().LeakSuspected)
	assert.Len(t, leaks, 2)
}

func TestMonitorDecreasingScenario(t *testing.T) {
	reader := readerMB(200, 150, 140, 135, 130)
	m := newMonitor(testConfig(5), reader, fakeCounts{})

	var fired []Alert
	m.Subscribe(AlertLeakDetected, func(a Alert) { fired = append(fired, a) })
	m.Subscribe(AlertHighUsage, func(a Alert) { fired = append(fired, a) })

	for i := 0; i < 5; i++ {
		m.Tick()
		assert.False(t, m.LastSnapshot().LeakSuspected)
	}

	assert.Equal(t, TrendDecreasing, m.LastSnapshot().Trend)
	assert.Empty(t, fired)
	assert.Empty(t, m.RecentAlerts(0))
}

func TestMonitorHighUsageIsLevelTriggered(t *testing.T) {
	cfg := testConfig(5)
	cfg.HighUsageThresholdMB = 100
	m := newMonitor(cfg, readerMB(150, 150, 150), fakeCounts{})

	var fired []Alert
	m.Subscribe(AlertHighUsage, func(a Alert) { fired = append(fired, a) })

	for i := 0; i < 3; i++ {
		m.Tick()
	}

	assert.Len(t, fired, 3, "fires every tick the condition holds")
	assert.Len(t, m.RecentAlerts(0), 3)
}

func TestMonitorHighUsageBoundaryIsStrict(t *testing.T) {
	cfg := testConfig(5)
	cfg.HighUsageThresholdMB = 100
	m := newMonitor(cfg, readerMB(100), fakeCounts{})

	var fired []Alert
	m.Subscribe(AlertHighUsage, func(a Alert) { fired = append(fired, a) })

	m.Tick()
	assert.Empty(t, fired)
}

func TestMonitorListenerPanicIsolation(t *testing.T) {
	cfg := testConfig(5)
	cfg.HighUsageThresholdMB = 100
	m := newMonitor(cfg, readerMB(150), fakeCounts{})

	var order []string
	m.Subscribe(AlertHighUsage, func(Alert) { order = append(order, "first") })
	m.Subscribe(AlertHighUsage, func(Alert) { panic("listener blew up") })
	m.Subscribe(AlertHighUsage, func(Alert) { order = append(order, "third") })

	assert.NotPanics(t, func() { m.Tick() })
	assert.Equal(t, []string{"first", "third"}, order, "remaining listeners still notified in order")
}

func TestMonitorUnsubscribeDuringCallback(t *testing.T) {
	cfg := testConfig(5)
	cfg.HighUsageThresholdMB = 100
	m := newMonitor(cfg, readerMB(150, 150), fakeCounts{})

	var calls []string
	var unsubFirst func()
	unsubFirst = m.Subscribe(AlertHighUsage, func(Alert) {
		calls = append(calls, "first")
		unsubFirst()
		unsubFirst() // idempotent
	})
	m.Subscribe(AlertHighUsage, func(Alert) { calls = append(calls, "second") })

	m.Tick()
	assert.Equal(t, []string{"first", "second"}, calls, "self-removal must not starve peers in the same tick")

	m.Tick()
	assert.Equal(t, []string{"first", "second", "second"}, calls)
}

func TestMonitorDispose(t *testing.T) {
	cfg := testConfig(5)
	cfg.HighUsageThresholdMB = 100
	m := newMonitor(cfg, readerMB(150, 150, 150), fakeCounts{})

	var fired int
	m.Subscribe(AlertHighUsage, func(Alert) { fired++ })

	m.Tick()
	require.Equal(t, 1, fired)
	before := m.LastSnapshot()

	m.Dispose()
	m.Tick()
	m.Tick()

	assert.Equal(t, 1, fired, "no deliveries after dispose")
	assert.Equal(t, before, m.LastSnapshot(), "no snapshots after dispose")
	assert.NotPanics(t, m.Dispose, "dispose is idempotent")
}

func TestMonitorUnavailableHost(t *testing.T) {
	cfg := testConfig(2)
	cfg.HighUsageThresholdMB = 1 // would fire instantly if evaluated
	reader := readerMB(100, 200)
	reader.available = false
	m := newMonitor(cfg, reader, fakeCounts{})

	var fired int
	m.Subscribe(AlertHighUsage, func(Alert) { fired++ })

	m.Tick()
	m.Tick()

	snap := m.LastSnapshot()
	assert.False(t, snap.Available)
	assert.Zero(t, snap.UsedBytes)
	assert.Zero(t, snap.UsageMegabytes)
	assert.Equal(t, TrendStable, snap.Trend)
	assert.Zero(t, fired, "threshold evaluation skipped while unavailable")

	// Telemetry coming back must not be polluted by fabricated zero readings.
	reader.available = true
	m.Tick()
	m.Tick()
	assert.Equal(t, TrendIncreasing, m.LastSnapshot().Trend)
}

func TestMonitorWindowEviction(t *testing.T) {
	m := newMonitor(testConfig(2), readerMB(100, 200, 50), fakeCounts{})

	var leaks int
	m.Subscribe(AlertLeakDetected, func(Alert) { leaks++ })

	m.Tick()
	m.Tick()
	assert.True(t, m.LastSnapshot().LeakSuspected)
	assert.Equal(t, 1, leaks)

	// Oldest reading evicted; the dip clears suspicion.
	m.Tick()
	assert.False(t, m.LastSnapshot().LeakSuspected)
	assert.Equal(t, TrendDecreasing, m.LastSnapshot().Trend)
}

func TestMonitorResourceCounts(t *testing.T) {
	summary := ResourceSummary{EventListeners: 2, Timers: 1, Observers: 3, Subscriptions: 4, Total: 10}
	m := newMonitor(testConfig(5), readerMB(100), fakeCounts{summary: summary})

	assert.Equal(t, summary, m.ResourceCounts())
}

func TestMonitorCallbacksInstalledWhileRunning(t *testing.T) {
	// Wiring happens after the tick loop is already started, the same order
	// main uses when the sampler comes up before the server.
	cfg := testConfig(5)
	cfg.SampleInterval = time.Millisecond
	m := newMonitor(cfg, readerMB(100), fakeCounts{})
	m.Start()
	defer m.Dispose()

	got := make(chan MemorySnapshot, 1)
	m.setCallbacks(func(snap MemorySnapshot, _ ResourceSummary) {
		select {
		case got <- snap:
		default:
		}
	}, nil)

	select {
	case snap := <-got:
		assert.True(t, snap.Available)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot callback never invoked")
	}
}

func TestMonitorSampleNeverFails(t *testing.T) {
	m := newMonitor(testConfig(5), &fakeReader{available: false}, fakeCounts{})

	var snap MemorySnapshot
	assert.NotPanics(t, func() { snap = m.Sample() })
	assert.False(t, snap.Available)
}
