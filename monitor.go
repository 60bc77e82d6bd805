package main

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// MonitorConfig carries the sampling knobs. Zero values are normalized by
// newMonitor so a partially filled struct is safe.
type MonitorConfig struct {
	SampleInterval        time.Duration
	WindowSize            int
	HighUsageThresholdMB  float64
	LeakGrowthThresholdMB float64
	NoiseThresholdPercent float64
	AlertHistory          int
}

func defaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:        5 * time.Second,
		WindowSize:            10,
		HighUsageThresholdMB:  512,
		LeakGrowthThresholdMB: 64,
		NoiseThresholdPercent: 5,
		AlertHistory:          20,
	}
}

type subscriber struct {
	kind AlertKind
	fn   func(Alert)
}

// Monitor is the resource telemetry sampler. It owns a rolling window of
// usage readings, classifies trend, detects suspected leaks and notifies
// subscribers. One instance per data directory; tests create their own.
type Monitor struct {
	mu        sync.RWMutex
	cfg       MonitorConfig
	reader    memoryReader
	resources resourceCounter

	window       []uint64 // usage bytes, oldest first
	last         MemorySnapshot
	wasSuspected bool
	alerts       *alertRing
	subscribers  []*subscriber

	// set once during wiring, invoked outside the monitor lock
	onSnapshot func(MemorySnapshot, ResourceSummary)
	onAlert    func(Alert)

	stopCh   chan struct{}
	disposed bool
}

func newMonitor(cfg MonitorConfig, reader memoryReader, resources resourceCounter) *Monitor {
	def := defaultMonitorConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.WindowSize < 2 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.HighUsageThresholdMB <= 0 {
		cfg.HighUsageThresholdMB = def.HighUsageThresholdMB
	}
	if cfg.LeakGrowthThresholdMB <= 0 {
		cfg.LeakGrowthThresholdMB = def.LeakGrowthThresholdMB
	}
	if cfg.NoiseThresholdPercent <= 0 {
		cfg.NoiseThresholdPercent = def.NoiseThresholdPercent
	}
	if cfg.AlertHistory <= 0 {
		cfg.AlertHistory = def.AlertHistory
	}

	return &Monitor{
		cfg:       cfg,
		reader:    reader,
		resources: resources,
		window:    make([]uint64, 0, cfg.WindowSize),
		alerts:    newAlertRing(cfg.AlertHistory),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the tick loop on the configured interval until Dispose.
func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Tick()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Dispose cancels the tick loop and drops all subscriptions. Safe to call
// more than once; Tick becomes a no-op afterwards.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.subscribers = nil
	m.mu.Unlock()
	close(m.stopCh)
}

// setCallbacks installs the wiring hooks. Taking the lock here keeps the
// install safe even when the tick loop is already running.
func (m *Monitor) setCallbacks(onSnapshot func(MemorySnapshot, ResourceSummary), onAlert func(Alert)) {
	m.mu.Lock()
	m.onSnapshot = onSnapshot
	m.onAlert = onAlert
	m.mu.Unlock()
}

// Subscribe registers a listener for one alert kind and returns its disposer.
// Listeners fire in registration order. The disposer is idempotent and safe
// to call from inside the listener itself.
func (m *Monitor) Subscribe(kind AlertKind, fn func(Alert)) func() {
	sub := &subscriber{kind: kind, fn: fn}

	m.mu.Lock()
	if !m.disposed {
		m.subscribers = append(m.subscribers, sub)
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subscribers {
			if s == sub {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Sample reads current memory figures and appends the reading to the rolling
// window. It never fails: a host without memory introspection yields a
// snapshot with Available=false and zeroed fields, and the window is left
// untouched so later trend analysis is not polluted by fabricated zeros.
func (m *Monitor) Sample() MemorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return MemorySnapshot{Timestamp: time.Now().UnixMilli(), Trend: TrendStable}
	}
	return m.sampleLocked()
}

func (m *Monitor) sampleLocked() MemorySnapshot {
	snap := MemorySnapshot{Timestamp: time.Now().UnixMilli(), Trend: TrendStable}

	used, total, limit, ok := m.reader.ReadMemory()
	if !ok {
		m.last = snap
		return snap
	}

	snap.Available = true
	snap.UsedBytes = used
	snap.TotalBytes = total
	snap.LimitBytes = limit
	snap.UsageMegabytes = float64(used) / (1 << 20)

	m.window = append(m.window, used)
	if len(m.window) > m.cfg.WindowSize {
		m.window = m.window[1:]
	}

	snap.Trend = classifyTrend(m.window, m.cfg.NoiseThresholdPercent)
	snap.LeakSuspected = growthSuspected(m.window, m.cfg.WindowSize, mbToBytes(m.cfg.LeakGrowthThresholdMB))

	m.last = snap
	return snap
}

// Tick samples once, evaluates thresholds and notifies listeners. High usage
// is level-triggered: it fires on every tick the usage sits above the limit.
// Leak detection is edge-triggered: it fires once per transition into the
// suspected state and re-arms when suspicion clears.
func (m *Monitor) Tick() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}

	snap := m.sampleLocked()
	summary := m.resources.CurrentCounts()

	var fired []Alert
	if snap.Available {
		if snap.UsageMegabytes > m.cfg.HighUsageThresholdMB {
			fired = append(fired, newAlert(AlertHighUsage, fmt.Sprintf(
				"memory usage %.1f MB above %.1f MB limit", snap.UsageMegabytes, m.cfg.HighUsageThresholdMB)))
		}
		if snap.LeakSuspected && !m.wasSuspected {
			growthMB := float64(m.window[len(m.window)-1]-m.window[0]) / (1 << 20)
			fired = append(fired, newAlert(AlertLeakDetected, fmt.Sprintf(
				"suspected leak: heap grew %.1f MB over the last %d samples", growthMB, m.cfg.WindowSize)))
		}
		m.wasSuspected = snap.LeakSuspected
	}

	for _, a := range fired {
		m.alerts.add(a)
	}

	// Snapshot the subscriber list so a listener unsubscribing itself (or
	// anyone else) mid-delivery cannot affect this tick's deliveries.
	subs := make([]*subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	onSnapshot := m.onSnapshot
	onAlert := m.onAlert
	m.mu.Unlock()

	for _, a := range fired {
		for _, s := range subs {
			if s.kind == a.Kind {
				m.deliver(s, a)
			}
		}
		if onAlert != nil {
			onAlert(a)
		}
	}
	if onSnapshot != nil {
		onSnapshot(snap, summary)
	}
}

// deliver isolates one listener invocation so a panicking listener cannot
// starve the rest of the delivery list.
func (m *Monitor) deliver(s *subscriber, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("monitor: %s listener panic: %v", a.Kind, r)
		}
	}()
	s.fn(a)
}

// ResourceCounts reports the live handle counts from the registry capability.
func (m *Monitor) ResourceCounts() ResourceSummary {
	return m.resources.CurrentCounts()
}

// LastSnapshot returns the most recently produced snapshot.
func (m *Monitor) LastSnapshot() MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// RecentAlerts returns up to n retained alerts, oldest first.
func (m *Monitor) RecentAlerts(n int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alerts.recent(n)
}

// UpdateThresholds hot-applies new alerting thresholds. Interval and window
// size are fixed for the life of the instance.
func (m *Monitor) UpdateThresholds(highUsageMB, leakGrowthMB, noisePercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if highUsageMB > 0 {
		m.cfg.HighUsageThresholdMB = highUsageMB
	}
	if leakGrowthMB > 0 {
		m.cfg.LeakGrowthThresholdMB = leakGrowthMB
	}
	if noisePercent > 0 {
		m.cfg.NoiseThresholdPercent = noisePercent
	}
}

func mbToBytes(mb float64) uint64 {
	if mb <= 0 {
		return 0
	}
	return uint64(mb * (1 << 20))
}
