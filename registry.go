package main

import "sync"

type HandleKind string

const (
	HandleEventListener HandleKind = "event_listener"
	HandleTimer         HandleKind = "timer"
	HandleObserver      HandleKind = "observer"
	HandleSubscription  HandleKind = "subscription"
)

// resourceCounter is the read capability the monitor consumes. The registry
// implements it; tests substitute synthetic counts.
type resourceCounter interface {
	CurrentCounts() ResourceSummary
}

// HandleRegistry counts live handles the hosting application registers as it
// creates and destroys resources. It mirrors handle lifecycles, nothing more.
type HandleRegistry struct {
	mu     sync.RWMutex
	counts map[HandleKind]int
}

func newHandleRegistry() *HandleRegistry {
	return &HandleRegistry{counts: make(map[HandleKind]int)}
}

// Register records one live handle and returns its release func. Releasing
// more than once is a no-op.
func (hr *HandleRegistry) Register(kind HandleKind) func() {
	hr.mu.Lock()
	hr.counts[kind]++
	hr.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			hr.mu.Lock()
			if hr.counts[kind] > 0 {
				hr.counts[kind]--
			}
			hr.mu.Unlock()
		})
	}
}

func (hr *HandleRegistry) CurrentCounts() ResourceSummary {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	s := ResourceSummary{
		EventListeners: hr.counts[HandleEventListener],
		Timers:         hr.counts[HandleTimer],
		Observers:      hr.counts[HandleObserver],
		Subscriptions:  hr.counts[HandleSubscription],
	}
	s.Total = s.EventListeners + s.Timers + s.Observers + s.Subscriptions
	return s
}
