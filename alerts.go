package main

import (
	"time"

	"github.com/google/uuid"
)

type AlertKind string

const (
	AlertHighUsage    AlertKind = "high-usage"
	AlertLeakDetected AlertKind = "leak-detected"
)

// Alert is one fired notification, retained in a bounded recent-history ring.
type Alert struct {
	ID      string    `json:"id"`
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
	At      int64     `json:"at"`
}

func newAlert(kind AlertKind, message string) Alert {
	return Alert{
		ID:      uuid.New().String(),
		Kind:    kind,
		Message: message,
		At:      time.Now().UnixMilli(),
	}
}

// alertRing keeps the most recent N alerts, oldest evicted first.
type alertRing struct {
	cap    int
	alerts []Alert
}

func newAlertRing(capacity int) *alertRing {
	if capacity < 1 {
		capacity = 1
	}
	return &alertRing{cap: capacity}
}

func (r *alertRing) add(a Alert) {
	r.alerts = append(r.alerts, a)
	if len(r.alerts) > r.cap {
		r.alerts = r.alerts[len(r.alerts)-r.cap:]
	}
}

// recent returns up to n alerts, oldest first within the returned slice.
// n <= 0 returns everything retained.
func (r *alertRing) recent(n int) []Alert {
	if n <= 0 || n > len(r.alerts) {
		n = len(r.alerts)
	}
	out := make([]Alert, n)
	copy(out, r.alerts[len(r.alerts)-n:])
	return out
}
