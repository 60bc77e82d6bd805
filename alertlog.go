package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AlertLogWriter dumps the retained alert history to a flat file on a fixed
// interval so the dashboard can still show recent alerts after an agent
// restart. Failures are logged and swallowed.
type AlertLogWriter struct {
	path     string
	interval time.Duration
	source   func(n int) []Alert
	mu       sync.Mutex
	stopCh   chan struct{}
}

func newAlertLogWriter(path string, interval time.Duration, source func(n int) []Alert) *AlertLogWriter {
	return &AlertLogWriter{
		path:     path,
		interval: interval,
		source:   source,
		stopCh:   make(chan struct{}),
	}
}

func (w *AlertLogWriter) Start() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0700); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.dump()
			case <-w.stopCh:
				return
			}
		}
	}()
	return nil
}

func (w *AlertLogWriter) Stop() {
	close(w.stopCh)
	w.dump() // Final dump
}

func (w *AlertLogWriter) dump() {
	alerts := w.source(0)
	if len(alerts) == 0 {
		return
	}

	var b strings.Builder
	for _, a := range alerts {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n",
			time.UnixMilli(a.At).UTC().Format(time.RFC3339), a.Kind, a.ID, a.Message)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.WriteFile(w.path, []byte(b.String()), 0600); err != nil {
		log.Printf("alert log dump: %v", err)
	}
}

// Tail returns the persisted alert log contents.
func (w *AlertLogWriter) Tail() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := os.ReadFile(w.path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
