package main

// MemorySnapshot is one sampled reading of heap and host memory state.
// Snapshots are immutable once produced.
type MemorySnapshot struct {
	Timestamp      int64   `json:"timestamp"`
	UsedBytes      uint64  `json:"used_bytes"`
	TotalBytes     uint64  `json:"total_bytes"`
	LimitBytes     uint64  `json:"limit_bytes"`
	UsageMegabytes float64 `json:"usage_mb"`
	Available      bool    `json:"available"`
	Trend          Trend   `json:"trend"`
	LeakSuspected  bool    `json:"leak_suspected"`
}

// ResourceSummary reports counts of live handles the hosting application has
// registered. The sampler only reports counts, it never owns the handles.
type ResourceSummary struct {
	EventListeners int `json:"event_listeners"`
	Timers         int `json:"timers"`
	Observers      int `json:"observers"`
	Subscriptions  int `json:"subscriptions"`
	Total          int `json:"total"`
}
