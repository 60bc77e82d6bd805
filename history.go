package main

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// StoredSnapshot is one persisted telemetry row served to the dashboard's
// history charts.
type StoredSnapshot struct {
	At             int64   `json:"at"`
	UsedBytes      uint64  `json:"used_bytes"`
	TotalBytes     uint64  `json:"total_bytes"`
	LimitBytes     uint64  `json:"limit_bytes"`
	UsageMegabytes float64 `json:"usage_mb"`
	Trend          Trend   `json:"trend"`
	LeakSuspected  bool    `json:"leak_suspected"`
	HandleTotal    int     `json:"handle_total"`
}

// HistoryStore persists one snapshot row per tick and ages out rows past the
// retention horizon on a background sweep. Losing the store never affects
// sampling; callers log and move on.
type HistoryStore struct {
	db        *sql.DB
	retention time.Duration
	stopCh    chan struct{}
}

func openHistoryStore(path string, retention time.Duration) (*HistoryStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history db not responding: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateHistory(db); err != nil {
		db.Close()
		return nil, err
	}

	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &HistoryStore{
		db:        db,
		retention: retention,
		stopCh:    make(chan struct{}),
	}, nil
}

func migrateHistory(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		used_bytes INTEGER NOT NULL,
		total_bytes INTEGER NOT NULL,
		limit_bytes INTEGER NOT NULL,
		usage_mb REAL NOT NULL,
		trend TEXT NOT NULL,
		leak_suspected INTEGER NOT NULL,
		handle_total INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_at ON snapshots(at);
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("migrating snapshots table: %w", err)
	}
	return nil
}

// Start runs the retention sweep until Stop.
func (hs *HistoryStore) Start(sweepEvery time.Duration) {
	if sweepEvery <= 0 {
		sweepEvery = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := hs.purgeExpired(); err != nil {
					log.Printf("history sweep: %v", err)
				}
			case <-hs.stopCh:
				return
			}
		}
	}()
}

func (hs *HistoryStore) Stop() {
	close(hs.stopCh)
	hs.db.Close()
}

// Insert persists one snapshot. Unavailable snapshots carry no numbers worth
// charting and are skipped.
func (hs *HistoryStore) Insert(snap MemorySnapshot, res ResourceSummary) error {
	if !snap.Available {
		return nil
	}
	_, err := hs.db.Exec(
		`INSERT INTO snapshots (at, used_bytes, total_bytes, limit_bytes, usage_mb, trend, leak_suspected, handle_total)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Timestamp, snap.UsedBytes, snap.TotalBytes, snap.LimitBytes,
		snap.UsageMegabytes, string(snap.Trend), boolToInt(snap.LeakSuspected), res.Total,
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (hs *HistoryStore) Recent(limit int) ([]StoredSnapshot, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := hs.db.Query(
		`SELECT at, used_bytes, total_bytes, limit_bytes, usage_mb, trend, leak_suspected, handle_total
		 FROM snapshots ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []StoredSnapshot
	for rows.Next() {
		var s StoredSnapshot
		var leak int
		var trend string
		if err := rows.Scan(&s.At, &s.UsedBytes, &s.TotalBytes, &s.LimitBytes,
			&s.UsageMegabytes, &trend, &leak, &s.HandleTotal); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		s.Trend = Trend(trend)
		s.LeakSuspected = leak != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

func (hs *HistoryStore) purgeExpired() error {
	horizon := time.Now().Add(-hs.retention).UnixMilli()
	if _, err := hs.db.Exec(`DELETE FROM snapshots WHERE at < ?`, horizon); err != nil {
		return fmt.Errorf("purging expired snapshots: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
