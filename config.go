package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
	Token   string `yaml:"token"`
	DataDir string `yaml:"data_dir"`

	SampleIntervalMs      int     `yaml:"sample_interval_ms"`
	WindowSize            int     `yaml:"window_size"`
	HighUsageThresholdMB  float64 `yaml:"high_usage_threshold_mb"`
	LeakGrowthThresholdMB float64 `yaml:"leak_growth_threshold_mb"`
	NoiseThresholdPercent float64 `yaml:"noise_threshold_percent"`
	AlertHistory          int     `yaml:"alert_history"`

	AlertDumpIntervalSec  int `yaml:"alert_dump_interval_sec"`
	HistoryRetentionHours int `yaml:"history_retention_hours"`
}

func defaultConfig() *Config {
	return &Config{
		Port:                  9120,
		DataDir:               "~/.opsdash",
		SampleIntervalMs:      5000,
		WindowSize:            10,
		HighUsageThresholdMB:  512,
		LeakGrowthThresholdMB: 64,
		NoiseThresholdPercent: 5,
		AlertHistory:          20,
		AlertDumpIntervalSec:  30,
		HistoryRetentionHours: 24,
	}
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	def := defaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.SampleIntervalMs <= 0 {
		cfg.SampleIntervalMs = def.SampleIntervalMs
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
	if cfg.AlertDumpIntervalSec <= 0 {
		cfg.AlertDumpIntervalSec = def.AlertDumpIntervalSec
	}
	if cfg.HistoryRetentionHours <= 0 {
		cfg.HistoryRetentionHours = def.HistoryRetentionHours
	}

	return cfg, nil
}

// applyEnv overlays OPSDASH_* environment variables (loaded from .env by main
// when present) on top of the file config.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPSDASH_BIND"); v != "" {
		c.Bind = v
	}
	if v := os.Getenv("OPSDASH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv("OPSDASH_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("OPSDASH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// GetDataDir expands a leading ~ in the configured data directory.
func (c *Config) GetDataDir() string {
	d := c.DataDir
	if len(d) > 0 && d[0] == '~' {
		home, _ := os.UserHomeDir()
		d = filepath.Join(home, d[1:])
	}
	return d
}

func (c *Config) MonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:        time.Duration(c.SampleIntervalMs) * time.Millisecond,
		WindowSize:            c.WindowSize,
		HighUsageThresholdMB:  c.HighUsageThresholdMB,
		LeakGrowthThresholdMB: c.LeakGrowthThresholdMB,
		NoiseThresholdPercent: c.NoiseThresholdPercent,
		AlertHistory:          c.AlertHistory,
	}
}

func (c *Config) GetAlertDumpInterval() time.Duration {
	return time.Duration(c.AlertDumpIntervalSec) * time.Second
}

func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionHours) * time.Hour
}

// watchConfig hot-applies threshold changes when the config file is rewritten.
// Interval and window size stay fixed until restart.
func watchConfig(path string, monitor *Monitor) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace the file, which would drop a watch
	// held on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, err := loadConfig(path)
				if err != nil {
					log.Printf("config reload: %v", err)
					continue
				}
				monitor.UpdateThresholds(cfg.HighUsageThresholdMB, cfg.LeakGrowthThresholdMB, cfg.NoiseThresholdPercent)
				log.Printf("config reloaded: thresholds high=%.0fMB leak=%.0fMB noise=%.1f%%",
					cfg.HighUsageThresholdMB, cfg.LeakGrowthThresholdMB, cfg.NoiseThresholdPercent)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watch: %v", err)
			}
		}
	}()

	return watcher, nil
}
