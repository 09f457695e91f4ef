package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Content   ContentConfig   `json:"content,omitempty"`
	Health    HealthConfig    `json:"health,omitempty"`

	// Storage is optional; nil falls back to the sqlite driver with a
	// default path next to the binary.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// OwnerID unlocks the /stats command; zero leaves it open.
	OwnerID int64 `json:"owner_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls delivery timing around the per-user jobs.
//
// All durations are Go duration strings.
type SchedulerConfig struct {
	// DeliverTimeout bounds one delivery including all retries.
	DeliverTimeout string `json:"deliver_timeout,omitempty"` // default "2m"
	ParseMode      string `json:"parse_mode,omitempty"`      // default "Markdown"
	// SweepTimeout bounds one reconciler sweep.
	SweepTimeout string `json:"sweep_timeout,omitempty"` // default "5m"
}

type DeliveryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"` // default 3
	BackoffBase string `json:"backoff_base,omitempty"` // default "1s"
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 25
}

type ContentConfig struct {
	// Path points at a principles JSON file; empty uses the embedded set.
	Path      string `json:"path,omitempty"`
	ImagesDir string `json:"images_dir,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
	// Pprof exposes /debug/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./yogabot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate checks the fields the services cannot default away.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"scheduler.deliver_timeout", c.Scheduler.DeliverTimeout},
		{"scheduler.sweep_timeout", c.Scheduler.SweepTimeout},
		{"delivery.backoff_base", c.Delivery.BackoffBase},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Delivery.MaxAttempts < 0 {
		return fmt.Errorf("delivery.max_attempts must be >= 0")
	}
	if c.Delivery.RatePerSec < 0 {
		return fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}
	return nil
}
