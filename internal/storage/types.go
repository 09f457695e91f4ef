package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound reports a missing user.
	ErrNotFound = errors.New("not found")
	// ErrDisabled reports an operation against a closed or disabled store.
	ErrDisabled = errors.New("storage disabled")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free JSON backend
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Stats is an aggregate view over the stored population.
type Stats struct {
	TotalUsers   int `json:"total_users"`
	ActiveUsers  int `json:"active_users"`
	MessagesSent int `json:"messages_sent"`
}

const botMessagesKeep = 50 // per chat, newest kept
