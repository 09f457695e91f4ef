package storage

// Package storage persists subscribers and delivery history.
//
// It currently supports:
//   - User settings (timezone, send time, skip days, language, active flag)
//   - Append-only sent log (one record per successful delivery)
//   - Bot message references (for dialog cleanup)
