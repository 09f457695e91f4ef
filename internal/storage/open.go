package storage

import (
	"context"
	"errors"
	"strings"

	"yogabot/internal/domain"
	logx "yogabot/pkg/logx"
)

// Store is the persistence API consumed by the scheduler and the UI.
//
// All times are stored and returned in UTC.
type Store interface {
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	SaveUser(ctx context.Context, u *domain.User) error
	ListActiveUsers(ctx context.Context) ([]domain.User, error)
	DeactivateUser(ctx context.Context, chatID int64) error

	AppendSentRecord(ctx context.Context, chatID int64, contentID int) error

	AddBotMessage(ctx context.Context, m domain.BotMessage) error
	ListBotMessages(ctx context.Context, chatID int64) ([]domain.BotMessage, error)
	ClearBotMessages(ctx context.Context, chatID int64) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
