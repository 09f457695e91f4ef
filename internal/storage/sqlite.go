package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"yogabot/internal/domain"
	logx "yogabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, language, timezone, send_time, skip_days, active, created_at
		 FROM users WHERE chat_id = ?`, chatID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *sqliteStore) SaveUser(ctx context.Context, u *domain.User) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(chat_id, language, timezone, send_time, skip_days, active, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   language=excluded.language, timezone=excluded.timezone,
		   send_time=excluded.send_time, skip_days=excluded.skip_days,
		   active=excluded.active`,
		u.ChatID, u.Language, u.Timezone, u.SendTime,
		encodeSkipDays(u.SkipDays), boolInt(u.Active), createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, language, timezone, send_time, skip_days, active, created_at
		 FROM users WHERE active = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeactivateUser(ctx context.Context, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = 0 WHERE chat_id = ?`, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", chatID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) AppendSentRecord(ctx context.Context, chatID int64, contentID int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_log(id, chat_id, content_id, sent_at) VALUES(?,?,?,?)`,
		uuid.NewString(), chatID, contentID, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) AddBotMessage(ctx context.Context, m domain.BotMessage) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	sentAt := m.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_messages(chat_id, message_id, kind, sent_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, message_id) DO UPDATE SET kind=excluded.kind, sent_at=excluded.sent_at`,
		m.ChatID, m.MessageID, m.Kind, sentAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	// Keep only the newest entries per chat so the table stays bounded.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM bot_messages WHERE chat_id = ? AND message_id NOT IN (
		   SELECT message_id FROM bot_messages WHERE chat_id = ?
		   ORDER BY message_id DESC LIMIT ?)`,
		m.ChatID, m.ChatID, botMessagesKeep,
	)
	return err
}

func (s *sqliteStore) ListBotMessages(ctx context.Context, chatID int64) ([]domain.BotMessage, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, message_id, kind, sent_at FROM bot_messages
		 WHERE chat_id = ? ORDER BY message_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BotMessage
	for rows.Next() {
		var m domain.BotMessage
		var sentAt string
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.Kind, &sentAt); err != nil {
			return nil, err
		}
		m.SentAt, _ = time.Parse(time.RFC3339, sentAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClearBotMessages(ctx context.Context, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM bot_messages WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, ErrDisabled
	}
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.TotalUsers); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE active = 1`).Scan(&st.ActiveUsers); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_log`).Scan(&st.MessagesSent); err != nil {
		return Stats{}, err
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*domain.User, error) {
	var u domain.User
	var skipDays, createdAt string
	var active int
	if err := r.Scan(&u.ChatID, &u.Language, &u.Timezone, &u.SendTime, &skipDays, &active, &createdAt); err != nil {
		return nil, err
	}
	u.SkipDays = decodeSkipDays(skipDays)
	u.Active = active != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func encodeSkipDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func decodeSkipDays(s string) []int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
