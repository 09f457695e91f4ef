package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"yogabot/internal/domain"
	logx "yogabot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.users.json     (snapshot, rewritten atomically on mutation)
//   - <prefix>.sent.jsonl     (append-only JSON Lines)
//   - <prefix>.messages.json  (snapshot, bounded per chat)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	usersPath    string
	messagesPath string
	sentFile     *os.File

	users     map[int64]domain.User
	messages  map[int64][]domain.BotMessage
	sentCount int
}

type sentRecordJSON struct {
	ID        string `json:"id"`
	ChatID    int64  `json:"chat_id"`
	ContentID int    `json:"content_id"`
	SentAt    string `json:"sent_at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		log:          log,
		usersPath:    prefix + ".users.json",
		messagesPath: prefix + ".messages.json",
		users:        map[int64]domain.User{},
		messages:     map[int64][]domain.BotMessage{},
	}
	_ = loadSnapshot(st.usersPath, &st.users)
	_ = loadSnapshot(st.messagesPath, &st.messages)

	sentPath := prefix + ".sent.jsonl"
	st.sentCount = countLines(sentPath)

	sf, err := os.OpenFile(sentPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	st.sentFile = sf
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentFile != nil {
		err := s.sentFile.Close()
		s.sentFile = nil
		return err
	}
	return nil
}

func (s *fileStore) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chatID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", chatID, ErrNotFound)
	}
	cp := u
	return &cp, nil
}

func (s *fileStore) SaveUser(ctx context.Context, u *domain.User) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if prev, ok := s.users[u.ChatID]; ok && !prev.CreatedAt.IsZero() {
		cp.CreatedAt = prev.CreatedAt
	}
	s.users[u.ChatID] = cp
	return writeSnapshot(s.usersPath, s.users)
}

func (s *fileStore) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.User
	for _, u := range s.users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fileStore) DeactivateUser(ctx context.Context, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chatID]
	if !ok {
		return fmt.Errorf("user %d: %w", chatID, ErrNotFound)
	}
	u.Active = false
	s.users[chatID] = u
	return writeSnapshot(s.usersPath, s.users)
}

func (s *fileStore) AppendSentRecord(ctx context.Context, chatID int64, contentID int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentFile == nil {
		return ErrDisabled
	}
	rec := sentRecordJSON{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		ContentID: contentID,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := json.NewEncoder(s.sentFile).Encode(rec); err != nil {
		return err
	}
	s.sentCount++
	return nil
}

func (s *fileStore) AddBotMessage(ctx context.Context, m domain.BotMessage) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	list := append(s.messages[m.ChatID], m)
	if len(list) > botMessagesKeep {
		list = list[len(list)-botMessagesKeep:]
	}
	s.messages[m.ChatID] = list
	return writeSnapshot(s.messagesPath, s.messages)
}

func (s *fileStore) ListBotMessages(ctx context.Context, chatID int64) ([]domain.BotMessage, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BotMessage(nil), s.messages[chatID]...), nil
}

func (s *fileStore) ClearBotMessages(ctx context.Context, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[chatID]; !ok {
		return nil
	}
	delete(s.messages, chatID)
	return writeSnapshot(s.messagesPath, s.messages)
}

func (s *fileStore) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{TotalUsers: len(s.users), MessagesSent: s.sentCount}
	for _, u := range s.users {
		if u.Active {
			st.ActiveUsers++
		}
	}
	return st, nil
}

func loadSnapshot(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

func writeSnapshot(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func countLines(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(b), "\n")
}
