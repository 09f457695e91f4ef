package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"yogabot/internal/domain"
	logx "yogabot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFileStoreUserRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.GetUser(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	u := domain.NewUser(42)
	u.SendTime = "08:30"
	u.SkipDays = []int{5, 6}
	if err := st.SaveUser(ctx, u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	got, err := st.GetUser(ctx, 42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.SendTime != "08:30" || len(got.SkipDays) != 2 || !got.Active {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestFileStoreDeactivateAndList(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := st.SaveUser(ctx, domain.NewUser(id)); err != nil {
			t.Fatalf("SaveUser(%d): %v", id, err)
		}
	}
	if err := st.DeactivateUser(ctx, 2); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	if err := st.DeactivateUser(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	active, err := st.ListActiveUsers(ctx)
	if err != nil {
		t.Fatalf("ListActiveUsers: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active users, got %d", len(active))
	}
	for _, u := range active {
		if u.ChatID == 2 {
			t.Fatal("deactivated user still listed as active")
		}
	}
}

func TestFileStoreSentLogAndStats(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveUser(ctx, domain.NewUser(7)); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := st.AppendSentRecord(ctx, 7, 100+i); err != nil {
			t.Fatalf("AppendSentRecord: %v", err)
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalUsers != 1 || stats.ActiveUsers != 1 || stats.MessagesSent != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestFileStoreBotMessagesBounded(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < botMessagesKeep+10; i++ {
		err := st.AddBotMessage(ctx, domain.BotMessage{ChatID: 5, MessageID: i + 1, Kind: "menu"})
		if err != nil {
			t.Fatalf("AddBotMessage: %v", err)
		}
	}
	msgs, err := st.ListBotMessages(ctx, 5)
	if err != nil {
		t.Fatalf("ListBotMessages: %v", err)
	}
	if len(msgs) != botMessagesKeep {
		t.Fatalf("expected %d kept messages, got %d", botMessagesKeep, len(msgs))
	}
	if msgs[0].MessageID != 11 {
		t.Fatalf("expected oldest kept message 11, got %d", msgs[0].MessageID)
	}

	if err := st.ClearBotMessages(ctx, 5); err != nil {
		t.Fatalf("ClearBotMessages: %v", err)
	}
	msgs, _ = st.ListBotMessages(ctx, 5)
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after clear, got %d", len(msgs))
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "store")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.SaveUser(ctx, domain.NewUser(11)); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if err := st.AppendSentRecord(ctx, 11, 1); err != nil {
		t.Fatalf("AppendSentRecord: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	if _, err := st2.GetUser(ctx, 11); err != nil {
		t.Fatalf("GetUser after reopen: %v", err)
	}
	stats, err := st2.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats after reopen: %v", err)
	}
	if stats.MessagesSent != 1 {
		t.Fatalf("sent count not recovered: %+v", stats)
	}
}
