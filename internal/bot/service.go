// Package bot implements the conversational Telegram UI: registration,
// settings, and the on-demand commands.
package bot

import (
	"context"
	"time"

	"yogabot/internal/content"
	"yogabot/internal/delivery"
	"yogabot/internal/domain"
	"yogabot/internal/runtime/supervisor"
	"yogabot/internal/storage"
	kit "yogabot/internal/transport"
	logx "yogabot/pkg/logx"
)

// Scheduler is the slice of the scheduling service the UI needs.
type Scheduler interface {
	ScheduleUser(u *domain.User) (time.Time, error)
	RemoveUser(chatID int64)
	SendNow(ctx context.Context, chatID int64) (delivery.Result, error)
	NextFire(chatID int64) (time.Time, bool)
	PendingJobs() int
	JobsCreated() uint64
	Running() bool
}

type Config struct {
	ParseMode string // default "Markdown"
	// HandleTimeout bounds one update's processing.
	HandleTimeout time.Duration // default 30s
	// OwnerID gates /stats; zero disables the gate.
	OwnerID int64
}

type Service struct {
	cfg     Config
	adapter kit.Adapter
	store   storage.Store
	sched   Scheduler
	lib     *content.Library
	log     logx.Logger

	sessions *sessions
	sup      *supervisor.Supervisor
}

func New(cfg Config, adapter kit.Adapter, store storage.Store, sched Scheduler, lib *content.Library, log logx.Logger) *Service {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		adapter:  adapter,
		store:    store,
		sched:    sched,
		lib:      lib,
		log:      log,
		sessions: newSessions(),
	}
}

// Start consumes updates until ctx is cancelled or the channel closes.
func (s *Service) Start(ctx context.Context, updates <-chan kit.Update) {
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "bot"))),
		supervisor.WithCancelOnError(false),
	)
	s.sup.GoRestart0("bot.dispatch", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up, ok := <-updates:
				if !ok {
					return
				}
				s.handle(c, up)
			}
		}
	}, supervisor.WithStopOnCleanExit(true))

	if up, ok := s.adapter.(kit.CommandMenuUpdater); ok {
		s.sup.Go0("bot.menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			_ = up.UpdateMenuCommands(mctx, menuCommands())
		})
	}
	s.log.Info("service started")
}

func (s *Service) Stop(ctx context.Context) {
	if s.sup == nil {
		return
	}
	_ = s.sup.Stop(ctx)
	s.log.Info("service stopped")
}

func menuCommands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "subscribe and set up your schedule"},
		{Command: "settings", Description: "view and change your schedule"},
		{Command: "test", Description: "receive a principle right now"},
		{Command: "next", Description: "when the next message arrives"},
		{Command: "stats", Description: "bot statistics"},
		{Command: "stop", Description: "unsubscribe"},
		{Command: "help", Description: "show help"},
	}
}

func (s *Service) handle(parent context.Context, up kit.Update) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.HandleTimeout)
	defer cancel()

	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			s.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			s.handleCallback(ctx, up.Callback)
		}
	}
}

// opt returns the default send options for UI messages.
func (s *Service) opt() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: s.cfg.ParseMode, DisablePreview: true}
}

func (s *Service) optWith(markup any) *kit.SendOptions {
	o := s.opt()
	o.ReplyMarkupAdapter = markup
	return o
}

// send delivers a UI message and records it for later dialog cleanup.
func (s *Service) send(ctx context.Context, chatID int64, msgText, kind string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = s.opt()
	}
	ref, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, msgText, opt)
	if err != nil {
		s.log.Warn("ui send failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return ref, err
	}
	rec := domain.BotMessage{ChatID: chatID, MessageID: ref.MessageID, Kind: kind, SentAt: time.Now().UTC()}
	if err := s.store.AddBotMessage(ctx, rec); err != nil {
		s.log.Warn("record ui message failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return ref, nil
}

// edit rewrites a previously sent dialog message in place.
func (s *Service) edit(ctx context.Context, chatID int64, messageID int, msgText string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = s.opt()
	}
	ref := kit.MessageRef{ChatID: chatID, MessageID: messageID}
	if err := s.adapter.EditText(ctx, ref, msgText, opt); err != nil {
		s.log.Debug("ui edit failed", logx.Int64("chat_id", chatID), logx.Int("message_id", messageID), logx.Err(err))
		return err
	}
	return nil
}

// clearDialog deletes the bot's recorded messages in a chat. Telegram
// refuses deletes on old messages; those failures are ignored.
func (s *Service) clearDialog(ctx context.Context, chatID int64) {
	msgs, err := s.store.ListBotMessages(ctx, chatID)
	if err != nil {
		s.log.Warn("list ui messages failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	for _, m := range msgs {
		_ = s.adapter.DeleteMessage(ctx, kit.MessageRef{ChatID: m.ChatID, MessageID: m.MessageID})
	}
	if err := s.store.ClearBotMessages(ctx, chatID); err != nil {
		s.log.Warn("clear ui messages failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}
