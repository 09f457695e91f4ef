// Package scheduler arms one timer per active subscriber and drives the
// fire -> deliver -> re-arm cycle.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"yogabot/internal/content"
	"yogabot/internal/delivery"
	"yogabot/internal/domain"
	"yogabot/internal/metrics"
	"yogabot/internal/storage"
	logx "yogabot/pkg/logx"
)

var (
	// ErrStopped is returned when scheduling is attempted outside the
	// Start/Stop window.
	ErrStopped = errors.New("scheduler: stopped")
	// ErrInactive is returned when a requested operation targets a
	// deactivated subscription.
	ErrInactive = errors.New("scheduler: subscription inactive")
)

// Deliverer abstracts the retrying delivery client.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, msg delivery.Message) delivery.Result
}

type Config struct {
	// DeliverTimeout bounds one full delivery including retries.
	DeliverTimeout time.Duration // default 2m
	ParseMode      string        // default "Markdown"
}

type Service struct {
	cfg     Config
	store   storage.Store
	deliver Deliverer
	lib     *content.Library
	rec     metrics.Recorder
	log     logx.Logger

	table *jobTable

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// created counts every job ever armed, replacements included.
	created atomic.Uint64

	// now is injectable for deterministic scheduling tests.
	now func() time.Time
}

func New(cfg Config, store storage.Store, deliver Deliverer, lib *content.Library, rec metrics.Recorder, log logx.Logger) *Service {
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 2 * time.Minute
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		deliver: deliver,
		lib:     lib,
		rec:     rec,
		log:     log,
		table:   newJobTable(),
		now:     time.Now,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.log.Info("service started")
}

// Stop cancels every pending timer and waits for in-flight deliveries,
// bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.table.clear()
	s.rec.SetPendingJobs(0)

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// ScheduleUser computes the next send instant for u and arms a timer,
// atomically replacing any job the subscriber already had. Returns the
// UTC fire instant.
func (s *Service) ScheduleUser(u *domain.User) (time.Time, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return time.Time{}, ErrStopped
	}
	if !u.Active {
		return time.Time{}, ErrInactive
	}

	now := s.now()
	fireAt, err := domain.NextSendInstant(u.Timezone, u.SendTime, u.SkipDays, now)
	if err != nil {
		return time.Time{}, err
	}

	chatID := u.ChatID
	s.table.put(chatID, fireAt, func(token uint64) *time.Timer {
		return time.AfterFunc(fireAt.Sub(now), func() {
			if !s.beginFire() {
				return
			}
			defer s.wg.Done()
			s.fire(chatID, token)
		})
	})
	s.created.Add(1)
	s.rec.SetPendingJobs(s.table.len())
	s.log.Debug("job armed", logx.Int64("chat_id", chatID), logx.Time("fire_at", fireAt))
	return fireAt, nil
}

// RemoveUser cancels the pending job, if any. Safe to call for chats
// that were never scheduled.
func (s *Service) RemoveUser(chatID int64) {
	if s.table.remove(chatID) {
		s.rec.SetPendingJobs(s.table.len())
		s.log.Debug("job removed", logx.Int64("chat_id", chatID))
	}
}

// NextFire reports the pending fire instant for chatID.
func (s *Service) NextFire(chatID int64) (time.Time, bool) {
	return s.table.get(chatID)
}

// PendingJobs reports how many timers are currently armed.
func (s *Service) PendingJobs() int { return s.table.len() }

// JobsCreated reports how many jobs have been armed since process start.
func (s *Service) JobsCreated() uint64 { return s.created.Load() }

// Running reports whether the service is inside its Start/Stop window.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Jobs returns a snapshot of the job table.
func (s *Service) Jobs() []JobSnapshot { return s.table.snapshot() }

// SendNow delivers one message immediately without touching the pending
// daily job. A permanent failure still deactivates the subscription and
// drops its job.
func (s *Service) SendNow(ctx context.Context, chatID int64) (delivery.Result, error) {
	u, err := s.store.GetUser(ctx, chatID)
	if err != nil {
		return delivery.Result{}, err
	}
	if !u.Active {
		return delivery.Result{}, ErrInactive
	}

	res, contentID, err := s.deliverTo(ctx, u)
	if err != nil {
		return delivery.Result{}, err
	}
	s.settle(ctx, u, res, contentID, false)
	return res, nil
}

// beginFire registers an in-flight fire. Stop flips running under the
// same lock before waiting, so no callback slips past the wait.
func (s *Service) beginFire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.wg.Add(1)
	return true
}

// fire runs when a daily timer elapses. The claim step drops callbacks
// that lost a race with RemoveUser or a replacing ScheduleUser.
func (s *Service) fire(chatID int64, token uint64) {
	if !s.table.claim(chatID, token) {
		return
	}
	s.rec.SetPendingJobs(s.table.len())

	s.mu.Lock()
	base := s.ctx
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	ctx, cancel := context.WithTimeout(base, s.cfg.DeliverTimeout)
	defer cancel()

	u, err := s.store.GetUser(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Debug("fired for unknown chat, dropping", logx.Int64("chat_id", chatID))
			return
		}
		// Store hiccup: leave this cycle to the next reconciler sweep.
		s.log.Error("load subscriber failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	if !u.Active {
		s.log.Debug("fired for inactive chat, dropping", logx.Int64("chat_id", chatID))
		return
	}

	res, contentID, err := s.deliverTo(ctx, u)
	if err != nil {
		s.log.Error("build message failed", logx.Int64("chat_id", chatID), logx.Err(err))
		s.rearm(ctx, chatID)
		return
	}
	s.settle(ctx, u, res, contentID, true)
}

// deliverTo picks a principle for the subscriber and hands it to the
// delivery client.
func (s *Service) deliverTo(ctx context.Context, u *domain.User) (delivery.Result, int, error) {
	p, err := s.lib.Random(u.Language)
	if err != nil {
		return delivery.Result{}, 0, err
	}
	msg := delivery.Message{
		Text:      content.Format(p),
		ParseMode: s.cfg.ParseMode,
	}
	if path, ok := s.lib.ImagePath(p.ID); ok {
		msg.ImagePath = path
	}
	return s.deliver.Deliver(ctx, u.ChatID, msg), p.ID, nil
}

// settle applies the delivery outcome: record, deactivate, or re-arm.
func (s *Service) settle(ctx context.Context, u *domain.User, res delivery.Result, contentID int, rearm bool) {
	s.rec.RecordDelivery(res.Outcome.String(), res.Attempts)

	switch res.Outcome {
	case delivery.Success:
		if err := s.store.AppendSentRecord(ctx, u.ChatID, contentID); err != nil {
			s.log.Warn("record sent message failed", logx.Int64("chat_id", u.ChatID), logx.Err(err))
		}
		if res.Ref.MessageID != 0 {
			rec := domain.BotMessage{ChatID: u.ChatID, MessageID: res.Ref.MessageID, Kind: "principle", SentAt: s.now().UTC()}
			if err := s.store.AddBotMessage(ctx, rec); err != nil {
				s.log.Warn("record bot message failed", logx.Int64("chat_id", u.ChatID), logx.Err(err))
			}
		}
	case delivery.PermanentFailure:
		s.log.Info("deactivating unreachable subscriber", logx.Int64("chat_id", u.ChatID), logx.Err(res.Err))
		if err := s.store.DeactivateUser(ctx, u.ChatID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.Error("deactivate failed", logx.Int64("chat_id", u.ChatID), logx.Err(err))
		}
		s.rec.RecordDeactivation()
		s.RemoveUser(u.ChatID)
		return
	}

	if rearm {
		s.rearm(ctx, u.ChatID)
	}
}

// rearm re-reads the subscriber before arming the next cycle. A /stop
// that raced the in-flight delivery has already deactivated the row, so
// the fresh read keeps the job from being resurrected.
func (s *Service) rearm(ctx context.Context, chatID int64) {
	u, err := s.store.GetUser(ctx, chatID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Error("re-arm load failed", logx.Int64("chat_id", chatID), logx.Err(err))
		}
		return
	}
	if !u.Active {
		s.log.Debug("subscription deactivated mid-cycle, not re-arming", logx.Int64("chat_id", chatID))
		return
	}
	if _, err := s.ScheduleUser(u); err != nil && !errors.Is(err, ErrStopped) {
		s.log.Error("re-arm failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}
