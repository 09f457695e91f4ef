package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"yogabot/internal/metrics"
	"yogabot/internal/storage"
	logx "yogabot/pkg/logx"
)

// reconcileSpec runs shortly after the UTC day boundary so every
// subscriber gets a fresh job for the new day even if their previous
// cycle was lost.
const reconcileSpec = "1 0 * * *"

type ReconcilerConfig struct {
	// SweepTimeout bounds one full sweep over the active set.
	SweepTimeout time.Duration // default 5m
}

// Reconciler is the safety net around the in-memory job table: a full
// sweep on startup and one per day rebuild every active subscription's
// job from storage.
type Reconciler struct {
	cfg   ReconcilerConfig
	store storage.Store
	sched *Service
	rec   metrics.Recorder
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewReconciler(cfg ReconcilerConfig, store storage.Store, sched *Service, rec metrics.Recorder, log logx.Logger) *Reconciler {
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{cfg: cfg, store: store, sched: sched, rec: rec, log: log}
}

// Start runs the startup sweep synchronously, then arms the daily cron
// trigger. The cron runs in UTC regardless of host timezone.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}

	if err := r.Sweep(ctx); err != nil {
		return err
	}

	r.c = cron.New(cron.WithLocation(time.UTC))
	if _, err := r.c.AddFunc(reconcileSpec, func() {
		sctx, cancel := context.WithTimeout(context.Background(), r.cfg.SweepTimeout)
		defer cancel()
		if err := r.Sweep(sctx); err != nil {
			r.log.Error("daily sweep failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}
	r.c.Start()
	r.log.Info("service started", logx.String("cadence", reconcileSpec))
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info("service stopped")
}

// Sweep reschedules every active subscription. One bad subscriber, a
// corrupt timezone for example, never blocks the rest: the failure is
// logged and the sweep moves on.
func (r *Reconciler) Sweep(ctx context.Context) error {
	start := time.Now()
	users, err := r.store.ListActiveUsers(ctx)
	if err != nil {
		return err
	}

	rescheduled := 0
	for i := range users {
		u := &users[i]
		if _, err := r.sched.ScheduleUser(u); err != nil {
			r.log.Warn("reschedule failed",
				logx.Int64("chat_id", u.ChatID),
				logx.String("tz", u.Timezone),
				logx.Err(err))
			continue
		}
		rescheduled++
	}

	took := time.Since(start)
	r.rec.RecordReconcile(rescheduled, took)
	r.log.Info("sweep complete",
		logx.Int("active", len(users)),
		logx.Int("rescheduled", rescheduled),
		logx.Duration("took", took))
	return nil
}
