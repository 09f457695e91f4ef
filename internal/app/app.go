// Package app assembles the services into one runnable unit and owns
// startup/shutdown ordering.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"yogabot/internal/bot"
	"yogabot/internal/config"
	"yogabot/internal/content"
	"yogabot/internal/delivery"
	"yogabot/internal/health"
	"yogabot/internal/metrics"
	"yogabot/internal/scheduler"
	"yogabot/internal/storage"
	kit "yogabot/internal/transport"
	telegram "yogabot/internal/transport/telegram"
	logx "yogabot/pkg/logx"
	"yogabot/pkg/systemd"
)

// updateBuffer sizes the adapter→bot channel. Long polls deliver bursts
// of at most 100 updates; anything beyond the buffer is dropped and
// reported by the adapter.
const updateBuffer = 256

type App struct {
	cfgPath string

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	lib     *content.Library
	adapter *telegram.Adapter

	registry *prometheus.Registry
	rec      *metrics.Collector

	sched  *scheduler.Service
	recon  *scheduler.Reconciler
	bot    *bot.Service
	health *health.Service

	updates chan kit.Update
	cfgSub  chan *config.Config

	reloadDone chan struct{}
	watchStop  context.CancelFunc
}

// New loads the config and builds the full service graph. Nothing is
// started yet; Start does that.
func New(cfgPath string) (*App, error) {
	a := &App{cfgPath: cfgPath}

	a.cfgm = config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a.logs, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if err := a.build(cfg); err != nil {
		a.logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.log

	stCfg := storage.Config{Driver: "sqlite", Path: "./yogabot.db"}
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		stCfg = storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}
	}
	store, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	lib, err := content.Load(content.Config{
		Path:      cfg.Content.Path,
		ImagesDir: cfg.Content.ImagesDir,
	}, log.With(logx.String("comp", "content")))
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	a.lib = lib

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.rec = metrics.NewCollector(a.registry)

	backoff, err := config.ParseDurationOrDefault("delivery.backoff_base", cfg.Delivery.BackoffBase, time.Second)
	if err != nil {
		return err
	}
	deliver := delivery.New(delivery.Config{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BackoffBase: backoff,
		RatePerSec:  cfg.Delivery.RatePerSec,
	}, adapter, classifyTelegram, log.With(logx.String("comp", "delivery")),
		delivery.WithRetryAfter(floodCooldown))

	deliverTimeout, err := config.ParseDurationOrDefault("scheduler.deliver_timeout", cfg.Scheduler.DeliverTimeout, 2*time.Minute)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(scheduler.Config{
		DeliverTimeout: deliverTimeout,
		ParseMode:      cfg.Scheduler.ParseMode,
	}, store, deliver, lib, a.rec, log.With(logx.String("comp", "scheduler")))

	sweepTimeout, err := config.ParseDurationOrDefault("scheduler.sweep_timeout", cfg.Scheduler.SweepTimeout, 5*time.Minute)
	if err != nil {
		return err
	}
	a.recon = scheduler.NewReconciler(scheduler.ReconcilerConfig{
		SweepTimeout: sweepTimeout,
	}, store, a.sched, a.rec, log.With(logx.String("comp", "reconciler")))

	a.bot = bot.New(bot.Config{
		ParseMode: cfg.Scheduler.ParseMode,
		OwnerID:   cfg.Telegram.OwnerID,
	}, adapter, store, a.sched, lib, log.With(logx.String("comp", "bot")))

	a.health = health.New(health.Config{
		Enabled: cfg.Health.Enabled,
		Addr:    cfg.Health.Addr,
		Pprof:   cfg.Health.Pprof,
	}, store, a.sched, a.registry, log.With(logx.String("comp", "health")))

	return nil
}

// classifyTelegram maps transport errors onto delivery classes.
func classifyTelegram(err error) delivery.ErrorClass {
	switch {
	case telegram.IsBlocked(err):
		return delivery.ClassBlocked
	case telegram.IsBadRequest(err):
		return delivery.ClassBadRequest
	default:
		return delivery.ClassRetryable
	}
}

// floodCooldown surfaces Telegram's retry_after hint to the delivery
// backoff.
func floodCooldown(err error) (time.Duration, bool) {
	secs, ok := telegram.RetryAfter(err)
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Start brings services up leaf-first: transport and scheduler before the
// reconciler sweep arms the jobs, UI last.
func (a *App) Start(ctx context.Context) error {
	a.log.Info("starting", logx.String("config", a.cfgPath))

	a.updates = make(chan kit.Update, updateBuffer)
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	a.sched.Start(ctx)
	if err := a.recon.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}

	a.bot.Start(ctx, a.updates)
	a.health.Start(ctx)

	a.startConfigReload(ctx)

	systemd.NotifyReady()
	systemd.NotifyStatus("running; %d jobs armed", a.sched.PendingJobs())
	a.log.Info("started", logx.Int("pending_jobs", a.sched.PendingJobs()))
	return nil
}

// startConfigReload watches the config file and applies the hot-reloadable
// subset (logging). Everything else requires a restart and is only logged.
func (a *App) startConfigReload(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	a.watchStop = cancel
	a.cfgSub = a.cfgm.Subscribe(1)
	a.reloadDone = make(chan struct{})

	go func() {
		if err := a.cfgm.Watch(wctx); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	go func() {
		defer close(a.reloadDone)
		prev := a.cfgm.Get()
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-a.cfgSub:
				if !ok {
					return
				}
				sections, fields := config.SummarizeChange(prev, cfg)
				if len(sections) == 0 {
					continue
				}
				a.log.Info("config reloaded", fields...)
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				for _, sec := range sections {
					if sec != "logging" {
						a.log.Warn("config change needs restart to apply",
							logx.String("section", sec))
					}
				}
				prev = cfg
			}
		}
	}()
}

// Stop shuts down in reverse order. Inbound updates stop first so no new
// work arrives while the scheduler drains.
func (a *App) Stop(ctx context.Context) error {
	systemd.NotifyStopping()
	a.log.Info("stopping")

	if a.watchStop != nil {
		a.watchStop()
		a.cfgm.Unsubscribe(a.cfgSub)
		<-a.reloadDone
	}

	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram adapter stop", logx.Err(err))
	}
	a.bot.Stop(ctx)
	a.recon.Stop(ctx)
	a.sched.Stop(ctx)
	a.health.Stop(ctx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
