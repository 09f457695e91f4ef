package delivery

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	kit "yogabot/internal/transport"
	logx "yogabot/pkg/logx"
)

// Outcome classifies one complete delivery (all retries included).
type Outcome int

const (
	// Success: the message reached the recipient.
	Success Outcome = iota
	// TransientFailure: retries exhausted on retryable errors. The
	// subscription stays active; the next cycle is still scheduled.
	TransientFailure
	// Rejected: the request itself was malformed (bad payload). Terminal
	// for this delivery but not a reason to drop the recipient.
	Rejected
	// PermanentFailure: the recipient is structurally unreachable
	// (blocked the bot). Callers deactivate the subscription.
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient_failure"
	case Rejected:
		return "rejected"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// ErrorClass is the per-error classification provided by the transport.
type ErrorClass int

const (
	ClassRetryable ErrorClass = iota
	ClassBlocked
	ClassBadRequest
)

// ClassifyFunc maps a transport error to its class.
type ClassifyFunc func(error) ErrorClass

// RetryAfterFunc extracts a server-advised cooldown from a transport
// error (Telegram flood control). ok is false when the error carries no
// hint.
type RetryAfterFunc func(error) (time.Duration, bool)

// Message is one deliverable payload.
type Message struct {
	Text      string
	ImagePath string // optional attachment; falls back to text on failure
	ParseMode string
}

// Result reports the final state of a delivery.
type Result struct {
	Outcome  Outcome
	Ref      kit.MessageRef // valid on Success
	Attempts int
	Err      error // last transport error (nil on Success)
}

type Config struct {
	MaxAttempts int           // default 3
	BackoffBase time.Duration // default 1s; doubles per retry (1s, 2s, 4s)
	RatePerSec  int           // global send rate; default 25 (Telegram allows ~30)
}

// Client wraps the transport with bounded retries, failure classification
// and a global rate limit shared across all recipients.
type Client struct {
	cfg        Config
	adapter    kit.Adapter
	classify   ClassifyFunc
	retryAfter RetryAfterFunc // optional
	limiter    *rate.Limiter
	log        logx.Logger

	// sleep is injectable so tests replace real backoff with immediate
	// advancement.
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithSleep replaces the backoff sleep function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithRetryAfter honors server cooldown hints: when a retryable error
// carries one longer than the computed backoff, the hint wins.
func WithRetryAfter(fn RetryAfterFunc) Option {
	return func(c *Client) { c.retryAfter = fn }
}

func New(cfg Config, adapter kit.Adapter, classify ClassifyFunc, log logx.Logger, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:      cfg,
		adapter:  adapter,
		classify: classify,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:      log,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Deliver sends msg to the chat, retrying retryable errors up to the
// configured bound with exponential backoff. Blocked-recipient and
// bad-request errors terminate immediately without retrying.
func (c *Client) Deliver(ctx context.Context, chatID int64, msg Message) Result {
	to := kit.ChatTarget{ChatID: chatID}
	opt := &kit.SendOptions{ParseMode: msg.ParseMode}

	var last error
	backoff := c.cfg.BackoffBase
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{Outcome: TransientFailure, Attempts: attempt, Err: err}
		}

		ref, err := c.sendOnce(ctx, to, msg, opt)
		if err == nil {
			return Result{Outcome: Success, Ref: ref, Attempts: attempt}
		}
		last = err

		switch c.classify(err) {
		case ClassBlocked:
			c.log.Info("recipient unreachable, giving up", logx.Int64("chat_id", chatID), logx.Err(err))
			return Result{Outcome: PermanentFailure, Attempts: attempt, Err: err}
		case ClassBadRequest:
			c.log.Warn("send rejected as bad request", logx.Int64("chat_id", chatID), logx.Err(err))
			return Result{Outcome: Rejected, Attempts: attempt, Err: err}
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		delay := backoff
		if c.retryAfter != nil {
			if hint, ok := c.retryAfter(err); ok && hint > delay {
				delay = hint
			}
		}
		c.log.Debug("send retry scheduled",
			logx.Int64("chat_id", chatID), logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay), logx.Err(err))
		if err := c.sleep(ctx, delay); err != nil {
			return Result{Outcome: TransientFailure, Attempts: attempt, Err: err}
		}
		backoff *= 2
	}

	c.log.Warn("send failed after retries", logx.Int64("chat_id", chatID), logx.Int("attempts", c.cfg.MaxAttempts), logx.Err(last))
	return Result{Outcome: TransientFailure, Attempts: c.cfg.MaxAttempts, Err: last}
}

// sendOnce performs one attempt. An attachment failure falls back to
// plain text within the same attempt and does not consume a retry.
func (c *Client) sendOnce(ctx context.Context, to kit.ChatTarget, msg Message, opt *kit.SendOptions) (kit.MessageRef, error) {
	if msg.ImagePath != "" {
		ref, err := c.adapter.SendPhoto(ctx, to, msg.ImagePath, msg.Text, opt)
		if err == nil {
			return ref, nil
		}
		// Blocked recipients won't accept text either; surface immediately.
		if c.classify(err) == ClassBlocked {
			return kit.MessageRef{}, err
		}
		c.log.Debug("photo send failed, falling back to text", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
	return c.adapter.SendText(ctx, to, msg.Text, opt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
