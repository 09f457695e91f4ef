package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	kit "yogabot/internal/transport"
	logx "yogabot/pkg/logx"
)

var (
	errNetwork = errors.New("connection reset")
	errBlocked = errors.New("bot was blocked by the user")
	errBadReq  = errors.New("message text is empty")
	errNoPhoto = errors.New("wrong file identifier")
)

func classify(err error) ErrorClass {
	switch {
	case errors.Is(err, errBlocked):
		return ClassBlocked
	case errors.Is(err, errBadReq):
		return ClassBadRequest
	default:
		return ClassRetryable
	}
}

type fakeAdapter struct {
	kit.Adapter

	textErrs  []error // error per SendText call, nil means success
	photoErrs []error

	textCalls  int
	photoCalls int
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	i := f.textCalls
	f.textCalls++
	if i < len(f.textErrs) && f.textErrs[i] != nil {
		return kit.MessageRef{}, f.textErrs[i]
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 100 + i}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, _ string, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	i := f.photoCalls
	f.photoCalls++
	if i < len(f.photoErrs) && f.photoErrs[i] != nil {
		return kit.MessageRef{}, f.photoErrs[i]
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 200 + i}, nil
}

func newTestClient(t *testing.T, a kit.Adapter, slept *[]time.Duration) *Client {
	t.Helper()
	return New(Config{RatePerSec: 1000}, a, classify, logx.Nop(),
		WithSleep(func(_ context.Context, d time.Duration) error {
			if slept != nil {
				*slept = append(*slept, d)
			}
			return nil
		}))
}

func TestDeliverFirstAttemptSuccess(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	c := newTestClient(t, a, nil)

	res := c.Deliver(context.Background(), 7, Message{Text: "hello"})
	if res.Outcome != Success {
		t.Fatalf("outcome = %v, want Success", res.Outcome)
	}
	if res.Attempts != 1 || a.textCalls != 1 {
		t.Fatalf("attempts = %d, textCalls = %d, want 1/1", res.Attempts, a.textCalls)
	}
	if res.Ref.ChatID != 7 {
		t.Fatalf("ref chat = %d, want 7", res.Ref.ChatID)
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{textErrs: []error{errNetwork, errNetwork, nil}}
	var slept []time.Duration
	c := newTestClient(t, a, &slept)

	res := c.Deliver(context.Background(), 7, Message{Text: "hello"})
	if res.Outcome != Success || res.Attempts != 3 {
		t.Fatalf("got %v after %d attempts, want Success after 3", res.Outcome, res.Attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("backoff[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestDeliverExhaustsRetries(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{textErrs: []error{errNetwork, errNetwork, errNetwork}}
	var slept []time.Duration
	c := newTestClient(t, a, &slept)

	res := c.Deliver(context.Background(), 7, Message{Text: "hello"})
	if res.Outcome != TransientFailure {
		t.Fatalf("outcome = %v, want TransientFailure", res.Outcome)
	}
	if res.Attempts != 3 || a.textCalls != 3 {
		t.Fatalf("attempts = %d, textCalls = %d, want 3/3", res.Attempts, a.textCalls)
	}
	if len(slept) != 2 {
		t.Fatalf("slept %d times, want 2 (no sleep after last attempt)", len(slept))
	}
	if !errors.Is(res.Err, errNetwork) {
		t.Fatalf("err = %v, want last transport error", res.Err)
	}
}

func TestDeliverBlockedStopsImmediately(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{textErrs: []error{errBlocked}}
	var slept []time.Duration
	c := newTestClient(t, a, &slept)

	res := c.Deliver(context.Background(), 7, Message{Text: "hello"})
	if res.Outcome != PermanentFailure {
		t.Fatalf("outcome = %v, want PermanentFailure", res.Outcome)
	}
	if a.textCalls != 1 || len(slept) != 0 {
		t.Fatalf("textCalls = %d, sleeps = %d, want 1/0", a.textCalls, len(slept))
	}
}

func TestDeliverBadRequestDoesNotRetry(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{textErrs: []error{errBadReq}}
	c := newTestClient(t, a, nil)

	res := c.Deliver(context.Background(), 7, Message{Text: ""})
	if res.Outcome != Rejected {
		t.Fatalf("outcome = %v, want Rejected", res.Outcome)
	}
	if a.textCalls != 1 {
		t.Fatalf("textCalls = %d, want 1", a.textCalls)
	}
}

func TestDeliverPhotoFallsBackToText(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{photoErrs: []error{errNoPhoto}}
	var slept []time.Duration
	c := newTestClient(t, a, &slept)

	res := c.Deliver(context.Background(), 7, Message{Text: "hello", ImagePath: "x.jpg"})
	if res.Outcome != Success || res.Attempts != 1 {
		t.Fatalf("got %v after %d attempts, want Success on attempt 1", res.Outcome, res.Attempts)
	}
	if a.photoCalls != 1 || a.textCalls != 1 {
		t.Fatalf("photoCalls = %d, textCalls = %d, want 1/1", a.photoCalls, a.textCalls)
	}
	if len(slept) != 0 {
		t.Fatalf("fallback must not consume a retry, slept %v", slept)
	}
}

func TestDeliverPhotoBlockedSkipsFallback(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{photoErrs: []error{errBlocked}}
	c := newTestClient(t, a, nil)

	res := c.Deliver(context.Background(), 7, Message{Text: "hello", ImagePath: "x.jpg"})
	if res.Outcome != PermanentFailure {
		t.Fatalf("outcome = %v, want PermanentFailure", res.Outcome)
	}
	if a.textCalls != 0 {
		t.Fatalf("textCalls = %d, want 0", a.textCalls)
	}
}

func TestDeliverHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()
	errFlood := errors.New("too many requests: retry after 5")
	a := &fakeAdapter{textErrs: []error{errFlood, errNetwork, nil}}
	var slept []time.Duration
	c := New(Config{RatePerSec: 1000}, a, classify, logx.Nop(),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
		WithRetryAfter(func(err error) (time.Duration, bool) {
			if errors.Is(err, errFlood) {
				return 5 * time.Second, true
			}
			return 0, false
		}))

	res := c.Deliver(context.Background(), 7, Message{Text: "hello"})
	if res.Outcome != Success || res.Attempts != 3 {
		t.Fatalf("got %v after %d attempts, want Success after 3", res.Outcome, res.Attempts)
	}
	// The 5s server hint beats the 1s base backoff; the plain network
	// error falls back to the doubled schedule.
	want := []time.Duration{5 * time.Second, 2 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v (slept %v)", i, slept[i], want[i], slept)
		}
	}
}

func TestDeliverContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{textErrs: []error{errNetwork, errNetwork, errNetwork}}
	c := New(Config{RatePerSec: 1000}, a, classify, logx.Nop(),
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			return context.Canceled
		}))

	res := c.Deliver(context.Background(), 7, Message{Text: "hello"})
	if res.Outcome != TransientFailure {
		t.Fatalf("outcome = %v, want TransientFailure", res.Outcome)
	}
	if a.textCalls != 1 {
		t.Fatalf("textCalls = %d, want 1", a.textCalls)
	}
}
