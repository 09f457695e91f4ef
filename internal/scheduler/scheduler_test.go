package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"yogabot/internal/content"
	"yogabot/internal/delivery"
	"yogabot/internal/domain"
	"yogabot/internal/storage"
	kit "yogabot/internal/transport"
	logx "yogabot/pkg/logx"
)

// memStore is an in-memory storage.Store for scheduler tests.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]domain.User
	sent     []int64
	messages []domain.BotMessage
	getErr   error
}

func newMemStore(users ...domain.User) *memStore {
	m := &memStore{users: map[int64]domain.User{}}
	for _, u := range users {
		m.users[u.ChatID] = u
	}
	return m
}

func (m *memStore) GetUser(_ context.Context, chatID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (m *memStore) SaveUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ChatID] = *u
	return nil
}

func (m *memStore) ListActiveUsers(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) DeactivateUser(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Active = false
	m.users[chatID] = u
	return nil
}

func (m *memStore) AppendSentRecord(_ context.Context, chatID int64, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, chatID)
	return nil
}

func (m *memStore) AddBotMessage(_ context.Context, bm domain.BotMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, bm)
	return nil
}

func (m *memStore) ListBotMessages(_ context.Context, _ int64) ([]domain.BotMessage, error) {
	return nil, nil
}

func (m *memStore) ClearBotMessages(_ context.Context, _ int64) error { return nil }

func (m *memStore) Stats(_ context.Context) (storage.Stats, error) { return storage.Stats{}, nil }

func (m *memStore) Close() error { return nil }

func (m *memStore) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *memStore) active(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[chatID].Active
}

// memDeliverer returns scripted results in order, repeating the last.
type memDeliverer struct {
	mu      sync.Mutex
	results []delivery.Result
	calls   int
}

func (d *memDeliverer) Deliver(_ context.Context, chatID int64, _ delivery.Message) delivery.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	if i < 0 {
		return delivery.Result{
			Outcome:  delivery.Success,
			Ref:      kit.MessageRef{ChatID: chatID, MessageID: 1},
			Attempts: 1,
		}
	}
	return d.results[i]
}

func (d *memDeliverer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// gateDeliverer blocks inside Deliver until released, so tests can
// interleave other scheduler calls with an in-flight delivery.
type gateDeliverer struct {
	entered chan struct{}
	release chan struct{}
}

func newGateDeliverer() *gateDeliverer {
	return &gateDeliverer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (d *gateDeliverer) Deliver(_ context.Context, chatID int64, _ delivery.Message) delivery.Result {
	close(d.entered)
	<-d.release
	return delivery.Result{
		Outcome:  delivery.Success,
		Ref:      kit.MessageRef{ChatID: chatID, MessageID: 1},
		Attempts: 1,
	}
}

func testLibrary(t *testing.T) *content.Library {
	t.Helper()
	lib, err := content.Load(content.Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("load content: %v", err)
	}
	return lib
}

func newTestService(t *testing.T, store storage.Store, d Deliverer) *Service {
	t.Helper()
	s := New(Config{}, store, d, testLibrary(t), nil, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

// armedToken stops the real timer for chatID and hands back its token so
// tests can invoke the fire path synchronously.
func armedToken(t *testing.T, s *Service, chatID int64) uint64 {
	t.Helper()
	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	j, ok := s.table.jobs[chatID]
	if !ok {
		t.Fatalf("no job armed for chat %d", chatID)
	}
	j.timer.Stop()
	return j.token
}

func activeUser(chatID int64) domain.User {
	u := domain.NewUser(chatID)
	return *u
}

func TestScheduleUserReplacesExistingJob(t *testing.T) {
	st := newMemStore(activeUser(7))
	s := newTestService(t, st, &memDeliverer{})

	u := activeUser(7)
	u.SendTime = "06:00"
	first, err := s.ScheduleUser(&u)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	u.SendTime = "09:30"
	second, err := s.ScheduleUser(&u)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	if got := s.PendingJobs(); got != 1 {
		t.Fatalf("pending jobs = %d, want 1", got)
	}
	fireAt, ok := s.NextFire(7)
	if !ok || !fireAt.Equal(second) {
		t.Fatalf("next fire = %v ok=%v, want %v", fireAt, ok, second)
	}
	if first.Equal(second) {
		t.Fatal("distinct send times must produce distinct fire instants")
	}
}

func TestScheduleUserRejectsWhenStopped(t *testing.T) {
	st := newMemStore()
	s := New(Config{}, st, &memDeliverer{}, testLibrary(t), nil, logx.Nop())

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestScheduleUserRejectsInvalidTimezone(t *testing.T) {
	st := newMemStore()
	s := newTestService(t, st, &memDeliverer{})

	u := activeUser(7)
	u.Timezone = "Mars/Olympus"
	if _, err := s.ScheduleUser(&u); !errors.Is(err, domain.ErrInvalidTimezone) {
		t.Fatalf("err = %v, want ErrInvalidTimezone", err)
	}
	if s.PendingJobs() != 0 {
		t.Fatal("rejected schedule must not leave a job behind")
	}
}

func TestRemoveUserCancelsJob(t *testing.T) {
	st := newMemStore(activeUser(7))
	s := newTestService(t, st, &memDeliverer{})

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.RemoveUser(7)
	if s.PendingJobs() != 0 {
		t.Fatalf("pending jobs = %d, want 0", s.PendingJobs())
	}
	// Removing twice is a no-op.
	s.RemoveUser(7)
}

func TestFireDeliversRecordsAndRearms(t *testing.T) {
	st := newMemStore(activeUser(7))
	d := &memDeliverer{}
	s := newTestService(t, st, d)

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	tok := armedToken(t, s, 7)

	s.fire(7, tok)

	if d.callCount() != 1 {
		t.Fatalf("deliver calls = %d, want 1", d.callCount())
	}
	if st.sentCount() != 1 {
		t.Fatalf("sent records = %d, want 1", st.sentCount())
	}
	if s.PendingJobs() != 1 {
		t.Fatalf("pending jobs = %d, want re-armed job", s.PendingJobs())
	}
}

func TestFirePermanentFailureDeactivates(t *testing.T) {
	st := newMemStore(activeUser(7))
	d := &memDeliverer{results: []delivery.Result{{
		Outcome: delivery.PermanentFailure, Attempts: 1, Err: errors.New("blocked"),
	}}}
	s := newTestService(t, st, d)

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.fire(7, armedToken(t, s, 7))

	if st.active(7) {
		t.Fatal("permanent failure must deactivate the subscription")
	}
	if s.PendingJobs() != 0 {
		t.Fatalf("pending jobs = %d, want 0 after deactivation", s.PendingJobs())
	}
}

func TestFireTransientFailureRearms(t *testing.T) {
	st := newMemStore(activeUser(7))
	d := &memDeliverer{results: []delivery.Result{{
		Outcome: delivery.TransientFailure, Attempts: 3, Err: errors.New("timeout"),
	}}}
	s := newTestService(t, st, d)

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.fire(7, armedToken(t, s, 7))

	if !st.active(7) {
		t.Fatal("transient failure must not deactivate")
	}
	if st.sentCount() != 0 {
		t.Fatal("transient failure must not record a sent message")
	}
	if s.PendingJobs() != 1 {
		t.Fatalf("pending jobs = %d, want re-armed job", s.PendingJobs())
	}
}

func TestFireAfterRemoveIsDropped(t *testing.T) {
	st := newMemStore(activeUser(7))
	d := &memDeliverer{}
	s := newTestService(t, st, d)

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	tok := armedToken(t, s, 7)
	s.RemoveUser(7)

	s.fire(7, tok)

	if d.callCount() != 0 {
		t.Fatalf("deliver calls = %d, want 0 for a removed job", d.callCount())
	}
	if s.PendingJobs() != 0 {
		t.Fatal("dropped fire must not re-arm")
	}
}

func TestFireStaleTokenAfterReplaceIsDropped(t *testing.T) {
	st := newMemStore(activeUser(7))
	d := &memDeliverer{}
	s := newTestService(t, st, d)

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	stale := armedToken(t, s, 7)
	u.SendTime = "21:00"
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	s.fire(7, stale)

	if d.callCount() != 0 {
		t.Fatalf("deliver calls = %d, want 0 for a stale token", d.callCount())
	}
	if s.PendingJobs() != 1 {
		t.Fatal("replacement job must survive the stale fire")
	}
}

func TestFireSkipsInactiveSubscriber(t *testing.T) {
	u := activeUser(7)
	u.Active = false
	st := newMemStore(u)
	d := &memDeliverer{}
	s := newTestService(t, st, d)

	// Arm while active, then deactivate behind the scheduler's back.
	armed := activeUser(7)
	if _, err := s.ScheduleUser(&armed); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.fire(7, armedToken(t, s, 7))

	if d.callCount() != 0 {
		t.Fatalf("deliver calls = %d, want 0 for inactive subscriber", d.callCount())
	}
	if s.PendingJobs() != 0 {
		t.Fatal("inactive subscriber must not be re-armed")
	}
}

func TestFireRemoveDuringDeliveryDoesNotRearm(t *testing.T) {
	st := newMemStore(activeUser(7))
	d := newGateDeliverer()
	s := newTestService(t, st, d)

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	tok := armedToken(t, s, 7)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.fire(7, tok)
	}()

	// Unsubscribe lands while the delivery is still in flight. The job
	// was already claimed out of the table, so only the post-delivery
	// re-arm can bring it back.
	<-d.entered
	if err := st.DeactivateUser(context.Background(), 7); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	s.RemoveUser(7)
	close(d.release)
	<-done

	if got := s.PendingJobs(); got != 0 {
		t.Fatalf("pending jobs = %d, want 0 after remove during delivery", got)
	}
	if _, ok := s.NextFire(7); ok {
		t.Fatal("removed subscriber must not regain a job")
	}
}

func TestStatsCountersTrackScheduling(t *testing.T) {
	st := newMemStore(activeUser(1), activeUser(2))
	s := newTestService(t, st, &memDeliverer{})

	if !s.Running() {
		t.Fatal("started service must report running")
	}
	u1, u2 := activeUser(1), activeUser(2)
	for _, u := range []*domain.User{&u1, &u2, &u1} {
		if _, err := s.ScheduleUser(u); err != nil {
			t.Fatalf("schedule %d: %v", u.ChatID, err)
		}
	}

	// Replacement arms count toward the total; the table deduplicates.
	if got := s.JobsCreated(); got != 3 {
		t.Fatalf("jobs created = %d, want 3", got)
	}
	if got := s.PendingJobs(); got != 2 {
		t.Fatalf("pending jobs = %d, want 2", got)
	}

	s.Stop(context.Background())
	if s.Running() {
		t.Fatal("stopped service must not report running")
	}
}

func TestSendNowLeavesDailyJobAlone(t *testing.T) {
	st := newMemStore(activeUser(7))
	d := &memDeliverer{}
	s := newTestService(t, st, d)

	u := activeUser(7)
	fireAt, err := s.ScheduleUser(&u)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	res, err := s.SendNow(context.Background(), 7)
	if err != nil {
		t.Fatalf("send now: %v", err)
	}
	if res.Outcome != delivery.Success {
		t.Fatalf("outcome = %v, want Success", res.Outcome)
	}
	if st.sentCount() != 1 {
		t.Fatalf("sent records = %d, want 1", st.sentCount())
	}
	got, ok := s.NextFire(7)
	if !ok || !got.Equal(fireAt) {
		t.Fatalf("next fire = %v ok=%v, want untouched %v", got, ok, fireAt)
	}
}

func TestSendNowPermanentFailureDeactivates(t *testing.T) {
	st := newMemStore(activeUser(7))
	d := &memDeliverer{results: []delivery.Result{{
		Outcome: delivery.PermanentFailure, Attempts: 1, Err: errors.New("blocked"),
	}}}
	s := newTestService(t, st, d)

	u := activeUser(7)
	if _, err := s.ScheduleUser(&u); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := s.SendNow(context.Background(), 7); err != nil {
		t.Fatalf("send now: %v", err)
	}

	if st.active(7) {
		t.Fatal("permanent failure must deactivate the subscription")
	}
	if s.PendingJobs() != 0 {
		t.Fatal("deactivated subscriber must lose its job")
	}
}

func TestSendNowUnknownChat(t *testing.T) {
	st := newMemStore()
	s := newTestService(t, st, &memDeliverer{})

	if _, err := s.SendNow(context.Background(), 404); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReconcilerSweepIsolatesFailures(t *testing.T) {
	good1 := activeUser(1)
	good2 := activeUser(2)
	bad := activeUser(3)
	bad.Timezone = "Nowhere/Invalid"
	inactive := activeUser(4)
	inactive.Active = false

	st := newMemStore(good1, good2, bad, inactive)
	s := newTestService(t, st, &memDeliverer{})
	r := NewReconciler(ReconcilerConfig{}, st, s, nil, logx.Nop())

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := s.PendingJobs(); got != 2 {
		t.Fatalf("pending jobs = %d, want 2 (bad tz skipped, inactive skipped)", got)
	}
}

func TestReconcilerSweepIsIdempotent(t *testing.T) {
	st := newMemStore(activeUser(1), activeUser(2))
	s := newTestService(t, st, &memDeliverer{})
	r := NewReconciler(ReconcilerConfig{}, st, s, nil, logx.Nop())

	for i := 0; i < 3; i++ {
		if err := r.Sweep(context.Background()); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if got := s.PendingJobs(); got != 2 {
		t.Fatalf("pending jobs = %d, want 2 after repeated sweeps", got)
	}
}

func TestJobTableFireAtAdvancesAcrossCycles(t *testing.T) {
	st := newMemStore(activeUser(7))
	s := newTestService(t, st, &memDeliverer{})

	base := time.Date(2026, time.March, 2, 4, 0, 0, 0, time.UTC)
	step := 0
	s.now = func() time.Time { return base.Add(time.Duration(step) * 24 * time.Hour) }

	u := activeUser(7)
	var prev time.Time
	for step = 0; step < 3; step++ {
		fireAt, err := s.ScheduleUser(&u)
		if err != nil {
			t.Fatalf("cycle %d: %v", step, err)
		}
		if !prev.IsZero() && !fireAt.After(prev) {
			t.Fatalf("cycle %d fire_at %v not after previous %v", step, fireAt, prev)
		}
		prev = fireAt
	}
}
