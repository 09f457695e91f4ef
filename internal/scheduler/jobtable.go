package scheduler

import (
	"sync"
	"time"
)

// job is one armed timer for a subscriber.
type job struct {
	fireAt time.Time
	timer  *time.Timer
	token  uint64
}

// JobSnapshot is the observable state of one pending job.
type JobSnapshot struct {
	ChatID int64
	FireAt time.Time
}

// jobTable maps chat id to the single pending job for that subscriber.
// Put replaces atomically: the previous timer is stopped before the new
// entry becomes visible, so no moment exists with two live jobs for one
// chat. Tokens disambiguate a fired callback from a job that was
// replaced or removed while the callback was in flight.
type jobTable struct {
	mu    sync.Mutex
	jobs  map[int64]*job
	token uint64
}

func newJobTable() *jobTable {
	return &jobTable{jobs: map[int64]*job{}}
}

// put installs a job for chatID, stopping any prior timer, and returns
// the token the fire callback must present to claim the entry.
func (t *jobTable) put(chatID int64, fireAt time.Time, mk func(token uint64) *time.Timer) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.jobs[chatID]; ok {
		prev.timer.Stop()
	}
	t.token++
	tok := t.token
	t.jobs[chatID] = &job{fireAt: fireAt, timer: mk(tok), token: tok}
	return tok
}

// remove cancels and drops the job for chatID. Returns false when no
// job was pending.
func (t *jobTable) remove(chatID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[chatID]
	if !ok {
		return false
	}
	j.timer.Stop()
	delete(t.jobs, chatID)
	return true
}

// claim removes the entry for chatID if it still carries token. A false
// return means the job was replaced or removed after the timer fired;
// the caller must not deliver.
func (t *jobTable) claim(chatID int64, token uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[chatID]
	if !ok || j.token != token {
		return false
	}
	delete(t.jobs, chatID)
	return true
}

func (t *jobTable) get(chatID int64) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[chatID]
	if !ok {
		return time.Time{}, false
	}
	return j.fireAt, true
}

func (t *jobTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *jobTable) snapshot() []JobSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JobSnapshot, 0, len(t.jobs))
	for id, j := range t.jobs {
		out = append(out, JobSnapshot{ChatID: id, FireAt: j.fireAt})
	}
	return out
}

// clear stops every timer and empties the table.
func (t *jobTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		j.timer.Stop()
	}
	t.jobs = map[int64]*job{}
}
