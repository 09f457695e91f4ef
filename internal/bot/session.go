package bot

import (
	"sync"
	"time"
)

type step int

const (
	stepNone step = iota
	stepTimezone
	stepTimezoneManual
	stepTime
	stepSkipDays
)

// session tracks one chat's progress through the registration dialog or
// a single-setting change started from /settings.
type session struct {
	step     step
	language string
	timezone string
	sendTime string
	skipDays []int

	// changing marks a settings edit on an existing subscription; the
	// flow saves the one field and returns to the menu instead of
	// walking the remaining steps.
	changing bool

	// dialogRef points at the bot message being edited in place as the
	// flow advances.
	dialogRef int

	touched time.Time
}

const sessionTTL = 30 * time.Minute

type sessions struct {
	mu sync.Mutex
	m  map[int64]*session
}

func newSessions() *sessions {
	return &sessions{m: map[int64]*session{}}
}

func (s *sessions) get(chatID int64) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		return nil, false
	}
	if time.Since(sess.touched) > sessionTTL {
		delete(s.m, chatID)
		return nil, false
	}
	sess.touched = time.Now()
	return sess, true
}

func (s *sessions) put(chatID int64, sess *session) {
	sess.touched = time.Now()
	s.mu.Lock()
	s.m[chatID] = sess
	s.mu.Unlock()
}

func (s *sessions) drop(chatID int64) {
	s.mu.Lock()
	delete(s.m, chatID)
	s.mu.Unlock()
}
