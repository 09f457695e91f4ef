package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidTimezone reports an unrecognized IANA timezone name.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrInvalidSkipSet reports a skip-day set that is out of range or
	// covers the whole week.
	ErrInvalidSkipSet = errors.New("invalid skip-day set")
)

// ValidateTimezone checks that name is a loadable IANA timezone.
func ValidateTimezone(name string) error {
	if _, err := time.LoadLocation(strings.TrimSpace(name)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return nil
}

// ValidateSkipDays checks that every entry is within Monday=0..Sunday=6 and
// that at least one weekday remains deliverable. A set covering all 7 days
// would make the resolver loop forever, so it is rejected here.
func ValidateSkipDays(skipDays []int) error {
	seen := map[int]bool{}
	for _, d := range skipDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: day %d out of range", ErrInvalidSkipSet, d)
		}
		seen[d] = true
	}
	if len(seen) >= 7 {
		return fmt.Errorf("%w: all weekdays skipped", ErrInvalidSkipSet)
	}
	return nil
}

// ParseSendTime parses a "HH:MM" wall-clock time.
func ParseSendTime(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// WeekdayMon0 converts Go's Sunday-based weekday to Monday=0 .. Sunday=6.
func WeekdayMon0(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// NextSendInstant computes the next valid send instant (UTC) for the given
// timezone, "HH:MM" wall-clock time and Monday=0 skip-day set, strictly
// after ref.
//
// The wall-clock time is resolved on ref's calendar date in the named
// timezone; if that instant is not after ref, the date advances one day.
// The date then keeps advancing while its local weekday is skipped. Day
// arithmetic goes through time.Date so the wall clock is preserved across
// DST transitions.
func NextSendInstant(timezone, sendTime string, skipDays []int, ref time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	h, m, err := ParseSendTime(sendTime)
	if err != nil {
		return time.Time{}, err
	}
	if err := ValidateSkipDays(skipDays); err != nil {
		return time.Time{}, err
	}

	localRef := ref.In(loc)
	target := time.Date(localRef.Year(), localRef.Month(), localRef.Day(), h, m, 0, 0, loc)
	if !target.After(ref) {
		target = addCalendarDay(target, loc)
	}

	skip := map[int]bool{}
	for _, d := range skipDays {
		skip[d] = true
	}
	// ValidateSkipDays guarantees a free weekday within 7 steps.
	for i := 0; i < 7 && skip[WeekdayMon0(target)]; i++ {
		target = addCalendarDay(target, loc)
	}

	return target.UTC(), nil
}

// addCalendarDay moves to the same wall-clock time on the next calendar day.
// Unlike Add(24h) this stays correct across DST transitions.
func addCalendarDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, t.Hour(), t.Minute(), t.Second(), 0, loc)
}
