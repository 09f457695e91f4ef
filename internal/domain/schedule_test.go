package domain

import (
	"errors"
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func TestNextSendInstantSameDay(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Europe/Moscow")
	// Monday 07:00 local, target 08:00 → same day.
	ref := time.Date(2025, time.June, 2, 7, 0, 0, 0, loc)

	got, err := NextSendInstant("Europe/Moscow", "08:00", nil, ref)
	if err != nil {
		t.Fatalf("NextSendInstant: %v", err)
	}
	want := time.Date(2025, time.June, 2, 8, 0, 0, 0, loc).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextSendInstantPastTargetRollsToTomorrow(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Europe/Moscow")
	// Monday 09:00 local, target 08:00 → Tuesday 08:00.
	ref := time.Date(2025, time.June, 2, 9, 0, 0, 0, loc)

	got, err := NextSendInstant("Europe/Moscow", "08:00", nil, ref)
	if err != nil {
		t.Fatalf("NextSendInstant: %v", err)
	}
	want := time.Date(2025, time.June, 3, 8, 0, 0, 0, loc).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextSendInstantSkipsWeekdays(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Europe/Moscow")
	// Monday 09:00 local, target 08:00, skip Tue(1) and Wed(2) → Thursday.
	ref := time.Date(2025, time.June, 2, 9, 0, 0, 0, loc)

	got, err := NextSendInstant("Europe/Moscow", "08:00", []int{1, 2}, ref)
	if err != nil {
		t.Fatalf("NextSendInstant: %v", err)
	}
	want := time.Date(2025, time.June, 5, 8, 0, 0, 0, loc).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextSendInstantExactlyAtTargetAdvances(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Europe/Moscow")
	ref := time.Date(2025, time.June, 2, 8, 0, 0, 0, loc)

	got, err := NextSendInstant("Europe/Moscow", "08:00", nil, ref)
	if err != nil {
		t.Fatalf("NextSendInstant: %v", err)
	}
	if !got.After(ref.UTC()) {
		t.Fatalf("result %v not strictly after reference %v", got, ref)
	}
	want := time.Date(2025, time.June, 3, 8, 0, 0, 0, loc).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextSendInstantAcrossDSTTransition(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Europe/Berlin")
	// Saturday 2025-03-29 10:00, DST starts overnight (clocks jump 02:00→03:00).
	ref := time.Date(2025, time.March, 29, 10, 0, 0, 0, loc)

	got, err := NextSendInstant("Europe/Berlin", "08:00", nil, ref)
	if err != nil {
		t.Fatalf("NextSendInstant: %v", err)
	}
	local := got.In(loc)
	if local.Day() != 30 || local.Hour() != 8 || local.Minute() != 0 {
		t.Fatalf("wall clock drifted across DST: %v", local)
	}
	if !got.After(ref.UTC()) {
		t.Fatalf("result %v not after reference", got)
	}
	// 08:00 CEST is 06:00 UTC (not the winter 07:00).
	if got.Hour() != 6 {
		t.Fatalf("expected 06:00 UTC after spring-forward, got %v", got)
	}
}

func TestNextSendInstantProperties(t *testing.T) {
	t.Parallel()
	zones := []string{"UTC", "Europe/Moscow", "America/New_York", "Asia/Tokyo"}
	skipSets := [][]int{nil, {0}, {5, 6}, {0, 1, 2, 3, 4, 5}}
	refs := []time.Time{
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.July, 15, 23, 59, 0, 0, time.UTC),
		time.Date(2025, time.October, 25, 12, 30, 0, 0, time.UTC),
	}

	for _, zone := range zones {
		loc := mustLoc(t, zone)
		for _, skip := range skipSets {
			for _, ref := range refs {
				got, err := NextSendInstant(zone, "08:30", skip, ref)
				if err != nil {
					t.Fatalf("NextSendInstant(%s, skip=%v, ref=%v): %v", zone, skip, ref, err)
				}
				if !got.After(ref) {
					t.Errorf("%s skip=%v ref=%v: result %v not after reference", zone, skip, ref, got)
				}
				local := got.In(loc)
				if local.Hour() != 8 || local.Minute() != 30 {
					t.Errorf("%s skip=%v ref=%v: local time %02d:%02d, want 08:30", zone, skip, ref, local.Hour(), local.Minute())
				}
				for _, d := range skip {
					if WeekdayMon0(local) == d {
						t.Errorf("%s skip=%v ref=%v: landed on skipped weekday %d", zone, skip, ref, d)
					}
				}
			}
		}
	}
}

func TestNextSendInstantInvalidInputs(t *testing.T) {
	t.Parallel()
	ref := time.Now()

	if _, err := NextSendInstant("Not/AZone", "08:00", nil, ref); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("expected ErrInvalidTimezone, got %v", err)
	}
	if _, err := NextSendInstant("UTC", "08:00", []int{0, 1, 2, 3, 4, 5, 6}, ref); !errors.Is(err, ErrInvalidSkipSet) {
		t.Fatalf("expected ErrInvalidSkipSet for full week, got %v", err)
	}
	if _, err := NextSendInstant("UTC", "08:00", []int{7}, ref); !errors.Is(err, ErrInvalidSkipSet) {
		t.Fatalf("expected ErrInvalidSkipSet for out-of-range day, got %v", err)
	}
	if _, err := NextSendInstant("UTC", "24:00", nil, ref); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}

func TestValidateSkipDaysDuplicates(t *testing.T) {
	t.Parallel()
	// Duplicates of six distinct days still leave Sunday free.
	if err := ValidateSkipDays([]int{0, 0, 1, 2, 3, 4, 5, 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSkipDays([]int{0, 1, 2, 3, 4, 5, 6, 6}); err == nil {
		t.Fatal("expected error when duplicates still cover the full week")
	}
}

func TestParseSendTime(t *testing.T) {
	t.Parallel()
	h, m, err := ParseSendTime("23:15")
	if err != nil {
		t.Fatalf("ParseSendTime error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	for _, bad := range []string{"24:00", "12:60", "noon", "1200", ""} {
		if _, _, err := ParseSendTime(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
