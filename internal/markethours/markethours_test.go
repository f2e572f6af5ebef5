package markethours

import (
	"errors"
	"testing"
	"time"
)

func et(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, ET)
}

func TestIsMarketOpen(t *testing.T) {
	if !IsMarketOpen(et(2026, time.October, 19, 10, 0)) {
		t.Error("expected open on a Monday morning")
	}
	if IsMarketOpen(et(2026, time.October, 19, 9, 29)) {
		t.Error("expected closed before 9:30")
	}
	if IsMarketOpen(et(2026, time.October, 19, 16, 0)) {
		t.Error("expected closed at 16:00")
	}
	if IsMarketOpen(et(2026, time.October, 17, 12, 0)) {
		t.Error("expected closed on Saturday")
	}
	if IsMarketOpen(et(2026, time.November, 26, 12, 0)) {
		t.Error("expected closed on Thanksgiving")
	}
	if IsMarketOpen(et(2026, time.November, 27, 14, 0)) {
		t.Error("expected closed after an early close")
	}
}

func TestSessionOn_EarlyClose(t *testing.T) {
	s, ok := SessionOn(et(2026, time.November, 27, 8, 0))
	if !ok {
		t.Fatal("expected a session")
	}
	if !s.Close.Equal(et(2026, time.November, 27, 13, 0)) {
		t.Errorf("expected 13:00 close, got %v", s.Close)
	}
}

func TestNextOpen(t *testing.T) {
	got, err := NextOpen(et(2026, time.October, 16, 17, 0)) // Friday after close
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := et(2026, time.October, 19, 9, 30); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got, err = NextOpen(et(2026, time.October, 19, 8, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := et(2026, time.October, 19, 9, 30); !got.Equal(want) {
		t.Errorf("expected same-day open %v, got %v", want, got)
	}
}

func TestLastSessionBefore(t *testing.T) {
	s, err := LastSessionBefore(et(2026, time.October, 19, 9, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := et(2026, time.October, 16, 9, 30); !s.Open.Equal(want) {
		t.Errorf("expected %v, got %v", want, s.Open)
	}
}

func TestOutsideCoverage(t *testing.T) {
	if _, err := NextSession(et(2027, time.December, 31, 17, 0)); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if _, err := LastSessionBefore(et(2024, time.January, 2, 9, 0)); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}
