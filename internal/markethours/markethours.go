// Package markethours is the NYSE session calendar used for stock bar
// bucketing and setup expiry.
package markethours

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // America/New_York must resolve in minimal images
)

// ET is the exchange timezone (America/New_York).
var ET = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// Regular and early-close session hours in ET.
const (
	OpenHour         = 9
	OpenMinute       = 30
	CloseHour        = 16
	CloseMinute      = 0
	EarlyCloseHour   = 13
	EarlyCloseMinute = 0
)

// ErrNoSession is returned when a lookup leaves the calendar's coverage.
var ErrNoSession = errors.New("markethours: no session in calendar coverage")

// Session is one trading day.
type Session struct {
	Open  time.Time
	Close time.Time
}

// Covered reports whether t's ET date falls inside the holiday tables.
func Covered(t time.Time) bool {
	y := t.In(ET).Year()
	return y >= firstYear && y <= lastYear
}

// IsWeekday returns true if t is Mon–Fri in ET.
func IsWeekday(t time.Time) bool {
	wd := t.In(ET).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	return IsWeekday(t) && !IsHoliday(t)
}

// SessionOn returns the session of t's ET date, if it trades.
func SessionOn(t time.Time) (Session, bool) {
	et := t.In(ET)
	if !IsTradingDay(et) {
		return Session{}, false
	}
	ch, cm := CloseHour, CloseMinute
	if IsEarlyClose(et) {
		ch, cm = EarlyCloseHour, EarlyCloseMinute
	}
	y, m, d := et.Date()
	return Session{
		Open:  time.Date(y, m, d, OpenHour, OpenMinute, 0, 0, ET),
		Close: time.Date(y, m, d, ch, cm, 0, 0, ET),
	}, true
}

// IsMarketOpen returns true if t falls within a regular session.
func IsMarketOpen(t time.Time) bool {
	s, ok := SessionOn(t)
	return ok && !t.Before(s.Open) && t.Before(s.Close)
}

// NextSession returns the first session whose open is at or after t.
func NextSession(t time.Time) (Session, error) {
	et := t.In(ET)
	d := time.Date(et.Year(), et.Month(), et.Day(), 12, 0, 0, 0, ET)
	for Covered(d) {
		if s, ok := SessionOn(d); ok && !s.Open.Before(t) {
			return s, nil
		}
		d = d.AddDate(0, 0, 1)
	}
	return Session{}, ErrNoSession
}

// NextOpen returns the next session open at or after t.
func NextOpen(t time.Time) (time.Time, error) {
	s, err := NextSession(t)
	if err != nil {
		return time.Time{}, err
	}
	return s.Open, nil
}

// LastSessionBefore returns the latest session whose open is strictly before t.
func LastSessionBefore(t time.Time) (Session, error) {
	et := t.In(ET)
	d := time.Date(et.Year(), et.Month(), et.Day(), 12, 0, 0, 0, ET)
	for Covered(d) {
		if s, ok := SessionOn(d); ok && s.Open.Before(t) {
			return s, nil
		}
		d = d.AddDate(0, 0, -1)
	}
	return Session{}, ErrNoSession
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		s, _ := SessionOn(t)
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(s.Close.Sub(t)))
	}
	next, err := NextOpen(t)
	if err != nil {
		return "Market Closed, next open unknown"
	}
	et := next.In(ET)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
