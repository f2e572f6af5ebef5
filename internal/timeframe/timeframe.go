// Package timeframe defines the closed set of bar timeframes, the symbol
// classes that scan them, and calendar-aware bucketing.
package timeframe

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is one of a fixed set of bar durations. The zero value is invalid.
type Timeframe uint8

const (
	Unknown Timeframe = iota
	M1
	M5
	M15
	M30
	H1
	H4
	H6
	H12
	Day
	Week
	Month
	Quarter
	Year
)

type spec struct {
	label  string
	dur    time.Duration // zero for calendar timeframes
	months int           // calendar timeframes only

	// stockOffset shifts intraday stock buckets off session-local midnight
	// so they line up with the 9:30 open.
	stockOffset time.Duration
}

var specs = [...]spec{
	Unknown: {label: "?"},
	M1:      {label: "1", dur: time.Minute},
	M5:      {label: "5", dur: 5 * time.Minute},
	M15:     {label: "15", dur: 15 * time.Minute},
	M30:     {label: "30", dur: 30 * time.Minute},
	H1:      {label: "60", dur: time.Hour, stockOffset: 30 * time.Minute},
	H4:      {label: "4H", dur: 4 * time.Hour, stockOffset: 9*time.Hour + 30*time.Minute},
	H6:      {label: "6H", dur: 6 * time.Hour},
	H12:     {label: "12H", dur: 12 * time.Hour},
	Day:     {label: "D", dur: 24 * time.Hour},
	Week:    {label: "W", dur: 7 * 24 * time.Hour},
	Month:   {label: "M", months: 1},
	Quarter: {label: "Q", months: 3},
	Year:    {label: "Y", months: 12},
}

// All lists every valid timeframe, shortest first.
func All() []Timeframe {
	return []Timeframe{M1, M5, M15, M30, H1, H4, H6, H12, Day, Week, Month, Quarter, Year}
}

// Valid reports whether tf is a member of the enumeration.
func (tf Timeframe) Valid() bool {
	return tf > Unknown && int(tf) < len(specs)
}

func (tf Timeframe) String() string {
	if !tf.Valid() {
		return specs[Unknown].label
	}
	return specs[tf].label
}

// Parse converts a label such as "15", "4H" or "Q".
func Parse(s string) (Timeframe, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, tf := range All() {
		if specs[tf].label == s {
			return tf, nil
		}
	}
	return Unknown, fmt.Errorf("unknown timeframe %q", s)
}

// MarshalText encodes the label.
func (tf Timeframe) MarshalText() ([]byte, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("invalid timeframe %d", tf)
	}
	return []byte(tf.String()), nil
}

// UnmarshalText decodes a label.
func (tf *Timeframe) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*tf = v
	return nil
}

// Fixed reports whether the timeframe has a constant duration.
func (tf Timeframe) Fixed() bool { return tf.Valid() && specs[tf].dur > 0 }

// Duration is the bucket width of a fixed timeframe, 0 otherwise.
func (tf Timeframe) Duration() time.Duration { return specs[tf].dur }

// Months is the bucket width of a calendar timeframe, 0 otherwise.
func (tf Timeframe) Months() int { return specs[tf].months }

// Intraday reports whether buckets are shorter than a day.
func (tf Timeframe) Intraday() bool { return tf.Fixed() && specs[tf].dur < 24*time.Hour }

// Add advances t by n buckets. Calendar timeframes move by months.
func (tf Timeframe) Add(t time.Time, n int) time.Time {
	if tf.Fixed() {
		return t.Add(time.Duration(n) * specs[tf].dur)
	}
	return t.AddDate(0, n*specs[tf].months, 0)
}

// ParseList parses a comma separated list, skipping blanks.
func ParseList(s string) ([]Timeframe, error) {
	var out []Timeframe
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		tf, err := Parse(p)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// SymbolType is the asset class a symbol belongs to.
type SymbolType string

const (
	Stock  SymbolType = "stock"
	Crypto SymbolType = "crypto"
)

// ParseSymbolType validates a class name.
func ParseSymbolType(s string) (SymbolType, error) {
	switch st := SymbolType(strings.ToLower(strings.TrimSpace(s))); st {
	case Stock, Crypto:
		return st, nil
	}
	return "", fmt.Errorf("unknown symbol type %q", s)
}

var scanned = map[SymbolType][]Timeframe{
	Stock:  {M15, M30, H1, H4, Day, Week, Month, Quarter, Year},
	Crypto: {M15, M30, H1, H4, H6, H12, Day, Week, Month, Quarter, Year},
}

// ScanTimeframes is the default set of timeframes scanned for a class.
func ScanTimeframes(st SymbolType) []Timeframe {
	return append([]Timeframe(nil), scanned[st]...)
}
