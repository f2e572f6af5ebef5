package model

import (
	"encoding/json"
	"fmt"
	"time"

	"stratengine/internal/timeframe"
)

// StratID is the STRAT classification of a bar relative to the bar before it.
type StratID string

const (
	StratNone    StratID = ""
	StratInside  StratID = "1"
	Strat2U      StratID = "2U"
	Strat2D      StratID = "2D"
	StratOutside StratID = "3"

	// StratP3 only appears in setup patterns, marking a trigger bar that is
	// on its way to becoming an outside bar.
	StratP3 StratID = "P3"
)

// Bar is one OHLCV bucket. StratID is set relative to the bar immediately
// preceding it in the same series.
type Bar struct {
	TS      time.Time `json:"ts"` // bucket start (UTC)
	Open    float64   `json:"o"`
	High    float64   `json:"h"`
	Low     float64   `json:"l"`
	Close   float64   `json:"c"`
	Volume  float64   `json:"v"`
	StratID StratID   `json:"strat_id,omitempty"`
}

// Green reports close > open.
func (b Bar) Green() bool { return b.Close > b.Open }

// Red reports close < open.
func (b Bar) Red() bool { return b.Close < b.Open }

// BarSeries is the bounded history for one (symbol, timeframe). Bars are
// ordered oldest to newest and the last element is the open (current) bar.
type BarSeries struct {
	Symbol string               `json:"symbol"`
	Class  timeframe.SymbolType `json:"class"`
	TF     timeframe.Timeframe  `json:"tf"`
	Bars   []Bar                `json:"bars"`
}

// SeriesKey returns "class:symbol:tf".
func SeriesKey(class timeframe.SymbolType, symbol string, tf timeframe.Timeframe) string {
	return string(class) + ":" + symbol + ":" + tf.String()
}

// Key returns the series key.
func (s *BarSeries) Key() string {
	return SeriesKey(s.Class, s.Symbol, s.TF)
}

// Current returns the open bar.
func (s *BarSeries) Current() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Closed returns the frozen history, oldest first.
func (s *BarSeries) Closed() []Bar {
	if len(s.Bars) == 0 {
		return nil
	}
	return s.Bars[:len(s.Bars)-1]
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *BarSeries) Clone() BarSeries {
	out := *s
	out.Bars = append([]Bar(nil), s.Bars...)
	return out
}

// JSON returns the JSON-encoded series.
func (s *BarSeries) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// ParseSeries decodes a series written by JSON.
func ParseSeries(data []byte) (BarSeries, error) {
	var s BarSeries
	if err := json.Unmarshal(data, &s); err != nil {
		return BarSeries{}, err
	}
	if !s.TF.Valid() {
		return BarSeries{}, fmt.Errorf("series %s: invalid timeframe", s.Symbol)
	}
	return s, nil
}
