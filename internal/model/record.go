package model

import (
	"time"

	"stratengine/internal/timeframe"
)

// IngestRecord is one message on the ingest stream: either a pre-aggregated
// bar or a raw last trade. Open/High/Low are optional and default to Close.
type IngestRecord struct {
	Symbol  string               `json:"symbol"`
	Class   timeframe.SymbolType `json:"class"`
	TS      time.Time            `json:"ts"`
	Open    *float64             `json:"o,omitempty"`
	High    *float64             `json:"h,omitempty"`
	Low     *float64             `json:"l,omitempty"`
	Close   float64              `json:"c"`
	Volume  float64              `json:"v"`
	TradeID string               `json:"id,omitempty"`
}

// Key returns "class:symbol".
func (r *IngestRecord) Key() string {
	return string(r.Class) + ":" + r.Symbol
}

// OHLC resolves the optional fields.
func (r *IngestRecord) OHLC() (o, h, l, c float64) {
	o, h, l, c = r.Close, r.Close, r.Close, r.Close
	if r.Open != nil {
		o = *r.Open
	}
	if r.High != nil {
		h = *r.High
	}
	if r.Low != nil {
		l = *r.Low
	}
	return o, h, l, c
}

// SymbolRec is the store's view of a tradable symbol and its latest price.
type SymbolRec struct {
	Symbol string               `json:"symbol"`
	Class  timeframe.SymbolType `json:"class"`
	Price  float64              `json:"price"`
	AsOf   time.Time            `json:"as_of"`
}
