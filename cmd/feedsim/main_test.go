package main

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratengine/internal/timeframe"
)

func TestParseInstruments(t *testing.T) {
	got := parseInstruments("btcusd:crypto:62000.5, AAPL:stock, bad, EURUSD:forex:1.1")
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSD", got[0].Symbol)
	assert.Equal(t, timeframe.Crypto, got[0].Class)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("62000.5")))
	assert.Equal(t, timeframe.Stock, got[1].Class)
	assert.True(t, got[1].Price.Equal(decimal.NewFromInt(100)))
}

func TestWalkPrice_StaysWithinBand(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := decimal.NewFromInt(1000)
	for i := 0; i < 100; i++ {
		next := walkPrice(rng, p)
		move := next.Sub(p).Abs()
		assert.True(t, move.LessThanOrEqual(p.Mul(decimal.RequireFromString("0.001")).Add(decimal.RequireFromString("0.01"))))
		p = next
	}
}
