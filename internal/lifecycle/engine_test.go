package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

var t0 = time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

// dailySetup is the reference bull setup: target bar 110/90, inside
// trigger bar 105/95, trigger 105, target 110, stop 100.
func dailySetup(dir model.Direction) *model.Setup {
	s := &model.Setup{
		Symbol:     "AAPL",
		Class:      timeframe.Stock,
		TF:         timeframe.Day,
		Direction:  dir,
		Timestamp:  t0.Add(24 * time.Hour),
		Pattern:    model.Pattern{model.StratInside, model.StratInside},
		Priority:   4,
		TargetBar:  model.Bar{TS: t0, Open: 100, High: 110, Low: 90, Close: 100},
		TriggerBar: model.Bar{TS: t0.Add(24 * time.Hour), Open: 100, High: 105, Low: 95, Close: 100, StratID: model.StratInside},
		Trigger:    105,
		Target:     110,
		Stop:       100,
		RR:         1,
		State:      model.StatePending,
	}
	if dir == model.Bear {
		s.Trigger, s.Target = 95, 90
	}
	return s
}

// liveSeries holds the two closed bars plus an open bar spanning lo..hi.
func liveSeries(s *model.Setup, lo, hi float64) *model.BarSeries {
	return &model.BarSeries{
		Symbol: s.Symbol,
		Class:  s.Class,
		TF:     s.TF,
		Bars: []model.Bar{
			s.TargetBar,
			s.TriggerBar,
			{TS: s.Timestamp.Add(24 * time.Hour), Open: lo, High: hi, Low: lo, Close: hi},
		},
	}
}

func TestEvaluate_InForceThenMagnitude(t *testing.T) {
	e := New(Thresholds{})
	s := dailySetup(model.Bull)
	now := s.Timestamp.Add(30 * time.Hour)

	lo, hi := 96.0, 96.0
	var alerts []model.AlertEvent
	for i, price := range []float64{96, 97, 106, 111} {
		if price > hi {
			hi = price
		}
		res := e.Evaluate(s, Input{Price: price, Series: liveSeries(s, lo, hi), Now: now.Add(time.Duration(i) * time.Second)})
		require.False(t, res.Deferred)
		alerts = append(alerts, res.Alerts...)

		switch i {
		case 0, 1:
			assert.False(t, s.InForce, "tick %d", i)
			assert.Empty(t, res.Alerts)
		case 2:
			assert.True(t, s.InForce)
			assert.Equal(t, model.StateInForce, s.State)
			require.Len(t, res.Alerts, 1)
			assert.Equal(t, model.MilestoneInForce, res.Alerts[0].Milestone)
		case 3:
			assert.True(t, s.HitMagnitude)
			require.Len(t, res.Alerts, 1)
			assert.Equal(t, model.MilestoneMagnitude, res.Alerts[0].Milestone)
		}
	}
	assert.Len(t, alerts, 2)
	assert.False(t, s.Negated)
	assert.Equal(t, 1, s.TriggerCount)
	assert.True(t, s.InForceAlerted)
	assert.True(t, s.MagnitudeAlerted)
}

func TestEvaluate_TFCConflict(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bear)
	s.TF = timeframe.M15
	s.Trigger, s.Target, s.Stop = 105, 104, 106

	res := e.Evaluate(s, Input{Price: 104.5, DailyOpen: 100, Now: s.Timestamp.Add(time.Hour)})
	assert.Empty(t, res.Alerts)
	assert.True(t, s.Negated)
	assert.Equal(t, model.StateNegated, s.State)
	assert.Equal(t, []model.NegatedReason{model.ReasonTFCConflict}, s.NegatedReasons)
	assert.False(t, s.InForce)
}

func TestEvaluate_TFCConflictOnPriceMove(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)
	s.TF = timeframe.M30
	s.Trigger, s.Target, s.Stop = 101, 103, 100

	// trigger above the open but the day is trading red
	e.Evaluate(s, Input{Price: 99.5, DailyOpen: 100, Now: s.Timestamp.Add(time.Hour)})
	assert.True(t, s.Negated)
	assert.Equal(t, []model.NegatedReason{model.ReasonTFCConflict}, s.NegatedReasons)

	agreeing := dailySetup(model.Bull)
	agreeing.TF = timeframe.M30
	agreeing.Trigger, agreeing.Target, agreeing.Stop = 101, 103, 100
	e.Evaluate(agreeing, Input{Price: 100.5, DailyOpen: 100, Now: agreeing.Timestamp.Add(time.Hour)})
	assert.False(t, agreeing.Negated)
}

func TestEvaluate_TFCSkippedWithoutDailyOpen(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bear)
	s.TF = timeframe.M15
	s.Trigger, s.Target, s.Stop = 105, 104, 106

	e.Evaluate(s, Input{Price: 104.5, Now: s.Timestamp.Add(time.Hour)})
	assert.False(t, s.Negated)
	assert.True(t, s.InForce)
}

func TestEvaluate_AlertAtMostOnce(t *testing.T) {
	e := New(Thresholds{})
	s := dailySetup(model.Bull)
	now := s.Timestamp.Add(30 * time.Hour)

	count := 0
	for i := 0; i < 100; i++ {
		price := 106.0
		if i%2 == 1 {
			price = 104 // drop back below trigger
		}
		res := e.Evaluate(s, Input{Price: price, Series: liveSeries(s, 104, 106), Now: now.Add(time.Duration(i) * time.Second)})
		count += len(res.Alerts)
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 50, s.TriggerCount)
	assert.Equal(t, now, s.InitialTrigger)
}

func TestEvaluate_FlagsAreMonotonic(t *testing.T) {
	e := New(Thresholds{RetireOnMagnitude: false})
	s := dailySetup(model.Bull)
	now := s.Timestamp.Add(30 * time.Hour)

	e.Evaluate(s, Input{Price: 111, Series: liveSeries(s, 100, 111), Now: now})
	require.True(t, s.HitMagnitude)
	require.True(t, s.MagnitudeAlerted)

	res := e.Evaluate(s, Input{Price: 101, Series: liveSeries(s, 100, 111), Now: now.Add(time.Second)})
	assert.Empty(t, res.Alerts)
	assert.True(t, s.HitMagnitude)
	assert.True(t, s.InForceAlerted)
	assert.False(t, s.InForce)
	assert.Equal(t, model.StateMagnitude, s.State)
}

func TestEvaluate_RetireOnMagnitude(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)

	res := e.Evaluate(s, Input{Price: 112, Now: s.Timestamp.Add(30 * time.Hour)})
	assert.Len(t, res.Alerts, 2)
	assert.Equal(t, model.StateRetired, s.State)

	s.ClearDirty()
	res = e.Evaluate(s, Input{Price: 90, Now: s.Timestamp.Add(31 * time.Hour)})
	assert.Empty(t, res.Alerts)
	assert.Zero(t, s.Dirty())
}

func TestEvaluate_NegatedIsFrozen(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)
	s.RR = 0.5

	e.Evaluate(s, Input{Price: 106, Now: s.Timestamp.Add(30 * time.Hour)})
	require.Equal(t, []model.NegatedReason{model.ReasonRRMinimum}, s.NegatedReasons)
	assert.False(t, s.InForce)

	s.ClearDirty()
	res := e.Evaluate(s, Input{Price: 111, Now: s.Timestamp.Add(31 * time.Hour)})
	assert.Empty(t, res.Alerts)
	assert.Zero(t, s.Dirty())
	assert.False(t, s.HitMagnitude)
}

func TestEvaluate_MagnitudeThreshold(t *testing.T) {
	e := New(DefaultThresholds())

	s := dailySetup(model.Bull)
	s.Target = 105.5 // 0.48% on a daily
	e.Evaluate(s, Input{Price: 100, Now: s.Timestamp.Add(30 * time.Hour)})
	assert.Equal(t, []model.NegatedReason{model.ReasonMagThreshold}, s.NegatedReasons)

	s = dailySetup(model.Bull)
	s.TF = timeframe.H1
	s.Target = 105.5
	e.Evaluate(s, Input{Price: 100, Now: s.Timestamp.Add(30 * time.Hour)})
	assert.False(t, s.Negated)
}

func TestEvaluate_NoTargetSkipsMagnitudeCheck(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)
	s.Target = 0
	s.RR = 0
	s.PotentialOutside = true

	res := e.Evaluate(s, Input{Price: 106, Now: s.Timestamp.Add(30 * time.Hour)})
	assert.False(t, s.Negated)
	assert.False(t, s.HitMagnitude)
	assert.Len(t, res.Alerts, 1)
}

func TestEvaluate_Continuation(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)
	series := liveSeries(s, 99, 101)
	// next bar closed as another inside bar, then a new bar opened
	series.Bars[2].High, series.Bars[2].Low, series.Bars[2].StratID = 104, 96, model.StratInside
	series.Bars = append(series.Bars, model.Bar{TS: s.Timestamp.Add(48 * time.Hour), Open: 100, High: 100, Low: 100, Close: 100})

	e.Evaluate(s, Input{Price: 100, Series: series, Now: s.Timestamp.Add(50 * time.Hour)})
	assert.Equal(t, []model.NegatedReason{model.ReasonContinuation}, s.NegatedReasons)
}

func TestEvaluate_NextBarStillOpenIsNotContinuation(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)
	e.Evaluate(s, Input{Price: 100, Series: liveSeries(s, 99, 101), Now: s.Timestamp.Add(30 * time.Hour)})
	assert.False(t, s.Negated)
}

func TestEvaluate_PotentialOutside(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bear)
	series := liveSeries(s, 99, 106) // took out the trigger bar high

	res := e.Evaluate(s, Input{Price: 99, Series: series, Now: s.Timestamp.Add(30 * time.Hour)})
	assert.False(t, s.Negated)
	assert.True(t, s.PotentialOutside)
	assert.Equal(t, model.Pattern{model.StratInside, model.StratInside}, s.Pattern)
	assert.Equal(t, model.Pattern{model.StratInside, model.StratP3}, s.CurrentPattern())
	assert.Equal(t, 100.0, s.Trigger)
	assert.Equal(t, 95.0, s.Target)
	assert.True(t, s.InForce)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 100.0, res.Alerts[0].Trigger)
	assert.Equal(t, "1-P3", res.Alerts[0].Pattern.String())
	assert.True(t, s.Dirty().Has(model.FieldPotentialOutside|model.FieldTrigger|model.FieldTarget))
}

func TestEvaluate_PotentialOutsideOnlyInOwnDirection(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)
	// bear-side condition: price under the midpoint with the high taken out
	e.Evaluate(s, Input{Price: 99, Series: liveSeries(s, 99, 106), Now: s.Timestamp.Add(30 * time.Hour)})
	assert.False(t, s.PotentialOutside)
	assert.Equal(t, 105.0, s.Trigger)
}

func TestEvaluate_PotentialOutsideSkippedOnShortIntraday(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bear)
	s.TF = timeframe.M30
	e.Evaluate(s, Input{Price: 99, Series: liveSeries(s, 99, 106), Now: s.Timestamp.Add(30 * time.Hour)})
	assert.False(t, s.PotentialOutside)
}

func TestEvaluate_MissingPriceDefers(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)
	res := e.Evaluate(s, Input{Now: s.Timestamp.Add(30 * time.Hour)})
	assert.True(t, res.Deferred)
	assert.Zero(t, s.Dirty())
	assert.Equal(t, model.StatePending, s.State)
}

func TestEvaluate_Expiry(t *testing.T) {
	e := New(DefaultThresholds())
	s := dailySetup(model.Bull)
	s.Expires = s.Timestamp.Add(48 * time.Hour)

	e.Evaluate(s, Input{Price: 100, Now: s.Expires.Add(-time.Second)})
	assert.Equal(t, model.StatePending, s.State)

	res := e.Evaluate(s, Input{Price: 111, Now: s.Expires})
	assert.Empty(t, res.Alerts)
	assert.Equal(t, model.StateExpired, s.State)
	assert.False(t, s.HitMagnitude)
}
