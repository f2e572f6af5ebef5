package pattern

import (
	"time"

	"stratengine/internal/markethours"
	"stratengine/internal/timeframe"
)

// Expiry computes when a setup whose trigger bar starts at ts stops being
// actionable. Stock expiries follow the exchange calendar and return
// markethours.ErrNoSession outside its coverage; callers keep the setup
// unexpired and retry later.
func Expiry(class timeframe.SymbolType, tf timeframe.Timeframe, ts time.Time) (time.Time, error) {
	if class != timeframe.Stock {
		return tf.Add(ts, 2), nil
	}

	switch {
	case tf.Intraday():
		e := tf.Add(ts, 1)
		if !markethours.Covered(e) {
			return time.Time{}, markethours.ErrNoSession
		}
		if markethours.IsMarketOpen(e) {
			return tf.Add(e, 1), nil
		}
		open, err := markethours.NextOpen(e)
		if err != nil {
			return time.Time{}, err
		}
		return tf.Add(open, 1), nil

	case tf == timeframe.Day:
		s, err := markethours.NextSession(ts.Add(24 * time.Hour))
		if err != nil {
			return time.Time{}, err
		}
		return s.Close, nil
	}

	// W, M, Q, Y: close of the final session in the period holding the
	// last session that opens before two bars out.
	last, err := markethours.LastSessionBefore(tf.Add(ts, 2))
	if err != nil {
		return time.Time{}, err
	}
	end := timeframe.Next(timeframe.Bucket(last.Open, tf, class), tf)
	endET := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, markethours.ET)
	final, err := markethours.LastSessionBefore(endET)
	if err != nil {
		return time.Time{}, err
	}
	return final.Close, nil
}
