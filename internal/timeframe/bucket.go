package timeframe

import (
	"time"

	"stratengine/internal/markethours"
)

var (
	epoch = time.Unix(0, 0).UTC()
	// 1970-01-05 is the first Monday after the Unix epoch.
	mondayEpoch = time.Date(1970, time.January, 5, 0, 0, 0, 0, time.UTC)
)

// Bucket returns the start of the bucket containing ts, in UTC.
//
// Crypto fixed timeframes floor from the Unix epoch (weeks from a Monday).
// Stock intraday timeframes floor from exchange-local midnight plus the
// timeframe's offset; stock D and W floor in UTC. M, Q and Y are calendar
// floors in UTC for both classes.
func Bucket(ts time.Time, tf Timeframe, st SymbolType) time.Time {
	u := ts.UTC()
	switch tf {
	case Month:
		return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Quarter:
		m := (u.Month()-1)/3*3 + 1
		return time.Date(u.Year(), m, 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(u.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	d := tf.Duration()
	if d <= 0 {
		return u
	}

	if st == Stock {
		switch tf {
		case Day:
			return startOfDay(u)
		case Week:
			return startOfWeek(u)
		}
		local := ts.In(markethours.ET)
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, markethours.ET)
		return floorFrom(ts, midnight.Add(specs[tf].stockOffset), d).UTC()
	}

	if tf == Week {
		return floorFrom(u, mondayEpoch, d)
	}
	return floorFrom(u, epoch, d)
}

// Next returns the start of the bucket following the one starting at bucket.
func Next(bucket time.Time, tf Timeframe) time.Time {
	return tf.Add(bucket, 1)
}

// floorFrom floors ts onto the grid anchor + k*d, rounding toward -inf.
func floorFrom(ts, anchor time.Time, d time.Duration) time.Time {
	diff := ts.Sub(anchor)
	n := diff / d
	if diff%d < 0 {
		n--
	}
	return anchor.Add(n * d)
}

func startOfDay(u time.Time) time.Time {
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfWeek(u time.Time) time.Time {
	back := (int(u.Weekday()) + 6) % 7 // days since Monday
	return startOfDay(u).AddDate(0, 0, -back)
}
