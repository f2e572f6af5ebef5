package markethours

import "time"

// Coverage of the tables below. Lookups outside it return ErrNoSession.
const (
	firstYear = 2024
	lastYear  = 2027
)

type date struct {
	year  int
	month time.Month
	day   int
}

// NYSE full-day closures.
var nyseHolidays = []date{
	{2024, time.January, 1}, {2024, time.January, 15}, {2024, time.February, 19},
	{2024, time.March, 29}, {2024, time.May, 27}, {2024, time.June, 19},
	{2024, time.July, 4}, {2024, time.September, 2}, {2024, time.November, 28},
	{2024, time.December, 25},

	{2025, time.January, 1}, {2025, time.January, 9}, {2025, time.January, 20},
	{2025, time.February, 17}, {2025, time.April, 18}, {2025, time.May, 26},
	{2025, time.June, 19}, {2025, time.July, 4}, {2025, time.September, 1},
	{2025, time.November, 27}, {2025, time.December, 25},

	{2026, time.January, 1}, {2026, time.January, 19}, {2026, time.February, 16},
	{2026, time.April, 3}, {2026, time.May, 25}, {2026, time.June, 19},
	{2026, time.July, 3}, {2026, time.September, 7}, {2026, time.November, 26},
	{2026, time.December, 25},

	{2027, time.January, 1}, {2027, time.January, 18}, {2027, time.February, 15},
	{2027, time.March, 26}, {2027, time.May, 31}, {2027, time.June, 18},
	{2027, time.July, 5}, {2027, time.September, 6}, {2027, time.November, 25},
	{2027, time.December, 24},
}

// 1:00 PM closes.
var nyseEarlyCloses = []date{
	{2024, time.July, 3}, {2024, time.November, 29}, {2024, time.December, 24},
	{2025, time.July, 3}, {2025, time.November, 28}, {2025, time.December, 24},
	{2026, time.November, 27}, {2026, time.December, 24},
	{2027, time.November, 26},
}

var holidaySet, earlyCloseSet map[date]bool

func init() {
	holidaySet = make(map[date]bool, len(nyseHolidays))
	for _, d := range nyseHolidays {
		holidaySet[d] = true
	}
	earlyCloseSet = make(map[date]bool, len(nyseEarlyCloses))
	for _, d := range nyseEarlyCloses {
		earlyCloseSet[d] = true
	}
}

func dateOf(t time.Time) date {
	y, m, d := t.In(ET).Date()
	return date{y, m, d}
}

// IsHoliday returns true if t's ET date is an NYSE holiday.
func IsHoliday(t time.Time) bool {
	return holidaySet[dateOf(t)]
}

// IsEarlyClose returns true if t's ET date closes at 1:00 PM.
func IsEarlyClose(t time.Time) bool {
	return earlyCloseSet[dateOf(t)]
}
