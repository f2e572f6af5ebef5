package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratengine/internal/marketdata/tfbuilder"
	"stratengine/internal/model"
	sqlitestore "stratengine/internal/store/sqlite"
	"stratengine/internal/timeframe"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func dailySeries(symbol string, n int) model.BarSeries {
	s := model.BarSeries{Symbol: symbol, Class: timeframe.Crypto, TF: timeframe.Day}
	for i := 0; i < n; i++ {
		p := 100 + float64(i)
		s.Bars = append(s.Bars, model.Bar{TS: day0.AddDate(0, 0, i), Open: p, High: p + 2, Low: p - 2, Close: p + 1})
	}
	return s
}

func TestWarmStart_SeedsBuilderFromSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strat.db")
	st, err := sqlitestore.New(sqlitestore.Config{DBPath: path})
	require.NoError(t, err)
	defer st.Close()

	// InsertClosedBars stores the newest closed bar, so write a growing
	// series one roll at a time.
	for n := 2; n <= 8; n++ {
		require.NoError(t, st.InsertClosedBars(context.Background(), []model.BarSeries{dailySeries("BTCUSD", n)}))
	}

	reader, err := sqlitestore.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	b := tfbuilder.New(timeframe.Crypto, []timeframe.Timeframe{timeframe.Day}, 5)
	n, err := WarmStart(context.Background(), reader, timeframe.Crypto, b.TFs(), 5, b.Seed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, ok := b.Series("BTCUSD", timeframe.Day)
	require.True(t, ok)
	require.Len(t, s.Bars, 5)
	assert.Equal(t, day0.AddDate(0, 0, 2), s.Bars[0].TS)
	assert.Equal(t, day0.AddDate(0, 0, 6), s.Bars[4].TS)

	// A record in the next day closes the restored open bar.
	res := b.Ingest("BTCUSD", timeframe.Day, day0.AddDate(0, 0, 7).Add(time.Hour), 107, 109, 105, 108, 1)
	assert.Equal(t, tfbuilder.Rolled, res)
}

type fakeSource map[timeframe.Timeframe]map[string][]model.Bar

func (f fakeSource) RecentBars(_ context.Context, _ timeframe.SymbolType, tf timeframe.Timeframe, _ int) (map[string][]model.Bar, error) {
	if m, ok := f[tf]; ok {
		return m, nil
	}
	return nil, errors.New("no such table")
}

func TestWarmStart_OrderAndErrors(t *testing.T) {
	bars := dailySeries("X", 3).Bars
	src := fakeSource{
		timeframe.Day: {"ZZZ": bars, "AAA": bars, "EMPTY": nil},
	}

	var got []string
	n, err := WarmStart(context.Background(), src, timeframe.Crypto, []timeframe.Timeframe{timeframe.Day}, 5,
		func(s model.BarSeries) { got = append(got, s.Symbol) })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"AAA", "ZZZ"}, got)

	_, err = WarmStart(context.Background(), src, timeframe.Crypto, []timeframe.Timeframe{timeframe.Week}, 5,
		func(model.BarSeries) {})
	assert.Error(t, err)
}
