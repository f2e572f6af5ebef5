package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratengine/internal/timeframe"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"stock", "crypto"}, cfg.Classes)
	assert.Equal(t, 5, cfg.History.Depth)
	assert.Equal(t, time.Second, cfg.Loop.MinTick)
	assert.Equal(t, 30*time.Second, cfg.Loop.PriceStaleness)
	assert.Equal(t, 30*time.Second, cfg.Loop.StatsFlush)
	assert.Equal(t, "data/strat.db", cfg.Database.SQLitePath)

	th, err := cfg.LifecycleThresholds()
	require.NoError(t, err)
	assert.True(t, th.RetireOnMagnitude)

	tfs, err := cfg.ScanTimeframes(timeframe.Crypto)
	require.NoError(t, err)
	assert.Equal(t, timeframe.ScanTimeframes(timeframe.Crypto), tfs)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
classes: [crypto]
timeframes:
  crypto: "15,60,D"
thresholds:
  rr_min:
    D: 1.5
  magnitude_pct:
    "60": 0.25
  retire_on_magnitude: false
loop:
  min_tick: 2s
redis:
  addr: redis:6379
alerts:
  webhook_url: https://example.invalid/hook
  discord: true
  require_ftfc: true
`)
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("SHARDS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []timeframe.SymbolType{timeframe.Crypto}, cfg.SymbolTypes())
	assert.Equal(t, 2*time.Second, cfg.Loop.MinTick)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.Ingest.Shards)
	assert.True(t, cfg.Alerts.Discord)
	assert.True(t, cfg.Alerts.RequireFTFC)

	tfs, err := cfg.ScanTimeframes(timeframe.Crypto)
	require.NoError(t, err)
	assert.Equal(t, []timeframe.Timeframe{timeframe.M15, timeframe.H1, timeframe.Day}, tfs)

	th, err := cfg.LifecycleThresholds()
	require.NoError(t, err)
	assert.False(t, th.RetireOnMagnitude)
	assert.Equal(t, 1.5, th.RRMin[timeframe.Day])
	assert.Equal(t, 0.25, th.MagnitudePct[timeframe.H1])
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"class":     "classes: [forex]\n",
		"timeframe": "timeframes:\n  stock: \"15,7\"\n",
		"threshold": "thresholds:\n  rr_min:\n    X: 1\n",
		"depth":     "history:\n  depth: 2\n",
		"exchange":  "exchange: LSE\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
