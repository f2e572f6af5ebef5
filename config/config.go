// Package config loads scanner and ingest settings from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stratengine/internal/lifecycle"
	"stratengine/internal/timeframe"
)

// Config holds all application configuration.
type Config struct {
	// Classes run by the scanner, e.g. ["stock", "crypto"].
	Classes []string `yaml:"classes"`

	// Timeframes scanned per class as a comma separated list
	// ("15,30,60,4H,D,W,M,Q,Y"). Missing classes use the built-in sets.
	Timeframes map[string]string `yaml:"timeframes"`

	Thresholds struct {
		RRMin             map[string]float64 `yaml:"rr_min"`
		MagnitudePct      map[string]float64 `yaml:"magnitude_pct"`
		RetireOnMagnitude *bool              `yaml:"retire_on_magnitude"`
	} `yaml:"thresholds"`

	History struct {
		Depth int `yaml:"depth"`
	} `yaml:"history"`

	Loop struct {
		MinTick        time.Duration `yaml:"min_tick"`
		PriceStaleness time.Duration `yaml:"price_staleness"`
		StatsFlush     time.Duration `yaml:"stats_flush"`
		SymbolRefresh  time.Duration `yaml:"symbol_refresh"`
		SetupRefresh   time.Duration `yaml:"setup_refresh"`
	} `yaml:"loop"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Ingest struct {
		StreamURL   string `yaml:"stream_url"`
		Shards      int    `yaml:"shards"`
		BufSize     int    `yaml:"buf_size"`
		DedupWindow int    `yaml:"dedup_window"`
		WarmStart   bool   `yaml:"warm_start"`
	} `yaml:"ingest"`

	Alerts struct {
		Log        bool   `yaml:"log"`
		WebhookURL string `yaml:"webhook_url"`
		Discord    bool   `yaml:"discord"`
		PubSub     bool   `yaml:"pubsub"`
		Telegram   struct {
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		// RequireFTFC only sends alerts that agree with full timeframe continuity.
		RequireFTFC bool `yaml:"require_ftfc"`
	} `yaml:"alerts"`

	Housekeeping struct {
		PurgeCron    string        `yaml:"purge_cron"`
		Retention    time.Duration `yaml:"retention"`
		BarRetention time.Duration `yaml:"bar_retention"`
	} `yaml:"housekeeping"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	// Exchange names the session calendar. Only NYSE is bundled.
	Exchange string `yaml:"exchange"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := getEnv("CLASSES", ""); v != "" {
		c.Classes = splitList(v)
	}
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Ingest.StreamURL = getEnv("STREAM_URL", c.Ingest.StreamURL)
	c.Alerts.WebhookURL = getEnv("WEBHOOK_URL", c.Alerts.WebhookURL)
	c.Alerts.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Alerts.Telegram.BotToken)
	c.Alerts.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", c.Alerts.Telegram.ChatID)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if v := getEnv("SHARDS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ingest.Shards = n
		} else {
			log.Printf("[config] skipping invalid SHARDS value: %q", v)
		}
	}
}

func (c *Config) applyDefaults() {
	if len(c.Classes) == 0 {
		c.Classes = []string{string(timeframe.Stock), string(timeframe.Crypto)}
	}
	if c.History.Depth == 0 {
		c.History.Depth = 5
	}
	if c.Loop.MinTick == 0 {
		c.Loop.MinTick = time.Second
	}
	if c.Loop.PriceStaleness == 0 {
		c.Loop.PriceStaleness = 30 * time.Second
	}
	if c.Loop.StatsFlush == 0 {
		c.Loop.StatsFlush = 30 * time.Second
	}
	if c.Loop.SymbolRefresh == 0 {
		c.Loop.SymbolRefresh = time.Minute
	}
	if c.Loop.SetupRefresh == 0 {
		c.Loop.SetupRefresh = 5 * time.Second
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/strat.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Ingest.StreamURL == "" {
		c.Ingest.StreamURL = "ws://localhost:9001/stream"
	}
	if c.Ingest.Shards == 0 {
		c.Ingest.Shards = 4
	}
	if c.Ingest.BufSize == 0 {
		c.Ingest.BufSize = 4096
	}
	if c.Housekeeping.PurgeCron == "" {
		c.Housekeeping.PurgeCron = "0 30 4 * * *"
	}
	if c.Housekeeping.Retention == 0 {
		c.Housekeeping.Retention = 14 * 24 * time.Hour
	}
	if c.Housekeeping.BarRetention == 0 {
		c.Housekeeping.BarRetention = 400 * 24 * time.Hour
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.Exchange == "" {
		c.Exchange = "NYSE"
	}
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	for _, cl := range c.Classes {
		st, err := timeframe.ParseSymbolType(cl)
		if err != nil {
			return fmt.Errorf("classes: %w", err)
		}
		if _, err := c.ScanTimeframes(st); err != nil {
			return err
		}
	}
	if _, err := c.LifecycleThresholds(); err != nil {
		return err
	}
	if c.History.Depth < 3 {
		return fmt.Errorf("history.depth must be at least 3")
	}
	if c.Ingest.Shards <= 0 {
		return fmt.Errorf("ingest.shards must be positive")
	}
	if !strings.EqualFold(c.Exchange, "NYSE") {
		return fmt.Errorf("exchange %q: only NYSE is supported", c.Exchange)
	}
	return nil
}

// SymbolTypes returns the configured classes, parsed.
func (c *Config) SymbolTypes() []timeframe.SymbolType {
	out := make([]timeframe.SymbolType, 0, len(c.Classes))
	for _, cl := range c.Classes {
		if st, err := timeframe.ParseSymbolType(cl); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// ScanTimeframes returns the timeframes scanned for a class.
func (c *Config) ScanTimeframes(st timeframe.SymbolType) ([]timeframe.Timeframe, error) {
	list, ok := c.Timeframes[string(st)]
	if !ok || strings.TrimSpace(list) == "" {
		return timeframe.ScanTimeframes(st), nil
	}
	tfs, err := timeframe.ParseList(list)
	if err != nil {
		return nil, fmt.Errorf("timeframes.%s: %w", st, err)
	}
	return tfs, nil
}

// LifecycleThresholds converts the threshold tables.
func (c *Config) LifecycleThresholds() (lifecycle.Thresholds, error) {
	th := lifecycle.DefaultThresholds()
	if c.Thresholds.RetireOnMagnitude != nil {
		th.RetireOnMagnitude = *c.Thresholds.RetireOnMagnitude
	}
	var err error
	if th.RRMin, err = tfTable(c.Thresholds.RRMin); err != nil {
		return th, fmt.Errorf("thresholds.rr_min: %w", err)
	}
	if th.MagnitudePct, err = tfTable(c.Thresholds.MagnitudePct); err != nil {
		return th, fmt.Errorf("thresholds.magnitude_pct: %w", err)
	}
	return th, nil
}

func tfTable(in map[string]float64) (map[timeframe.Timeframe]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[timeframe.Timeframe]float64, len(in))
	for k, v := range in {
		tf, err := timeframe.Parse(k)
		if err != nil {
			return nil, err
		}
		out[tf] = v
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
