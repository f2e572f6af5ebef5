// cmd/scanner runs one live loop per symbol class. Each loop re-evaluates
// the active setups against fresh prices and bar snapshots and sends
// IN_FORCE and MAGNITUDE alerts.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"stratengine/config"
	"stratengine/internal/housekeeping"
	"stratengine/internal/lifecycle"
	"stratengine/internal/liveloop"
	"stratengine/internal/logger"
	"stratengine/internal/metrics"
	"stratengine/internal/notification"
	redisstore "stratengine/internal/store/redis"
	sqlitestore "stratengine/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "config.yaml"), "path to YAML config")
	purgeOnStart := flag.Bool("purge-on-start", false, "run the purge job once at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[scanner] config: %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[scanner] %v", err)
	}
	lg := logger.Init("scanner", level)

	th, err := cfg.LifecycleThresholds()
	if err != nil {
		log.Fatalf("[scanner] %v", err)
	}
	engine := lifecycle.New(th)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.SetClasses(cfg.Classes)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Store of record ----
	os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.Database.SQLitePath})
	if err != nil {
		log.Fatalf("[scanner] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Bar cache (read side) ----
	bars, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		lg.Warn("redis unavailable at startup, evaluating on price until it recovers", slog.Any("error", err))
		bars = redisstore.NewFromClient(goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), 0)
	}
	defer bars.Close()

	health.StartLivenessChecker(ctx, bars.Client(), store.DB(), 10*time.Second)

	// ---- Alert sinks ----
	sink := buildSinks(cfg, bars.Client(), lg)

	// ---- Housekeeping ----
	sched := housekeeping.NewScheduler(ctx, housekeeping.Config{
		Retention:    cfg.Housekeeping.Retention,
		BarRetention: cfg.Housekeeping.BarRetention,
	}, store, prom)
	if err := sched.Register(cfg.Housekeeping.PurgeCron); err != nil {
		log.Fatalf("[scanner] %v", err)
	}
	if *purgeOnStart {
		sched.PurgeNow()
	}
	sched.Start()

	// ---- One loop per class ----
	var wg sync.WaitGroup
	for _, class := range cfg.SymbolTypes() {
		tfs, err := cfg.ScanTimeframes(class)
		if err != nil {
			log.Fatalf("[scanner] %v", err)
		}
		loop := liveloop.New(liveloop.Config{
			Class:          class,
			Timeframes:     tfs,
			MinTick:        cfg.Loop.MinTick,
			PriceStaleness: cfg.Loop.PriceStaleness,
			StatsFlush:     cfg.Loop.StatsFlush,
			SymbolRefresh:  cfg.Loop.SymbolRefresh,
			SetupRefresh:   cfg.Loop.SetupRefresh,
			RequireFTFC:    cfg.Alerts.RequireFTFC,
		}, liveloop.Deps{
			Store:   store,
			Bars:    bars,
			Sink:    sink,
			Runs:    store,
			Engine:  engine,
			Metrics: prom,
			Health:  health,
			Logger:  lg,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Run(ctx)
		}()
	}
	lg.Info("scanner ready", slog.Any("classes", cfg.Classes))

	<-sigCh
	lg.Info("shutdown signal received")
	cancel()
	wg.Wait()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	lg.Info("shutdown complete")
}

// buildSinks fans alerts out to every configured destination. The log
// sink is always present when nothing else is configured.
func buildSinks(cfg *config.Config, rdb *goredis.Client, lg *slog.Logger) notification.Notifier {
	var sinks notification.Multi
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.Discord))
	}
	if cfg.Alerts.Telegram.BotToken != "" && cfg.Alerts.Telegram.ChatID != "" {
		sinks = append(sinks, notification.NewTelegramNotifier(cfg.Alerts.Telegram.BotToken, cfg.Alerts.Telegram.ChatID))
	}
	if cfg.Alerts.PubSub {
		sinks = append(sinks, redisstore.NewAlertPublisher(rdb))
	}
	if cfg.Alerts.Log || len(sinks) == 0 {
		sinks = append(sinks, notification.NewLogNotifier(lg))
	}
	return sinks
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
