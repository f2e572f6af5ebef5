// cmd/ingest reads the market data stream, builds bar series, detects
// setups and persists them for the scanner.
//
//	[stream WS] → [ingest pipeline] → sqlite (setups, prices, closed bars)
//	                                → redis  (bar series snapshots)
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
	"stratengine/internal/ingest"
	"stratengine/internal/logger"
	"stratengine/internal/marketdata/replay"
	"stratengine/internal/marketdata/stream"
	"stratengine/internal/metrics"
	"stratengine/internal/model"
	"stratengine/internal/timeframe"
	redisstore "stratengine/internal/store/redis"
	sqlitestore "stratengine/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "config.yaml"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ingest] config: %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[ingest] %v", err)
	}
	lg := logger.Init("ingest", level)
	lg.Info("starting", slog.Any("classes", cfg.Classes), slog.String("stream", cfg.Ingest.StreamURL))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.RequireStream = true
	health.SetClasses(cfg.Classes)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store of record ----
	os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.Database.SQLitePath})
	if err != nil {
		log.Fatalf("[ingest] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Redis bar cache behind a circuit breaker ----
	redisCfg := redisstore.WriterConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	}
	redisWriter, err := redisstore.New(redisCfg)
	if err != nil {
		lg.Warn("redis unavailable at startup, buffering series until it recovers", slog.Any("error", err))
		redisWriter = redisstore.NewFromClient(goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), cfg.Redis.TTL)
	}
	defer redisWriter.Close()

	breaker := redisstore.NewCircuitBreaker(5, 10*time.Second)
	breaker.OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
		lg.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
	}
	seriesWriter := redisstore.NewBufferedWriter(redisWriter, breaker, 0)
	seriesWriter.OnBuffer = func(n int) { prom.RedisBufferedWrites.Add(float64(n)) }

	health.StartLivenessChecker(ctx, redisWriter.Client(), store.DB(), 10*time.Second)

	// ---- Pipeline ----
	tfs := make(map[timeframe.SymbolType][]timeframe.Timeframe)
	for _, class := range cfg.SymbolTypes() {
		list, err := cfg.ScanTimeframes(class)
		if err != nil {
			log.Fatalf("[ingest] %v", err)
		}
		tfs[class] = list
	}

	setupCh := make(chan model.Setup, cfg.Ingest.BufSize)
	barCh := make(chan model.BarSeries, cfg.Ingest.BufSize)
	priceCh := make(chan model.SymbolRec, cfg.Ingest.BufSize)

	pipe, err := ingest.New(ingest.Config{
		Timeframes:  tfs,
		Shards:      cfg.Ingest.Shards,
		BufSize:     cfg.Ingest.BufSize,
		Depth:       cfg.History.Depth,
		DedupWindow: cfg.Ingest.DedupWindow,
	}, ingest.Sinks{
		Series: seriesWriter,
		Setups: setupCh,
		Bars:   barCh,
		Prices: priceCh,
	}, prom, lg)
	if err != nil {
		log.Fatalf("[ingest] %v", err)
	}

	// ---- Warm start from persisted bars ----
	if cfg.Ingest.WarmStart {
		reader, err := sqlitestore.NewReader(cfg.Database.SQLitePath)
		if err != nil {
			log.Fatalf("[ingest] sqlite reader: %v", err)
		}
		for _, class := range pipe.Classes() {
			if _, err := replay.WarmStart(ctx, reader, class, pipe.Timeframes(class), cfg.History.Depth, pipe.Seed); err != nil {
				lg.Warn("warm start failed, starting cold", slog.String("class", string(class)), slog.Any("error", err))
			}
		}
		reader.Close()
	}

	// ---- Persistence consumers (off the hot path) ----
	var writers sync.WaitGroup
	writers.Add(3)
	go func() {
		defer writers.Done()
		store.RunSetups(ctx, setupCh, func(n int) { prom.SetupsInserted.Add(float64(n)) })
	}()
	go func() {
		defer writers.Done()
		store.RunBars(ctx, barCh)
	}()
	go func() {
		defer writers.Done()
		store.RunPrices(ctx, priceCh)
	}()

	// ---- Stream ----
	client, err := stream.New(stream.Config{URL: cfg.Ingest.StreamURL, ReadTimeout: time.Minute})
	if err != nil {
		log.Fatalf("[ingest] stream init failed: %v", err)
	}
	client.OnConnect = func() { health.SetStreamConnected(true) }
	client.OnDisconnect = func(error) {
		health.SetStreamConnected(false)
		prom.StreamReconnects.Inc()
	}
	client.OnRecord = func() { health.SetLastRecordTime(time.Now()) }
	client.OnMalformed = prom.InvalidRecords.Inc

	recordCh := make(chan model.IngestRecord, cfg.Ingest.BufSize)
	go func() {
		defer close(recordCh)
		if err := client.Start(ctx, recordCh); err != nil {
			lg.Error("stream stopped", slog.Any("error", err))
		}
	}()

	go pipe.ReportSaturation(ctx, 5*time.Second)

	pipeDone := make(chan struct{})
	go func() {
		pipe.Run(ctx, recordCh)
		close(pipeDone)
	}()
	lg.Info("pipeline ready")

	// ---- Wait for shutdown signal ----
	<-sigCh
	lg.Info("shutdown signal received, draining")
	cancel()
	<-pipeDone
	writers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := seriesWriter.Flush(shutdownCtx); err != nil {
		lg.Warn("final series flush failed", slog.Int("pending", seriesWriter.PendingCount()), slog.Any("error", err))
	}
	metricsSrv.Stop(shutdownCtx)
	lg.Info("shutdown complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
