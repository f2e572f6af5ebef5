package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for ingest and the live loop.
// A nil *Metrics is valid everywhere it is accepted and records nothing.
type Metrics struct {
	// Ingest
	RecordsTotal     *prometheus.CounterVec // labels: class
	DuplicateRecords prometheus.Counter
	InvalidRecords   prometheus.Counter
	StaleRecords     prometheus.Counter
	BarsClosed       *prometheus.CounterVec // labels: tf
	SetupsDetected   *prometheus.CounterVec // labels: tf
	SetupsInserted   prometheus.Counter
	StreamReconnects prometheus.Counter
	RedisWriteDur    prometheus.Histogram
	SQLiteCommitDur  prometheus.Histogram

	// Backpressure
	ChannelSaturationPct *prometheus.GaugeVec // labels: channel_name

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Live loop, all labelled by class
	LoopTicks       *prometheus.CounterVec
	LoopTickErrors  *prometheus.CounterVec
	LoopTickDur     *prometheus.HistogramVec
	SetupsExamined  *prometheus.CounterVec
	SetupsUpdated   *prometheus.CounterVec
	SetupsTriggered *prometheus.CounterVec
	SetupsDeferred  *prometheus.CounterVec
	AlertsSent      *prometheus.CounterVec // labels: class, milestone
	AlertsFailed    *prometheus.CounterVec
	AlertsFiltered  *prometheus.CounterVec
	SetupsPurged    prometheus.Counter
}

// NewMetrics registers all collectors on reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_ingest_records_total",
			Help: "Records accepted from the ingest stream",
		}, []string{"class"}),
		DuplicateRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strat_ingest_duplicate_records_total",
			Help: "Records dropped because their trade id was already seen",
		}),
		InvalidRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strat_ingest_invalid_records_total",
			Help: "Records dropped by validation",
		}),
		StaleRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strat_ingest_stale_records_total",
			Help: "Records older than the open bar of their series",
		}),
		BarsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_bars_closed_total",
			Help: "Bars closed by the aggregator",
		}, []string{"tf"}),
		SetupsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_setups_detected_total",
			Help: "Setups produced by the detector",
		}, []string{"tf"}),
		SetupsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strat_setups_inserted_total",
			Help: "Setups newly written to the store",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strat_stream_reconnects_total",
			Help: "Ingest stream reconnection attempts",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strat_redis_write_duration_seconds",
			Help:    "Bar cache write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strat_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strat_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strat_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strat_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strat_redis_buffered_writes_total",
			Help: "Series snapshots held locally while the circuit was open",
		}),

		LoopTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_loop_ticks_total",
			Help: "Scheduler ticks run",
		}, []string{"class"}),
		LoopTickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_loop_tick_errors_total",
			Help: "Scheduler ticks rolled back",
		}, []string{"class"}),
		LoopTickDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strat_loop_tick_duration_seconds",
			Help:    "Wall time of one scheduler tick",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"class"}),
		SetupsExamined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_setups_examined_total",
			Help: "Setup evaluations",
		}, []string{"class"}),
		SetupsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_setups_updated_total",
			Help: "Setups written back after evaluation",
		}, []string{"class"}),
		SetupsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_setups_triggered_total",
			Help: "Evaluations that left a setup in force",
		}, []string{"class"}),
		SetupsDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_setups_deferred_total",
			Help: "Evaluations skipped for lack of a fresh price",
		}, []string{"class"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_alerts_sent_total",
			Help: "Alerts delivered to the sink",
		}, []string{"class", "milestone"}),
		AlertsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_alerts_failed_total",
			Help: "Alerts the sink rejected",
		}, []string{"class"}),
		AlertsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_alerts_filtered_total",
			Help: "Alerts dropped for lacking full timeframe continuity",
		}, []string{"class"}),
		SetupsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strat_setups_purged_total",
			Help: "Terminal setups removed by housekeeping",
		}),
	}

	reg.MustRegister(
		m.RecordsTotal,
		m.DuplicateRecords,
		m.InvalidRecords,
		m.StaleRecords,
		m.BarsClosed,
		m.SetupsDetected,
		m.SetupsInserted,
		m.StreamReconnects,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.LoopTicks,
		m.LoopTickErrors,
		m.LoopTickDur,
		m.SetupsExamined,
		m.SetupsUpdated,
		m.SetupsTriggered,
		m.SetupsDeferred,
		m.AlertsSent,
		m.AlertsFailed,
		m.AlertsFiltered,
		m.SetupsPurged,
	)

	return m
}

// HealthStatus represents process health for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	// RequireStream marks the ingest stream as a hard dependency.
	RequireStream bool `json:"-"`

	StreamConnected bool      `json:"stream_connected"`
	LastRecordTime  time.Time `json:"last_record_time"`
	LastLoopTick    time.Time `json:"last_loop_tick"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	Classes         []string  `json:"classes"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastRecordTime(t time.Time) {
	h.mu.Lock()
	h.LastRecordTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastLoopTick(t time.Time) {
	h.mu.Lock()
	h.LastLoopTick = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetClasses(cs []string) {
	h.mu.Lock()
	h.Classes = cs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes Redis and SQLite immediately and then every
// interval until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if (h.RequireStream && !h.StreamConnected) || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	age := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return time.Since(t).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		StreamConnected bool     `json:"stream_connected"`
		RecordAge       string   `json:"record_age"`
		LoopTickAge     string   `json:"loop_tick_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Classes         []string `json:"classes"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		RecordAge:       age(h.LastRecordTime),
		LoopTickAge:     age(h.LastLoopTick),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Classes:         h.Classes,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
