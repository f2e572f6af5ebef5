// Package redis is the live bar cache shared by the ingest process and
// the scanner, plus the alert pub-sub sink.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"stratengine/internal/model"
)

// Series snapshots are refreshed on every record; the TTL only reaps
// symbols that stopped trading.
const defaultSeriesTTL = 48 * time.Hour

// SeriesKeyPrefix namespaces bar snapshots: bars:{class}:{symbol}:{tf}.
const SeriesKeyPrefix = "bars:"

// WriterConfig configures the Redis connection.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration
}

// Writer reads and writes bar series snapshots.
type Writer struct {
	client *goredis.Client
	ttl    time.Duration
}

var (
	_ model.SeriesWriter = (*Writer)(nil)
	_ model.SeriesReader = (*Writer)(nil)
)

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewFromClient(client, cfg.TTL), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client, ttl time.Duration) *Writer {
	if ttl <= 0 {
		ttl = defaultSeriesTTL
	}
	return &Writer{client: client, ttl: ttl}
}

// WriteSeries stores snapshots in one pipeline.
func (w *Writer) WriteSeries(ctx context.Context, series []model.BarSeries) error {
	if len(series) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range series {
		bs := &series[i]
		pipe.Set(ctx, SeriesKeyPrefix+bs.Key(), bs.JSON(), w.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write %d series: %w", len(series), err)
	}
	return nil
}

// ReadSeries fetches snapshots with a single MGET. Unparseable entries are
// logged and skipped.
func (w *Writer) ReadSeries(ctx context.Context, keys []string) (map[string]model.BarSeries, error) {
	out := make(map[string]model.BarSeries, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = SeriesKeyPrefix + k
	}
	vals, err := w.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d series: %w", len(keys), err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		bs, err := model.ParseSeries([]byte(s))
		if err != nil {
			log.Printf("[redis] bad series snapshot %s: %v", keys[i], err)
			continue
		}
		out[keys[i]] = bs
	}
	return out, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
