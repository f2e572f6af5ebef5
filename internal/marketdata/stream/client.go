// Package stream reads ingest records from a JSON WebSocket feed.
//
// Each text frame carries one record:
//
//	{"symbol":"BTCUSD","class":"crypto","ts":"2024-03-04T15:00:01Z","c":62000.5,"v":0.2,"id":"t-991"}
//
// o/h/l are optional, which lets the same feed carry pre-aggregated bars.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"stratengine/internal/model"
)

// Config holds configuration for the stream client.
type Config struct {
	// URL of the feed, e.g. "ws://localhost:9001/stream".
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// ReadTimeout closes a silent connection. Zero disables it.
	ReadTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Client connects to the feed and pushes decoded records downstream.
type Client struct {
	cfg Config

	// Hooks (optional)
	OnConnect    func()
	OnDisconnect func(err error)
	OnRecord     func()
	OnMalformed  func()
}

// New creates a Client. Returns an error if the URL is unparseable.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("stream: url scheme must be ws or wss")
	}
	return &Client{cfg: cfg}, nil
}

// Start streams records into out until ctx is cancelled, reconnecting with
// exponential backoff. Sends block, so a slow pipeline slows the reader
// instead of losing records.
func (c *Client) Start(ctx context.Context, out chan<- model.IngestRecord) error {
	delay := c.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		received, err := c.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if c.OnDisconnect != nil {
			c.OnDisconnect(err)
		}
		if received > 0 {
			delay = c.cfg.ReconnectDelay
		}

		log.Printf("[stream] disconnected (%v), reconnecting in %s", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce reads one connection until it drops or ctx is cancelled. A nil
// error means ctx was cancelled.
func (c *Client) runOnce(ctx context.Context, out chan<- model.IngestRecord) (int, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	log.Printf("[stream] connected to %s", c.cfg.URL)
	if c.OnConnect != nil {
		c.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	received := 0
	for {
		if c.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return received, nil
			}
			return received, err
		}

		var rec model.IngestRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			if c.OnMalformed != nil {
				c.OnMalformed()
			}
			log.Printf("[stream] parse error: %v", err)
			continue
		}
		received++
		if c.OnRecord != nil {
			c.OnRecord()
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return received, nil
		}
	}
}
