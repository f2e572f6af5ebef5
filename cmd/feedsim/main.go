// cmd/feedsim is a demo ingest feed.
// Broadcasts random-walk trades as ingest records so cmd/ingest can run
// without a real market data vendor.
//
// Record JSON shape:
//
//	{"symbol":"BTCUSD","class":"crypto","ts":"...","c":62000.5,"v":0.4,"id":"..."}
//
// Config (env vars):
//
//	FEED_ADDR         listen address (default: ":9001")
//	FEED_SYMBOLS      comma-separated SYMBOL:CLASS[:PRICE] (default: "BTCUSD:crypto:62000,ETHUSD:crypto:3400")
//	FEED_INTERVAL_MS  broadcast interval milliseconds (default: "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

type instrument struct {
	Symbol string
	Class  timeframe.SymbolType
	Price  decimal.Decimal
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func streamHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Generator ───────────────────────────────────────────────────────────────

// walkPrice moves price by up to ±0.1%, rounded to cents.
func walkPrice(rng *rand.Rand, price decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromFloat((rng.Float64()*0.2 - 0.1) / 100.0)
	next := price.Add(price.Mul(pct)).Round(2)
	if next.LessThanOrEqual(decimal.Zero) {
		return decimal.New(1, -2)
	}
	return next
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for range ticker.C {
		for i := range instruments {
			instruments[i].Price = walkPrice(rng, instruments[i].Price)
			rec := model.IngestRecord{
				Symbol:  instruments[i].Symbol,
				Class:   instruments[i].Class,
				TS:      time.Now().UTC(),
				Close:   instruments[i].Price.InexactFloat64(),
				Volume:  float64(rng.Intn(100) + 1),
				TradeID: uuid.NewString(),
			}
			b, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			h.broadcast(b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	addr := envOrDefault("FEED_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("FEED_SYMBOLS", "BTCUSD:crypto:62000,ETHUSD:crypto:3400"))
	if len(instruments) == 0 {
		log.Fatalf("[feedsim] no instruments configured via FEED_SYMBOLS")
	}
	interval := time.Duration(envIntOrDefault("FEED_INTERVAL_MS", 250)) * time.Millisecond
	log.Printf("[feedsim] %d instruments, interval %s", len(instruments), interval)

	h := newHub()
	go runGenerator(h, instruments, interval)

	http.HandleFunc("/stream", streamHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s (ws://localhost%s/stream)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

// parseInstruments reads SYMBOL:CLASS[:PRICE] entries.
func parseInstruments(s string) []instrument {
	var out []instrument
	for _, part := range strings.Split(s, ",") {
		seg := strings.Split(strings.TrimSpace(part), ":")
		if len(seg) < 2 {
			log.Printf("[feedsim] skipping invalid symbol spec: %q", part)
			continue
		}
		class, err := timeframe.ParseSymbolType(seg[1])
		if err != nil {
			log.Printf("[feedsim] skipping %q: %v", part, err)
			continue
		}
		price := decimal.NewFromInt(100)
		if len(seg) == 3 {
			if p, err := decimal.NewFromString(seg[2]); err == nil && p.IsPositive() {
				price = p
			}
		}
		out = append(out, instrument{Symbol: strings.ToUpper(seg[0]), Class: class, Price: price})
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
