package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

// AlertChannel is the pub-sub channel alerts of a class are published on.
func AlertChannel(class timeframe.SymbolType) string {
	return "alerts:" + string(class)
}

// AlertPublisher publishes alert events as JSON.
type AlertPublisher struct {
	client *goredis.Client
}

var _ model.AlertSink = (*AlertPublisher)(nil)

// NewAlertPublisher publishes through client.
func NewAlertPublisher(client *goredis.Client) *AlertPublisher {
	return &AlertPublisher{client: client}
}

// Send publishes ev on its class channel.
func (p *AlertPublisher) Send(ctx context.Context, ev model.AlertEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := p.client.Publish(ctx, AlertChannel(ev.Class), data).Err(); err != nil {
		return fmt.Errorf("redis publish alert: %w", err)
	}
	return nil
}
