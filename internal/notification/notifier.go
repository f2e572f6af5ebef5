// Package notification delivers setup alerts to external channels:
// the log, HTTP webhooks (generic or Discord), and Telegram.
package notification

import (
	"context"
	"errors"
	"log/slog"

	"stratengine/internal/model"
)

// Notifier is implemented by every alert backend; it is model.AlertSink.
type Notifier = model.AlertSink

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger means the
// slog default.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{logger: l}
}

func (n *LogNotifier) Send(ctx context.Context, ev model.AlertEvent) error {
	n.logger.Info("setup alert",
		slog.Int64("setup_id", ev.SetupID),
		slog.String("symbol", ev.Symbol),
		slog.String("tf", ev.TF.String()),
		slog.String("direction", ev.Direction.String()),
		slog.String("pattern", ev.Pattern.String()),
		slog.String("milestone", string(ev.Milestone)),
		slog.Float64("trigger", ev.Trigger),
		slog.Float64("target", ev.Target),
		slog.Float64("price", ev.Price),
		slog.Int("priority", ev.Priority),
		slog.Any("targets", ev.Targets),
		slog.String("ftfc", ev.FTFC.String()),
	)
	return nil
}

// Multi fans an alert out to every notifier. All are attempted; the
// joined error reports the ones that failed.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, ev model.AlertEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func icon(m model.Milestone) string {
	if m == model.MilestoneMagnitude {
		return "🎯"
	}
	return "🔔"
}
