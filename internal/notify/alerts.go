package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// alertChannels are the signal bus channels the watcher follows. Operator
// alerts only ever come from batch processing and bug reports; user-facing
// channels stay on the WebSocket path.
var alertChannels = []string{
	domain.ChannelBatch,
	domain.ChannelMarkets,
	domain.ChannelBugReports,
}

// AlertWatcher subscribes to the signal bus and forwards operator-relevant
// events to a Notifier. It turns raw bus events into short human-readable
// messages for Telegram/Discord.
type AlertWatcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewAlertWatcher creates a watcher forwarding bus events to notifier.
func NewAlertWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *AlertWatcher {
	return &AlertWatcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_watcher")),
	}
}

// Run subscribes to the alert channels and forwards events until ctx is
// cancelled.
func (w *AlertWatcher) Run(ctx context.Context) error {
	for _, ch := range alertChannels {
		msgCh, err := w.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", ch, err)
		}
		go w.consume(ctx, ch, msgCh)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (w *AlertWatcher) consume(ctx context.Context, channel string, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				w.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			w.handle(ctx, data)
		}
	}
}

func (w *AlertWatcher) handle(ctx context.Context, data []byte) {
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		w.logger.Warn("malformed bus event", slog.String("error", err.Error()))
		return
	}

	title, message, ok := formatAlert(ev)
	if !ok {
		return
	}
	if err := w.notifier.Notify(ctx, ev.Type, title, message); err != nil {
		w.logger.ErrorContext(ctx, "alert delivery failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

// formatAlert maps a domain event to a notification title and body. Events
// that are not operator-relevant return ok=false and are dropped.
func formatAlert(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventBatchFailed:
		reason := ""
		if s, found := ev.Detail["error"].(string); found {
			reason = s
		}
		return "Batch submission failed",
			fmt.Sprintf("Market %s: on-chain batch submission failed: %s", ev.MarketID, reason),
			true

	case domain.EventBatchCompleted:
		confirmed, _ := ev.Detail["confirmed"].(float64)
		rejected, _ := ev.Detail["rejected"].(float64)
		if rejected == 0 {
			return "", "", false
		}
		return "Batch completed with rejections",
			fmt.Sprintf("Market %s: %d confirmed, %d rejected on-chain", ev.MarketID, int(confirmed), int(rejected)),
			true

	case domain.EventMarketResolved:
		return "Market resolved",
			fmt.Sprintf("Market %s resolved; payout settlement started", ev.MarketID),
			true

	case domain.EventBugReportFiled:
		severity := ""
		if s, found := ev.Detail["severity"].(string); found {
			severity = s
		}
		if severity != "high" && severity != "critical" {
			return "", "", false
		}
		return fmt.Sprintf("Bug report (%s)", severity),
			fmt.Sprintf("Report %s filed by %s", ev.EntityID, ev.UserID),
			true
	}
	return "", "", false
}
