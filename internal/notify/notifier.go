// Package notify delivers operator alerts over chat webhooks. The
// AlertWatcher turns signal-bus events into messages; the Notifier fans them
// out to the configured channels, filtered by event type.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sender is one delivery channel (Telegram chat, Discord webhook).
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every configured sender. When an event
// allowlist is configured, Notify drops events outside it; an empty
// allowlist lets everything through.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders, forwarding only the
// listed event types (all types when events is empty).
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			if n.allowed == nil {
				n.allowed = make(map[string]struct{})
			}
			n.allowed[e] = struct{}{}
		}
	}
	return n
}

// Notify delivers title/message for the given event type, subject to the
// event allowlist.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n.allowed != nil {
		if _, ok := n.allowed[event]; !ok {
			n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
			return nil
		}
	}
	return n.NotifyAll(ctx, title, message)
}

// NotifyAll delivers to every sender, bypassing the event filter. A failing
// sender does not stop delivery to the others; all failures are joined into
// the returned error.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// webhookClient is shared by all senders; alerts are best-effort and a stuck
// webhook must not hold a bus consumer for long.
var webhookClient = &http.Client{Timeout: 10 * time.Second}

// postJSON posts payload to url and fails on any non-2xx response, including
// a short excerpt of the response body for diagnostics.
func postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := webhookClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(excerpt))
	}
	return nil
}
