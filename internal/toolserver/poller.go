package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// Poller implements resource subscriptions without a change feed: every
// interval it fingerprints the active markets and republishes any that
// changed onto the signal bus, where the WebSocket hub picks them up.
type Poller struct {
	markets  domain.MarketStore
	bus      domain.SignalBus
	interval time.Duration
	logger   *slog.Logger

	seen map[string]string // market id -> last fingerprint
}

// NewPoller creates a poller. interval values <= 0 fall back to 10 seconds.
func NewPoller(markets domain.MarketStore, bus domain.SignalBus, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		markets:  markets,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "resource_poller")),
		seen:     make(map[string]string),
	}
}

// Run polls until ctx is cancelled. The first pass only primes the
// fingerprint cache so subscribers are not flooded at startup.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.poll(ctx, false); err != nil {
		p.logger.WarnContext(ctx, "initial poll failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx, true); err != nil {
				p.logger.WarnContext(ctx, "poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context, publish bool) error {
	filter := domain.MarketFilter{Status: domain.MarketStatusActive}
	markets, err := p.markets.List(ctx, filter, domain.ListOpts{Limit: 500})
	if err != nil {
		return fmt.Errorf("toolserver: list markets: %w", err)
	}

	current := make(map[string]bool, len(markets))
	for _, m := range markets {
		current[m.ID] = true
		fp := fingerprint(m)
		if prev, ok := p.seen[m.ID]; ok && prev == fp {
			continue
		}
		p.seen[m.ID] = fp
		if publish {
			p.announce(ctx, m)
		}
	}

	// Markets that left the active set (resolved, closed, deleted).
	for id := range p.seen {
		if !current[id] {
			delete(p.seen, id)
		}
	}
	return nil
}

func (p *Poller) announce(ctx context.Context, m domain.Market) {
	ev := domain.Event{
		Type:      "resource_updated",
		EntityID:  MarketURI(m.ID),
		MarketID:  m.ID,
		Detail:    map[string]any{"poolAmount": m.PoolAmount, "status": string(m.Status)},
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.ChannelMarkets, payload); err != nil {
		p.logger.WarnContext(ctx, "publish failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// fingerprint captures everything subscribers care about: status, pool
// totals, and per-outcome aggregates.
func fingerprint(m domain.Market) string {
	s := fmt.Sprintf("%s|%.4f|%d", m.Status, m.PoolAmount, m.Participants)
	for _, o := range m.Outcomes {
		s += fmt.Sprintf("|%d:%.4f:%d", o.ID, o.Amount, o.Votes)
	}
	return s
}
