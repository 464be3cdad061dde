package toolserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// Resource URI schemes. A resource is any entity addressable by a stable
// URI, so subscribers can ask for "market://abc" instead of a REST path.
const (
	schemeMarket     = "market"
	schemePrediction = "prediction"
	schemeBugReport  = "bug-report"
)

// Resolver maps resource URIs to their current entity state.
type Resolver struct {
	svc     Services
	reports domain.BugReportStore
}

// NewResolver creates a resource resolver.
func NewResolver(svc Services, reports domain.BugReportStore) *Resolver {
	return &Resolver{svc: svc, reports: reports}
}

// Resource is the resolved form of a URI: the URI itself plus the entity.
type Resource struct {
	URI  string `json:"uri"`
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Resolve looks up the entity behind a resource URI. Authorization follows
// the underlying service: predictions are owner-or-admin, markets and bug
// report metadata are public to authenticated callers.
func (r *Resolver) Resolve(ctx context.Context, id domain.Identity, uri string) (Resource, error) {
	scheme, entityID, err := splitURI(uri)
	if err != nil {
		return Resource{}, err
	}

	switch scheme {
	case schemeMarket:
		m, err := r.svc.Markets.GetMarket(ctx, entityID)
		if err != nil {
			return Resource{}, err
		}
		return Resource{URI: uri, Kind: schemeMarket, Data: m}, nil

	case schemePrediction:
		p, err := r.svc.Predictions.GetPrediction(ctx, id, entityID)
		if err != nil {
			return Resource{}, err
		}
		return Resource{URI: uri, Kind: schemePrediction, Data: p}, nil

	case schemeBugReport:
		rep, err := r.reports.GetByID(ctx, entityID)
		if err != nil {
			return Resource{}, err
		}
		// Reporters see their own reports; triage is admin-only.
		if !id.CanActFor(rep.UserID) {
			return Resource{}, domain.ErrUnauthorized
		}
		return Resource{URI: uri, Kind: schemeBugReport, Data: rep}, nil
	}

	return Resource{}, fmt.Errorf("toolserver: unknown resource scheme %q: %w", scheme, domain.ErrValidation)
}

// MarketURI returns the canonical resource URI for a market.
func MarketURI(id string) string {
	return schemeMarket + "://" + id
}

func splitURI(uri string) (scheme, id string, err error) {
	scheme, id, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" || id == "" {
		return "", "", fmt.Errorf("toolserver: malformed resource uri %q: %w", uri, domain.ErrValidation)
	}
	return scheme, id, nil
}
