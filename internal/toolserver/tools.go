package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/service"
)

// Services bundles everything the tool catalog calls into.
type Services struct {
	Markets     *service.MarketService
	Predictions *service.PredictionService
	Custody     *service.CustodyService
	Leaderboard *service.LeaderboardService
	BugReports  *service.BugReportService
}

// BuildRegistry registers the full tool catalog against the given services.
func BuildRegistry(svc Services) *Registry {
	r := NewRegistry()

	r.Register(Tool{
		Name:        "list_markets",
		Description: "List prediction markets, optionally filtered by status or category.",
		InputSchema: objectSchema(nil, map[string]any{
			"status":   strProp("market status filter: active, closed, resolved"),
			"category": strProp("category filter"),
			"limit":    intProp("maximum number of markets to return"),
		}),
		ReadOnly: true,
	}, func(ctx context.Context, _ domain.Identity, args json.RawMessage) (any, error) {
		var in struct {
			Status   string `json:"status"`
			Category string `json:"category"`
			Limit    int    `json:"limit"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return nil, err
		}
		if in.Limit <= 0 || in.Limit > 100 {
			in.Limit = 25
		}
		filter := domain.MarketFilter{
			Status:   domain.MarketStatus(in.Status),
			Category: in.Category,
		}
		return svc.Markets.ListMarkets(ctx, filter, domain.ListOpts{Limit: in.Limit})
	})

	r.Register(Tool{
		Name:        "get_market",
		Description: "Fetch one market with its outcomes and pool aggregates.",
		InputSchema: objectSchema([]string{"marketId"}, map[string]any{
			"marketId": strProp("market id"),
		}),
		ReadOnly: true,
	}, func(ctx context.Context, _ domain.Identity, args json.RawMessage) (any, error) {
		var in struct {
			MarketID string `json:"marketId"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.Markets.GetMarket(ctx, in.MarketID)
	})

	r.Register(Tool{
		Name:        "get_odds",
		Description: "Current payout multiplier per outcome for a market.",
		InputSchema: objectSchema([]string{"marketId"}, map[string]any{
			"marketId": strProp("market id"),
		}),
		ReadOnly: true,
	}, func(ctx context.Context, _ domain.Identity, args json.RawMessage) (any, error) {
		var in struct {
			MarketID string `json:"marketId"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return nil, err
		}
		odds, err := svc.Markets.Odds(ctx, in.MarketID)
		if err != nil {
			return nil, err
		}
		// String keys so the result is a plain JSON object.
		out := make(map[string]float64, len(odds))
		for id, m := range odds {
			out[fmt.Sprintf("%d", id)] = m
		}
		return out, nil
	})

	r.Register(Tool{
		Name:        "create_prediction",
		Description: "Place a prediction on a market outcome. Funds move into custody and an NFT receipt is minted.",
		InputSchema: objectSchema([]string{"marketId", "outcomeId", "amount", "nonce"}, map[string]any{
			"marketId":  strProp("market id"),
			"outcomeId": intProp("chosen outcome id"),
			"amount":    numProp("stake amount"),
			"nonce":     strProp("unique client nonce; becomes the on-chain id"),
			"signature": strProp("wallet signature over the prediction payload"),
			"signer":    strProp("signing wallet address"),
		}),
	}, func(ctx context.Context, id domain.Identity, args json.RawMessage) (any, error) {
		var req service.PredictionRequest
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		return svc.Custody.CreatePredictionWithCustody(ctx, id, req)
	})

	r.Register(Tool{
		Name:        "claim_reward",
		Description: "Claim the payout for a won prediction.",
		InputSchema: objectSchema([]string{"predictionId"}, map[string]any{
			"predictionId": strProp("prediction id"),
			"signature":    strProp("wallet signature over the claim payload"),
			"signer":       strProp("signing wallet address"),
		}),
	}, func(ctx context.Context, id domain.Identity, args json.RawMessage) (any, error) {
		var req service.ClaimRequest
		if err := unmarshalArgs(args, &req); err != nil {
			return nil, err
		}
		return svc.Custody.ClaimRewardWithCustody(ctx, id, req)
	})

	r.Register(Tool{
		Name:        "return_prediction",
		Description: "Cancel a prediction still inside its return window and refund the stake.",
		InputSchema: objectSchema([]string{"transactionId"}, map[string]any{
			"transactionId": strProp("custody transaction id"),
		}),
	}, func(ctx context.Context, id domain.Identity, args json.RawMessage) (any, error) {
		var in struct {
			TransactionID string `json:"transactionId"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return nil, err
		}
		if err := svc.Custody.ReturnPrediction(ctx, id, in.TransactionID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "returned"}, nil
	})

	r.Register(Tool{
		Name:        "get_portfolio",
		Description: "The caller's balance plus open and settled predictions.",
		InputSchema: objectSchema(nil, map[string]any{
			"userId": strProp("user id; defaults to the caller"),
			"limit":  intProp("maximum number of predictions to return"),
		}),
		ReadOnly: true,
	}, func(ctx context.Context, id domain.Identity, args json.RawMessage) (any, error) {
		var in struct {
			UserID string `json:"userId"`
			Limit  int    `json:"limit"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return nil, err
		}
		if in.UserID == "" {
			in.UserID = id.UserID
		}
		if in.Limit <= 0 || in.Limit > 200 {
			in.Limit = 50
		}
		return svc.Predictions.GetPortfolio(ctx, id, in.UserID, domain.ListOpts{Limit: in.Limit})
	})

	r.Register(Tool{
		Name:        "get_leaderboard",
		Description: "Ranked users by win count, earnings, or accuracy.",
		InputSchema: objectSchema([]string{"board"}, map[string]any{
			"board": strProp("board name: top, earners, or accuracy"),
			"limit": intProp("number of entries"),
		}),
		ReadOnly: true,
	}, func(ctx context.Context, _ domain.Identity, args json.RawMessage) (any, error) {
		var in struct {
			Board string `json:"board"`
			Limit int    `json:"limit"`
		}
		if err := unmarshalArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.Leaderboard.Board(ctx, in.Board, in.Limit)
	})

	r.Register(Tool{
		Name:        "file_bug_report",
		Description: "File a bug report against the product.",
		InputSchema: objectSchema([]string{"title", "description"}, map[string]any{
			"title":       strProp("one-line summary"),
			"description": strProp("what happened and how to reproduce it"),
			"severity":    strProp("low, medium, high, or critical; defaults to medium"),
		}),
	}, func(ctx context.Context, id domain.Identity, args json.RawMessage) (any, error) {
		var in service.BugReportInput
		if err := unmarshalArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.BugReports.File(ctx, id, in)
	})

	return r
}

func unmarshalArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("toolserver: bad arguments: %w", domain.ErrValidation)
	}
	return nil
}
