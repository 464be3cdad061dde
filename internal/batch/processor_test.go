package batch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opwisdom/wisdomd/internal/domain"
)

type fakeCustody struct {
	mu  sync.Mutex
	txs map[string]domain.CustodyTransaction

	verified map[string]time.Time
}

func newFakeCustody(txs ...domain.CustodyTransaction) *fakeCustody {
	f := &fakeCustody{
		txs:      make(map[string]domain.CustodyTransaction),
		verified: make(map[string]time.Time),
	}
	for _, tx := range txs {
		f.txs[tx.ID] = tx
	}
	return f
}

func (f *fakeCustody) get(id string) domain.CustodyTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[id]
}

func (f *fakeCustody) CreatePredictionWithCustody(context.Context, domain.PredictionIntent) (domain.CustodyResult, error) {
	return domain.CustodyResult{}, errors.New("unexpected call")
}

func (f *fakeCustody) CreateClaimRewardWithCustody(context.Context, domain.ClaimIntent) (domain.CustodyTransaction, error) {
	return domain.CustodyTransaction{}, errors.New("unexpected call")
}

func (f *fakeCustody) GetTransaction(_ context.Context, id string) (domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return domain.CustodyTransaction{}, domain.ErrNotFound
	}
	return tx, nil
}

func (f *fakeCustody) GetByPredictionID(context.Context, string) (domain.CustodyTransaction, error) {
	return domain.CustodyTransaction{}, domain.ErrNotFound
}

func (f *fakeCustody) ListByUser(context.Context, string, domain.ListOpts) ([]domain.CustodyTransaction, error) {
	return nil, nil
}

func (f *fakeCustody) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.CustodyTransaction, error) {
	return nil, nil
}

func (f *fakeCustody) ListUserClaims(context.Context, string) ([]domain.CustodyTransaction, error) {
	return nil, nil
}

func (f *fakeCustody) ListClaimsReferencing(context.Context, string) ([]domain.CustodyTransaction, error) {
	return nil, nil
}

func (f *fakeCustody) ListPendingPredictions(_ context.Context, marketID string) ([]domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CustodyTransaction
	for _, tx := range f.txs {
		if tx.Type != domain.TransactionTypePredict || tx.Status != domain.CustodyStatusPending {
			continue
		}
		if marketID != "" && tx.MarketID != marketID {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (f *fakeCustody) CountPendingPredictions(ctx context.Context, marketID string) (int64, error) {
	txs, err := f.ListPendingPredictions(ctx, marketID)
	return int64(len(txs)), err
}

func (f *fakeCustody) ListPendingClaims(_ context.Context, before time.Time) ([]domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CustodyTransaction
	for _, tx := range f.txs {
		if tx.Type == domain.TransactionTypeClaimReward &&
			tx.Status == domain.CustodyStatusPending &&
			tx.TakenCustodyAt.Before(before) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeCustody) UpdateStatus(_ context.Context, id string, status domain.CustodyStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return domain.ErrNotFound
	}
	tx.Status = status
	f.txs[id] = tx
	return nil
}

func (f *fakeCustody) UpdateBlockchainStatus(_ context.Context, id string, status domain.BlockchainStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return domain.ErrNotFound
	}
	tx.BlockchainStatus = status
	f.txs[id] = tx
	return nil
}

func (f *fakeCustody) MarkVerified(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified[id] = at
	return nil
}

func (f *fakeCustody) Delete(context.Context, string) error { return nil }

func (f *fakeCustody) ReturnPrediction(context.Context, string) error { return nil }

type fakeChain struct {
	mu        sync.Mutex
	submitted [][]string
	submitFn  func(marketID string, ids []string) (*domain.BatchReceipt, error)
	statusFn  func(onChainID string) (domain.BlockchainStatus, error)
	queried   []string
}

func (f *fakeChain) SubmitBatch(_ context.Context, marketID string, ids []string) (*domain.BatchReceipt, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, ids)
	f.mu.Unlock()
	return f.submitFn(marketID, ids)
}

func (f *fakeChain) PredictionStatus(_ context.Context, onChainID string) (domain.BlockchainStatus, error) {
	f.mu.Lock()
	f.queried = append(f.queried, onChainID)
	f.mu.Unlock()
	return f.statusFn(onChainID)
}

func (f *fakeChain) MarketResolution(context.Context, string) (bool, int, error) {
	return false, 0, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (f *fakeBus) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakePreds struct {
	mu    sync.Mutex
	preds map[string]domain.Prediction
}

func newFakePreds(preds ...domain.Prediction) *fakePreds {
	f := &fakePreds{preds: make(map[string]domain.Prediction)}
	for _, p := range preds {
		f.preds[p.ID] = p
	}
	return f
}

func (f *fakePreds) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preds[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePreds) UpdateStatus(_ context.Context, id string, status domain.PredictionStatus, potentialPayout float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preds[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	p.PotentialPayout = potentialPayout
	f.preds[id] = p
	return nil
}

func (f *fakePreds) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Prediction, error) {
	return nil, nil
}

func (f *fakePreds) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Prediction, error) {
	return nil, nil
}

func (f *fakePreds) Redeem(context.Context, string, float64) error { return nil }
func (f *fakePreds) Delete(context.Context, string) error          { return nil }

func (f *fakePreds) GetReceipt(context.Context, string) (domain.NFTReceipt, error) {
	return domain.NFTReceipt{}, domain.ErrNotFound
}

type fakeEntities struct {
	mu      sync.Mutex
	patches map[string]map[string]any
}

func (f *fakeEntities) Put(_ context.Context, kind, id string, value map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patches == nil {
		f.patches = make(map[string]map[string]any)
	}
	f.patches[kind+"/"+id] = value
	return nil
}

func (f *fakeEntities) Get(context.Context, string, string) (map[string]any, error) {
	return nil, domain.ErrNotFound
}

func pendingPredict(id, marketID, nonce string) domain.CustodyTransaction {
	return domain.CustodyTransaction{
		ID:               id,
		UserID:           "alice",
		Type:             domain.TransactionTypePredict,
		Nonce:            nonce,
		MarketID:         marketID,
		Status:           domain.CustodyStatusPending,
		BlockchainStatus: domain.BlockchainStatusUnresolved,
		TakenCustodyAt:   time.Now().Add(-time.Hour),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newProcessor(custody *fakeCustody, chain *fakeChain, cfg Config) (*Processor, *fakeBus, *fakeAudit) {
	bus := &fakeBus{}
	audit := &fakeAudit{}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = time.Minute
	}
	p := NewProcessor(custody, chain, &fakeLocks{}, bus, audit, cfg, testLogger())
	return p, bus, audit
}

func TestProcessMarketConfirmsAndRejects(t *testing.T) {
	custody := newFakeCustody(
		pendingPredict("tx-a", "m1", "nonce-a"),
		pendingPredict("tx-b", "m1", "nonce-b"),
		pendingPredict("tx-c", "m1", ""), // no on-chain id, left for triage
	)
	chain := &fakeChain{submitFn: func(marketID string, ids []string) (*domain.BatchReceipt, error) {
		return &domain.BatchReceipt{
			TxHash:   "0xabc",
			MarketID: marketID,
			Accepted: []string{"nonce-a"},
			Rejected: []string{"nonce-b"},
		}, nil
	}}
	p, bus, audit := newProcessor(custody, chain, Config{})

	res, err := p.ProcessMarket(context.Background(), "m1")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pending)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, "0xabc", res.TxHash)
	assert.False(t, res.Skipped)

	assert.Equal(t, domain.CustodyStatusConfirmed, custody.get("tx-a").Status)
	assert.Contains(t, custody.verified, "tx-a")
	assert.Equal(t, domain.CustodyStatusRejected, custody.get("tx-b").Status)
	assert.NotContains(t, custody.verified, "tx-b")
	assert.Equal(t, domain.CustodyStatusPending, custody.get("tx-c").Status, "no on-chain id stays pending")

	assert.Contains(t, bus.types(), domain.EventBatchCompleted)
	assert.Contains(t, audit.events, "batch.completed")
}

func TestProcessMarketSkipsWhenLockHeld(t *testing.T) {
	custody := newFakeCustody(pendingPredict("tx-a", "m1", "nonce-a"))
	chain := &fakeChain{submitFn: func(string, []string) (*domain.BatchReceipt, error) {
		return &domain.BatchReceipt{}, nil
	}}
	bus := &fakeBus{}
	locks := &fakeLocks{held: map[string]bool{"batch:market:m1": true}}
	p := NewProcessor(custody, chain, locks, bus, &fakeAudit{}, Config{LockTTL: time.Minute}, testLogger())

	res, err := p.ProcessMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, chain.submitted, "held lock means no submission")
	assert.Equal(t, domain.CustodyStatusPending, custody.get("tx-a").Status)
}

func TestProcessMarketMinPending(t *testing.T) {
	custody := newFakeCustody(pendingPredict("tx-a", "m1", "nonce-a"))
	chain := &fakeChain{submitFn: func(string, []string) (*domain.BatchReceipt, error) {
		return &domain.BatchReceipt{}, nil
	}}
	p, _, _ := newProcessor(custody, chain, Config{MinPending: 5})

	res, err := p.ProcessMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, res.Pending)
	assert.Empty(t, chain.submitted)
}

func TestProcessMarketCapsBatchSize(t *testing.T) {
	custody := newFakeCustody(
		pendingPredict("tx-a", "m1", "nonce-a"),
		pendingPredict("tx-b", "m1", "nonce-b"),
		pendingPredict("tx-c", "m1", "nonce-c"),
	)
	chain := &fakeChain{submitFn: func(_ string, ids []string) (*domain.BatchReceipt, error) {
		return &domain.BatchReceipt{Accepted: ids}, nil
	}}
	p, _, _ := newProcessor(custody, chain, Config{MaxPerMarket: 2})

	res, err := p.ProcessMarket(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, chain.submitted, 1)
	assert.Len(t, chain.submitted[0], 2)
	assert.Equal(t, 2, res.Confirmed)
}

func TestProcessMarketSubmitFailureLeavesPending(t *testing.T) {
	custody := newFakeCustody(
		pendingPredict("tx-a", "m1", "nonce-a"),
		pendingPredict("tx-b", "m1", "nonce-b"),
	)
	chain := &fakeChain{submitFn: func(string, []string) (*domain.BatchReceipt, error) {
		return nil, errors.New("rpc timeout")
	}}
	p, bus, audit := newProcessor(custody, chain, Config{})

	_, err := p.ProcessMarket(context.Background(), "m1")
	require.Error(t, err)

	assert.Equal(t, domain.CustodyStatusPending, custody.get("tx-a").Status, "retryable on next pass")
	assert.Equal(t, domain.CustodyStatusPending, custody.get("tx-b").Status)
	assert.Contains(t, bus.types(), domain.EventBatchFailed)
	assert.NotContains(t, audit.events, "batch.completed")
}

func TestProcessAllGroupsByMarket(t *testing.T) {
	custody := newFakeCustody(
		pendingPredict("tx-a", "m1", "nonce-a"),
		pendingPredict("tx-b", "m2", "nonce-b"),
		pendingPredict("tx-c", "m2", "nonce-c"),
	)
	chain := &fakeChain{submitFn: func(marketID string, ids []string) (*domain.BatchReceipt, error) {
		if marketID == "m1" {
			return nil, errors.New("rpc timeout")
		}
		return &domain.BatchReceipt{Accepted: ids}, nil
	}}
	p, _, _ := newProcessor(custody, chain, Config{})

	results, err := p.ProcessAll(context.Background())
	require.NoError(t, err, "one failed market does not fail the pass")

	require.Len(t, results, 1)
	assert.Equal(t, "m2", results[0].MarketID)
	assert.Equal(t, 2, results[0].Confirmed)
	assert.Equal(t, domain.CustodyStatusPending, custody.get("tx-a").Status)
	assert.Equal(t, domain.CustodyStatusConfirmed, custody.get("tx-b").Status)
}

func TestProcessAllNoPending(t *testing.T) {
	p, _, _ := newProcessor(newFakeCustody(), &fakeChain{}, Config{})
	results, err := p.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func pendingClaim(id, nonce string, age time.Duration) domain.CustodyTransaction {
	return domain.CustodyTransaction{
		ID:               id,
		UserID:           "alice",
		Type:             domain.TransactionTypeClaimReward,
		Nonce:            nonce,
		PredictionID:     "pred-" + id,
		Status:           domain.CustodyStatusPending,
		BlockchainStatus: domain.BlockchainStatusUnresolved,
		TakenCustodyAt:   time.Now().Add(-age),
	}
}

func TestReconcileClaimsConfirmsRedeemed(t *testing.T) {
	custody := newFakeCustody(pendingClaim("c1", "nonce-1", time.Hour))
	chain := &fakeChain{statusFn: func(string) (domain.BlockchainStatus, error) {
		return domain.BlockchainStatusRedeemed, nil
	}}
	audit := &fakeAudit{}
	r := NewReconciler(custody, newFakePreds(), nil, nil, &fakeEntities{}, chain, audit,
		Config{ReconcileAfter: 15 * time.Minute}, testLogger())

	require.NoError(t, r.ReconcileClaims(context.Background()))

	tx := custody.get("c1")
	assert.Equal(t, domain.CustodyStatusConfirmed, tx.Status)
	assert.Equal(t, domain.BlockchainStatusRedeemed, tx.BlockchainStatus)
	assert.Contains(t, custody.verified, "c1")
	assert.Empty(t, audit.events)
}

func TestReconcileClaimsRevertsLost(t *testing.T) {
	custody := newFakeCustody(pendingClaim("c1", "nonce-1", time.Hour))
	preds := newFakePreds(domain.Prediction{
		ID:              "pred-c1",
		UserID:          "alice",
		Status:          domain.PredictionStatusRedeemed,
		PotentialPayout: 76,
	})
	chain := &fakeChain{statusFn: func(string) (domain.BlockchainStatus, error) {
		return domain.BlockchainStatusLost, nil
	}}
	audit := &fakeAudit{}
	entities := &fakeEntities{}
	r := NewReconciler(custody, preds, nil, nil, entities, chain, audit,
		Config{ReconcileAfter: 15 * time.Minute}, testLogger())

	require.NoError(t, r.ReconcileClaims(context.Background()))

	tx := custody.get("c1")
	assert.Equal(t, domain.CustodyStatusRejected, tx.Status)
	assert.Equal(t, domain.BlockchainStatusLost, tx.BlockchainStatus)

	// The revert must land on the prediction row every read path uses, not
	// just the entity shadow.
	p, err := preds.GetByID(context.Background(), "pred-c1")
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusLost, p.Status)
	assert.Zero(t, p.PotentialPayout)

	patch, ok := entities.patches["predictions/pred-c1"]
	require.True(t, ok, "prediction patched back to lost")
	assert.Equal(t, string(domain.PredictionStatusLost), patch["status"])

	assert.Contains(t, audit.events, "reconciler.claim_reverted")
}

func TestReconcileClaimsSkipsYoungAndUnresolved(t *testing.T) {
	custody := newFakeCustody(
		pendingClaim("old", "nonce-old", time.Hour),
		pendingClaim("young", "nonce-young", time.Minute),
	)
	chain := &fakeChain{statusFn: func(string) (domain.BlockchainStatus, error) {
		return domain.BlockchainStatusUnresolved, nil
	}}
	r := NewReconciler(custody, newFakePreds(), nil, nil, &fakeEntities{}, chain, &fakeAudit{},
		Config{ReconcileAfter: 15 * time.Minute}, testLogger())

	require.NoError(t, r.ReconcileClaims(context.Background()))

	assert.Equal(t, []string{"nonce-old"}, chain.queried, "young claims wait for the next pass")
	assert.Equal(t, domain.CustodyStatusPending, custody.get("old").Status)
	assert.Equal(t, domain.CustodyStatusPending, custody.get("young").Status)
}
