package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// In-memory fakes mirroring the store contracts, including the atomic
// multi-table semantics of the custody store, so service tests can assert
// balance and aggregate movements end to end.

type fakeBalanceStore struct {
	mu       sync.Mutex
	balances map[string]domain.UserBalance
}

func newFakeBalanceStore() *fakeBalanceStore {
	return &fakeBalanceStore{balances: make(map[string]domain.UserBalance)}
}

func (f *fakeBalanceStore) Get(_ context.Context, userID string) (domain.UserBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[userID]
	if !ok {
		return domain.UserBalance{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBalanceStore) EnsureAccount(_ context.Context, userID string, initial float64) (domain.UserBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[userID]; ok {
		return b, nil
	}
	b := domain.UserBalance{UserID: userID, AvailableBalance: initial}
	f.balances[userID] = b
	return b, nil
}

func (f *fakeBalanceStore) ApplyResolution(_ context.Context, userID string, amount, payout float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[userID]
	if !ok {
		return domain.ErrNotFound
	}
	b.InPredictions -= amount
	b.AvailableBalance += payout
	f.balances[userID] = b
	return nil
}

type fakeMarketStore struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{markets: make(map[string]domain.Market)}
}

func (f *fakeMarketStore) Create(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.markets[m.ID] = m
	return nil
}

func (f *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) List(_ context.Context, filter domain.MarketFilter, _ domain.ListOpts) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Market
	for _, m := range f.markets {
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMarketStore) ListRelated(_ context.Context, id string, limit int) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base, ok := f.markets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var out []domain.Market
	for _, m := range f.markets {
		if m.ID == id || m.Category != base.Category {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMarketStore) Update(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markets[m.ID]; !ok {
		return domain.ErrNotFound
	}
	f.markets[m.ID] = m
	return nil
}

func (f *fakeMarketStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markets[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.markets, id)
	return nil
}

func (f *fakeMarketStore) Resolve(_ context.Context, id string, outcomeID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = domain.MarketStatusResolved
	m.ResolvedOutcomeID = &outcomeID
	f.markets[id] = m
	return nil
}

func (f *fakeMarketStore) Count(_ context.Context, filter domain.MarketFilter) (int64, error) {
	ms, _ := f.List(context.Background(), filter, domain.ListOpts{})
	return int64(len(ms)), nil
}

type fakePredictionStore struct {
	mu          sync.Mutex
	predictions map[string]domain.Prediction
	receipts    map[string]domain.NFTReceipt
}

func newFakePredictionStore() *fakePredictionStore {
	return &fakePredictionStore{
		predictions: make(map[string]domain.Prediction),
		receipts:    make(map[string]domain.NFTReceipt),
	}
}

func (f *fakePredictionStore) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.predictions[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePredictionStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Prediction
	for _, p := range f.predictions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePredictionStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.Prediction
	for _, p := range f.predictions {
		if p.MarketID == marketID {
			all = append(all, p)
		}
	}
	// Cheap deterministic paging for the settlement loop.
	if opts.Offset >= len(all) {
		return nil, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (f *fakePredictionStore) UpdateStatus(_ context.Context, id string, status domain.PredictionStatus, potentialPayout float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.predictions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	p.PotentialPayout = potentialPayout
	f.predictions[id] = p
	return nil
}

func (f *fakePredictionStore) Redeem(_ context.Context, id string, payout float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.predictions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.PredictionStatusRedeemed
	p.PotentialPayout = payout
	f.predictions[id] = p
	return nil
}

func (f *fakePredictionStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.predictions, id)
	return nil
}

func (f *fakePredictionStore) GetReceipt(_ context.Context, receiptID string) (domain.NFTReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[receiptID]
	if !ok {
		return domain.NFTReceipt{}, domain.ErrNotFound
	}
	return r, nil
}

// fakeCustodyStore replicates the store's atomic custody writes against the
// other fakes so tests see real balance and aggregate movement.
type fakeCustodyStore struct {
	mu       sync.Mutex
	txs      map[string]domain.CustodyTransaction
	seq      int
	now      func() time.Time
	balances *fakeBalanceStore
	markets  *fakeMarketStore
	preds    *fakePredictionStore
}

func newFakeCustodyStore(balances *fakeBalanceStore, markets *fakeMarketStore, preds *fakePredictionStore) *fakeCustodyStore {
	return &fakeCustodyStore{
		txs:      make(map[string]domain.CustodyTransaction),
		now:      time.Now,
		balances: balances,
		markets:  markets,
		preds:    preds,
	}
}

func (f *fakeCustodyStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeCustodyStore) CreatePredictionWithCustody(ctx context.Context, intent domain.PredictionIntent) (domain.CustodyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.balances.mu.Lock()
	b, ok := f.balances.balances[intent.UserID]
	if !ok || b.AvailableBalance < intent.Amount {
		f.balances.mu.Unlock()
		return domain.CustodyResult{}, domain.ErrInsufficientBalance
	}
	b.AvailableBalance -= intent.Amount
	b.InPredictions += intent.Amount
	f.balances.balances[intent.UserID] = b
	f.balances.mu.Unlock()

	f.markets.mu.Lock()
	m := f.markets.markets[intent.MarketID]
	m.PoolAmount += intent.Amount
	m.Participants++
	for i, o := range m.Outcomes {
		if o.ID == intent.OutcomeID {
			m.Outcomes[i].Amount += intent.Amount
			m.Outcomes[i].Votes++
		}
	}
	f.markets.markets[intent.MarketID] = m
	f.markets.mu.Unlock()

	now := f.now()
	p := domain.Prediction{
		ID:          f.nextID("pred"),
		MarketID:    intent.MarketID,
		MarketName:  intent.MarketName,
		OutcomeID:   intent.OutcomeID,
		OutcomeName: intent.OutcomeName,
		UserID:      intent.UserID,
		Amount:      intent.Amount,
		Status:      domain.PredictionStatusPending,
		CreatedAt:   now,
	}
	r := domain.NFTReceipt{
		ID:           f.nextID("nft"),
		PredictionID: p.ID,
		UserID:       intent.UserID,
		MarketID:     intent.MarketID,
		MarketName:   intent.MarketName,
		OutcomeID:    intent.OutcomeID,
		OutcomeName:  intent.OutcomeName,
		Amount:       intent.Amount,
		CreatedAt:    now,
	}
	p.ReceiptID = r.ID

	f.preds.mu.Lock()
	f.preds.predictions[p.ID] = p
	f.preds.receipts[r.ID] = r
	f.preds.mu.Unlock()

	tx := domain.CustodyTransaction{
		ID:               f.nextID("tx"),
		UserID:           intent.UserID,
		Type:             domain.TransactionTypePredict,
		Signature:        intent.Signature,
		Nonce:            intent.Nonce,
		Signer:           intent.Signer,
		SubnetID:         intent.SubnetID,
		MarketID:         intent.MarketID,
		OutcomeID:        intent.OutcomeID,
		Amount:           intent.Amount,
		ReceiptID:        r.ID,
		PredictionID:     p.ID,
		Status:           domain.CustodyStatusPending,
		BlockchainStatus: domain.BlockchainStatusUnresolved,
		TakenCustodyAt:   now,
	}
	f.txs[tx.ID] = tx

	return domain.CustodyResult{Transaction: tx, Prediction: p, Receipt: r}, nil
}

func (f *fakeCustodyStore) CreateClaimRewardWithCustody(_ context.Context, intent domain.ClaimIntent) (domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, tx := range f.txs {
		if tx.Type != domain.TransactionTypeClaimReward {
			continue
		}
		if tx.References(intent.Nonce) || tx.References(intent.ReceiptID) {
			return domain.CustodyTransaction{}, domain.ErrAlreadyClaimed
		}
	}

	tx := domain.CustodyTransaction{
		ID:               f.nextID("tx"),
		UserID:           intent.UserID,
		Type:             domain.TransactionTypeClaimReward,
		Signature:        intent.Signature,
		Nonce:            intent.Nonce,
		Signer:           intent.Signer,
		SubnetID:         intent.SubnetID,
		ReceiptID:        intent.ReceiptID,
		PredictionID:     intent.PredictionID,
		Status:           domain.CustodyStatusPending,
		BlockchainStatus: domain.BlockchainStatusUnresolved,
		TakenCustodyAt:   f.now(),
	}
	f.txs[tx.ID] = tx
	return tx, nil
}

func (f *fakeCustodyStore) GetTransaction(_ context.Context, id string) (domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return domain.CustodyTransaction{}, domain.ErrNotFound
	}
	return tx, nil
}

func (f *fakeCustodyStore) GetByPredictionID(_ context.Context, predictionID string) (domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.PredictionID == predictionID && tx.Type == domain.TransactionTypePredict {
			return tx, nil
		}
	}
	return domain.CustodyTransaction{}, domain.ErrNotFound
}

func (f *fakeCustodyStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CustodyTransaction
	for _, tx := range f.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeCustodyStore) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CustodyTransaction
	for _, tx := range f.txs {
		if tx.MarketID == marketID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeCustodyStore) ListUserClaims(_ context.Context, userID string) ([]domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CustodyTransaction
	for _, tx := range f.txs {
		if tx.UserID == userID && tx.Type == domain.TransactionTypeClaimReward {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeCustodyStore) ListClaimsReferencing(_ context.Context, nftID string) ([]domain.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CustodyTransaction
	for _, tx := range f.txs {
		if tx.Type == domain.TransactionTypeClaimReward && tx.References(nftID) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeCustodyStore) ListPendingPredictions(_ context.Context, marketID string) ([]domain.CustodyTransaction, error) {
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

func (f *fakeCustodyStore) CountPendingPredictions(ctx context.Context, marketID string) (int64, error) {
	txs, err := f.ListPendingPredictions(ctx, marketID)
	return int64(len(txs)), err
}

func (f *fakeCustodyStore) ListPendingClaims(_ context.Context, before time.Time) ([]domain.CustodyTransaction, error) {
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

func (f *fakeCustodyStore) UpdateStatus(_ context.Context, id string, status domain.CustodyStatus) error {
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

func (f *fakeCustodyStore) UpdateBlockchainStatus(_ context.Context, id string, status domain.BlockchainStatus) error {
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

func (f *fakeCustodyStore) MarkVerified(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return domain.ErrNotFound
	}
	tx.VerifiedAt = &at
	f.txs[id] = tx
	return nil
}

func (f *fakeCustodyStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.txs, id)
	return nil
}

func (f *fakeCustodyStore) ReturnPrediction(ctx context.Context, txID string) error {
	f.mu.Lock()
	tx, ok := f.txs[txID]
	f.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	if !tx.Returnable(f.now()) {
		return domain.ErrReturnWindowExpired
	}

	// Refund and reverse aggregates, mirroring the SQL transaction.
	f.balances.mu.Lock()
	b := f.balances.balances[tx.UserID]
	b.AvailableBalance += tx.Amount
	b.InPredictions -= tx.Amount
	f.balances.balances[tx.UserID] = b
	f.balances.mu.Unlock()

	f.markets.mu.Lock()
	m := f.markets.markets[tx.MarketID]
	m.PoolAmount -= tx.Amount
	m.Participants--
	for i, o := range m.Outcomes {
		if o.ID == tx.OutcomeID {
			m.Outcomes[i].Amount -= tx.Amount
			m.Outcomes[i].Votes--
		}
	}
	f.markets.markets[tx.MarketID] = m
	f.markets.mu.Unlock()

	f.preds.mu.Lock()
	delete(f.preds.predictions, tx.PredictionID)
	delete(f.preds.receipts, tx.ReceiptID)
	f.preds.mu.Unlock()

	f.mu.Lock()
	delete(f.txs, txID)
	f.mu.Unlock()
	return nil
}

type resolvedRecord struct {
	userID   string
	won      bool
	earnings float64
}

type fakeStatsStore struct {
	mu       sync.Mutex
	resolved []resolvedRecord
}

func (f *fakeStatsStore) Get(context.Context, string) (domain.UserStats, error) {
	return domain.UserStats{}, nil
}

func (f *fakeStatsStore) Leaderboard(context.Context, int) ([]domain.LeaderboardEntry, error) {
	return nil, nil
}

func (f *fakeStatsStore) TopEarners(context.Context, int) ([]domain.LeaderboardEntry, error) {
	return nil, nil
}

func (f *fakeStatsStore) TopAccuracy(context.Context, int) ([]domain.LeaderboardEntry, error) {
	return nil, nil
}

func (f *fakeStatsStore) RecordNewPrediction(context.Context, string, float64) error {
	return nil
}

func (f *fakeStatsStore) RecordResolvedPrediction(_ context.Context, userID string, won bool, earnings float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, resolvedRecord{userID, won, earnings})
	return nil
}

type fakeMarketCache struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newFakeMarketCache() *fakeMarketCache {
	return &fakeMarketCache{markets: make(map[string]domain.Market)}
}

func (f *fakeMarketCache) Set(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[m.ID] = m
	return nil
}

func (f *fakeMarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketCache) Invalidate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.markets, id)
	return nil
}

type fakeBoardCache struct {
	mu             sync.Mutex
	boards         map[string][]domain.LeaderboardEntry
	invalidatedAll int
}

func newFakeBoardCache() *fakeBoardCache {
	return &fakeBoardCache{boards: make(map[string][]domain.LeaderboardEntry)}
}

func (f *fakeBoardCache) Set(_ context.Context, board string, entries []domain.LeaderboardEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[board] = entries
	return nil
}

func (f *fakeBoardCache) Get(_ context.Context, board string) ([]domain.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.boards[board]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return entries, nil
}

func (f *fakeBoardCache) Invalidate(_ context.Context, board string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.boards, board)
	return nil
}

func (f *fakeBoardCache) InvalidateAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards = make(map[string][]domain.LeaderboardEntry)
	f.invalidatedAll++
	return nil
}

type busEvent struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, busEvent{channel, payload})
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	return ch, nil
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error {
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (f *fakeBus) channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.channel
	}
	return out
}

type auditRecord struct {
	event  string
	detail map[string]any
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditRecord
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditRecord{event, detail})
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

// fixture wires the services against fresh fakes with a controllable clock.
type fixture struct {
	markets  *fakeMarketStore
	preds    *fakePredictionStore
	custody  *fakeCustodyStore
	balances *fakeBalanceStore
	stats    *fakeStatsStore
	cache    *fakeMarketCache
	boards   *fakeBoardCache
	bus      *fakeBus
	audit    *fakeAudit
	locks    *fakeLocks

	marketSvc  *MarketService
	custodySvc *CustodyService

	now time.Time
}

func newFixture() *fixture {
	f := &fixture{
		markets:  newFakeMarketStore(),
		preds:    newFakePredictionStore(),
		balances: newFakeBalanceStore(),
		stats:    &fakeStatsStore{},
		cache:    newFakeMarketCache(),
		boards:   newFakeBoardCache(),
		bus:      &fakeBus{},
		audit:    &fakeAudit{},
		locks:    newFakeLocks(),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.custody = newFakeCustodyStore(f.balances, f.markets, f.preds)
	f.custody.now = func() time.Time { return f.now }

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.marketSvc = NewMarketService(
		f.markets, f.preds, f.custody, f.balances, f.stats,
		f.cache, f.boards, f.bus, f.audit, logger,
	)
	f.custodySvc = NewCustodyService(
		f.custody, f.marketSvc, f.preds, f.balances,
		f.locks, f.bus, f.audit, nil, logger,
	)
	f.custodySvc.now = func() time.Time { return f.now }
	return f
}

// seedMarket installs an active two-outcome market ending well in the future.
func (f *fixture) seedMarket(id string) domain.Market {
	m := domain.Market{
		ID:       id,
		Name:     "Will it rain tomorrow?",
		Category: "weather",
		Outcomes: []domain.Outcome{
			{ID: 1, Name: "Yes"},
			{ID: 2, Name: "No"},
		},
		Status:  domain.MarketStatusActive,
		EndDate: f.now.Add(48 * time.Hour),
	}
	f.markets.markets[id] = m
	return m
}

// seedBalance installs a funded account.
func (f *fixture) seedBalance(userID string, available float64) {
	f.balances.balances[userID] = domain.UserBalance{
		UserID:           userID,
		AvailableBalance: available,
	}
}

var (
	alice = domain.Identity{UserID: "alice", Role: domain.RoleUser}
	bob   = domain.Identity{UserID: "bob", Role: domain.RoleUser}
	root  = domain.Identity{UserID: "root", Role: domain.RoleAdmin}
)
