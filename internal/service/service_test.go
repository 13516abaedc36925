package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMarkets is an in-memory MarketStore.
type fakeMarkets struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newFakeMarkets(ms ...domain.Market) *fakeMarkets {
	f := &fakeMarkets{markets: make(map[string]domain.Market)}
	for _, m := range ms {
		f.markets[m.ID] = m
	}
	return f
}

func (f *fakeMarkets) Create(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.markets[m.ID] = m
	return nil
}

func (f *fakeMarkets) GetByID(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarkets) List(_ context.Context, status domain.MarketStatus, _ domain.ListOpts) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Market
	for _, m := range f.markets {
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMarkets) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return f.List(ctx, domain.MarketStatusOpen, opts)
}

func (f *fakeMarkets) ListClosingBefore(_ context.Context, deadline time.Time) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Market
	for _, m := range f.markets {
		if m.Status == domain.MarketStatusOpen && m.ClosesAt.Before(deadline) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMarkets) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.markets)), nil
}

// fakeTx implements MarketTxStore over fakeMarkets and an in-memory balance
// table, mirroring the transactional semantics of the real store.
type fakeTx struct {
	markets  *fakeMarkets
	mu       sync.Mutex
	balances map[string]float64
	trades   []domain.Trade
	tradeErr error
}

func newFakeTx(markets *fakeMarkets) *fakeTx {
	return &fakeTx{markets: markets, balances: make(map[string]float64)}
}

func (f *fakeTx) balance(userID string) float64 {
	b, ok := f.balances[userID]
	if !ok {
		b = domain.StartingCredits
		f.balances[userID] = b
	}
	return b
}

func (f *fakeTx) ExecuteTrade(ctx context.Context, marketID, userID string, quote domain.QuoteFunc) (domain.TradeReceipt, error) {
	if f.tradeErr != nil {
		return domain.TradeReceipt{}, f.tradeErr
	}
	market, err := f.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.TradeReceipt{}, err
	}
	if !market.Open() {
		return domain.TradeReceipt{}, domain.ErrMarketNotOpen
	}
	q, err := quote(market)
	if err != nil {
		return domain.TradeReceipt{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	bal := f.balance(userID)
	if bal < q.Cost {
		return domain.TradeReceipt{}, domain.ErrInsufficientBalance
	}
	f.balances[userID] = bal - q.Cost

	market.YesLiquidity = q.NewYesLiquidity
	market.NoLiquidity = q.NewNoLiquidity
	f.markets.mu.Lock()
	f.markets.markets[marketID] = market
	f.markets.mu.Unlock()

	trade := domain.Trade{
		ID:        "t-" + marketID,
		MarketID:  marketID,
		UserID:    userID,
		Outcome:   q.Outcome,
		Shares:    q.Shares,
		Price:     q.AvgPrice,
		Cost:      q.Cost,
		CreatedAt: time.Now(),
	}
	f.trades = append(f.trades, trade)

	total := q.NewYesLiquidity + q.NewNoLiquidity
	return domain.TradeReceipt{
		Trade:             trade,
		NewYesProbability: q.NewYesLiquidity / total,
		NewNoProbability:  q.NewNoLiquidity / total,
		UserBalance:       domain.UserBalance{UserID: userID, AvailableCredits: f.balances[userID]},
	}, nil
}

func (f *fakeTx) Resolve(ctx context.Context, marketID string, winning domain.Outcome, _ string, at time.Time) (domain.Market, []domain.Trade, error) {
	market, err := f.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, nil, err
	}
	if market.Status == domain.MarketStatusResolved {
		return domain.Market{}, nil, domain.ErrAlreadyResolved
	}
	if market.Status != domain.MarketStatusOpen {
		return domain.Market{}, nil, domain.ErrMarketNotOpen
	}

	market.Status = domain.MarketStatusResolved
	market.WinningOutcome = &winning
	market.ResolvedAt = &at

	f.mu.Lock()
	var winners []domain.Trade
	for _, t := range f.trades {
		if t.MarketID == marketID && t.Outcome == winning {
			winners = append(winners, t)
			f.balances[t.UserID] = f.balance(t.UserID) + t.Shares
		}
	}
	f.mu.Unlock()

	f.markets.mu.Lock()
	f.markets.markets[marketID] = market
	f.markets.mu.Unlock()
	return market, winners, nil
}

// fakeVotes is an in-memory VoteStore keyed by (market, user).
type fakeVotes struct {
	mu    sync.Mutex
	votes map[string]domain.Vote
	err   error
}

func newFakeVotes() *fakeVotes {
	return &fakeVotes{votes: make(map[string]domain.Vote)}
}

func (f *fakeVotes) Upsert(_ context.Context, v domain.Vote) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[v.MarketID+"|"+v.UserID] = v
	return nil
}

func (f *fakeVotes) ListByMarket(_ context.Context, marketID string) ([]domain.Vote, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Vote
	for _, v := range f.votes {
		if v.MarketID == marketID {
			out = append(out, v)
		}
	}
	return out, nil
}

// fakeLocks records acquired keys and can simulate a held lock.
type fakeLocks struct {
	mu       sync.Mutex
	acquired []string
	held     bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.mu.Lock()
	f.acquired = append(f.acquired, key)
	f.mu.Unlock()
	return func() {}, nil
}

// fakeBus records published payloads per channel.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (f *fakeBus) on(channel string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[channel]
}

// fakeAudit records audit events.
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

// fakeCache is an in-memory PredictionCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.PredictionResult
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]domain.PredictionResult)}
}

func (f *fakeCache) Set(_ context.Context, r domain.PredictionResult, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[r.MarketID] = r
	return nil
}

func (f *fakeCache) Get(_ context.Context, marketID string) (domain.PredictionResult, error) {
	if f.getErr != nil {
		return domain.PredictionResult{}, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.entries[marketID]
	if !ok {
		return domain.PredictionResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeCache) Invalidate(_ context.Context, marketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, marketID)
	return nil
}

// fakePredictions is an in-memory PredictionStore, newest first.
type fakePredictions struct {
	mu      sync.Mutex
	results []domain.PredictionResult
}

func (f *fakePredictions) Insert(_ context.Context, r domain.PredictionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append([]domain.PredictionResult{r}, f.results...)
	return nil
}

func (f *fakePredictions) GetLatest(_ context.Context, marketID string) (domain.PredictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.results {
		if r.MarketID == marketID {
			return r, nil
		}
	}
	return domain.PredictionResult{}, domain.ErrNotFound
}

func (f *fakePredictions) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.PredictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PredictionResult
	for _, r := range f.results {
		if r.MarketID == marketID {
			out = append(out, r)
		}
	}
	return out, nil
}

// memCalibration is an in-memory CalibrationStore keyed by agent|market.
type memCalibration struct {
	mu      sync.Mutex
	records map[string]*domain.CalibrationRecord
}

func newMemCalibration() *memCalibration {
	return &memCalibration{records: make(map[string]*domain.CalibrationRecord)}
}

func (m *memCalibration) UpsertPrediction(_ context.Context, agentID, marketID string, probability float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := agentID + "|" + marketID
	if rec, ok := m.records[key]; ok {
		if rec.ActualOutcome == nil {
			rec.PredictedProbability = probability
		}
		return nil
	}
	m.records[key] = &domain.CalibrationRecord{
		ID:                   key,
		AgentID:              agentID,
		MarketID:             marketID,
		PredictedProbability: probability,
		CreatedAt:            time.Now(),
	}
	return nil
}

func (m *memCalibration) ResolveMarket(_ context.Context, marketID string, outcome bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.MarketID != marketID || rec.ActualOutcome != nil {
			continue
		}
		o := outcome
		rec.ActualOutcome = &o
		actual := 0.0
		if outcome {
			actual = 1.0
		}
		brier := (rec.PredictedProbability - actual) * (rec.PredictedProbability - actual)
		rec.BrierScore = &brier
		resolvedAt := at
		rec.ResolvedAt = &resolvedAt
	}
	return nil
}

func (m *memCalibration) ListByAgent(_ context.Context, agentID string, since time.Time) ([]domain.CalibrationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CalibrationRecord
	for _, rec := range m.records {
		if rec.AgentID != agentID {
			continue
		}
		if !since.IsZero() && rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// fakeEmbedder returns a fixed vector for any text.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

// fakeEmbeddings is an in-memory EmbeddingStore.
type fakeEmbeddings struct {
	mu       sync.Mutex
	upserted map[string][]float32
	similar  []domain.SimilarMarket
}

func newFakeEmbeddings() *fakeEmbeddings {
	return &fakeEmbeddings{upserted: make(map[string][]float32)}
}

func (f *fakeEmbeddings) Upsert(_ context.Context, marketID string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted[marketID] = embedding
	return nil
}

func (f *fakeEmbeddings) SearchResolved(context.Context, []float32, float64, int) ([]domain.SimilarMarket, error) {
	return f.similar, nil
}

func (f *fakeEmbeddings) SearchResolvedByText(context.Context, string, int) ([]domain.SimilarMarket, error) {
	return f.similar, nil
}

// fakeArchiver records archived market IDs.
type fakeArchiver struct {
	mu       sync.Mutex
	archived []string
}

func (f *fakeArchiver) ArchiveMarket(_ context.Context, marketID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, marketID)
	return "archive/markets/test/" + marketID + ".json", nil
}

// fakeCollector returns a canned bundle.
type fakeCollector struct {
	bundle domain.DataBundle
}

func (f *fakeCollector) Collect(_ context.Context, market domain.Market) domain.DataBundle {
	b := f.bundle
	b.MarketID = market.ID
	return b
}

// fakeSynthesizer returns a canned result at the requested tier.
type fakeSynthesizer struct {
	raw  float64
	tier domain.AnalysisTier // overrides the requested tier when set
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, market domain.Market, bundle domain.DataBundle, tier domain.AnalysisTier) domain.PredictionResult {
	if f.tier != "" {
		tier = f.tier
	}
	return domain.PredictionResult{
		ID:                    "p-" + market.ID,
		MarketID:              market.ID,
		RawProbability:        f.raw,
		CalibratedProbability: f.raw,
		Confidence:            0.7,
		AnalysisTier:          tier,
		DataQualityScore:      bundle.DataQualityScore,
		CreatedAt:             time.Now(),
	}
}
