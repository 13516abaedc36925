package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets and their liquidity pools.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]Market, error)
	ListClosingBefore(ctx context.Context, deadline time.Time) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// TradeQuote is the pool transition computed for a buy. The AMM pricing
// engine produces it from the market state read inside the transaction.
type TradeQuote struct {
	Outcome         Outcome
	Shares          float64
	AvgPrice        float64
	Cost            float64
	NewYesLiquidity float64
	NewNoLiquidity  float64
}

// QuoteFunc computes a trade quote from the locked market row. Returning an
// error aborts the transaction with state unchanged.
type QuoteFunc func(market Market) (TradeQuote, error)

// MarketTxStore serializes read-modify-write operations on a single market's
// liquidity pools. ExecuteTrade locks the market row, applies the quote, and
// atomically writes pools + trade + balance debit. Resolve settles payouts
// exactly once; a second call fails with ErrAlreadyResolved.
type MarketTxStore interface {
	ExecuteTrade(ctx context.Context, marketID, userID string, quote QuoteFunc) (TradeReceipt, error)
	Resolve(ctx context.Context, marketID string, winning Outcome, source string, at time.Time) (Market, []Trade, error)
}

// TradeStore persists the append-only trade ledger.
type TradeStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
}

// BalanceStore persists user credit balances.
type BalanceStore interface {
	Get(ctx context.Context, userID string) (UserBalance, error)
	Credit(ctx context.Context, userID string, amount float64) error
}

// VoteStore persists crowd votes.
type VoteStore interface {
	Upsert(ctx context.Context, vote Vote) error
	ListByMarket(ctx context.Context, marketID string) ([]Vote, error)
}

// PredictionStore persists synthesis outputs, last-write-wins per market.
type PredictionStore interface {
	Insert(ctx context.Context, result PredictionResult) error
	GetLatest(ctx context.Context, marketID string) (PredictionResult, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]PredictionResult, error)
}

// CalibrationStore persists prediction/outcome pairs. Records are upserted by
// (agent, market) until resolution and never overwritten afterwards.
type CalibrationStore interface {
	UpsertPrediction(ctx context.Context, agentID, marketID string, probability float64) error
	ResolveMarket(ctx context.Context, marketID string, outcome bool, at time.Time) error
	ListByAgent(ctx context.Context, agentID string, since time.Time) ([]CalibrationRecord, error)
}

// EmbeddingStore persists question embeddings and serves nearest-neighbour
// queries over resolved markets.
type EmbeddingStore interface {
	Upsert(ctx context.Context, marketID string, embedding []float32) error
	SearchResolved(ctx context.Context, embedding []float32, minSimilarity float64, limit int) ([]SimilarMarket, error)
	SearchResolvedByText(ctx context.Context, query string, limit int) ([]SimilarMarket, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
