package domain

import "time"

// Trade is a single executed buy against a market's liquidity pools. Trades
// form an append-only ledger: rows are never mutated or deleted, and payouts
// at resolution are computed directly from them.
type Trade struct {
	ID        string
	MarketID  string
	UserID    string
	Outcome   Outcome
	Shares    float64 // shares issued, >= 0
	Price     float64 // average price paid per share, in (0,1)
	Cost      float64 // credits debited, > 0
	CreatedAt time.Time
}

// TradeReceipt is returned to the caller after a successful buy.
type TradeReceipt struct {
	Trade             Trade
	NewYesProbability float64
	NewNoProbability  float64
	UserBalance       UserBalance
}

// StartingCredits is the balance granted to a user on first contact with the
// trading surface.
const StartingCredits = 10000.0

// UserBalance tracks a user's virtual credits. Both fields stay >= 0 and are
// mutated only by trade execution and resolution payout.
type UserBalance struct {
	UserID           string
	AvailableCredits float64
	LockedCredits    float64
	UpdatedAt        time.Time
}

// Vote is a crowd prediction on a market, weighted by the voter's stated
// confidence when computing the crowd probability.
type Vote struct {
	ID         string
	MarketID   string
	UserID     string
	Outcome    Outcome
	Confidence float64 // in [0,1]
	CreatedAt  time.Time
}
