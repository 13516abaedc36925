package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Valid reports whether the outcome is one of the two binary sides.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// BaseLiquidity is the initial size of each liquidity pool when a market is
// created. The ratio of the two pools encodes the implied probability, so both
// sides start equal (implied P = 0.5).
const BaseLiquidity = 1000.0

// Market represents a binary-outcome prediction market backed by two
// liquidity pools.
type Market struct {
	ID                 string
	Question           string
	Category           string
	ResolutionCriteria string
	YesLiquidity       float64
	NoLiquidity        float64
	Status             MarketStatus
	WinningOutcome     *Outcome // set exactly once, at resolution
	ResolutionSource   string
	ClosesAt           time.Time
	ResolvedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ImpliedProbability returns the market-implied probability of YES,
// P(yes) = yes_liquidity / (yes_liquidity + no_liquidity).
func (m Market) ImpliedProbability() float64 {
	total := m.YesLiquidity + m.NoLiquidity
	if total <= 0 {
		return 0.5
	}
	return m.YesLiquidity / total
}

// Open reports whether the market currently accepts trades.
func (m Market) Open() bool {
	return m.Status == MarketStatusOpen
}
