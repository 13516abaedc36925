// Package amm implements the constant-product market maker (CPMM) backing
// each binary market. Two liquidity pools encode the implied probability,
// P(yes) = yes / (yes + no), and their product is held invariant across
// trades: buying an outcome grows that side's pool, shrinks the other via
// k = yes x no, and issues the difference as shares. Prices therefore move
// monotonically toward the traded outcome with diminishing marginal shares
// per credit (slippage), and neither pool can reach zero.
package amm

import (
	"math"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// minPool is the smallest a pool may be after a trade. Guards the invariant
// against floating-point underflow on very large buys.
const minPool = 1e-9

// Quote is the outcome of pricing a buy against a pool pair.
type Quote struct {
	Shares          float64
	AvgPrice        float64
	NewYesLiquidity float64
	NewNoLiquidity  float64
	NewYesProb      float64
}

// Buy prices a purchase of `outcome` with `amount` credits against the given
// pools. It returns domain.ErrInvalidAmount for non-positive amounts,
// domain.ErrInvalidOutcome for anything other than yes/no, and
// domain.ErrPoolDrained if the trade would collapse a pool.
func Buy(yes, no float64, outcome domain.Outcome, amount float64) (Quote, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Quote{}, domain.ErrInvalidAmount
	}
	if !outcome.Valid() {
		return Quote{}, domain.ErrInvalidOutcome
	}
	if yes <= 0 || no <= 0 {
		return Quote{}, domain.ErrPoolDrained
	}

	k := yes * no

	var q Quote
	switch outcome {
	case domain.OutcomeYes:
		newYes := yes + amount
		newNo := k / newYes
		q = Quote{
			Shares:          amount + no - newNo,
			NewYesLiquidity: newYes,
			NewNoLiquidity:  newNo,
		}
	case domain.OutcomeNo:
		newNo := no + amount
		newYes := k / newNo
		q = Quote{
			Shares:          amount + yes - newYes,
			NewYesLiquidity: newYes,
			NewNoLiquidity:  newNo,
		}
	}

	if q.NewYesLiquidity <= minPool || q.NewNoLiquidity <= minPool {
		return Quote{}, domain.ErrPoolDrained
	}
	if q.Shares <= 0 {
		return Quote{}, domain.ErrInvalidAmount
	}

	q.AvgPrice = amount / q.Shares
	q.NewYesProb = q.NewYesLiquidity / (q.NewYesLiquidity + q.NewNoLiquidity)
	return q, nil
}

// Price returns the implied probability of the given outcome.
func Price(yes, no float64, outcome domain.Outcome) float64 {
	total := yes + no
	if total <= 0 {
		return 0.5
	}
	if outcome == domain.OutcomeNo {
		return no / total
	}
	return yes / total
}
