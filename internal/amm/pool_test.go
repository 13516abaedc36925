package amm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightmarkets/foresight/internal/domain"
)

func TestBuyMovesPriceTowardOutcome(t *testing.T) {
	q, err := Buy(1000, 1000, domain.OutcomeYes, 100)
	require.NoError(t, err)

	assert.Greater(t, q.NewYesProb, 0.5, "buying yes should raise P(yes)")
	assert.Greater(t, q.Shares, 0.0)
	assert.Greater(t, q.AvgPrice, 0.5, "avg price should exceed the pre-trade price")
	assert.Less(t, q.AvgPrice, 1.0)

	q2, err := Buy(1000, 1000, domain.OutcomeNo, 100)
	require.NoError(t, err)
	assert.Less(t, q2.NewYesProb, 0.5, "buying no should lower P(yes)")
}

func TestBuyConservesProduct(t *testing.T) {
	yes, no := 1000.0, 1000.0
	k := yes * no

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		outcome := domain.OutcomeYes
		if rng.Intn(2) == 0 {
			outcome = domain.OutcomeNo
		}
		amount := 1 + rng.Float64()*250

		q, err := Buy(yes, no, outcome, amount)
		require.NoError(t, err, "buy %d", i)

		require.Greater(t, q.NewYesLiquidity, 0.0)
		require.Greater(t, q.NewNoLiquidity, 0.0)
		require.InEpsilon(t, k, q.NewYesLiquidity*q.NewNoLiquidity, 1e-9,
			"constant product must be conserved")

		yes, no = q.NewYesLiquidity, q.NewNoLiquidity
	}
}

func TestBuySlippage(t *testing.T) {
	// Larger trades pay a higher average price on the same pools.
	small, err := Buy(1000, 1000, domain.OutcomeYes, 10)
	require.NoError(t, err)
	large, err := Buy(1000, 1000, domain.OutcomeYes, 1000)
	require.NoError(t, err)

	assert.Greater(t, large.AvgPrice, small.AvgPrice)
	// Marginal shares per credit diminish.
	assert.Less(t, large.Shares/1000, small.Shares/10)
}

func TestBuyPriceMonotonicOverSequence(t *testing.T) {
	yes, no := 1000.0, 1000.0
	prev := Price(yes, no, domain.OutcomeYes)

	for i := 0; i < 20; i++ {
		q, err := Buy(yes, no, domain.OutcomeYes, 50)
		require.NoError(t, err)
		assert.Greater(t, q.NewYesProb, prev, "repeated yes buys must keep raising P(yes)")
		prev = q.NewYesProb
		yes, no = q.NewYesLiquidity, q.NewNoLiquidity
	}
	assert.Less(t, prev, 1.0)
}

func TestBuyValidation(t *testing.T) {
	tests := []struct {
		name    string
		yes, no float64
		outcome domain.Outcome
		amount  float64
		wantErr error
	}{
		{"zero amount", 1000, 1000, domain.OutcomeYes, 0, domain.ErrInvalidAmount},
		{"negative amount", 1000, 1000, domain.OutcomeNo, -5, domain.ErrInvalidAmount},
		{"bad outcome", 1000, 1000, domain.Outcome("maybe"), 10, domain.ErrInvalidOutcome},
		{"drained pool", 0, 1000, domain.OutcomeYes, 10, domain.ErrPoolDrained},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Buy(tt.yes, tt.no, tt.outcome, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPrice(t *testing.T) {
	assert.InDelta(t, 0.5, Price(1000, 1000, domain.OutcomeYes), 1e-12)
	assert.InDelta(t, 0.25, Price(500, 1500, domain.OutcomeYes), 1e-12)
	assert.InDelta(t, 0.75, Price(500, 1500, domain.OutcomeNo), 1e-12)
	assert.InDelta(t, 0.5, Price(0, 0, domain.OutcomeYes), 1e-12)
}
