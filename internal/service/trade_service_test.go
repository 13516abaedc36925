package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightmarkets/foresight/internal/domain"
)

type tradeHarness struct {
	svc     *TradeService
	markets *fakeMarkets
	tx      *fakeTx
	locks   *fakeLocks
	bus     *fakeBus
	audit   *fakeAudit
}

func newTradeHarness(ms ...domain.Market) *tradeHarness {
	h := &tradeHarness{
		markets: newFakeMarkets(ms...),
		locks:   &fakeLocks{},
		bus:     newFakeBus(),
		audit:   &fakeAudit{},
	}
	h.tx = newFakeTx(h.markets)
	h.svc = NewTradeService(TradeServiceDeps{
		Tx:     h.tx,
		Locks:  h.locks,
		Bus:    h.bus,
		Audit:  h.audit,
		Logger: discard(),
	})
	return h
}

func TestBuy(t *testing.T) {
	h := newTradeHarness(openMarket("m1"))

	receipt, err := h.svc.Buy(context.Background(), "m1", "alice", domain.OutcomeYes, 100)
	require.NoError(t, err)

	// Constant product with equal 1000/1000 pools: yes pool 1100, no pool
	// 1000*1000/1100, shares = 100 + 1000 - 1000000/1100.
	assert.InDelta(t, 190.909, receipt.Trade.Shares, 0.001)
	assert.InDelta(t, 100.0/receipt.Trade.Shares, receipt.Trade.Price, 1e-9)
	assert.Greater(t, receipt.NewYesProbability, 0.5, "buying YES moves the price up")
	assert.InDelta(t, 1.0, receipt.NewYesProbability+receipt.NewNoProbability, 1e-9)
	assert.InDelta(t, domain.StartingCredits-100, receipt.UserBalance.AvailableCredits, 1e-9)

	m, err := h.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.InDelta(t, 1e6, m.YesLiquidity*m.NoLiquidity, 1e-6, "constant product preserved")

	assert.Contains(t, h.locks.acquired, "trade:m1")
	assert.Contains(t, h.audit.events, "trade.executed")
}

func TestBuyPublishesPriceUpdate(t *testing.T) {
	h := newTradeHarness(openMarket("m1"))

	receipt, err := h.svc.Buy(context.Background(), "m1", "bob", domain.OutcomeNo, 50)
	require.NoError(t, err)

	events := h.bus.on(ChannelPrices)
	require.Len(t, events, 1)
	var ev PriceEvent
	require.NoError(t, json.Unmarshal(events[0], &ev))
	assert.Equal(t, "price_update", ev.Event)
	assert.Equal(t, "m1", ev.MarketID)
	assert.Equal(t, "no", ev.LastOutcome)
	assert.InDelta(t, receipt.NewYesProbability, ev.YesProbability, 1e-9)
	assert.InDelta(t, receipt.Trade.Shares, ev.LastShares, 1e-9)
}

func TestBuyValidation(t *testing.T) {
	h := newTradeHarness(openMarket("m1"))
	ctx := context.Background()

	_, err := h.svc.Buy(ctx, "m1", "alice", "maybe", 100)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = h.svc.Buy(ctx, "m1", "alice", domain.OutcomeYes, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Empty(t, h.locks.acquired, "validation happens before locking")
	assert.Empty(t, h.bus.on(ChannelPrices))
}

func TestBuyClosedMarket(t *testing.T) {
	m := openMarket("m1")
	m.Status = domain.MarketStatusResolved
	h := newTradeHarness(m)

	_, err := h.svc.Buy(context.Background(), "m1", "alice", domain.OutcomeYes, 100)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
}

func TestBuyInsufficientBalance(t *testing.T) {
	h := newTradeHarness(openMarket("m1"))
	h.tx.balances["alice"] = 10

	_, err := h.svc.Buy(context.Background(), "m1", "alice", domain.OutcomeYes, 100)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, h.bus.on(ChannelPrices), "failed trades publish nothing")
}

func TestBuyLockHeld(t *testing.T) {
	h := newTradeHarness(openMarket("m1"))
	h.locks.held = true

	_, err := h.svc.Buy(context.Background(), "m1", "alice", domain.OutcomeYes, 100)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestBalanceSeedsNewUser(t *testing.T) {
	h := newTradeHarness()
	balances := &fakeBalances{}
	h.svc = NewTradeService(TradeServiceDeps{
		Tx:       h.tx,
		Balances: balances,
		Locks:    h.locks,
		Bus:      h.bus,
		Audit:    h.audit,
		Logger:   discard(),
	})

	b, err := h.svc.Balance(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.InDelta(t, domain.StartingCredits, b.AvailableCredits, 1e-9)
}

// fakeBalances seeds starting credits on first read.
type fakeBalances struct{}

func (fakeBalances) Get(_ context.Context, userID string) (domain.UserBalance, error) {
	return domain.UserBalance{UserID: userID, AvailableCredits: domain.StartingCredits}, nil
}

func (fakeBalances) Credit(context.Context, string, float64) error { return nil }
