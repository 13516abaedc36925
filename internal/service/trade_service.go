package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/foresightmarkets/foresight/internal/amm"
	"github.com/foresightmarkets/foresight/internal/domain"
)

const (
	// tradeLockTTL bounds how long a buy may hold the per-market lock.
	tradeLockTTL = 10 * time.Second

	// ChannelPrices carries post-trade price updates on the signal bus.
	ChannelPrices = "prices"
)

// PriceEvent is the JSON shape published on ChannelPrices after every trade.
type PriceEvent struct {
	Event          string  `json:"event"`
	MarketID       string  `json:"market_id"`
	YesProbability float64 `json:"yes_probability"`
	NoProbability  float64 `json:"no_probability"`
	LastOutcome    string  `json:"last_outcome"`
	LastShares     float64 `json:"last_shares"`
	LastPrice      float64 `json:"last_price"`
}

// TradeService executes buys against the AMM. Each buy serializes on a
// per-market distributed lock and a row lock inside the transaction, so two
// concurrent trades never compute shares against stale pools.
type TradeService struct {
	tx       domain.MarketTxStore
	trades   domain.TradeStore
	balances domain.BalanceStore
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
}

// TradeServiceDeps bundles the dependencies for NewTradeService.
type TradeServiceDeps struct {
	Tx       domain.MarketTxStore
	Trades   domain.TradeStore
	Balances domain.BalanceStore
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Logger   *slog.Logger
}

// NewTradeService creates a TradeService.
func NewTradeService(deps TradeServiceDeps) *TradeService {
	return &TradeService{
		tx:       deps.Tx,
		trades:   deps.Trades,
		balances: deps.Balances,
		locks:    deps.Locks,
		bus:      deps.Bus,
		audit:    deps.Audit,
		logger:   deps.Logger.With(slog.String("component", "trade_service")),
	}
}

// Buy purchases outcome shares with amount credits. Validation errors come
// back synchronously and are never retried; a held lock surfaces as
// domain.ErrLockHeld so the caller can retry.
func (s *TradeService) Buy(ctx context.Context, marketID, userID string, outcome domain.Outcome, amount float64) (domain.TradeReceipt, error) {
	if !outcome.Valid() {
		return domain.TradeReceipt{}, domain.ErrInvalidOutcome
	}
	if amount <= 0 {
		return domain.TradeReceipt{}, domain.ErrInvalidAmount
	}

	unlock, err := s.locks.Acquire(ctx, "trade:"+marketID, tradeLockTTL)
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("trade_service: buy %q: %w", marketID, err)
	}
	defer unlock()

	receipt, err := s.tx.ExecuteTrade(ctx, marketID, userID, func(market domain.Market) (domain.TradeQuote, error) {
		q, err := amm.Buy(market.YesLiquidity, market.NoLiquidity, outcome, amount)
		if err != nil {
			return domain.TradeQuote{}, err
		}
		return domain.TradeQuote{
			Outcome:         outcome,
			Shares:          q.Shares,
			AvgPrice:        q.AvgPrice,
			Cost:            amount,
			NewYesLiquidity: q.NewYesLiquidity,
			NewNoLiquidity:  q.NewNoLiquidity,
		}, nil
	})
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("trade_service: buy %q: %w", marketID, err)
	}

	s.publishPrice(ctx, receipt)

	if err := s.audit.Log(ctx, "trade.executed", map[string]any{
		"trade_id":  receipt.Trade.ID,
		"market_id": marketID,
		"user_id":   userID,
		"outcome":   string(outcome),
		"shares":    receipt.Trade.Shares,
		"cost":      amount,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "trade executed",
		slog.String("market_id", marketID),
		slog.String("outcome", string(outcome)),
		slog.Float64("shares", receipt.Trade.Shares),
		slog.Float64("price", receipt.Trade.Price),
		slog.Float64("new_yes_prob", receipt.NewYesProbability),
	)
	return receipt, nil
}

// Balance returns the user's credit balance, seeding first-time users.
func (s *TradeService) Balance(ctx context.Context, userID string) (domain.UserBalance, error) {
	b, err := s.balances.Get(ctx, userID)
	if err != nil {
		return domain.UserBalance{}, fmt.Errorf("trade_service: balance %q: %w", userID, err)
	}
	return b, nil
}

// History returns a user's trades, newest first.
func (s *TradeService) History(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: history %q: %w", userID, err)
	}
	return trades, nil
}

// MarketTrades returns a market's trades, newest first.
func (s *TradeService) MarketTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: market trades %q: %w", marketID, err)
	}
	return trades, nil
}

func (s *TradeService) publishPrice(ctx context.Context, r domain.TradeReceipt) {
	payload, err := json.Marshal(PriceEvent{
		Event:          "price_update",
		MarketID:       r.Trade.MarketID,
		YesProbability: r.NewYesProbability,
		NoProbability:  r.NewNoProbability,
		LastOutcome:    string(r.Trade.Outcome),
		LastShares:     r.Trade.Shares,
		LastPrice:      r.Trade.Price,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ChannelPrices, payload); err != nil {
		s.logger.WarnContext(ctx, "price publish failed",
			slog.String("market_id", r.Trade.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
