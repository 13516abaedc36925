package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// TradeService is what the trade handler needs from the service layer.
type TradeService interface {
	Buy(ctx context.Context, marketID, userID string, outcome domain.Outcome, amount float64) (domain.TradeReceipt, error)
	Balance(ctx context.Context, userID string) (domain.UserBalance, error)
	History(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error)
	MarketTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves the trading and balance endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type tradeRequest struct {
	UserID  string  `json:"user_id"`
	Outcome string  `json:"outcome"`
	Amount  float64 `json:"amount"`
}

// PlaceTrade buys outcome shares on a market.
// POST /api/markets/{id}/trades
func (h *TradeHandler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user := userID(r, req.UserID)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	receipt, err := h.trades.Buy(r.Context(), id, user, domain.Outcome(req.Outcome), req.Amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: trade failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// ListMarketTrades returns a market's trade history, newest first.
// GET /api/markets/{id}/trades
func (h *TradeHandler) ListMarketTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	trades, err := h.trades.MarketTrades(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": toTradeDTOs(trades)})
}

// GetBalance returns a user's credit balance, seeding first-time users.
// GET /api/users/{id}/balance
func (h *TradeHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	balance, err := h.trades.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceDTO{
		UserID:           balance.UserID,
		AvailableCredits: balance.AvailableCredits,
		LockedCredits:    balance.LockedCredits,
	})
}

// ListUserTrades returns a user's trade history, newest first.
// GET /api/users/{id}/trades
func (h *TradeHandler) ListUserTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	trades, err := h.trades.History(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": toTradeDTOs(trades)})
}
