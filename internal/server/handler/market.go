package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/service"
)

// MarketService is what the market handler needs from the service layer.
type MarketService interface {
	Create(ctx context.Context, p service.CreateMarketParams) (domain.Market, error)
	Get(ctx context.Context, id string) (domain.Market, error)
	List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	Vote(ctx context.Context, marketID, userID string, outcome domain.Outcome, confidence float64) error
	CrowdProbability(ctx context.Context, marketID string) (*float64, error)
	Resolve(ctx context.Context, marketID string, winning domain.Outcome, source string) (domain.Market, error)
}

// MarketHandler serves the market lifecycle endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

type createMarketRequest struct {
	Question           string    `json:"question"`
	Category           string    `json:"category"`
	ResolutionCriteria string    `json:"resolution_criteria"`
	ClosesAt           time.Time `json:"closes_at"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := h.markets.Create(r.Context(), service.CreateMarketParams{
		Question:           req.Question,
		Category:           req.Category,
		ResolutionCriteria: req.ResolutionCriteria,
		ClosesAt:           req.ClosesAt,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketDTO(market))
}

type listMarketsResponse struct {
	Markets []marketDTO `json:"markets"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

// ListMarkets returns markets, optionally filtered by ?status=.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	markets, err := h.markets.List(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	dtos := make([]marketDTO, len(markets))
	for i, m := range markets {
		dtos[i] = toMarketDTO(m)
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: dtos,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

type marketDetailResponse struct {
	marketDTO
	CrowdProbability *float64 `json:"crowd_probability,omitempty"`
}

// GetMarket returns one market with its crowd probability.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	market, err := h.markets.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	crowd, err := h.markets.CrowdProbability(r.Context(), id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: crowd probability failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		crowd = nil
	}

	writeJSON(w, http.StatusOK, marketDetailResponse{
		marketDTO:        toMarketDTO(market),
		CrowdProbability: crowd,
	})
}

type voteRequest struct {
	UserID     string  `json:"user_id"`
	Outcome    string  `json:"outcome"`
	Confidence float64 `json:"confidence"`
}

// CastVote records a crowd vote.
// POST /api/markets/{id}/votes
func (h *MarketHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user := userID(r, req.UserID)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	if err := h.markets.Vote(r.Context(), id, user, domain.Outcome(req.Outcome), req.Confidence); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolveRequest struct {
	WinningOutcome   string `json:"winning_outcome"`
	ResolutionSource string `json:"resolution_source"`
}

// ResolveMarket settles a market.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := h.markets.Resolve(r.Context(), id, domain.Outcome(req.WinningOutcome), req.ResolutionSource)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: resolve market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketDTO(market))
}
