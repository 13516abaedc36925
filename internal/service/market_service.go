// Package service holds the application services gluing stores, caches, and
// the forecasting pipeline together behind the HTTP surface.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foresightmarkets/foresight/internal/arbitrage"
	"github.com/foresightmarkets/foresight/internal/calibration"
	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/similarity"
)

// resolveLockTTL bounds how long a resolution may hold the per-market lock.
const resolveLockTTL = 30 * time.Second

// ChannelResolutions carries market resolution events on the signal bus.
const ChannelResolutions = "resolutions"

// ResolutionEvent is the JSON shape published on ChannelResolutions.
type ResolutionEvent struct {
	Event          string  `json:"event"`
	MarketID       string  `json:"market_id"`
	Question       string  `json:"question"`
	WinningOutcome string  `json:"winning_outcome"`
	FinalPrice     float64 `json:"final_price"`
	WinningTrades  int     `json:"winning_trades"`
	PaidOut        float64 `json:"paid_out"`
}

// MarketService handles market lifecycle: creation, browsing, resolution
// with payout, and post-resolution housekeeping.
type MarketService struct {
	markets    domain.MarketStore
	tx         domain.MarketTxStore
	votes      domain.VoteStore
	locks      domain.LockManager
	bus        domain.SignalBus
	audit      domain.AuditStore
	cache      domain.PredictionCache
	tracker    *calibration.Tracker
	similarity *similarity.Engine
	archiver   domain.Archiver
	logger     *slog.Logger
}

// MarketServiceDeps bundles the dependencies for NewMarketService.
type MarketServiceDeps struct {
	Markets    domain.MarketStore
	Tx         domain.MarketTxStore
	Votes      domain.VoteStore
	Locks      domain.LockManager
	Bus        domain.SignalBus
	Audit      domain.AuditStore
	Cache      domain.PredictionCache
	Tracker    *calibration.Tracker
	Similarity *similarity.Engine
	Archiver   domain.Archiver
	Logger     *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(deps MarketServiceDeps) *MarketService {
	return &MarketService{
		markets:    deps.Markets,
		tx:         deps.Tx,
		votes:      deps.Votes,
		locks:      deps.Locks,
		bus:        deps.Bus,
		audit:      deps.Audit,
		cache:      deps.Cache,
		tracker:    deps.Tracker,
		similarity: deps.Similarity,
		archiver:   deps.Archiver,
		logger:     deps.Logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarketParams are the caller-supplied fields of a new market.
type CreateMarketParams struct {
	Question           string
	Category           string
	ResolutionCriteria string
	ClosesAt           time.Time
}

// Create opens a new market with both pools at the base liquidity. The
// question embedding is indexed best-effort; a missing embedding only means
// the market starts without analog search.
func (s *MarketService) Create(ctx context.Context, p CreateMarketParams) (domain.Market, error) {
	question := strings.TrimSpace(p.Question)
	if question == "" {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", domain.ErrInvalidQuestion)
	}
	if !p.ClosesAt.After(time.Now()) {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", domain.ErrInvalidCloseTime)
	}

	market := domain.Market{
		ID:                 uuid.NewString(),
		Question:           question,
		Category:           strings.TrimSpace(p.Category),
		ResolutionCriteria: strings.TrimSpace(p.ResolutionCriteria),
		YesLiquidity:       domain.BaseLiquidity,
		NoLiquidity:        domain.BaseLiquidity,
		Status:             domain.MarketStatusOpen,
		ClosesAt:           p.ClosesAt,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.markets.Create(ctx, market); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	if err := s.similarity.Index(ctx, market.ID, market.Question); err != nil {
		s.logger.WarnContext(ctx, "question indexing failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "market.created", map[string]any{
		"market_id": market.ID,
		"question":  market.Question,
		"closes_at": market.ClosesAt.Format(time.RFC3339),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", market.ID),
		slog.String("question", market.Question),
	)
	return market, nil
}

// Get returns a market by ID.
func (s *MarketService) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	return m, nil
}

// List returns markets filtered by status (empty = all).
func (s *MarketService) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Vote records a crowd vote on an open market, replacing the user's previous
// vote.
func (s *MarketService) Vote(ctx context.Context, marketID, userID string, outcome domain.Outcome, confidence float64) error {
	if !outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("market_service: vote confidence out of range: %w", domain.ErrInvalidAmount)
	}

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("market_service: vote: %w", err)
	}
	if !market.Open() {
		return domain.ErrMarketNotOpen
	}

	vote := domain.Vote{
		ID:         uuid.NewString(),
		MarketID:   marketID,
		UserID:     userID,
		Outcome:    outcome,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.votes.Upsert(ctx, vote); err != nil {
		return fmt.Errorf("market_service: vote: %w", err)
	}
	return nil
}

// CrowdProbability returns the confidence-weighted crowd probability for a
// market, or nil when too few votes exist.
func (s *MarketService) CrowdProbability(ctx context.Context, marketID string) (*float64, error) {
	votes, err := s.votes.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: crowd probability: %w", err)
	}
	return arbitrage.CrowdProbability(votes), nil
}

// Resolve settles a market: exactly-once payout of winning shares, the
// calibration update, cache invalidation, the resolution event, and the cold
// archive. Only the payout transaction can fail the call; the housekeeping
// steps degrade to warnings.
func (s *MarketService) Resolve(ctx context.Context, marketID string, winning domain.Outcome, source string) (domain.Market, error) {
	if !winning.Valid() {
		return domain.Market{}, domain.ErrInvalidOutcome
	}

	unlock, err := s.locks.Acquire(ctx, "resolve:"+marketID, resolveLockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve %q: %w", marketID, err)
	}
	defer unlock()

	market, winners, err := s.tx.Resolve(ctx, marketID, winning, source, time.Now().UTC())
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve %q: %w", marketID, err)
	}

	if err := s.tracker.RecordResolution(ctx, marketID, winning == domain.OutcomeYes); err != nil {
		s.logger.WarnContext(ctx, "calibration resolution failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "prediction cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	paidOut := 0.0
	for _, t := range winners {
		paidOut += t.Shares
	}
	s.publishResolution(ctx, market, len(winners), paidOut)

	// Archiving is optional; without blob storage the market stays resolved
	// in Postgres only.
	if s.archiver != nil {
		if _, err := s.archiver.ArchiveMarket(ctx, marketID); err != nil {
			s.logger.WarnContext(ctx, "market archive failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.audit.Log(ctx, "market.resolved", map[string]any{
		"market_id":       marketID,
		"winning_outcome": string(winning),
		"source":          source,
		"winning_trades":  len(winners),
		"paid_out":        paidOut,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.String("winning_outcome", string(winning)),
		slog.Int("winning_trades", len(winners)),
		slog.Float64("paid_out", paidOut),
	)
	return market, nil
}

func (s *MarketService) publishResolution(ctx context.Context, market domain.Market, winners int, paidOut float64) {
	payload, err := json.Marshal(ResolutionEvent{
		Event:          "market_resolved",
		MarketID:       market.ID,
		Question:       market.Question,
		WinningOutcome: string(*market.WinningOutcome),
		FinalPrice:     market.ImpliedProbability(),
		WinningTrades:  winners,
		PaidOut:        paidOut,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ChannelResolutions, payload); err != nil {
		s.logger.WarnContext(ctx, "resolution publish failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}
}
