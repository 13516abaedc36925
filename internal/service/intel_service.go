package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foresightmarkets/foresight/internal/arbitrage"
	"github.com/foresightmarkets/foresight/internal/calibration"
	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/similarity"
)

const defaultPredictionTTL = 15 * time.Minute

// Collector gathers external signals for one market.
type Collector interface {
	Collect(ctx context.Context, market domain.Market) domain.DataBundle
}

// Synthesizer turns a data bundle into a prediction at the requested tier.
type Synthesizer interface {
	Synthesize(ctx context.Context, market domain.Market, bundle domain.DataBundle, tier domain.AnalysisTier) domain.PredictionResult
}

// Intelligence is a prediction enriched with comparable resolved markets.
type Intelligence struct {
	Prediction     domain.PredictionResult
	SimilarMarkets []domain.SimilarMarket
	FromCache      bool
}

// IntelService runs the analysis pipeline for a market and serves the
// results. Every fresh prediction is calibrated, persisted, cached, and
// announced on the signal bus before it is returned.
type IntelService struct {
	markets     domain.MarketStore
	predictions domain.PredictionStore
	cache       domain.PredictionCache
	collector   Collector
	synthesizer Synthesizer
	tracker     *calibration.Tracker
	similarity  *similarity.Engine
	bus         domain.SignalBus
	ttl         time.Duration
	logger      *slog.Logger
}

// IntelServiceDeps bundles the dependencies for NewIntelService.
type IntelServiceDeps struct {
	Markets     domain.MarketStore
	Predictions domain.PredictionStore
	Cache       domain.PredictionCache
	Collector   Collector
	Synthesizer Synthesizer
	Tracker     *calibration.Tracker
	Similarity  *similarity.Engine
	Bus         domain.SignalBus
	CacheTTL    time.Duration
	Logger      *slog.Logger
}

// NewIntelService creates an IntelService.
func NewIntelService(deps IntelServiceDeps) *IntelService {
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultPredictionTTL
	}
	return &IntelService{
		markets:     deps.Markets,
		predictions: deps.Predictions,
		cache:       deps.Cache,
		collector:   deps.Collector,
		synthesizer: deps.Synthesizer,
		tracker:     deps.Tracker,
		similarity:  deps.Similarity,
		bus:         deps.Bus,
		ttl:         ttl,
		logger:      deps.Logger.With(slog.String("component", "intel_service")),
	}
}

// AgentID names the synthesis agent for a tier. Calibration history is
// tracked per agent so tiers earn separate track records.
func AgentID(tier domain.AnalysisTier) string {
	return "synthesizer:" + string(tier)
}

// Analyze runs the full pipeline for one market: collect signals, synthesize
// at the requested tier, calibrate, persist, cache, publish.
func (s *IntelService) Analyze(ctx context.Context, marketID string, tier domain.AnalysisTier) (domain.PredictionResult, error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.PredictionResult{}, fmt.Errorf("intel_service: analyze %q: %w", marketID, err)
	}
	if !market.Open() {
		return domain.PredictionResult{}, fmt.Errorf("intel_service: analyze %q: %w", marketID, domain.ErrMarketNotOpen)
	}

	bundle := s.collector.Collect(ctx, market)
	result := s.synthesizer.Synthesize(ctx, market, bundle, tier)

	// The synthesizer may have fallen back to a cheaper tier; calibrate
	// against the track record of the tier that actually produced the number.
	agentID := AgentID(result.AnalysisTier)
	result.CalibratedProbability = s.tracker.AdjustProbability(ctx, result.RawProbability, agentID)

	if err := s.tracker.RecordPrediction(ctx, agentID, marketID, result.CalibratedProbability); err != nil {
		s.logger.WarnContext(ctx, "calibration record failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.predictions.Insert(ctx, result); err != nil {
		return domain.PredictionResult{}, fmt.Errorf("intel_service: analyze %q: %w", marketID, err)
	}
	if err := s.cache.Set(ctx, result, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "prediction cache set failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	s.publishPrediction(ctx, result)

	s.logger.InfoContext(ctx, "analysis complete",
		slog.String("market_id", marketID),
		slog.String("tier", string(result.AnalysisTier)),
		slog.Float64("raw_probability", result.RawProbability),
		slog.Float64("calibrated_probability", result.CalibratedProbability),
		slog.Float64("data_quality", result.DataQualityScore),
	)
	return result, nil
}

// GetIntelligence returns the latest prediction for a market together with
// comparable resolved markets. Cache hits skip the store.
func (s *IntelService) GetIntelligence(ctx context.Context, marketID string) (Intelligence, error) {
	intel := Intelligence{}

	result, err := s.cache.Get(ctx, marketID)
	switch {
	case err == nil:
		intel.Prediction = result
		intel.FromCache = true
	case errors.Is(err, domain.ErrNotFound):
		result, err = s.predictions.GetLatest(ctx, marketID)
		if err != nil {
			return Intelligence{}, fmt.Errorf("intel_service: get %q: %w", marketID, err)
		}
		intel.Prediction = result
	default:
		s.logger.WarnContext(ctx, "prediction cache get failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		result, err = s.predictions.GetLatest(ctx, marketID)
		if err != nil {
			return Intelligence{}, fmt.Errorf("intel_service: get %q: %w", marketID, err)
		}
		intel.Prediction = result
	}

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return Intelligence{}, fmt.Errorf("intel_service: get %q: %w", marketID, err)
	}
	similar, err := s.similarity.FindSimilar(ctx, market.Question)
	if err != nil {
		s.logger.WarnContext(ctx, "similar market lookup failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	} else {
		intel.SimilarMarkets = similar
	}
	return intel, nil
}

// History returns past predictions for a market, newest first.
func (s *IntelService) History(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PredictionResult, error) {
	results, err := s.predictions.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("intel_service: history %q: %w", marketID, err)
	}
	return results, nil
}

// CalibrationReport summarizes an agent's accuracy over the window. A zero
// window covers all time.
func (s *IntelService) CalibrationReport(ctx context.Context, agentID string, window time.Duration) (domain.CalibrationReport, error) {
	report, err := s.tracker.Report(ctx, agentID, window)
	if err != nil {
		return domain.CalibrationReport{}, fmt.Errorf("intel_service: calibration report %q: %w", agentID, err)
	}
	return report, nil
}

func (s *IntelService) publishPrediction(ctx context.Context, result domain.PredictionResult) {
	payload, err := json.Marshal(arbitrage.PredictionEvent{
		Event:                 "prediction_update",
		MarketID:              result.MarketID,
		CalibratedProbability: result.CalibratedProbability,
		AnalysisTier:          string(result.AnalysisTier),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, arbitrage.ChannelPredictions, payload); err != nil {
		s.logger.WarnContext(ctx, "prediction publish failed",
			slog.String("market_id", result.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
