package arbitrage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// Channel names on the signal bus.
const (
	ChannelPredictions = "predictions"
	ChannelArbitrage   = "arbitrage"
)

// PredictionEvent is the JSON shape published on ChannelPredictions after
// each synthesis run.
type PredictionEvent struct {
	Event                 string  `json:"event"`
	MarketID              string  `json:"market_id"`
	CalibratedProbability float64 `json:"calibrated_probability"`
	AnalysisTier          string  `json:"analysis_tier"`
}

// SignalEvent is the JSON shape published on ChannelArbitrage.
type SignalEvent struct {
	Event            string   `json:"event"`
	ID               string   `json:"id"`
	MarketID         string   `json:"market_id"`
	Kind             string   `json:"kind"`
	AIProbability    float64  `json:"ai_probability"`
	MarketPrice      float64  `json:"market_price"`
	CrowdProbability *float64 `json:"crowd_probability,omitempty"`
	Divergence       float64  `json:"divergence"`
	Strength         float64  `json:"strength"`
	Description      string   `json:"description"`
	Recommendation   string   `json:"recommendation"`
	DetectedAt       string   `json:"detected_at"`
}

// Monitor subscribes to prediction updates, runs the detector against the
// current market price and crowd votes, and publishes any resulting signals
// on ChannelArbitrage.
type Monitor struct {
	detector    *Detector
	markets     domain.MarketStore
	votes       domain.VoteStore
	predictions domain.PredictionStore
	bus         domain.SignalBus
	logger      *slog.Logger
}

// MonitorConfig configures the monitor.
type MonitorConfig struct {
	Detector    *Detector
	Markets     domain.MarketStore
	Votes       domain.VoteStore
	Predictions domain.PredictionStore
	Bus         domain.SignalBus
	Logger      *slog.Logger
}

// NewMonitor creates a monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{
		detector:    cfg.Detector,
		markets:     cfg.Markets,
		votes:       cfg.Votes,
		predictions: cfg.Predictions,
		bus:         cfg.Bus,
		logger:      cfg.Logger.With(slog.String("component", "arb_monitor")),
	}
}

// Snapshot evaluates the market's current divergences on demand, for the API.
// A market with no prediction yet reports ErrNotFound.
func (m *Monitor) Snapshot(ctx context.Context, marketID string) ([]domain.ArbitrageSignal, error) {
	market, err := m.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: snapshot %s: %w", marketID, err)
	}
	latest, err := m.predictions.GetLatest(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: snapshot %s: %w", marketID, err)
	}
	votes, err := m.votes.ListByMarket(ctx, marketID)
	if err != nil {
		m.logger.Warn("arbitrage: list votes failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		votes = nil
	}
	return m.detector.Detect(market, latest.CalibratedProbability, CrowdProbability(votes)), nil
}

// Run subscribes to ChannelPredictions and evaluates each update. It blocks
// until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ch, err := m.bus.Subscribe(ctx, ChannelPredictions)
	if err != nil {
		return fmt.Errorf("arbitrage: subscribe %s: %w", ChannelPredictions, err)
	}
	m.logger.Info("arbitrage monitor started")
	defer m.logger.Info("arbitrage monitor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := m.handleMessage(ctx, data); err != nil {
				m.logger.Warn("arbitrage: handle prediction event failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (m *Monitor) handleMessage(ctx context.Context, data []byte) error {
	var ev PredictionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.Event != "prediction_update" || strings.TrimSpace(ev.MarketID) == "" {
		return nil
	}

	market, err := m.markets.GetByID(ctx, ev.MarketID)
	if err != nil {
		return fmt.Errorf("load market %s: %w", ev.MarketID, err)
	}
	if !market.Open() {
		return nil
	}

	votes, err := m.votes.ListByMarket(ctx, market.ID)
	if err != nil {
		// Crowd signal is optional; detect with what we have.
		m.logger.Warn("arbitrage: list votes failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
		votes = nil
	}

	signals := m.detector.Detect(market, ev.CalibratedProbability, CrowdProbability(votes))
	for _, sig := range signals {
		payload, err := json.Marshal(SignalEvent{
			Event:            "arbitrage_signal",
			ID:               sig.ID,
			MarketID:         sig.MarketID,
			Kind:             string(sig.Kind),
			AIProbability:    sig.AIProbability,
			MarketPrice:      sig.MarketPrice,
			CrowdProbability: sig.CrowdProbability,
			Divergence:       sig.Divergence,
			Strength:         sig.Strength,
			Description:      sig.Description,
			Recommendation:   sig.Recommendation,
			DetectedAt:       sig.DetectedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("encode signal: %w", err)
		}
		if err := m.bus.Publish(ctx, ChannelArbitrage, payload); err != nil {
			m.logger.Warn("arbitrage: publish signal failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.Info("arbitrage signal",
			slog.String("market_id", market.ID),
			slog.String("kind", string(sig.Kind)),
			slog.Float64("divergence", sig.Divergence),
			slog.Float64("strength", sig.Strength),
		)
	}
	return nil
}
