// Package pipeline runs the recurring analysis sweeps that keep every open
// market's prediction fresh.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// Analyzer runs one tiered analysis for a market.
type Analyzer interface {
	Analyze(ctx context.Context, marketID string, tier domain.AnalysisTier) (domain.PredictionResult, error)
}

// Config controls sweep cadence. A lightweight sweep covers every open
// market; a daily-tier sweep covers only markets closing within CloseWindow,
// at most once per DailyEvery per market.
type Config struct {
	LightweightInterval time.Duration
	DailyCheckInterval  time.Duration
	DailyEvery          time.Duration
	CloseWindow         time.Duration
	MaxConcurrent       int
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		LightweightInterval: 15 * time.Minute,
		DailyCheckInterval:  time.Hour,
		DailyEvery:          24 * time.Hour,
		CloseWindow:         72 * time.Hour,
		MaxConcurrent:       4,
	}
}

// Scheduler drives the analysis sweeps. Results supersede per market through
// the prediction store's last-write-wins ordering; the scheduler only makes
// sure a market is never analyzed twice concurrently.
type Scheduler struct {
	analyzer Analyzer
	markets  domain.MarketStore
	cfg      Config
	logger   *slog.Logger

	mu        sync.Mutex
	inflight  map[string]bool
	lastDaily map[string]time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(analyzer Analyzer, markets domain.MarketStore, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.LightweightInterval <= 0 {
		cfg = Defaults()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = Defaults().MaxConcurrent
	}
	return &Scheduler{
		analyzer:  analyzer,
		markets:   markets,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "analysis_scheduler")),
		inflight:  make(map[string]bool),
		lastDaily: make(map[string]time.Time),
	}
}

// Run starts both sweep loops and blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "analysis scheduler starting",
		slog.Duration("lightweight_interval", s.cfg.LightweightInterval),
		slog.Duration("close_window", s.cfg.CloseWindow),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(ctx, s.cfg.LightweightInterval, s.SweepLightweight)
	})
	g.Go(func() error {
		return s.loop(ctx, s.cfg.DailyCheckInterval, s.SweepDaily)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		s.logger.Info("analysis scheduler stopped")
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, sweep func(context.Context) error) error {
	// Run immediately on start.
	if err := sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SweepLightweight refreshes every open market at the lightweight tier.
func (s *Scheduler) SweepLightweight(ctx context.Context) error {
	markets, err := s.markets.ListOpen(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("pipeline: lightweight sweep: %w", err)
	}
	ran := s.analyzeAll(ctx, markets, domain.TierLightweight, nil)
	s.logger.InfoContext(ctx, "lightweight sweep complete",
		slog.Int("open_markets", len(markets)),
		slog.Int("analyzed", ran),
	)
	return nil
}

// SweepDaily runs the daily tier for markets closing within CloseWindow, at
// most once per DailyEvery per market.
func (s *Scheduler) SweepDaily(ctx context.Context) error {
	markets, err := s.markets.ListClosingBefore(ctx, time.Now().Add(s.cfg.CloseWindow))
	if err != nil {
		return fmt.Errorf("pipeline: daily sweep: %w", err)
	}
	// Markets that resolved or left the closing window never come back, so
	// their throttle entries can go; otherwise lastDaily grows forever.
	current := make(map[string]bool, len(markets))
	for _, m := range markets {
		current[m.ID] = true
	}
	s.mu.Lock()
	for id := range s.lastDaily {
		if !current[id] {
			delete(s.lastDaily, id)
		}
	}
	s.mu.Unlock()

	now := time.Now()
	ran := s.analyzeAll(ctx, markets, domain.TierDaily, func(id string) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if now.Sub(s.lastDaily[id]) < s.cfg.DailyEvery {
			return false
		}
		s.lastDaily[id] = now
		return true
	})
	s.logger.InfoContext(ctx, "daily sweep complete",
		slog.Int("closing_markets", len(markets)),
		slog.Int("analyzed", ran),
	)
	return nil
}

// analyzeAll fans the analyses out with bounded concurrency. Individual
// failures are logged, never fatal to the sweep.
func (s *Scheduler) analyzeAll(ctx context.Context, markets []domain.Market, tier domain.AnalysisTier, due func(id string) bool) int {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)

	ran := 0
	for _, m := range markets {
		if due != nil && !due(m.ID) {
			continue
		}
		if !s.claim(m.ID) {
			continue
		}
		ran++
		g.Go(func() error {
			defer s.release(m.ID)
			if _, err := s.analyzer.Analyze(ctx, m.ID, tier); err != nil {
				s.logger.WarnContext(ctx, "analysis failed",
					slog.String("market_id", m.ID),
					slog.String("tier", string(tier)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ran
}

func (s *Scheduler) claim(marketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[marketID] {
		return false
	}
	s.inflight[marketID] = true
	return true
}

func (s *Scheduler) release(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, marketID)
}
