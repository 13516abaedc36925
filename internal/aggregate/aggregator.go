// Package aggregate fans out to the news, sentiment, and similarity pipelines
// concurrently and folds their outputs into a single DataBundle. Any single
// source failing degrades that signal to missing; the bundle itself always
// succeeds, with the gap reflected in the data-quality score.
package aggregate

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/news"
	"github.com/foresightmarkets/foresight/internal/sentiment"
	"github.com/foresightmarkets/foresight/internal/similarity"
)

// Config holds fan-out timing parameters.
type Config struct {
	TaskTimeout time.Duration // per-source budget
	PostWindow  time.Duration // how far back to fetch social posts
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		TaskTimeout: 45 * time.Second,
		PostWindow:  48 * time.Hour,
	}
}

// Aggregator runs the three signal pipelines for a market.
type Aggregator struct {
	news       *news.Aggregator
	sentiment  *sentiment.Aggregator
	similarity *similarity.Engine
	posts      domain.PostSource
	cfg        Config
	logger     *slog.Logger
}

// NewAggregator creates an Aggregator over the three pipelines.
func NewAggregator(
	newsAgg *news.Aggregator,
	sentAgg *sentiment.Aggregator,
	simEngine *similarity.Engine,
	posts domain.PostSource,
	cfg Config,
	logger *slog.Logger,
) *Aggregator {
	if cfg.TaskTimeout <= 0 {
		cfg = Defaults()
	}
	return &Aggregator{
		news:       newsAgg,
		sentiment:  sentAgg,
		similarity: simEngine,
		posts:      posts,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "data_aggregator")),
	}
}

// Collect gathers all available signals for the market. Individual source
// failures are logged and leave the corresponding field nil; Collect itself
// never returns an error from a source.
func (a *Aggregator) Collect(ctx context.Context, market domain.Market) domain.DataBundle {
	bundle := domain.DataBundle{
		MarketID:    market.ID,
		CollectedAt: time.Now(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, a.cfg.TaskTimeout)
		defer cancel()
		sig, err := a.news.Analyze(tctx, market.Question)
		if err != nil {
			a.logger.WarnContext(tctx, "news signal failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		bundle.News = sig
		return nil
	})

	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, a.cfg.TaskTimeout)
		defer cancel()
		posts, err := a.posts.FetchPosts(tctx, market.Question, a.cfg.PostWindow)
		if err != nil {
			a.logger.WarnContext(tctx, "post fetch failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		sig, err := a.sentiment.Analyze(tctx, posts)
		if err != nil {
			a.logger.WarnContext(tctx, "sentiment signal failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		bundle.Sentiment = sig
		return nil
	})

	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, a.cfg.TaskTimeout)
		defer cancel()
		sig, err := a.similarity.Analyze(tctx, market.Question)
		if err != nil {
			a.logger.WarnContext(tctx, "similarity signal failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		bundle.Similarity = sig
		return nil
	})

	_ = g.Wait()

	bundle.DataQualityScore = QualityScore(bundle, bundle.CollectedAt)
	return bundle
}

// QualityScore weighs how much usable evidence the bundle carries: news
// contributes up to 0.4, sentiment up to 0.35, similarity up to 0.25.
func QualityScore(b domain.DataBundle, now time.Time) float64 {
	score := 0.0

	if b.News != nil && b.News.ArticleCount > 0 {
		volume := math.Min(1, float64(b.News.ArticleCount)/8)
		freshness := freshness(b.News.FreshestAt, now, 72*time.Hour)
		credibility := 0.0
		for _, item := range b.News.Items {
			credibility += item.Credibility
		}
		credibility /= float64(len(b.News.Items))
		score += 0.4 * (0.4*volume + 0.3*freshness + 0.3*credibility)
	}

	if b.Sentiment != nil && b.Sentiment.PostCount > 0 {
		volume := math.Min(1, float64(b.Sentiment.PostCount)/20)
		freshness := freshness(b.Sentiment.FreshestAt, now, 48*time.Hour)
		score += 0.35 * (0.35*volume + 0.4*b.Sentiment.Confidence + 0.25*freshness)
	}

	if b.Similarity != nil && len(b.Similarity.Markets) > 0 {
		count := math.Min(1, float64(len(b.Similarity.Markets))/5)
		score += 0.25 * (0.5*count + 0.5*b.Similarity.AverageSimilarity)
	}

	return score
}

// freshness maps the age of the newest datum onto [0,1], decaying linearly to
// zero over maxAge.
func freshness(at, now time.Time, maxAge time.Duration) float64 {
	if at.IsZero() {
		return 0
	}
	age := now.Sub(at)
	if age <= 0 {
		return 1
	}
	if age >= maxAge {
		return 0
	}
	return 1 - float64(age)/float64(maxAge)
}
