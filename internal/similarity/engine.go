// Package similarity finds resolved markets semantically close to a new
// question and transfers a prior probability from their outcomes. The prior
// is deliberately shrunk toward 0.5 so a single lookalike market can never
// manufacture false certainty.
package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// Config holds the engine's retrieval parameters.
type Config struct {
	MinSimilarity float64 // floor below which neighbours are ignored
	MaxResults    int
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		MinSimilarity: 0.55,
		MaxResults:    5,
	}
}

// Engine retrieves similar resolved markets and derives a prior from them.
type Engine struct {
	embed  domain.EmbeddingClient
	store  domain.EmbeddingStore
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine over the given embedding collaborator and
// vector store.
func NewEngine(embed domain.EmbeddingClient, store domain.EmbeddingStore, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxResults <= 0 {
		cfg = Defaults()
	}
	return &Engine{
		embed:  embed,
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "similarity_engine")),
	}
}

// FindSimilar embeds the question and returns up to MaxResults resolved
// markets above the similarity floor. When the embedding service yields
// nothing, it falls back to full-text search so the signal degrades instead
// of disappearing.
func (e *Engine) FindSimilar(ctx context.Context, question string) ([]domain.SimilarMarket, error) {
	vec, err := e.embed.Embed(ctx, question)
	if err != nil || vec == nil {
		if err != nil {
			e.logger.WarnContext(ctx, "question embedding failed, using text fallback",
				slog.String("error", err.Error()),
			)
		}
		markets, ferr := e.store.SearchResolvedByText(ctx, question, e.cfg.MaxResults)
		if ferr != nil {
			return nil, fmt.Errorf("similarity: text fallback: %w", ferr)
		}
		return markets, nil
	}

	markets, err := e.store.SearchResolved(ctx, vec, e.cfg.MinSimilarity, e.cfg.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("similarity: vector search: %w", err)
	}
	return markets, nil
}

// Analyze produces the full similarity signal for a question.
func (e *Engine) Analyze(ctx context.Context, question string) (*domain.SimilaritySignal, error) {
	markets, err := e.FindSimilar(ctx, question)
	if err != nil {
		return nil, err
	}

	sig := &domain.SimilaritySignal{
		Markets:          markets,
		TransferredPrior: TransferInitialProbability(markets),
	}
	if len(markets) > 0 {
		sum := 0.0
		for _, m := range markets {
			sum += m.SimilarityScore
		}
		sig.AverageSimilarity = sum / float64(len(markets))
	}
	return sig, nil
}

// Index embeds a market question and stores the vector so the market can be
// found as an analog once it resolves. Returns domain.ErrNoEmbedding when the
// embedding service declines the text.
func (e *Engine) Index(ctx context.Context, marketID, question string) error {
	vec, err := e.embed.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("similarity: embed question: %w", err)
	}
	if vec == nil {
		return domain.ErrNoEmbedding
	}
	if err := e.store.Upsert(ctx, marketID, vec); err != nil {
		return fmt.Errorf("similarity: index market %s: %w", marketID, err)
	}
	return nil
}

// TransferInitialProbability bootstraps a prior from resolved lookalikes: a
// similarity²-weighted average of outcome indicators, regressed toward 0.5 by
// min(0.5, 1/(n+1)) and clamped to [0.15, 0.85]. With no neighbours it
// returns 0.5.
func TransferInitialProbability(markets []domain.SimilarMarket) float64 {
	if len(markets) == 0 {
		return 0.5
	}

	var weighted, weightSum float64
	for _, m := range markets {
		w := m.SimilarityScore * m.SimilarityScore
		outcome := 0.0
		if m.Outcome == domain.OutcomeYes {
			outcome = 1.0
		}
		weighted += outcome * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0.5
	}

	estimate := weighted / weightSum
	regression := math.Min(0.5, 1/float64(len(markets)+1))
	shrunk := estimate*(1-regression) + 0.5*regression

	return math.Max(0.15, math.Min(0.85, shrunk))
}
