// Package sentiment converts raw social posts into a credibility- and
// recency-weighted sentiment signal. Post stance comes from embedding
// similarity against two precomputed anchor embeddings rather than per-post
// completions, which keeps the pipeline cheap enough to run on every
// aggregation pass.
package sentiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/noise"
)

// Anchor texts for the positive and negative stance poles.
const (
	anchorPositive = "This will definitely happen. The outcome is certain, confirmed, and on track. Strong yes."
	anchorNegative = "This will not happen. The outcome has failed, been cancelled, or is impossible. Strong no."
)

// Config holds the aggregator's filtering and weighting parameters.
type Config struct {
	MinCredibility    float64 // posts below this are dropped
	RecencyHalfLife   time.Duration
	CoordinationLimit float64 // above this, duplicated posts are dropped too
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		MinCredibility:    0.3,
		RecencyHalfLife:   12 * time.Hour,
		CoordinationLimit: 0.6,
	}
}

// Aggregator scores and folds social posts into a SentimentSignal.
type Aggregator struct {
	embed  domain.EmbeddingClient
	filter *noise.Filter
	cfg    Config
	logger *slog.Logger

	anchorOnce sync.Once
	anchorPos  []float32
	anchorNeg  []float32
	anchorErr  error
}

// NewAggregator creates an Aggregator. Anchor embeddings are computed lazily
// on first use and cached for the process lifetime.
func NewAggregator(embed domain.EmbeddingClient, filter *noise.Filter, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.MinCredibility <= 0 {
		cfg = Defaults()
	}
	return &Aggregator{
		embed:  embed,
		filter: filter,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sentiment_aggregator")),
	}
}

// Analyze filters posts for noise, scores each survivor's sentiment by anchor
// similarity, and aggregates using the combined post weights. A nil or failed
// embedding degrades that post to zero sentiment rather than failing the run.
func (a *Aggregator) Analyze(ctx context.Context, posts []domain.SocialPost) (*domain.SentimentSignal, error) {
	now := time.Now()

	coord := a.filter.DetectCoordination(posts, 24*time.Hour)

	weighted, filtered := a.weigh(ctx, posts, coord, now)

	sig := &domain.SentimentSignal{
		PostCount:         len(weighted),
		FilteredCount:     filtered,
		CoordinationScore: coord.Score,
	}
	if len(weighted) == 0 {
		return sig, nil
	}

	var sum, weightSum float64
	for _, p := range weighted {
		w := p.CombinedWeight()
		sum += p.Sentiment * w
		weightSum += w
		if p.Post.PostedAt.After(sig.FreshestAt) {
			sig.FreshestAt = p.Post.PostedAt
		}
	}
	if weightSum > 0 {
		sig.WeightedSentiment = sum / weightSum
	}

	sig.Momentum = momentum(weighted)
	sig.Confidence = confidence(weighted)
	return sig, nil
}

// weigh drops low-credibility and coordinated posts, then builds WeightedPost
// records for the rest.
func (a *Aggregator) weigh(ctx context.Context, posts []domain.SocialPost, coord noise.CoordinationResult, now time.Time) ([]domain.WeightedPost, int) {
	// Examples hold one raw sample per duplicated group; matching must happen
	// on the normalized form or case/punctuation variants slip through.
	coordinated := make(map[string]bool, len(coord.Examples))
	if coord.Score >= a.cfg.CoordinationLimit {
		for _, ex := range coord.Examples {
			coordinated[noise.NormalizeContent(ex)] = true
		}
	}

	var out []domain.WeightedPost
	filtered := 0
	for _, p := range posts {
		cred := a.filter.Credibility(p.Author, now)
		if cred < a.cfg.MinCredibility || coordinated[noise.NormalizeContent(p.Content)] {
			filtered++
			continue
		}

		s, err := a.postSentiment(ctx, p.Content)
		if err != nil {
			a.logger.WarnContext(ctx, "post embedding failed",
				slog.String("post_id", p.ID),
				slog.String("error", err.Error()),
			)
			s = 0
		}

		out = append(out, domain.WeightedPost{
			Post:              p,
			Sentiment:         s,
			CredibilityWeight: cred,
			RecencyWeight:     a.filter.RecencyWeight(p.PostedAt, now, a.cfg.RecencyHalfLife),
			EngagementWeight:  engagementWeight(p.EngagementScore),
		})
	}
	return out, filtered
}

// postSentiment maps a post onto [-1,1] by its cosine similarity to the two
// stance anchors.
func (a *Aggregator) postSentiment(ctx context.Context, content string) (float64, error) {
	if err := a.ensureAnchors(ctx); err != nil {
		return 0, err
	}

	vec, err := a.embed.Embed(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("sentiment: embed post: %w", err)
	}
	if vec == nil {
		return 0, nil
	}

	simPos := CosineSimilarity(vec, a.anchorPos)
	simNeg := CosineSimilarity(vec, a.anchorNeg)
	return clamp((simPos-simNeg)*2, -1, 1), nil
}

// ensureAnchors embeds the anchor texts once.
func (a *Aggregator) ensureAnchors(ctx context.Context) error {
	a.anchorOnce.Do(func() {
		pos, err := a.embed.Embed(ctx, anchorPositive)
		if err != nil || pos == nil {
			a.anchorErr = fmt.Errorf("sentiment: embed positive anchor: %w", orNoEmbedding(err))
			return
		}
		neg, err := a.embed.Embed(ctx, anchorNegative)
		if err != nil || neg == nil {
			a.anchorErr = fmt.Errorf("sentiment: embed negative anchor: %w", orNoEmbedding(err))
			return
		}
		a.anchorPos, a.anchorNeg = pos, neg
	})
	return a.anchorErr
}

// momentum is the late-half average sentiment minus the early-half average,
// a positive value meaning the conversation is trending toward YES.
func momentum(posts []domain.WeightedPost) float64 {
	if len(posts) < 4 {
		return 0
	}
	sorted := make([]domain.WeightedPost, len(posts))
	copy(sorted, posts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Post.PostedAt.Before(sorted[j].Post.PostedAt)
	})

	mid := len(sorted) / 2
	return mean(sorted[mid:]) - mean(sorted[:mid])
}

// confidence combines post volume with inter-post agreement, 1/(1+2*variance).
func confidence(posts []domain.WeightedPost) float64 {
	if len(posts) == 0 {
		return 0
	}
	m := mean(posts)
	variance := 0.0
	for _, p := range posts {
		variance += (p.Sentiment - m) * (p.Sentiment - m)
	}
	variance /= float64(len(posts))

	agreement := 1 / (1 + 2*variance)
	volume := math.Min(1, float64(len(posts))/20)
	return agreement * volume
}

func mean(posts []domain.WeightedPost) float64 {
	if len(posts) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range posts {
		sum += p.Sentiment
	}
	return sum / float64(len(posts))
}

// engagementWeight log-scales raw engagement into (0,1].
func engagementWeight(score float64) float64 {
	if score <= 0 {
		return 0.2
	}
	return math.Min(1, 0.2+0.2*math.Log10(1+score))
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func orNoEmbedding(err error) error {
	if err != nil {
		return err
	}
	return domain.ErrNoEmbedding
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
