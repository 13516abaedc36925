package sentiment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/noise"
)

// fakeEmbedder maps text onto a 2-d space: positive words point one way,
// negative words the other. The anchors land on the poles.
type fakeEmbedder struct {
	nilFor string
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.nilFor != "" && strings.Contains(text, f.nilFor) {
		return nil, nil
	}
	switch {
	case strings.Contains(text, "definitely happen"):
		return []float32{1, 0}, nil
	case strings.Contains(text, "will not happen"):
		return []float32{0, 1}, nil
	case strings.Contains(strings.ToLower(text), "yes"), strings.Contains(strings.ToLower(text), "happening"):
		return []float32{0.9, 0.1}, nil
	case strings.Contains(strings.ToLower(text), "no chance"), strings.Contains(strings.ToLower(text), "dead"):
		return []float32{0.1, 0.9}, nil
	default:
		return []float32{0.5, 0.5}, nil
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func goodAuthor(name string) domain.AccountMetadata {
	return domain.AccountMetadata{
		Username:       name,
		CreatedAt:      time.Now().Add(-2 * 365 * 24 * time.Hour),
		Verified:       true,
		FollowerCount:  2000,
		FollowingCount: 300,
	}
}

func post(id, content string, author domain.AccountMetadata, age time.Duration) domain.SocialPost {
	return domain.SocialPost{
		ID:              id,
		Content:         content,
		Author:          author,
		Platform:        "x",
		PostedAt:        time.Now().Add(-age),
		EngagementScore: 50,
	}
}

func TestAnalyzePositiveConsensus(t *testing.T) {
	agg := NewAggregator(&fakeEmbedder{}, noise.NewFilter(noise.Config{}), Defaults(), discard())

	var posts []domain.SocialPost
	for i := 0; i < 6; i++ {
		posts = append(posts, post(
			fmt.Sprintf("p%d", i),
			fmt.Sprintf("yes this is happening, take %d", i),
			goodAuthor(fmt.Sprintf("trusted_%d", i)),
			time.Duration(i)*time.Hour,
		))
	}

	sig, err := agg.Analyze(context.Background(), posts)
	require.NoError(t, err)

	assert.Equal(t, 6, sig.PostCount)
	assert.Greater(t, sig.WeightedSentiment, 0.5)
	assert.Greater(t, sig.Confidence, 0.0)
}

func TestAnalyzeFiltersLowCredibility(t *testing.T) {
	agg := NewAggregator(&fakeEmbedder{}, noise.NewFilter(noise.Config{}), Defaults(), discard())

	bot := domain.AccountMetadata{
		Username:       "pump4829103",
		CreatedAt:      time.Now().Add(-24 * time.Hour),
		FollowerCount:  2,
		FollowingCount: 9000,
	}
	posts := []domain.SocialPost{
		post("p1", "yes happening for sure", goodAuthor("real"), time.Hour),
		post("p2", "yes happening for sure", bot, time.Hour),
	}

	sig, err := agg.Analyze(context.Background(), posts)
	require.NoError(t, err)

	assert.Equal(t, 1, sig.PostCount)
	assert.Equal(t, 1, sig.FilteredCount)
}

func TestAnalyzeFiltersCoordinatedVariants(t *testing.T) {
	agg := NewAggregator(&fakeEmbedder{}, noise.NewFilter(noise.Config{}), Defaults(), discard())

	// The same astroturfed line with cosmetic variation: grouping is done on
	// normalized content, so every variant must be dropped, not just the one
	// matching the group's sample verbatim.
	posts := []domain.SocialPost{
		post("p1", "Yes happening for sure!", goodAuthor("a"), time.Hour),
		post("p2", "yes happening for sure", goodAuthor("b"), 2*time.Hour),
		post("p3", "YES... happening, for sure", goodAuthor("c"), 3*time.Hour),
		post("p4", "yes, happening for sure?", goodAuthor("d"), 4*time.Hour),
		post("p5", "this one is organic and happening", goodAuthor("e"), time.Hour),
	}

	sig, err := agg.Analyze(context.Background(), posts)
	require.NoError(t, err)

	assert.Equal(t, 1, sig.PostCount)
	assert.Equal(t, 4, sig.FilteredCount)
	assert.GreaterOrEqual(t, sig.CoordinationScore, Defaults().CoordinationLimit)
}

func TestAnalyzeMomentum(t *testing.T) {
	agg := NewAggregator(&fakeEmbedder{}, noise.NewFilter(noise.Config{}), Defaults(), discard())

	// Old posts negative, recent posts positive: momentum must be positive.
	posts := []domain.SocialPost{
		post("p1", "no chance at all", goodAuthor("a"), 40*time.Hour),
		post("p2", "this looks dead", goodAuthor("b"), 30*time.Hour),
		post("p3", "yes clearly happening", goodAuthor("c"), 2*time.Hour),
		post("p4", "yes confirmed", goodAuthor("d"), time.Hour),
	}

	sig, err := agg.Analyze(context.Background(), posts)
	require.NoError(t, err)
	assert.Greater(t, sig.Momentum, 0.5)
}

func TestAnalyzeNilEmbeddingDegrades(t *testing.T) {
	agg := NewAggregator(&fakeEmbedder{nilFor: "opaque"}, noise.NewFilter(noise.Config{}), Defaults(), discard())

	posts := []domain.SocialPost{
		post("p1", "opaque take nobody can embed", goodAuthor("a"), time.Hour),
	}

	sig, err := agg.Analyze(context.Background(), posts)
	require.NoError(t, err, "nil embeddings must degrade to zero signal")
	assert.Equal(t, 1, sig.PostCount)
	assert.Zero(t, sig.WeightedSentiment)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	agg := NewAggregator(&fakeEmbedder{}, noise.NewFilter(noise.Config{}), Defaults(), discard())

	sig, err := agg.Analyze(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, sig.PostCount)
	assert.Zero(t, sig.WeightedSentiment)
	assert.Zero(t, sig.Confidence)
}

func TestConfidenceAgreement(t *testing.T) {
	uniform := []domain.WeightedPost{
		{Sentiment: 0.8}, {Sentiment: 0.8}, {Sentiment: 0.8}, {Sentiment: 0.8},
	}
	split := []domain.WeightedPost{
		{Sentiment: 1}, {Sentiment: -1}, {Sentiment: 1}, {Sentiment: -1},
	}
	assert.Greater(t, confidence(uniform), confidence(split),
		"agreeing posts must yield higher confidence than a split")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}
