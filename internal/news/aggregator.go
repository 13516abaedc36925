// Package news fetches and scores news coverage for a market question. Each
// article is scored against a source credibility table and sent to the
// text-completion service for stance and relevance, then folded into an
// aggregate signal.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// Config holds the aggregator's cost and freshness controls.
type Config struct {
	MaxArticles    int           // cap on LLM-scored articles per run
	SearchWindow   time.Duration // how far back to search
	ArticleTimeout time.Duration // per-article completion timeout
	Concurrency    int
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		MaxArticles:    8,
		SearchWindow:   72 * time.Hour,
		ArticleTimeout: 20 * time.Second,
		Concurrency:    4,
	}
}

// Aggregator turns raw search results into a scored NewsSignal.
type Aggregator struct {
	search domain.SearchClient
	llm    domain.CompletionClient
	cfg    Config
	logger *slog.Logger
}

// NewAggregator creates an Aggregator with the given collaborators.
func NewAggregator(search domain.SearchClient, llm domain.CompletionClient, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.MaxArticles <= 0 {
		cfg = Defaults()
	}
	return &Aggregator{
		search: search,
		llm:    llm,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "news_aggregator")),
	}
}

// articleScore is the strict JSON shape required from the completion service.
type articleScore struct {
	Summary   string  `json:"summary"`
	Stance    float64 `json:"stance"`
	Relevance float64 `json:"relevance"`
}

const scoreSystemPrompt = `You score news articles for a binary prediction market.
Respond with ONLY a JSON object: {"summary": "<one sentence>", "stance": <float -1..1>, "relevance": <float 0..1>}.
Stance is the direction the article pushes the probability of YES: -1 strongly no, 0 neutral, 1 strongly yes.`

// Analyze searches for coverage of the question and produces a NewsSignal.
// It returns an error only when the search collaborator fails outright;
// per-article scoring failures degrade that article to a neutral score.
func (a *Aggregator) Analyze(ctx context.Context, question string) (*domain.NewsSignal, error) {
	results, err := a.search.Search(ctx, question, a.cfg.SearchWindow)
	if err != nil {
		return nil, fmt.Errorf("news: search %q: %w", question, err)
	}
	if len(results) == 0 {
		return &domain.NewsSignal{}, nil
	}
	if len(results) > a.cfg.MaxArticles {
		results = results[:a.cfg.MaxArticles]
	}

	// Each goroutine writes only its own index.
	items := make([]domain.NewsItem, len(results))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, r := range results {
		g.Go(func() error {
			item := domain.NewsItem{
				Title:       r.Title,
				Snippet:     r.Snippet,
				URL:         r.URL,
				Source:      r.Source,
				PublishedAt: r.PublishedAt,
				Credibility: SourceCredibility(hostOf(r)),
			}

			score, err := a.scoreArticle(gctx, question, r)
			if err != nil {
				// Unscored articles stay neutral; they still count toward
				// volume but contribute nothing to the weighted signal.
				a.logger.WarnContext(gctx, "article scoring failed",
					slog.String("url", r.URL),
					slog.String("error", err.Error()),
				)
			} else {
				item.Summary = score.Summary
				item.Stance = clamp(score.Stance, -1, 1)
				item.Relevance = clamp(score.Relevance, 0, 1)
			}

			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	return a.aggregate(items), nil
}

// scoreArticle asks the completion service for a bounded stance/relevance
// judgement on one article.
func (a *Aggregator) scoreArticle(ctx context.Context, question string, r domain.SearchResult) (articleScore, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ArticleTimeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Market question: %s\n\nArticle title: %s\nArticle snippet: %s\nSource: %s",
		question, r.Title, r.Snippet, r.Source)

	raw, err := a.llm.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: scoreSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    300,
		Temperature:  0.1,
	})
	if err != nil {
		return articleScore{}, fmt.Errorf("news: complete: %w", err)
	}

	var score articleScore
	if err := json.Unmarshal([]byte(extractJSON(raw)), &score); err != nil {
		return articleScore{}, fmt.Errorf("news: parse article score: %w", err)
	}
	return score, nil
}

// aggregate folds scored items into the overall and credibility-weighted
// signals.
func (a *Aggregator) aggregate(items []domain.NewsItem) *domain.NewsSignal {
	sig := &domain.NewsSignal{
		Items:        items,
		ArticleCount: len(items),
	}

	var stanceSum, weightedSum, weightSum float64
	for _, item := range items {
		stanceSum += item.Stance
		w := item.Credibility * item.Relevance
		weightedSum += item.Stance * w
		weightSum += w
		if item.PublishedAt.After(sig.FreshestAt) {
			sig.FreshestAt = item.PublishedAt
		}
	}
	if len(items) > 0 {
		sig.OverallSignal = stanceSum / float64(len(items))
	}
	if weightSum > 0 {
		sig.CredibilityWeightedSignal = weightedSum / weightSum
	}
	return sig
}

// hostOf prefers the result's source field, falling back to the URL host.
func hostOf(r domain.SearchResult) string {
	if r.Source != "" {
		return r.Source
	}
	if u, err := url.Parse(r.URL); err == nil {
		return u.Host
	}
	return ""
}

// extractJSON returns the first top-level JSON object embedded in s, so
// responses wrapped in prose or markdown fences still parse.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
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
