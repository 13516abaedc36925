// Package analyst provides independent signal analyzers that each examine one
// aspect of an aggregated data bundle. The orchestrator runs them
// concurrently and folds their insights for the deep synthesis tier. Each
// analyzer is a small, separately testable unit behind a shared interface
// rather than an inheritance chain.
package analyst

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// Insight is one analyzer's contribution to a deep analysis run.
type Insight struct {
	Analyst    string
	Summary    string
	Adjustment float64 // suggested shift on P(yes), in [-0.2, 0.2]
	Confidence float64
}

// Analyzer examines one aspect of the evidence bundle.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, market domain.Market, bundle domain.DataBundle) (Insight, error)
}

// Orchestrator fans analyzers out concurrently and collects their insights.
type Orchestrator struct {
	analyzers []Analyzer
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator over the default analyzer set.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		analyzers: []Analyzer{
			&SourceCredibilityAnalyzer{},
			&HistoricalContextAnalyzer{},
			&LogicalConsistencyAnalyzer{},
			&EvidenceAnalyzer{},
		},
		logger: logger.With(slog.String("component", "analyst_orchestrator")),
	}
}

// Run executes every analyzer concurrently. A failing analyzer is logged and
// skipped; the remaining insights are returned in stable name order.
func (o *Orchestrator) Run(ctx context.Context, market domain.Market, bundle domain.DataBundle) []Insight {
	var mu sync.Mutex
	var insights []Insight

	g, gctx := errgroup.WithContext(ctx)
	for _, an := range o.analyzers {
		g.Go(func() error {
			insight, err := an.Analyze(gctx, market, bundle)
			if err != nil {
				o.logger.WarnContext(gctx, "analyzer failed",
					slog.String("analyzer", an.Name()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			insights = append(insights, insight)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(insights, func(i, j int) bool { return insights[i].Analyst < insights[j].Analyst })
	return insights
}
