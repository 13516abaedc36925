// Package calibration tracks every prediction/outcome pair, measures
// historical accuracy via Brier scores and a 10-bucket calibration curve, and
// nudges raw probabilities toward each bucket's realized frequency. This is
// the self-correcting loop of the forecasting pipeline: systematically
// overconfident agents get pulled back by their own history.
package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// bucketCount partitions [0,1] into deciles; the last bucket includes 1.0.
const bucketCount = 10

// minBucketSamples is how many resolved predictions a bucket needs before
// adjustment trusts its frequency.
const minBucketSamples = 3

// Tracker records predictions and adjusts probabilities against history.
type Tracker struct {
	store  domain.CalibrationStore
	logger *slog.Logger
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(store domain.CalibrationStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With(slog.String("component", "calibration_tracker")),
	}
}

// RecordPrediction upserts the (agent, market) row with the predicted
// probability. Re-running analysis before resolution overwrites the pending
// prediction; resolved rows are never touched.
func (t *Tracker) RecordPrediction(ctx context.Context, agentID, marketID string, probability float64) error {
	if err := t.store.UpsertPrediction(ctx, agentID, marketID, probability); err != nil {
		return fmt.Errorf("calibration: record prediction: %w", err)
	}
	return nil
}

// RecordResolution fills in the outcome and Brier score for every unresolved
// record tied to the market. It is idempotent: already-resolved rows keep
// their original outcome.
func (t *Tracker) RecordResolution(ctx context.Context, marketID string, outcome bool) error {
	if err := t.store.ResolveMarket(ctx, marketID, outcome, time.Now()); err != nil {
		return fmt.Errorf("calibration: record resolution: %w", err)
	}
	return nil
}

// BrierScore returns the mean Brier score over the agent's resolved
// predictions in the window, with the sample count. No samples yields 0.25
// (the score of always predicting 0.5).
func (t *Tracker) BrierScore(ctx context.Context, agentID string, window time.Duration) (float64, int, error) {
	records, err := t.resolved(ctx, agentID, window)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0.25, 0, nil
	}

	sum := 0.0
	for _, r := range records {
		sum += *r.BrierScore
	}
	return sum / float64(len(records)), len(records), nil
}

// Curve partitions the agent's resolved predictions into probability deciles
// and reports predicted average vs realized frequency per bucket.
func (t *Tracker) Curve(ctx context.Context, agentID string, window time.Duration) ([]domain.CalibrationBucket, error) {
	records, err := t.store.ListByAgent(ctx, agentID, since(window))
	if err != nil {
		return nil, fmt.Errorf("calibration: list records: %w", err)
	}
	return buildCurve(records), nil
}

// AdjustProbability nudges raw toward the historical realized frequency of
// its probability bucket. Buckets with fewer than minBucketSamples resolved
// predictions leave raw unchanged. The nudge covers 50-80% of the gap,
// growing with sample size, and the result is clamped to [0.02, 0.98].
func (t *Tracker) AdjustProbability(ctx context.Context, raw float64, agentID string) float64 {
	records, err := t.store.ListByAgent(ctx, agentID, time.Time{})
	if err != nil {
		t.logger.WarnContext(ctx, "calibration lookup failed, returning raw",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		return raw
	}

	bucket := buildCurve(records)[bucketIndex(raw)]
	if bucket.Resolved < minBucketSamples {
		return raw
	}

	gap := bucket.ActualFrequency - raw
	strength := 0.5 + 0.3*math.Min(1, float64(bucket.Resolved-minBucketSamples)/7)
	adjusted := raw + gap*strength

	return math.Max(0.02, math.Min(0.98, adjusted))
}

// Report assembles the full calibration report for an agent.
func (t *Tracker) Report(ctx context.Context, agentID string, window time.Duration) (domain.CalibrationReport, error) {
	records, err := t.store.ListByAgent(ctx, agentID, since(window))
	if err != nil {
		return domain.CalibrationReport{}, fmt.Errorf("calibration: list records: %w", err)
	}

	buckets := buildCurve(records)
	report := domain.CalibrationReport{
		AgentID: agentID,
		Buckets: buckets,
	}

	var brierSum, biasSum float64
	resolved := 0
	for _, r := range records {
		if r.BrierScore == nil || r.ActualOutcome == nil {
			continue
		}
		brierSum += *r.BrierScore
		actual := 0.0
		if *r.ActualOutcome {
			actual = 1.0
		}
		biasSum += r.PredictedProbability - actual
		resolved++
	}
	report.SampleSize = resolved
	if resolved == 0 {
		report.BrierScore = 0.25
		return report, nil
	}
	report.BrierScore = brierSum / float64(resolved)
	report.OverconfidenceBias = biasSum / float64(resolved)

	var errSum float64
	errBuckets := 0
	for _, b := range buckets {
		if b.Resolved > 0 {
			errSum += b.CalibrationError
			errBuckets++
		}
	}
	if errBuckets > 0 {
		report.CalibrationError = errSum / float64(errBuckets)
	}
	return report, nil
}

func (t *Tracker) resolved(ctx context.Context, agentID string, window time.Duration) ([]domain.CalibrationRecord, error) {
	records, err := t.store.ListByAgent(ctx, agentID, since(window))
	if err != nil {
		return nil, fmt.Errorf("calibration: list records: %w", err)
	}
	out := records[:0]
	for _, r := range records {
		if r.BrierScore != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// buildCurve folds records into the ten calibration buckets.
func buildCurve(records []domain.CalibrationRecord) []domain.CalibrationBucket {
	buckets := make([]domain.CalibrationBucket, bucketCount)
	for i := range buckets {
		buckets[i].Low = float64(i) / bucketCount
		buckets[i].High = float64(i+1) / bucketCount
	}

	type acc struct {
		predSum float64
		actSum  float64
	}
	accs := make([]acc, bucketCount)

	for _, r := range records {
		i := bucketIndex(r.PredictedProbability)
		buckets[i].Count++
		accs[i].predSum += r.PredictedProbability
		if r.ActualOutcome != nil {
			buckets[i].Resolved++
			if *r.ActualOutcome {
				accs[i].actSum++
			}
		}
	}

	for i := range buckets {
		if buckets[i].Count > 0 {
			buckets[i].PredictedAvg = accs[i].predSum / float64(buckets[i].Count)
		}
		if buckets[i].Resolved > 0 {
			buckets[i].ActualFrequency = accs[i].actSum / float64(buckets[i].Resolved)
			buckets[i].CalibrationError = math.Abs(buckets[i].PredictedAvg - buckets[i].ActualFrequency)
		}
	}
	return buckets
}

func bucketIndex(p float64) int {
	i := int(p * bucketCount)
	if i >= bucketCount {
		i = bucketCount - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func since(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-window)
}
