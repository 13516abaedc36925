package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// marketSnapshot is the JSON document archived per resolved market.
type marketSnapshot struct {
	MarketID           string             `json:"market_id"`
	Question           string             `json:"question"`
	Category           string             `json:"category"`
	ResolutionCriteria string             `json:"resolution_criteria"`
	WinningOutcome     string             `json:"winning_outcome"`
	ResolutionSource   string             `json:"resolution_source"`
	FinalProbability   float64            `json:"final_probability"`
	ResolvedAt         *time.Time         `json:"resolved_at"`
	TradeCount         int                `json:"trade_count"`
	TotalVolume        float64            `json:"total_volume"`
	Trades             []tradeRecord      `json:"trades"`
	Predictions        []predictionRecord `json:"predictions"`
	ArchivedAt         time.Time          `json:"archived_at"`
}

type tradeRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Outcome   string    `json:"outcome"`
	Shares    float64   `json:"shares"`
	Price     float64   `json:"price"`
	Cost      float64   `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}

type predictionRecord struct {
	ID                    string    `json:"id"`
	RawProbability        float64   `json:"raw_probability"`
	CalibratedProbability float64   `json:"calibrated_probability"`
	Confidence            float64   `json:"confidence"`
	AnalysisTier          string    `json:"analysis_tier"`
	DataQualityScore      float64   `json:"data_quality_score"`
	CreatedAt             time.Time `json:"created_at"`
}

// MarketArchiver implements domain.Archiver: after a market resolves, its
// full trading and forecasting history is written to object storage as one
// JSON snapshot, keyed by resolution month.
type MarketArchiver struct {
	writer      domain.BlobWriter
	markets     domain.MarketStore
	trades      domain.TradeStore
	predictions domain.PredictionStore
	audit       domain.AuditStore
}

// NewMarketArchiver creates a MarketArchiver.
func NewMarketArchiver(
	writer domain.BlobWriter,
	markets domain.MarketStore,
	trades domain.TradeStore,
	predictions domain.PredictionStore,
	audit domain.AuditStore,
) *MarketArchiver {
	return &MarketArchiver{
		writer:      writer,
		markets:     markets,
		trades:      trades,
		predictions: predictions,
		audit:       audit,
	}
}

// ArchiveMarket uploads the snapshot for a resolved market and returns the
// object path. Archiving an unresolved market is an error.
func (a *MarketArchiver) ArchiveMarket(ctx context.Context, marketID string) (string, error) {
	market, err := a.markets.GetByID(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market load: %w", err)
	}
	if market.Status != domain.MarketStatusResolved || market.WinningOutcome == nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID, domain.ErrMarketNotOpen)
	}

	trades, err := a.trades.ListByMarket(ctx, marketID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market trades: %w", err)
	}
	predictions, err := a.predictions.ListByMarket(ctx, marketID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market predictions: %w", err)
	}

	snap := marketSnapshot{
		MarketID:           market.ID,
		Question:           market.Question,
		Category:           market.Category,
		ResolutionCriteria: market.ResolutionCriteria,
		WinningOutcome:     string(*market.WinningOutcome),
		ResolutionSource:   market.ResolutionSource,
		FinalProbability:   market.ImpliedProbability(),
		ResolvedAt:         market.ResolvedAt,
		TradeCount:         len(trades),
		ArchivedAt:         time.Now().UTC(),
	}
	for _, t := range trades {
		snap.TotalVolume += t.Cost
		snap.Trades = append(snap.Trades, tradeRecord{
			ID:        t.ID,
			UserID:    t.UserID,
			Outcome:   string(t.Outcome),
			Shares:    t.Shares,
			Price:     t.Price,
			Cost:      t.Cost,
			CreatedAt: t.CreatedAt,
		})
	}
	for _, p := range predictions {
		snap.Predictions = append(snap.Predictions, predictionRecord{
			ID:                    p.ID,
			RawProbability:        p.RawProbability,
			CalibratedProbability: p.CalibratedProbability,
			Confidence:            p.Confidence,
			AnalysisTier:          string(p.AnalysisTier),
			DataQualityScore:      p.DataQualityScore,
			CreatedAt:             p.CreatedAt,
		})
	}

	buf, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market marshal: %w", err)
	}

	path := archivePath(market)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive market upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.market", map[string]any{
		"path":      path,
		"market_id": market.ID,
		"trades":    len(trades),
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive market audit log: %w", err)
	}
	return path, nil
}

// archivePath partitions snapshots by resolution month:
//
//	archive/markets/2026-08/<market_id>.json
func archivePath(market domain.Market) string {
	at := time.Now().UTC()
	if market.ResolvedAt != nil {
		at = market.ResolvedAt.UTC()
	}
	return fmt.Sprintf("archive/markets/%s/%s.json", at.Format("2006-01"), market.ID)
}

var _ domain.Archiver = (*MarketArchiver)(nil)
