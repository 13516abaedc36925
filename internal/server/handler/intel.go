package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/service"
)

// IntelService is what the intelligence handler needs from the service layer.
type IntelService interface {
	Analyze(ctx context.Context, marketID string, tier domain.AnalysisTier) (domain.PredictionResult, error)
	GetIntelligence(ctx context.Context, marketID string) (service.Intelligence, error)
	CalibrationReport(ctx context.Context, agentID string, window time.Duration) (domain.CalibrationReport, error)
}

// SignalFinder computes the current divergence signals for a market.
type SignalFinder interface {
	Snapshot(ctx context.Context, marketID string) ([]domain.ArbitrageSignal, error)
}

// IntelHandler serves the analysis and calibration endpoints.
type IntelHandler struct {
	intel   IntelService
	signals SignalFinder
	logger  *slog.Logger
}

// NewIntelHandler creates an IntelHandler.
func NewIntelHandler(intel IntelService, signals SignalFinder, logger *slog.Logger) *IntelHandler {
	return &IntelHandler{intel: intel, signals: signals, logger: logger}
}

type intelResponse struct {
	Prediction     predictionDTO      `json:"prediction"`
	SimilarMarkets []similarMarketDTO `json:"similar_markets"`
	FromCache      bool               `json:"from_cache"`
}

// GetIntelligence returns the latest prediction plus comparable resolved
// markets.
// GET /api/markets/{id}/intel
func (h *IntelHandler) GetIntelligence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	intel, err := h.intel.GetIntelligence(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intelResponse{
		Prediction:     toPredictionDTO(intel.Prediction),
		SimilarMarkets: toSimilarMarketDTOs(intel.SimilarMarkets),
		FromCache:      intel.FromCache,
	})
}

type analyzeRequest struct {
	Tier string `json:"tier"`
}

// Analyze triggers a synthesis run at the requested tier (default daily).
// POST /api/markets/{id}/analyze
func (h *IntelHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	req := analyzeRequest{Tier: string(domain.TierDaily)}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	tier := domain.AnalysisTier(req.Tier)
	switch tier {
	case domain.TierLightweight, domain.TierDaily, domain.TierDeep:
	default:
		writeError(w, http.StatusBadRequest, "unknown analysis tier")
		return
	}

	result, err := h.intel.Analyze(r.Context(), id, tier)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: analyze failed",
			slog.String("market_id", id),
			slog.String("tier", req.Tier),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPredictionDTO(result))
}

// GetArbitrage returns the market's current divergence signals.
// GET /api/markets/{id}/arbitrage
func (h *IntelHandler) GetArbitrage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	signals, err := h.signals.Snapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": toSignalDTOs(signals)})
}

// GetCalibration returns an agent's calibration report. The optional
// ?window_days= query bounds the history; default is all time.
// GET /api/calibration/{agent}
func (h *IntelHandler) GetCalibration(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("agent")

	var window time.Duration
	if v := r.URL.Query().Get("window_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			writeError(w, http.StatusBadRequest, "invalid window_days")
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	report, err := h.intel.CalibrationReport(r.Context(), agent, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCalibrationReportDTO(report))
}
