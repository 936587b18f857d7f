package handler

import (
	"log/slog"
	"net/http"

	"github.com/civicpulse/marketd/internal/domain"
	"github.com/civicpulse/marketd/internal/service"
)

// PredictionHandler serves trade execution and prediction queries.
type PredictionHandler struct {
	predictions *service.PredictionService
	settlement  *service.SettlementService
	logger      *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(predictions *service.PredictionService, settlement *service.SettlementService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{
		predictions: predictions,
		settlement:  settlement,
		logger:      logHandler(logger, "prediction"),
	}
}

type placeRequest struct {
	MarketID         string  `json:"market_id"`
	UserID           string  `json:"user_id"`
	Stake            float64 `json:"stake"`
	Outcome          string  `json:"outcome"`
	FundedFromBuffer bool    `json:"funded_from_buffer"`
}

// PlacePrediction executes a trade.
// POST /api/predictions
func (h *PredictionHandler) PlacePrediction(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MarketID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "market_id and user_id are required")
		return
	}

	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pred, err := h.predictions.Place(r.Context(), service.PlaceRequest{
		MarketID:         req.MarketID,
		UserID:           req.UserID,
		Stake:            req.Stake,
		Outcome:          outcome,
		FundedFromBuffer: req.FundedFromBuffer,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pred)
}

// GetPrediction returns one prediction.
// GET /api/predictions/{id}
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	pred, err := h.predictions.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// ListUserPredictions returns a user's predictions with pagination.
// GET /api/users/{id}/predictions
func (h *PredictionHandler) ListUserPredictions(w http.ResponseWriter, r *http.Request) {
	preds, err := h.predictions.ListByUser(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if preds == nil {
		preds = []domain.Prediction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": preds})
}

// ResolvePrediction retries settlement for a single prediction whose market
// has already resolved.
// POST /api/predictions/{id}/resolve
func (h *PredictionHandler) ResolvePrediction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.settlement.ResolvePrediction(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled", "prediction_id": id})
}
