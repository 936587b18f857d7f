package handler

import (
	"log/slog"
	"net/http"

	"github.com/civicpulse/marketd/internal/domain"
	"github.com/civicpulse/marketd/internal/service"
)

// ResolutionHandler serves market resolution.
type ResolutionHandler struct {
	settlement *service.SettlementService
	logger     *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(settlement *service.SettlementService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		settlement: settlement,
		logger:     logHandler(logger, "resolution"),
	}
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveMarket locks in a market's outcome and settles its open predictions.
// POST /api/markets/{id}/resolve
func (h *ResolutionHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summary, err := h.settlement.ResolveMarket(r.Context(), r.PathValue("id"), outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
