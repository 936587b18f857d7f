package handler

import (
	"log/slog"
	"net/http"

	"github.com/civicpulse/marketd/internal/domain"
	"github.com/civicpulse/marketd/internal/service"
)

// LiquidityHandler serves pool liquidity and buffer account operations.
type LiquidityHandler struct {
	liquidity *service.LiquidityService
	logger    *slog.Logger
}

// NewLiquidityHandler creates a LiquidityHandler.
func NewLiquidityHandler(liquidity *service.LiquidityService, logger *slog.Logger) *LiquidityHandler {
	return &LiquidityHandler{
		liquidity: liquidity,
		logger:    logHandler(logger, "liquidity"),
	}
}

type provideRequest struct {
	ProviderID string  `json:"provider_id"`
	Amount     float64 `json:"amount"`
}

// ProvideLiquidity deposits into a market's pool.
// POST /api/markets/{id}/liquidity
func (h *LiquidityHandler) ProvideLiquidity(w http.ResponseWriter, r *http.Request) {
	var req provideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	pos, err := h.liquidity.Provide(r.Context(), r.PathValue("id"), req.ProviderID, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type withdrawRequest struct {
	ProviderID string  `json:"provider_id"`
	LPShares   float64 `json:"lp_shares"`
}

// WithdrawLiquidity burns LP shares for the proportional pool amounts.
// POST /api/markets/{id}/liquidity/withdraw
func (h *LiquidityHandler) WithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	res, err := h.liquidity.Withdraw(r.Context(), r.PathValue("id"), req.ProviderID, req.LPShares)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPositions returns every LP position on a market.
// GET /api/markets/{id}/liquidity
func (h *LiquidityHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.liquidity.PositionsByMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.LiquidityPosition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// GetSharePercentage returns a provider's pool ownership as a percentage.
// GET /api/markets/{id}/liquidity/{provider}
func (h *LiquidityHandler) GetSharePercentage(w http.ResponseWriter, r *http.Request) {
	pct, err := h.liquidity.SharePercentage(r.Context(), r.PathValue("id"), r.PathValue("provider"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"share_percentage": pct})
}

// DistributeFees pays accumulated trading fees out to the market's LPs.
// POST /api/markets/{id}/fees/distribute
func (h *LiquidityHandler) DistributeFees(w http.ResponseWriter, r *http.Request) {
	total, err := h.liquidity.DistributeFees(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"distributed": total})
}

type bufferRequest struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

// DepositBuffer moves funds into the user's liquidity buffer.
// POST /api/buffer/deposit
func (h *LiquidityHandler) DepositBuffer(w http.ResponseWriter, r *http.Request) {
	var req bufferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.liquidity.DepositBuffer(r.Context(), req.UserID, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

// WithdrawBuffer moves funds back out of the buffer after the lockout.
// POST /api/buffer/withdraw
func (h *LiquidityHandler) WithdrawBuffer(w http.ResponseWriter, r *http.Request) {
	var req bufferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.liquidity.WithdrawBuffer(r.Context(), req.UserID, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}
