package handler

import (
	"log/slog"
	"net/http"

	"github.com/civicpulse/marketd/internal/domain"
	"github.com/civicpulse/marketd/internal/service"
)

// MarketHandler serves market CRUD, odds, and trade previews.
type MarketHandler struct {
	markets *service.MarketService
	odds    *service.OddsService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets *service.MarketService, odds *service.OddsService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		odds:    odds,
		logger:  logHandler(logger, "market"),
	}
}

// ListMarkets returns active markets with pagination.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.odds.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.odds.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

type createMarketRequest struct {
	Question         string  `json:"question"`
	Slug             string  `json:"slug"`
	InitialLiquidity float64 `json:"initial_liquidity"`
	FeeRate          float64 `json:"fee_rate"`
}

// CreateMarket opens a new market with a seeded pool.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	market, err := h.markets.Create(r.Context(), service.CreateMarketRequest{
		Question:         req.Question,
		Slug:             req.Slug,
		InitialLiquidity: req.InitialLiquidity,
		FeeRate:          req.FeeRate,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// GetOdds returns the current pool-implied odds.
// GET /api/markets/{id}/odds
func (h *MarketHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	odds, err := h.odds.CurrentOdds(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, odds)
}

type previewRequest struct {
	Stake   float64 `json:"stake"`
	Outcome string  `json:"outcome"`
}

// PreviewTrade quotes a trade without executing it.
// POST /api/markets/{id}/preview
func (h *MarketHandler) PreviewTrade(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	quote, err := h.odds.PreviewTrade(r.Context(), r.PathValue("id"), req.Stake, outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
