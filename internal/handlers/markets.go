package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ashcz/coinwatch/pkg/errors"
	"github.com/ashcz/coinwatch/pkg/response"
	"github.com/ashcz/coinwatch/pkg/validator"

	"github.com/ashcz/coinwatch/internal/markets"
	"github.com/ashcz/coinwatch/internal/services"
)

// MarketsHandler serves market quote endpoints backed by the cache engine.
type MarketsHandler struct {
	engine   *markets.Engine
	settings *services.SettingsService
}

// NewMarketsHandler constructs a MarketsHandler.
func NewMarketsHandler(engine *markets.Engine, settings *services.SettingsService) *MarketsHandler {
	return &MarketsHandler{engine: engine, settings: settings}
}

// BatchRequest selects a set of coins to price.
type BatchRequest struct {
	IDs      []string `json:"ids" binding:"required" validate:"required,min=1,dive,required"`
	Currency string   `json:"currency"`
	Force    bool     `json:"force"`
}

// List returns the top coins by market cap.
// GET /api/markets?currency=usd&force=true
func (h *MarketsHandler) List(c *gin.Context) {
	currency := h.resolveCurrency(c.Request.Context(), c.Query("currency"))
	force := parseBool(c.Query("force"))

	coins, err := h.engine.TopCoins(c.Request.Context(), currency, force)
	if err != nil {
		response.Error(c, mapMarketsError(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, coins, &response.Meta{
		Currency: currency,
		Count:    len(coins),
	})
}

// Get returns a single coin by id.
// GET /api/markets/:id?currency=usd&force=true
func (h *MarketsHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.Error(c, apperrors.NewBadRequest("coin id is required"))
		return
	}

	currency := h.resolveCurrency(c.Request.Context(), c.Query("currency"))
	force := parseBool(c.Query("force"))

	coin, err := h.engine.CoinByID(c.Request.Context(), id, currency, force)
	if err != nil {
		response.Error(c, mapMarketsError(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, coin, &response.Meta{Currency: currency})
}

// Batch returns quotes for an explicit coin id set.
// POST /api/markets/query
func (h *MarketsHandler) Batch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("Invalid request body"))
		return
	}
	if err := validator.ValidateStruct(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	currency := h.resolveCurrency(c.Request.Context(), req.Currency)

	coins, err := h.engine.CoinsByIDs(c.Request.Context(), req.IDs, currency, req.Force)
	if err != nil {
		response.Error(c, mapMarketsError(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, coins, &response.Meta{
		Currency: currency,
		Count:    len(coins),
	})
}

// resolveCurrency falls back to the stored preference when the request does
// not name a currency.
func (h *MarketsHandler) resolveCurrency(ctx context.Context, requested string) string {
	if requested != "" {
		return requested
	}
	if h.settings != nil {
		if prefs, err := h.settings.CurrencyPreferences(ctx); err == nil && prefs.VsCurrency != "" {
			return prefs.VsCurrency
		}
	}
	return services.DefaultVsCurrency
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}
