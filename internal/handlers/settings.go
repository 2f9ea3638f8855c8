package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ashcz/coinwatch/pkg/errors"
	"github.com/ashcz/coinwatch/pkg/response"

	"github.com/ashcz/coinwatch/internal/services"
)

// SettingsHandler exposes the stored currency preferences.
type SettingsHandler struct {
	service *services.SettingsService
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(service *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: service}
}

// CurrencyRequest updates the currency selection. Exactly one of currency or
// use_location must be meaningful: a non-empty currency sets a manual
// selection, otherwise use_location switches location-based selection.
type CurrencyRequest struct {
	Currency    string `json:"currency"`
	UseLocation *bool  `json:"use_location"`
}

// GetCurrency returns the stored currency preferences.
// GET /api/settings/currency
func (h *SettingsHandler) GetCurrency(c *gin.Context) {
	prefs, err := h.service.CurrencyPreferences(c.Request.Context())
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to load currency preferences"))
		return
	}
	response.Success(c, http.StatusOK, prefs)
}

// SetCurrency updates the currency selection.
// PUT /api/settings/currency
func (h *SettingsHandler) SetCurrency(c *gin.Context) {
	var req CurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("Invalid request body"))
		return
	}

	ctx := c.Request.Context()
	switch {
	case strings.TrimSpace(req.Currency) != "":
		if err := h.service.SetManualCurrency(ctx, req.Currency); err != nil {
			response.Error(c, apperrors.Wrap(err, "failed to update currency"))
			return
		}
	case req.UseLocation != nil && *req.UseLocation:
		if err := h.service.EnableLocationCurrency(ctx); err != nil {
			response.Error(c, apperrors.Wrap(err, "failed to enable location currency"))
			return
		}
	case req.UseLocation != nil:
		if err := h.service.DisableLocationCurrency(ctx); err != nil {
			response.Error(c, apperrors.Wrap(err, "failed to disable location currency"))
			return
		}
	default:
		response.Error(c, apperrors.NewBadRequest("currency or use_location is required"))
		return
	}

	prefs, err := h.service.CurrencyPreferences(ctx)
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to load currency preferences"))
		return
	}
	response.Success(c, http.StatusOK, prefs)
}
