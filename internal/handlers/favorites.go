package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ashcz/coinwatch/pkg/errors"
	"github.com/ashcz/coinwatch/pkg/response"

	"github.com/ashcz/coinwatch/internal/markets"
	"github.com/ashcz/coinwatch/internal/services"
)

// FavoritesHandler manages the favorite coin set. Marking a coin favorite
// resolves it through the cache engine first so the stored copy carries a
// quote; when the upstream is down the persisted snapshot serves instead.
type FavoritesHandler struct {
	service *services.FavoritesService
	engine  *markets.Engine
	store   markets.SnapshotStore
}

// NewFavoritesHandler constructs a FavoritesHandler.
func NewFavoritesHandler(service *services.FavoritesService, engine *markets.Engine, store markets.SnapshotStore) *FavoritesHandler {
	return &FavoritesHandler{service: service, engine: engine, store: store}
}

// SetFavoriteRequest toggles favorite membership.
type SetFavoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// List returns all favorite coins with their last known quotes.
// GET /api/favorites/coins
func (h *FavoritesHandler) List(c *gin.Context) {
	coins, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to list favorites"))
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, coins, &response.Meta{Count: len(coins)})
}

// Set marks or unmarks a coin as favorite.
// PUT /api/favorites/coins/:id
func (h *FavoritesHandler) Set(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.Error(c, apperrors.NewBadRequest("coin id is required"))
		return
	}

	var req SetFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("Invalid request body"))
		return
	}

	coin := markets.Coin{ID: id}
	if req.Favorite {
		// Resolve through the engine so the favorite row starts with a
		// quote. When the upstream is unavailable the persisted snapshot
		// serves instead; with neither, the upstream error surfaces.
		resolved, err := h.engine.CoinByID(c.Request.Context(), id, services.DefaultVsCurrency, false)
		switch {
		case err == nil:
			coin = *resolved
		case errors.Is(err, markets.ErrNotFound):
			response.Error(c, mapMarketsError(err))
			return
		default:
			rows, storeErr := h.store.ByIDs(c.Request.Context(), services.DefaultVsCurrency, []string{id})
			if storeErr != nil || len(rows) == 0 {
				response.Error(c, mapMarketsError(err))
				return
			}
			coin = markets.CoinFromSnapshot(rows[0])
		}
	}

	if err := h.service.SetFavorite(c.Request.Context(), coin, req.Favorite); err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to update favorite"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"id": id, "favorite": req.Favorite})
}

// Clear removes every favorite coin.
// DELETE /api/favorites/coins
func (h *FavoritesHandler) Clear(c *gin.Context) {
	if err := h.service.Clear(c.Request.Context()); err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to clear favorites"))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cleared": true})
}
