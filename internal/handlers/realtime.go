package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ashcz/coinwatch/internal/realtime"
)

// RealtimeHandler upgrades websocket subscriptions to favorite change streams.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler constructs a RealtimeHandler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// CoinFavorites streams favorite coin set changes.
// GET /ws/favorites/coins
func (h *RealtimeHandler) CoinFavorites(c *gin.Context) {
	h.hub.Serve(realtime.StreamCoinFavorites, c.Writer, c.Request)
}

// PostFavorites streams favorite post set changes.
// GET /ws/favorites/posts
func (h *RealtimeHandler) PostFavorites(c *gin.Context) {
	h.hub.Serve(realtime.StreamPostFavorites, c.Writer, c.Request)
}
