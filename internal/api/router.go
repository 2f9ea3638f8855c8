package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/ashcz/coinwatch/internal/handlers"
	"github.com/ashcz/coinwatch/internal/markets"
	"github.com/ashcz/coinwatch/internal/middleware"
	"github.com/ashcz/coinwatch/internal/posts"
	"github.com/ashcz/coinwatch/internal/realtime"
	"github.com/ashcz/coinwatch/internal/services"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	DB            *gorm.DB
	Engine        *markets.Engine
	Store         markets.SnapshotStore
	Posts         *posts.Client
	Favorites     *services.FavoritesService
	PostFavorites *services.PostFavoritesService
	Settings      *services.SettingsService
	Hub           *realtime.Hub

	// EnableMetrics exposes /metrics with Prometheus output.
	EnableMetrics bool
}

// NewRouter wires middleware and all route groups.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics())

	healthHandler := handlers.NewHealthHandler(deps.DB)
	marketsHandler := handlers.NewMarketsHandler(deps.Engine, deps.Settings)
	favoritesHandler := handlers.NewFavoritesHandler(deps.Favorites, deps.Engine, deps.Store)
	postsHandler := handlers.NewPostsHandler(deps.Posts, deps.PostFavorites)
	settingsHandler := handlers.NewSettingsHandler(deps.Settings)
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub)

	router.GET("/health", healthHandler.Check)
	if deps.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	apiGroup := router.Group("/api")
	{
		marketsGroup := apiGroup.Group("/markets")
		{
			marketsGroup.GET("", marketsHandler.List)
			marketsGroup.POST("/query", marketsHandler.Batch)
			marketsGroup.GET("/:id", marketsHandler.Get)
		}

		favoritesGroup := apiGroup.Group("/favorites")
		{
			favoritesGroup.GET("/coins", favoritesHandler.List)
			favoritesGroup.PUT("/coins/:id", favoritesHandler.Set)
			favoritesGroup.DELETE("/coins", favoritesHandler.Clear)

			favoritesGroup.GET("/posts", postsHandler.ListFavorites)
			favoritesGroup.PUT("/posts/:id", postsHandler.SetFavorite)
		}

		postsGroup := apiGroup.Group("/posts")
		{
			postsGroup.GET("", postsHandler.List)
			postsGroup.GET("/:id", postsHandler.Get)
		}

		settingsGroup := apiGroup.Group("/settings")
		{
			settingsGroup.GET("/currency", settingsHandler.GetCurrency)
			settingsGroup.PUT("/currency", settingsHandler.SetCurrency)
		}
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/favorites/coins", realtimeHandler.CoinFavorites)
		wsGroup.GET("/favorites/posts", realtimeHandler.PostFavorites)
	}

	return router
}
