package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ashcz/coinwatch/internal/markets"
	"github.com/ashcz/coinwatch/internal/models"
	"github.com/ashcz/coinwatch/internal/realtime"
)

// FavoritesService manages the persisted coin watchlist. Every mutation
// broadcasts the full current set to realtime subscribers.
type FavoritesService struct {
	db  *gorm.DB
	hub *realtime.Hub
}

// NewFavoritesService constructs a FavoritesService. The hub may be nil when
// no realtime consumers exist.
func NewFavoritesService(db *gorm.DB, hub *realtime.Hub) (*FavoritesService, error) {
	if db == nil {
		return nil, errors.New("favorites service: db is required")
	}
	return &FavoritesService{db: db, hub: hub}, nil
}

// List returns all favorited coins with their last known quotes.
func (s *FavoritesService) List(ctx context.Context) ([]markets.Coin, error) {
	rows, err := s.listRows(ctx)
	if err != nil {
		return nil, err
	}
	return mapFavoriteRows(rows), nil
}

// IDs returns the set of favorited coin ids.
func (s *FavoritesService) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.FavoriteCoin{}).
		Order("coin_id ASC").
		Pluck("coin_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("favorites service: list ids: %w", err)
	}
	return ids, nil
}

// IsFavorite reports whether the coin id is on the watchlist.
func (s *FavoritesService) IsFavorite(ctx context.Context, coinID string) (bool, error) {
	coinID = strings.TrimSpace(coinID)
	if coinID == "" {
		return false, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.FavoriteCoin{}).
		Where("coin_id = ?", coinID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("favorites service: check favorite: %w", err)
	}
	return count > 0, nil
}

// SetFavorite adds or removes a coin from the watchlist. Adding stores a
// point-in-time copy of the coin's current quote.
func (s *FavoritesService) SetFavorite(ctx context.Context, coin markets.Coin, favorite bool) error {
	coinID := strings.TrimSpace(coin.ID)
	if coinID == "" {
		return errors.New("favorites service: coin id is required")
	}

	if favorite {
		row := models.FavoriteCoin{
			CoinID:           coinID,
			Symbol:           coin.Symbol,
			Name:             coin.Name,
			ImageURL:         coin.ImageURL,
			LastPrice:        coin.Price,
			LastChange24hPct: coin.Change24hPct,
			LastMarketCap:    coin.MarketCap,
		}
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "coin_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"symbol", "name", "image_url", "last_price",
					"last_change24h_pct", "last_market_cap", "updated_at",
				}),
			}).Create(&row).Error; err != nil {
			return fmt.Errorf("favorites service: upsert favorite: %w", err)
		}
	} else {
		if err := s.db.WithContext(ctx).
			Where("coin_id = ?", coinID).
			Delete(&models.FavoriteCoin{}).Error; err != nil {
			return fmt.Errorf("favorites service: delete favorite: %w", err)
		}
	}

	s.broadcast(ctx)
	return nil
}

// Clear wipes the watchlist.
func (s *FavoritesService) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&models.FavoriteCoin{}).Error; err != nil {
		return fmt.Errorf("favorites service: clear favorites: %w", err)
	}

	s.broadcast(ctx)
	return nil
}

// RefreshQuotes updates the stored quote of any favorited coin included in a
// fresh fetch. Implements markets.QuoteSink.
func (s *FavoritesService) RefreshQuotes(ctx context.Context, coins []markets.Coin) error {
	if len(coins) == 0 {
		return nil
	}

	byID := make(map[string]markets.Coin, len(coins))
	ids := make([]string, 0, len(coins))
	for _, coin := range coins {
		byID[coin.ID] = coin
		ids = append(ids, coin.ID)
	}

	var rows []models.FavoriteCoin
	if err := s.db.WithContext(ctx).
		Where("coin_id IN ?", ids).
		Find(&rows).Error; err != nil {
		return fmt.Errorf("favorites service: load favorites for refresh: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	for _, row := range rows {
		coin := byID[row.CoinID]
		updates := map[string]any{
			"symbol":             coin.Symbol,
			"name":               coin.Name,
			"image_url":          coin.ImageURL,
			"last_price":         coin.Price,
			"last_change24h_pct": coin.Change24hPct,
			"last_market_cap":    coin.MarketCap,
		}
		if err := s.db.WithContext(ctx).
			Model(&models.FavoriteCoin{}).
			Where("coin_id = ?", row.CoinID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("favorites service: refresh quote for %q: %w", row.CoinID, err)
		}
	}

	s.broadcast(ctx)
	return nil
}

func (s *FavoritesService) listRows(ctx context.Context) ([]models.FavoriteCoin, error) {
	var rows []models.FavoriteCoin
	if err := s.db.WithContext(ctx).
		Order("coin_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("favorites service: list favorites: %w", err)
	}
	return rows, nil
}

func (s *FavoritesService) broadcast(ctx context.Context) {
	if s.hub == nil {
		return
	}

	rows, err := s.listRows(ctx)
	if err != nil {
		return
	}
	s.hub.Broadcast(realtime.StreamCoinFavorites, realtime.Event{
		Event: "favorites.changed",
		Data:  mapFavoriteRows(rows),
	})
}

func mapFavoriteRows(rows []models.FavoriteCoin) []markets.Coin {
	coins := make([]markets.Coin, 0, len(rows))
	for _, row := range rows {
		coins = append(coins, markets.Coin{
			ID:           row.CoinID,
			Symbol:       row.Symbol,
			Name:         row.Name,
			ImageURL:     row.ImageURL,
			Price:        row.LastPrice,
			Change24hPct: row.LastChange24hPct,
			MarketCap:    row.LastMarketCap,
		})
	}
	return coins
}
