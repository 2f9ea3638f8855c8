package models

import "time"

// FavoriteCoin is a watchlist entry holding a point-in-time copy of the coin's
// last known quote. The copy goes stale until a later fetch touches the coin.
type FavoriteCoin struct {
	CoinID           string   `gorm:"primaryKey;size:128" json:"coin_id"`
	Symbol           string   `gorm:"size:32" json:"symbol"`
	Name             string   `gorm:"size:256" json:"name"`
	ImageURL         *string  `json:"image_url,omitempty"`
	LastPrice        *float64 `json:"last_price,omitempty"`
	LastChange24hPct *float64 `json:"last_change_24h_pct,omitempty"`
	LastMarketCap    *float64 `json:"last_market_cap,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
