package models

// MarketSnapshot holds the last fetched market fields for one coin in one
// quote currency. It is the persistent fallback tier of the market cache and
// survives process restarts. At most one row exists per (currency, coin).
type MarketSnapshot struct {
	VsCurrency   string   `gorm:"primaryKey;size:16" json:"vs_currency"`
	CoinID       string   `gorm:"primaryKey;size:128" json:"coin_id"`
	Symbol       string   `gorm:"size:32" json:"symbol"`
	Name         string   `gorm:"size:256" json:"name"`
	ImageURL     *string  `json:"image_url,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	Change24hPct *float64 `json:"change_24h_pct,omitempty"`
	MarketCap    *float64 `json:"market_cap,omitempty"`
	UpdatedAtMs  int64    `gorm:"index" json:"updated_at_ms"`
}
