package markets

import (
	"context"

	"github.com/ashcz/coinwatch/internal/models"
)

// Coin is one priced market entity. Values are replaced wholesale on refresh,
// never partially mutated.
type Coin struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	ImageURL     *string  `json:"image_url,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	Change24hPct *float64 `json:"change_24h_pct,omitempty"`
	MarketCap    *float64 `json:"market_cap,omitempty"`
}

// MarketsQuery narrows a remote markets request.
type MarketsQuery struct {
	// IDs restricts the result to the given coin identifiers. Empty means
	// top coins by market cap.
	IDs []string
	// PerPage caps the page size; the remote source enforces its own maximum.
	PerPage int
	// Page selects the result page, starting at 1.
	Page int
}

// RemoteSource performs a network call returning market quotes for a currency.
// A rate-limited upstream is reported as *RateLimitedError.
type RemoteSource interface {
	Markets(ctx context.Context, vsCurrency string, q MarketsQuery) ([]Coin, error)
}

// SnapshotStore is the persistent fallback tier of the market cache, plus the
// per-currency rate-limit bookkeeping.
type SnapshotStore interface {
	AllForCurrency(ctx context.Context, vsCurrency string) ([]models.MarketSnapshot, error)
	ByIDs(ctx context.Context, vsCurrency string, ids []string) ([]models.MarketSnapshot, error)
	UpsertAll(ctx context.Context, rows []models.MarketSnapshot) error
	// ReplaceForCurrency swaps all rows for a currency and records the sync
	// state in a single transaction.
	ReplaceForCurrency(ctx context.Context, vsCurrency string, rows []models.MarketSnapshot, sync models.CurrencySync) error
	Sync(ctx context.Context, vsCurrency string) (*models.CurrencySync, error)
	UpsertSync(ctx context.Context, sync models.CurrencySync) error
}

// QuoteSink receives freshly fetched quotes so dependent records can be
// refreshed opportunistically.
type QuoteSink interface {
	RefreshQuotes(ctx context.Context, coins []Coin) error
}

// CoinFromSnapshot rebuilds a Coin from its persisted form.
func CoinFromSnapshot(row models.MarketSnapshot) Coin {
	return Coin{
		ID:           row.CoinID,
		Symbol:       row.Symbol,
		Name:         row.Name,
		ImageURL:     row.ImageURL,
		Price:        row.Price,
		Change24hPct: row.Change24hPct,
		MarketCap:    row.MarketCap,
	}
}

func snapshotsToCoins(rows []models.MarketSnapshot) []Coin {
	if len(rows) == 0 {
		return nil
	}
	coins := make([]Coin, 0, len(rows))
	for _, row := range rows {
		coins = append(coins, CoinFromSnapshot(row))
	}
	return coins
}

func coinToSnapshot(vsCurrency string, coin Coin, nowMs int64) models.MarketSnapshot {
	return models.MarketSnapshot{
		VsCurrency:   vsCurrency,
		CoinID:       coin.ID,
		Symbol:       coin.Symbol,
		Name:         coin.Name,
		ImageURL:     coin.ImageURL,
		Price:        coin.Price,
		Change24hPct: coin.Change24hPct,
		MarketCap:    coin.MarketCap,
		UpdatedAtMs:  nowMs,
	}
}

func coinsToSnapshots(vsCurrency string, coins []Coin, nowMs int64) []models.MarketSnapshot {
	rows := make([]models.MarketSnapshot, 0, len(coins))
	for _, coin := range coins {
		rows = append(rows, coinToSnapshot(vsCurrency, coin, nowMs))
	}
	return rows
}
