package markets

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ashcz/coinwatch/internal/models"
)

// Store implements SnapshotStore on the primary SQL database.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a database-backed snapshot store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("markets store: db is required")
	}
	return &Store{db: db}, nil
}

// AllForCurrency returns every snapshot for a currency, largest market cap first.
func (s *Store) AllForCurrency(ctx context.Context, vsCurrency string) ([]models.MarketSnapshot, error) {
	var rows []models.MarketSnapshot
	err := s.db.WithContext(ctx).
		Where("vs_currency = ?", vsCurrency).
		Order("market_cap DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("markets store: list snapshots: %w", err)
	}
	return rows, nil
}

// ByIDs returns the snapshots matching the requested coin ids, which may be a
// subset of what was asked for.
func (s *Store) ByIDs(ctx context.Context, vsCurrency string, ids []string) ([]models.MarketSnapshot, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []models.MarketSnapshot
	err := s.db.WithContext(ctx).
		Where("vs_currency = ? AND coin_id IN ?", vsCurrency, ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("markets store: snapshots by ids: %w", err)
	}
	return rows, nil
}

// UpsertAll replaces snapshots in place, one row per (currency, coin).
func (s *Store) UpsertAll(ctx context.Context, rows []models.MarketSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "vs_currency"}, {Name: "coin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"symbol", "name", "image_url", "price", "change24h_pct", "market_cap", "updated_at_ms",
			}),
		}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("markets store: upsert snapshots: %w", err)
	}
	return nil
}

// ReplaceForCurrency swaps the full snapshot set for a currency and records
// the sync state in one transaction, so readers never observe a half-applied
// refresh.
func (s *Store) ReplaceForCurrency(ctx context.Context, vsCurrency string, rows []models.MarketSnapshot, sync models.CurrencySync) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("vs_currency = ?", vsCurrency).
			Delete(&models.MarketSnapshot{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return upsertSync(tx, sync)
	})
	if err != nil {
		return fmt.Errorf("markets store: replace snapshots for %q: %w", vsCurrency, err)
	}
	return nil
}

// Sync returns the rate-limit bookkeeping for a currency, or nil when no
// fetch has been attempted yet.
func (s *Store) Sync(ctx context.Context, vsCurrency string) (*models.CurrencySync, error) {
	var row models.CurrencySync
	err := s.db.WithContext(ctx).Take(&row, "vs_currency = ?", vsCurrency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("markets store: get sync: %w", err)
	}
	return &row, nil
}

// UpsertSync stores the rate-limit bookkeeping for a currency.
func (s *Store) UpsertSync(ctx context.Context, sync models.CurrencySync) error {
	if err := upsertSync(s.db.WithContext(ctx), sync); err != nil {
		return fmt.Errorf("markets store: upsert sync: %w", err)
	}
	return nil
}

func upsertSync(tx *gorm.DB, sync models.CurrencySync) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vs_currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_fetched_at_ms", "next_allowed_at_ms"}),
	}).Create(&sync).Error
}
