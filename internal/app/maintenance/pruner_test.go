package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ashcz/coinwatch/internal/database/testutil"
	"github.com/ashcz/coinwatch/internal/models"
)

func seedSnapshot(t *testing.T, db *gorm.DB, currency, coinID string, updatedAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.MarketSnapshot{
		VsCurrency:  currency,
		CoinID:      coinID,
		Symbol:      coinID[:3],
		Name:        coinID,
		UpdatedAtMs: updatedAt.UnixMilli(),
	}).Error)
}

func TestPruneSnapshotsRemovesOnlyAgedRows(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedSnapshot(t, db, "usd", "bitcoin", now.Add(-time.Hour))
	seedSnapshot(t, db, "usd", "ethereum", now.Add(-10*24*time.Hour))
	seedSnapshot(t, db, "eur", "bitcoin", now.Add(-10*24*time.Hour))

	removed, err := PruneSnapshots(context.Background(), db, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	var remaining []models.MarketSnapshot
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "bitcoin", remaining[0].CoinID)
	require.Equal(t, "usd", remaining[0].VsCurrency)
}

func TestPruneSyncStateKeepsActiveBackoff(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour)

	require.NoError(t, db.Create(&models.CurrencySync{
		VsCurrency:      "usd",
		LastFetchedAtMs: old.UnixMilli(),
	}).Error)
	// Old fetch but a backoff window still in the future must survive.
	require.NoError(t, db.Create(&models.CurrencySync{
		VsCurrency:      "eur",
		LastFetchedAtMs: old.UnixMilli(),
		NextAllowedAtMs: now.Add(time.Hour).UnixMilli(),
	}).Error)

	removed, err := PruneSyncState(context.Background(), db, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.CurrencySync
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "eur", remaining[0].VsCurrency)
}

func TestPrunerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedSnapshot(t, db, "usd", "bitcoin", now.Add(-3*24*time.Hour))
	seedSnapshot(t, db, "usd", "ethereum", now.Add(-5*24*time.Hour))

	pruner := NewPruner(db,
		WithNow(func() time.Time { return now }),
		WithMaxAge(4*24*time.Hour),
	)
	require.NoError(t, pruner.RunOnce(context.Background()))

	var remaining []models.MarketSnapshot
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "bitcoin", remaining[0].CoinID)
}

func TestPrunerShutdownRunsFinalPrune(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedSnapshot(t, db, "usd", "ethereum", now.Add(-10*24*time.Hour))

	pruner := NewPruner(db, WithNow(func() time.Time { return now }))
	require.NoError(t, pruner.Start())

	// The final prune must still work after the scheduler has drained.
	require.NoError(t, pruner.Shutdown())

	var remaining []models.MarketSnapshot
	require.NoError(t, db.Find(&remaining).Error)
	require.Empty(t, remaining)
}

func TestPrunerRunOnceRequiresDB(t *testing.T) {
	pruner := NewPruner(nil)
	require.Error(t, pruner.RunOnce(context.Background()))
}
