package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ashcz/coinwatch/internal/models"
	"github.com/ashcz/coinwatch/pkg/logger"
)

const (
	defaultMaxAge       = 7 * 24 * time.Hour
	defaultSnapshotSpec = "@hourly"
)

// Pruner removes market snapshots and sync bookkeeping that have aged out of
// usefulness. Stale snapshots are only a fallback for rate-limited windows;
// rows far past the freshness horizon just accumulate.
type Pruner struct {
	db     *gorm.DB
	cron   *cron.Cron
	now    func() time.Time
	log    *zap.Logger
	maxAge time.Duration

	snapshotSchedule string
}

// Option customises the Pruner.
type Option func(*Pruner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(p *Pruner) {
		if c != nil {
			p.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(p *Pruner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMaxAge adjusts how long snapshots are retained before pruning.
func WithMaxAge(age time.Duration) Option {
	return func(p *Pruner) {
		if age > 0 {
			p.maxAge = age
		}
	}
}

// WithSnapshotSchedule overrides the cron specification for snapshot pruning.
func WithSnapshotSchedule(spec string) Option {
	return func(p *Pruner) {
		if spec != "" {
			p.snapshotSchedule = spec
		}
	}
}

// NewPruner constructs a Pruner with sensible defaults.
func NewPruner(db *gorm.DB, opts ...Option) *Pruner {
	p := &Pruner{
		db:               db,
		now:              time.Now,
		maxAge:           defaultMaxAge,
		snapshotSchedule: defaultSnapshotSpec,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.cron == nil {
		p.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return p
}

// Start registers the pruning job with the cron scheduler and launches it.
func (p *Pruner) Start() error {
	if p.db == nil {
		return nil
	}

	if _, err := p.cron.AddFunc(p.snapshotSchedule, func() {
		if err := p.RunOnce(context.Background()); err != nil {
			p.log.Warn("snapshot pruning failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	p.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (p *Pruner) Stop() context.Context {
	if p.cron == nil {
		return context.Background()
	}
	return p.cron.Stop()
}

// Shutdown stops the scheduler, waits for in-flight jobs to drain, then runs
// one final prune. The final pass gets a fresh context: the context returned
// by Stop signals completion and is already done by then.
func (p *Pruner) Shutdown() error {
	<-p.Stop().Done()
	return p.RunOnce(context.Background())
}

// RunOnce executes all pruning routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (p *Pruner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if _, err := PruneSnapshots(ctx, p.db, p.now().Add(-p.maxAge)); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := PruneSyncState(ctx, p.db, p.now().Add(-p.maxAge)); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// PruneSnapshots deletes market snapshots last updated before cutoff and
// returns the number of removed rows.
func PruneSnapshots(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("prune snapshots: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("updated_at_ms < ?", cutoff.UnixMilli()).
		Delete(&models.MarketSnapshot{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune snapshots: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PruneSyncState deletes per-currency sync rows whose last fetch predates
// cutoff and whose backoff window has lapsed.
func PruneSyncState(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("prune sync state: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cutoffMs := cutoff.UnixMilli()
	result := db.WithContext(ctx).
		Where("last_fetched_at_ms < ? AND next_allowed_at_ms < ?", cutoffMs, cutoffMs).
		Delete(&models.CurrencySync{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune sync state: %w", result.Error)
	}
	return result.RowsAffected, nil
}
