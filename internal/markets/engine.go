package markets

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ashcz/coinwatch/internal/models"
	"github.com/ashcz/coinwatch/pkg/logger"
	"github.com/ashcz/coinwatch/pkg/metrics"
)

// Fixed cache policy. topTTL is the freshness window below which a cached
// answer is good enough; minInterval is an absolute floor between remote
// calls for the same cache key that even force cannot override.
const (
	topTTL         = 5 * time.Minute
	minInterval    = 5 * time.Second
	defaultBackoff = time.Minute
	maxPerPage     = 250
)

type cacheEntry[T any] struct {
	at    time.Time
	value T
}

// Engine answers market queries through a two-tier cache: an in-process map
// per cache key backed by the persistent snapshot store, calling the remote
// source only when both tiers are too stale and no backoff window is active.
//
// The mutex only guards the cache maps; it is never held across remote or
// store calls, so two concurrent callers may still fetch the same key twice.
// Call sites are expected to be naturally staggered.
type Engine struct {
	remote    RemoteSource
	store     SnapshotStore
	favorites QuoteSink
	now       func() time.Time
	log       *zap.Logger

	mu         sync.Mutex
	topCache   map[string]cacheEntry[[]Coin]
	coinCache  map[string]cacheEntry[Coin]
	batchCache map[string]cacheEntry[[]Coin]
}

// EngineOption customises the Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source, primarily for testing.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithQuoteSink registers a sink that receives freshly fetched quotes, used to
// keep favorite entries up to date. Sink failures never fail a fetch.
func WithQuoteSink(sink QuoteSink) EngineOption {
	return func(e *Engine) {
		e.favorites = sink
	}
}

// NewEngine constructs a market cache engine.
func NewEngine(remote RemoteSource, store SnapshotStore, opts ...EngineOption) (*Engine, error) {
	if remote == nil {
		return nil, errors.New("markets engine: remote source is required")
	}
	if store == nil {
		return nil, errors.New("markets engine: snapshot store is required")
	}

	e := &Engine{
		remote:     remote,
		store:      store,
		now:        time.Now,
		log:        logger.WithModule("markets"),
		topCache:   make(map[string]cacheEntry[[]Coin]),
		coinCache:  make(map[string]cacheEntry[Coin]),
		batchCache: make(map[string]cacheEntry[[]Coin]),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// TopCoins returns the top coins by market cap priced in vsCurrency.
// force bypasses the freshness window but not the minimum call interval or an
// active backoff window.
func (e *Engine) TopCoins(ctx context.Context, vsCurrency string, force bool) ([]Coin, error) {
	currency := normalizeCurrency(vsCurrency)
	now := e.now()

	// Fast path: reuse the in-memory entry during rapid repeated reads.
	if entry, ok := e.topEntry(currency); ok && !force && now.Sub(entry.at) <= topTTL {
		metrics.CacheHits.WithLabelValues("top", "memory").Inc()
		return entry.value, nil
	}

	sync, err := e.loadSync(ctx, currency)
	if err != nil {
		return nil, err
	}
	stored, err := e.store.AllForCurrency(ctx, currency)
	if err != nil {
		return nil, err
	}
	fromStore := snapshotsToCoins(stored)

	// An active backoff window means the upstream told us to wait; only
	// cached data may be served.
	if now.UnixMilli() < sync.NextAllowedAtMs && len(fromStore) > 0 {
		metrics.CacheHits.WithLabelValues("top", "store").Inc()
		return fromStore, nil
	}

	// A recent successful fetch survives process restarts via the store;
	// rehydrate the in-memory entry instead of calling out again.
	if !force && sync.LastFetchedAtMs > 0 &&
		now.UnixMilli()-sync.LastFetchedAtMs <= topTTL.Milliseconds() && len(fromStore) > 0 {
		e.setTopEntry(currency, cacheEntry[[]Coin]{at: now, value: fromStore})
		metrics.CacheHits.WithLabelValues("top", "store").Inc()
		return fromStore, nil
	}

	// Hard throttle: absorb call storms regardless of force.
	if entry, ok := e.topEntry(currency); ok && now.Sub(entry.at) <= minInterval {
		metrics.CacheHits.WithLabelValues("top", "memory").Inc()
		return entry.value, nil
	}

	fresh, err := e.remote.Markets(ctx, currency, MarketsQuery{})
	if err != nil {
		if coins, handled := e.handleRateLimit(ctx, "top", currency, sync, err, func() []Coin {
			if len(fromStore) == 0 {
				return nil
			}
			e.setTopEntry(currency, cacheEntry[[]Coin]{at: now, value: fromStore})
			return fromStore
		}); handled {
			return coins, nil
		}
		if _, ok := AsRateLimited(err); !ok {
			metrics.RemoteRequests.WithLabelValues("top", "error").Inc()
		}
		return nil, err
	}
	metrics.RemoteRequests.WithLabelValues("top", "success").Inc()

	nowMs := now.UnixMilli()
	if err := e.store.ReplaceForCurrency(ctx, currency,
		coinsToSnapshots(currency, fresh, nowMs),
		models.CurrencySync{VsCurrency: currency, LastFetchedAtMs: nowMs},
	); err != nil {
		return nil, err
	}

	e.setTopEntry(currency, cacheEntry[[]Coin]{at: now, value: fresh})
	e.refreshFavorites(ctx, fresh)
	return fresh, nil
}

// CoinByID returns one coin priced in vsCurrency, or ErrNotFound when the
// remote source does not know the id. Single-item lookups skip the minimum
// call interval.
func (e *Engine) CoinByID(ctx context.Context, id, vsCurrency string, force bool) (*Coin, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("markets engine: coin id is required")
	}

	currency := normalizeCurrency(vsCurrency)
	key := currency + ":" + id
	now := e.now()

	if entry, ok := e.coinEntry(key); ok && !force && now.Sub(entry.at) <= topTTL {
		metrics.CacheHits.WithLabelValues("coin", "memory").Inc()
		coin := entry.value
		return &coin, nil
	}

	sync, err := e.loadSync(ctx, currency)
	if err != nil {
		return nil, err
	}

	if now.UnixMilli() < sync.NextAllowedAtMs {
		rows, err := e.store.ByIDs(ctx, currency, []string{id})
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			metrics.CacheHits.WithLabelValues("coin", "store").Inc()
			coin := CoinFromSnapshot(rows[0])
			return &coin, nil
		}
	}

	list, err := e.remote.Markets(ctx, currency, MarketsQuery{IDs: []string{id}, PerPage: 1, Page: 1})
	if err != nil {
		if _, ok := AsRateLimited(err); ok {
			metrics.RemoteRequests.WithLabelValues("coin", "rate_limited").Inc()
		} else {
			metrics.RemoteRequests.WithLabelValues("coin", "error").Inc()
		}
		return nil, err
	}
	metrics.RemoteRequests.WithLabelValues("coin", "success").Inc()

	if len(list) == 0 {
		return nil, ErrNotFound
	}

	fresh := list[0]
	e.setCoinEntry(key, cacheEntry[Coin]{at: now, value: fresh})

	// Best effort: a persistence failure must not fail the lookup.
	if err := e.store.UpsertAll(ctx, coinsToSnapshots(currency, list[:1], now.UnixMilli())); err != nil {
		e.log.Warn("persist coin snapshot failed",
			zap.String("coin", id),
			zap.String("currency", currency),
			zap.Error(err),
		)
	}
	e.refreshFavorites(ctx, list[:1])
	return &fresh, nil
}

// CoinsByIDs returns quotes for a set of coin ids. The same id set in any
// order shares one cache entry. A rate-limited upstream degrades to whatever
// subset the store holds.
func (e *Engine) CoinsByIDs(ctx context.Context, ids []string, vsCurrency string, force bool) ([]Coin, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return []Coin{}, nil
	}

	currency := normalizeCurrency(vsCurrency)
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	key := currency + ":" + strings.Join(sorted, ",")
	now := e.now()

	if entry, ok := e.batchEntry(key); ok {
		if !force && now.Sub(entry.at) <= topTTL {
			metrics.CacheHits.WithLabelValues("batch", "memory").Inc()
			return entry.value, nil
		}
		if now.Sub(entry.at) <= minInterval {
			metrics.CacheHits.WithLabelValues("batch", "memory").Inc()
			return entry.value, nil
		}
	}

	sync, err := e.loadSync(ctx, currency)
	if err != nil {
		return nil, err
	}

	if now.UnixMilli() < sync.NextAllowedAtMs {
		rows, err := e.store.ByIDs(ctx, currency, ids)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			metrics.CacheHits.WithLabelValues("batch", "store").Inc()
			return snapshotsToCoins(rows), nil
		}
	}

	perPage := len(ids)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	fresh, err := e.remote.Markets(ctx, currency, MarketsQuery{IDs: sorted, PerPage: perPage, Page: 1})
	if err != nil {
		if coins, handled := e.handleRateLimit(ctx, "batch", currency, sync, err, func() []Coin {
			rows, storeErr := e.store.ByIDs(ctx, currency, ids)
			if storeErr != nil || len(rows) == 0 {
				return nil
			}
			return snapshotsToCoins(rows)
		}); handled {
			return coins, nil
		}
		if _, ok := AsRateLimited(err); !ok {
			metrics.RemoteRequests.WithLabelValues("batch", "error").Inc()
		}
		return nil, err
	}
	metrics.RemoteRequests.WithLabelValues("batch", "success").Inc()

	nowMs := now.UnixMilli()
	if err := e.store.UpsertAll(ctx, coinsToSnapshots(currency, fresh, nowMs)); err != nil {
		return nil, err
	}
	if err := e.store.UpsertSync(ctx, models.CurrencySync{VsCurrency: currency, LastFetchedAtMs: nowMs}); err != nil {
		return nil, err
	}

	e.setBatchEntry(key, cacheEntry[[]Coin]{at: now, value: fresh})
	e.refreshFavorites(ctx, fresh)
	return fresh, nil
}

// handleRateLimit persists the backoff window announced by the upstream and
// reports whether a fallback answer could be produced. The caller propagates
// the original error when it could not.
func (e *Engine) handleRateLimit(ctx context.Context, query, currency string, sync models.CurrencySync, err error, fallback func() []Coin) ([]Coin, bool) {
	rl, ok := AsRateLimited(err)
	if !ok {
		return nil, false
	}

	metrics.RemoteRequests.WithLabelValues(query, "rate_limited").Inc()
	metrics.RateLimitBackoffs.Inc()

	now := e.now()
	next := now.Add(defaultBackoff)
	if rl.RetryAfter > 0 {
		next = now.Add(rl.RetryAfter)
	}

	update := models.CurrencySync{
		VsCurrency:      currency,
		LastFetchedAtMs: sync.LastFetchedAtMs,
		NextAllowedAtMs: next.UnixMilli(),
	}
	if storeErr := e.store.UpsertSync(ctx, update); storeErr != nil {
		e.log.Warn("persist backoff window failed",
			zap.String("currency", currency),
			zap.Error(storeErr),
		)
	}

	e.log.Warn("upstream rate limited",
		zap.String("query", query),
		zap.String("currency", currency),
		zap.Time("next_allowed_at", next),
	)

	coins := fallback()
	if len(coins) == 0 {
		return nil, false
	}
	return coins, true
}

func (e *Engine) refreshFavorites(ctx context.Context, coins []Coin) {
	if e.favorites == nil || len(coins) == 0 {
		return
	}
	if err := e.favorites.RefreshQuotes(ctx, coins); err != nil {
		e.log.Warn("refresh favorite quotes failed", zap.Error(err))
	}
}

func (e *Engine) loadSync(ctx context.Context, currency string) (models.CurrencySync, error) {
	row, err := e.store.Sync(ctx, currency)
	if err != nil {
		return models.CurrencySync{}, err
	}
	if row == nil {
		return models.CurrencySync{VsCurrency: currency}, nil
	}
	return *row, nil
}

func (e *Engine) topEntry(key string) (cacheEntry[[]Coin], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.topCache[key]
	return entry, ok
}

func (e *Engine) setTopEntry(key string, entry cacheEntry[[]Coin]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topCache[key] = entry
}

func (e *Engine) coinEntry(key string) (cacheEntry[Coin], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.coinCache[key]
	return entry, ok
}

func (e *Engine) setCoinEntry(key string, entry cacheEntry[Coin]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coinCache[key] = entry
}

func (e *Engine) batchEntry(key string) (cacheEntry[[]Coin], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.batchCache[key]
	return entry, ok
}

func (e *Engine) setBatchEntry(key string, entry cacheEntry[[]Coin]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchCache[key] = entry
}

func normalizeCurrency(vsCurrency string) string {
	return strings.ToLower(strings.TrimSpace(vsCurrency))
}

func normalizeIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
