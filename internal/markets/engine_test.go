package markets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ashcz/coinwatch/internal/database/testutil"
	"github.com/ashcz/coinwatch/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRemote struct {
	mu    sync.Mutex
	calls int
	fn    func(vsCurrency string, q MarketsQuery) ([]Coin, error)
}

func (f *fakeRemote) Markets(_ context.Context, vsCurrency string, q MarketsQuery) ([]Coin, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(vsCurrency, q)
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fptr(v float64) *float64 { return &v }
func sptr(v string) *string   { return &v }

func btc() Coin {
	return Coin{
		ID:           "bitcoin",
		Symbol:       "btc",
		Name:         "Bitcoin",
		ImageURL:     sptr("https://img/btc.png"),
		Price:        fptr(65000),
		Change24hPct: fptr(-1.5),
		MarketCap:    fptr(1.28e12),
	}
}

func eth() Coin {
	return Coin{
		ID:        "ethereum",
		Symbol:    "eth",
		Name:      "Ethereum",
		Price:     fptr(3400),
		MarketCap: fptr(4.1e11),
	}
}

func newTestEngine(t *testing.T, remote RemoteSource, opts ...EngineOption) (*Engine, *Store, *testClock, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewStore(db)
	require.NoError(t, err)

	clock := newTestClock()
	opts = append([]EngineOption{WithClock(clock.Now)}, opts...)
	engine, err := NewEngine(remote, store, opts...)
	require.NoError(t, err)

	return engine, store, clock, db
}

func TestTopCoinsServesMemoryWithinTTL(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return []Coin{btc(), eth()}, nil
	}}
	engine, _, clock, _ := newTestEngine(t, remote)
	ctx := context.Background()

	first, err := engine.TopCoins(ctx, "usd", false)
	require.NoError(t, err)
	require.Len(t, first, 2)

	clock.Advance(4 * time.Minute)
	second, err := engine.TopCoins(ctx, "usd", false)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, remote.callCount())
}

func TestTopCoinsForceThrottledWithinMinInterval(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return []Coin{btc()}, nil
	}}
	engine, _, clock, _ := newTestEngine(t, remote)
	ctx := context.Background()

	_, err := engine.TopCoins(ctx, "usd", true)
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	_, err = engine.TopCoins(ctx, "usd", true)
	require.NoError(t, err)
	require.Equal(t, 1, remote.callCount())

	clock.Advance(3 * time.Second)
	_, err = engine.TopCoins(ctx, "usd", true)
	require.NoError(t, err)
	require.Equal(t, 2, remote.callCount())
}

func TestTopCoinsBackoffWindowFromRetryAfter(t *testing.T) {
	rateLimited := false
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		if rateLimited {
			return nil, &RateLimitedError{RetryAfter: 30 * time.Second}
		}
		return []Coin{btc(), eth()}, nil
	}}
	engine, _, clock, _ := newTestEngine(t, remote)
	ctx := context.Background()

	_, err := engine.TopCoins(ctx, "usd", false)
	require.NoError(t, err)
	require.Equal(t, 1, remote.callCount())

	// Past the TTL the next refresh hits the upstream and gets told to wait.
	clock.Advance(6 * time.Minute)
	rateLimited = true
	degraded, err := engine.TopCoins(ctx, "usd", true)
	require.NoError(t, err)
	require.Len(t, degraded, 2)
	require.Equal(t, 2, remote.callCount())

	// Inside the announced window even force must not reach the upstream.
	clock.Advance(10 * time.Second)
	stale, err := engine.TopCoins(ctx, "usd", true)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, 2, remote.callCount())

	// Once the window elapses the upstream is tried again.
	clock.Advance(25 * time.Second)
	rateLimited = false
	fresh, err := engine.TopCoins(ctx, "usd", true)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	require.Equal(t, 3, remote.callCount())
}

func TestTopCoinsRateLimitWithoutFallbackPropagates(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return nil, &RateLimitedError{}
	}}
	engine, store, clock, _ := newTestEngine(t, remote)
	ctx := context.Background()

	_, err := engine.TopCoins(ctx, "usd", false)
	require.Error(t, err)

	rl, ok := AsRateLimited(err)
	require.True(t, ok)
	require.Zero(t, rl.RetryAfter)

	// The default backoff window is still recorded.
	sync, err := store.Sync(ctx, "usd")
	require.NoError(t, err)
	require.NotNil(t, sync)
	require.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), sync.NextAllowedAtMs)
	require.Zero(t, sync.LastFetchedAtMs)
}

func TestTopCoinsTransientErrorPropagates(t *testing.T) {
	cause := errors.New("connection reset")
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return nil, cause
	}}
	engine, store, _, _ := newTestEngine(t, remote)

	_, err := engine.TopCoins(context.Background(), "usd", false)
	require.ErrorIs(t, err, cause)

	// A transient failure must not start a backoff window.
	sync, syncErr := store.Sync(context.Background(), "usd")
	require.NoError(t, syncErr)
	require.Nil(t, sync)
}

func TestTopCoinsRehydratesFromStoreAfterRestart(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return []Coin{btc(), eth()}, nil
	}}
	engine, store, clock, _ := newTestEngine(t, remote)
	ctx := context.Background()

	first, err := engine.TopCoins(ctx, "usd", false)
	require.NoError(t, err)
	require.Equal(t, 1, remote.callCount())

	// A fresh engine over the same database simulates a process restart.
	coldRemote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		t.Fatal("remote must not be called on a warm store")
		return nil, nil
	}}
	restarted, err := NewEngine(coldRemote, store, WithClock(clock.Now))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	coins, err := restarted.TopCoins(ctx, "usd", false)
	require.NoError(t, err)
	require.Equal(t, len(first), len(coins))
	require.Zero(t, coldRemote.callCount())
}

func TestCoinByIDStoreFallbackUnderBackoff(t *testing.T) {
	rateLimited := false
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		if rateLimited {
			return nil, &RateLimitedError{RetryAfter: time.Minute}
		}
		return []Coin{btc(), eth()}, nil
	}}
	engine, store, clock, _ := newTestEngine(t, remote)
	ctx := context.Background()

	_, err := engine.TopCoins(ctx, "usd", false)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	rateLimited = true
	_, err = engine.TopCoins(ctx, "usd", true)
	require.NoError(t, err)
	callsBefore := remote.callCount()

	// Cold per-coin cache, active backoff: the persisted snapshot answers.
	restarted, err := NewEngine(remote, store, WithClock(clock.Now))
	require.NoError(t, err)

	coin, err := restarted.CoinByID(ctx, "bitcoin", "usd", false)
	require.NoError(t, err)
	require.Equal(t, "bitcoin", coin.ID)
	require.Equal(t, "Bitcoin", coin.Name)
	require.NotNil(t, coin.Price)
	require.Equal(t, 65000.0, *coin.Price)
	require.NotNil(t, coin.ImageURL)
	require.Equal(t, "https://img/btc.png", *coin.ImageURL)
	require.Equal(t, callsBefore, remote.callCount())
}

func TestCoinByIDNotFound(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return nil, nil
	}}
	engine, _, _, _ := newTestEngine(t, remote)

	_, err := engine.CoinByID(context.Background(), "no-such-coin", "usd", false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCoinByIDCachesPerCurrencyAndID(t *testing.T) {
	remote := &fakeRemote{fn: func(_ string, q MarketsQuery) ([]Coin, error) {
		require.Equal(t, []string{"bitcoin"}, q.IDs)
		return []Coin{btc()}, nil
	}}
	engine, _, clock, _ := newTestEngine(t, remote)
	ctx := context.Background()

	first, err := engine.CoinByID(ctx, "bitcoin", "usd", false)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second, err := engine.CoinByID(ctx, "bitcoin", "usd", false)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, remote.callCount())

	// A different currency is a different cache key.
	_, err = engine.CoinByID(ctx, "bitcoin", "eur", false)
	require.NoError(t, err)
	require.Equal(t, 2, remote.callCount())
}

type untouchableStore struct {
	t *testing.T
}

func (s untouchableStore) AllForCurrency(context.Context, string) ([]models.MarketSnapshot, error) {
	s.t.Fatal("store must not be touched")
	return nil, nil
}

func (s untouchableStore) ByIDs(context.Context, string, []string) ([]models.MarketSnapshot, error) {
	s.t.Fatal("store must not be touched")
	return nil, nil
}

func (s untouchableStore) UpsertAll(context.Context, []models.MarketSnapshot) error {
	s.t.Fatal("store must not be touched")
	return nil
}

func (s untouchableStore) ReplaceForCurrency(context.Context, string, []models.MarketSnapshot, models.CurrencySync) error {
	s.t.Fatal("store must not be touched")
	return nil
}

func (s untouchableStore) Sync(context.Context, string) (*models.CurrencySync, error) {
	s.t.Fatal("store must not be touched")
	return nil, nil
}

func (s untouchableStore) UpsertSync(context.Context, models.CurrencySync) error {
	s.t.Fatal("store must not be touched")
	return nil
}

func TestCoinsByIDsEmptyShortCircuits(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		t.Fatal("remote must not be called")
		return nil, nil
	}}
	engine, err := NewEngine(remote, untouchableStore{t: t})
	require.NoError(t, err)

	coins, err := engine.CoinsByIDs(context.Background(), nil, "usd", false)
	require.NoError(t, err)
	require.Empty(t, coins)

	coins, err = engine.CoinsByIDs(context.Background(), []string{"", "  "}, "usd", true)
	require.NoError(t, err)
	require.Empty(t, coins)
	require.Zero(t, remote.callCount())
}

func TestCoinsByIDsSharesCacheKeyAcrossOrder(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return []Coin{btc(), eth()}, nil
	}}
	engine, _, _, _ := newTestEngine(t, remote)
	ctx := context.Background()

	first, err := engine.CoinsByIDs(ctx, []string{"ethereum", "bitcoin"}, "usd", false)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := engine.CoinsByIDs(ctx, []string{"bitcoin", "ethereum"}, "usd", false)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, remote.callCount())
}

func TestCoinsByIDsRateLimitedSubsetFallback(t *testing.T) {
	rateLimited := false
	remote := &fakeRemote{fn: func(_ string, q MarketsQuery) ([]Coin, error) {
		if rateLimited {
			return nil, &RateLimitedError{RetryAfter: time.Minute}
		}
		return []Coin{btc()}, nil
	}}
	engine, _, clock, _ := newTestEngine(t, remote)
	ctx := context.Background()

	// Only bitcoin ends up persisted.
	_, err := engine.CoinsByIDs(ctx, []string{"bitcoin"}, "usd", false)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	rateLimited = true
	subset, err := engine.CoinsByIDs(ctx, []string{"bitcoin", "ethereum"}, "usd", false)
	require.NoError(t, err)
	require.Len(t, subset, 1)
	require.Equal(t, "bitcoin", subset[0].ID)
}

func TestCoinsByIDsRateLimitedWithoutFallbackPropagates(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return nil, &RateLimitedError{RetryAfter: 10 * time.Second}
	}}
	engine, _, _, _ := newTestEngine(t, remote)

	_, err := engine.CoinsByIDs(context.Background(), []string{"bitcoin"}, "usd", false)
	require.Error(t, err)

	rl, ok := AsRateLimited(err)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, rl.RetryAfter)
}

func TestCurrencyNormalizationSharesCacheAndStoreKey(t *testing.T) {
	remote := &fakeRemote{fn: func(vsCurrency string, _ MarketsQuery) ([]Coin, error) {
		require.Equal(t, "usd", vsCurrency)
		return []Coin{btc()}, nil
	}}
	engine, _, _, db := newTestEngine(t, remote)
	ctx := context.Background()

	_, err := engine.TopCoins(ctx, "USD", false)
	require.NoError(t, err)
	_, err = engine.TopCoins(ctx, "usd", false)
	require.NoError(t, err)
	require.Equal(t, 1, remote.callCount())

	var rows []models.MarketSnapshot
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, "usd", rows[0].VsCurrency)
}

type quoteRecorder struct {
	mu    sync.Mutex
	coins []Coin
}

func (r *quoteRecorder) RefreshQuotes(_ context.Context, coins []Coin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coins = append(r.coins, coins...)
	return nil
}

func TestEngineForwardsFreshQuotesToSink(t *testing.T) {
	remote := &fakeRemote{fn: func(string, MarketsQuery) ([]Coin, error) {
		return []Coin{btc(), eth()}, nil
	}}
	sink := &quoteRecorder{}
	engine, _, _, _ := newTestEngine(t, remote, WithQuoteSink(sink))

	_, err := engine.TopCoins(context.Background(), "usd", false)
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.coins, 2)
	require.Equal(t, "bitcoin", sink.coins[0].ID)
}
