package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashcz/coinwatch/internal/markets"
)

func TestMarketsMapsResponse(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/coins/markets", r.URL.Path)
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"bitcoin","symbol":"btc","name":"Bitcoin","image":"https://img/btc.png","current_price":65000.5,"price_change_percentage_24h":-1.2,"market_cap":1280000000000},
			{"id":"ethereum","symbol":"eth","name":"Ethereum","image":"","current_price":null,"price_change_percentage_24h":null,"market_cap":null}
		]`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, PerPage: 50})
	coins, err := client.Markets(context.Background(), "usd", markets.MarketsQuery{})
	require.NoError(t, err)
	require.Len(t, coins, 2)

	require.Equal(t, []string{"usd"}, gotQuery["vs_currency"])
	require.Equal(t, []string{"market_cap_desc"}, gotQuery["order"])
	require.Equal(t, []string{"50"}, gotQuery["per_page"])
	require.Equal(t, []string{"1"}, gotQuery["page"])

	btc := coins[0]
	require.Equal(t, "bitcoin", btc.ID)
	require.Equal(t, "btc", btc.Symbol)
	require.NotNil(t, btc.ImageURL)
	require.Equal(t, "https://img/btc.png", *btc.ImageURL)
	require.NotNil(t, btc.Price)
	require.Equal(t, 65000.5, *btc.Price)

	eth := coins[1]
	require.Nil(t, eth.ImageURL)
	require.Nil(t, eth.Price)
	require.Nil(t, eth.MarketCap)
}

func TestMarketsSendsIDsAndAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		require.Equal(t, "2", r.URL.Query().Get("per_page"))
		require.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "demo-key"})
	coins, err := client.Markets(context.Background(), "eur", markets.MarketsQuery{
		IDs:     []string{"bitcoin", "ethereum"},
		PerPage: 2,
		Page:    1,
	})
	require.NoError(t, err)
	require.Empty(t, coins)
}

func TestMarketsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Markets(context.Background(), "usd", markets.MarketsQuery{})
	require.Error(t, err)

	rl, ok := markets.AsRateLimited(err)
	require.True(t, ok)
	require.Equal(t, 30*time.Second, rl.RetryAfter)
}

func TestMarketsRateLimitedWithoutRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Markets(context.Background(), "usd", markets.MarketsQuery{})

	rl, ok := markets.AsRateLimited(err)
	require.True(t, ok)
	require.Zero(t, rl.RetryAfter)
}

func TestMarketsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Markets(context.Background(), "usd", markets.MarketsQuery{})
	require.Error(t, err)

	_, ok := markets.AsRateLimited(err)
	require.False(t, ok)
	require.Contains(t, err.Error(), "unexpected status 502")
}
