package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashcz/coinwatch/internal/markets"
)

const (
	// DefaultBaseURL is the public CoinGecko v3 API root.
	DefaultBaseURL = "https://api.coingecko.com/api/v3"

	defaultTimeout = 10 * time.Second
	defaultPerPage = 100
	maxPerPage     = 250
)

// Config holds client options.
type Config struct {
	BaseURL string
	APIKey  string // optional demo API key, sent as x-cg-demo-api-key
	Timeout time.Duration
	PerPage int // default page size for top-coin queries
}

// Client fetches market quotes from the CoinGecko REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	perPage    int
}

// New constructs a CoinGecko client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		perPage:    perPage,
	}
}

type marketDTO struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	Image                    string   `json:"image"`
	CurrentPrice             *float64 `json:"current_price"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
	MarketCap                *float64 `json:"market_cap"`
}

// Markets calls GET /coins/markets. A 429 response is reported as
// *markets.RateLimitedError carrying the Retry-After hint when present.
func (c *Client) Markets(ctx context.Context, vsCurrency string, q markets.MarketsQuery) ([]markets.Coin, error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = c.perPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	page := q.Page
	if page <= 0 {
		page = 1
	}

	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("sparkline", "false")
	params.Set("price_change_percentage", "24h")
	if len(q.IDs) > 0 {
		params.Set("ids", strings.Join(q.IDs, ","))
	}

	endpoint := fmt.Sprintf("%s/coins/markets?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coingecko: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko: request markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &markets.RateLimitedError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko: unexpected status %d", resp.StatusCode)
	}

	var dtos []marketDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("coingecko: decode markets: %w", err)
	}

	coins := make([]markets.Coin, 0, len(dtos))
	for _, dto := range dtos {
		coin := markets.Coin{
			ID:           dto.ID,
			Symbol:       dto.Symbol,
			Name:         dto.Name,
			Price:        dto.CurrentPrice,
			Change24hPct: dto.PriceChangePercentage24h,
			MarketCap:    dto.MarketCap,
		}
		if dto.Image != "" {
			image := dto.Image
			coin.ImageURL = &image
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

// retryAfter parses the Retry-After header in seconds, zero when absent or
// unparseable.
func retryAfter(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
