package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound reports a post id unknown to the remote source.
var ErrNotFound = errors.New("posts: post not found")

const (
	// DefaultBaseURL is the public JSONPlaceholder API root.
	DefaultBaseURL = "https://jsonplaceholder.typicode.com"

	defaultTimeout = 10 * time.Second
)

// Post is one placeholder article.
type Post struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Config holds client options.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches placeholder posts over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New constructs a posts client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Posts returns all placeholder posts.
func (c *Client) Posts(ctx context.Context) ([]Post, error) {
	var out []Post
	if err := c.get(ctx, c.baseURL+"/posts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Post returns a single post, or ErrNotFound for an unknown id.
func (c *Client) Post(ctx context.Context, id int) (*Post, error) {
	var out Post
	if err := c.get(ctx, c.baseURL+"/posts/"+strconv.Itoa(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("posts: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("posts: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("posts: decode response: %w", err)
	}
	return nil
}
