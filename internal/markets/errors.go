package markets

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports a successful remote query that matched no coin.
var ErrNotFound = errors.New("markets: coin not found")

// RateLimitedError reports an upstream "too many requests" response.
// RetryAfter is zero when the upstream did not announce a wait time.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("markets: rate limited, retry after %s", e.RetryAfter)
	}
	return "markets: rate limited"
}

// AsRateLimited unwraps err into a RateLimitedError when it carries one.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
