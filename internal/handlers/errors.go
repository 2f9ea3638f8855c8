package handlers

import (
	"errors"
	"fmt"

	apperrors "github.com/ashcz/coinwatch/pkg/errors"

	"github.com/ashcz/coinwatch/internal/markets"
)

// mapMarketsError translates engine errors into client-facing errors.
func mapMarketsError(err error) error {
	if err == nil {
		return nil
	}

	if rl, ok := markets.AsRateLimited(err); ok {
		if rl.RetryAfter > 0 {
			return apperrors.ErrRateLimited.WithMessage(
				fmt.Sprintf("Upstream rate limit reached, retry in %d seconds", int(rl.RetryAfter.Seconds())),
			).WithInternal(err)
		}
		return apperrors.ErrRateLimited.WithInternal(err)
	}
	if errors.Is(err, markets.ErrNotFound) {
		return apperrors.ErrNotFound.WithMessage("Coin not found").WithInternal(err)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return apperrors.ErrUpstreamUnavailable.WithInternal(err)
}
