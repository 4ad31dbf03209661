package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
)

// WithTimeout bounds fn to timeout. A zero timeout runs fn on ctx as is.
//
// fn keeps running in the background after the limit if it ignores its
// context (bolt transactions do), but the caller is released. The error
// wraps both context.DeadlineExceeded and errors.ErrTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(bounded) }()

	select {
	case err := <-done:
		return err
	case <-bounded.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: cancelled: %w", op, err)
		}
		return fmt.Errorf("%s: %w after %v: %w", op, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	}
}
