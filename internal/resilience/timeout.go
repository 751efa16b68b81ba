package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Timeout bounds each call to d. The operation's context is cancelled on
// expiry and ErrTimeout is returned without waiting for an operation that
// ignores cancellation. A non-positive d disables the guard.
func Timeout(d time.Duration) Middleware {
	return func(next Operation) Operation {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- next(tctx) }()

			select {
			case err := <-done:
				if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					return fmt.Errorf("%w after %s: %v", ErrTimeout, d, err)
				}
				return err
			case <-tctx.Done():
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w after %s", ErrTimeout, d)
			}
		}
	}
}
