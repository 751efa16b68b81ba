// Package resilience guards calls to external dependencies.
//
// Each primitive is a Middleware over the same Operation shape so they can be
// chained explicitly, outermost first:
//
//	guard := resilience.Chain(breaker.Middleware(), retrier.Middleware(),
//		resilience.Timeout(10*time.Second), limiter.Middleware())
//	err := guard(func(ctx context.Context) error { ... })(ctx)
package resilience

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Operation is a unit of guarded work.
type Operation func(ctx context.Context) error

// Middleware wraps an Operation with extra behaviour.
type Middleware func(next Operation) Operation

// Chain composes middlewares. The first one listed is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Operation) Operation {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				next = mws[i](next)
			}
		}
		return next
	}
}

// Call runs fn through mw and returns its value. An attempt only publishes
// its value while its context is live, so an attempt abandoned by Timeout
// cannot overwrite the result of a later one or race the return.
func Call[T any](ctx context.Context, mw Middleware, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		mu       sync.Mutex
		out      T
		returned bool
	)
	err := mw(func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		if !returned {
			out = v
		}
		return nil
	})(ctx)

	mu.Lock()
	defer mu.Unlock()
	returned = true
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
