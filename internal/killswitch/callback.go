package killswitch

import (
	"context"
	"fmt"
)

// safeCall runs a callback, turning a panic into an error so one broken
// callback cannot stop the rest.
func safeCall(ctx context.Context, cb Callback, reason Reason, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(ctx, reason, data)
}
