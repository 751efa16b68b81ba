package resilience

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrCircuitOpen is returned without calling the operation while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrTimeout is returned when a guarded operation misses its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrConnection marks a failed connection to a dependency.
	ErrConnection = errors.New("connection error")
	// ErrBadResponse marks a response that could not be interpreted.
	ErrBadResponse = errors.New("bad response")
)

// IsConnectionError reports connection failures and timeouts.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsBadResponse reports errors marked with ErrBadResponse.
func IsBadResponse(err error) bool {
	return errors.Is(err, ErrBadResponse)
}

// IsTransient reports errors worth retrying: connection problems, timeouts and
// bad responses. Context cancellation, open breakers and everything else are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return IsConnectionError(err) || IsBadResponse(err)
}
