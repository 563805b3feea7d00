package messaging

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned by request-scoped operations when no live
	// connection handle exists for the tenant.
	ErrNotConnected = errors.New("messaging: tenant not connected")

	// ErrPairingTimeout is returned by RequestPairingCode when the transport
	// produces no code within the bounded window.
	ErrPairingTimeout = errors.New("messaging: pairing code request timed out")
)

// RateLimitError reports an exhausted daily quota. Callers must not retry
// before ResetAt.
type RateLimitError struct {
	DailyCount int64
	DailyLimit int64
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("messaging: daily quota exhausted (%d/%d), resets at %s",
		e.DailyCount, e.DailyLimit, e.ResetAt.UTC().Format(time.RFC3339))
}

// IsRateLimited reports whether err is a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// SendError wraps a transport-level send failure. The dispatcher never
// retries; retry policy belongs to the caller.
type SendError struct {
	Cause error
}

func (e *SendError) Error() string {
	return "messaging: transport send failed: " + e.Cause.Error()
}

func (e *SendError) Unwrap() error { return e.Cause }
