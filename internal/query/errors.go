package query

import "fmt"

// ConnectionError reports that the pool could not service an acquire, either
// because session creation exhausted its retry budget or the engine handle is
// gone. It is fatal for that acquire and is not retried on the caller's
// behalf.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection %s failed", e.Op)
	}
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports that the engine rejected or failed a statement. Message
// holds the sanitized text safe to surface; Err keeps the raw cause for
// logging.
type QueryError struct {
	Message string
	Err     error
}

func (e *QueryError) Error() string { return e.Message }

func (e *QueryError) Unwrap() error { return e.Err }

// CancelReason records what triggered a cancellation.
type CancelReason int

const (
	CancelUser CancelReason = iota + 1
	CancelSuperseded
	CancelTimeout
)

func (r CancelReason) String() string {
	switch r {
	case CancelUser:
		return "user"
	case CancelSuperseded:
		return "superseded"
	case CancelTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// CancelledOperation marks a request that ended without a committed result.
// IsSystemCancelled is true for supersession and timeout, false for an
// explicit user cancel, so callers can render "timed out" or stay silent
// instead of blaming the user.
type CancelledOperation struct {
	Reason            CancelReason
	IsSystemCancelled bool
}

func (e *CancelledOperation) Error() string {
	return fmt.Sprintf("operation cancelled (%s)", e.Reason)
}

// Cancelled wraps a reason into the matching CancelledOperation.
func Cancelled(reason CancelReason) *CancelledOperation {
	return &CancelledOperation{
		Reason:            reason,
		IsSystemCancelled: reason != CancelUser,
	}
}
