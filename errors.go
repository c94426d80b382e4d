package throttle

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientTokens is returned by Bucket.SpendIfAvailable when the
	// bucket cannot cover the cost. Wait loops consume it; a Guard never
	// returns it.
	ErrInsufficientTokens = errors.New("throttle: insufficient tokens")

	// ErrRejected marks an error as a rate-limit rejection by the remote
	// service. It is what the default rejection classifier looks for.
	ErrRejected = errors.New("throttle: rejected by remote rate limit")

	// ErrRetriesExhausted is returned once a guarded call has been rejected
	// on every allowed attempt.
	ErrRetriesExhausted = errors.New("throttle: retries exhausted")

	// ErrWaitTimedOut is returned when capacity did not become available
	// within the configured maximum wait.
	ErrWaitTimedOut = errors.New("throttle: wait for capacity timed out")

	// ErrInvalidLimit is returned for rates, capacities and controller
	// settings outside their allowed ranges.
	ErrInvalidLimit = errors.New("throttle: invalid limit")
)

// RejectionError wraps an error returned by a remote service so that it
// matches ErrRejected. RetryAfter carries a server-provided hint, if any.
type RejectionError struct {
	Err        error
	RetryAfter time.Duration
}

// Reject marks err as a remote rate-limit rejection.
func Reject(err error, retryAfter time.Duration) error {
	return &RejectionError{Err: err, RetryAfter: retryAfter}
}

func (e *RejectionError) Error() string {
	if e.Err == nil {
		return ErrRejected.Error()
	}
	return fmt.Sprintf("throttle: rejected by remote rate limit: %v", e.Err)
}

func (e *RejectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRejected}
	}
	return []error{ErrRejected, e.Err}
}

// IsRejection is the default rejection classifier.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}

// RetriesExhaustedError reports the last remote rejection after a guard ran
// out of attempts.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("throttle: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

// WaitTimedOutError describes which resource could not be acquired in time.
type WaitTimedOutError struct {
	Scope    string
	Resource string
	Cost     float64
	Waited   time.Duration
}

func (e *WaitTimedOutError) Error() string {
	name := e.Resource
	if e.Scope != "" {
		name = e.Scope + "/" + e.Resource
	}
	return fmt.Sprintf("throttle: waited %s for %g %s without capacity", e.Waited, e.Cost, name)
}

func (e *WaitTimedOutError) Unwrap() error {
	return ErrWaitTimedOut
}

func retryAfter(err error) time.Duration {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.RetryAfter
	}
	return 0
}
