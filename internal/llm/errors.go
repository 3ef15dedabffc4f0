package llm

import (
	"context"
	"errors"
	"fmt"
)

// Upstream failure classes. Match with errors.Is.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamRejected    = errors.New("upstream rejected")
)

// UnavailableError means the endpoint could not be reached or did not answer
// in time (network failure, timeout, cancellation).
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUpstreamUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// RejectedError means the endpoint answered with a non-2xx status.
type RejectedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: status %d (%s): %s", ErrUpstreamRejected, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrUpstreamRejected, e.Status, e.Message)
}

func (e *RejectedError) Is(target error) bool { return target == ErrUpstreamRejected }

// Transient reports whether a rejection is worth repeating later
// (rate limiting or a server-side failure).
func (e *RejectedError) Transient() bool {
	return e.Status == 429 || e.Status >= 500
}

// IsUnavailable reports whether err is an upstream availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// IsRejected reports whether err is an upstream rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrUpstreamRejected)
}

func unavailable(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return &UnavailableError{Err: err}
}
