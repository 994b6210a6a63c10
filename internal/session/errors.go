package session

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned for intents the current state does not allow,
	// such as sending while a reply is still pending.
	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrNotFound     = errors.New("message not found")
	ErrClosed       = errors.New("session closed")
)

type FailureReason string

const (
	ReasonTimeout  FailureReason = "timeout"
	ReasonCanceled FailureReason = "canceled"
	ReasonBackend  FailureReason = "backend"
)

// GenerationFailure is delivered to error listeners when a reply could not
// be produced. The session is back to idle by the time it is seen.
type GenerationFailure struct {
	Reason FailureReason
	Err    error
}

func (e *GenerationFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation failed (%s)", e.Reason)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Reason, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

func classify(req, lifetime context.Context, err error) FailureReason {
	switch {
	case lifetime.Err() != nil:
		return ReasonCanceled
	case errors.Is(req.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonBackend
	}
}
