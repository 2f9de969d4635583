package harvest

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports that the run's cancellation signal fired.
	ErrCancelled = errors.New("harvest cancelled")
	// ErrBlocked reports that a page matched an anti-bot block signature.
	ErrBlocked = errors.New("blocked by remote site")
	// ErrContentTimeout reports that the content root never became visible.
	ErrContentTimeout = errors.New("content not visible before timeout")
	// ErrFileWriteTimeout reports that a written file could not be confirmed.
	ErrFileWriteTimeout = errors.New("file write not confirmed before timeout")
	// ErrContentRootNotFound reports that the page has no content root.
	ErrContentRootNotFound = errors.New("content root not found")
	// ErrElementNotFound reports that a selector matched nothing.
	ErrElementNotFound = errors.New("element not found")
)

// Cancelled wraps cause (typically ctx.Err()) so that errors.Is matches both
// ErrCancelled and the underlying context error.
func Cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	if errors.Is(cause, ErrCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// IsCancelled reports whether err stems from cancellation, either the gate's
// or the caller's context.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// MissingFieldError reports a required field that extraction could not find.
type MissingFieldError struct {
	Field string
	Err   error
}

func (e *MissingFieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("missing field %s: %v", e.Field, e.Err)
	}
	return "missing field " + e.Field
}

func (e *MissingFieldError) Unwrap() error { return e.Err }

// TransportError reports a failure talking to the remote site or the
// rendering engine.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExtractionError covers any other unexpected per-item failure.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("process %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
