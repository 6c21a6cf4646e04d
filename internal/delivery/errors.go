package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FloodError is a remote demand to wait before the next request.
type FloodError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("flood control: retry after %s: %v", e.Wait, e.Err)
}

func (e *FloodError) Unwrap() error { return e.Err }

// TransientError is a failure worth retrying after a short backoff.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure that no retry will fix.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

func Flood(wait time.Duration, err error) error { return &FloodError{Wait: wait, Err: err} }

func Transient(err error) error { return &TransientError{Err: err} }

func Fatal(err error) error { return &FatalError{Err: err} }

// Class is the retry category of a send error.
type Class int

const (
	ClassNone Class = iota
	ClassFlood
	ClassTransient
	ClassFatal
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassFlood:
		return "flood"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassCanceled:
		return "canceled"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Classify reports the retry category of err and, for flood control, the
// mandated wait. Errors a sender did not tag are treated as transient.
func Classify(err error) (Class, time.Duration) {
	if err == nil {
		return ClassNone, 0
	}
	var flood *FloodError
	if errors.As(err, &flood) {
		return ClassFlood, flood.Wait
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return ClassFatal, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled, 0
	}
	return ClassTransient, 0
}
