package audit

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEventType  = errors.New("unknown audit event type")
	ErrInvalidRange      = errors.New("start is after end")
	ErrNegativeRetention = errors.New("retention days must not be negative")
	ErrEmitterClosed     = errors.New("audit emitter is closed")
	ErrNoFreeName        = errors.New("no free audit file name")
)

// StoreError wraps a failure of a store operation. Path is empty when the
// failure is not tied to one file.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("audit %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("audit %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
