package core

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleReport is returned for a status report older than the last one applied.
	ErrStaleReport = errors.New("stale status report")

	// ErrCommandPending is returned when a command is issued while another
	// command's outcome is still unknown.
	ErrCommandPending = errors.New("an uncertain command is still pending")

	// ErrInvalidCommand is returned for commands outside the pod's programmable range.
	ErrInvalidCommand = errors.New("invalid temporary basal command")
)

// Store operations named by StoreError.Op.
const (
	StoreOpRead   = "read"
	StoreOpWrite  = "write"
	StoreOpEncode = "encode"
)

// StoreError reports a snapshot persistence failure after all attempts.
// The in-memory snapshot stays authoritative; callers treat it as a warning.
type StoreError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("snapshot store %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DecodeError reports a payload that could not be decoded.
type DecodeError struct {
	// Source names where the payload came from, e.g. a topic or "store".
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsWarning reports whether err accompanies a successfully applied mutation.
// A failed read applied nothing and is not a warning.
func IsWarning(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Op != StoreOpRead
}

// IsStale reports whether err is a stale-report rejection.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleReport)
}
