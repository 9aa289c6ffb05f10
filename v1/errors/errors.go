package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidRelease is returned when a lock is released while unlocked,
	// which includes a second release without an intervening acquire.
	ErrInvalidRelease = errors.New("release of unlocked lock")
	// ErrNotHolder is returned when a release presents a token that does not
	// belong to the current holder.
	ErrNotHolder = errors.New("release by non-holder")

	ErrLostUpdate        = errors.New("counter does not match completed critical sections")
	ErrExclusionViolated = errors.New("more than one task inside the critical section")
	ErrEarlyEntry        = errors.New("worker entered critical section while controller held the lock")
)

// MisuseError reports a lock operation performed in violation of the
// acquire/release protocol.
type MisuseError struct {
	Lock string
	Op   string
	Err  error
}

func (e *MisuseError) Error() string {
	if e.Lock == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Lock, e.Err)
}

func (e *MisuseError) Unwrap() error { return e.Err }
