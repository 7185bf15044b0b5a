package ids

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrWorkerIDOutOfRange = errors.New("ids: worker id out of range")
	ErrInvalidEpoch       = errors.New("ids: invalid epoch")
	ErrInvalidLayout      = errors.New("ids: invalid bit layout")
	ErrClockRolledBack    = errors.New("ids: clock moved backwards")
	ErrEpochExhausted     = errors.New("ids: timestamp no longer fits the id layout")
	ErrInvalidID          = errors.New("ids: invalid id")
)

// ClockRollbackError is returned by Next when the clock moved backwards by
// more than the configured tolerance. The generator state is left untouched.
type ClockRollbackError struct {
	Drift     time.Duration
	Tolerance time.Duration
}

func (e *ClockRollbackError) Error() string {
	return fmt.Sprintf("%v: drift %s exceeds tolerance %s", ErrClockRolledBack, e.Drift, e.Tolerance)
}

func (e *ClockRollbackError) Unwrap() error { return ErrClockRolledBack }
