package harness

import (
	"errors"
	"fmt"
	"time"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

// HoldObservation is the counter increase seen by the controller while it
// held the lock: right after spawning the workers and after the hold delay.
// Both must be zero.
type HoldObservation struct {
	AfterSpawn int `json:"after_spawn"`
	AfterDelay int `json:"after_delay"`
}

// Report describes one harness run.
type Report struct {
	ID            string            `json:"id"`
	Backend       string            `json:"backend"`
	Workers       int               `json:"workers"`
	Rounds        int               `json:"rounds"`
	Step          int               `json:"step"`
	PreLock       bool              `json:"prelock"`
	Expected      int               `json:"expected"`
	Counter       int               `json:"counter"`
	Entries       int64             `json:"entries"`
	RoundCounters []int             `json:"round_counters"`
	Holds         []HoldObservation `json:"holds,omitempty"`
	MaxInside     int32             `json:"max_inside"`
	Started       time.Time         `json:"started"`
	Duration      time.Duration     `json:"duration"`
}

// Verify checks the recorded run against the lock's guarantees and joins
// every violation found.
func (r *Report) Verify() error {
	var errs []error
	if r.MaxInside > 1 {
		errs = append(errs, fmt.Errorf("%w: %d tasks at once", spinerrors.ErrExclusionViolated, r.MaxInside))
	}
	if r.Counter != r.Expected {
		errs = append(errs, fmt.Errorf("%w: counter %d, expected %d", spinerrors.ErrLostUpdate, r.Counter, r.Expected))
	}
	if r.Entries*int64(r.Step) != int64(r.Counter) {
		errs = append(errs, fmt.Errorf("%w: counter %d after %d entries", spinerrors.ErrLostUpdate, r.Counter, r.Entries))
	}
	for i, got := range r.RoundCounters {
		if want := r.Workers * r.Step * (i + 1); got != want {
			errs = append(errs, fmt.Errorf("%w: round %d counter %d, expected %d", spinerrors.ErrLostUpdate, i+1, got, want))
		}
	}
	for i, h := range r.Holds {
		if h.AfterSpawn != 0 || h.AfterDelay != 0 {
			errs = append(errs, fmt.Errorf("%w: round %d saw +%d after spawn, +%d after hold",
				spinerrors.ErrEarlyEntry, i+1, h.AfterSpawn, h.AfterDelay))
		}
	}
	return errors.Join(errs...)
}

// OK reports whether Verify finds nothing wrong.
func (r *Report) OK() bool { return r.Verify() == nil }

func (r *Report) String() string {
	return fmt.Sprintf("counter=%d expected=%d ok=%t", r.Counter, r.Expected, r.OK())
}
