package spinlock

import (
	"fmt"
	"runtime"
)

// Backoff is called between failed acquisition attempts. attempt starts at 1
// and grows by one on every retry.
type Backoff func(attempt int)

// DefaultMaxBackoff caps the number of yields performed by Exponential.
const DefaultMaxBackoff = 16

// Spin retries immediately.
func Spin(int) {}

// Yield gives the processor away once before retrying.
func Yield(int) { runtime.Gosched() }

// Exponential yields 2^attempt times, capped at max.
func Exponential(max int) Backoff {
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	return func(attempt int) {
		n := max
		if attempt < 31 && 1<<attempt < max {
			n = 1 << attempt
		}
		for i := 0; i < n; i++ {
			runtime.Gosched()
		}
	}
}

var defaultBackoff = Exponential(DefaultMaxBackoff)

// ParseBackoff returns the policy registered under name. An empty name selects
// the default exponential policy.
func ParseBackoff(name string, max int) (Backoff, error) {
	switch name {
	case "", "exponential":
		return Exponential(max), nil
	case "yield":
		return Yield, nil
	case "spin":
		return Spin, nil
	default:
		return nil, fmt.Errorf("unknown backoff %q", name)
	}
}
