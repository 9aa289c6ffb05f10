// Package spinlock provides a mutual-exclusion lock built directly on a single
// atomic state word.
//
// Waiters never park on a scheduler queue: they poll the state word and
// retry a compare-and-swap, pausing between attempts according to a Backoff
// policy. This suits very short critical sections such as bumping a counter.
// There is no fairness guarantee and a waiter may starve under adversarial
// scheduling.
//
// Operations in sync/atomic are sequentially consistent, so every write made
// before Release is visible to the task whose Acquire succeeds next.
//
// Misuse is detected rather than ignored: releasing an unlocked Lock returns
// an error wrapping errors.ErrInvalidRelease and leaves the state untouched.
// OwnedLock additionally tells a stale or foreign release apart from a double
// release.
package spinlock
