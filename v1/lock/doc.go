// Package lock provides keyed lockers for coordinating across goroutines or
// nodes, with in-memory and Redis implementations.
//
// Both implementations wait by spinning: a blocked Acquire retries TryLock,
// pausing between attempts with a spinlock.Backoff policy, until it succeeds
// or its context ends. Lock and unlock events are published on a syncbus Bus
// as "lock:<key>" and "unlock:<key>", enabling coordination patterns such as
// leader election. The Redis locker also wakes early on unlock events. Locks
// can have an optional TTL to avoid deadlocks when a holder disappears.
//
// Ownership is tracked per acquisition: TryLock and Acquire return a Token and
// Release only frees the key while that token still holds it. Releasing with
// a stale token fails with errors.ErrNotHolder and leaves the current holder
// alone.
package lock
