// Package harness stress-tests a mutual-exclusion lock.
//
// Run spawns a number of workers that each acquire the lock, add a step to a
// shared plain integer and release. Optionally a controller takes the lock
// before the workers start and holds it for a while, proving that nobody gets
// in until it lets go. Once every worker has finished, the counter must equal
// the number of completed critical sections; the Report records what was
// observed and Verify turns any discrepancy into an error.
//
//	l := spinlock.New()
//	rep, err := harness.Run(ctx, harness.Spin(l), harness.Config{Workers: 100, PreLock: true})
package harness
