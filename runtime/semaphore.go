package runtime

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// withPermit acquires one weighted slot on sem, runs fn, and releases the
// slot on every exit path including a panic propagating out of fn. A nil
// sem means the bound is disabled (no limit configured), so fn runs
// directly. Gives the "released on all exit paths" invariant (spec §8) a
// single call site instead of a defer reproduced at every acquire, mirroring
// the teacher's scale.Bulkhead.Acquire acquire/release-func pairing.
func withPermit(ctx context.Context, sem *semaphore.Weighted, fn func() error) error {
	if sem == nil {
		return fn()
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn()
}
