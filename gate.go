package stacks

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// syncGate serializes replica writes between the pull/push orchestrators and
// the event stream processor. It is held only across a single local apply
// step, never across network I/O. Acquisition is context-aware so a
// cancelled sync cycle never parks on the gate.
type syncGate struct {
	sem *semaphore.Weighted
}

func newSyncGate() *syncGate {
	return &syncGate{sem: semaphore.NewWeighted(1)}
}

func (g *syncGate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *syncGate) Release() {
	g.sem.Release(1)
}
