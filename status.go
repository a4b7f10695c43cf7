package stacks

import (
	"sync"
	"time"
)

// SyncStatus is the externally observable state of the sync coordinator.
// It is a closed set of variants; switch exhaustively on the concrete type.
type SyncStatus interface {
	isSyncStatus()
}

// StatusIdle means no sync cycle is running.
type StatusIdle struct{}

func (StatusIdle) isSyncStatus() {}

// StatusSyncing means a sync cycle has started.
type StatusSyncing struct{}

func (StatusSyncing) isSyncStatus() {}

// SyncPhase names the coordinator phase a progress report belongs to.
type SyncPhase string

const (
	PhasePull SyncPhase = "pull"
	PhasePush SyncPhase = "push"
)

// StatusProgress reports per-page progress during a sync phase.
type StatusProgress struct {
	Phase      SyncPhase
	Collection Collection
	Current    int
	Total      int
}

func (StatusProgress) isSyncStatus() {}

// StatusRetrying reports a backoff retry of a failed phase.
type StatusRetrying struct {
	Attempt     int
	MaxAttempts int
}

func (StatusRetrying) isSyncStatus() {}

// StatusSuccess means the last sync cycle completed.
type StatusSuccess struct {
	CompletedAt time.Time
}

func (StatusSuccess) isSyncStatus() {}

// StatusError means the last sync cycle failed.
type StatusError struct {
	Cause error
}

func (StatusError) isSyncStatus() {}

// StatusLibraryMismatch means the server now serves a different library than
// the one the replica was built from. HasPendingChanges warns the caller that
// resetting for the new library would discard unpushed local edits.
type StatusLibraryMismatch struct {
	Expected          string
	Actual            string
	HasPendingChanges bool
}

func (StatusLibraryMismatch) isSyncStatus() {}

// statusFeed broadcasts SyncStatus values to subscribers. Single writer
// (the coordinator); many readers. Slow readers drop intermediate values
// rather than block the writer.
type statusFeed struct {
	mu      sync.Mutex
	current SyncStatus
	subs    map[chan SyncStatus]struct{}
}

func newStatusFeed() *statusFeed {
	return &statusFeed{
		current: StatusIdle{},
		subs:    make(map[chan SyncStatus]struct{}),
	}
}

// Current returns the most recently published status.
func (f *statusFeed) Current() SyncStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Publish records the status and fans it out to subscribers.
func (f *statusFeed) Publish(s SyncStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = s
	for ch := range f.subs {
		select {
		case ch <- s:
		default:
			// Drop for slow readers; Current() always has the latest.
		}
	}
}

// Subscribe returns a channel of status updates and a cancel function.
// The channel is buffered; missed intermediate values are not replayed.
func (f *statusFeed) Subscribe() (<-chan SyncStatus, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan SyncStatus, 16)
	f.subs[ch] = struct{}{}

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}
