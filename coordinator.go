package stacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry backoff bounds for transient phase failures.
const (
	retryBackoffBase = 500 * time.Millisecond
	retryBackoffCap  = 30 * time.Second
)

// Coordinator sequences the phases of a full sync cycle and owns the
// externally observable sync status. The event stream runs independently;
// both serialize replica writes through the shared gate.
type Coordinator struct {
	store       Replica
	api         CatalogAPI
	gate        *syncGate
	puller      *puller
	pusher      *pusher
	feed        *statusFeed
	debug       *DebugLogger
	maxAttempts int

	syncing atomic.Bool

	// ensureStream reconnects the live feed at the end of a cycle.
	// Set by the owning Client; nil in offline tests.
	ensureStream func()
}

// newCoordinator wires the orchestrators around a shared gate.
func newCoordinator(store Replica, api CatalogAPI, gate *syncGate, debug *DebugLogger, pageSize, maxAttempts int) *Coordinator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Coordinator{
		store:       store,
		api:         api,
		gate:        gate,
		puller:      &puller{store: store, api: api, gate: gate, pageSize: pageSize, debug: debug},
		pusher:      &pusher{store: store, api: api, gate: gate, debug: debug},
		feed:        newStatusFeed(),
		debug:       debug,
		maxAttempts: maxAttempts,
	}
}

// Status returns the current sync status.
func (c *Coordinator) Status() SyncStatus {
	return c.feed.Current()
}

// StatusChanges subscribes to status updates. The returned cancel function
// releases the subscription.
func (c *Coordinator) StatusChanges() (<-chan SyncStatus, func()) {
	return c.feed.Subscribe()
}

// Sync runs one full cycle: verify library identity, pull deltas, pull
// preferences (best-effort), flush pending ops, persist checkpoints,
// rebuild the read index, and ensure the stream is connected.
//
// Cancellation is not a failure: the status returns to Idle and the
// context error propagates. Any other failure surfaces as Error with the
// checkpoint left at its last successful value, so the next cycle resumes
// from the same point.
func (c *Coordinator) Sync(ctx context.Context) error {
	if !c.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer c.syncing.Store(false)

	c.feed.Publish(StatusSyncing{})

	err := c.runCycle(ctx)
	switch {
	case err == nil:
		c.feed.Publish(StatusSuccess{CompletedAt: time.Now().UTC()})
		return nil

	case errors.Is(err, ErrLibraryMismatch):
		// Status already published with the mismatch details.
		return err

	case ctx.Err() != nil:
		c.feed.Publish(StatusIdle{})
		return err

	default:
		c.feed.Publish(StatusError{Cause: err})
		return err
	}
}

func (c *Coordinator) runCycle(ctx context.Context) error {
	// 1. Library identity; abort before touching data on mismatch.
	if err := c.verifyLibrary(ctx); err != nil {
		return err
	}

	onProgress := func(s SyncStatus) { c.feed.Publish(s) }

	// 2. Delta pull for every collection.
	if err := c.withRetry(ctx, func(ctx context.Context) error {
		_, err := c.puller.pull(ctx, onProgress)
		return err
	}); err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	// 3. User preferences; failures never fail the cycle.
	c.pullPreferences(ctx)

	// 4. Drain the pending operation queue.
	if err := c.withRetry(ctx, func(ctx context.Context) error {
		_, err := c.pusher.flush(ctx, onProgress)
		return err
	}); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	// 5. Per-collection checkpoints were stored as each collection
	// completed; record the cycle timestamp.
	if err := c.store.SetMetadata(metaLastSync, formatTime(time.Now().UTC())); err != nil {
		return fmt.Errorf("persist last sync: %w", err)
	}

	// 6. Derived read index; best-effort.
	if err := c.store.RebuildCatalogIndex(); err != nil {
		c.debug.LogError("rebuild_index", err)
	}

	// 7. Live feed.
	if c.ensureStream != nil {
		c.ensureStream()
	}

	return nil
}

// verifyLibrary compares the server's library identity against the one the
// replica was built from. Unreachable server is non-fatal here; the cycle
// proceeds on cached data and fails later if the server stays down.
func (c *Coordinator) verifyLibrary(ctx context.Context) error {
	expected, err := c.store.Metadata(metaLibraryID)
	if err != nil {
		return err
	}

	info, err := c.api.LibraryInfo(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.debug.LogError("library_info", err)
		return nil
	}

	if expected == "" {
		// First-ever sync; pin the identity permanently.
		return c.store.SetMetadata(metaLibraryID, info.ID)
	}

	if info.ID != expected {
		pending, err := c.store.PendingOpCount()
		if err != nil {
			return err
		}
		c.feed.Publish(StatusLibraryMismatch{
			Expected:          expected,
			Actual:            info.ID,
			HasPendingChanges: pending > 0,
		})
		return fmt.Errorf("%w: expected %s, got %s", ErrLibraryMismatch, expected, info.ID)
	}

	return nil
}

func (c *Coordinator) pullPreferences(ctx context.Context) {
	prefs, err := c.api.Preferences(ctx)
	if err != nil {
		c.debug.LogError("preferences", err)
		return
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		c.debug.LogError("preferences", err)
		return
	}
	if err := c.store.SetMetadata("preferences", string(data)); err != nil {
		c.debug.LogError("preferences", err)
	}
}

// withRetry runs a phase with capped exponential backoff. Only transient
// failures are retried; conflicts, rejections, and cancellation pass
// straight through.
func (c *Coordinator) withRetry(ctx context.Context, f func(context.Context) error) error {
	attempt := 0
	b := retry.WithCappedDuration(retryBackoffCap, retry.NewExponential(retryBackoffBase))
	b = retry.WithMaxRetries(uint64(c.maxAttempts-1), b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.feed.Publish(StatusRetrying{Attempt: attempt, MaxAttempts: c.maxAttempts})
		}

		err := f(ctx)
		if err != nil && isTransient(err) && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})
}

// ForceFullSync clears all checkpoints, then runs a full cycle. The next
// pull requests every record (updatedAfter unset).
func (c *Coordinator) ForceFullSync(ctx context.Context) error {
	if err := c.store.ClearCheckpoints(); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return c.Sync(ctx)
}

// ResetForNewLibrary wipes all local entities and pending operations,
// pins the new library identity, and syncs from scratch. Destructive:
// callers must confirm with the user first, especially when the status
// reported HasPendingChanges.
func (c *Coordinator) ResetForNewLibrary(ctx context.Context, newLibraryID string) error {
	if err := c.store.ResetAll(); err != nil {
		return fmt.Errorf("reset replica: %w", err)
	}
	if err := c.store.SetMetadata(metaLibraryID, newLibraryID); err != nil {
		return fmt.Errorf("store library id: %w", err)
	}
	return c.Sync(ctx)
}

// HandleReconnect runs the out-of-band catch-up after a stream reconnect:
// push-flush then pull, without touching the public status. Skipped when a
// full sync is already in progress, since that cycle recovers the gap.
func (c *Coordinator) HandleReconnect(ctx context.Context) error {
	if c.syncing.Load() {
		return nil
	}

	if _, err := c.pusher.flush(ctx, nil); err != nil {
		c.debug.LogError("reconnect_push", err)
		return err
	}
	if _, err := c.puller.pull(ctx, nil); err != nil {
		c.debug.LogError("reconnect_pull", err)
		return err
	}

	c.debug.LogSync("reconnect", "catch-up complete")
	return nil
}
