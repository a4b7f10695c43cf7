package stacks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// pushBatchSize bounds how many pending ops are loaded per drain round.
const pushBatchSize = 50

// PushSummary aggregates what a push flush accomplished.
type PushSummary struct {
	Acked     int
	Conflicts int
	Rejected  int
}

// pusher drains the pending operation queue in enqueue order.
type pusher struct {
	store Replica
	api   CatalogAPI
	gate  *syncGate
	debug *DebugLogger
}

// flush sends queued local mutations to the server, oldest first. Ops for
// the same entity keep their enqueue order, preserving edit causality.
//
// A conflict response removes the op and flags the entity instead of
// retrying the same payload. A permanent rejection drops the op. A
// network-level failure returns immediately, leaving the op queued; retry
// cadence is owned by the coordinator.
func (p *pusher) flush(ctx context.Context, onProgress func(SyncStatus)) (*PushSummary, error) {
	total, err := p.store.PendingOpCount()
	if err != nil {
		return nil, err
	}

	var (
		summary PushSummary
		done    int
	)

	for {
		ops, err := p.store.NextOps(pushBatchSize)
		if err != nil {
			return nil, err
		}
		if len(ops) == 0 {
			break
		}

		for _, op := range ops {
			if err := p.pushOne(ctx, op, &summary); err != nil {
				return &summary, err
			}

			done++
			if onProgress != nil {
				onProgress(StatusProgress{
					Phase:      PhasePush,
					Collection: op.Collection,
					Current:    done,
					Total:      total,
				})
			}
		}
	}

	p.debug.LogSync("push", fmt.Sprintf("%d acked, %d conflicts, %d rejected",
		summary.Acked, summary.Conflicts, summary.Rejected))

	return &summary, nil
}

func (p *pusher) pushOne(ctx context.Context, op *PendingOp, summary *PushSummary) error {
	if op.Kind != OpDelete {
		if err := p.setState(ctx, op.Collection, op.EntityID, StateSyncing); err != nil {
			return err
		}
	}

	result, err := p.api.PushOp(ctx, op)

	var conflict *ConflictError
	var rejection *RejectionError
	switch {
	case err == nil:
		if err := p.ackOp(ctx, op, result.ServerVersion); err != nil {
			return err
		}
		summary.Acked++
		return nil

	case errors.As(err, &conflict):
		if err := p.gate.Acquire(ctx); err != nil {
			return err
		}
		defer p.gate.Release()
		if err := p.store.FlagConflict(op.Collection, op.EntityID, conflict.ServerPayload, conflict.ServerVersion, time.Now().UTC()); err != nil {
			return err
		}
		if err := p.store.RemoveOp(op.ID); err != nil {
			return err
		}
		summary.Conflicts++
		return nil

	case errors.As(err, &rejection):
		p.debug.LogError("push", rejection)
		if err := p.gate.Acquire(ctx); err != nil {
			return err
		}
		defer p.gate.Release()
		if err := p.store.RemoveOp(op.ID); err != nil {
			return err
		}
		// Surface the rejected edit for review rather than leaving a
		// NOT_SYNCED entity with no op behind it.
		if op.Kind != OpDelete {
			if err := p.store.FlagConflict(op.Collection, op.EntityID, nil, time.Time{}, time.Now().UTC()); err != nil {
				return err
			}
		}
		summary.Rejected++
		return nil

	default:
		// Transient; leave the op queued for the next flush.
		if op.Kind != OpDelete {
			if stateErr := p.setState(ctx, op.Collection, op.EntityID, StateNotSynced); stateErr != nil {
				return stateErr
			}
		}
		return err
	}
}

// ackOp records a successful push: the op is removed and the entity marked
// SYNCED with the server's version. If the entity was edited again after
// this op was enqueued, it stays NOT_SYNCED; a younger op is still queued.
func (p *pusher) ackOp(ctx context.Context, op *PendingOp, serverVersion time.Time) error {
	if err := p.gate.Acquire(ctx); err != nil {
		return err
	}
	defer p.gate.Release()

	if op.Kind != OpDelete {
		local, err := p.store.Entity(op.Collection, op.EntityID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if local != nil {
			local.ServerVersion = serverVersion
			if !local.LastModified.After(op.EnqueuedAt) {
				local.SyncState = StateSynced
				local.LastModified = op.EnqueuedAt
				if err := p.store.ClearConflict(op.Collection, op.EntityID); err != nil {
					return err
				}
			} else {
				local.SyncState = StateNotSynced
			}
			if err := p.store.UpsertEntity(local); err != nil {
				return err
			}
		}
	}

	return p.store.RemoveOp(op.ID)
}

// setState flips an entity's sync state under the gate. Missing entities
// are ignored (delete ops race server tombstones).
func (p *pusher) setState(ctx context.Context, col Collection, id string, state SyncState) error {
	if err := p.gate.Acquire(ctx); err != nil {
		return err
	}
	defer p.gate.Release()

	local, err := p.store.Entity(col, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	local.SyncState = state
	return p.store.UpsertEntity(local)
}
