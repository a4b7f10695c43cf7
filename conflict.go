package stacks

import (
	"errors"
	"time"
)

// resolution is the outcome of comparing a local entity against an
// incoming server record.
type resolution int

const (
	// resolutionUpsert applies the server record over the local copy.
	resolutionUpsert resolution = iota
	// resolutionPreserveLocal skips the server record; the local edit wins.
	resolutionPreserveLocal
	// resolutionConflict keeps the local edit but flags it for review.
	resolutionConflict
)

// resolveRecord decides how to apply a server record against the local copy.
// Pure function; the caller performs the store writes.
//
// Rules:
//   - No local copy: upsert.
//   - Local copy with no edit in flight: upsert (server is authoritative).
//   - Unsynced local edit, server changed after it: conflict.
//   - Unsynced local edit newer or equal: preserve local.
func resolveRecord(local *Entity, rec ServerRecord) resolution {
	if local == nil {
		return resolutionUpsert
	}
	if local.SyncState != StateNotSynced {
		return resolutionUpsert
	}
	if rec.UpdatedAt.After(local.LastModified) {
		return resolutionConflict
	}
	return resolutionPreserveLocal
}

// applyServerRecord runs one server record through the detector and performs
// the resulting store writes. Shared by the pull orchestrator and the event
// stream processor so both paths converge identically. Caller holds the
// sync gate.
func applyServerRecord(store Replica, rec ServerRecord, now time.Time) (resolution, error) {
	local, err := store.Entity(rec.Collection, rec.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	res := resolveRecord(local, rec)
	switch res {
	case resolutionUpsert:
		if err := store.UpsertEntity(&Entity{
			Collection:    rec.Collection,
			ID:            rec.ID,
			Payload:       rec.Payload,
			SyncState:     StateSynced,
			LastModified:  rec.UpdatedAt,
			ServerVersion: rec.UpdatedAt,
		}); err != nil {
			return res, err
		}
		if local != nil && local.SyncState == StateConflict {
			if err := store.ClearConflict(rec.Collection, rec.ID); err != nil {
				return res, err
			}
		}

	case resolutionConflict:
		if err := store.FlagConflict(rec.Collection, rec.ID, rec.Payload, rec.UpdatedAt, now); err != nil {
			return res, err
		}
	}

	return res, nil
}
