package stacks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestPusher(s *Store, api CatalogAPI) *pusher {
	return &pusher{store: s, api: api, gate: newSyncGate()}
}

func TestPushAcksAndMarksSynced(t *testing.T) {
	s := newTestStore(t)
	saveEdit(t, s, CollectionItems, "itm_1", `{"title":"Draft"}`, OpCreate)

	serverVersion := time.Now().UTC().Add(time.Second).Truncate(time.Millisecond)
	api := newFakeAPI()
	api.pushFn = func(op *PendingOp) (*PushResult, error) {
		return &PushResult{ServerVersion: serverVersion}, nil
	}

	p := newTestPusher(s, api)
	summary, err := p.flush(context.Background(), nil)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if summary.Acked != 1 {
		t.Errorf("acked = %d, want 1", summary.Acked)
	}

	e, err := s.Entity(CollectionItems, "itm_1")
	if err != nil {
		t.Fatalf("Entity: %v", err)
	}
	if e.SyncState != StateSynced {
		t.Errorf("SyncState = %s, want SYNCED", e.SyncState)
	}
	if !e.ServerVersion.Equal(serverVersion) {
		t.Errorf("ServerVersion = %v, want %v", e.ServerVersion, serverVersion)
	}

	count, _ := s.PendingOpCount()
	if count != 0 {
		t.Errorf("pending ops = %d, want 0", count)
	}
}

func TestPushDrainsInEnqueueOrder(t *testing.T) {
	s := newTestStore(t)
	saveEdit(t, s, CollectionItems, "itm_1", `{"v":1}`, OpCreate)
	saveEdit(t, s, CollectionItems, "itm_1", `{"v":2}`, OpUpdate)
	saveEdit(t, s, CollectionSeries, "ser_1", `{"v":3}`, OpCreate)

	api := newFakeAPI()
	p := newTestPusher(s, api)
	if _, err := p.flush(context.Background(), nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pushed := api.pushedOps()
	if len(pushed) != 3 {
		t.Fatalf("pushed = %d, want 3", len(pushed))
	}
	if string(pushed[0].Payload) != `{"v":1}` || string(pushed[1].Payload) != `{"v":2}` {
		t.Errorf("same-entity edits out of order: %s then %s", pushed[0].Payload, pushed[1].Payload)
	}
	if pushed[2].EntityID != "ser_1" {
		t.Errorf("pushed[2] = %s", pushed[2].EntityID)
	}
}

func TestPushConflictFlagsEntityAndDropsOp(t *testing.T) {
	s := newTestStore(t)
	saveEdit(t, s, CollectionItems, "itm_1", `{"title":"Local"}`, OpUpdate)

	serverVersion := time.Now().UTC().Add(time.Hour)
	api := newFakeAPI()
	api.pushFn = func(op *PendingOp) (*PushResult, error) {
		return nil, &ConflictError{
			Collection:    op.Collection,
			EntityID:      op.EntityID,
			ServerVersion: serverVersion,
			ServerPayload: rawJSON(`{"title":"Server"}`),
		}
	}

	p := newTestPusher(s, api)
	summary, err := p.flush(context.Background(), nil)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if summary.Conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", summary.Conflicts)
	}

	// Op dropped, entity flagged, local payload preserved.
	count, _ := s.PendingOpCount()
	if count != 0 {
		t.Errorf("pending ops = %d, want 0", count)
	}
	e, _ := s.Entity(CollectionItems, "itm_1")
	if e.SyncState != StateConflict {
		t.Errorf("SyncState = %s, want CONFLICT", e.SyncState)
	}
	if string(e.Payload) != `{"title":"Local"}` {
		t.Errorf("payload = %s", e.Payload)
	}
	conflicts, _ := s.Conflicts()
	if len(conflicts) != 1 || !conflicts[0].ServerVersion.Equal(serverVersion) {
		t.Errorf("conflicts = %+v", conflicts)
	}
	if string(conflicts[0].ServerPayload) != `{"title":"Server"}` {
		t.Errorf("ServerPayload = %s, want server copy", conflicts[0].ServerPayload)
	}
}

func TestPushRejectionDropsOpAndFlags(t *testing.T) {
	s := newTestStore(t)
	saveEdit(t, s, CollectionItems, "itm_1", `{"title":"Bad"}`, OpUpdate)

	api := newFakeAPI()
	api.pushFn = func(op *PendingOp) (*PushResult, error) {
		return nil, &RejectionError{
			Collection: op.Collection,
			EntityID:   op.EntityID,
			StatusCode: 422,
			Message:    "title too long",
		}
	}

	p := newTestPusher(s, api)
	summary, err := p.flush(context.Background(), nil)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if summary.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", summary.Rejected)
	}

	count, _ := s.PendingOpCount()
	if count != 0 {
		t.Errorf("pending ops = %d, want 0", count)
	}
	// The rejected edit surfaces as a conflict rather than silently lingering
	// NOT_SYNCED with no op behind it.
	e, _ := s.Entity(CollectionItems, "itm_1")
	if e.SyncState != StateConflict {
		t.Errorf("SyncState = %s, want CONFLICT", e.SyncState)
	}
}

func TestPushTransientFailureKeepsOpQueued(t *testing.T) {
	s := newTestStore(t)
	saveEdit(t, s, CollectionItems, "itm_1", `{"title":"Draft"}`, OpUpdate)

	api := newFakeAPI()
	api.pushFn = func(op *PendingOp) (*PushResult, error) {
		return nil, &SyncError{Operation: "push_op", StatusCode: 503, Err: errors.New("unavailable")}
	}

	p := newTestPusher(s, api)
	_, err := p.flush(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !isTransient(err) {
		t.Errorf("error not transient: %v", err)
	}

	// Op still queued; entity rolled back to NOT_SYNCED for the retry.
	count, _ := s.PendingOpCount()
	if count != 1 {
		t.Errorf("pending ops = %d, want 1", count)
	}
	e, _ := s.Entity(CollectionItems, "itm_1")
	if e.SyncState != StateNotSynced {
		t.Errorf("SyncState = %s, want NOT_SYNCED", e.SyncState)
	}
}

func TestPushAckKeepsNewerLocalEditUnsynced(t *testing.T) {
	s := newTestStore(t)
	op := saveEdit(t, s, CollectionItems, "itm_1", `{"v":1}`, OpCreate)

	// Edit again after the first op was enqueued but before it's acked.
	api := newFakeAPI()
	api.pushFn = func(pushed *PendingOp) (*PushResult, error) {
		if pushed.ID == op.ID {
			// Simulate the user editing mid-flight.
			if _, err := s.SaveLocalEdit(&Entity{
				Collection: CollectionItems, ID: "itm_1", Payload: rawJSON(`{"v":2}`),
			}, OpUpdate); err != nil {
				t.Errorf("mid-flight edit: %v", err)
			}
		}
		return &PushResult{ServerVersion: time.Now().UTC()}, nil
	}

	p := newTestPusher(s, api)
	summary, err := p.flush(context.Background(), nil)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	// Both ops drain: the first ack leaves the entity NOT_SYNCED because a
	// younger edit exists; the second ack settles it.
	if summary.Acked != 2 {
		t.Errorf("acked = %d, want 2", summary.Acked)
	}

	e, _ := s.Entity(CollectionItems, "itm_1")
	if e.SyncState != StateSynced {
		t.Errorf("final SyncState = %s, want SYNCED", e.SyncState)
	}
	if string(e.Payload) != `{"v":2}` {
		t.Errorf("payload = %s, want v2", e.Payload)
	}
}

func TestPushDeleteOp(t *testing.T) {
	s := newTestStore(t)
	seedSynced(t, s, CollectionItems, "itm_1", `{}`, time.Now().UTC())
	saveEdit(t, s, CollectionItems, "itm_1", "", OpDelete)

	api := newFakeAPI()
	p := newTestPusher(s, api)
	summary, err := p.flush(context.Background(), nil)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if summary.Acked != 1 {
		t.Errorf("acked = %d, want 1", summary.Acked)
	}

	pushed := api.pushedOps()
	if len(pushed) != 1 || pushed[0].Kind != OpDelete {
		t.Fatalf("pushed = %+v", pushed)
	}
	count, _ := s.PendingOpCount()
	if count != 0 {
		t.Errorf("pending ops = %d, want 0", count)
	}
}
