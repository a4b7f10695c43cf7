package stacks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newTestProcessor(s *Store) *processor {
	return &processor{store: s, gate: newSyncGate()}
}

func TestProcessorAppliesEntityEvents(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(s)
	now := time.Now().UTC()

	rec := ServerRecord{
		Collection: CollectionItems,
		ID:         "itm_1",
		UpdatedAt:  now,
		Payload:    rawJSON(`{"title":"Streamed"}`),
	}

	if err := p.process(context.Background(), EntityCreated{Record: rec}); err != nil {
		t.Fatalf("process created: %v", err)
	}
	e, err := s.Entity(CollectionItems, "itm_1")
	if err != nil {
		t.Fatalf("Entity: %v", err)
	}
	if e.SyncState != StateSynced {
		t.Errorf("SyncState = %s", e.SyncState)
	}

	rec.Payload = rawJSON(`{"title":"Streamed v2"}`)
	rec.UpdatedAt = now.Add(time.Second)
	if err := p.process(context.Background(), EntityUpdated{Record: rec}); err != nil {
		t.Fatalf("process updated: %v", err)
	}
	e, _ = s.Entity(CollectionItems, "itm_1")
	if string(e.Payload) != `{"title":"Streamed v2"}` {
		t.Errorf("payload = %s", e.Payload)
	}

	if err := p.process(context.Background(), EntityDeleted{Collection: CollectionItems, ID: "itm_1"}); err != nil {
		t.Fatalf("process deleted: %v", err)
	}
	if _, err := s.Entity(CollectionItems, "itm_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entity survived delete event: %v", err)
	}
}

func TestProcessorEventConflictsWithLocalEdit(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(s)

	saveEdit(t, s, CollectionItems, "itm_1", `{"title":"Local"}`, OpUpdate)
	local, _ := s.Entity(CollectionItems, "itm_1")

	err := p.process(context.Background(), EntityUpdated{Record: ServerRecord{
		Collection: CollectionItems,
		ID:         "itm_1",
		UpdatedAt:  local.LastModified.Add(time.Minute),
		Payload:    rawJSON(`{"title":"Server"}`),
	}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	e, _ := s.Entity(CollectionItems, "itm_1")
	if e.SyncState != StateConflict {
		t.Errorf("SyncState = %s, want CONFLICT", e.SyncState)
	}
	if string(e.Payload) != `{"title":"Local"}` {
		t.Errorf("local edit lost: %s", e.Payload)
	}
}

func TestProcessorRevocation(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(s)

	var gotReason string
	p.onRevoked = func(reason string) { gotReason = reason }

	err := p.process(context.Background(), UserRevoked{Reason: "key rotated"})
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("process = %v, want ErrRevoked", err)
	}
	if gotReason != "key rotated" {
		t.Errorf("reason = %q", gotReason)
	}
}

func TestProcessorReconnectedSchedulesCatchUp(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(s)

	called := false
	p.onReconnected = func() { called = true }

	if err := p.process(context.Background(), Reconnected{}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !called {
		t.Errorf("onReconnected not called")
	}
}

func TestProcessorLifecycleEventsForwarded(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(s)

	var got []Event
	p.onLifecycle = func(ev Event) { got = append(got, ev) }

	if err := p.process(context.Background(), ScanStarted{}); err != nil {
		t.Fatalf("scan started: %v", err)
	}
	if err := p.process(context.Background(), ScanCompleted{Stats: ScanStats{Added: 2}}); err != nil {
		t.Fatalf("scan completed: %v", err)
	}
	if err := p.process(context.Background(), Heartbeat{}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if len(got) != 2 {
		t.Errorf("lifecycle events = %d, want 2", len(got))
	}
}

func TestProcessorBlocksOnHeldGate(t *testing.T) {
	s := newTestStore(t)
	gate := newSyncGate()
	p := &processor{store: s, gate: gate}

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	applied := make(chan error, 1)
	go func() {
		applied <- p.process(context.Background(), EntityCreated{Record: ServerRecord{
			Collection: CollectionItems,
			ID:         "itm_1",
			UpdatedAt:  time.Now().UTC(),
			Payload:    rawJSON(`{}`),
		}})
	}()

	select {
	case <-applied:
		t.Fatal("event applied while gate was held")
	case <-time.After(50 * time.Millisecond):
	}

	gate.Release()
	select {
	case err := <-applied:
		if err != nil {
			t.Fatalf("process after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("event never applied after gate release")
	}

	if _, err := s.Entity(CollectionItems, "itm_1"); err != nil {
		t.Errorf("entity missing: %v", err)
	}
}

// eventServer is a websocket endpoint that pushes canned frames to each
// connecting client.
func eventServer(t *testing.T, perConn func(conn *websocket.Conn, connNum int)) *httptest.Server {
	t.Helper()
	var conns atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events" {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		perConn(conn, int(conns.Add(1)))
	}))
}

func TestStreamAppliesServerEvents(t *testing.T) {
	s := newTestStore(t)

	srv := eventServer(t, func(conn *websocket.Conn, _ int) {
		ctx := context.Background()
		frames := []string{
			`{"event":"heartbeat"}`,
			`{"event":"item.created","data":{"id":"itm_live","updated_at":"2026-01-10T12:00:00Z","data":{"title":"Live"}}}`,
		}
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		// Keep the connection open until the client goes away.
		_, _, _ = conn.Read(ctx)
	})
	defer srv.Close()

	proc := newTestProcessor(s)
	st := newStream(srv.URL, "test-key", "dev-1", proc, nil)
	st.Start()
	defer st.Stop()

	deadline := time.After(5 * time.Second)
	for {
		if _, err := s.Entity(CollectionItems, "itm_live"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("event never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if !st.Connected() {
		t.Errorf("Connected() = false while stream is up")
	}
}

func TestStreamReconnectTriggersCatchUp(t *testing.T) {
	s := newTestStore(t)

	srv := eventServer(t, func(conn *websocket.Conn, connNum int) {
		if connNum == 1 {
			// Drop the first connection immediately to force a redial.
			_ = conn.Close(websocket.StatusInternalError, "going away")
			return
		}
		_, _, _ = conn.Read(context.Background())
	})
	defer srv.Close()

	var reconnects atomic.Int32
	proc := newTestProcessor(s)
	proc.onReconnected = func() { reconnects.Add(1) }

	st := newStream(srv.URL, "test-key", "dev-1", proc, nil)
	st.Start()
	defer st.Stop()

	deadline := time.After(10 * time.Second)
	for reconnects.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("reconnect catch-up never scheduled")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestStreamRevocationStopsLoop(t *testing.T) {
	s := newTestStore(t)

	srv := eventServer(t, func(conn *websocket.Conn, _ int) {
		_ = conn.Write(context.Background(), websocket.MessageText,
			[]byte(`{"event":"user.revoked","data":{"reason":"gone"}}`))
		_, _, _ = conn.Read(context.Background())
	})
	defer srv.Close()

	var revoked atomic.Bool
	proc := newTestProcessor(s)
	proc.onRevoked = func(string) { revoked.Store(true) }

	st := newStream(srv.URL, "test-key", "dev-1", proc, nil)
	st.Start()
	defer st.Stop()

	deadline := time.After(5 * time.Second)
	for !revoked.Load() || st.Connected() {
		select {
		case <-deadline:
			t.Fatalf("revoked=%v connected=%v", revoked.Load(), st.Connected())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStreamStartStopIdempotent(t *testing.T) {
	s := newTestStore(t)

	srv := eventServer(t, func(conn *websocket.Conn, _ int) {
		_, _, _ = conn.Read(context.Background())
	})
	defer srv.Close()

	proc := newTestProcessor(s)
	st := newStream(srv.URL, "k", "", proc, nil)

	st.Start()
	st.Start() // no-op
	st.Stop()
	st.Stop() // no-op

	// Restartable after a stop.
	st.Start()
	st.Stop()
}
