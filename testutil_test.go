package stacks

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// newTestStore opens a real SQLite replica in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rawJSON(s string) json.RawMessage {
	return json.RawMessage(s)
}

// fetchCall records one FetchPage invocation.
type fetchCall struct {
	Col Collection
	Req PageRequest
}

// fakeAPI is an in-memory CatalogAPI for sync engine tests. Behavior is
// overridden per test via the function fields; unset fields use benign
// defaults (empty pages, successful pushes).
type fakeAPI struct {
	mu sync.Mutex

	fetchFn func(col Collection, req PageRequest) (*DeltaPage, error)
	pushFn  func(op *PendingOp) (*PushResult, error)

	library  LibraryInfo
	libErr   error
	prefs    Preferences
	prefsErr error

	fetches []fetchCall
	pushes  []*PendingOp
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		library: LibraryInfo{ID: "lib_test", Name: "Test Library"},
	}
}

func (f *fakeAPI) FetchPage(ctx context.Context, col Collection, req PageRequest) (*DeltaPage, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, fetchCall{Col: col, Req: req})
	fn := f.fetchFn
	f.mu.Unlock()

	if fn != nil {
		return fn(col, req)
	}
	return &DeltaPage{AsOf: "2026-01-01T00:00:00Z"}, nil
}

func (f *fakeAPI) PushOp(ctx context.Context, op *PendingOp) (*PushResult, error) {
	f.mu.Lock()
	f.pushes = append(f.pushes, op)
	fn := f.pushFn
	f.mu.Unlock()

	if fn != nil {
		return fn(op)
	}
	return &PushResult{ServerVersion: time.Now().UTC()}, nil
}

func (f *fakeAPI) LibraryInfo(ctx context.Context) (*LibraryInfo, error) {
	if f.libErr != nil {
		return nil, f.libErr
	}
	lib := f.library
	return &lib, nil
}

func (f *fakeAPI) Preferences(ctx context.Context) (*Preferences, error) {
	if f.prefsErr != nil {
		return nil, f.prefsErr
	}
	p := f.prefs
	return &p, nil
}

func (f *fakeAPI) Health(ctx context.Context) (*ServerHealth, error) {
	return &ServerHealth{Status: "ok", LibraryID: f.library.ID}, nil
}

func (f *fakeAPI) fetchCalls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fetchCall, len(f.fetches))
	copy(out, f.fetches)
	return out
}

func (f *fakeAPI) pushedOps() []*PendingOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*PendingOp, len(f.pushes))
	copy(out, f.pushes)
	return out
}

// seedSynced writes a SYNCED entity directly, as if a prior pull applied it.
func seedSynced(t *testing.T, s *Store, col Collection, id, payload string, modified time.Time) {
	t.Helper()
	if err := s.UpsertEntity(&Entity{
		Collection:    col,
		ID:            id,
		Payload:       rawJSON(payload),
		SyncState:     StateSynced,
		LastModified:  modified,
		ServerVersion: modified,
	}); err != nil {
		t.Fatalf("seed entity: %v", err)
	}
}

// saveEdit queues a local edit the way the client facade does.
func saveEdit(t *testing.T, s *Store, col Collection, id, payload string, kind OpKind) *PendingOp {
	t.Helper()
	op, err := s.SaveLocalEdit(&Entity{Collection: col, ID: id, Payload: rawJSON(payload)}, kind)
	if err != nil {
		t.Fatalf("SaveLocalEdit: %v", err)
	}
	return op
}

func testCoordinator(s *Store, api CatalogAPI) *Coordinator {
	return newCoordinator(s, api, newSyncGate(), nil, DefaultPageSize, 2)
}
