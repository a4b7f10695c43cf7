package stacks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Client is the main interface for working with the local catalog replica.
type Client struct {
	store       *Store
	api         CatalogAPI
	coordinator *Coordinator
	stream      *Stream
	gate        *syncGate
	debug       *DebugLogger
	config      Config

	mu        sync.Mutex
	onRevoked func(reason string)
	stopSync  chan struct{}
	syncDone  chan struct{}
}

// New creates a new stacks client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	debug, err := NewDebugLogger(cfg.Debug, cfg.DebugLogPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	store, err := NewStore(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c := &Client{
		store:    store,
		gate:     newSyncGate(),
		debug:    debug,
		config:   cfg,
		stopSync: make(chan struct{}),
		syncDone: make(chan struct{}),
	}

	if !cfg.IsOffline() {
		c.api = NewHTTPClient(cfg.ServerURL, cfg.APIKey, cfg.DeviceID).WithDebugLogger(debug)
		c.coordinator = newCoordinator(store, c.api, c.gate, debug, cfg.PageSize, cfg.MaxAttempts)

		proc := &processor{
			store:         store,
			gate:          c.gate,
			debug:         debug,
			onRevoked:     c.handleRevoked,
			onReconnected: c.handleReconnected,
		}
		c.stream = newStream(cfg.ServerURL, cfg.APIKey, cfg.DeviceID, proc, debug)
		c.coordinator.ensureStream = c.stream.Start
	}

	// Start background sync if enabled
	if c.coordinator != nil && cfg.AutoSync {
		go c.backgroundSync()
	} else {
		close(c.syncDone)
	}

	return c, nil
}

// Sync runs one full sync cycle against the server.
func (c *Client) Sync(ctx context.Context) error {
	if c.coordinator == nil {
		return ErrOffline
	}
	return c.coordinator.Sync(ctx)
}

// ForceFullSync clears all checkpoints and re-pulls every collection.
func (c *Client) ForceFullSync(ctx context.Context) error {
	if c.coordinator == nil {
		return ErrOffline
	}
	return c.coordinator.ForceFullSync(ctx)
}

// ResetForNewLibrary discards the local replica and rebuilds it from the
// library the server now serves. Destructive; confirm with the user first.
func (c *Client) ResetForNewLibrary(ctx context.Context, newLibraryID string) error {
	if c.coordinator == nil {
		return ErrOffline
	}
	return c.coordinator.ResetForNewLibrary(ctx, newLibraryID)
}

// Status returns the current sync status. Offline clients are always Idle.
func (c *Client) Status() SyncStatus {
	if c.coordinator == nil {
		return StatusIdle{}
	}
	return c.coordinator.Status()
}

// StatusChanges subscribes to sync status updates.
func (c *Client) StatusChanges() (<-chan SyncStatus, func()) {
	if c.coordinator == nil {
		ch := make(chan SyncStatus)
		close(ch)
		return ch, func() {}
	}
	return c.coordinator.StatusChanges()
}

// Connect establishes the live event feed without running a sync cycle.
func (c *Client) Connect() error {
	if c.stream == nil {
		return ErrOffline
	}
	c.stream.Start()
	return nil
}

// StreamConnected reports whether the live feed is currently up.
func (c *Client) StreamConnected() bool {
	return c.stream != nil && c.stream.Connected()
}

// SetRevokedHandler registers a callback invoked when the server revokes
// this session. The stream is already torn down when it fires.
func (c *Client) SetRevokedHandler(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRevoked = fn
}

// SaveItem records a local edit to a media item and queues it for push.
func (c *Client) SaveItem(ctx context.Context, item *MediaItem) (*Entity, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	return c.saveLocal(ctx, CollectionItems, item.ID, payload)
}

// SaveSeries records a local edit to a series and queues it for push.
func (c *Client) SaveSeries(ctx context.Context, s *Series) (*Entity, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return c.saveLocal(ctx, CollectionSeries, s.ID, payload)
}

// SaveContributor records a local edit to a contributor and queues it for push.
func (c *Client) SaveContributor(ctx context.Context, ct *Contributor) (*Entity, error) {
	payload, err := json.Marshal(ct)
	if err != nil {
		return nil, err
	}
	return c.saveLocal(ctx, CollectionContributors, ct.ID, payload)
}

func (c *Client) saveLocal(ctx context.Context, col Collection, id string, payload json.RawMessage) (*Entity, error) {
	if id == "" {
		return nil, &ValidationError{Field: "ID", Message: "required"}
	}

	kind := OpUpdate
	if _, err := c.store.Entity(col, id); err == ErrNotFound {
		kind = OpCreate
	} else if err != nil {
		return nil, err
	}

	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.gate.Release()

	e := &Entity{Collection: col, ID: id, Payload: payload}
	if _, err := c.store.SaveLocalEdit(e, kind); err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteLocal records a local deletion and queues it for push.
func (c *Client) DeleteLocal(ctx context.Context, col Collection, id string) error {
	if !col.IsValid() {
		return ErrInvalidCollection
	}

	if err := c.gate.Acquire(ctx); err != nil {
		return err
	}
	defer c.gate.Release()

	_, err := c.store.SaveLocalEdit(&Entity{Collection: col, ID: id}, OpDelete)
	return err
}

// Entity retrieves one replicated entity.
func (c *Client) Entity(col Collection, id string) (*Entity, error) {
	return c.store.Entity(col, id)
}

// Search queries the denormalized catalog index.
func (c *Client) Search(term string) ([]IndexEntry, error) {
	return c.store.SearchIndex(term)
}

// PendingOps returns up to limit queued local mutations in push order.
func (c *Client) PendingOps(limit int) ([]*PendingOp, error) {
	return c.store.NextOps(limit)
}

// Conflicts returns all entities flagged for manual resolution.
func (c *Client) Conflicts() ([]ConflictRecord, error) {
	return c.store.Conflicts()
}

// ResolveConflictKeepLocal resolves a flagged conflict by re-queueing the
// local payload as a fresh edit, which the next push sends to the server.
func (c *Client) ResolveConflictKeepLocal(ctx context.Context, col Collection, id string) error {
	local, err := c.store.Entity(col, id)
	if err != nil {
		return err
	}

	if err := c.gate.Acquire(ctx); err != nil {
		return err
	}
	defer c.gate.Release()

	if err := c.store.ClearConflict(col, id); err != nil {
		return err
	}
	_, err = c.store.SaveLocalEdit(local, OpUpdate)
	return err
}

// ResolveConflictAcceptServer resolves a flagged conflict by discarding the
// local edit and applying the server copy stored with the conflict record.
// The checkpoint has already advanced past the conflicting write, so the
// delta stream will not re-deliver it; the stored copy is the only source.
//
// When the conflict carries no server copy (a permanently rejected push),
// the local entity is dropped and the collection's checkpoint cleared, so
// the next sync re-pulls the collection and restores whatever the server
// holds.
func (c *Client) ResolveConflictAcceptServer(ctx context.Context, col Collection, id string) error {
	conflict, err := c.store.Conflict(col, id)
	if err != nil {
		return err
	}

	if err := c.gate.Acquire(ctx); err != nil {
		return err
	}
	defer c.gate.Release()

	if err := c.store.ClearConflict(col, id); err != nil {
		return err
	}

	if len(conflict.ServerPayload) == 0 {
		if err := c.store.DeleteEntity(col, id); err != nil {
			return err
		}
		return c.store.SetCheckpoint(col, "")
	}

	return c.store.UpsertEntity(&Entity{
		Collection:    col,
		ID:            id,
		Payload:       conflict.ServerPayload,
		SyncState:     StateSynced,
		LastModified:  conflict.ServerVersion,
		ServerVersion: conflict.ServerVersion,
	})
}

// Export streams the replica to w as JSONL.
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	return c.store.ExportJSONL(ctx, w)
}

// ExportSQLite snapshots the replica database file to destPath.
func (c *Client) ExportSQLite(ctx context.Context, destPath string) error {
	return c.store.ExportSQLite(ctx, destPath)
}

// Import restores entities from a JSONL export, honoring the merge strategy.
func (c *Client) Import(ctx context.Context, r io.Reader, strategy MergeStrategy, dryRun bool) (*ImportResult, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.gate.Release()
	return c.store.ImportJSONL(ctx, r, strategy, dryRun)
}

// Preferences returns the last pulled user preferences, if any.
func (c *Client) Preferences() (*Preferences, error) {
	raw, err := c.store.Metadata("preferences")
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return &Preferences{}, nil
	}
	var prefs Preferences
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, err
	}
	return &prefs, nil
}

// Stats returns replica statistics.
func (c *Client) Stats() (*StoreStats, error) {
	return c.store.Stats()
}

// HealthCheck returns the health status of the client.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		StoreOK: true,
	}

	// Check store
	if _, err := c.store.Stats(); err != nil {
		status.StoreOK = false
		status.Healthy = false
		status.Error = err.Error()
		return status
	}

	// Check server connectivity
	if c.api != nil {
		_, err := c.api.Health(ctx)
		status.ServerReachable = err == nil
		if err != nil && status.Error == "" {
			status.Error = err.Error()
		}
	}
	status.StreamConnected = c.StreamConnected()

	return status
}

// Close stops the stream and background sync, flushes pending operations,
// and closes the store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopSync:
	default:
		close(c.stopSync)
	}

	// Wait for background sync to finish (with timeout)
	select {
	case <-c.syncDone:
	case <-time.After(5 * time.Second):
	}

	if c.stream != nil {
		c.stream.Stop()
	}

	// Flush pending changes
	if c.coordinator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := c.coordinator.pusher.flush(ctx, nil); err != nil {
			c.debug.LogError("close_flush", err)
		}
		cancel()
	}

	_ = c.debug.Close()
	return c.store.Close()
}

func (c *Client) backgroundSync() {
	defer close(c.syncDone)

	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSync:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := c.coordinator.Sync(ctx); err != nil {
				c.debug.LogError("background_sync", err)
			}
			cancel()
		}
	}
}

// handleRevoked clears credentials and notifies the registered handler.
// The stream loop exits on its own after a revocation.
func (c *Client) handleRevoked(reason string) {
	c.mu.Lock()
	c.config.APIKey = ""
	fn := c.onRevoked
	c.mu.Unlock()

	if fn != nil {
		fn(reason)
	}
}

// handleReconnected runs the silent delta catch-up in the background.
func (c *Client) handleReconnected() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := c.coordinator.HandleReconnect(ctx); err != nil {
			c.debug.LogError("reconnect_catchup", err)
		}
	}()
}
