package stacks

import (
	"encoding/json"
	"time"
)

// Collection identifies one synchronized entity collection.
type Collection string

const (
	CollectionItems        Collection = "items"
	CollectionSeries       Collection = "series"
	CollectionContributors Collection = "contributors"
)

// Collections returns all synchronized collections in pull order.
func Collections() []Collection {
	return []Collection{CollectionItems, CollectionSeries, CollectionContributors}
}

// IsValid checks if the collection is one the engine synchronizes.
func (c Collection) IsValid() bool {
	switch c {
	case CollectionItems, CollectionSeries, CollectionContributors:
		return true
	}
	return false
}

// SyncState describes where a local entity stands relative to the server.
type SyncState string

const (
	// StateSynced means the local copy reflects the last known server state.
	StateSynced SyncState = "SYNCED"
	// StateNotSynced means a local edit exists that has not been pushed.
	StateNotSynced SyncState = "NOT_SYNCED"
	// StateSyncing means a push for this entity is in flight.
	StateSyncing SyncState = "SYNCING"
	// StateConflict means the server changed after a local edit; needs review.
	StateConflict SyncState = "CONFLICT"
)

// Entity is the generic sync envelope for one replicated record.
// Domain fields live in Payload; typed views decode from it.
type Entity struct {
	Collection    Collection      `json:"collection"`
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	SyncState     SyncState       `json:"sync_state"`
	LastModified  time.Time       `json:"last_modified"`
	ServerVersion time.Time       `json:"server_version"`
}

// MediaItem is the typed payload for the items collection.
type MediaItem struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Subtitle     string   `json:"subtitle,omitempty"`
	Authors      []string `json:"authors,omitempty"`
	Narrators    []string `json:"narrators,omitempty"`
	SeriesID     string   `json:"series_id,omitempty"`
	SeriesIndex  float64  `json:"series_index,omitempty"`
	Description  string   `json:"description,omitempty"`
	DurationSecs float64  `json:"duration_secs,omitempty"`
	PublishedAt  string   `json:"published_at,omitempty"`
}

// Series is the typed payload for the series collection.
type Series struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Contributor is the typed payload for the contributors collection.
type Contributor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"` // author | narrator
	Description string `json:"description,omitempty"`
}

// MediaItem decodes the entity payload as a media item.
func (e *Entity) MediaItem() (*MediaItem, error) {
	var item MediaItem
	if err := json.Unmarshal(e.Payload, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Series decodes the entity payload as a series.
func (e *Entity) Series() (*Series, error) {
	var s Series
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Contributor decodes the entity payload as a contributor.
func (e *Entity) Contributor() (*Contributor, error) {
	var c Contributor
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// OpKind classifies a pending local mutation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// PendingOp is one not-yet-acknowledged local mutation.
// Ops are drained in enqueue order so edits to the same entity
// reach the server in the order they were made.
type PendingOp struct {
	ID         string          `json:"id"` // ULID; sorts by enqueue time
	Collection Collection      `json:"collection"`
	EntityID   string          `json:"entity_id"`
	Kind       OpKind          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ConflictRecord flags an entity whose local edit collided with a newer
// server write. ServerPayload is the server's copy at detection time, kept
// so accept-server resolution can apply it without re-fetching; empty when
// the server never supplied one (permanent push rejections). Cleared when
// the entity next syncs cleanly.
type ConflictRecord struct {
	Collection    Collection      `json:"collection"`
	EntityID      string          `json:"entity_id"`
	ServerPayload json.RawMessage `json:"server_payload,omitempty"`
	ServerVersion time.Time       `json:"server_version"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// LibraryInfo identifies the logical library a server instance serves.
type LibraryInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ServerVersion string `json:"server_version"`
}

// Preferences holds per-user display preferences pulled best-effort
// during a sync cycle.
type Preferences struct {
	SortBy         string  `json:"sort_by,omitempty"`
	SortDesc       bool    `json:"sort_desc,omitempty"`
	CollapseSeries bool    `json:"collapse_series,omitempty"`
	PlaybackSpeed  float64 `json:"playback_speed,omitempty"`
}

// StoreStats contains statistics about the local replica.
type StoreStats struct {
	Entities      map[Collection]int `json:"entities"`
	PendingOps    int                `json:"pending_ops"`
	Conflicts     int                `json:"conflicts"`
	LastSync      time.Time          `json:"last_sync"`
	LibraryID     string             `json:"library_id,omitempty"`
	SchemaVersion string             `json:"schema_version"`
}

// HealthStatus represents the health of the client.
type HealthStatus struct {
	Healthy         bool   `json:"healthy"`
	StoreOK         bool   `json:"store_ok"`
	ServerReachable bool   `json:"server_reachable"`
	StreamConnected bool   `json:"stream_connected"`
	Error           string `json:"error,omitempty"`
}

// Engine limits and defaults.
const (
	DefaultPageSize    = 200
	DefaultMaxAttempts = 5
	MaxPayloadBytes    = 1 << 20
)
