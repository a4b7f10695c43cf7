package stacks

import (
	crand "crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	"github.com/stackroom/stacks/internal/store/migrations"
	_ "modernc.org/sqlite"
)

const schemaVersion = "3"

// Metadata keys used by the sync engine.
const (
	metaLibraryID = "library_id"
	metaLastSync  = "last_sync"
)

// Replica is the persistence surface the sync engine drives. *Store is the
// SQLite implementation; tests substitute instrumented wrappers.
type Replica interface {
	Entity(col Collection, id string) (*Entity, error)
	UpsertEntity(e *Entity) error
	DeleteEntity(col Collection, id string) error
	DeleteEntities(col Collection, ids []string) error
	EntitiesInState(col Collection, state SyncState) ([]*Entity, error)

	NextOps(limit int) ([]*PendingOp, error)
	RemoveOp(id string) error
	PendingOpCount() (int, error)

	Checkpoint(col Collection) (string, error)
	SetCheckpoint(col Collection, cursor string) error
	ClearCheckpoints() error

	FlagConflict(col Collection, id string, serverPayload json.RawMessage, serverVersion, detectedAt time.Time) error
	ClearConflict(col Collection, id string) error
	Conflicts() ([]ConflictRecord, error)

	Metadata(key string) (string, error)
	SetMetadata(key, value string) error

	ResetAll() error
	RebuildCatalogIndex() error
}

// Store manages the local SQLite replica of the catalog.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

var _ Replica = (*Store)(nil)

// NewStore opens or creates a local replica store.
func NewStore(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	// Set schema version if not set
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, schemaVersion)
	return err
}

// Entity retrieves an entity by collection and id.
func (s *Store) Entity(col Collection, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.getEntity(col, id)
}

func (s *Store) getEntity(col Collection, id string) (*Entity, error) {
	row := s.db.QueryRow(`
		SELECT collection, id, payload, sync_state, last_modified, server_version
		FROM entities WHERE collection = ? AND id = ?
	`, string(col), id)

	return scanEntity(row)
}

// UpsertEntity writes one entity, replacing any existing copy.
func (s *Store) UpsertEntity(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.upsertEntityExec(s.db, e)
}

// execer abstracts Exec shared by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertEntityExec(ex execer, e *Entity) error {
	if !e.Collection.IsValid() {
		return ErrInvalidCollection
	}
	if len(e.Payload) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	_, err := ex.Exec(`
		INSERT INTO entities (collection, id, payload, sync_state, last_modified, server_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			payload = excluded.payload,
			sync_state = excluded.sync_state,
			last_modified = excluded.last_modified,
			server_version = excluded.server_version
	`,
		string(e.Collection),
		e.ID,
		string(e.Payload),
		string(e.SyncState),
		formatTime(e.LastModified),
		formatTime(e.ServerVersion),
	)
	if err != nil {
		return fmt.Errorf("store: upsert entity: %w", err)
	}
	return nil
}

// DeleteEntity removes one entity along with any conflict record and queued
// operations attached to it.
func (s *Store) DeleteEntity(col Collection, id string) error {
	return s.DeleteEntities(col, []string{id})
}

// DeleteEntities removes entities by id. Server deletions are authoritative,
// so attached conflict records and queued operations go with them; pushing a
// queued edit after its tombstone would resurrect the record server-side.
func (s *Store) DeleteEntities(col Collection, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	placeholders := make([]string, len(ids))
	args := []any{string(col)}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.Exec(
		fmt.Sprintf(`DELETE FROM entities WHERE collection = ? AND id IN (%s)`, in), args...,
	); err != nil {
		return fmt.Errorf("store: delete entities: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf(`DELETE FROM conflicts WHERE collection = ? AND entity_id IN (%s)`, in), args...,
	); err != nil {
		return fmt.Errorf("store: delete conflicts: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf(`DELETE FROM pending_ops WHERE collection = ? AND entity_id IN (%s)`, in), args...,
	); err != nil {
		return fmt.Errorf("store: delete pending ops: %w", err)
	}

	return tx.Commit()
}

// EntitiesInState returns all entities of a collection in the given sync state.
func (s *Store) EntitiesInState(col Collection, state SyncState) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT collection, id, payload, sync_state, last_modified, server_version
		FROM entities WHERE collection = ? AND sync_state = ?
		ORDER BY id
	`, string(col), string(state))
	if err != nil {
		return nil, fmt.Errorf("store: query entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// Entities returns all entities of a collection, ordered by id.
func (s *Store) Entities(col Collection) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT collection, id, payload, sync_state, last_modified, server_version
		FROM entities WHERE collection = ?
		ORDER BY id
	`, string(col))
	if err != nil {
		return nil, fmt.Errorf("store: query entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// SaveLocalEdit atomically writes a local edit and its pending operation in
// one transaction. The entity is marked NOT_SYNCED; the op drains on the
// next push flush.
func (s *Store) SaveLocalEdit(e *Entity, kind OpKind) (*PendingOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	now := time.Now().UTC()
	e.SyncState = StateNotSynced
	e.LastModified = now

	op := &PendingOp{
		ID:         newOpID(now),
		Collection: e.Collection,
		EntityID:   e.ID,
		Kind:       kind,
		EnqueuedAt: now,
	}

	if kind == OpDelete {
		if _, err := tx.Exec(
			`DELETE FROM entities WHERE collection = ? AND id = ?`, string(e.Collection), e.ID,
		); err != nil {
			return nil, fmt.Errorf("store: delete entity: %w", err)
		}
	} else {
		op.Payload = e.Payload
		if err := s.upsertEntityExec(tx, e); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO pending_ops (id, collection, entity_id, kind, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		op.ID,
		string(op.Collection),
		op.EntityID,
		string(op.Kind),
		nullString(string(op.Payload)),
		formatTime(op.EnqueuedAt),
	); err != nil {
		return nil, fmt.Errorf("store: enqueue op: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return op, nil
}

// NextOps returns up to limit pending operations in enqueue order.
// ULID ids sort lexicographically by creation time, so ordering by id
// preserves FIFO per entity.
func (s *Store) NextOps(limit int) ([]*PendingOp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, collection, entity_id, kind, payload, enqueued_at
		FROM pending_ops ORDER BY id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query pending ops: %w", err)
	}
	defer rows.Close()

	var ops []*PendingOp
	for rows.Next() {
		var (
			op         PendingOp
			col        string
			kind       string
			payload    sql.NullString
			enqueuedAt string
		)
		if err := rows.Scan(&op.ID, &col, &op.EntityID, &kind, &payload, &enqueuedAt); err != nil {
			return nil, err
		}
		op.Collection = Collection(col)
		op.Kind = OpKind(kind)
		if payload.Valid {
			op.Payload = []byte(payload.String)
		}
		op.EnqueuedAt = parseTime(enqueuedAt)
		ops = append(ops, &op)
	}

	return ops, rows.Err()
}

// RemoveOp removes an acknowledged pending operation.
func (s *Store) RemoveOp(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`DELETE FROM pending_ops WHERE id = ?`, id)
	return err
}

// PendingOpCount returns the number of queued local mutations.
func (s *Store) PendingOpCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_ops`).Scan(&count)
	return count, err
}

// Checkpoint returns the stored cursor for a collection, or "" if none.
func (s *Store) Checkpoint(col Collection) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var cursor string
	err := s.db.QueryRow(`SELECT cursor FROM checkpoints WHERE collection = ?`, string(col)).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read checkpoint: %w", err)
	}
	return cursor, nil
}

// SetCheckpoint stores the cursor of the last successful pull for a collection.
func (s *Store) SetCheckpoint(col Collection, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO checkpoints (collection, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (collection) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, string(col), cursor, formatTime(time.Now().UTC()))
	return err
}

// ClearCheckpoints removes all checkpoints, forcing the next pull to be full.
func (s *Store) ClearCheckpoints() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`DELETE FROM checkpoints`)
	return err
}

// FlagConflict records a conflict and marks the entity CONFLICT in one
// transaction. The local payload is untouched; the server's copy is stored
// alongside the record so accept-server resolution can apply it later. It
// stays flagged until the caller resolves it or a clean sync clears it.
func (s *Store) FlagConflict(col Collection, id string, serverPayload json.RawMessage, serverVersion, detectedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.Exec(`
		INSERT INTO conflicts (collection, entity_id, server_payload, server_version, detected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, entity_id) DO UPDATE SET
			server_payload = excluded.server_payload,
			server_version = excluded.server_version,
			detected_at = excluded.detected_at
	`, string(col), id, nullString(string(serverPayload)), formatTime(serverVersion), formatTime(detectedAt)); err != nil {
		return fmt.Errorf("store: record conflict: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE entities SET sync_state = ? WHERE collection = ? AND id = ?
	`, string(StateConflict), string(col), id); err != nil {
		return fmt.Errorf("store: flag entity: %w", err)
	}

	return tx.Commit()
}

// ClearConflict removes the conflict record for an entity.
func (s *Store) ClearConflict(col Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`DELETE FROM conflicts WHERE collection = ? AND entity_id = ?`, string(col), id)
	return err
}

// Conflicts returns all unresolved conflict records.
func (s *Store) Conflicts() ([]ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT collection, entity_id, server_payload, server_version, detected_at
		FROM conflicts ORDER BY detected_at
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query conflicts: %w", err)
	}
	defer rows.Close()

	var records []ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

// Conflict returns the conflict record for one entity, or ErrNotFound.
func (s *Store) Conflict(col Collection, id string) (*ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT collection, entity_id, server_payload, server_version, detected_at
		FROM conflicts WHERE collection = ? AND entity_id = ?
	`, string(col), id)

	rec, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read conflict: %w", err)
	}
	return rec, nil
}

func scanConflict(row scanner) (*ConflictRecord, error) {
	var (
		rec           ConflictRecord
		col           string
		payload       sql.NullString
		serverVersion string
		detectedAt    string
	)
	if err := row.Scan(&col, &rec.EntityID, &payload, &serverVersion, &detectedAt); err != nil {
		return nil, err
	}
	rec.Collection = Collection(col)
	if payload.Valid {
		rec.ServerPayload = []byte(payload.String)
	}
	rec.ServerVersion = parseTime(serverVersion)
	rec.DetectedAt = parseTime(detectedAt)
	return &rec, nil
}

// Metadata reads a metadata value; returns "" if the key is absent.
func (s *Store) Metadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read metadata: %w", err)
	}
	return value, nil
}

// SetMetadata writes a metadata key/value pair.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// ResetAll wipes entities, pending operations, checkpoints, conflicts, and
// the catalog index. Schema version survives; library identity does not.
// Destructive; callers confirm before invoking.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	for _, stmt := range []string{
		`DELETE FROM entities`,
		`DELETE FROM pending_ops`,
		`DELETE FROM checkpoints`,
		`DELETE FROM conflicts`,
		`DELETE FROM catalog_index`,
		`DELETE FROM metadata WHERE key IN ('library_id', 'last_sync')`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("store: reset: %w", err)
		}
	}

	return tx.Commit()
}

// RebuildCatalogIndex regenerates the denormalized read index joining items
// with their series. Best-effort from the coordinator's perspective; a
// failure never fails the sync cycle.
func (s *Store) RebuildCatalogIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.Exec(`DELETE FROM catalog_index`); err != nil {
		return fmt.Errorf("store: clear index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO catalog_index (item_id, title, authors, series_name, series_index)
		SELECT
			i.id,
			COALESCE(json_extract(i.payload, '$.title'), ''),
			COALESCE(json_extract(i.payload, '$.authors'), ''),
			COALESCE(json_extract(s.payload, '$.name'), ''),
			COALESCE(json_extract(i.payload, '$.series_index'), 0)
		FROM entities i
		LEFT JOIN entities s
			ON s.collection = 'series'
			AND s.id = json_extract(i.payload, '$.series_id')
		WHERE i.collection = 'items'
	`); err != nil {
		return fmt.Errorf("store: rebuild index: %w", err)
	}

	return tx.Commit()
}

// SearchIndex queries the denormalized catalog index by title, author, or
// series name substring.
func (s *Store) SearchIndex(term string) ([]IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	pattern := "%" + term + "%"
	rows, err := s.db.Query(`
		SELECT item_id, title, authors, series_name, series_index
		FROM catalog_index
		WHERE title LIKE ? OR authors LIKE ? OR series_name LIKE ?
		ORDER BY series_name, series_index, title
	`, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("store: search index: %w", err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.ItemID, &e.Title, &e.Authors, &e.SeriesName, &e.SeriesIndex); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// IndexEntry is one row of the denormalized catalog read index.
type IndexEntry struct {
	ItemID      string  `json:"item_id"`
	Title       string  `json:"title"`
	Authors     string  `json:"authors"`
	SeriesName  string  `json:"series_name,omitempty"`
	SeriesIndex float64 `json:"series_index,omitempty"`
}

// Stats returns replica statistics.
func (s *Store) Stats() (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := &StoreStats{
		Entities:      make(map[Collection]int),
		SchemaVersion: schemaVersion,
	}

	rows, err := s.db.Query(`SELECT collection, COUNT(*) FROM entities GROUP BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var col string
		var count int
		if err := rows.Scan(&col, &count); err != nil {
			return nil, err
		}
		stats.Entities[Collection(col)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_ops`).Scan(&stats.PendingOps); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conflicts`).Scan(&stats.Conflicts); err != nil {
		return nil, err
	}

	var lastSync sql.NullString
	s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, metaLastSync).Scan(&lastSync)
	if lastSync.Valid {
		stats.LastSync = parseTime(lastSync.String)
	}

	var libraryID sql.NullString
	s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, metaLibraryID).Scan(&libraryID)
	if libraryID.Valid {
		stats.LibraryID = libraryID.String
	}

	return stats, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Op IDs must sort in enqueue order even within one millisecond, so the
// entropy source is monotonic. Guarded by its own mutex; ulid.Monotonic is
// not safe for concurrent readers.
var (
	opIDMu      sync.Mutex
	opIDEntropy = ulid.Monotonic(crand.Reader, 0)
)

func newOpID(now time.Time) string {
	opIDMu.Lock()
	defer opIDMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), opIDEntropy).String()
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(sc scanner) (*Entity, error) {
	var (
		e             Entity
		col           string
		payload       string
		state         string
		lastModified  string
		serverVersion string
	)

	err := sc.Scan(&col, &e.ID, &payload, &state, &lastModified, &serverVersion)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Collection = Collection(col)
	e.Payload = []byte(payload)
	e.SyncState = SyncState(state)
	e.LastModified = parseTime(lastModified)
	e.ServerVersion = parseTime(serverVersion)

	return &e, nil
}

func collectEntities(rows *sql.Rows) ([]*Entity, error) {
	var results []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
