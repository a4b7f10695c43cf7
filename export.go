package stacks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// ExportVersion is the current version of the export format.
const ExportVersion = "1.0"

// ExportHeader is the first line of a JSONL export. Every following line is
// one ExportEntity.
type ExportHeader struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	LibraryID  string    `json:"library_id,omitempty"`
	Entities   int       `json:"entities"`
}

// ExportEntity is one replicated entity in export format.
type ExportEntity struct {
	Collection    Collection      `json:"collection"`
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SyncState     SyncState       `json:"sync_state"`
	LastModified  time.Time       `json:"last_modified"`
	ServerVersion time.Time       `json:"server_version,omitempty"`
}

// MergeStrategy defines how to handle entities that already exist during import.
type MergeStrategy string

const (
	// MergeStrategySkip skips entities that already exist locally.
	MergeStrategySkip MergeStrategy = "skip"
	// MergeStrategyReplace overwrites existing entities with imported copies.
	MergeStrategyReplace MergeStrategy = "replace"
	// MergeStrategyMerge upserts by (collection, id) (default).
	MergeStrategyMerge MergeStrategy = "merge"
)

// ImportResult summarizes an import operation.
type ImportResult struct {
	Total   int      `json:"total"`
	Created int      `json:"created"`
	Merged  int      `json:"merged"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ExportJSONL streams the replica to w as JSON Lines: a header line, then one
// entity per line across every collection. Rows are written as they are
// scanned, so memory stays flat regardless of replica size.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	var libraryID string
	var total int
	s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, metaLibraryID).Scan(&libraryID)
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&total); err != nil {
		return fmt.Errorf("export: count entities: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	if err := enc.Encode(ExportHeader{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		LibraryID:  libraryID,
		Entities:   total,
	}); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT collection, id, payload, sync_state, last_modified, server_version
		FROM entities ORDER BY collection, id
	`)
	if err != nil {
		return fmt.Errorf("export: query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e, err := scanEntity(rows)
		if err != nil {
			return fmt.Errorf("export: scan entity: %w", err)
		}

		if err := enc.Encode(ExportEntity{
			Collection:    e.Collection,
			ID:            e.ID,
			Payload:       e.Payload,
			SyncState:     e.SyncState,
			LastModified:  e.LastModified,
			ServerVersion: e.ServerVersion,
		}); err != nil {
			return fmt.Errorf("export: write entity: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("export: iterate entities: %w", err)
	}

	return bw.Flush()
}

// ExportSQLite copies the replica database file to destPath after forcing a
// WAL checkpoint, producing a self-contained snapshot.
func (s *Store) ExportSQLite(ctx context.Context, destPath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	// Fold the WAL into the main file so the copy is complete on its own.
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("export: checkpoint wal: %w", err)
	}

	src, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("export: open database: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("export: create destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("export: copy database: %w", err)
	}

	return dst.Sync()
}

// EntityCount returns the total number of replicated entities.
func (s *Store) EntityCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&count)
	return count, err
}
