package stacks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the stacks client.
var (
	// ErrNotFound is returned when an entity is not found in the local replica.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidCollection is returned when an unknown collection is referenced.
	ErrInvalidCollection = errors.New("invalid collection")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrOffline is returned when a network operation is attempted in offline mode.
	ErrOffline = errors.New("operation unavailable in offline mode")

	// ErrSyncInProgress is returned when a sync cycle is already running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrLibraryMismatch is returned when the server serves a different library
	// than the one the local replica was built from.
	ErrLibraryMismatch = errors.New("server library does not match local replica")

	// ErrRevoked is returned when the server reports the session was revoked.
	ErrRevoked = errors.New("session revoked by server")

	// ErrStreamClosed is returned when the event stream has been shut down.
	ErrStreamClosed = errors.New("event stream closed")

	// ErrPayloadTooLarge is returned when an entity payload exceeds MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// SyncError is returned when a sync operation fails with details.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying: network-level
// errors (no status) and server-side 5xx responses.
func (e *SyncError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// RejectionError is returned when the server permanently rejects a pushed
// operation (4xx other than conflict). The operation is not retried.
type RejectionError struct {
	Collection Collection
	EntityID   string
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("push: %s/%s rejected (status %d): %s",
		e.Collection, e.EntityID, e.StatusCode, e.Message)
}

// ConflictError is returned when the server reports a version newer than an
// unsynced local edit. Carries the server version, and the server's copy of
// the record when the conflict envelope included one, for the conflict record.
type ConflictError struct {
	Collection    Collection
	EntityID      string
	ServerVersion time.Time
	ServerPayload json.RawMessage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("push: %s/%s conflicts with server version %s",
		e.Collection, e.EntityID, e.ServerVersion.Format(time.RFC3339))
}

// isTransient reports whether err should be retried by the coordinator's
// backoff policy. Conflicts, rejections, and cancellation are never retried.
func isTransient(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return false
}
