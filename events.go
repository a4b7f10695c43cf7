package stacks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is the closed set of messages arriving on the live server feed.
// The processor switches exhaustively on the concrete type; adding a
// variant is a compile-checked change.
type Event interface {
	isEvent()
}

// EntityCreated announces a record created on the server.
type EntityCreated struct {
	Record ServerRecord
}

func (EntityCreated) isEvent() {}

// EntityUpdated announces a record updated on the server.
type EntityUpdated struct {
	Record ServerRecord
}

func (EntityUpdated) isEvent() {}

// EntityDeleted announces a server-side deletion (tombstone).
type EntityDeleted struct {
	Collection Collection
	ID         string
}

func (EntityDeleted) isEvent() {}

// ScanStats summarizes a server-side library scan.
type ScanStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// ScanStarted announces a bulk library scan beginning on the server.
// No entity mutation; the resulting changes arrive as entity events.
type ScanStarted struct {
	Stats ScanStats
}

func (ScanStarted) isEvent() {}

// ScanCompleted announces a bulk library scan finishing on the server.
type ScanCompleted struct {
	Stats ScanStats
}

func (ScanCompleted) isEvent() {}

// UserRevoked means the server revoked this client's session. Escalates
// past the sync engine: the stream disconnects and credentials are cleared.
type UserRevoked struct {
	Reason string
}

func (UserRevoked) isEvent() {}

// Reconnected is synthesized client-side after a successful redial. Events
// emitted during the gap are lost; a delta catch-up recovers them.
type Reconnected struct{}

func (Reconnected) isEvent() {}

// Heartbeat is a liveness ping from the server. No-op.
type Heartbeat struct{}

func (Heartbeat) isEvent() {}

// eventFrame is the wire envelope for one stream message.
type eventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// entityEventData is the wire payload for entity create/update/delete events.
type entityEventData struct {
	ID        string          `json:"id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"data"`
}

type revokedEventData struct {
	Reason string `json:"reason"`
}

// decodeEvent parses one wire frame into an Event.
// Event names: "<collection>.created|updated|deleted" for entity events,
// "library.scan.started|completed", "user.revoked", "heartbeat".
func decodeEvent(frame []byte) (Event, error) {
	var f eventFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, fmt.Errorf("decode event frame: %w", err)
	}

	switch f.Event {
	case "heartbeat":
		return Heartbeat{}, nil

	case "user.revoked":
		var d revokedEventData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, fmt.Errorf("decode user.revoked: %w", err)
		}
		return UserRevoked{Reason: d.Reason}, nil

	case "library.scan.started":
		var stats ScanStats
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &stats); err != nil {
				return nil, fmt.Errorf("decode scan.started: %w", err)
			}
		}
		return ScanStarted{Stats: stats}, nil

	case "library.scan.completed":
		var stats ScanStats
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &stats); err != nil {
				return nil, fmt.Errorf("decode scan.completed: %w", err)
			}
		}
		return ScanCompleted{Stats: stats}, nil
	}

	// Entity events: "<collection>.<verb>"
	name, verb, ok := strings.Cut(f.Event, ".")
	if !ok {
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}

	col := collectionFromEventName(name)
	if !col.IsValid() {
		return nil, fmt.Errorf("unknown event collection %q", name)
	}

	var d entityEventData
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Event, err)
	}

	rec := ServerRecord{
		Collection: col,
		ID:         d.ID,
		UpdatedAt:  d.UpdatedAt,
		Payload:    d.Payload,
	}

	switch verb {
	case "created":
		return EntityCreated{Record: rec}, nil
	case "updated":
		return EntityUpdated{Record: rec}, nil
	case "deleted":
		return EntityDeleted{Collection: col, ID: d.ID}, nil
	}

	return nil, fmt.Errorf("unknown event %q", f.Event)
}

// collectionFromEventName maps singular event prefixes to collections.
func collectionFromEventName(name string) Collection {
	switch name {
	case "item":
		return CollectionItems
	case "series":
		return CollectionSeries
	case "contributor":
		return CollectionContributors
	}
	return Collection(name)
}
