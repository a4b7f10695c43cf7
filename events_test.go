package stacks

import (
	"testing"
	"time"
)

func TestDecodeEntityEvents(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantCol Collection
		wantID  string
		created bool
		updated bool
		deleted bool
	}{
		{
			name:    "item created",
			frame:   `{"event":"item.created","data":{"id":"itm_1","updated_at":"2026-01-10T12:00:00Z","data":{"title":"A"}}}`,
			wantCol: CollectionItems,
			wantID:  "itm_1",
			created: true,
		},
		{
			name:    "series updated",
			frame:   `{"event":"series.updated","data":{"id":"ser_1","updated_at":"2026-01-10T12:00:00Z","data":{"name":"S"}}}`,
			wantCol: CollectionSeries,
			wantID:  "ser_1",
			updated: true,
		},
		{
			name:    "contributor deleted",
			frame:   `{"event":"contributor.deleted","data":{"id":"ctr_1"}}`,
			wantCol: CollectionContributors,
			wantID:  "ctr_1",
			deleted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeEvent([]byte(tt.frame))
			if err != nil {
				t.Fatalf("decodeEvent: %v", err)
			}

			switch e := ev.(type) {
			case EntityCreated:
				if !tt.created {
					t.Fatalf("got EntityCreated, want other")
				}
				if e.Record.Collection != tt.wantCol || e.Record.ID != tt.wantID {
					t.Errorf("record = %+v", e.Record)
				}
				want := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
				if !e.Record.UpdatedAt.Equal(want) {
					t.Errorf("UpdatedAt = %v", e.Record.UpdatedAt)
				}
			case EntityUpdated:
				if !tt.updated {
					t.Fatalf("got EntityUpdated, want other")
				}
				if e.Record.Collection != tt.wantCol || e.Record.ID != tt.wantID {
					t.Errorf("record = %+v", e.Record)
				}
			case EntityDeleted:
				if !tt.deleted {
					t.Fatalf("got EntityDeleted, want other")
				}
				if e.Collection != tt.wantCol || e.ID != tt.wantID {
					t.Errorf("event = %+v", e)
				}
			default:
				t.Fatalf("event type = %T", ev)
			}
		})
	}
}

func TestDecodeLifecycleEvents(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"event":"heartbeat"}`))
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if _, ok := ev.(Heartbeat); !ok {
		t.Errorf("event = %T, want Heartbeat", ev)
	}

	ev, err = decodeEvent([]byte(`{"event":"user.revoked","data":{"reason":"key rotated"}}`))
	if err != nil {
		t.Fatalf("user.revoked: %v", err)
	}
	rev, ok := ev.(UserRevoked)
	if !ok {
		t.Fatalf("event = %T, want UserRevoked", ev)
	}
	if rev.Reason != "key rotated" {
		t.Errorf("reason = %q", rev.Reason)
	}

	ev, err = decodeEvent([]byte(`{"event":"library.scan.started"}`))
	if err != nil {
		t.Fatalf("scan.started: %v", err)
	}
	if _, ok := ev.(ScanStarted); !ok {
		t.Errorf("event = %T, want ScanStarted", ev)
	}

	ev, err = decodeEvent([]byte(`{"event":"library.scan.completed","data":{"added":3,"updated":1,"removed":2}}`))
	if err != nil {
		t.Fatalf("scan.completed: %v", err)
	}
	done, ok := ev.(ScanCompleted)
	if !ok {
		t.Fatalf("event = %T, want ScanCompleted", ev)
	}
	if done.Stats.Added != 3 || done.Stats.Updated != 1 || done.Stats.Removed != 2 {
		t.Errorf("stats = %+v", done.Stats)
	}
}

func TestDecodeEventRejectsUnknownAndMalformed(t *testing.T) {
	for _, frame := range []string{
		`{"event":"albums.created","data":{"id":"x"}}`,
		`{"event":"mystery"}`,
		`{"event":"item.upserted","data":{"id":"x"}}`,
		`not json at all`,
	} {
		if _, err := decodeEvent([]byte(frame)); err == nil {
			t.Errorf("decodeEvent(%q) succeeded, want error", frame)
		}
	}
}
