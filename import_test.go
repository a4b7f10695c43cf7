package stacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

// exportDoc builds a JSONL document from a header and entity lines.
func exportDoc(t *testing.T, header ExportHeader, entities ...ExportEntity) string {
	t.Helper()
	var b strings.Builder
	enc := json.NewEncoder(&b)
	if err := enc.Encode(header); err != nil {
		t.Fatalf("encode header: %v", err)
	}
	for _, e := range entities {
		if err := enc.Encode(e); err != nil {
			t.Fatalf("encode entity: %v", err)
		}
	}
	return b.String()
}

func exportEntity(col Collection, id, payload string, state SyncState) ExportEntity {
	return ExportEntity{
		Collection:   col,
		ID:           id,
		Payload:      rawJSON(payload),
		SyncState:    state,
		LastModified: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestImportMergeStrategies(t *testing.T) {
	now := time.Now().UTC()
	doc := exportDoc(t,
		ExportHeader{Version: ExportVersion, Entities: 2},
		exportEntity(CollectionItems, "itm_existing", `{"title":"Imported"}`, StateSynced),
		exportEntity(CollectionItems, "itm_new", `{"title":"New"}`, StateSynced),
	)

	tests := []struct {
		strategy    MergeStrategy
		wantCreated int
		wantMerged  int
		wantSkipped int
		wantPayload string
	}{
		{MergeStrategySkip, 1, 0, 1, `{"title":"Existing"}`},
		{MergeStrategyReplace, 1, 1, 0, `{"title":"Imported"}`},
		{MergeStrategyMerge, 1, 1, 0, `{"title":"Imported"}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			s := newTestStore(t)
			seedSynced(t, s, CollectionItems, "itm_existing", `{"title":"Existing"}`, now)

			result, err := s.ImportJSONL(context.Background(), strings.NewReader(doc), tt.strategy, false)
			if err != nil {
				t.Fatalf("ImportJSONL: %v", err)
			}
			if result.Created != tt.wantCreated || result.Merged != tt.wantMerged || result.Skipped != tt.wantSkipped {
				t.Errorf("result = %+v", result)
			}

			e, err := s.Entity(CollectionItems, "itm_existing")
			if err != nil {
				t.Fatalf("Entity: %v", err)
			}
			if string(e.Payload) != tt.wantPayload {
				t.Errorf("payload = %s, want %s", e.Payload, tt.wantPayload)
			}
		})
	}
}

func TestImportDryRunTouchesNothing(t *testing.T) {
	s := newTestStore(t)
	seedSynced(t, s, CollectionItems, "itm_existing", `{"title":"Existing"}`, time.Now().UTC())

	doc := exportDoc(t,
		ExportHeader{Version: ExportVersion, Entities: 2},
		exportEntity(CollectionItems, "itm_existing", `{"title":"Imported"}`, StateSynced),
		exportEntity(CollectionItems, "itm_new", `{"title":"New"}`, StateSynced),
	)

	result, err := s.ImportJSONL(context.Background(), strings.NewReader(doc), MergeStrategyMerge, true)
	if err != nil {
		t.Fatalf("ImportJSONL: %v", err)
	}
	if result.Created != 1 || result.Merged != 1 {
		t.Errorf("result = %+v", result)
	}

	// Nothing was written.
	if _, err := s.Entity(CollectionItems, "itm_new"); err == nil {
		t.Error("dry run created an entity")
	}
	e, _ := s.Entity(CollectionItems, "itm_existing")
	if string(e.Payload) != `{"title":"Existing"}` {
		t.Errorf("dry run modified payload: %s", e.Payload)
	}
}

func TestImportToleratesBadLines(t *testing.T) {
	s := newTestStore(t)

	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.Encode(ExportHeader{Version: ExportVersion, Entities: 3})
	enc.Encode(exportEntity(CollectionItems, "itm_good", `{"title":"A"}`, StateSynced))
	b.WriteString("this line is not json\n")
	enc.Encode(exportEntity("albums", "alb_1", `{}`, StateSynced))
	enc.Encode(exportEntity(CollectionSeries, "", `{}`, StateSynced))
	enc.Encode(exportEntity(CollectionSeries, "ser_good", `{"name":"S"}`, StateSynced))

	result, err := s.ImportJSONL(context.Background(), strings.NewReader(b.String()), MergeStrategyMerge, false)
	if err != nil {
		t.Fatalf("ImportJSONL: %v", err)
	}

	if result.Created != 2 {
		t.Errorf("created = %d, want 2", result.Created)
	}
	if len(result.Errors) != 3 {
		t.Fatalf("errors = %v", result.Errors)
	}
	// Error lines name the offending line number.
	if !strings.Contains(result.Errors[0], "line 3") {
		t.Errorf("errors[0] = %q", result.Errors[0])
	}

	for _, id := range []string{"itm_good"} {
		if _, err := s.Entity(CollectionItems, id); err != nil {
			t.Errorf("missing %s: %v", id, err)
		}
	}
	if _, err := s.Entity(CollectionSeries, "ser_good"); err != nil {
		t.Errorf("missing ser_good: %v", err)
	}
}

func TestImportRejectsVersionMismatch(t *testing.T) {
	s := newTestStore(t)
	doc := exportDoc(t, ExportHeader{Version: "99.0", Entities: 0})

	if _, err := s.ImportJSONL(context.Background(), strings.NewReader(doc), MergeStrategyMerge, false); err == nil {
		t.Fatal("expected version error")
	}
}

func TestImportRejectsGarbageHeader(t *testing.T) {
	s := newTestStore(t)

	for name, input := range map[string]string{
		"empty":    "",
		"not json": "hello\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.ImportJSONL(context.Background(), strings.NewReader(input), MergeStrategyMerge, false); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestImportLargeDocument(t *testing.T) {
	s := newTestStore(t)

	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	const n = 500
	enc.Encode(ExportHeader{Version: ExportVersion, Entities: n})
	for i := 0; i < n; i++ {
		enc.Encode(exportEntity(CollectionItems, fmt.Sprintf("itm_%04d", i), `{"title":"bulk"}`, StateSynced))
	}

	result, err := s.ImportJSONL(context.Background(), &b, MergeStrategyMerge, false)
	if err != nil {
		t.Fatalf("ImportJSONL: %v", err)
	}
	if result.Created != n {
		t.Errorf("created = %d, want %d", result.Created, n)
	}

	count, err := s.EntityCount()
	if err != nil {
		t.Fatalf("EntityCount: %v", err)
	}
	if count != n {
		t.Errorf("EntityCount = %d, want %d", count, n)
	}
}
