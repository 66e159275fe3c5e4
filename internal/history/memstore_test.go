package history

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func makeRecording(i int) Recording {
	return Recording{
		ID:        fmt.Sprintf("rec-%03d", i),
		Title:     fmt.Sprintf("Meeting %d", i),
		Platform:  "google-meet",
		StartedAt: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		Duration:  10 * time.Minute,
		Transcript: []TranscriptEntry{
			{Speaker: "Speaker 1", Text: fmt.Sprintf("segment %d", i)},
		},
	}
}

func TestMemStoreFIFOEviction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	for i := 0; i < Capacity+1; i++ {
		if err := s.Append(ctx, makeRecording(i)); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}

	recs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != Capacity {
		t.Fatalf("len = %d, want %d", len(recs), Capacity)
	}
	if recs[0].ID != "rec-050" {
		t.Errorf("newest = %q, want rec-050", recs[0].ID)
	}
	// The 51st append evicts the oldest insertion (rec-000).
	if _, err := s.Get(ctx, "rec-000"); err != ErrNotFound {
		t.Errorf("Get(rec-000) err = %v, want ErrNotFound", err)
	}
	if recs[len(recs)-1].ID != "rec-001" {
		t.Errorf("oldest retained = %q, want rec-001", recs[len(recs)-1].ID)
	}
}

func TestMemStoreDeletePreservesOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, makeRecording(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Delete(ctx, "rec-002"); err != nil {
		t.Fatal(err)
	}

	recs, _ := s.List(ctx)
	want := []string{"rec-004", "rec-003", "rec-001", "rec-000"}
	if len(recs) != len(want) {
		t.Fatalf("len = %d, want %d", len(recs), len(want))
	}
	for i, id := range want {
		if recs[i].ID != id {
			t.Errorf("recs[%d] = %q, want %q", i, recs[i].ID, id)
		}
	}

	if err := s.Delete(ctx, "rec-002"); err != ErrNotFound {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreUpdateTitle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	if err := s.Append(ctx, makeRecording(1)); err != nil {
		t.Fatal(err)
	}
	updated, err := s.UpdateTitle(ctx, "rec-001", "Quarterly planning")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "Quarterly planning" {
		t.Errorf("title = %q", updated.Title)
	}

	// Rename must refresh the search text.
	found, err := s.Search(ctx, "quarterly")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "rec-001" {
		t.Errorf("search after rename = %+v", found)
	}

	if _, err := s.UpdateTitle(ctx, "missing", "x"); err != ErrNotFound {
		t.Errorf("UpdateTitle(missing) err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	rec := makeRecording(1)
	rec.Summary = &Summary{Overview: "Discussed the Atlas launch", Tags: []string{"launch"}}
	if err := s.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, makeRecording(2)); err != nil {
		t.Fatal(err)
	}

	found, err := s.Search(ctx, "ATLAS")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "rec-001" {
		t.Fatalf("search = %+v, want rec-001 only", found)
	}

	all, _ := s.Search(ctx, "")
	if len(all) != 2 {
		t.Errorf("empty query should match everything, got %d", len(all))
	}
}

func TestMemStoreClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	_ = s.Append(ctx, makeRecording(1))
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	recs, _ := s.List(ctx)
	if len(recs) != 0 {
		t.Errorf("len after clear = %d", len(recs))
	}
}
