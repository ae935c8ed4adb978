package repo

import (
	"context"
	"testing"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/store"
)

func seedEvent(t *testing.T, st store.Store, eventID, owner, name string) {
	t.Helper()
	err := st.Update(context.Background(), map[string]any{
		models.EventPath(eventID): map[string]any{
			"name":     name,
			"location": "somewhere",
			"owner":    owner,
			"disabled": false,
		},
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
}

func TestOpenEventPopulatesProjection(t *testing.T) {
	st := store.NewMemory()
	seedEvent(t, st, "e1", "owner", "Formal")

	r, err := OpenEvent(st, "e1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if r.Name() != "Formal" || r.Location() != "somewhere" || r.Owner() != "owner" || r.Disabled() {
		t.Fatalf("projection = %+v", r.Snapshot())
	}
}

func TestOpenEventMissingSubtree(t *testing.T) {
	st := store.NewMemory()
	r, err := OpenEvent(st, "ghost")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if r.Name() != "" || len(r.Queue()) != 0 {
		t.Fatalf("projection not empty: %+v", r.Snapshot())
	}
}

func TestEventProjectionTracksChanges(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")

	r, err := OpenEvent(st, "e1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	queueNotified := 0
	h := r.Watch(EventFieldQueue, func() { queueNotified++ })
	defer r.Unwatch(h)

	_ = st.Update(ctx, map[string]any{models.EventQueueEntryPath("e1", "r1"): "riderR"})
	if q := r.Queue(); q["r1"] != "riderR" {
		t.Fatalf("queue = %v", q)
	}
	if queueNotified != 1 {
		t.Fatalf("queue notifications = %d", queueNotified)
	}

	_ = st.Update(ctx, map[string]any{models.EventDisabledPath("e1"): true})
	if !r.Disabled() {
		t.Fatal("disabled change not projected")
	}
	if queueNotified != 1 {
		t.Fatalf("unrelated change fired queue observer, notifications = %d", queueNotified)
	}
}

func TestEventQueueEntryRemovalProjected(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	_ = st.Update(ctx, map[string]any{models.EventQueueEntryPath("e1", "r1"): "riderR"})

	r, err := OpenEvent(st, "e1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	_ = st.Update(ctx, map[string]any{models.EventQueueEntryPath("e1", "r1"): nil})
	if q := r.Queue(); len(q) != 0 {
		t.Fatalf("queue = %v after removal", q)
	}
}

func TestPendingDriverCountIsDerived(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")

	r, err := OpenEvent(st, "e1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if r.PendingDriverCount() != 0 {
		t.Fatalf("count = %d", r.PendingDriverCount())
	}
	_ = st.Update(ctx, map[string]any{models.EventPendingDriverPath("e1", "d1"): "Dee"})
	_ = st.Update(ctx, map[string]any{models.EventPendingDriverPath("e1", "d2"): "Em"})
	if r.PendingDriverCount() != 2 {
		t.Fatalf("count = %d", r.PendingDriverCount())
	}
	_ = st.Update(ctx, map[string]any{models.EventPendingDriverPath("e1", "d1"): nil})
	if r.PendingDriverCount() != 1 {
		t.Fatalf("count = %d", r.PendingDriverCount())
	}
}

func TestClosedEventRepoStopsTracking(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")

	r, err := OpenEvent(st, "e1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r.Close()

	_ = st.Update(ctx, map[string]any{models.EventNamePath("e1"): "Renamed"})
	if r.Name() != "Formal" {
		t.Fatalf("closed repo kept tracking, name = %q", r.Name())
	}
}
