package main

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/example/dede-rides/internal/ingest"
)

// fakeArchiver fails the first failures calls, then succeeds.
type fakeArchiver struct {
	failures int
	calls    int
	lastArgs []any
}

func (f *fakeArchiver) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.calls++
	f.lastArgs = args
	if f.calls <= f.failures {
		return nil, errors.New("insert failed")
	}
	return nil, nil
}

func TestArchiveFirstTry(t *testing.T) {
	db := &fakeArchiver{}
	ev := ingest.Event{Type: ingest.TypeRideClaimed, EventID: "e1", RideID: "r1", Actor: "driverD", At: time.Now()}

	if err := archiveWithRetry(context.Background(), db, ev, 3, time.Millisecond); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if db.calls != 1 {
		t.Fatalf("calls = %d", db.calls)
	}
	if db.lastArgs[0] != ingest.TypeRideClaimed || db.lastArgs[1] != "e1" || db.lastArgs[2] != "r1" {
		t.Fatalf("args = %v", db.lastArgs)
	}
}

func TestArchiveRetriesThenSucceeds(t *testing.T) {
	db := &fakeArchiver{failures: 2}
	ev := ingest.Event{Type: ingest.TypeRideRequested, At: time.Now()}

	if err := archiveWithRetry(context.Background(), db, ev, 3, time.Millisecond); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if db.calls != 3 {
		t.Fatalf("calls = %d", db.calls)
	}
}

func TestArchiveGivesUpAfterAttempts(t *testing.T) {
	db := &fakeArchiver{failures: 10}
	ev := ingest.Event{Type: ingest.TypeRideCompleted, At: time.Now()}

	if err := archiveWithRetry(context.Background(), db, ev, 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if db.calls != 3 {
		t.Fatalf("calls = %d", db.calls)
	}
}
