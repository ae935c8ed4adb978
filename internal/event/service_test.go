package event

import (
	"context"
	"errors"
	"testing"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return NewService(st, nil, nil), st
}

func TestCreateWritesRecordAndOwnedEvents(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	eventID, err := s.Create(ctx, "owner", "Formal", "Union Hall")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if eventID == "" {
		t.Fatal("empty event id")
	}

	raw, _ := st.Get(ctx, models.EventPath(eventID))
	ev, ok := models.DecodeEvent(eventID, raw)
	if !ok {
		t.Fatal("event record missing")
	}
	if ev.Name != "Formal" || ev.Location != "Union Hall" || ev.Owner != "owner" || ev.Disabled {
		t.Fatalf("event = %+v", ev)
	}

	rawOwned, _ := st.Get(ctx, models.UserOwnedEventsPath("owner"))
	if owned := models.AsStringMap(rawOwned); owned[eventID] != "Formal" {
		t.Fatalf("ownedEvents = %v", owned)
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Create(context.Background(), "owner", "", "Union Hall")
	if !errors.Is(err, models.ErrPreconditionViolated) {
		t.Fatalf("expected ErrPreconditionViolated, got %v", err)
	}
}

func TestDisableEnable(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	eventID, _ := s.Create(ctx, "owner", "Formal", "Union Hall")

	if err := s.Disable(ctx, eventID, "owner"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	raw, _ := st.Get(ctx, models.EventDisabledPath(eventID))
	if !models.AsBool(raw) {
		t.Fatal("event not disabled")
	}

	if err := s.Enable(ctx, eventID, "owner"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	raw, _ = st.Get(ctx, models.EventDisabledPath(eventID))
	if models.AsBool(raw) {
		t.Fatal("event still disabled")
	}
}

func TestDisableOwnerOnly(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	eventID, _ := s.Create(ctx, "owner", "Formal", "Union Hall")

	err := s.Disable(ctx, eventID, "impostor")
	if !errors.Is(err, models.ErrPreconditionViolated) {
		t.Fatalf("expected ErrPreconditionViolated, got %v", err)
	}
	raw, _ := st.Get(ctx, models.EventDisabledPath(eventID))
	if models.AsBool(raw) {
		t.Fatal("non-owner disabled the event")
	}
}

func TestDisableUnknownEvent(t *testing.T) {
	s, _ := newTestService(t)
	err := s.Disable(context.Background(), "nope", "owner")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteReportsNotImplemented(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	eventID, _ := s.Create(ctx, "owner", "Formal", "Union Hall")

	err := s.Delete(ctx, eventID, "owner")
	if !errors.Is(err, models.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	// The record must survive; the operation never looks like success.
	if raw, _ := st.Get(ctx, models.EventPath(eventID)); raw == nil {
		t.Fatal("event record deleted")
	}
}

func TestDeleteOwnerGatedBeforeNotImplemented(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	eventID, _ := s.Create(ctx, "owner", "Formal", "Union Hall")

	err := s.Delete(ctx, eventID, "impostor")
	if !errors.Is(err, models.ErrPreconditionViolated) {
		t.Fatalf("expected ErrPreconditionViolated, got %v", err)
	}
}
