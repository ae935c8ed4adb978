package offers

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return NewService(st, nil, nil), st
}

func seedEvent(t *testing.T, st store.Store, eventID, owner, name string) {
	t.Helper()
	err := st.Update(context.Background(), map[string]any{
		models.EventPath(eventID): map[string]any{
			"name":     name,
			"location": "somewhere",
			"owner":    owner,
			"disabled": false,
		},
		models.UserOwnedEventPath(owner, eventID): name,
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
}

func eventState(t *testing.T, st store.Store, eventID string) models.Event {
	t.Helper()
	raw, err := st.Get(context.Background(), models.EventPath(eventID))
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	ev, ok := models.DecodeEvent(eventID, raw)
	if !ok {
		t.Fatalf("event %s missing", eventID)
	}
	return ev
}

// checkRosterDisjoint asserts no uid sits in both drivers and
// pendingDrivers.
func checkRosterDisjoint(t *testing.T, st store.Store, eventID string) {
	t.Helper()
	ev := eventState(t, st, eventID)
	for uid := range ev.Drivers {
		if _, also := ev.PendingDrivers[uid]; also {
			t.Fatalf("uid %s in both drivers and pendingDrivers", uid)
		}
	}
}

func TestOfferToDrive(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")

	if err := s.OfferToDrive(ctx, "e1", "driverD", "Dee"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	ev := eventState(t, st, "e1")
	if ev.PendingDrivers["driverD"] != "Dee" {
		t.Fatalf("pendingDrivers = %v", ev.PendingDrivers)
	}
	if len(ev.Drivers) != 0 {
		t.Fatalf("drivers = %v", ev.Drivers)
	}
}

func TestOfferRejectedForAcceptedDriver(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")
	if err := s.AcceptOffer(ctx, "e1", "owner", "driverD"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	err := s.OfferToDrive(ctx, "e1", "driverD", "Dee")
	if !errors.Is(err, models.ErrPreconditionViolated) {
		t.Fatalf("expected ErrPreconditionViolated, got %v", err)
	}
	checkRosterDisjoint(t, st, "e1")
}

func TestWithdrawOfferIsIdempotent(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")

	if err := s.WithdrawOffer(ctx, "e1", "driverD"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if ev := eventState(t, st, "e1"); len(ev.PendingDrivers) != 0 {
		t.Fatalf("pendingDrivers = %v", ev.PendingDrivers)
	}
	// Absent offer: still a no-op.
	if err := s.WithdrawOffer(ctx, "e1", "driverD"); err != nil {
		t.Fatalf("second withdraw: %v", err)
	}
}

func TestAcceptOffer(t *testing.T) {
	// Offer, owner accepts: roster and drivesFor updated together.
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")

	if err := s.AcceptOffer(ctx, "e1", "owner", "driverD"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	ev := eventState(t, st, "e1")
	if ev.Drivers["driverD"] != "Dee" {
		t.Fatalf("drivers = %v", ev.Drivers)
	}
	if len(ev.PendingDrivers) != 0 {
		t.Fatalf("pendingDrivers = %v", ev.PendingDrivers)
	}
	raw, _ := st.Get(ctx, models.UserDrivesForPath("driverD"))
	if d := models.AsStringMap(raw); d["e1"] != "Formal" {
		t.Fatalf("drivesFor = %v", d)
	}
	checkRosterDisjoint(t, st, "e1")
}

func TestAcceptOfferOwnerOnly(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")

	err := s.AcceptOffer(ctx, "e1", "impostor", "driverD")
	if !errors.Is(err, models.ErrPreconditionViolated) {
		t.Fatalf("expected ErrPreconditionViolated, got %v", err)
	}
	if ev := eventState(t, st, "e1"); len(ev.Drivers) != 0 {
		t.Fatalf("drivers = %v after rejected accept", ev.Drivers)
	}
}

func TestAcceptWithoutPendingOffer(t *testing.T) {
	s, st := newTestService(t)
	seedEvent(t, st, "e1", "owner", "Formal")

	err := s.AcceptOffer(context.Background(), "e1", "owner", "driverD")
	if !errors.Is(err, models.ErrPreconditionViolated) {
		t.Fatalf("expected ErrPreconditionViolated, got %v", err)
	}
}

func TestAcceptOfferUnknownEvent(t *testing.T) {
	s, _ := newTestService(t)
	err := s.AcceptOffer(context.Background(), "nope", "owner", "driverD")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectOffer(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")

	if err := s.RejectOffer(ctx, "e1", "owner", "driverD"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	ev := eventState(t, st, "e1")
	if len(ev.PendingDrivers) != 0 || len(ev.Drivers) != 0 {
		t.Fatalf("pending=%v drivers=%v", ev.PendingDrivers, ev.Drivers)
	}
}

func TestRejectOfferOwnerOnly(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")

	err := s.RejectOffer(ctx, "e1", "impostor", "driverD")
	if !errors.Is(err, models.ErrPreconditionViolated) {
		t.Fatalf("expected ErrPreconditionViolated, got %v", err)
	}
	if ev := eventState(t, st, "e1"); ev.PendingDrivers["driverD"] != "Dee" {
		t.Fatalf("pending offer lost: %v", ev.PendingDrivers)
	}
}

func TestOfferAcceptRemoveRoundTrip(t *testing.T) {
	// Offer → accept → remove restores the pre-offer state.
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	before, _ := st.Get(ctx, models.EventPath("e1"))

	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")
	if err := s.AcceptOffer(ctx, "e1", "owner", "driverD"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.RemoveDriver(ctx, "e1", "driverD"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	after, _ := st.Get(ctx, models.EventPath("e1"))
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("event state diverged:\nbefore %v\nafter  %v", before, after)
	}
	if raw, _ := st.Get(ctx, models.UserDrivesForPath("driverD")); raw != nil {
		t.Fatalf("drivesFor survived: %v", raw)
	}
}

func TestOfferWithdrawRoundTrip(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	before, _ := st.Get(ctx, models.EventPath("e1"))

	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")
	if err := s.WithdrawOffer(ctx, "e1", "driverD"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	after, _ := st.Get(ctx, models.EventPath("e1"))
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("event state diverged:\nbefore %v\nafter  %v", before, after)
	}
}

func TestAddDriverSkipsPending(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	seedEvent(t, st, "e1", "owner", "Formal")
	// A stale pending entry from an earlier offer gets cleared too.
	_ = s.OfferToDrive(ctx, "e1", "driverD", "Dee")

	if err := s.AddDriver(ctx, "e1", "driverD", "Dee"); err != nil {
		t.Fatalf("add driver: %v", err)
	}
	ev := eventState(t, st, "e1")
	if ev.Drivers["driverD"] != "Dee" || len(ev.PendingDrivers) != 0 {
		t.Fatalf("drivers=%v pending=%v", ev.Drivers, ev.PendingDrivers)
	}
	checkRosterDisjoint(t, st, "e1")
}

func TestAddDriverUnknownEvent(t *testing.T) {
	s, _ := newTestService(t)
	err := s.AddDriver(context.Background(), "nope", "driverD", "Dee")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
