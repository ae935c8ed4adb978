// Package queue implements the per-event ride queue protocol: requests
// enter a FIFO queue, a driver atomically claims the head, active rides
// are tracked and torn down. All multi-location consistency lives here.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/example/dede-rides/internal/ingest"
	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/observability"
	"github.com/example/dede-rides/internal/store"
)

// Coordinator owns the enqueue / claim-next / cancel / complete protocol.
// It is stateless between calls; every invariant is enforced through the
// store's atomic batches and the queue transaction.
type Coordinator struct {
	Store  store.Store
	Events ingest.Publisher
	Log    *slog.Logger
}

func NewCoordinator(st store.Store, events ingest.Publisher, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{Store: st, Events: events, Log: log}
}

// RideLocation is the rider's advisory last known position. It is stored
// verbatim and never consumed by the protocol.
type RideLocation struct {
	Latitude  float64
	Longitude float64
}

// RequestRide mints a ride and enqueues it in one atomic batch: the ride
// record, the event queue entry, and the rider's rides entry.
//
// Callers are responsible for not requesting while an earlier request for
// the same event is still outstanding; the coordinator does not guard
// against duplicates.
func (c *Coordinator) RequestRide(ctx context.Context, eventID models.EventID, riderUID models.UserUID, loc *RideLocation) (models.RideID, error) {
	eventName, err := c.eventName(ctx, eventID)
	if err != nil {
		return "", err
	}
	disabled, err := c.Store.Get(ctx, models.EventDisabledPath(eventID))
	if err != nil {
		return "", err
	}
	if models.AsBool(disabled) {
		return "", fmt.Errorf("request ride: event %s is disabled: %w", eventID, models.ErrPreconditionViolated)
	}

	rideID := store.NewID()
	rideData := map[string]any{
		"status": int(models.RideRequested),
		"rider":  riderUID,
		"event":  eventID,
	}
	if loc != nil {
		rideData["latitude"] = loc.Latitude
		rideData["longitude"] = loc.Longitude
	}

	err = c.Store.Update(ctx, map[string]any{
		models.RidePath(rideID):                    rideData,
		models.EventQueueEntryPath(eventID, rideID): riderUID,
		models.UserRidePath(riderUID, rideID):       eventName,
	})
	if err != nil {
		return "", fmt.Errorf("request ride: %w", err)
	}

	observability.RidesRequested.Inc()
	c.publish(ctx, ingest.Event{Type: ingest.TypeRideRequested, EventID: eventID, RideID: rideID, Actor: riderUID})
	c.Log.Info("ride requested", "event", eventID, "ride", rideID, "rider", riderUID)
	return rideID, nil
}

// CancelRideRequest removes a still-queued request: the ride record, the
// queue entry, and the rider's rides entry go in one batch. Cancelling a
// ride that is already gone is a no-op, so concurrent cancels converge.
func (c *Coordinator) CancelRideRequest(ctx context.Context, rideID models.RideID) error {
	raw, err := c.Store.Get(ctx, models.RidePath(rideID))
	if err != nil {
		return err
	}
	ride, ok := models.DecodeRide(rideID, raw)
	if !ok {
		return nil // already removed
	}
	if ride.Status != models.RideRequested {
		return fmt.Errorf("cancel ride %s: status is %s: %w", rideID, ride.Status, models.ErrPreconditionViolated)
	}

	err = c.Store.Update(ctx, map[string]any{
		models.RidePath(rideID):                          nil,
		models.EventQueueEntryPath(ride.Event, rideID):   nil,
		models.UserRidePath(ride.Rider, rideID):          nil,
	})
	if err != nil {
		return fmt.Errorf("cancel ride: %w", err)
	}

	observability.RidesCancelled.Inc()
	c.publish(ctx, ingest.Event{Type: ingest.TypeRideCancelled, EventID: ride.Event, RideID: rideID, Actor: ride.Rider})
	c.Log.Info("ride cancelled", "event", ride.Event, "ride", rideID)
	return nil
}

// TakeNextInQueue claims the oldest queued ride for driverUID. The queue
// pop runs in the store transaction; concurrent drivers racing for the
// same head retry against each other and each ride is claimed exactly
// once. An empty queue commits unchanged and reports ok=false.
//
// The companion update (ride status/driver, activeRides entry, driver's
// drives entry) is issued after the transaction commits. A crash in
// between leaves a claimed-but-unmarked ride; the reconciler repairs it
// on its next sweep.
func (c *Coordinator) TakeNextInQueue(ctx context.Context, eventID models.EventID, driverUID models.UserUID) (models.RideID, bool, error) {
	var claimed models.RideID

	err := c.Store.Transact(ctx, models.EventQueuePath(eventID), func(current any) (any, error) {
		claimed = ""
		queue := models.AsStringMap(current)
		if len(queue) == 0 {
			return current, nil
		}
		keys := make([]string, 0, len(queue))
		for k := range queue {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		claimed = keys[0]
		delete(queue, claimed)

		next := make(map[string]any, len(queue))
		for k, v := range queue {
			next[k] = v
		}
		return next, nil
	})
	if err != nil {
		observability.ClaimConflicts.Inc()
		return "", false, fmt.Errorf("take next in queue: %w", err)
	}
	if claimed == "" {
		observability.ClaimsEmpty.Inc()
		return "", false, nil
	}

	err = c.Store.Update(ctx, map[string]any{
		models.UserDrivePath(driverUID, claimed):       eventID,
		models.RideStatusPath(claimed):                 int(models.RideClaimed),
		models.RideDriverPath(claimed):                 driverUID,
		models.EventActiveRidePath(eventID, claimed):   driverUID,
	})
	if err != nil {
		// Queue pop already committed; the reconciler finishes the claim.
		c.Log.Error("claim companion update failed", "event", eventID, "ride", claimed, "error", err)
		return claimed, true, fmt.Errorf("claim companion update: %w", err)
	}

	observability.RidesClaimed.Inc()
	c.publish(ctx, ingest.Event{Type: ingest.TypeRideClaimed, EventID: eventID, RideID: claimed, Actor: driverUID})
	c.Log.Info("ride claimed", "event", eventID, "ride", claimed, "driver", driverUID)
	return claimed, true, nil
}

// EndActiveRide completes a claimed ride, deleting the ride record, the
// event's activeRides entry, the driver's drives entry, and the rider's
// rides entry in one batch. Partial records refuse to execute rather than
// half-clean.
func (c *Coordinator) EndActiveRide(ctx context.Context, rideID models.RideID) error {
	raw, err := c.Store.Get(ctx, models.RidePath(rideID))
	if err != nil {
		return err
	}
	ride, ok := models.DecodeRide(rideID, raw)
	if !ok {
		return fmt.Errorf("end ride %s: %w", rideID, models.ErrNotFound)
	}
	if ride.Status != models.RideClaimed {
		return fmt.Errorf("end ride %s: status is %s: %w", rideID, ride.Status, models.ErrPreconditionViolated)
	}
	if ride.Event == "" || ride.Rider == "" || ride.Driver == "" {
		return fmt.Errorf("end ride %s: record missing event/rider/driver: %w", rideID, models.ErrDataIntegrity)
	}

	err = c.Store.Update(ctx, map[string]any{
		models.RidePath(rideID):                        nil,
		models.EventActiveRidePath(ride.Event, rideID): nil,
		models.UserDrivePath(ride.Driver, rideID):      nil,
		models.UserRidePath(ride.Rider, rideID):        nil,
	})
	if err != nil {
		return fmt.Errorf("end ride: %w", err)
	}

	observability.RidesCompleted.Inc()
	c.publish(ctx, ingest.Event{Type: ingest.TypeRideCompleted, EventID: ride.Event, RideID: rideID, Actor: ride.Driver})
	c.Log.Info("ride completed", "event", ride.Event, "ride", rideID, "driver", ride.Driver)
	return nil
}

func (c *Coordinator) eventName(ctx context.Context, eventID models.EventID) (string, error) {
	raw, err := c.Store.Get(ctx, models.EventNamePath(eventID))
	if err != nil {
		return "", err
	}
	name := models.AsString(raw)
	if name == "" {
		return "", fmt.Errorf("event %s: %w", eventID, models.ErrNotFound)
	}
	return name, nil
}

func (c *Coordinator) publish(ctx context.Context, ev ingest.Event) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(ctx, ev); err != nil {
		c.Log.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}
