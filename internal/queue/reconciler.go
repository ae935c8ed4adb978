package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/observability"
	"github.com/example/dede-rides/internal/store"
)

// Reconciler closes the claim companion-write gap: the queue pop commits
// transactionally but the rest of the claim is written afterwards, so a
// crash in between strands state. Each sweep walks every event's
// activeRides and repairs what it finds:
//
//   - entry whose ride record is gone: the entry and the driver's drives
//     entry are removed (the ride completed or was torn down elsewhere)
//   - entry whose ride is still Requested: the companion write is
//     completed forward, including clearing any leftover queue entry
type Reconciler struct {
	Store store.Store
	Log   *slog.Logger
}

func NewReconciler(st store.Store, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{Store: st, Log: log}
}

// Run sweeps at the given interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repairs, err := r.SweepOnce(ctx)
			if err != nil {
				r.Log.Error("reconcile sweep failed", "error", err)
				continue
			}
			if repairs > 0 {
				r.Log.Info("reconcile sweep repaired state", "repairs", repairs)
			}
		}
	}
}

// SweepOnce scans all events once and returns the number of repairs made.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	raw, err := r.Store.Get(ctx, "events")
	if err != nil {
		return 0, err
	}
	events, ok := raw.(map[string]any)
	if !ok {
		return 0, nil
	}

	repairs := 0
	for eventID, rawEvent := range events {
		ev, ok := models.DecodeEvent(eventID, rawEvent)
		if !ok {
			continue
		}
		observability.QueueDepth.WithLabelValues(eventID).Set(float64(len(ev.Queue)))

		for rideID, driverUID := range ev.ActiveRides {
			n, err := r.repairActiveRide(ctx, ev, rideID, driverUID)
			if err != nil {
				return repairs, err
			}
			repairs += n
		}
	}

	n, err := r.sweepRides(ctx, events)
	repairs += n
	if err != nil {
		return repairs, err
	}
	observability.ReconcilerSweeps.Inc()
	return repairs, nil
}

// sweepRides covers the other direction of the gap: ride records whose
// event-side entries are missing.
func (r *Reconciler) sweepRides(ctx context.Context, events map[string]any) (int, error) {
	raw, err := r.Store.Get(ctx, "rides")
	if err != nil {
		return 0, err
	}
	rides, ok := raw.(map[string]any)
	if !ok {
		return 0, nil
	}

	repairs := 0
	for rideID, rawRide := range rides {
		ride, ok := models.DecodeRide(rideID, rawRide)
		if !ok || ride.Event == "" {
			continue
		}
		ev, ok := models.DecodeEvent(ride.Event, events[ride.Event])
		if !ok {
			continue
		}

		switch ride.Status {
		case models.RideRequested:
			_, queued := ev.Queue[rideID]
			_, active := ev.ActiveRides[rideID]
			if queued || active {
				continue
			}
			// Queue pop committed but the companion write never ran, so
			// the claiming driver is unknown. Put the ride back in line.
			err := r.Store.Update(ctx, map[string]any{
				models.EventQueueEntryPath(ev.ID, rideID): ride.Rider,
			})
			if err != nil {
				return repairs, err
			}
			observability.ReconcilerRepairs.Inc()
			r.Log.Warn("re-enqueued orphaned ride request", "event", ev.ID, "ride", rideID)
			repairs++
		case models.RideClaimed:
			if _, active := ev.ActiveRides[rideID]; active || ride.Driver == "" {
				continue
			}
			err := r.Store.Update(ctx, map[string]any{
				models.EventActiveRidePath(ev.ID, rideID):  ride.Driver,
				models.UserDrivePath(ride.Driver, rideID):  ev.ID,
				models.EventQueueEntryPath(ev.ID, rideID):  nil,
			})
			if err != nil {
				return repairs, err
			}
			observability.ReconcilerRepairs.Inc()
			r.Log.Warn("restored missing active ride entry", "event", ev.ID, "ride", rideID)
			repairs++
		}
	}
	return repairs, nil
}

func (r *Reconciler) repairActiveRide(ctx context.Context, ev models.Event, rideID models.RideID, driverUID models.UserUID) (int, error) {
	raw, err := r.Store.Get(ctx, models.RidePath(rideID))
	if err != nil {
		return 0, err
	}
	ride, present := models.DecodeRide(rideID, raw)

	if !present {
		// Stale active entry for a deleted ride.
		err := r.Store.Update(ctx, map[string]any{
			models.EventActiveRidePath(ev.ID, rideID): nil,
			models.UserDrivePath(driverUID, rideID):   nil,
		})
		if err != nil {
			return 0, err
		}
		observability.ReconcilerRepairs.Inc()
		r.Log.Warn("removed stale active ride", "event", ev.ID, "ride", rideID)
		return 1, nil
	}

	if ride.Status == models.RideRequested {
		// The queue pop won but the companion write never landed. Finish
		// the claim forward; the queue entry may also still be there.
		err := r.Store.Update(ctx, map[string]any{
			models.RideStatusPath(rideID):               int(models.RideClaimed),
			models.RideDriverPath(rideID):               driverUID,
			models.UserDrivePath(driverUID, rideID):     ev.ID,
			models.EventQueueEntryPath(ev.ID, rideID):   nil,
		})
		if err != nil {
			return 0, err
		}
		observability.ReconcilerRepairs.Inc()
		r.Log.Warn("completed interrupted claim", "event", ev.ID, "ride", rideID, "driver", driverUID)
		return 1, nil
	}

	return 0, nil
}
