// Package offers manages an event's driver roster: offers move through
// pending → accepted/rejected/withdrawn, and accepted drivers can later
// be removed. pendingDrivers and drivers never hold the same uid.
package offers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/dede-rides/internal/ingest"
	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/observability"
	"github.com/example/dede-rides/internal/store"
)

type Service struct {
	Store  store.Store
	Events ingest.Publisher
	Log    *slog.Logger
}

func NewService(st store.Store, events ingest.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Store: st, Events: events, Log: log}
}

// OfferToDrive moves (event, uid) from NoOffer to Pending. The offer is
// not yet binding, so only the pendingDrivers entry is written. An
// already-accepted driver cannot re-offer.
func (s *Service) OfferToDrive(ctx context.Context, eventID models.EventID, uid models.UserUID, displayName models.UserDisplayName) error {
	drivers, err := s.driverMap(ctx, models.EventDriversPath(eventID))
	if err != nil {
		return err
	}
	if _, accepted := drivers[uid]; accepted {
		return fmt.Errorf("offer to drive: %s already drives for %s: %w", uid, eventID, models.ErrPreconditionViolated)
	}

	err = s.Store.Update(ctx, map[string]any{
		models.EventPendingDriverPath(eventID, uid): displayName,
	})
	if err != nil {
		return fmt.Errorf("offer to drive: %w", err)
	}

	observability.OffersMade.Inc()
	s.publish(ctx, ingest.Event{Type: ingest.TypeOfferMade, EventID: eventID, Actor: uid})
	s.Log.Info("drive offer made", "event", eventID, "driver", uid)
	return nil
}

// WithdrawOffer moves Pending back to NoOffer. Withdrawing an absent
// offer is a no-op.
func (s *Service) WithdrawOffer(ctx context.Context, eventID models.EventID, uid models.UserUID) error {
	err := s.Store.Update(ctx, map[string]any{
		models.EventPendingDriverPath(eventID, uid): nil,
	})
	if err != nil {
		return fmt.Errorf("withdraw offer: %w", err)
	}
	s.publish(ctx, ingest.Event{Type: ingest.TypeOfferWithdrawn, EventID: eventID, Actor: uid})
	return nil
}

// AcceptOffer is the owner-only Pending → Active transition: one batch
// clears the pending entry, records the driver, and records the event
// under the driver's drivesFor.
func (s *Service) AcceptOffer(ctx context.Context, eventID models.EventID, actorUID, driverUID models.UserUID) error {
	ev, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Owner != actorUID {
		return fmt.Errorf("accept offer: %s does not own %s: %w", actorUID, eventID, models.ErrPreconditionViolated)
	}
	displayName, pending := ev.PendingDrivers[driverUID]
	if !pending {
		return fmt.Errorf("accept offer: no pending offer from %s: %w", driverUID, models.ErrPreconditionViolated)
	}

	if err := s.activate(ctx, eventID, ev.Name, driverUID, displayName); err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}

	observability.OffersAccepted.Inc()
	s.publish(ctx, ingest.Event{Type: ingest.TypeOfferAccepted, EventID: eventID, Actor: driverUID})
	s.Log.Info("drive offer accepted", "event", eventID, "driver", driverUID, "owner", actorUID)
	return nil
}

// RejectOffer is the owner-only removal of a pending offer.
func (s *Service) RejectOffer(ctx context.Context, eventID models.EventID, actorUID, driverUID models.UserUID) error {
	owner, err := s.Store.Get(ctx, models.EventOwnerPath(eventID))
	if err != nil {
		return err
	}
	if models.AsString(owner) != actorUID {
		return fmt.Errorf("reject offer: %s does not own %s: %w", actorUID, eventID, models.ErrPreconditionViolated)
	}
	err = s.Store.Update(ctx, map[string]any{
		models.EventPendingDriverPath(eventID, driverUID): nil,
	})
	if err != nil {
		return fmt.Errorf("reject offer: %w", err)
	}
	s.publish(ctx, ingest.Event{Type: ingest.TypeOfferRejected, EventID: eventID, Actor: driverUID})
	return nil
}

// RemoveDriver moves Active back to NoOffer: one batch removes the
// roster entry and the driver's drivesFor entry.
func (s *Service) RemoveDriver(ctx context.Context, eventID models.EventID, driverUID models.UserUID) error {
	err := s.Store.Update(ctx, map[string]any{
		models.EventDriverPath(eventID, driverUID):        nil,
		models.UserDrivesForEventPath(driverUID, eventID): nil,
	})
	if err != nil {
		return fmt.Errorf("remove driver: %w", err)
	}
	s.publish(ctx, ingest.Event{Type: ingest.TypeDriverRemoved, EventID: eventID, Actor: driverUID})
	s.Log.Info("driver removed", "event", eventID, "driver", driverUID)
	return nil
}

// AddDriver is the legacy direct path that skips Pending entirely. The
// batch clears any pending entry so the roster maps stay disjoint.
func (s *Service) AddDriver(ctx context.Context, eventID models.EventID, driverUID models.UserUID, displayName models.UserDisplayName) error {
	eventName, err := s.Store.Get(ctx, models.EventNamePath(eventID))
	if err != nil {
		return err
	}
	name := models.AsString(eventName)
	if name == "" {
		return fmt.Errorf("add driver: event %s: %w", eventID, models.ErrNotFound)
	}
	if err := s.activate(ctx, eventID, name, driverUID, displayName); err != nil {
		return fmt.Errorf("add driver: %w", err)
	}
	s.publish(ctx, ingest.Event{Type: ingest.TypeOfferAccepted, EventID: eventID, Actor: driverUID})
	return nil
}

func (s *Service) activate(ctx context.Context, eventID models.EventID, eventName models.EventName, driverUID models.UserUID, displayName models.UserDisplayName) error {
	return s.Store.Update(ctx, map[string]any{
		models.EventPendingDriverPath(eventID, driverUID): nil,
		models.EventDriverPath(eventID, driverUID):        displayName,
		models.UserDrivesForEventPath(driverUID, eventID): eventName,
	})
}

func (s *Service) loadEvent(ctx context.Context, eventID models.EventID) (models.Event, error) {
	raw, err := s.Store.Get(ctx, models.EventPath(eventID))
	if err != nil {
		return models.Event{}, err
	}
	ev, ok := models.DecodeEvent(eventID, raw)
	if !ok {
		return models.Event{}, fmt.Errorf("event %s: %w", eventID, models.ErrNotFound)
	}
	return ev, nil
}

func (s *Service) driverMap(ctx context.Context, path string) (map[string]string, error) {
	raw, err := s.Store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return models.AsStringMap(raw), nil
}

func (s *Service) publish(ctx context.Context, ev ingest.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.Log.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}
