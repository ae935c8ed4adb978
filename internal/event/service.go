// Package event covers event creation, owner-gated visibility toggles,
// and the declared-but-unimplemented delete.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/dede-rides/internal/ingest"
	"github.com/example/dede-rides/internal/models"
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

// Create mints an event and records it under the owner's ownedEvents in
// one batch. Owner and name are immutable afterwards.
func (s *Service) Create(ctx context.Context, ownerUID models.UserUID, name, location string) (models.EventID, error) {
	if name == "" {
		return "", fmt.Errorf("create event: empty name: %w", models.ErrPreconditionViolated)
	}
	eventID := store.NewID()
	err := s.Store.Update(ctx, map[string]any{
		models.EventPath(eventID): map[string]any{
			"name":     name,
			"location": location,
			"owner":    ownerUID,
			"disabled": false,
		},
		models.UserOwnedEventPath(ownerUID, eventID): name,
	})
	if err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}

	s.publish(ctx, ingest.Event{Type: ingest.TypeEventCreated, EventID: eventID, Actor: ownerUID})
	s.Log.Info("event created", "event", eventID, "owner", ownerUID, "name", name)
	return eventID, nil
}

// Disable hides the event from non-owners. Owner-only.
func (s *Service) Disable(ctx context.Context, eventID models.EventID, actorUID models.UserUID) error {
	if err := s.requireOwner(ctx, eventID, actorUID); err != nil {
		return err
	}
	err := s.Store.Update(ctx, map[string]any{models.EventDisabledPath(eventID): true})
	if err != nil {
		return fmt.Errorf("disable event: %w", err)
	}
	s.publish(ctx, ingest.Event{Type: ingest.TypeEventDisabled, EventID: eventID, Actor: actorUID})
	s.Log.Info("event disabled", "event", eventID)
	return nil
}

// Enable reverses Disable. Owner-only.
func (s *Service) Enable(ctx context.Context, eventID models.EventID, actorUID models.UserUID) error {
	if err := s.requireOwner(ctx, eventID, actorUID); err != nil {
		return err
	}
	err := s.Store.Update(ctx, map[string]any{models.EventDisabledPath(eventID): false})
	if err != nil {
		return fmt.Errorf("enable event: %w", err)
	}
	s.publish(ctx, ingest.Event{Type: ingest.TypeEventEnabled, EventID: eventID, Actor: actorUID})
	s.Log.Info("event enabled", "event", eventID)
	return nil
}

// Delete verifies ownership and then reports ErrNotImplemented. What
// should happen to outstanding queue entries and active rides of a
// deleted event has never been decided, so the operation must not look
// like a success.
func (s *Service) Delete(ctx context.Context, eventID models.EventID, actorUID models.UserUID) error {
	if err := s.requireOwner(ctx, eventID, actorUID); err != nil {
		return err
	}
	return fmt.Errorf("delete event %s: %w", eventID, models.ErrNotImplemented)
}

func (s *Service) requireOwner(ctx context.Context, eventID models.EventID, actorUID models.UserUID) error {
	raw, err := s.Store.Get(ctx, models.EventOwnerPath(eventID))
	if err != nil {
		return err
	}
	owner := models.AsString(raw)
	if owner == "" {
		return fmt.Errorf("event %s: %w", eventID, models.ErrNotFound)
	}
	if owner != actorUID {
		return fmt.Errorf("event %s: %s is not the owner: %w", eventID, actorUID, models.ErrPreconditionViolated)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev ingest.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.Log.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}
