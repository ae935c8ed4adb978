package repo

import (
	"sync"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/store"
)

// Watched event fields.
const (
	EventFieldName           Field = "event.name"
	EventFieldLocation       Field = "event.location"
	EventFieldOwner          Field = "event.owner"
	EventFieldDisabled       Field = "event.disabled"
	EventFieldQueue          Field = "event.queue"
	EventFieldActiveRides    Field = "event.activeRides"
	EventFieldDrivers        Field = "event.drivers"
	EventFieldPendingDrivers Field = "event.pendingDrivers"
)

// EventRepo is a live projection of one /events/{id} subtree. It never
// writes; every mutation goes through the coordinator or the lifecycle
// services so the invariants stay centralized.
type EventRepo struct {
	notifier

	EventID models.EventID

	mu             sync.RWMutex
	name           string
	location       string
	owner          models.UserUID
	disabled       bool
	queue          map[models.RideID]models.UserUID
	activeRides    map[models.RideID]models.UserUID
	drivers        map[models.UserUID]models.UserDisplayName
	pendingDrivers map[models.UserUID]models.UserDisplayName

	cancels []func()
}

// OpenEvent begins tracking eventID. The projection is populated before
// OpenEvent returns; a missing subtree yields empty fields, not an error.
func OpenEvent(st store.Store, eventID models.EventID) (*EventRepo, error) {
	r := &EventRepo{EventID: eventID}

	watch := []struct {
		path  string
		field Field
		apply func(any)
	}{
		{models.EventNamePath(eventID), EventFieldName, func(v any) { r.name = models.AsString(v) }},
		{models.EventLocationPath(eventID), EventFieldLocation, func(v any) { r.location = models.AsString(v) }},
		{models.EventOwnerPath(eventID), EventFieldOwner, func(v any) { r.owner = models.AsString(v) }},
		{models.EventDisabledPath(eventID), EventFieldDisabled, func(v any) { r.disabled = models.AsBool(v) }},
		{models.EventQueuePath(eventID), EventFieldQueue, func(v any) { r.queue = models.AsStringMap(v) }},
		{models.EventActiveRidesPath(eventID), EventFieldActiveRides, func(v any) { r.activeRides = models.AsStringMap(v) }},
		{models.EventDriversPath(eventID), EventFieldDrivers, func(v any) { r.drivers = models.AsStringMap(v) }},
		{models.EventPendingDriversPath(eventID), EventFieldPendingDrivers, func(v any) { r.pendingDrivers = models.AsStringMap(v) }},
	}
	for _, w := range watch {
		w := w
		cancel, err := st.Subscribe(w.path, func(v any) {
			r.mu.Lock()
			w.apply(v)
			r.mu.Unlock()
			r.emit(w.field)
		})
		if err != nil {
			r.Close()
			return nil, err
		}
		r.cancels = append(r.cancels, cancel)
	}
	return r, nil
}

// Close detaches every store subscription.
func (r *EventRepo) Close() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
}

func (r *EventRepo) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

func (r *EventRepo) Location() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.location
}

func (r *EventRepo) Owner() models.UserUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

func (r *EventRepo) Disabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled
}

func (r *EventRepo) Queue() map[models.RideID]models.UserUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.queue)
}

func (r *EventRepo) ActiveRides() map[models.RideID]models.UserUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.activeRides)
}

func (r *EventRepo) Drivers() map[models.UserUID]models.UserDisplayName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.drivers)
}

func (r *EventRepo) PendingDrivers() map[models.UserUID]models.UserDisplayName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.pendingDrivers)
}

// PendingDriverCount is derived; no separate counter is stored.
func (r *EventRepo) PendingDriverCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pendingDrivers)
}

// Snapshot assembles the current projection as a value.
func (r *EventRepo) Snapshot() models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.Event{
		ID:             r.EventID,
		Name:           r.name,
		Location:       r.location,
		Owner:          r.owner,
		Disabled:       r.disabled,
		Queue:          copyMap(r.queue),
		ActiveRides:    copyMap(r.activeRides),
		Drivers:        copyMap(r.drivers),
		PendingDrivers: copyMap(r.pendingDrivers),
	}
}
