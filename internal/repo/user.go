package repo

import (
	"context"
	"sync"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/store"
)

// Watched user fields.
const (
	UserFieldDisplayName Field = "user.displayName"
	UserFieldOwnedEvents Field = "user.ownedEvents"
	UserFieldRides       Field = "user.rides"
	UserFieldDrivesFor   Field = "user.drivesFor"
	UserFieldDrives      Field = "user.drives"
	UserFieldSavedEvents Field = "user.savedEvents"
)

// TopicSubscriber is the push-notification collaborator, keyed by event
// id. A user subscribes on becoming a driver for an event and unsubscribes
// on losing the relationship.
type TopicSubscriber interface {
	Subscribe(eventID models.EventID) error
	Unsubscribe(eventID models.EventID) error
}

// UserRepo is a live projection of one /users/{uid} subtree. Besides the
// two sanctioned write conveniences (EnsureUser, saved-event toggle) it
// never mutates the store.
type UserRepo struct {
	notifier

	UID models.UserUID

	st     store.Store
	topics TopicSubscriber

	mu          sync.RWMutex
	displayName string
	ownedEvents map[models.EventID]models.EventName
	rides       map[models.RideID]models.EventName
	drivesFor   map[models.EventID]models.EventName
	drives      map[models.RideID]models.EventID
	savedEvents map[models.EventID]models.EventName
	subscribed  []models.EventID

	cancels []func()
}

// OpenUser begins tracking uid. topics may be nil when push notifications
// are not wired.
func OpenUser(st store.Store, uid models.UserUID, topics TopicSubscriber) (*UserRepo, error) {
	r := &UserRepo{UID: uid, st: st, topics: topics}

	watch := []struct {
		path  string
		field Field
		apply func(any)
	}{
		{models.UserDisplayNamePath(uid), UserFieldDisplayName, func(v any) { r.displayName = models.AsString(v) }},
		{models.UserOwnedEventsPath(uid), UserFieldOwnedEvents, func(v any) { r.ownedEvents = models.AsStringMap(v) }},
		{models.UserRidesPath(uid), UserFieldRides, func(v any) { r.rides = models.AsStringMap(v) }},
		{models.UserDrivesForPath(uid), UserFieldDrivesFor, func(v any) { r.applyDrivesFor(v) }},
		{models.UserDrivesPath(uid), UserFieldDrives, func(v any) { r.drives = models.AsStringMap(v) }},
		{models.UserSavedEventsPath(uid), UserFieldSavedEvents, func(v any) { r.savedEvents = models.AsStringMap(v) }},
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

// applyDrivesFor refreshes the projection and re-syncs the push-topic
// subscriptions with the new driver relationships. Called with r.mu held.
func (r *UserRepo) applyDrivesFor(v any) {
	if r.topics != nil {
		for _, eventID := range r.subscribed {
			_ = r.topics.Unsubscribe(eventID)
		}
	}
	r.subscribed = r.subscribed[:0]
	r.drivesFor = models.AsStringMap(v)
	if r.topics != nil {
		for eventID := range r.drivesFor {
			_ = r.topics.Subscribe(eventID)
			r.subscribed = append(r.subscribed, eventID)
		}
	}
}

// Close detaches every store subscription and drops topic subscriptions.
func (r *UserRepo) Close() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics != nil {
		for _, eventID := range r.subscribed {
			_ = r.topics.Unsubscribe(eventID)
		}
	}
	r.subscribed = nil
}

// EnsureUser upserts the user record on first sign-in: an existing record
// is never overwritten, only a missing one gets its display name set.
func EnsureUser(ctx context.Context, st store.Store, uid models.UserUID, displayName models.UserDisplayName) error {
	return st.Transact(ctx, models.UserPath(uid), func(current any) (any, error) {
		if _, exists := current.(map[string]any); exists {
			return current, nil
		}
		if displayName == "" {
			return current, nil
		}
		return map[string]any{"displayName": displayName}, nil
	})
}

// SaveEvent records the event under the user's saved events. Pure
// bookkeeping, independent of ownership and event state.
func (r *UserRepo) SaveEvent(ctx context.Context, eventID models.EventID, eventName models.EventName) error {
	return r.st.Update(ctx, map[string]any{
		models.UserSavedEventPath(r.UID, eventID): eventName,
	})
}

// UnsaveEvent removes the saved-event entry; absent entries are a no-op.
func (r *UserRepo) UnsaveEvent(ctx context.Context, eventID models.EventID) error {
	return r.st.Update(ctx, map[string]any{
		models.UserSavedEventPath(r.UID, eventID): nil,
	})
}

func (r *UserRepo) DisplayName() models.UserDisplayName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.displayName
}

func (r *UserRepo) OwnedEvents() map[models.EventID]models.EventName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.ownedEvents)
}

func (r *UserRepo) Rides() map[models.RideID]models.EventName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.rides)
}

func (r *UserRepo) DrivesFor() map[models.EventID]models.EventName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.drivesFor)
}

func (r *UserRepo) Drives() map[models.RideID]models.EventID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.drives)
}

func (r *UserRepo) SavedEvents() map[models.EventID]models.EventName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.savedEvents)
}
