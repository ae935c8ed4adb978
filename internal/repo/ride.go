package repo

import (
	"sync"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/store"
)

// Watched ride fields. Latitude and longitude changes both surface as
// RideFieldLocation.
const (
	RideFieldEvent    Field = "ride.event"
	RideFieldRider    Field = "ride.rider"
	RideFieldDriver   Field = "ride.driver"
	RideFieldStatus   Field = "ride.status"
	RideFieldLocation Field = "ride.location"
	RideFieldRemoved  Field = "ride.removed"
)

// RideRepo is a live projection of one /rides/{id} subtree. Deletion is
// the ride's terminal state, so the repo additionally watches the whole
// subtree and flips Removed when it vanishes.
type RideRepo struct {
	notifier

	RideID models.RideID

	mu        sync.RWMutex
	event     models.EventID
	rider     models.UserUID
	driver    models.UserUID
	status    models.RideStatus
	latitude  *float64
	longitude *float64
	removed   bool

	cancels []func()
}

// OpenRide begins tracking rideID.
func OpenRide(st store.Store, rideID models.RideID) (*RideRepo, error) {
	r := &RideRepo{RideID: rideID}

	watch := []struct {
		path  string
		field Field
		apply func(any)
	}{
		{models.RideEventPath(rideID), RideFieldEvent, func(v any) { r.event = models.AsString(v) }},
		{models.RideRiderPath(rideID), RideFieldRider, func(v any) { r.rider = models.AsString(v) }},
		{models.RideDriverPath(rideID), RideFieldDriver, func(v any) { r.driver = models.AsString(v) }},
		{models.RideStatusPath(rideID), RideFieldStatus, func(v any) {
			if n, ok := models.AsInt(v); ok {
				r.status = models.RideStatus(n)
			}
		}},
		{models.RideLatitudePath(rideID), RideFieldLocation, func(v any) {
			if f, ok := models.AsFloat(v); ok {
				r.latitude = &f
			} else {
				r.latitude = nil
			}
		}},
		{models.RideLongitudePath(rideID), RideFieldLocation, func(v any) {
			if f, ok := models.AsFloat(v); ok {
				r.longitude = &f
			} else {
				r.longitude = nil
			}
		}},
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

	// Watch the whole subtree for removal. The initial delivery of a
	// never-created ride also lands here, which is the behavior we want:
	// absent is indistinguishable from deleted.
	cancel, err := st.Subscribe(models.RidePath(rideID), func(v any) {
		_, present := v.(map[string]any)
		r.mu.Lock()
		was := r.removed
		r.removed = !present
		now := r.removed
		r.mu.Unlock()
		if now && !was {
			r.emit(RideFieldRemoved)
		}
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	r.cancels = append(r.cancels, cancel)

	return r, nil
}

// Close detaches every store subscription.
func (r *RideRepo) Close() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
}

func (r *RideRepo) Event() models.EventID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.event
}

func (r *RideRepo) Rider() models.UserUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rider
}

func (r *RideRepo) Driver() models.UserUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.driver
}

func (r *RideRepo) Status() models.RideStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *RideRepo) Removed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.removed
}

// Location returns the rider's last advisory location, if any.
func (r *RideRepo) Location() (lat, lon float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latitude == nil || r.longitude == nil {
		return 0, 0, false
	}
	return *r.latitude, *r.longitude, true
}

// Snapshot assembles the current projection as a value.
func (r *RideRepo) Snapshot() models.Ride {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.Ride{
		ID:        r.RideID,
		Event:     r.event,
		Rider:     r.rider,
		Driver:    r.driver,
		Status:    r.status,
		Latitude:  r.latitude,
		Longitude: r.longitude,
	}
}
