package models

// Identifier aliases keep the map-heavy signatures readable. All ids are
// opaque strings minted by the store on creation, except UserUID which
// comes from the external identity provider.
type (
	EventID         = string
	RideID          = string
	UserUID         = string
	EventName       = string
	UserDisplayName = string
)

// RideStatus is the persisted ride state. The numeric values are part of
// the wire contract and must not be reordered.
type RideStatus int

const (
	RideRequested RideStatus = 0
	RideClaimed   RideStatus = 1
)

func (s RideStatus) String() string {
	switch s {
	case RideRequested:
		return "requested"
	case RideClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// User mirrors /users/{uid}.
type User struct {
	UID         UserUID
	DisplayName UserDisplayName
	OwnedEvents map[EventID]EventName
	Rides       map[RideID]EventName
	DrivesFor   map[EventID]EventName
	Drives      map[RideID]EventID
	SavedEvents map[EventID]EventName
}

// Event mirrors /events/{eventId}. Queue keys are creation-ordered; the
// head of the queue is the minimum key.
type Event struct {
	ID             EventID
	Name           EventName
	Location       string
	Owner          UserUID
	Disabled       bool
	Queue          map[RideID]UserUID
	ActiveRides    map[RideID]UserUID
	Drivers        map[UserUID]UserDisplayName
	PendingDrivers map[UserUID]UserDisplayName
}

// Ride mirrors /rides/{rideId}. Latitude/Longitude hold the rider's last
// known location, advisory only, never consumed by the protocol.
type Ride struct {
	ID        RideID
	Event     EventID
	Rider     UserUID
	Driver    UserUID
	Status    RideStatus
	Latitude  *float64
	Longitude *float64
}
