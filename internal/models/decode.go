package models

// Tolerant decoders for raw store values. The store hands back untyped
// trees; every projection boundary runs them through exactly one of these,
// defaulting to empty/zero on a shape mismatch rather than failing.

// AsStringMap decodes a subtree of string leaves. Anything that is not a
// map yields an empty map; non-string leaves are skipped.
func AsStringMap(v any) map[string]string {
	out := map[string]string{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, raw := range m {
		if s, ok := raw.(string); ok {
			out[k] = s
		}
	}
	return out
}

// AsString decodes a string leaf, empty on mismatch.
func AsString(v any) string {
	s, _ := v.(string)
	return s
}

// AsBool decodes a bool leaf, false on mismatch.
func AsBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// AsInt decodes an integer leaf. JSON-roundtripping backends deliver
// numbers as float64, so both shapes are accepted.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// AsFloat decodes a double leaf.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// DecodeRide assembles a Ride from the raw /rides/{id} subtree. Returns
// false when the subtree is absent (deleted or never created).
func DecodeRide(id RideID, v any) (Ride, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Ride{}, false
	}
	r := Ride{
		ID:     id,
		Event:  AsString(m["event"]),
		Rider:  AsString(m["rider"]),
		Driver: AsString(m["driver"]),
	}
	if n, ok := AsInt(m["status"]); ok {
		r.Status = RideStatus(n)
	}
	if f, ok := AsFloat(m["latitude"]); ok {
		r.Latitude = &f
	}
	if f, ok := AsFloat(m["longitude"]); ok {
		r.Longitude = &f
	}
	return r, true
}

// DecodeEvent assembles an Event from the raw /events/{id} subtree.
func DecodeEvent(id EventID, v any) (Event, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Event{}, false
	}
	return Event{
		ID:             id,
		Name:           AsString(m["name"]),
		Location:       AsString(m["location"]),
		Owner:          AsString(m["owner"]),
		Disabled:       AsBool(m["disabled"]),
		Queue:          AsStringMap(m["queue"]),
		ActiveRides:    AsStringMap(m["activeRides"]),
		Drivers:        AsStringMap(m["drivers"]),
		PendingDrivers: AsStringMap(m["pendingDrivers"]),
	}, true
}

// DecodeUser assembles a User from the raw /users/{uid} subtree.
func DecodeUser(uid UserUID, v any) (User, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return User{}, false
	}
	return User{
		UID:         uid,
		DisplayName: AsString(m["displayName"]),
		OwnedEvents: AsStringMap(m["ownedEvents"]),
		Rides:       AsStringMap(m["rides"]),
		DrivesFor:   AsStringMap(m["drivesFor"]),
		Drives:      AsStringMap(m["drives"]),
		SavedEvents: AsStringMap(m["savedEvents"]),
	}, true
}
