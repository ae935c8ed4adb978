package models

import "testing"

func TestDecodeRideToleratesShapes(t *testing.T) {
	// JSON-roundtripping backends deliver status as float64.
	ride, ok := DecodeRide("r1", map[string]any{
		"status": float64(1),
		"rider":  "riderR",
		"driver": "driverD",
		"event":  "e1",
	})
	if !ok {
		t.Fatal("decode failed")
	}
	if ride.Status != RideClaimed || ride.Driver != "driverD" {
		t.Fatalf("ride = %+v", ride)
	}

	if _, ok := DecodeRide("r1", nil); ok {
		t.Fatal("decoded absent subtree")
	}
	if _, ok := DecodeRide("r1", "garbage"); ok {
		t.Fatal("decoded scalar subtree")
	}
}

func TestDecodeRideSkipsWrongLeafTypes(t *testing.T) {
	ride, ok := DecodeRide("r1", map[string]any{
		"status":   "claimed", // wrong type, defaults to Requested
		"rider":    42,        // wrong type, defaults to empty
		"event":    "e1",
		"latitude": "nowhere",
	})
	if !ok {
		t.Fatal("decode failed")
	}
	if ride.Status != RideRequested || ride.Rider != "" || ride.Latitude != nil {
		t.Fatalf("ride = %+v", ride)
	}
}

func TestDecodeEventDefaultsToEmptyMaps(t *testing.T) {
	ev, ok := DecodeEvent("e1", map[string]any{"name": "Formal"})
	if !ok {
		t.Fatal("decode failed")
	}
	if ev.Queue == nil || ev.Drivers == nil || len(ev.Queue) != 0 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRideStatusString(t *testing.T) {
	cases := map[RideStatus]string{
		RideRequested: "requested",
		RideClaimed:   "claimed",
		RideStatus(7): "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("String(%d) = %q, want %q", int(status), got, want)
		}
	}
}
