package models

// Builders for the persisted-state path contract. Keeping every path
// literal here is what lets the coordinator compose multi-path batches
// without scattering the layout across packages.

func UserPath(uid UserUID) string             { return "users/" + uid }
func UserDisplayNamePath(uid UserUID) string  { return "users/" + uid + "/displayName" }
func UserOwnedEventsPath(uid UserUID) string  { return "users/" + uid + "/ownedEvents" }
func UserRidesPath(uid UserUID) string        { return "users/" + uid + "/rides" }
func UserDrivesForPath(uid UserUID) string    { return "users/" + uid + "/drivesFor" }
func UserDrivesPath(uid UserUID) string       { return "users/" + uid + "/drives" }
func UserSavedEventsPath(uid UserUID) string  { return "users/" + uid + "/savedEvents" }

func UserOwnedEventPath(uid UserUID, e EventID) string { return UserOwnedEventsPath(uid) + "/" + e }
func UserRidePath(uid UserUID, r RideID) string        { return UserRidesPath(uid) + "/" + r }
func UserDrivesForEventPath(uid UserUID, e EventID) string {
	return UserDrivesForPath(uid) + "/" + e
}
func UserDrivePath(uid UserUID, r RideID) string       { return UserDrivesPath(uid) + "/" + r }
func UserSavedEventPath(uid UserUID, e EventID) string { return UserSavedEventsPath(uid) + "/" + e }

func EventPath(e EventID) string               { return "events/" + e }
func EventNamePath(e EventID) string           { return "events/" + e + "/name" }
func EventLocationPath(e EventID) string       { return "events/" + e + "/location" }
func EventOwnerPath(e EventID) string          { return "events/" + e + "/owner" }
func EventDisabledPath(e EventID) string       { return "events/" + e + "/disabled" }
func EventQueuePath(e EventID) string          { return "events/" + e + "/queue" }
func EventActiveRidesPath(e EventID) string    { return "events/" + e + "/activeRides" }
func EventDriversPath(e EventID) string        { return "events/" + e + "/drivers" }
func EventPendingDriversPath(e EventID) string { return "events/" + e + "/pendingDrivers" }

func EventQueueEntryPath(e EventID, r RideID) string   { return EventQueuePath(e) + "/" + r }
func EventActiveRidePath(e EventID, r RideID) string   { return EventActiveRidesPath(e) + "/" + r }
func EventDriverPath(e EventID, uid UserUID) string    { return EventDriversPath(e) + "/" + uid }
func EventPendingDriverPath(e EventID, uid UserUID) string {
	return EventPendingDriversPath(e) + "/" + uid
}

func RidePath(r RideID) string          { return "rides/" + r }
func RideEventPath(r RideID) string     { return "rides/" + r + "/event" }
func RideRiderPath(r RideID) string     { return "rides/" + r + "/rider" }
func RideDriverPath(r RideID) string    { return "rides/" + r + "/driver" }
func RideStatusPath(r RideID) string    { return "rides/" + r + "/status" }
func RideLatitudePath(r RideID) string  { return "rides/" + r + "/latitude" }
func RideLongitudePath(r RideID) string { return "rides/" + r + "/longitude" }
