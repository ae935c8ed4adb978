package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/dede-rides/internal/event"
	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/notify"
	"github.com/example/dede-rides/internal/offers"
	"github.com/example/dede-rides/internal/queue"
	"github.com/example/dede-rides/internal/repo"
	"github.com/example/dede-rides/internal/store"
)

// Identity headers. Sign-in itself is external; the proxy in front of
// this service resolves the session and forwards who is calling.
const (
	headerUserUID     = "X-User-UID"
	headerDisplayName = "X-Display-Name"
)

type Server struct {
	store  store.Store
	coord  *queue.Coordinator
	offers *offers.Service
	events *event.Service
	stream *notify.EventStream
	users  *notify.UserStream
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(st store.Store, coord *queue.Coordinator, off *offers.Service, ev *event.Service, stream *notify.EventStream, users *notify.UserStream, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: st, coord: coord, offers: off, events: ev, stream: stream, users: users, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/events", s.handleCreateEvent).Methods("POST")
	api.HandleFunc("/events/{id}", s.handleGetEvent).Methods("GET")
	api.HandleFunc("/events/{id}", s.handleDeleteEvent).Methods("DELETE")
	api.HandleFunc("/events/{id}/disable", s.handleDisableEvent).Methods("POST")
	api.HandleFunc("/events/{id}/enable", s.handleEnableEvent).Methods("POST")

	api.HandleFunc("/events/{id}/queue", s.handleRequestRide).Methods("POST")
	api.HandleFunc("/events/{id}/queue/claim", s.handleClaimNext).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleCancelRide).Methods("DELETE")
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteRide).Methods("POST")

	api.HandleFunc("/events/{id}/offers", s.handleOfferToDrive).Methods("POST")
	api.HandleFunc("/events/{id}/offers/{uid}", s.handleRemoveOffer).Methods("DELETE")
	api.HandleFunc("/events/{id}/offers/{uid}/accept", s.handleAcceptOffer).Methods("POST")
	api.HandleFunc("/events/{id}/drivers", s.handleAddDriver).Methods("POST")
	api.HandleFunc("/events/{id}/drivers/{uid}", s.handleRemoveDriver).Methods("DELETE")

	api.HandleFunc("/users/me", s.handleGetMe).Methods("GET")
	api.HandleFunc("/users/me/saved/{id}", s.handleSaveEvent).Methods("PUT")
	api.HandleFunc("/users/me/saved/{id}", s.handleUnsaveEvent).Methods("DELETE")

	s.mux.HandleFunc("/ws/events/{id}", s.handleWatchEvent)
	s.mux.HandleFunc("/ws/users/me", s.handleWatchUser)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// identity pulls the forwarded caller out of the request, upserting the
// user record on first contact.
func (s *Server) identity(r *http.Request) (uid models.UserUID, ok bool) {
	uid = r.Header.Get(headerUserUID)
	if uid == "" {
		return "", false
	}
	if name := r.Header.Get(headerDisplayName); name != "" {
		if err := repo.EnsureUser(r.Context(), s.store, uid, name); err != nil {
			s.logger.Warn("user upsert failed", "uid", uid, "error", err)
		}
	}
	return uid, true
}

func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (models.UserUID, bool) {
	uid, ok := s.identity(r)
	if !ok {
		http.Error(w, "missing "+headerUserUID, http.StatusUnauthorized)
	}
	return uid, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrPreconditionViolated):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrNotImplemented):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	var body struct {
		Name     string `json:"name"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	eventID, err := s.events.Create(r.Context(), uid, body.Name, body.Location)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"event_id": eventID})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["id"]
	raw, err := s.store.Get(r.Context(), models.EventPath(eventID))
	if err != nil {
		writeOpError(w, err)
		return
	}
	ev, ok := models.DecodeEvent(eventID, raw)
	if !ok {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	err := s.events.Delete(r.Context(), mux.Vars(r)["id"], uid)
	writeOpError(w, err)
}

func (s *Server) handleDisableEvent(w http.ResponseWriter, r *http.Request) {
	s.handleVisibility(w, r, s.events.Disable)
}

func (s *Server) handleEnableEvent(w http.ResponseWriter, r *http.Request) {
	s.handleVisibility(w, r, s.events.Enable)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, op func(context.Context, models.EventID, models.UserUID) error) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), mux.Vars(r)["id"], uid); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	var body struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	var loc *queue.RideLocation
	if body.Latitude != nil && body.Longitude != nil {
		loc = &queue.RideLocation{Latitude: *body.Latitude, Longitude: *body.Longitude}
	}
	rideID, err := s.coord.RequestRide(r.Context(), mux.Vars(r)["id"], uid, loc)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ride_id": rideID})
}

func (s *Server) handleClaimNext(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	rideID, claimed, err := s.coord.TakeNextInQueue(r.Context(), mux.Vars(r)["id"], uid)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if !claimed {
		http.Error(w, "no ride available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ride_id": rideID})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	raw, err := s.store.Get(r.Context(), models.RidePath(rideID))
	if err != nil {
		writeOpError(w, err)
		return
	}
	ride, ok := models.DecodeRide(rideID, raw)
	if !ok {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	if err := s.coord.CancelRideRequest(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	if err := s.coord.EndActiveRide(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOfferToDrive(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	name := r.Header.Get(headerDisplayName)
	if name == "" {
		http.Error(w, "missing "+headerDisplayName, http.StatusBadRequest)
		return
	}
	if err := s.offers.OfferToDrive(r.Context(), mux.Vars(r)["id"], uid, name); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveOffer is both withdraw (driver removing their own pending
// offer) and reject (owner declining someone else's).
func (s *Server) handleRemoveOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	var err error
	if vars["uid"] == uid {
		err = s.offers.WithdrawOffer(r.Context(), vars["id"], uid)
	} else {
		err = s.offers.RejectOffer(r.Context(), vars["id"], uid, vars["uid"])
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := s.offers.AcceptOffer(r.Context(), vars["id"], uid, vars["uid"]); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddDriver(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	var body struct {
		UID         string `json:"uid"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.offers.AddDriver(r.Context(), mux.Vars(r)["id"], body.UID, body.DisplayName); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveDriver(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	vars := mux.Vars(r)
	if err := s.offers.RemoveDriver(r.Context(), vars["id"], vars["uid"]); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	raw, err := s.store.Get(r.Context(), models.UserPath(uid))
	if err != nil {
		writeOpError(w, err)
		return
	}
	user, present := models.DecodeUser(uid, raw)
	if !present {
		user = models.User{UID: uid}
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSaveEvent(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	eventID := mux.Vars(r)["id"]
	raw, err := s.store.Get(r.Context(), models.EventNamePath(eventID))
	if err != nil {
		writeOpError(w, err)
		return
	}
	name := models.AsString(raw)
	if name == "" {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	err = s.store.Update(r.Context(), map[string]any{
		models.UserSavedEventPath(uid, eventID): name,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsaveEvent(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	err := s.store.Update(r.Context(), map[string]any{
		models.UserSavedEventPath(uid, mux.Vars(r)["id"]): nil,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWatchEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	detach, err := s.stream.Attach(eventID, conn)
	if err != nil {
		conn.Close()
		return
	}
	go readUntilClosed(conn, detach)
}

func (s *Server) handleWatchUser(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	detach, err := s.users.Attach(uid, conn)
	if err != nil {
		conn.Close()
		return
	}
	go readUntilClosed(conn, detach)
}

// readUntilClosed exists only to notice the client going away.
func readUntilClosed(conn *websocket.Conn, detach func()) {
	defer detach()
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
