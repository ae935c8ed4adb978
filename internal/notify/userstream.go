package notify

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/repo"
	"github.com/example/dede-rides/internal/store"
)

// UserFrame is one websocket message on a user watch: which field changed
// and the affected projection maps.
type UserFrame struct {
	Field       string                       `json:"field"`
	DisplayName string                       `json:"display_name"`
	OwnedEvents map[string]string            `json:"owned_events"`
	Rides       map[string]string            `json:"rides"`
	DrivesFor   map[string]string            `json:"drives_for"`
	Drives      map[string]string            `json:"drives"`
	SavedEvents map[string]string            `json:"saved_events"`
}

// UserStream fans user field changes out to that user's connected
// devices. While a user has at least one watcher their UserRepo is open,
// which also keeps their push-topic subscriptions in sync with drivesFor.
type UserStream struct {
	st     store.Store
	topics repo.TopicSubscriber

	mu      sync.Mutex
	watched map[models.UserUID]*watchedUser
}

type watchedUser struct {
	repo     *repo.UserRepo
	handles  []repo.Handle
	sessions map[*Session]bool
}

func NewUserStream(st store.Store, topics repo.TopicSubscriber) *UserStream {
	return &UserStream{st: st, topics: topics, watched: map[models.UserUID]*watchedUser{}}
}

func (u *UserStream) Attach(uid models.UserUID, conn *websocket.Conn) (detach func(), err error) {
	sess := &Session{conn: conn}

	u.mu.Lock()
	w := u.watched[uid]
	if w == nil {
		r, err := repo.OpenUser(u.st, uid, u.topics)
		if err != nil {
			u.mu.Unlock()
			return nil, err
		}
		w = &watchedUser{repo: r, sessions: map[*Session]bool{}}
		for _, field := range []repo.Field{
			repo.UserFieldDisplayName, repo.UserFieldOwnedEvents, repo.UserFieldRides,
			repo.UserFieldDrivesFor, repo.UserFieldDrives, repo.UserFieldSavedEvents,
		} {
			field := field
			w.handles = append(w.handles, r.Watch(field, func() {
				u.broadcast(uid, userFrame(string(field), r))
			}))
		}
		u.watched[uid] = w
	}
	w.sessions[sess] = true
	frame := userFrame("snapshot", w.repo)
	u.mu.Unlock()

	_ = sess.sendUser(frame)

	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		cur := u.watched[uid]
		if cur == nil {
			return
		}
		delete(cur.sessions, sess)
		if len(cur.sessions) == 0 {
			for _, h := range cur.handles {
				cur.repo.Unwatch(h)
			}
			cur.repo.Close()
			delete(u.watched, uid)
		}
	}, nil
}

func (u *UserStream) broadcast(uid models.UserUID, f UserFrame) {
	u.mu.Lock()
	w := u.watched[uid]
	if w == nil {
		u.mu.Unlock()
		return
	}
	sessions := make([]*Session, 0, len(w.sessions))
	for s := range w.sessions {
		sessions = append(sessions, s)
	}
	u.mu.Unlock()

	for _, s := range sessions {
		if err := s.sendUser(f); err != nil {
			_ = s.Close()
		}
	}
}

func (s *Session) sendUser(f UserFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f)
}

func userFrame(field string, r *repo.UserRepo) UserFrame {
	return UserFrame{
		Field:       field,
		DisplayName: r.DisplayName(),
		OwnedEvents: r.OwnedEvents(),
		Rides:       r.Rides(),
		DrivesFor:   r.DrivesFor(),
		Drives:      r.Drives(),
		SavedEvents: r.SavedEvents(),
	}
}
