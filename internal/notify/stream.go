package notify

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/repo"
	"github.com/example/dede-rides/internal/store"
)

// Frame is one websocket message: which field changed and the full event
// projection after the change.
type Frame struct {
	Field string       `json:"field"`
	Event models.Event `json:"event"`
}

// Session wraps one websocket connection with a write lock.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f)
}

func (s *Session) Close() error { return s.conn.Close() }

// EventStream fans event field changes out to connected clients. One
// EventRepo is opened per watched event while it has at least one client
// and closed when the last one leaves.
type EventStream struct {
	st store.Store

	mu      sync.Mutex
	watched map[models.EventID]*watchedEvent
}

type watchedEvent struct {
	repo     *repo.EventRepo
	handles  []repo.Handle
	sessions map[*Session]bool
}

func NewEventStream(st store.Store) *EventStream {
	return &EventStream{st: st, watched: map[models.EventID]*watchedEvent{}}
}

// Attach registers conn as a watcher of eventID and sends an initial
// snapshot frame. The returned detach func must be called when the
// connection goes away.
func (e *EventStream) Attach(eventID models.EventID, conn *websocket.Conn) (detach func(), err error) {
	sess := &Session{conn: conn}

	e.mu.Lock()
	w := e.watched[eventID]
	if w == nil {
		r, err := repo.OpenEvent(e.st, eventID)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		w = &watchedEvent{repo: r, sessions: map[*Session]bool{}}
		for _, field := range []repo.Field{
			repo.EventFieldName, repo.EventFieldLocation, repo.EventFieldOwner,
			repo.EventFieldDisabled, repo.EventFieldQueue, repo.EventFieldActiveRides,
			repo.EventFieldDrivers, repo.EventFieldPendingDrivers,
		} {
			field := field
			w.handles = append(w.handles, r.Watch(field, func() {
				e.broadcast(eventID, Frame{Field: string(field), Event: r.Snapshot()})
			}))
		}
		e.watched[eventID] = w
	}
	w.sessions[sess] = true
	snapshot := w.repo.Snapshot()
	e.mu.Unlock()

	_ = sess.send(Frame{Field: "snapshot", Event: snapshot})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		cur := e.watched[eventID]
		if cur == nil {
			return
		}
		delete(cur.sessions, sess)
		if len(cur.sessions) == 0 {
			for _, h := range cur.handles {
				cur.repo.Unwatch(h)
			}
			cur.repo.Close()
			delete(e.watched, eventID)
		}
	}, nil
}

func (e *EventStream) broadcast(eventID models.EventID, f Frame) {
	e.mu.Lock()
	w := e.watched[eventID]
	if w == nil {
		e.mu.Unlock()
		return
	}
	sessions := make([]*Session, 0, len(w.sessions))
	for s := range w.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		if err := s.send(f); err != nil {
			// dead connection; the read loop's detach cleans it up
			_ = s.Close()
		}
	}
}
