package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/dede-rides/internal/models"
	"github.com/example/dede-rides/internal/store"
)

func dialStream(t *testing.T, handler http.HandlerFunc) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// attachClient dials a fresh connection and hands back the client side
// plus the server-side detach func.
func attachClient(t *testing.T, stream *EventStream, eventID string) (*websocket.Conn, func()) {
	t.Helper()
	detachCh := make(chan func(), 1)
	conn := dialStream(t, func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		detach, err := stream.Attach(eventID, c)
		if err != nil {
			t.Errorf("attach: %v", err)
			return
		}
		detachCh <- detach
	})
	select {
	case detach := <-detachCh:
		return conn, detach
	case <-time.After(2 * time.Second):
		t.Fatal("attach timed out")
		return nil, nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestEventStreamSnapshotAndChanges(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.Update(ctx, map[string]any{
		models.EventPath("e1"): map[string]any{
			"name":     "Formal",
			"location": "Union Hall",
			"owner":    "owner",
			"disabled": false,
		},
	})
	stream := NewEventStream(st)

	conn, detach := attachClient(t, stream, "e1")

	f := readFrame(t, conn)
	if f.Field != "snapshot" || f.Event.Name != "Formal" {
		t.Fatalf("frame = %+v", f)
	}

	_ = st.Update(ctx, map[string]any{models.EventQueueEntryPath("e1", "r1"): "riderR"})
	f = readFrame(t, conn)
	if f.Field != "event.queue" || f.Event.Queue["r1"] != "riderR" {
		t.Fatalf("frame = %+v", f)
	}

	_ = st.Update(ctx, map[string]any{models.EventDisabledPath("e1"): true})
	f = readFrame(t, conn)
	if f.Field != "event.disabled" || !f.Event.Disabled {
		t.Fatalf("frame = %+v", f)
	}

	detach()
	// Last client gone: the repo is closed and changes stop flowing.
	_ = st.Update(ctx, map[string]any{models.EventNamePath("e1"): "Renamed"})
}

func TestEventStreamSharesOneRepo(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.Update(ctx, map[string]any{models.EventNamePath("e1"): "Formal"})
	stream := NewEventStream(st)

	attach := func() (*websocket.Conn, func()) {
		conn, detach := attachClient(t, stream, "e1")
		readFrame(t, conn) // snapshot
		return conn, detach
	}

	conn1, detach1 := attach()
	conn2, detach2 := attach()
	defer detach2()

	stream.mu.Lock()
	watched := len(stream.watched)
	stream.mu.Unlock()
	if watched != 1 {
		t.Fatalf("watched = %d, want 1 shared repo", watched)
	}

	_ = st.Update(ctx, map[string]any{models.EventDisabledPath("e1"): true})
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		f := readFrame(t, conn)
		if f.Field != "event.disabled" {
			t.Fatalf("frame = %+v", f)
		}
	}

	detach1()
	stream.mu.Lock()
	watched = len(stream.watched)
	stream.mu.Unlock()
	if watched != 1 {
		t.Fatalf("watched = %d after one detach", watched)
	}
}
