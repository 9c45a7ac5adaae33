package gateway

import (
	"encoding/json"
	"sync"

	"github.com/codeduel/backend/internal/hub"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
)

// session is one authenticated duplex connection. A user may hold
// several concurrent sessions (multi-tab); the hub tracks that
// multi-index, this struct only owns the wire plumbing for one
// connection.
type session struct {
	id     string
	userID string
	handle string
	conn   *websocket.Conn

	box outboxReader

	subscribedMu sync.Mutex
	subscribed   map[string]struct{}

	checkGroup singleflight.Group
}

// outboxReader is the narrow view of hub.Hub's per-session mailbox
// handle that the write pump drains.
type outboxReader interface {
	Notify() <-chan struct{}
	Drain() []hub.Envelope
}

func (s *session) markSubscribed(roomCode string) {
	s.subscribedMu.Lock()
	defer s.subscribedMu.Unlock()
	s.subscribed[roomCode] = struct{}{}
}

func (s *session) markUnsubscribed(roomCode string) {
	s.subscribedMu.Lock()
	defer s.subscribedMu.Unlock()
	delete(s.subscribed, roomCode)
}

func (s *session) subscribedRooms() []string {
	s.subscribedMu.Lock()
	defer s.subscribedMu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for room := range s.subscribed {
		out = append(out, room)
	}
	return out
}

func (s *session) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}
