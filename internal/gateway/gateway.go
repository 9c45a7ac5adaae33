// Package gateway is the duplex event boundary: it authenticates
// incoming websocket connections, registers/unregisters sessions with
// the hub, dispatches inbound events to RoomService/GameService and
// drains each session's outbox onto its connection.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/codeduel/backend/internal/domain"
	"github.com/codeduel/backend/internal/duelerr"
	"github.com/codeduel/backend/internal/gameservice"
	"github.com/codeduel/backend/internal/hub"
	"github.com/codeduel/backend/internal/roomservice"
	"github.com/codeduel/backend/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenVerifier resolves the identity token carried by a connecting
// client into a user id. Concrete implementation is authn.Verifier.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// HubPort is the slice of hub.Hub the gateway drives directly: session
// and subscription lifecycle, grace tickets, private replies, and the
// player-reconnected/player-disconnected broadcasts it publishes itself.
type HubPort interface {
	RegisterSession(userID, sessionID string) outboxReader
	UnregisterSession(sessionID string) (wasLastSession bool, rooms []string)
	Subscribe(topic, sessionID string)
	Unsubscribe(topic, sessionID string)
	Publish(topic string, env hub.Envelope)
	PublishToSession(sessionID string, env hub.Envelope)
	OpenGrace(roomCode, userID string, period time.Duration, onExpire func())
	CancelGrace(roomCode, userID string) bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HubAdapter narrows *hub.Hub down to HubPort. hub.Hub's
// RegisterSession returns an unexported concrete type; the adapter's
// job is purely to let that value satisfy the gateway's own
// outboxReader interface at the call boundary.
type HubAdapter struct {
	*hub.Hub
}

func (a HubAdapter) RegisterSession(userID, sessionID string) outboxReader {
	return a.Hub.RegisterSession(userID, sessionID)
}

func NewHubAdapter(h *hub.Hub) HubPort { return HubAdapter{Hub: h} }

type Gateway struct {
	hub    HubPort
	rooms  *roomservice.Service
	games  *gameservice.Service
	store  store.Store
	auth   TokenVerifier
	log    *zap.Logger
}

func New(h HubPort, rooms *roomservice.Service, games *gameservice.Service, st store.Store, auth TokenVerifier, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{hub: h, rooms: rooms, games: games, store: st, auth: auth, log: log}
}

// ServeWS upgrades the connection, authenticates it against the token
// query parameter, and hands off to the read/write pumps.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := g.auth.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := g.store.GetUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sessionID := uuid.NewString()
	box := g.hub.RegisterSession(userID, sessionID)
	sess := &session{
		id:         sessionID,
		userID:     userID,
		handle:     user.Handle,
		conn:       conn,
		box:        box,
		subscribed: make(map[string]struct{}),
	}

	go g.writePump(sess)
	g.readPump(sess)
}

func (g *Gateway) writePump(sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()

	for {
		select {
		case _, ok := <-sess.box.Notify():
			if !ok {
				_ = sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			for _, env := range sess.box.Drain() {
				_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := sess.writeJSON(env); err != nil {
					g.log.Warn("gateway write failed", zap.String("session", sess.id), zap.Error(err))
					return
				}
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readPump(sess *session) {
	defer g.handleDisconnect(sess)

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	g.hub.PublishToSession(sess.id, hub.Envelope{Type: "connection-success"})

	for {
		var msg inboundMessage
		if err := sess.conn.ReadJSON(&msg); err != nil {
			return
		}
		g.dispatch(sess, msg)
	}
}

func (g *Gateway) dispatch(sess *session, msg inboundMessage) {
	ctx := context.Background()
	switch msg.Type {
	case "join-room":
		var p joinRoomPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			g.sendError(sess, "invalid join-room payload")
			return
		}
		g.handleJoinRoom(ctx, sess, p.RoomCode)

	case "leave-room":
		var p leaveRoomPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			g.sendError(sess, "invalid leave-room payload")
			return
		}
		g.hub.Unsubscribe(p.RoomCode, sess.id)
		sess.markUnsubscribed(p.RoomCode)
		if err := g.rooms.LeaveRoom(ctx, p.RoomCode, sess.userID); err != nil {
			g.sendError(sess, duelerr.EventMessage(err))
		}

	case "start-game":
		var p startGamePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			g.sendError(sess, "invalid start-game payload")
			return
		}
		if err := g.games.StartGame(ctx, p.RoomCode, sess.userID); err != nil {
			g.sendError(sess, duelerr.EventMessage(err))
		}

	case "check-problem":
		var p checkProblemPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			g.sendError(sess, "invalid check-problem payload")
			return
		}
		g.handleCheckProblem(ctx, sess, p)

	default:
		g.sendError(sess, "unknown event type")
	}
}

func (g *Gateway) handleJoinRoom(ctx context.Context, sess *session, roomCode string) {
	g.hub.Subscribe(roomCode, sess.id)
	sess.markSubscribed(roomCode)

	if _, err := g.rooms.JoinRoom(ctx, roomCode, sess.userID); err != nil {
		g.hub.Unsubscribe(roomCode, sess.id)
		sess.markUnsubscribed(roomCode)
		g.sendError(sess, duelerr.EventMessage(err))
		return
	}
	// cancel any pending grace ticket from the drop that made this
	// reconnect necessary, waiting or started room alike.
	if g.hub.CancelGrace(roomCode, sess.userID) {
		g.hub.Publish(roomCode, hub.Envelope{Type: "player-reconnected", Payload: map[string]string{"userId": sess.userID, "handle": sess.handle}})
	}
}

// handleCheckProblem runs one check for the session. Checks are
// dispatched one at a time from the session's read loop, so at most one
// is in flight per session; a later check is neither rejected nor
// dropped, it runs after the earlier one returns. The singleflight group
// is keyed by room code only, so overlapping calls for the same room
// would share one result whichever problem they name.
func (g *Gateway) handleCheckProblem(ctx context.Context, sess *session, p checkProblemPayload) {
	key := p.RoomCode
	result, err, _ := sess.checkGroup.Do(key, func() (any, error) {
		return g.games.CheckSubmission(ctx, p.RoomCode, sess.userID, sess.handle, p.ContestID, p.Index)
	})
	if err != nil {
		g.sendError(sess, duelerr.EventMessage(err))
		return
	}
	// The successful-solve path already broadcasts problem-solved and
	// leaderboard-update from GameService itself; here we only need to
	// deliver the private not-solved reply.
	res := result.(gameservice.CheckResult)
	if !res.Solved {
		g.hub.PublishToSession(sess.id, hub.Envelope{Type: "problem-not-solved", Payload: map[string]any{
			"contestId": p.ContestID, "index": p.Index, "message": res.Message,
		}})
	}
}

func (g *Gateway) sendError(sess *session, message string) {
	g.hub.PublishToSession(sess.id, hub.Envelope{Type: "error", Payload: map[string]string{"message": message}})
}

func (g *Gateway) handleDisconnect(sess *session) {
	rooms := sess.subscribedRooms()
	wasLast, hubRooms := g.hub.UnregisterSession(sess.id)
	if wasLast {
		for _, roomCode := range mergeRoomLists(rooms, hubRooms) {
			room, err := g.store.FindRoom(context.Background(), roomCode)
			if err != nil {
				continue
			}
			period := gracePeriodWaiting
			if room.Status == domain.StatusStarted {
				period = gracePeriodStarted
			}
			roomCode, userID := roomCode, sess.userID
			g.hub.OpenGrace(roomCode, userID, period, func() {
				g.onGraceExpire(roomCode, userID)
			})
			g.hub.Publish(roomCode, hub.Envelope{Type: "player-disconnected", Payload: map[string]any{
				"userId": userID, "handle": sess.handle, "gracePeriod": int(period.Seconds()),
			}})
		}
	}
}

func (g *Gateway) onGraceExpire(roomCode, userID string) {
	if err := g.rooms.LeaveRoom(context.Background(), roomCode, userID); err != nil {
		g.log.Warn("grace expiry leave failed", zap.String("room", roomCode), zap.String("user", userID), zap.Error(err))
	}
}

func mergeRoomLists(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, r := range list {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				out = append(out, r)
			}
		}
	}
	return out
}
