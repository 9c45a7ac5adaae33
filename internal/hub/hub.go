// Package hub is the single process-wide authority for ephemeral
// state: which sessions are subscribed to which room topics, which
// sessions belong to which user, the running game-end timers and the
// pending disconnect grace tickets. It owns the scheduler; it never
// touches the Store.
package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickInterval is how often started rooms receive a timer-sync
// broadcast.
const TickInterval = 5 * time.Second

type sessionEntry struct {
	userID string
	box    *outbox
	topics map[string]struct{}
}

type Hub struct {
	log *zap.Logger

	mu               sync.RWMutex
	sessions         map[string]*sessionEntry    // sessionID -> entry
	userSessions     map[string]map[string]bool  // userID -> sessionIDs
	topicSubscribers map[string]map[string]bool  // topic -> sessionIDs

	timers *timerWheel

	tickStop chan struct{}
	tickOnce sync.Once
}

func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log:              log,
		sessions:         make(map[string]*sessionEntry),
		userSessions:     make(map[string]map[string]bool),
		topicSubscribers: make(map[string]map[string]bool),
		timers:           newTimerWheel(),
		tickStop:         make(chan struct{}),
	}
	go h.runTicker()
	return h
}

// RegisterSession creates the session's mailbox and indexes it under
// its owning user. The returned outbox is what the EventGateway's
// write pump drains.
func (h *Hub) RegisterSession(userID, sessionID string) *outboxHandle {
	h.mu.Lock()
	defer h.mu.Unlock()

	box := newOutbox()
	h.sessions[sessionID] = &sessionEntry{userID: userID, box: box, topics: make(map[string]struct{})}
	if h.userSessions[userID] == nil {
		h.userSessions[userID] = make(map[string]bool)
	}
	h.userSessions[userID][sessionID] = true
	return &outboxHandle{box: box}
}

// UnregisterSession removes the session from every index and returns
// whether it was the user's last session (the caller uses this to
// decide whether to open grace tickets) plus the rooms the session was
// subscribed to.
func (h *Hub) UnregisterSession(sessionID string) (wasLastSession bool, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.sessions[sessionID]
	if !ok {
		return false, nil
	}
	for topic := range entry.topics {
		if subs := h.topicSubscribers[topic]; subs != nil {
			delete(subs, sessionID)
			if len(subs) == 0 {
				delete(h.topicSubscribers, topic)
			}
		}
		rooms = append(rooms, topic)
	}
	delete(h.sessions, sessionID)

	userSet := h.userSessions[entry.userID]
	delete(userSet, sessionID)
	if len(userSet) == 0 {
		delete(h.userSessions, entry.userID)
		wasLastSession = true
	}

	entry.box.close()
	return wasLastSession, rooms
}

func (h *Hub) UserSessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userSessions[userID])
}

func (h *Hub) Subscribe(topic, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	entry.topics[topic] = struct{}{}
	if h.topicSubscribers[topic] == nil {
		h.topicSubscribers[topic] = make(map[string]bool)
	}
	h.topicSubscribers[topic][sessionID] = true
}

func (h *Hub) Unsubscribe(topic, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.sessions[sessionID]; ok {
		delete(entry.topics, topic)
	}
	if subs := h.topicSubscribers[topic]; subs != nil {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(h.topicSubscribers, topic)
		}
	}
}

// Publish fans an event out to every session currently subscribed to
// topic. It never blocks on a slow subscriber: delivery goes through
// each subscriber's bounded outbox (see outbox.go).
func (h *Hub) Publish(topic string, env Envelope) {
	h.mu.RLock()
	subs := h.topicSubscribers[topic]
	boxes := make([]*outbox, 0, len(subs))
	for sessionID := range subs {
		if entry, ok := h.sessions[sessionID]; ok {
			boxes = append(boxes, entry.box)
		}
	}
	h.mu.RUnlock()

	for _, b := range boxes {
		b.push(env)
	}
}

// PublishToSession delivers privately to one session, used for
// problem-not-solved and per-requester error replies.
func (h *Hub) PublishToSession(sessionID string, env Envelope) {
	h.mu.RLock()
	entry, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	entry.box.push(env)
}

func (h *Hub) runTicker() {
	t := time.NewTicker(TickInterval)
	defer t.Stop()
	for {
		select {
		case <-h.tickStop:
			return
		case now := <-t.C:
			for _, room := range h.timers.activeGameRooms() {
				h.Publish(room, Envelope{Type: "timer-sync", Payload: map[string]int64{"serverTime": now.UnixMilli()}})
			}
		}
	}
}

// StartGameRuntime arms the room's end-of-game timer and enrolls it in
// the periodic timer-sync tick. onEnd is called from the timer's own
// goroutine, exactly once, unless CancelGameRuntime runs first.
func (h *Hub) StartGameRuntime(roomCode string, duration time.Duration, onEnd func()) {
	h.timers.startGame(roomCode, duration, onEnd)
}

// CancelGameRuntime stops a room's end-of-game timer. AutoFinalize
// calls it once the room has ended; the cascade delete of an emptied
// room does not call it, so that room's timer still fires.
func (h *Hub) CancelGameRuntime(roomCode string) {
	h.timers.cancelGame(roomCode)
}

// OpenGrace starts a disconnect grace-period countdown for a
// participant. If CancelGrace does not run first, onExpire fires once
// after period elapses.
func (h *Hub) OpenGrace(roomCode, userID string, period time.Duration, onExpire func()) {
	h.timers.openGrace(roomCode, userID, period, onExpire)
}

// CancelGrace cancels a pending grace ticket, reporting whether one
// was still pending. Called on reconnect.
func (h *Hub) CancelGrace(roomCode, userID string) bool {
	return h.timers.cancelGrace(roomCode, userID)
}

// Shutdown cancels every outstanding timer and stops the periodic
// tick. It does not close session outboxes; the gateway's sessions are
// expected to be torn down independently during process shutdown.
func (h *Hub) Shutdown() {
	h.tickOnce.Do(func() { close(h.tickStop) })
	h.timers.cancelAll()
}

// outboxHandle is the narrow view of an outbox exposed outside the
// package: read-only draining plus a notify channel, so the gateway
// cannot push directly into another session's mailbox.
type outboxHandle struct {
	box *outbox
}

func (h *outboxHandle) Notify() <-chan struct{} { return h.box.notify() }
func (h *outboxHandle) Drain() []Envelope       { return h.box.drain() }
