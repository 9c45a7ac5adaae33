// Package roomservice implements the request-side room lifecycle:
// creation, joining, leaving, settings updates and in-waiting host
// transfer. It talks to the store for durable state and to the hub
// only to fan events out to a room's subscribers.
package roomservice

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/codeduel/backend/internal/domain"
	"github.com/codeduel/backend/internal/hub"
	"github.com/codeduel/backend/internal/store"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6
const maxCodeAttempts = 20

// Broadcaster is the narrow slice of Hub the service depends on, so
// tests can supply a recording fake instead of a real Hub.
type Broadcaster interface {
	Publish(topic string, env hub.Envelope)
}

type Service struct {
	store store.Store
	hub   Broadcaster
}

func New(st store.Store, h Broadcaster) *Service {
	return &Service{store: st, hub: h}
}

// CreateRoom rejection-samples a 6-character code against the store,
// retrying on collision up to maxCodeAttempts times before it fails
// with an error, following the teacher's
// generateCode approach widened to this alphabet and to a Store-backed
// existence check instead of an in-memory map lookup.
func (s *Service) CreateRoom(ctx context.Context, hostID string, settings domain.Settings) (domain.Room, error) {
	settings = settings.Coerce()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return domain.Room{}, fmt.Errorf("generate room code: %w", err)
		}
		room, err := s.store.CreateRoom(ctx, code, hostID, settings)
		if err == nil {
			return room, nil
		}
		if errors.Is(err, domain.ErrAlreadyExists) {
			continue
		}
		return domain.Room{}, err
	}
	return domain.Room{}, fmt.Errorf("create room: exhausted %d code attempts", maxCodeAttempts)
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// JoinRoom adds userID to the room's participant set (a no-op if
// already present) and fans out room-update.
func (s *Service) JoinRoom(ctx context.Context, code, userID string) (domain.Room, error) {
	if _, err := s.store.FindRoom(ctx, code); err != nil {
		return domain.Room{}, err
	}
	room, err := s.store.AddParticipant(ctx, code, userID)
	if err != nil {
		return domain.Room{}, err
	}
	s.broadcastRoomUpdate(ctx, room)
	return room, nil
}

// LeaveRoom removes userID from the room. If the room becomes empty it
// has already been cascade-deleted by the store; otherwise, if the
// leaver held the host role while the room is still waiting, host
// transfers to the earliest remaining participant.
func (s *Service) LeaveRoom(ctx context.Context, code, userID string) error {
	room, err := s.store.FindRoom(ctx, code)
	if err != nil {
		return err
	}
	handle := s.handleOf(ctx, userID)
	wasHost := room.HostID == userID

	result, err := s.store.RemoveParticipant(ctx, code, userID)
	if err != nil {
		return err
	}
	if result.Deleted {
		s.hub.Publish(code, hub.Envelope{Type: "player-left", Payload: map[string]string{"userId": userID, "handle": handle}})
		return nil
	}

	updated := *result.Room
	if wasHost && updated.Status == domain.StatusWaiting && len(updated.Participants) > 0 {
		newHostID := updated.Participants[0]
		updated, err = s.store.SetHost(ctx, code, newHostID)
		if err != nil {
			return err
		}
		s.hub.Publish(code, hub.Envelope{Type: "host-changed", Payload: map[string]any{
			"roomCode":      code,
			"newHost":       s.userSummary(ctx, newHostID),
			"previousHost":  handle,
		}})
	}

	s.broadcastRoomUpdate(ctx, updated)
	s.hub.Publish(code, hub.Envelope{Type: "player-left", Payload: map[string]string{"userId": userID, "handle": handle}})
	return nil
}

// UpdateSettings is host-only and waiting-only; questionCount and
// duration are always server-fixed regardless of what the caller sent.
func (s *Service) UpdateSettings(ctx context.Context, code, byUserID string, minRating, maxRating int) (domain.Room, error) {
	room, err := s.store.FindRoom(ctx, code)
	if err != nil {
		return domain.Room{}, err
	}
	if room.HostID != byUserID {
		return domain.Room{}, domain.ErrForbidden
	}
	if room.Status != domain.StatusWaiting {
		return domain.Room{}, domain.ErrConflict
	}
	updated, err := s.store.UpdateSettings(ctx, code, minRating, maxRating)
	if err != nil {
		return domain.Room{}, err
	}
	s.broadcastRoomUpdate(ctx, updated)
	return updated, nil
}

func (s *Service) broadcastRoomUpdate(ctx context.Context, room domain.Room) {
	users, err := s.store.GetUsers(ctx, room.Participants)
	if err != nil {
		users = map[string]domain.User{}
	}
	participants := make([]map[string]any, 0, len(room.Participants))
	for _, id := range room.Participants {
		u := users[id]
		participants = append(participants, map[string]any{
			"id":     id,
			"handle": u.Handle,
			"avatar": u.Avatar,
			"rating": u.Rating,
		})
	}
	s.hub.Publish(room.Code, hub.Envelope{Type: "room-update", Payload: map[string]any{
		"roomCode":     room.Code,
		"participants": participants,
	}})
}

func (s *Service) handleOf(ctx context.Context, userID string) string {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return u.Handle
}

func (s *Service) userSummary(ctx context.Context, userID string) map[string]any {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return map[string]any{"_id": userID}
	}
	return map[string]any{"_id": u.ID, "handle": u.Handle, "avatar": u.Avatar, "rating": u.Rating}
}
