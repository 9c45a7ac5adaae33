// Package store defines the persistence port used by RoomService and
// GameService. The only implementation shipped here is Postgres
// (internal/store/postgres), but every service depends on this
// interface so tests can supply an in-memory fake.
package store

import (
	"context"
	"time"

	"github.com/codeduel/backend/internal/domain"
)

// RemoveParticipantResult reports whether removing a participant left
// the room empty, in which case the store has already cascade-deleted
// the room and its RoomProblems/Scores as a single transaction.
type RemoveParticipantResult struct {
	Room    *domain.Room
	Deleted bool
}

type Store interface {
	// UpsertUserByHandle is case-preserving and idempotent: calling it
	// twice with the same handle updates rating/avatar in place rather
	// than creating a second row.
	UpsertUserByHandle(ctx context.Context, handle string, rating int, avatar string) (domain.User, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error)

	// CreateRoom fails with domain.ErrAlreadyExists on code collision.
	CreateRoom(ctx context.Context, code, hostID string, settings domain.Settings) (domain.Room, error)
	FindRoom(ctx context.Context, code string) (domain.Room, error)
	FindRoomByParticipantAndStatus(ctx context.Context, userID string, status domain.Status) (domain.Room, error)

	// AddParticipant is idempotent: adding an existing participant is a
	// no-op that still returns the current room.
	AddParticipant(ctx context.Context, code, userID string) (domain.Room, error)
	// RemoveParticipant cascade-deletes the room transactionally if the
	// participant set becomes empty.
	RemoveParticipant(ctx context.Context, code, userID string) (RemoveParticipantResult, error)
	SetHost(ctx context.Context, code, userID string) (domain.Room, error)

	SetStatus(ctx context.Context, code string, status domain.Status, startInstant *time.Time) (domain.Room, error)
	// UpdateSettings fails with domain.ErrConflict if the room is not
	// in StatusWaiting.
	UpdateSettings(ctx context.Context, code string, minRating, maxRating int) (domain.Room, error)

	// PutRoomProblems atomically replaces the room's problem set.
	PutRoomProblems(ctx context.Context, code string, problems []domain.RoomProblem) error
	ListRoomProblems(ctx context.Context, code string) ([]domain.RoomProblem, error)

	// InsertScore fails with domain.ErrAlreadyExists if a score already
	// exists for (room, user, contestId, index); the store's uniqueness
	// constraint is the single source of truth for "already solved".
	InsertScore(ctx context.Context, s domain.Score) error
	ListScores(ctx context.Context, code string) ([]domain.Score, error)
	ListScoresOf(ctx context.Context, code, userID string) ([]domain.Score, error)

	// ListStartedRooms supports restart recovery: the caller reschedules
	// each started room's end timer relative to its persisted
	// StartInstant.
	ListStartedRooms(ctx context.Context) ([]domain.Room, error)
}
