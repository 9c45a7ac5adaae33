package roomservice

import (
	"context"
	"time"

	"github.com/codeduel/backend/internal/domain"
	"github.com/codeduel/backend/internal/store"
	"github.com/stretchr/testify/mock"
)

var _ store.Store = (*mockStore)(nil)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpsertUserByHandle(ctx context.Context, handle string, rating int, avatar string) (domain.User, error) {
	args := m.Called(ctx, handle, rating, avatar)
	u, _ := args.Get(0).(domain.User)
	return u, args.Error(1)
}

func (m *mockStore) GetUser(ctx context.Context, userID string) (domain.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(domain.User)
	return u, args.Error(1)
}

func (m *mockStore) GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error) {
	args := m.Called(ctx, userIDs)
	u, _ := args.Get(0).(map[string]domain.User)
	return u, args.Error(1)
}

func (m *mockStore) CreateRoom(ctx context.Context, code, hostID string, settings domain.Settings) (domain.Room, error) {
	args := m.Called(ctx, code, hostID, settings)
	r, _ := args.Get(0).(domain.Room)
	return r, args.Error(1)
}

func (m *mockStore) FindRoom(ctx context.Context, code string) (domain.Room, error) {
	args := m.Called(ctx, code)
	r, _ := args.Get(0).(domain.Room)
	return r, args.Error(1)
}

func (m *mockStore) FindRoomByParticipantAndStatus(ctx context.Context, userID string, status domain.Status) (domain.Room, error) {
	args := m.Called(ctx, userID, status)
	r, _ := args.Get(0).(domain.Room)
	return r, args.Error(1)
}

func (m *mockStore) AddParticipant(ctx context.Context, code, userID string) (domain.Room, error) {
	args := m.Called(ctx, code, userID)
	r, _ := args.Get(0).(domain.Room)
	return r, args.Error(1)
}

func (m *mockStore) RemoveParticipant(ctx context.Context, code, userID string) (store.RemoveParticipantResult, error) {
	args := m.Called(ctx, code, userID)
	r, _ := args.Get(0).(store.RemoveParticipantResult)
	return r, args.Error(1)
}

func (m *mockStore) SetHost(ctx context.Context, code, userID string) (domain.Room, error) {
	args := m.Called(ctx, code, userID)
	r, _ := args.Get(0).(domain.Room)
	return r, args.Error(1)
}

func (m *mockStore) SetStatus(ctx context.Context, code string, status domain.Status, startInstant *time.Time) (domain.Room, error) {
	args := m.Called(ctx, code, status, startInstant)
	r, _ := args.Get(0).(domain.Room)
	return r, args.Error(1)
}

func (m *mockStore) UpdateSettings(ctx context.Context, code string, minRating, maxRating int) (domain.Room, error) {
	args := m.Called(ctx, code, minRating, maxRating)
	r, _ := args.Get(0).(domain.Room)
	return r, args.Error(1)
}

func (m *mockStore) PutRoomProblems(ctx context.Context, code string, problems []domain.RoomProblem) error {
	args := m.Called(ctx, code, problems)
	return args.Error(0)
}

func (m *mockStore) ListRoomProblems(ctx context.Context, code string) ([]domain.RoomProblem, error) {
	args := m.Called(ctx, code)
	p, _ := args.Get(0).([]domain.RoomProblem)
	return p, args.Error(1)
}

func (m *mockStore) InsertScore(ctx context.Context, s domain.Score) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *mockStore) ListScores(ctx context.Context, code string) ([]domain.Score, error) {
	args := m.Called(ctx, code)
	s, _ := args.Get(0).([]domain.Score)
	return s, args.Error(1)
}

func (m *mockStore) ListScoresOf(ctx context.Context, code, userID string) ([]domain.Score, error) {
	args := m.Called(ctx, code, userID)
	s, _ := args.Get(0).([]domain.Score)
	return s, args.Error(1)
}

func (m *mockStore) ListStartedRooms(ctx context.Context) ([]domain.Room, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).([]domain.Room)
	return r, args.Error(1)
}
