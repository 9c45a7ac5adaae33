package gameservice

import (
	"context"
	"testing"
	"time"

	"github.com/codeduel/backend/internal/domain"
	"github.com/codeduel/backend/internal/hub"
	"github.com/codeduel/backend/internal/judge"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func waitingRoom() domain.Room {
	return domain.Room{
		Code:         "K3X9Q0",
		HostID:       "A",
		Participants: []string{"A", "B"},
		Status:       domain.StatusWaiting,
		Settings:     domain.Settings{MinRating: 800, MaxRating: 1400, QuestionCount: 2, DurationMins: 15},
	}
}

func TestStartGame_RejectsNonHost(t *testing.T) {
	st := new(mockStore)
	jc := new(mockJudge)
	rt := new(mockRuntime)
	svc := New(st, jc, rt, nil)

	room := waitingRoom()
	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Once()

	err := svc.StartGame(context.Background(), room.Code, "B")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestStartGame_InsufficientProblemsAbortsWithoutStatusChange(t *testing.T) {
	st := new(mockStore)
	jc := new(mockJudge)
	rt := new(mockRuntime)
	svc := New(st, jc, rt, nil)

	room := waitingRoom()
	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Once()
	rt.On("Publish", room.Code, mock.MatchedBy(func(e hub.Envelope) bool { return e.Type == "game-starting" })).Once()

	// every problem falls in the upper half only: rating 1350; lower partition [800,1100] is empty.
	jc.On("ListAllProblems", mock.Anything).Return([]judge.Problem{
		{ContestID: 1, Index: "A", Rating: intPtr(1350)},
	}, nil).Once()
	rt.On("Publish", room.Code, mock.MatchedBy(func(e hub.Envelope) bool { return e.Type == "error" })).Once()

	err := svc.StartGame(context.Background(), room.Code, "A")
	require.ErrorIs(t, err, domain.ErrInsufficientProblems)
	st.AssertNotCalled(t, "PutRoomProblems", mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartGame_ProvisionsAndStarts(t *testing.T) {
	st := new(mockStore)
	jc := new(mockJudge)
	rt := new(mockRuntime)
	svc := New(st, jc, rt, nil)

	room := waitingRoom()
	started := room
	started.Status = domain.StatusStarted
	now := time.Now().UTC()
	started.StartInstant = &now

	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Once()
	rt.On("Publish", room.Code, mock.MatchedBy(func(e hub.Envelope) bool { return e.Type == "game-starting" })).Once()
	jc.On("ListAllProblems", mock.Anything).Return([]judge.Problem{
		{ContestID: 100, Index: "A", Rating: intPtr(900)},
		{ContestID: 100, Index: "C", Rating: intPtr(1200)},
	}, nil).Once()
	st.On("PutRoomProblems", mock.Anything, room.Code, mock.MatchedBy(func(ps []domain.RoomProblem) bool { return len(ps) == 2 })).Return(nil).Once()
	st.On("SetStatus", mock.Anything, room.Code, domain.StatusStarted, mock.AnythingOfType("*time.Time")).Return(started, nil).Once()
	rt.On("StartGameRuntime", room.Code, started.Settings.Duration(), mock.Anything).Once()
	rt.On("Publish", room.Code, mock.MatchedBy(func(e hub.Envelope) bool { return e.Type == "game-started" })).Once()

	err := svc.StartGame(context.Background(), room.Code, "A")
	require.NoError(t, err)
	st.AssertExpectations(t)
	rt.AssertExpectations(t)
}

func TestCheckSubmission_S1AwardsDecayedPoints(t *testing.T) {
	st := new(mockStore)
	jc := new(mockJudge)
	rt := new(mockRuntime)
	svc := New(st, jc, rt, nil)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	room := domain.Room{
		Code: "K3X9Q0", Status: domain.StatusStarted, StartInstant: &start,
		Participants: []string{"A", "B"},
		Settings:     domain.Settings{DurationMins: 15},
	}
	problems := []domain.RoomProblem{
		{RoomCode: room.Code, ContestID: 100, Index: "A", Rating: 900, BasePoints: 500, MinPoints: 250},
		{RoomCode: room.Code, ContestID: 100, Index: "C", Rating: 1100, BasePoints: 1000, MinPoints: 500},
	}
	solveInstant := start.Add(3*time.Minute + 15*time.Second)

	// once for the check itself, once for the leaderboard projection.
	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Twice()
	st.On("ListRoomProblems", mock.Anything, room.Code).Return(problems, nil).Once()
	st.On("ListScoresOf", mock.Anything, room.Code, "A").Return(nil, nil).Once()
	jc.On("ListRecentSubmissions", mock.Anything, "A", 50).Return([]judge.Submission{
		{ContestID: 100, Index: "A", Verdict: judge.VerdictAccepted, CreationInstant: solveInstant},
	}, nil).Once()
	st.On("InsertScore", mock.Anything, mock.MatchedBy(func(s domain.Score) bool {
		return s.UserID == "A" && s.Points == 485
	})).Return(nil).Once()
	rt.On("Publish", room.Code, mock.MatchedBy(func(e hub.Envelope) bool { return e.Type == "problem-solved" })).Once()
	rt.On("Publish", room.Code, mock.MatchedBy(func(e hub.Envelope) bool { return e.Type == "leaderboard-update" })).Once()
	st.On("ListScores", mock.Anything, room.Code).Return([]domain.Score{{RoomCode: room.Code, UserID: "A", ContestID: 100, Index: "A", Points: 485, SolveInstant: solveInstant}}, nil).Once()
	st.On("GetUsers", mock.Anything, room.Participants).Return(map[string]domain.User{
		"A": {ID: "A", Handle: "A"}, "B": {ID: "B", Handle: "B"},
	}, nil).Once()

	result, err := svc.CheckSubmission(context.Background(), room.Code, "A", "A", 100, "A")
	require.NoError(t, err)
	require.True(t, result.Solved)
	require.Equal(t, 485, result.Points)
	st.AssertExpectations(t)
	rt.AssertExpectations(t)
}

func TestCheckSubmission_NoAcceptedSubmissionReturnsNotSolved(t *testing.T) {
	st := new(mockStore)
	jc := new(mockJudge)
	rt := new(mockRuntime)
	svc := New(st, jc, rt, nil)

	start := time.Now().UTC()
	room := domain.Room{Code: "K3X9Q0", Status: domain.StatusStarted, StartInstant: &start, Settings: domain.Settings{DurationMins: 15}}
	problems := []domain.RoomProblem{{RoomCode: room.Code, ContestID: 100, Index: "A", BasePoints: 500, MinPoints: 250}}

	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Once()
	st.On("ListRoomProblems", mock.Anything, room.Code).Return(problems, nil).Once()
	st.On("ListScoresOf", mock.Anything, room.Code, "A").Return(nil, nil).Once()
	jc.On("ListRecentSubmissions", mock.Anything, "A", 50).Return(nil, nil).Once()

	result, err := svc.CheckSubmission(context.Background(), room.Code, "A", "A", 100, "A")
	require.NoError(t, err)
	require.False(t, result.Solved)
}

func TestCheckSubmission_AlreadySolvedShortCircuits(t *testing.T) {
	st := new(mockStore)
	jc := new(mockJudge)
	rt := new(mockRuntime)
	svc := New(st, jc, rt, nil)

	start := time.Now().UTC()
	room := domain.Room{Code: "K3X9Q0", Status: domain.StatusStarted, StartInstant: &start}

	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Once()
	st.On("ListRoomProblems", mock.Anything, room.Code).Return([]domain.RoomProblem{{ContestID: 100, Index: "A", BasePoints: 500, MinPoints: 250}}, nil).Once()
	st.On("ListScoresOf", mock.Anything, room.Code, "A").Return([]domain.Score{{ContestID: 100, Index: "A", Points: 485}}, nil).Once()

	result, err := svc.CheckSubmission(context.Background(), room.Code, "A", "A", 100, "A")
	require.NoError(t, err)
	require.True(t, result.Solved)
	require.Equal(t, 485, result.Points)
	jc.AssertNotCalled(t, "ListRecentSubmissions", mock.Anything, mock.Anything, mock.Anything)
}

func TestAutoFinalize_S2SweepsUnclaimedSolveAndEnds(t *testing.T) {
	st := new(mockStore)
	jc := new(mockJudge)
	rt := new(mockRuntime)
	svc := New(st, jc, rt, nil)
	svc.sweepLimiter = func() *rate.Limiter { return rate.NewLimiter(rate.Every(time.Nanosecond), 10) }

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	room := domain.Room{
		Code: "K3X9Q0", Status: domain.StatusStarted, StartInstant: &start,
		Participants: []string{"A", "B"},
		Settings:     domain.Settings{DurationMins: 15},
	}
	problems := []domain.RoomProblem{
		{RoomCode: room.Code, ContestID: 100, Index: "A", BasePoints: 500, MinPoints: 250},
		{RoomCode: room.Code, ContestID: 100, Index: "C", BasePoints: 1000, MinPoints: 500},
	}
	bSolve := start.Add(14 * time.Minute)

	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Once()
	st.On("ListRoomProblems", mock.Anything, room.Code).Return(problems, nil).Once()

	st.On("GetUser", mock.Anything, "A").Return(domain.User{ID: "A", Handle: "A"}, nil).Once()
	st.On("ListScoresOf", mock.Anything, room.Code, "A").Return([]domain.Score{{ContestID: 100, Index: "A", Points: 485}}, nil).Once()
	// A still has problem C outstanding, so the sweep queries A too and finds nothing new.
	jc.On("ListRecentSubmissions", mock.Anything, "A", 50).Return(nil, nil).Once()

	st.On("GetUser", mock.Anything, "B").Return(domain.User{ID: "B", Handle: "B"}, nil).Once()
	st.On("ListScoresOf", mock.Anything, room.Code, "B").Return(nil, nil).Once()
	jc.On("ListRecentSubmissions", mock.Anything, "B", 50).Return([]judge.Submission{
		{ContestID: 100, Index: "C", Verdict: judge.VerdictAccepted, CreationInstant: bSolve},
	}, nil).Once()
	st.On("InsertScore", mock.Anything, mock.MatchedBy(func(s domain.Score) bool {
		return s.UserID == "B" && s.Points == 930
	})).Return(nil).Once()

	ended := room
	ended.Status = domain.StatusEnded
	st.On("SetStatus", mock.Anything, room.Code, domain.StatusEnded, mock.AnythingOfType("*time.Time")).Return(ended, nil).Once()
	rt.On("CancelGameRuntime", room.Code).Once()

	st.On("ListScores", mock.Anything, room.Code).Return([]domain.Score{
		{RoomCode: room.Code, UserID: "A", ContestID: 100, Index: "A", Points: 485, SolveInstant: start.Add(3 * time.Minute)},
		{RoomCode: room.Code, UserID: "B", ContestID: 100, Index: "C", Points: 930, SolveInstant: bSolve},
	}, nil).Once()
	st.On("FindRoom", mock.Anything, room.Code).Return(ended, nil).Once()
	st.On("GetUsers", mock.Anything, room.Participants).Return(map[string]domain.User{
		"A": {ID: "A", Handle: "A"}, "B": {ID: "B", Handle: "B"},
	}, nil).Once()
	rt.On("Publish", room.Code, mock.MatchedBy(func(e hub.Envelope) bool { return e.Type == "game-ended" })).Once()

	err := svc.AutoFinalize(context.Background(), room.Code)
	require.NoError(t, err)
	st.AssertExpectations(t)
	rt.AssertExpectations(t)
}

func TestAutoFinalize_AlreadyEndedStillEmitsGameEnded(t *testing.T) {
	st := new(mockStore)
	jc := new(mockJudge)
	rt := new(mockRuntime)
	svc := New(st, jc, rt, nil)

	room := domain.Room{Code: "K3X9Q0", Status: domain.StatusEnded, Participants: []string{"A"}}
	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Once()
	st.On("ListScores", mock.Anything, room.Code).Return(nil, nil).Once()
	st.On("FindRoom", mock.Anything, room.Code).Return(room, nil).Once()
	st.On("GetUsers", mock.Anything, room.Participants).Return(map[string]domain.User{"A": {ID: "A", Handle: "A"}}, nil).Once()
	rt.On("CancelGameRuntime", room.Code).Once()
	rt.On("Publish", room.Code, mock.MatchedBy(func(e hub.Envelope) bool { return e.Type == "game-ended" })).Once()

	err := svc.AutoFinalize(context.Background(), room.Code)
	require.NoError(t, err)
	jc.AssertNotCalled(t, "ListRecentSubmissions", mock.Anything, mock.Anything, mock.Anything)
}
