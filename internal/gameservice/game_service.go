// Package gameservice orchestrates the timed part of a duel: problem
// provisioning at start, live submission verification, and the
// end-of-timer finalization sweep.
package gameservice

import (
	"context"
	"errors"
	"time"

	"github.com/codeduel/backend/internal/domain"
	"github.com/codeduel/backend/internal/hub"
	"github.com/codeduel/backend/internal/judge"
	"github.com/codeduel/backend/internal/leaderboard"
	"github.com/codeduel/backend/internal/randpick"
	"github.com/codeduel/backend/internal/scoring"
	"github.com/codeduel/backend/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Runtime is the slice of Hub the service depends on: fan-out and the
// per-room end timer. Kept narrow so tests can supply a recording
// fake.
type Runtime interface {
	Publish(topic string, env hub.Envelope)
	StartGameRuntime(roomCode string, duration time.Duration, onEnd func())
	CancelGameRuntime(roomCode string)
}

// CheckResult reports the outcome of a checkSubmission call for the
// gateway to turn into the right private/public events. Hard failures
// (room not found, store or judge errors) come back as CheckSubmission's
// error instead; a nil error with Solved=false is not a failure, and
// Message says why nothing was awarded (not solved yet, game not
// running, problem not in the room).
type CheckResult struct {
	Solved  bool
	Points  int
	Message string
}

type Service struct {
	store           store.Store
	judge           judge.Client
	runtime         Runtime
	log             *zap.Logger
	sweepLimiter    func() *rate.Limiter
	submissionCount int
}

func New(st store.Store, jc judge.Client, rt Runtime, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:           st,
		judge:           jc,
		runtime:         rt,
		log:             log,
		sweepLimiter:    judge.NewSweepLimiter,
		submissionCount: 50,
	}
}

// StartGame provisions two judge problems and transitions the room to
// started.
func (s *Service) StartGame(ctx context.Context, code, byUserID string) error {
	room, err := s.store.FindRoom(ctx, code)
	if err != nil {
		return err
	}
	if room.HostID != byUserID {
		return domain.ErrForbidden
	}
	if len(room.Participants) < 2 {
		return domain.ErrConflict
	}
	if room.Status != domain.StatusWaiting {
		return domain.ErrConflict
	}

	s.runtime.Publish(code, hub.Envelope{Type: "game-starting", Payload: map[string]string{"roomCode": code}})

	problems, err := s.judge.ListAllProblems(ctx)
	if err != nil {
		s.runtime.Publish(code, hub.Envelope{Type: "error", Payload: map[string]string{"message": "judge unavailable"}})
		return err
	}

	settings := room.Settings
	mid := (settings.MinRating + settings.MaxRating) / 2
	lower, upper := partitionByRating(problems, settings.MinRating, mid, settings.MaxRating)
	if len(lower) == 0 || len(upper) == 0 {
		s.runtime.Publish(code, hub.Envelope{Type: "error", Payload: map[string]string{"message": "Could not fetch enough problems for the requested rating window"}})
		return domain.ErrInsufficientProblems
	}

	p1 := randpick.One(lower)
	p2 := randpick.One(upper)
	roomProblems := []domain.RoomProblem{
		{RoomCode: code, ContestID: p1.ContestID, Index: p1.Index, Rating: *p1.Rating, BasePoints: domain.Problem1BasePoints, MinPoints: domain.Problem1MinPoints},
		{RoomCode: code, ContestID: p2.ContestID, Index: p2.Index, Rating: *p2.Rating, BasePoints: domain.Problem2BasePoints, MinPoints: domain.Problem2MinPoints},
	}

	if err := s.store.PutRoomProblems(ctx, code, roomProblems); err != nil {
		return err
	}
	startInstant := time.Now().UTC()
	updated, err := s.store.SetStatus(ctx, code, domain.StatusStarted, &startInstant)
	if err != nil {
		return err
	}

	duration := updated.Settings.Duration()
	s.runtime.StartGameRuntime(code, duration, func() {
		bgCtx := context.Background()
		if err := s.AutoFinalize(bgCtx, code); err != nil {
			s.log.Error("auto-finalize failed", zap.String("room", code), zap.Error(err))
		}
	})

	s.runtime.Publish(code, hub.Envelope{Type: "game-started", Payload: map[string]any{
		"roomCode":  code,
		"problems":  roomProblems,
		"startTime": startInstant.Format(time.RFC3339),
		"duration":  updated.Settings.DurationMins,
	}})
	return nil
}

func partitionByRating(problems []judge.Problem, minRating, mid, maxRating int) (lower, upper []judge.Problem) {
	for _, p := range problems {
		if p.Rating == nil {
			continue
		}
		r := *p.Rating
		switch {
		case r >= minRating && r <= mid:
			lower = append(lower, p)
		case r > mid && r <= maxRating:
			upper = append(upper, p)
		}
	}
	return lower, upper
}

// CheckSubmission verifies whether handle has an Accepted submission
// for the room's (contestId, index) problem since the game started and
// awards time-decayed points on the first such claim.
func (s *Service) CheckSubmission(ctx context.Context, code, userID, handle string, contestID int, index string) (CheckResult, error) {
	room, err := s.store.FindRoom(ctx, code)
	if err != nil {
		return CheckResult{}, err
	}
	if room.Status != domain.StatusStarted || room.StartInstant == nil {
		return CheckResult{Message: "the game is not running"}, nil
	}

	problems, err := s.store.ListRoomProblems(ctx, code)
	if err != nil {
		return CheckResult{}, err
	}
	var rp *domain.RoomProblem
	for i := range problems {
		if problems[i].ContestID == contestID && problems[i].Index == index {
			rp = &problems[i]
			break
		}
	}
	if rp == nil {
		return CheckResult{Message: "problem does not belong to this room"}, nil
	}

	existing, err := s.store.ListScoresOf(ctx, code, userID)
	if err != nil {
		return CheckResult{}, err
	}
	for _, sc := range existing {
		if sc.ContestID == contestID && sc.Index == index {
			return CheckResult{Solved: true, Points: sc.Points}, nil
		}
	}

	submissions, err := s.judge.ListRecentSubmissions(ctx, handle, s.submissionCount)
	if err != nil {
		return CheckResult{}, err
	}

	solve, found := earliestAccepted(submissions, contestID, index, *room.StartInstant, farFuture(room))
	if !found {
		return CheckResult{Message: "not solved yet"}, nil
	}

	points := scoring.Points(rp.BasePoints, rp.MinPoints, *room.StartInstant, solve)
	score := domain.Score{RoomCode: code, UserID: userID, ContestID: contestID, Index: index, SolveInstant: solve, Points: points}
	if err := s.store.InsertScore(ctx, score); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, listErr := s.store.ListScoresOf(ctx, code, userID)
			if listErr == nil {
				for _, sc := range existing {
					if sc.ContestID == contestID && sc.Index == index {
						return CheckResult{Solved: true, Points: sc.Points}, nil
					}
				}
			}
			return CheckResult{Solved: true, Points: points}, nil
		}
		return CheckResult{}, err
	}

	s.runtime.Publish(code, hub.Envelope{Type: "problem-solved", Payload: map[string]any{
		"userId": userID, "handle": handle, "contestId": contestID, "index": index, "points": points,
	}})
	s.broadcastLeaderboard(ctx, code)

	return CheckResult{Solved: true, Points: points}, nil
}

func farFuture(room domain.Room) time.Time {
	return room.StartInstant.Add(room.Settings.Duration())
}

func earliestAccepted(subs []judge.Submission, contestID int, index string, after, before time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, sub := range subs {
		if sub.ContestID != contestID || sub.Index != index || sub.Verdict != judge.VerdictAccepted {
			continue
		}
		if !sub.CreationInstant.After(after) {
			continue
		}
		if !before.IsZero() && sub.CreationInstant.After(before) {
			continue
		}
		if !found || sub.CreationInstant.Before(best) {
			best = sub.CreationInstant
			found = true
		}
	}
	return best, found
}

// AutoFinalize runs the end-of-timer sweep: for each participant who
// hasn't claimed a room problem, look for an Accepted submission in
// the game window and award it, then transition the room to ended and
// broadcast the final leaderboard. It is idempotent: replaying it
// after status is already ended just re-emits game-ended.
func (s *Service) AutoFinalize(ctx context.Context, code string) error {
	room, err := s.store.FindRoom(ctx, code)
	if err != nil {
		return err
	}

	if room.Status != domain.StatusEnded {
		if err := s.sweep(ctx, room); err != nil {
			return err
		}
		room, err = s.store.SetStatus(ctx, code, domain.StatusEnded, nil)
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}

	s.runtime.CancelGameRuntime(code)
	return s.broadcastGameEnded(ctx, code)
}

func (s *Service) sweep(ctx context.Context, room domain.Room) error {
	if room.StartInstant == nil {
		return nil
	}
	problems, err := s.store.ListRoomProblems(ctx, room.Code)
	if err != nil {
		return err
	}
	limiter := s.sweepLimiter()
	windowEnd := room.StartInstant.Add(room.Settings.Duration())

	for _, userID := range room.Participants {
		if err := limiter.Wait(ctx); err != nil {
			s.log.Warn("sweep pacing interrupted", zap.String("room", room.Code), zap.Error(err))
			continue
		}

		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			s.log.Warn("sweep: could not resolve participant", zap.String("user", userID), zap.Error(err))
			continue
		}
		existing, err := s.store.ListScoresOf(ctx, room.Code, userID)
		if err != nil {
			s.log.Warn("sweep: could not list scores", zap.String("user", userID), zap.Error(err))
			continue
		}
		solvedKeys := map[domain.ProblemKey]bool{}
		for _, sc := range existing {
			solvedKeys[domain.ProblemKey{ContestID: sc.ContestID, Index: sc.Index}] = true
		}

		outstanding := false
		for _, rp := range problems {
			if !solvedKeys[rp.Key()] {
				outstanding = true
				break
			}
		}
		if !outstanding {
			continue
		}

		submissions, err := s.judge.ListRecentSubmissions(ctx, user.Handle, s.submissionCount)
		if err != nil {
			s.log.Warn("sweep: judge call failed", zap.String("handle", user.Handle), zap.Error(err))
			continue
		}

		for _, rp := range problems {
			if solvedKeys[rp.Key()] {
				continue
			}
			solve, found := earliestAccepted(submissions, rp.ContestID, rp.Index, *room.StartInstant, windowEnd)
			if !found {
				continue
			}
			points := scoring.Points(rp.BasePoints, rp.MinPoints, *room.StartInstant, solve)
			score := domain.Score{RoomCode: room.Code, UserID: userID, ContestID: rp.ContestID, Index: rp.Index, SolveInstant: solve, Points: points}
			if err := s.store.InsertScore(ctx, score); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				s.log.Warn("sweep: insert score failed", zap.String("user", userID), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Service) broadcastLeaderboard(ctx context.Context, code string) {
	entries, err := s.projectLeaderboard(ctx, code)
	if err != nil {
		s.log.Warn("leaderboard projection failed", zap.String("room", code), zap.Error(err))
		return
	}
	s.runtime.Publish(code, hub.Envelope{Type: "leaderboard-update", Payload: entries})
}

func (s *Service) broadcastGameEnded(ctx context.Context, code string) error {
	entries, err := s.projectLeaderboard(ctx, code)
	if err != nil {
		return err
	}
	var winner *leaderboard.Entry
	if w := leaderboard.Winner(entries); w != nil {
		winner = w
	}
	s.runtime.Publish(code, hub.Envelope{Type: "game-ended", Payload: map[string]any{
		"roomCode":    code,
		"leaderboard": entries,
		"winner":      winner,
	}})
	return nil
}

func (s *Service) projectLeaderboard(ctx context.Context, code string) ([]leaderboard.Entry, error) {
	scores, err := s.store.ListScores(ctx, code)
	if err != nil {
		return nil, err
	}
	room, err := s.store.FindRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	users, err := s.store.GetUsers(ctx, room.Participants)
	if err != nil {
		return nil, err
	}
	return leaderboard.Project(scores, users), nil
}
