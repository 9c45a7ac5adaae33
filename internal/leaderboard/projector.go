// Package leaderboard derives the ordered leaderboard from a room's
// persisted scores. The projection is computed on demand; it is never
// stored.
package leaderboard

import (
	"sort"

	"github.com/codeduel/backend/internal/domain"
)

// ProblemScore is one solved-problem line inside an Entry.
type ProblemScore struct {
	ContestID    int    `json:"contestId"`
	Index        string `json:"index"`
	Points       int    `json:"points"`
	SolveInstant int64  `json:"solveInstant"`
}

// Entry is one row of the projected leaderboard.
type Entry struct {
	UserID        string         `json:"userId"`
	Handle        string         `json:"handle"`
	Avatar        string         `json:"avatar"`
	TotalPoints   int            `json:"totalPoints"`
	SolvedCount   int            `json:"solvedCount"`
	ProblemScores []ProblemScore `json:"problemScores"`

	earliestSolveUnixNano int64
}

// Project builds the ordered leaderboard for a room from its persisted
// scores and the associated user records.
//
// Ordering: descending totalPoints, then ascending earliest solve
// instant across the user's scores (rewards whoever got to their
// points first), then ascending handle. Each entry's ProblemScores are
// sorted ascending by solve instant.
func Project(scores []domain.Score, users map[string]domain.User) []Entry {
	byUser := make(map[string]*Entry)
	order := make([]string, 0, len(users))

	entryFor := func(userID string) *Entry {
		e, ok := byUser[userID]
		if ok {
			return e
		}
		u := users[userID]
		e = &Entry{UserID: userID, Handle: u.Handle, Avatar: u.Avatar}
		byUser[userID] = e
		order = append(order, userID)
		return e
	}

	// Ensure every known participant appears even with zero solves.
	for id := range users {
		entryFor(id)
	}

	for _, s := range scores {
		e := entryFor(s.UserID)
		e.TotalPoints += s.Points
		e.SolvedCount++
		e.ProblemScores = append(e.ProblemScores, ProblemScore{
			ContestID:    s.ContestID,
			Index:        s.Index,
			Points:       s.Points,
			SolveInstant: s.SolveInstant.UnixNano(),
		})
		if e.earliestSolveUnixNano == 0 || s.SolveInstant.UnixNano() < e.earliestSolveUnixNano {
			e.earliestSolveUnixNano = s.SolveInstant.UnixNano()
		}
	}

	entries := make([]Entry, 0, len(order))
	for _, id := range order {
		e := *byUser[id]
		sort.Slice(e.ProblemScores, func(i, j int) bool {
			return e.ProblemScores[i].SolveInstant < e.ProblemScores[j].SolveInstant
		})
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		ea, eb := a.earliestSolveUnixNano, b.earliestSolveUnixNano
		if ea == 0 {
			ea = int64(^uint64(0) >> 1)
		}
		if eb == 0 {
			eb = int64(^uint64(0) >> 1)
		}
		if ea != eb {
			return ea < eb
		}
		return a.Handle < b.Handle
	})

	return entries
}

// Winner returns the first entry, or nil if the leaderboard is empty.
func Winner(entries []Entry) *Entry {
	if len(entries) == 0 {
		return nil
	}
	w := entries[0]
	return &w
}
