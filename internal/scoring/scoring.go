// Package scoring implements the time-decayed points formula shared by
// the live check-problem path and the end-of-game finalization sweep.
package scoring

import "time"

// decayPerMinute is the number of points shaved off basePoints for
// every whole minute elapsed since the game started.
const decayPerMinute = 5

// Points computes the score awarded for a solve. solveInstant must be
// strictly after startInstant; callers enforce that precondition
// before calling in (a submission at or before start is not a valid
// solve).
func Points(basePoints, minPoints int, startInstant, solveInstant time.Time) int {
	elapsedMin := int(solveInstant.Sub(startInstant) / time.Minute)
	points := basePoints - decayPerMinute*elapsedMin
	if points < minPoints {
		return minPoints
	}
	return points
}
