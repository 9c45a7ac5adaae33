package gateway

import "time"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024

	// gracePeriodWaiting/Started are the disconnect grace windows from
	// the last-session-drop rule: shorter while the room hasn't started
	// (rejoining is cheap), longer mid-game (losing a slot mid-duel is
	// costly).
	gracePeriodWaiting = 15 * time.Second
	gracePeriodStarted = 60 * time.Second

	recentSubmissionCount = 50
)
