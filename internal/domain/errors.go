package domain

import "errors"

// Error taxonomy used across the core. Callers match with errors.Is;
// the HTTP and event-gateway boundaries each carry their own mapping
// from these sentinels to their wire representation.
var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientProblems = errors.New("insufficient problems")
	ErrJudgeUnavailable    = errors.New("judge unavailable")
	ErrUnknownHandle       = errors.New("unknown handle")
	ErrInternal            = errors.New("internal error")

	// ErrAlreadyExists is returned by Store.CreateRoom on code collision
	// and by Store.InsertScore on a duplicate (room, user, contestId,
	// index) key.
	ErrAlreadyExists = errors.New("already exists")
)
