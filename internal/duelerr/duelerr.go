// Package duelerr maps the core's sentinel error taxonomy (see
// internal/domain) onto the two external surfaces: HTTP status codes
// for the request-response API and message strings for the duplex
// event channel's private `error` events.
package duelerr

import (
	"errors"
	"net/http"

	"github.com/codeduel/backend/internal/domain"
)

// HTTPStatus maps a core error to the status code §6.2 specifies. An
// unrecognized error is treated as Internal.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientProblems):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJudgeUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrUnknownHandle):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// EventMessage renders a core error as the text carried by a private
// `error` event on the duplex channel.
func EventMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return "not authenticated"
	case errors.Is(err, domain.ErrNotFound):
		return "room not found"
	case errors.Is(err, domain.ErrForbidden):
		return "you don't have permission to do that"
	case errors.Is(err, domain.ErrConflict):
		return "the room is not in the right state for that"
	case errors.Is(err, domain.ErrInsufficientProblems):
		return "could not fetch enough problems for the requested rating window"
	case errors.Is(err, domain.ErrJudgeUnavailable):
		return "the judge is temporarily unavailable"
	case errors.Is(err, domain.ErrUnknownHandle):
		return "unknown judge handle"
	default:
		return "internal error"
	}
}
