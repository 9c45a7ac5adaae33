package duelerr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/codeduel/backend/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotAuthenticated, http.StatusUnauthorized},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInsufficientProblems, http.StatusBadRequest},
		{domain.ErrJudgeUnavailable, http.StatusBadGateway},
		{domain.ErrUnknownHandle, http.StatusBadRequest},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		require.Equal(t, c.want, HTTPStatus(c.err))
	}
}

func TestHTTPStatus_UnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("resolve failed: %w", domain.ErrJudgeUnavailable)
	require.Equal(t, http.StatusBadGateway, HTTPStatus(wrapped))
}

func TestEventMessage_NeverEmpty(t *testing.T) {
	errs := []error{
		domain.ErrNotAuthenticated, domain.ErrNotFound, domain.ErrForbidden,
		domain.ErrConflict, domain.ErrInsufficientProblems, domain.ErrJudgeUnavailable,
		domain.ErrUnknownHandle, fmt.Errorf("boom"),
	}
	for _, err := range errs {
		require.NotEmpty(t, EventMessage(err))
	}
}
