// Package httpapi serves the request-response surface of the duel
// server: login/session, room setup and read-only game state, all
// behind JWT auth, routed with go-chi/chi.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/codeduel/backend/internal/authn"
	"github.com/codeduel/backend/internal/domain"
	"github.com/codeduel/backend/internal/duelerr"
	"github.com/codeduel/backend/internal/gameservice"
	"github.com/codeduel/backend/internal/judge"
	"github.com/codeduel/backend/internal/leaderboard"
	"github.com/codeduel/backend/internal/roomservice"
	"github.com/codeduel/backend/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type API struct {
	store store.Store
	judge judge.Client
	rooms *roomservice.Service
	games *gameservice.Service
	auth  *authn.Verifier
	log   *zap.Logger
}

func New(st store.Store, jc judge.Client, rooms *roomservice.Service, games *gameservice.Service, auth *authn.Verifier, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{store: st, judge: jc, rooms: rooms, games: games, auth: auth, log: log}
}

// Router builds the full chi mux: request-id and panic recovery are
// outermost, then structured access logging, with JWT auth applied
// only to the routes that need an identity (everything except login).
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(a.log))

	r.Post("/auth/login", a.login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(a.auth))
		r.Get("/auth/me", a.me)
		r.Post("/auth/logout", a.logout)

		r.Post("/rooms/create", a.createRoom)
		r.Post("/rooms/{code}/join", a.joinRoom)
		r.Post("/rooms/{code}/leave", a.leaveRoom)
		r.Put("/rooms/{code}/settings", a.updateSettings)
		r.Get("/rooms/{code}", a.getRoom)

		r.Get("/game/{code}/problems", a.getProblems)
		r.Get("/game/{code}/leaderboard", a.getLeaderboard)
		r.Get("/game/{code}/state", a.getState)
	})

	return r
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Handle == "" {
		writeError(w, http.StatusBadRequest, "handle is required")
		return
	}

	resolved, err := a.judge.ResolveUser(r.Context(), body.Handle)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownHandle) {
			writeError(w, http.StatusBadRequest, "unknown judge handle")
			return
		}
		writeError(w, http.StatusBadGateway, "judge unavailable")
		return
	}

	user, err := a.store.UpsertUserByHandle(r.Context(), resolved.Handle, resolved.Rating, resolved.Avatar)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := a.auth.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user, "token": token})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	user, err := a.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	var settings domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings")
		return
	}
	room, err := a.rooms.CreateRoom(r.Context(), userID, settings)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": room.Code, "settings": room.Settings, "participants": room.Participants})
}

func (a *API) joinRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	code := chi.URLParam(r, "code")
	room, err := a.rooms.JoinRoom(r.Context(), code, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": room.Participants})
}

func (a *API) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	code := chi.URLParam(r, "code")
	if err := a.rooms.LeaveRoom(r.Context(), code, userID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *API) updateSettings(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	code := chi.URLParam(r, "code")
	var body struct {
		MinRating int `json:"minRating"`
		MaxRating int `json:"maxRating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings")
		return
	}
	room, err := a.rooms.UpdateSettings(r.Context(), code, userID, body.MinRating, body.MaxRating)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	room, err := a.store.FindRoom(r.Context(), code)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *API) getProblems(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	problems, err := a.store.ListRoomProblems(r.Context(), code)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"problems": problems})
}

func (a *API) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	entries, err := a.projectLeaderboard(r, code)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func (a *API) getState(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	code := chi.URLParam(r, "code")
	room, err := a.store.FindRoom(r.Context(), code)
	if err != nil {
		writeErr(w, err)
		return
	}
	entries, err := a.projectLeaderboard(r, code)
	if err != nil {
		writeErr(w, err)
		return
	}
	mySolves, err := a.store.ListScoresOf(r.Context(), code, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":        room,
		"leaderboard": entries,
		"mySolves":    mySolves,
	})
}

func (a *API) projectLeaderboard(r *http.Request, code string) ([]leaderboard.Entry, error) {
	scores, err := a.store.ListScores(r.Context(), code)
	if err != nil {
		return nil, err
	}
	room, err := a.store.FindRoom(r.Context(), code)
	if err != nil {
		return nil, err
	}
	users, err := a.store.GetUsers(r.Context(), room.Participants)
	if err != nil {
		return nil, err
	}
	return leaderboard.Project(scores, users), nil
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, duelerr.HTTPStatus(err), duelerr.EventMessage(err))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
