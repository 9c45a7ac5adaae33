// Package postgres implements store.Store on top of PostgreSQL via
// pgx, following the teacher's raw-SQL-via-pgxpool style: every
// operation is one parameterized query or one explicit transaction,
// with no ORM layer between the domain types and the wire.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeduel/backend/internal/domain"
	"github.com/codeduel/backend/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Schema is the DDL for the tables this store queries. It is embedded
// here (rather than in separate .sql files) to keep the store
// self-contained. Nothing in this repository executes it: the database
// must already have these tables when the server starts.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id      uuid PRIMARY KEY,
	handle  text NOT NULL UNIQUE,
	rating  int  NOT NULL DEFAULT 0,
	avatar  text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rooms (
	code             text PRIMARY KEY,
	host_id          uuid NOT NULL REFERENCES users(id),
	status           text NOT NULL,
	min_rating       int  NOT NULL,
	max_rating       int  NOT NULL,
	question_count   int  NOT NULL,
	duration_minutes int  NOT NULL,
	start_instant    timestamptz,
	created_at       timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS room_participants (
	room_code text NOT NULL REFERENCES rooms(code) ON DELETE CASCADE,
	user_id   uuid NOT NULL REFERENCES users(id),
	joined_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (room_code, user_id)
);

CREATE TABLE IF NOT EXISTS room_problems (
	room_code   text NOT NULL REFERENCES rooms(code) ON DELETE CASCADE,
	contest_id  int  NOT NULL,
	index       text NOT NULL,
	rating      int  NOT NULL,
	base_points int  NOT NULL,
	min_points  int  NOT NULL,
	PRIMARY KEY (room_code, contest_id, index)
);

CREATE TABLE IF NOT EXISTS scores (
	room_code     text NOT NULL REFERENCES rooms(code) ON DELETE CASCADE,
	user_id       uuid NOT NULL REFERENCES users(id),
	contest_id    int  NOT NULL,
	index         text NOT NULL,
	solve_instant timestamptz NOT NULL,
	points        int  NOT NULL,
	PRIMARY KEY (room_code, user_id, contest_id, index)
);
`

func (s *Store) UpsertUserByHandle(ctx context.Context, handle string, rating int, avatar string) (domain.User, error) {
	id := uuid.NewString()
	var u domain.User
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, handle, rating, avatar)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (handle) DO UPDATE SET rating = EXCLUDED.rating, avatar = EXCLUDED.avatar
		RETURNING id, handle, rating, avatar
	`, id, handle, rating, avatar).Scan(&u.ID, &u.Handle, &u.Rating, &u.Avatar)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, `SELECT id, handle, rating, avatar FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Handle, &u.Rating, &u.Avatar)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id, handle, rating, avatar FROM users WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Handle, &u.Rating, &u.Avatar); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (s *Store) CreateRoom(ctx context.Context, code, hostID string, settings domain.Settings) (domain.Room, error) {
	settings = settings.Coerce()
	_, err := s.db.Exec(ctx, `
		INSERT INTO rooms (code, host_id, status, min_rating, max_rating, question_count, duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, code, hostID, string(domain.StatusWaiting), settings.MinRating, settings.MaxRating, settings.QuestionCount, settings.DurationMins)
	if isUniqueViolation(err) {
		return domain.Room{}, domain.ErrAlreadyExists
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO room_participants (room_code, user_id) VALUES ($1, $2)`, code, hostID); err != nil {
		return domain.Room{}, fmt.Errorf("add host participant: %w", err)
	}
	return s.FindRoom(ctx, code)
}

func (s *Store) FindRoom(ctx context.Context, code string) (domain.Room, error) {
	var r domain.Room
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT code, host_id, status, min_rating, max_rating, question_count, duration_minutes, start_instant
		FROM rooms WHERE code = $1
	`, code).Scan(&r.Code, &r.HostID, &status, &r.Settings.MinRating, &r.Settings.MaxRating,
		&r.Settings.QuestionCount, &r.Settings.DurationMins, &r.StartInstant)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("find room: %w", err)
	}
	r.Status = domain.Status(status)

	rows, err := s.db.Query(ctx, `SELECT user_id FROM room_participants WHERE room_code = $1 ORDER BY joined_at ASC`, code)
	if err != nil {
		return domain.Room{}, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.Room{}, fmt.Errorf("scan participant: %w", err)
		}
		r.Participants = append(r.Participants, id)
	}
	return r, rows.Err()
}

func (s *Store) FindRoomByParticipantAndStatus(ctx context.Context, userID string, status domain.Status) (domain.Room, error) {
	var code string
	err := s.db.QueryRow(ctx, `
		SELECT r.code FROM rooms r
		JOIN room_participants p ON p.room_code = r.code
		WHERE p.user_id = $1 AND r.status = $2
		LIMIT 1
	`, userID, string(status)).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("find room by participant: %w", err)
	}
	return s.FindRoom(ctx, code)
}

func (s *Store) AddParticipant(ctx context.Context, code, userID string) (domain.Room, error) {
	if _, err := s.FindRoom(ctx, code); err != nil {
		return domain.Room{}, err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO room_participants (room_code, user_id) VALUES ($1, $2)
		ON CONFLICT (room_code, user_id) DO NOTHING
	`, code, userID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("add participant: %w", err)
	}
	return s.FindRoom(ctx, code)
}

func (s *Store) RemoveParticipant(ctx context.Context, code, userID string) (store.RemoveParticipantResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return store.RemoveParticipantResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM room_participants WHERE room_code = $1 AND user_id = $2`, code, userID); err != nil {
		return store.RemoveParticipantResult{}, fmt.Errorf("remove participant: %w", err)
	}

	var remaining int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM room_participants WHERE room_code = $1`, code).Scan(&remaining); err != nil {
		return store.RemoveParticipantResult{}, fmt.Errorf("count participants: %w", err)
	}

	if remaining == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE code = $1`, code); err != nil {
			return store.RemoveParticipantResult{}, fmt.Errorf("cascade delete room: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return store.RemoveParticipantResult{}, fmt.Errorf("commit tx: %w", err)
		}
		return store.RemoveParticipantResult{Deleted: true}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return store.RemoveParticipantResult{}, fmt.Errorf("commit tx: %w", err)
	}
	room, err := s.FindRoom(ctx, code)
	if err != nil {
		return store.RemoveParticipantResult{}, err
	}
	return store.RemoveParticipantResult{Room: &room}, nil
}

func (s *Store) SetHost(ctx context.Context, code, userID string) (domain.Room, error) {
	tag, err := s.db.Exec(ctx, `UPDATE rooms SET host_id = $2 WHERE code = $1`, code, userID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("set host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Room{}, domain.ErrNotFound
	}
	return s.FindRoom(ctx, code)
}

func (s *Store) SetStatus(ctx context.Context, code string, status domain.Status, startInstant *time.Time) (domain.Room, error) {
	var err error
	if startInstant != nil {
		_, err = s.db.Exec(ctx, `UPDATE rooms SET status = $2, start_instant = $3 WHERE code = $1`, code, string(status), *startInstant)
	} else {
		_, err = s.db.Exec(ctx, `UPDATE rooms SET status = $2 WHERE code = $1`, code, string(status))
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("set status: %w", err)
	}
	return s.FindRoom(ctx, code)
}

func (s *Store) UpdateSettings(ctx context.Context, code string, minRating, maxRating int) (domain.Room, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rooms SET min_rating = $2, max_rating = $3
		WHERE code = $1 AND status = $4
	`, code, minRating, maxRating, string(domain.StatusWaiting))
	if err != nil {
		return domain.Room{}, fmt.Errorf("update settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindRoom(ctx, code); err != nil {
			return domain.Room{}, err
		}
		return domain.Room{}, domain.ErrConflict
	}
	return s.FindRoom(ctx, code)
}

func (s *Store) PutRoomProblems(ctx context.Context, code string, problems []domain.RoomProblem) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM room_problems WHERE room_code = $1`, code); err != nil {
		return fmt.Errorf("clear room problems: %w", err)
	}
	for _, p := range problems {
		_, err := tx.Exec(ctx, `
			INSERT INTO room_problems (room_code, contest_id, index, rating, base_points, min_points)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, code, p.ContestID, p.Index, p.Rating, p.BasePoints, p.MinPoints)
		if err != nil {
			return fmt.Errorf("insert room problem: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListRoomProblems(ctx context.Context, code string) ([]domain.RoomProblem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT room_code, contest_id, index, rating, base_points, min_points
		FROM room_problems WHERE room_code = $1
	`, code)
	if err != nil {
		return nil, fmt.Errorf("list room problems: %w", err)
	}
	defer rows.Close()
	var out []domain.RoomProblem
	for rows.Next() {
		var p domain.RoomProblem
		if err := rows.Scan(&p.RoomCode, &p.ContestID, &p.Index, &p.Rating, &p.BasePoints, &p.MinPoints); err != nil {
			return nil, fmt.Errorf("scan room problem: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertScore(ctx context.Context, sc domain.Score) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scores (room_code, user_id, contest_id, index, solve_instant, points)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sc.RoomCode, sc.UserID, sc.ContestID, sc.Index, sc.SolveInstant, sc.Points)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

func (s *Store) ListScores(ctx context.Context, code string) ([]domain.Score, error) {
	return s.queryScores(ctx, `
		SELECT room_code, user_id, contest_id, index, solve_instant, points
		FROM scores WHERE room_code = $1
	`, code)
}

func (s *Store) ListScoresOf(ctx context.Context, code, userID string) ([]domain.Score, error) {
	return s.queryScores(ctx, `
		SELECT room_code, user_id, contest_id, index, solve_instant, points
		FROM scores WHERE room_code = $1 AND user_id = $2
	`, code, userID)
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]domain.Score, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()
	var out []domain.Score
	for rows.Next() {
		var sc domain.Score
		if err := rows.Scan(&sc.RoomCode, &sc.UserID, &sc.ContestID, &sc.Index, &sc.SolveInstant, &sc.Points); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) ListStartedRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.db.Query(ctx, `SELECT code FROM rooms WHERE status = $1`, string(domain.StatusStarted))
	if err != nil {
		return nil, fmt.Errorf("list started rooms: %w", err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan room code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Room, 0, len(codes))
	for _, code := range codes {
		r, err := s.FindRoom(ctx, code)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
