// Package store persists users, sessions and their append-only turn history
// to Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/arman-khosravi/tabletalk/internal/session"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrStatusRegression = errors.New("terminal session status cannot change")
)

type Store struct {
	DB *sql.DB
}

// New builds a store from DATABASE_URL or the POSTGRES_* variables.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the store from an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`,
		email, hash).Scan(&id)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return "", ErrEmailTaken
	}
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

func (s *Store) CreateSession(ctx context.Context, sessionID, userID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, status) VALUES ($1,$2,$3)`,
		sessionID, userID, session.StatusActive)
	return err
}

// SaveTurn appends one turn. The seq subquery keeps the table append-only
// without a separate counter.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, turn session.Turn) error {
	var callJSON, recordJSON interface{}
	if turn.Call != nil {
		raw, err := json.Marshal(turn.Call)
		if err != nil {
			return fmt.Errorf("marshal call: %w", err)
		}
		callJSON = raw
	}
	if turn.Record != nil {
		raw, err := json.Marshal(turn.Record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		recordJSON = raw
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, content, call, record, created_at)
		 VALUES ($1, (SELECT COALESCE(MAX(seq)+1,0) FROM turns WHERE session_id=$1), $2, $3, $4, $5, $6)`,
		sessionID, turn.Role, turn.Content, callJSON, recordJSON, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE sessions SET updated_at=now() WHERE id=$1`, sessionID)
	return err
}

// SaveStatus moves a session's status forward. Terminal statuses never
// change; re-asserting the current terminal status is a no-op.
func (s *Store) SaveStatus(ctx context.Context, sessionID, status string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET status=$2, updated_at=now()
		 WHERE id=$1 AND (status=$3 OR status=$2)`,
		sessionID, status, session.StatusActive)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		if err := s.DB.QueryRowContext(ctx,
			`SELECT status FROM sessions WHERE id=$1`, sessionID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return fmt.Errorf("session %s is %s: %w", sessionID, current, ErrStatusRegression)
	}
	return nil
}

// LoadSession rehydrates a session with its full turn history.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var userID, status string
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, status FROM sessions WHERE id=$1`, sessionID).Scan(&userID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT role, content, call, record, created_at FROM turns WHERE session_id=$1 ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var turn session.Turn
		var content sql.NullString
		var callJSON, recordJSON []byte
		if err := rows.Scan(&turn.Role, &content, &callJSON, &recordJSON, &turn.CreatedAt); err != nil {
			return nil, err
		}
		turn.Content = content.String
		if len(callJSON) > 0 {
			turn.Call = &session.ToolCall{}
			if err := json.Unmarshal(callJSON, turn.Call); err != nil {
				return nil, fmt.Errorf("decode call: %w", err)
			}
		}
		if len(recordJSON) > 0 {
			turn.Record = &session.ToolRecord{}
			if err := json.Unmarshal(recordJSON, turn.Record); err != nil {
				return nil, fmt.Errorf("decode record: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return session.Restore(sessionID, userID, status, turns)
}

// SessionOwner reports the owning user of a session.
func (s *Store) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	var userID string
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE id=$1`, sessionID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return userID, err
}

// SessionAnswered reports whether a session's history ends on an agent
// answer. The janitor closes answered sessions as completed and the rest
// as failed.
func (s *Store) SessionAnswered(ctx context.Context, sessionID string) (bool, error) {
	var role string
	var content sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT role, content FROM turns WHERE session_id=$1 ORDER BY seq DESC LIMIT 1`,
		sessionID).Scan(&role, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == session.RoleAgent && content.String != "", nil
}

// IdleSessionIDs lists active sessions untouched since the cutoff; the
// janitor closes them.
func (s *Store) IdleSessionIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status=$1 AND updated_at < $2`,
		session.StatusActive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, sessionID)
	return err
}
