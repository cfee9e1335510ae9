package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already registered")
)

// SessionStatus is the lifecycle state of a registered session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionStuck  SessionStatus = "stuck"
	SessionClosed SessionStatus = "closed"
)

// Session is the registry row for one solver session.
type Session struct {
	ID          string        `db:"id" json:"id"`
	Fingerprint string        `db:"fingerprint" json:"fingerprint"`
	Tiles       int           `db:"tiles" json:"tiles"`
	Constraints int           `db:"constraint_count" json:"constraints"`
	Seed        uint32        `db:"seed" json:"seed"`
	Steps       int           `db:"steps" json:"steps"`
	Collapsed   int           `db:"collapsed" json:"collapsed"`
	Status      SessionStatus `db:"status" json:"status"`
	RemoteAddr  string        `db:"remote_addr" json:"remote_addr,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

const sessionColumns = `id, fingerprint, tiles, constraint_count, seed, steps, collapsed, status, remote_addr, created_at, updated_at`

// CreateSession registers a new session. Zero timestamps are set to now and
// an empty status to active.
func (d *Database) CreateSession(ctx context.Context, s *Session) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	if s.Status == "" {
		s.Status = SessionActive
	}

	_, err := d.db.ExecContext(ctx, d.qb.Build(
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.Fingerprint, s.Tiles, s.Constraints, int64(s.Seed), s.Steps, s.Collapsed,
		string(s.Status), s.RemoteAddr, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if d.dialect.IsDuplicateKeyError(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSession records progress and status for a session.
func (d *Database) UpdateSession(ctx context.Context, id string, steps, collapsed int, status SessionStatus) error {
	result, err := d.db.ExecContext(ctx, d.qb.Build(
		`UPDATE sessions SET steps = ?, collapsed = ?, status = ?, updated_at = ? WHERE id = ?`),
		steps, collapsed, string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession looks up a session by id.
func (d *Database) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := d.db.GetContext(ctx, &s, d.qb.Build(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns up to limit sessions, newest first.
func (d *Database) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}

	sessions := []Session{}
	err := d.db.SelectContext(ctx, &sessions, d.qb.Build(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// CountByFingerprint returns how many sessions ran the rule set with the
// given fingerprint.
func (d *Database) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	var count int
	err := d.db.GetContext(ctx, &count, d.qb.Build(`SELECT COUNT(*) FROM sessions WHERE fingerprint = ?`), fingerprint)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// CloseStale marks every active session closed. wfcd calls it at startup,
// since no session survives a restart.
func (d *Database) CloseStale(ctx context.Context) (int64, error) {
	result, err := d.db.ExecContext(ctx, d.qb.Build(
		`UPDATE sessions SET status = ?, updated_at = ? WHERE status = ?`),
		string(SessionClosed), time.Now().UTC(), string(SessionActive),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return result.RowsAffected()
}
