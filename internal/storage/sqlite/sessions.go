package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/laminark/laminark/internal/idgen"
	"github.com/laminark/laminark/internal/types"
)

// SessionRepo is a typed repository over the sessions table.
type SessionRepo struct{ store *Store }

// Sessions returns the repository bound to this store.
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{store: s} }

// Create opens a new session. If id is empty one is generated.
func (r *SessionRepo) Create(ctx context.Context, projectHash, id string) (*types.Session, error) {
	if id == "" {
		var err error
		id, err = idgen.New()
		if err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_hash, started_at) VALUES (?, ?, ?)`,
		id, projectHash, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to create session")
	}
	return &types.Session{ID: id, ProjectHash: projectHash, StartedAt: now}, nil
}

// End closes a session with an optional summary. Returns nil if not found.
func (r *SessionRepo) End(ctx context.Context, projectHash, id, summary string) (*types.Session, error) {
	now := time.Now().UTC()
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, summary = ? WHERE id = ? AND project_hash = ?`,
		now.Format(time.RFC3339Nano), summary, id, projectHash)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to end session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return r.GetByID(ctx, projectHash, id)
}

func scanSession(row interface{ Scan(...any) error }) (*types.Session, error) {
	var sess types.Session
	var startedAt string
	var endedAt, summary sql.NullString
	if err := row.Scan(&sess.ID, &sess.ProjectHash, &startedAt, &endedAt, &summary); err != nil {
		return nil, err
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sess.Summary = summary.String
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}

const sessionColumns = `id, project_hash, started_at, ended_at, summary`

// GetByID returns a session or nil if not found.
func (r *SessionRepo) GetByID(ctx context.Context, projectHash, id string) (*types.Session, error) {
	row := r.store.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND project_hash = ?`, id, projectHash)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch session %s", id)
	}
	return sess, nil
}

// GetActive returns the most recent session with ended_at IS NULL, or nil.
func (r *SessionRepo) GetActive(ctx context.Context, projectHash string) (*types.Session, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_hash = ? AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`, projectHash)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch active session")
	}
	return sess, nil
}

// GetLatest returns up to limit most recent sessions, newest first.
func (r *SessionRepo) GetLatest(ctx context.Context, projectHash string, limit int) ([]*types.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_hash = ? ORDER BY started_at DESC LIMIT ?`, projectHash, limit)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch latest sessions")
	}
	defer rows.Close()
	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
