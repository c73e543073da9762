package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/laminark/laminark/internal/idgen"
	"github.com/laminark/laminark/internal/types"
)

// StashRepo is a typed repository over the stashes table. Stash snapshots
// are explicit deep copies stored as JSON so a stash survives later
// deletion of its source observations (spec.md §9's "cyclic references"
// design note).
type StashRepo struct{ store *Store }

// Stashes returns the repository bound to this store.
func (s *Store) Stashes() *StashRepo { return &StashRepo{store: s} }

// StashInput is the payload for CreateStash.
type StashInput struct {
	ProjectHash  string
	SessionID    string
	TopicLabel   string
	Summary      string
	Observations []types.Observation
}

// CreateStash persists a new stash snapshot.
func (r *StashRepo) CreateStash(ctx context.Context, in StashInput) (*types.ContextStash, error) {
	id, err := idgen.New()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(in.Observations))
	for i, o := range in.Observations {
		ids[i] = o.ID
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	snapJSON, err := json.Marshal(in.Observations)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	_, err = r.store.db.ExecContext(ctx,
		`INSERT INTO stashes (id, project_hash, session_id, topic_label, summary, observation_ids, observation_snapshots, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.ProjectHash, in.SessionID, in.TopicLabel, in.Summary, string(idsJSON), string(snapJSON),
		now.Format(time.RFC3339Nano), string(types.StashStashed))
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to create stash")
	}

	return &types.ContextStash{
		ID: id, ProjectHash: in.ProjectHash, SessionID: in.SessionID,
		TopicLabel: in.TopicLabel, Summary: in.Summary,
		ObservationIDs: ids, ObservationSnapshots: in.Observations,
		CreatedAt: now, Status: types.StashStashed,
	}, nil
}

func scanStash(row interface{ Scan(...any) error }) (*types.ContextStash, error) {
	var st types.ContextStash
	var sessionID, topicLabel, summary, status string
	var idsJSON, snapJSON string
	var createdAt string
	var resumedAt sql.NullString

	if err := row.Scan(&st.ID, &st.ProjectHash, &sessionID, &topicLabel, &summary,
		&idsJSON, &snapJSON, &createdAt, &resumedAt, &status); err != nil {
		return nil, err
	}
	st.SessionID = sessionID
	st.TopicLabel = topicLabel
	st.Summary = summary
	st.Status = types.StashStatus(status)
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if resumedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, resumedAt.String)
		st.ResumedAt = &t
	}
	_ = json.Unmarshal([]byte(idsJSON), &st.ObservationIDs)
	_ = json.Unmarshal([]byte(snapJSON), &st.ObservationSnapshots)
	return &st, nil
}

const stashColumns = `id, project_hash, session_id, topic_label, summary, observation_ids, observation_snapshots, created_at, resumed_at, status`

// GetStash returns a stash by id, or nil if not found.
func (r *StashRepo) GetStash(ctx context.Context, projectHash, id string) (*types.ContextStash, error) {
	row := r.store.db.QueryRowContext(ctx, `SELECT `+stashColumns+` FROM stashes WHERE id = ? AND project_hash = ?`, id, projectHash)
	st, err := scanStash(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch stash %s", id)
	}
	return st, nil
}

// ListStashesOptions filters ListStashes.
type ListStashesOptions struct {
	SessionID string
	Limit     int
}

// ListStashes returns stashes ordered created_at DESC.
func (r *StashRepo) ListStashes(ctx context.Context, projectHash string, opts ListStashesOptions) ([]*types.ContextStash, error) {
	query := `SELECT ` + stashColumns + ` FROM stashes WHERE project_hash = ?`
	args := []any{projectHash}
	if opts.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, opts.SessionID)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to list stashes")
	}
	defer rows.Close()
	var out []*types.ContextStash
	for rows.Next() {
		st, err := scanStash(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetRecentStashes returns up to limit most recent stashes excluding resumed ones.
func (r *StashRepo) GetRecentStashes(ctx context.Context, projectHash string, limit int) ([]*types.ContextStash, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT `+stashColumns+` FROM stashes WHERE project_hash = ? AND status != ? ORDER BY created_at DESC LIMIT ?`,
		projectHash, string(types.StashResumed), limit)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch recent stashes")
	}
	defer rows.Close()
	var out []*types.ContextStash
	for rows.Next() {
		st, err := scanStash(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ResumeStash marks a stash resumed. Fails with ErrNotFound if missing.
func (r *StashRepo) ResumeStash(ctx context.Context, projectHash, id string) (*types.ContextStash, error) {
	now := time.Now().UTC()
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE stashes SET status = ?, resumed_at = ? WHERE id = ? AND project_hash = ?`,
		string(types.StashResumed), now.Format(time.RFC3339Nano), id, projectHash)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to resume stash %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.Wrap(types.ErrNotFound, "stash %s not found", id)
	}
	return r.GetStash(ctx, projectHash, id)
}

// DeleteStash removes a stash permanently.
func (r *StashRepo) DeleteStash(ctx context.Context, projectHash, id string) (bool, error) {
	res, err := r.store.db.ExecContext(ctx, `DELETE FROM stashes WHERE id = ? AND project_hash = ?`, id, projectHash)
	if err != nil {
		return false, types.WrapErr(types.ErrInvalid, err, "failed to delete stash %s", id)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
