package sqlite

import (
	"context"
	"time"

	"github.com/laminark/laminark/internal/idgen"
	"github.com/laminark/laminark/internal/types"
)

// TopicStateRepo persists the Topic Detector's cold-start seeding history
// and full shift-decision audit trail (spec.md §3's ThresholdHistory /
// ShiftDecision entities).
type TopicStateRepo struct{ store *Store }

// TopicState returns the repository bound to this store.
func (s *Store) TopicState() *TopicStateRepo { return &TopicStateRepo{store: s} }

// RecordThreshold persists one (mean, variance) sample, used on session end.
func (r *TopicStateRepo) RecordThreshold(ctx context.Context, projectHash, sessionID string, mean, variance float64) error {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO threshold_history (project_hash, session_id, mean_distance, variance, timestamp) VALUES (?, ?, ?, ?, ?)`,
		projectHash, sessionID, mean, variance, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return types.WrapErr(types.ErrInvalid, err, "failed to record threshold history")
	}
	return nil
}

// LastNThresholds returns the most recent n ThresholdHistory rows for a
// project, used to seed a new session's cold-start EWMA state.
func (r *TopicStateRepo) LastNThresholds(ctx context.Context, projectHash string, n int) ([]types.ThresholdHistory, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT project_hash, session_id, mean_distance, variance, timestamp FROM threshold_history
		 WHERE project_hash = ? ORDER BY timestamp DESC LIMIT ?`, projectHash, n)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to read threshold history")
	}
	defer rows.Close()
	var out []types.ThresholdHistory
	for rows.Next() {
		var th types.ThresholdHistory
		var ts string
		if err := rows.Scan(&th.ProjectHash, &th.SessionID, &th.MeanDistance, &th.Variance, &ts); err != nil {
			return nil, err
		}
		th.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, th)
	}
	return out, rows.Err()
}

// RecordDecision writes a full audit row for one shift-detection call.
// Logging failures never abort detection (spec.md §4.5): callers should
// treat a non-nil error as log-and-continue, never as a reason to undo
// the detection result already returned to the caller.
func (r *TopicStateRepo) RecordDecision(ctx context.Context, d types.ShiftDecision) error {
	if d.ID == "" {
		id, err := idgen.New()
		if err != nil {
			return err
		}
		d.ID = id
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO shift_decisions (id, project_hash, session_id, distance, threshold, shifted, confidence, ewma_state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectHash, d.SessionID, d.Distance, d.Threshold, d.Shifted, d.Confidence, d.EWMAState,
		d.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return types.WrapErr(types.ErrInvalid, err, "failed to record shift decision")
	}
	return nil
}
