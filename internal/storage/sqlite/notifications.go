package sqlite

import (
	"context"
	"time"

	"github.com/laminark/laminark/internal/idgen"
	"github.com/laminark/laminark/internal/types"
)

// NotificationRepo is a typed repository over the transient, consume-on-read
// notifications queue.
type NotificationRepo struct{ store *Store }

// Notifications returns the repository bound to this store.
func (s *Store) Notifications() *NotificationRepo { return &NotificationRepo{store: s} }

// Add enqueues a notification for a project.
func (r *NotificationRepo) Add(ctx context.Context, projectHash, message string) error {
	id, err := idgen.New()
	if err != nil {
		return err
	}
	_, err = r.store.db.ExecContext(ctx,
		`INSERT INTO notifications (id, project_hash, message, created_at) VALUES (?, ?, ?, ?)`,
		id, projectHash, message, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return types.WrapErr(types.ErrInvalid, err, "failed to enqueue notification")
	}
	return nil
}

// ConsumePending returns and atomically deletes all pending notifications
// for a project. Consume-on-read: at-most-once delivery (spec.md §4.7).
func (r *NotificationRepo) ConsumePending(ctx context.Context, projectHash string) ([]*types.Notification, error) {
	var out []*types.Notification
	err := r.store.RunInTransaction(ctx, func(tx *Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, project_hash, message, created_at FROM notifications WHERE project_hash = ? ORDER BY created_at ASC`, projectHash)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var n types.Notification
			var createdAt string
			if err := rows.Scan(&n.ID, &n.ProjectHash, &n.Message, &createdAt); err != nil {
				rows.Close()
				return err
			}
			n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
			out = append(out, &n)
			ids = append(ids, n.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to consume notifications")
	}
	return out, nil
}
