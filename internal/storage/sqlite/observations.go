package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/laminark/laminark/internal/idgen"
	"github.com/laminark/laminark/internal/types"
)

// ObservationRepo is a typed repository over the observations table,
// mirroring the teacher's method-per-concern storage files (issues.go,
// comments.go): prepared-statement-style queries, project scoping on every
// call, and soft-delete filters applied by default.
type ObservationRepo struct {
	store *Store
}

// Observations returns the repository bound to this store.
func (s *Store) Observations() *ObservationRepo { return &ObservationRepo{store: s} }

// ObservationListOptions filters ObservationRepo.List, mirroring spec.md
// §4.2's enumerated list options.
type ObservationListOptions struct {
	Limit         int
	Offset        int
	SessionID     string
	Kinds         []types.ObservationKind
	Sources       []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Create inserts a new Observation, generating its id. title/source/kind
// auto-defaults mirror spec.md §3.
func (r *ObservationRepo) Create(ctx context.Context, projectHash, content, title, source string, kind types.ObservationKind) (*types.Observation, error) {
	return r.createClassified(ctx, projectHash, content, title, source, "", kind)
}

// CreateClassified inserts a new Observation already bound to a session.
func (r *ObservationRepo) CreateClassified(ctx context.Context, projectHash, content, title, source, sessionID string, kind types.ObservationKind) (*types.Observation, error) {
	return r.createClassified(ctx, projectHash, content, title, source, sessionID, kind)
}

func (r *ObservationRepo) createClassified(ctx context.Context, projectHash, content, title, source, sessionID string, kind types.ObservationKind) (*types.Observation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, types.Wrap(types.ErrInvalid, "content must not be empty")
	}
	if kind == "" {
		kind = types.KindReference
	}
	if !kind.IsValid() {
		return nil, types.Wrap(types.ErrInvalid, "unknown observation kind %q", kind)
	}
	if title == "" {
		title = autoTitle(content)
	}
	if len(title) > 200 {
		title = title[:200]
	}

	id, err := idgen.New()
	if err != nil {
		return nil, fmt.Errorf("observations: %w", err)
	}
	now := time.Now().UTC()

	res, err := r.store.db.ExecContext(ctx,
		`INSERT INTO observations (id, project_hash, content, title, source, session_id, kind, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, projectHash, content, title, nullIfEmpty(source), nullIfEmpty(sessionID), string(kind),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to insert observation")
	}
	rowID, _ := res.LastInsertId()

	return &types.Observation{
		ID: id, ProjectHash: projectHash, Content: content, Title: title,
		Source: source, SessionID: sessionID, Kind: kind,
		RowID: rowID, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// autoTitle generates a title from the first sentence or the first 80
// characters of content, per spec.md §3.
func autoTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexAny(content, ".\n"); idx > 0 && idx < 200 {
		return strings.TrimSpace(content[:idx])
	}
	if len(content) > 80 {
		return content[:80]
	}
	return content
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const obsColumns = `rowid, id, project_hash, content, title, source, session_id, kind, embedding, embedding_model, embedding_version, created_at, updated_at, deleted_at`

func scanObservation(row interface{ Scan(...any) error }) (*types.Observation, error) {
	var o types.Observation
	var title, source, sessionID, embModel, embVersion sql.NullString
	var deletedAt sql.NullString
	var createdAt, updatedAt string
	var embedding []byte

	if err := row.Scan(&o.RowID, &o.ID, &o.ProjectHash, &o.Content, &title, &source, &sessionID,
		&o.Kind, &embedding, &embModel, &embVersion, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	o.Title = title.String
	o.Source = source.String
	o.SessionID = sessionID.String
	o.EmbeddingModel = embModel.String
	o.EmbeddingVersion = embVersion.String
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		o.DeletedAt = &t
	}
	if len(embedding) > 0 {
		_ = json.Unmarshal(embedding, &o.Embedding)
	}
	return &o, nil
}

// GetByID returns a non-deleted observation scoped to projectHash.
func (r *ObservationRepo) GetByID(ctx context.Context, projectHash, id string) (*types.Observation, error) {
	return r.GetByIDScoped(ctx, []string{projectHash}, id)
}

// GetByIDScoped is GetByID widened to a cross-access scope set (spec.md
// §4.4): id must belong to one of the projects in scope.
func (r *ObservationRepo) GetByIDScoped(ctx context.Context, scope []string, id string) (*types.Observation, error) {
	args := []any{id}
	clause := projectScopeClause("project_hash", scope, &args)
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+obsColumns+` FROM observations WHERE id = ? AND `+clause+` AND deleted_at IS NULL`, args...)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch observation %s", id)
	}
	return o, nil
}

// GetByIDIncludingDeleted returns the observation regardless of soft-delete state.
func (r *ObservationRepo) GetByIDIncludingDeleted(ctx context.Context, projectHash, id string) (*types.Observation, error) {
	return r.GetByIDIncludingDeletedScoped(ctx, []string{projectHash}, id)
}

// GetByIDIncludingDeletedScoped is GetByIDIncludingDeleted widened to a
// cross-access scope set (spec.md §4.4).
func (r *ObservationRepo) GetByIDIncludingDeletedScoped(ctx context.Context, scope []string, id string) (*types.Observation, error) {
	args := []any{id}
	clause := projectScopeClause("project_hash", scope, &args)
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+obsColumns+` FROM observations WHERE id = ? AND `+clause, args...)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch observation %s", id)
	}
	return o, nil
}

// GetByTitle returns non-deleted observations whose title matches pattern
// (case-insensitive substring).
func (r *ObservationRepo) GetByTitle(ctx context.Context, projectHash, pattern string, limit int) ([]*types.Observation, error) {
	return r.GetByTitleScoped(ctx, []string{projectHash}, pattern, limit)
}

// GetByTitleScoped is GetByTitle widened to a cross-access scope set
// (spec.md §4.4).
func (r *ObservationRepo) GetByTitleScoped(ctx context.Context, scope []string, pattern string, limit int) ([]*types.Observation, error) {
	if limit <= 0 {
		limit = 20
	}
	var args []any
	clause := projectScopeClause("project_hash", scope, &args)
	args = append(args, "%"+pattern+"%", limit)
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT `+obsColumns+` FROM observations
		 WHERE `+clause+` AND deleted_at IS NULL AND title LIKE ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to query by title")
	}
	defer rows.Close()
	return collectObservations(rows)
}

func collectObservations(rows *sql.Rows) ([]*types.Observation, error) {
	var out []*types.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// List returns observations matching opts, ordered created_at DESC, rowid DESC.
func (r *ObservationRepo) List(ctx context.Context, projectHash string, opts ObservationListOptions) ([]*types.Observation, error) {
	return r.list(ctx, []string{projectHash}, opts, false)
}

// ListScoped is List widened to a cross-access scope set (spec.md §4.4).
func (r *ObservationRepo) ListScoped(ctx context.Context, scope []string, opts ObservationListOptions) ([]*types.Observation, error) {
	return r.list(ctx, scope, opts, false)
}

// ListIncludingDeleted is List without the soft-delete filter.
func (r *ObservationRepo) ListIncludingDeleted(ctx context.Context, projectHash string, opts ObservationListOptions) ([]*types.Observation, error) {
	return r.list(ctx, []string{projectHash}, opts, true)
}

func (r *ObservationRepo) list(ctx context.Context, scope []string, opts ObservationListOptions, includeDeleted bool) ([]*types.Observation, error) {
	var args []any
	clause := projectScopeClause("project_hash", scope, &args)
	query := strings.Builder{}
	query.WriteString(`SELECT ` + obsColumns + ` FROM observations WHERE ` + clause)

	if !includeDeleted {
		query.WriteString(` AND deleted_at IS NULL`)
	}
	if opts.SessionID != "" {
		query.WriteString(` AND session_id = ?`)
		args = append(args, opts.SessionID)
	}
	if len(opts.Kinds) > 0 {
		placeholders := make([]string, len(opts.Kinds))
		for i, k := range opts.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		query.WriteString(` AND kind IN (` + strings.Join(placeholders, ",") + `)`)
	}
	if len(opts.Sources) > 0 {
		placeholders := make([]string, len(opts.Sources))
		for i, s := range opts.Sources {
			placeholders[i] = "?"
			args = append(args, s)
		}
		query.WriteString(` AND source IN (` + strings.Join(placeholders, ",") + `)`)
	}
	if opts.CreatedAfter != nil {
		query.WriteString(` AND created_at > ?`)
		args = append(args, opts.CreatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if opts.CreatedBefore != nil {
		query.WriteString(` AND created_at < ?`)
		args = append(args, opts.CreatedBefore.UTC().Format(time.RFC3339Nano))
	}

	query.WriteString(` ORDER BY created_at DESC, rowid DESC`)
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, limit, opts.Offset)

	rows, err := r.store.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to list observations")
	}
	defer rows.Close()
	return collectObservations(rows)
}

// ObservationUpdate carries the metadata-only fields update may change.
// Content is immutable after creation per spec.md §3's lifecycle.
type ObservationUpdate struct {
	Title  *string
	Source *string
}

// Update patches metadata fields on an observation.
func (r *ObservationRepo) Update(ctx context.Context, projectHash, id string, upd ObservationUpdate) (*types.Observation, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Source != nil {
		sets = append(sets, "source = ?")
		args = append(args, *upd.Source)
	}
	args = append(args, id, projectHash)

	res, err := r.store.db.ExecContext(ctx,
		`UPDATE observations SET `+strings.Join(sets, ", ")+` WHERE id = ? AND project_hash = ? AND deleted_at IS NULL`,
		args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to update observation %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.Wrap(types.ErrNotFound, "observation %s not found", id)
	}
	return r.GetByID(ctx, projectHash, id)
}

// SoftDelete marks an observation deleted. Returns false if not found.
func (r *ObservationRepo) SoftDelete(ctx context.Context, projectHash, id string) (bool, error) {
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE observations SET deleted_at = ?, updated_at = ? WHERE id = ? AND project_hash = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), id, projectHash)
	if err != nil {
		return false, types.WrapErr(types.ErrInvalid, err, "failed to soft-delete %s", id)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Restore clears deleted_at. Returns false if not found or not deleted.
func (r *ObservationRepo) Restore(ctx context.Context, projectHash, id string) (bool, error) {
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE observations SET deleted_at = NULL, updated_at = ? WHERE id = ? AND project_hash = ? AND deleted_at IS NOT NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id, projectHash)
	if err != nil {
		return false, types.WrapErr(types.ErrInvalid, err, "failed to restore %s", id)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Count returns the number of non-deleted observations in the project.
func (r *ObservationRepo) Count(ctx context.Context, projectHash string) (int, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE project_hash = ? AND deleted_at IS NULL`, projectHash).Scan(&n)
	if err != nil {
		return 0, types.WrapErr(types.ErrInvalid, err, "failed to count observations")
	}
	return n, nil
}

// PendingEmbedding returns up to limit observation ids lacking an embedding,
// in strict creation order (rowid ASC), for the Embedding Pipeline's
// single-queue poll — grounded on devlog_enrichment.go's one-row-at-a-time
// SELECT ... LIMIT 1 idiom, generalized to an optional small batch.
func (r *ObservationRepo) PendingEmbedding(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT id FROM observations WHERE embedding_model IS NULL AND deleted_at IS NULL ORDER BY rowid ASC LIMIT ?`, limit)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to query pending embeddings")
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

// SetEmbedding writes the embedding vector and model/version stamp for an
// observation, mirroring the Embedding Pipeline's per-observation commit
// (spec.md §4.3 step 2), and — when the store has a vector index available
// — mirrors the same vector into observation_vectors so search.SearchVector
// can serve the query from vec0's own KNN index instead of an in-process
// scan, per spec.md §3's vector-table lifetime invariant.
func (r *ObservationRepo) SetEmbedding(ctx context.Context, id string, vector []float32, model, version string) error {
	blob, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("observations: failed to encode embedding: %w", err)
	}
	_, err = r.store.db.ExecContext(ctx,
		`UPDATE observations SET embedding = ?, embedding_model = ?, embedding_version = ?, updated_at = ? WHERE id = ?`,
		blob, model, version, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return types.WrapErr(types.ErrInvalid, err, "failed to store embedding for %s", id)
	}

	if r.store.HasVectorSupport() {
		if err := r.store.ensureVectorIndex(ctx, len(vector)); err != nil {
			r.store.log.Warn("failed to create mirrored vector index", "error", err)
		} else if r.store.VectorDim() == len(vector) {
			if _, err := r.store.db.ExecContext(ctx,
				`INSERT OR REPLACE INTO observation_vectors(observation_id, embedding) VALUES (?, ?)`,
				id, string(blob)); err != nil {
				r.store.log.Warn("failed to mirror embedding into vector index", "id", id, "error", err)
			}
		}
	}
	return nil
}
