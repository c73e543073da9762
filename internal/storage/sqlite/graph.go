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

// GraphRepo is a typed repository over graph_nodes/graph_edges, enforcing
// the (type,name) and (source,target,type) uniqueness invariants and the
// per-node degree cap at every write, per spec.md §3.
type GraphRepo struct{ store *Store }

// Graph returns the repository bound to this store.
func (s *Store) Graph() *GraphRepo { return &GraphRepo{store: s} }

func scanNode(row interface{ Scan(...any) error }) (*types.GraphNode, error) {
	var n types.GraphNode
	var metaJSON, obsJSON sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&n.ID, &n.ProjectHash, &n.Type, &n.Name, &metaJSON, &obsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &n.Metadata)
	}
	if obsJSON.Valid && obsJSON.String != "" {
		_ = json.Unmarshal([]byte(obsJSON.String), &n.ObservationIDs)
	}
	return &n, nil
}

const nodeColumns = `id, project_hash, type, name, metadata, observation_ids, created_at, updated_at`

// GetNodeByNameAndType returns a node, or nil if not found.
func (r *GraphRepo) GetNodeByNameAndType(ctx context.Context, projectHash, name string, typ types.EntityType) (*types.GraphNode, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE project_hash = ? AND type = ? AND name = ?`,
		projectHash, string(typ), name)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch node %s/%s", typ, name)
	}
	return n, nil
}

// GetNodeByID returns a node by id, or nil if not found, scoped to
// projectHash alone (it is only ever called during traversal from a root
// already known to be in scope).
func (r *GraphRepo) GetNodeByID(ctx context.Context, projectHash, id string) (*types.GraphNode, error) {
	return r.GetNodeByIDScoped(ctx, []string{projectHash}, id)
}

// GetNodeByIDScoped is GetNodeByID widened to a cross-access scope set
// (spec.md §4.4).
func (r *GraphRepo) GetNodeByIDScoped(ctx context.Context, scope []string, id string) (*types.GraphNode, error) {
	args := []any{id}
	clause := projectScopeClause("project_hash", scope, &args)
	row := r.store.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM graph_nodes WHERE id = ? AND `+clause, args...)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch node %s", id)
	}
	return n, nil
}

// UpsertNode merges by (type,name), appending observationID to the node's
// back-reference list with bounded deduplication, per spec.md §4.6.
func (r *GraphRepo) UpsertNode(ctx context.Context, projectHash string, typ types.EntityType, name string, metadata map[string]string, observationID string) (*types.GraphNode, error) {
	if !typ.IsValid() {
		return nil, types.Wrap(types.ErrInvalid, "unknown entity type %q", typ)
	}
	now := time.Now().UTC()

	existing, err := r.GetNodeByNameAndType(ctx, projectHash, name, typ)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		id, err := idgen.New()
		if err != nil {
			return nil, err
		}
		metaJSON, _ := json.Marshal(metadata)
		obsIDs := []string{}
		if observationID != "" {
			obsIDs = []string{observationID}
		}
		obsJSON, _ := json.Marshal(obsIDs)
		_, err = r.store.db.ExecContext(ctx,
			`INSERT INTO graph_nodes (id, project_hash, type, name, metadata, observation_ids, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, projectHash, string(typ), name, string(metaJSON), string(obsJSON), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			return nil, types.WrapErr(types.ErrConflict, err, "failed to create node %s/%s", typ, name)
		}
		return &types.GraphNode{ID: id, ProjectHash: projectHash, Type: typ, Name: name, Metadata: metadata, ObservationIDs: obsIDs, CreatedAt: now, UpdatedAt: now}, nil
	}

	merged := existing.ObservationIDs
	if observationID != "" && !containsString(merged, observationID) {
		merged = append(merged, observationID)
	}
	for k, v := range metadata {
		if existing.Metadata == nil {
			existing.Metadata = map[string]string{}
		}
		existing.Metadata[k] = v
	}
	metaJSON, _ := json.Marshal(existing.Metadata)
	obsJSON, _ := json.Marshal(merged)
	_, err = r.store.db.ExecContext(ctx,
		`UPDATE graph_nodes SET metadata = ?, observation_ids = ?, updated_at = ? WHERE id = ?`,
		string(metaJSON), string(obsJSON), now.Format(time.RFC3339Nano), existing.ID)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to update node %s", existing.ID)
	}
	existing.ObservationIDs = merged
	existing.UpdatedAt = now
	return existing, nil
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Degree returns the total number of edges touching node id (in + out).
func (r *GraphRepo) Degree(ctx context.Context, nodeID string) (int, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_edges WHERE source_id = ? OR target_id = ?`, nodeID, nodeID).Scan(&n)
	if err != nil {
		return 0, types.WrapErr(types.ErrInvalid, err, "failed to compute degree for %s", nodeID)
	}
	return n, nil
}

func scanEdge(row interface{ Scan(...any) error }) (*types.GraphEdge, error) {
	var e types.GraphEdge
	var createdAt, updatedAt string
	if err := row.Scan(&e.ID, &e.ProjectHash, &e.SourceID, &e.TargetID, &e.Type, &e.Confidence, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &e, nil
}

const edgeColumns = `id, project_hash, source_id, target_id, type, confidence, created_at, updated_at`

// UpsertEdge inserts or refreshes a directed edge, honoring uniqueness and
// the per-node degree cap. If insertion would push either endpoint above
// MaxNodeDegree, the edge is rejected with ErrDegreeExceeded (the caller is
// expected to log, not surface, per spec.md §4.6).
func (r *GraphRepo) UpsertEdge(ctx context.Context, projectHash, sourceID, targetID string, typ types.RelationshipType, confidence float64) (*types.GraphEdge, error) {
	if !typ.IsValid() {
		return nil, types.Wrap(types.ErrInvalid, "unknown relationship type %q", typ)
	}
	if confidence < 0 || confidence > 1 {
		return nil, types.Wrap(types.ErrInvalid, "confidence %f out of [0,1]", confidence)
	}

	existing, err := r.getEdge(ctx, projectHash, sourceID, targetID, typ)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if existing != nil {
		_, err := r.store.db.ExecContext(ctx, `UPDATE graph_edges SET confidence = ?, updated_at = ? WHERE id = ?`,
			confidence, now.Format(time.RFC3339Nano), existing.ID)
		if err != nil {
			return nil, types.WrapErr(types.ErrInvalid, err, "failed to refresh edge %s", existing.ID)
		}
		existing.Confidence = confidence
		existing.UpdatedAt = now
		return existing, nil
	}

	srcDeg, err := r.Degree(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	tgtDeg, err := r.Degree(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if srcDeg >= types.MaxNodeDegree || tgtDeg >= types.MaxNodeDegree {
		return nil, types.Wrap(types.ErrDegreeExceeded, "edge %s->%s would exceed degree cap", sourceID, targetID)
	}

	id, err := idgen.New()
	if err != nil {
		return nil, err
	}
	_, err = r.store.db.ExecContext(ctx,
		`INSERT INTO graph_edges (id, project_hash, source_id, target_id, type, confidence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, projectHash, sourceID, targetID, string(typ), confidence, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, types.WrapErr(types.ErrConflict, err, "failed to create edge")
	}
	return &types.GraphEdge{ID: id, ProjectHash: projectHash, SourceID: sourceID, TargetID: targetID, Type: typ, Confidence: confidence, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *GraphRepo) getEdge(ctx context.Context, projectHash, sourceID, targetID string, typ types.RelationshipType) (*types.GraphEdge, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE project_hash = ? AND source_id = ? AND target_id = ? AND type = ?`,
		projectHash, sourceID, targetID, string(typ))
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// EdgeDirection constrains GetEdgesForNode.
type EdgeDirection string

const (
	DirectionOut  EdgeDirection = "out"
	DirectionIn   EdgeDirection = "in"
	DirectionBoth EdgeDirection = "both"
)

// GetEdgesForNode returns edges touching nodeID, optionally filtered by
// direction and type.
func (r *GraphRepo) GetEdgesForNode(ctx context.Context, nodeID string, direction EdgeDirection, typesFilter []types.RelationshipType) ([]*types.GraphEdge, error) {
	var where string
	switch direction {
	case DirectionOut:
		where = `source_id = ?`
	case DirectionIn:
		where = `target_id = ?`
	default:
		where = `(source_id = ? OR target_id = ?)`
	}
	args := []any{nodeID}
	if direction == "" || direction == DirectionBoth {
		args = append(args, nodeID)
	}

	query := `SELECT ` + edgeColumns + ` FROM graph_edges WHERE ` + where
	if len(typesFilter) > 0 {
		placeholders := ""
		for i, t := range typesFilter {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, string(t))
		}
		query += ` AND type IN (` + placeholders + `)`
	}
	query += ` ORDER BY confidence DESC`

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to fetch edges for %s", nodeID)
	}
	defer rows.Close()
	var out []*types.GraphEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllNodes returns every node across scope (used by graph_stats/traversal),
// widened per spec.md §4.4 to a cross-access scope set rather than a single
// project (an ordinary single-project call passes a one-element scope).
func (r *GraphRepo) AllNodes(ctx context.Context, scope []string) ([]*types.GraphNode, error) {
	var args []any
	clause := projectScopeClause("project_hash", scope, &args)
	rows, err := r.store.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM graph_nodes WHERE `+clause, args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to list nodes")
	}
	defer rows.Close()
	var out []*types.GraphNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AllEdges returns every edge across scope, widened the same way as AllNodes.
func (r *GraphRepo) AllEdges(ctx context.Context, scope []string) ([]*types.GraphEdge, error) {
	var args []any
	clause := projectScopeClause("project_hash", scope, &args)
	rows, err := r.store.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM graph_edges WHERE `+clause, args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to list edges")
	}
	defer rows.Close()
	var out []*types.GraphEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteNode removes a node permanently (used by Hygiene's dead-orphan sweep).
func (r *GraphRepo) DeleteNode(ctx context.Context, projectHash, id string) error {
	_, err := r.store.db.ExecContext(ctx, `DELETE FROM graph_nodes WHERE id = ? AND project_hash = ?`, id, projectHash)
	if err != nil {
		return types.WrapErr(types.ErrInvalid, err, "failed to delete node %s", id)
	}
	return nil
}

// FindRootsByName returns nodes matching an exact name across scope,
// optionally filtered to entityType, per spec.md §4.6's query_graph
// exact-match step widened to §4.4's cross-access scope set.
func (r *GraphRepo) FindRootsByName(ctx context.Context, scope []string, name string, entityType *types.EntityType) ([]*types.GraphNode, error) {
	var args []any
	clause := projectScopeClause("project_hash", scope, &args)
	query := `SELECT ` + nodeColumns + ` FROM graph_nodes WHERE ` + clause + ` AND name = ?`
	args = append(args, name)
	if entityType != nil {
		query += ` AND type = ?`
		args = append(args, string(*entityType))
	}
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to find roots by name")
	}
	defer rows.Close()
	var out []*types.GraphNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// FindRootsBySubstring returns up to limit nodes across scope whose name
// contains substr (case-insensitive), for query_graph's fallback step.
func (r *GraphRepo) FindRootsBySubstring(ctx context.Context, scope []string, substr string, entityType *types.EntityType, limit int) ([]*types.GraphNode, error) {
	if limit <= 0 {
		limit = 10
	}
	var args []any
	clause := projectScopeClause("project_hash", scope, &args)
	query := `SELECT ` + nodeColumns + ` FROM graph_nodes WHERE ` + clause + ` AND name LIKE ? COLLATE NOCASE`
	args = append(args, "%"+substr+"%")
	if entityType != nil {
		query += ` AND type = ?`
		args = append(args, string(*entityType))
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to find roots by substring")
	}
	defer rows.Close()
	var out []*types.GraphNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AddStalenessFlag persists a staleness flag for an edge under suspicion,
// per spec.md §4.6.
func (r *GraphRepo) AddStalenessFlag(ctx context.Context, projectHash, edgeID, reason string) error {
	id, err := idgen.New()
	if err != nil {
		return err
	}
	_, err = r.store.db.ExecContext(ctx,
		`INSERT INTO graph_staleness_flags (id, project_hash, edge_id, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, projectHash, edgeID, reason, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return types.WrapErr(types.ErrInvalid, err, "failed to record staleness flag")
	}
	return nil
}

// StalenessFlag is an open (unresolved) staleness flag.
type StalenessFlag struct {
	ID        string
	EdgeID    string
	Reason    string
	CreatedAt time.Time
}

// OpenStalenessFlags returns unresolved staleness flags across scope.
func (r *GraphRepo) OpenStalenessFlags(ctx context.Context, scope []string) ([]StalenessFlag, error) {
	var args []any
	clause := projectScopeClause("project_hash", scope, &args)
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT id, edge_id, reason, created_at FROM graph_staleness_flags WHERE `+clause+` AND resolved_at IS NULL`, args...)
	if err != nil {
		return nil, types.WrapErr(types.ErrInvalid, err, "failed to list staleness flags")
	}
	defer rows.Close()
	var out []StalenessFlag
	for rows.Next() {
		var f StalenessFlag
		var createdAt string
		if err := rows.Scan(&f.ID, &f.EdgeID, &f.Reason, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}
