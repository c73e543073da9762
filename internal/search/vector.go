package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"

	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/topic"
	"github.com/laminark/laminark/internal/types"
)

// SearchVector returns the top-k observations by ascending cosine distance
// to vector, scoped to the project hashes in scope (spec.md §4.4's
// cross-access read model — an ordinary single-project caller passes a
// one-element scope). If the store has no embedded observations at all, it
// returns an empty result rather than erroring — spec.md §4.3's "degrades
// to keyword-only without error" invariant.
//
// When the store has a vector index available and has mirrored embeddings
// of vector's own dimensionality into it (sqlite.Store.VectorDim), the
// search runs as a vec0 KNN query and falls back to the in-process scan
// below on any index-side error, so a host-driver quirk degrades gracefully
// rather than failing the request.
func SearchVector(ctx context.Context, store *sqlite.Store, scope []string, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	if len(scope) == 0 {
		return nil, nil
	}

	if store.HasVectorSupport() && store.VectorDim() == len(vector) {
		if results, err := searchVectorIndexed(ctx, store, scope, vector, k); err == nil {
			return results, nil
		}
	}
	return searchVectorScan(ctx, store, scope, vector, k)
}

// searchVectorIndexed queries the mirrored observation_vectors vec0 table.
// vec0's own MATCH/k clause has no awareness of project scoping or
// soft-deletion, so it over-fetches candidates and filters them against the
// observations table before truncating to k.
func searchVectorIndexed(ctx context.Context, store *sqlite.Store, scope []string, vector []float32, k int) ([]Result, error) {
	blob, err := json.Marshal(vector)
	if err != nil {
		return nil, err
	}
	fetch := k * 4
	if fetch < 50 {
		fetch = 50
	}
	rows, err := store.UnderlyingDB().QueryContext(ctx,
		`SELECT observation_id, distance FROM observation_vectors WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		string(blob), fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Result
	for rows.Next() {
		var obsID string
		var dist float64
		if err := rows.Scan(&obsID, &dist); err != nil {
			return nil, err
		}
		obs, err := store.Observations().GetByIDScoped(ctx, scope, obsID)
		if err != nil || obs == nil {
			continue
		}
		candidates = append(candidates, Result{Observation: *obs, Distance: dist, MatchType: "vector"})
		if len(candidates) >= k {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// searchVectorScan is the index-free fallback: an in-process cosine-distance
// comparison against every embedded observation in scope.
func searchVectorScan(ctx context.Context, store *sqlite.Store, scope []string, vector []float32, k int) ([]Result, error) {
	var args []any
	clause := scopeClause("project_hash", scope, &args)
	rows, err := store.UnderlyingDB().QueryContext(ctx, `
		SELECT rowid, id, project_hash, content, title, source, session_id, kind,
		       embedding, embedding_model, embedding_version, created_at, updated_at
		FROM observations
		WHERE `+clause+` AND deleted_at IS NULL AND embedding IS NOT NULL`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Result
	for rows.Next() {
		var o types.Observation
		var title, source, sessionID, embModel, embVersion sql.NullString
		var createdAt, updatedAt string
		var embBlob []byte
		if err := rows.Scan(&o.RowID, &o.ID, &o.ProjectHash, &o.Content, &title, &source, &sessionID, &o.Kind,
			&embBlob, &embModel, &embVersion, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		o.Title, o.Source, o.SessionID = title.String, source.String, sessionID.String
		o.EmbeddingModel, o.EmbeddingVersion = embModel.String, embVersion.String
		var vec []float32
		if err := json.Unmarshal(embBlob, &vec); err != nil {
			continue
		}
		dist := topic.CosineDistance(vector, vec)
		candidates = append(candidates, Result{Observation: o, Distance: dist, MatchType: "vector"})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}
