package search

import (
	"context"
	"sort"

	"github.com/laminark/laminark/internal/storage/sqlite"
)

// RRFConstant is the k in score = Σ 1/(k + rank), per spec.md §4.4.
const RRFConstant = 60

// HybridOptions bounds HybridSearch.
type HybridOptions struct {
	Limit  int
	Vector []float32 // optional; when nil, hybrid degrades to keyword-only
}

// HybridSearch combines keyword and vector search via Reciprocal Rank
// Fusion: for each candidate id present in either ranked list,
// score = Σ_L 1/(k + rank_L(id)), per spec.md §4.4. scope is the caller's
// cross-access-granted project set (a one-element scope for an ordinary
// single-project caller).
func HybridSearch(ctx context.Context, store *sqlite.Store, scope []string, query string, opts HybridOptions) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	keywordResults, err := SearchKeyword(ctx, store, scope, query, KeywordOptions{Limit: 100})
	if err != nil {
		return nil, err
	}

	var vectorResults []Result
	if opts.Vector != nil {
		vectorResults, err = SearchVector(ctx, store, scope, opts.Vector, 100)
		if err != nil {
			return nil, err
		}
	}

	scores := map[string]float64{}
	byID := map[string]Result{}

	for rank, r := range keywordResults {
		scores[r.Observation.ID] += 1.0 / float64(RRFConstant+rank+1)
		byID[r.Observation.ID] = r
	}
	for rank, r := range vectorResults {
		scores[r.Observation.ID] += 1.0 / float64(RRFConstant+rank+1)
		if existing, ok := byID[r.Observation.ID]; ok {
			existing.Distance = r.Distance
			byID[r.Observation.ID] = existing
		} else {
			byID[r.Observation.ID] = r
		}
	}

	var ids []string
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })

	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		r := byID[id]
		r.Score = scores[id]
		r.MatchType = "hybrid"
		out = append(out, r)
	}
	return out, nil
}
