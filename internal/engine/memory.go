package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/laminark/laminark/internal/search"
	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// MaxMemoryChars is save_memory's text length ceiling, per spec.md §6.
const MaxMemoryChars = 10_000

// ContentOverlapThreshold is the fraction of shared trigrams above which
// two observations are considered duplicates for save_memory's admission
// filter. There is no teacher analogue for content-overlap rejection
// (BeadsLog accepts every devlog entry unconditionally); this ratio is a
// documented Open Question decision, grounded on search.SearchKeyword
// rather than an embedding comparison so the filter works even when no
// embedding strategy is configured.
const ContentOverlapThreshold = 0.85

// RelevanceFloorChars rejects near-empty content outright; a single word
// or a handful of characters carries no retrievable signal.
const RelevanceFloorChars = 3

// SaveMemory creates an observation, rejecting duplicates (content
// overlap) or content below the relevance floor, per spec.md §6.
func (e *Engine) SaveMemory(ctx context.Context, projectHash, text, title, source string, kind types.ObservationKind) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) < RelevanceFloorChars {
		return "", types.Wrap(types.ErrInvalid, "text is below the relevance floor (%d chars)", RelevanceFloorChars)
	}
	if len(text) > MaxMemoryChars {
		return "", types.Wrap(types.ErrInvalid, "text exceeds %d characters", MaxMemoryChars)
	}
	if kind == "" {
		kind = types.KindReference
	}
	if !kind.IsValid() {
		return "", types.Wrap(types.ErrInvalid, "unknown observation kind %q", kind)
	}

	if dup, err := e.findDuplicate(ctx, projectHash, trimmed); err != nil {
		e.log.Warn("duplicate check failed, proceeding with save", "error", err)
	} else if dup != "" {
		return "", types.Wrap(types.ErrConflict, "duplicate of existing observation %s (content overlap)", dup)
	}

	obs, err := e.store.Observations().Create(ctx, projectHash, text, title, source, kind)
	if err != nil {
		return "", err
	}
	e.statusCache.MarkDirty()
	e.auditAppend("save_memory", projectHash, "", map[string]any{"observation_id": obs.ID})

	return fmt.Sprintf("Saved observation %s.", obs.ID), nil
}

// findDuplicate runs a keyword search over text and reports the id of the
// first existing observation whose trigram overlap with text exceeds
// ContentOverlapThreshold, or "" if none qualifies.
func (e *Engine) findDuplicate(ctx context.Context, projectHash, text string) (string, error) {
	results, err := search.SearchKeyword(ctx, e.store, []string{projectHash}, text, search.KeywordOptions{Limit: 5})
	if err != nil {
		return "", err
	}
	for _, r := range results {
		if trigramOverlap(text, r.Observation.Content) > ContentOverlapThreshold {
			return r.Observation.ID, nil
		}
	}
	return "", nil
}

// trigramOverlap is the Jaccard similarity of the two strings' character
// trigram sets, a cheap duplicate-detection heuristic that needs no
// embedding strategy to be configured.
func trigramOverlap(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func trigrams(s string) map[string]bool {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	out := map[string]bool{}
	r := []rune(s)
	for i := 0; i+3 <= len(r); i++ {
		out[string(r[i:i+3])] = true
	}
	return out
}

// RecallAction selects recall's behavior, per spec.md §6.
type RecallAction string

const (
	RecallView    RecallAction = "view"
	RecallPurge   RecallAction = "purge"
	RecallRestore RecallAction = "restore"
)

// RecallInput bundles recall's polymorphic lookup inputs: exactly one of
// Query, ID, Title, or IDs should be set to select which lookup path runs.
type RecallInput struct {
	Query         string
	ID            string
	Title         string
	IDs           []string
	Action        RecallAction
	Detail        search.DetailLevel
	Limit         int
	IncludePurged bool
	Vector        []float32 // optional, supplied by a host-delegated embedding of Query
}

// Recall searches, views, soft-deletes, or restores observations scoped to
// projectHash's cross-access set, per spec.md §4.4/§6.
func (e *Engine) Recall(ctx context.Context, projectHash string, in RecallInput) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	detail := in.Detail
	if detail == "" {
		detail = search.DetailCompact
	}

	switch in.Action {
	case RecallPurge:
		return e.recallPurge(ctx, projectHash, in)
	case RecallRestore:
		return e.recallRestore(ctx, projectHash, in)
	}

	results, err := e.recallLookup(ctx, projectHash, in, limit)
	if err != nil {
		return "", err
	}

	formatted := search.Format(results, detail, 0)
	return e.withPiggyback(ctx, projectHash, formatted.Body)
}

// recallLookup dispatches recall's four lookup modes, each scoped to the
// caller's full cross-access scope set (spec.md §4.4) rather than
// projectHash alone: a project with a crossAccess grant can recall
// observations another project wrote.
func (e *Engine) recallLookup(ctx context.Context, projectHash string, in RecallInput, limit int) ([]search.Result, error) {
	scope := e.scopeFor(projectHash)

	switch {
	case len(in.IDs) > 0:
		var results []search.Result
		for _, id := range in.IDs {
			obs, err := e.observationByScope(ctx, scope, id, in.IncludePurged)
			if err != nil || obs == nil {
				continue
			}
			results = append(results, search.Result{Observation: *obs, MatchType: "id"})
		}
		return results, nil

	case in.ID != "":
		obs, err := e.observationByScope(ctx, scope, in.ID, in.IncludePurged)
		if err != nil {
			return nil, err
		}
		if obs == nil {
			return nil, nil
		}
		return []search.Result{{Observation: *obs, MatchType: "id"}}, nil

	case in.Title != "":
		obs, err := e.store.Observations().GetByTitleScoped(ctx, scope, in.Title, limit)
		if err != nil {
			return nil, err
		}
		var results []search.Result
		for _, o := range obs {
			results = append(results, search.Result{Observation: *o, MatchType: "title"})
		}
		return results, nil

	case in.Query != "":
		return search.HybridSearch(ctx, e.store, scope, in.Query, search.HybridOptions{Limit: limit, Vector: in.Vector})

	default:
		obs, err := e.store.Observations().ListScoped(ctx, scope, sqlite.ObservationListOptions{Limit: limit})
		if err != nil {
			return nil, err
		}
		var results []search.Result
		for _, o := range obs {
			results = append(results, search.Result{Observation: *o, MatchType: "recent"})
		}
		return results, nil
	}
}

func (e *Engine) observationByScope(ctx context.Context, scope []string, id string, includePurged bool) (*types.Observation, error) {
	if includePurged {
		return e.store.Observations().GetByIDIncludingDeletedScoped(ctx, scope, id)
	}
	return e.store.Observations().GetByIDScoped(ctx, scope, id)
}

func (e *Engine) recallPurge(ctx context.Context, projectHash string, in RecallInput) (string, error) {
	ids := in.IDs
	if in.ID != "" {
		ids = append(ids, in.ID)
	}
	if len(ids) == 0 {
		return "", types.Wrap(types.ErrInvalid, "purge requires id or ids")
	}
	var purged []string
	for _, id := range ids {
		ok, err := e.store.Observations().SoftDelete(ctx, projectHash, id)
		if err != nil {
			return "", err
		}
		if ok {
			purged = append(purged, id)
		}
	}
	e.statusCache.MarkDirty()
	body := fmt.Sprintf("Purged %d observation(s): %s", len(purged), strings.Join(purged, ", "))
	return e.withPiggyback(ctx, projectHash, body)
}

func (e *Engine) recallRestore(ctx context.Context, projectHash string, in RecallInput) (string, error) {
	ids := in.IDs
	if in.ID != "" {
		ids = append(ids, in.ID)
	}
	if len(ids) == 0 {
		return "", types.Wrap(types.ErrInvalid, "restore requires id or ids")
	}
	var restored []string
	for _, id := range ids {
		ok, err := e.store.Observations().Restore(ctx, projectHash, id)
		if err != nil {
			return "", err
		}
		if ok {
			restored = append(restored, id)
		}
	}
	e.statusCache.MarkDirty()
	body := fmt.Sprintf("Restored %d observation(s): %s", len(restored), strings.Join(restored, ", "))
	return e.withPiggyback(ctx, projectHash, body)
}
