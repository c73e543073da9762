package graph

import (
	"context"
	"strings"

	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// Stats is the graph_stats() dashboard payload, per spec.md §4.6.
type Stats struct {
	TotalNodes        int
	TotalEdges        int
	NodesByType       map[types.EntityType]int
	AverageDegree     float64
	Hotspots          []string // node names at or above 0.8*cap
	DuplicateNames    []string // same name across types
	OpenStaleness     []sqlite.StalenessFlag
}

// hotspotFraction is the fraction of MaxNodeDegree that marks a hotspot.
const hotspotFraction = 0.8

// ComputeStats assembles graph_stats for scope, per spec.md §4.6: totals,
// per-type distributions, average degree (2|E|/|V|), hotspots,
// duplicate-name candidates, and open staleness flags. scope is the
// caller's cross-access scope set (spec.md §4.4); an ordinary
// single-project caller passes a one-element scope.
func ComputeStats(ctx context.Context, store *sqlite.Store, scope []string) (*Stats, error) {
	nodes, err := store.Graph().AllNodes(ctx, scope)
	if err != nil {
		return nil, err
	}
	edges, err := store.Graph().AllEdges(ctx, scope)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		TotalNodes:  len(nodes),
		TotalEdges:  len(edges),
		NodesByType: map[types.EntityType]int{},
	}
	if len(nodes) > 0 {
		s.AverageDegree = 2 * float64(len(edges)) / float64(len(nodes))
	}

	nameTypes := map[string]map[types.EntityType]bool{}
	degree := map[string]int{}
	for _, e := range edges {
		degree[e.SourceID]++
		degree[e.TargetID]++
	}

	for _, n := range nodes {
		s.NodesByType[n.Type]++
		if nameTypes[n.Name] == nil {
			nameTypes[n.Name] = map[types.EntityType]bool{}
		}
		nameTypes[n.Name][n.Type] = true

		if float64(degree[n.ID]) >= hotspotFraction*float64(types.MaxNodeDegree) {
			s.Hotspots = append(s.Hotspots, n.Name)
		}
	}

	for name, typeSet := range nameTypes {
		if len(typeSet) > 1 {
			s.DuplicateNames = append(s.DuplicateNames, name)
		}
	}

	flags, err := store.Graph().OpenStalenessFlags(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.OpenStaleness = flags

	return s, nil
}

// CheckStaleness inspects whether a new relationship on the same (source,
// target) pair contradicts an existing edge of a different type, raising a
// staleness flag per spec.md §4.6. This is a heuristic: any distinct edge
// type on the same ordered pair is treated as a potential contradiction,
// since the taxonomy has no explicit "supersedes" relation.
func CheckStaleness(ctx context.Context, store *sqlite.Store, projectHash, sourceID, targetID string, newType types.RelationshipType) error {
	edges, err := store.Graph().GetEdgesForNode(ctx, sourceID, sqlite.DirectionOut, nil)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.TargetID != targetID || e.Type == newType {
			continue
		}
		reason := "edge " + string(e.Type) + " superseded by " + string(newType) + " on same (" + shortID(sourceID) + "," + shortID(targetID) + ")"
		if err := store.Graph().AddStalenessFlag(ctx, projectHash, e.ID, reason); err != nil {
			return err
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FindRoots resolves query_graph's root set across scope: an exact
// (type-scoped or cross-type) name match first, falling back to a
// case-insensitive substring match bounded by limit, per spec.md §4.6
// widened to §4.4's cross-access scope set.
func FindRoots(ctx context.Context, store *sqlite.Store, scope []string, query string, entityType *types.EntityType, limit int) ([]*types.GraphNode, error) {
	exact, err := store.Graph().FindRootsByName(ctx, scope, query, entityType)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		if entityType == nil {
			return exact[:1], nil
		}
		return exact, nil
	}
	return store.Graph().FindRootsBySubstring(ctx, scope, strings.ToLower(query), entityType, limit)
}
