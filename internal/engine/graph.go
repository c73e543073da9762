package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/laminark/laminark/internal/graph"
	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// QueryGraphInput bundles query_graph's inputs, per spec.md §6.
type QueryGraphInput struct {
	Query             string
	EntityType        *types.EntityType
	Depth             int
	RelationshipTypes []types.RelationshipType
	Limit             int
}

// QueryGraph finds root nodes matching query, traverses from each, and
// renders the union of visited entities, each with its hop distance and
// the ids of its linked observations, per spec.md §4.6/§6. Relationships
// and observation text are not included in the rendered result.
func (e *Engine) QueryGraph(ctx context.Context, projectHash string, in QueryGraphInput) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}
	limit := in.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	scope := e.scopeFor(projectHash)

	roots, err := graph.FindRoots(ctx, e.store, scope, in.Query, in.EntityType, limit)
	if err != nil {
		return "", err
	}
	if len(roots) == 0 {
		return e.withPiggyback(ctx, projectHash, "No matching entities.")
	}

	seen := map[string]graph.VisitedNode{}
	for _, root := range roots {
		visited, err := graph.TraverseFrom(ctx, e.store, scope, root.ID, graph.TraverseOptions{
			Depth:     in.Depth,
			EdgeTypes: in.RelationshipTypes,
			Direction: sqlite.DirectionBoth,
		})
		if err != nil {
			e.log.Warn("traversal failed", "root", root.ID, "error", err)
			continue
		}
		for _, v := range visited {
			if existing, ok := seen[v.Node.ID]; !ok || v.Hop < existing.Hop {
				seen[v.Node.ID] = v
			}
		}
	}

	body := renderGraphResult(roots, seen)
	return e.withPiggyback(ctx, projectHash, body)
}

func renderGraphResult(roots []*types.GraphNode, visited map[string]graph.VisitedNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Roots: %d\n\n", len(roots))
	for _, v := range orderedVisited(visited) {
		fmt.Fprintf(&b, "[hop %d] (%s) %s\n", v.Hop, v.Node.Type, v.Node.Name)
		if len(v.Node.ObservationIDs) > 0 {
			fmt.Fprintf(&b, "    linked: %s\n", strings.Join(v.Node.ObservationIDs, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func orderedVisited(visited map[string]graph.VisitedNode) []graph.VisitedNode {
	out := make([]graph.VisitedNode, 0, len(visited))
	for _, v := range visited {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hop != out[j].Hop {
			return out[i].Hop < out[j].Hop
		}
		return out[i].Node.Name < out[j].Node.Name
	})
	return out
}

// GraphStats renders the graph health dashboard, per spec.md §4.6/§6.
func (e *Engine) GraphStats(ctx context.Context, projectHash string) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}
	stats, err := graph.ComputeStats(ctx, e.store, e.scopeFor(projectHash))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Nodes: %d  Edges: %d  Avg degree: %.2f\n", stats.TotalNodes, stats.TotalEdges, stats.AverageDegree)
	for typ, count := range stats.NodesByType {
		fmt.Fprintf(&b, "  %s: %d\n", typ, count)
	}
	if len(stats.Hotspots) > 0 {
		fmt.Fprintf(&b, "Hotspots: %s\n", strings.Join(stats.Hotspots, ", "))
	}
	if len(stats.DuplicateNames) > 0 {
		fmt.Fprintf(&b, "Duplicate-name candidates: %s\n", strings.Join(stats.DuplicateNames, ", "))
	}
	if len(stats.OpenStaleness) > 0 {
		fmt.Fprintf(&b, "Open staleness flags: %d\n", len(stats.OpenStaleness))
	}

	return e.withPiggyback(ctx, projectHash, b.String())
}
