package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// VisitedNode is one node reached during traversal, annotated with its hop
// distance from the root. The edge path taken from the root is not
// recorded.
type VisitedNode struct {
	Node *types.GraphNode
	Hop  int
}

// TraverseOptions bounds a traversal call, per spec.md §4.6.
type TraverseOptions struct {
	Depth     int // capped at 4
	EdgeTypes []types.RelationshipType
	Direction sqlite.EdgeDirection
}

// TraverseFrom performs a depth-bounded, cycle-safe breadth-first
// expansion from nodeID via recursive set-union, returning visited nodes
// ordered by hop, then by edge confidence DESC, then by target name ASC.
// scope is the caller's cross-access scope set (spec.md §4.4); every node
// visited must belong to one of its members.
func TraverseFrom(ctx context.Context, store *sqlite.Store, scope []string, nodeID string, opts TraverseOptions) ([]VisitedNode, error) {
	depth := opts.Depth
	if depth <= 0 || depth > 4 {
		depth = 4
	}
	direction := opts.Direction
	if direction == "" {
		direction = sqlite.DirectionBoth
	}

	visited := map[string]bool{nodeID: true}
	var order []VisitedNode

	root, err := store.Graph().GetNodeByIDScoped(ctx, scope, nodeID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}
	order = append(order, VisitedNode{Node: root, Hop: 0})

	frontier := []string{nodeID}
	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		type candidate struct {
			node       *types.GraphNode
			confidence float64
		}
		var next []candidate

		for _, id := range frontier {
			edges, err := store.Graph().GetEdgesForNode(ctx, id, direction, opts.EdgeTypes)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				targetID := e.TargetID
				if targetID == id {
					targetID = e.SourceID
				}
				if visited[targetID] {
					continue
				}
				node, err := store.Graph().GetNodeByIDScoped(ctx, scope, targetID)
				if err != nil || node == nil {
					continue
				}
				next = append(next, candidate{node: node, confidence: e.Confidence})
			}
		}

		sort.Slice(next, func(i, j int) bool {
			if next[i].confidence != next[j].confidence {
				return next[i].confidence > next[j].confidence
			}
			return strings.Compare(next[i].node.Name, next[j].node.Name) < 0
		})

		var newFrontier []string
		for _, c := range next {
			if visited[c.node.ID] {
				continue
			}
			visited[c.node.ID] = true
			order = append(order, VisitedNode{Node: c.node, Hop: hop})
			newFrontier = append(newFrontier, c.node.ID)
		}
		frontier = newFrontier
	}

	return order, nil
}
