// Package hygiene is Admission & Hygiene (C9): a read-only analyzer that
// scores observations by deletion signals and a purge action gated behind
// an explicit, non-default invocation.
//
// Grounded on the teacher's signal-scored detection pattern
// (internal/storage/sqlite's orphan-handling family: detect, log, then act
// only on explicit invocation), and its internal/compact Tier-1
// compaction feature, carried forward here as an optional re-summarization
// action (see SPEC_FULL.md §9 supplemented feature).
package hygiene

import (
	"context"
	"sort"
	"strings"

	"github.com/laminark/laminark/internal/logging"
	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// SignalWeights and TierThresholds mirror spec.md §6's hygiene config block.
type Config struct {
	SignalWeights         map[string]float64
	HighThreshold         float64
	MediumThreshold       float64
	ShortContentThreshold int
}

func (c Config) resolved() Config {
	if c.HighThreshold <= 0 {
		c.HighThreshold = 0.70
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = 0.50
	}
	if c.ShortContentThreshold <= 0 {
		c.ShortContentThreshold = 40
	}
	if c.SignalWeights == nil {
		c.SignalWeights = map[string]float64{
			"orphaned": 0.25, "island": 0.15, "noise_classified": 0.2,
			"short_content": 0.15, "auto_captured": 0.1, "stale": 0.15,
		}
	}
	return c
}

// Tier classifies a deletion candidate's confidence.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Candidate is one scored observation.
type Candidate struct {
	Observation types.Observation
	Signals     []string
	Confidence  float64
	Tier        Tier
}

// Summarizer is the stash-labeler/summarizer external callable, reused here
// for optional re-summarization of low-tier candidates.
type Summarizer func(ctx context.Context, observations []types.Observation) (label, summary string, err error)

// Analyzer scores and purges observations, per spec.md §4.6's Hygiene
// contract.
type Analyzer struct {
	store      *sqlite.Store
	cfg        Config
	summarizer Summarizer
	log        logging.Logger
}

// New constructs an Analyzer.
func New(store *sqlite.Store, cfg Config, summarizer Summarizer, log logging.Logger) *Analyzer {
	if log == nil {
		log = logging.Nop{}
	}
	return &Analyzer{store: store, cfg: cfg.resolved(), summarizer: summarizer, log: log}
}

// Analyze scores every observation in scope, returning candidates sorted
// by descending confidence. This is always read-only regardless of mode.
func (a *Analyzer) Analyze(ctx context.Context, projectHash, sessionID string, limit int) ([]Candidate, error) {
	opts := sqlite.ObservationListOptions{Limit: limit}
	if sessionID != "" {
		opts.SessionID = sessionID
	}
	if opts.Limit <= 0 {
		opts.Limit = 500
	}
	obs, err := a.store.Observations().List(ctx, projectHash, opts)
	if err != nil {
		return nil, err
	}

	staleEdges, err := a.store.Graph().OpenStalenessFlags(ctx, []string{projectHash})
	if err != nil {
		a.log.Warn("failed to load open staleness flags", "error", err)
		staleEdges = nil
	}
	staleEdgeIDs := make(map[string]bool, len(staleEdges))
	for _, f := range staleEdges {
		staleEdgeIDs[f.EdgeID] = true
	}

	nodeByObsID, err := a.nodesByObservation(ctx, projectHash)
	if err != nil {
		a.log.Warn("failed to load graph nodes for hygiene scoring", "error", err)
		nodeByObsID = nil
	}

	var out []Candidate
	for _, o := range obs {
		c, err := a.score(ctx, *o, nodeByObsID, staleEdgeIDs)
		if err != nil {
			a.log.Warn("failed to score observation for hygiene", "id", o.ID, "error", err)
			continue
		}
		if c.Confidence > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// nodesByObservation indexes every graph node in projectHash by the
// observation ids it links back to (GraphNode.ObservationIDs), so score
// can resolve an observation's actual graph membership by id rather than
// by matching its auto-generated title against an extracted entity name —
// those are almost never equal, since graph nodes are named after
// extracted entities (files, tools, people), not after the observation
// that mentioned them.
func (a *Analyzer) nodesByObservation(ctx context.Context, projectHash string) (map[string]*types.GraphNode, error) {
	nodes, err := a.store.Graph().AllNodes(ctx, []string{projectHash})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.GraphNode, len(nodes))
	for _, n := range nodes {
		for _, obsID := range n.ObservationIDs {
			out[obsID] = n
		}
	}
	return out, nil
}

// isAutoTitled reports whether o's title was never curated, i.e. it still
// matches the storage layer's auto-derived snippet of its own content
// rather than a title a caller supplied explicitly.
func isAutoTitled(o types.Observation) bool {
	content := strings.TrimSpace(o.Content)
	if idx := strings.IndexAny(content, ".\n"); idx > 0 && idx < 200 {
		return o.Title == strings.TrimSpace(content[:idx])
	}
	if len(content) > 80 {
		return o.Title == content[:80]
	}
	return o.Title == content
}

func (a *Analyzer) score(ctx context.Context, o types.Observation, nodeByObsID map[string]*types.GraphNode, staleEdgeIDs map[string]bool) (Candidate, error) {
	var signals []string
	var confidence float64

	node := nodeByObsID[o.ID]
	if node != nil {
		deg, _ := a.store.Graph().Degree(ctx, node.ID)
		if deg == 0 {
			signals = append(signals, "island")
			confidence += a.cfg.SignalWeights["island"]
		}
		if len(staleEdgeIDs) > 0 {
			edges, err := a.store.Graph().GetEdgesForNode(ctx, node.ID, sqlite.DirectionBoth, nil)
			if err == nil {
				for _, e := range edges {
					if staleEdgeIDs[e.ID] {
						signals = append(signals, "stale")
						confidence += a.cfg.SignalWeights["stale"]
						break
					}
				}
			}
		}
	} else {
		signals = append(signals, "orphaned")
		confidence += a.cfg.SignalWeights["orphaned"]
	}

	if len(o.Content) < a.cfg.ShortContentThreshold {
		signals = append(signals, "short_content")
		confidence += a.cfg.SignalWeights["short_content"]
	}
	if o.Source == "" || o.Source == "auto" {
		signals = append(signals, "auto_captured")
		confidence += a.cfg.SignalWeights["auto_captured"]
	}
	if o.Kind == types.KindChange && isAutoTitled(o) {
		signals = append(signals, "noise_classified")
		confidence += a.cfg.SignalWeights["noise_classified"]
	}

	tier := TierLow
	if confidence >= a.cfg.HighThreshold {
		tier = TierHigh
	} else if confidence >= a.cfg.MediumThreshold {
		tier = TierMedium
	}

	return Candidate{Observation: o, Signals: signals, Confidence: confidence, Tier: tier}, nil
}

// Mode selects whether Purge actually mutates the store.
type Mode string

const (
	ModeSimulate Mode = "simulate"
	ModePurge    Mode = "purge"
)

// PurgeTier selects which tier(s) Purge acts on.
type PurgeTier string

const (
	PurgeHigh   PurgeTier = "high"
	PurgeMedium PurgeTier = "medium"
	PurgeAll    PurgeTier = "all"
)

// PurgeResult summarizes what Purge did (or would do, in simulate mode).
type PurgeResult struct {
	Candidates       []Candidate
	SoftDeleted      []string
	Resummarized     []string
	OrphanNodesCleared []string
}

// Purge scores candidates at the requested tier and, unless mode is
// simulate (the default), soft-deletes them and removes dead orphan graph
// nodes. Low-tier candidates may instead be re-summarized (supplemented
// feature) rather than deleted, preserving the original as a stash
// snapshot first so the action is reversible.
func (a *Analyzer) Purge(ctx context.Context, projectHash, sessionID string, tier PurgeTier, mode Mode, limit int) (*PurgeResult, error) {
	all, err := a.Analyze(ctx, projectHash, sessionID, limit)
	if err != nil {
		return nil, err
	}

	var selected []Candidate
	for _, c := range all {
		switch tier {
		case PurgeHigh:
			if c.Tier == TierHigh {
				selected = append(selected, c)
			}
		case PurgeMedium:
			if c.Tier == TierHigh || c.Tier == TierMedium {
				selected = append(selected, c)
			}
		default:
			selected = append(selected, c)
		}
	}

	result := &PurgeResult{Candidates: selected}
	if mode != ModePurge {
		return result, nil
	}

	for _, c := range selected {
		if c.Tier == TierLow && a.summarizer != nil {
			if _, err := a.store.Stashes().CreateStash(ctx, sqlite.StashInput{
				ProjectHash: projectHash, SessionID: sessionID,
				TopicLabel: "hygiene-resummarized", Summary: "pre-resummarization snapshot",
				Observations: []types.Observation{c.Observation},
			}); err != nil {
				a.log.Warn("failed to snapshot before resummarization", "id", c.Observation.ID, "error", err)
				continue
			}
			label, summary, err := a.summarizer(ctx, []types.Observation{c.Observation})
			if err != nil {
				a.log.Warn("resummarization failed", "id", c.Observation.ID, "error", err)
				continue
			}
			newTitle := label
			if _, err := a.store.Observations().Update(ctx, projectHash, c.Observation.ID, sqlite.ObservationUpdate{Title: &newTitle}); err != nil {
				a.log.Warn("failed to apply resummarization", "id", c.Observation.ID, "error", err)
				continue
			}
			result.Resummarized = append(result.Resummarized, c.Observation.ID)
			_ = summary
			continue
		}

		ok, err := a.store.Observations().SoftDelete(ctx, projectHash, c.Observation.ID)
		if err != nil {
			a.log.Warn("failed to soft-delete hygiene candidate", "id", c.Observation.ID, "error", err)
			continue
		}
		if ok {
			result.SoftDeleted = append(result.SoftDeleted, c.Observation.ID)
		}
	}

	cleared, err := a.clearDeadOrphanNodes(ctx, projectHash)
	if err != nil {
		a.log.Warn("failed to clear dead orphan nodes", "error", err)
	} else {
		result.OrphanNodesCleared = cleared
	}

	return result, nil
}

func (a *Analyzer) clearDeadOrphanNodes(ctx context.Context, projectHash string) ([]string, error) {
	nodes, err := a.store.Graph().AllNodes(ctx, []string{projectHash})
	if err != nil {
		return nil, err
	}
	var cleared []string
	for _, n := range nodes {
		deg, err := a.store.Graph().Degree(ctx, n.ID)
		if err != nil {
			continue
		}
		if deg > 0 {
			continue
		}
		allDeleted := true
		for _, obsID := range n.ObservationIDs {
			o, err := a.store.Observations().GetByID(ctx, projectHash, obsID)
			if err != nil {
				continue
			}
			if o != nil {
				allDeleted = false
				break
			}
		}
		if allDeleted {
			if err := a.store.Graph().DeleteNode(ctx, projectHash, n.ID); err == nil {
				cleared = append(cleared, n.Name)
			}
		}
	}
	return cleared, nil
}
