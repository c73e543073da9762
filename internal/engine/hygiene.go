package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/laminark/laminark/internal/hygiene"
)

// HygieneInput bundles the hygiene tool's inputs, per spec.md §6.
type HygieneInput struct {
	Mode      hygiene.Mode
	Tier      hygiene.PurgeTier
	SessionID string
	Limit     int
}

// Hygiene scores deletion candidates and, unless Mode is simulate (the
// default), purges them, per spec.md §4.6/§6.
func (e *Engine) Hygiene(ctx context.Context, projectHash string, in HygieneInput) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 100
	}
	mode := in.Mode
	if mode == "" {
		mode = hygiene.ModeSimulate
	}
	tier := in.Tier
	if tier == "" {
		tier = hygiene.PurgeAll
	}

	result, err := e.hygiene.Purge(ctx, projectHash, in.SessionID, tier, mode, limit)
	if err != nil {
		return "", err
	}
	if mode == hygiene.ModePurge {
		e.statusCache.MarkDirty()
		e.auditAppend("hygiene_purge", projectHash, in.SessionID, map[string]any{
			"tier": string(tier), "soft_deleted": len(result.SoftDeleted),
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s  Tier: %s\n", mode, tier)
	fmt.Fprintf(&b, "Candidates: %d\n", len(result.Candidates))
	for _, c := range result.Candidates {
		fmt.Fprintf(&b, "  %s | %.2f | %s | %s\n", c.Observation.ID, c.Confidence, c.Tier, strings.Join(c.Signals, ","))
	}
	if mode == hygiene.ModePurge {
		fmt.Fprintf(&b, "Soft-deleted: %d\n", len(result.SoftDeleted))
		if len(result.Resummarized) > 0 {
			fmt.Fprintf(&b, "Re-summarized: %d\n", len(result.Resummarized))
		}
		if len(result.OrphanNodesCleared) > 0 {
			fmt.Fprintf(&b, "Orphan nodes cleared: %d\n", len(result.OrphanNodesCleared))
		}
	}

	return e.withPiggyback(ctx, projectHash, b.String())
}
