package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/laminark/laminark/internal/types"
)

// TopicContext renders a progressive-disclosure listing of recent
// unresumed stashes, per spec.md §6. A non-empty query keeps only the
// stashes whose topic label or summary contains it (case-insensitive
// substring match), still in recency order; an empty query returns the
// plain recency-ordered list.
func (e *Engine) TopicContext(ctx context.Context, projectHash, query string, limit int) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}
	if limit <= 0 {
		limit = 10
	}

	stashes, err := e.store.Stashes().GetRecentStashes(ctx, projectHash, limit*3)
	if err != nil {
		return "", err
	}

	if query != "" {
		q := strings.ToLower(query)
		var matched []*types.ContextStash
		for _, s := range stashes {
			if strings.Contains(strings.ToLower(s.TopicLabel), q) || strings.Contains(strings.ToLower(s.Summary), q) {
				matched = append(matched, s)
			}
		}
		stashes = matched
	}
	if len(stashes) > limit {
		stashes = stashes[:limit]
	}

	body := renderStashes(stashes)
	return e.withPiggyback(ctx, projectHash, body)
}

func renderStashes(stashes []*types.ContextStash) string {
	if len(stashes) == 0 {
		return "No active stashes."
	}
	var b strings.Builder
	for i, s := range stashes {
		fmt.Fprintf(&b, "[%d] %s | %s | %d observations | %s\n", i+1, s.ID, s.TopicLabel, len(s.ObservationIDs), s.CreatedAt.Format("2006-01-02 15:04"))
		if s.Summary != "" {
			fmt.Fprintf(&b, "    %s\n", s.Summary)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ResumeStash marks a stash resumed and returns its rendered snapshot, the
// companion operation to /resume referenced by the notification text the
// Embedding Pipeline's topic hook queues on a detected shift.
func (e *Engine) ResumeStash(ctx context.Context, projectHash, id string) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}
	stash, err := e.store.Stashes().ResumeStash(ctx, projectHash, id)
	if err != nil {
		return "", err
	}
	e.statusCache.MarkDirty()

	var b strings.Builder
	fmt.Fprintf(&b, "Resumed '%s' (%s)\n\n%s\n\n", stash.TopicLabel, stash.ID, stash.Summary)
	for _, o := range stash.ObservationSnapshots {
		fmt.Fprintf(&b, "- [%s] %s\n", o.Kind, o.Title)
	}
	return e.withPiggyback(ctx, projectHash, b.String())
}
