// Package context is the Context Assembler (C7): the session-open digest
// and notification piggybacking that every retrieval-tool response runs
// through before it reaches the host.
//
// No direct teacher analogue exists for a "prepend this to the host
// prompt" digest; this is grounded on the teacher's own composition style
// in internal/queries (assembling a response from several repository
// calls under one exported function) rather than any single file.
package context

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// SessionOpenBudget bounds the session-open digest, per spec.md §4.7.
const SessionOpenBudget = 2 * time.Second

// RecentHighValueCount is the N in "most-recent N with decision or change
// kind", per spec.md §4.7.
const RecentHighValueCount = 5

// Digest is the session-open context payload.
type Digest struct {
	LastSessionSummary string
	HighValue          []types.Observation
	ActiveStashCount    int
}

// Assembler builds session-open digests and piggybacks pending
// notifications onto retrieval-tool responses, per spec.md §4.7.
type Assembler struct {
	store *sqlite.Store
}

// New constructs an Assembler.
func New(store *sqlite.Store) *Assembler {
	return &Assembler{store: store}
}

// OpenSession builds the session-open digest within SessionOpenBudget,
// per spec.md §4.7: the last session's summary (if any), high-value
// recent observations, and a count of active (unresumed) stashes.
func (a *Assembler) OpenSession(ctx context.Context, projectHash string) (*Digest, error) {
	ctx, cancel := context.WithTimeout(ctx, SessionOpenBudget)
	defer cancel()

	d := &Digest{}

	sessions, err := a.store.Sessions().GetLatest(ctx, projectHash, 1)
	if err == nil && len(sessions) > 0 {
		d.LastSessionSummary = sessions[0].Summary
	}

	obs, err := a.store.Observations().List(ctx, projectHash, sqlite.ObservationListOptions{Limit: 200})
	if err == nil {
		for _, o := range obs {
			if o.Kind != types.KindDecision && o.Kind != types.KindChange {
				continue
			}
			d.HighValue = append(d.HighValue, *o)
			if len(d.HighValue) >= RecentHighValueCount {
				break
			}
		}
	}

	stashes, err := a.store.Stashes().GetRecentStashes(ctx, projectHash, 100)
	if err == nil {
		d.ActiveStashCount = len(stashes)
	}

	return d, nil
}

// Render formats a Digest as text suitable for prepending to the host's
// session prompt, per spec.md §4.7.
func (d *Digest) Render() string {
	var b strings.Builder
	b.WriteString("# Laminark session context\n\n")
	if d.LastSessionSummary != "" {
		fmt.Fprintf(&b, "Last session: %s\n\n", d.LastSessionSummary)
	}
	if len(d.HighValue) > 0 {
		b.WriteString("Recent decisions/changes:\n")
		for _, o := range d.HighValue {
			fmt.Fprintf(&b, "- [%s] %s\n", o.Kind, o.Title)
		}
		b.WriteString("\n")
	}
	if d.ActiveStashCount > 0 {
		fmt.Fprintf(&b, "%d active stash(es) available via /resume.\n", d.ActiveStashCount)
	}
	return b.String()
}

// PiggybackNotifications consumes any pending notifications for
// projectHash and, if non-empty, prepends "[Laminark] <msg>" lines plus a
// blank-line separator to body, per spec.md §4.7. Consume-on-read is
// atomic: a notification is delivered at-most-once, since
// NotificationRepo.ConsumePending selects and deletes the rows inside one
// transaction.
func (a *Assembler) PiggybackNotifications(ctx context.Context, projectHash, body string) (string, error) {
	notifications, err := a.store.Notifications().ConsumePending(ctx, projectHash)
	if err != nil {
		return body, err
	}
	if len(notifications) == 0 {
		return body, nil
	}
	var b strings.Builder
	for _, n := range notifications {
		fmt.Fprintf(&b, "[Laminark] %s\n", n.Message)
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String(), nil
}
