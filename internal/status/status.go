// Package status is Status & Stats (C8): a markdown dashboard string
// rebuilt in the background on a dirty flag rather than on every read,
// grounded on the teacher's row-level dirty-marking idiom
// (internal/storage/sqlite/dirty_helpers.go's markDirty/markDirtyBatch)
// generalized from a per-row export flag to a single whole-cache flag, and
// on cmd/bd/daemon_event_loop.go's ticker-plus-debounced-rebuild shape.
package status

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laminark/laminark/internal/graph"
	"github.com/laminark/laminark/internal/logging"
	"github.com/laminark/laminark/internal/storage/sqlite"
)

// RebuildInterval is how often the background tick checks the dirty flag.
const RebuildInterval = 2 * time.Second

// Cache is the in-memory status dashboard. Writers call MarkDirty; a
// background tick rebuilds the cached body when dirty, per spec.md §4.8.
// The uptime line is patched in on every Render call so the dashboard
// stays fresh without a rebuild.
type Cache struct {
	store *sqlite.Store
	log   logging.Logger

	startedAt time.Time
	dirty     atomic.Bool

	mu          sync.RWMutex
	body        string
	projectHash string // last project Render was called for; "" until first Render

	stop chan struct{}
	done chan struct{}
}

// New constructs a Cache. The cache starts dirty so the first Render
// triggers an immediate rebuild rather than serving an empty body.
func New(store *sqlite.Store, log logging.Logger) *Cache {
	if log == nil {
		log = logging.Nop{}
	}
	c := &Cache{
		store:     store,
		log:       log,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.dirty.Store(true)
	return c
}

// MarkDirty flags the cache for rebuild on the next background tick. Called
// by writers (save_memory, hygiene purge, stash creation, ...).
func (c *Cache) MarkDirty() {
	c.dirty.Store(true)
}

// Start launches the background rebuild tick. It never runs on the
// request-serving goroutine.
func (c *Cache) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop halts the background tick.
func (c *Cache) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(RebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			ph := c.projectHash
			c.mu.RUnlock()
			if ph == "" {
				continue
			}
			if c.dirty.CompareAndSwap(true, false) {
				if body, err := c.build(ctx, ph); err != nil {
					c.log.Warn("failed to rebuild status cache", "error", err)
					c.dirty.Store(true)
				} else {
					c.mu.Lock()
					c.body = body
					c.mu.Unlock()
				}
			}
		}
	}
}

// Render returns the current dashboard body with a freshly patched uptime
// line, rebuilding synchronously first if the cache has never been built
// or was marked dirty since the last background tick, per spec.md §4.8
// ("graph stats is on-demand"). Laminark is host-embedded and scoped to one
// project per call in the common case; the cache remembers the most
// recently rendered project_hash so the background tick has a scope to
// rebuild against without Render needing to block on it.
func (c *Cache) Render(ctx context.Context, projectHash string) (string, error) {
	c.mu.Lock()
	c.projectHash = projectHash
	c.mu.Unlock()

	if c.dirty.CompareAndSwap(true, false) {
		body, err := c.build(ctx, projectHash)
		if err != nil {
			c.dirty.Store(true)
			return "", err
		}
		c.mu.Lock()
		c.body = body
		c.mu.Unlock()
	}

	c.mu.RLock()
	body := c.body
	c.mu.RUnlock()

	return patchUptime(body, time.Since(c.startedAt)), nil
}

func (c *Cache) build(ctx context.Context, projectHash string) (string, error) {
	var b strings.Builder
	b.WriteString("# Laminark status\n\n")
	b.WriteString(uptimeLine(0))
	b.WriteString("\n\n")

	count, err := c.store.Observations().Count(ctx, projectHash)
	if err != nil {
		c.log.Warn("failed to count observations for status", "error", err)
	} else {
		fmt.Fprintf(&b, "Observations: %d\n", count)
	}

	stats, err := graph.ComputeStats(ctx, c.store, []string{projectHash})
	if err != nil {
		c.log.Warn("failed to compute graph stats for status", "error", err)
	} else {
		fmt.Fprintf(&b, "Graph: %d nodes, %d edges, avg degree %.2f\n", stats.TotalNodes, stats.TotalEdges, stats.AverageDegree)
		if len(stats.Hotspots) > 0 {
			fmt.Fprintf(&b, "Hotspots: %s\n", strings.Join(stats.Hotspots, ", "))
		}
		if len(stats.OpenStaleness) > 0 {
			fmt.Fprintf(&b, "Open staleness flags: %d\n", len(stats.OpenStaleness))
		}
	}

	stashes, err := c.store.Stashes().GetRecentStashes(ctx, projectHash, 100)
	if err == nil {
		fmt.Fprintf(&b, "Active stashes: %d\n", len(stashes))
	}

	b.WriteString("\nHasVectorSupport: ")
	if c.store.HasVectorSupport() {
		b.WriteString("yes\n")
	} else {
		b.WriteString("no\n")
	}

	return b.String(), nil
}

const uptimeMarker = "Uptime: "

func uptimeLine(d time.Duration) string {
	return fmt.Sprintf("%s%s", uptimeMarker, d.Round(time.Second))
}

// patchUptime replaces the cached body's uptime line with a freshly
// computed one, so the dashboard is always current without a rebuild, per
// spec.md §4.8.
func patchUptime(body string, uptime time.Duration) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, uptimeMarker) {
			lines[i] = uptimeLine(uptime)
			return strings.Join(lines, "\n")
		}
	}
	return body
}

// GraphStats exposes the read-only, always-on-demand graph_stats() tool,
// per spec.md §4.6/§4.8.
func GraphStats(ctx context.Context, store *sqlite.Store, projectHash string) (*graph.Stats, error) {
	return graph.ComputeStats(ctx, store, []string{projectHash})
}
