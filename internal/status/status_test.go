package status

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := sqlite.Open(context.Background(), dbPath, 0, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRenderBuildsOnFirstCallAndPatchesUptime(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	const project = "proj-1"

	if _, err := store.Observations().Create(ctx, project, "some content", "title", "", types.KindReference); err != nil {
		t.Fatalf("Create observation: %v", err)
	}

	c := New(store, nil)
	body, err := c.Render(ctx, project)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(body, "Observations: 1") {
		t.Fatalf("expected observation count in dashboard, got %q", body)
	}
	if !strings.Contains(body, uptimeMarker) {
		t.Fatalf("expected uptime line, got %q", body)
	}
}

func TestRenderSkipsRebuildWhenNotDirty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	const project = "proj-2"

	c := New(store, nil)
	first, err := c.Render(ctx, project)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	// Creating an observation without calling MarkDirty must not show up
	// in a subsequent Render — the cache only rebuilds when dirty.
	if _, err := store.Observations().Create(ctx, project, "new content", "t", "", types.KindReference); err != nil {
		t.Fatalf("Create observation: %v", err)
	}
	second, err := c.Render(ctx, project)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	stripUptime := func(s string) string {
		lines := strings.Split(s, "\n")
		var out []string
		for _, l := range lines {
			if !strings.HasPrefix(l, uptimeMarker) {
				out = append(out, l)
			}
		}
		return strings.Join(out, "\n")
	}
	if stripUptime(first) != stripUptime(second) {
		t.Fatalf("expected body unchanged without MarkDirty:\nfirst=%q\nsecond=%q", first, second)
	}

	c.MarkDirty()
	third, err := c.Render(ctx, project)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(third, "Observations: 2") {
		t.Fatalf("expected rebuild to observe the new observation, got %q", third)
	}
}

func TestPatchUptimeReplacesExistingLine(t *testing.T) {
	body := "# Laminark status\n\nUptime: 3s\n\nObservations: 0\n"
	patched := patchUptime(body, 0)
	if !strings.Contains(patched, "Uptime: 0s") {
		t.Fatalf("expected uptime patched to 0s, got %q", patched)
	}
}
