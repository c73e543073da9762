package context

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

func TestOpenSessionDigest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	const project = "proj-1"

	sess, err := store.Sessions().Create(ctx, project, "")
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	if _, err := store.Sessions().End(ctx, project, sess.ID, "shipped the widget"); err != nil {
		t.Fatalf("End session: %v", err)
	}

	if _, err := store.Observations().Create(ctx, project, "decided to use postgres", "db choice", "", types.KindDecision); err != nil {
		t.Fatalf("Create observation: %v", err)
	}
	if _, err := store.Observations().Create(ctx, project, "just a note", "note", "", types.KindReference); err != nil {
		t.Fatalf("Create observation: %v", err)
	}

	asm := New(store)
	digest, err := asm.OpenSession(ctx, project)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if digest.LastSessionSummary != "shipped the widget" {
		t.Fatalf("expected last session summary, got %q", digest.LastSessionSummary)
	}
	if len(digest.HighValue) != 1 {
		t.Fatalf("expected 1 high-value observation (decision/change only), got %d", len(digest.HighValue))
	}

	body := digest.Render()
	if !strings.Contains(body, "shipped the widget") {
		t.Fatalf("rendered digest missing last session summary: %q", body)
	}
	if !strings.Contains(body, "db choice") {
		t.Fatalf("rendered digest missing high-value observation title: %q", body)
	}
}

func TestPiggybackNotificationsPrependsAndConsumes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	const project = "proj-2"

	if err := store.Notifications().Add(ctx, project, "Stashed 'auth-refactor'. Use /resume to return."); err != nil {
		t.Fatalf("Add notification: %v", err)
	}

	asm := New(store)
	body, err := asm.PiggybackNotifications(ctx, project, "search results here")
	if err != nil {
		t.Fatalf("PiggybackNotifications: %v", err)
	}
	if !strings.Contains(body, "[Laminark] Stashed 'auth-refactor'") {
		t.Fatalf("expected notification line prepended, got %q", body)
	}
	if !strings.HasSuffix(body, "search results here") {
		t.Fatalf("expected original body preserved, got %q", body)
	}

	body2, err := asm.PiggybackNotifications(ctx, project, "second call")
	if err != nil {
		t.Fatalf("PiggybackNotifications second call: %v", err)
	}
	if body2 != "second call" {
		t.Fatalf("expected notification consumed (at-most-once delivery), got %q", body2)
	}
}
