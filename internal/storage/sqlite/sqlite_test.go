package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/laminark/laminark/internal/types"
)

// newTestStore opens a fresh store under t.TempDir(), mirroring the
// teacher's test_helpers.go (deliberately avoiding a shared :memory: db so
// concurrent tests never collide).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), dbPath, 0, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := newTestStore(t)
	if len(ListMigrations()) == 0 {
		t.Fatal("expected at least one registered migration")
	}
	// Re-running migrations on an already-migrated db must be a no-op.
	if err := RunMigrations(context.Background(), s.db, nil); err != nil {
		t.Fatalf("re-running migrations failed: %v", err)
	}
}

func TestObservationCreateGetSoftDeleteRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := s.Observations()

	o, err := repo.Create(ctx, "proj-a", "first observation about the bug", "", "manual", types.KindFinding)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if o.ID == "" {
		t.Fatal("expected non-empty id")
	}

	got, err := repo.GetByID(ctx, "proj-a", o.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil || got.Content != o.Content {
		t.Fatalf("round-trip mismatch: got %+v", got)
	}

	ok, err := repo.SoftDelete(ctx, "proj-a", o.ID)
	if err != nil || !ok {
		t.Fatalf("SoftDelete failed: ok=%v err=%v", ok, err)
	}
	if got, _ := repo.GetByID(ctx, "proj-a", o.ID); got != nil {
		t.Fatal("expected soft-deleted observation to be excluded from GetByID")
	}

	ok, err = repo.Restore(ctx, "proj-a", o.ID)
	if err != nil || !ok {
		t.Fatalf("Restore failed: ok=%v err=%v", ok, err)
	}
	if got, _ := repo.GetByID(ctx, "proj-a", o.ID); got == nil {
		t.Fatal("expected restored observation to be visible again")
	}
}

func TestProjectIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := s.Observations()

	if _, err := repo.Create(ctx, "proj-a", "Alpha secret", "", "manual", types.KindReference); err != nil {
		t.Fatal(err)
	}

	results, err := repo.List(ctx, "proj-b", ObservationListOptions{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ProjectHash != "proj-b" {
			t.Fatalf("project isolation violated: got project_hash %s while scoped to proj-b", r.ProjectHash)
		}
	}
	if len(results) != 0 {
		t.Fatalf("expected no cross-project leakage, got %d rows", len(results))
	}
}

func TestGraphDegreeCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g := s.Graph()

	hub, err := g.UpsertNode(ctx, "proj-a", types.EntityFile, "hub.go", nil, "")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < types.MaxNodeDegree; i++ {
		leaf, err := g.UpsertNode(ctx, "proj-a", types.EntityFile, leafName(i), nil, "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := g.UpsertEdge(ctx, "proj-a", hub.ID, leaf.ID, types.RelRelatedTo, 0.9); err != nil {
			t.Fatalf("edge %d should not exceed cap yet: %v", i, err)
		}
	}

	overflow, err := g.UpsertNode(ctx, "proj-a", types.EntityFile, "overflow.go", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = g.UpsertEdge(ctx, "proj-a", hub.ID, overflow.ID, types.RelRelatedTo, 0.9)
	if !types.Is(err, types.ErrDegreeExceeded) {
		t.Fatalf("expected ErrDegreeExceeded, got %v", err)
	}
}

func leafName(i int) string {
	return "leaf-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
