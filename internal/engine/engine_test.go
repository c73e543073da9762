package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/laminark/laminark/internal/config"
	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.Open(ctx, dbPath, 0, nil)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		EmbeddingStrategy: "local",
		TopicDetection:    config.TopicDetectionConfig{Enabled: true, Multiplier: 1.5, EWMAAlpha: 0.3, ThresholdMin: 0.15, ThresholdMax: 0.6},
		Hygiene: config.HygieneConfig{
			SignalWeights:         map[string]float64{"orphaned": 0.25, "island": 0.15, "noise_classified": 0.2, "short_content": 0.15, "auto_captured": 0.1, "stale": 0.15},
			TierThresholds:        map[string]float64{"high": 0.70, "medium": 0.50},
			ShortContentThreshold: 40,
		},
		TokenBudget: 2000,
	}

	e, err := New(ctx, store, cfg, Deps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e, store
}

func TestSaveMemoryAndRecallByQuery(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	const project = "proj-1"

	msg, err := e.SaveMemory(ctx, project, "decided to switch the cache layer to redis for session storage", "cache decision", "chat", types.KindDecision)
	if err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}
	if !strings.Contains(msg, "Saved observation") {
		t.Fatalf("unexpected SaveMemory response: %q", msg)
	}

	body, err := e.Recall(ctx, project, RecallInput{Query: "redis cache", Action: RecallView, Detail: "compact"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if !strings.Contains(body, "cache decision") {
		t.Fatalf("expected recall to surface the saved observation, got %q", body)
	}
}

func TestSaveMemoryRejectsBelowRelevanceFloor(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.SaveMemory(ctx, "proj-1", "ok", "", "", "")
	if err == nil {
		t.Fatal("expected rejection for below-relevance-floor text")
	}
	if !types.Is(err, types.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestSaveMemoryRejectsOversizedText(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	big := strings.Repeat("a", MaxMemoryChars+1)
	_, err := e.SaveMemory(ctx, "proj-1", big, "", "", "")
	if !types.Is(err, types.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for oversized text, got %v", err)
	}
}

func TestSaveMemoryRejectsDuplicateContent(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	const project = "proj-1"
	const text = "the build pipeline now runs integration tests before deployment to staging"

	if _, err := e.SaveMemory(ctx, project, text, "ci change", "", types.KindChange); err != nil {
		t.Fatalf("first SaveMemory: %v", err)
	}
	_, err := e.SaveMemory(ctx, project, text, "ci change again", "", types.KindChange)
	if err == nil {
		t.Fatal("expected duplicate rejection")
	}
	if !types.Is(err, types.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRecallPurgeAndRestore(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	const project = "proj-1"

	obs, err := store.Observations().Create(ctx, project, "an observation to purge and restore", "t", "", types.KindReference)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := e.Recall(ctx, project, RecallInput{ID: obs.ID, Action: RecallPurge}); err != nil {
		t.Fatalf("Recall purge: %v", err)
	}
	got, err := store.Observations().GetByID(ctx, project, obs.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Fatal("expected observation soft-deleted")
	}

	if _, err := e.Recall(ctx, project, RecallInput{ID: obs.ID, Action: RecallRestore}); err != nil {
		t.Fatalf("Recall restore: %v", err)
	}
	got, err = store.Observations().GetByID(ctx, project, obs.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("expected observation restored")
	}
}

func TestShutdownRejectsFurtherCalls(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	e.Shutdown()

	_, err := e.SaveMemory(ctx, "proj-1", "some content after shutdown", "", "", "")
	if !types.Is(err, types.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestStatusAndGraphStatsRender(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	const project = "proj-1"

	if _, err := e.SaveMemory(ctx, project, "a fresh observation for status", "t", "", types.KindReference); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	status, err := e.Status(ctx, project)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(status, "Observations:") {
		t.Fatalf("expected status dashboard to mention observations, got %q", status)
	}

	stats, err := e.GraphStats(ctx, project)
	if err != nil {
		t.Fatalf("GraphStats: %v", err)
	}
	if !strings.Contains(stats, "Nodes:") {
		t.Fatalf("expected graph stats to mention node count, got %q", stats)
	}
}

func TestTopicContextWithNoStashes(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	body, err := e.TopicContext(ctx, "proj-1", "", 5)
	if err != nil {
		t.Fatalf("TopicContext: %v", err)
	}
	if !strings.Contains(body, "No active stashes") {
		t.Fatalf("expected empty-state message, got %q", body)
	}
}
