package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/laminark/laminark/internal/storage/sqlite"
)

func TestParseMarkdownSplitsOnTopLevelHeadings(t *testing.T) {
	source := []byte("# First\n\nfirst body\n\n# Second\n\nsecond body\n")
	sections := ParseMarkdown("doc.md", source)
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if sections[0].Title != "First" || sections[1].Title != "Second" {
		t.Fatalf("unexpected titles: %q, %q", sections[0].Title, sections[1].Title)
	}
}

func TestParseMarkdownNoHeadingsYieldsOneSection(t *testing.T) {
	sections := ParseMarkdown("notes.md", []byte("just some text, no headings"))
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if sections[0].Title != "notes" {
		t.Fatalf("expected title derived from filename, got %q", sections[0].Title)
	}
}

func TestParseFileWithFrontmatterAppliesOverrides(t *testing.T) {
	raw := []byte("---\nkind: decision\nsource: design-doc\n---\n# Title\n\nbody text\n")
	sections, fm := ParseFileWithFrontmatter("doc.md", raw)
	if fm.Kind != "decision" || fm.Source != "design-doc" {
		t.Fatalf("expected frontmatter parsed, got %+v", fm)
	}
	if len(sections) != 1 || sections[0].Title != "Title" {
		t.Fatalf("expected frontmatter stripped before section parsing, got %+v", sections)
	}
}

func TestIngestDirectoryAppliesFrontmatterKindOverride(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	content := "---\nkind: decision\n---\n# Choice\n\nwe chose redis\n"
	if err := os.WriteFile(filepath.Join(dir, "choice.md"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	res, err := IngestDirectory(ctx, store, "proj-1", dir, nil)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("expected 1 observation created, got %d", len(res.Created))
	}
	obs, err := store.Observations().GetByID(ctx, "proj-1", res.Created[0])
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if obs.Kind != "decision" {
		t.Fatalf("expected frontmatter kind override applied, got %q", obs.Kind)
	}
}

func TestIngestDirectoryCreatesOneObservationPerSection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# A\n\nalpha\n\n# B\n\nbeta\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("not markdown"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	res, err := IngestDirectory(ctx, store, "proj-1", dir, nil)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if res.FilesScanned != 1 {
		t.Fatalf("expected 1 markdown file scanned, got %d", res.FilesScanned)
	}
	if len(res.Created) != 2 {
		t.Fatalf("expected 2 observations created, got %d", len(res.Created))
	}

	count, err := store.Observations().Count(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 observations persisted, got %d", count)
	}
}
