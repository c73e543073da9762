package engine

import (
	"context"
	"fmt"

	"github.com/laminark/laminark/internal/ingest"
)

// IngestKnowledge parses markdown sections under dir (or the project's
// configured default when dir is empty) into reference observations, per
// spec.md §6.
func (e *Engine) IngestKnowledge(ctx context.Context, projectHash, dir string) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}
	if dir == "" {
		dir = e.cfg.IngestDefaultDir
	}
	if dir == "" {
		return "", fmt.Errorf("ingest_knowledge: no directory configured or supplied")
	}

	result, err := ingest.IngestDirectory(ctx, e.store, projectHash, dir, e.log)
	if err != nil {
		return "", err
	}
	e.statusCache.MarkDirty()

	body := fmt.Sprintf("Scanned %d file(s); created %d observation(s); skipped %d.",
		result.FilesScanned, len(result.Created), len(result.Skipped))
	return e.withPiggyback(ctx, projectHash, body)
}
