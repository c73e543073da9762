// Package laminark is a minimal public API for embedding Laminark's
// memory engine into a host process.
//
// Most hosts only need Open and the Engine methods below; the internal/
// packages (storage, search, graph, topic, embedding, hygiene) are
// implementation detail and may change shape between versions.
package laminark

import (
	"context"

	"github.com/laminark/laminark/internal/config"
	"github.com/laminark/laminark/internal/engine"
	"github.com/laminark/laminark/internal/logging"
	"github.com/laminark/laminark/internal/storage/sqlite"
)

// Engine is the tool surface a host calls into: one method per tool named
// in spec.md §6 (SaveMemory, Recall, TopicContext, QueryGraph, GraphStats,
// Status, IngestKnowledge, Hygiene, ResumeStash).
type Engine = engine.Engine

// Deps bundles the optional host-callable strategies (embedding, entity
// extraction, relationship inference, stash summarization) an Engine is
// constructed with. Every field may be left nil; Laminark degrades rather
// than failing.
type Deps = engine.Deps

// Config is Laminark's resolved runtime configuration, loaded via
// LoadConfig.
type Config = config.Config

// RecallInput, RecallAction, QueryGraphInput, and HygieneInput are the
// polymorphic argument records for the correspondingly named Engine
// methods.
type (
	RecallInput     = engine.RecallInput
	RecallAction    = engine.RecallAction
	QueryGraphInput = engine.QueryGraphInput
	HygieneInput    = engine.HygieneInput
)

// Re-exported recall action constants.
const (
	RecallView    = engine.RecallView
	RecallPurge   = engine.RecallPurge
	RecallRestore = engine.RecallRestore
)

// LoadConfig discovers and parses laminark.yaml (plus any project-local
// laminark.override.toml) by walking up from startDir.
func LoadConfig(startDir string) (*Config, error) {
	return config.Load(startDir)
}

// Open opens the durable store at cfg.DBPath and constructs an Engine
// wired to it, starting the Embedding Pipeline's background worker and
// the Status cache's background rebuild tick. Close the returned Engine
// with Engine.Shutdown, then close the *sqlite.Store yourself via the
// second return value, in that order, per spec.md §5's shutdown sequence.
func Open(ctx context.Context, cfg *Config, deps Deps, log logging.Logger) (*Engine, *sqlite.Store, error) {
	store, err := sqlite.Open(ctx, cfg.DBPath, cfg.BusyTimeoutMS, log)
	if err != nil {
		return nil, nil, err
	}
	if deps.Log == nil {
		deps.Log = log
	}
	e, err := engine.New(ctx, store, cfg, deps)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return e, store, nil
}
