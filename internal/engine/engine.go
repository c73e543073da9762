// Package engine is the tool surface of spec.md §6: one exported method
// per host-callable tool (SaveMemory, Recall, TopicContext, QueryGraph,
// GraphStats, Status, IngestKnowledge, Hygiene), wiring the Storage
// Engine, Embedding Pipeline, Topic Detector, Graph Subsystem, Search,
// Status cache, and Hygiene analyzer into the single facade a host's
// transport layer calls into.
//
// Grounded on the teacher's beads.go public-facade pattern: a thin
// exported entry point that re-exports an internal implementation rather
// than exposing every subordinate package directly. The wire transport
// itself (the unix-socket daemon protocol the teacher's cmd/bd/rpc package
// implements) is out of scope per spec.md §1 and is not built here.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/laminark/laminark/internal/audit"
	lctx "github.com/laminark/laminark/internal/context"
	"github.com/laminark/laminark/internal/config"
	"github.com/laminark/laminark/internal/embedding"
	"github.com/laminark/laminark/internal/graph"
	"github.com/laminark/laminark/internal/hygiene"
	"github.com/laminark/laminark/internal/logging"
	"github.com/laminark/laminark/internal/status"
	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/topic"
	"github.com/laminark/laminark/internal/types"
)

// Engine is the facade the host talks to, one method per tool in spec.md
// §6.
type Engine struct {
	store       *sqlite.Store
	cfg         *config.Config
	pipeline    *embedding.Pipeline
	detector    *topic.Detector
	materializer *graph.Materializer
	hygiene     *hygiene.Analyzer
	assembler   *lctx.Assembler
	statusCache *status.Cache
	audit       *audit.Log
	log         logging.Logger
	shuttingDown bool
}

// Deps bundles the optional external callables an Engine is constructed
// with. Any field may be nil; Laminark degrades per spec.md §4.3/§4.5
// (keyword-only search, untitled/unsummarized stashes, extraction-free
// graph updates) rather than failing.
type Deps struct {
	LocalEmbed     embedding.Strategy
	HostEmbed      embedding.Strategy
	EntityExtractor graph.EntityExtractor
	RelInferrer    graph.RelationshipInferrer
	Summarizer     topic.Summarizer
	AuditLog       *audit.Log
	Log            logging.Logger
}

// New wires every component named in spec.md §2's component table into one
// Engine, starts the Embedding Pipeline's dedicated background worker, and
// starts the Status cache's background rebuild tick.
func New(ctx context.Context, store *sqlite.Store, cfg *config.Config, deps Deps) (*Engine, error) {
	log := deps.Log
	if log == nil {
		log = logging.Nop{}
	}

	detector := topic.New(store, topic.Config{
		Enabled:         cfg.TopicDetection.Enabled,
		Multiplier:      cfg.TopicDetection.Multiplier,
		ManualThreshold: cfg.TopicDetection.ManualThreshold,
		EWMAAlpha:       cfg.TopicDetection.EWMAAlpha,
		ThresholdMin:    cfg.TopicDetection.ThresholdMin,
		ThresholdMax:    cfg.TopicDetection.ThresholdMax,
	}, deps.Summarizer, log)

	materializer := graph.NewMaterializer(store, deps.EntityExtractor, deps.RelInferrer, log)

	e := &Engine{
		store:        store,
		cfg:          cfg,
		detector:     detector,
		materializer: materializer,
		hygiene: hygiene.New(store, hygiene.Config{
			SignalWeights:         cfg.Hygiene.SignalWeights,
			HighThreshold:         cfg.Hygiene.TierThresholds["high"],
			MediumThreshold:       cfg.Hygiene.TierThresholds["medium"],
			ShortContentThreshold: cfg.Hygiene.ShortContentThreshold,
		}, hygieneSummarizer(deps.Summarizer), log),
		assembler:   lctx.New(store),
		statusCache: status.New(store, log),
		audit:       deps.AuditLog,
		log:         log,
	}

	strategy, err := embedding.Select(cfg.EmbeddingStrategy, deps.LocalEmbed, deps.HostEmbed)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e.pipeline = embedding.New(store, strategy, e.onEmbedded, e.onGraphExtract, log)
	e.pipeline.Start(ctx)
	e.statusCache.Start(ctx)

	return e, nil
}

// hygieneSummarizer adapts a topic.Summarizer callable to hygiene's
// structurally-identical Summarizer type (both are the same stash
// labeler/summarizer external callable of spec.md §6, used for two
// purposes: topic stash labeling and optional hygiene re-summarization).
func hygieneSummarizer(s topic.Summarizer) hygiene.Summarizer {
	if s == nil {
		return nil
	}
	return hygiene.Summarizer(s)
}

// Shutdown implements spec.md §5's shutdown sequence for the parts this
// process owns: reject new request-context calls, drain and close the
// background worker, stop the status tick. Closing the store itself is the
// caller's responsibility (it owns the *sqlite.Store).
func (e *Engine) Shutdown() {
	if e.shuttingDown {
		return
	}
	e.shuttingDown = true
	e.pipeline.Stop()
	e.statusCache.Stop()
}

// requireOpen rejects calls once Shutdown has been invoked, per spec.md
// §5's "close request context first (reject new calls with ShuttingDown)".
func (e *Engine) requireOpen() error {
	if e.shuttingDown {
		return types.Wrap(types.ErrShuttingDown, "engine is shutting down")
	}
	return nil
}

// requestID returns a correlation id for one tool invocation's audit
// entries, distinct from idgen's 128-bit content ids (spec.md's entities
// never use this id; it exists purely for grepping a host's audit trail
// after the fact).
func requestID() string {
	return uuid.NewString()
}

// scopeFor returns the set of project hashes a caller scoped to
// projectHash may see results from: itself plus any projects its
// crossAccess config entry lists, per spec.md §6's crossAccess config and
// §4.4's "never emit a result whose project_hash is not in the caller's
// scope set". The repository and search layers take this set directly
// (project_hash IN (...)) rather than filtering a single project's results
// after the fact, so a cross-access grant can actually surface foreign rows.
func (e *Engine) scopeFor(projectHash string) []string {
	scope := []string{projectHash}
	for _, other := range e.cfg.CrossAccess[projectHash] {
		if other != projectHash {
			scope = append(scope, other)
		}
	}
	return scope
}

// withPiggyback prepends any pending notifications to body, per spec.md
// §4.7: every retrieval-tool response must first call
// consumePending.
func (e *Engine) withPiggyback(ctx context.Context, projectHash string, body string) (string, error) {
	return e.assembler.PiggybackNotifications(ctx, projectHash, body)
}

// onEmbedded is the Embedding Pipeline's TopicHook: it runs the Topic
// Detector over the freshly embedded observation and, on a detected
// shift, materializes a ContextStash and queues a notification, per
// spec.md §4.3 step 3 and §4.5's "Action on shift". Detector errors never
// propagate here; OnEmbedding itself never returns an error (spec.md
// §4.5's "Never-fatal").
func (e *Engine) onEmbedded(ctx context.Context, projectHash, sessionID, observationID string, vector []float32, createdAt time.Time) {
	obs, err := e.store.Observations().GetByIDIncludingDeleted(ctx, projectHash, observationID)
	if err != nil || obs == nil {
		return
	}
	obs.Embedding = vector

	decision := e.detector.OnEmbedding(ctx, projectHash, sessionID, *obs)
	if !decision.Shifted {
		return
	}

	label, summary := e.detector.Summarize(ctx, decision.ThreadObservations)

	_, err = e.store.Stashes().CreateStash(ctx, sqlite.StashInput{
		ProjectHash:  projectHash,
		SessionID:    sessionID,
		TopicLabel:   label,
		Summary:      summary,
		Observations: decision.ThreadObservations,
	})
	if err != nil {
		e.log.Warn("failed to materialize context stash", "session_id", sessionID, "error", err)
		return
	}
	e.statusCache.MarkDirty()

	msg := fmt.Sprintf("Stashed '%s'. Use /resume to return.", label)
	if err := e.store.Notifications().Add(ctx, projectHash, msg); err != nil {
		e.log.Warn("failed to queue stash notification", "error", err)
	}
}

// onGraphExtract is the Embedding Pipeline's GraphHook, per spec.md §4.3
// step 4.
func (e *Engine) onGraphExtract(ctx context.Context, projectHash, observationID, content string) error {
	err := e.materializer.Extract(ctx, projectHash, observationID, content)
	if err == nil {
		e.statusCache.MarkDirty()
	}
	return err
}

// auditAppend is a best-effort audit-trail write; failures are logged, not
// surfaced, matching the teacher's "audit logging is never load-bearing"
// discipline in internal/compact.
func (e *Engine) auditAppend(kind, projectHash, sessionID string, extra map[string]any) {
	if e.audit == nil {
		return
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["request_id"] = requestID()
	entry := &audit.Entry{
		Kind:        kind,
		ProjectHash: projectHash,
		SessionID:   sessionID,
		Extra:       extra,
	}
	if _, err := e.audit.Append(entry); err != nil {
		e.log.Warn("failed to append audit entry", "kind", kind, "error", err)
	}
}

