// Package graph is the Graph Subsystem (C6): extraction-contract validation,
// materialization, BFS traversal, root search, stats, and staleness
// flagging.
//
// Extraction-contract validation is grounded on the teacher's
// internal/extractor package (Entity/Relationship types, the Extractor
// interface, and OllamaExtractor's strict JSON-shape validation and
// silent-dropping of malformed rows). Traversal and stats are new code
// grounded on the teacher's internal/queries/graph.go and fuzzy.go
// query-composition style.
package graph

import (
	"context"

	"github.com/laminark/laminark/internal/logging"
	"github.com/laminark/laminark/internal/storage/sqlite"
	"github.com/laminark/laminark/internal/types"
)

// ExtractedEntity is one (name, type) pair returned by the entity
// extractor external callable.
type ExtractedEntity struct {
	Name string
	Type types.EntityType
}

// ExtractedRelationship is one (source, target, type, confidence) tuple
// returned by the relationship inferrer external callable.
type ExtractedRelationship struct {
	SourceName string
	TargetName string
	Type       types.RelationshipType
	Confidence float64
}

// EntityExtractor is the host-callable contract of spec.md §6:
// extract(text) -> [(name, type)].
type EntityExtractor func(ctx context.Context, text string) ([]ExtractedEntity, error)

// RelationshipInferrer is the host-callable contract of spec.md §6:
// infer(text, entities) -> [(source_name, target_name, type, confidence)].
type RelationshipInferrer func(ctx context.Context, text string, entities []ExtractedEntity) ([]ExtractedRelationship, error)

// Materializer upserts validated extraction output into the graph store,
// per spec.md §4.6.
type Materializer struct {
	store     *sqlite.Store
	extractor EntityExtractor
	inferrer  RelationshipInferrer
	log       logging.Logger
}

// NewMaterializer constructs a Materializer. extractor may be nil, in which
// case Extract is a no-op (keyword-only degradation); with a nil inferrer,
// Extract upserts nodes but no edges.
func NewMaterializer(store *sqlite.Store, extractor EntityExtractor, inferrer RelationshipInferrer, log logging.Logger) *Materializer {
	if log == nil {
		log = logging.Nop{}
	}
	return &Materializer{store: store, extractor: extractor, inferrer: inferrer, log: log}
}

// validateEntities drops rows whose type is outside the taxonomy, mirroring
// OllamaExtractor's strict-shape validation.
func validateEntities(raw []ExtractedEntity) []ExtractedEntity {
	var out []ExtractedEntity
	for _, e := range raw {
		if e.Name == "" || !e.Type.IsValid() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// validateRelationships drops rows whose type is outside the taxonomy or
// whose confidence is out of [0,1].
func validateRelationships(raw []ExtractedRelationship) []ExtractedRelationship {
	var out []ExtractedRelationship
	for _, r := range raw {
		if r.SourceName == "" || r.TargetName == "" || !r.Type.IsValid() {
			continue
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Extract runs the full extraction → materialization flow for one
// observation: call the external callables, validate their output, and
// upsert nodes/edges. An entity-extraction error is returned (the caller
// — the Embedding Pipeline — logs and continues per spec.md §4.3 step 4;
// it must never stall the queue or crash the worker); relationship-inference
// and per-row upsert errors are logged here and not returned.
func (m *Materializer) Extract(ctx context.Context, projectHash, observationID, content string) error {
	if m.extractor == nil {
		return nil
	}

	rawEntities, err := m.extractor(ctx, content)
	if err != nil {
		return err
	}
	entities := validateEntities(rawEntities)
	if len(entities) == 0 {
		return nil
	}

	nameToNode := map[string]*types.GraphNode{}
	for _, e := range entities {
		node, err := m.store.Graph().UpsertNode(ctx, projectHash, e.Type, e.Name, nil, observationID)
		if err != nil {
			m.log.Warn("failed to upsert graph node", "name", e.Name, "type", e.Type, "error", err)
			continue
		}
		nameToNode[e.Name] = node
	}

	if m.inferrer == nil {
		return nil
	}
	rawRels, err := m.inferrer(ctx, content, entities)
	if err != nil {
		m.log.Warn("relationship inference failed", "error", err)
		return nil
	}
	for _, rel := range validateRelationships(rawRels) {
		src, ok1 := nameToNode[rel.SourceName]
		tgt, ok2 := nameToNode[rel.TargetName]
		if !ok1 || !ok2 {
			continue
		}
		if _, err := m.store.Graph().UpsertEdge(ctx, projectHash, src.ID, tgt.ID, rel.Type, rel.Confidence); err != nil {
			if types.Is(err, types.ErrDegreeExceeded) {
				m.log.Info("edge rejected: degree cap", "source", src.Name, "target", tgt.Name)
				continue
			}
			m.log.Warn("failed to upsert graph edge", "source", src.Name, "target", tgt.Name, "error", err)
			continue
		}
		if err := CheckStaleness(ctx, m.store, projectHash, src.ID, tgt.ID, rel.Type); err != nil {
			m.log.Warn("staleness check failed", "source", src.Name, "target", tgt.Name, "error", err)
		}
	}
	return nil
}
