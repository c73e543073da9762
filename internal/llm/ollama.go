package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/laminark/laminark/internal/graph"
	"github.com/laminark/laminark/internal/types"
)

// DefaultOllamaModel mirrors the teacher's OllamaExtractor default.
const DefaultOllamaModel = "llama3.2:3b"

// OllamaClient is an alternate, fully local entity extractor, grounded on
// the teacher's extractor.OllamaExtractor: JSON-mode generation against a
// local daemon, a short-timeout availability probe, and tolerant response
// parsing (an LLM occasionally emits an array where a string was asked
// for).
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient builds a client from the OLLAMA_HOST environment
// convention (api.ClientFromEnvironment), defaulting the model like the
// teacher's NewOllamaExtractor.
func NewOllamaClient(model string) (*OllamaClient, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create ollama client: %w", err)
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaClient{client: client, model: model}, nil
}

func (o *OllamaClient) Name() string { return "ollama" }

// Available probes the local daemon with a short timeout, per spec.md
// §4.3's "any strategy may be unavailable" degradation rule.
func (o *OllamaClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := o.client.List(ctx)
	return err == nil
}

type ollamaEntity struct {
	Name json.RawMessage `json:"name"`
	Type string          `json:"type"`
}

type ollamaRelationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

type ollamaResponse struct {
	Entities      []ollamaEntity       `json:"entities"`
	Relationships []ollamaRelationship `json:"relationships"`
}

// Extract implements graph.EntityExtractor against a local Ollama model.
// It returns (nil, err) rather than blocking indefinitely when the daemon
// is unreachable, letting the Embedding Pipeline log and continue.
func (o *OllamaClient) Extract(ctx context.Context, text string) ([]graph.ExtractedEntity, error) {
	if !o.Available(ctx) {
		return nil, fmt.Errorf("llm: ollama service not available")
	}

	prompt := fmt.Sprintf(`You are an entity extractor for a software engineering knowledge graph.
Valid entity types are exactly: Project, File, Decision, Problem, Solution, Reference, Tool, Person.

Output ONLY a valid JSON object with exactly two keys, "entities" and "relationships".
"entities" is an array of {"name": string, "type": string}.
"relationships" is an array of {"from": string, "to": string, "type": string}.
Do not group entities into sub-objects or emit arrays for "name".

Text:
%s`, text)

	streamOff := false
	req := &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Format: json.RawMessage(`"json"`),
		Stream: &streamOff,
	}

	var respText string
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		respText = resp.Response
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm: ollama generation failed: %w", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal([]byte(cleanJSON(respText)), &parsed); err != nil {
		return nil, fmt.Errorf("llm: failed to parse ollama json: %w", err)
	}

	var out []graph.ExtractedEntity
	for _, e := range parsed.Entities {
		var name string
		if err := json.Unmarshal(e.Name, &name); err != nil {
			var names []string
			if err2 := json.Unmarshal(e.Name, &names); err2 == nil {
				for _, n := range names {
					out = append(out, graph.ExtractedEntity{Name: strings.ToLower(n), Type: types.EntityType(e.Type)})
				}
			}
			continue
		}
		if len(name) < 2 {
			continue
		}
		out = append(out, graph.ExtractedEntity{Name: strings.ToLower(name), Type: types.EntityType(e.Type)})
	}
	return out, nil
}

// OllamaInferrer is the relationship inferrer backed by the same local
// model as OllamaClient. Laminark's Materializer calls the extractor and
// inferrer separately, so Infer makes its own generation call with a
// dedicated prompt; every relationship it returns has confidence 1.0.
type OllamaInferrer struct{ *OllamaClient }

// Infer implements graph.RelationshipInferrer against the same local model.
func (o *OllamaInferrer) Infer(ctx context.Context, text string, entities []graph.ExtractedEntity) ([]graph.ExtractedRelationship, error) {
	if len(entities) < 2 || !o.Available(ctx) {
		return nil, nil
	}
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}

	prompt := fmt.Sprintf(`You are inferring relationships between already-extracted entities: %s.
Valid relationship types are exactly: modifies, informed_by, verified_by, caused_by, solved_by, references, preceded_by, related_to.
Output ONLY {"relationships":[{"from":string,"to":string,"type":string}]}.

Text:
%s`, strings.Join(names, ", "), text)

	streamOff := false
	req := &api.GenerateRequest{Model: o.model, Prompt: prompt, Format: json.RawMessage(`"json"`), Stream: &streamOff}

	var respText string
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		respText = resp.Response
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm: ollama generation failed: %w", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal([]byte(cleanJSON(respText)), &parsed); err != nil {
		return nil, fmt.Errorf("llm: failed to parse ollama json: %w", err)
	}
	var out []graph.ExtractedRelationship
	for _, r := range parsed.Relationships {
		if r.From == "" || r.To == "" {
			continue
		}
		out = append(out, graph.ExtractedRelationship{
			SourceName: strings.ToLower(r.From), TargetName: strings.ToLower(r.To),
			Type: types.RelationshipType(r.Type), Confidence: 1.0,
		})
	}
	return out, nil
}
