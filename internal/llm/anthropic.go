package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/laminark/laminark/internal/audit"
	"github.com/laminark/laminark/internal/graph"
	"github.com/laminark/laminark/internal/types"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrAPIKeyRequired mirrors the teacher's compact.ErrAPIKeyRequired.
var ErrAPIKeyRequired = errors.New("llm: ANTHROPIC_API_KEY required")

// AnthropicClient is Laminark's default implementation of all three
// text-generation host callables (entity extractor, relationship
// inferrer, stash labeler/summarizer), grounded on the teacher's
// compact.HaikuClient: one retrying client, one prompt template per task.
type AnthropicClient struct {
	client   anthropic.Client
	model    anthropic.Model
	extract  *template.Template
	infer    *template.Template
	summary  *template.Template
	maxRetry int
	backoff  time.Duration
	audit    *audit.Log
}

// NewAnthropicClient builds a client. The environment variable
// ANTHROPIC_API_KEY takes precedence over an explicit apiKey, mirroring
// the teacher's NewHaikuClient.
func NewAnthropicClient(apiKey string, auditLog *audit.Log) (*AnthropicClient, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or pass it explicitly", ErrAPIKeyRequired)
	}

	extractTmpl, err := template.New("extract").Parse(extractPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to parse extract template: %w", err)
	}
	inferTmpl, err := template.New("infer").Parse(inferPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to parse infer template: %w", err)
	}
	summaryTmpl, err := template.New("summary").Parse(summaryPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to parse summary template: %w", err)
	}

	return &AnthropicClient{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    defaultModel,
		extract:  extractTmpl,
		infer:    inferTmpl,
		summary:  summaryTmpl,
		maxRetry: maxRetries,
		backoff:  initialBackoff,
		audit:    auditLog,
	}, nil
}

func (c *AnthropicClient) callWithRetry(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, DefaultRemoteTimeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	var response string
	for attempt := 0; attempt <= c.maxRetry; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				lastErr = fmt.Errorf("llm: empty response content")
				break
			}
			block := message.Content[0]
			if block.Type != "text" {
				lastErr = fmt.Errorf("llm: unexpected response block type %q", block.Type)
				break
			}
			response = block.Text
			lastErr = nil
			break
		}

		lastErr = err
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if !isRetryable(err) {
			lastErr = fmt.Errorf("llm: non-retryable error: %w", err)
			break
		}
	}

	if c.audit != nil {
		entry := &audit.Entry{Kind: "llm_call", Callable: "anthropic", Model: string(c.model), Prompt: prompt, Response: response}
		if lastErr != nil {
			entry.Error = lastErr.Error()
		}
		_, _ = c.audit.Append(entry)
	}
	return response, lastErr
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// --- Entity extractor / relationship inferrer (graph.EntityExtractor / graph.RelationshipInferrer) ---

type extractedEntityJSON struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type extractResponseJSON struct {
	Entities []extractedEntityJSON `json:"entities"`
}

// Extract implements graph.EntityExtractor.
func (c *AnthropicClient) Extract(ctx context.Context, text string) ([]graph.ExtractedEntity, error) {
	var buf strings.Builder
	if err := c.extract.Execute(&buf, struct{ Text string }{Text: text}); err != nil {
		return nil, fmt.Errorf("llm: failed to render extract prompt: %w", err)
	}
	raw, err := c.callWithRetry(ctx, buf.String())
	if err != nil {
		return nil, err
	}

	var parsed extractResponseJSON
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("llm: failed to parse extraction json: %w", err)
	}

	out := make([]graph.ExtractedEntity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		if e.Name == "" {
			continue
		}
		out = append(out, graph.ExtractedEntity{Name: e.Name, Type: types.EntityType(e.Type)})
	}
	return out, nil
}

type relationshipJSON struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type inferResponseJSON struct {
	Relationships []relationshipJSON `json:"relationships"`
}

// Infer implements graph.RelationshipInferrer.
func (c *AnthropicClient) Infer(ctx context.Context, text string, entities []graph.ExtractedEntity) ([]graph.ExtractedRelationship, error) {
	if len(entities) < 2 {
		return nil, nil
	}
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = fmt.Sprintf("%s (%s)", e.Name, e.Type)
	}
	var buf strings.Builder
	if err := c.infer.Execute(&buf, struct {
		Text     string
		Entities string
	}{Text: text, Entities: strings.Join(names, ", ")}); err != nil {
		return nil, fmt.Errorf("llm: failed to render infer prompt: %w", err)
	}

	raw, err := c.callWithRetry(ctx, buf.String())
	if err != nil {
		return nil, err
	}
	var parsed inferResponseJSON
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("llm: failed to parse relationship json: %w", err)
	}

	out := make([]graph.ExtractedRelationship, 0, len(parsed.Relationships))
	for _, r := range parsed.Relationships {
		if r.Source == "" || r.Target == "" {
			continue
		}
		out = append(out, graph.ExtractedRelationship{
			SourceName: r.Source, TargetName: r.Target,
			Type: types.RelationshipType(r.Type), Confidence: r.Confidence,
		})
	}
	return out, nil
}

// --- Stash labeler/summarizer ---

// Summarize implements both topic.Summarizer and hygiene.Summarizer: a
// short topic_label on the first line ("Label: ...") followed by the prose
// summary ("Summary: ...").
func (c *AnthropicClient) Summarize(ctx context.Context, observations []types.Observation) (label, summary string, err error) {
	if len(observations) == 0 {
		return "", "", fmt.Errorf("llm: no observations to summarize")
	}
	var contents strings.Builder
	for i, o := range observations {
		fmt.Fprintf(&contents, "%d. [%s] %s\n", i+1, o.Kind, o.Content)
	}

	var buf strings.Builder
	if err := c.summary.Execute(&buf, struct{ Observations string }{Observations: contents.String()}); err != nil {
		return "", "", fmt.Errorf("llm: failed to render summary prompt: %w", err)
	}

	raw, err := c.callWithRetry(ctx, buf.String())
	if err != nil {
		return "", "", err
	}
	return splitLabelSummary(raw)
}

// splitLabelSummary takes the first non-empty line as the label and the
// remainder as the summary body.
func splitLabelSummary(raw string) (label, summary string, err error) {
	lines := strings.SplitN(strings.TrimSpace(raw), "\n", 2)
	label = strings.TrimSpace(strings.TrimPrefix(lines[0], "Label:"))
	if label == "" {
		return "", "", fmt.Errorf("llm: empty label in summarizer response")
	}
	if len(lines) > 1 {
		summary = strings.TrimSpace(strings.TrimPrefix(lines[1], "Summary:"))
	}
	return label, summary, nil
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

const extractPromptTemplate = `You are an entity extractor for a software engineering knowledge graph.
Valid entity types are exactly: Project, File, Decision, Problem, Solution, Reference, Tool, Person.

From the following text, extract every entity that fits one of these types.
Output ONLY a JSON object of the form {"entities":[{"name":"...","type":"..."}]}.
Do not include any entity whose type is not in the list above.

Text:
{{.Text}}`

const inferPromptTemplate = `You are a relationship inferrer for a software engineering knowledge graph.
Valid relationship types are exactly: modifies, informed_by, verified_by, caused_by, solved_by, references, preceded_by, related_to.

Given the text and the already-extracted entities below, infer directed relationships between them.
Output ONLY a JSON object of the form
{"relationships":[{"source":"...","target":"...","type":"...","confidence":0.0}]}
where confidence is in [0,1] and source/target are names from the entity list.

Entities: {{.Entities}}

Text:
{{.Text}}`

const summaryPromptTemplate = `You are labeling and summarizing a thread of related engineering observations for later retrieval.

Observations:
{{.Observations}}

Respond in exactly this format:
Label: <a short, three-to-six word topic label>
Summary: <two or three sentences covering what happened and why it matters>`
