// Package llm houses Laminark's default implementations of the external
// LLM host-callable contracts named in spec.md §6: the stash
// labeler/summarizer, the entity extractor, and the relationship
// inferrer. These are never called from the request path (spec.md §5);
// they are only ever invoked by the Embedding Pipeline's background
// worker and the Topic Detector's stash-materialization step.
//
// Grounded on the teacher's internal/compact.HaikuClient
// (anthropic-sdk-go client, retry/backoff, text/template prompt
// rendering, net.Error/anthropic.Error retryability classification) and
// internal/extractor.OllamaExtractor (JSON-mode generation, strict
// response-shape validation, short-timeout availability probe).
package llm

import (
	"context"
	"time"
)

// DefaultRemoteTimeout bounds every external-callable invocation per
// spec.md §5 ("Cancellation / timeouts": default 8s for remote calls).
const DefaultRemoteTimeout = 8 * time.Second

// withTimeout derives a bounded context for one external call, per
// spec.md §5. The caller is responsible for treating a timeout as a null
// result rather than a hard failure.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultRemoteTimeout
	}
	return context.WithTimeout(ctx, d)
}
