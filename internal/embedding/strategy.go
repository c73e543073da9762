// Package embedding is the Embedding Pipeline (C3): a pluggable embedding
// strategy plus a dedicated background worker that embeds pending
// observations and writes vectors, grounded on the teacher's
// cmd/bd/devlog_enrichment.go single-item poll loop and
// cmd/bd/daemon_event_loop.go's dedicated background-worker goroutine.
package embedding

import (
	"context"
	"fmt"
)

// Strategy is a pure embedding function selected at open time, per
// spec.md §4.3. Any strategy may be unavailable; the pipeline degrades to
// keyword-only search without error.
type Strategy interface {
	// Embed computes a vector for text. Returns (nil, "", "", nil) when the
	// strategy is temporarily unavailable rather than erroring, so callers
	// can distinguish "no vector yet" from a hard failure.
	Embed(ctx context.Context, text string) (vector []float32, modelID, version string, err error)
	Name() string
	Available(ctx context.Context) bool
}

// HostDelegate is the host-callable embedding contract of spec.md §6: the
// host supplies vectors opportunistically (e.g. already computed them for
// its own purposes). Laminark never calls an LLM synchronously on the
// request path to produce one; this is purely a pass-through adapter.
type HostDelegate func(ctx context.Context, text string) ([]float32, string, string, error)

// HostDelegatedStrategy wraps a host-supplied embedding function.
type HostDelegatedStrategy struct {
	delegate HostDelegate
}

// NewHostDelegatedStrategy builds a Strategy around a host-supplied callable.
func NewHostDelegatedStrategy(delegate HostDelegate) *HostDelegatedStrategy {
	return &HostDelegatedStrategy{delegate: delegate}
}

func (h *HostDelegatedStrategy) Name() string { return "host-delegated" }

func (h *HostDelegatedStrategy) Available(ctx context.Context) bool {
	return h.delegate != nil
}

func (h *HostDelegatedStrategy) Embed(ctx context.Context, text string) ([]float32, string, string, error) {
	if h.delegate == nil {
		return nil, "", "", nil
	}
	return h.delegate(ctx, text)
}

// NoopStrategy is always unavailable; selecting it is equivalent to
// disabling embeddings (keyword-only mode).
type NoopStrategy struct{}

func (NoopStrategy) Name() string                                            { return "none" }
func (NoopStrategy) Available(ctx context.Context) bool                      { return false }
func (NoopStrategy) Embed(ctx context.Context, text string) ([]float32, string, string, error) {
	return nil, "", "", nil
}

// HybridStrategy uses the host-delegated strategy's vector when the
// delegate is available and returns one, and falls back to the local
// strategy otherwise, per spec.md §4.3's {local, host-delegated, hybrid}
// enumerated set.
type HybridStrategy struct {
	Local    Strategy
	Delegate Strategy
}

func (h *HybridStrategy) Name() string { return "hybrid" }

func (h *HybridStrategy) Available(ctx context.Context) bool {
	return (h.Local != nil && h.Local.Available(ctx)) || (h.Delegate != nil && h.Delegate.Available(ctx))
}

func (h *HybridStrategy) Embed(ctx context.Context, text string) ([]float32, string, string, error) {
	if h.Delegate != nil && h.Delegate.Available(ctx) {
		v, model, version, err := h.Delegate.Embed(ctx, text)
		if err == nil && v != nil {
			return v, model, version, nil
		}
	}
	if h.Local != nil && h.Local.Available(ctx) {
		return h.Local.Embed(ctx, text)
	}
	return nil, "", "", nil
}

// Select resolves the configured strategy name to a Strategy, per
// spec.md §6's enumerated embeddingStrategy config.
func Select(name string, local, delegate Strategy) (Strategy, error) {
	switch name {
	case "", "local":
		if local == nil {
			return NoopStrategy{}, nil
		}
		return local, nil
	case "host-delegated":
		if delegate == nil {
			return NoopStrategy{}, nil
		}
		return delegate, nil
	case "hybrid":
		return &HybridStrategy{Local: local, Delegate: delegate}, nil
	case "none":
		return NoopStrategy{}, nil
	default:
		return nil, fmt.Errorf("embedding: unknown strategy %q", name)
	}
}
