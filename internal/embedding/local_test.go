package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashingStrategyEmbedIsDeterministicAndNormalized(t *testing.T) {
	h := NewHashingStrategy(64)
	ctx := context.Background()

	v1, model, version, err := h.Embed(ctx, "the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if model != LocalModelID || version != LocalModelVersion {
		t.Fatalf("unexpected model/version: %s/%s", model, version)
	}
	if len(v1) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(v1))
	}

	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1.0) > 1e-6 {
		t.Fatalf("expected unit-normalized vector, got norm %f", norm)
	}

	v2, _, _, err := h.Embed(ctx, "the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("Embed is not deterministic at index %d: %f != %f", i, v1[i], v2[i])
		}
	}
}

func TestHashingStrategyEmbedEmptyText(t *testing.T) {
	h := NewHashingStrategy(32)
	v, _, _, err := h.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	for i, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector for empty text, index %d = %f", i, x)
		}
	}
}

func TestHashingStrategyAvailableAndName(t *testing.T) {
	h := NewHashingStrategy(0)
	if h.Dimensions != 256 {
		t.Fatalf("expected default dimensions 256, got %d", h.Dimensions)
	}
	if !h.Available(context.Background()) {
		t.Fatal("HashingStrategy must always be available")
	}
	if h.Name() != "local" {
		t.Fatalf("unexpected name: %s", h.Name())
	}
}
