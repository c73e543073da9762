package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalModelVersion is stamped onto every observation embedded by
// HashingStrategy.
const LocalModelVersion = "v1"

// LocalModelID is the model_id recorded alongside LocalModelVersion.
const LocalModelID = "laminark-hashing-embedder"

// HashingStrategy is Laminark's on-device embedding strategy: a
// normalized feature-hashing bag-of-words vector. No ONNX/embedding
// runtime appears anywhere in the retrieval pack (the teacher's wazero
// dependency runs go-sqlite3's WASM build, not an embedding model), so
// this is deliberately built on the standard library rather than an
// ungrounded third-party inference stack — see DESIGN.md.
//
// It is always Available: it needs no external process, network call, or
// model download, matching spec.md §4.3's "local (on-device model)"
// strategy and §4.3's lazy-init rule (the hasher is stateless, so there
// is nothing to lazily construct beyond the Strategy value itself).
type HashingStrategy struct {
	Dimensions int
}

// NewHashingStrategy builds a HashingStrategy with the given vector
// dimensionality (defaulting to 256).
func NewHashingStrategy(dimensions int) *HashingStrategy {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashingStrategy{Dimensions: dimensions}
}

func (h *HashingStrategy) Name() string { return "local" }

func (h *HashingStrategy) Available(ctx context.Context) bool { return true }

// Embed tokenizes text into lowercase words and hashes each into one of
// Dimensions buckets, signed by a second hash bit (the standard
// feature-hashing trick), then L2-normalizes the result.
func (h *HashingStrategy) Embed(ctx context.Context, text string) ([]float32, string, string, error) {
	vec := make([]float64, h.Dimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'")
		if tok == "" {
			continue
		}
		idxHash := fnv.New32a()
		_, _ = idxHash.Write([]byte(tok))
		idx := int(idxHash.Sum32()) % h.Dimensions
		if idx < 0 {
			idx += h.Dimensions
		}

		signHash := fnv.New32a()
		_, _ = signHash.Write([]byte(tok + "#sign"))
		sign := 1.0
		if signHash.Sum32()%2 == 0 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.Dimensions)
	if norm > 0 {
		for i, v := range vec {
			out[i] = float32(v / norm)
		}
	}
	return out, LocalModelID, LocalModelVersion, nil
}
