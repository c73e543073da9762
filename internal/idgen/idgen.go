// Package idgen generates Laminark's opaque record ids.
//
// Unlike the teacher's adaptive-length, hash-based GenerateHashID (which
// encodes a human-memorable prefix and retries on collision), Laminark ids
// are fully opaque per spec.md §3: a single 128-bit random value rendered
// as 32 lowercase hex characters. No prefix scheme or collision-retry loop
// is needed beyond the uniqueness check already performed by the caller's
// INSERT (unique index on id).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// New returns a fresh 128-bit id rendered as 32 lowercase hex characters.
func New() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("idgen: failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// MustNew is New, panicking on failure. Only safe when the caller has no
// sensible error path (e.g. package-level test fixtures).
func MustNew() string {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}
