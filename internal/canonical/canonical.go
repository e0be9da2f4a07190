// Package canonical produces stable byte representations of receipt and
// invocation data so that fingerprints are reproducible across processes.
package canonical

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Bytes returns the canonical JSON encoding of v: object keys sorted,
// no extraneous whitespace. encoding/json already sorts map[string]T keys
// lexicographically, so a plain Marshal is canonical as long as callers pass
// maps (not structs with field-declaration order) for anything whose key
// order must be stable across versions of the code.
func Bytes(v any) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

// normalize walks v converting map[string]any-shaped data recursively so
// that nested maps are also emitted with sorted keys, and so that nil slices
// serialize as [] rather than null where the shape calls for a list.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = normalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// Fingerprint hashes parts, each followed by a NUL separator, into a stable
// 16-hex-character digest using xxhash64.
func Fingerprint(parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// FingerprintBytes hashes raw canonical bytes, used when verifying a
// receipt's fingerprint against its recomputed immutable-field encoding.
func FingerprintBytes(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// InvocationFingerprint computes fingerprint = hex16(xxhash64(jobId ∥
// commit ∥ worktree ∥ canonical(payload))) per spec §3, the identity used
// both for invocation dedup and for re-verifying a receipt's fingerprint
// against its immutable fields (invariant 5, §8).
func InvocationFingerprint(jobID, commit, worktree string, payload map[string]any) (string, error) {
	payloadBytes, err := Bytes(payload)
	if err != nil {
		return "", err
	}
	return Fingerprint(jobID, commit, worktree, string(payloadBytes)), nil
}
