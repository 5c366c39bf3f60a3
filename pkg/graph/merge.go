package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// evidenceKey is the property key holding the content-addressed evidence
// array. Evidence items append on merge; all other keys shallow-replace.
const evidenceKey = "evidence"

// MergeProperties merges incoming properties into existing ones following
// upsert semantics: shallow replace per key, except evidence arrays which
// append with per-item SHA-256 dedup. Neither input map is mutated.
func MergeProperties(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		if k == evidenceKey {
			merged[k] = mergeEvidence(asSlice(existing[k]), asSlice(v))
			continue
		}
		merged[k] = v
	}
	return merged
}

// mergeEvidence appends items from incoming onto existing, dropping items
// whose content hash is already present.
func mergeEvidence(existing, incoming []any) []any {
	seen := make(map[string]bool, len(existing))
	out := make([]any, 0, len(existing)+len(incoming))
	for _, item := range existing {
		h := EvidenceHash(item)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, item)
	}
	for _, item := range incoming {
		h := EvidenceHash(item)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, item)
	}
	return out
}

// EvidenceHash returns the SHA-256 content hash identifying an evidence
// item. Items that carry an explicit "sha256" field use it; otherwise the
// hash is computed over the item's JSON encoding (map keys marshal sorted,
// so the encoding is stable).
func EvidenceHash(item any) string {
	if m, ok := item.(map[string]any); ok {
		if h, ok := m["sha256"].(string); ok && h != "" {
			return h
		}
	}
	raw, err := json.Marshal(item)
	if err != nil {
		raw = []byte("[unserializable]")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the hex SHA-256 of raw bytes. Used for response-body
// hashing during verification.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func asSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	return []any{v}
}
