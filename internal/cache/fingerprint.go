// internal/cache/fingerprint.go

// Package cache provides a content-addressed result cache: deterministic
// fingerprints over task type and input, backed by a pluggable store.
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

const resultKeyPrefix = "result:"

// Fingerprint derives the cache key for one unit of work from its type and
// input. The input is canonicalized first, so logically identical inputs
// produce the same key regardless of map key order or incidental
// serialization differences. The key embeds the full SHA-256 digest.
func Fingerprint(taskType string, input map[string]interface{}) (string, error) {
	canonical, err := canonicalJSON(input)
	if err != nil {
		return "", fmt.Errorf("canonicalizing input: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(taskType))
	h.Write([]byte{0})
	h.Write(canonical)
	return fmt.Sprintf("%s%s:%x", resultKeyPrefix, taskType, h.Sum(nil)), nil
}

// canonicalJSON round-trips v through encoding/json so every nested object
// becomes a map, then re-marshals. json.Marshal emits map keys in sorted
// order, which makes the result a canonical form.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}
