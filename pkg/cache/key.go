package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// KeyPrefix namespaces all sprint-report cache keys in the shared tier.
const KeyPrefix = "sprint"

// Key generates a deterministic cache key for a logical upstream request.
// Format: sprint:<service>:<endpoint>:<method>:<hash>
// where hash is the first 8 bytes of SHA-256(canonical JSON(params)) in hex.
//
// Identical logical requests always produce the same key regardless of the
// iteration order of params. Hash collisions are an accepted risk, not a
// correctness guarantee: the 64-bit prefix is wide enough for the keyspace
// sizes this service sees.
func Key(service, endpoint, method string, params map[string]any) string {
	parts := []string{
		KeyPrefix,
		service,
		strings.Trim(endpoint, "/"),
		strings.ToUpper(method),
		hashParams(params),
	}
	return strings.Join(parts, ":")
}

// hashParams produces a stable hash of the request parameters.
func hashParams(params map[string]any) string {
	canonical := canonicalize(params)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:8])
}

// canonicalize produces a deterministic JSON representation of a value.
// Map keys are sorted recursively; everything else uses standard JSON
// encoding, which is already deterministic for slices and scalars.
func canonicalize(v any) []byte {
	switch val := v.(type) {
	case nil:
		return []byte("null")
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			// Unserializable params still need a stable key.
			return []byte(fmt.Sprintf("%q", fmt.Sprintf("%v", v)))
		}
		return data
	}
}

func canonicalizeMap(m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		keyBytes, _ := json.Marshal(k)
		result = append(result, keyBytes...)
		result = append(result, ':')
		result = append(result, canonicalize(m[k])...)
	}
	return append(result, '}')
}

func canonicalizeSlice(s []any) []byte {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}
		result = append(result, canonicalize(v)...)
	}
	return append(result, ']')
}
