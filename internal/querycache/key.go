package querycache

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Key builds a cache key from its parts, e.g. Key("absence-status", userID).
// Parts are encoded as a JSON array so that keys are stable and a prefix of
// parts is a textual prefix of the key.
func Key(parts ...any) string {
	if parts == nil {
		parts = []any{}
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return fmt.Sprint(parts...)
	}
	return string(b)
}

// HasPrefix reports whether key was built from parts followed by zero or more
// further parts.
func HasPrefix(key string, parts ...any) bool {
	if len(parts) == 0 {
		return true
	}
	p := Key(parts...)
	if key == p {
		return true
	}
	return strings.HasPrefix(key, strings.TrimSuffix(p, "]")+",")
}
