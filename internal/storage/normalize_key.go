package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey converts a natural-key value to a canonical string form,
// suitable for in-memory resolver cache keys (e.g. "P0042" or "20240117").
//
// Backends must not assume a particular underlying type for keys; drivers
// variously return string, []byte or int64 for the same column. This helper
// keeps lookup caches consistent across backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
