package events

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// maxSanitizeDepth bounds recursion for pathological nesting.
const maxSanitizeDepth = 64

// Sanitize converts an arbitrary payload value into a form that is
// guaranteed to JSON-serialize: []byte becomes base64, time.Time becomes
// RFC3339, circular references become "[circular]", and anything the json
// encoder rejects becomes an "[unserializable:<type>]" sentinel. The input
// is never mutated.
func Sanitize(v any) any {
	return sanitize(v, make(map[uintptr]bool), 0)
}

func sanitize(v any, seen map[uintptr]bool, depth int) any {
	if v == nil {
		return nil
	}
	if depth > maxSanitizeDepth {
		return "[circular]"
	}

	switch t := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return t
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case error:
		return t.Error()
	case map[string]any:
		return sanitizeMap(t, seen, depth)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sanitize(item, seen, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		ptr := rv.Pointer()
		if ptr != 0 {
			if seen[ptr] {
				return "[circular]"
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitize(rv.Elem().Interface(), seen, depth+1)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitize(rv.Index(i).Interface(), seen, depth+1)
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value().Interface(), seen, depth+1)
		}
		return out
	case reflect.Struct:
		// Round-trip through the json encoder so tags apply; fall back to the
		// sentinel if the struct cannot serialize.
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("[unserializable:%T]", v)
		}
		var m any
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Sprintf("[unserializable:%T]", v)
		}
		return m
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("[unserializable:%T]", v)
	}

	// Remaining kinds (named basics etc.) must prove serializable.
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("[unserializable:%T]", v)
	}
	return v
}

func sanitizeMap(m map[string]any, seen map[uintptr]bool, depth int) any {
	ptr := reflect.ValueOf(m).Pointer()
	if ptr != 0 {
		if seen[ptr] {
			return "[circular]"
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitize(v, seen, depth+1)
	}
	return out
}
