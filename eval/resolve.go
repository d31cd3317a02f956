package eval

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Resolve replaces every {{path.to.value}} token in text with the value found
// by walking scope one segment at a time. Tokens whose path cannot be walked
// are left untouched. The replacement is a single pass: text produced by a
// substitution is never scanned again.
func Resolve(text string, scope map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])
		value, ok := Lookup(scope, path)
		if !ok {
			return token
		}
		return Stringify(value)
	})
}

// HasTokens reports whether text contains at least one template token.
func HasTokens(text string) bool {
	return tokenPattern.MatchString(text)
}

// Lookup walks a dotted path such as "data.user.name" or "results.h.data.0"
// through scope. Maps are indexed by key and slices by decimal index. The
// second return value is false when any segment is missing.
func Lookup(scope map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = scope
	for _, segment := range strings.Split(path, ".") {
		next, ok := member(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// member returns the named child of value.
func member(value any, name string) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		child, ok := v[name]
		return child, ok
	case map[string]string:
		child, ok := v[name]
		return child, ok
	case map[string][]string:
		child, ok := v[name]
		return child, ok
	case []any:
		return index(len(v), name, func(i int) any { return v[i] })
	case []string:
		return index(len(v), name, func(i int) any { return v[i] })
	case []map[string]any:
		return index(len(v), name, func(i int) any { return v[i] })
	case string:
		if name == "length" {
			return len(v), true
		}
		return nil, false
	}
	return nil, false
}

func index(length int, name string, get func(int) any) (any, bool) {
	if name == "length" {
		return length, true
	}
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || i >= length {
		return nil, false
	}
	return get(i), true
}

// Stringify renders a resolved value as template text. Strings are used
// verbatim, numbers in their shortest form, nil as "null", and maps or slices
// as compact JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case undefinedType:
		return "undefined"
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
