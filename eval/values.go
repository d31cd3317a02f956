package eval

import (
	"math"
	"reflect"
	"strconv"
	"strings"
)

// undefinedType is the value of a member that does not exist. It is distinct
// from nil (null) for strict equality but loosely equal to it.
type undefinedType struct{}

// Undefined is returned for member paths that do not exist.
var Undefined = undefinedType{}

func isNullish(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(undefinedType)
	return ok
}

// Truthy reports whether v counts as true in a boolean context: false, 0,
// NaN, "", null and undefined are falsy, everything else is truthy.
func Truthy(v any) bool {
	switch value := v.(type) {
	case nil, undefinedType:
		return false
	case bool:
		return value
	case string:
		return value != ""
	}
	if f, ok := asNumber(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// asNumber converts Go numeric kinds to float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// toNumber applies numeric coercion: booleans become 0/1, null becomes 0,
// numeric strings are parsed and everything else is NaN.
func toNumber(v any) float64 {
	if f, ok := asNumber(v); ok {
		return f
	}
	switch value := v.(type) {
	case nil:
		return 0
	case bool:
		if value {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(value)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, undefinedType, bool, string:
		return true
	}
	_, ok := asNumber(v)
	return ok
}

// strictEqual compares without type coercion.
func strictEqual(a, b any) bool {
	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	if aNum || bNum {
		return aNum && bNum && na == nb
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case undefinedType:
		_, ok := b.(undefinedType)
		return ok
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return sameReference(a, b)
}

// looseEqual compares with coercion between numbers, strings and booleans.
// null and undefined are equal to each other and nothing else.
func looseEqual(a, b any) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if !isPrimitive(a) || !isPrimitive(b) {
		if isPrimitive(a) != isPrimitive(b) {
			return false
		}
		return sameReference(a, b)
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as == bs
	}
	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool {
		return ab == bb
	}
	return toNumber(a) == toNumber(b)
}

// sameReference reports whether two composite values are the same map or
// slice.
func sameReference(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() != rb.Kind() {
		return false
	}
	switch ra.Kind() {
	case reflect.Map, reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
	case reflect.Pointer:
		return ra.Pointer() == rb.Pointer()
	}
	return false
}

// compare implements the relational operators. Two strings compare
// lexically; anything else is compared numerically and NaN is never
// ordered.
func compare(op string, a, b any) bool {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		switch op {
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		case ">":
			return as > bs
		case ">=":
			return as >= bs
		}
		return false
	}
	x, y := toNumber(a), toNumber(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	switch op {
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	case ">=":
		return x >= y
	}
	return false
}
