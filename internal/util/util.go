// Package util holds small helpers shared by the cache endpoints: loose
// structural equality for change detection, deep copies for mutation
// snapshots, and numeric identifier normalization.
//
// Loose equality exists because rows cross codec boundaries: an int64 written
// on the host may arrive as int8, uint16 or float64 on the client depending
// on the wire codec. reflect.DeepEqual would report such round-tripped values
// as changed and defeat no-op update suppression.
package util

import (
	"math"
	"reflect"
)

// AsID normalizes any numeric value to an int64 identifier.
// Floats qualify only when integral. Everything else is rejected.
func AsID(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return AsID(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// IndexKey normalizes a property value for use as an index map key so that
// numerically equal values collide regardless of Go type. Non-numeric values
// pass through unchanged.
func IndexKey(v any) any {
	if id, ok := AsID(v); ok {
		return id
	}
	if f, ok := asFloat(v); ok {
		return f
	}
	return v
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Equal reports loose structural equality: maps and slices are compared
// element-wise, numbers by value with cross-type widening, everything else
// via reflect.DeepEqual.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if compared, eq := numericEqual(a, b); compared {
		return eq
	}

	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

const (
	numNone = iota
	numInt
	numUint // only for unsigned values above MaxInt64
	numFloat
)

// classify sorts a value into one of the numeric kinds. Integers compare in
// int64/uint64 space; widening to float64 is reserved for pairs involving an
// actual float, so large integers keep their full precision.
func classify(v any) (kind int, i int64, u uint64, f float64) {
	switch n := v.(type) {
	case int:
		return numInt, int64(n), 0, 0
	case int8:
		return numInt, int64(n), 0, 0
	case int16:
		return numInt, int64(n), 0, 0
	case int32:
		return numInt, int64(n), 0, 0
	case int64:
		return numInt, n, 0, 0
	case uint:
		if uint64(n) > math.MaxInt64 {
			return numUint, 0, uint64(n), 0
		}
		return numInt, int64(n), 0, 0
	case uint8:
		return numInt, int64(n), 0, 0
	case uint16:
		return numInt, int64(n), 0, 0
	case uint32:
		return numInt, int64(n), 0, 0
	case uint64:
		if n > math.MaxInt64 {
			return numUint, 0, n, 0
		}
		return numInt, int64(n), 0, 0
	case float32:
		return numFloat, 0, 0, float64(n)
	case float64:
		return numFloat, 0, 0, n
	default:
		return numNone, 0, 0, 0
	}
}

// numericEqual compares two values as numbers. compared is false when a is
// not numeric at all; a numeric a against a non-numeric b compares unequal.
func numericEqual(a, b any) (compared, eq bool) {
	ak, ai, au, af := classify(a)
	if ak == numNone {
		return false, false
	}
	bk, bi, bu, bf := classify(b)
	if bk == numNone {
		return true, false
	}
	if ak == numFloat || bk == numFloat {
		fa, fb := af, bf
		switch ak {
		case numInt:
			fa = float64(ai)
		case numUint:
			fa = float64(au)
		}
		switch bk {
		case numInt:
			fb = float64(bi)
		case numUint:
			fb = float64(bu)
		}
		return true, fa == fb
	}
	if ak != bk {
		// one side exceeds MaxInt64, the other does not
		return true, false
	}
	if ak == numUint {
		return true, au == bu
	}
	return true, ai == bi
}

// CopyMap deep-copies a row. Nested maps and slices are copied recursively;
// scalar values are shared (they are immutable from the cache's perspective).
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue deep-copies nested maps and slices inside a row value.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CopyValue(t[i])
		}
		return out
	default:
		return v
	}
}
