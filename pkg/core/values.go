package core

import (
	"encoding/json"
	"fmt"
)

// Float converts a numeric value as it arrives inside a worker to float64.
// Values that crossed the wire are already float64; the remaining cases
// cover direct calls.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("%v (%T) is not a number", v, v)
	}
}

// Sequence asserts that v is a []any as produced by the wire codec.
func Sequence(v any) ([]any, error) {
	s, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%T is not a sequence", v)
	}
	return s, nil
}

// Pair unpacks the two-element pair a reduce callable receives.
func Pair(v any) (any, any, error) {
	s, err := Sequence(v)
	if err != nil {
		return nil, nil, err
	}
	if len(s) != 2 {
		return nil, nil, fmt.Errorf("expected a pair, got %d elements", len(s))
	}
	return s[0], s[1], nil
}
