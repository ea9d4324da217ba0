package story

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Decode helpers return these when a persisted payload has an unexpected
// shape; callers wrap them with the offending key.
var (
	errNotAnInteger = errors.New("value is not an integer")
	errNotAMapping  = errors.New("value is not a mapping")
	errNotAString   = errors.New("value is not a string")
)

// EncodeSnapshot normalizes a snapshot mapping to JSON-safe values.
func EncodeSnapshot(snap map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(snap))
	for key, value := range snap {
		out[key] = EncodeValue(value)
	}
	return out
}

// EncodeValue converts an in-memory value to a form that survives a plain
// JSON round trip:
//
//   - uuid.UUID and other Stringer-backed identifiers become strings
//   - non-finite floats become nil, since JSON has no NaN or Inf
//   - time.Time becomes an RFC 3339 string
//   - typed slices and arrays flatten to []interface{}
//   - maps and slices are encoded recursively
//
// Everything else passes through unchanged.
func EncodeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case uuid.UUID:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339)
	case float64:
		return encodeFloat(v)
	case float32:
		return encodeFloat(float64(v))
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v
	case map[string]interface{}:
		return EncodeSnapshot(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = EncodeValue(item)
		}
		return out
	case fmt.Stringer:
		return v.String()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = EncodeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		for _, key := range rv.MapKeys() {
			out[fmt.Sprint(key.Interface())] = EncodeValue(rv.MapIndex(key).Interface())
		}
		return out
	}

	return value
}

func encodeFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// toInt accepts the numeric types a JSON decode or in-process caller can
// produce for an integral field.
func toInt(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}
