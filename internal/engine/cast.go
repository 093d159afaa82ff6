package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"procgate/internal/metadata"
)

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// accepted input layouts for date and datetime values, tried in order
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	DateTimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	DateLayout,
	"2006/01/02 15:04:05",
	"2006/01/02",
}

var truthy = map[string]bool{"true": true, "1": true, "yes": true, "on": true}

// booleanLiterals is what the boolean type rule accepts.
var booleanLiterals = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
	"false": true, "0": true, "no": true, "off": true, "": true,
}

// CastError reports a value that cannot be represented in a DataType.
type CastError struct {
	Type  metadata.DataType
	Value any
}

func (e *CastError) Error() string {
	switch e.Type {
	case metadata.TypeInteger:
		return "must be an integer"
	case metadata.TypeFloat:
		return "must be a number"
	case metadata.TypeBoolean:
		return "must be a boolean"
	case metadata.TypeDate:
		return "must be a valid date"
	case metadata.TypeDateTime:
		return "must be a valid date and time"
	case metadata.TypeJSON:
		return "must be a JSON object or array"
	case metadata.TypeArray:
		return "must be an array"
	default:
		return fmt.Sprintf("must be a valid %s", e.Type)
	}
}

// Cast converts v to the canonical Go representation of t:
//
//	string   -> string
//	integer  -> int64
//	float    -> float64
//	boolean  -> bool
//	date     -> string "YYYY-MM-DD"
//	datetime -> string "YYYY-MM-DD HH:MM:SS" (UTC)
//	json     -> map[string]any or []any
//	array    -> []any
//
// nil stays nil. Cast is idempotent: Cast(Cast(v, t), t) == Cast(v, t).
func Cast(v any, t metadata.DataType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case metadata.TypeAny:
		return v, nil
	case metadata.TypeString:
		return castString(v)
	case metadata.TypeInteger:
		return castInteger(v)
	case metadata.TypeFloat:
		return castFloat(v)
	case metadata.TypeBoolean:
		return castBoolean(v), nil
	case metadata.TypeDate:
		tm, err := castTime(v, t)
		if err != nil {
			return nil, err
		}
		return tm.Format(DateLayout), nil
	case metadata.TypeDateTime:
		tm, err := castTime(v, t)
		if err != nil {
			return nil, err
		}
		return tm.Format(DateTimeLayout), nil
	case metadata.TypeJSON:
		return castJSON(v)
	case metadata.TypeArray:
		return castArray(v)
	}
	return nil, fmt.Errorf("unsupported data type %s", t)
}

func castString(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case json.Number:
		return val.String(), nil
	case time.Time:
		return val.UTC().Format(DateTimeLayout), nil
	case fmt.Stringer:
		return val.String(), nil
	}
	if i, ok := asInt64(v); ok {
		return strconv.FormatInt(i, 10), nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &CastError{Type: metadata.TypeString, Value: v}
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

func castInteger(v any) (any, error) {
	if i, ok := asInt64(v); ok {
		return i, nil
	}
	switch val := v.(type) {
	case float64:
		return integralFloat(val, v)
	case float32:
		return integralFloat(float64(val), v)
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case json.Number:
		return parseInteger(val.String(), v)
	case string:
		return parseInteger(val, v)
	case []byte:
		return parseInteger(string(val), v)
	}
	return nil, &CastError{Type: metadata.TypeInteger, Value: v}
}

func parseInteger(s string, orig any) (any, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return integralFloat(f, orig)
	}
	return nil, &CastError{Type: metadata.TypeInteger, Value: orig}
}

func integralFloat(f float64, orig any) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, &CastError{Type: metadata.TypeInteger, Value: orig}
	}
	return int64(f), nil
}

func castFloat(v any) (any, error) {
	if i, ok := asInt64(v); ok {
		return float64(i), nil
	}
	var (
		f   float64
		err error
	)
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case bool:
		if val {
			f = 1
		}
	case json.Number:
		f, err = val.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
	case []byte:
		f, err = strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
	default:
		err = fmt.Errorf("unsupported")
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &CastError{Type: metadata.TypeFloat, Value: v}
	}
	return f, nil
}

func castBoolean(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return truthy[strings.ToLower(strings.TrimSpace(val))]
	case []byte:
		return truthy[strings.ToLower(strings.TrimSpace(string(val)))]
	case float64:
		return val != 0
	case float32:
		return val != 0
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	}
	if i, ok := asInt64(v); ok {
		return i != 0
	}
	return false
}

// isBooleanLiteral reports whether v is an accepted boolean input.
func isBooleanLiteral(v any) bool {
	switch val := v.(type) {
	case bool:
		return true
	case string:
		return booleanLiterals[strings.ToLower(strings.TrimSpace(val))]
	case float64:
		return val == 0 || val == 1
	case json.Number:
		return val == "0" || val == "1"
	}
	if i, ok := asInt64(v); ok {
		return i == 0 || i == 1
	}
	return false
}

func castTime(v any, t metadata.DataType) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		return parseTime(val, t, v)
	case []byte:
		return parseTime(string(val), t, v)
	}
	if i, ok := asInt64(v); ok {
		return time.Unix(i, 0).UTC(), nil
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return time.Unix(int64(f), 0).UTC(), nil
	}
	return time.Time{}, &CastError{Type: t, Value: v}
}

func parseTime(s string, t metadata.DataType, orig any) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if tm, err := time.Parse(layout, s); err == nil {
			return tm.UTC(), nil
		}
	}
	return time.Time{}, &CastError{Type: t, Value: orig}
}

func castJSON(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any, []any:
		return val, nil
	case string:
		return decodeJSON(val, metadata.TypeJSON, v)
	case []byte:
		return decodeJSON(string(val), metadata.TypeJSON, v)
	case json.RawMessage:
		return decodeJSON(string(val), metadata.TypeJSON, v)
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return roundTrip(v, metadata.TypeJSON)
	}
	return nil, &CastError{Type: metadata.TypeJSON, Value: v}
}

func castArray(v any) (any, error) {
	switch val := v.(type) {
	case []any:
		return val, nil
	case string:
		out, err := decodeJSON(val, metadata.TypeArray, v)
		if err != nil {
			return nil, err
		}
		if arr, ok := out.([]any); ok {
			return arr, nil
		}
		return nil, &CastError{Type: metadata.TypeArray, Value: v}
	case []byte:
		return castArray(string(val))
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, &CastError{Type: metadata.TypeArray, Value: v}
}

func decodeJSON(s string, t metadata.DataType, orig any) (any, error) {
	var out any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err != nil {
		return nil, &CastError{Type: t, Value: orig}
	}
	switch out.(type) {
	case map[string]any, []any:
		return out, nil
	}
	return nil, &CastError{Type: t, Value: orig}
}

func roundTrip(v any, t metadata.DataType) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &CastError{Type: t, Value: v}
	}
	return decodeJSON(string(b), t, v)
}

func asInt64(v any) (int64, bool) {
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
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

// toFloat64 reads any numeric representation, including numeric strings.
func toFloat64(v any) (float64, bool) {
	f, err := castFloat(v)
	if err != nil {
		return 0, false
	}
	return f.(float64), true
}
