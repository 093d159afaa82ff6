package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procgate/internal/metadata"
)

func TestCast(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		typ   metadata.DataType
		want  any
		isErr bool
	}{
		{"string from int", 42, metadata.TypeString, "42", false},
		{"string from float", 1.5, metadata.TypeString, "1.5", false},
		{"string from bool", true, metadata.TypeString, "true", false},
		{"integer from numeric string", "123", metadata.TypeInteger, int64(123), false},
		{"integer from padded string", " 7 ", metadata.TypeInteger, int64(7), false},
		{"integer from integral float", 3.0, metadata.TypeInteger, int64(3), false},
		{"integer from json number", json.Number("9"), metadata.TypeInteger, int64(9), false},
		{"integer rejects fraction", 3.5, metadata.TypeInteger, nil, true},
		{"integer rejects text", "abc", metadata.TypeInteger, nil, true},
		{"float from string", "2.25", metadata.TypeFloat, 2.25, false},
		{"float from int", 2, metadata.TypeFloat, 2.0, false},
		{"float rejects text", "x", metadata.TypeFloat, nil, true},
		{"boolean yes", "YES", metadata.TypeBoolean, true, false},
		{"boolean on", "on", metadata.TypeBoolean, true, false},
		{"boolean one", "1", metadata.TypeBoolean, true, false},
		{"boolean other string", "nope", metadata.TypeBoolean, false, false},
		{"boolean from int", 0, metadata.TypeBoolean, false, false},
		{"date from datetime string", "2024-03-05 10:11:12", metadata.TypeDate, "2024-03-05", false},
		{"date from slashes", "2024/03/05", metadata.TypeDate, "2024-03-05", false},
		{"datetime from RFC3339 with offset", "2024-03-05T10:11:12+02:00", metadata.TypeDateTime, "2024-03-05 08:11:12", false},
		{"datetime from date", "2024-03-05", metadata.TypeDateTime, "2024-03-05 00:00:00", false},
		{"datetime rejects text", "yesterday", metadata.TypeDateTime, nil, true},
		{"json from string", `{"a":1}`, metadata.TypeJSON, map[string]any{"a": 1.0}, false},
		{"json from map", map[string]any{"b": true}, metadata.TypeJSON, map[string]any{"b": true}, false},
		{"json rejects scalar string", `"x"`, metadata.TypeJSON, nil, true},
		{"array from string", `[1,"two"]`, metadata.TypeArray, []any{1.0, "two"}, false},
		{"array from typed slice", []string{"a", "b"}, metadata.TypeArray, []any{"a", "b"}, false},
		{"array rejects object", `{"a":1}`, metadata.TypeArray, nil, true},
		{"nil stays nil", nil, metadata.TypeInteger, nil, false},
		{"any passes through", struct{}{}, metadata.TypeAny, struct{}{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cast(tt.in, tt.typ)
			if tt.isErr {
				var ce *CastError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, tt.typ, ce.Type)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCast_Idempotent(t *testing.T) {
	inputs := map[metadata.DataType][]any{
		metadata.TypeString:   {"x", 12, 1.25, false, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		metadata.TypeInteger:  {"42", 42.0, int32(-3), true, json.Number("8")},
		metadata.TypeFloat:    {"1.5", 3, float32(0.5), json.Number("2.5")},
		metadata.TypeBoolean:  {"yes", "off", 1, 0.0, true},
		metadata.TypeDate:     {"2024-02-29", "2024-02-29T23:59:59Z", time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), int64(0)},
		metadata.TypeDateTime: {"2024-02-29 23:59:59", "2024-02-29T23:59:59+05:00", time.Unix(1700000000, 0)},
		metadata.TypeJSON:     {`{"a":[1,2]}`, []any{"x"}, map[string]int{"n": 1}},
		metadata.TypeArray:    {`[1,2,3]`, []int{4, 5}, []any{"a"}},
	}
	for typ, values := range inputs {
		for _, v := range values {
			once, err := Cast(v, typ)
			require.NoError(t, err, "%s %v", typ, v)
			twice, err := Cast(once, typ)
			require.NoError(t, err, "%s %v", typ, v)
			assert.Equal(t, once, twice, "%s %v", typ, v)
		}
	}
}

func TestCastError_Messages(t *testing.T) {
	assert.Equal(t, "must be an integer", (&CastError{Type: metadata.TypeInteger}).Error())
	assert.Equal(t, "must be a valid date", (&CastError{Type: metadata.TypeDate}).Error())
	assert.Equal(t, "must be a valid string", (&CastError{Type: metadata.TypeString}).Error())
}
