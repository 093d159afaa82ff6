package engine

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"procgate/internal/logging"
	"procgate/internal/metadata"
	"procgate/internal/store"
)

var numberPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?$`)

// ResultTransformer maps raw procedure rows to the declared response
// fields.
type ResultTransformer struct {
	logger *slog.Logger
}

func NewResultTransformer(logger *slog.Logger) *ResultTransformer {
	return &ResultTransformer{logger: logging.OrDiscard(logger).With("component", "transformer")}
}

// Transform shapes a procedure result:
//
//	no result sets             -> []
//	one set with exactly 1 row -> that row
//	one set                    -> [rows]
//	several sets               -> [[rows], [rows], ...]
//
// Without declared responses every column passes through with type
// sniffing; with them each row becomes exactly the declared fields.
func (t *ResultTransformer) Transform(res *ProcedureResult, fn *metadata.FunctionDefinition) any {
	if res == nil || len(res.Sets) == 0 {
		return []*Record{}
	}
	if len(res.Sets) == 1 {
		rows := t.transformSet(res.Sets[0], fn)
		if len(rows) == 1 {
			return rows[0]
		}
		return rows
	}
	out := make([]any, len(res.Sets))
	for i, set := range res.Sets {
		out[i] = t.transformSet(set, fn)
	}
	return out
}

func (t *ResultTransformer) transformSet(set store.ResultSet, fn *metadata.FunctionDefinition) []*Record {
	rows := set.Maps()
	out := make([]*Record, len(rows))
	for i, row := range rows {
		if len(fn.Responses) == 0 {
			out[i] = passThrough(set.Columns, row)
		} else {
			out[i] = t.TransformRow(row, fn)
		}
	}
	return out
}

// TransformRow builds one response record from a source row: read the
// source column, apply the transform, then cast to the declared type.
// A failing transform or cast keeps the value it was given.
func (t *ResultTransformer) TransformRow(row map[string]any, fn *metadata.FunctionDefinition) *Record {
	rec := NewRecord(len(fn.Responses))
	for i := range fn.Responses {
		f := &fn.Responses[i]
		v := row[f.SourceColumn()]

		if f.Transform != nil {
			tv, err := applyTransform(f.Transform, v, row)
			if err != nil {
				t.logger.Warn("response transform failed",
					"function", fn.ID, "field", f.Name, "transform", f.Transform.Rule, "error", err)
			} else {
				v = tv
			}
		}

		cv, err := Cast(v, f.Type)
		if err != nil {
			t.logger.Warn("response cast failed",
				"function", fn.ID, "field", f.Name, "type", f.Type.String(), "error", err)
			cv = v
		}
		rec.Set(f.Name, cv)
	}
	return rec
}

func passThrough(columns []string, row map[string]any) *Record {
	rec := NewRecord(len(columns))
	for _, col := range columns {
		rec.Set(col, Sniff(row[col]))
	}
	return rec
}

// Sniff infers a JSON type for driver strings: integers and decimals
// become numbers, "true"/"false" booleans, JSON objects and arrays are
// decoded. Numbers with leading zeros stay strings.
func Sniff(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if numberPattern.MatchString(s) {
		if !strings.Contains(s, ".") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i
			}
			return s
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	}
	if len(s) >= 2 && (s[0] == '{' || s[0] == '[') && json.Valid([]byte(s)) {
		var out any
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
	}
	return s
}
