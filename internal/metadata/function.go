package metadata

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var procedureNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// FunctionDefinition is one admin-declared endpoint backed by a stored procedure.
type FunctionDefinition struct {
	ID            string                `json:"id"`
	Procedure     string                `json:"procedure"`
	Active        bool                  `json:"active"`
	Transactional bool                  `json:"transactional,omitempty"`
	MaxAttempts   int                   `json:"max_attempts,omitempty"`
	TimeoutMs     int                   `json:"timeout_ms,omitempty"`
	Parameters    []ParameterDefinition `json:"parameters"`
	Responses     []ResponseField       `json:"responses,omitempty"`
	ErrorMappings []ErrorMapping        `json:"error_mappings,omitempty"`
}

type ParameterDefinition struct {
	Name     string          `json:"name"`
	Type     DataType        `json:"type"`
	Required bool            `json:"required,omitempty"`
	Nullable bool            `json:"nullable,omitempty"`
	Default  any             `json:"default,omitempty"`
	Rules    ValidationRules `json:"validation"`
	Target   string          `json:"target,omitempty"`
	Position int             `json:"position"`
}

// TargetName is the procedure parameter this value binds to.
func (p ParameterDefinition) TargetName() string {
	if p.Target != "" {
		return p.Target
	}
	return p.Name
}

func (p ParameterDefinition) HasDefault() bool {
	return p.Default != nil
}

// ValidationRules are the stored per-parameter rules. Min and Max bound the
// value for numeric types and the length for strings and arrays.
type ValidationRules struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Regex      string   `json:"regex,omitempty"`
	Enum       []string `json:"enum,omitempty"`
	Email      bool     `json:"email,omitempty"`
	URL        bool     `json:"url,omitempty"`
	Expression string   `json:"expression,omitempty"`
	Message    string   `json:"message,omitempty"`

	pattern *regexp.Regexp
	program *vm.Program
}

// Pattern returns the compiled regex, or nil when none is declared.
func (r *ValidationRules) Pattern() *regexp.Regexp { return r.pattern }

// Program returns the compiled expression, or nil when none is declared.
func (r *ValidationRules) Program() *vm.Program { return r.program }

type ResponseField struct {
	Name      string         `json:"name"`
	Source    string         `json:"source,omitempty"`
	Type      DataType       `json:"type"`
	Transform *TransformRule `json:"transform,omitempty"`
}

// SourceColumn is the procedure column this field reads.
func (f ResponseField) SourceColumn() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Name
}

// TransformRule is either a bare rule name ("lowercase") or a structured
// rule with arguments ({"rule": "replace", "args": {...}}).
type TransformRule struct {
	Rule string         `json:"rule"`
	Args map[string]any `json:"args,omitempty"`

	program *vm.Program
}

func (t *TransformRule) Program() *vm.Program { return t.program }

// Arg returns a string argument, or "" when absent.
func (t *TransformRule) Arg(name string) string {
	v, ok := t.Args[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (t *TransformRule) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		t.Rule = name
		return nil
	}
	type plain TransformRule
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	t.Rule = p.Rule
	t.Args = p.Args
	return nil
}

var knownTransforms = map[string]bool{
	"uppercase": true, "lowercase": true, "trim": true, "strip_tags": true,
	"url_encode": true, "url_decode": true, "base64_encode": true, "base64_decode": true,
	"md5": true, "sha1": true,
	"replace": true, "format": true, "concat": true, "split": true, "map": true,
	"expression": true,
}

// ErrorMapping overrides classification for one procedure error code.
type ErrorMapping struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"http_status"`
	Message    string `json:"message"`
}

// OrderedParameters returns the parameters sorted by position.
func (f *FunctionDefinition) OrderedParameters() []ParameterDefinition {
	params := make([]ParameterDefinition, len(f.Parameters))
	copy(params, f.Parameters)
	sort.SliceStable(params, func(i, j int) bool { return params[i].Position < params[j].Position })
	return params
}

// GetParameter returns a pointer to the parameter with the given name, or nil.
func (f *FunctionDefinition) GetParameter(name string) *ParameterDefinition {
	for i := range f.Parameters {
		if f.Parameters[i].Name == name {
			return &f.Parameters[i]
		}
	}
	return nil
}

// FindErrorMapping returns the first mapping whose code matches one of the
// candidates, tried in order.
func (f *FunctionDefinition) FindErrorMapping(candidates ...string) (ErrorMapping, bool) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, m := range f.ErrorMappings {
			if strings.EqualFold(m.Code, c) {
				return m, true
			}
		}
	}
	return ErrorMapping{}, false
}

// DefinitionError lists everything wrong with one function definition.
type DefinitionError struct {
	Function string   `json:"function"`
	Problems []string `json:"problems"`
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("function %s: invalid definition: %s", e.Function, strings.Join(e.Problems, "; "))
}

// Prepare validates the definition and compiles its regexes and
// expressions. It must run before the definition is shared.
func (f *FunctionDefinition) Prepare() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if f.ID == "" {
		add("id is required")
	}
	if !procedureNamePattern.MatchString(f.Procedure) {
		add("procedure name %q is not a valid identifier", f.Procedure)
	}
	if f.MaxAttempts < 0 {
		add("max_attempts must not be negative")
	}
	if f.TimeoutMs < 0 {
		add("timeout_ms must not be negative")
	}

	names := make(map[string]bool, len(f.Parameters))
	positions := make(map[int]string, len(f.Parameters))
	for i := range f.Parameters {
		p := &f.Parameters[i]
		if p.Name == "" {
			add("parameter at index %d has no name", i)
		} else if names[p.Name] {
			add("duplicate parameter %q", p.Name)
		}
		names[p.Name] = true

		if p.Type == TypeAny {
			add("parameter %q has no declared type", p.Name)
		}
		if other, dup := positions[p.Position]; dup {
			add("parameters %q and %q share position %d", other, p.Name, p.Position)
		}
		positions[p.Position] = p.Name

		if p.Rules.Regex != "" {
			re, err := regexp.Compile(p.Rules.Regex)
			if err != nil {
				add("parameter %q: invalid regex: %v", p.Name, err)
			}
			p.Rules.pattern = re
		}
		if p.Rules.Expression != "" {
			prog, err := expr.Compile(p.Rules.Expression, expr.AsBool())
			if err != nil {
				add("parameter %q: invalid expression: %v", p.Name, err)
			}
			p.Rules.program = prog
		}
	}
	for pos := 0; pos < len(f.Parameters); pos++ {
		if _, ok := positions[pos]; !ok {
			add("parameter positions must be gap-free from 0; missing %d", pos)
			break
		}
	}

	fields := make(map[string]bool, len(f.Responses))
	for i := range f.Responses {
		r := &f.Responses[i]
		if r.Name == "" {
			add("response field at index %d has no name", i)
		} else if fields[r.Name] {
			add("duplicate response field %q", r.Name)
		}
		fields[r.Name] = true

		if r.Transform == nil {
			continue
		}
		rule := strings.ToLower(r.Transform.Rule)
		r.Transform.Rule = rule
		if !knownTransforms[rule] {
			add("response field %q: unknown transform %q", r.Name, r.Transform.Rule)
			continue
		}
		if rule == "expression" {
			prog, err := expr.Compile(r.Transform.Arg("expression"))
			if err != nil {
				add("response field %q: invalid expression: %v", r.Name, err)
			}
			r.Transform.program = prog
		}
	}

	for _, m := range f.ErrorMappings {
		if m.Code == "" {
			add("error mapping without code")
		}
		if m.HTTPStatus < 400 || m.HTTPStatus > 599 {
			add("error mapping %q: http_status %d is not an error status", m.Code, m.HTTPStatus)
		}
	}

	if len(problems) > 0 {
		return &DefinitionError{Function: f.ID, Problems: problems}
	}
	return nil
}
