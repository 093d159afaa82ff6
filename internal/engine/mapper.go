package engine

import (
	"fmt"

	"procgate/internal/metadata"
)

// MappedParameter is one typed procedure argument.
type MappedParameter struct {
	Name     string // declared parameter name
	Target   string // procedure parameter it binds to
	Value    any
	Type     metadata.DataType
	Position int
}

// ParameterMapper turns untyped request input into typed, positionally
// ordered procedure arguments.
type ParameterMapper struct{}

func NewParameterMapper() *ParameterMapper {
	return &ParameterMapper{}
}

func requiredMessage(name string) string {
	return fmt.Sprintf("The %s field is required.", name)
}

// Map casts every declared parameter, falling back to its default when the
// input omits it. The result is sorted by position. Missing required
// parameters and cast failures are reported together in one
// *ValidationError.
func (m *ParameterMapper) Map(raw map[string]any, fn *metadata.FunctionDefinition) ([]MappedParameter, error) {
	params := fn.OrderedParameters()
	out := make([]MappedParameter, 0, len(params))
	verr := NewValidationError()

	for _, p := range params {
		v, ok := raw[p.Name]
		if !ok || (v == nil && !p.Nullable) {
			switch {
			case p.HasDefault():
				v = p.Default
			case p.Required:
				verr.Add(p.Name, requiredMessage(p.Name))
				continue
			default:
				v = nil
			}
		}

		cv, err := Cast(v, p.Type)
		if err != nil {
			verr.Add(p.Name, err.Error())
			continue
		}
		out = append(out, MappedParameter{
			Name:     p.Name,
			Target:   p.TargetName(),
			Value:    cv,
			Type:     p.Type,
			Position: p.Position,
		})
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks one already-present value against p's type and stored
// rules and returns every failure message.
func (m *ParameterMapper) Validate(value any, p metadata.ParameterDefinition) []string {
	cv, err := Cast(value, p.Type)
	if err != nil {
		return []string{err.Error()}
	}
	return checkRules(cv, p, nil)
}

// Values returns the bind values in order.
func Values(params []MappedParameter) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = p.Value
	}
	return out
}
