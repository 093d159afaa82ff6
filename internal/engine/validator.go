package engine

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"procgate/internal/logging"
	"procgate/internal/metadata"
)

// RequestValidator checks raw request parameters against a function's
// parameter schema. Rules are built per call from the stored definition.
type RequestValidator struct {
	logger *slog.Logger
}

func NewRequestValidator(logger *slog.Logger) *RequestValidator {
	return &RequestValidator{logger: logging.OrDiscard(logger).With("component", "validator")}
}

// Validate runs every rule of every declared parameter and returns a
// *ValidationError listing all failures per field, or nil.
func (v *RequestValidator) Validate(raw map[string]any, fn *metadata.FunctionDefinition) error {
	_, err := v.validate(raw, fn, false)
	return err
}

// ValidateAndFillDefaults validates raw and returns the declared parameters
// only, with absent optional parameters set to their cast default.
func (v *RequestValidator) ValidateAndFillDefaults(raw map[string]any, fn *metadata.FunctionDefinition) (map[string]any, error) {
	return v.validate(raw, fn, true)
}

func (v *RequestValidator) validate(raw map[string]any, fn *metadata.FunctionDefinition, fill bool) (map[string]any, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	out := make(map[string]any, len(fn.Parameters))
	verr := NewValidationError()

	for _, p := range fn.OrderedParameters() {
		val, present := raw[p.Name]
		absent := !present || (val == nil && !p.Nullable)

		if absent {
			switch {
			case p.HasDefault():
				if !fill {
					continue
				}
				def, err := Cast(p.Default, p.Type)
				if err != nil {
					return nil, &ConfigurationError{
						Function: fn.ID,
						Err:      fmt.Errorf("default for parameter %s: %w", p.Name, err),
					}
				}
				out[p.Name] = def
			case p.Required:
				verr.Add(p.Name, requiredMessage(p.Name))
			case present:
				out[p.Name] = nil
			}
			continue
		}

		if val == nil {
			// nullable and explicitly null
			out[p.Name] = nil
			continue
		}

		if msgs := validateValue(val, p, raw); len(msgs) > 0 {
			for _, m := range msgs {
				verr.Add(p.Name, m)
			}
			continue
		}
		out[p.Name] = val
	}

	if err := verr.OrNil(); err != nil {
		v.logger.Debug("validation failed", "function", fn.ID, "fields", len(verr.Fields))
		return nil, err
	}
	return out, nil
}

// validateValue applies the required, type and stored rules to a present,
// non-nil value.
func validateValue(val any, p metadata.ParameterDefinition, params map[string]any) []string {
	if p.Required && blankable(p.Type) {
		if err := validation.Validate(val, validation.Required.Error(requiredMessage(p.Name))); err != nil {
			return []string{err.Error()}
		}
	}

	if err := validation.Validate(val, typeRule(p.Type)); err != nil {
		return []string{err.Error()}
	}
	cv, err := Cast(val, p.Type)
	if err != nil {
		return []string{err.Error()}
	}
	return checkRules(cv, p, params)
}

func blankable(t metadata.DataType) bool {
	return t == metadata.TypeString || t == metadata.TypeJSON || t == metadata.TypeArray
}

// typeRule rejects input that cannot be cast to t. Booleans are stricter
// than the cast: only recognised literals pass.
func typeRule(t metadata.DataType) validation.Rule {
	return validation.By(func(value any) error {
		if t == metadata.TypeBoolean {
			if !isBooleanLiteral(value) {
				return validation.NewError("validation_is_boolean", (&CastError{Type: t}).Error())
			}
			return nil
		}
		if _, err := Cast(value, t); err != nil {
			return validation.NewError("validation_is_"+t.String(), err.Error())
		}
		return nil
	})
}

// checkRules runs the stored rules against a cast value. Every failing rule
// contributes a message.
func checkRules(value any, p metadata.ParameterDefinition, params map[string]any) []string {
	var msgs []string
	for _, rule := range buildRules(p, params) {
		if err := validation.Validate(value, rule); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func buildRules(p metadata.ParameterDefinition, params map[string]any) []validation.Rule {
	r := p.Rules
	custom := r.Message
	msg := func(def string) string {
		if custom != "" {
			return custom
		}
		return def
	}

	var rules []validation.Rule
	if r.Min != nil {
		rules = append(rules, boundRule(p.Type, *r.Min, true, custom))
	}
	if r.Max != nil {
		rules = append(rules, boundRule(p.Type, *r.Max, false, custom))
	}
	if re := r.Pattern(); re != nil {
		rules = append(rules, onString(validation.Match(re).Error(msg("must be in a valid format"))))
	}
	if len(r.Enum) > 0 {
		allowed := make([]any, len(r.Enum))
		for i, e := range r.Enum {
			allowed[i] = e
		}
		rules = append(rules, onString(validation.In(allowed...).Error(msg("must be one of: "+strings.Join(r.Enum, ", ")))))
	}
	if r.Email {
		rules = append(rules, onString(is.EmailFormat.Error(msg("must be a valid email address"))))
	}
	if r.URL {
		rules = append(rules, onString(is.URL.Error(msg("must be a valid URL"))))
	}
	if prog := r.Program(); prog != nil {
		rules = append(rules, expressionRule(prog, params, msg("is invalid")))
	}
	return rules
}

// onString applies rule to the string form of the value, so that regex and
// enum rules also work on numbers.
func onString(rule validation.Rule) validation.Rule {
	return validation.By(func(value any) error {
		return validation.Validate(stringForm(value), rule)
	})
}

func stringForm(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	s, err := castString(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s.(string)
}

// boundRule compares numbers by value and strings, arrays and objects by
// length. Zero values are checked too.
func boundRule(t metadata.DataType, bound float64, isMin bool, custom string) validation.Rule {
	return validation.By(func(value any) error {
		var (
			n    float64
			unit string
		)
		if t.IsNumeric() {
			f, ok := toFloat64(value)
			if !ok {
				return nil
			}
			n = f
		} else {
			switch val := value.(type) {
			case string:
				n, unit = float64(utf8.RuneCountInString(val)), " characters"
			case []any:
				n, unit = float64(len(val)), " items"
			case map[string]any:
				n, unit = float64(len(val)), " items"
			default:
				n, unit = float64(len(stringForm(val))), " characters"
			}
		}

		b := strconv.FormatFloat(bound, 'f', -1, 64)
		if isMin && n < bound {
			if custom != "" {
				return validation.NewError("validation_min", custom)
			}
			if unit == "" {
				return validation.NewError("validation_min", "must be at least "+b)
			}
			return validation.NewError("validation_min", "must be at least "+b+unit)
		}
		if !isMin && n > bound {
			if custom != "" {
				return validation.NewError("validation_max", custom)
			}
			if unit == "" {
				return validation.NewError("validation_max", "must be no greater than "+b)
			}
			return validation.NewError("validation_max", "must not exceed "+b+unit)
		}
		return nil
	})
}
