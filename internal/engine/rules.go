package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// expressionRule evaluates a compiled boolean expression against the cast
// value. The environment exposes:
//
//	value  - the parameter's cast value
//	params - the raw request parameters
//
// The rule passes when the expression yields true.
func expressionRule(prog *vm.Program, params map[string]any, msg string) validation.Rule {
	return validation.By(func(value any) error {
		env := map[string]any{
			"value":  value,
			"params": params,
		}
		if env["params"] == nil {
			env["params"] = map[string]any{}
		}

		result, err := expr.Run(prog, env)
		if err != nil {
			return validation.NewError("validation_expression", fmt.Sprintf("rule evaluation error: %v", err))
		}
		if ok, _ := result.(bool); !ok {
			return validation.NewError("validation_expression", msg)
		}
		return nil
	})
}

// evaluateTransformExpression computes a response value. The environment
// exposes value (the source column) and row (the whole source row).
func evaluateTransformExpression(prog *vm.Program, value any, row map[string]any) (any, error) {
	result, err := expr.Run(prog, map[string]any{
		"value": value,
		"row":   row,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate expression transform: %w", err)
	}
	return result, nil
}
