// Package condition evaluates edge-condition expressions against node output.
//
// Conditions are data, not host-language code: a small expression in the
// expr language, compiled once and cached, evaluated over the source node's
// output plus the instance context.
package condition

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and evaluates boolean condition expressions with a
// shared program cache. The zero value is not usable; use NewEvaluator.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an Evaluator with an initialized program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates the expression against the given environment. An empty
// expression is vacuously true. The expression must evaluate to a boolean;
// any other result type is an error.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, fmt.Errorf("failed to compile condition %q: %w", expression, err)
	}

	if env == nil {
		env = map[string]any{}
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", expression, err)
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, expected boolean", expression, result)
	}

	return boolResult, nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok = e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.cache[expression] = program

	return program, nil
}

// CheckAgainstSchema compiles the expression in a typed environment derived
// from a declared JSON-schema object, so that references to undeclared
// fields are rejected at validation time. A nil schema permits any
// reference; the mismatch is then discovered at runtime.
func CheckAgainstSchema(expression string, schema map[string]any) error {
	if expression == "" {
		return nil
	}

	if schema == nil {
		_, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())

		return err
	}

	env := envFromSchema(schema)

	_, err := expr.Compile(expression, expr.Env(env), expr.AsBool())

	return err
}

// envFromSchema converts the properties of a JSON-schema object into a
// permissively-typed expr environment. Unknown or untyped properties map to
// any.
func envFromSchema(schema map[string]any) map[string]any {
	env := make(map[string]any)

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return env
	}

	for name, raw := range properties {
		property, ok := raw.(map[string]any)
		if !ok {
			env[name] = any(nil)

			continue
		}

		switch property["type"] {
		case "string":
			env[name] = ""
		case "number":
			env[name] = float64(0)
		case "integer":
			env[name] = 0
		case "boolean":
			env[name] = false
		case "array":
			env[name] = []any{}
		case "object":
			env[name] = map[string]any{}
		default:
			env[name] = any(nil)
		}
	}

	return env
}
