package celengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Variables every client selector can reference.
const (
	VarClientID     = "client_id"
	VarHostname     = "hostname"
	VarPlatform     = "platform"
	VarVersion      = "version"
	VarCapabilities = "capabilities"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error

	programs, _ = lru.New[string, cel.Program](512)
)

// Env returns the shared CEL environment for client selectors.
func Env() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable(VarClientID, cel.StringType),
			cel.Variable(VarHostname, cel.StringType),
			cel.Variable(VarPlatform, cel.StringType),
			cel.Variable(VarVersion, cel.StringType),
			cel.Variable(VarCapabilities, cel.ListType(cel.StringType)),
		)
	})
	return env, envErr
}

// Compile type-checks expr and caches the resulting program.
func Compile(expr string) (cel.Program, error) {
	if prg, ok := programs.Get(expr); ok {
		return prg, nil
	}

	e, err := Env()
	if err != nil {
		return nil, err
	}

	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("selector must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := e.Program(ast)
	if err != nil {
		return nil, err
	}
	programs.Add(expr, prg)
	return prg, nil
}

// ValidateExpression reports whether expr is a usable selector.
func ValidateExpression(expr string) error {
	_, err := Compile(expr)
	return err
}

// Evaluate runs expr against attrs. An empty expression matches everything.
func Evaluate(expr string, attrs map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := Compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}
