package auth

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
)

// RuleEngine compiles and evaluates the optional CEL expression attached
// to a Role, following bundoc/rules/engine.go's env + cached-program
// shape. An empty expression is always permitted (no extra constraint).
type RuleEngine struct {
	env      *cel.Env
	prgCache sync.Map // expression -> cel.Program
}

// NewRuleEngine builds the CEL environment exposing `resource` and
// `request` map variables to role rules, mirroring bundoc's RulesEngine.
func NewRuleEngine() (*RuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("resource", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("request", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, err
	}
	return &RuleEngine{env: env}, nil
}

// Evaluate runs expression against ctx. An empty expression always
// evaluates true.
func (re *RuleEngine) Evaluate(expression string, ctx map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil
	}

	var prg cel.Program
	if v, ok := re.prgCache.Load(expression); ok {
		prg = v.(cel.Program)
	} else {
		ast, issues := re.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return false, fmt.Errorf("rule compile error: %w", issues.Err())
		}
		p, err := re.env.Program(ast)
		if err != nil {
			return false, fmt.Errorf("rule program error: %w", err)
		}
		prg = p
		re.prgCache.Store(expression, prg)
	}

	out, _, err := prg.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("rule eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule must evaluate to a boolean")
	}
	return result, nil
}
