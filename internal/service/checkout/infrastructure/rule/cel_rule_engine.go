// internal/service/checkout/infrastructure/rule/cel_rule_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELRuleEngine 是 port.RuleEngine 的 cel-go 实现。
// 优惠码的适用性规则以 CEL 表达式存储在码定义里，例如
// "amount >= 50.0 && itemCount >= 2"，对购物车事实求值。
type CELRuleEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program // 按表达式缓存编译产物
}

// NewCELRuleEngine 创建规则引擎并声明事实变量。
func NewCELRuleEngine() (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("itemCount", cel.IntType),
		cel.Variable("clientId", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELRuleEngine{env: env, cache: make(map[string]cel.Program)}, nil
}

// Evaluate 实现 port.RuleEngine。空表达式视为通过。
func (e *CELRuleEngine) Evaluate(expression string, facts map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(facts)
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean", expression)
	}
	return result, nil
}

func (e *CELRuleEngine) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid rule expression: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule program: %w", err)
	}

	e.mu.Lock()
	e.cache[expression] = prg
	e.mu.Unlock()
	return prg, nil
}
