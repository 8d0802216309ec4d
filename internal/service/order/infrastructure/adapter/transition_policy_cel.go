package adapter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
)

// CELTransitionPolicy 是 port.TransitionPolicy 的实现。
// 基础规则永远是领域里的状态迁移表，可选的 CEL 表达式只能在此基础上进一步收紧。
// 表达式可用变量: from, to (状态名) 和 allowed (迁移表的判断结果)。
// 例如 `to != "Delivered"` 表示后台不能直接标记签收，签收只能由履约系统推送。
type CELTransitionPolicy struct {
	rule    string
	program cel.Program
}

var _ port.TransitionPolicy = (*CELTransitionPolicy)(nil)

// NewCELTransitionPolicy 编译规则，rule 为空时只使用状态迁移表
func NewCELTransitionPolicy(rule string) (*CELTransitionPolicy, error) {
	p := &CELTransitionPolicy{rule: rule}
	if rule == "" {
		return p, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("from", cel.StringType),
		cel.Variable("to", cel.StringType),
		cel.Variable("allowed", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel env: %w", err)
	}

	ast, iss := env.Compile(rule)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid transition rule %q: %w", rule, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("transition rule %q must evaluate to bool, got %s", rule, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build transition rule program: %w", err)
	}
	p.program = prg
	return p, nil
}

func (p *CELTransitionPolicy) Allow(from, to domain.State) (bool, error) {
	allowed := from.CanAdvanceTo(to)
	if !allowed || p.program == nil {
		return allowed, nil
	}

	out, _, err := p.program.Eval(map[string]interface{}{
		"from":    string(from),
		"to":      string(to),
		"allowed": allowed,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate transition rule %q: %w", p.rule, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("transition rule %q returned %T", p.rule, out.Value())
	}
	return result, nil
}
