package publish

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ignite/funnel-studio/internal/domain"
)

// Severity of a custom rule finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// RuleSpec is the source form of a custom rule.
type RuleSpec struct {
	Name     string
	Severity Severity
	Expr     string
	Message  string
}

// Rule is a compiled custom rule. The expression runs once per enabled stage
// and the stage is flagged when it evaluates to true.
//
// Variables available to the expression:
//
//	stage        {type, title, enabled, order_index}
//	options      number of options
//	blocks       number of blocks
//	block_types  list of block type names in order
//	content      first block's content keyed by block type
//	config       the stage config
type Rule struct {
	RuleSpec
	program *vm.Program
}

func ruleEnv(st domain.Stage, options []domain.Option, blocks []domain.Block) map[string]any {
	types := make([]any, 0, len(blocks))
	content := map[string]any{}
	for _, b := range blocks {
		types = append(types, string(b.Type))
		if _, seen := content[string(b.Type)]; !seen {
			content[string(b.Type)] = b.Content
		}
	}
	cfg := st.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return map[string]any{
		"stage": map[string]any{
			"type":        st.Type,
			"title":       st.Title,
			"enabled":     st.IsEnabled,
			"order_index": st.OrderIndex,
		},
		"options":     len(options),
		"blocks":      len(blocks),
		"block_types": types,
		"content":     content,
		"config":      cfg,
	}
}

// CompileRules compiles rule expressions against the stage environment.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	sample := ruleEnv(domain.Stage{}, nil, nil)
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			s.Name = s.Expr
		}
		switch Severity(strings.ToLower(string(s.Severity))) {
		case SeverityError:
			s.Severity = SeverityError
		case SeverityWarning, "":
			s.Severity = SeverityWarning
		default:
			return nil, fmt.Errorf("%w %s: unknown severity %q", ErrInvalidRule, s.Name, s.Severity)
		}
		program, err := expr.Compile(s.Expr, expr.Env(sample), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrInvalidRule, s.Name, err)
		}
		if s.Message == "" {
			s.Message = "rule " + s.Name + " failed"
		}
		rules = append(rules, Rule{RuleSpec: s, program: program})
	}
	return rules, nil
}

// eval reports whether the rule flags the stage. Runtime errors, such as a
// comparison against a missing config value, do not flag.
func (r Rule) eval(st domain.Stage, options []domain.Option, blocks []domain.Block) (bool, error) {
	out, err := expr.Run(r.program, ruleEnv(st, options, blocks))
	if err != nil {
		return false, err
	}
	flagged, _ := out.(bool)
	return flagged, nil
}
