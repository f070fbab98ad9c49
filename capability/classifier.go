package capability

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Classifier maps a capability request to a risk level.
type Classifier interface {
	Classify(req Request) RiskLevel
}

// Rule assigns Level to requests matching the CEL Condition.
// Conditions see: capability_id, scope, status, sensitive, source_type,
// source_id and metadata (map of string to string).
type Rule struct {
	Name      string    `mapstructure:"name" yaml:"name"`
	Condition string    `mapstructure:"condition" yaml:"condition"`
	Level     RiskLevel `mapstructure:"level" yaml:"level"`
}

// DefaultRules are applied when the host is not configured with its own.
// Keys under "plugin." in metadata are supplied by the calling plugin;
// rules reading them should only ever raise the level.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "explicitly-blocked",
			Condition: `"blocked" in metadata && metadata["blocked"] == "true"`,
			Level:     RiskBlocked,
		},
		{
			Name:      "plugin-declared-blocked",
			Condition: `"plugin.blocked" in metadata && metadata["plugin.blocked"] == "true"`,
			Level:     RiskBlocked,
		},
		{
			Name:      "plugin-alpha-ai",
			Condition: `source_type == "plugin" && scope == "ai" && status == "alpha"`,
			Level:     RiskBlocked,
		},
	}
}

type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// RuleClassifier evaluates ordered CEL rules; the first match wins.
// Requests matching no rule are needs_confirmation when the capability is
// sensitive and trusted otherwise.
type RuleClassifier struct {
	rules []compiledRule
}

// NewRuleClassifier compiles the rules up front so malformed conditions
// surface at host startup rather than at evaluation time.
func NewRuleClassifier(rules []Rule) (*RuleClassifier, error) {
	env, err := cel.NewEnv(
		cel.Variable("capability_id", cel.StringType),
		cel.Variable("scope", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("sensitive", cel.BoolType),
		cel.Variable("source_type", cel.StringType),
		cel.Variable("source_id", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &RuleClassifier{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if !r.Level.Valid() {
			return nil, fmt.Errorf("rule %q: invalid level %q", r.Name, r.Level)
		}
		ast, issues := env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %q: condition must evaluate to bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		c.rules = append(c.rules, compiledRule{rule: r, prg: prg})
	}
	return c, nil
}

// Classify returns the level of the first matching rule. Rules that fail
// to evaluate are skipped.
func (c *RuleClassifier) Classify(req Request) RiskLevel {
	level, _ := c.ClassifyWithRule(req)
	return level
}

// ClassifyWithRule is Classify plus the name of the deciding rule, empty
// when the fallback applied.
func (c *RuleClassifier) ClassifyWithRule(req Request) (RiskLevel, string) {
	meta := req.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	vars := map[string]any{
		"capability_id": req.Capability.ID,
		"scope":         string(req.Capability.Scope),
		"status":        string(req.Capability.Status),
		"sensitive":     req.Capability.Sensitive,
		"source_type":   string(req.SourceType),
		"source_id":     req.SourceID,
		"metadata":      meta,
	}

	for _, r := range c.rules {
		out, _, err := r.prg.Eval(vars)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return r.rule.Level, r.rule.Name
		}
	}

	if req.Capability.Sensitive {
		return RiskNeedsConfirmation, ""
	}
	return RiskTrusted, ""
}
