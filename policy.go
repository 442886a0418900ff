package flowvm

import (
	"context"
	"path"
)

// PolicyDecision is the verdict of a policy check
type PolicyDecision string

const (
	PolicyAllow PolicyDecision = "allow"
	PolicyWarn  PolicyDecision = "warn"
	PolicyDeny  PolicyDecision = "deny"
)

// PolicyRequest describes a task invocation about to happen
type PolicyRequest struct {
	Task   string
	Method string
	Args   map[string]any
}

// PolicyResult is returned by a PolicyChecker
type PolicyResult struct {
	Decision PolicyDecision
	Message  string
}

// PolicyChecker is consulted before every native task invocation
type PolicyChecker interface {
	Check(ctx context.Context, req PolicyRequest) (PolicyResult, error)
}

// AllowAll permits every task call
type AllowAll struct{}

func (AllowAll) Check(ctx context.Context, req PolicyRequest) (PolicyResult, error) {
	return PolicyResult{Decision: PolicyAllow}, nil
}

// PolicyRule matches task names with a glob pattern
type PolicyRule struct {
	Task     string         `json:"task" yaml:"task"`
	Decision PolicyDecision `json:"decision" yaml:"decision"`
	Message  string         `json:"message,omitempty" yaml:"message,omitempty"`
}

// RulePolicy applies the first matching rule. Calls matching no rule are
// allowed.
type RulePolicy struct {
	Rules []PolicyRule
}

// NewRulePolicy returns a policy evaluating rules in order
func NewRulePolicy(rules ...PolicyRule) *RulePolicy {
	return &RulePolicy{Rules: rules}
}

func (p *RulePolicy) Check(ctx context.Context, req PolicyRequest) (PolicyResult, error) {
	for _, rule := range p.Rules {
		ok, err := path.Match(rule.Task, req.Task)
		if err != nil {
			return PolicyResult{}, err
		}
		if ok {
			return PolicyResult{Decision: rule.Decision, Message: rule.Message}, nil
		}
	}
	return PolicyResult{Decision: PolicyAllow}, nil
}
