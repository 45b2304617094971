package permission

import "github.com/bmatcuk/doublestar/v4"

// Decision is the outcome of a declarative rule.
type Decision int

const (
	DecisionAllow Decision = iota // Tool use is permitted
	DecisionDeny                  // Tool use is blocked
)

// Rule is a declarative permission rule with glob pattern matching.
type Rule struct {
	Pattern  string   // glob pattern, e.g. "mcp__context7__*", "python_execute", "*"
	Decision Decision // DecisionAllow or DecisionDeny
}

// MatchRules evaluates rules against a tool name.
// Deny rules win over allow rules. Returns (decision, matched). If no rule
// matches, matched is false.
func MatchRules(rules []Rule, toolName string) (Decision, bool) {
	var hasAllow bool

	for _, r := range rules {
		if !matchName(r.Pattern, toolName) {
			continue
		}
		if r.Decision == DecisionDeny {
			return DecisionDeny, true
		}
		hasAllow = true
	}

	if hasAllow {
		return DecisionAllow, true
	}
	return DecisionAllow, false
}

// MatchAny reports whether toolName matches any of the glob patterns.
func MatchAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if matchName(p, toolName) {
			return true
		}
	}
	return false
}

// RulesFor builds the rule set implied by allowed/disallowed tool lists.
// An empty allowed list allows everything not disallowed.
func RulesFor(allowed, disallowed []string) []Rule {
	rules := make([]Rule, 0, len(allowed)+len(disallowed)+1)
	for _, p := range disallowed {
		rules = append(rules, Rule{Pattern: p, Decision: DecisionDeny})
	}
	if len(allowed) == 0 {
		rules = append(rules, Rule{Pattern: "*", Decision: DecisionAllow})
	}
	for _, p := range allowed {
		rules = append(rules, Rule{Pattern: p, Decision: DecisionAllow})
	}
	return rules
}

// Permits reports whether a tool is usable under the given rules: it must
// match an allow rule and no deny rule.
func Permits(rules []Rule, toolName string) bool {
	d, matched := MatchRules(rules, toolName)
	return matched && d == DecisionAllow
}

func matchName(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
