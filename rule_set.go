package ruleflow

import "fmt"

// RuleSet maps rule types to rules, remembering insertion order.
// A rule type appears at most once.
type RuleSet struct {
	rules map[RuleType]Rule
	types []RuleType
}

// NewRuleSet builds a RuleSet from rules, rejecting nil rules and duplicate types.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	s := &RuleSet{rules: make(map[RuleType]Rule, len(rules))}
	for _, r := range rules {
		if err := s.Add(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add inserts a rule.
func (s *RuleSet) Add(r Rule) error {
	if r == nil {
		return ErrRuleNil
	}
	t := r.Type()
	if _, exists := s.rules[t]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRuleType, t)
	}
	s.rules[t] = r
	s.types = append(s.types, t)
	return nil
}

// Get returns the rule registered for t.
func (s *RuleSet) Get(t RuleType) (Rule, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.rules[t]
	return r, ok
}

// Has reports whether a rule of type t is present.
func (s *RuleSet) Has(t RuleType) bool {
	_, ok := s.Get(t)
	return ok
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.types)
}

// Types returns the rule types in insertion order.
func (s *RuleSet) Types() []RuleType {
	if s == nil {
		return nil
	}
	out := make([]RuleType, len(s.types))
	copy(out, s.types)
	return out
}

// Rules returns the rules in insertion order.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, 0, len(s.types))
	for _, t := range s.types {
		out = append(out, s.rules[t])
	}
	return out
}
