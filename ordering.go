package ruleflow

import (
	"fmt"
	"slices"
)

// InitUnloadOrder is the sequence rules are initialized in. Unloading walks
// the exact reverse.
type InitUnloadOrder []RuleType

// Validate checks the order against the rules of a module: no duplicates,
// no unknown types and no rule left out.
func (o InitUnloadOrder) Validate(set *RuleSet) error {
	seen := make(map[RuleType]struct{}, len(o))
	for _, t := range o {
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateOrderEntry, t)
		}
		seen[t] = struct{}{}
		if !set.Has(t) {
			return fmt.Errorf("%w: %s", ErrOrderUnknownRule, t)
		}
	}
	for _, t := range set.Types() {
		if _, ok := seen[t]; !ok {
			return fmt.Errorf("%w: %s", ErrRuleMissingFromOrder, t)
		}
	}
	return nil
}

// ScheduleEntry runs a rule every Frequency frames.
type ScheduleEntry struct {
	Rule      RuleType `yaml:"rule" toml:"rule" json:"rule"`
	Frequency int      `yaml:"frequency" toml:"frequency" json:"frequency"`
}

// UpdateScheduler lists which rules are updated and how often. Rules not
// listed are never updated. Evaluation order follows the list.
type UpdateScheduler []ScheduleEntry

// EveryFrame schedules each type on every frame, in the given order.
func EveryFrame(types ...RuleType) UpdateScheduler {
	s := make(UpdateScheduler, 0, len(types))
	for _, t := range types {
		s = append(s, ScheduleEntry{Rule: t, Frequency: 1})
	}
	return s
}

// Validate checks the scheduler against the rules of a module.
func (s UpdateScheduler) Validate(set *RuleSet) error {
	seen := make(map[RuleType]struct{}, len(s))
	for _, e := range s {
		if _, dup := seen[e.Rule]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateScheduleEntry, e.Rule)
		}
		seen[e.Rule] = struct{}{}
		if e.Frequency < 1 {
			return fmt.Errorf("%w: %s has frequency %d", ErrInvalidFrequency, e.Rule, e.Frequency)
		}
		if !set.Has(e.Rule) {
			return fmt.Errorf("%w: %s", ErrScheduleUnknownRule, e.Rule)
		}
	}
	return nil
}

// GetRulesInOrder returns the rules of set following order.
func GetRulesInOrder(set *RuleSet, order InitUnloadOrder) ([]Rule, error) {
	out := make([]Rule, 0, len(order))
	for _, t := range order {
		r, ok := set.Get(t)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOrderUnknownRule, t)
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRulesInReverseOrder returns the rules of set following order backwards.
func GetRulesInReverseOrder(set *RuleSet, order InitUnloadOrder) ([]Rule, error) {
	out, err := GetRulesInOrder(set, order)
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// GetRulesInOrderForFrame returns the rules due on frame, in scheduler order.
// A rule is due when frame is a multiple of its frequency.
func GetRulesInOrderForFrame(set *RuleSet, scheduler UpdateScheduler, frame uint64) []Rule {
	out := make([]Rule, 0, len(scheduler))
	for _, e := range scheduler {
		if e.Frequency < 1 || frame%uint64(e.Frequency) != 0 {
			continue
		}
		if r, ok := set.Get(e.Rule); ok {
			out = append(out, r)
		}
	}
	return out
}
