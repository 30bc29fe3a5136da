package ruleflow

import (
	"fmt"
)

// RuleType identifies a kind of rule. A module holds at most one rule per type.
type RuleType string

// RuleState is the lifecycle state of a single rule.
type RuleState int

const (
	RuleUnused RuleState = iota
	RuleInitializing
	RuleInitialized
	RuleUnloading
	RuleUnloaded
)

// String returns the string representation of the rule state.
func (s RuleState) String() string {
	switch s {
	case RuleUnused:
		return "unused"
	case RuleInitializing:
		return "initializing"
	case RuleInitialized:
		return "initialized"
	case RuleUnloading:
		return "unloading"
	case RuleUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Rule is the smallest unit of behaviour owned by a module.
//
// Rules are driven by their module: Initialize is called once when the rule
// becomes due during the InitializeRules phase, Update on every frame the
// update scheduler selects it, and Unload once during UnloadRules. A rule
// reports completion of the asynchronous parts of its lifecycle through the
// embedded BaseRule (MarkInitialized, MarkUnloaded), possibly on a later frame.
//
// Every rule must embed BaseRule:
//
//	type ScoreRule struct {
//	    ruleflow.BaseRule
//	    score int
//	}
//
//	func (r *ScoreRule) Type() ruleflow.RuleType { return "score" }
//
//	func (r *ScoreRule) Initialize(rc *ruleflow.RuleContext) error {
//	    r.MarkInitialized()
//	    return nil
//	}
//
// A non-nil error returned from a callback, or a panic inside it, is treated
// as a thrown exception and routed through the module's exception policy.
type Rule interface {
	// Type returns the rule's type tag. It must be stable for the rule's lifetime.
	Type() RuleType

	// Initialize starts the rule. The rule is Initializing until it calls
	// MarkInitialized.
	Initialize(rc *RuleContext) error

	// Update runs one frame of rule behaviour.
	Update(rc *RuleContext) error

	// Unload starts tearing the rule down. The rule is Unloading until it calls
	// MarkUnloaded.
	Unload(rc *RuleContext) error

	// State returns the rule's lifecycle state.
	State() RuleState

	ruleBase() *BaseRule
}

// CapabilityProvider is implemented by rules that expose themselves to other
// rules through the dependency resolver.
type CapabilityProvider interface {
	Capabilities() []Capability
}

// DependencyAware is implemented by rules that need references to other rules
// or services injected before they are initialized.
type DependencyAware interface {
	Dependencies() []Dependency
}

// Poller is implemented by rules that need a tick while they are pending in
// the Initializing or Unloading state.
type Poller interface {
	Poll(rc *RuleContext) error
}

// BaseRule carries the lifecycle state and the sticky error flag shared by
// every rule. Embed it by value.
type BaseRule struct {
	state RuleState
	err   error
}

func (b *BaseRule) ruleBase() *BaseRule { return b }

// State returns the rule's lifecycle state.
func (b *BaseRule) State() RuleState { return b.state }

// MarkInitialized reports that an Initializing rule finished initializing.
func (b *BaseRule) MarkInitialized() {
	if b.state == RuleInitializing {
		b.state = RuleInitialized
	}
}

// MarkUnloaded reports that an Unloading rule finished unloading.
func (b *BaseRule) MarkUnloaded() {
	if b.state == RuleUnloading {
		b.state = RuleUnloaded
	}
}

// Fail raises the rule's error flag. The first error is kept until the owning
// module consumes it. A nil err raises ErrRuleReported.
func (b *BaseRule) Fail(err error) {
	if err == nil {
		err = ErrRuleReported
	}
	if b.err == nil {
		b.err = err
	}
}

// HasError reports whether the error flag is raised.
func (b *BaseRule) HasError() bool { return b.err != nil }

func (b *BaseRule) takeError() error {
	err := b.err
	b.err = nil
	return err
}

// invokeSafely runs a rule or task callback, converting a panic into ErrRulePanic.
func invokeSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRulePanic, r)
		}
	}()
	return fn()
}

func baseInitialize(r Rule, rc *RuleContext) error {
	r.ruleBase().state = RuleInitializing
	return invokeSafely(func() error { return r.Initialize(rc) })
}

func baseUpdate(r Rule, rc *RuleContext) error {
	if r.State() != RuleInitialized {
		return nil
	}
	return invokeSafely(func() error { return r.Update(rc) })
}

func baseUnload(r Rule, rc *RuleContext) error {
	r.ruleBase().state = RuleUnloading
	return invokeSafely(func() error { return r.Unload(rc) })
}

func basePoll(r Rule, rc *RuleContext) error {
	p, ok := r.(Poller)
	if !ok {
		return nil
	}
	return invokeSafely(func() error { return p.Poll(rc) })
}

// baseQuit force-unloads a rule outside of the normal phase sequence. An
// Initialized rule gets exactly one synchronous Unload call; every rule that
// was ever started ends Unloaded.
func baseQuit(r Rule, rc *RuleContext) error {
	b := r.ruleBase()
	var err error
	if b.state == RuleInitialized {
		err = baseUnload(r, rc)
	}
	if b.state != RuleUnused {
		b.state = RuleUnloaded
	}
	b.err = nil
	return err
}
