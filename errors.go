package ruleflow

import (
	"errors"
	"fmt"
)

// Engine errors
var (
	// Configuration errors
	ErrSetupNil               = errors.New("setup is nil")
	ErrBlueprintNil           = errors.New("setup returned no blueprint")
	ErrRuleNil                = errors.New("rule is nil")
	ErrDuplicateRuleType      = errors.New("rule type registered more than once")
	ErrDuplicateOrderEntry    = errors.New("init/unload order contains a duplicate rule type")
	ErrDuplicateScheduleEntry = errors.New("update scheduler contains a duplicate rule type")
	ErrOrderUnknownRule       = errors.New("init/unload order references a rule type not present in the module")
	ErrRuleMissingFromOrder   = errors.New("rule type is missing from the init/unload order")
	ErrScheduleUnknownRule    = errors.New("update scheduler references a rule type not present in the module")
	ErrInvalidFrequency       = errors.New("update frequency must be at least 1")
	ErrInvalidReaction        = errors.New("invalid exception reaction")
	ErrInvalidPerformance     = errors.New("invalid performance policy")
	ErrUnknownRuleType        = errors.New("no rule factory registered for rule type")
	ErrDescriptorNameMissing  = errors.New("setup descriptor has no name")

	// Dependency errors
	ErrAmbiguousCapability       = errors.New("capability exposed by more than one rule")
	ErrRequiredDependencyMissing = errors.New("required dependency not found")
	ErrDependencyWrongType       = errors.New("dependency does not satisfy the requested type")
	ErrResolverNotSealed         = errors.New("resolver registration still in progress")
	ErrDependencySlotInvalid     = errors.New("dependency slot has no capability or target")

	// Rule errors
	ErrRuleReported = errors.New("rule reported an error")
	ErrRulePanic    = errors.New("rule callback panicked")
	ErrStallTimeout = errors.New("stalling timeout exceeded")
	ErrTaskFailed   = errors.New("specialized task failed")

	// Orchestrator validity errors
	ErrOrchestratorQuit     = errors.New("orchestrator has quit")
	ErrNoModuleLoaded       = errors.New("no module loaded")
	ErrNotOperational       = errors.New("orchestrator is not operational")
	ErrParentRequirement    = errors.New("setup requires a different parent category")
	ErrServiceRequirement   = errors.New("setup requires a service category that is not available")
	ErrChildNotFound        = errors.New("no child orchestrator with that category")
	ErrChildAlreadyExists   = errors.New("child orchestrator with that category already exists")
	ErrCategoryEmpty        = errors.New("category must not be empty")
	ErrNoFallbackConfigured = errors.New("exception policy has no fallback module")

	// Observer errors
	ErrObserverNil   = errors.New("observer is nil")
	ErrObserverPanic = errors.New("observer panicked")
)

// ErrorKind classifies a module failure for policy dispatch and reporting.
type ErrorKind int

const (
	KindConfiguration ErrorKind = iota
	KindDependency
	KindRuleReported
	KindRuleException
	KindStall
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindDependency:
		return "dependency"
	case KindRuleReported:
		return "rule-reported"
	case KindRuleException:
		return "rule-exception"
	case KindStall:
		return "stall"
	default:
		return "unknown"
	}
}

// ModuleError describes a failure raised while a module was running one of its
// phases. It is what the exception policy dispatches on.
type ModuleError struct {
	Module string
	Phase  Phase
	Rule   RuleType
	Kind   ErrorKind
	Err    error
}

func (e *ModuleError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("module %s: %s failure in %s (rule %s): %v", e.Module, e.Kind, e.Phase, e.Rule, e.Err)
	}
	return fmt.Sprintf("module %s: %s failure in %s: %v", e.Module, e.Kind, e.Phase, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}
