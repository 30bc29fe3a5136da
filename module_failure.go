package ruleflow

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/ruleflow/lifecycle"
)

// checkRule consumes the outcome of a rule callback and the rule's error flag.
// It dispatches the first failure found and reports whether the rule is healthy.
func (m *Module) checkRule(r Rule, cbErr, stallErr error) bool {
	if cbErr != nil {
		r.ruleBase().takeError()
		m.fail(KindRuleException, r.Type(), cbErr)
		return false
	}
	if flagged := r.ruleBase().takeError(); flagged != nil {
		if !errors.Is(flagged, ErrRuleReported) {
			flagged = fmt.Errorf("%w: %w", ErrRuleReported, flagged)
		}
		m.fail(KindRuleReported, r.Type(), flagged)
		return false
	}
	if stallErr != nil {
		m.fail(KindStall, r.Type(), stallErr)
		return false
	}
	return true
}

// fail records a failure and routes it through the exception policy of the
// phase category it happened in. Failures during unloading never interrupt
// the unload itself. A Reload reaction during unloading is left to the host
// when there is one.
func (m *Module) fail(kind ErrorKind, rule RuleType, err error) {
	me := &ModuleError{Module: m.Name(), Phase: m.phase, Rule: rule, Kind: kind, Err: err}
	m.lastErr = me
	category := m.phase.Category()
	reaction := m.exception.ReactionFor(category)

	m.logger.Error("Module failure", "module", me.Module, "phase", me.Phase, "rule", rule,
		"kind", kind, "reaction", reaction, "error", err)
	m.events.emit(lifecycle.EventTypeModuleFailed, lifecycle.SourceModule+m.Name(), lifecycle.ModuleFailed{
		Module:   me.Module,
		Phase:    me.Phase.String(),
		Rule:     string(rule),
		Kind:     kind.String(),
		Reaction: reaction.String(),
		Error:    err.Error(),
	})

	if category == CategoryUnload {
		switch reaction {
		case ReactionUnload:
			return
		case ReactionReload:
			if m.host == nil {
				m.reload = true
				return
			}
		}
	} else {
		m.faulted = true
	}

	if m.host != nil {
		m.host.moduleFailed(m, reaction, me)
		return
	}
	m.applyReaction(reaction)
}

// applyReaction carries out a reaction that only concerns the module itself.
// Reactions needing an orchestrator degrade to an unload.
func (m *Module) applyReaction(reaction Reaction) {
	switch reaction {
	case ReactionUnload:
		m.RequestUnload()
	case ReactionReload:
		m.RequestReload()
	case ReactionPause:
		m.faulted = false
		m.Pause()
	case ReactionStop:
		m.halt()
	case ReactionSwitchToFallback:
		m.logger.Warn("No orchestrator to switch to the fallback module, unloading", "module", m.Name())
		m.RequestUnload()
	}
}

// halt freezes the module for good after a Stop reaction.
func (m *Module) halt() {
	m.faulted = false
	m.stopped = true
	m.logger.Warn("Module stopped", "module", m.Name(), "phase", m.phase)
}
