package ruleflow

import (
	"fmt"
	"time"

	"github.com/GoCodeAlone/ruleflow/lifecycle"
)

// runPhase performs the work of the current phase. It returns when the phase
// is complete, is waiting on something or the frame budget ran out.
func (m *Module) runPhase() {
	switch m.phase {
	case PhaseStart:
		m.start()
	case PhaseConfigure:
		m.configure()
	case PhaseInjectDependencies:
		m.injectDependencies()
	case PhasePreInitialize:
		m.runTasks(m.preInit, func() { m.enterPhase(PhaseInitializeRules) })
	case PhaseInitializeRules:
		m.initializeRules()
	case PhaseUnloadRules:
		m.unloadRules()
	case PhasePostUnload:
		m.runTasks(m.postUnload, m.finishUnload)
	}
}

func (m *Module) start() {
	m.loads++
	m.rules, m.order, m.scheduler = nil, nil, nil
	m.preInit, m.postUnload = nil, nil
	m.resolver = nil
	m.exception = DefaultExceptionPolicy()
	m.performance = DefaultPerformancePolicy()
	m.frame = 0
	m.progress = 0

	m.logger.Info("Loading module", "module", m.Name(), "load", m.loads)
	m.emitStatus(lifecycle.EventTypeModuleLoading)
	m.enterPhase(PhaseConfigure)
}

func (m *Module) configure() {
	bp, err := m.build()
	if err != nil {
		m.fail(KindConfiguration, "", err)
		return
	}
	c, err := bp.compile()
	if err != nil {
		m.fail(KindConfiguration, "", err)
		return
	}

	m.rules = c.rules
	m.order = bp.Order
	m.scheduler = bp.Scheduler
	m.exception = c.exception
	m.performance = c.performance
	m.preInit = bp.PreInitTasks
	m.postUnload = bp.PostUnloadTasks

	m.logger.Debug("Module configured", "module", m.Name(), "rules", c.rules.Len())
	m.enterPhase(PhaseInjectDependencies)
}

func (m *Module) build() (*Blueprint, error) {
	if m.setup == nil {
		return nil, ErrSetupNil
	}
	var bp *Blueprint
	err := invokeSafely(func() error {
		var err error
		bp, err = m.setup.Build(m.config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("setup %s: %w", m.setup.Name(), err)
	}
	if bp == nil {
		return nil, fmt.Errorf("setup %s: %w", m.setup.Name(), ErrBlueprintNil)
	}
	return bp, nil
}

func (m *Module) injectDependencies() {
	if !m.cursor.started {
		resolver, err := ExtractDependencies(m.Name(), m.rules)
		if err != nil {
			m.fail(KindDependency, "", err)
			return
		}
		resolver.SetParent(m.parentResolver())
		m.resolver = resolver
		m.cursor.started = true
	}

	rules := m.rules.Rules()
	for m.cursor.index < len(rules) {
		if m.budgetExhausted() {
			return
		}
		r := rules[m.cursor.index]
		if err := InjectRule(r, m.serviceResolver(), m.resolver); err != nil {
			m.fail(KindDependency, r.Type(), err)
			return
		}
		m.cursor.index++
	}
	m.enterPhase(PhasePreInitialize)
}

// runTasks drives the PreInitialize and PostUnload task lists. A task that is
// not done after a tick resumes on the next frame.
func (m *Module) runTasks(tasks []Task, next func()) {
	category := m.phase.Category()
	for m.cursor.index < len(tasks) {
		if m.budgetExhausted() {
			return
		}
		t := tasks[m.cursor.index]
		key := "task:" + t.Name()

		if !m.cursor.started {
			m.cursor.started = true
			m.cursor.itemStart = m.clock.Now()
			cbErr, stallErr := m.timed(key, category, t.Initialize)
			if failed, skipped := m.taskError(t, key, cbErr, stallErr); failed && !skipped {
				return
			}
			continue
		}

		var done bool
		cbErr, stallErr := m.timed(key, category, func() error {
			var err error
			done, err = t.Update()
			return err
		})
		if failed, skipped := m.taskError(t, key, cbErr, stallErr); failed {
			if skipped {
				continue
			}
			return
		}
		m.progress = (float64(m.cursor.index) + clamp01(t.Progress())) / float64(len(tasks))
		if !done {
			if err := m.checkPending(key, category); err != nil {
				if _, skipped := m.taskError(t, key, nil, err); skipped {
					continue
				}
			}
			return
		}

		if err := invokeSafely(t.Unload); err != nil {
			if _, skipped := m.taskError(t, key, err, nil); !skipped {
				return
			}
			continue
		}
		m.advanceTask(key, len(tasks))
	}
	if len(tasks) > 0 {
		m.progress = 1
	}
	next()
}

func (m *Module) advanceTask(key string, total int) {
	delete(m.stalls, key)
	m.cursor.index++
	m.cursor.started = false
	m.progress = float64(m.cursor.index) / float64(total)
}

// taskError dispatches a task failure, if any. During PostUnload with
// SkipUnloadIfException the task is abandoned and skipped reports that the
// caller may continue with the next one.
func (m *Module) taskError(t Task, key string, cbErr, stallErr error) (failed, skipped bool) {
	kind, err := KindRuleException, cbErr
	if err == nil {
		kind, err = KindStall, stallErr
	}
	if err == nil {
		return false, false
	}
	phase := m.phase
	m.fail(kind, "", fmt.Errorf("%w: %s: %w", ErrTaskFailed, t.Name(), err))
	if phase != PhasePostUnload || m.phase != PhasePostUnload || m.paused || m.stopped {
		return true, false
	}
	if !m.exception.SkipUnloadIfException {
		m.cursor.started = false
		return true, false
	}
	m.advanceTask(key, len(m.postUnload))
	return true, true
}

func (m *Module) initializeRules() {
	seq := m.cursor.rules
	total := len(seq)
	for m.cursor.index < total {
		if m.budgetExhausted() {
			return
		}
		r := seq[m.cursor.index]
		key := string(r.Type())

		var cbErr, stallErr error
		switch r.State() {
		case RuleUnused:
			m.cursor.itemStart = m.clock.Now()
			cbErr, stallErr = m.timed(key, CategoryLoad, func() error { return baseInitialize(r, &m.rc) })
		case RuleInitializing:
			cbErr, stallErr = m.timed(key, CategoryLoad, func() error { return basePoll(r, &m.rc) })
		}
		if !m.checkRule(r, cbErr, stallErr) {
			return
		}

		if r.State() != RuleInitializing {
			delete(m.stalls, key)
			m.cursor.index++
			m.progress = float64(m.cursor.index) / float64(total)
			continue
		}
		if err := m.checkPending(key, CategoryLoad); err != nil {
			m.fail(KindStall, r.Type(), err)
		}
		return
	}
	m.progress = 1
	m.enterPhase(PhaseUpdateRules)
}

func (m *Module) updateRules() {
	frame := m.frame
	m.frame++
	m.rc.frame = frame

	for _, r := range GetRulesInOrderForFrame(m.rules, m.scheduler, frame) {
		key := string(r.Type())
		before := m.stalls[key]
		cbErr, stallErr := m.timed(key, CategoryUpdate, func() error { return baseUpdate(r, &m.rc) })
		if !m.checkRule(r, cbErr, stallErr) {
			return
		}
		if m.stalls[key] == before {
			delete(m.stalls, key)
		}
		if m.phase != PhaseUpdateRules || m.paused || m.stopped {
			return
		}
	}
}

func (m *Module) unloadRules() {
	seq := m.cursor.rules
	total := len(seq)
	for m.cursor.index < total {
		if m.budgetExhausted() {
			return
		}
		r := seq[m.cursor.index]
		key := string(r.Type())

		var cbErr, stallErr error
		switch r.State() {
		case RuleUnused, RuleUnloaded:
			m.advanceRule(key, total)
			continue
		case RuleInitializing, RuleInitialized:
			m.cursor.itemStart = m.clock.Now()
			cbErr, stallErr = m.timed(key, CategoryUnload, func() error { return baseUnload(r, &m.rc) })
		case RuleUnloading:
			cbErr, stallErr = m.timed(key, CategoryUnload, func() error { return basePoll(r, &m.rc) })
		}
		if !m.checkRule(r, cbErr, stallErr) {
			if !m.unloadFailed(r, key, total) {
				return
			}
			continue
		}

		if r.State() == RuleUnloaded {
			m.advanceRule(key, total)
			continue
		}
		if err := m.checkPending(key, CategoryUnload); err != nil {
			m.fail(KindStall, r.Type(), err)
			if !m.unloadFailed(r, key, total) {
				return
			}
			continue
		}
		return
	}
	m.progress = 1
	m.enterPhase(PhasePostUnload)
}

func (m *Module) advanceRule(key string, total int) {
	delete(m.stalls, key)
	m.cursor.index++
	m.progress = float64(m.cursor.index) / float64(total)
}

// unloadFailed applies SkipUnloadIfException to a rule whose unload failed and
// reports whether unloading may continue this frame.
func (m *Module) unloadFailed(r Rule, key string, total int) bool {
	if m.phase != PhaseUnloadRules || m.paused || m.stopped {
		return false
	}
	if m.exception.SkipUnloadIfException {
		r.ruleBase().state = RuleUnloaded
		m.advanceRule(key, total)
		return true
	}
	r.ruleBase().state = RuleInitialized
	return false
}

func (m *Module) finishUnload() {
	if m.reload {
		m.reload = false
		m.logger.Info("Module unloaded, reloading", "module", m.Name())
		m.enterPhase(PhaseStart)
		return
	}
	m.enterPhase(PhaseEnd)
	m.logger.Info("Module unloaded", "module", m.Name())
	m.emitStatus(lifecycle.EventTypeModuleUnloaded)
}

// timed runs a callback and measures it against the stalling timeout of the
// category. cbErr is the callback's own error; stallErr is set when repeated
// breaches escalated to a stall failure.
func (m *Module) timed(key string, category PhaseCategory, fn func() error) (cbErr, stallErr error) {
	started := m.clock.Now()
	cbErr = invokeSafely(fn)
	if cbErr != nil {
		return cbErr, nil
	}
	elapsed := m.clock.Now().Sub(started)
	if timeout := m.performance.StallingTimeout(category); timeout > 0 && elapsed > timeout {
		// The breach covers the wait so far; pending time counts from here.
		m.cursor.itemStart = m.clock.Now()
		return nil, m.stallBreach(key, elapsed, timeout)
	}
	return nil, nil
}

// checkPending measures how long the current item has been waiting on an
// asynchronous completion. Each full timeout counts as one breach.
func (m *Module) checkPending(key string, category PhaseCategory) error {
	timeout := m.performance.StallingTimeout(category)
	if timeout <= 0 {
		return nil
	}
	now := m.clock.Now()
	elapsed := now.Sub(m.cursor.itemStart)
	if elapsed <= timeout {
		return nil
	}
	m.cursor.itemStart = now
	return m.stallBreach(key, elapsed, timeout)
}

func (m *Module) stallBreach(key string, elapsed, timeout time.Duration) error {
	m.stalls[key]++
	count := m.stalls[key]
	limit := m.performance.NbWarningsBeforeException
	if count > limit {
		return fmt.Errorf("%w: %s in %s took %s, over %s %d times", ErrStallTimeout, key, m.phase, elapsed, timeout, count)
	}
	m.logger.Warn("Stalling detected", "module", m.Name(), "phase", m.phase, "subject", key,
		"elapsed", elapsed, "timeout", timeout, "warning", count, "limit", limit)
	m.events.emit(lifecycle.EventTypeModuleStallWarning, lifecycle.SourceModule+m.Name(), lifecycle.StallWarning{
		Module:    m.Name(),
		Phase:     m.phase.String(),
		Subject:   key,
		Count:     count,
		Limit:     limit,
		ElapsedMs: elapsed.Milliseconds(),
		TimeoutMs: timeout.Milliseconds(),
	})
	return nil
}
