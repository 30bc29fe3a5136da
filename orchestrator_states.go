package ruleflow

import (
	"slices"

	"github.com/GoCodeAlone/ruleflow/lifecycle"
)

type actionStage int

const (
	stageUnload actionStage = iota
	stageLoad
	stageReload
	stageDone
)

// action is the module-mutating work of the operation being sequenced.
type action struct {
	op    pendingOp
	stage actionStage
	loads int
}

// maxStepsPerFrame bounds how many state changes one Update may chain.
const maxStepsPerFrame = 32

// Update advances the orchestrator by one frame: superseded transitions are
// ticked, the sequencing state machine runs until it settles, and children
// are updated.
func (o *Orchestrator) Update() {
	if o.quit || o.stopped || o.paused {
		return
	}
	o.frame++
	o.tickSuperseded()
	for range maxStepsPerFrame {
		if !o.step() || o.stopped {
			break
		}
	}
	if o.stopped {
		return
	}
	for _, c := range o.children {
		c.Update()
	}
	o.sweepChildren()
}

// step runs the current state once and reports whether the state changed.
func (o *Orchestrator) step() bool {
	switch o.state {
	case StateWait:
		if len(o.pending) == 0 {
			return false
		}
		o.beginNext()
		return true

	case StateOperational:
		if len(o.pending) > 0 {
			o.beginNext()
			return true
		}
		o.updateModule()
		if o.module != nil && o.module.Ended() {
			o.releaseModule()
			o.setState(StateWait)
			return true
		}
		return false

	case StateResetChildren:
		o.sweepChildren()
		if len(o.children) > 0 {
			return false
		}
		if len(o.pending) == 0 {
			o.settle()
			return true
		}
		o.enterWith(o.takeLatest())
		return true

	case StateEnterTransition:
		if o.interrupt() {
			return true
		}
		o.tickTransition()
		o.runAction()
		if o.transition.State() == TransitionActive {
			o.setState(StateRunTransition)
			return true
		}
		return false

	case StateRunTransition:
		if o.interrupt() {
			return true
		}
		o.tickTransition()
		if o.runAction() && len(o.pending) == 0 {
			o.transition.Stop()
			o.setState(StateExitTransition)
			return true
		}
		return false

	case StateExitTransition:
		if len(o.pending) > 0 {
			op := o.takeLatest()
			if t := o.transitionFor(op); t == o.transition {
				o.logger.Debug("Operation arrived while exiting, restarting transition", "orchestrator", o.category, "operation", op.kind)
				o.enterWith(op)
				return true
			}
			o.changeTransition(op)
			return true
		}
		o.tickTransition()
		if o.transition.State() != TransitionInactive {
			return false
		}
		o.transition = nil
		o.action = nil
		o.settle()
		return true

	case StateChangeTransition:
		op := *o.next
		o.next = nil
		o.enterWith(op)
		return true
	}
	return false
}

// beginNext leaves Wait or Operational for the queued operations. Children
// are reset before the module slot is touched.
func (o *Orchestrator) beginNext() {
	if len(o.children) == 0 {
		o.enterWith(o.takeLatest())
		return
	}
	for _, c := range o.children {
		c.release()
	}
	o.setState(StateResetChildren)
}

// takeLatest drains the queue. Only the most recent request survives.
func (o *Orchestrator) takeLatest() pendingOp {
	last := o.pending[len(o.pending)-1]
	for _, dropped := range o.pending[:len(o.pending)-1] {
		o.logger.Debug("Operation superseded by a later request", "orchestrator", o.category, "operation", dropped.kind, "setup", setupName(dropped.setup))
	}
	o.pending = nil
	return last
}

// interrupt handles an operation that arrived while one is in flight. With
// the same transition only the action is swapped; with a different one the
// running transition is forced to finish.
func (o *Orchestrator) interrupt() bool {
	if len(o.pending) == 0 {
		return false
	}
	op := o.takeLatest()
	if t := o.transitionFor(op); t != o.transition {
		o.changeTransition(op)
		return true
	}
	o.logger.Debug("Operation replaces the one in flight", "orchestrator", o.category, "operation", op.kind, "setup", setupName(op.setup))
	o.startAction(op)
	return false
}

func (o *Orchestrator) changeTransition(op pendingOp) {
	old := o.transition
	old.Stop()
	old.Skip()
	if old.State() != TransitionInactive {
		o.superseded = append(o.superseded, old)
	}
	o.logger.Debug("Transition superseded", "orchestrator", o.category, "operation", op.kind)
	o.events.emit(lifecycle.EventTypeTransitionSuperseded, lifecycle.SourceOrchestrator+o.category, lifecycle.Operation{
		Category:  o.category,
		Operation: op.kind.String(),
		Setup:     setupName(op.setup),
	})
	o.next = &op
	o.transition = nil
	o.setState(StateChangeTransition)
}

func (o *Orchestrator) enterWith(op pendingOp) {
	t := o.transitionFor(op)
	o.superseded = slices.DeleteFunc(o.superseded, func(s Transition) bool { return s == t })
	o.transition = t
	o.transitionFrame = 0
	o.startAction(op)
	o.setState(StateEnterTransition)
	t.Start()
	o.logger.Debug("Transition started", "orchestrator", o.category, "operation", op.kind)
}

func (o *Orchestrator) transitionFor(op pendingOp) Transition {
	if op.transition != nil {
		return op.transition
	}
	var s Setup
	switch op.kind {
	case opLoad, opSwitch:
		s = op.setup
	default:
		if o.module != nil {
			s = o.module.Setup()
		}
	}
	if t := setupTransition(s); t != nil {
		return t
	}
	return o.defaultTransition
}

func (o *Orchestrator) startAction(op pendingOp) {
	a := &action{op: op}
	switch op.kind {
	case opLoad, opSwitch:
		a.stage = stageUnload
		if o.module != nil {
			o.module.Restart()
			o.module.RequestUnload()
		}
	case opUnload:
		a.stage = stageDone
		if o.module != nil {
			a.stage = stageUnload
			o.module.Restart()
			o.module.RequestUnload()
		}
	case opReload:
		a.stage = stageDone
		if o.module != nil {
			a.stage = stageReload
			a.loads = o.module.LoadCount()
			o.module.Restart()
			o.module.RequestReload()
		}
	}
	o.action = a
}

// runAction advances the action and reports whether it finished.
func (o *Orchestrator) runAction() bool {
	a := o.action
	if a == nil {
		return true
	}
	defer o.passProgress()
	for {
		switch a.stage {
		case stageUnload:
			if m := o.module; m != nil && !m.Ended() {
				o.updateModule()
				if !m.Ended() {
					return false
				}
			}
			o.releaseModule()
			if a.op.kind == opUnload {
				a.stage = stageDone
				continue
			}
			o.createModule(a.op.setup, a.op.config)
			a.stage = stageLoad

		case stageLoad, stageReload:
			m := o.module
			if m == nil {
				a.stage = stageDone
				continue
			}
			o.updateModule()
			switch {
			case m.Ended():
				o.releaseModule()
				a.stage = stageDone
			case m.Stopped():
				a.stage = stageDone
			case m.Loaded() && (a.stage == stageLoad || m.LoadCount() > a.loads):
				a.stage = stageDone
			default:
				return false
			}

		case stageDone:
			return true
		}
	}
}

func (o *Orchestrator) passProgress() {
	if o.transition == nil {
		return
	}
	switch {
	case o.module != nil:
		o.transition.SetProgress(o.module.Progress())
	case o.action != nil && o.action.stage == stageDone:
		o.transition.SetProgress(1)
	}
}

// updateModule updates the live module at most once per frame.
func (o *Orchestrator) updateModule() {
	if o.module == nil || o.moduleFrame == o.frame {
		return
	}
	o.moduleFrame = o.frame
	o.module.Update()
}

// tickTransition updates the transition at most once per frame.
func (o *Orchestrator) tickTransition() {
	if o.transition == nil || o.transitionFrame == o.frame {
		return
	}
	o.transitionFrame = o.frame
	o.transition.Update()
}

func (o *Orchestrator) tickSuperseded() {
	o.superseded = slices.DeleteFunc(o.superseded, func(t Transition) bool {
		t.Update()
		return t.State() == TransitionInactive
	})
}

func (o *Orchestrator) createModule(setup Setup, cfg Config) {
	o.module = NewModule(setup, cfg,
		WithModuleLogger(o.logger),
		WithModuleClock(o.clock),
		WithModuleSubject(o.subject),
		withHost(o),
	)
	o.moduleFrame = 0
	o.logger.Debug("Module created", "orchestrator", o.category, "module", o.module.Name())
}

func (o *Orchestrator) releaseModule() {
	if o.module == nil {
		return
	}
	o.logger.Debug("Module released", "orchestrator", o.category, "module", o.module.Name())
	o.module = nil
}

// sweepChildren detaches released children whose slot is empty and idle.
func (o *Orchestrator) sweepChildren() {
	o.children = slices.DeleteFunc(o.children, func(c *Orchestrator) bool {
		if !c.removing || c.quit {
			return c.quit
		}
		if c.module != nil || !c.Idle() {
			return false
		}
		o.logger.Debug("Child removed", "orchestrator", o.category, "child", c.category)
		o.events.emit(lifecycle.EventTypeChildRemoved, lifecycle.SourceOrchestrator+o.category, lifecycle.Child{Parent: o.category, Category: c.category})
		return true
	})
}

// settle rests in Operational when a module is live, otherwise in Wait.
func (o *Orchestrator) settle() {
	if o.module != nil {
		o.setState(StateOperational)
		return
	}
	o.setState(StateWait)
}

func (o *Orchestrator) setState(s OrchestratorState) {
	from := o.state
	o.state = s
	o.logger.Debug("Orchestrator state changed", "orchestrator", o.category, "from", from, "to", s)
	o.events.emit(lifecycle.EventTypeStateChanged, lifecycle.SourceOrchestrator+o.category, lifecycle.StateChanged{
		Category: o.category,
		From:     from.String(),
		To:       s.String(),
	})
}
