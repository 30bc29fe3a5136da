package ruleflow

import (
	"fmt"
	"slices"
	"weak"

	"github.com/GoCodeAlone/ruleflow/lifecycle"
)

// OrchestratorState is a state of the orchestrator's transition sequencing.
type OrchestratorState int

const (
	StateWait OrchestratorState = iota
	StateResetChildren
	StateEnterTransition
	StateRunTransition
	StateExitTransition
	StateChangeTransition
	StateOperational
)

// String returns the string representation of the orchestrator state.
func (s OrchestratorState) String() string {
	switch s {
	case StateWait:
		return "wait"
	case StateResetChildren:
		return "reset-children"
	case StateEnterTransition:
		return "enter-transition"
	case StateRunTransition:
		return "run-transition"
	case StateExitTransition:
		return "exit-transition"
	case StateChangeTransition:
		return "change-transition"
	case StateOperational:
		return "operational"
	default:
		return "unknown"
	}
}

type opKind int

const (
	opLoad opKind = iota
	opUnload
	opReload
	opSwitch
)

func (k opKind) String() string {
	switch k {
	case opLoad:
		return "load"
	case opUnload:
		return "unload"
	case opReload:
		return "reload"
	default:
		return "switch"
	}
}

// pendingOp is a queued module-replacing operation.
type pendingOp struct {
	kind       opKind
	setup      Setup
	config     Config
	transition Transition
}

// OperationOption configures a single orchestrator operation.
type OperationOption func(*pendingOp)

// WithTransition runs t around the operation instead of the setup's or the
// orchestrator's default transition.
func WithTransition(t Transition) OperationOption {
	return func(op *pendingOp) { op.transition = t }
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger used by the orchestrator, its modules and its children.
func WithLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used by modules for frame budgets and stalling.
func WithClock(clock Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSubject sets where lifecycle events of the whole tree are published.
func WithSubject(subject Subject) OrchestratorOption {
	return func(o *Orchestrator) { o.subject = subject }
}

// WithStopHandler registers the function called on the root orchestrator when
// a Stop reaction fires anywhere in its tree.
func WithStopHandler(fn func(err error)) OrchestratorOption {
	return func(o *Orchestrator) { o.stopHandler = fn }
}

// WithServiceOrchestrator links a service orchestrator. Its module's resolver
// is the service scope for injection and its category satisfies
// Requirements.ServiceCategory. The link does not keep svc alive.
func WithServiceOrchestrator(svc *Orchestrator) OrchestratorOption {
	return func(o *Orchestrator) {
		if svc != nil {
			o.service = weak.Make(svc)
		}
	}
}

// WithDefaultTransition sets the transition used when neither the operation
// nor the setup names one.
func WithDefaultTransition(t Transition) OrchestratorOption {
	return func(o *Orchestrator) {
		if t != nil {
			o.defaultTransition = t
		}
	}
}

// Orchestrator supervises one module slot. It sequences transitions around
// load, unload, reload and switch operations, queues operations that arrive
// while one is in flight and owns child orchestrators for nested modules.
//
// Update must be called once per frame on the root orchestrator; children are
// updated by their parent. An Orchestrator is not safe for concurrent use.
type Orchestrator struct {
	category string
	parent   weak.Pointer[Orchestrator]
	service  weak.Pointer[Orchestrator]
	children []*Orchestrator

	logger      Logger
	clock       Clock
	subject     Subject
	events      emitter
	stopHandler func(err error)

	state  OrchestratorState
	frame  uint64
	module *Module
	action *action

	transition        Transition
	defaultTransition Transition
	next              *pendingOp
	pending           []pendingOp
	superseded        []Transition

	moduleFrame     uint64
	transitionFrame uint64

	paused   bool
	stopped  bool
	stopErr  error
	quit     bool
	removing bool
}

// NewOrchestrator creates a root orchestrator in the Wait state.
func NewOrchestrator(category string, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		category:          category,
		logger:            NopLogger{},
		clock:             SystemClock{},
		defaultTransition: NewNullTransition(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.events = emitter{subject: o.subject, logger: o.logger}
	return o
}

// Category returns the orchestrator's category.
func (o *Orchestrator) Category() string { return o.category }

// State returns the current sequencing state.
func (o *Orchestrator) State() OrchestratorState { return o.state }

// Module returns the live module, or nil.
func (o *Orchestrator) Module() *Module { return o.module }

// Transition returns the transition being driven, or nil.
func (o *Orchestrator) Transition() Transition { return o.transition }

// Parent returns the parent orchestrator, or nil for a root.
func (o *Orchestrator) Parent() *Orchestrator { return o.parent.Value() }

// Service returns the linked service orchestrator, or nil.
func (o *Orchestrator) Service() *Orchestrator { return o.service.Value() }

// Children returns the child orchestrators in the order they were added.
func (o *Orchestrator) Children() []*Orchestrator { return slices.Clone(o.children) }

// Child returns the child with the given category.
func (o *Orchestrator) Child(category string) (*Orchestrator, bool) {
	for _, c := range o.children {
		if c.category == category {
			return c, true
		}
	}
	return nil, false
}

// Pending returns how many operations are queued and not yet started.
func (o *Orchestrator) Pending() int { return len(o.pending) }

// Frame returns how many times Update has advanced this orchestrator.
func (o *Orchestrator) Frame() uint64 { return o.frame }

// Paused reports whether the orchestrator subtree is frozen.
func (o *Orchestrator) Paused() bool { return o.paused }

// Stopped reports whether a Stop reaction reached this orchestrator.
func (o *Orchestrator) Stopped() bool { return o.stopped || o.quit }

// StopError returns the failure that caused a Stop reaction, if any.
func (o *Orchestrator) StopError() error { return o.stopErr }

// Idle reports whether the orchestrator has no work queued or in flight.
func (o *Orchestrator) Idle() bool {
	return (o.state == StateWait || o.state == StateOperational) && len(o.pending) == 0
}

// LoadModule queues loading a module built from setup. A module already in
// the slot is unloaded first.
func (o *Orchestrator) LoadModule(setup Setup, cfg Config, opts ...OperationOption) error {
	return o.request(pendingOp{kind: opLoad, setup: setup, config: cfg}, opts)
}

// SwitchToModule queues replacing the live module with one built from setup.
func (o *Orchestrator) SwitchToModule(setup Setup, cfg Config, opts ...OperationOption) error {
	return o.request(pendingOp{kind: opSwitch, setup: setup, config: cfg}, opts)
}

// UnloadModule queues unloading the live module. Children are unloaded first.
func (o *Orchestrator) UnloadModule(opts ...OperationOption) error {
	return o.request(pendingOp{kind: opUnload}, opts)
}

// ReloadModule queues unloading the live module and loading it again from
// the same setup and configuration.
func (o *Orchestrator) ReloadModule(opts ...OperationOption) error {
	return o.request(pendingOp{kind: opReload}, opts)
}

func (o *Orchestrator) request(op pendingOp, opts []OperationOption) error {
	for _, opt := range opts {
		opt(&op)
	}
	if err := o.validate(op); err != nil {
		o.reject(op, err)
		return err
	}
	o.enqueue(op)
	return nil
}

func (o *Orchestrator) validate(op pendingOp) error {
	if o.quit {
		return ErrOrchestratorQuit
	}
	switch op.kind {
	case opLoad, opSwitch:
		if op.setup == nil {
			return ErrSetupNil
		}
		return o.checkRequirements(op.setup)
	default:
		if o.module == nil && o.action == nil && len(o.pending) == 0 {
			return fmt.Errorf("%s %s: %w", op.kind, o.category, ErrNoModuleLoaded)
		}
	}
	return nil
}

func (o *Orchestrator) checkRequirements(s Setup) error {
	req := s.Requirements()
	if req.ParentCategory != "" {
		parent := o.Parent()
		if parent == nil || parent.category != req.ParentCategory {
			have := ""
			if parent != nil {
				have = parent.category
			}
			return fmt.Errorf("%w: setup %s needs parent %q, have %q", ErrParentRequirement, s.Name(), req.ParentCategory, have)
		}
	}
	if req.ServiceCategory != "" {
		svc := o.Service()
		if svc == nil || svc.category != req.ServiceCategory || svc.module == nil {
			return fmt.Errorf("%w: setup %s needs service %q", ErrServiceRequirement, s.Name(), req.ServiceCategory)
		}
	}
	return nil
}

func (o *Orchestrator) reject(op pendingOp, err error) {
	o.logger.Error("Operation rejected", "orchestrator", o.category, "operation", op.kind, "setup", setupName(op.setup), "error", err)
	o.events.emit(lifecycle.EventTypeOperationRejected, lifecycle.SourceOrchestrator+o.category, lifecycle.Operation{
		Category:  o.category,
		Operation: op.kind.String(),
		Setup:     setupName(op.setup),
		Error:     err.Error(),
	})
}

func (o *Orchestrator) enqueue(op pendingOp) {
	o.pending = append(o.pending, op)
	o.logger.Debug("Operation queued", "orchestrator", o.category, "operation", op.kind, "setup", setupName(op.setup), "state", o.state)
	o.events.emit(lifecycle.EventTypeOperationQueued, lifecycle.SourceOrchestrator+o.category, lifecycle.Operation{
		Category:  o.category,
		Operation: op.kind.String(),
		Setup:     setupName(op.setup),
	})
}

// AddChild creates a child orchestrator for a nested module. The parent must
// be Operational and category must be unique among its children.
func (o *Orchestrator) AddChild(category string) (*Orchestrator, error) {
	var err error
	switch {
	case o.quit:
		err = ErrOrchestratorQuit
	case category == "":
		err = ErrCategoryEmpty
	case o.state != StateOperational:
		err = fmt.Errorf("%w: add child %s to %s in state %s", ErrNotOperational, category, o.category, o.state)
	default:
		if _, exists := o.Child(category); exists {
			err = fmt.Errorf("%w: %s", ErrChildAlreadyExists, category)
		}
	}
	if err != nil {
		o.logger.Error("Add child rejected", "orchestrator", o.category, "child", category, "error", err)
		return nil, err
	}

	child := NewOrchestrator(category,
		WithLogger(o.logger),
		WithClock(o.clock),
		WithSubject(o.subject),
		WithDefaultTransition(NewNullTransition()),
	)
	child.parent = weak.Make(o)
	child.service = o.service
	o.children = append(o.children, child)

	o.logger.Debug("Child added", "orchestrator", o.category, "child", category)
	o.events.emit(lifecycle.EventTypeChildAdded, lifecycle.SourceOrchestrator+o.category, lifecycle.Child{Parent: o.category, Category: category})
	return child, nil
}

// RemoveChild unloads the child with the given category. The child is
// detached once its module reached End.
func (o *Orchestrator) RemoveChild(category string) error {
	child, ok := o.Child(category)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrChildNotFound, category)
		o.logger.Error("Remove child rejected", "orchestrator", o.category, "child", category, "error", err)
		return err
	}
	child.release()
	return nil
}

// release unloads the orchestrator and marks it for removal by its parent.
func (o *Orchestrator) release() {
	if o.removing {
		return
	}
	o.removing = true
	o.paused = false
	if o.module != nil || o.action != nil {
		o.enqueue(pendingOp{kind: opUnload})
	}
}

// Pause freezes the orchestrator subtree. Update calls are accepted but
// nothing advances until Restart.
func (o *Orchestrator) Pause() {
	if o.paused {
		return
	}
	o.paused = true
	o.logger.Info("Orchestrator paused", "orchestrator", o.category, "state", o.state)
}

// Restart resumes the subtree, including modules frozen by a Pause reaction.
func (o *Orchestrator) Restart() {
	o.paused = false
	if o.module != nil {
		o.module.Restart()
	}
	for _, c := range o.children {
		c.Restart()
	}
	o.logger.Info("Orchestrator restarted", "orchestrator", o.category, "state", o.state)
}

// Quit tears down the subtree synchronously: children first, then the live
// module. The orchestrator accepts no further operations.
func (o *Orchestrator) Quit() {
	if o.quit {
		return
	}
	for _, c := range slices.Backward(o.children) {
		c.Quit()
	}
	o.children = nil
	if o.module != nil {
		o.module.Quit()
		o.module = nil
	}
	for _, t := range o.superseded {
		t.Skip()
	}
	if o.transition != nil {
		o.transition.Skip()
	}
	o.superseded, o.transition, o.action, o.pending, o.next = nil, nil, nil, nil, nil
	o.state = StateWait
	o.quit = true

	o.logger.Info("Orchestrator quit", "orchestrator", o.category)
	o.events.emit(lifecycle.EventTypeOrchestratorQuit, lifecycle.SourceOrchestrator+o.category, lifecycle.StateChanged{
		Category: o.category,
		To:       o.state.String(),
	})
}

// signalStop marks the orchestrator stopped and forwards the stop upward. The
// root calls its stop handler.
func (o *Orchestrator) signalStop(origin string, err error) {
	if o.stopped {
		return
	}
	o.stopped = true
	o.stopErr = err
	o.logger.Warn("Orchestrator stopped", "orchestrator", o.category, "origin", origin, "error", err)
	payload := lifecycle.Stopped{Category: o.category, Origin: origin}
	if err != nil {
		payload.Error = err.Error()
	}
	o.events.emit(lifecycle.EventTypeOrchestratorStopped, lifecycle.SourceOrchestrator+o.category, payload)

	if parent := o.Parent(); parent != nil {
		parent.signalStop(origin, err)
		return
	}
	if o.stopHandler != nil {
		o.stopHandler(err)
	}
}

// moduleFailed applies an exception reaction on behalf of the live module.
func (o *Orchestrator) moduleFailed(m *Module, reaction Reaction, err *ModuleError) {
	if m != o.module {
		return
	}
	switch reaction {
	case ReactionUnload:
		o.enqueue(pendingOp{kind: opUnload})
	case ReactionReload:
		if err.Phase.Category() == CategoryUnload && o.action != nil {
			// The operation in flight already decides what follows the unload.
			o.logger.Warn("Reload reaction dropped during unload", "orchestrator", o.category, "module", m.Name(), "operation", o.action.op.kind)
			return
		}
		o.enqueue(pendingOp{kind: opReload})
	case ReactionSwitchToFallback:
		policy := m.ExceptionPolicy()
		if policy.Fallback == nil {
			o.logger.Error("Switch to fallback failed, unloading", "orchestrator", o.category, "module", m.Name(), "error", ErrNoFallbackConfigured)
			o.enqueue(pendingOp{kind: opUnload})
			return
		}
		if reqErr := o.checkRequirements(policy.Fallback); reqErr != nil {
			o.logger.Error("Switch to fallback rejected, unloading", "orchestrator", o.category, "module", m.Name(), "error", reqErr)
			o.enqueue(pendingOp{kind: opUnload})
			return
		}
		o.enqueue(pendingOp{kind: opSwitch, setup: policy.Fallback, config: policy.FallbackConfig})
	case ReactionPause:
		m.applyReaction(ReactionPause)
	case ReactionStop:
		m.halt()
		o.signalStop(o.category, err)
	}
}

// moduleRequested queues an operation a rule asked for.
func (o *Orchestrator) moduleRequested(m *Module, op pendingOp) {
	if m != o.module {
		return
	}
	if err := o.validate(op); err != nil {
		o.reject(op, err)
		return
	}
	o.enqueue(op)
}

func (o *Orchestrator) serviceResolver() *Resolver {
	if svc := o.Service(); svc != nil && svc.module != nil {
		return svc.module.Resolver()
	}
	return nil
}

func (o *Orchestrator) parentResolver() *Resolver {
	if parent := o.Parent(); parent != nil && parent.module != nil {
		return parent.module.Resolver()
	}
	return nil
}
