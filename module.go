package ruleflow

import (
	"slices"
	"time"

	"github.com/GoCodeAlone/ruleflow/lifecycle"
)

// Phase is a step of the module state machine.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseConfigure
	PhaseInjectDependencies
	PhasePreInitialize
	PhaseInitializeRules
	PhaseUpdateRules
	PhaseUnloadRules
	PhasePostUnload
	PhaseEnd
)

var phaseNames = [...]string{
	PhaseStart:              "start",
	PhaseConfigure:          "configure",
	PhaseInjectDependencies: "inject-dependencies",
	PhasePreInitialize:      "pre-initialize",
	PhaseInitializeRules:    "initialize-rules",
	PhaseUpdateRules:        "update-rules",
	PhaseUnloadRules:        "unload-rules",
	PhasePostUnload:         "post-unload",
	PhaseEnd:                "end",
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	if p < PhaseStart || p > PhaseEnd {
		return "unknown"
	}
	return phaseNames[p]
}

// AllPhases returns every phase in state machine order.
func AllPhases() []Phase {
	return []Phase{
		PhaseStart, PhaseConfigure, PhaseInjectDependencies, PhasePreInitialize,
		PhaseInitializeRules, PhaseUpdateRules, PhaseUnloadRules, PhasePostUnload, PhaseEnd,
	}
}

// PhaseCategory groups phases for exception and stalling policies.
type PhaseCategory int

const (
	CategoryLoad PhaseCategory = iota
	CategoryUpdate
	CategoryUnload
)

// String returns the string representation of the category.
func (c PhaseCategory) String() string {
	switch c {
	case CategoryLoad:
		return "load"
	case CategoryUpdate:
		return "update"
	default:
		return "unload"
	}
}

// Category returns the policy category the phase belongs to.
func (p Phase) Category() PhaseCategory {
	switch p {
	case PhaseUpdateRules:
		return CategoryUpdate
	case PhaseUnloadRules, PhasePostUnload, PhaseEnd:
		return CategoryUnload
	default:
		return CategoryLoad
	}
}

// moduleHost is the orchestrator side of a module. A module without a host
// applies its exception reactions to itself.
type moduleHost interface {
	moduleFailed(m *Module, reaction Reaction, err *ModuleError)
	moduleRequested(m *Module, op pendingOp)
	serviceResolver() *Resolver
	parentResolver() *Resolver
}

// ModuleOption configures a Module.
type ModuleOption func(*Module)

// WithModuleLogger sets the module's logger.
func WithModuleLogger(logger Logger) ModuleOption {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithModuleClock sets the clock used for frame budgets and stalling.
func WithModuleClock(clock Clock) ModuleOption {
	return func(m *Module) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithModuleSubject sets where lifecycle events are published.
func WithModuleSubject(subject Subject) ModuleOption {
	return func(m *Module) { m.events.subject = subject }
}

// WithModuleResolvers sets the service scope and the parent scope used for
// injection when the module is not hosted by an orchestrator.
func WithModuleResolvers(service, parent *Resolver) ModuleOption {
	return func(m *Module) {
		m.service = service
		m.parent = parent
	}
}

func withHost(h moduleHost) ModuleOption {
	return func(m *Module) { m.host = h }
}

// Module is a composite runtime unit owning a set of rules. It is driven by
// calling Update once per frame and is not safe for concurrent use.
type Module struct {
	setup  Setup
	config Config
	logger Logger
	clock  Clock
	events emitter
	host   moduleHost

	service *Resolver
	parent  *Resolver

	phase   Phase
	paused  bool
	stopped bool
	faulted bool
	reload  bool
	loads   int

	rules       *RuleSet
	order       InitUnloadOrder
	scheduler   UpdateScheduler
	exception   ExceptionPolicy
	performance PerformancePolicy
	preInit     []Task
	postUnload  []Task
	resolver    *Resolver

	progress   float64
	frame      uint64
	frameStart time.Time
	cursor     phaseCursor
	stalls     map[string]int
	rc         RuleContext
	lastErr    *ModuleError
}

// phaseCursor is where time-sliced phase work resumes on the next frame.
type phaseCursor struct {
	index     int
	rules     []Rule
	started   bool
	itemStart time.Time
}

// NewModule creates a module in PhaseStart. Nothing runs until Update.
func NewModule(setup Setup, cfg Config, opts ...ModuleOption) *Module {
	m := &Module{
		setup:       setup,
		config:      cfg,
		logger:      NopLogger{},
		clock:       SystemClock{},
		exception:   DefaultExceptionPolicy(),
		performance: DefaultPerformancePolicy(),
		stalls:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events.logger = m.logger
	m.rc.module = m
	return m
}

// Name returns the name of the module's setup.
func (m *Module) Name() string {
	if m.setup == nil {
		return ""
	}
	return m.setup.Name()
}

// Setup returns the setup the module was created from.
func (m *Module) Setup() Setup { return m.setup }

// Config returns the configuration blob.
func (m *Module) Config() Config { return m.config }

// Phase returns the current phase.
func (m *Module) Phase() Phase { return m.phase }

// Progress returns the loading or unloading progress of the current phase in [0,1].
func (m *Module) Progress() float64 { return m.progress }

// Paused reports whether phase progression is frozen.
func (m *Module) Paused() bool { return m.paused }

// Stopped reports whether a Stop reaction halted the module.
func (m *Module) Stopped() bool { return m.stopped }

// Faulted reports whether the module failed and is waiting for its
// orchestrator to apply the exception reaction.
func (m *Module) Faulted() bool { return m.faulted }

// Frame returns how many update frames the module has run since it was loaded.
func (m *Module) Frame() uint64 { return m.frame }

// LoadCount returns how many times the module has entered PhaseStart.
func (m *Module) LoadCount() int { return m.loads }

// Rules returns the module's rules, or nil before configuration.
func (m *Module) Rules() *RuleSet { return m.rules }

// Resolver returns the module-scope resolver, or nil before injection.
func (m *Module) Resolver() *Resolver { return m.resolver }

// ExceptionPolicy returns the active exception policy.
func (m *Module) ExceptionPolicy() ExceptionPolicy { return m.exception }

// PerformancePolicy returns the active performance policy.
func (m *Module) PerformancePolicy() PerformancePolicy { return m.performance }

// LastError returns the most recent failure, or nil.
func (m *Module) LastError() *ModuleError { return m.lastErr }

// Loaded reports whether the module is running its rules.
func (m *Module) Loaded() bool { return m.phase == PhaseUpdateRules }

// Ended reports whether the module reached PhaseEnd.
func (m *Module) Ended() bool { return m.phase == PhaseEnd }

// Update advances the module by one frame. Outside UpdateRules it performs
// phase work until the phase is waiting on a rule, the frame budget is spent
// or the module becomes operational.
func (m *Module) Update() {
	if m.paused || m.stopped || m.faulted || m.phase == PhaseEnd {
		return
	}
	m.frameStart = m.clock.Now()
	if m.phase == PhaseUpdateRules {
		m.updateRules()
		return
	}
	for {
		from := m.phase
		m.runPhase()
		if m.phase == from || m.phase == PhaseUpdateRules || m.phase == PhaseEnd {
			return
		}
		if m.paused || m.stopped || m.faulted || m.budgetExhausted() {
			return
		}
	}
}

// Pause freezes phase progression. Update calls are accepted but do nothing.
func (m *Module) Pause() {
	if m.paused {
		return
	}
	m.paused = true
	m.logger.Info("Module paused", "module", m.Name(), "phase", m.phase)
	m.emitStatus(lifecycle.EventTypeModulePaused)
}

// Restart resumes a paused module exactly where it stopped.
func (m *Module) Restart() {
	if !m.paused {
		return
	}
	m.paused = false
	m.logger.Info("Module restarted", "module", m.Name(), "phase", m.phase)
	m.emitStatus(lifecycle.EventTypeModuleRestarted)
}

// RequestUnload moves the module to UnloadRules. Rules that never started are
// skipped. It does nothing once unloading has begun.
func (m *Module) RequestUnload() {
	switch m.phase {
	case PhaseUnloadRules, PhasePostUnload:
		m.faulted = false
		return
	case PhaseEnd:
		return
	case PhaseStart:
		m.faulted = false
		m.enterPhase(PhaseEnd)
		m.emitStatus(lifecycle.EventTypeModuleUnloaded)
		return
	}
	m.faulted = false
	m.enterPhase(PhaseUnloadRules)
}

// RequestReload unloads the module and then configures it again from the
// same setup and configuration.
func (m *Module) RequestReload() {
	if m.phase == PhaseEnd {
		m.faulted = false
		m.enterPhase(PhaseStart)
		return
	}
	if m.phase == PhaseStart {
		return
	}
	m.reload = true
	m.RequestUnload()
}

// Quit force-unloads every rule synchronously, ignoring frame budgets and
// policies. It is meant for process exit paths.
func (m *Module) Quit() {
	if m.phase == PhaseEnd {
		return
	}
	for _, r := range m.quitOrder() {
		if err := baseQuit(r, &m.rc); err != nil {
			m.logger.Error("Rule failed during quit", "module", m.Name(), "rule", r.Type(), "error", err)
		}
	}
	m.paused, m.faulted, m.reload = false, false, false
	m.enterPhase(PhaseEnd)
	m.emitStatus(lifecycle.EventTypeModuleQuit)
}

func (m *Module) quitOrder() []Rule {
	if m.rules == nil {
		return nil
	}
	if rules, err := GetRulesInReverseOrder(m.rules, m.order); err == nil && len(rules) == m.rules.Len() {
		return rules
	}
	rules := m.rules.Rules()
	slices.Reverse(rules)
	return rules
}

func (m *Module) serviceResolver() *Resolver {
	if m.host != nil {
		return m.host.serviceResolver()
	}
	return m.service
}

func (m *Module) parentResolver() *Resolver {
	if m.host != nil {
		return m.host.parentResolver()
	}
	return m.parent
}

func (m *Module) budgetExhausted() bool {
	limit := m.performance.MaxFrameDuration
	return limit > 0 && m.clock.Now().Sub(m.frameStart) >= limit
}

func (m *Module) enterPhase(p Phase) {
	from := m.phase
	m.phase = p
	m.cursor = phaseCursor{}
	clear(m.stalls)

	switch p {
	case PhaseInitializeRules:
		m.progress = 0
		m.cursor.rules, _ = GetRulesInOrder(m.rules, m.order)
	case PhaseUnloadRules:
		m.progress = 0
		if m.rules != nil {
			m.cursor.rules, _ = GetRulesInReverseOrder(m.rules, m.order)
		}
	case PhasePreInitialize, PhasePostUnload:
		m.progress = 0
	case PhaseUpdateRules:
		m.progress = 1
	}

	m.logger.Debug("Module phase changed", "module", m.Name(), "from", from, "to", p)
	m.events.emit(lifecycle.EventTypeModulePhaseChanged, lifecycle.SourceModule+m.Name(), lifecycle.PhaseChanged{
		Module: m.Name(),
		From:   from.String(),
		To:     p.String(),
	})
	if p == PhaseUpdateRules {
		m.logger.Info("Module loaded", "module", m.Name(), "rules", m.rules.Len())
		m.emitStatus(lifecycle.EventTypeModuleLoaded)
	}
}

func (m *Module) emitStatus(eventType string) {
	m.events.emit(eventType, lifecycle.SourceModule+m.Name(), lifecycle.ModuleStatus{
		Module:   m.Name(),
		Phase:    m.phase.String(),
		Progress: m.progress,
	})
}
