package ruleflow

// RuleContext is handed to every rule callback. It gives the rule access to
// its module's configuration and lets it ask for module-level operations.
type RuleContext struct {
	module *Module
	frame  uint64
}

// Frame returns the index of the update frame being run, counted from the
// first UpdateRules frame of the current load.
func (rc *RuleContext) Frame() uint64 { return rc.frame }

// ModuleName returns the name of the owning module.
func (rc *RuleContext) ModuleName() string { return rc.module.Name() }

// Phase returns the phase the owning module is in.
func (rc *RuleContext) Phase() Phase { return rc.module.phase }

// Config returns the owning module's configuration.
func (rc *RuleContext) Config() Config { return rc.module.config }

// Logger returns the owning module's logger.
func (rc *RuleContext) Logger() Logger { return rc.module.logger }

// Lookup finds an instance by capability in module scope, then service scope,
// then the parent chain.
func (rc *RuleContext) Lookup(c Capability) (any, bool) {
	m := rc.module
	if m.resolver == nil {
		return nil, false
	}
	v, ok, err := resolve(c, m.serviceResolver(), m.resolver)
	if err != nil {
		return nil, false
	}
	return v, ok
}

// RequestUnload asks for the owning module to be unloaded.
func (rc *RuleContext) RequestUnload() {
	m := rc.module
	if m.host != nil {
		m.host.moduleRequested(m, pendingOp{kind: opUnload})
		return
	}
	m.RequestUnload()
}

// RequestReload asks for the owning module to be reloaded with the same setup
// and configuration.
func (rc *RuleContext) RequestReload() {
	m := rc.module
	if m.host != nil {
		m.host.moduleRequested(m, pendingOp{kind: opReload})
		return
	}
	m.RequestReload()
}

// RequestSwitch asks for the owning module to be replaced by a module built
// from setup. Without an orchestrator the module is only unloaded.
func (rc *RuleContext) RequestSwitch(setup Setup, cfg Config) {
	m := rc.module
	if m.host != nil {
		m.host.moduleRequested(m, pendingOp{kind: opSwitch, setup: setup, config: cfg})
		return
	}
	m.logger.Warn("No orchestrator to switch modules, unloading", "module", m.Name(), "setup", setupName(setup))
	m.RequestUnload()
}

func setupName(s Setup) string {
	if s == nil {
		return ""
	}
	return s.Name()
}
