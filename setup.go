package ruleflow

// Requirements are the context a setup needs from the orchestrator that loads it.
type Requirements struct {
	// ParentCategory, when set, requires the loading orchestrator to be a child
	// of an orchestrator with this category.
	ParentCategory string `yaml:"parent_category" toml:"parent_category" json:"parentCategory,omitempty"`

	// ServiceCategory, when set, requires a linked service orchestrator of this
	// category with a module loaded.
	ServiceCategory string `yaml:"service_category" toml:"service_category" json:"serviceCategory,omitempty"`
}

// Blueprint is what a setup produces when a module is configured.
type Blueprint struct {
	Rules     []Rule
	Order     InitUnloadOrder
	Scheduler UpdateScheduler

	// Nil policies fall back to DefaultExceptionPolicy and DefaultPerformancePolicy.
	ExceptionPolicy   *ExceptionPolicy
	PerformancePolicy *PerformancePolicy

	// PreInitTasks run during PreInitialize, PostUnloadTasks during PostUnload.
	PreInitTasks    []Task
	PostUnloadTasks []Task
}

// Validate runs the checks a module performs during Configure: unique rule
// types, complete orderings and valid policies.
func (bp *Blueprint) Validate() error {
	_, err := bp.compile()
	return err
}

type compiledBlueprint struct {
	rules       *RuleSet
	exception   ExceptionPolicy
	performance PerformancePolicy
}

func (bp *Blueprint) compile() (compiledBlueprint, error) {
	var c compiledBlueprint
	set, err := NewRuleSet(bp.Rules...)
	if err != nil {
		return c, err
	}
	if err := bp.Order.Validate(set); err != nil {
		return c, err
	}
	if err := bp.Scheduler.Validate(set); err != nil {
		return c, err
	}
	c.exception = DefaultExceptionPolicy()
	if bp.ExceptionPolicy != nil {
		c.exception = *bp.ExceptionPolicy
	}
	if err := c.exception.Validate(); err != nil {
		return c, err
	}
	c.performance = DefaultPerformancePolicy()
	if bp.PerformancePolicy != nil {
		c.performance = *bp.PerformancePolicy
	}
	if err := c.performance.Validate(); err != nil {
		return c, err
	}
	c.rules = set
	return c, nil
}

// Setup supplies everything a module needs. Build is called once per
// configuration of the module, so on reload it runs again and must return
// fresh rules.
type Setup interface {
	Name() string
	Requirements() Requirements
	Build(cfg Config) (*Blueprint, error)
}

// TransitionProvider is implemented by setups that want a specific transition
// run around their load, unload and reload operations.
type TransitionProvider interface {
	Transition() Transition
}

// SetupFunc adapts a build function into a Setup.
type SetupFunc struct {
	SetupName     string
	Requires      Requirements
	BuildFunc     func(cfg Config) (*Blueprint, error)
	UseTransition Transition
}

// NewSetup returns a SetupFunc with no requirements and the default transition.
func NewSetup(name string, build func(cfg Config) (*Blueprint, error)) *SetupFunc {
	return &SetupFunc{SetupName: name, BuildFunc: build}
}

func (s *SetupFunc) Name() string               { return s.SetupName }
func (s *SetupFunc) Requirements() Requirements { return s.Requires }

func (s *SetupFunc) Build(cfg Config) (*Blueprint, error) {
	if s.BuildFunc == nil {
		return &Blueprint{}, nil
	}
	return s.BuildFunc(cfg)
}

// Transition returns the configured transition, or nil for the orchestrator default.
func (s *SetupFunc) Transition() Transition { return s.UseTransition }

// WithRequirements sets the requirements and returns s.
func (s *SetupFunc) WithRequirements(r Requirements) *SetupFunc {
	s.Requires = r
	return s
}

// WithTransition sets the transition and returns s.
func (s *SetupFunc) WithTransition(t Transition) *SetupFunc {
	s.UseTransition = t
	return s
}

func setupTransition(s Setup) Transition {
	if s == nil {
		return nil
	}
	if p, ok := s.(TransitionProvider); ok {
		return p.Transition()
	}
	return nil
}
