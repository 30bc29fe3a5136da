package ruleflow

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/GoCodeAlone/ruleflow/feeders"
)

// RuleSpec declares one rule of a setup descriptor.
type RuleSpec struct {
	Type RuleType `yaml:"type" toml:"type" json:"type"`

	// Frequency is used when the descriptor has no explicit schedule. Zero
	// means every frame; a negative value leaves the rule unscheduled.
	Frequency int `yaml:"frequency" toml:"frequency" json:"frequency,omitempty"`

	Params Config `yaml:"params" toml:"params" json:"params,omitempty"`
}

// TransitionSpec declares the transition of a setup descriptor.
type TransitionSpec struct {
	Kind        string `yaml:"kind" toml:"kind" json:"kind"`
	StartFrames int    `yaml:"start_frames" toml:"start_frames" json:"startFrames,omitempty"`
	StopFrames  int    `yaml:"stop_frames" toml:"stop_frames" json:"stopFrames,omitempty"`
}

// SetupDescriptor is a setup declared in a YAML, TOML or JSON file. Rules are
// instantiated through a Catalog.
type SetupDescriptor struct {
	Name         string             `yaml:"name" toml:"name" json:"name"`
	Requirements Requirements       `yaml:"requirements" toml:"requirements" json:"requirements"`
	Rules        []RuleSpec         `yaml:"rules" toml:"rules" json:"rules"`
	Order        InitUnloadOrder    `yaml:"order" toml:"order" json:"order,omitempty"`
	Schedule     UpdateScheduler    `yaml:"schedule" toml:"schedule" json:"schedule,omitempty"`
	Exception    *ExceptionPolicy   `yaml:"exception" toml:"exception" json:"exception,omitempty"`
	Fallback     string             `yaml:"fallback" toml:"fallback" json:"fallback,omitempty"`
	Performance  *PerformancePolicy `yaml:"performance" toml:"performance" json:"performance,omitempty"`
	Transition   *TransitionSpec    `yaml:"transition" toml:"transition" json:"transition,omitempty"`
	Config       Config             `yaml:"config" toml:"config" json:"config,omitempty"`
}

// DescriptorFile is the top-level layout of a descriptor file.
type DescriptorFile struct {
	Setups []SetupDescriptor `yaml:"setups" toml:"setups" json:"setups"`
}

// LoadDescriptorFile reads every setup descriptor from a YAML, TOML or JSON file.
func LoadDescriptorFile(path string) ([]SetupDescriptor, error) {
	var file DescriptorFile
	if err := feeders.LoadFile(path, &file); err != nil {
		return nil, err
	}
	for i, d := range file.Setups {
		if d.Name == "" {
			return nil, fmt.Errorf("%s: setup %d: %w", path, i, ErrDescriptorNameMissing)
		}
	}
	return file.Setups, nil
}

// RuleFactory creates a fresh rule from its declaration.
type RuleFactory func(spec RuleSpec) (Rule, error)

// Catalog maps rule types to factories and setup names to setups, so
// descriptors can name rules and fallbacks by string.
type Catalog struct {
	factories map[RuleType]RuleFactory
	fallback  RuleFactory
	setups    map[string]Setup
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[RuleType]RuleFactory), setups: make(map[string]Setup)}
}

// Register adds a rule factory.
func (c *Catalog) Register(t RuleType, factory RuleFactory) error {
	if _, exists := c.factories[t]; exists {
		return fmt.Errorf("%w: factory %s", ErrDuplicateRuleType, t)
	}
	c.factories[t] = factory
	return nil
}

// SetDefaultFactory sets the factory used for rule types that have no
// factory of their own.
func (c *Catalog) SetDefaultFactory(factory RuleFactory) {
	c.fallback = factory
}

// RuleTypes returns the registered rule types, sorted.
func (c *Catalog) RuleTypes() []RuleType {
	return slices.Sorted(maps.Keys(c.factories))
}

// NewRule instantiates the rule a spec declares.
func (c *Catalog) NewRule(spec RuleSpec) (Rule, error) {
	factory, ok := c.factories[spec.Type]
	if !ok {
		factory = c.fallback
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuleType, spec.Type)
	}
	r, err := factory(spec)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", spec.Type, err)
	}
	if r == nil {
		return nil, fmt.Errorf("rule %s: %w", spec.Type, ErrRuleNil)
	}
	return r, nil
}

// AddSetup makes s available by name, e.g. as a fallback.
func (c *Catalog) AddSetup(s Setup) {
	c.setups[s.Name()] = s
}

// Setup returns the setup registered under name.
func (c *Catalog) Setup(name string) (Setup, bool) {
	s, ok := c.setups[name]
	return s, ok
}

// SetupNames returns the registered setup names, sorted.
func (c *Catalog) SetupNames() []string {
	return slices.Sorted(maps.Keys(c.setups))
}

// AddDescriptors wraps each descriptor in a DescriptorSetup and registers it.
func (c *Catalog) AddDescriptors(descriptors ...SetupDescriptor) []*DescriptorSetup {
	out := make([]*DescriptorSetup, 0, len(descriptors))
	for _, d := range descriptors {
		s := NewDescriptorSetup(d, c)
		c.AddSetup(s)
		out = append(out, s)
	}
	return out
}

// DescriptorSetup is a Setup backed by a SetupDescriptor.
type DescriptorSetup struct {
	Descriptor SetupDescriptor
	catalog    *Catalog
	transition Transition
}

// NewDescriptorSetup creates a setup whose rules come from catalog.
func NewDescriptorSetup(d SetupDescriptor, catalog *Catalog) *DescriptorSetup {
	s := &DescriptorSetup{Descriptor: d, catalog: catalog}
	if t := d.Transition; t != nil && t.Kind == "timed" {
		s.transition = NewTimedTransition(t.StartFrames, t.StopFrames)
	}
	return s
}

func (s *DescriptorSetup) Name() string               { return s.Descriptor.Name }
func (s *DescriptorSetup) Requirements() Requirements { return s.Descriptor.Requirements }

// Transition returns the declared transition. The same instance is returned
// on every call.
func (s *DescriptorSetup) Transition() Transition { return s.transition }

// Build instantiates fresh rules and copies the declared orderings and
// policies. cfg overrides the descriptor's own config key by key.
func (s *DescriptorSetup) Build(cfg Config) (*Blueprint, error) {
	d := s.Descriptor
	if d.Name == "" {
		return nil, ErrDescriptorNameMissing
	}
	merged := d.Config.Clone()
	if merged == nil {
		merged = Config{}
	}
	maps.Copy(merged, cfg)

	bp := &Blueprint{Order: slices.Clone(d.Order), Scheduler: slices.Clone(d.Schedule)}
	for _, spec := range d.Rules {
		spec.Params = mergeParams(merged, spec)
		r, err := s.catalog.NewRule(spec)
		if err != nil {
			return nil, err
		}
		bp.Rules = append(bp.Rules, r)
		if len(d.Order) == 0 {
			bp.Order = append(bp.Order, spec.Type)
		}
		if len(d.Schedule) == 0 && spec.Frequency >= 0 {
			bp.Scheduler = append(bp.Scheduler, ScheduleEntry{Rule: spec.Type, Frequency: max(spec.Frequency, 1)})
		}
	}

	if d.Exception != nil {
		policy := *d.Exception
		if d.Fallback != "" {
			fallback, ok := s.catalog.Setup(d.Fallback)
			if !ok {
				return nil, fmt.Errorf("%w: fallback %s", ErrNoFallbackConfigured, d.Fallback)
			}
			policy.Fallback = fallback
		}
		bp.ExceptionPolicy = &policy
	}
	if d.Performance != nil {
		policy := *d.Performance
		bp.PerformancePolicy = &policy
	}
	return bp, nil
}

// mergeParams layers the "<type>." keys of the module config over a rule's
// own params, so a load can tune one rule without editing the file.
func mergeParams(cfg Config, spec RuleSpec) Config {
	params := spec.Params.Clone()
	if params == nil {
		params = Config{}
	}
	prefix := string(spec.Type) + "."
	for k, v := range cfg {
		if name, ok := strings.CutPrefix(k, prefix); ok && name != "" {
			params[name] = v
		}
	}
	return params
}
