package ruleflow

import (
	"fmt"
	"slices"
	"weak"
)

// Capability is the tag a rule is looked up by in a Resolver.
type Capability string

// Dependency is a slot on a rule that the resolver fills during the
// InjectDependencies phase. Build slots with Require or Optional.
type Dependency struct {
	Capability Capability
	Required   bool
	assign     func(instance any) error
	clear      func()
}

// Require declares a dependency that must resolve. The instance found under c
// must satisfy T.
func Require[T any](c Capability, dst *T) Dependency {
	d := slot(c, dst)
	d.Required = true
	return d
}

// Optional declares a dependency that is left at its zero value when nothing
// exposes c.
func Optional[T any](c Capability, dst *T) Dependency {
	return slot(c, dst)
}

func slot[T any](c Capability, dst *T) Dependency {
	if dst == nil {
		return Dependency{Capability: c}
	}
	return Dependency{
		Capability: c,
		assign: func(instance any) error {
			v, ok := instance.(T)
			if !ok {
				var zero T
				return fmt.Errorf("%w: %s is %T, want %T", ErrDependencyWrongType, c, instance, zero)
			}
			*dst = v
			return nil
		},
		clear: func() {
			var zero T
			*dst = zero
		},
	}
}

// Resolver maps capabilities to instances. A module-scope resolver may link to
// a parent resolver for fallback lookups; the link does not keep the parent alive.
//
// Registration happens once, before any lookup. A resolver must be sealed
// before it answers lookups so injection never reads a half-registered scope.
type Resolver struct {
	name    string
	entries map[Capability]any
	caps    []Capability
	parent  weak.Pointer[Resolver]
	sealed  bool
}

// NewResolver creates an empty, unsealed resolver.
func NewResolver(name string) *Resolver {
	return &Resolver{name: name, entries: make(map[Capability]any)}
}

// Name returns the resolver's name.
func (r *Resolver) Name() string { return r.name }

// Register exposes instance under c. It fails if c is already registered or
// the resolver is sealed.
func (r *Resolver) Register(c Capability, instance any) error {
	if r.sealed {
		return fmt.Errorf("resolver %s: register %s after seal", r.name, c)
	}
	if _, exists := r.entries[c]; exists {
		return fmt.Errorf("%w: %s in %s", ErrAmbiguousCapability, c, r.name)
	}
	r.entries[c] = instance
	r.caps = append(r.caps, c)
	return nil
}

// Seal ends registration.
func (r *Resolver) Seal() { r.sealed = true }

// Sealed reports whether registration has finished.
func (r *Resolver) Sealed() bool { return r.sealed }

// SetParent links r to parent for fallback lookups.
func (r *Resolver) SetParent(parent *Resolver) {
	if parent == nil {
		r.parent = weak.Pointer[Resolver]{}
		return
	}
	r.parent = weak.Make(parent)
}

// Parent returns the linked parent resolver, or nil.
func (r *Resolver) Parent() *Resolver { return r.parent.Value() }

// Capabilities returns the registered capabilities in registration order.
func (r *Resolver) Capabilities() []Capability { return slices.Clone(r.caps) }

// Local looks c up in this resolver only.
func (r *Resolver) Local(c Capability) (any, bool, error) {
	if r == nil {
		return nil, false, nil
	}
	if !r.sealed {
		return nil, false, fmt.Errorf("%w: %s", ErrResolverNotSealed, r.name)
	}
	v, ok := r.entries[c]
	return v, ok, nil
}

// Lookup looks c up in this resolver and then along its parent chain.
func (r *Resolver) Lookup(c Capability) (any, bool, error) {
	for cur := r; cur != nil; cur = cur.Parent() {
		v, ok, err := cur.Local(c)
		if err != nil || ok {
			return v, ok, err
		}
	}
	return nil, false, nil
}

// ExtractDependencies builds a resolver from the capabilities the rules of set
// expose. Two rules exposing the same capability is an error.
func ExtractDependencies(name string, set *RuleSet) (*Resolver, error) {
	r := NewResolver(name)
	for _, rule := range set.Rules() {
		p, ok := rule.(CapabilityProvider)
		if !ok {
			continue
		}
		for _, c := range p.Capabilities() {
			if err := r.Register(c, rule); err != nil {
				return nil, fmt.Errorf("rule %s: %w", rule.Type(), err)
			}
		}
	}
	r.Seal()
	return r, nil
}

// InjectDependencies fills the dependency slots of every rule in set.
func InjectDependencies(set *RuleSet, service, module *Resolver) error {
	for _, rule := range set.Rules() {
		if err := InjectRule(rule, service, module); err != nil {
			return err
		}
	}
	return nil
}

// InjectRule fills the dependency slots of one rule. Each slot is looked up
// in module scope, then service scope, then module's parent chain.
func InjectRule(rule Rule, service, module *Resolver) error {
	d, ok := rule.(DependencyAware)
	if !ok {
		return nil
	}
	for _, dep := range d.Dependencies() {
		if dep.Capability == "" || dep.assign == nil {
			return fmt.Errorf("rule %s: %w", rule.Type(), ErrDependencySlotInvalid)
		}
		instance, found, err := resolve(dep.Capability, service, module)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.Type(), err)
		}
		if !found {
			if dep.Required {
				return fmt.Errorf("rule %s: %w: %s", rule.Type(), ErrRequiredDependencyMissing, dep.Capability)
			}
			dep.clear()
			continue
		}
		if err := dep.assign(instance); err != nil {
			return fmt.Errorf("rule %s: %w", rule.Type(), err)
		}
	}
	return nil
}

func resolve(c Capability, service, module *Resolver) (any, bool, error) {
	if v, ok, err := module.Local(c); err != nil || ok {
		return v, ok, err
	}
	if service != nil {
		if v, ok, err := service.Lookup(c); err != nil || ok {
			return v, ok, err
		}
	}
	if module != nil {
		if parent := module.Parent(); parent != nil {
			return parent.Lookup(c)
		}
	}
	return nil, false, nil
}
