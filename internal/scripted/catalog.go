package scripted

import (
	"errors"
	"time"

	"github.com/GoCodeAlone/ruleflow"
)

var (
	ErrScripted     = errors.New("scripted failure")
	ErrInvalidParam = errors.New("invalid scripted rule param")
	ErrUnknownSetup = errors.New("unknown setup")
)

// Option configures the factory installed by Install.
type Option func(*factory)

// WithSleep replaces time.Sleep for simulated work, typically with a fake
// clock's Advance.
func WithSleep(sleep func(time.Duration)) Option {
	return func(f *factory) { f.sleep = sleep }
}

// WithRecorder receives every rule the factory creates.
func WithRecorder(record func(*Rule)) Option {
	return func(f *factory) { f.record = record }
}

type factory struct {
	catalog *ruleflow.Catalog
	sleep   func(time.Duration)
	record  func(*Rule)
}

// Install makes scripted rules the catalog's default factory, so any rule
// type without a dedicated factory is scripted.
func Install(catalog *ruleflow.Catalog, opts ...Option) {
	f := &factory{catalog: catalog, sleep: time.Sleep}
	for _, opt := range opts {
		opt(f)
	}
	catalog.SetDefaultFactory(f.newRule)
}

func (f *factory) newRule(spec ruleflow.RuleSpec) (ruleflow.Rule, error) {
	params, err := ParseParams(spec.Params)
	if err != nil {
		return nil, err
	}
	r := &Rule{
		ruleType: spec.Type,
		params:   params,
		sleep:    f.sleep,
		switches: f.catalog.Setup,
		resolved: make([]any, len(params.Requires)+len(params.Optional)),
	}
	if f.record != nil {
		f.record(r)
	}
	return r, nil
}
