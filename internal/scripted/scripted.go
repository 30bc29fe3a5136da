// Package scripted provides data-driven rules whose behaviour is declared in
// setup descriptors. They let scenario files exercise every engine path
// (asynchronous completion, failures, stalls, dependencies, self-requested
// operations) without writing Go code.
package scripted

import (
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/ruleflow"
)

// Failure modes for Params.FailMode.
const (
	FailReturn = "return"
	FailFlag   = "flag"
	FailPanic  = "panic"
)

// Params is the parsed form of a rule spec's params.
type Params struct {
	// InitFrames and UnloadFrames are how many polls a rule stays pending
	// before completing its initialization or unload.
	InitFrames   int
	UnloadFrames int

	// Work is simulated time spent inside every callback.
	Work time.Duration

	// FailOn is "initialize", "update" or "unload". FailAtFrame selects the
	// update frame when FailOn is "update".
	FailOn      string
	FailAtFrame int
	FailMode    string

	// RequestAtFrame fires Request ("unload", "reload" or "switch:<setup>")
	// on that update frame.
	Request        string
	RequestAtFrame int

	Capabilities []ruleflow.Capability
	Requires     []ruleflow.Capability
	Optional     []ruleflow.Capability
}

// ParseParams reads Params from a rule spec's params.
func ParseParams(cfg ruleflow.Config) (Params, error) {
	p := Params{
		InitFrames:     cfg.Int("init_frames", 0),
		UnloadFrames:   cfg.Int("unload_frames", 0),
		Work:           cfg.Duration("work", 0),
		FailOn:         strings.ToLower(cfg.String("fail_on", "")),
		FailAtFrame:    cfg.Int("fail_at_frame", 0),
		FailMode:       strings.ToLower(cfg.String("fail_mode", FailReturn)),
		Request:        cfg.String("request", ""),
		RequestAtFrame: cfg.Int("request_at_frame", 0),
		Capabilities:   capabilities(cfg["capabilities"]),
		Requires:       capabilities(cfg["requires"]),
		Optional:       capabilities(cfg["optional"]),
	}
	switch p.FailOn {
	case "", "initialize", "update", "unload":
	default:
		return p, fmt.Errorf("%w: fail_on %q", ErrInvalidParam, p.FailOn)
	}
	switch p.FailMode {
	case FailReturn, FailFlag, FailPanic:
	default:
		return p, fmt.Errorf("%w: fail_mode %q", ErrInvalidParam, p.FailMode)
	}
	if p.InitFrames < 0 || p.UnloadFrames < 0 {
		return p, fmt.Errorf("%w: negative frame count", ErrInvalidParam)
	}
	return p, nil
}

func capabilities(v any) []ruleflow.Capability {
	var out []ruleflow.Capability
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			out = append(out, ruleflow.Capability(fmt.Sprint(item)))
		}
	case []string:
		for _, item := range list {
			out = append(out, ruleflow.Capability(item))
		}
	case string:
		for item := range strings.SplitSeq(list, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, ruleflow.Capability(item))
			}
		}
	}
	return out
}

// Rule is a rule driven entirely by its Params.
type Rule struct {
	ruleflow.BaseRule

	ruleType ruleflow.RuleType
	params   Params
	sleep    func(time.Duration)
	switches func(name string) (ruleflow.Setup, bool)

	resolved []any
	pending  int

	Initializes int
	Updates     int
	Unloads     int
}

// Type returns the rule type the spec declared.
func (r *Rule) Type() ruleflow.RuleType { return r.ruleType }

// Params returns the rule's parsed params.
func (r *Rule) Params() Params { return r.params }

// Resolved returns the injected instance for a required or optional
// capability, in declaration order.
func (r *Rule) Resolved(c ruleflow.Capability) any {
	for i, want := range append(append([]ruleflow.Capability{}, r.params.Requires...), r.params.Optional...) {
		if want == c {
			return r.resolved[i]
		}
	}
	return nil
}

func (r *Rule) Capabilities() []ruleflow.Capability { return r.params.Capabilities }

func (r *Rule) Dependencies() []ruleflow.Dependency {
	deps := make([]ruleflow.Dependency, 0, len(r.resolved))
	for i, c := range r.params.Requires {
		deps = append(deps, ruleflow.Require(c, &r.resolved[i]))
	}
	offset := len(r.params.Requires)
	for i, c := range r.params.Optional {
		deps = append(deps, ruleflow.Optional(c, &r.resolved[offset+i]))
	}
	return deps
}

func (r *Rule) Initialize(rc *ruleflow.RuleContext) error {
	r.Initializes++
	r.work()
	if r.params.FailOn == "initialize" {
		return r.failure("initialize")
	}
	r.pending = r.params.InitFrames
	if r.pending == 0 {
		r.MarkInitialized()
	}
	return nil
}

func (r *Rule) Poll(rc *ruleflow.RuleContext) error {
	r.pending--
	if r.pending > 0 {
		return nil
	}
	switch r.State() {
	case ruleflow.RuleInitializing:
		r.MarkInitialized()
	case ruleflow.RuleUnloading:
		r.MarkUnloaded()
	}
	return nil
}

func (r *Rule) Update(rc *ruleflow.RuleContext) error {
	r.Updates++
	r.work()
	frame := int(rc.Frame())
	if r.params.FailOn == "update" && frame == r.params.FailAtFrame {
		return r.failure(fmt.Sprintf("update frame %d", frame))
	}
	if r.params.Request != "" && frame == r.params.RequestAtFrame {
		r.request(rc)
	}
	return nil
}

func (r *Rule) Unload(rc *ruleflow.RuleContext) error {
	r.Unloads++
	r.work()
	if r.params.FailOn == "unload" {
		return r.failure("unload")
	}
	r.pending = r.params.UnloadFrames
	if r.pending == 0 {
		r.MarkUnloaded()
	}
	return nil
}

func (r *Rule) request(rc *ruleflow.RuleContext) {
	switch req := r.params.Request; {
	case req == "unload":
		rc.RequestUnload()
	case req == "reload":
		rc.RequestReload()
	case strings.HasPrefix(req, "switch:"):
		name := strings.TrimPrefix(req, "switch:")
		setup, ok := r.switches(name)
		if !ok {
			r.Fail(fmt.Errorf("%w: %s", ErrUnknownSetup, name))
			return
		}
		rc.RequestSwitch(setup, nil)
	default:
		rc.Logger().Warn("Unknown scripted request", "rule", r.ruleType, "request", req)
	}
}

func (r *Rule) failure(where string) error {
	err := fmt.Errorf("%w: %s in %s", ErrScripted, r.ruleType, where)
	switch r.params.FailMode {
	case FailFlag:
		r.Fail(err)
		return nil
	case FailPanic:
		panic(err)
	}
	return err
}

func (r *Rule) work() {
	if r.params.Work > 0 && r.sleep != nil {
		r.sleep(r.params.Work)
	}
}
