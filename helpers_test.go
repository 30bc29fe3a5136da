package ruleflow

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/GoCodeAlone/ruleflow/internal/testutil"
	"github.com/GoCodeAlone/ruleflow/lifecycle"
	"github.com/stretchr/testify/require"
)

var (
	errInitBoom   = errors.New("init boom")
	errUpdateBoom = errors.New("update boom")
	errUnloadBoom = errors.New("unload boom")
)

// journal records rule callbacks across every rule of a test, in call order.
type journal struct {
	entries []string
}

func (j *journal) add(format string, args ...any) {
	if j != nil {
		j.entries = append(j.entries, fmt.Sprintf(format, args...))
	}
}

// probeRule is a configurable rule. Zero-valued fields give a rule that
// initializes and unloads synchronously and does nothing on update.
type probeRule struct {
	BaseRule
	kind RuleType
	log  *journal

	initPolls   int
	unloadPolls int
	initErr     error
	updateErr   error
	unloadErr   error
	panicOn     string

	caps     []Capability
	deps     []Dependency
	onUpdate func(rc *RuleContext)
	onInit   func()
	onPoll   func()

	updates int
	unloads int
	polls   int
}

func newProbe(kind RuleType, log *journal) *probeRule {
	return &probeRule{kind: kind, log: log}
}

func (r *probeRule) Type() RuleType { return r.kind }

func (r *probeRule) Initialize(*RuleContext) error {
	r.log.add("init:%s", r.kind)
	if r.onInit != nil {
		r.onInit()
	}
	if r.panicOn == "initialize" {
		panic("initialize exploded")
	}
	if r.initErr != nil {
		return r.initErr
	}
	if r.initPolls == 0 {
		r.MarkInitialized()
	}
	return nil
}

func (r *probeRule) Update(rc *RuleContext) error {
	r.updates++
	r.log.add("update:%s@%d", r.kind, rc.Frame())
	if r.panicOn == "update" {
		panic("update exploded")
	}
	if r.onUpdate != nil {
		r.onUpdate(rc)
	}
	return r.updateErr
}

func (r *probeRule) Unload(*RuleContext) error {
	r.unloads++
	r.log.add("unload:%s", r.kind)
	if r.unloadErr != nil {
		return r.unloadErr
	}
	if r.unloadPolls == 0 {
		r.MarkUnloaded()
	}
	return nil
}

func (r *probeRule) Poll(*RuleContext) error {
	r.polls++
	if r.onPoll != nil {
		r.onPoll()
	}
	switch r.State() {
	case RuleInitializing:
		r.initPolls--
		if r.initPolls <= 0 {
			r.MarkInitialized()
		}
	case RuleUnloading:
		r.unloadPolls--
		if r.unloadPolls <= 0 {
			r.MarkUnloaded()
		}
	}
	return nil
}

func (r *probeRule) Capabilities() []Capability { return r.caps }
func (r *probeRule) Dependencies() []Dependency { return r.deps }

// probeSetup builds fresh probe rules of the given types on every Build, so
// reloads see new instances. Built rules are kept in order of creation.
type probeSetup struct {
	*SetupFunc
	built [][]*probeRule
}

func newProbeSetup(name string, log *journal, types []RuleType, tune ...func(bp *Blueprint, rules []*probeRule)) *probeSetup {
	s := &probeSetup{}
	s.SetupFunc = NewSetup(name, func(Config) (*Blueprint, error) {
		rules := make([]*probeRule, 0, len(types))
		bp := &Blueprint{}
		for _, t := range types {
			r := newProbe(t, log)
			rules = append(rules, r)
			bp.Rules = append(bp.Rules, r)
			bp.Order = append(bp.Order, t)
			bp.Scheduler = append(bp.Scheduler, ScheduleEntry{Rule: t, Frequency: 1})
		}
		for _, fn := range tune {
			fn(bp, rules)
		}
		s.built = append(s.built, rules)
		return bp, nil
	})
	return s
}

// latest returns the rules of the most recent build.
func (s *probeSetup) latest() []*probeRule {
	if len(s.built) == 0 {
		return nil
	}
	return s.built[len(s.built)-1]
}

type updater interface{ Update() }

func step(u updater, n int) {
	for range n {
		u.Update()
	}
}

// runUntil updates u until cond holds, failing the test after limit frames.
func runUntil(t *testing.T, u updater, limit int, cond func() bool) int {
	t.Helper()
	for i := range limit {
		if cond() {
			return i
		}
		u.Update()
	}
	require.True(t, cond(), "condition not reached within %d frames", limit)
	return limit
}

// testBus returns an event bus with a recorder attached.
func testBus(t *testing.T) (*EventBus, *lifecycle.Recorder) {
	t.Helper()
	bus := NewEventBus(nil)
	rec := lifecycle.NewRecorder("test-recorder", 0)
	require.NoError(t, bus.RegisterObserver(rec))
	return bus, rec
}

func fakeClock() *testutil.FakeClock {
	return testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

// slowClock advances by tick every time it is read, so each measured
// callback appears to take tick.
type slowClock struct {
	*testutil.FakeClock
	tick time.Duration
}

func (c slowClock) Now() time.Time {
	c.Advance(c.tick)
	return c.FakeClock.Now()
}
