package scripted

import (
	"testing"
	"time"

	"github.com/GoCodeAlone/ruleflow"
	"github.com/GoCodeAlone/ruleflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	p, err := ParseParams(nil)
	require.NoError(t, err)
	assert.Equal(t, Params{FailMode: FailReturn}, p)

	p, err = ParseParams(ruleflow.Config{
		"init_frames":      2,
		"work":             "3ms",
		"fail_on":          "Update",
		"fail_at_frame":    "4",
		"fail_mode":        "flag",
		"request":          "switch:menu",
		"request_at_frame": 1,
		"capabilities":     []any{"physics", "clock"},
		"requires":         "physics, audio",
		"optional":         []string{"net"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.InitFrames)
	assert.Equal(t, 3*time.Millisecond, p.Work)
	assert.Equal(t, "update", p.FailOn)
	assert.Equal(t, 4, p.FailAtFrame)
	assert.Equal(t, FailFlag, p.FailMode)
	assert.Equal(t, []ruleflow.Capability{"physics", "clock"}, p.Capabilities)
	assert.Equal(t, []ruleflow.Capability{"physics", "audio"}, p.Requires)
	assert.Equal(t, []ruleflow.Capability{"net"}, p.Optional)

	for name, cfg := range map[string]ruleflow.Config{
		"fail_on":   {"fail_on": "sometimes"},
		"fail_mode": {"fail_mode": "explode"},
		"frames":    {"unload_frames": -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseParams(cfg)
			assert.ErrorIs(t, err, ErrInvalidParam)
		})
	}
}

type harness struct {
	catalog *ruleflow.Catalog
	clock   *testutil.FakeClock
	rules   map[ruleflow.RuleType]*Rule
}

func newHarness(t *testing.T, descriptors ...ruleflow.SetupDescriptor) *harness {
	t.Helper()
	h := &harness{
		catalog: ruleflow.NewCatalog(),
		clock:   testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		rules:   make(map[ruleflow.RuleType]*Rule),
	}
	Install(h.catalog, WithSleep(h.clock.Advance), WithRecorder(func(r *Rule) { h.rules[r.Type()] = r }))
	h.catalog.AddDescriptors(descriptors...)
	return h
}

func (h *harness) module(t *testing.T, name string) *ruleflow.Module {
	t.Helper()
	s, ok := h.catalog.Setup(name)
	require.True(t, ok)
	return ruleflow.NewModule(s, nil, ruleflow.WithModuleClock(h.clock))
}

func run(t *testing.T, m *ruleflow.Module, limit int, cond func() bool) {
	t.Helper()
	for range limit {
		if cond() {
			return
		}
		m.Update()
	}
	require.True(t, cond(), "condition not reached within %d frames", limit)
}

func TestScriptedLifecycle(t *testing.T) {
	h := newHarness(t, ruleflow.SetupDescriptor{
		Name: "arena",
		Rules: []ruleflow.RuleSpec{
			{Type: "physics", Params: ruleflow.Config{"init_frames": 2, "unload_frames": 1, "capabilities": "physics"}},
			{Type: "ai", Frequency: 2, Params: ruleflow.Config{"requires": "physics", "optional": "audio", "work": "1ms"}},
		},
	})
	m := h.module(t, "arena")

	run(t, m, 10, m.Loaded)
	physics, ai := h.rules["physics"], h.rules["ai"]
	require.NotNil(t, physics)
	require.NotNil(t, ai)
	assert.Same(t, physics, ai.Resolved("physics"))
	assert.Nil(t, ai.Resolved("audio"))
	assert.Nil(t, ai.Resolved("unknown"))
	assert.Equal(t, 1, physics.Initializes)

	start := h.clock.Now()
	for range 4 {
		m.Update()
	}
	assert.Equal(t, 4, physics.Updates)
	assert.Equal(t, 2, ai.Updates, "ai runs every other frame")
	assert.Equal(t, 2*time.Millisecond, h.clock.Now().Sub(start), "work advances the clock")

	m.RequestUnload()
	run(t, m, 10, m.Ended)
	assert.Equal(t, 1, physics.Unloads)
	assert.Equal(t, 1, ai.Unloads)
	assert.Nil(t, m.LastError())
}

func TestScriptedFailures(t *testing.T) {
	tests := []struct {
		name   string
		params ruleflow.Config
		kind   ruleflow.ErrorKind
		is     error
	}{
		{name: "initialize returns", params: ruleflow.Config{"fail_on": "initialize"}, kind: ruleflow.KindRuleException, is: ErrScripted},
		{name: "update returns", params: ruleflow.Config{"fail_on": "update", "fail_at_frame": 2}, kind: ruleflow.KindRuleException, is: ErrScripted},
		{name: "update flags", params: ruleflow.Config{"fail_on": "update", "fail_at_frame": 1, "fail_mode": "flag"}, kind: ruleflow.KindRuleReported, is: ErrScripted},
		{name: "update panics", params: ruleflow.Config{"fail_on": "update", "fail_mode": "panic"}, kind: ruleflow.KindRuleException, is: ruleflow.ErrRulePanic},
		{name: "unknown switch target", params: ruleflow.Config{"request": "switch:nowhere"}, kind: ruleflow.KindRuleReported, is: ErrUnknownSetup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ruleflow.SetupDescriptor{
				Name:  "arena",
				Rules: []ruleflow.RuleSpec{{Type: "engine", Params: tt.params}},
			})
			m := h.module(t, "arena")
			run(t, m, 20, m.Ended)

			me := m.LastError()
			require.NotNil(t, me)
			assert.Equal(t, tt.kind, me.Kind)
			assert.Equal(t, ruleflow.RuleType("engine"), me.Rule)
			assert.ErrorIs(t, me, tt.is)
		})
	}
}

func TestScriptedRequests(t *testing.T) {
	t.Run("unload", func(t *testing.T) {
		h := newHarness(t, ruleflow.SetupDescriptor{
			Name:  "arena",
			Rules: []ruleflow.RuleSpec{{Type: "engine", Params: ruleflow.Config{"request": "unload", "request_at_frame": 3}}},
		})
		m := h.module(t, "arena")
		run(t, m, 20, m.Ended)
		assert.Equal(t, 4, h.rules["engine"].Updates)
		assert.Nil(t, m.LastError())
	})

	t.Run("reload", func(t *testing.T) {
		h := newHarness(t, ruleflow.SetupDescriptor{
			Name:  "arena",
			Rules: []ruleflow.RuleSpec{{Type: "engine", Params: ruleflow.Config{"request": "reload"}}},
		})
		m := h.module(t, "arena")
		run(t, m, 20, func() bool { return m.LoadCount() == 2 && m.Loaded() })
	})

	t.Run("switch without orchestrator unloads", func(t *testing.T) {
		h := newHarness(t,
			ruleflow.SetupDescriptor{Name: "arena", Rules: []ruleflow.RuleSpec{{Type: "engine", Params: ruleflow.Config{"request": "switch:menu"}}}},
			ruleflow.SetupDescriptor{Name: "menu", Rules: []ruleflow.RuleSpec{{Type: "ui"}}},
		)
		m := h.module(t, "arena")
		run(t, m, 20, m.Ended)
		assert.Nil(t, m.LastError())
	})
}

func TestScriptedRuleInvalidParams(t *testing.T) {
	h := newHarness(t)
	_, err := h.catalog.NewRule(ruleflow.RuleSpec{Type: "engine", Params: ruleflow.Config{"fail_on": "never"}})
	assert.ErrorIs(t, err, ErrInvalidParam)
}
