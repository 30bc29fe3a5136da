package ruleflow

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type physicsAPI interface{ Gravity() float64 }

type physicsRule struct {
	probeRule
}

func (*physicsRule) Gravity() float64 { return 9.81 }

func TestResolverRegistration(t *testing.T) {
	r := NewResolver("arena")
	require.NoError(t, r.Register("physics", 1))
	assert.ErrorIs(t, r.Register("physics", 2), ErrAmbiguousCapability)

	_, _, err := r.Local("physics")
	assert.ErrorIs(t, err, ErrResolverNotSealed, "lookups wait for the seal")

	r.Seal()
	assert.True(t, r.Sealed())
	assert.Error(t, r.Register("ai", 3))

	v, ok, err := r.Local("physics")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []Capability{"physics"}, r.Capabilities())
}

func TestResolverParentChain(t *testing.T) {
	root := NewResolver("root")
	require.NoError(t, root.Register("audio", "mixer"))
	root.Seal()

	child := NewResolver("child")
	require.NoError(t, child.Register("physics", "engine"))
	child.Seal()
	child.SetParent(root)

	v, ok, err := child.Lookup("audio")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mixer", v)

	_, ok, err = child.Local("audio")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = child.Lookup("network")
	require.NoError(t, err)
	assert.False(t, ok)

	child.SetParent(nil)
	assert.Nil(t, child.Parent())
}

func TestResolverParentIsWeak(t *testing.T) {
	child := NewResolver("child")
	child.Seal()
	func() {
		parent := NewResolver("parent")
		parent.Seal()
		child.SetParent(parent)
		assert.NotNil(t, child.Parent())
	}()
	for range 10 {
		runtime.GC()
		if child.Parent() == nil {
			break
		}
	}
	assert.Nil(t, child.Parent(), "the child link must not keep the parent alive")
}

func TestExtractDependencies(t *testing.T) {
	a := newProbe("physics", nil)
	a.caps = []Capability{"physics", "collisions"}
	b := newProbe("ai", nil)
	set, err := NewRuleSet(a, b)
	require.NoError(t, err)

	r, err := ExtractDependencies("arena", set)
	require.NoError(t, err)
	assert.True(t, r.Sealed())
	v, ok, err := r.Local("collisions")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, a, v)

	b.caps = []Capability{"physics"}
	_, err = ExtractDependencies("arena", set)
	assert.ErrorIs(t, err, ErrAmbiguousCapability)
}

func TestInjectRule(t *testing.T) {
	physics := &physicsRule{probeRule: probeRule{kind: "physics", caps: []Capability{"physics"}}}
	set, err := NewRuleSet(physics)
	require.NoError(t, err)
	module, err := ExtractDependencies("arena", set)
	require.NoError(t, err)

	service := NewResolver("service")
	require.NoError(t, service.Register("score", "scoreboard"))
	service.Seal()

	parent := NewResolver("parent")
	require.NoError(t, parent.Register("audio", "mixer"))
	parent.Seal()
	module.SetParent(parent)

	t.Run("resolves from every scope", func(t *testing.T) {
		var api physicsAPI
		var score, audio string
		var missing any = "stale"
		r := newProbe("ai", nil)
		r.deps = []Dependency{
			Require("physics", &api),
			Require("score", &score),
			Require("audio", &audio),
			Optional("network", &missing),
		}
		require.NoError(t, InjectRule(r, service, module))
		assert.InDelta(t, 9.81, api.Gravity(), 0.001)
		assert.Equal(t, "scoreboard", score)
		assert.Equal(t, "mixer", audio)
		assert.Nil(t, missing, "unresolved optional slots are cleared")
	})

	t.Run("module scope shadows the service scope", func(t *testing.T) {
		shadow := NewResolver("service")
		require.NoError(t, shadow.Register("physics", "remote"))
		shadow.Seal()
		var got any
		r := newProbe("ai", nil)
		r.deps = []Dependency{Require("physics", &got)}
		require.NoError(t, InjectRule(r, shadow, module))
		assert.Same(t, physics, got)
	})

	t.Run("missing required", func(t *testing.T) {
		var v any
		r := newProbe("ai", nil)
		r.deps = []Dependency{Require("network", &v)}
		assert.ErrorIs(t, InjectRule(r, service, module), ErrRequiredDependencyMissing)
	})

	t.Run("wrong type", func(t *testing.T) {
		var n int
		r := newProbe("ai", nil)
		r.deps = []Dependency{Require("score", &n)}
		assert.ErrorIs(t, InjectRule(r, service, module), ErrDependencyWrongType)
	})

	t.Run("invalid slot", func(t *testing.T) {
		r := newProbe("ai", nil)
		r.deps = []Dependency{Require[int]("score", nil)}
		assert.ErrorIs(t, InjectRule(r, service, module), ErrDependencySlotInvalid)
	})

	t.Run("rules without dependencies", func(t *testing.T) {
		assert.NoError(t, InjectDependencies(set, nil, module))
	})
}
