package ruleflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseReaction(t *testing.T) {
	for _, name := range []string{"unload", "reload", "pause", "stop", "switch-to-fallback"} {
		r, err := ParseReaction(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, r.String())
	}

	r, err := ParseReaction(" Switch_To_Fallback ")
	require.NoError(t, err)
	assert.Equal(t, ReactionSwitchToFallback, r)

	_, err = ParseReaction("explode")
	assert.ErrorIs(t, err, ErrInvalidReaction)
	assert.Equal(t, "unknown", Reaction(99).String())
}

func TestReactionText(t *testing.T) {
	var policy ExceptionPolicy
	err := yaml.Unmarshal([]byte("reaction_during_load: reload\nreaction_during_update: pause\nreaction_during_unload: stop\n"), &policy)
	require.NoError(t, err)
	assert.Equal(t, ReactionReload, policy.ReactionDuringLoad)
	assert.Equal(t, ReactionPause, policy.ReactionDuringUpdate)
	assert.Equal(t, ReactionStop, policy.ReactionDuringUnload)

	out, err := json.Marshal(struct{ R Reaction }{ReactionSwitchToFallback})
	require.NoError(t, err)
	assert.JSONEq(t, `{"R":"switch-to-fallback"}`, string(out))

	_, err = json.Marshal(struct{ R Reaction }{Reaction(42)})
	assert.Error(t, err)
}

func TestExceptionPolicy(t *testing.T) {
	def := DefaultExceptionPolicy()
	require.NoError(t, def.Validate())
	assert.True(t, def.SkipUnloadIfException)
	for _, c := range []PhaseCategory{CategoryLoad, CategoryUpdate, CategoryUnload} {
		assert.Equal(t, ReactionUnload, def.ReactionFor(c))
	}

	p := ExceptionPolicy{ReactionDuringLoad: ReactionReload, ReactionDuringUpdate: ReactionPause, ReactionDuringUnload: ReactionStop}
	assert.Equal(t, ReactionReload, p.ReactionFor(CategoryLoad))
	assert.Equal(t, ReactionPause, p.ReactionFor(CategoryUpdate))
	assert.Equal(t, ReactionStop, p.ReactionFor(CategoryUnload))

	p.ReactionDuringUpdate = ReactionSwitchToFallback
	assert.ErrorIs(t, p.Validate(), ErrNoFallbackConfigured)
	p.Fallback = NewSetup("safe-mode", nil)
	assert.NoError(t, p.Validate())

	p.ReactionDuringLoad = Reaction(-1)
	assert.ErrorIs(t, p.Validate(), ErrInvalidReaction)
}

func TestPerformancePolicy(t *testing.T) {
	def := DefaultPerformancePolicy()
	require.NoError(t, def.Validate())
	assert.Equal(t, def.InitStallingTimeout, def.StallingTimeout(CategoryLoad))
	assert.Equal(t, def.UpdateStallingTimeout, def.StallingTimeout(CategoryUpdate))
	assert.Equal(t, def.UnloadStallingTimeout, def.StallingTimeout(CategoryUnload))

	def.CheckStalling = false
	assert.Zero(t, def.StallingTimeout(CategoryUpdate))

	assert.ErrorIs(t, PerformancePolicy{MaxFrameDuration: -time.Second}.Validate(), ErrInvalidPerformance)
	assert.ErrorIs(t, PerformancePolicy{UpdateStallingTimeout: -1}.Validate(), ErrInvalidPerformance)
	assert.ErrorIs(t, PerformancePolicy{NbWarningsBeforeException: -1}.Validate(), ErrInvalidPerformance)
	assert.NoError(t, PerformancePolicy{}.Validate(), "zero values disable budgets and stall checks")
}

func TestPhaseCategories(t *testing.T) {
	load := []Phase{PhaseStart, PhaseConfigure, PhaseInjectDependencies, PhasePreInitialize, PhaseInitializeRules}
	for _, p := range load {
		assert.Equal(t, CategoryLoad, p.Category(), p.String())
	}
	assert.Equal(t, CategoryUpdate, PhaseUpdateRules.Category())
	for _, p := range []Phase{PhaseUnloadRules, PhasePostUnload, PhaseEnd} {
		assert.Equal(t, CategoryUnload, p.Category(), p.String())
	}
	assert.Len(t, AllPhases(), 9)
	assert.Equal(t, "unknown", Phase(99).String())
}
