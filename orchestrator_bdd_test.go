package ruleflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/GoCodeAlone/ruleflow/lifecycle"
	"github.com/cucumber/godog"
)

var (
	errUnknownScenarioSetup = errors.New("setup was not declared in the scenario")
	errUnexpectedState      = errors.New("unexpected orchestrator state")
	errUnexpectedModule     = errors.New("unexpected loaded module")
	errUnexpectedJournal    = errors.New("unexpected journal")
	errUnexpectedCount      = errors.New("unexpected count")
	errNotStopped           = errors.New("orchestrator is not stopped")
)

// scenarioSetup is a probe setup whose failure behaviour is decided by the
// scenario after it is declared.
type scenarioSetup struct {
	*probeSetup
	failRule RuleType
	reaction Reaction
	fallback Setup
}

type orchestratorBDDContext struct {
	orchestrator *Orchestrator
	recorder     *lifecycle.Recorder
	log          *journal
	setups       map[string]*scenarioSetup
}

func (c *orchestratorBDDContext) reset() {
	c.orchestrator = nil
	c.recorder = nil
	c.log = &journal{}
	c.setups = make(map[string]*scenarioSetup)
}

func (c *orchestratorBDDContext) anOrchestrator(category string) error {
	bus := NewEventBus(nil)
	c.recorder = lifecycle.NewRecorder("bdd", 0)
	if err := bus.RegisterObserver(c.recorder); err != nil {
		return err
	}
	c.orchestrator = NewOrchestrator(category, WithClock(fakeClock()), WithSubject(bus))
	return nil
}

func (c *orchestratorBDDContext) aSetupWithRules(name, rules string) error {
	var types []RuleType
	for _, r := range splitList(rules) {
		types = append(types, RuleType(r))
	}
	s := &scenarioSetup{}
	s.probeSetup = newProbeSetup(name, c.log, types, func(bp *Blueprint, built []*probeRule) {
		if s.failRule == "" {
			return
		}
		p := DefaultExceptionPolicy()
		p.ReactionDuringUpdate = s.reaction
		p.Fallback = s.fallback
		bp.ExceptionPolicy = &p
		if len(s.built) > 0 {
			return
		}
		for _, r := range built {
			if r.kind == s.failRule {
				r.updateErr = errUpdateBoom
			}
		}
	})
	c.setups[name] = s
	return nil
}

func (c *orchestratorBDDContext) setup(name string) (*scenarioSetup, error) {
	s, ok := c.setups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownScenarioSetup, name)
	}
	return s, nil
}

func (c *orchestratorBDDContext) ruleFailsOnFirstUpdate(rule, name, reaction string) error {
	s, err := c.setup(name)
	if err != nil {
		return err
	}
	r, err := ParseReaction(reaction)
	if err != nil {
		return err
	}
	s.failRule = RuleType(rule)
	s.reaction = r
	return nil
}

func (c *orchestratorBDDContext) setupFallsBackTo(name, fallback string) error {
	s, err := c.setup(name)
	if err != nil {
		return err
	}
	f, err := c.setup(fallback)
	if err != nil {
		return err
	}
	s.fallback = f
	return nil
}

func (c *orchestratorBDDContext) iLoad(name string) error {
	s, err := c.setup(name)
	if err != nil {
		return err
	}
	return c.orchestrator.LoadModule(s, nil)
}

func (c *orchestratorBDDContext) iSwitchTo(name string) error {
	s, err := c.setup(name)
	if err != nil {
		return err
	}
	return c.orchestrator.SwitchToModule(s, nil)
}

func (c *orchestratorBDDContext) iUnloadTheModule() error {
	return c.orchestrator.UnloadModule()
}

func (c *orchestratorBDDContext) framesPass(n int) error {
	step(c.orchestrator, n)
	return nil
}

func (c *orchestratorBDDContext) theOrchestratorShouldBe(state string) error {
	if got := c.orchestrator.State().String(); got != state {
		return fmt.Errorf("%w: got %s, want %s", errUnexpectedState, got, state)
	}
	return nil
}

func (c *orchestratorBDDContext) theLoadedModuleShouldBe(name string) error {
	m := c.orchestrator.Module()
	if m == nil || !m.Loaded() || m.Name() != name {
		return fmt.Errorf("%w: got %q, want %q loaded", errUnexpectedModule, moduleName(c.orchestrator), name)
	}
	return nil
}

func (c *orchestratorBDDContext) noModuleShouldBeLoaded() error {
	if m := c.orchestrator.Module(); m != nil {
		return fmt.Errorf("%w: %s", errUnexpectedModule, m.Name())
	}
	return nil
}

// theJournalShouldRead compares and then clears the journal, so later steps
// only see what happened after this one.
func (c *orchestratorBDDContext) theJournalShouldRead(entries string) error {
	want := splitList(entries)
	got := c.log.entries
	c.log.entries = nil
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: got %v, want %v", errUnexpectedJournal, got, want)
	}
	return nil
}

func (c *orchestratorBDDContext) setupShouldHaveBeenBuilt(name string, n int) error {
	s, err := c.setup(name)
	if err != nil {
		return err
	}
	if len(s.built) != n {
		return fmt.Errorf("%w: %s built %d times, want %d", errUnexpectedCount, name, len(s.built), n)
	}
	return nil
}

func (c *orchestratorBDDContext) eventsShouldHaveBeenEmitted(n int, suffix string) error {
	eventType := "com.ruleflow." + suffix
	if got := c.recorder.Count(eventType); got != n {
		return fmt.Errorf("%w: %d %s events, want %d", errUnexpectedCount, got, eventType, n)
	}
	return nil
}

func (c *orchestratorBDDContext) theOrchestratorShouldBeStopped() error {
	if !c.orchestrator.Stopped() {
		return errNotStopped
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// InitializeOrchestratorScenario registers the orchestrator steps.
func InitializeOrchestratorScenario(ctx *godog.ScenarioContext) {
	c := &orchestratorBDDContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return ctx, nil
	})

	ctx.Step(`^an orchestrator "([^"]*)"$`, c.anOrchestrator)
	ctx.Step(`^a setup "([^"]*)" with rules "([^"]*)"$`, c.aSetupWithRules)
	ctx.Step(`^rule "([^"]*)" of setup "([^"]*)" fails on its first update with reaction "([^"]*)"$`, c.ruleFailsOnFirstUpdate)
	ctx.Step(`^setup "([^"]*)" falls back to "([^"]*)"$`, c.setupFallsBackTo)

	ctx.Step(`^I load "([^"]*)"$`, c.iLoad)
	ctx.Step(`^I switch to "([^"]*)"$`, c.iSwitchTo)
	ctx.Step(`^I unload the module$`, c.iUnloadTheModule)
	ctx.Step(`^(\d+) frames? pass(?:es)?$`, c.framesPass)

	ctx.Step(`^the orchestrator should be "([^"]*)"$`, c.theOrchestratorShouldBe)
	ctx.Step(`^the loaded module should be "([^"]*)"$`, c.theLoadedModuleShouldBe)
	ctx.Step(`^no module should be loaded$`, c.noModuleShouldBeLoaded)
	ctx.Step(`^the journal should read "([^"]*)"$`, c.theJournalShouldRead)
	ctx.Step(`^setup "([^"]*)" should have been built (\d+) times?$`, c.setupShouldHaveBeenBuilt)
	ctx.Step(`^(\d+) "([^"]*)" events? should have been emitted$`, c.eventsShouldHaveBeenEmitted)
	ctx.Step(`^the orchestrator should be stopped$`, c.theOrchestratorShouldBeStopped)
}

func TestOrchestratorFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeOrchestratorScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/orchestrator.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
