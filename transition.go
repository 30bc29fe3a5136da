package ruleflow

// TransitionState is the state of a Transition.
type TransitionState int

const (
	TransitionInactive TransitionState = iota
	TransitionStarting
	TransitionActive
	TransitionStopping
)

// String returns the string representation of the transition state.
func (s TransitionState) String() string {
	switch s {
	case TransitionInactive:
		return "inactive"
	case TransitionStarting:
		return "starting"
	case TransitionActive:
		return "active"
	case TransitionStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transition is the visual or loading sequence an orchestrator runs around a
// module operation, typically a fade or a loading screen.
//
// Start moves it to Starting; it reports readiness by reaching Active. Stop
// moves it to Stopping; it is finished when it is Inactive again. Skip jumps
// to the end of whichever phase is running. Update is called once per frame
// while the orchestrator drives it.
type Transition interface {
	Start()
	Stop()
	Update()
	Skip()
	State() TransitionState
	Progress() float64
	SetProgress(p float64)
}

// NullTransition completes its start and stop phases instantly.
type NullTransition struct {
	state    TransitionState
	progress float64
}

// NewNullTransition returns an inactive NullTransition.
func NewNullTransition() *NullTransition { return &NullTransition{} }

func (t *NullTransition) Start() {
	t.state = TransitionActive
	t.progress = 0
}

func (t *NullTransition) Stop()                  { t.state = TransitionInactive }
func (t *NullTransition) Update()                {}
func (t *NullTransition) Skip()                  { t.Stop() }
func (t *NullTransition) State() TransitionState { return t.state }
func (t *NullTransition) Progress() float64      { return t.progress }
func (t *NullTransition) SetProgress(p float64)  { t.progress = clamp01(p) }

// TimedTransition spends a fixed number of frames in each of its start and
// stop phases. Starts counts how many times a start phase has begun.
type TimedTransition struct {
	StartFrames int
	StopFrames  int
	Starts      int
	Stops       int

	state     TransitionState
	remaining int
	progress  float64
}

// NewTimedTransition returns a transition that takes startFrames frames to
// start and stopFrames frames to stop.
func NewTimedTransition(startFrames, stopFrames int) *TimedTransition {
	return &TimedTransition{StartFrames: startFrames, StopFrames: stopFrames}
}

func (t *TimedTransition) Start() {
	t.Starts++
	t.progress = 0
	t.remaining = t.StartFrames
	t.state = TransitionStarting
	if t.remaining <= 0 {
		t.state = TransitionActive
	}
}

func (t *TimedTransition) Stop() {
	t.Stops++
	t.remaining = t.StopFrames
	t.state = TransitionStopping
	if t.remaining <= 0 {
		t.state = TransitionInactive
	}
}

func (t *TimedTransition) Update() {
	if t.state != TransitionStarting && t.state != TransitionStopping {
		return
	}
	t.remaining--
	if t.remaining > 0 {
		return
	}
	if t.state == TransitionStarting {
		t.state = TransitionActive
	} else {
		t.state = TransitionInactive
	}
}

func (t *TimedTransition) Skip() {
	switch t.state {
	case TransitionStarting:
		t.state = TransitionActive
	case TransitionStopping:
		t.state = TransitionInactive
	}
	t.remaining = 0
}

func (t *TimedTransition) State() TransitionState { return t.state }
func (t *TimedTransition) Progress() float64      { return t.progress }
func (t *TimedTransition) SetProgress(p float64)  { t.progress = clamp01(p) }

func clamp01(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
