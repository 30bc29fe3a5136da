// Package lifecycle defines the vocabulary of lifecycle events emitted by
// modules and orchestrators, and the payloads carried in their data.
//
// Events are CloudEvents. Their type is one of the EventType constants below
// and their data is the JSON encoding of the matching payload struct.
package lifecycle

// Source prefixes for the CloudEvent source attribute.
const (
	SourceModule       = "ruleflow/module/"
	SourceOrchestrator = "ruleflow/orchestrator/"
)

// Module events
const (
	EventTypeModuleLoading      = "com.ruleflow.module.loading"
	EventTypeModulePhaseChanged = "com.ruleflow.module.phase.changed"
	EventTypeModuleLoaded       = "com.ruleflow.module.loaded"
	EventTypeModuleUnloaded     = "com.ruleflow.module.unloaded"
	EventTypeModuleFailed       = "com.ruleflow.module.failed"
	EventTypeModuleStallWarning = "com.ruleflow.module.stall.warning"
	EventTypeModulePaused       = "com.ruleflow.module.paused"
	EventTypeModuleRestarted    = "com.ruleflow.module.restarted"
	EventTypeModuleQuit         = "com.ruleflow.module.quit"
)

// Orchestrator events
const (
	EventTypeStateChanged         = "com.ruleflow.orchestrator.state.changed"
	EventTypeOperationQueued      = "com.ruleflow.orchestrator.operation.queued"
	EventTypeOperationRejected    = "com.ruleflow.orchestrator.operation.rejected"
	EventTypeOrchestratorStopped  = "com.ruleflow.orchestrator.stopped"
	EventTypeTransitionSuperseded = "com.ruleflow.orchestrator.transition.superseded"
	EventTypeChildAdded           = "com.ruleflow.orchestrator.child.added"
	EventTypeChildRemoved         = "com.ruleflow.orchestrator.child.removed"
	EventTypeOrchestratorQuit     = "com.ruleflow.orchestrator.quit"
)

// PhaseChanged is the data of EventTypeModulePhaseChanged.
type PhaseChanged struct {
	Module string `json:"module"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ModuleStatus is the data of module loading, loaded, unloaded, paused,
// restarted and quit events.
type ModuleStatus struct {
	Module   string  `json:"module"`
	Phase    string  `json:"phase"`
	Progress float64 `json:"progress"`
}

// ModuleFailed is the data of EventTypeModuleFailed.
type ModuleFailed struct {
	Module   string `json:"module"`
	Phase    string `json:"phase"`
	Rule     string `json:"rule,omitempty"`
	Kind     string `json:"kind"`
	Reaction string `json:"reaction"`
	Error    string `json:"error"`
}

// StallWarning is the data of EventTypeModuleStallWarning.
type StallWarning struct {
	Module    string `json:"module"`
	Phase     string `json:"phase"`
	Subject   string `json:"subject"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	ElapsedMs int64  `json:"elapsedMs"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// StateChanged is the data of EventTypeStateChanged and EventTypeOrchestratorQuit.
type StateChanged struct {
	Category string `json:"category"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Operation is the data of queued and rejected operation events.
type Operation struct {
	Category  string `json:"category"`
	Operation string `json:"operation"`
	Setup     string `json:"setup,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Stopped is the data of EventTypeOrchestratorStopped.
type Stopped struct {
	Category string `json:"category"`
	Origin   string `json:"origin"`
	Error    string `json:"error,omitempty"`
}

// Child is the data of child added and removed events.
type Child struct {
	Parent   string `json:"parent"`
	Category string `json:"category"`
}
