package ruleflow

// Snapshot is a point-in-time view of an orchestrator subtree, suitable for
// JSON encoding.
type Snapshot struct {
	Category   string          `json:"category"`
	State      string          `json:"state"`
	Frame      uint64          `json:"frame"`
	Module     *ModuleSnapshot `json:"module,omitempty"`
	Transition string          `json:"transition,omitempty"`
	Progress   float64         `json:"progress"`
	Action     string          `json:"action,omitempty"`
	Pending    int             `json:"pending"`
	Paused     bool            `json:"paused"`
	Stopped    bool            `json:"stopped"`
	Children   []Snapshot      `json:"children,omitempty"`
}

// ModuleSnapshot is a point-in-time view of a module.
type ModuleSnapshot struct {
	Name      string         `json:"name"`
	Phase     string         `json:"phase"`
	Progress  float64        `json:"progress"`
	Frame     uint64         `json:"frame"`
	Loads     int            `json:"loads"`
	Paused    bool           `json:"paused"`
	Stopped   bool           `json:"stopped"`
	Faulted   bool           `json:"faulted"`
	Rules     []RuleSnapshot `json:"rules,omitempty"`
	LastError string         `json:"lastError,omitempty"`
}

// RuleSnapshot is the lifecycle state of one rule.
type RuleSnapshot struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// Snapshot returns the module's current state.
func (m *Module) Snapshot() ModuleSnapshot {
	s := ModuleSnapshot{
		Name:     m.Name(),
		Phase:    m.phase.String(),
		Progress: m.progress,
		Frame:    m.frame,
		Loads:    m.loads,
		Paused:   m.paused,
		Stopped:  m.stopped,
		Faulted:  m.faulted,
	}
	if m.rules != nil {
		for _, r := range m.rules.Rules() {
			s.Rules = append(s.Rules, RuleSnapshot{Type: string(r.Type()), State: r.State().String()})
		}
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Snapshot returns the state of the orchestrator and its children.
func (o *Orchestrator) Snapshot() Snapshot {
	s := Snapshot{
		Category: o.category,
		State:    o.state.String(),
		Frame:    o.frame,
		Pending:  len(o.pending),
		Paused:   o.paused,
		Stopped:  o.Stopped(),
	}
	if o.module != nil {
		ms := o.module.Snapshot()
		s.Module = &ms
		s.Progress = ms.Progress
	}
	if o.transition != nil {
		s.Transition = o.transition.State().String()
		s.Progress = o.transition.Progress()
	}
	if o.action != nil {
		s.Action = o.action.op.kind.String()
	}
	for _, c := range o.children {
		s.Children = append(s.Children, c.Snapshot())
	}
	return s
}
