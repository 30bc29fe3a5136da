package ruleflow

// Task is a specialized one-shot job run during PreInitialize or PostUnload,
// such as warming a cache before rules start or flushing state after they stop.
//
// The module calls Initialize once, then Update once per unit of work until it
// reports done, then Unload once.
type Task interface {
	Name() string
	Initialize() error
	Update() (done bool, err error)
	Unload() error
	// Progress reports completion in [0,1]. It feeds the module's loading progress.
	Progress() float64
}

// TaskFunc is a Task whose work is a single function call.
type TaskFunc struct {
	TaskName string
	Run      func() error
	done     bool
}

// NewTaskFunc wraps fn as a single-step task.
func NewTaskFunc(name string, fn func() error) *TaskFunc {
	return &TaskFunc{TaskName: name, Run: fn}
}

func (t *TaskFunc) Name() string      { return t.TaskName }
func (t *TaskFunc) Initialize() error { return nil }
func (t *TaskFunc) Unload() error     { return nil }

func (t *TaskFunc) Update() (bool, error) {
	if t.Run != nil {
		if err := t.Run(); err != nil {
			return false, err
		}
	}
	t.done = true
	return true, nil
}

func (t *TaskFunc) Progress() float64 {
	if t.done {
		return 1
	}
	return 0
}
