// Package driver runs a root orchestrator at a fixed frame rate on its own
// goroutine. Other goroutines (HTTP handlers, file watchers, cron entries)
// never touch the orchestrator directly; they submit commands that the frame
// loop applies between frames.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/ruleflow"
	"github.com/robfig/cron/v3"
)

var (
	ErrStopped          = errors.New("driver: orchestrator stopped")
	ErrNotRunning       = errors.New("driver: not running")
	ErrAlreadyRunning   = errors.New("driver: already running")
	ErrUnknownOp        = errors.New("driver: unknown operation")
	ErrUnknownSetup     = errors.New("driver: unknown setup")
	ErrUnknownTarget    = errors.New("driver: unknown orchestrator")
	ErrCommandQueueFull = errors.New("driver: command queue full")
)

// Op names an operation a Command performs.
type Op string

const (
	OpLoad        Op = "load"
	OpSwitch      Op = "switch"
	OpUnload      Op = "unload"
	OpReload      Op = "reload"
	OpPause       Op = "pause"
	OpRestart     Op = "restart"
	OpAddChild    Op = "add-child"
	OpRemoveChild Op = "remove-child"
	OpQuit        Op = "quit"
)

// Command is an operation on one orchestrator of the tree.
type Command struct {
	Op Op `json:"op"`

	// Target is the slash-separated category path below the root, such as
	// "hud" or "hud/minimap". Empty targets the root.
	Target string `json:"target,omitempty"`

	// Setup names a catalog setup for load and switch.
	Setup  string          `json:"setup,omitempty"`
	Config ruleflow.Config `json:"config,omitempty"`

	// Child is the category added or removed by add-child and remove-child.
	Child string `json:"child,omitempty"`
}

type request struct {
	fn    func(root *ruleflow.Orchestrator) error
	reply chan error
}

// Driver owns the frame loop.
type Driver struct {
	root     *ruleflow.Orchestrator
	catalog  *ruleflow.Catalog
	logger   ruleflow.Logger
	interval time.Duration
	limit    uint64
	onFrame  func(time.Duration)

	requests chan request
	cron     *cron.Cron
	running  atomic.Bool
	mu       sync.Mutex
	done     chan struct{} // closed when the current Run stops serving requests
	frames   atomic.Uint64
	snapshot atomic.Pointer[ruleflow.Snapshot]
	quitOnce sync.Once
}

// Option configures a Driver.
type Option func(*Driver)

// WithFPS sets the frame rate. Zero runs frames back to back.
func WithFPS(fps int) Option {
	return func(d *Driver) {
		if fps > 0 {
			d.interval = time.Second / time.Duration(fps)
		} else {
			d.interval = 0
		}
	}
}

// WithMaxFrames ends Run after n frames. Zero runs until cancelled.
func WithMaxFrames(n uint64) Option {
	return func(d *Driver) { d.limit = n }
}

// WithLogger sets the logger.
func WithLogger(logger ruleflow.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithFrameObserver is called with the duration of every frame.
func WithFrameObserver(fn func(time.Duration)) Option {
	return func(d *Driver) { d.onFrame = fn }
}

// WithQueueSize sets how many commands may wait for the next frame.
func WithQueueSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.requests = make(chan request, n)
		}
	}
}

// New creates a driver for root. Setups named by commands are looked up in catalog.
func New(root *ruleflow.Orchestrator, catalog *ruleflow.Catalog, opts ...Option) *Driver {
	d := &Driver{
		root:     root,
		catalog:  catalog,
		logger:   ruleflow.NopLogger{},
		interval: time.Second / 60,
		requests: make(chan request, 64),
		cron:     cron.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	snap := root.Snapshot()
	d.snapshot.Store(&snap)
	return d
}

// Run drives the orchestrator until ctx is done, a quit command arrives, the
// frame limit is reached or a Stop reaction reaches the root. The tree is
// quit before Run returns. A Stop reaction is reported as ErrStopped.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	d.done = done
	d.running.Store(true)
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.done = nil
		d.running.Store(false)
		d.mu.Unlock()
	}()

	d.cron.Start()
	defer func() { <-d.cron.Stop().Done() }()

	d.logger.Info("Frame loop started", "orchestrator", d.root.Category(), "interval", d.interval, "maxFrames", d.limit)
	defer d.drain()
	defer close(done)

	var tick <-chan time.Time
	if d.interval > 0 {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return d.finish(nil)
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return d.finish(nil)
		}

		d.applyRequests()
		if d.root.Stopped() {
			return d.finish(d.stopError())
		}
		d.frame()
		if d.root.Stopped() {
			return d.finish(d.stopError())
		}
		if d.limit > 0 && d.frames.Load() >= d.limit {
			return d.finish(nil)
		}
	}
}

func (d *Driver) frame() {
	started := time.Now()
	d.root.Update()
	elapsed := time.Since(started)
	d.frames.Add(1)
	snap := d.root.Snapshot()
	d.snapshot.Store(&snap)
	if d.onFrame != nil {
		d.onFrame(elapsed)
	}
}

func (d *Driver) stopError() error {
	if err := d.root.StopError(); err != nil {
		return fmt.Errorf("%w: %w", ErrStopped, err)
	}
	return nil
}

func (d *Driver) finish(err error) error {
	d.quitOnce.Do(d.root.Quit)
	snap := d.root.Snapshot()
	d.snapshot.Store(&snap)
	d.logger.Info("Frame loop ended", "orchestrator", d.root.Category(), "frames", d.frames.Load(), "error", err)
	return err
}

func (d *Driver) applyRequests() {
	for {
		select {
		case req := <-d.requests:
			err := req.fn(d.root)
			if req.reply != nil {
				req.reply <- err
			}
		default:
			return
		}
	}
}

// drain answers requests that arrived after the loop ended.
func (d *Driver) drain() {
	for {
		select {
		case req := <-d.requests:
			if req.reply != nil {
				req.reply <- ErrNotRunning
			}
		default:
			return
		}
	}
}

// Do runs fn on the frame goroutine before the next frame and returns its error.
func (d *Driver) Do(ctx context.Context, fn func(root *ruleflow.Orchestrator) error) error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case d.requests <- req:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-done:
		// The loop may have answered on its last pass.
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit applies cmd before the next frame and returns the orchestrator's answer.
func (d *Driver) Submit(ctx context.Context, cmd Command) error {
	return d.Do(ctx, func(root *ruleflow.Orchestrator) error { return d.apply(root, cmd) })
}

// Post queues cmd without waiting. Failures are logged.
func (d *Driver) Post(cmd Command) error {
	req := request{fn: func(root *ruleflow.Orchestrator) error {
		if err := d.apply(root, cmd); err != nil {
			d.logger.Error("Posted command failed", "op", cmd.Op, "target", cmd.Target, "error", err)
		}
		return nil
	}}
	select {
	case d.requests <- req:
		return nil
	default:
		d.logger.Warn("Command queue full, dropping command", "op", cmd.Op, "target", cmd.Target)
		return ErrCommandQueueFull
	}
}

// Schedule posts cmd on a standard five-field cron schedule.
func (d *Driver) Schedule(spec string, cmd Command) (cron.EntryID, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return 0, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	id, err := d.cron.AddFunc(spec, func() {
		d.logger.Debug("Scheduled command fired", "schedule", spec, "op", cmd.Op, "target", cmd.Target)
		_ = d.Post(cmd)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", cmd.Op, err)
	}
	return id, nil
}

// Unschedule removes a scheduled command.
func (d *Driver) Unschedule(id cron.EntryID) { d.cron.Remove(id) }

// Scheduled returns how many scheduled commands are registered.
func (d *Driver) Scheduled() int { return len(d.cron.Entries()) }

// Snapshot returns the state published after the last frame.
func (d *Driver) Snapshot() ruleflow.Snapshot { return *d.snapshot.Load() }

// Frames returns how many frames have run.
func (d *Driver) Frames() uint64 { return d.frames.Load() }

// Running reports whether Run is active.
func (d *Driver) Running() bool { return d.running.Load() }

func (d *Driver) apply(root *ruleflow.Orchestrator, cmd Command) error {
	if cmd.Op == OpQuit {
		d.quitOnce.Do(root.Quit)
		return nil
	}
	o, err := findTarget(root, cmd.Target)
	if err != nil {
		return err
	}
	switch cmd.Op {
	case OpLoad, OpSwitch:
		setup, ok := d.catalog.Setup(cmd.Setup)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSetup, cmd.Setup)
		}
		if cmd.Op == OpLoad {
			return o.LoadModule(setup, cmd.Config)
		}
		return o.SwitchToModule(setup, cmd.Config)
	case OpUnload:
		return o.UnloadModule()
	case OpReload:
		return o.ReloadModule()
	case OpPause:
		o.Pause()
		return nil
	case OpRestart:
		o.Restart()
		return nil
	case OpAddChild:
		_, err := o.AddChild(cmd.Child)
		return err
	case OpRemoveChild:
		return o.RemoveChild(cmd.Child)
	}
	return fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
}

func findTarget(root *ruleflow.Orchestrator, path string) (*ruleflow.Orchestrator, error) {
	o := root
	for part := range strings.SplitSeq(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		child, ok := o.Child(part)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, path)
		}
		o = child
	}
	return o, nil
}
