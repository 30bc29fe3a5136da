package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/GoCodeAlone/ruleflow"
	"github.com/GoCodeAlone/ruleflow/internal/debugserver"
	"github.com/GoCodeAlone/ruleflow/internal/driver"
	"github.com/GoCodeAlone/ruleflow/internal/platform/metrics"
	"github.com/GoCodeAlone/ruleflow/internal/reload"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := defaultRunOptions()
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Drive a setup from descriptor files",
		Long: `Run loads the descriptor files, loads a setup into the root orchestrator and
drives it frame by frame until interrupted, a quit command arrives, the frame
limit is reached or a rule failure stops the tree.

Settings can also come from the environment (RULEFLOW_LOG_LEVEL, RULEFLOW_FPS,
RULEFLOW_SETUP, ...) or a .env file; flags win.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.applyEnv(cmd.Flags()); err != nil {
				return err
			}
			return runSetups(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "log format (console or json)")
	flags.IntVar(&opts.FPS, "fps", opts.FPS, "frames per second; 0 runs frames back to back")
	flags.Uint64Var(&opts.Frames, "frames", opts.Frames, "stop after this many frames; 0 runs until interrupted")
	flags.StringVarP(&opts.Setup, "setup", "s", opts.Setup, "setup to load first (default: first declared)")
	flags.BoolVarP(&opts.Watch, "watch", "w", opts.Watch, "switch to updated setups when descriptor files change")
	flags.BoolVar(&opts.Trace, "trace", opts.Trace, "print every lifecycle event")
	flags.StringVar(&opts.DebugAddr, "debug-addr", opts.DebugAddr, "serve status, metrics and operations on this address")
	flags.StringVar(&opts.EnvPrefix, "env-prefix", opts.EnvPrefix, "prefix of environment settings")
	flags.StringVar(&opts.EnvFile, "env-file", opts.EnvFile, "read settings from this .env file")
	flags.StringArrayVar(&opts.Schedules, "schedule", nil, `cron-scheduled operation "SPEC|OP[:SETUP]", e.g. "@every 30s|reload"`)
	return cmd
}

func runSetups(cmd *cobra.Command, paths []string, opts runOptions) error {
	zl, err := newLogger(opts.LogLevel, opts.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zapLogger{s: zl.Sugar()}

	catalog, setups, err := loadCatalog(paths)
	if err != nil {
		return err
	}
	var initial ruleflow.Setup = setups[0]
	if opts.Setup != "" {
		s, ok := catalog.Setup(opts.Setup)
		if !ok {
			return fmt.Errorf("%w: %s", driver.ErrUnknownSetup, opts.Setup)
		}
		initial = s
	}

	bus := ruleflow.NewEventBus(logger)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry, "")
	if err := bus.RegisterObserver(collector); err != nil {
		return err
	}
	if opts.Trace {
		if err := bus.RegisterObserver(newTracer(cmd.OutOrStdout())); err != nil {
			return err
		}
	}

	root := ruleflow.NewOrchestrator("root", ruleflow.WithLogger(logger), ruleflow.WithSubject(bus))
	if err := root.LoadModule(initial, nil); err != nil {
		return err
	}

	d := driver.New(root, catalog,
		driver.WithFPS(opts.FPS),
		driver.WithMaxFrames(opts.Frames),
		driver.WithLogger(logger),
		driver.WithFrameObserver(collector.ObserveFrame),
	)
	for _, s := range opts.Schedules {
		spec, c, err := parseSchedule(s)
		if err != nil {
			return err
		}
		if _, err := d.Schedule(spec, c); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.Watch {
		w, err := reload.NewWatcher(func(path string) {
			hotReload(ctx, d, catalog, path, logger)
		}, reload.WithLogger(logger))
		if err != nil {
			return err
		}
		for _, p := range paths {
			if err := w.Add(p); err != nil {
				return err
			}
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
	}

	var wg sync.WaitGroup
	if opts.DebugAddr != "" {
		srv := debugserver.New(d, catalog, registry, logger)
		wg.Go(func() {
			if err := srv.ListenAndServe(ctx, opts.DebugAddr); err != nil {
				logger.Error("Debug server failed", "addr", opts.DebugAddr, "error", err)
			}
		})
	}

	runErr := d.Run(ctx)
	cancel()
	wg.Wait()

	printSummary(cmd.OutOrStdout(), d.Frames(), d.Snapshot())
	return runErr
}

// hotReload re-reads a changed descriptor file into the catalog and switches
// the root to the new version of its current setup, if the file declares it.
func hotReload(ctx context.Context, d *driver.Driver, catalog *ruleflow.Catalog, path string, logger ruleflow.Logger) {
	descriptors, err := ruleflow.LoadDescriptorFile(path)
	if err != nil {
		logger.Error("Descriptor reload failed", "file", path, "error", err)
		return
	}
	err = d.Do(ctx, func(root *ruleflow.Orchestrator) error {
		updated := catalog.AddDescriptors(descriptors...)
		current := root.Module()
		if current == nil {
			return nil
		}
		for _, s := range updated {
			if s.Name() == current.Name() {
				return root.SwitchToModule(s, current.Config())
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, driver.ErrNotRunning), errors.Is(err, context.Canceled):
	case err != nil:
		logger.Error("Descriptor reload rejected", "file", path, "error", err)
	default:
		logger.Info("Descriptors reloaded", "file", path, "setups", len(descriptors))
	}
}

func newTracer(out io.Writer) ruleflow.Observer {
	return ruleflow.NewFunctionalObserver("ruleflow-trace", func(_ context.Context, e cloudevents.Event) error {
		_, err := fmt.Fprintf(out, "%s %s %s\n", e.Source(), e.Type(), e.Data())
		return err
	})
}

func printSummary(out io.Writer, frames uint64, snap ruleflow.Snapshot) {
	module := "-"
	if snap.Module != nil {
		module = snap.Module.Name + " (" + snap.Module.Phase + ")"
	}
	fmt.Fprintf(out, "ran %d frames: %s %s, module %s\n", frames, snap.Category, snap.State, module)
}
