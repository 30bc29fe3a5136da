package cmd

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/ruleflow/feeders"
	"github.com/GoCodeAlone/ruleflow/internal/driver"
	"github.com/spf13/pflag"
)

// runOptions are the settings of the run command. Each field can come from
// PREFIX_NAME in the environment or a .env file; flags set on the command
// line win.
type runOptions struct {
	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
	FPS       int    `env:"FPS"`
	Frames    uint64 `env:"FRAMES"`
	Setup     string `env:"SETUP"`
	Watch     bool   `env:"WATCH"`
	Trace     bool   `env:"TRACE"`
	DebugAddr string `env:"DEBUG_ADDR"`

	EnvPrefix string
	EnvFile   string
	Schedules []string
}

func defaultRunOptions() runOptions {
	return runOptions{
		LogLevel:  "info",
		LogFormat: "console",
		FPS:       60,
		EnvPrefix: feeders.DefaultEnvPrefix,
	}
}

// applyEnv feeds the .env file, then the environment, into fields whose
// flags were not set explicitly.
func (o *runOptions) applyEnv(flags *pflag.FlagSet) error {
	env := runOptions{}
	sources := []feeders.Feeder{}
	if o.EnvFile != "" {
		sources = append(sources, feeders.NewDotEnvFeeder(o.EnvFile, o.EnvPrefix))
	}
	sources = append(sources, feeders.NewEnvFeeder(o.EnvPrefix))
	if err := feeders.Feed(&env, sources...); err != nil {
		return err
	}

	override := func(flag string, apply func()) {
		if !flags.Changed(flag) {
			apply()
		}
	}
	if env.LogLevel != "" {
		override("log-level", func() { o.LogLevel = env.LogLevel })
	}
	if env.LogFormat != "" {
		override("log-format", func() { o.LogFormat = env.LogFormat })
	}
	if env.FPS != 0 {
		override("fps", func() { o.FPS = env.FPS })
	}
	if env.Frames != 0 {
		override("frames", func() { o.Frames = env.Frames })
	}
	if env.Setup != "" {
		override("setup", func() { o.Setup = env.Setup })
	}
	if env.Watch {
		override("watch", func() { o.Watch = true })
	}
	if env.Trace {
		override("trace", func() { o.Trace = true })
	}
	if env.DebugAddr != "" {
		override("debug-addr", func() { o.DebugAddr = env.DebugAddr })
	}
	return nil
}

// parseSchedule reads "SPEC|OP" or "SPEC|OP:SETUP", e.g. "@every 30s|reload"
// or "0 * * * *|switch:arena".
func parseSchedule(s string) (string, driver.Command, error) {
	spec, action, ok := strings.Cut(s, "|")
	if !ok || strings.TrimSpace(spec) == "" || strings.TrimSpace(action) == "" {
		return "", driver.Command{}, fmt.Errorf("invalid schedule %q: want SPEC|OP[:SETUP]", s)
	}
	op, setup, _ := strings.Cut(strings.TrimSpace(action), ":")
	return strings.TrimSpace(spec), driver.Command{Op: driver.Op(op), Setup: setup}, nil
}
