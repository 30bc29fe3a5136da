package ruleflow

import (
	"fmt"
	"strings"
	"time"
)

// Reaction is the macro-operation an exception policy triggers on failure.
type Reaction int

const (
	// ReactionUnload unloads the failing module.
	ReactionUnload Reaction = iota
	// ReactionReload unloads the module and initializes it again from the same setup.
	ReactionReload
	// ReactionPause freezes the module until it is restarted.
	ReactionPause
	// ReactionStop signals termination to the root orchestrator.
	ReactionStop
	// ReactionSwitchToFallback unloads the module and loads the policy's fallback.
	ReactionSwitchToFallback
)

var reactionNames = map[Reaction]string{
	ReactionUnload:           "unload",
	ReactionReload:           "reload",
	ReactionPause:            "pause",
	ReactionStop:             "stop",
	ReactionSwitchToFallback: "switch-to-fallback",
}

// String returns the string representation of the reaction.
func (r Reaction) String() string {
	if s, ok := reactionNames[r]; ok {
		return s
	}
	return "unknown"
}

// ParseReaction parses a reaction name such as "unload" or "switch-to-fallback".
func ParseReaction(s string) (Reaction, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "_", "-")
	for r, name := range reactionNames {
		if name == key {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidReaction, s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Reaction) MarshalText() ([]byte, error) {
	if _, ok := reactionNames[r]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReaction, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so reactions can be read
// from YAML, TOML and environment values.
func (r *Reaction) UnmarshalText(text []byte) error {
	parsed, err := ParseReaction(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// PerformancePolicy bounds how much work a module does per frame and how long
// a rule may stay pending before it is considered stalled.
type PerformancePolicy struct {
	// MaxFrameDuration is the time budget for time-sliced phase work in a
	// single Update call. Zero means unbounded.
	MaxFrameDuration time.Duration `yaml:"max_frame_duration" toml:"max_frame_duration" json:"maxFrameDuration" env:"MAX_FRAME_DURATION"`

	// CheckStalling enables stall detection.
	CheckStalling bool `yaml:"check_stalling" toml:"check_stalling" json:"checkStalling" env:"CHECK_STALLING"`

	InitStallingTimeout   time.Duration `yaml:"init_stalling_timeout" toml:"init_stalling_timeout" json:"initStallingTimeout" env:"INIT_STALLING_TIMEOUT"`
	UpdateStallingTimeout time.Duration `yaml:"update_stalling_timeout" toml:"update_stalling_timeout" json:"updateStallingTimeout" env:"UPDATE_STALLING_TIMEOUT"`
	UnloadStallingTimeout time.Duration `yaml:"unload_stalling_timeout" toml:"unload_stalling_timeout" json:"unloadStallingTimeout" env:"UNLOAD_STALLING_TIMEOUT"`

	// NbWarningsBeforeException is how many consecutive stall warnings are
	// logged before the next breach becomes a fatal failure.
	NbWarningsBeforeException int `yaml:"nb_warnings_before_exception" toml:"nb_warnings_before_exception" json:"nbWarningsBeforeException" env:"NB_WARNINGS_BEFORE_EXCEPTION"`
}

// DefaultPerformancePolicy returns the policy used when a setup supplies none.
func DefaultPerformancePolicy() PerformancePolicy {
	return PerformancePolicy{
		MaxFrameDuration:          10 * time.Millisecond,
		CheckStalling:             true,
		InitStallingTimeout:       5 * time.Second,
		UpdateStallingTimeout:     100 * time.Millisecond,
		UnloadStallingTimeout:     5 * time.Second,
		NbWarningsBeforeException: 3,
	}
}

// Validate rejects negative durations and counts.
func (p PerformancePolicy) Validate() error {
	switch {
	case p.MaxFrameDuration < 0:
		return fmt.Errorf("%w: negative max frame duration", ErrInvalidPerformance)
	case p.InitStallingTimeout < 0, p.UpdateStallingTimeout < 0, p.UnloadStallingTimeout < 0:
		return fmt.Errorf("%w: negative stalling timeout", ErrInvalidPerformance)
	case p.NbWarningsBeforeException < 0:
		return fmt.Errorf("%w: negative warning count", ErrInvalidPerformance)
	}
	return nil
}

// StallingTimeout returns the timeout that applies to a phase category.
// Zero disables stall checks for that category.
func (p PerformancePolicy) StallingTimeout(c PhaseCategory) time.Duration {
	if !p.CheckStalling {
		return 0
	}
	switch c {
	case CategoryLoad:
		return p.InitStallingTimeout
	case CategoryUpdate:
		return p.UpdateStallingTimeout
	default:
		return p.UnloadStallingTimeout
	}
}

// ExceptionPolicy decides which macro-operation runs when a module fails.
type ExceptionPolicy struct {
	ReactionDuringLoad   Reaction `yaml:"reaction_during_load" toml:"reaction_during_load" json:"reactionDuringLoad"`
	ReactionDuringUpdate Reaction `yaml:"reaction_during_update" toml:"reaction_during_update" json:"reactionDuringUpdate"`
	ReactionDuringUnload Reaction `yaml:"reaction_during_unload" toml:"reaction_during_unload" json:"reactionDuringUnload"`

	// SkipUnloadIfException treats a rule that fails while unloading as
	// unloaded instead of retrying it.
	SkipUnloadIfException bool `yaml:"skip_unload_if_exception" toml:"skip_unload_if_exception" json:"skipUnloadIfException"`

	// Fallback is loaded by ReactionSwitchToFallback.
	Fallback       Setup  `yaml:"-" toml:"-" json:"-"`
	FallbackConfig Config `yaml:"fallback_config" toml:"fallback_config" json:"fallbackConfig,omitempty"`
}

// DefaultExceptionPolicy unloads on any failure and skips rules that fail to unload.
func DefaultExceptionPolicy() ExceptionPolicy {
	return ExceptionPolicy{
		ReactionDuringLoad:    ReactionUnload,
		ReactionDuringUpdate:  ReactionUnload,
		ReactionDuringUnload:  ReactionUnload,
		SkipUnloadIfException: true,
	}
}

// Validate checks the reactions and that a fallback exists when one is needed.
func (p ExceptionPolicy) Validate() error {
	for _, r := range []Reaction{p.ReactionDuringLoad, p.ReactionDuringUpdate, p.ReactionDuringUnload} {
		if _, ok := reactionNames[r]; !ok {
			return fmt.Errorf("%w: %d", ErrInvalidReaction, int(r))
		}
		if r == ReactionSwitchToFallback && p.Fallback == nil {
			return ErrNoFallbackConfigured
		}
	}
	return nil
}

// ReactionFor returns the reaction configured for a phase category.
func (p ExceptionPolicy) ReactionFor(c PhaseCategory) Reaction {
	switch c {
	case CategoryLoad:
		return p.ReactionDuringLoad
	case CategoryUpdate:
		return p.ReactionDuringUpdate
	default:
		return p.ReactionDuringUnload
	}
}
