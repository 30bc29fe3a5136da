// Package feeders fills configuration structs (performance policies,
// exception policies, setup descriptors) from files and the environment.
//
// File feeders select their format by extension. Every file feeder can feed
// the whole document or a single top-level key:
//
//	var policy ruleflow.PerformancePolicy
//	if err := feeders.LoadKey("game.yaml", "performance", &policy); err != nil {
//		return err
//	}
//	if err := feeders.NewEnvFeeder("RULEFLOW").Feed(&policy); err != nil {
//		return err
//	}
package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Feeder fills target from a single source.
type Feeder interface {
	Feed(target any) error
}

// KeyFeeder can also fill target from one top-level key of its source. A
// missing key leaves target untouched.
type KeyFeeder interface {
	Feeder
	FeedKey(key string, target any) error
}

// ForFile returns the file feeder matching the extension of path.
func ForFile(path string) (KeyFeeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	case ".json":
		return NewJSONFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, path)
	}
}

// LoadFile feeds the whole file at path into target.
func LoadFile(path string, target any) error {
	f, err := ForFile(path)
	if err != nil {
		return err
	}
	return f.Feed(target)
}

// LoadKey feeds one top-level key of the file at path into target.
func LoadKey(path, key string, target any) error {
	f, err := ForFile(path)
	if err != nil {
		return err
	}
	return f.FeedKey(key, target)
}

// Feed applies feeders in order, so later feeders override earlier ones.
func Feed(target any, feeders ...Feeder) error {
	for _, f := range feeders {
		if err := f.Feed(target); err != nil {
			return err
		}
	}
	return nil
}
