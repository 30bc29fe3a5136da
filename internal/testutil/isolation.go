// Package testutil holds helpers shared by the engine's tests.
package testutil

import (
	"os"
	"strings"
	"testing"
)

// snapshotEnv records every environment variable whose name starts with one
// of prefixes and returns a function restoring exactly that set.
func snapshotEnv(prefixes []string) func() {
	matches := func(name string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				return true
			}
		}
		return false
	}

	saved := map[string]string{}
	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		if matches(name) {
			saved[name] = value
		}
	}

	return func() {
		for _, kv := range os.Environ() {
			name, _, _ := strings.Cut(kv, "=")
			if _, had := saved[name]; !had && matches(name) {
				_ = os.Unsetenv(name)
			}
		}
		for name, value := range saved {
			_ = os.Setenv(name, value)
		}
	}
}

// WithIsolatedEnv runs fn and then restores every variable matching
// prefixes, removing the ones fn added.
func WithIsolatedEnv(fn func(), prefixes ...string) {
	restore := snapshotEnv(prefixes)
	defer restore()
	fn()
}

// Isolate is the *testing.T variant of WithIsolatedEnv. The restore runs as a
// t.Cleanup, so it is safe to call more than once per test (LIFO).
func Isolate(t *testing.T, prefixes ...string) {
	t.Helper()
	t.Cleanup(snapshotEnv(prefixes))
}
