package reload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type changes struct {
	mu    sync.Mutex
	paths []string
}

func (c *changes) record(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func TestWatcher_ReportsSettledContentChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "setups.yaml")
	require.NoError(t, os.WriteFile(path, []byte("setups: []\n"), 0o600))

	var got changes
	w, err := NewWatcher(got.record, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Add(path))
	require.NoError(t, w.Start(context.Background()))
	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, os.WriteFile(path, []byte("setups:\n  - name: menu\n"), 0o600))
	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	got.mu.Lock()
	assert.Equal(t, abs, got.paths[0])
	got.mu.Unlock()

	// Rewriting identical content is not a change.
	require.NoError(t, os.WriteFile(path, []byte("setups:\n  - name: menu\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, got.count())

	require.NoError(t, w.Stop())
}

func TestWatcher_IgnoresUnwatchedFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "setups.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	var got changes
	w, err := NewWatcher(got.record, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Add(path))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 2\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, got.count())

	cancel()
	require.NoError(t, w.Stop())
}

func TestWatcher_AddMissingFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := NewWatcher(func(string) {})
	require.NoError(t, err)
	assert.Error(t, w.Add(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, w.Stop())
}
