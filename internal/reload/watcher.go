// Package reload watches setup descriptor files and reports settled content
// changes, so a running orchestrator can reload the module built from them.
package reload

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoCodeAlone/ruleflow"
	"github.com/fsnotify/fsnotify"
)

// ErrAlreadyStarted is returned by Start on a running watcher.
var ErrAlreadyStarted = errors.New("reload: watcher already started")

// DefaultDebounce is how long a file must stay quiet before a change is reported.
const DefaultDebounce = 200 * time.Millisecond

// Watcher watches a set of files. Each file is watched through its directory
// so editors that replace files by rename are still seen. A change is
// reported once the file has been quiet for the debounce window and its
// content differs from the last reported version.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	files    map[string]string // cleaned path -> last content fingerprint
	dirty    map[string]time.Time
	debounce time.Duration
	onChange func(path string)
	logger   ruleflow.Logger

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger ruleflow.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher that calls onChange from its own goroutine.
func NewWatcher(onChange func(path string), opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: create watcher: %w", err)
	}
	w := &Watcher{
		watcher:  fw,
		files:    make(map[string]string),
		dirty:    make(map[string]time.Time),
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   ruleflow.NopLogger{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add starts watching path. The current content becomes the baseline, so
// only later edits are reported.
func (w *Watcher) Add(path string) error {
	clean, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	sum, err := fingerprint(clean)
	if err != nil {
		return err
	}
	if err := w.watcher.Add(filepath.Dir(clean)); err != nil {
		return fmt.Errorf("reload: watch %s: %w", filepath.Dir(clean), err)
	}
	w.mu.Lock()
	w.files[clean] = sum
	w.mu.Unlock()
	w.logger.Debug("Watching file", "path", clean)
	return nil
}

// Start runs the event loop in a goroutine until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrAlreadyStarted
	}
	w.running = true
	go w.run(ctx)
	return nil
}

// Stop ends the event loop, waits for it and releases the OS watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("reload: close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", "error", err)
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, watched := w.files[path]; !watched {
		return
	}
	w.dirty[path] = time.Now()
}

// flush reports files that settled and whose content changed.
func (w *Watcher) flush(now time.Time) {
	var changed []string
	w.mu.Lock()
	for path, touched := range w.dirty {
		if now.Sub(touched) < w.debounce {
			continue
		}
		delete(w.dirty, path)
		sum, err := fingerprint(path)
		if err != nil {
			w.logger.Warn("Watched file unreadable", "path", path, "error", err)
			continue
		}
		if sum == w.files[path] {
			continue
		}
		w.files[path] = sum
		changed = append(changed, path)
	}
	w.mu.Unlock()

	for _, path := range changed {
		w.logger.Info("Watched file changed", "path", path)
		w.onChange(path)
	}
}

func fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reload: read %s: %w", path, err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}
