// Package watcher reports changes to the provider declarations directory,
// coalescing bursts of file events into one notification.
package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/whiteboard/internal/log"
)

// Watcher monitors a directory of YAML declarations.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
}

// Config holds watcher options.
type Config struct {
	Dir      string
	Debounce time.Duration
}

// DefaultConfig watches dir with a 250ms debounce.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:      dir,
		Debounce: 250 * time.Millisecond,
	}
}

// New creates a watcher. Call Start to begin watching.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultConfig(cfg.Dir).Debounce
	}

	return &Watcher{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		debounce:  debounce,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start watches the directory. The returned channel receives one value per
// settled burst of changes; a notification is dropped if the previous one
// was not consumed yet.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}

	log.SafeGo("watcher.loop", w.loop)
	log.Debug(log.CatWatcher, "Watching declarations", "dir", w.dir, "debounce", w.debounce)

	return w.onChange, nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !isRelevant(event) {
				continue
			}
			log.Debug(log.CatWatcher, "Declaration changed", "file", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case <-timer.C:
			select {
			case w.onChange <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "Watch error", err, "dir", w.dir)

		case <-w.done:
			return
		}
	}
}

// isRelevant keeps create, write, remove and rename events on YAML files.
// Removals count because a deleted declaration retracts its provider.
func isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	switch filepath.Ext(event.Name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
