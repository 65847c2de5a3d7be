package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and applies the threshold block
// to the running process. Only thresholds are hot-reloadable; everything else
// requires a restart so a run never observes a half-applied stack.
type Watcher struct {
	Path     string
	Cooldown time.Duration // minimum gap between applied reloads

	mu         sync.Mutex
	lastReload time.Time
}

// Start watches the config file until ctx is done. onUpdate receives the
// validated threshold block; it is never called for an invalid file.
func (w *Watcher) Start(ctx context.Context, onUpdate func(ThresholdConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 5 * time.Second
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// held on the file itself.
	if err := fw.Add(filepath.Dir(w.Path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.Path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.maybeReload(onUpdate)
		case _, ok := <-fw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func (w *Watcher) maybeReload(onUpdate func(ThresholdConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.Sub(w.lastReload) < w.Cooldown {
		return
	}
	cfg, err := Load(w.Path)
	if err != nil {
		return
	}
	if err := ValidateThresholds(cfg.Thresholds); err != nil {
		return
	}
	w.lastReload = now
	if onUpdate != nil {
		onUpdate(cfg.Thresholds)
	}
}
