package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PolicyWatcher watches the policy file and triggers a reload callback after
// changes settle. A failed reload is logged; the callback decides what stays
// active.
type PolicyWatcher struct {
	path         string
	watcher      *fsnotify.Watcher
	reloadFunc   func(string) error
	logger       *slog.Logger
	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	debounceTime time.Duration
}

// NewPolicyWatcher creates a watcher for path. A non-positive debounce falls
// back to 500ms.
func NewPolicyWatcher(path string, debounce time.Duration, reloadFunc func(string) error, logger *slog.Logger) (*PolicyWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &PolicyWatcher{
		path:         absPath,
		watcher:      watcher,
		reloadFunc:   reloadFunc,
		logger:       logger,
		stopCh:       make(chan struct{}),
		debounceTime: debounce,
	}, nil
}

// Start begins watching. The parent directory is watched because editors and
// config management tools often replace files by rename.
func (pw *PolicyWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.running {
		return nil
	}

	if err := pw.watcher.Add(filepath.Dir(pw.path)); err != nil {
		return err
	}
	pw.running = true

	pw.logger.Info("policy watcher started", "policy_path", pw.path)
	go pw.watchLoop(ctx)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (pw *PolicyWatcher) Stop() error {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return pw.watcher.Close()
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	return pw.watcher.Close()
}

func (pw *PolicyWatcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if !pw.isPolicyEvent(event) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			pw.logger.Debug("policy file event", "event", event.Op.String(), "file", event.Name)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(pw.debounceTime, pw.triggerReload)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Error("policy watcher error", "error", err)

		case <-pw.stopCh:
			pw.logger.Info("policy watcher stopped")
			return

		case <-ctx.Done():
			pw.logger.Info("policy watcher context cancelled")
			return
		}
	}
}

func (pw *PolicyWatcher) isPolicyEvent(event fsnotify.Event) bool {
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return eventPath == pw.path
}

func (pw *PolicyWatcher) triggerReload() {
	start := time.Now()
	if err := pw.reloadFunc(pw.path); err != nil {
		pw.logger.Error("policy reload failed, keeping previous policy",
			"error", err,
			"duration", time.Since(start))
		return
	}
	pw.logger.Info("policy reloaded", "policy_path", pw.path, "duration", time.Since(start))
}

// IsRunning reports whether the watcher loop is active.
func (pw *PolicyWatcher) IsRunning() bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.running
}
