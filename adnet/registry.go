package adnet

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry hands out the current rule set and swaps it on reload.
type Registry struct {
	path     string
	logger   *slog.Logger
	current  atomic.Pointer[Rules]
	debounce time.Duration
}

// NewRegistry loads the rules at path (embedded rules when empty).
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r, err := Load(path, logger)
	if err != nil {
		return nil, err
	}
	reg := &Registry{path: path, logger: logger, debounce: 500 * time.Millisecond}
	reg.current.Store(r)
	return reg, nil
}

// NewStaticRegistry wraps a fixed rule set.
func NewStaticRegistry(r *Rules) *Registry {
	reg := &Registry{logger: slog.Default()}
	reg.current.Store(r)
	return reg
}

// Rules returns the current rule set.
func (reg *Registry) Rules() *Rules {
	return reg.current.Load()
}

// Reload re-reads the rule file. On failure the previous rules stay in effect.
func (reg *Registry) Reload() error {
	r, err := Load(reg.path, reg.logger)
	if err != nil {
		return err
	}
	prev := reg.current.Swap(r)
	reg.logger.Info("ad rules reloaded",
		"path", reg.path,
		"version", r.Version,
		"previous_version", prev.Version,
		"selectors", len(r.Selectors),
		"domains", len(r.domains),
	)
	return nil
}

// Watch reloads the rule file whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file by rename
// are picked up. It is a no-op for the embedded rules.
func (reg *Registry) Watch(ctx context.Context) error {
	if reg.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(reg.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", reg.path, err)
	}
	target := filepath.Clean(reg.path)

	go func() {
		defer w.Close()
		timer := time.NewTimer(reg.debounce)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				timer.Reset(reg.debounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				reg.logger.Error("ad rule watcher error", "error", err)
			case <-timer.C:
				if err := reg.Reload(); err != nil {
					reg.logger.Warn("ad rule reload failed, keeping previous rules", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
