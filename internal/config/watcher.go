package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source gives components the current configuration. Callers must not
// mutate the returned value; a reload swaps in a new one.
type Source interface {
	Current() *Config
}

type staticSource struct{ cfg *Config }

func (s staticSource) Current() *Config { return s.cfg }

// Static returns a Source that always yields cfg.
func Static(cfg *Config) Source { return staticSource{cfg: cfg} }

// Watcher reloads the config file when it changes on disk. An invalid
// file is logged and the previous configuration stays in effect.
// Components that read Current per operation pick up a reload; platform
// tokens, database, listen address and telemetry are read at startup.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewWatcher returns a Watcher seeded with an already loaded config.
func NewWatcher(path string, initial *Config) *Watcher {
	w := &Watcher{path: path}
	w.current.Store(initial)
	return w
}

// Current implements Source.
func (w *Watcher) Current() *Config { return w.current.Load() }

// OnChange registers fn to run after each successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Reload re-reads the file and swaps it in when it loads and validates.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return err
	}
	prev := w.current.Swap(cfg)
	if prev != nil && prev.Hash() == cfg.Hash() {
		return nil
	}
	slog.Info("config: reloaded", "path", w.path, "hash", cfg.Hash())

	w.mu.Lock()
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Run watches the config file's directory until ctx ends. Editors often
// replace files by rename, so the directory is watched rather than the
// file itself.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Reload(); err != nil {
				slog.Warn("config: reload failed, keeping previous config", "path", w.path, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "error", err)
		}
	}
}
