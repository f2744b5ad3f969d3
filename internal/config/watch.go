package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads a config file when it changes on disk. Edits that fail to
// load are logged and the previous config stays in effect.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// Watch starts watching path and calls onChange with every valid reload.
// The parent directory is watched so editors that replace the file on save
// are picked up.
func Watch(ctx context.Context, path string, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config watch: onChange is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		path:     abs,
		onChange: onChange,
		logger:   logger.With("component", "config-watch"),
		debounce: defaultWatchDebounce,
		watcher:  fw,
		cancel:   cancel,
	}
	w.wg.Add(1)
	go w.loop(watchCtx)
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Warn("config reload rejected", "path", w.path, "error", err)
			return
		}
		w.logger.Info("config reloaded", "path", w.path)
		w.onChange(cfg)
	})
}
