package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the options file on write and hands the freshly loaded
// Config to its onReload callback; which settings take effect is up to
// that callback.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	onReload func(*Config)
}

// WatchFile starts watching path for writes and invokes onReload with the
// freshly parsed config each time the file changes. The returned Watcher
// must be closed by the caller during shutdown.
func WatchFile(path string, logger *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, logger: logger, onReload: onReload}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config", "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			if w.onReload != nil {
				w.onReload(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
