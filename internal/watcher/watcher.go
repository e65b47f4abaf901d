// Package watcher reloads the function registry when handler files change
// on disk.
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow collapses bursts of filesystem events (editors write,
// chmod and rename in quick succession) into a single rescan.
const debounceWindow = 1 * time.Second

// Reloader rebuilds the registry from disk. Implemented by registry.Loader.
type Reloader interface {
	Rescan(ctx context.Context) (int, error)
}

// Watcher observes the functions directory and triggers a registry rescan
// after changes settle.
type Watcher struct {
	dir      string
	reloader Reloader

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a watcher over dir.
func New(dir string, reloader Reloader) *Watcher {
	return &Watcher{dir: dir, reloader: reloader}
}

// Start begins watching. Call Stop to shut down.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(ctx)

	slog.Info("watcher started", "dir", w.dir)
	return nil
}

// Stop terminates the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.fsw.Close()
	<-w.done
	slog.Info("watcher stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	// The timer is created stopped; each relevant event rewinds it so the
	// rescan fires once the directory goes quiet.
	debounce := time.NewTimer(debounceWindow)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			slog.Debug("watcher: change detected", "file", ev.Name, "op", ev.Op.String())
			debounce.Reset(debounceWindow)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "error", err)
		case <-debounce.C:
			if _, err := w.reloader.Rescan(ctx); err != nil {
				slog.Error("watcher: rescan failed", "error", err)
			}
		}
	}
}

// relevant filters events down to handler and env file changes.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := ev.Name
	return strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".env.json")
}
