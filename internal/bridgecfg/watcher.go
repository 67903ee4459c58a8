package bridgecfg

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent signals that the watched config file changed on disk.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher watches a single bridge config file for edits, adapted from
// a debounced, fsnotify-backed file watcher (same
// buffered-channel, best-effort-drop shape) down to one file instead of
// a fixed home-directory file set.
type Watcher struct {
	path   string
	logger *slog.Logger
	events chan ReloadEvent
}

func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:   path,
		logger: logger,
		events: make(chan ReloadEvent, 16),
	}
}

// Events returns the channel reload notifications are published on. It
// is closed when the watcher's context is cancelled.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching in a background goroutine. It returns once the
// underlying fsnotify watcher is armed.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		w.logger.Warn("bridge config file not watchable yet", "path", w.path, "error", err)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
					w.logger.Warn("bridge config reload event dropped: channel full", "path", ev.Name)
				}
				w.logger.Info("bridge config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("bridge config watcher error", "error", err)
			}
		}
	}()
	return nil
}
