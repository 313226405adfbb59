package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/yourusername/reactorhttpd/internal/logsink"
)

// WatchLogLevel watches path for writes and, on each one, reloads the
// file and pushes any changed LogLevel into sink. All other fields are
// startup-only per spec.md's process-startup scoping; only the log
// level is safe to change under a running reactor.
func WatchLogLevel(path string, sink *logsink.Sink) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				sink.SetLevel(logsink.Level(cfg.LogLevel))
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w, nil
}
