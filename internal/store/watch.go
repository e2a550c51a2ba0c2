package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "parishcal/internal/log"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the store whenever the events file is edited outside the
// process. It watches the parent directory so editors that replace the file
// via rename are still seen. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	appLog.Debug("store: watcher started", "dir", dir, "file", file)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if err := s.Reload(); err != nil {
				appLog.Error("store: reload after file change failed", err, "path", s.path)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("store: watch error", err, "dir", dir)
		}
	}
}
