package templates

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the fragments from dir whenever an *.html file there
// changes, until ctx is done. Bursts of writes are coalesced into one reload.
// A reload that fails to parse keeps the previous templates.
func (r *Renderer) Watch(ctx context.Context, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("templates")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		const settle = 100 * time.Millisecond
		timer := time.NewTimer(settle)
		timer.Stop()
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) == ".html" && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					timer.Reset(settle)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watch fragments", zap.Error(err))
			case <-timer.C:
				if err := r.Reload(dir); err != nil {
					logger.Warn("reload fragments", zap.String("dir", dir), zap.Error(err))
					continue
				}
				logger.Info("fragments reloaded", zap.String("dir", dir))
			}
		}
	}()
	return nil
}
