package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay collapses the burst of events an editor or an atomic rename
// produces into one reload.
const reloadDelay = 200 * time.Millisecond

// Watch reloads the index file whenever it changes on disk until ctx is
// cancelled. The parent directory is watched rather than the file so that
// replacing the file by rename is seen. Failed reloads are logged and the
// previous index keeps serving.
func (c *Catalog) Watch(ctx context.Context) error {
	path, err := filepath.Abs(c.opts.Path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", c.opts.Path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	c.logger.Info("watching index file", "path", path)
	go c.processEvents(ctx, watcher, path)
	return nil
}

func (c *Catalog) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("file watcher error", "error", err)
		case <-timer.C:
			if _, err := c.LoadFile(path); err != nil {
				c.logger.Error("index reload failed, keeping current index", "path", path, "error", err)
			}
		}
	}
}
