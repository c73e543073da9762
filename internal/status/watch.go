package status

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchStore attaches an fsnotify watcher to the store file's directory so
// that a WAL checkpoint written by another host process sharing the same
// store (spec.md §5 "multiple hosts may open the same store") marks this
// process's status cache dirty instead of serving a stale dashboard until
// the next tick. Grounded on the teacher's cmd/bd/daemon_watcher.go
// FileWatcher, generalized from JSONL-file-change detection to WAL/db-file
// change detection; if fsnotify itself cannot be set up (e.g. inotify
// watch limits exhausted) it logs a warning and returns the error with a
// no-op stop func, leaving the existing dirty-flag-plus-ticker rebuild as
// the only invalidation, matching the
// teacher's polling-fallback discipline for an optional capability.
func (c *Cache) WatchStore(dbPath string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.log.Warn("status: fsnotify unavailable, relying on in-process dirty flag only", "error", err)
		return func() {}, err
	}

	dir := filepath.Dir(dbPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		c.log.Warn("status: failed to watch store directory", "dir", dir, "error", err)
		return func() {}, err
	}

	base := filepath.Base(dbPath)
	walName := base + "-wal"
	shmName := base + "-shm"

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if name == base || name == walName || name == shmName {
					c.MarkDirty()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn("status: watcher error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
