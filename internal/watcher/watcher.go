// Package watcher follows the user-owned files behind unmanaged blobs and
// asks the item service to refresh an item when its file changes.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

const debounce = 200 * time.Millisecond

// Refresher re-hashes and re-indexes one item.
type Refresher interface {
	Refresh(ctx context.Context, itemID string) (bool, error)
}

// EventCallback is called after a watcher-driven refresh changed an item.
type EventCallback func(itemID, path string)

// Watcher tracks unmanaged blob files. Track may be called before and while
// Run is active.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu    sync.Mutex
	paths map[string]string // file -> item id
	dirs  map[string]int    // watched dir -> tracked files in it
}

// New creates a watcher. Call Run to start processing events.
func New(logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:    fsw,
		logger: logger,
		paths:  make(map[string]string),
		dirs:   make(map[string]int),
	}, nil
}

// Track starts watching the file behind blob. Managed blobs are ignored.
func (w *Watcher) Track(blob models.Blob) {
	if blob.Managed || blob.LocalPath == "" {
		return
	}
	path := filepath.Clean(blob.LocalPath)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.paths[path]; ok {
		w.paths[path] = blob.ItemID
		return
	}
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Warn("watcher: add dir failed",
				slog.String("path", dir),
				slog.String("error", err.Error()))
			return
		}
	}
	w.dirs[dir]++
	w.paths[path] = blob.ItemID
	w.logger.Debug("watcher: tracking", slog.String("path", path), slog.String("item_id", blob.ItemID))
}

// Untrack stops watching path.
func (w *Watcher) Untrack(path string) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.paths[path]; !ok {
		return
	}
	delete(w.paths, path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.fsw.Remove(dir)
	}
}

// Tracked returns the number of watched files.
func (w *Watcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.paths)
}

func (w *Watcher) lookup(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.paths[filepath.Clean(path)]
	return id, ok
}

// Run processes file events until ctx is cancelled, then closes the
// underlying watcher. Bursts of writes to one file are debounced into a
// single refresh.
func (w *Watcher) Run(ctx context.Context, r Refresher, cb EventCallback) error {
	defer w.fsw.Close()
	w.logger.Info("watcher: started", slog.Int("files", w.Tracked()))

	pending := make(map[string]string)
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for path, itemID := range pending {
				w.refresh(ctx, r, cb, itemID, path)
			}
			clear(pending)

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			itemID, tracked := w.lookup(ev.Name)
			if !tracked {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[filepath.Clean(ev.Name)] = itemID
				schedule()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Editors often replace files; a later Create refreshes it.
				w.logger.Warn("watcher: tracked file removed",
					slog.String("path", ev.Name),
					slog.String("item_id", itemID))
			}

		case watchErr, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// Close stops the underlying watcher. It is safe to call after Run returned.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) refresh(ctx context.Context, r Refresher, cb EventCallback, itemID, path string) {
	changed, err := r.Refresh(ctx, itemID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		w.Untrack(path)
		return
	case err != nil:
		w.logger.Warn("watcher: refresh failed",
			slog.String("path", path),
			slog.String("item_id", itemID),
			slog.String("error", err.Error()))
		return
	}
	if !changed {
		return
	}
	w.logger.Debug("watcher: refreshed", slog.String("path", path), slog.String("item_id", itemID))
	if cb != nil {
		cb(itemID, path)
	}
}
