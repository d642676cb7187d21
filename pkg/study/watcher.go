package study

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gaia-runtime/gaia/pkg/vector"
)

// Watcher auto-indexes documents dropped into the watched directories.
// Writes are debounced because editors and copies emit several events per
// file.
type Watcher struct {
	indexer  *Indexer
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher builds a watcher over the indexer's document directories.
func NewWatcher(indexer *Indexer) *Watcher {
	return &Watcher{
		indexer:  indexer,
		debounce: 2 * time.Second,
		logger:   slog.Default(),
	}
}

// Run watches until ctx is cancelled. Directories that cannot be watched
// are logged and skipped.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	dirToKB := make(map[string]string)
	for kb, dir := range w.indexer.docsDirs {
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("cannot watch document directory", "kb", kb, "dir", dir, "error", err)
			continue
		}
		dirToKB[dir] = kb
		w.logger.Info("watching document directory", "kb", kb, "dir", dir)
	}

	pending := make(map[string]string)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !vector.Indexable(event.Name) {
				continue
			}
			kb := w.kbFor(dirToKB, event.Name)
			if kb == "" {
				continue
			}
			pending[event.Name] = kb
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-timer.C:
			for path, kb := range pending {
				if err := w.indexer.Add(ctx, kb, path); err != nil {
					w.logger.Warn("auto-index failed", "kb", kb, "path", path, "error", err)
					continue
				}
				w.logger.Info("auto-indexed document", "kb", kb, "path", path)
			}
			pending = make(map[string]string)
		}
	}
}

func (w *Watcher) kbFor(dirToKB map[string]string, path string) string {
	for dir, kb := range dirToKB {
		if len(path) > len(dir) && path[:len(dir)] == dir {
			return kb
		}
	}
	return ""
}
