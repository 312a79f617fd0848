package photostore

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reconcileDelay = 250 * time.Millisecond

// Watch reconciles records with the directory whenever files are removed or
// renamed out of it. Bursts of events are coalesced into one pass. Watch
// blocks until ctx is done.
func (s *PhotoStorage) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				pending = time.After(reconcileDelay)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn(ctx, "photo watcher error", "error", err)

		case <-pending:
			pending = nil
			n, err := s.SyncWithFileSystem(ctx)
			if err != nil {
				s.log.Error(ctx, "photo reconciliation failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info(ctx, "photo reconciliation removed orphans", "count", n)
			}

		case <-ctx.Done():
			return nil
		}
	}
}
