package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watch re-imports supported files below dir whenever they are created or
// written, until ctx is cancelled. Bursts of events for the same file are
// coalesced. Removed files are only logged; their chunks stay until the next
// clear.
func (s *Service) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Infow("watching corpus directory", "dir", dir)

	pending := map[string]struct{}{}
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if addErr := watcher.Add(event.Name); addErr != nil {
						s.logger.Warnw("watch new directory failed", "dir", event.Name, "error", addErr)
					}
					continue
				}
			}
			if DetectFormat(event.Name) == FormatUnknown {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[event.Name] = struct{}{}
				timer.Reset(debounce)
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				s.logger.Warnw("corpus file removed; run clear and re-import to drop its chunks", "path", event.Name)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warnw("watcher error", "error", watchErr)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			pending = map[string]struct{}{}
			sort.Strings(paths)

			for _, path := range paths {
				result, err := s.IngestFile(ctx, dir, path)
				if err != nil {
					s.logger.Errorw("re-import failed", "path", path, "error", err)
					continue
				}
				if !result.Unchanged {
					s.logger.Infow("re-imported document", "path", result.Path, "chunks", result.Chunks)
				}
			}
		}
	}
}
