package envstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fxctl/fxctl/pkg/project"
)

// WatchFunc receives the decrypted environment after every change, or the
// error that occurred while reading it.
type WatchFunc func(values map[string]string, err error)

// DefaultDebounce is the delay between the last file event and the re-read.
const DefaultDebounce = 200 * time.Millisecond

// Watch re-reads an environment whenever its file changes and calls fn.
// Values are not merged into the process environment. Watch blocks until
// ctx is done; fn runs on the calling goroutine, one call at a time, and
// never after Watch returns.
func (s *Store) Watch(ctx context.Context, projectPath, env string, debounce time.Duration, fn WatchFunc) error {
	if err := ValidateName(env); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	dir := project.SettingsDir(projectPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings folder: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the folder rather than the file so that atomic replaces are seen.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(Path(projectPath, env))
	s.logger.Info().Str("env", env).Str("file", target).Msg("Watching environment")

	// Created stopped; Reset arms it. Since Go 1.23 a stopped timer never
	// delivers a stale tick.
	debouncer := time.NewTimer(debounce)
	debouncer.Stop()
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			s.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Environment file changed")

			debouncer.Reset(debounce)

		case <-debouncer.C:
			if ctx.Err() != nil {
				return nil
			}
			values, err := s.Read(ctx, projectPath, env, ReadOptions{Silent: true})
			fn(values, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Environment watcher error")
		}
	}
}
