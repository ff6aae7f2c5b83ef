// Package watch re-reads a prompt file every time it is saved.
//
// The parent directory is watched rather than the file itself so that
// editors which save by writing a temporary file and renaming it over the
// original keep being followed.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ErrFileRemoved is returned by Run when the watched file disappears and
// FollowRemove is not set.
var ErrFileRemoved = errors.New("watched file was removed")

// Options configures a Watcher.
type Options struct {
	FilePath string

	// Initial delivers the current contents before waiting for changes.
	Initial bool

	// FollowRemove keeps watching after the file is removed or renamed
	// away, resuming when it is created again.
	FollowRemove bool

	// OnChange is called with the full file contents whenever they change.
	// Whitespace-only contents are skipped. Returning an error stops Run.
	OnChange func(content string) error
}

// Watcher follows a single file.
type Watcher struct {
	opts   Options
	path   string
	last   string
	logger *slog.Logger
}

// New creates a Watcher.
func New(opts Options, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{opts: opts, path: filepath.Clean(opts.FilePath), logger: logger}
}

// Run blocks until ctx is cancelled, OnChange fails or the file goes away.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := os.Stat(w.path); err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to setup watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to setup watcher: %w", err)
	}

	if w.opts.Initial {
		if err := w.reload(); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed unexpectedly")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if err := w.handleEvent(event); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) error {
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		return w.reload()

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if !w.opts.FollowRemove {
			return ErrFileRemoved
		}
		w.logger.Info("watched file removed, waiting for it to reappear", "path", w.path)
		w.last = ""
	}
	return nil
}

// reload reads the file and hands new contents to OnChange.
func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", w.path, err)
	}

	content := string(data)
	if strings.TrimSpace(content) == "" || content == w.last {
		return nil
	}
	w.last = content

	w.logger.Debug("file changed", "path", w.path, "bytes", len(data))
	return w.opts.OnChange(content)
}
