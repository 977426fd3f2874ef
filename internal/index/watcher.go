package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/notetaker/internal/checksum"
	"github.com/starford/notetaker/internal/debounce"
	"github.com/starford/notetaker/internal/models"
	"github.com/starford/notetaker/internal/storage"
)

// DefaultSettle is how long a file must stay quiet before it is inspected.
const DefaultSettle = 200 * time.Millisecond

// ChangeKind tells whether a note file now exists or not.
type ChangeKind string

const (
	Written ChangeKind = "written"
	Removed ChangeKind = "removed"
)

// Change is the settled state of one note file after filesystem activity.
type Change struct {
	Kind     ChangeKind
	Name     string
	Title    string
	Content  string
	Checksum string
}

// ChangeFunc is called once per settled file change.
type ChangeFunc func(Change)

// Watch starts an fsnotify watcher on the notes directory and reports
// settled changes of note files until ctx is cancelled.
//
// Events for one file are coalesced: after the file has been quiet for
// settle, it is read through store. A readable file is reported as
// Written with its content and checksum, a missing one as Removed. Renames
// show up as Removed for the old name and Written for the new one.
// Subdirectories and non-note files are ignored.
func Watch(ctx context.Context, store storage.NoteStore, dir string, settle time.Duration, logger *slog.Logger, cb ChangeFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("index: new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("index: watch %s: %w", dir, err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	pending := debounce.New[string](settle)
	defer pending.Stop()

	root := filepath.Clean(dir)
	logger.Info("watcher: started", slog.String("root", root), slog.Duration("settle", settle))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Dir(ev.Name) != root {
				continue
			}
			name := filepath.Base(ev.Name)
			title, ok := models.TitleFromFile(name)
			if !ok {
				continue
			}
			logger.Debug("watcher: event", slog.String("name", name), slog.String("op", ev.Op.String()))
			pending.Schedule(name, func() {
				if ctx.Err() != nil {
					return
				}
				inspect(store, name, title, logger, cb)
			})

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// inspect reads name and reports its current state.
func inspect(store storage.NoteStore, name, title string, logger *slog.Logger, cb ChangeFunc) {
	text, err := store.ReadText(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("watcher: removed", slog.String("name", name))
		cb(Change{Kind: Removed, Name: name, Title: title})
	case err != nil:
		logger.Warn("watcher: read failed", slog.String("name", name), slog.String("error", err.Error()))
	default:
		logger.Debug("watcher: written", slog.String("name", name))
		cb(Change{
			Kind:     Written,
			Name:     name,
			Title:    title,
			Content:  text,
			Checksum: checksum.String(text),
		})
	}
}
