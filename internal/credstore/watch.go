package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind describes what happened to a watched credential file.
type ChangeKind int

const (
	// ChangeWritten means the file was created or replaced.
	ChangeWritten ChangeKind = iota
	// ChangeRemoved means the file is gone (logout from another process).
	ChangeRemoved
)

func (k ChangeKind) String() string {
	if k == ChangeRemoved {
		return "removed"
	}

	return "written"
}

// Watcher reports changes another process makes to one key's credential
// file. The directory is watched rather than the file because atomic saves
// replace the file via rename.
type Watcher struct {
	path     string
	dir      string
	onChange func(ChangeKind)
	logger   *slog.Logger
}

// NewWatcher builds a watcher for key in store. onChange runs on the
// watcher goroutine and must not block.
func NewWatcher(store *FileStore, key Key, onChange func(ChangeKind), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:     filepath.Clean(store.Path(key)),
		dir:      store.Dir(),
		onChange: onChange,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, dispatching changes to onChange.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, DirPerms); err != nil {
		return fmt.Errorf("%w: creating directory %s: %w", ErrStorageUnavailable, w.dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credstore: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("credstore: watching %s: %w", w.dir, err)
	}

	w.logger.Debug("watching credential file", slog.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			w.handle(ev)

		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("credential watcher error", slog.String("error", werr.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}

	var kind ChangeKind

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		kind = ChangeRemoved
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		kind = ChangeWritten
	default:
		return
	}

	w.logger.Debug("credential file changed",
		slog.String("path", w.path),
		slog.String("change", kind.String()),
	)

	w.onChange(kind)
}
