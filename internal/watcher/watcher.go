// Package watcher turns raw fsnotify events into typed filesystem
// events for the catalog reconciler. Renames arrive from the kernel as
// a RENAME on the old path followed by a CREATE on the new one; the
// watcher pairs the two within a short window and emits a single move,
// falling back to a delete when no partner shows up.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Op is the kind of a filesystem event.
type Op int

const (
	OpCreated Op = iota + 1
	OpDeleted
	OpMoved
	OpModified
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpDeleted:
		return "deleted"
	case OpMoved:
		return "moved"
	case OpModified:
		return "modified"
	}
	return "unknown"
}

// Event is one reconcilable filesystem change. OldPath is set for
// moves only.
type Event struct {
	Op      Op
	Path    string
	OldPath string
	IsDir   bool
}

// Config configures the watcher module.
type Config struct {
	Roots          []string
	MovePairWindow time.Duration
}

// Watcher watches the share roots recursively and publishes typed
// events on a buffered channel.
type Watcher struct {
	log    *zap.Logger
	config Config

	fw      *fsnotify.Watcher
	events  chan Event
	watched map[string]bool

	pending []pendingRename
}

type pendingRename struct {
	path  string
	isDir bool
	at    time.Time
}

// New creates a watcher for the given share roots.
func New(log *zap.Logger, cfg Config) (*Watcher, error) {
	if cfg.MovePairWindow <= 0 {
		cfg.MovePairWindow = 500 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		log:     log.With(zap.String("module", "watcher")),
		config:  cfg,
		fw:      fw,
		events:  make(chan Event, 256),
		watched: make(map[string]bool),
	}
	for _, root := range cfg.Roots {
		if err := w.addRecursive(root); err != nil {
			w.log.Warn("failed to watch share root",
				zap.String("root", root), zap.Error(err))
		}
	}
	return w, nil
}

// Events returns the event channel. It is closed when Run returns.
func (w *Watcher) Events() <-chan Event { return w.events }

// Run pumps fsnotify events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watcher started", zap.Strings("roots", w.config.Roots))
	flush := time.NewTicker(w.config.MovePairWindow / 2)
	defer flush.Stop()
	defer close(w.events)
	defer w.fw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flush.C:
			w.flushExpired()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		w.handleCreate(ev.Name)
	case ev.Op.Has(fsnotify.Rename):
		isDir := w.watched[ev.Name]
		w.pending = append(w.pending, pendingRename{path: ev.Name, isDir: isDir, at: time.Now()})
	case ev.Op.Has(fsnotify.Remove):
		isDir := w.watched[ev.Name]
		w.forget(ev.Name)
		w.emit(Event{Op: OpDeleted, Path: ev.Name, IsDir: isDir})
	case ev.Op.Has(fsnotify.Write):
		w.emit(Event{Op: OpModified, Path: ev.Name})
	}
}

func (w *Watcher) handleCreate(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	isDir := fi.IsDir()
	if isDir {
		if err := w.addRecursive(path); err != nil {
			w.log.Warn("failed to watch new directory",
				zap.String("path", path), zap.Error(err))
		}
	}

	if old, ok := w.takePending(isDir); ok {
		w.emit(Event{Op: OpMoved, Path: path, OldPath: old, IsDir: isDir})
		return
	}
	w.emit(Event{Op: OpCreated, Path: path, IsDir: isDir})
}

// takePending pops the oldest unexpired rename of matching dir-ness.
func (w *Watcher) takePending(isDir bool) (string, bool) {
	cutoff := time.Now().Add(-w.config.MovePairWindow)
	for i, p := range w.pending {
		if p.at.Before(cutoff) || p.isDir != isDir {
			continue
		}
		w.pending = append(w.pending[:i], w.pending[i+1:]...)
		return p.path, true
	}
	return "", false
}

// flushExpired turns unpaired renames into deletes.
func (w *Watcher) flushExpired() {
	cutoff := time.Now().Add(-w.config.MovePairWindow)
	var keep []pendingRename
	for _, p := range w.pending {
		if p.at.After(cutoff) {
			keep = append(keep, p)
			continue
		}
		w.forget(p.path)
		w.emit(Event{Op: OpDeleted, Path: p.path, IsDir: p.isDir})
	}
	w.pending = keep
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.log.Warn("event buffer full, dropping event",
			zap.String("op", ev.Op.String()), zap.String("path", ev.Path))
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fw.Add(path); err != nil {
			return err
		}
		w.watched[path] = true
		return nil
	})
}

func (w *Watcher) forget(path string) {
	delete(w.watched, path)
	prefix := path + string(os.PathSeparator)
	for p := range w.watched {
		if strings.HasPrefix(p, prefix) {
			delete(w.watched, p)
		}
	}
}
