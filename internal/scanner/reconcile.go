package scanner

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"fennec/internal/catalog"
	"fennec/internal/watcher"
)

// Reconciler applies filesystem events to the catalog. Events that
// arrive while a rebuild is running are dropped; the scan sees the
// final state anyway.
type Reconciler struct {
	log      *zap.Logger
	store    *catalog.Store
	builder  *Builder
	onChange func()
}

// NewReconciler wires the reconciler. onChange may be nil.
func NewReconciler(log *zap.Logger, store *catalog.Store, builder *Builder, onChange func()) *Reconciler {
	return &Reconciler{
		log:      log.With(zap.String("module", "reconciler")),
		store:    store,
		builder:  builder,
		onChange: onChange,
	}
}

// Run consumes events until the channel closes or the context is
// cancelled.
func (r *Reconciler) Run(ctx context.Context, events <-chan watcher.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if r.builder.Rebuilding() {
				r.log.Debug("dropping event during rebuild",
					zap.String("op", ev.Op.String()), zap.String("path", ev.Path))
				continue
			}
			if err := r.Apply(ctx, ev); err != nil {
				r.log.Warn("failed to apply filesystem event",
					zap.String("op", ev.Op.String()),
					zap.String("path", ev.Path),
					zap.Error(err))
				continue
			}
			if r.onChange != nil {
				r.onChange()
			}
		}
	}
}

// Apply reconciles a single event.
func (r *Reconciler) Apply(ctx context.Context, ev watcher.Event) error {
	switch ev.Op {
	case watcher.OpCreated:
		return r.applyCreated(ctx, ev)
	case watcher.OpDeleted:
		return r.applyDeleted(ev)
	case watcher.OpMoved:
		return r.applyMoved(ctx, ev)
	case watcher.OpModified:
		return r.applyModified(ev)
	}
	return nil
}

// parentFor resolves the catalog container holding a path. Paths whose
// parent directory is not in the catalog are outside the shares.
func (r *Reconciler) parentFor(path string) (int64, bool, error) {
	parentPath := ContainerPath(filepath.Dir(path))
	id, err := r.store.ObjectIDByPath(parentPath)
	if errors.Is(err, catalog.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *Reconciler) applyCreated(ctx context.Context, ev watcher.Event) error {
	parentID, ok, err := r.parentFor(ev.Path)
	if err != nil || !ok {
		return err
	}
	if ev.IsDir {
		return r.builder.ScanTree(ctx, ev.Path, parentID)
	}
	_, err = r.builder.InsertFile(ev.Path, parentID)
	return err
}

func (r *Reconciler) applyDeleted(ev watcher.Event) error {
	id, err := r.lookup(ev.Path, ev.IsDir)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.store.DeleteObject(id)
}

func (r *Reconciler) applyMoved(ctx context.Context, ev watcher.Event) error {
	id, err := r.lookup(ev.OldPath, ev.IsDir)
	if errors.Is(err, catalog.ErrNotFound) {
		// Moved in from outside the shares.
		return r.applyCreated(ctx, watcher.Event{Op: watcher.OpCreated, Path: ev.Path, IsDir: ev.IsDir})
	}
	if err != nil {
		return err
	}

	newParentID, ok, err := r.parentFor(ev.Path)
	if err != nil {
		return err
	}
	if !ok {
		// Moved out of the shares.
		return r.store.DeleteObject(id)
	}

	name := filepath.Base(ev.Path)
	if ev.IsDir {
		oldPrefix := ContainerPath(ev.OldPath)
		newPrefix := ContainerPath(ev.Path)
		if err := r.store.RewritePathPrefix(oldPrefix, newPrefix); err != nil {
			return err
		}
		if err := r.store.RenameObject(id, newPrefix, name, name); err != nil {
			return err
		}
		return r.store.RemapObject(id, newParentID)
	}

	if err := r.store.RenameObject(id, ev.Path, name, name); err != nil {
		return err
	}
	return r.store.RemapObject(id, newParentID)
}

func (r *Reconciler) applyModified(ev watcher.Event) error {
	id, err := r.store.ObjectIDByPath(ev.Path)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	obj, err := r.store.ObjectByID(id, "")
	if err != nil {
		return err
	}
	if obj.Details == nil {
		return nil
	}

	info, err := r.builder.meta.Extract(ev.Path, obj.Type)
	if err != nil {
		// The file may be mid-write; a later event will catch it.
		return nil
	}
	info.Detail.ID = obj.Details.ID
	return r.store.UpdateDetail(&info.Detail)
}

func (r *Reconciler) lookup(path string, isDir bool) (int64, error) {
	if isDir {
		return r.store.ObjectIDByPath(ContainerPath(path))
	}
	return r.store.ObjectIDByPath(path)
}
