// Package scanner populates the catalog from the configured share
// directories and keeps it current as the filesystem changes.
package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fennec/internal/catalog"
	"fennec/internal/metadata"
)

// Mode selects what a rebuild does.
type Mode int

const (
	// ModeFull wipes the catalog and scans everything.
	ModeFull Mode = iota + 1
	// ModeAddNew scans for files not yet in the catalog.
	ModeAddNew
	// ModeRemoveMissing drops catalog rows whose files are gone.
	ModeRemoveMissing
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeAddNew:
		return "add-new"
	case ModeRemoveMissing:
		return "remove-missing"
	}
	return "unknown"
}

// ParseMode maps the wire names used by the admin API to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return ModeFull, nil
	case "add-new", "addnew":
		return ModeAddNew, nil
	case "remove-missing", "removemissing":
		return ModeRemoveMissing, nil
	}
	return 0, fmt.Errorf("scanner: unknown rebuild mode %q", s)
}

// ErrRebuildRunning is returned when a rebuild is requested while one
// is already in flight.
var ErrRebuildRunning = errors.New("scanner: rebuild already running")

// Importer adds externally sourced entries to the catalog after the
// filesystem scan completes.
type Importer interface {
	Name() string
	Import(ctx context.Context, store *catalog.Store) error
}

// Notifier receives scan lifecycle events.
type Notifier interface {
	ScanStarted(mode string)
	ScanFinished(mode string, elapsed time.Duration, stats catalog.Stats)
}

// Config configures the builder.
type Config struct {
	Shares []string
}

// Builder runs catalog rebuilds. Only one rebuild runs at a time;
// concurrent requests are rejected, not queued.
type Builder struct {
	log    *zap.Logger
	store  *catalog.Store
	meta   *metadata.Registry
	config Config

	importers []Importer
	notifier  Notifier
	onChange  func()

	rebuilding atomic.Bool
}

// Option customises a Builder.
type Option func(*Builder)

// WithImporters registers post-scan importers.
func WithImporters(imps ...Importer) Option {
	return func(b *Builder) { b.importers = append(b.importers, imps...) }
}

// WithNotifier registers a scan lifecycle listener.
func WithNotifier(n Notifier) Option {
	return func(b *Builder) { b.notifier = n }
}

// WithOnChange registers a callback fired after any catalog mutation
// pass, used to invalidate browse caches.
func WithOnChange(fn func()) Option {
	return func(b *Builder) { b.onChange = fn }
}

// New creates a builder over the given shares.
func New(log *zap.Logger, store *catalog.Store, meta *metadata.Registry, cfg Config, opts ...Option) (*Builder, error) {
	if len(cfg.Shares) == 0 {
		return nil, errors.New("scanner: at least one share directory is required")
	}
	cleaned := make([]string, 0, len(cfg.Shares))
	for _, share := range cfg.Shares {
		abs, err := filepath.Abs(share)
		if err != nil {
			return nil, fmt.Errorf("scanner: share %s: %w", share, err)
		}
		cleaned = append(cleaned, abs)
	}
	cfg.Shares = cleaned

	b := &Builder{
		log:    log.With(zap.String("module", "scanner")),
		store:  store,
		meta:   meta,
		config: cfg,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Rebuilding reports whether a rebuild is in flight. Filesystem events
// are dropped while it is, since the scan will pick the changes up.
func (b *Builder) Rebuilding() bool { return b.rebuilding.Load() }

// Start launches a rebuild in the background.
func (b *Builder) Start(ctx context.Context, mode Mode) error {
	if !b.rebuilding.CompareAndSwap(false, true) {
		return ErrRebuildRunning
	}
	go func() {
		defer b.rebuilding.Store(false)
		if err := b.rebuild(ctx, mode); err != nil {
			b.log.Error("rebuild failed", zap.String("mode", mode.String()), zap.Error(err))
		}
	}()
	return nil
}

// Rebuild runs a rebuild synchronously.
func (b *Builder) Rebuild(ctx context.Context, mode Mode) error {
	if !b.rebuilding.CompareAndSwap(false, true) {
		return ErrRebuildRunning
	}
	defer b.rebuilding.Store(false)
	return b.rebuild(ctx, mode)
}

// RunExclusive runs fn under the rebuild gate. Virtual tree
// regeneration goes through here so it can never interleave with a
// scan; a held gate returns ErrRebuildRunning.
func (b *Builder) RunExclusive(fn func() error) error {
	if !b.rebuilding.CompareAndSwap(false, true) {
		return ErrRebuildRunning
	}
	defer b.rebuilding.Store(false)
	return fn()
}

func (b *Builder) rebuild(ctx context.Context, mode Mode) error {
	start := time.Now()
	b.log.Info("rebuild started", zap.String("mode", mode.String()))
	if b.notifier != nil {
		b.notifier.ScanStarted(mode.String())
	}

	var err error
	switch mode {
	case ModeFull:
		if err = b.store.TruncateAll(); err == nil {
			err = b.scanShares(ctx, false)
		}
	case ModeAddNew:
		err = b.scanShares(ctx, true)
	case ModeRemoveMissing:
		err = b.removeMissing(ctx)
	default:
		err = fmt.Errorf("scanner: unknown mode %d", mode)
	}
	if err != nil {
		return err
	}

	if mode != ModeRemoveMissing {
		if err := b.resolvePlaylists(ctx); err != nil {
			return err
		}
		for _, imp := range b.importers {
			if err := imp.Import(ctx, b.store); err != nil {
				b.log.Warn("importer failed",
					zap.String("importer", imp.Name()), zap.Error(err))
			}
		}
	}

	stats, err := b.store.Stat()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	b.log.Info("rebuild finished",
		zap.String("mode", mode.String()),
		zap.Duration("elapsed", elapsed),
		zap.Int64("containers", stats.Containers),
		zap.Int64("items", stats.Items),
	)
	if b.notifier != nil {
		b.notifier.ScanFinished(mode.String(), elapsed, stats)
	}
	if b.onChange != nil {
		b.onChange()
	}
	return nil
}

type workItem struct {
	dir      string
	parentID int64
}

// scanShares walks every share with an explicit worklist so deeply
// nested trees cannot exhaust the stack.
func (b *Builder) scanShares(ctx context.Context, skipExisting bool) error {
	var work []workItem
	for _, share := range b.config.Shares {
		if _, err := os.Stat(share); err != nil {
			b.log.Warn("share root unreachable, skipping",
				zap.String("share", share), zap.Error(err))
			continue
		}
		id, err := b.ensureContainer(share, catalog.RootID, skipExisting)
		if err != nil {
			return err
		}
		work = append(work, workItem{dir: share, parentID: id})
	}

	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := work[len(work)-1]
		work = work[:len(work)-1]

		entries, err := os.ReadDir(item.dir)
		if err != nil {
			b.log.Warn("failed to read directory",
				zap.String("dir", item.dir), zap.Error(err))
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		if err := b.store.Begin(); err != nil {
			return err
		}
		for _, entry := range entries {
			path := filepath.Join(item.dir, entry.Name())
			if entry.IsDir() {
				id, err := b.ensureContainer(path, item.parentID, skipExisting)
				if err != nil {
					_ = b.store.Rollback()
					return err
				}
				work = append(work, workItem{dir: path, parentID: id})
				continue
			}
			if _, err := b.insertFile(path, item.parentID, skipExisting); err != nil {
				_ = b.store.Rollback()
				return err
			}
		}
		if err := b.store.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ScanTree scans one directory subtree into the catalog, skipping
// entries already present. Used by the reconciler for moved-in
// directories.
func (b *Builder) ScanTree(ctx context.Context, dir string, parentID int64) error {
	id, err := b.ensureContainer(dir, parentID, true)
	if err != nil {
		return err
	}
	work := []workItem{{dir: dir, parentID: id}}
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := work[len(work)-1]
		work = work[:len(work)-1]
		entries, err := os.ReadDir(item.dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(item.dir, entry.Name())
			if entry.IsDir() {
				id, err := b.ensureContainer(path, item.parentID, true)
				if err != nil {
					return err
				}
				work = append(work, workItem{dir: path, parentID: id})
				continue
			}
			if _, err := b.insertFile(path, item.parentID, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// ContainerPath is the canonical catalog path of a directory: absolute
// with a trailing separator, so prefix matching never crosses sibling
// directories that share a name prefix.
func ContainerPath(dir string) string {
	return strings.TrimRight(dir, string(os.PathSeparator)) + string(os.PathSeparator)
}

func (b *Builder) ensureContainer(dir string, parentID int64, skipExisting bool) (int64, error) {
	path := ContainerPath(dir)
	if skipExisting {
		if id, err := b.store.ObjectIDByPath(path); err == nil {
			return id, nil
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return 0, err
		}
	}
	id := b.store.NextObjectID()
	obj := &catalog.Object{
		ID:       id,
		Type:     catalog.TypeFolder,
		Path:     path,
		FileName: filepath.Base(dir),
		Title:    filepath.Base(dir),
		MD5:      pathMD5(path),
	}
	if err := b.store.InsertObject(obj); err != nil {
		return 0, err
	}
	if err := b.store.InsertMapping(id, parentID, ""); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertFile adds a single media file to the catalog. Unsupported
// extensions and files whose metadata cannot be read are skipped; the
// returned id is zero in that case.
func (b *Builder) InsertFile(path string, parentID int64) (int64, error) {
	return b.insertFile(path, parentID, true)
}

func (b *Builder) insertFile(path string, parentID int64, skipExisting bool) (int64, error) {
	objectType, mimeType, ok := metadata.TypeForPath(path)
	if !ok {
		return 0, nil
	}
	if skipExisting {
		if id, err := b.store.ObjectIDByPath(path); err == nil {
			return id, nil
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return 0, err
		}
	}

	name := filepath.Base(path)
	obj := &catalog.Object{
		Type:     objectType,
		Path:     path,
		FileName: name,
		Title:    name,
		MD5:      pathMD5(path),
		MimeType: mimeType,
	}

	if objectType == catalog.TypePlaylist {
		// Playlist containers carry no media metadata; the entry
		// resolution pass runs after the scan.
		obj.Title = strings.TrimSuffix(name, filepath.Ext(name))
	} else {
		info, err := b.meta.Extract(path, objectType)
		if err != nil {
			b.log.Debug("skipping unreadable file",
				zap.String("path", path), zap.Error(err))
			return 0, nil
		}
		if info.Title != "" {
			obj.Title = info.Title
		}
		detailID, err := b.store.InsertDetail(&info.Detail)
		if err != nil {
			return 0, err
		}
		obj.DetailID = detailID
	}

	obj.ID = b.store.NextObjectID()
	if err := b.store.InsertObject(obj); err != nil {
		return 0, err
	}
	if err := b.store.InsertMapping(obj.ID, parentID, ""); err != nil {
		return 0, err
	}
	return obj.ID, nil
}

// removeMissing deletes rows whose files no longer exist. Objects
// under an unreachable share root are kept, so an unmounted disk does
// not empty the catalog.
func (b *Builder) removeMissing(ctx context.Context) error {
	reachable := make(map[string]bool, len(b.config.Shares))
	for _, share := range b.config.Shares {
		_, err := os.Stat(share)
		reachable[ContainerPath(share)] = err == nil
	}

	objects, err := b.store.LocalObjects()
	if err != nil {
		return err
	}
	removed := 0
	for _, o := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.Type == catalog.TypeAudioBroadcast || strings.Contains(o.Path, "://") {
			continue
		}
		if !underReachableShare(o.Path, reachable) {
			continue
		}
		if _, err := os.Stat(strings.TrimRight(o.Path, string(os.PathSeparator))); err == nil {
			continue
		}
		err := b.store.DeleteObject(o.ID)
		if errors.Is(err, catalog.ErrNotFound) {
			// Already gone, a parent delete cascaded over it.
			continue
		}
		if err != nil {
			return err
		}
		removed++
	}
	b.log.Info("remove-missing pass complete", zap.Int("removed", removed))
	return nil
}

func underReachableShare(path string, reachable map[string]bool) bool {
	for share, ok := range reachable {
		if strings.HasPrefix(path, share) {
			return ok
		}
	}
	return false
}

func pathMD5(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}
