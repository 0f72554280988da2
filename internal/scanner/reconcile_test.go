package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fennec/internal/catalog"
	"fennec/internal/watcher"
)

func newTestReconciler(t *testing.T, share string) (*Reconciler, *Builder, *catalog.Store) {
	t.Helper()
	b, store := newTestBuilder(t, []string{share})
	require.NoError(t, b.Rebuild(context.Background(), ModeFull))
	return NewReconciler(zap.NewNop(), store, b, nil), b, store
}

func TestReconcileFileCreated(t *testing.T) {
	share := t.TempDir()
	r, _, store := newTestReconciler(t, share)

	path := filepath.Join(share, "new.mp3")
	writeFile(t, path, "audio")
	require.NoError(t, r.Apply(context.Background(), watcher.Event{Op: watcher.OpCreated, Path: path}))

	id, err := store.ObjectIDByPath(path)
	require.NoError(t, err)
	obj, err := store.ObjectByID(id, "")
	require.NoError(t, err)
	assert.Equal(t, "new", obj.Title)
}

func TestReconcileCreatedOutsideSharesIsIgnored(t *testing.T) {
	share := t.TempDir()
	outside := t.TempDir()
	r, _, store := newTestReconciler(t, share)

	path := filepath.Join(outside, "stray.mp3")
	writeFile(t, path, "audio")
	require.NoError(t, r.Apply(context.Background(), watcher.Event{Op: watcher.OpCreated, Path: path}))

	_, err := store.ObjectIDByPath(path)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestReconcileDirectoryCreatedScansSubtree(t *testing.T) {
	share := t.TempDir()
	r, _, store := newTestReconciler(t, share)

	dir := filepath.Join(share, "album")
	writeFile(t, filepath.Join(dir, "track.mp3"), "audio")
	require.NoError(t, r.Apply(context.Background(), watcher.Event{Op: watcher.OpCreated, Path: dir, IsDir: true}))

	_, err := store.ObjectIDByPath(ContainerPath(dir))
	require.NoError(t, err)
	_, err = store.ObjectIDByPath(filepath.Join(dir, "track.mp3"))
	require.NoError(t, err)
}

func TestReconcileFileDeleted(t *testing.T) {
	share := t.TempDir()
	path := filepath.Join(share, "song.mp3")
	writeFile(t, path, "audio")
	r, _, store := newTestReconciler(t, share)

	require.NoError(t, r.Apply(context.Background(), watcher.Event{Op: watcher.OpDeleted, Path: path}))
	_, err := store.ObjectIDByPath(path)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestReconcileDirectoryDeletedCascades(t *testing.T) {
	share := t.TempDir()
	dir := filepath.Join(share, "album")
	writeFile(t, filepath.Join(dir, "track.mp3"), "audio")
	r, _, store := newTestReconciler(t, share)

	require.NoError(t, r.Apply(context.Background(), watcher.Event{Op: watcher.OpDeleted, Path: dir, IsDir: true}))
	_, err := store.ObjectIDByPath(ContainerPath(dir))
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = store.ObjectIDByPath(filepath.Join(dir, "track.mp3"))
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestReconcileFileMoved(t *testing.T) {
	share := t.TempDir()
	oldPath := filepath.Join(share, "old.mp3")
	writeFile(t, oldPath, "audio")
	writeFile(t, filepath.Join(share, "album", "placeholder.mp3"), "audio")
	r, _, store := newTestReconciler(t, share)

	id, err := store.ObjectIDByPath(oldPath)
	require.NoError(t, err)

	newPath := filepath.Join(share, "album", "new.mp3")
	require.NoError(t, os.Rename(oldPath, newPath))
	require.NoError(t, r.Apply(context.Background(), watcher.Event{
		Op: watcher.OpMoved, OldPath: oldPath, Path: newPath,
	}))

	got, err := store.ObjectIDByPath(newPath)
	require.NoError(t, err)
	assert.Equal(t, id, got, "identity survives a move")

	albumID, err := store.ObjectIDByPath(ContainerPath(filepath.Join(share, "album")))
	require.NoError(t, err)
	children, err := store.ObjectsByParent(albumID, "")
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestReconcileDirectoryMovedRewritesSubtree(t *testing.T) {
	share := t.TempDir()
	oldDir := filepath.Join(share, "oldname")
	writeFile(t, filepath.Join(oldDir, "track.mp3"), "audio")
	r, _, store := newTestReconciler(t, share)

	trackID, err := store.ObjectIDByPath(filepath.Join(oldDir, "track.mp3"))
	require.NoError(t, err)

	newDir := filepath.Join(share, "newname")
	require.NoError(t, os.Rename(oldDir, newDir))
	require.NoError(t, r.Apply(context.Background(), watcher.Event{
		Op: watcher.OpMoved, OldPath: oldDir, Path: newDir, IsDir: true,
	}))

	got, err := store.ObjectIDByPath(filepath.Join(newDir, "track.mp3"))
	require.NoError(t, err)
	assert.Equal(t, trackID, got)
	_, err = store.ObjectIDByPath(ContainerPath(oldDir))
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestReconcileModifiedUpdatesDetail(t *testing.T) {
	share := t.TempDir()
	path := filepath.Join(share, "song.mp3")
	writeFile(t, path, "audio")
	r, _, store := newTestReconciler(t, share)

	writeFile(t, path, "audio with much more data")
	require.NoError(t, r.Apply(context.Background(), watcher.Event{Op: watcher.OpModified, Path: path}))

	id, err := store.ObjectIDByPath(path)
	require.NoError(t, err)
	obj, err := store.ObjectByID(id, "")
	require.NoError(t, err)
	require.NotNil(t, obj.Details)
	assert.Equal(t, int64(len("audio with much more data")), obj.Details.Size)
}

func TestReconcileDropsEventsDuringRebuild(t *testing.T) {
	share := t.TempDir()
	r, b, store := newTestReconciler(t, share)
	b.rebuilding.Store(true)
	defer b.rebuilding.Store(false)

	events := make(chan watcher.Event, 1)
	path := filepath.Join(share, "new.mp3")
	writeFile(t, path, "audio")
	events <- watcher.Event{Op: watcher.OpCreated, Path: path}
	close(events)

	require.NoError(t, r.Run(context.Background(), events))
	_, err := store.ObjectIDByPath(path)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
