package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(zap.NewNop(), Config{
		Roots:          []string{root},
		MovePairWindow: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()
	return w
}

func waitFor(t *testing.T, w *Watcher, want Op) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Op == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestFileCreateAndRemove(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	path := filepath.Join(root, "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	ev := waitFor(t, w, OpCreated)
	assert.Equal(t, path, ev.Path)
	assert.False(t, ev.IsDir)

	require.NoError(t, os.Remove(path))
	ev = waitFor(t, w, OpDeleted)
	assert.Equal(t, path, ev.Path)
}

func TestDirectoryCreateIsWatchedRecursively(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	dir := filepath.Join(root, "album")
	require.NoError(t, os.Mkdir(dir, 0o755))
	ev := waitFor(t, w, OpCreated)
	assert.True(t, ev.IsDir)

	// A file inside the new directory must be seen too.
	time.Sleep(100 * time.Millisecond)
	inner := filepath.Join(dir, "track.mp3")
	require.NoError(t, os.WriteFile(inner, []byte("x"), 0o644))
	ev = waitFor(t, w, OpCreated)
	assert.Equal(t, inner, ev.Path)
}

func TestRenameWithinRootEmitsMove(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.mp3")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))

	w := startWatcher(t, root)

	newPath := filepath.Join(root, "new.mp3")
	require.NoError(t, os.Rename(oldPath, newPath))

	ev := waitFor(t, w, OpMoved)
	assert.Equal(t, oldPath, ev.OldPath)
	assert.Equal(t, newPath, ev.Path)
	assert.False(t, ev.IsDir)
}

func TestRenameOutOfRootBecomesDelete(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(root, "gone.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w := startWatcher(t, root)
	require.NoError(t, os.Rename(path, filepath.Join(outside, "gone.mp3")))

	ev := waitFor(t, w, OpDeleted)
	assert.Equal(t, path, ev.Path)
}

func TestWriteEmitsModified(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w := startWatcher(t, root)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("more")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ev := waitFor(t, w, OpModified)
	assert.Equal(t, path, ev.Path)
}
