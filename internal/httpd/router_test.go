package httpd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fennec/internal/catalog"
	"fennec/internal/contentdir"
	"fennec/internal/scanner"
)

type fakeDirectory struct {
	objects map[int64]*catalog.Object
	entries []contentdir.Entry
}

func (f *fakeDirectory) Browse(parentID int64, device string) ([]contentdir.Entry, error) {
	return f.entries, nil
}

func (f *fakeDirectory) Resolve(objectID int64, device string) (*catalog.Object, error) {
	obj, ok := f.objects[objectID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return obj, nil
}

type fakeRebuilder struct {
	modes      []scanner.Mode
	err        error
	rebuilding bool
}

func (f *fakeRebuilder) Start(_ context.Context, mode scanner.Mode) error {
	if f.err != nil {
		return f.err
	}
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeRebuilder) Rebuilding() bool { return f.rebuilding }

func newTestRouter(t *testing.T, dir *fakeDirectory, rb *fakeRebuilder) *Router {
	t.Helper()
	return NewRouter(zap.NewNop(), RouterConfig{
		Directory: dir,
		Rebuilder: rb,
		Stats:     func() (catalog.Stats, error) { return catalog.Stats{Items: 3}, nil },
	})
}

func get(target string) *Request {
	return &Request{Method: "GET", Target: target, headers: map[string]string{}}
}

func post(target string) *Request {
	return &Request{Method: "POST", Target: target, headers: map[string]string{}}
}

func TestRouterUnknownPath(t *testing.T) {
	r := newTestRouter(t, &fakeDirectory{}, &fakeRebuilder{})
	assert.Equal(t, 404, r.Handle(get("/nope")).Status)
}

func TestRouterMediaServesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio bytes"), 0o644))

	dir := &fakeDirectory{objects: map[int64]*catalog.Object{
		7: {ID: 7, Type: catalog.TypeMusicTrack, Path: path, MimeType: "audio/mpeg"},
	}}
	r := newTestRouter(t, dir, &fakeRebuilder{})

	resp := r.Handle(get("/media/7"))
	require.NotNil(t, resp.File)
	defer resp.File.Close()
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "audio/mpeg", resp.ContentType)
	assert.Equal(t, int64(len("audio bytes")), resp.FileSize)
}

func TestRouterMediaErrors(t *testing.T) {
	dir := &fakeDirectory{objects: map[int64]*catalog.Object{
		1: {ID: 1, Type: catalog.TypeFolder, Path: "/music/"},
		2: {ID: 2, Type: catalog.TypeAudioBroadcast, Path: "http://radio.example.com/live"},
		3: {ID: 3, Type: catalog.TypeMusicTrack, Path: "/does/not/exist.mp3"},
	}}
	r := newTestRouter(t, dir, &fakeRebuilder{})

	assert.Equal(t, 400, r.Handle(get("/media/abc")).Status)
	assert.Equal(t, 400, r.Handle(post("/media/3")).Status)
	assert.Equal(t, 404, r.Handle(get("/media/99")).Status)
	assert.Equal(t, 404, r.Handle(get("/media/1")).Status, "containers are not streamable")
	assert.Equal(t, 404, r.Handle(get("/media/2")).Status, "remote broadcasts are not served")
	assert.Equal(t, 404, r.Handle(get("/media/3")).Status, "vanished file")
}

func TestRouterStatus(t *testing.T) {
	r := newTestRouter(t, &fakeDirectory{}, &fakeRebuilder{rebuilding: true})
	resp := r.Handle(get("/api/status"))
	require.Equal(t, 200, resp.Status)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &payload))
	assert.Equal(t, true, payload["rebuilding"])
	catalogStats := payload["catalog"].(map[string]any)
	assert.Equal(t, float64(3), catalogStats["items"])
}

func TestRouterBrowse(t *testing.T) {
	dir := &fakeDirectory{entries: []contentdir.Entry{{ID: 5, Title: "album", Container: true}}}
	r := newTestRouter(t, dir, &fakeRebuilder{})

	resp := r.Handle(get("/api/browse?parent=0"))
	require.Equal(t, 200, resp.Status)
	var payload struct {
		Parent  int64              `json:"parent"`
		Entries []contentdir.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &payload))
	require.Len(t, payload.Entries, 1)
	assert.Equal(t, "album", payload.Entries[0].Title)

	assert.Equal(t, 400, r.Handle(get("/api/browse?parent=abc")).Status)
}

func TestRouterRebuild(t *testing.T) {
	rb := &fakeRebuilder{}
	r := newTestRouter(t, &fakeDirectory{}, rb)

	resp := r.Handle(post("/api/rebuild?mode=add-new"))
	assert.Equal(t, 200, resp.Status)
	require.Len(t, rb.modes, 1)
	assert.Equal(t, scanner.ModeAddNew, rb.modes[0])

	assert.Equal(t, 400, r.Handle(post("/api/rebuild?mode=bogus")).Status)
	assert.Equal(t, 400, r.Handle(get("/api/rebuild")).Status)

	rb.err = scanner.ErrRebuildRunning
	assert.Equal(t, 503, r.Handle(post("/api/rebuild")).Status)
}

func TestRouterVFolderRebuild(t *testing.T) {
	r := newTestRouter(t, &fakeDirectory{}, &fakeRebuilder{})
	assert.Equal(t, 404, r.Handle(post("/api/vfolders/rebuild")).Status)

	called := false
	r = NewRouter(zap.NewNop(), RouterConfig{
		Directory: &fakeDirectory{},
		Rebuilder: &fakeRebuilder{},
		Stats:     func() (catalog.Stats, error) { return catalog.Stats{}, nil },
		VFolderRebuild: func(ctx context.Context) error {
			called = true
			return nil
		},
	})
	assert.Equal(t, 200, r.Handle(post("/api/vfolders/rebuild")).Status)
	assert.True(t, called)
}

func TestRouterVFolderRebuildBusy(t *testing.T) {
	r := NewRouter(zap.NewNop(), RouterConfig{
		Directory: &fakeDirectory{},
		Rebuilder: &fakeRebuilder{},
		Stats:     func() (catalog.Stats, error) { return catalog.Stats{}, nil },
		VFolderRebuild: func(ctx context.Context) error {
			return scanner.ErrRebuildRunning
		},
	})
	assert.Equal(t, 503, r.Handle(post("/api/vfolders/rebuild")).Status)
}
