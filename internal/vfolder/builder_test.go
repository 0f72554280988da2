package vfolder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fennec/internal/catalog"
)

func openSeededStore(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Open(zap.NewNop(), catalog.Config{
		Path: filepath.Join(t.TempDir(), "catalog.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tracks := []struct {
		name, artist, genre string
	}{
		{"alpha.mp3", "Abba", "pop"},
		{"beta.mp3", "Zeppelin", "rock"},
		{"gamma.mp3", "Zeppelin", "rock"},
	}
	for _, tr := range tracks {
		detailID, err := s.InsertDetail(&catalog.Detail{Size: 1, Artist: tr.artist, Genre: tr.genre})
		require.NoError(t, err)
		id := s.NextObjectID()
		require.NoError(t, s.InsertObject(&catalog.Object{
			ID: id, DetailID: detailID, Type: catalog.TypeMusicTrack,
			Path: "/music/" + tr.name, FileName: tr.name, Title: tr.name,
		}))
		require.NoError(t, s.InsertMapping(id, catalog.RootID, ""))
	}
	return s
}

func genreLayout(device string) *Layout {
	return &Layout{Devices: []Device{{
		Name: device,
		Nodes: []Node{{
			Kind:  KindFolder,
			Title: "Genres",
			Nodes: []Node{{Kind: KindProperty, Property: "genre", Class: "audio"}},
		}},
	}}}
}

func TestLoadLayoutParsesNestedNodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfolders.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[device]]
name = "tv"

  [[device.node]]
  kind = "folder"
  title = "Music"

    [[device.node.node]]
    kind = "property"
    property = "artist"
    class = "audio"

  [[device.node]]
  kind = "shared_dirs"
`), 0o644))

	layout, err := LoadLayout(path)
	require.NoError(t, err)
	require.Len(t, layout.Devices, 1)
	require.Len(t, layout.Devices[0].Nodes, 2)
	assert.Equal(t, "Music", layout.Devices[0].Nodes[0].Title)
	assert.Equal(t, "artist", layout.Devices[0].Nodes[0].Nodes[0].Property)
}

func TestLoadLayoutRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"missing device name": "[[device]]\n[[device.node]]\nkind = \"folder\"\ntitle = \"x\"\n",
		"unknown kind":        "[[device]]\nname = \"d\"\n[[device.node]]\nkind = \"bogus\"\n",
		"folder sans title":   "[[device]]\nname = \"d\"\n[[device.node]]\nkind = \"folder\"\n",
	} {
		path := filepath.Join(t.TempDir(), "layout.toml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := LoadLayout(path)
		assert.Error(t, err, name)
	}
}

func TestRebuildCreatesGenreTree(t *testing.T) {
	store := openSeededStore(t)
	b := NewBuilder(zap.NewNop(), store)
	require.NoError(t, b.Rebuild(context.Background(), genreLayout("tv")))

	roots, err := store.ObjectsByParent(catalog.RootID, "tv")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "Genres", roots[0].Title)

	genres, err := store.ObjectsByParent(roots[0].ID, "tv")
	require.NoError(t, err)
	require.Len(t, genres, 2)
	assert.Equal(t, "pop", genres[0].Title)
	assert.Equal(t, "rock", genres[1].Title)
	assert.Equal(t, catalog.TypeGenre, genres[0].Type)

	rock := genres[1]
	items, err := store.ObjectsByParent(rock.ID, "tv")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, catalog.TypeMusicTrack, item.Type)
		assert.Empty(t, item.Device, "items are mapped, not copied")
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	store := openSeededStore(t)
	b := NewBuilder(zap.NewNop(), store)
	layout := genreLayout("tv")

	require.NoError(t, b.Rebuild(context.Background(), layout))
	first, err := store.Stat()
	require.NoError(t, err)

	require.NoError(t, b.Rebuild(context.Background(), layout))
	second, err := store.Stat()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRebuildLeavesOtherDevicesAlone(t *testing.T) {
	store := openSeededStore(t)
	b := NewBuilder(zap.NewNop(), store)
	require.NoError(t, b.Rebuild(context.Background(), genreLayout("tv")))
	require.NoError(t, b.Rebuild(context.Background(), genreLayout("phone")))

	tvRoots, err := store.ObjectsByParent(catalog.RootID, "tv")
	require.NoError(t, err)
	assert.Len(t, tvRoots, 1)
	phoneRoots, err := store.ObjectsByParent(catalog.RootID, "phone")
	require.NoError(t, err)
	assert.Len(t, phoneRoots, 1)
}

func TestSplitNodeBucketsArtists(t *testing.T) {
	store := openSeededStore(t)
	b := NewBuilder(zap.NewNop(), store)
	layout := &Layout{Devices: []Device{{
		Name: "tv",
		Nodes: []Node{{
			Kind:  KindSplit,
			Field: "artist",
			Class: "audio",
		}},
	}}}
	require.NoError(t, b.Rebuild(context.Background(), layout))

	buckets, err := store.ObjectsByParent(catalog.RootID, "tv")
	require.NoError(t, err)
	require.Len(t, buckets, len(splitBuckets))

	byTitle := map[string]catalog.Object{}
	for _, bk := range buckets {
		byTitle[bk.Title] = bk
	}

	abc, err := store.ObjectsByParent(byTitle["ABC"].ID, "tv")
	require.NoError(t, err)
	assert.Len(t, abc, 1, "Abba lands in ABC")

	yz, err := store.ObjectsByParent(byTitle["YZ"].ID, "tv")
	require.NoError(t, err)
	assert.Len(t, yz, 2, "both Zeppelin tracks land in YZ")
}

func TestSharedDirsMirrorsRealRoots(t *testing.T) {
	store := openSeededStore(t)
	rootDir := store.NextObjectID()
	require.NoError(t, store.InsertObject(&catalog.Object{
		ID: rootDir, Type: catalog.TypeFolder, Path: "/music/", Title: "music",
	}))
	require.NoError(t, store.InsertMapping(rootDir, catalog.RootID, ""))

	b := NewBuilder(zap.NewNop(), store)
	layout := &Layout{Devices: []Device{{
		Name:  "tv",
		Nodes: []Node{{Kind: KindSharedDirs}},
	}}}
	require.NoError(t, b.Rebuild(context.Background(), layout))

	roots, err := store.ObjectsByParent(catalog.RootID, "tv")
	require.NoError(t, err)
	titles := make([]string, 0, len(roots))
	for _, r := range roots {
		titles = append(titles, r.Title)
	}
	assert.Contains(t, titles, "music")
}
