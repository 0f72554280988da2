package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(zap.NewNop(), Config{Path: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertContainer(t *testing.T, s *Store, parentID int64, path, title string) int64 {
	t.Helper()
	id := s.NextObjectID()
	require.NoError(t, s.InsertObject(&Object{
		ID: id, Type: TypeFolder, Path: path, Title: title,
	}))
	require.NoError(t, s.InsertMapping(id, parentID, ""))
	return id
}

func insertTrack(t *testing.T, s *Store, parentID int64, path, name string) int64 {
	t.Helper()
	detailID, err := s.InsertDetail(&Detail{Size: 123, Artist: "artist", Genre: "rock"})
	require.NoError(t, err)
	id := s.NextObjectID()
	require.NoError(t, s.InsertObject(&Object{
		ID: id, DetailID: detailID, Type: TypeMusicTrack,
		Path: path, FileName: name, Title: name, MimeType: "audio/mpeg",
	}))
	require.NoError(t, s.InsertMapping(id, parentID, ""))
	return id
}

func TestObjectIDsAreMonotonic(t *testing.T) {
	s := openTestStore(t)
	a := s.NextObjectID()
	b := s.NextObjectID()
	assert.Equal(t, a+1, b)
}

func TestObjectIDsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")

	s, err := Open(zap.NewNop(), Config{Path: path})
	require.NoError(t, err)
	id := s.NextObjectID()
	require.NoError(t, s.InsertObject(&Object{ID: id, Type: TypeFolder, Path: "/music/"}))
	require.NoError(t, s.Close())

	s, err = Open(zap.NewNop(), Config{Path: path})
	require.NoError(t, err)
	defer s.Close()
	assert.Greater(t, s.NextObjectID(), id)
}

func TestVirtualIDsNeverCollideWithRealIDs(t *testing.T) {
	s := openTestStore(t)
	real := s.NextObjectID()
	virtual := s.NextVirtualID()
	assert.Greater(t, virtual, real)
	assert.Greater(t, s.NextObjectID(), virtual)
}

func TestInsertAndLookupByPath(t *testing.T) {
	s := openTestStore(t)
	id := insertTrack(t, s, RootID, "/music/song.mp3", "song.mp3")

	got, err := s.ObjectIDByPath("/music/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = s.ObjectIDByPath("/music/other.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestObjectByIDLoadsDetails(t *testing.T) {
	s := openTestStore(t)
	id := insertTrack(t, s, RootID, "/music/song.mp3", "song.mp3")

	o, err := s.ObjectByID(id, "")
	require.NoError(t, err)
	require.NotNil(t, o.Details)
	assert.Equal(t, "artist", o.Details.Artist)
	assert.Equal(t, int64(123), o.Details.Size)
	assert.Equal(t, TypeMusicTrack, o.Type)
}

func TestObjectsByParentOrdersContainersFirst(t *testing.T) {
	s := openTestStore(t)
	insertTrack(t, s, RootID, "/music/a.mp3", "a.mp3")
	insertContainer(t, s, RootID, "/music/zfolder/", "zfolder")

	children, err := s.ObjectsByParent(RootID, "")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "zfolder", children[0].Title)
	assert.Equal(t, "a.mp3", children[1].Title)
}

func TestDeleteItemRemovesDetailAndMapping(t *testing.T) {
	s := openTestStore(t)
	id := insertTrack(t, s, RootID, "/music/song.mp3", "song.mp3")

	require.NoError(t, s.DeleteObject(id))

	_, err := s.ObjectByID(id, "")
	assert.ErrorIs(t, err, ErrNotFound)
	children, err := s.ObjectsByParent(RootID, "")
	require.NoError(t, err)
	assert.Empty(t, children)

	st, err := s.Stat()
	require.NoError(t, err)
	assert.Zero(t, st.Items)
	assert.Zero(t, st.Mappings)
}

func TestDeleteContainerCascades(t *testing.T) {
	s := openTestStore(t)
	dir := insertContainer(t, s, RootID, "/music/album/", "album")
	sub := insertContainer(t, s, dir, "/music/album/disc1/", "disc1")
	insertTrack(t, s, sub, "/music/album/disc1/song.mp3", "song.mp3")
	outside := insertTrack(t, s, RootID, "/music/other.mp3", "other.mp3")

	require.NoError(t, s.DeleteObject(dir))

	locals, err := s.LocalObjects()
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.Equal(t, outside, locals[0].ID)

	st, err := s.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Mappings)
	assert.Equal(t, int64(1), st.Items)
	assert.Zero(t, st.Containers)
}

func TestDeleteContainerDoesNotMatchSiblingPrefix(t *testing.T) {
	s := openTestStore(t)
	dir := insertContainer(t, s, RootID, "/music/rock/", "rock")
	insertTrack(t, s, dir, "/music/rock/a.mp3", "a.mp3")
	sibling := insertContainer(t, s, RootID, "/music/rockabilly/", "rockabilly")
	kept := insertTrack(t, s, sibling, "/music/rockabilly/b.mp3", "b.mp3")

	require.NoError(t, s.DeleteObject(dir))

	_, err := s.ObjectByID(kept, "")
	assert.NoError(t, err)
	_, err = s.ObjectByID(sibling, "")
	assert.NoError(t, err)
}

func TestRewritePathPrefix(t *testing.T) {
	s := openTestStore(t)
	dir := insertContainer(t, s, RootID, "/music/old/", "old")
	track := insertTrack(t, s, dir, "/music/old/song.mp3", "song.mp3")

	require.NoError(t, s.RewritePathPrefix("/music/old/", "/music/new/"))

	got, err := s.ObjectIDByPath("/music/new/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, track, got)
	_, err = s.ObjectIDByPath("/music/old/song.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRewritePathPrefixMultiByte(t *testing.T) {
	s := openTestStore(t)
	dir := insertContainer(t, s, RootID, "/música/", "música")
	track := insertTrack(t, s, dir, "/música/a.mp3", "a.mp3")

	require.NoError(t, s.RewritePathPrefix("/música/", "/tunes/"))

	got, err := s.ObjectIDByPath("/tunes/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, track, got)
}

func TestDeletePlaylistDoesNotMatchSiblingPrefix(t *testing.T) {
	s := openTestStore(t)
	pl := s.NextObjectID()
	require.NoError(t, s.InsertObject(&Object{
		ID: pl, Type: TypePlaylist, Path: "/music/list.m3u", Title: "list",
	}))
	require.NoError(t, s.InsertMapping(pl, RootID, ""))
	entry := insertTrack(t, s, pl, "/music/a.mp3", "a.mp3")
	sibling := insertTrack(t, s, RootID, "/music/list.m3u8", "list.m3u8")

	require.NoError(t, s.DeleteObject(pl))

	_, err := s.ObjectByID(pl, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ObjectByID(sibling, "")
	assert.NoError(t, err)

	// The entry keeps its row but loses its edge under the playlist.
	_, err = s.ObjectByID(entry, "")
	assert.NoError(t, err)
	children, err := s.ObjectsByParent(pl, "")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestPurgeDeviceLeavesRealTree(t *testing.T) {
	s := openTestStore(t)
	track := insertTrack(t, s, RootID, "/music/song.mp3", "song.mp3")

	vid := s.NextVirtualID()
	require.NoError(t, s.InsertObject(&Object{
		ID: vid, Type: TypeGenre, Path: "virtual:genre:rock", Title: "rock", Device: "dev",
	}))
	require.NoError(t, s.InsertMapping(vid, RootID, "dev"))
	require.NoError(t, s.InsertMapping(track, vid, "dev"))

	require.NoError(t, s.PurgeDevice("dev"))

	st, err := s.Stat()
	require.NoError(t, err)
	assert.Zero(t, st.Virtual)
	assert.Equal(t, int64(1), st.Items)
	assert.Equal(t, int64(1), st.Mappings)
}

func TestBrowseDeviceTreeFallsBackToRealItems(t *testing.T) {
	s := openTestStore(t)
	track := insertTrack(t, s, RootID, "/music/song.mp3", "song.mp3")

	vid := s.NextVirtualID()
	require.NoError(t, s.InsertObject(&Object{
		ID: vid, Type: TypeGenre, Path: "virtual:genre:rock", Title: "rock", Device: "dev",
	}))
	require.NoError(t, s.InsertMapping(vid, RootID, "dev"))
	require.NoError(t, s.InsertMapping(track, vid, "dev"))

	roots, err := s.ObjectsByParent(RootID, "dev")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "rock", roots[0].Title)

	children, err := s.ObjectsByParent(vid, "dev")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "song.mp3", children[0].Title)
	assert.Equal(t, "/music/song.mp3", children[0].Path)
}

func TestDistinctDetailValues(t *testing.T) {
	s := openTestStore(t)
	insertTrack(t, s, RootID, "/music/a.mp3", "a.mp3")
	insertTrack(t, s, RootID, "/music/b.mp3", "b.mp3")

	genres, err := s.DistinctDetailValues("genre", Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"rock"}, genres)

	_, err = s.DistinctDetailValues("path", Filter{})
	assert.Error(t, err)
}

func TestItemsMatchingFilter(t *testing.T) {
	s := openTestStore(t)
	insertTrack(t, s, RootID, "/music/a.mp3", "a.mp3")

	f := Filter{}.And("d.A_GENRE = ?", "rock")
	items, err := s.ItemsMatching(TypeAudioItem, TypeAudioBroadcast, f)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	f = Filter{}.And("d.A_GENRE = ?", "jazz")
	items, err = s.ItemsMatching(TypeAudioItem, TypeAudioBroadcast, f)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestTruncateKeepsIDAllocatorMonotonic(t *testing.T) {
	s := openTestStore(t)
	id := insertTrack(t, s, RootID, "/music/a.mp3", "a.mp3")

	require.NoError(t, s.TruncateAll())
	assert.Greater(t, s.NextObjectID(), id)

	st, err := s.Stat()
	require.NoError(t, err)
	assert.Zero(t, st.Items)
}

func TestTransactionIsReentrant(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Begin())
	require.NoError(t, s.Begin())
	insertTrack(t, s, RootID, "/music/a.mp3", "a.mp3")
	require.NoError(t, s.Commit())
	require.NoError(t, s.Commit())

	st, err := s.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Items)
}
