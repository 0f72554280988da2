package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fennec/internal/catalog"
)

// playlistEntry is one resolved line of a playlist file. Location is
// an absolute path for local entries or a URL for remote ones.
type playlistEntry struct {
	Location string
	Title    string
}

func (e playlistEntry) remote() bool {
	return strings.Contains(e.Location, "://")
}

// resolvePlaylists links playlist containers to their entries. Local
// entries already in the catalog are mapped in place, new local files
// are inserted under the playlist, and remote entries become audio
// broadcast items.
func (b *Builder) resolvePlaylists(ctx context.Context) error {
	playlists, err := b.store.ObjectsOfType(catalog.TypePlaylist)
	if err != nil {
		return err
	}
	for _, pl := range playlists {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := parsePlaylist(pl.Path)
		if err != nil {
			b.log.Warn("failed to parse playlist",
				zap.String("path", pl.Path), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			if err := b.resolveEntry(pl.ID, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Builder) resolveEntry(playlistID int64, entry playlistEntry) error {
	if entry.remote() {
		return b.resolveRemoteEntry(playlistID, entry)
	}

	id, err := b.store.ObjectIDByPath(entry.Location)
	switch {
	case err == nil:
		return b.ensureMapping(id, playlistID)
	case errors.Is(err, catalog.ErrNotFound):
		if _, statErr := os.Stat(entry.Location); statErr != nil {
			return nil
		}
		_, err := b.insertFile(entry.Location, playlistID, true)
		return err
	default:
		return err
	}
}

func (b *Builder) resolveRemoteEntry(playlistID int64, entry playlistEntry) error {
	id, err := b.store.ObjectIDByPath(entry.Location)
	switch {
	case err == nil:
		return b.ensureMapping(id, playlistID)
	case errors.Is(err, catalog.ErrNotFound):
	default:
		return err
	}

	title := entry.Title
	if title == "" {
		title = entry.Location
	}
	obj := &catalog.Object{
		ID:       b.store.NextObjectID(),
		Type:     catalog.TypeAudioBroadcast,
		Path:     entry.Location,
		Title:    title,
		MD5:      pathMD5(entry.Location),
		MimeType: "audio/mpeg",
	}
	if err := b.store.InsertObject(obj); err != nil {
		return err
	}
	return b.store.InsertMapping(obj.ID, playlistID, "")
}

func (b *Builder) ensureMapping(objectID, parentID int64) error {
	ok, err := b.store.HasMapping(objectID, parentID)
	if err != nil || ok {
		return err
	}
	return b.store.InsertMapping(objectID, parentID, "")
}

func parsePlaylist(path string) ([]playlistEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	baseDir := filepath.Dir(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u":
		return parseM3U(f, baseDir)
	case ".pls":
		return parsePLS(f, baseDir)
	}
	return nil, fmt.Errorf("scanner: unsupported playlist format %s", path)
}

func parseM3U(r io.Reader, baseDir string) ([]playlistEntry, error) {
	var entries []playlistEntry
	var pendingTitle string

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		switch {
		case line == "" || line == "#EXTM3U":
		case strings.HasPrefix(line, "#EXTINF:"):
			// #EXTINF:<seconds>,<title>
			if i := strings.Index(line, ","); i >= 0 {
				pendingTitle = strings.TrimSpace(line[i+1:])
			}
		case strings.HasPrefix(line, "#"):
		default:
			entries = append(entries, playlistEntry{
				Location: resolveLocation(line, baseDir),
				Title:    pendingTitle,
			})
			pendingTitle = ""
		}
	}
	return entries, s.Err()
}

func parsePLS(r io.Reader, baseDir string) ([]playlistEntry, error) {
	files := make(map[int]string)
	titles := make(map[int]string)

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(strings.ToLower(key), "file"):
			if n, err := strconv.Atoi(key[4:]); err == nil {
				files[n] = value
			}
		case strings.HasPrefix(strings.ToLower(key), "title"):
			if n, err := strconv.Atoi(key[5:]); err == nil {
				titles[n] = value
			}
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	var indexes []int
	for n := range files {
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)

	entries := make([]playlistEntry, 0, len(files))
	for _, n := range indexes {
		entries = append(entries, playlistEntry{
			Location: resolveLocation(files[n], baseDir),
			Title:    titles[n],
		})
	}
	return entries, nil
}

func resolveLocation(loc, baseDir string) string {
	if strings.Contains(loc, "://") || filepath.IsAbs(loc) {
		return loc
	}
	return filepath.Join(baseDir, loc)
}
