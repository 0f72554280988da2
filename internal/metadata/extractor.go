// Package metadata turns media files into catalog detail rows. The
// registry dispatches on file extension; each media class has its own
// extractor and a failed extraction marks the file as unsupported so
// the scanner can skip it.
package metadata

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"fennec/internal/catalog"
)

// Info is the result of an extraction: the detail row plus a display
// title when the file carries one.
type Info struct {
	Detail catalog.Detail
	Title  string
}

// Extractor fills an Info from a media file.
type Extractor interface {
	Extract(path string) (*Info, error)
}

type kind struct {
	objectType catalog.ObjectType
	mimeType   string
}

// extensions maps supported file extensions to object type and MIME
// type. Playlists are containers; their entries are resolved in a
// separate pass after the scan.
var extensions = map[string]kind{
	".mp3":  {catalog.TypeMusicTrack, "audio/mpeg"},
	".ogg":  {catalog.TypeMusicTrack, "application/ogg"},
	".flac": {catalog.TypeMusicTrack, "audio/x-flac"},
	".m4a":  {catalog.TypeMusicTrack, "audio/mp4"},
	".wav":  {catalog.TypeAudioItem, "audio/x-wav"},

	".jpg":  {catalog.TypePhoto, "image/jpeg"},
	".jpeg": {catalog.TypePhoto, "image/jpeg"},
	".png":  {catalog.TypeImageItem, "image/png"},
	".gif":  {catalog.TypeImageItem, "image/gif"},
	".bmp":  {catalog.TypeImageItem, "image/bmp"},

	".mpg":  {catalog.TypeMovie, "video/mpeg"},
	".mpeg": {catalog.TypeMovie, "video/mpeg"},
	".avi":  {catalog.TypeMovie, "video/x-msvideo"},
	".wmv":  {catalog.TypeMovie, "video/x-ms-wmv"},
	".mp4":  {catalog.TypeMovie, "video/mp4"},
	".mkv":  {catalog.TypeMovie, "video/x-matroska"},
	".vob":  {catalog.TypeMovie, "video/mpeg"},

	".m3u": {catalog.TypePlaylist, "audio/x-mpegurl"},
	".pls": {catalog.TypePlaylist, "audio/x-scpls"},
}

// TypeForPath classifies a file by extension.
func TypeForPath(path string) (catalog.ObjectType, string, bool) {
	k, ok := extensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return catalog.TypeUnknown, "", false
	}
	return k.objectType, k.mimeType, true
}

// Registry dispatches extraction by object type.
type Registry struct {
	log        *zap.Logger
	extractors map[catalog.ObjectType]Extractor
}

// NewRegistry builds a registry with the default extractors.
func NewRegistry(log *zap.Logger) *Registry {
	r := &Registry{
		log:        log.With(zap.String("component", "metadata")),
		extractors: make(map[catalog.ObjectType]Extractor),
	}
	r.Register(catalog.TypeMusicTrack, &audioExtractor{})
	r.Register(catalog.TypeAudioItem, &audioExtractor{})
	r.Register(catalog.TypePhoto, &imageExtractor{})
	r.Register(catalog.TypeImageItem, &imageExtractor{})
	r.Register(catalog.TypeMovie, &videoExtractor{})
	r.Register(catalog.TypeVideoItem, &videoExtractor{})
	return r
}

// Register installs an extractor for a type, replacing any default.
func (r *Registry) Register(t catalog.ObjectType, e Extractor) {
	r.extractors[t] = e
}

// Extract runs the extractor registered for the type. Files of a
// supported extension with no extractor still get a size-only detail.
func (r *Registry) Extract(path string, t catalog.ObjectType) (*Info, error) {
	e, ok := r.extractors[t]
	if !ok {
		return sizeOnly(path)
	}
	info, err := e.Extract(path)
	if err != nil {
		r.log.Debug("extraction failed",
			zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return info, nil
}

func sizeOnly(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Info{Detail: catalog.Detail{Size: fi.Size()}}, nil
}

type audioExtractor struct{}

func (audioExtractor) Extract(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}

	info := &Info{
		Title: m.Title(),
		Detail: catalog.Detail{
			Size:   fi.Size(),
			Artist: m.Artist(),
			Album:  m.Album(),
			Genre:  m.Genre(),
			Year:   m.Year(),
		},
	}
	if track, _ := m.Track(); track > 0 {
		info.Detail.TrackNumber = track
	}
	if pic := m.Picture(); pic != nil {
		info.Detail.AlbumArtMime = pic.MIMEType
	}
	return info, nil
}

type imageExtractor struct{}

func (imageExtractor) Extract(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &Info{Detail: catalog.Detail{
		Size:   fi.Size(),
		Width:  cfg.Width,
		Height: cfg.Height,
	}}, nil
}

type videoExtractor struct{}

func (videoExtractor) Extract(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	// Sniff the container format; a mismatch between extension and
	// magic bytes rejects the file rather than serving it with a
	// wrong MIME type.
	t, err := filetype.MatchFile(path)
	if err != nil {
		return nil, err
	}
	if t == filetype.Unknown {
		return nil, errors.New("unrecognised video container")
	}

	info := &Info{Detail: catalog.Detail{Size: fi.Size()}}
	info.Detail.VideoCodec = t.Extension
	return info, nil
}
