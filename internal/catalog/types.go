// Package catalog is the persistent content catalog backing the media
// server. Objects form a tree rooted at parent id 0; containers carry
// filesystem paths, items carry files, and virtual copies of both are
// tagged with the device name they were generated for.
package catalog

// ObjectType classifies a catalog object. Values below the item
// threshold are containers.
type ObjectType int

const (
	TypeUnknown ObjectType = 0

	TypeFolder   ObjectType = 1
	TypePlaylist ObjectType = 2
	TypeArtist   ObjectType = 4
	TypeAlbum    ObjectType = 6
	TypeGenre    ObjectType = 7

	typeItemMin ObjectType = 100

	TypeAudioItem      ObjectType = 100
	TypeMusicTrack     ObjectType = 101
	TypeAudioBroadcast ObjectType = 102
	TypeImageItem      ObjectType = 110
	TypePhoto          ObjectType = 111
	TypeVideoItem      ObjectType = 120
	TypeMovie          ObjectType = 121
)

// IsContainer reports whether the type denotes a container.
func (t ObjectType) IsContainer() bool { return t < typeItemMin }

// Object is one row of the catalog tree.
type Object struct {
	ID       int64
	ParentID int64
	DetailID int64
	Type     ObjectType
	Path     string
	FileName string
	Title    string
	MD5      string
	MimeType string
	Device   string
	Details  *Detail
}

// Detail holds per-item media metadata. Zero fields are stored as NULL
// or empty depending on the column.
type Detail struct {
	ID           int64
	Size         int64
	Duration     string
	Bitrate      int
	SampleRate   int
	Channels     int
	TrackNumber  int
	Year         int
	Width        int
	Height       int
	Artist       string
	Album        string
	Genre        string
	Description  string
	AudioCodec   string
	VideoCodec   string
	AlbumArtMime string
}

// RootID is the parent id of top-level share objects.
const RootID int64 = 0
