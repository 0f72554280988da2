package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Config configures the catalog store.
type Config struct {
	Path        string
	BusyRetries int
	BusyDelay   time.Duration
}

// ErrNotFound is returned when an object id or path has no catalog row.
var ErrNotFound = errors.New("catalog: object not found")

// Store is the SQLite-backed catalog. All access is serialised through
// a single mutex and a single underlying connection, so writers never
// interleave and read snapshots are stable.
type Store struct {
	log *zap.Logger
	cfg Config

	mu sync.Mutex
	db *sql.DB
	tx *sql.Tx

	nextObjectID  int64
	nextVirtualID int64
}

// Open opens or creates the catalog database and seeds the id
// allocators from the highest ids already present.
func Open(log *zap.Logger, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("catalog: database path is required")
	}
	if cfg.BusyRetries <= 0 {
		cfg.BusyRetries = 50
	}
	if cfg.BusyDelay <= 0 {
		cfg.BusyDelay = 50 * time.Millisecond
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{log: log.With(zap.String("component", "catalog")), cfg: cfg, db: db}
	for _, stmt := range schemaStatements {
		if _, err := s.exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: apply schema: %w", err)
		}
	}
	if err := s.seedIDs(); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info("catalog opened",
		zap.String("path", cfg.Path),
		zap.Int64("next_object_id", s.nextObjectID+1),
	)
	return s, nil
}

// Close closes the underlying database. A pending transaction is
// rolled back.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}

func (s *Store) seedIDs() error {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(OBJECT_ID), 0) FROM OBJECTS WHERE DEVICE IS NULL`)
	if err := row.Scan(&s.nextObjectID); err != nil {
		return fmt.Errorf("catalog: seed object id: %w", err)
	}
	row = s.db.QueryRow(`SELECT COALESCE(MAX(OBJECT_ID), 0) FROM OBJECTS WHERE DEVICE IS NOT NULL`)
	if err := row.Scan(&s.nextVirtualID); err != nil {
		return fmt.Errorf("catalog: seed virtual id: %w", err)
	}
	if s.nextVirtualID < s.nextObjectID {
		s.nextVirtualID = s.nextObjectID
	}
	return nil
}

// NextObjectID allocates the next id for a real (non-virtual) object.
// Ids are monotonic for the lifetime of the database file.
func (s *Store) NextObjectID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextObjectID++
	if s.nextVirtualID < s.nextObjectID {
		s.nextVirtualID = s.nextObjectID
	}
	return s.nextObjectID
}

// NextVirtualID allocates an id for a device-tagged virtual object.
// The virtual allocator trails the real one so the two never collide.
func (s *Store) NextVirtualID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVirtualID++
	return s.nextVirtualID
}

// Begin starts a write transaction. Nested calls are no-ops so bulk
// operations can be composed freely.
func (s *Store) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction, if any.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	return nil
}

// Rollback discards the open transaction, if any.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) conn() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// exec runs a write statement with a bounded busy retry loop. The
// caller must hold the mutex.
func (s *Store) exec(query string, args ...any) (sql.Result, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.BusyRetries; attempt++ {
		res, err := s.conn().Exec(query, args...)
		if err == nil {
			return res, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(s.cfg.BusyDelay)
	}
	return nil, fmt.Errorf("catalog: busy retries exhausted: %w", lastErr)
}

func (s *Store) query(query string, args ...any) (*sql.Rows, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.BusyRetries; attempt++ {
		rows, err := s.conn().Query(query, args...)
		if err == nil {
			return rows, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(s.cfg.BusyDelay)
	}
	return nil, fmt.Errorf("catalog: busy retries exhausted: %w", lastErr)
}

// InsertDetail inserts a metadata row and returns its database id.
func (s *Store) InsertDetail(d *Detail) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.exec(`INSERT INTO OBJECT_DETAILS
		(SIZE, AV_DURATION, A_ALBUM, A_ARTIST, A_GENRE, A_DESCRIPTION,
		 A_CHANNELS, AV_BITRATE, A_SAMPLERATE, A_TRACK_NO, DATE,
		 IV_WIDTH, IV_HEIGHT, A_CODEC, V_CODEC, ALBUM_ART_MIME_TYPE)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Size, nullStr(d.Duration), nullStr(d.Album), nullStr(d.Artist),
		nullStr(d.Genre), nullStr(d.Description), nullInt(d.Channels),
		nullInt(d.Bitrate), nullInt(d.SampleRate), nullInt(d.TrackNumber),
		nullInt(d.Year), nullInt(d.Width), nullInt(d.Height),
		nullStr(d.AudioCodec), nullStr(d.VideoCodec), nullStr(d.AlbumArtMime))
	if err != nil {
		return 0, fmt.Errorf("catalog: insert detail: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

// UpdateDetail rewrites a metadata row in place.
func (s *Store) UpdateDetail(d *Detail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exec(`UPDATE OBJECT_DETAILS SET
		SIZE = ?, AV_DURATION = ?, A_ALBUM = ?, A_ARTIST = ?, A_GENRE = ?,
		A_DESCRIPTION = ?, A_CHANNELS = ?, AV_BITRATE = ?, A_SAMPLERATE = ?,
		A_TRACK_NO = ?, DATE = ?, IV_WIDTH = ?, IV_HEIGHT = ?, A_CODEC = ?,
		V_CODEC = ?, ALBUM_ART_MIME_TYPE = ?
		WHERE ID = ?`,
		d.Size, nullStr(d.Duration), nullStr(d.Album), nullStr(d.Artist),
		nullStr(d.Genre), nullStr(d.Description), nullInt(d.Channels),
		nullInt(d.Bitrate), nullInt(d.SampleRate), nullInt(d.TrackNumber),
		nullInt(d.Year), nullInt(d.Width), nullInt(d.Height),
		nullStr(d.AudioCodec), nullStr(d.VideoCodec), nullStr(d.AlbumArtMime),
		d.ID)
	if err != nil {
		return fmt.Errorf("catalog: update detail %d: %w", d.ID, err)
	}
	return nil
}

// InsertObject inserts an object row. The caller supplies the object
// id from NextObjectID or NextVirtualID.
func (s *Store) InsertObject(o *Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exec(`INSERT INTO OBJECTS
		(OBJECT_ID, DETAIL_ID, TYPE, DEVICE, PATH, FILE_NAME, TITLE, MD5, MIME_TYPE)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, nullID(o.DetailID), int(o.Type), nullStr(o.Device), o.Path,
		nullStr(o.FileName), nullStr(o.Title), nullStr(o.MD5), nullStr(o.MimeType))
	if err != nil {
		return fmt.Errorf("catalog: insert object %d: %w", o.ID, err)
	}
	return nil
}

// InsertMapping links an object under a parent. Device-tagged mappings
// build per-device virtual trees.
func (s *Store) InsertMapping(objectID, parentID int64, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exec(`INSERT INTO MAP_OBJECTS (OBJECT_ID, PARENT_ID, DEVICE) VALUES (?, ?, ?)`,
		objectID, parentID, nullStr(device))
	if err != nil {
		return fmt.Errorf("catalog: insert mapping %d -> %d: %w", objectID, parentID, err)
	}
	return nil
}

// ObjectIDByPath looks up a real object's id by its filesystem path.
func (s *Store) ObjectIDByPath(path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	err := s.conn().QueryRow(
		`SELECT OBJECT_ID FROM OBJECTS WHERE DEVICE IS NULL AND PATH = ?`, path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("catalog: lookup path %s: %w", path, err)
	}
	return id, nil
}

const objectColumns = `o.OBJECT_ID, COALESCE(o.DETAIL_ID, 0), o.TYPE,
	COALESCE(o.DEVICE, ''), o.PATH, COALESCE(o.FILE_NAME, ''),
	COALESCE(o.TITLE, ''), COALESCE(o.MD5, ''), COALESCE(o.MIME_TYPE, '')`

func scanObject(rows interface{ Scan(...any) error }) (Object, error) {
	var o Object
	var typ int
	err := rows.Scan(&o.ID, &o.DetailID, &typ, &o.Device, &o.Path,
		&o.FileName, &o.Title, &o.MD5, &o.MimeType)
	o.Type = ObjectType(typ)
	return o, err
}

// ObjectByID fetches one object. An empty device selects the real
// tree; otherwise the device-tagged row is preferred with a fallback
// to the real row, since virtual mappings reference real items.
func (s *Store) ObjectByID(id int64, device string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objectByID(id, device)
}

func (s *Store) objectByID(id int64, device string) (*Object, error) {
	var row *sql.Row
	if device == "" {
		row = s.conn().QueryRow(
			`SELECT `+objectColumns+` FROM OBJECTS o WHERE o.OBJECT_ID = ? AND o.DEVICE IS NULL`, id)
	} else {
		row = s.conn().QueryRow(
			`SELECT `+objectColumns+` FROM OBJECTS o WHERE o.OBJECT_ID = ?
			 ORDER BY o.DEVICE = ? DESC, o.DEVICE IS NULL DESC LIMIT 1`, id, device)
	}
	o, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: object %d: %w", id, err)
	}
	if o.DetailID != 0 {
		d, err := s.detailByID(o.DetailID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		o.Details = d
	}
	return &o, nil
}

func (s *Store) detailByID(id int64) (*Detail, error) {
	var d Detail
	err := s.conn().QueryRow(`SELECT ID, SIZE, COALESCE(AV_DURATION, ''),
		COALESCE(A_ALBUM, ''), COALESCE(A_ARTIST, ''), COALESCE(A_GENRE, ''),
		COALESCE(A_DESCRIPTION, ''), COALESCE(A_CHANNELS, 0),
		COALESCE(AV_BITRATE, 0), COALESCE(A_SAMPLERATE, 0),
		COALESCE(A_TRACK_NO, 0), COALESCE(DATE, 0), COALESCE(IV_WIDTH, 0),
		COALESCE(IV_HEIGHT, 0), COALESCE(A_CODEC, ''), COALESCE(V_CODEC, ''),
		COALESCE(ALBUM_ART_MIME_TYPE, '')
		FROM OBJECT_DETAILS WHERE ID = ?`, id).Scan(
		&d.ID, &d.Size, &d.Duration, &d.Album, &d.Artist, &d.Genre,
		&d.Description, &d.Channels, &d.Bitrate, &d.SampleRate,
		&d.TrackNumber, &d.Year, &d.Width, &d.Height, &d.AudioCodec,
		&d.VideoCodec, &d.AlbumArtMime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: detail %d: %w", id, err)
	}
	return &d, nil
}

// ObjectsByParent returns the children of a container, containers
// first, then by title. Results are fully materialised so callers
// iterate without holding database state.
func (s *Store) ObjectsByParent(parentID int64, device string) ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		rows *sql.Rows
		err  error
	)
	if device == "" {
		rows, err = s.query(`SELECT `+objectColumns+`
			FROM MAP_OBJECTS m
			JOIN OBJECTS o ON o.OBJECT_ID = m.OBJECT_ID AND o.DEVICE IS NULL
			WHERE m.PARENT_ID = ? AND m.DEVICE IS NULL
			ORDER BY o.TYPE < 100 DESC, o.TITLE COLLATE NOCASE`, parentID)
	} else {
		rows, err = s.query(`SELECT `+objectColumns+`
			FROM MAP_OBJECTS m
			JOIN OBJECTS o ON o.OBJECT_ID = m.OBJECT_ID
				AND (o.DEVICE = m.DEVICE OR (o.DEVICE IS NULL AND NOT EXISTS (
					SELECT 1 FROM OBJECTS v WHERE v.OBJECT_ID = m.OBJECT_ID AND v.DEVICE = m.DEVICE)))
			WHERE m.PARENT_ID = ? AND m.DEVICE = ?
			ORDER BY o.TYPE < 100 DESC, o.TITLE COLLATE NOCASE`, parentID, device)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: children of %d: %w", parentID, err)
	}
	return collectObjects(rows)
}

// HasMapping reports whether an object is already linked under a
// parent in the real tree.
func (s *Store) HasMapping(objectID, parentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.conn().QueryRow(`SELECT COUNT(*) FROM MAP_OBJECTS
		WHERE OBJECT_ID = ? AND PARENT_ID = ? AND DEVICE IS NULL`, objectID, parentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("catalog: mapping check %d -> %d: %w", objectID, parentID, err)
	}
	return n > 0, nil
}

// ChildCount returns the number of children mapped under a container.
func (s *Store) ChildCount(parentID int64, device string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	var err error
	if device == "" {
		err = s.conn().QueryRow(
			`SELECT COUNT(*) FROM MAP_OBJECTS WHERE PARENT_ID = ? AND DEVICE IS NULL`, parentID).Scan(&n)
	} else {
		err = s.conn().QueryRow(
			`SELECT COUNT(*) FROM MAP_OBJECTS WHERE PARENT_ID = ? AND DEVICE = ?`, parentID, device).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("catalog: child count of %d: %w", parentID, err)
	}
	return n, nil
}

// LocalObjects returns every real object ordered by path. Used by the
// remove-missing pass to compare the catalog against the filesystem.
func (s *Store) LocalObjects() ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(`SELECT ` + objectColumns +
		` FROM OBJECTS o WHERE o.DEVICE IS NULL ORDER BY o.PATH`)
	if err != nil {
		return nil, fmt.Errorf("catalog: local objects: %w", err)
	}
	return collectObjects(rows)
}

// ObjectsOfType returns real objects of one type. Used for the
// playlist pass after a scan.
func (s *Store) ObjectsOfType(t ObjectType) ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(`SELECT `+objectColumns+
		` FROM OBJECTS o WHERE o.DEVICE IS NULL AND o.TYPE = ? ORDER BY o.PATH`, int(t))
	if err != nil {
		return nil, fmt.Errorf("catalog: objects of type %d: %w", t, err)
	}
	return collectObjects(rows)
}

func collectObjects(rows *sql.Rows) ([]Object, error) {
	defer rows.Close()
	var out []Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteObject removes an object and everything hanging off it.
// Directory containers cascade to the whole path subtree; playlists
// and items remove their own rows and mapping edges only.
func (s *Store) DeleteObject(objectID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.objectByID(objectID, "")
	if err != nil {
		return err
	}
	if o.Type.IsContainer() {
		if strings.HasSuffix(o.Path, string(os.PathSeparator)) {
			return s.deleteSubtree(o.Path)
		}
		// Playlists carry a file path; prefix-matching it would also
		// catch siblings like list.m3u8, so drop the child edges and
		// the row itself instead.
		if _, err := s.exec(`DELETE FROM MAP_OBJECTS WHERE PARENT_ID = ? AND DEVICE IS NULL`, o.ID); err != nil {
			return fmt.Errorf("catalog: delete children of %d: %w", o.ID, err)
		}
	}
	return s.deleteItem(o)
}

func (s *Store) deleteItem(o *Object) error {
	if o.DetailID != 0 {
		if _, err := s.exec(`DELETE FROM OBJECT_DETAILS WHERE ID = ?`, o.DetailID); err != nil {
			return fmt.Errorf("catalog: delete detail of %d: %w", o.ID, err)
		}
	}
	if _, err := s.exec(`DELETE FROM MAP_OBJECTS WHERE OBJECT_ID = ?`, o.ID); err != nil {
		return fmt.Errorf("catalog: delete mappings of %d: %w", o.ID, err)
	}
	if _, err := s.exec(`DELETE FROM OBJECTS WHERE OBJECT_ID = ?`, o.ID); err != nil {
		return fmt.Errorf("catalog: delete object %d: %w", o.ID, err)
	}
	return nil
}

// deleteSubtree removes a container and all descendants in three
// passes keyed on the path prefix: details, mappings, then the object
// rows themselves.
func (s *Store) deleteSubtree(prefix string) error {
	like := escapeLike(prefix) + "%"
	if _, err := s.exec(`DELETE FROM OBJECT_DETAILS WHERE ID IN
		(SELECT DETAIL_ID FROM OBJECTS WHERE DETAIL_ID IS NOT NULL AND PATH LIKE ? ESCAPE '\')`, like); err != nil {
		return fmt.Errorf("catalog: delete subtree details %s: %w", prefix, err)
	}
	if _, err := s.exec(`DELETE FROM MAP_OBJECTS WHERE OBJECT_ID IN
		(SELECT OBJECT_ID FROM OBJECTS WHERE PATH LIKE ? ESCAPE '\')`, like); err != nil {
		return fmt.Errorf("catalog: delete subtree mappings %s: %w", prefix, err)
	}
	if _, err := s.exec(`DELETE FROM OBJECTS WHERE PATH LIKE ? ESCAPE '\'`, like); err != nil {
		return fmt.Errorf("catalog: delete subtree objects %s: %w", prefix, err)
	}
	return nil
}

// RenameObject updates the path, file name and title of a single
// object after a filesystem rename.
func (s *Store) RenameObject(objectID int64, path, fileName, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exec(`UPDATE OBJECTS SET PATH = ?, FILE_NAME = ?, TITLE = ?
		WHERE OBJECT_ID = ? AND DEVICE IS NULL`, path, nullStr(fileName), nullStr(title), objectID)
	if err != nil {
		return fmt.Errorf("catalog: rename %d: %w", objectID, err)
	}
	return nil
}

// RewritePathPrefix rewrites the paths of a moved directory subtree.
func (s *Store) RewritePathPrefix(oldPrefix, newPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	like := escapeLike(oldPrefix) + "%"
	// substr counts characters, not bytes, so the offset must come from
	// length() over the bound prefix or multi-byte paths get mangled.
	_, err := s.exec(`UPDATE OBJECTS
		SET PATH = ? || substr(PATH, length(?) + 1)
		WHERE DEVICE IS NULL AND PATH LIKE ? ESCAPE '\'`,
		newPrefix, oldPrefix, like)
	if err != nil {
		return fmt.Errorf("catalog: rewrite prefix %s: %w", oldPrefix, err)
	}
	return nil
}

// RemapObject repoints an object's mapping rows at a new parent.
func (s *Store) RemapObject(objectID, newParentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exec(`UPDATE MAP_OBJECTS SET PARENT_ID = ?
		WHERE OBJECT_ID = ? AND DEVICE IS NULL`, newParentID, objectID)
	if err != nil {
		return fmt.Errorf("catalog: remap %d: %w", objectID, err)
	}
	return nil
}

// PurgeDevice removes all rows generated for one virtual device.
func (s *Store) PurgeDevice(device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.exec(`DELETE FROM OBJECTS WHERE DEVICE = ?`, device); err != nil {
		return fmt.Errorf("catalog: purge device objects %s: %w", device, err)
	}
	if _, err := s.exec(`DELETE FROM MAP_OBJECTS WHERE DEVICE = ?`, device); err != nil {
		return fmt.Errorf("catalog: purge device mappings %s: %w", device, err)
	}
	return nil
}

// TruncateAll wipes the catalog for a full rebuild.
func (s *Store) TruncateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{"OBJECTS", "OBJECT_DETAILS", "MAP_OBJECTS"} {
		if _, err := s.exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("catalog: truncate %s: %w", table, err)
		}
	}
	// Keep allocated ids monotonic across the rebuild.
	return nil
}

// Filter is an accumulated set of AND-ed conditions over the o/d
// aliases (OBJECTS, OBJECT_DETAILS). Conditions are SQL fragments with
// placeholders; values travel in Args.
type Filter struct {
	Conds []string
	Args  []any
}

// And returns a copy of the filter with one more condition.
func (f Filter) And(cond string, args ...any) Filter {
	next := Filter{
		Conds: append(append([]string{}, f.Conds...), cond),
		Args:  append(append([]any{}, f.Args...), args...),
	}
	return next
}

func (f Filter) clause() string {
	if len(f.Conds) == 0 {
		return ""
	}
	return " AND " + strings.Join(f.Conds, " AND ")
}

// detailColumns maps the browsable metadata properties onto columns.
// The whitelist keeps layout files from injecting arbitrary SQL.
var detailColumns = map[string]string{
	"artist": "d.A_ARTIST",
	"album":  "d.A_ALBUM",
	"genre":  "d.A_GENRE",
	"title":  "o.TITLE",
}

// DetailColumn resolves a property name from a layout file to its
// column expression.
func DetailColumn(property string) (string, bool) {
	col, ok := detailColumns[strings.ToLower(property)]
	return col, ok
}

// DistinctDetailValues returns the distinct non-empty values of a
// metadata property over the real items matching the filter.
func (s *Store) DistinctDetailValues(property string, f Filter) ([]string, error) {
	col, ok := DetailColumn(property)
	if !ok {
		return nil, fmt.Errorf("catalog: unknown property %q", property)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(`SELECT DISTINCT `+col+`
		FROM OBJECTS o JOIN OBJECT_DETAILS d ON d.ID = o.DETAIL_ID
		WHERE o.DEVICE IS NULL AND `+col+` IS NOT NULL AND `+col+` != ''`+
		f.clause()+` ORDER BY `+col+` COLLATE NOCASE`, f.Args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: distinct %s: %w", property, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ItemsMatching returns real items in the given type range matching
// the filter.
func (s *Store) ItemsMatching(minType, maxType ObjectType, f Filter) ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	args := append([]any{int(minType), int(maxType)}, f.Args...)
	rows, err := s.query(`SELECT `+objectColumns+`
		FROM OBJECTS o LEFT JOIN OBJECT_DETAILS d ON d.ID = o.DETAIL_ID
		WHERE o.DEVICE IS NULL AND o.TYPE >= ? AND o.TYPE <= ?`+
		f.clause()+` ORDER BY o.TITLE COLLATE NOCASE`, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: items matching: %w", err)
	}
	return collectObjects(rows)
}

// Stats summarises the catalog for the status endpoint.
type Stats struct {
	Containers int64 `json:"containers"`
	Items      int64 `json:"items"`
	Virtual    int64 `json:"virtual"`
	Mappings   int64 `json:"mappings"`
}

// Stat counts catalog rows by kind.
func (s *Store) Stat() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	queries := []struct {
		sql  string
		dest *int64
	}{
		{`SELECT COUNT(*) FROM OBJECTS WHERE DEVICE IS NULL AND TYPE < 100`, &st.Containers},
		{`SELECT COUNT(*) FROM OBJECTS WHERE DEVICE IS NULL AND TYPE >= 100`, &st.Items},
		{`SELECT COUNT(*) FROM OBJECTS WHERE DEVICE IS NOT NULL`, &st.Virtual},
		{`SELECT COUNT(*) FROM MAP_OBJECTS`, &st.Mappings},
	}
	for _, q := range queries {
		if err := s.conn().QueryRow(q.sql).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("catalog: stats: %w", err)
		}
	}
	return st, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullID(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
