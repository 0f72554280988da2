package catalog

// Schema follows the three table layout of classic UPnP media servers:
// OBJECTS holds the tree, OBJECT_DETAILS the media metadata and
// MAP_OBJECTS the parent/child edges, so one object can appear under
// several parents (playlists, virtual folders).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS OBJECTS (
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		OBJECT_ID INTEGER NOT NULL,
		DETAIL_ID INTEGER DEFAULT NULL,
		TYPE INTEGER NOT NULL,
		DEVICE TEXT DEFAULT NULL,
		PATH TEXT NOT NULL,
		FILE_NAME TEXT DEFAULT NULL,
		TITLE TEXT DEFAULT NULL,
		MD5 TEXT DEFAULT NULL,
		MIME_TYPE TEXT DEFAULT NULL,
		REF_ID INTEGER DEFAULT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS OBJECT_DETAILS (
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		SIZE INTEGER DEFAULT 0,
		AV_DURATION TEXT,
		A_ALBUM TEXT,
		A_ARTIST TEXT,
		A_GENRE TEXT,
		A_DESCRIPTION TEXT,
		A_CHANNELS INTEGER,
		AV_BITRATE INTEGER,
		A_SAMPLERATE INTEGER,
		A_TRACK_NO INTEGER,
		DATE INTEGER,
		IV_WIDTH INTEGER,
		IV_HEIGHT INTEGER,
		A_CODEC TEXT,
		V_CODEC TEXT,
		ALBUM_ART_ID INTEGER DEFAULT NULL,
		ALBUM_ART_MIME_TYPE TEXT,
		DLNA_PROFILE TEXT,
		DLNA_MIME_TYPE TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS MAP_OBJECTS (
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		OBJECT_ID INTEGER NOT NULL,
		PARENT_ID INTEGER NOT NULL,
		DEVICE TEXT DEFAULT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS IDX_OBJECTS_OBJECT_ID ON OBJECTS(OBJECT_ID)`,
	`CREATE INDEX IF NOT EXISTS IDX_OBJECTS_DETAIL_ID ON OBJECTS(DETAIL_ID)`,
	`CREATE INDEX IF NOT EXISTS IDX_OBJECTS_PATH ON OBJECTS(PATH)`,
	`CREATE INDEX IF NOT EXISTS IDX_MAP_OBJECTS_OBJECT_ID ON MAP_OBJECTS(OBJECT_ID)`,
	`CREATE INDEX IF NOT EXISTS IDX_MAP_OBJECTS_PARENT_ID ON MAP_OBJECTS(PARENT_ID)`,
}
