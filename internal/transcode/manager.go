// Package transcode converts media to a renderer-friendly format on
// the fly. The gstreamer driver is optional at build time; without it
// every file is served as-is.
package transcode

import (
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Config configures transcoding.
type Config struct {
	Enabled     bool
	Extensions  []string
	BitrateKbit int
}

// Manager decides which files get transcoded and opens the streams.
type Manager struct {
	log    *zap.Logger
	config Config
	exts   map[string]bool
}

// NewManager creates a manager. With transcoding disabled or the
// driver missing, ShouldTranscode is always false.
func NewManager(log *zap.Logger, cfg Config) *Manager {
	if cfg.BitrateKbit <= 0 {
		cfg.BitrateKbit = 192
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".flac", ".ogg", ".wav"}
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[strings.ToLower(ext)] = true
	}
	return &Manager{
		log:    log.With(zap.String("component", "transcode")),
		config: cfg,
		exts:   exts,
	}
}

// ShouldTranscode reports whether a path would be transcoded.
func (m *Manager) ShouldTranscode(path string) bool {
	if !m.config.Enabled || !driverAvailable {
		return false
	}
	return m.exts[strings.ToLower(filepath.Ext(path))]
}

// Open starts a transcode of the given file. Closing the returned
// stream aborts the pipeline.
func (m *Manager) Open(path string) (io.ReadCloser, error) {
	m.log.Debug("starting transcode", zap.String("path", path))
	return openStream(path, m.config.BitrateKbit)
}
