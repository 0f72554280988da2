package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fennec/internal/catalog"
	"fennec/internal/contentdir"
	"fennec/internal/scanner"
)

// Directory answers browse and resolve queries.
type Directory interface {
	Browse(parentID int64, device string) ([]contentdir.Entry, error)
	Resolve(objectID int64, device string) (*catalog.Object, error)
}

// Rebuilder launches catalog rebuilds.
type Rebuilder interface {
	Start(ctx context.Context, mode scanner.Mode) error
	Rebuilding() bool
}

// Transcoder opens on-the-fly conversion streams.
type Transcoder interface {
	ShouldTranscode(path string) bool
	Open(path string) (io.ReadCloser, error)
}

// RouterConfig wires the router's collaborators. VFolderRebuild and
// Transcoder may be nil when the feature is not configured.
type RouterConfig struct {
	Directory      Directory
	Rebuilder      Rebuilder
	Transcoder     Transcoder
	Stats          func() (catalog.Stats, error)
	SessionCount   func() int
	VFolderRebuild func(ctx context.Context) error
}

// Router dispatches requests to the media and admin endpoints.
type Router struct {
	log     *zap.Logger
	config  RouterConfig
	started time.Time
}

// NewRouter creates the router.
func NewRouter(log *zap.Logger, cfg RouterConfig) *Router {
	return &Router{
		log:     log.With(zap.String("component", "router")),
		config:  cfg,
		started: time.Now(),
	}
}

// Handle implements Handler.
func (r *Router) Handle(req *Request) *Response {
	path := req.Path()
	switch {
	case strings.HasPrefix(path, "/media/"):
		return r.handleMedia(req)
	case path == "/api/status":
		return r.handleStatus(req)
	case path == "/api/browse":
		return r.handleBrowse(req)
	case path == "/api/rebuild":
		return r.handleRebuild(req)
	case path == "/api/vfolders/rebuild":
		return r.handleVFolderRebuild(req)
	}
	return &Response{Status: 404}
}

func (r *Router) handleMedia(req *Request) *Response {
	if req.Method != "GET" && req.Method != "HEAD" {
		return &Response{Status: 400}
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Path(), "/media/"), 10, 64)
	if err != nil {
		return &Response{Status: 400}
	}

	obj, err := r.config.Directory.Resolve(id, req.Query("device"))
	if errors.Is(err, catalog.ErrNotFound) {
		return &Response{Status: 404}
	}
	if err != nil {
		r.log.Error("resolve failed", zap.Int64("id", id), zap.Error(err))
		return &Response{Status: 500}
	}
	if obj.Type.IsContainer() || strings.Contains(obj.Path, "://") {
		return &Response{Status: 404}
	}

	if r.config.Transcoder != nil && r.config.Transcoder.ShouldTranscode(obj.Path) {
		stream, err := r.config.Transcoder.Open(obj.Path)
		if err == nil {
			return &Response{Status: 200, ContentType: "audio/mpeg", Stream: stream}
		}
		r.log.Warn("transcode unavailable, serving original",
			zap.String("path", obj.Path), zap.Error(err))
	}

	f, err := os.Open(obj.Path)
	if err != nil {
		r.log.Warn("media file unreadable",
			zap.String("path", obj.Path), zap.Error(err))
		return &Response{Status: 404}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return &Response{Status: 500}
	}
	contentType := obj.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Response{
		Status:      200,
		ContentType: contentType,
		File:        f,
		FileSize:    fi.Size(),
	}
}

func (r *Router) handleStatus(req *Request) *Response {
	if req.Method != "GET" {
		return &Response{Status: 400}
	}
	stats, err := r.config.Stats()
	if err != nil {
		return &Response{Status: 500}
	}
	payload := map[string]any{
		"catalog":    stats,
		"rebuilding": r.config.Rebuilder.Rebuilding(),
		"uptime_s":   int64(time.Since(r.started).Seconds()),
	}
	if r.config.SessionCount != nil {
		payload["sessions"] = r.config.SessionCount()
	}
	return jsonResponse(200, payload)
}

func (r *Router) handleBrowse(req *Request) *Response {
	if req.Method != "GET" {
		return &Response{Status: 400}
	}
	parentID := catalog.RootID
	if v := req.Query("parent"); v != "" {
		var err error
		parentID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &Response{Status: 400}
		}
	}
	entries, err := r.config.Directory.Browse(parentID, req.Query("device"))
	if err != nil {
		r.log.Error("browse failed", zap.Int64("parent", parentID), zap.Error(err))
		return &Response{Status: 500}
	}
	return jsonResponse(200, map[string]any{"parent": parentID, "entries": entries})
}

func (r *Router) handleRebuild(req *Request) *Response {
	if req.Method != "POST" {
		return &Response{Status: 400}
	}
	mode, err := scanner.ParseMode(req.Query("mode"))
	if err != nil {
		return jsonResponse(400, map[string]string{"error": err.Error()})
	}
	if err := r.config.Rebuilder.Start(context.Background(), mode); err != nil {
		if errors.Is(err, scanner.ErrRebuildRunning) {
			return jsonResponse(503, map[string]string{"error": "rebuild already running"})
		}
		return jsonResponse(500, map[string]string{"error": err.Error()})
	}
	return jsonResponse(200, map[string]string{"status": "started", "mode": mode.String()})
}

func (r *Router) handleVFolderRebuild(req *Request) *Response {
	if req.Method != "POST" {
		return &Response{Status: 400}
	}
	if r.config.VFolderRebuild == nil {
		return jsonResponse(404, map[string]string{"error": "no virtual folder layout configured"})
	}
	if err := r.config.VFolderRebuild(context.Background()); err != nil {
		if errors.Is(err, scanner.ErrRebuildRunning) {
			return jsonResponse(503, map[string]string{"error": "rebuild already running"})
		}
		return jsonResponse(500, map[string]string{"error": err.Error()})
	}
	return jsonResponse(200, map[string]string{"status": "done"})
}

func jsonResponse(status int, payload any) *Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Response{Status: 500}
	}
	return &Response{Status: status, ContentType: "application/json", Body: body}
}
