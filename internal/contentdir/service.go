// Package contentdir answers browse and resolve queries over the
// catalog. Browse results are cached; any catalog mutation bumps a
// revision counter which implicitly invalidates every cached page.
package contentdir

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coocood/freecache"
	"github.com/eko/gocache/lib/v4/cache"
	gocachestore "github.com/eko/gocache/lib/v4/store"
	gocachefreecache "github.com/eko/gocache/store/freecache/v4"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	"fennec/internal/catalog"
)

const defaultCacheBytes = 8 * 1024 * 1024

// Entry is one row of a browse listing.
type Entry struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Container   bool   `json:"container"`
	Type        int    `json:"type"`
	MimeType    string `json:"mime_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	Genre       string `json:"genre,omitempty"`
	ChildCount  int    `json:"child_count,omitempty"`
}

// Config configures the service.
type Config struct {
	CacheBytes int
}

// Service wraps the catalog with a compressed browse cache.
type Service struct {
	log   *zap.Logger
	store *catalog.Store
	cache *cache.Cache[[]byte]
	rev   atomic.Uint64
}

// NewService creates the content directory service.
func NewService(log *zap.Logger, store *catalog.Store, cfg Config) *Service {
	if cfg.CacheBytes <= 0 {
		cfg.CacheBytes = defaultCacheBytes
	}
	backing := gocachefreecache.NewFreecache(freecache.NewCache(cfg.CacheBytes))
	return &Service{
		log:   log.With(zap.String("component", "contentdir")),
		store: store,
		cache: cache.New[[]byte](backing),
	}
}

// Invalidate drops all cached browse pages. Cheap enough to call on
// every catalog mutation.
func (s *Service) Invalidate() {
	s.rev.Add(1)
}

func (s *Service) cacheKey(parentID int64, device string) string {
	return fmt.Sprintf("browse:%d:%s:%d", parentID, device, s.rev.Load())
}

// Browse lists the children of a container.
func (s *Service) Browse(parentID int64, device string) ([]Entry, error) {
	ctx := context.Background()
	key := s.cacheKey(parentID, device)
	if compressed, err := s.cache.Get(ctx, key); err == nil {
		raw, err := snappy.Decode(nil, compressed)
		if err == nil {
			var entries []Entry
			if json.Unmarshal(raw, &entries) == nil {
				return entries, nil
			}
		}
		s.log.Debug("discarding undecodable cache entry", zap.String("key", key))
	}

	children, err := s.store.ObjectsByParent(parentID, device)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(children))
	for _, child := range children {
		entry := Entry{
			ID:        child.ID,
			Title:     child.Title,
			Container: child.Type.IsContainer(),
			Type:      int(child.Type),
			MimeType:  child.MimeType,
		}
		if entry.Container {
			n, err := s.store.ChildCount(child.ID, device)
			if err != nil {
				return nil, err
			}
			entry.ChildCount = n
		} else if child.DetailID != 0 {
			full, err := s.store.ObjectByID(child.ID, device)
			if err == nil && full.Details != nil {
				entry.Size = full.Details.Size
				entry.Artist = full.Details.Artist
				entry.Album = full.Details.Album
				entry.Genre = full.Details.Genre
			}
		}
		entries = append(entries, entry)
	}

	if raw, err := json.Marshal(entries); err == nil {
		compressed := snappy.Encode(nil, raw)
		if err := s.cache.Set(ctx, key, compressed, gocachestore.WithCost(int64(len(compressed)))); err != nil {
			s.log.Debug("failed to cache browse page", zap.Error(err))
		}
	}
	return entries, nil
}

// Resolve fetches one object with its details.
func (s *Service) Resolve(objectID int64, device string) (*catalog.Object, error) {
	return s.store.ObjectByID(objectID, device)
}
