// Package feeds imports podcast feeds into the catalog. Episodes
// become audio broadcast items under one container per feed, so they
// browse and stream like any other library entry.
package feeds

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"fennec/internal/catalog"
)

// Config configures the importer.
type Config struct {
	URLs           []string
	ContainerTitle string
	MaxEpisodes    int
}

// Importer fetches podcast feeds after each scan.
type Importer struct {
	log    *zap.Logger
	config Config
	parser *gofeed.Parser
}

// NewImporter creates the feed importer.
func NewImporter(log *zap.Logger, cfg Config) *Importer {
	if cfg.ContainerTitle == "" {
		cfg.ContainerTitle = "Podcasts"
	}
	if cfg.MaxEpisodes <= 0 {
		cfg.MaxEpisodes = 50
	}
	return &Importer{
		log:    log.With(zap.String("module", "feeds")),
		config: cfg,
		parser: gofeed.NewParser(),
	}
}

// Name implements scanner.Importer.
func (i *Importer) Name() string { return "feeds" }

// Import implements scanner.Importer. A failing feed is logged and
// skipped; one dead URL must not break the scan.
func (i *Importer) Import(ctx context.Context, store *catalog.Store) error {
	if len(i.config.URLs) == 0 {
		return nil
	}

	rootID, err := i.ensureContainer(store, catalog.RootID, "feeds://root/", i.config.ContainerTitle)
	if err != nil {
		return err
	}

	for _, url := range i.config.URLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		feed, err := i.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			i.log.Warn("failed to fetch feed", zap.String("url", url), zap.Error(err))
			continue
		}
		if err := i.importFeed(store, rootID, url, feed); err != nil {
			return err
		}
	}
	return nil
}

func (i *Importer) importFeed(store *catalog.Store, parentID int64, url string, feed *gofeed.Feed) error {
	title := feed.Title
	if title == "" {
		title = url
	}
	feedID, err := i.ensureContainer(store, parentID, "feed://"+url, title)
	if err != nil {
		return err
	}

	imported := 0
	for _, item := range feed.Items {
		if imported >= i.config.MaxEpisodes {
			break
		}
		enclosure := audioEnclosure(item)
		if enclosure == nil {
			continue
		}
		_, err := store.ObjectIDByPath(enclosure.URL)
		if err == nil {
			imported++
			continue
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return err
		}

		detailID, err := store.InsertDetail(&catalog.Detail{
			Description: item.Description,
		})
		if err != nil {
			return err
		}
		obj := &catalog.Object{
			ID:       store.NextObjectID(),
			DetailID: detailID,
			Type:     catalog.TypeAudioBroadcast,
			Path:     enclosure.URL,
			Title:    item.Title,
			MD5:      sumMD5(enclosure.URL),
			MimeType: enclosure.Type,
		}
		if obj.MimeType == "" {
			obj.MimeType = "audio/mpeg"
		}
		if err := store.InsertObject(obj); err != nil {
			return err
		}
		if err := store.InsertMapping(obj.ID, feedID, ""); err != nil {
			return err
		}
		imported++
	}
	i.log.Info("feed imported",
		zap.String("feed", title), zap.Int("episodes", imported))
	return nil
}

func (i *Importer) ensureContainer(store *catalog.Store, parentID int64, path, title string) (int64, error) {
	id, err := store.ObjectIDByPath(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return 0, err
	}
	id = store.NextObjectID()
	obj := &catalog.Object{
		ID:    id,
		Type:  catalog.TypeFolder,
		Path:  path,
		Title: title,
		MD5:   sumMD5(path),
	}
	if err := store.InsertObject(obj); err != nil {
		return 0, err
	}
	if err := store.InsertMapping(id, parentID, ""); err != nil {
		return 0, err
	}
	return id, nil
}

// audioEnclosure picks the first audio enclosure, falling back to the
// first enclosure of any type for feeds that omit the MIME type.
func audioEnclosure(item *gofeed.Item) *gofeed.Enclosure {
	var first *gofeed.Enclosure
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "audio/") {
			return enc
		}
		if first == nil {
			first = enc
		}
	}
	return first
}

func sumMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
