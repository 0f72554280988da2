package vfolder

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"fennec/internal/catalog"
)

// Builder materialises virtual trees into the catalog.
type Builder struct {
	log   *zap.Logger
	store *catalog.Store
}

// NewBuilder creates a virtual folder builder.
func NewBuilder(log *zap.Logger, store *catalog.Store) *Builder {
	return &Builder{
		log:   log.With(zap.String("module", "vfolder")),
		store: store,
	}
}

// Rebuild regenerates every device tree in the layout. Each device's
// previous rows are purged first, so a rebuild is idempotent.
func (b *Builder) Rebuild(ctx context.Context, layout *Layout) error {
	for _, dev := range layout.Devices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.store.PurgeDevice(dev.Name); err != nil {
			return err
		}
		if err := b.store.Begin(); err != nil {
			return err
		}
		if err := b.buildNodes(ctx, dev.Name, catalog.RootID, dev.Nodes, catalog.Filter{}); err != nil {
			_ = b.store.Rollback()
			return err
		}
		if err := b.store.Commit(); err != nil {
			return err
		}
		b.log.Info("virtual tree built", zap.String("device", dev.Name))
	}
	return nil
}

func (b *Builder) buildNodes(ctx context.Context, device string, parentID int64, nodes []Node, f catalog.Filter) error {
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch n.Kind {
		case KindFolder:
			err = b.buildFolder(ctx, device, parentID, n, f)
		case KindProperty:
			err = b.buildProperty(ctx, device, parentID, n, f)
		case KindSplit:
			err = b.buildSplit(ctx, device, parentID, n, f)
		case KindItems:
			err = b.buildItems(device, parentID, n, f)
		case KindSharedDirs:
			err = b.buildSharedDirs(device, parentID)
		default:
			err = fmt.Errorf("vfolder: unknown node kind %q", n.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) buildFolder(ctx context.Context, device string, parentID int64, n Node, f catalog.Filter) error {
	id, err := b.insertContainer(device, parentID, catalog.TypeFolder, n.Title)
	if err != nil {
		return err
	}
	return b.buildNodes(ctx, device, id, n.Nodes, f)
}

// buildProperty fans out into one container per distinct value of a
// metadata property, narrowing the filter for the children.
func (b *Builder) buildProperty(ctx context.Context, device string, parentID int64, n Node, f catalog.Filter) error {
	col, ok := catalog.DetailColumn(n.Property)
	if !ok {
		return fmt.Errorf("vfolder: unknown property %q", n.Property)
	}
	values, err := b.store.DistinctDetailValues(n.Property, f)
	if err != nil {
		return err
	}
	for _, value := range values {
		id, err := b.insertContainer(device, parentID, containerTypeFor(n.Property), value)
		if err != nil {
			return err
		}
		child := f.And(col+" = ?", value)
		if err := b.buildChildren(ctx, device, id, n, child); err != nil {
			return err
		}
	}
	return nil
}

// splitBuckets are the alphabet shelves of a split node.
var splitBuckets = []struct {
	title   string
	letters []string
}{
	{"0-9", []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}},
	{"ABC", []string{"A", "B", "C"}},
	{"DEF", []string{"D", "E", "F"}},
	{"GHI", []string{"G", "H", "I"}},
	{"JKL", []string{"J", "K", "L"}},
	{"MNO", []string{"M", "N", "O"}},
	{"PQR", []string{"P", "Q", "R"}},
	{"STU", []string{"S", "T", "U"}},
	{"VWX", []string{"V", "W", "X"}},
	{"YZ", []string{"Y", "Z"}},
}

func (b *Builder) buildSplit(ctx context.Context, device string, parentID int64, n Node, f catalog.Filter) error {
	col, ok := catalog.DetailColumn(n.Field)
	if !ok {
		return fmt.Errorf("vfolder: unknown split field %q", n.Field)
	}
	for _, bucket := range splitBuckets {
		id, err := b.insertContainer(device, parentID, catalog.TypeFolder, bucket.title)
		if err != nil {
			return err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(bucket.letters)), ",")
		args := make([]any, len(bucket.letters))
		for i, l := range bucket.letters {
			args[i] = l
		}
		child := f.And("upper(substr("+col+", 1, 1)) IN ("+placeholders+")", args...)
		if err := b.buildChildren(ctx, device, id, n, child); err != nil {
			return err
		}
	}
	return nil
}

// buildChildren recurses into explicit child nodes, defaulting to an
// items leaf so property and split nodes always bottom out.
func (b *Builder) buildChildren(ctx context.Context, device string, parentID int64, n Node, f catalog.Filter) error {
	if len(n.Nodes) == 0 {
		return b.buildItems(device, parentID, Node{Kind: KindItems, Class: n.Class}, f)
	}
	return b.buildNodes(ctx, device, parentID, n.Nodes, f)
}

// buildItems maps every matching real item into the device tree. The
// mapping references the real object, so item metadata is never
// duplicated.
func (b *Builder) buildItems(device string, parentID int64, n Node, f catalog.Filter) error {
	minType, maxType := classRange(n.Class)
	items, err := b.store.ItemsMatching(minType, maxType, f)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := b.store.InsertMapping(item.ID, parentID, device); err != nil {
			return err
		}
	}
	return nil
}

// buildSharedDirs mirrors the real share roots into the device tree.
func (b *Builder) buildSharedDirs(device string, parentID int64) error {
	roots, err := b.store.ObjectsByParent(catalog.RootID, "")
	if err != nil {
		return err
	}
	for _, root := range roots {
		if !root.Type.IsContainer() {
			continue
		}
		if err := b.store.InsertMapping(root.ID, parentID, device); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) insertContainer(device string, parentID int64, t catalog.ObjectType, title string) (int64, error) {
	id := b.store.NextVirtualID()
	obj := &catalog.Object{
		ID:     id,
		Type:   t,
		Device: device,
		Path:   fmt.Sprintf("virtual://%s/%d", device, id),
		Title:  title,
	}
	if err := b.store.InsertObject(obj); err != nil {
		return 0, err
	}
	if err := b.store.InsertMapping(id, parentID, device); err != nil {
		return 0, err
	}
	return id, nil
}

func containerTypeFor(property string) catalog.ObjectType {
	switch strings.ToLower(property) {
	case "artist":
		return catalog.TypeArtist
	case "album":
		return catalog.TypeAlbum
	case "genre":
		return catalog.TypeGenre
	}
	return catalog.TypeFolder
}

func classRange(class string) (catalog.ObjectType, catalog.ObjectType) {
	switch strings.ToLower(class) {
	case "image":
		return catalog.TypeImageItem, catalog.TypeVideoItem - 1
	case "video":
		return catalog.TypeVideoItem, catalog.TypeVideoItem + 9
	case "audio":
		return catalog.TypeAudioItem, catalog.TypeImageItem - 1
	}
	return typeMinItem, typeMaxItem
}

const (
	typeMinItem = catalog.TypeAudioItem
	typeMaxItem = catalog.TypeVideoItem + 9
)
