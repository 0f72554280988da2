// Package vfolder builds per-device virtual browse trees over the
// catalog. A layout file declares nested nodes; each node narrows an
// accumulated SQL filter and the leaves map matching items into the
// device's tree.
package vfolder

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Node kinds understood by the builder.
const (
	KindFolder     = "folder"
	KindProperty   = "property"
	KindSplit      = "split"
	KindItems      = "items"
	KindSharedDirs = "shared_dirs"
)

// Node is one level of a virtual layout.
type Node struct {
	Kind     string `toml:"kind"`
	Title    string `toml:"title"`
	Property string `toml:"property"`
	Field    string `toml:"field"`
	Class    string `toml:"class"`
	Nodes    []Node `toml:"node"`
}

// Device is a named virtual tree.
type Device struct {
	Name  string `toml:"name"`
	Nodes []Node `toml:"node"`
}

// Layout is the parsed layout file.
type Layout struct {
	Devices []Device `toml:"device"`
}

// LoadLayout reads and validates a layout file.
func LoadLayout(path string) (*Layout, error) {
	var layout Layout
	if _, err := toml.DecodeFile(path, &layout); err != nil {
		return nil, fmt.Errorf("vfolder: parse layout %s: %w", path, err)
	}
	if err := layout.validate(); err != nil {
		return nil, err
	}
	return &layout, nil
}

func (l *Layout) validate() error {
	seen := make(map[string]bool)
	for _, dev := range l.Devices {
		name := strings.TrimSpace(dev.Name)
		if name == "" {
			return fmt.Errorf("vfolder: device without a name")
		}
		if seen[name] {
			return fmt.Errorf("vfolder: duplicate device %q", name)
		}
		seen[name] = true
		if err := validateNodes(name, dev.Nodes); err != nil {
			return err
		}
	}
	return nil
}

func validateNodes(device string, nodes []Node) error {
	for _, n := range nodes {
		switch n.Kind {
		case KindFolder:
			if n.Title == "" {
				return fmt.Errorf("vfolder: device %q: folder node needs a title", device)
			}
		case KindProperty:
			if n.Property == "" {
				return fmt.Errorf("vfolder: device %q: property node needs a property", device)
			}
		case KindSplit:
			if n.Field == "" {
				return fmt.Errorf("vfolder: device %q: split node needs a field", device)
			}
		case KindItems, KindSharedDirs:
		default:
			return fmt.Errorf("vfolder: device %q: unknown node kind %q", device, n.Kind)
		}
		if err := validateNodes(device, n.Nodes); err != nil {
			return err
		}
	}
	return nil
}
