// Package stubscan is a development scan server. It serves an in-memory tree
// loaded from a YAML fixture over the same websocket protocol as the real
// scanner, and simulates a scan in progress by finishing one directory per
// tick.
package stubscan

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document describing a stub tree.
//
//	availableSpace: 107374182400
//	scanned: false
//	tree:
//	  - name: Documents
//	    children:
//	      - name: report.pdf
//	        size: 2048
//	  - name: System
//	    locked: true
//	    dir: true
type Fixture struct {
	AvailableSpace uint64        `yaml:"availableSpace"`
	Scanned        bool          `yaml:"scanned"`
	Tree           []FixtureNode `yaml:"tree"`
}

// FixtureNode is one file or directory. A node with children, or with dir
// set, is a directory.
type FixtureNode struct {
	Name     string        `yaml:"name"`
	Size     uint64        `yaml:"size"`
	Dir      bool          `yaml:"dir"`
	Locked   bool          `yaml:"locked"`
	Children []FixtureNode `yaml:"children"`
}

// IsDir reports whether the node describes a directory.
func (n FixtureNode) IsDir() bool {
	return n.Dir || len(n.Children) > 0
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates a fixture document.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if err := validateNodes("/", f.Tree); err != nil {
		return nil, err
	}
	return &f, nil
}

func validateNodes(parent string, nodes []FixtureNode) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		switch {
		case n.Name == "":
			return fmt.Errorf("fixture: unnamed node under %s", parent)
		case strings.Contains(n.Name, "/"):
			return fmt.Errorf("fixture: name %q under %s contains a slash", n.Name, parent)
		case seen[n.Name]:
			return fmt.Errorf("fixture: duplicate name %q under %s", n.Name, parent)
		case n.IsDir() && n.Size != 0:
			return fmt.Errorf("fixture: directory %s%s has a size; sizes belong to files", parent, n.Name)
		}
		seen[n.Name] = true

		if err := validateNodes(parent+n.Name+"/", n.Children); err != nil {
			return err
		}
	}
	return nil
}

var (
	ErrNotFound = errors.New("no such file or directory")
	ErrLocked   = errors.New("permission denied")
	ErrRoot     = errors.New("refusing to delete the scan root")
)
