package protocol

import (
	"encoding/json"
	"strings"
)

// Path is an ordered sequence of segment names from the scan root.
// The empty path is the scan root itself.
type Path []string

// Root returns the scan root path.
func Root() Path {
	return Path{}
}

// Equal reports whether two paths have identical segments, compared
// in order and case-sensitively.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// IsRoot reports whether p is the scan root.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Key joins the segments with "/". It identifies pending mutations.
func (p Path) Key() string {
	return strings.Join(p, "/")
}

// String implements fmt.Stringer.
func (p Path) String() string {
	return "/" + p.Key()
}

// Name returns the last segment, or "" for the root.
func (p Path) Name() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Parent returns all segments but the last. The root is its own parent.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p.Clone()[:len(p)-1]
}

// Child returns a new path with name appended.
func (p Path) Child(name string) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, name)
}

// Clone returns a copy that shares no storage with p.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Prefixes returns every prefix of p, root first, including p itself.
func (p Path) Prefixes() []Path {
	out := make([]Path, 0, len(p)+1)
	for i := 0; i <= len(p); i++ {
		out = append(out, p[:i].Clone())
	}
	return out
}

// HasPrefix reports whether prefix is an ancestor of p or p itself.
func (p Path) HasPrefix(prefix Path) bool {
	return len(prefix) <= len(p) && p[:len(prefix)].Equal(prefix)
}

// ParsePath splits a "/"-joined key back into a path.
func ParsePath(key string) Path {
	key = strings.Trim(key, "/")
	if key == "" {
		return Path{}
	}
	return Path(strings.Split(key, "/"))
}

// MarshalJSON encodes nil paths as an empty array rather than null.
func (p Path) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(p))
}
