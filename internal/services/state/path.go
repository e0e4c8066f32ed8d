package state

import (
	"fmt"
	"strings"
)

// PathSeparator splits path segments.
const PathSeparator = "."

// Path is a parsed dotted path.
type Path []string

// ParsePath splits a dotted path and rejects empty segments.
func ParsePath(raw string) (Path, error) {
	if raw == "" {
		return nil, fmt.Errorf("path is empty")
	}
	segments := strings.Split(raw, PathSeparator)
	for i, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("path %q has an empty segment at position %d", raw, i)
		}
	}
	return Path(segments), nil
}

// String joins the path back into its dotted form.
func (p Path) String() string {
	return strings.Join(p, PathSeparator)
}

// Overlaps reports whether writes to a and b contest the same data: the
// paths are equal, or one is a segment prefix of the other.
func Overlaps(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return strings.HasPrefix(b, a) && b[len(a):len(a)+1] == PathSeparator
}
