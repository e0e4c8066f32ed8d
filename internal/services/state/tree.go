package state

import "fmt"

// Tree is the root of a session's state.
type Tree map[string]Value

// NewTree returns an empty tree.
func NewTree() Tree { return Tree{} }

// Clone returns a deep copy of t.
func (t Tree) Clone() Tree {
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = v.Clone()
	}
	return out
}

// Get returns the value at a dotted path.
func (t Tree) Get(raw string) (Value, bool) {
	path, err := ParsePath(raw)
	if err != nil {
		return Value{}, false
	}
	current, ok := t[path[0]]
	if !ok {
		return Value{}, false
	}
	for _, seg := range path[1:] {
		if current, ok = current.Field(seg); !ok {
			return Value{}, false
		}
	}
	return current, true
}

// Set writes value at path, creating missing intermediate maps, and returns
// the value previously stored there (null when absent).
//
// An existing intermediate that is not a map is an error. The tree may hold
// newly created empty intermediates when Set fails, so callers apply batches
// to a clone.
func (t Tree) Set(path Path, value Value) (Value, error) {
	if len(path) == 0 {
		return Value{}, fmt.Errorf("path is empty")
	}
	fields := map[string]Value(t)
	for i, seg := range path[:len(path)-1] {
		next, ok := fields[seg]
		switch {
		case !ok:
			next = Value{kind: KindMap, m: map[string]Value{}}
			fields[seg] = next
		case next.kind != KindMap:
			return Value{}, fmt.Errorf("path %q: %q holds a %s, not a map", path, path[:i+1], next.kind)
		case next.m == nil:
			next.m = map[string]Value{}
			fields[seg] = next
		}
		fields = next.m
	}

	last := path[len(path)-1]
	previous, ok := fields[last]
	if !ok {
		previous = Null()
	}
	fields[last] = value.Clone()
	return previous, nil
}

// Value returns t as a map value.
func (t Tree) Value() Value {
	return Map(t)
}

// MarshalJSON encodes t as a JSON object with sorted keys.
func (t Tree) MarshalJSON() ([]byte, error) {
	return Value{kind: KindMap, m: t}.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object into t.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	switch v.kind {
	case KindMap:
		*t = Tree(v.m)
	case KindNull:
		*t = Tree{}
	default:
		return fmt.Errorf("state root must be an object, got %s", v.kind)
	}
	return nil
}
