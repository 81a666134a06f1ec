// Package kvstore implements the durable, atomically-saved key/value tree
// that backs the message store's cursors and the registration identity:
// a single root dict written to disk as one bpickle blob via a
// write-temp-then-rename sequence, with a ".old" fallback copy kept
// around in case the primary file is lost mid-write.
package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oriys/courier/internal/bpickle"
)

// Store is an in-memory dict tree that can be saved to and loaded from
// a single file on disk. Store itself is not safe for concurrent use
// and does no locking of its own.
type Store struct {
	filename string
	root     bpickle.Value
}

// New creates an empty, unbacked store. Call Save to give it a file.
func New() *Store {
	return &Store{root: bpickle.Dict(nil)}
}

// Load reads filename, falling back to filename+".old" if the primary
// file is missing or does not parse, matching the durability contract of
// the original's Persist.save()/load() pair.
func Load(filename string) (*Store, error) {
	s := &Store{filename: filename, root: bpickle.Dict(nil)}
	data, err := os.ReadFile(filename)
	if err == nil && len(data) > 0 {
		if v, decErr := bpickle.Decode(data); decErr == nil && v.Kind == bpickle.KindDict {
			s.root = v
			return s, nil
		}
	}
	oldData, oldErr := os.ReadFile(filename + ".old")
	if oldErr != nil {
		if err != nil {
			return s, nil // neither file exists: fresh store
		}
		return s, nil
	}
	if v, decErr := bpickle.Decode(oldData); decErr == nil && v.Kind == bpickle.KindDict {
		s.root = v
	}
	return s, nil
}

// RootAt returns a view of the store scoped under the given top-level key,
// matching Persist.root_at(name). The key itself is created by the first
// Set through the view.
func (s *Store) RootAt(key string) *Scoped {
	return &Scoped{store: s, prefix: key}
}

// Get resolves a dotted path (optionally with "[N]" list indices) against
// the root dict. Returns (value, true) if every path segment resolves.
func (s *Store) Get(path string) (bpickle.Value, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return bpickle.Value{}, false
	}
	return resolve(s.root, segs)
}

// Set writes v at the given dotted path, creating intermediate dicts as
// needed. A list index beyond the current length pads the list with
// nulls up to that index. A path segment that is only an index, with no
// dict key before it, returns an error.
func (s *Store) Set(path string, v bpickle.Value) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("kvstore: empty path")
	}
	newRoot, err := assign(s.root, segs, v)
	if err != nil {
		return err
	}
	s.root = newRoot
	return nil
}

// Save writes the store atomically: encode, write to filename+".tmp",
// copy the previous primary file to filename+".old", then rename the
// temp file into place.
func (s *Store) Save() error {
	if s.filename == "" {
		return fmt.Errorf("kvstore: store has no backing file")
	}
	data, err := bpickle.Encode(s.root)
	if err != nil {
		return fmt.Errorf("kvstore: encode: %w", err)
	}
	tmp := s.filename + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.filename), 0o755); err != nil {
		return fmt.Errorf("kvstore: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("kvstore: write temp: %w", err)
	}
	if prev, err := os.ReadFile(s.filename); err == nil {
		_ = os.WriteFile(s.filename+".old", prev, 0o600)
	}
	if err := os.Rename(tmp, s.filename); err != nil {
		return fmt.Errorf("kvstore: rename: %w", err)
	}
	return nil
}

// Scoped is a view of a Store rooted under a fixed top-level key.
type Scoped struct {
	store  *Store
	prefix string
}

func (s *Scoped) Get(path string) (bpickle.Value, bool) {
	return s.store.Get(s.prefix + "." + path)
}

func (s *Scoped) Set(path string, v bpickle.Value) error {
	return s.store.Set(s.prefix+"."+path, v)
}

type segment struct {
	key   string
	index int // -1 if this segment is a plain dict key
}

func parsePath(path string) ([]segment, error) {
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		key := part
		idx := -1
		if b := strings.IndexByte(part, '['); b >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, fmt.Errorf("kvstore: malformed path segment %q", part)
			}
			key = part[:b]
			n, err := strconv.Atoi(part[b+1 : len(part)-1])
			if err != nil {
				return nil, fmt.Errorf("kvstore: malformed index in %q", part)
			}
			idx = n
		}
		segs = append(segs, segment{key: key, index: idx})
	}
	return segs, nil
}

func resolve(v bpickle.Value, segs []segment) (bpickle.Value, bool) {
	cur := v
	for _, seg := range segs {
		if seg.key != "" {
			if cur.Kind != bpickle.KindDict {
				return bpickle.Value{}, false
			}
			next, ok := cur.Dict[seg.key]
			if !ok {
				return bpickle.Value{}, false
			}
			cur = next
		}
		if seg.index >= 0 {
			if cur.Kind != bpickle.KindList || seg.index >= len(cur.List) {
				return bpickle.Value{}, false
			}
			cur = cur.List[seg.index]
		}
	}
	return cur, true
}

func assign(root bpickle.Value, segs []segment, v bpickle.Value) (bpickle.Value, error) {
	if root.Kind != bpickle.KindDict {
		root = bpickle.Dict(nil)
	}
	return assignDict(root, segs, v)
}

func assignDict(node bpickle.Value, segs []segment, v bpickle.Value) (bpickle.Value, error) {
	seg := segs[0]
	if seg.key == "" {
		return bpickle.Value{}, fmt.Errorf("kvstore: list-only path segments are not supported at the root")
	}
	m := node.Dict
	if m == nil {
		m = map[string]bpickle.Value{}
	}
	child := m[seg.key]

	if seg.index < 0 {
		if len(segs) == 1 {
			m[seg.key] = v
		} else {
			newChild, err := assignNext(child, segs[1:], v)
			if err != nil {
				return bpickle.Value{}, err
			}
			m[seg.key] = newChild
		}
		return bpickle.Dict(m), nil
	}

	if child.Kind != bpickle.KindList {
		child = bpickle.List()
	}
	list := append([]bpickle.Value(nil), child.List...)
	for len(list) <= seg.index {
		list = append(list, bpickle.Null())
	}
	if len(segs) == 1 {
		list[seg.index] = v
	} else {
		newElem, err := assignNext(list[seg.index], segs[1:], v)
		if err != nil {
			return bpickle.Value{}, err
		}
		list[seg.index] = newElem
	}
	m[seg.key] = bpickle.List(list...)
	return bpickle.Dict(m), nil
}

func assignNext(node bpickle.Value, segs []segment, v bpickle.Value) (bpickle.Value, error) {
	if node.Kind != bpickle.KindDict {
		node = bpickle.Dict(nil)
	}
	return assignDict(node, segs, v)
}
