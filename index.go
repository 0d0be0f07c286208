package syncache

import (
	"fmt"

	"github.com/unkn0wn-root/syncache/internal/util"
)

// Index is a composite-key lookup structure over cached objects. The key
// path is an ordered list of property names; all but the last navigate
// intermediate levels, the last discriminates the leaf. A unique leaf holds
// a single object, a non-unique leaf an unordered set keyed by object id.
type Index struct {
	name    string
	keyPath []string
	unique  bool
	idOf    func(Object) (int64, bool)
	log     Logger

	root *indexNode
}

type indexNode struct {
	children map[any]*indexNode

	// leaf storage; obj for unique indexes, set for non-unique.
	obj Object
	set map[int64]Object
}

func newIndexNode() *indexNode {
	return &indexNode{children: make(map[any]*indexNode)}
}

func newIndex(spec IndexSpec, idOf func(Object) (int64, bool), log Logger) (*Index, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("syncache: index requires a name")
	}
	if len(spec.KeyPath) == 0 {
		return nil, fmt.Errorf("syncache: index %q requires a key path", spec.Name)
	}
	return &Index{
		name:    spec.Name,
		keyPath: spec.KeyPath,
		unique:  spec.Unique,
		idOf:    idOf,
		log:     log,
		root:    newIndexNode(),
	}, nil
}

func (ix *Index) Name() string { return ix.name }
func (ix *Index) Unique() bool { return ix.unique }

// keysFor extracts and normalizes the key path values of obj. Numeric values
// collapse to a canonical form so codec round-trips do not split entries.
func (ix *Index) keysFor(obj Object) []any {
	keys := make([]any, len(ix.keyPath))
	for i, prop := range ix.keyPath {
		keys[i] = util.IndexKey(obj[prop])
	}
	return keys
}

// getOrCreateNode navigates the key path, lazily creating intermediate levels.
func (ix *Index) getOrCreateNode(keys []any) *indexNode {
	n := ix.root
	for _, k := range keys {
		child, ok := n.children[k]
		if !ok {
			child = newIndexNode()
			n.children[k] = child
		}
		n = child
	}
	return n
}

func (ix *Index) node(keys []any) (*indexNode, bool) {
	n := ix.root
	for _, k := range keys {
		child, ok := n.children[k]
		if !ok {
			return nil, false
		}
		n = child
	}
	return n, true
}

// AddInstance inserts obj at its computed key path. Inserting a second
// object under the same key of a unique index is a reportable anomaly: it is
// logged and the existing entry overwritten.
func (ix *Index) AddInstance(obj Object) {
	n := ix.getOrCreateNode(ix.keysFor(obj))
	if ix.unique {
		if n.obj != nil {
			if prev, ok := ix.idOf(n.obj); ok {
				if next, ok2 := ix.idOf(obj); !ok2 || prev != next {
					ix.log.Warn("unique index overwrite", Fields{
						"index": ix.name, "prevID": prev,
					})
				}
			}
		}
		n.obj = obj
		return
	}
	if n.set == nil {
		n.set = make(map[int64]Object)
	}
	id, ok := ix.idOf(obj)
	if !ok {
		ix.log.Error("object without id reached index", Fields{"index": ix.name})
		return
	}
	n.set[id] = obj
}

// RemoveInstance removes obj from its computed key path. Removal of an
// absent member is tolerated. A unique leaf is cleared only when it still
// holds obj itself; after an overwrite, removing the displaced object must
// not evict its successor.
func (ix *Index) RemoveInstance(obj Object) {
	n, ok := ix.node(ix.keysFor(obj))
	if !ok {
		return
	}
	if ix.unique {
		if n.obj == nil {
			return
		}
		if prev, ok := ix.idOf(n.obj); ok {
			if next, ok2 := ix.idOf(obj); ok2 && prev != next {
				return
			}
		}
		n.obj = nil
		return
	}
	id, ok := ix.idOf(obj)
	if !ok {
		return
	}
	delete(n.set, id)
}

// Get resolves a unique-index entry by its full key path.
func (ix *Index) Get(keys ...any) (Object, bool) {
	n, ok := ix.node(normalizeKeys(keys))
	if !ok || n.obj == nil {
		return nil, false
	}
	return n.obj, true
}

// GetAll resolves the members of a non-unique leaf. Order is unspecified.
func (ix *Index) GetAll(keys ...any) []Object {
	n, ok := ix.node(normalizeKeys(keys))
	if !ok {
		return nil
	}
	if ix.unique {
		if n.obj == nil {
			return nil
		}
		return []Object{n.obj}
	}
	out := make([]Object, 0, len(n.set))
	for _, o := range n.set {
		out = append(out, o)
	}
	return out
}

func normalizeKeys(keys []any) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = util.IndexKey(k)
	}
	return out
}

// IndexSet is a named collection of indexes attached to one cache, updated
// in lockstep on insert and remove.
type IndexSet struct {
	byName map[string]*Index
	order  []*Index
}

func newIndexSet(specs []IndexSpec, idOf func(Object) (int64, bool), log Logger) (*IndexSet, error) {
	s := &IndexSet{byName: make(map[string]*Index, len(specs))}
	for _, spec := range specs {
		ix, err := newIndex(spec, idOf, log)
		if err != nil {
			return nil, err
		}
		if _, dup := s.byName[ix.name]; dup {
			return nil, fmt.Errorf("syncache: duplicate index name %q", ix.name)
		}
		s.byName[ix.name] = ix
		s.order = append(s.order, ix)
	}
	return s, nil
}

// Add fans obj out to every configured index.
func (s *IndexSet) Add(obj Object) {
	for _, ix := range s.order {
		ix.AddInstance(obj)
	}
}

// Remove fans removal of obj out to every configured index.
func (s *IndexSet) Remove(obj Object) {
	for _, ix := range s.order {
		ix.RemoveInstance(obj)
	}
}

// Index returns a configured index by name.
func (s *IndexSet) Index(name string) (*Index, bool) {
	ix, ok := s.byName[name]
	return ix, ok
}

func (s *IndexSet) Len() int { return len(s.order) }
