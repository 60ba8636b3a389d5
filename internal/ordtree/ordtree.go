// Package ordtree is an ordered byte-string map over a copy-on-write B-tree.
//
// A Tree that has been handed to readers is never modified again: writers
// Clone it, mutate the clone and publish the clone. Clone is O(1) and shares
// nodes lazily, so readers keep a consistent view for as long as they hold
// the old Tree.
package ordtree

import (
	"bytes"

	"github.com/google/btree"
)

const degree = 32

// Item is one entry. Tombstone marks a deleted key that must still shadow
// older data; the tree store never stores tombstones, the SST reader does.
type Item struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

func less(a, b Item) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// Tree is an ordered map from key to Item.
type Tree struct {
	bt *btree.BTreeG[Item]
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{bt: btree.NewG(degree, less)}
}

// Len returns the number of items.
func (t *Tree) Len() int {
	return t.bt.Len()
}

// Get returns the item stored under key.
func (t *Tree) Get(key []byte) (Item, bool) {
	return t.bt.Get(Item{Key: key})
}

// Set stores value under key. The tree keeps the slices; callers that reuse
// their buffers must pass copies.
func (t *Tree) Set(key, value []byte) {
	t.bt.ReplaceOrInsert(Item{Key: key, Value: value})
}

// SetTombstone stores a deletion marker under key.
func (t *Tree) SetTombstone(key []byte) {
	t.bt.ReplaceOrInsert(Item{Key: key, Tombstone: true})
}

// Delete removes key and reports whether it was present.
func (t *Tree) Delete(key []byte) bool {
	_, ok := t.bt.Delete(Item{Key: key})
	return ok
}

// Clone returns a tree with the same contents. Mutating either tree does not
// affect the other.
func (t *Tree) Clone() *Tree {
	return &Tree{bt: t.bt.Clone()}
}

// Ascend calls fn for every item in key order until fn returns false.
func (t *Tree) Ascend(fn func(Item) bool) {
	t.bt.Ascend(fn)
}

// Min returns the smallest item.
func (t *Tree) Min() (Item, bool) {
	return t.bt.Min()
}

// Max returns the largest item.
func (t *Tree) Max() (Item, bool) {
	return t.bt.Max()
}

// KeysInRange returns the keys in [start, end). A nil bound is open.
func (t *Tree) KeysInRange(start, end []byte) [][]byte {
	var keys [][]byte
	t.ascendRange(start, end, false, func(it Item) bool {
		keys = append(keys, it.Key)
		return true
	})
	return keys
}

// ascendRange visits [start, end) in order. With exclusiveStart the item
// equal to start is skipped.
func (t *Tree) ascendRange(start, end []byte, exclusiveStart bool, fn func(Item) bool) {
	visit := func(it Item) bool {
		if exclusiveStart && bytes.Equal(it.Key, start) {
			return true
		}
		if end != nil && bytes.Compare(it.Key, end) >= 0 {
			return false
		}
		return fn(it)
	}
	if start == nil {
		t.bt.Ascend(visit)
		return
	}
	t.bt.AscendGreaterOrEqual(Item{Key: start}, visit)
}

// descendRange visits [start, end) in reverse order. With boundedEnd a nil
// end is the empty key rather than an open bound.
func (t *Tree) descendRange(start, end []byte, boundedEnd bool, fn func(Item) bool) {
	bounded := end != nil || boundedEnd
	visit := func(it Item) bool {
		if bounded && bytes.Compare(it.Key, end) >= 0 {
			return true
		}
		if start != nil && bytes.Compare(it.Key, start) < 0 {
			return false
		}
		return fn(it)
	}
	if !bounded {
		t.bt.Descend(visit)
		return
	}
	t.bt.DescendLessOrEqual(Item{Key: end}, visit)
}
