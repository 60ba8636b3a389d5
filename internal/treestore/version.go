package treestore

import (
	"slices"

	"github.com/aalhour/treekv/internal/ordtree"
)

// Version is an immutable committed state: the trees and the sequence
// number of the last batch applied to them.
type Version struct {
	seq   uint64
	names []string
	ids   map[string]uint32
	trees map[uint32]*ordtree.Tree
}

func newVersion() *Version {
	return &Version{
		names: []string{DefaultTree},
		ids:   map[string]uint32{DefaultTree: 0},
		trees: map[uint32]*ordtree.Tree{0: ordtree.New()},
	}
}

// Seq returns the sequence number of the last applied batch.
func (v *Version) Seq() uint64 {
	return v.seq
}

// TreeNames returns the tree names in creation order.
func (v *Version) TreeNames() []string {
	return slices.Clone(v.names)
}

// TreeID resolves a tree name.
func (v *Version) TreeID(name string) (uint32, bool) {
	id, ok := v.ids[name]
	return id, ok
}

// Tree returns the named tree. The tree must not be modified.
func (v *Version) Tree(name string) (*ordtree.Tree, bool) {
	id, ok := v.ids[name]
	if !ok {
		return nil, false
	}
	return v.trees[id], true
}

// TreeByID returns the tree with the given id.
func (v *Version) TreeByID(id uint32) (*ordtree.Tree, bool) {
	t, ok := v.trees[id]
	return t, ok
}

func (v *Version) nextID() uint32 {
	var next uint32
	for id := range v.trees {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

// withTree returns a copy of v that also holds tree under id and name.
func (v *Version) withTree(id uint32, name string, tree *ordtree.Tree) *Version {
	nv := v.shallowCopy()
	nv.names = append(nv.names, name)
	nv.ids[name] = id
	nv.trees[id] = tree
	return nv
}

func (v *Version) shallowCopy() *Version {
	nv := &Version{
		seq:   v.seq,
		names: slices.Clone(v.names),
		ids:   make(map[string]uint32, len(v.ids)),
		trees: make(map[uint32]*ordtree.Tree, len(v.trees)),
	}
	for k, id := range v.ids {
		nv.ids[k] = id
	}
	for id, t := range v.trees {
		nv.trees[id] = t
	}
	return nv
}
