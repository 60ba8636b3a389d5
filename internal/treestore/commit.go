package treestore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/aalhour/treekv/internal/batch"
	"github.com/aalhour/treekv/internal/encoding"
	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/internal/ordtree"
)

var errBadRecord = errors.New("treestore: malformed commit log record")

// Commit appends b to the commit log and publishes its effects as one new
// Version. It returns the sequence number assigned to b. With sync the log
// is fsynced before Commit returns.
//
// If the append fails nothing is published and the store rejects all later
// writes with ErrBackground.
func (s *Store) Commit(b *batch.WriteBatch, sync bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.bgErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackground, s.bgErr)
	}

	cur := s.current.Load()
	if b.Count() == 0 {
		if sync {
			if err := s.logFile.Sync(); err != nil {
				s.setBackgroundError("sync", err)
				return 0, fmt.Errorf("treestore: sync commit log: %w", err)
			}
		}
		return cur.seq, nil
	}

	seq := cur.seq + 1
	b.SetSequence(seq)
	a := newApplier(cur)
	if err := b.Iterate(a); err != nil {
		return 0, err
	}
	a.v.seq = seq

	if _, err := s.appendRecord(encodeBatch(b)); err != nil {
		s.setBackgroundError("append", err)
		return 0, fmt.Errorf("treestore: append commit log: %w", err)
	}
	if sync {
		if err := s.logFile.Sync(); err != nil {
			s.setBackgroundError("sync", err)
			return 0, fmt.Errorf("treestore: sync commit log: %w", err)
		}
	}
	s.current.Store(a.v)

	if s.opts.RewriteLogThreshold > 0 && s.logSize >= s.nextRewrite {
		if err := s.rewriteLocked(); err != nil {
			s.logger.Warnf(logging.NSStore+"automatic commit log rewrite failed: %v", err)
		}
	}
	return seq, nil
}

// applier applies a batch to a private copy of a Version. Each touched tree
// is cloned on first use, so the base Version is never modified.
type applier struct {
	v      *Version
	cloned map[uint32]*ordtree.Tree
}

func newApplier(base *Version) *applier {
	return &applier{v: base.shallowCopy(), cloned: make(map[uint32]*ordtree.Tree)}
}

func (a *applier) tree(id uint32) (*ordtree.Tree, error) {
	if t, ok := a.cloned[id]; ok {
		return t, nil
	}
	t, ok := a.v.trees[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownTree, id)
	}
	c := t.Clone()
	a.cloned[id] = c
	a.v.trees[id] = c
	return c, nil
}

func (a *applier) Put(id uint32, key, value []byte) error {
	t, err := a.tree(id)
	if err != nil {
		return err
	}
	t.Set(bytes.Clone(nonNil(key)), bytes.Clone(nonNil(value)))
	return nil
}

func (a *applier) Delete(id uint32, key []byte) error {
	t, err := a.tree(id)
	if err != nil {
		return err
	}
	t.Delete(key)
	return nil
}

// DeleteRange sees the puts and deletes that precede it in the same batch.
func (a *applier) DeleteRange(id uint32, begin, end []byte) error {
	t, err := a.tree(id)
	if err != nil {
		return err
	}
	if bytes.Compare(begin, end) >= 0 {
		return nil
	}
	for _, k := range t.KeysInRange(begin, end) {
		t.Delete(k)
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func encodeBatch(b *batch.WriteBatch) []byte {
	rec := make([]byte, 0, 1+b.Size())
	rec = append(rec, kindBatch)
	return append(rec, b.Data()...)
}

func encodeTreeDef(id uint32, name string) []byte {
	rec := []byte{kindTreeDef}
	rec = encoding.AppendVarint32(rec, id)
	return encoding.AppendLengthPrefixedSlice(rec, []byte(name))
}

// Record is one decoded commit log record. Exactly one of TreeName or
// Batch is set.
type Record struct {
	TreeID   uint32
	TreeName string
	Batch    *batch.WriteBatch
}

// DecodeRecord decodes a commit log record without applying it.
func DecodeRecord(rec []byte) (Record, error) {
	if len(rec) == 0 {
		return Record{}, errBadRecord
	}
	switch rec[0] {
	case kindTreeDef:
		s := encoding.NewSlice(rec[1:])
		id, ok := s.GetVarint32()
		if !ok {
			return Record{}, errBadRecord
		}
		name, ok := s.GetLengthPrefixedSlice()
		if !ok || s.Remaining() != 0 {
			return Record{}, errBadRecord
		}
		return Record{TreeID: id, TreeName: string(name)}, nil

	case kindBatch:
		b, err := batch.NewFromData(rec[1:])
		if err != nil {
			return Record{}, err
		}
		return Record{Batch: b}, nil

	default:
		return Record{}, fmt.Errorf("%w: kind %d", errBadRecord, rec[0])
	}
}

// applyRecord applies one commit log record to v during replay.
func applyRecord(v *Version, rec []byte) (*Version, error) {
	r, err := DecodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if r.Batch == nil {
		if _, dup := v.ids[r.TreeName]; dup {
			return nil, fmt.Errorf("%w: tree %q defined twice", errBadRecord, r.TreeName)
		}
		if _, dup := v.trees[r.TreeID]; dup {
			return nil, fmt.Errorf("%w: tree id %d defined twice", errBadRecord, r.TreeID)
		}
		return v.withTree(r.TreeID, r.TreeName, ordtree.New()), nil
	}

	a := newApplier(v)
	if err := r.Batch.Iterate(a); err != nil {
		return nil, err
	}
	a.v.seq = r.Batch.Sequence()
	return a.v, nil
}
