package treekv

import (
	"github.com/aalhour/treekv/internal/cursor"
	"github.com/aalhour/treekv/internal/ordtree"
)

// CursorIterator implements Iterator on a cursor.Cursor. Every backend in
// this module builds its iterators with it.
//
// A refreshing iterator re-reads its source before each seek, so a seek
// observes writes committed since the previous one. Next and Prev keep the
// view the last seek pinned.
type CursorIterator struct {
	cur     *cursor.Cursor
	refresh func() (cursor.Source, error)
	closed  bool
}

// NewCursorIterator returns an iterator over src.
func NewCursorIterator(src cursor.Source, opts *IterOptions) *CursorIterator {
	lower, upper := opts.bounds()
	return &CursorIterator{cur: cursor.New(src, lower, upper)}
}

// NewRefreshingIterator returns an iterator that calls refresh for a new
// source before each seek.
func NewRefreshingIterator(refresh func() (cursor.Source, error), opts *IterOptions) *CursorIterator {
	lower, upper := opts.bounds()
	return &CursorIterator{cur: cursor.New(nil, lower, upper), refresh: refresh}
}

func (it *CursorIterator) prepare() error {
	if it.closed {
		return ErrReleased
	}
	if it.refresh == nil {
		return nil
	}
	src, err := it.refresh()
	if err != nil {
		return err
	}
	it.cur.SetSource(src)
	return nil
}

// Seek positions on the first key >= key, the first key for SeekStart, or
// the last key for SeekEnd.
func (it *CursorIterator) Seek(key SeekKey) (bool, error) {
	if err := it.prepare(); err != nil {
		return false, err
	}
	switch key.kind {
	case seekStart:
		return it.cur.SeekToFirst()
	case seekEnd:
		return it.cur.SeekToLast()
	}
	return it.cur.Seek(key.key)
}

// SeekForPrev positions on the last key <= key. SeekStart and SeekEnd
// behave as they do for Seek.
func (it *CursorIterator) SeekForPrev(key SeekKey) (bool, error) {
	if err := it.prepare(); err != nil {
		return false, err
	}
	switch key.kind {
	case seekStart:
		return it.cur.SeekToFirst()
	case seekEnd:
		return it.cur.SeekToLast()
	}
	return it.cur.SeekForPrev(key.key)
}

// Next moves to the next larger key.
func (it *CursorIterator) Next() (bool, error) { return it.cur.Next() }

// Prev moves to the next smaller key.
func (it *CursorIterator) Prev() (bool, error) { return it.cur.Prev() }

func (it *CursorIterator) Key() []byte   { return it.cur.Key() }
func (it *CursorIterator) Value() []byte { return it.cur.Value() }

// Tombstone reports whether the current entry is a deletion marker. Only
// SST readers produce them.
func (it *CursorIterator) Tombstone() bool { return it.cur.Tombstone() }

// Valid reports whether the iterator is positioned, and the scan error
// that exhausted it.
func (it *CursorIterator) Valid() (bool, error) {
	return it.cur.Valid(), it.cur.Err()
}

// Close releases the iterator. Later seeks fail with ErrReleased.
func (it *CursorIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.cur.Close()
}

// treeSource scans an ordered tree. Trees reachable from a published
// version are never modified.
func treeSource(t *ordtree.Tree) cursor.Source {
	return cursor.SourceFunc(func(start, end []byte, reverse bool) cursor.Scanner {
		return t.Scan(start, end, reverse)
	})
}

var _ Iterator = (*CursorIterator)(nil)
