package backend

import (
	"sync/atomic"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/cursor"
)

// Pin counts the users of a read view, such as a goleveldb snapshot or a
// bbolt read transaction, and releases the view when the last one is gone.
// A snapshot holds one reference and each of its iterators another, so an
// iterator keeps working after the snapshot is released.
type Pin struct {
	refs    atomic.Int32
	release func()
}

// NewPin returns a pin holding one reference.
func NewPin(release func()) *Pin {
	p := &Pin{release: release}
	p.refs.Store(1)
	return p
}

// Acquire adds a reference.
func (p *Pin) Acquire() { p.refs.Add(1) }

// Unref drops a reference and releases the view when none remain.
func (p *Pin) Unref() {
	if p.refs.Add(-1) == 0 {
		p.release()
	}
}

// PinnedIterator is a CursorIterator holding a reference on a Pin until
// it is closed.
type PinnedIterator struct {
	*treekv.CursorIterator
	pin  *Pin
	done bool
}

// NewPinnedIterator acquires pin and returns an iterator over src.
func NewPinnedIterator(src cursor.Source, opts *treekv.IterOptions, pin *Pin) *PinnedIterator {
	pin.Acquire()
	return &PinnedIterator{CursorIterator: treekv.NewCursorIterator(src, opts), pin: pin}
}

// Close closes the iterator and drops its reference.
func (it *PinnedIterator) Close() error {
	if it.done {
		return nil
	}
	it.done = true
	err := it.CursorIterator.Close()
	it.pin.Unref()
	return err
}
