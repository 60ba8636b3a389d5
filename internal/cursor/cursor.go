// Package cursor implements bidirectional ordered iteration on top of stores
// that only offer one-directional bounded scans.
//
// A Cursor keeps an explicit state. Seeks open a fresh scan. Moving in the
// current direction advances that scan. Reversing direction closes it and
// opens a new scan that starts strictly after (Next) or strictly before
// (Prev) the current key, so the reversal moves exactly one position.
//
// Contract violations panic: Key or Value on an unpositioned cursor, and
// Next or Prev before a successful seek.
package cursor

import (
	"bytes"
	"fmt"
)

// Scanner is a one-directional scan produced by a Source.
type Scanner interface {
	// Next advances to the next entry and reports whether one exists.
	Next() bool
	Key() []byte
	Value() []byte
	// Err returns the error that stopped the scan, if any.
	Err() error
	Close() error
}

// TombstoneScanner is implemented by scanners whose entries may be
// deletion markers.
type TombstoneScanner interface {
	Scanner
	Tombstone() bool
}

// Source opens scans over [start, end). A nil bound is open. With reverse
// the scan yields keys in decreasing order.
type Source interface {
	Scan(start, end []byte, reverse bool) Scanner
}

// SourceFunc adapts a function to Source.
type SourceFunc func(start, end []byte, reverse bool) Scanner

// Scan implements Source.
func (f SourceFunc) Scan(start, end []byte, reverse bool) Scanner {
	return f(start, end, reverse)
}

// State is the position state of a Cursor.
type State int

const (
	// Uninitialized means no seek has been made.
	Uninitialized State = iota
	// PositionedForward means the last movement was toward larger keys.
	PositionedForward
	// PositionedReverse means the last movement was toward smaller keys.
	PositionedReverse
	// Exhausted means the cursor moved past either end. Seeks work as from
	// Uninitialized.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case PositionedForward:
		return "PositionedForward"
	case PositionedReverse:
		return "PositionedReverse"
	case Exhausted:
		return "Exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Cursor is a single-goroutine traversal handle over one key space,
// optionally restricted to [lower, upper).
type Cursor struct {
	src   Source
	lower []byte
	upper []byte

	state   State
	scanner Scanner
	err     error

	key       []byte
	value     []byte
	tombstone bool
}

// New returns an unpositioned cursor over src restricted to [lower, upper).
// The cursor copies both bounds.
func New(src Source, lower, upper []byte) *Cursor {
	return &Cursor{
		src:   src,
		lower: cloneBound(lower),
		upper: cloneBound(upper),
	}
}

func cloneBound(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// SetSource replaces the source and resets the cursor to Uninitialized.
func (c *Cursor) SetSource(src Source) {
	c.reset(Uninitialized)
	c.src = src
}

// State returns the current state.
func (c *Cursor) State() State {
	return c.state
}

// Valid reports whether the cursor is positioned on an entry.
func (c *Cursor) Valid() bool {
	return c.state == PositionedForward || c.state == PositionedReverse
}

// Err returns the scan error that exhausted the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// SeekToFirst positions on the first key.
func (c *Cursor) SeekToFirst() (bool, error) {
	return c.open(c.lower, c.upper, PositionedForward)
}

// SeekToLast positions on the last key.
func (c *Cursor) SeekToLast() (bool, error) {
	return c.open(c.lower, c.upper, PositionedReverse)
}

// Seek positions on the first key >= key.
func (c *Cursor) Seek(key []byte) (bool, error) {
	start := key
	if c.lower != nil && bytes.Compare(start, c.lower) < 0 {
		start = c.lower
	}
	if c.upper != nil && bytes.Compare(start, c.upper) >= 0 {
		c.reset(Exhausted)
		return false, nil
	}
	return c.open(start, c.upper, PositionedForward)
}

// SeekForPrev positions on the last key <= key.
func (c *Cursor) SeekForPrev(key []byte) (bool, error) {
	if c.lower != nil && bytes.Compare(key, c.lower) < 0 {
		c.reset(Exhausted)
		return false, nil
	}
	end := Successor(key)
	if c.upper != nil && bytes.Compare(end, c.upper) > 0 {
		end = c.upper
	}
	return c.open(c.lower, end, PositionedReverse)
}

// Next moves to the next larger key.
func (c *Cursor) Next() (bool, error) {
	switch c.state {
	case PositionedForward:
		return c.advance()
	case PositionedReverse:
		return c.open(Successor(c.key), c.upper, PositionedForward)
	default:
		panic(fmt.Sprintf("cursor: Next called in state %s", c.state))
	}
}

// Prev moves to the next smaller key.
func (c *Cursor) Prev() (bool, error) {
	switch c.state {
	case PositionedReverse:
		return c.advance()
	case PositionedForward:
		end := append([]byte{}, c.key...)
		return c.open(c.lower, end, PositionedReverse)
	default:
		panic(fmt.Sprintf("cursor: Prev called in state %s", c.state))
	}
}

// Key returns the current key. It is valid until the next movement.
func (c *Cursor) Key() []byte {
	c.mustBeValid("Key")
	return c.key
}

// Value returns the current value. It is valid until the next movement.
func (c *Cursor) Value() []byte {
	c.mustBeValid("Value")
	return c.value
}

// Tombstone reports whether the current entry is a deletion marker.
func (c *Cursor) Tombstone() bool {
	c.mustBeValid("Tombstone")
	return c.tombstone
}

// Close releases the open scan. The cursor is Uninitialized afterwards.
func (c *Cursor) Close() error {
	err := c.closeScanner()
	c.state = Uninitialized
	return err
}

func (c *Cursor) mustBeValid(op string) {
	if !c.Valid() {
		panic(fmt.Sprintf("cursor: %s called in state %s", op, c.state))
	}
}

func (c *Cursor) open(start, end []byte, dir State) (bool, error) {
	c.reset(Uninitialized)
	c.scanner = c.src.Scan(start, end, dir == PositionedReverse)
	c.state = dir
	return c.advance()
}

func (c *Cursor) advance() (bool, error) {
	if c.scanner.Next() {
		c.key = append(c.key[:0], c.scanner.Key()...)
		c.value = append(c.value[:0], c.scanner.Value()...)
		if ts, ok := c.scanner.(TombstoneScanner); ok {
			c.tombstone = ts.Tombstone()
		} else {
			c.tombstone = false
		}
		return true, nil
	}
	err := c.scanner.Err()
	c.reset(Exhausted)
	c.err = err
	return false, err
}

func (c *Cursor) reset(state State) {
	_ = c.closeScanner()
	c.state = state
	c.err = nil
	c.tombstone = false
}

func (c *Cursor) closeScanner() error {
	if c.scanner == nil {
		return nil
	}
	err := c.scanner.Close()
	c.scanner = nil
	return err
}

// Successor returns the smallest key strictly greater than key.
func Successor(key []byte) []byte {
	s := make([]byte, len(key)+1)
	copy(s, key)
	return s
}
