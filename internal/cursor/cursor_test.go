package cursor

import (
	"bytes"
	"errors"
	"sort"
	"testing"
)

// sliceSource serves scans over a sorted key list. It supports only
// one-directional bounded scans, like the stores the cursor sits on.
type sliceSource struct {
	keys    []string
	failAt  string
	scans   int
	open    int
	deleted map[string]bool
}

func newSource(keys ...string) *sliceSource {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return &sliceSource{keys: sorted}
}

func (s *sliceSource) Scan(start, end []byte, reverse bool) Scanner {
	s.scans++
	s.open++
	var sel []string
	for _, k := range s.keys {
		if start != nil && bytes.Compare([]byte(k), start) < 0 {
			continue
		}
		if end != nil && bytes.Compare([]byte(k), end) >= 0 {
			continue
		}
		sel = append(sel, k)
	}
	if reverse {
		for i, j := 0, len(sel)-1; i < j; i, j = i+1, j-1 {
			sel[i], sel[j] = sel[j], sel[i]
		}
	}
	return &sliceScanner{src: s, keys: sel, pos: -1}
}

type sliceScanner struct {
	src  *sliceSource
	keys []string
	pos  int
	err  error
}

var errScan = errors.New("scan failed")

func (s *sliceScanner) Next() bool {
	s.pos++
	if s.pos >= len(s.keys) {
		return false
	}
	if s.src.failAt != "" && s.keys[s.pos] == s.src.failAt {
		s.err = errScan
		return false
	}
	return true
}

func (s *sliceScanner) Key() []byte     { return []byte(s.keys[s.pos]) }
func (s *sliceScanner) Value() []byte   { return []byte("v-" + s.keys[s.pos]) }
func (s *sliceScanner) Tombstone() bool { return s.src.deleted[s.keys[s.pos]] }
func (s *sliceScanner) Err() error      { return s.err }
func (s *sliceScanner) Close() error {
	s.src.open--
	return nil
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func expectAt(t *testing.T, c *Cursor, ok bool, err error, want string, state State) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || !c.Valid() {
		t.Fatalf("cursor invalid, want %q", want)
	}
	if string(c.Key()) != want {
		t.Fatalf("key = %q, want %q", c.Key(), want)
	}
	if string(c.Value()) != "v-"+want {
		t.Fatalf("value = %q, want %q", c.Value(), "v-"+want)
	}
	if c.State() != state {
		t.Fatalf("state = %s, want %s", c.State(), state)
	}
}

func expectExhausted(t *testing.T, c *Cursor, ok bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || c.Valid() || c.State() != Exhausted {
		t.Fatalf("cursor should be exhausted, state %s", c.State())
	}
}

// =============================================================================
// Empty key space
// =============================================================================

func TestCursor_Empty(t *testing.T) {
	c := New(newSource(), nil, nil)

	if c.Valid() || c.State() != Uninitialized {
		t.Fatal("new cursor must be uninitialized")
	}
	mustPanic(t, "Next", func() { _, _ = c.Next() })
	mustPanic(t, "Prev", func() { _, _ = c.Prev() })
	mustPanic(t, "Key", func() { c.Key() })
	mustPanic(t, "Value", func() { c.Value() })

	ok, err := c.SeekToFirst()
	expectExhausted(t, c, ok, err)
	ok, err = c.SeekToLast()
	expectExhausted(t, c, ok, err)
	ok, err = c.Seek([]byte("foo"))
	expectExhausted(t, c, ok, err)
	ok, err = c.SeekForPrev([]byte("foo"))
	expectExhausted(t, c, ok, err)

	mustPanic(t, "Next after exhaustion", func() { _, _ = c.Next() })
	mustPanic(t, "Key after exhaustion", func() { c.Key() })
}

// =============================================================================
// Forward and reverse traversal
// =============================================================================

func TestCursor_ForwardAndReverse(t *testing.T) {
	c := New(newSource("a", "b", "c"), nil, nil)

	ok, err := c.SeekToFirst()
	expectAt(t, c, ok, err, "a", PositionedForward)
	ok, err = c.Next()
	expectAt(t, c, ok, err, "b", PositionedForward)
	ok, err = c.Next()
	expectAt(t, c, ok, err, "c", PositionedForward)
	ok, err = c.Next()
	expectExhausted(t, c, ok, err)

	ok, err = c.SeekToLast()
	expectAt(t, c, ok, err, "c", PositionedReverse)
	ok, err = c.Prev()
	expectAt(t, c, ok, err, "b", PositionedReverse)
	ok, err = c.Prev()
	expectAt(t, c, ok, err, "a", PositionedReverse)
	ok, err = c.Prev()
	expectExhausted(t, c, ok, err)
}

func TestCursor_ReversalMovesExactlyOne(t *testing.T) {
	src := newSource("a", "b", "c", "d")
	c := New(src, nil, nil)

	ok, err := c.Seek([]byte("b"))
	expectAt(t, c, ok, err, "b", PositionedForward)
	ok, err = c.Prev()
	expectAt(t, c, ok, err, "a", PositionedReverse)
	ok, err = c.Next()
	expectAt(t, c, ok, err, "b", PositionedForward)
	ok, err = c.Next()
	expectAt(t, c, ok, err, "c", PositionedForward)
	ok, err = c.Prev()
	expectAt(t, c, ok, err, "b", PositionedReverse)
	ok, err = c.Prev()
	expectAt(t, c, ok, err, "a", PositionedReverse)
	ok, err = c.Next()
	expectAt(t, c, ok, err, "b", PositionedForward)

	if src.open != 1 {
		t.Errorf("open scans = %d, want 1", src.open)
	}
	if err := c.Close(); err != nil || src.open != 0 {
		t.Errorf("Close left %d scans open, err %v", src.open, err)
	}
}

func TestCursor_ReversalAtEdges(t *testing.T) {
	c := New(newSource("a", "b"), nil, nil)

	ok, err := c.SeekToFirst()
	expectAt(t, c, ok, err, "a", PositionedForward)
	ok, err = c.Prev()
	expectExhausted(t, c, ok, err)

	ok, err = c.SeekToLast()
	expectAt(t, c, ok, err, "b", PositionedReverse)
	ok, err = c.Next()
	expectExhausted(t, c, ok, err)
}

// =============================================================================
// Seek tie-break
// =============================================================================

func TestCursor_SeekTieBreak(t *testing.T) {
	c := New(newSource("a", "c", "e"), nil, nil)

	tests := []struct {
		key      string
		seek     string
		seekPrev string
	}{
		{"a", "a", "a"},
		{"b", "c", "a"},
		{"c", "c", "c"},
		{"d", "e", "c"},
		{"0", "a", ""},
		{"f", "", "e"},
	}
	for _, tt := range tests {
		ok, err := c.Seek([]byte(tt.key))
		if tt.seek == "" {
			expectExhausted(t, c, ok, err)
		} else {
			expectAt(t, c, ok, err, tt.seek, PositionedForward)
		}

		ok, err = c.SeekForPrev([]byte(tt.key))
		if tt.seekPrev == "" {
			expectExhausted(t, c, ok, err)
		} else {
			expectAt(t, c, ok, err, tt.seekPrev, PositionedReverse)
		}
	}
}

func TestCursor_SeekForPrevPrefixKeys(t *testing.T) {
	// "ab" sorts after "a" but "a\x00" lies between them.
	c := New(newSource("a", "a\x00", "ab"), nil, nil)

	ok, err := c.SeekForPrev([]byte("a"))
	expectAt(t, c, ok, err, "a", PositionedReverse)
	ok, err = c.Next()
	expectAt(t, c, ok, err, "a\x00", PositionedForward)
	ok, err = c.Next()
	expectAt(t, c, ok, err, "ab", PositionedForward)
}

// =============================================================================
// Bounds
// =============================================================================

func TestCursor_Bounds(t *testing.T) {
	c := New(newSource("a", "b", "c", "d", "e"), []byte("b"), []byte("e"))

	ok, err := c.SeekToFirst()
	expectAt(t, c, ok, err, "b", PositionedForward)
	ok, err = c.SeekToLast()
	expectAt(t, c, ok, err, "d", PositionedReverse)
	ok, err = c.Seek([]byte("a"))
	expectAt(t, c, ok, err, "b", PositionedForward)
	ok, err = c.Prev()
	expectExhausted(t, c, ok, err)
	ok, err = c.SeekForPrev([]byte("z"))
	expectAt(t, c, ok, err, "d", PositionedReverse)
	ok, err = c.Next()
	expectExhausted(t, c, ok, err)
	ok, err = c.Seek([]byte("e"))
	expectExhausted(t, c, ok, err)
	ok, err = c.SeekForPrev([]byte("a"))
	expectExhausted(t, c, ok, err)
}

// =============================================================================
// Errors and tombstones
// =============================================================================

func TestCursor_ScanErrorSurfaces(t *testing.T) {
	src := newSource("a", "b", "c")
	src.failAt = "b"
	c := New(src, nil, nil)

	ok, err := c.SeekToFirst()
	expectAt(t, c, ok, err, "a", PositionedForward)
	ok, err = c.Next()
	if ok || !errors.Is(err, errScan) {
		t.Fatalf("Next = %v, %v; want scan error", ok, err)
	}
	if c.Valid() || !errors.Is(c.Err(), errScan) {
		t.Errorf("Err() = %v", c.Err())
	}

	src.failAt = ""
	ok, err = c.Seek([]byte("b"))
	expectAt(t, c, ok, err, "b", PositionedForward)
	if c.Err() != nil {
		t.Errorf("seek must clear the previous error, got %v", c.Err())
	}
}

func TestCursor_Tombstones(t *testing.T) {
	src := newSource("a", "b")
	src.deleted = map[string]bool{"b": true}
	c := New(src, nil, nil)

	ok, err := c.SeekToFirst()
	expectAt(t, c, ok, err, "a", PositionedForward)
	if c.Tombstone() {
		t.Error("a is not a tombstone")
	}
	ok, err = c.Next()
	expectAt(t, c, ok, err, "b", PositionedForward)
	if !c.Tombstone() {
		t.Error("b is a tombstone")
	}
}

func TestCursor_SetSourceResets(t *testing.T) {
	c := New(newSource("a"), nil, nil)
	ok, err := c.SeekToFirst()
	expectAt(t, c, ok, err, "a", PositionedForward)

	c.SetSource(newSource("x", "y"))
	if c.State() != Uninitialized {
		t.Fatalf("state after SetSource = %s", c.State())
	}
	ok, err = c.SeekToFirst()
	expectAt(t, c, ok, err, "x", PositionedForward)
}

func TestSuccessor(t *testing.T) {
	k := []byte("abc")
	s := Successor(k)
	if bytes.Compare(s, k) <= 0 || !bytes.Equal(s, []byte("abc\x00")) {
		t.Errorf("Successor = %q", s)
	}
	if !bytes.Equal(Successor(nil), []byte{0}) {
		t.Error("Successor(nil) must be the 0x00 key")
	}
}
