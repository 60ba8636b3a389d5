package ordtree

// scanChunk is the number of items a Scanner copies out of the tree per
// refill.
const scanChunk = 64

// Scanner walks [start, end) of a Tree in one direction.
type Scanner struct {
	tree    *Tree
	start   []byte
	end     []byte
	reverse bool

	buf     []Item
	pos     int
	last    []byte
	started bool
	done    bool
	cur     Item
}

// Scan returns a Scanner over [start, end). A nil bound is open. The
// Scanner reads the tree lazily, so the tree must not be modified while the
// Scanner is in use.
func (t *Tree) Scan(start, end []byte, reverse bool) *Scanner {
	return &Scanner{tree: t, start: start, end: end, reverse: reverse}
}

// Next advances to the next item and reports whether one exists.
func (s *Scanner) Next() bool {
	if s.pos >= len(s.buf) {
		if s.done {
			return false
		}
		s.refill()
		if len(s.buf) == 0 {
			return false
		}
	}
	s.cur = s.buf[s.pos]
	s.pos++
	return true
}

func (s *Scanner) refill() {
	s.buf = s.buf[:0]
	s.pos = 0
	collect := func(it Item) bool {
		s.buf = append(s.buf, it)
		return len(s.buf) < scanChunk
	}
	if s.reverse {
		end := s.end
		if s.started {
			end = s.last
		}
		s.tree.descendRange(s.start, end, s.started, collect)
	} else {
		if s.started {
			s.tree.ascendRange(s.last, s.end, true, collect)
		} else {
			s.tree.ascendRange(s.start, s.end, false, collect)
		}
	}
	s.started = true
	if len(s.buf) < scanChunk {
		s.done = true
	}
	if len(s.buf) > 0 {
		s.last = s.buf[len(s.buf)-1].Key
	}
}

// Item returns the current item.
func (s *Scanner) Item() Item { return s.cur }

// Key returns the current key.
func (s *Scanner) Key() []byte { return s.cur.Key }

// Value returns the current value.
func (s *Scanner) Value() []byte { return s.cur.Value }

// Tombstone reports whether the current item is a deletion marker.
func (s *Scanner) Tombstone() bool { return s.cur.Tombstone }

// Err always returns nil; in-memory scans cannot fail.
func (s *Scanner) Err() error { return nil }

// Close releases the buffered items.
func (s *Scanner) Close() error {
	s.buf = nil
	s.done = true
	return nil
}
