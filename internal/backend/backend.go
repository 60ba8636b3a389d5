// Package backend holds the pieces the alternative engines share: the
// column family registry and a WriteBatch that commits internal batches.
package backend

import (
	"bytes"
	"slices"
	"strings"
	"sync"

	"github.com/aalhour/treekv"
)

// ValidateCFName rejects names the backends cannot encode. Names are used
// as key prefixes and bucket names separated by a zero byte.
func ValidateCFName(name string) error {
	if name == "" || strings.IndexByte(name, 0) >= 0 {
		return &treekv.CFNameError{Name: name}
	}
	return nil
}

// CFSet maps column family names to the ids used in internal batches. It is
// fixed once an engine is open.
type CFSet struct {
	names []string
	ids   map[string]uint32
}

// NewCFSet builds a set holding "default" and names, in that order.
// Duplicates are dropped.
func NewCFSet(names ...string) (*CFSet, error) {
	s := &CFSet{ids: make(map[string]uint32)}
	for _, name := range append([]string{treekv.CFDefault}, names...) {
		if err := ValidateCFName(name); err != nil {
			return nil, err
		}
		if _, ok := s.ids[name]; ok {
			continue
		}
		s.ids[name] = uint32(len(s.names))
		s.names = append(s.names, name)
	}
	return s, nil
}

// ID returns the batch id of name.
func (s *CFSet) ID(name string) (uint32, error) {
	id, ok := s.ids[name]
	if !ok {
		return 0, &treekv.CFNameError{Name: name}
	}
	return id, nil
}

// Name returns the column family with batch id id.
func (s *CFSet) Name(id uint32) (string, bool) {
	if int(id) >= len(s.names) {
		return "", false
	}
	return s.names[id], true
}

// Has reports whether name is in the set.
func (s *CFSet) Has(name string) bool {
	_, ok := s.ids[name]
	return ok
}

// Names returns a copy of the names in id order.
func (s *CFSet) Names() []string {
	return slices.Clone(s.names)
}

// CheckRanges fails with ErrInvalidRange if a range ends before it starts.
func CheckRanges(ranges []treekv.Range) error {
	for _, r := range ranges {
		if bytes.Compare(r.End, r.Start) < 0 {
			return treekv.ErrInvalidRange
		}
	}
	return nil
}

// SnapshotSet counts live snapshots by sequence number.
type SnapshotSet struct {
	mu   sync.Mutex
	seqs map[uint64]int
	n    int
}

// Add registers a snapshot at seq.
func (s *SnapshotSet) Add(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seqs == nil {
		s.seqs = make(map[uint64]int)
	}
	s.seqs[seq]++
	s.n++
}

// Remove drops one snapshot at seq.
func (s *SnapshotSet) Remove(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seqs[seq] == 0 {
		return
	}
	s.n--
	if s.seqs[seq]--; s.seqs[seq] == 0 {
		delete(s.seqs, seq)
	}
}

// Oldest returns the smallest live sequence number.
func (s *SnapshotSet) Oldest() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest uint64
	found := false
	for seq := range s.seqs {
		if !found || seq < oldest {
			oldest, found = seq, true
		}
	}
	return oldest, found
}

// Len returns the number of live snapshots.
func (s *SnapshotSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
