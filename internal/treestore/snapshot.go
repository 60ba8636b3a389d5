package treestore

import (
	"sync/atomic"
)

// Snapshot retains a Version. Releasing it only drops the registration
// used by OldestSnapshotSeq; the Version stays readable as long as it is
// referenced.
type Snapshot struct {
	store    *Store
	v        *Version
	released atomic.Bool
}

// NewSnapshot retains the current Version.
func (s *Store) NewSnapshot() *Snapshot {
	sn := &Snapshot{store: s, v: s.current.Load()}
	s.snapMu.Lock()
	s.snapshots[sn] = struct{}{}
	s.snapMu.Unlock()
	return sn
}

// Version returns the retained Version.
func (sn *Snapshot) Version() *Version {
	return sn.v
}

// Seq returns the sequence number the snapshot was taken at.
func (sn *Snapshot) Seq() uint64 {
	return sn.v.seq
}

// Release unregisters the snapshot. It reports false if the snapshot was
// already released.
func (sn *Snapshot) Release() bool {
	if !sn.released.CompareAndSwap(false, true) {
		return false
	}
	sn.store.snapMu.Lock()
	delete(sn.store.snapshots, sn)
	sn.store.snapMu.Unlock()
	return true
}

// Released reports whether Release has been called.
func (sn *Snapshot) Released() bool {
	return sn.released.Load()
}

// OldestSnapshotSeq returns the smallest sequence number among live
// snapshots.
func (s *Store) OldestSnapshotSeq() (uint64, bool) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	var (
		oldest uint64
		found  bool
	)
	for sn := range s.snapshots {
		if !found || sn.v.seq < oldest {
			oldest = sn.v.seq
			found = true
		}
	}
	return oldest, found
}

// NumSnapshots returns the number of live snapshots.
func (s *Store) NumSnapshots() int {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return len(s.snapshots)
}
