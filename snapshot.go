package treekv

import "github.com/aalhour/treekv/internal/treestore"

// TreeSnapshot is a read view of an Engine pinned at one sequence number.
// It is immutable and safe to share between goroutines.
type TreeSnapshot struct {
	sn    *treestore.Snapshot
	names []string
}

func newTreeSnapshot(sn *treestore.Snapshot) *TreeSnapshot {
	return &TreeSnapshot{sn: sn, names: sn.Version().TreeNames()}
}

func (s *TreeSnapshot) version() (*treestore.Version, error) {
	if s.sn.Released() {
		return nil, ErrReleased
	}
	return s.sn.Version(), nil
}

// Sequence returns the sequence number of the pinned version.
func (s *TreeSnapshot) Sequence() uint64 {
	return s.sn.Seq()
}

// Get reads key from the default column family.
func (s *TreeSnapshot) Get(key []byte) ([]byte, error) {
	return s.GetCF(CFDefault, key)
}

// GetCF reads key from cf as of the snapshot.
func (s *TreeSnapshot) GetCF(cf string, key []byte) ([]byte, error) {
	v, err := s.version()
	if err != nil {
		return nil, err
	}
	return getFromVersion(v, cf, key)
}

// GetOpt reads key from cf as of the snapshot.
func (s *TreeSnapshot) GetOpt(_ *ReadOptions, cf string, key []byte) ([]byte, error) {
	return s.GetCF(cf, key)
}

// NewIterator iterates the default column family as of the snapshot.
func (s *TreeSnapshot) NewIterator(opts *IterOptions) (Iterator, error) {
	return s.NewIteratorCF(CFDefault, opts)
}

// NewIteratorCF iterates cf as of the snapshot. The iterator keeps working
// after Release.
func (s *TreeSnapshot) NewIteratorCF(cf string, opts *IterOptions) (Iterator, error) {
	v, err := s.version()
	if err != nil {
		return nil, err
	}
	t, err := lookupTree(v, cf)
	if err != nil {
		return nil, err
	}
	return NewCursorIterator(treeSource(t), opts), nil
}

// CFNames returns the column families that existed when the snapshot was
// taken.
func (s *TreeSnapshot) CFNames() []string {
	return append([]string(nil), s.names...)
}

// Release frees the snapshot. Only the first call has an effect.
func (s *TreeSnapshot) Release() {
	s.sn.Release()
}

var _ Snapshot = (*TreeSnapshot)(nil)
