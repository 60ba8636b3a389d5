package leveldb

import (
	"sync/atomic"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/backend"
	"github.com/aalhour/treekv/internal/cursor"
)

// reader is the read surface shared by *goleveldb.DB and
// *goleveldb.Snapshot.
type reader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// prefixSource scans one column family of r.
func prefixSource(r reader, cf, path string) cursor.Source {
	prefix := cfPrefix(cf)
	limit := util.BytesPrefix(prefix).Limit
	return cursor.SourceFunc(func(start, end []byte, reverse bool) cursor.Scanner {
		rng := &util.Range{Start: dataKey(cf, start), Limit: limit}
		if end != nil {
			rng.Limit = dataKey(cf, end)
		}
		return &prefixScanner{it: r.NewIterator(rng, nil), strip: len(prefix), reverse: reverse, path: path}
	})
}

// prefixScanner walks a goleveldb iterator in one direction and strips the
// column family prefix from keys.
type prefixScanner struct {
	it      iterator.Iterator
	strip   int
	reverse bool
	started bool
	path    string
}

func (s *prefixScanner) Next() bool {
	if !s.started {
		s.started = true
		if s.reverse {
			return s.it.Last()
		}
		return s.it.First()
	}
	if s.reverse {
		return s.it.Prev()
	}
	return s.it.Next()
}

func (s *prefixScanner) Key() []byte   { return s.it.Key()[s.strip:] }
func (s *prefixScanner) Value() []byte { return s.it.Value() }
func (s *prefixScanner) Err() error    { return dbError("iterate", s.path, s.it.Error()) }

func (s *prefixScanner) Close() error {
	s.it.Release()
	return nil
}

// Snapshot is a goleveldb snapshot with the sequence number it was taken
// at. The goleveldb snapshot is released once the Snapshot and all of its
// iterators are.
type Snapshot struct {
	shared   *sharedDB
	snap     *goleveldb.Snapshot
	seq      uint64
	pin      *backend.Pin
	released atomic.Bool
	err      error
}

func newSnapshot(s *sharedDB, snap *goleveldb.Snapshot, seq uint64) *Snapshot {
	s.snapshots.Add(seq)
	return &Snapshot{
		shared: s,
		snap:   snap,
		seq:    seq,
		pin:    backend.NewPin(snap.Release),
	}
}

func (s *Snapshot) check(cf string) error {
	switch {
	case s.err != nil:
		return s.err
	case s.released.Load():
		return treekv.ErrReleased
	case !s.shared.cfs.Has(cf):
		return &treekv.CFNameError{Name: cf}
	}
	return nil
}

// Sequence returns the sequence number of the last commit the snapshot
// sees.
func (s *Snapshot) Sequence() uint64 { return s.seq }

func (s *Snapshot) Get(key []byte) ([]byte, error) {
	return s.GetOpt(nil, treekv.CFDefault, key)
}

func (s *Snapshot) GetCF(cf string, key []byte) ([]byte, error) {
	return s.GetOpt(nil, cf, key)
}

func (s *Snapshot) GetOpt(opts *treekv.ReadOptions, cf string, key []byte) ([]byte, error) {
	if err := s.check(cf); err != nil {
		return nil, err
	}
	v, err := s.snap.Get(dataKey(cf, key), readOptions(opts))
	if err != nil {
		return nil, dbError("get", s.shared.path, err)
	}
	return v, nil
}

func (s *Snapshot) NewIterator(opts *treekv.IterOptions) (treekv.Iterator, error) {
	return s.NewIteratorCF(treekv.CFDefault, opts)
}

// NewIteratorCF iterates cf as of the snapshot. The iterator stays usable
// after Release.
func (s *Snapshot) NewIteratorCF(cf string, opts *treekv.IterOptions) (treekv.Iterator, error) {
	if err := s.check(cf); err != nil {
		return nil, err
	}
	return backend.NewPinnedIterator(prefixSource(s.snap, cf, s.shared.path), opts, s.pin), nil
}

func (s *Snapshot) CFNames() []string {
	if s.shared == nil {
		return nil
	}
	return s.shared.cfs.Names()
}

// Release drops the snapshot. Only the first call has an effect.
func (s *Snapshot) Release() {
	if s.err != nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	s.shared.snapshots.Remove(s.seq)
	s.pin.Unref()
}

var _ treekv.Snapshot = (*Snapshot)(nil)
