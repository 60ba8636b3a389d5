package boltdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/backend"
	"github.com/aalhour/treekv/internal/cursor"
)

// applier writes an internal batch inside a read-write transaction. Range
// deletes see the earlier operations of the batch because they run in the
// same transaction.
type applier struct {
	tx  *bolt.Tx
	cfs *backend.CFSet
}

func (a *applier) bucket(id uint32) (*bolt.Bucket, error) {
	name, ok := a.cfs.Name(id)
	if !ok {
		return nil, treekv.NewEngineError(fmt.Sprintf("unknown column family id %d", id), nil)
	}
	return a.tx.Bucket([]byte(name)), nil
}

func (a *applier) Put(id uint32, key, value []byte) error {
	b, err := a.bucket(id)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	return b.Put(key, value)
}

func (a *applier) Delete(id uint32, key []byte) error {
	b, err := a.bucket(id)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

func (a *applier) DeleteRange(id uint32, begin, end []byte) error {
	b, err := a.bucket(id)
	if err != nil {
		return err
	}
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(begin); k != nil && bytes.Compare(k, end) < 0; k, _ = c.Next() {
		keys = append(keys, bytes.Clone(k))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// bucketScanner walks a bucket cursor over [start, end) in one direction.
// mu, when set, serializes access to a transaction shared by several
// scanners.
type bucketScanner struct {
	c          *bolt.Cursor
	mu         *sync.Mutex
	start, end []byte
	reverse    bool
	started    bool
	done       bool
	key, value []byte
	err        error
	release    func()
}

func newBucketScanner(tx *bolt.Tx, mu *sync.Mutex, cf string, start, end []byte, reverse bool, release func()) *bucketScanner {
	s := &bucketScanner{mu: mu, start: start, end: end, reverse: reverse, release: release}
	b := tx.Bucket([]byte(cf))
	if b == nil {
		s.done = true
		s.err = &treekv.CFNameError{Name: cf}
		return s
	}
	s.c = b.Cursor()
	return s
}

func (s *bucketScanner) first() ([]byte, []byte) {
	if !s.reverse {
		if s.start == nil {
			return s.c.First()
		}
		return s.c.Seek(s.start)
	}
	if s.end == nil {
		return s.c.Last()
	}
	if k, _ := s.c.Seek(s.end); k == nil {
		return s.c.Last()
	}
	return s.c.Prev()
}

func (s *bucketScanner) Next() bool {
	if s.done {
		return false
	}
	if s.mu != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	var k, v []byte
	switch {
	case !s.started:
		s.started = true
		k, v = s.first()
	case s.reverse:
		k, v = s.c.Prev()
	default:
		k, v = s.c.Next()
	}

	if k != nil {
		if s.reverse && s.start != nil && bytes.Compare(k, s.start) < 0 {
			k = nil
		} else if !s.reverse && s.end != nil && bytes.Compare(k, s.end) >= 0 {
			k = nil
		}
	}
	if k == nil {
		s.done = true
		return false
	}
	s.key = append(s.key[:0], k...)
	s.value = append(s.value[:0], v...)
	return true
}

func (s *bucketScanner) Key() []byte   { return s.key }
func (s *bucketScanner) Value() []byte { return s.value }
func (s *bucketScanner) Err() error    { return s.err }

func (s *bucketScanner) Close() error {
	s.done = true
	if s.release != nil {
		s.release()
		s.release = nil
	}
	return nil
}

// engineSource gives every scan its own read-only transaction, rolled back
// when the scan closes.
func engineSource(s *sharedDB, cf string) cursor.Source {
	return cursor.SourceFunc(func(start, end []byte, reverse bool) cursor.Scanner {
		tx, err := s.beginRead()
		if err != nil {
			return &bucketScanner{done: true, err: err}
		}
		return newBucketScanner(tx, nil, cf, start, end, reverse, func() { s.endRead(tx) })
	})
}

// Snapshot is a read-only transaction with the sequence number it saw. The
// transaction ends once the Snapshot and all of its iterators are
// released.
type Snapshot struct {
	shared   *sharedDB
	tx       *bolt.Tx
	mu       sync.Mutex
	seq      uint64
	pin      *backend.Pin
	released atomic.Bool
	err      error
}

func newSnapshot(s *sharedDB, tx *bolt.Tx) *Snapshot {
	var seq uint64
	if v := tx.Bucket(metaBucket).Get(seqKey); len(v) == 8 {
		seq = binary.BigEndian.Uint64(v)
	}
	s.snapshots.Add(seq)
	return &Snapshot{
		shared: s,
		tx:     tx,
		seq:    seq,
		pin:    backend.NewPin(func() { s.endRead(tx) }),
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
	return s.GetCF(treekv.CFDefault, key)
}

func (s *Snapshot) GetCF(cf string, key []byte) ([]byte, error) {
	if err := s.check(cf); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return getFromTx(s.tx, cf, key)
}

func (s *Snapshot) GetOpt(_ *treekv.ReadOptions, cf string, key []byte) ([]byte, error) {
	return s.GetCF(cf, key)
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
	src := cursor.SourceFunc(func(start, end []byte, reverse bool) cursor.Scanner {
		s.mu.Lock()
		defer s.mu.Unlock()
		return newBucketScanner(s.tx, &s.mu, cf, start, end, reverse, nil)
	})
	return backend.NewPinnedIterator(src, opts, s.pin), nil
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
