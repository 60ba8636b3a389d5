// Package boltdb implements treekv.KvEngine on bbolt.
//
// Each column family is a top-level bucket. The bucket "\x00meta" holds the
// sequence number of the last commit under "seq". A commit is one bbolt
// read-write transaction; snapshots and iterator scans are read-only
// transactions.
//
// bbolt cannot remap its file while a read-only transaction is open, so a
// write that grows the file past the mapped size waits for open snapshots
// and iterators. The file is mapped with InitialMmapSize up front, which
// keeps databases below that size clear of the wait.
package boltdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/backend"
	"github.com/aalhour/treekv/internal/batch"
	"github.com/aalhour/treekv/internal/logging"
)

// InitialMmapSize is the size bbolt maps when the database opens.
const InitialMmapSize = 256 << 20

var (
	metaBucket = []byte("\x00meta")
	seqKey     = []byte("seq")
)

// Engine is a bbolt-backed KvEngine. It is safe for concurrent use.
type Engine struct {
	shared *sharedDB
	closed atomic.Bool
}

type sharedDB struct {
	path   string
	db     *bolt.DB
	cfs    *backend.CFSet
	logger treekv.Logger
	refs   atomic.Int32

	commitMu  sync.Mutex
	seq       atomic.Uint64
	snapshots backend.SnapshotSet

	// readers holds the open read-only transactions, which Close rolls
	// back before closing the file.
	readMu  sync.Mutex
	readers map[*bolt.Tx]struct{}
}

// Open opens or creates the bbolt file at path. A nil opts means
// treekv.DefaultOptions(). Options.FS and ParanoidChecks are ignored.
func Open(path string, opts *treekv.Options) (*Engine, error) {
	if opts == nil {
		opts = treekv.DefaultOptions()
	}
	logger := logging.OrDefault(opts.Logger)

	_, err := os.Stat(path)
	switch {
	case err == nil && opts.ErrorIfExists:
		return nil, treekv.NewEngineError("store already exists", os.ErrExist)
	case os.IsNotExist(err) && !opts.CreateIfMissing:
		return nil, &treekv.IOError{Op: "open", Path: path, Err: err}
	case err != nil && !os.IsNotExist(err):
		return nil, &treekv.IOError{Op: "open", Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &treekv.IOError{Op: "open", Path: path, Err: err}
	}

	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second, InitialMmapSize: InitialMmapSize})
	if err != nil {
		return nil, dbError("open", path, err)
	}
	db.NoSync = true

	s := &sharedDB{path: path, db: db, logger: logger, readers: make(map[*bolt.Tx]struct{})}
	if err := s.load(opts.ColumnFamilies); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.refs.Store(1)
	logger.Infof(logging.NSEngine+"opened bolt engine %s at seq %d with %d column families",
		path, s.seq.Load(), len(s.cfs.Names()))
	return &Engine{shared: s}, nil
}

// load creates the missing buckets and reads the sequence number.
func (s *sharedDB) load(want []string) error {
	for _, name := range want {
		if err := backend.ValidateCFName(name); err != nil {
			return err
		}
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range append([]string{treekv.CFDefault}, want...) {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if v := meta.Get(seqKey); v != nil {
			if len(v) != 8 {
				return treekv.NewEngineError(treekv.ErrCorruption.Msg, fmt.Errorf("sequence record has %d bytes", len(v)))
			}
			s.seq.Store(binary.BigEndian.Uint64(v))
		}

		var names []string
		err = tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if !bytes.Equal(name, metaBucket) {
				names = append(names, string(name))
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.cfs, err = backend.NewCFSet(names...)
		return err
	})
	if err != nil {
		return dbError("load", s.path, err)
	}
	return dbError("sync", s.path, s.db.Sync())
}

// dbError maps bbolt errors into the treekv taxonomy.
func dbError(op, path string, err error) error {
	var engineErr *treekv.EngineError
	var nameErr *treekv.CFNameError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &engineErr), errors.As(err, &nameErr):
		return err
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return treekv.ErrClosed
	case errors.Is(err, bolt.ErrTxClosed):
		return treekv.ErrReleased
	case errors.Is(err, bolt.ErrInvalid), errors.Is(err, bolt.ErrChecksum), errors.Is(err, bolt.ErrVersionMismatch):
		return treekv.NewEngineError(treekv.ErrCorruption.Msg, err)
	case errors.Is(err, bolt.ErrKeyRequired), errors.Is(err, bolt.ErrKeyTooLarge), errors.Is(err, bolt.ErrValueTooLarge):
		return treekv.NewEngineError("bolt rejected the key or value", err)
	}
	return &treekv.IOError{Op: op, Path: path, Err: err}
}

// beginRead starts a read-only transaction registered for Close.
func (s *sharedDB) beginRead() (*bolt.Tx, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, dbError("begin", s.path, err)
	}
	s.readMu.Lock()
	s.readers[tx] = struct{}{}
	s.readMu.Unlock()
	return tx, nil
}

// endRead rolls back tx unless Close already did.
func (s *sharedDB) endRead(tx *bolt.Tx) {
	s.readMu.Lock()
	_, open := s.readers[tx]
	delete(s.readers, tx)
	s.readMu.Unlock()
	if open {
		_ = tx.Rollback()
	}
}

func (s *sharedDB) close() error {
	s.readMu.Lock()
	if n := len(s.readers); n > 0 {
		s.logger.Warnf(logging.NSEngine+"closing %s with %d open snapshots or iterators", s.path, n)
	}
	for tx := range s.readers {
		_ = tx.Rollback()
		delete(s.readers, tx)
	}
	s.readMu.Unlock()

	if err := s.db.Sync(); err != nil {
		_ = s.db.Close()
		return dbError("sync", s.path, err)
	}
	return dbError("close", s.path, s.db.Close())
}

// Clone returns a new handle to the same database.
func (e *Engine) Clone() *Engine {
	e.shared.refs.Add(1)
	return &Engine{shared: e.shared}
}

// Close closes this handle. The file is synced and closed with the last
// handle; snapshots still open are released.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return treekv.ErrClosed
	}
	if e.shared.refs.Add(-1) > 0 {
		return nil
	}
	e.shared.logger.Infof(logging.NSEngine+"closing bolt engine %s", e.shared.path)
	return e.shared.close()
}

// Closed reports whether this handle is closed.
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

// getFromTx reads key from the bucket of cf. Values are copied out of the
// transaction.
func getFromTx(tx *bolt.Tx, cf string, key []byte) ([]byte, error) {
	b := tx.Bucket([]byte(cf))
	if b == nil {
		return nil, &treekv.CFNameError{Name: cf}
	}
	k, v := b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, treekv.ErrNotFound
	}
	return append([]byte{}, v...), nil
}

func (e *Engine) Get(key []byte) ([]byte, error) {
	return e.GetCF(treekv.CFDefault, key)
}

// GetCF reads key from cf. A miss returns ErrNotFound.
func (e *Engine) GetCF(cf string, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, treekv.ErrClosed
	}
	var value []byte
	err := e.shared.db.View(func(tx *bolt.Tx) error {
		var err error
		value, err = getFromTx(tx, cf, key)
		return err
	})
	if errors.Is(err, treekv.ErrNotFound) {
		return nil, err
	}
	return value, dbError("get", e.shared.path, err)
}

// GetOpt reads key from cf. bbolt verifies nothing per read, so opts is
// ignored.
func (e *Engine) GetOpt(_ *treekv.ReadOptions, cf string, key []byte) ([]byte, error) {
	return e.GetCF(cf, key)
}

func (e *Engine) Put(key, value []byte) error {
	return e.PutCF(treekv.CFDefault, key, value)
}

func (e *Engine) PutCF(cf string, key, value []byte) error {
	return backend.ApplyBatch(e, e.shared.cfs, cf, false, func(b *batch.WriteBatch, id uint32) {
		b.Put(id, key, value)
	})
}

func (e *Engine) Delete(key []byte) error {
	return e.DeleteCF(treekv.CFDefault, key)
}

func (e *Engine) DeleteCF(cf string, key []byte) error {
	return backend.ApplyBatch(e, e.shared.cfs, cf, false, func(b *batch.WriteBatch, id uint32) {
		b.Delete(id, key)
	})
}

func (e *Engine) DeleteRange(begin, end []byte) error {
	return e.DeleteRangeCF(treekv.CFDefault, begin, end)
}

func (e *Engine) DeleteRangeCF(cf string, begin, end []byte) error {
	return e.DeleteRangesCF(cf, []treekv.Range{{Start: begin, End: end}})
}

// DeleteRangesCF removes every range from cf in one transaction.
func (e *Engine) DeleteRangesCF(cf string, ranges []treekv.Range) error {
	if err := backend.CheckRanges(ranges); err != nil {
		return err
	}
	return backend.ApplyBatch(e, e.shared.cfs, cf, false, func(b *batch.WriteBatch, id uint32) {
		for _, r := range ranges {
			b.DeleteRange(id, r.Start, r.End)
		}
	})
}

// CommitBatch applies b and the next sequence number in one read-write
// transaction. The file is synced afterwards when sync is set.
func (e *Engine) CommitBatch(b *batch.WriteBatch, sync bool) error {
	if e.closed.Load() {
		return treekv.ErrClosed
	}
	s := e.shared
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if b.Count() > 0 {
		seq := s.seq.Load() + 1
		err := s.db.Update(func(tx *bolt.Tx) error {
			if err := b.Iterate(&applier{tx: tx, cfs: s.cfs}); err != nil {
				return err
			}
			return tx.Bucket(metaBucket).Put(seqKey, binary.BigEndian.AppendUint64(nil, seq))
		})
		if err != nil {
			return dbError("write", s.path, err)
		}
		s.seq.Store(seq)
	}
	if sync {
		return dbError("sync", s.path, s.db.Sync())
	}
	return nil
}

// CFNames returns the column families, "default" first.
func (e *Engine) CFNames() []string {
	return e.shared.cfs.Names()
}

// Snapshot starts a read-only transaction. On a closed engine the
// returned snapshot fails every read with ErrClosed.
func (e *Engine) Snapshot() treekv.Snapshot {
	if e.closed.Load() {
		return &Snapshot{err: treekv.ErrClosed}
	}
	tx, err := e.shared.beginRead()
	if err != nil {
		return &Snapshot{err: err}
	}
	return newSnapshot(e.shared, tx)
}

// Sync fsyncs the database file.
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return treekv.ErrClosed
	}
	return dbError("sync", e.shared.path, e.shared.db.Sync())
}

func (e *Engine) NewIterator(opts *treekv.IterOptions) (treekv.Iterator, error) {
	return e.NewIteratorCF(treekv.CFDefault, opts)
}

// NewIteratorCF iterates cf. Each scan the cursor opens runs in its own
// read-only transaction, so a seek observes every earlier commit.
func (e *Engine) NewIteratorCF(cf string, opts *treekv.IterOptions) (treekv.Iterator, error) {
	if e.closed.Load() {
		return nil, treekv.ErrClosed
	}
	if !e.shared.cfs.Has(cf) {
		return nil, &treekv.CFNameError{Name: cf}
	}
	return treekv.NewCursorIterator(engineSource(e.shared, cf), opts), nil
}

func (e *Engine) NewWriteBatch() treekv.WriteBatch {
	return backend.NewWriteBatch(e, e.shared.cfs, 0)
}

func (e *Engine) NewWriteBatchWithCap(n int) treekv.WriteBatch {
	return backend.NewWriteBatch(e, e.shared.cfs, n)
}

// IngestExternalFileCF replays SST files into cf. Copies are archived in
// the directory path + ".ingested".
func (e *Engine) IngestExternalFileCF(cf string, opts *treekv.IngestOptions, paths ...string) error {
	if e.closed.Load() {
		return treekv.ErrClosed
	}
	return treekv.IngestFiles(e, nil, e.shared.logger, cf, opts, e.shared.path+"."+treekv.IngestedDir, paths...)
}

func (e *Engine) ValidateSSTForIngestion(cf, path string, expectedSize uint64, expectedChecksum uint32) error {
	return treekv.ValidateSST(nil, cf, path, expectedSize, expectedChecksum)
}

// Flush syncs the file when sync is set. Commits are written to the file
// when their transaction ends.
func (e *Engine) Flush(sync bool) error {
	if e.closed.Load() {
		return treekv.ErrClosed
	}
	if !sync {
		return nil
	}
	return e.Sync()
}

func (e *Engine) FlushCF(cf string, sync bool) error {
	if !e.shared.cfs.Has(cf) {
		return &treekv.CFNameError{Name: cf}
	}
	return e.Flush(sync)
}

func (e *Engine) Path() string {
	return e.shared.path
}

// UsedSize returns the size of the database file.
func (e *Engine) UsedSize() (uint64, error) {
	if e.closed.Load() {
		return 0, treekv.ErrClosed
	}
	st, err := os.Stat(e.shared.path)
	if err != nil {
		return 0, &treekv.IOError{Op: "used size", Path: e.shared.path, Err: err}
	}
	return uint64(st.Size()), nil
}

func (e *Engine) LatestSequenceNumber() uint64 {
	return e.shared.seq.Load()
}

func (e *Engine) OldestSnapshotSequenceNumber() (uint64, bool) {
	return e.shared.snapshots.Oldest()
}

// DumpStats returns engine counters, per bucket key counts and bbolt's
// transaction stats.
func (e *Engine) DumpStats() (string, error) {
	if e.closed.Load() {
		return "", treekv.ErrClosed
	}
	s := e.shared
	var sb strings.Builder
	fmt.Fprintf(&sb, "** treekv bolt stats: %s **\n", s.path)
	fmt.Fprintf(&sb, "sequence: %d\n", s.seq.Load())
	oldest, _ := s.snapshots.Oldest()
	fmt.Fprintf(&sb, "snapshots: %d (oldest seq %d)\n", s.snapshots.Len(), oldest)
	err := s.db.View(func(tx *bolt.Tx) error {
		for id, name := range s.cfs.Names() {
			st := tx.Bucket([]byte(name)).Stats()
			fmt.Fprintf(&sb, "cf %-10s id %-3d keys %d\n", name, id, st.KeyN)
		}
		fmt.Fprintf(&sb, "file size: %d bytes\n", tx.Size())
		return nil
	})
	if err != nil {
		return "", dbError("stats", s.path, err)
	}
	st := s.db.Stats()
	fmt.Fprintf(&sb, "read txs: %d started, %d open\n", st.TxN, st.OpenTxN)
	fmt.Fprintf(&sb, "free pages: %d (%d pending)\n", st.FreePageN, st.PendingPageN)
	return sb.String(), nil
}

var _ treekv.KvEngine = (*Engine)(nil)
