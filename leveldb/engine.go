// Package leveldb implements treekv.KvEngine on goleveldb.
//
// Column families share one key space: a key k of column family cf is
// stored as cf + "\x00" + k. Engine metadata lives under keys starting with
// a zero byte, which no column family name does:
//
//	"\x00seq"        sequence number of the last commit, 8 bytes big endian
//	"\x00cf\x00"+cf  one marker per column family
//
// Every commit writes its operations and the new sequence number in one
// goleveldb batch.
package leveldb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/backend"
	"github.com/aalhour/treekv/internal/batch"
	"github.com/aalhour/treekv/internal/logging"
)

var (
	seqKey       = []byte("\x00seq")
	cfMetaPrefix = []byte("\x00cf\x00")
)

// Engine is a goleveldb-backed KvEngine. It is safe for concurrent use.
type Engine struct {
	shared *sharedDB
	closed atomic.Bool
}

type sharedDB struct {
	path   string
	db     *goleveldb.DB
	cfs    *backend.CFSet
	logger treekv.Logger
	refs   atomic.Int32

	// commitMu serializes commits so sequence numbers follow commit order
	// and range deletes resolve against a stable state.
	commitMu  sync.Mutex
	seq       atomic.Uint64
	snapshots backend.SnapshotSet
}

// Open opens or creates a goleveldb engine in the directory path. A nil
// opts means treekv.DefaultOptions(). Options.FS is ignored; goleveldb
// always uses the operating system.
func Open(path string, opts *treekv.Options) (*Engine, error) {
	if opts == nil {
		opts = treekv.DefaultOptions()
	}
	logger := logging.OrDefault(opts.Logger)

	o := &opt.Options{
		ErrorIfMissing: !opts.CreateIfMissing,
		ErrorIfExist:   opts.ErrorIfExists,
	}
	if opts.ParanoidChecks {
		o.Strict = opt.StrictAll
	}
	db, err := goleveldb.OpenFile(path, o)
	if err != nil {
		return nil, dbError("open", path, err)
	}

	s := &sharedDB{path: path, db: db, logger: logger}
	if err := s.load(opts.ColumnFamilies); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.refs.Store(1)
	logger.Infof(logging.NSEngine+"opened leveldb engine %s at seq %d with %d column families",
		path, s.seq.Load(), len(s.cfs.Names()))
	return &Engine{shared: s}, nil
}

// load reads the sequence number and the column families, registering the
// ones in want that are new.
func (s *sharedDB) load(want []string) error {
	var known []string
	it := s.db.NewIterator(util.BytesPrefix(cfMetaPrefix), nil)
	for it.Next() {
		known = append(known, string(it.Key()[len(cfMetaPrefix):]))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return dbError("load column families", s.path, err)
	}

	cfs, err := backend.NewCFSet(append(known, want...)...)
	if err != nil {
		return err
	}
	s.cfs = cfs

	markers := new(goleveldb.Batch)
	for _, name := range cfs.Names() {
		markers.Put(cfMetaKey(name), nil)
	}
	if err := s.db.Write(markers, &opt.WriteOptions{Sync: true}); err != nil {
		return dbError("register column families", s.path, err)
	}

	v, err := s.db.Get(seqKey, nil)
	switch {
	case errors.Is(err, goleveldb.ErrNotFound):
	case err != nil:
		return dbError("load sequence", s.path, err)
	case len(v) != 8:
		return treekv.NewEngineError(treekv.ErrCorruption.Msg, fmt.Errorf("sequence record has %d bytes", len(v)))
	default:
		s.seq.Store(binary.BigEndian.Uint64(v))
	}
	return nil
}

func cfMetaKey(cf string) []byte {
	return append(bytes.Clone(cfMetaPrefix), cf...)
}

func cfPrefix(cf string) []byte {
	return append([]byte(cf), 0)
}

func dataKey(cf string, key []byte) []byte {
	k := make([]byte, 0, len(cf)+1+len(key))
	k = append(k, cf...)
	k = append(k, 0)
	return append(k, key...)
}

func encodeSeq(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

// dbError maps goleveldb errors into the treekv taxonomy.
func dbError(op, path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goleveldb.ErrNotFound):
		return treekv.ErrNotFound
	case errors.Is(err, goleveldb.ErrClosed):
		return treekv.ErrClosed
	case errors.Is(err, goleveldb.ErrSnapshotReleased), errors.Is(err, goleveldb.ErrIterReleased):
		return treekv.ErrReleased
	case lerrors.IsCorrupted(err):
		return treekv.NewEngineError(treekv.ErrCorruption.Msg, err)
	case errors.Is(err, os.ErrExist):
		return treekv.NewEngineError("store already exists", err)
	}
	return &treekv.IOError{Op: op, Path: path, Err: err}
}

func readOptions(opts *treekv.ReadOptions) *opt.ReadOptions {
	if opts == nil {
		return nil
	}
	ro := &opt.ReadOptions{DontFillCache: !opts.FillCache}
	if opts.VerifyChecksums {
		ro.Strict = opt.StrictBlockChecksum
	}
	return ro
}

// Clone returns a new handle to the same database.
func (e *Engine) Clone() *Engine {
	e.shared.refs.Add(1)
	return &Engine{shared: e.shared}
}

// Close closes this handle. The database closes with the last handle.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return treekv.ErrClosed
	}
	if e.shared.refs.Add(-1) > 0 {
		return nil
	}
	e.shared.logger.Infof(logging.NSEngine+"closing leveldb engine %s", e.shared.path)
	return dbError("close", e.shared.path, e.shared.db.Close())
}

// Closed reports whether this handle is closed.
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

func (e *Engine) Get(key []byte) ([]byte, error) {
	return e.GetOpt(nil, treekv.CFDefault, key)
}

func (e *Engine) GetCF(cf string, key []byte) ([]byte, error) {
	return e.GetOpt(nil, cf, key)
}

// GetOpt reads key from cf. VerifyChecksums and FillCache map to the
// goleveldb read options.
func (e *Engine) GetOpt(opts *treekv.ReadOptions, cf string, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, treekv.ErrClosed
	}
	if !e.shared.cfs.Has(cf) {
		return nil, &treekv.CFNameError{Name: cf}
	}
	v, err := e.shared.db.Get(dataKey(cf, key), readOptions(opts))
	if err != nil {
		return nil, dbError("get", e.shared.path, err)
	}
	return v, nil
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

// DeleteRangesCF removes every range from cf in one commit.
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

// CommitBatch applies b and the next sequence number in one goleveldb
// batch. An empty batch only syncs when asked to.
func (e *Engine) CommitBatch(b *batch.WriteBatch, sync bool) error {
	if e.closed.Load() {
		return treekv.ErrClosed
	}
	s := e.shared
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if b.Count() == 0 {
		if sync {
			return s.syncLocked()
		}
		return nil
	}

	a := newApplier(s)
	if err := b.Iterate(a); err != nil {
		return err
	}
	seq := s.seq.Load() + 1
	a.lb.Put(seqKey, encodeSeq(seq))
	if err := s.db.Write(a.lb, &opt.WriteOptions{Sync: sync}); err != nil {
		return dbError("write", s.path, err)
	}
	s.seq.Store(seq)
	return nil
}

// syncLocked rewrites the sequence record with a synced write, which
// flushes the goleveldb journal. Callers hold commitMu.
func (s *sharedDB) syncLocked() error {
	err := s.db.Put(seqKey, encodeSeq(s.seq.Load()), &opt.WriteOptions{Sync: true})
	return dbError("sync", s.path, err)
}

// CFNames returns the column families, "default" first.
func (e *Engine) CFNames() []string {
	return e.shared.cfs.Names()
}

// Snapshot takes a goleveldb snapshot. On a closed engine the returned
// snapshot fails every read with ErrClosed.
func (e *Engine) Snapshot() treekv.Snapshot {
	if e.closed.Load() {
		return &Snapshot{err: treekv.ErrClosed}
	}
	s := e.shared
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return &Snapshot{err: dbError("snapshot", s.path, err)}
	}
	return newSnapshot(s, snap, s.seq.Load())
}

// Sync flushes the goleveldb journal.
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return treekv.ErrClosed
	}
	e.shared.commitMu.Lock()
	defer e.shared.commitMu.Unlock()
	return e.shared.syncLocked()
}

func (e *Engine) NewIterator(opts *treekv.IterOptions) (treekv.Iterator, error) {
	return e.NewIteratorCF(treekv.CFDefault, opts)
}

// NewIteratorCF iterates cf. Each scan the cursor opens reads the latest
// state of the database.
func (e *Engine) NewIteratorCF(cf string, opts *treekv.IterOptions) (treekv.Iterator, error) {
	if e.closed.Load() {
		return nil, treekv.ErrClosed
	}
	if !e.shared.cfs.Has(cf) {
		return nil, &treekv.CFNameError{Name: cf}
	}
	return treekv.NewCursorIterator(prefixSource(e.shared.db, cf, e.shared.path), opts), nil
}

func (e *Engine) NewWriteBatch() treekv.WriteBatch {
	return backend.NewWriteBatch(e, e.shared.cfs, 0)
}

func (e *Engine) NewWriteBatchWithCap(n int) treekv.WriteBatch {
	return backend.NewWriteBatch(e, e.shared.cfs, n)
}

// IngestExternalFileCF replays SST files into cf. Copies are archived in
// the ingested directory under the database path.
func (e *Engine) IngestExternalFileCF(cf string, opts *treekv.IngestOptions, paths ...string) error {
	if e.closed.Load() {
		return treekv.ErrClosed
	}
	archive := filepath.Join(e.shared.path, treekv.IngestedDir)
	return treekv.IngestFiles(e, nil, e.shared.logger, cf, opts, archive, paths...)
}

func (e *Engine) ValidateSSTForIngestion(cf, path string, expectedSize uint64, expectedChecksum uint32) error {
	return treekv.ValidateSST(nil, cf, path, expectedSize, expectedChecksum)
}

// Flush syncs the journal when sync is set. goleveldb flushes its memtable
// on its own schedule.
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

// Compact compacts the whole key space.
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return treekv.ErrClosed
	}
	return dbError("compact", e.shared.path, e.shared.db.CompactRange(util.Range{}))
}

func (e *Engine) Path() string {
	return e.shared.path
}

// UsedSize returns the size of the files in the database directory.
func (e *Engine) UsedSize() (uint64, error) {
	if e.closed.Load() {
		return 0, treekv.ErrClosed
	}
	var total uint64
	err := filepath.WalkDir(e.shared.path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return 0, &treekv.IOError{Op: "used size", Path: e.shared.path, Err: err}
	}
	return total, nil
}

func (e *Engine) LatestSequenceNumber() uint64 {
	return e.shared.seq.Load()
}

func (e *Engine) OldestSnapshotSequenceNumber() (uint64, bool) {
	return e.shared.snapshots.Oldest()
}

// DumpStats returns engine counters followed by goleveldb's own stats.
func (e *Engine) DumpStats() (string, error) {
	if e.closed.Load() {
		return "", treekv.ErrClosed
	}
	s := e.shared
	var sb strings.Builder
	fmt.Fprintf(&sb, "** treekv leveldb stats: %s **\n", s.path)
	fmt.Fprintf(&sb, "sequence: %d\n", s.seq.Load())
	oldest, _ := s.snapshots.Oldest()
	fmt.Fprintf(&sb, "snapshots: %d (oldest seq %d)\n", s.snapshots.Len(), oldest)
	for id, name := range s.cfs.Names() {
		fmt.Fprintf(&sb, "cf %-10s id %d\n", name, id)
	}
	stats, err := s.db.GetProperty("leveldb.stats")
	if err != nil {
		return "", dbError("stats", s.path, err)
	}
	sb.WriteString(stats)
	return sb.String(), nil
}

var _ treekv.KvEngine = (*Engine)(nil)
