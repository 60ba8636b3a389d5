package treekv

// engine_tree.go implements the reference engine over the tree store.

import (
	"bytes"
	"sync/atomic"

	"github.com/aalhour/treekv/internal/batch"
	"github.com/aalhour/treekv/internal/cursor"
	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/internal/ordtree"
	"github.com/aalhour/treekv/internal/treestore"
	"github.com/aalhour/treekv/vfs"
)

// Engine is the reference KvEngine. Column families are ordered trees in a
// treestore.Store; every write is one commit log record.
//
// An Engine is safe for concurrent use. Clone returns another handle to the
// same store; the store is closed when the last handle is closed.
type Engine struct {
	shared *sharedEngine
	closed atomic.Bool
}

type sharedEngine struct {
	path   string
	fs     vfs.FS
	store  *treestore.Store
	logger Logger
	refs   atomic.Int32
}

// Open opens the engine in path. A nil opts means DefaultOptions().
func Open(path string, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	fs := vfs.OrDefault(opts.FS)
	logger := logging.OrDefault(opts.Logger)

	store, err := treestore.Open(path, treestore.Options{
		FS:                  fs,
		Logger:              logger,
		CreateIfMissing:     opts.CreateIfMissing,
		ErrorIfExists:       opts.ErrorIfExists,
		Trees:               opts.ColumnFamilies,
		ParanoidChecks:      opts.ParanoidChecks,
		RewriteLogThreshold: opts.RewriteLogThreshold,
	})
	if err != nil {
		return nil, storeError("open", path, err)
	}

	shared := &sharedEngine{path: path, fs: fs, store: store, logger: logger}
	shared.refs.Store(1)
	return &Engine{shared: shared}, nil
}

// Clone returns a new handle to the same store.
func (e *Engine) Clone() *Engine {
	e.shared.refs.Add(1)
	return &Engine{shared: e.shared}
}

// Close closes this handle. The store closes with the last handle.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if e.shared.refs.Add(-1) > 0 {
		return nil
	}
	e.shared.logger.Infof(logging.NSEngine+"closing %s", e.shared.path)
	return storeError("close", e.shared.path, e.shared.store.Close())
}

func (e *Engine) current() (*treestore.Version, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.shared.store.Current(), nil
}

// lookupTree returns the tree of cf in v.
func lookupTree(v *treestore.Version, cf string) (*ordtree.Tree, error) {
	t, ok := v.Tree(cf)
	if !ok {
		return nil, &CFNameError{Name: cf}
	}
	return t, nil
}

func getFromVersion(v *treestore.Version, cf string, key []byte) ([]byte, error) {
	t, err := lookupTree(v, cf)
	if err != nil {
		return nil, err
	}
	item, ok := t.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(item.Value), nil
}

// Get reads key from the default column family.
func (e *Engine) Get(key []byte) ([]byte, error) {
	return e.GetCF(CFDefault, key)
}

// GetCF reads key from cf. A miss returns ErrNotFound.
func (e *Engine) GetCF(cf string, key []byte) ([]byte, error) {
	v, err := e.current()
	if err != nil {
		return nil, err
	}
	return getFromVersion(v, cf, key)
}

// GetOpt reads key from cf.
func (e *Engine) GetOpt(_ *ReadOptions, cf string, key []byte) ([]byte, error) {
	return e.GetCF(cf, key)
}

// commit resolves cf and commits the ops fn appends as one batch.
func (e *Engine) commit(cf string, sync bool, fn func(b *batch.WriteBatch, id uint32) error) error {
	v, err := e.current()
	if err != nil {
		return err
	}
	id, ok := v.TreeID(cf)
	if !ok {
		return &CFNameError{Name: cf}
	}
	b := batchPool.Get()
	defer batchPool.Put(b)
	if err := fn(b, id); err != nil {
		return err
	}
	_, err = e.shared.store.Commit(b, sync)
	return storeError("commit", e.shared.path, err)
}

// Put writes key into the default column family.
func (e *Engine) Put(key, value []byte) error {
	return e.PutCF(CFDefault, key, value)
}

// PutCF writes key into cf.
func (e *Engine) PutCF(cf string, key, value []byte) error {
	return e.commit(cf, false, func(b *batch.WriteBatch, id uint32) error {
		b.Put(id, key, value)
		return nil
	})
}

// Delete removes key from the default column family.
func (e *Engine) Delete(key []byte) error {
	return e.DeleteCF(CFDefault, key)
}

// DeleteCF removes key from cf. Deleting a missing key succeeds.
func (e *Engine) DeleteCF(cf string, key []byte) error {
	return e.commit(cf, false, func(b *batch.WriteBatch, id uint32) error {
		b.Delete(id, key)
		return nil
	})
}

// DeleteRange removes [begin, end) from the default column family.
func (e *Engine) DeleteRange(begin, end []byte) error {
	return e.DeleteRangeCF(CFDefault, begin, end)
}

// DeleteRangeCF removes [begin, end) from cf. The store resolves the range
// to point deletes against the state it commits on.
func (e *Engine) DeleteRangeCF(cf string, begin, end []byte) error {
	return e.DeleteRangesCF(cf, []Range{{Start: begin, End: end}})
}

// DeleteRangesCF removes every range from cf in one batch.
func (e *Engine) DeleteRangesCF(cf string, ranges []Range) error {
	if err := checkRanges(ranges); err != nil {
		return err
	}
	return e.commit(cf, false, func(b *batch.WriteBatch, id uint32) error {
		for _, r := range ranges {
			b.DeleteRange(id, r.Start, r.End)
		}
		return nil
	})
}

func checkRanges(ranges []Range) error {
	for _, r := range ranges {
		if bytes.Compare(r.End, r.Start) < 0 {
			return ErrInvalidRange
		}
	}
	return nil
}

// CFNames returns the column families, "default" included.
func (e *Engine) CFNames() []string {
	return e.shared.store.Current().TreeNames()
}

// Snapshot pins the current version.
func (e *Engine) Snapshot() Snapshot {
	return newTreeSnapshot(e.shared.store.NewSnapshot())
}

// Sync fsyncs the commit log.
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return storeError("sync", e.shared.path, e.shared.store.Sync())
}

// NewIterator iterates the default column family.
func (e *Engine) NewIterator(opts *IterOptions) (Iterator, error) {
	return e.NewIteratorCF(CFDefault, opts)
}

// NewIteratorCF iterates cf. Each seek reads the latest committed version.
func (e *Engine) NewIteratorCF(cf string, opts *IterOptions) (Iterator, error) {
	v, err := e.current()
	if err != nil {
		return nil, err
	}
	if _, err := lookupTree(v, cf); err != nil {
		return nil, err
	}
	return NewRefreshingIterator(func() (cursor.Source, error) {
		v, err := e.current()
		if err != nil {
			return nil, err
		}
		t, err := lookupTree(v, cf)
		if err != nil {
			return nil, err
		}
		return treeSource(t), nil
	}, opts), nil
}

// NewWriteBatch returns an empty write batch bound to e.
func (e *Engine) NewWriteBatch() WriteBatch {
	return newTreeWriteBatch(e, 0)
}

// NewWriteBatchWithCap returns an empty write batch with room for about n
// bytes of records.
func (e *Engine) NewWriteBatchWithCap(n int) WriteBatch {
	return newTreeWriteBatch(e, n)
}

var _ KvEngine = (*Engine)(nil)
