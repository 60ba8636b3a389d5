package backend

import (
	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/batch"
)

// Committer applies internal batches for a WriteBatch.
type Committer interface {
	// CommitBatch applies b atomically.
	CommitBatch(b *batch.WriteBatch, sync bool) error
	// Closed reports whether the engine handle is closed.
	Closed() bool
}

var pool = batch.NewPool()

// WriteBatch is the treekv.WriteBatch of the alternative engines. Range
// deletes stay in the batch until the Committer resolves them.
type WriteBatch struct {
	c      Committer
	cfs    *CFSet
	wb     *batch.WriteBatch
	closed bool
}

// NewWriteBatch returns an empty batch committing through c. A positive
// capacity preallocates about that many bytes.
func NewWriteBatch(c Committer, cfs *CFSet, capacity int) *WriteBatch {
	var wb *batch.WriteBatch
	if capacity > 0 {
		wb = batch.NewWithCap(capacity)
	} else {
		wb = pool.Get()
	}
	return &WriteBatch{c: c, cfs: cfs, wb: wb}
}

// ApplyBatch runs b through a pooled batch built by fn and commits it.
// Engines use it for their single-operation writes.
func ApplyBatch(c Committer, cfs *CFSet, cf string, sync bool, fn func(b *batch.WriteBatch, id uint32)) error {
	if c.Closed() {
		return treekv.ErrClosed
	}
	id, err := cfs.ID(cf)
	if err != nil {
		return err
	}
	b := pool.Get()
	defer pool.Put(b)
	fn(b, id)
	return c.CommitBatch(b, sync)
}

func (b *WriteBatch) resolve(cf string) (uint32, error) {
	if b.closed {
		return 0, treekv.ErrReleased
	}
	if b.c.Closed() {
		return 0, treekv.ErrClosed
	}
	return b.cfs.ID(cf)
}

func (b *WriteBatch) Put(key, value []byte) error {
	return b.PutCF(treekv.CFDefault, key, value)
}

func (b *WriteBatch) PutCF(cf string, key, value []byte) error {
	id, err := b.resolve(cf)
	if err != nil {
		return err
	}
	b.wb.Put(id, key, value)
	return nil
}

func (b *WriteBatch) Delete(key []byte) error {
	return b.DeleteCF(treekv.CFDefault, key)
}

func (b *WriteBatch) DeleteCF(cf string, key []byte) error {
	id, err := b.resolve(cf)
	if err != nil {
		return err
	}
	b.wb.Delete(id, key)
	return nil
}

func (b *WriteBatch) DeleteRange(begin, end []byte) error {
	return b.DeleteRangeCF(treekv.CFDefault, begin, end)
}

func (b *WriteBatch) DeleteRangeCF(cf string, begin, end []byte) error {
	if err := CheckRanges([]treekv.Range{{Start: begin, End: end}}); err != nil {
		return err
	}
	id, err := b.resolve(cf)
	if err != nil {
		return err
	}
	b.wb.DeleteRange(id, begin, end)
	return nil
}

func (b *WriteBatch) SetSavePoint()              { b.wb.SetSavePoint() }
func (b *WriteBatch) PopSavePoint() error        { return b.wb.PopSavePoint() }
func (b *WriteBatch) RollbackToSavePoint() error { return b.wb.RollbackToSavePoint() }
func (b *WriteBatch) Clear()                     { b.wb.Clear() }

func (b *WriteBatch) Write() error {
	return b.WriteOpt(nil)
}

// WriteOpt commits the batch in one transaction of the backend.
func (b *WriteBatch) WriteOpt(opts *treekv.WriteOptions) error {
	if b.closed {
		return treekv.ErrReleased
	}
	if b.c.Closed() {
		return treekv.ErrClosed
	}
	return b.c.CommitBatch(b.wb, opts != nil && opts.Sync)
}

func (b *WriteBatch) Count() int                { return int(b.wb.Count()) }
func (b *WriteBatch) IsEmpty() bool             { return b.wb.Count() == 0 }
func (b *WriteBatch) ShouldWriteToEngine() bool { return b.Count() > treekv.WriteBatchMaxKeys }
func (b *WriteBatch) DataSize() int             { return b.wb.Size() }

// Close returns the buffer to the pool.
func (b *WriteBatch) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	pool.Put(b.wb)
	b.wb = batch.New()
	return nil
}

var _ treekv.WriteBatch = (*WriteBatch)(nil)
