// write_batch.go implements the WriteBatch of the tree engine.
package treekv

import (
	"github.com/aalhour/treekv/internal/batch"
)

var batchPool = batch.NewPool()

// TreeWriteBatch buffers writes for an Engine and commits them as one
// commit log record. Unknown column families are rejected when the
// operation is appended.
type TreeWriteBatch struct {
	engine *Engine
	wb     *batch.WriteBatch
	closed bool
}

func newTreeWriteBatch(e *Engine, capacity int) *TreeWriteBatch {
	var wb *batch.WriteBatch
	if capacity > 0 {
		wb = batch.NewWithCap(capacity)
	} else {
		wb = batchPool.Get()
	}
	return &TreeWriteBatch{engine: e, wb: wb}
}

func (b *TreeWriteBatch) resolve(cf string) (uint32, error) {
	if b.closed {
		return 0, ErrReleased
	}
	v, err := b.engine.current()
	if err != nil {
		return 0, err
	}
	id, ok := v.TreeID(cf)
	if !ok {
		return 0, &CFNameError{Name: cf}
	}
	return id, nil
}

// Put appends a put to the default column family.
func (b *TreeWriteBatch) Put(key, value []byte) error {
	return b.PutCF(CFDefault, key, value)
}

// PutCF appends a put to cf.
func (b *TreeWriteBatch) PutCF(cf string, key, value []byte) error {
	id, err := b.resolve(cf)
	if err != nil {
		return err
	}
	b.wb.Put(id, key, value)
	return nil
}

// Delete appends a delete to the default column family.
func (b *TreeWriteBatch) Delete(key []byte) error {
	return b.DeleteCF(CFDefault, key)
}

// DeleteCF appends a delete to cf.
func (b *TreeWriteBatch) DeleteCF(cf string, key []byte) error {
	id, err := b.resolve(cf)
	if err != nil {
		return err
	}
	b.wb.Delete(id, key)
	return nil
}

// DeleteRange appends a range delete of [begin, end) to the default column
// family.
func (b *TreeWriteBatch) DeleteRange(begin, end []byte) error {
	return b.DeleteRangeCF(CFDefault, begin, end)
}

// DeleteRangeCF appends a range delete of [begin, end) to cf. On Write it
// removes the keys present after the batch's earlier operations.
func (b *TreeWriteBatch) DeleteRangeCF(cf string, begin, end []byte) error {
	if err := checkRanges([]Range{{Start: begin, End: end}}); err != nil {
		return err
	}
	id, err := b.resolve(cf)
	if err != nil {
		return err
	}
	b.wb.DeleteRange(id, begin, end)
	return nil
}

// SetSavePoint records the current end of the batch.
func (b *TreeWriteBatch) SetSavePoint() {
	b.wb.SetSavePoint()
}

// PopSavePoint drops the latest save point without touching the batch.
func (b *TreeWriteBatch) PopSavePoint() error {
	return b.wb.PopSavePoint()
}

// RollbackToSavePoint discards the operations appended since the latest
// save point and drops it.
func (b *TreeWriteBatch) RollbackToSavePoint() error {
	return b.wb.RollbackToSavePoint()
}

// Clear drops all operations and save points.
func (b *TreeWriteBatch) Clear() {
	b.wb.Clear()
}

// Write commits the batch.
func (b *TreeWriteBatch) Write() error {
	return b.WriteOpt(nil)
}

// WriteOpt commits the batch atomically: either every operation is
// visible afterwards or none is. The batch keeps its contents.
func (b *TreeWriteBatch) WriteOpt(opts *WriteOptions) error {
	if b.closed {
		return ErrReleased
	}
	if b.engine.closed.Load() {
		return ErrClosed
	}
	sync := opts != nil && opts.Sync
	_, err := b.engine.shared.store.Commit(b.wb, sync)
	return storeError("write batch", b.engine.shared.path, err)
}

// Count returns the number of operations in the batch.
func (b *TreeWriteBatch) Count() int {
	return int(b.wb.Count())
}

// IsEmpty reports whether the batch has no operations.
func (b *TreeWriteBatch) IsEmpty() bool {
	return b.wb.Count() == 0
}

// ShouldWriteToEngine reports whether the batch holds more than
// WriteBatchMaxKeys operations.
func (b *TreeWriteBatch) ShouldWriteToEngine() bool {
	return b.Count() > WriteBatchMaxKeys
}

// DataSize returns the encoded size of the batch in bytes.
func (b *TreeWriteBatch) DataSize() int {
	return b.wb.Size()
}

// Close returns the buffer to the pool. Only the first call has an effect.
func (b *TreeWriteBatch) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	batchPool.Put(b.wb)
	b.wb = batch.New()
	return nil
}

var _ WriteBatch = (*TreeWriteBatch)(nil)
