package batch

import (
	"sync"
)

// DefaultMaxBatchSize is the largest buffer the pool keeps. Larger batches
// are dropped on Put.
const DefaultMaxBatchSize = 4 * 1024 * 1024

// Pool recycles batch buffers between short-lived write batches.
//
//	wb := pool.Get()
//	defer pool.Put(wb)
type Pool struct {
	pool    sync.Pool
	maxSize int
}

// NewPool creates a pool that keeps batches up to DefaultMaxBatchSize.
func NewPool() *Pool {
	return &Pool{
		pool:    sync.Pool{New: func() any { return New() }},
		maxSize: DefaultMaxBatchSize,
	}
}

// Get returns an empty batch.
func (p *Pool) Get() *WriteBatch {
	wb := p.pool.Get().(*WriteBatch)
	wb.Clear()
	return wb
}

// Put hands wb back to the pool. wb must not be used afterwards.
func (p *Pool) Put(wb *WriteBatch) {
	if wb == nil || cap(wb.data) > p.maxSize {
		return
	}
	wb.Clear()
	p.pool.Put(wb)
}
