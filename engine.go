package treekv

import "io"

// Column families every engine created by this package understands.
const (
	CFDefault = "default"
	CFLock    = "lock"
	CFWrite   = "write"
	CFRaft    = "raft"
)

// AllCFs lists the well-known column families.
var AllCFs = []string{CFDefault, CFLock, CFWrite, CFRaft}

// WriteBatchMaxKeys is the number of operations after which a write batch
// reports that it should be written.
const WriteBatchMaxKeys = 256

type seekKind uint8

const (
	seekKey seekKind = iota
	seekStart
	seekEnd
)

// SeekKey is the target of an iterator seek: the start of the key space,
// the end of it, or a specific key.
type SeekKey struct {
	kind seekKind
	key  []byte
}

var (
	// SeekStart positions at the first key.
	SeekStart = SeekKey{kind: seekStart}
	// SeekEnd positions at the last key.
	SeekEnd = SeekKey{kind: seekEnd}
)

// SeekKeyAt returns a SeekKey for key.
func SeekKeyAt(key []byte) SeekKey {
	return SeekKey{kind: seekKey, key: key}
}

// IsStart reports whether k is SeekStart.
func (k SeekKey) IsStart() bool { return k.kind == seekStart }

// IsEnd reports whether k is SeekEnd.
func (k SeekKey) IsEnd() bool { return k.kind == seekEnd }

// Key returns the key of a SeekKeyAt target, or nil.
func (k SeekKey) Key() []byte { return k.key }

func (k SeekKey) String() string {
	switch k.kind {
	case seekStart:
		return "Start"
	case seekEnd:
		return "End"
	}
	return "Key(" + string(k.key) + ")"
}

// Range is the half-open key range [Start, End).
type Range struct {
	Start []byte
	End   []byte
}

// Peekable serves point reads.
type Peekable interface {
	Get(key []byte) ([]byte, error)
	GetCF(cf string, key []byte) ([]byte, error)
	GetOpt(opts *ReadOptions, cf string, key []byte) ([]byte, error)
}

// SyncMutable applies single writes immediately.
type SyncMutable interface {
	Put(key, value []byte) error
	PutCF(cf string, key, value []byte) error
	Delete(key []byte) error
	DeleteCF(cf string, key []byte) error
	// DeleteRange deletes [begin, end). It fails with ErrInvalidRange when
	// end < begin.
	DeleteRange(begin, end []byte) error
	DeleteRangeCF(cf string, begin, end []byte) error
}

// Iterable opens iterators over one column family.
type Iterable interface {
	NewIterator(opts *IterOptions) (Iterator, error)
	NewIteratorCF(cf string, opts *IterOptions) (Iterator, error)
}

// Iterator is a bidirectional cursor over one column family.
//
// Next and Prev panic unless the iterator is positioned. Key and Value
// panic unless Valid reports true. The returned slices are only valid until
// the next movement.
type Iterator interface {
	Seek(key SeekKey) (bool, error)
	SeekForPrev(key SeekKey) (bool, error)
	Next() (bool, error)
	Prev() (bool, error)
	Key() []byte
	Value() []byte
	Valid() (bool, error)
	Close() error
}

// CFNamer lists column families.
type CFNamer interface {
	CFNames() []string
}

// Snapshot is an immutable read view of an engine.
type Snapshot interface {
	Peekable
	Iterable
	CFNamer
	// Sequence returns the sequence number the view was taken at.
	Sequence() uint64
	// Release frees the view. Reads after Release fail with ErrReleased.
	Release()
}

// Mutable is the set of operations a write batch buffers.
type Mutable interface {
	Put(key, value []byte) error
	PutCF(cf string, key, value []byte) error
	Delete(key []byte) error
	DeleteCF(cf string, key []byte) error
	DeleteRange(begin, end []byte) error
	DeleteRangeCF(cf string, begin, end []byte) error
}

// WriteBatch buffers writes and applies them atomically. A batch is owned
// by one goroutine.
type WriteBatch interface {
	Mutable

	SetSavePoint()
	PopSavePoint() error
	RollbackToSavePoint() error
	Clear()

	// Write applies the batch. The batch is not cleared.
	Write() error
	WriteOpt(opts *WriteOptions) error

	Count() int
	IsEmpty() bool
	// ShouldWriteToEngine reports whether Count exceeds WriteBatchMaxKeys.
	ShouldWriteToEngine() bool
	DataSize() int

	// Close releases the batch buffer. Later calls are no-ops.
	Close() error
}

// WriteBatchExt creates write batches.
type WriteBatchExt interface {
	NewWriteBatch() WriteBatch
	NewWriteBatchWithCap(n int) WriteBatch
}

// ImportExt ingests SST files built by SstWriter.
type ImportExt interface {
	IngestExternalFileCF(cf string, opts *IngestOptions, paths ...string) error
	ValidateSSTForIngestion(cf, path string, expectedSize uint64, expectedChecksum uint32) error
}

// MiscExt collects maintenance operations.
type MiscExt interface {
	Flush(sync bool) error
	FlushCF(cf string, sync bool) error
	DeleteRangesCF(cf string, ranges []Range) error
	Path() string
	UsedSize() (uint64, error)
	LatestSequenceNumber() uint64
	OldestSnapshotSequenceNumber() (uint64, bool)
	DumpStats() (string, error)
}

// KvEngine is the full capability set of a backend.
type KvEngine interface {
	Peekable
	SyncMutable
	Iterable
	CFNamer
	WriteBatchExt
	ImportExt
	MiscExt

	Snapshot() Snapshot
	Sync() error
	Close() error
}

// SstFileWriter builds an SST file. Keys must be strictly increasing.
type SstFileWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	FileSize() uint64
	Finish() (ExternalSstFileInfo, error)
	FinishRead() (ExternalSstFileInfo, io.Reader, error)
	Abandon() error
}

// SstFileReader reads an SST file.
type SstFileReader interface {
	Iterable
	CF() string
	Properties() SstProperties
	VerifyChecksum() error
	Close() error
}
