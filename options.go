package treekv

// options.go implements engine configuration options.

import (
	"github.com/aalhour/treekv/internal/compression"
	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/vfs"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// CompressionType is an alias for the compression type.
type CompressionType = compression.Type

// Compression type constants
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	ZlibCompression   = compression.ZlibCompression
	LZ4Compression    = compression.LZ4Compression
	LZ4HCCompression  = compression.LZ4HCCompression
	ZstdCompression   = compression.ZstdCompression
)

// DefaultRewriteLogThreshold is the commit log size that triggers the first
// automatic rewrite.
const DefaultRewriteLogThreshold = 64 << 20

// Options configures Open.
type Options struct {
	// CreateIfMissing creates the engine directory if it does not exist.
	CreateIfMissing bool

	// ErrorIfExists fails Open if the engine already exists.
	ErrorIfExists bool

	// ColumnFamilies are created on open if missing. "default" always
	// exists.
	ColumnFamilies []string

	// ParanoidChecks fails Open on any commit log damage. Without it a torn
	// tail is truncated and logged.
	ParanoidChecks bool

	// Logger receives engine events. Nil logs warnings and errors to stderr.
	Logger Logger

	// FS is the filesystem. Nil uses the operating system.
	FS vfs.FS

	// RewriteLogThreshold rewrites the commit log once it grows past this
	// many bytes. The next rewrite waits for twice the rewritten size.
	// Zero disables automatic rewrites.
	RewriteLogThreshold int64
}

// DefaultOptions returns Options with all well-known column families.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing:     true,
		ColumnFamilies:      append([]string(nil), AllCFs...),
		RewriteLogThreshold: DefaultRewriteLogThreshold,
	}
}

// ReadOptions contains options for read operations. The tree engine keeps
// every key in memory, so the fields only matter to other backends.
type ReadOptions struct {
	// VerifyChecksums enables checksum verification when reading.
	VerifyChecksums bool

	// FillCache indicates whether to fill the block cache on reads.
	FillCache bool
}

// DefaultReadOptions returns ReadOptions with default values.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{
		VerifyChecksums: true,
		FillCache:       true,
	}
}

// WriteOptions contains options for write operations.
type WriteOptions struct {
	// Sync fsyncs the commit log before the write returns.
	Sync bool
}

// DefaultWriteOptions returns WriteOptions with default values.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}

// IterOptions bounds an iterator to [LowerBound, UpperBound). Nil bounds
// are open.
type IterOptions struct {
	LowerBound []byte
	UpperBound []byte
}

// IngestOptions controls IngestExternalFileCF.
type IngestOptions struct {
	// MoveFiles removes the source files after a successful ingest.
	// Otherwise a copy is kept under the engine's ingested directory.
	MoveFiles bool

	// VerifyChecksumsBeforeIngest verifies every block checksum before the
	// file is applied.
	VerifyChecksumsBeforeIngest bool
}

// DefaultIngestOptions returns IngestOptions with default values.
func DefaultIngestOptions() *IngestOptions {
	return &IngestOptions{VerifyChecksumsBeforeIngest: true}
}

func (o *IterOptions) bounds() (lower, upper []byte) {
	if o == nil {
		return nil, nil
	}
	return o.LowerBound, o.UpperBound
}
