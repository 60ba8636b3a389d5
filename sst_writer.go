// sst_writer.go implements the SST bulk-load writer.
package treekv

import (
	"bufio"
	"bytes"
	"io"
	"slices"

	"github.com/aalhour/treekv/internal/compression"
	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/internal/record"
	"github.com/aalhour/treekv/vfs"
)

// SstWriterBuilder configures and creates an SstWriter.
//
//	w, err := treekv.NewSstWriterBuilder().
//		SetCF(treekv.CFWrite).
//		SetCompressionType(treekv.ZstdCompression).
//		Build(path)
type SstWriterBuilder struct {
	cf          string
	inMemory    bool
	compression CompressionType
	level       int
	db          CFNamer
	fs          vfs.FS
	logger      Logger
}

// NewSstWriterBuilder returns a builder for uncompressed default column
// family files.
func NewSstWriterBuilder() *SstWriterBuilder {
	return &SstWriterBuilder{
		cf:          CFDefault,
		compression: NoCompression,
		level:       compression.DefaultLevel,
	}
}

// SetCF sets the column family the file is built for.
func (b *SstWriterBuilder) SetCF(cf string) *SstWriterBuilder {
	b.cf = cf
	return b
}

// SetInMemory builds the file in memory. Use FinishRead to get its bytes.
func (b *SstWriterBuilder) SetInMemory(inMemory bool) *SstWriterBuilder {
	b.inMemory = inMemory
	return b
}

// SetCompressionType sets the block compression.
func (b *SstWriterBuilder) SetCompressionType(t CompressionType) *SstWriterBuilder {
	b.compression = t
	return b
}

// SetCompressionLevel sets the codec level. Zero picks the codec default.
func (b *SstWriterBuilder) SetCompressionLevel(level int) *SstWriterBuilder {
	b.level = level
	return b
}

// SetDB makes Build reject column families db does not have.
func (b *SstWriterBuilder) SetDB(db CFNamer) *SstWriterBuilder {
	b.db = db
	return b
}

// SetFS sets the filesystem. Nil uses the operating system.
func (b *SstWriterBuilder) SetFS(fs vfs.FS) *SstWriterBuilder {
	b.fs = fs
	return b
}

// SetLogger sets the logger.
func (b *SstWriterBuilder) SetLogger(l Logger) *SstWriterBuilder {
	b.logger = l
	return b
}

// Build creates the writer. path is still reported in ExternalSstFileInfo
// for in-memory writers.
func (b *SstWriterBuilder) Build(path string) (*SstWriter, error) {
	if b.db != nil && !slices.Contains(b.db.CFNames(), b.cf) {
		return nil, &CFNameError{Name: b.cf}
	}
	if !b.compression.IsSupported() {
		return nil, &EngineError{Msg: "unsupported compression " + b.compression.String()}
	}

	w := &SstWriter{
		path:        path,
		compression: b.compression,
		level:       b.level,
		fs:          vfs.OrDefault(b.fs),
		logger:      logging.OrDefault(b.logger),
		props:       SstProperties{CF: b.cf, Compression: b.compression},
	}

	var dest io.Writer
	if b.inMemory {
		w.mem = &bytes.Buffer{}
		dest = w.mem
	} else {
		f, err := w.fs.Create(path)
		if err != nil {
			return nil, &IOError{Op: "create sst", Path: path, Err: err}
		}
		w.file = f
		w.buf = bufio.NewWriterSize(f, 64<<10)
		dest = w.buf
	}
	w.out = &countingWriter{w: dest}
	w.log = record.NewWriter(w.out, 0)

	if _, err := w.log.AddRecord(encodeSstHeader(b.cf, b.compression)); err != nil {
		_ = w.Abandon()
		return nil, &IOError{Op: "write sst", Path: path, Err: err}
	}
	return w, nil
}

// SstWriter writes a sorted run of entries into an SST file. Keys must be
// strictly increasing. An SstWriter is not safe for concurrent use.
type SstWriter struct {
	path        string
	compression CompressionType
	level       int
	fs          vfs.FS
	logger      Logger

	file vfs.WritableFile
	buf  *bufio.Writer
	mem  *bytes.Buffer
	out  *countingWriter
	log  *record.Writer

	block   []byte
	lastKey []byte
	props   SstProperties
	done    bool
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Put adds a value for key.
func (w *SstWriter) Put(key, value []byte) error {
	return w.add(key, value, false)
}

// Delete adds a tombstone for key. Ingesting the file deletes the key.
func (w *SstWriter) Delete(key []byte) error {
	return w.add(key, nil, true)
}

func (w *SstWriter) add(key, value []byte, tombstone bool) error {
	if w.done {
		return &EngineError{Msg: "sst writer already finished"}
	}
	if w.props.NumEntries > 0 && bytes.Compare(key, w.lastKey) <= 0 {
		return ErrKeyOrder
	}
	if w.props.NumEntries == 0 {
		w.props.SmallestKey = bytes.Clone(key)
	}
	w.lastKey = append(w.lastKey[:0], key...)
	w.block = appendEntry(w.block, key, value, tombstone)
	w.props.NumEntries++
	w.props.RawSize += uint64(len(key) + len(value))
	if len(w.block) >= sstBlockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *SstWriter) flushBlock() error {
	if len(w.block) == 0 {
		return nil
	}
	rec, err := encodeBlock(w.compression, w.level, w.block)
	if err != nil {
		return &EngineError{Msg: "encode sst block", Err: err}
	}
	if _, err := w.log.AddRecord(rec); err != nil {
		return &IOError{Op: "write sst", Path: w.path, Err: err}
	}
	w.block = w.block[:0]
	w.props.NumBlocks++
	return nil
}

// FileSize returns the number of bytes emitted so far.
func (w *SstWriter) FileSize() uint64 {
	return uint64(w.out.n)
}

// Finish writes the trailer, syncs the file and closes it. It fails when
// no entry was added, leaving the writer usable.
func (w *SstWriter) Finish() (ExternalSstFileInfo, error) {
	if w.done {
		return ExternalSstFileInfo{}, &EngineError{Msg: "sst writer already finished"}
	}
	if w.props.NumEntries == 0 {
		return ExternalSstFileInfo{}, errEmptySST
	}
	if err := w.flushBlock(); err != nil {
		return ExternalSstFileInfo{}, err
	}
	w.props.LargestKey = bytes.Clone(w.lastKey)
	if _, err := w.log.AddRecord(encodeSstTrailer(&w.props)); err != nil {
		return ExternalSstFileInfo{}, &IOError{Op: "write sst", Path: w.path, Err: err}
	}
	w.done = true

	size := uint64(w.out.n)
	if w.file != nil {
		if err := w.closeFile(); err != nil {
			return ExternalSstFileInfo{}, err
		}
		st, err := w.fs.Stat(w.path)
		if err != nil {
			return ExternalSstFileInfo{}, &IOError{Op: "stat sst", Path: w.path, Err: err}
		}
		size = uint64(st.Size())
	}

	w.logger.Infof(logging.NSSST+"finished %s: cf %s, %d entries, %d blocks, %d bytes",
		w.path, w.props.CF, w.props.NumEntries, w.props.NumBlocks, size)
	return ExternalSstFileInfo{
		FilePath:    w.path,
		SmallestKey: bytes.Clone(w.props.SmallestKey),
		LargestKey:  bytes.Clone(w.props.LargestKey),
		FileSize:    size,
		NumEntries:  w.props.NumEntries,
	}, nil
}

func (w *SstWriter) closeFile() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return &IOError{Op: "flush sst", Path: w.path, Err: err}
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return &IOError{Op: "sync sst", Path: w.path, Err: err}
	}
	if err := w.file.Close(); err != nil {
		return &IOError{Op: "close sst", Path: w.path, Err: err}
	}
	w.file = nil
	return nil
}

// FinishRead finishes an in-memory writer and returns a reader over the
// file bytes.
func (w *SstWriter) FinishRead() (ExternalSstFileInfo, io.Reader, error) {
	if w.mem == nil {
		return ExternalSstFileInfo{}, nil, &EngineError{Msg: "FinishRead requires an in-memory sst writer"}
	}
	info, err := w.Finish()
	if err != nil {
		return ExternalSstFileInfo{}, nil, err
	}
	return info, bytes.NewReader(w.mem.Bytes()), nil
}

// Abandon discards an unfinished writer and removes its partial file.
func (w *SstWriter) Abandon() error {
	if w.done {
		return nil
	}
	w.done = true
	if w.file == nil {
		return nil
	}
	_ = w.file.Close()
	w.file = nil
	if err := w.fs.Remove(w.path); err != nil {
		return &IOError{Op: "remove sst", Path: w.path, Err: err}
	}
	return nil
}

var _ SstFileWriter = (*SstWriter)(nil)
