// import.go implements SST ingestion by replay.
//
// Ingesting a file replays its entries through an SstReader into one write
// batch: values become puts and tombstones become deletes. The batch is
// committed atomically, so either every file of the call is visible or none
// is. Afterwards the source files are removed (MoveFiles) or copied into the
// engine's ingested directory.
package treekv

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aalhour/treekv/internal/checksum"
	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/vfs"
)

// IngestedDir is the directory under an engine path that keeps copies of
// ingested files.
const IngestedDir = "ingested"

// IngestTarget is what IngestFiles writes into.
type IngestTarget interface {
	WriteBatchExt
	LatestSequenceNumber() uint64
}

// IngestExternalFileCF ingests SST files built for cf.
func (e *Engine) IngestExternalFileCF(cf string, opts *IngestOptions, paths ...string) error {
	if _, err := e.current(); err != nil {
		return err
	}
	return IngestFiles(e, e.shared.fs, e.shared.logger, cf, opts, filepath.Join(e.shared.path, IngestedDir), paths...)
}

// ValidateSSTForIngestion checks an SST file before it is ingested into cf.
func (e *Engine) ValidateSSTForIngestion(cf, path string, expectedSize uint64, expectedChecksum uint32) error {
	return ValidateSST(e.shared.fs, cf, path, expectedSize, expectedChecksum)
}

// IngestFiles ingests paths into cf of db. archiveDir receives copies of
// the files unless opts.MoveFiles is set. Every backend of this module
// ingests through it.
func IngestFiles(db IngestTarget, fs vfs.FS, logger Logger, cf string, opts *IngestOptions, archiveDir string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if opts == nil {
		opts = DefaultIngestOptions()
	}
	fs = vfs.OrDefault(fs)
	logger = logging.OrDefault(logger)

	wb := db.NewWriteBatch()
	defer func() { _ = wb.Close() }()

	var entries uint64
	for _, path := range paths {
		n, err := replaySst(wb, fs, cf, path, opts.VerifyChecksumsBeforeIngest)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		entries += n
	}
	if err := wb.Write(); err != nil {
		return err
	}
	seq := db.LatestSequenceNumber()

	for _, path := range paths {
		if opts.MoveFiles {
			if err := fs.Remove(path); err != nil {
				logger.Warnf(logging.NSIngest+"ingested %s but could not remove it: %v", path, err)
			}
			continue
		}
		if err := archiveSst(fs, archiveDir, seq, path); err != nil {
			logger.Warnf(logging.NSIngest+"ingested %s but could not archive it: %v", path, err)
		}
	}
	logger.Infof(logging.NSIngest+"ingested %d files, %d entries into cf %s at seq %d", len(paths), entries, cf, seq)
	return nil
}

func replaySst(wb WriteBatch, fs vfs.FS, cf, path string, verify bool) (uint64, error) {
	r, err := openSstReader(fs, path, verify)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()
	if r.CF() != cf {
		return 0, &EngineError{Msg: fmt.Sprintf("sst built for column family %q cannot be ingested into %q", r.CF(), cf)}
	}

	it := NewCursorIterator(treeSource(r.tree), nil)
	defer func() { _ = it.Close() }()

	var n uint64
	ok, err := it.Seek(SeekStart)
	for ; ok; ok, err = it.Next() {
		if it.Tombstone() {
			err = wb.DeleteCF(cf, it.Key())
		} else {
			err = wb.PutCF(cf, it.Key(), it.Value())
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, err
}

func archiveSst(fs vfs.FS, dir string, seq uint64, path string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst := filepath.Join(dir, fmt.Sprintf("%020d-%s", seq, filepath.Base(path)))
	return linkOrCopy(path, dst)
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = dstFile.Close() }()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}
	return dstFile.Sync()
}

// linkOrCopy hard links src to dst, copying when links are not supported.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

// ValidateSST checks that path has expectedSize bytes, that its CRC32C is
// expectedChecksum (zero skips the check), and that it is an intact SST
// built for cf.
func ValidateSST(fs vfs.FS, cf, path string, expectedSize uint64, expectedChecksum uint32) error {
	fs = vfs.OrDefault(fs)
	st, err := fs.Stat(path)
	if err != nil {
		return &IOError{Op: "stat sst", Path: path, Err: err}
	}
	if size := uint64(st.Size()); size != expectedSize {
		return &EngineError{Msg: fmt.Sprintf("sst %s has %d bytes, expected %d", path, size, expectedSize)}
	}
	if expectedChecksum != 0 {
		sum, err := fileCRC32C(fs, path)
		if err != nil {
			return err
		}
		if sum != expectedChecksum {
			return &EngineError{Msg: fmt.Sprintf("sst %s checksum %#08x, expected %#08x", path, sum, expectedChecksum)}
		}
	}
	r, err := openSstReader(fs, path, true)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	if r.CF() != cf {
		return &EngineError{Msg: fmt.Sprintf("sst %s built for column family %q, expected %q", path, r.CF(), cf)}
	}
	return nil
}

// FileChecksum returns the CRC32C of the file at path, the checksum
// ValidateSST compares against.
func FileChecksum(path string) (uint32, error) {
	return fileCRC32C(vfs.Default(), path)
}

func fileCRC32C(fs vfs.FS, path string) (uint32, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, &IOError{Op: "open sst", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	var (
		crc uint32
		buf = make([]byte, 64<<10)
	)
	for {
		n, err := f.Read(buf)
		crc = checksum.Extend(crc, buf[:n])
		if err == io.EOF {
			return crc, nil
		}
		if err != nil {
			return 0, &IOError{Op: "read sst", Path: path, Err: err}
		}
	}
}
