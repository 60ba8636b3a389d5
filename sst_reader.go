// sst_reader.go implements the SST reader.
package treekv

import (
	"bytes"
	"errors"
	"io"

	"github.com/aalhour/treekv/internal/ordtree"
	"github.com/aalhour/treekv/internal/record"
	"github.com/aalhour/treekv/vfs"
)

// SstReader holds the entries of one SST file in an ordered index. The
// file is read once in a forward pass when the reader is opened.
type SstReader struct {
	path string
	fs   vfs.FS
	data []byte // set for readers built from bytes

	props  SstProperties
	tree   *ordtree.Tree
	closed bool
}

// OpenSstReader reads the SST file at path. Framing checksums are always
// verified; block checksums are verified by VerifyChecksum.
func OpenSstReader(path string) (*SstReader, error) {
	return openSstReader(nil, path, false)
}

// NewSstReaderFromBytes reads an SST file held in memory, such as the
// output of SstWriter.FinishRead. name is used in errors.
func NewSstReaderFromBytes(name string, data []byte) (*SstReader, error) {
	r := &SstReader{path: name, data: data}
	props, tree, err := loadSst(bytes.NewReader(data), false)
	if err != nil {
		return nil, err
	}
	r.props, r.tree = props, tree
	return r, nil
}

func openSstReader(fs vfs.FS, path string, verify bool) (*SstReader, error) {
	r := &SstReader{path: path, fs: vfs.OrDefault(fs)}
	props, tree, err := r.load(verify)
	if err != nil {
		return nil, err
	}
	r.props, r.tree = props, tree
	return r, nil
}

func (r *SstReader) load(verify bool) (SstProperties, *ordtree.Tree, error) {
	if r.data != nil {
		return loadSst(bytes.NewReader(r.data), verify)
	}
	f, err := r.fs.Open(r.path)
	if err != nil {
		return SstProperties{}, nil, &IOError{Op: "open sst", Path: r.path, Err: err}
	}
	defer func() { _ = f.Close() }()
	props, tree, err := loadSst(f, verify)
	if err != nil {
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			ioErr.Path = r.path
		}
		return SstProperties{}, nil, err
	}
	return props, tree, nil
}

// loadSst replays an SST file into a tree and checks it against its
// trailer.
func loadSst(src io.Reader, verify bool) (SstProperties, *ordtree.Tree, error) {
	var props SstProperties
	rr := record.NewReader(src)

	rec, err := rr.ReadRecord()
	if err != nil {
		return props, nil, sstReadError(err, "header")
	}
	h, err := decodeSstHeader(rec)
	if err != nil {
		return props, nil, err
	}
	props.CF = h.cf
	props.Compression = h.compression

	var (
		tree    = ordtree.New()
		lastKey []byte
		seen    SstProperties
	)
	for {
		rec, err := rr.ReadRecord()
		if err != nil {
			return props, nil, sstReadError(err, "trailer")
		}
		switch recordKind(rec) {
		case sstKindBlock:
			raw, err := decodeBlock(rec, verify)
			if err != nil {
				return props, nil, err
			}
			err = forEachEntry(raw, func(key, value []byte, tombstone bool) error {
				if seen.NumEntries > 0 && bytes.Compare(key, lastKey) <= 0 {
					return sstCorruption("keys out of order at %q", key)
				}
				if seen.NumEntries == 0 {
					seen.SmallestKey = key
				}
				lastKey = key
				if tombstone {
					tree.SetTombstone(key)
				} else {
					tree.Set(key, value)
				}
				seen.NumEntries++
				seen.RawSize += uint64(len(key) + len(value))
				return nil
			})
			if err != nil {
				return props, nil, err
			}
			seen.NumBlocks++

		case sstKindTrailer:
			if err := decodeSstTrailer(rec, &props); err != nil {
				return props, nil, err
			}
			seen.LargestKey = lastKey
			if err := checkTrailer(&props, &seen); err != nil {
				return props, nil, err
			}
			if _, err := rr.ReadRecord(); err != io.EOF {
				if err == nil {
					return props, nil, sstCorruption("records after trailer")
				}
				return props, nil, sstReadError(err, "end of file")
			}
			return props, tree, nil

		default:
			return props, nil, sstCorruption("unknown record kind %d", recordKind(rec))
		}
	}
}

func checkTrailer(want, got *SstProperties) error {
	switch {
	case want.NumEntries == 0:
		return sstCorruption("file has no entries")
	case want.NumEntries != got.NumEntries:
		return sstCorruption("trailer counts %d entries, file has %d", want.NumEntries, got.NumEntries)
	case want.NumBlocks != got.NumBlocks:
		return sstCorruption("trailer counts %d blocks, file has %d", want.NumBlocks, got.NumBlocks)
	case want.RawSize != got.RawSize:
		return sstCorruption("trailer raw size %d, file has %d", want.RawSize, got.RawSize)
	case !bytes.Equal(want.SmallestKey, got.SmallestKey):
		return sstCorruption("trailer smallest key %q, file has %q", want.SmallestKey, got.SmallestKey)
	case !bytes.Equal(want.LargestKey, got.LargestKey):
		return sstCorruption("trailer largest key %q, file has %q", want.LargestKey, got.LargestKey)
	}
	return nil
}

func sstReadError(err error, expecting string) error {
	switch {
	case err == io.EOF:
		return sstCorruption("file ends before %s", expecting)
	case errors.Is(err, record.ErrCorruptedRecord),
		errors.Is(err, record.ErrUnexpectedEOF),
		errors.Is(err, record.ErrFragmentOrder):
		return sstCorruption("%v", err)
	}
	return &IOError{Op: "read sst", Err: err}
}

// CF returns the column family the file was built for.
func (r *SstReader) CF() string {
	return r.props.CF
}

// Path returns the file path, or the name given to NewSstReaderFromBytes.
func (r *SstReader) Path() string {
	return r.path
}

// Properties returns the properties recorded in the trailer.
func (r *SstReader) Properties() SstProperties {
	p := r.props
	p.SmallestKey = bytes.Clone(p.SmallestKey)
	p.LargestKey = bytes.Clone(p.LargestKey)
	return p
}

// NewIterator iterates the file's entries, tombstones included. Use
// (*CursorIterator).Tombstone to tell them apart.
func (r *SstReader) NewIterator(opts *IterOptions) (Iterator, error) {
	if r.closed {
		return nil, ErrReleased
	}
	return NewCursorIterator(treeSource(r.tree), opts), nil
}

// NewIteratorCF iterates the file if cf is its column family.
func (r *SstReader) NewIteratorCF(cf string, opts *IterOptions) (Iterator, error) {
	if cf != r.props.CF {
		return nil, &CFNameError{Name: cf}
	}
	return r.NewIterator(opts)
}

// VerifyChecksum re-reads the file and checks every block checksum and the
// trailer.
func (r *SstReader) VerifyChecksum() error {
	if r.closed {
		return ErrReleased
	}
	_, _, err := r.load(true)
	return err
}

// Close drops the index. Iterators opened before Close keep working.
func (r *SstReader) Close() error {
	r.closed = true
	r.tree = nil
	return nil
}

var _ SstFileReader = (*SstReader)(nil)
