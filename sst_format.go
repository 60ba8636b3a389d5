// sst_format.go defines the on-disk layout of SST files.
//
// An SST file is a record-framed log (see internal/record) holding:
//
//	header  : kind=1 | magic[8] | version varint | compression u8 | cf (length-prefixed)
//	block*  : kind=2 | compression u8 | raw length varint | xxh3 u32 | payload
//	trailer : kind=3 | smallest | largest (length-prefixed) | entries varint | raw size varint | blocks varint
//
// A block payload is the compressed form of a run of entries:
//
//	entry : flag u8 (0 value, 1 tombstone) | key (length-prefixed) | value (length-prefixed, values only)
//
// The xxh3 checksum covers the payload with the compression byte appended.
// Every record is additionally protected by the framing CRC32C.
package treekv

import (
	"bytes"
	"fmt"

	"github.com/aalhour/treekv/internal/checksum"
	"github.com/aalhour/treekv/internal/compression"
	"github.com/aalhour/treekv/internal/encoding"
)

const (
	sstMagic         = "TREEKVSS"
	sstFormatVersion = 1

	// sstBlockSize is the raw size at which a data block is cut.
	sstBlockSize = 4096
)

const (
	sstKindHeader  byte = 1
	sstKindBlock   byte = 2
	sstKindTrailer byte = 3
)

const (
	entryValue     byte = 0
	entryTombstone byte = 1
)

// ExternalSstFileInfo describes a finished SST file.
type ExternalSstFileInfo struct {
	FilePath       string
	SmallestKey    []byte
	LargestKey     []byte
	SequenceNumber uint64
	FileSize       uint64
	NumEntries     uint64
}

// SstProperties are the properties recorded in an SST file.
type SstProperties struct {
	CF          string
	Compression CompressionType
	SmallestKey []byte
	LargestKey  []byte
	NumEntries  uint64
	RawSize     uint64
	NumBlocks   uint64
}

func sstCorruption(format string, args ...any) error {
	return &EngineError{Msg: ErrCorruption.Msg, Err: fmt.Errorf("sst: "+format, args...)}
}

func encodeSstHeader(cf string, comp CompressionType) []byte {
	dst := make([]byte, 0, 1+len(sstMagic)+2+len(cf)+1)
	dst = append(dst, sstKindHeader)
	dst = append(dst, sstMagic...)
	dst = encoding.AppendVarint32(dst, sstFormatVersion)
	dst = append(dst, byte(comp))
	return encoding.AppendLengthPrefixedSlice(dst, []byte(cf))
}

type sstHeader struct {
	cf          string
	compression CompressionType
}

func decodeSstHeader(rec []byte) (sstHeader, error) {
	var h sstHeader
	s := encoding.NewSlice(rec)
	kind, ok := s.GetByte()
	if !ok || kind != sstKindHeader {
		return h, sstCorruption("missing header record")
	}
	magic, ok := s.GetBytes(len(sstMagic))
	if !ok || string(magic) != sstMagic {
		return h, sstCorruption("bad magic")
	}
	version, ok := s.GetVarint32()
	if !ok {
		return h, sstCorruption("truncated header")
	}
	if version != sstFormatVersion {
		return h, sstCorruption("unsupported format version %d", version)
	}
	comp, ok := s.GetByte()
	if !ok {
		return h, sstCorruption("truncated header")
	}
	h.compression = CompressionType(comp)
	if !h.compression.IsSupported() {
		return h, sstCorruption("unsupported compression %d", comp)
	}
	cf, ok := s.GetLengthPrefixedSlice()
	if !ok {
		return h, sstCorruption("truncated header")
	}
	h.cf = string(cf)
	return h, nil
}

// appendEntry appends one entry to a raw block.
func appendEntry(dst []byte, key, value []byte, tombstone bool) []byte {
	if tombstone {
		dst = append(dst, entryTombstone)
		return encoding.AppendLengthPrefixedSlice(dst, key)
	}
	dst = append(dst, entryValue)
	dst = encoding.AppendLengthPrefixedSlice(dst, key)
	return encoding.AppendLengthPrefixedSlice(dst, value)
}

func encodeBlock(comp CompressionType, level int, raw []byte) ([]byte, error) {
	payload, err := compression.Compress(comp, level, raw)
	if err != nil {
		return nil, fmt.Errorf("sst: compress block: %w", err)
	}
	dst := make([]byte, 0, 1+1+encoding.MaxVarint64Length+4+len(payload))
	dst = append(dst, sstKindBlock, byte(comp))
	dst = encoding.AppendVarint64(dst, uint64(len(raw)))
	dst = encoding.AppendFixed32(dst, checksum.XXH3WithLastByte(payload, byte(comp)))
	return append(dst, payload...), nil
}

// decodeBlock returns the raw entries of a block record. The xxh3 checksum
// is only checked with verify.
func decodeBlock(rec []byte, verify bool) ([]byte, error) {
	s := encoding.NewSlice(rec)
	if kind, ok := s.GetByte(); !ok || kind != sstKindBlock {
		return nil, sstCorruption("expected block record")
	}
	comp, ok := s.GetByte()
	if !ok {
		return nil, sstCorruption("truncated block")
	}
	rawLen, ok := s.GetVarint64()
	if !ok {
		return nil, sstCorruption("truncated block")
	}
	sum, ok := s.GetFixed32()
	if !ok {
		return nil, sstCorruption("truncated block")
	}
	payload := s.Data()
	if verify {
		if got := checksum.XXH3WithLastByte(payload, comp); got != sum {
			return nil, sstCorruption("block checksum mismatch: stored %#08x, computed %#08x", sum, got)
		}
	}
	raw, err := compression.Decompress(CompressionType(comp), payload)
	if err != nil {
		return nil, sstCorruption("decompress block: %v", err)
	}
	if uint64(len(raw)) != rawLen {
		return nil, sstCorruption("block size %d, expected %d", len(raw), rawLen)
	}
	return raw, nil
}

// forEachEntry calls fn for every entry of a raw block.
func forEachEntry(raw []byte, fn func(key, value []byte, tombstone bool) error) error {
	s := encoding.NewSlice(raw)
	for s.Remaining() > 0 {
		flag, _ := s.GetByte()
		key, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return sstCorruption("truncated entry")
		}
		var value []byte
		switch flag {
		case entryValue:
			if value, ok = s.GetLengthPrefixedSlice(); !ok {
				return sstCorruption("truncated entry")
			}
		case entryTombstone:
		default:
			return sstCorruption("unknown entry flag %d", flag)
		}
		if err := fn(key, value, flag == entryTombstone); err != nil {
			return err
		}
	}
	return nil
}

func encodeSstTrailer(p *SstProperties) []byte {
	dst := []byte{sstKindTrailer}
	dst = encoding.AppendLengthPrefixedSlice(dst, p.SmallestKey)
	dst = encoding.AppendLengthPrefixedSlice(dst, p.LargestKey)
	dst = encoding.AppendVarint64(dst, p.NumEntries)
	dst = encoding.AppendVarint64(dst, p.RawSize)
	return encoding.AppendVarint64(dst, p.NumBlocks)
}

func decodeSstTrailer(rec []byte, p *SstProperties) error {
	s := encoding.NewSlice(rec)
	if kind, ok := s.GetByte(); !ok || kind != sstKindTrailer {
		return sstCorruption("expected trailer record")
	}
	var ok bool
	if p.SmallestKey, ok = s.GetLengthPrefixedSlice(); !ok {
		return sstCorruption("truncated trailer")
	}
	if p.LargestKey, ok = s.GetLengthPrefixedSlice(); !ok {
		return sstCorruption("truncated trailer")
	}
	if p.NumEntries, ok = s.GetVarint64(); !ok {
		return sstCorruption("truncated trailer")
	}
	if p.RawSize, ok = s.GetVarint64(); !ok {
		return sstCorruption("truncated trailer")
	}
	if p.NumBlocks, ok = s.GetVarint64(); !ok {
		return sstCorruption("truncated trailer")
	}
	if s.Remaining() != 0 {
		return sstCorruption("trailing bytes after trailer")
	}
	p.SmallestKey = bytes.Clone(p.SmallestKey)
	p.LargestKey = bytes.Clone(p.LargestKey)
	return nil
}

// recordKind returns the kind byte of an SST record.
func recordKind(rec []byte) byte {
	if len(rec) == 0 {
		return 0
	}
	return rec[0]
}
