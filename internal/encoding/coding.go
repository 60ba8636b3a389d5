// Package encoding holds the byte-level primitives shared by the commit log,
// the write batch and the SST format.
//
// Fixed-width integers are little-endian. Varints use the 7-bit, MSB
// continuation encoding of encoding/binary. Length-prefixed slices are a
// varint length followed by the bytes.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint64Length is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Length = binary.MaxVarintLen64

var (
	// ErrBufferTooSmall is returned when the input ends early.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint exceeds its width.
	ErrVarintOverflow = errors.New("encoding: varint overflow")
)

// AppendFixed16 appends v as 2 little-endian bytes.
func AppendFixed16(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

// AppendFixed32 appends v as 4 little-endian bytes.
func AppendFixed32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// AppendFixed64 appends v as 8 little-endian bytes.
func AppendFixed64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// EncodeFixed64 writes v into dst[:8].
func EncodeFixed64(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

// DecodeFixed32 decodes src[:4].
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// DecodeFixed64 decodes src[:8].
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendVarint32 appends v as a varint.
func AppendVarint32(dst []byte, v uint32) []byte {
	return binary.AppendUvarint(dst, uint64(v))
}

// AppendVarint64 appends v as a varint.
func AppendVarint64(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// DecodeVarint64 decodes a varint from the front of src.
func DecodeVarint64(src []byte) (uint64, int, error) {
	v, n := binary.Uvarint(src)
	switch {
	case n == 0:
		return 0, 0, ErrBufferTooSmall
	case n < 0:
		return 0, 0, ErrVarintOverflow
	}
	return v, n, nil
}

// VarintLength returns the encoded size of v.
func VarintLength(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendLengthPrefixedSlice appends len(value) as a varint, then value.
func AppendLengthPrefixedSlice(dst, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// Slice is a forward-only reader over an encoded buffer. Returned byte
// slices alias the buffer.
type Slice struct {
	data []byte
}

// NewSlice returns a reader over data.
func NewSlice(data []byte) *Slice {
	return &Slice{data: data}
}

// Remaining returns the number of unread bytes.
func (s *Slice) Remaining() int {
	return len(s.data)
}

// Data returns the unread bytes.
func (s *Slice) Data() []byte {
	return s.data
}

// GetByte reads one byte.
func (s *Slice) GetByte() (byte, bool) {
	if len(s.data) < 1 {
		return 0, false
	}
	b := s.data[0]
	s.data = s.data[1:]
	return b, true
}

// GetFixed32 reads 4 little-endian bytes.
func (s *Slice) GetFixed32() (uint32, bool) {
	if len(s.data) < 4 {
		return 0, false
	}
	v := DecodeFixed32(s.data)
	s.data = s.data[4:]
	return v, true
}

// GetFixed64 reads 8 little-endian bytes.
func (s *Slice) GetFixed64() (uint64, bool) {
	if len(s.data) < 8 {
		return 0, false
	}
	v := DecodeFixed64(s.data)
	s.data = s.data[8:]
	return v, true
}

// GetVarint32 reads a varint that must fit in 32 bits.
func (s *Slice) GetVarint32() (uint32, bool) {
	v, ok := s.GetVarint64()
	if !ok || v > 0xffffffff {
		return 0, false
	}
	return uint32(v), true
}

// GetVarint64 reads a varint.
func (s *Slice) GetVarint64() (uint64, bool) {
	v, n, err := DecodeVarint64(s.data)
	if err != nil {
		return 0, false
	}
	s.data = s.data[n:]
	return v, true
}

// GetLengthPrefixedSlice reads a varint length and that many bytes.
func (s *Slice) GetLengthPrefixedSlice() ([]byte, bool) {
	n, ok := s.GetVarint32()
	if !ok {
		return nil, false
	}
	return s.GetBytes(int(n))
}

// GetBytes reads n bytes.
func (s *Slice) GetBytes(n int) ([]byte, bool) {
	if n < 0 || len(s.data) < n {
		return nil, false
	}
	b := s.data[:n]
	s.data = s.data[n:]
	return b, true
}
