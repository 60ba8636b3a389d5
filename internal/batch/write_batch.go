// Package batch implements the encoded form of a write batch: the unit the
// tree store appends to its commit log and applies atomically.
//
// Format:
//
//	Header (12 bytes):
//	  - 8 bytes: sequence number (little-endian uint64)
//	  - 4 bytes: count (little-endian uint32)
//	Records (repeated):
//	  - 1 byte: tag
//	  - for column family tags: varint32 column family id
//	  - length-prefixed key
//	  - for values and range deletions: length-prefixed value or end key
//
// Records for column family 0 use the short tags without an id.
package batch

import (
	"encoding/binary"
	"errors"

	"github.com/aalhour/treekv/internal/encoding"
)

// HeaderSize is the size of the batch header.
const HeaderSize = 12

// Record tags.
const (
	TypeDeletion                  byte = 0x00
	TypeValue                     byte = 0x01
	TypeColumnFamilyDeletion      byte = 0x04
	TypeColumnFamilyValue         byte = 0x05
	TypeColumnFamilyRangeDeletion byte = 0x0E
	TypeRangeDeletion             byte = 0x0F
)

var (
	// ErrCorrupted indicates a malformed batch.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")

	// ErrNoSavePoint is returned by PopSavePoint and RollbackToSavePoint when
	// no save point is set.
	ErrNoSavePoint = errors.New("batch: no save point")
)

type savePoint struct {
	size  int
	count uint32
}

// WriteBatch is an encoded, append-only list of operations.
type WriteBatch struct {
	data       []byte
	savePoints []savePoint
}

// New creates an empty batch.
func New() *WriteBatch {
	return NewWithCap(0)
}

// NewWithCap creates an empty batch whose buffer can hold capacity bytes of
// records without growing.
func NewWithCap(capacity int) *WriteBatch {
	return &WriteBatch{data: make([]byte, HeaderSize, HeaderSize+capacity)}
}

// NewFromData wraps an encoded batch. The batch takes ownership of data.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Clear drops every record and every save point.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	clear(wb.data)
	wb.savePoints = wb.savePoints[:0]
}

// Data returns the encoded batch. It aliases the internal buffer.
func (wb *WriteBatch) Data() []byte {
	return wb.data
}

// Size returns the encoded size in bytes.
func (wb *WriteBatch) Size() int {
	return len(wb.data)
}

// Count returns the number of records.
func (wb *WriteBatch) Count() uint32 {
	return binary.LittleEndian.Uint32(wb.data[8:12])
}

func (wb *WriteBatch) setCount(count uint32) {
	binary.LittleEndian.PutUint32(wb.data[8:12], count)
}

// Sequence returns the sequence number stamped on the batch.
func (wb *WriteBatch) Sequence() uint64 {
	return binary.LittleEndian.Uint64(wb.data[0:8])
}

// SetSequence stamps the batch with seq.
func (wb *WriteBatch) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(wb.data[0:8], seq)
}

// Put appends a put of key to value in column family cfID.
func (wb *WriteBatch) Put(cfID uint32, key, value []byte) {
	if cfID == 0 {
		wb.appendRecord(TypeValue, 0, key, value, true)
		return
	}
	wb.appendRecord(TypeColumnFamilyValue, cfID, key, value, true)
}

// Delete appends a delete of key in column family cfID.
func (wb *WriteBatch) Delete(cfID uint32, key []byte) {
	if cfID == 0 {
		wb.appendRecord(TypeDeletion, 0, key, nil, false)
		return
	}
	wb.appendRecord(TypeColumnFamilyDeletion, cfID, key, nil, false)
}

// DeleteRange appends a delete of every key in [begin, end) of column
// family cfID.
func (wb *WriteBatch) DeleteRange(cfID uint32, begin, end []byte) {
	if cfID == 0 {
		wb.appendRecord(TypeRangeDeletion, 0, begin, end, true)
		return
	}
	wb.appendRecord(TypeColumnFamilyRangeDeletion, cfID, begin, end, true)
}

func (wb *WriteBatch) appendRecord(tag byte, cfID uint32, key, value []byte, hasValue bool) {
	wb.data = append(wb.data, tag)
	if tag == TypeColumnFamilyValue || tag == TypeColumnFamilyDeletion || tag == TypeColumnFamilyRangeDeletion {
		wb.data = encoding.AppendVarint32(wb.data, cfID)
	}
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	if hasValue {
		wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	}
	wb.setCount(wb.Count() + 1)
}

// SetSavePoint records the current end of the batch.
func (wb *WriteBatch) SetSavePoint() {
	wb.savePoints = append(wb.savePoints, savePoint{size: len(wb.data), count: wb.Count()})
}

// PopSavePoint removes the most recent save point without touching records.
func (wb *WriteBatch) PopSavePoint() error {
	if len(wb.savePoints) == 0 {
		return ErrNoSavePoint
	}
	wb.savePoints = wb.savePoints[:len(wb.savePoints)-1]
	return nil
}

// RollbackToSavePoint drops every record appended since the most recent
// save point and removes that save point.
func (wb *WriteBatch) RollbackToSavePoint() error {
	if len(wb.savePoints) == 0 {
		return ErrNoSavePoint
	}
	sp := wb.savePoints[len(wb.savePoints)-1]
	wb.savePoints = wb.savePoints[:len(wb.savePoints)-1]
	wb.data = wb.data[:sp.size]
	wb.setCount(sp.count)
	return nil
}

// SavePoints returns the depth of the save point stack.
func (wb *WriteBatch) SavePoints() int {
	return len(wb.savePoints)
}

// Handler receives the records of a batch in order.
type Handler interface {
	Put(cfID uint32, key, value []byte) error
	Delete(cfID uint32, key []byte) error
	DeleteRange(cfID uint32, begin, end []byte) error
}

// Iterate calls handler for each record in order. Slices passed to the
// handler alias the batch buffer.
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}

	s := encoding.NewSlice(wb.data[HeaderSize:])
	var found uint32
	for s.Remaining() > 0 {
		tag, _ := s.GetByte()

		var cfID uint32
		switch tag {
		case TypeColumnFamilyValue, TypeColumnFamilyDeletion, TypeColumnFamilyRangeDeletion:
			id, ok := s.GetVarint32()
			if !ok {
				return ErrCorrupted
			}
			cfID = id
		case TypeValue, TypeDeletion, TypeRangeDeletion:
		default:
			return ErrCorrupted
		}

		key, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return ErrCorrupted
		}

		var err error
		switch tag {
		case TypeValue, TypeColumnFamilyValue:
			value, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return ErrCorrupted
			}
			err = handler.Put(cfID, key, value)
		case TypeDeletion, TypeColumnFamilyDeletion:
			err = handler.Delete(cfID, key)
		case TypeRangeDeletion, TypeColumnFamilyRangeDeletion:
			end, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return ErrCorrupted
			}
			err = handler.DeleteRange(cfID, key, end)
		}
		if err != nil {
			return err
		}
		found++
	}

	if found != wb.Count() {
		return ErrCorrupted
	}
	return nil
}
