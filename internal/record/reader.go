package record

import (
	"errors"
	"io"

	"github.com/aalhour/treekv/internal/checksum"
	"github.com/aalhour/treekv/internal/encoding"
)

var (
	// ErrCorruptedRecord indicates a fragment with a bad checksum, length or type.
	ErrCorruptedRecord = errors.New("record: corrupted record")

	// ErrUnexpectedEOF indicates a log that ends inside a record.
	ErrUnexpectedEOF = errors.New("record: unexpected end of log")

	// ErrFragmentOrder indicates fragments that do not form a record.
	ErrFragmentOrder = errors.New("record: fragments out of order")
)

// Reader reads logical records written by Writer.
//
// Any error other than io.EOF means the log is damaged from that point on.
// LastRecordEnd reports where the intact prefix ends so the caller can
// truncate a torn tail.
type Reader struct {
	src io.Reader

	block      []byte
	buf        []byte // unread part of block
	blockStart int64  // file offset of block[0]
	eof        bool

	lastRecordEnd int64
}

// NewReader returns a Reader over src, positioned at the start of a log.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, block: make([]byte, 0, BlockSize)}
}

// ReadRecord returns the next logical record. It returns io.EOF after the
// last intact record of a cleanly ended log.
func (r *Reader) ReadRecord() ([]byte, error) {
	var scratch []byte
	inFragment := false

	for {
		t, payload, err := r.readPhysical()
		if err != nil {
			if errors.Is(err, io.EOF) && inFragment {
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}

		switch t {
		case FullType:
			if inFragment {
				return nil, ErrFragmentOrder
			}
			r.lastRecordEnd = r.offset()
			return append([]byte(nil), payload...), nil

		case FirstType:
			if inFragment {
				return nil, ErrFragmentOrder
			}
			inFragment = true
			scratch = append(scratch[:0], payload...)

		case MiddleType:
			if !inFragment {
				return nil, ErrFragmentOrder
			}
			scratch = append(scratch, payload...)

		case LastType:
			if !inFragment {
				return nil, ErrFragmentOrder
			}
			r.lastRecordEnd = r.offset()
			return append(scratch, payload...), nil
		}
	}
}

// LastRecordEnd returns the log offset just past the last record returned
// by ReadRecord.
func (r *Reader) LastRecordEnd() int64 {
	return r.lastRecordEnd
}

func (r *Reader) offset() int64 {
	return r.blockStart + int64(len(r.block)-len(r.buf))
}

func (r *Reader) readPhysical() (RecordType, []byte, error) {
	for {
		if len(r.buf) < HeaderSize {
			if len(r.buf) > 0 {
				// Only a full block may end in zero padding.
				if len(r.block) < BlockSize {
					return 0, nil, ErrUnexpectedEOF
				}
				if !allZero(r.buf) {
					return 0, nil, ErrCorruptedRecord
				}
			}
			if r.eof {
				return 0, nil, io.EOF
			}
			if err := r.nextBlock(); err != nil {
				return 0, nil, err
			}
			continue
		}

		h := r.buf[:HeaderSize]
		length := int(h[4]) | int(h[5])<<8
		t := RecordType(h[6])

		if HeaderSize+length > len(r.buf) {
			if len(r.block) < BlockSize {
				return 0, nil, ErrUnexpectedEOF
			}
			return 0, nil, ErrCorruptedRecord
		}
		if t < FullType || t > maxRecordType {
			return 0, nil, ErrCorruptedRecord
		}

		payload := r.buf[HeaderSize : HeaderSize+length]
		want := checksum.Unmask(encoding.DecodeFixed32(h[:4]))
		if checksum.Extend(checksum.Value([]byte{byte(t)}), payload) != want {
			return 0, nil, ErrCorruptedRecord
		}

		r.buf = r.buf[HeaderSize+length:]
		return t, payload, nil
	}
}

func (r *Reader) nextBlock() error {
	r.blockStart += int64(len(r.block))
	r.block = r.block[:BlockSize]
	n, err := io.ReadFull(r.src, r.block)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		r.eof = true
	default:
		return err
	}
	r.block = r.block[:n]
	r.buf = r.block
	if n == 0 {
		return io.EOF
	}
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
