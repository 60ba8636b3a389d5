package record

import (
	"io"

	"github.com/aalhour/treekv/internal/checksum"
	"github.com/aalhour/treekv/internal/encoding"
)

// Writer appends framed records to dest.
type Writer struct {
	dest        io.Writer
	blockOffset int

	typeCRC   [maxRecordType + 1]uint32
	headerBuf [HeaderSize]byte
}

// NewWriter returns a Writer appending to dest, which already holds offset
// bytes of log. Pass 0 for a new log.
func NewWriter(dest io.Writer, offset int64) *Writer {
	w := &Writer{
		dest:        dest,
		blockOffset: int(offset % BlockSize),
	}
	for i := 0; i <= int(maxRecordType); i++ {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}
	return w
}

// AddRecord writes one logical record and returns the bytes written,
// headers and padding included. An empty record still produces a fragment.
// On error the log ends in a torn record that readers detect.
func (w *Writer) AddRecord(data []byte) (int, error) {
	ptr := data
	left := len(data)
	total := 0
	begin := true

	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			if leftover > 0 {
				n, err := w.dest.Write(make([]byte, leftover))
				total += n
				if err != nil {
					return total, err
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		fragment := min(left, avail)
		end := left == fragment

		var t RecordType
		switch {
		case begin && end:
			t = FullType
		case begin:
			t = FirstType
		case end:
			t = LastType
		default:
			t = MiddleType
		}

		n, err := w.emit(t, ptr[:fragment])
		total += n
		if err != nil {
			return total, err
		}

		ptr = ptr[fragment:]
		left -= fragment
		begin = false
		if left == 0 {
			return total, nil
		}
	}
}

func (w *Writer) emit(t RecordType, payload []byte) (int, error) {
	n := len(payload)
	w.headerBuf[4] = byte(n & 0xff)
	w.headerBuf[5] = byte(n >> 8)
	w.headerBuf[6] = byte(t)

	crc := checksum.Mask(checksum.Extend(w.typeCRC[t], payload))
	copy(w.headerBuf[:4], encoding.AppendFixed32(nil, crc))

	// Header and payload go out in one write so a failed append leaves at
	// most one torn fragment.
	buf := make([]byte, 0, HeaderSize+n)
	buf = append(buf, w.headerBuf[:]...)
	buf = append(buf, payload...)
	written, err := w.dest.Write(buf)
	if err != nil {
		return written, err
	}
	w.blockOffset += HeaderSize + n
	return written, nil
}

// BlockOffset returns the current offset within the current block.
func (w *Writer) BlockOffset() int {
	return w.blockOffset
}
