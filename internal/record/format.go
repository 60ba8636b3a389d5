// Package record implements the framed log format shared by the commit log
// and SST files.
//
// A log is a sequence of 32 KiB blocks. A logical record is split into one or
// more physical fragments, none of which crosses a block boundary:
//
//	+---------+-----------+-----------+--- ... ---+
//	| CRC (4) | Size (2)  | Type (1)  | Payload   |
//	+---------+-----------+-----------+--- ... ---+
//
// CRC is the masked CRC32C of the type byte and the payload. A block tail too
// short to hold a header is zero-filled.
package record

// RecordType is the fragment type byte.
type RecordType uint8

const (
	// FullType is a record stored in one fragment.
	FullType RecordType = 1
	// FirstType is the first fragment of a record.
	FirstType RecordType = 2
	// MiddleType is an interior fragment.
	MiddleType RecordType = 3
	// LastType is the final fragment.
	LastType RecordType = 4
)

const (
	// BlockSize is the size of each log block.
	BlockSize = 32768

	// HeaderSize is the size of a fragment header.
	HeaderSize = 7

	maxRecordType = LastType
)
