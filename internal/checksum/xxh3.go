package checksum

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// XXH3 returns the 64-bit XXH3 hash of data.
func XXH3(data []byte) uint64 {
	return xxh3.Hash(data)
}

// XXH3WithLastByte returns the low 32 bits of XXH3 over data followed by
// lastByte. SST blocks pass their compression type as lastByte so a block
// decoded with the wrong codec fails its checksum.
func XXH3WithLastByte(data []byte, lastByte byte) uint32 {
	h := xxh3.New()
	_, _ = h.Write(data)
	_, _ = h.Write([]byte{lastByte})
	return uint32(h.Sum64())
}

// AppendXXH3 appends XXH3WithLastByte(data, lastByte) as 4 little-endian bytes.
func AppendXXH3(dst, data []byte, lastByte byte) []byte {
	return binary.LittleEndian.AppendUint32(dst, XXH3WithLastByte(data, lastByte))
}
