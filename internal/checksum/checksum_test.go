package checksum

import (
	"bytes"
	"testing"
)

func TestCRC32C_KnownValues(t *testing.T) {
	// Test vectors from RFC 3720, section B.4.
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"zeros", make([]byte, 32), 0x8a9136aa},
		{"ones", bytes.Repeat([]byte{0xff}, 32), 0x62a8ab43},
		{"123456789", []byte("123456789"), 0xe3069283},
	}
	for _, tt := range tests {
		if got := Value(tt.data); got != tt.want {
			t.Errorf("%s: Value = %#x, want %#x", tt.name, got, tt.want)
		}
	}
}

func TestCRC32C_Extend(t *testing.T) {
	if Value([]byte("hello world")) != Extend(Value([]byte("hello ")), []byte("world")) {
		t.Error("Extend must equal Value of the concatenation")
	}
}

func TestMask(t *testing.T) {
	crc := Value([]byte("foo"))
	if Mask(crc) == crc {
		t.Error("masked CRC should differ from raw CRC")
	}
	if Mask(Mask(crc)) == crc {
		t.Error("double mask should not round trip")
	}
	if Unmask(Mask(crc)) != crc {
		t.Error("Unmask(Mask(crc)) != crc")
	}
	if MaskedValue([]byte("foo")) != Mask(crc) {
		t.Error("MaskedValue mismatch")
	}
}

func TestXXH3WithLastByte(t *testing.T) {
	data := []byte("block contents")
	a := XXH3WithLastByte(data, 0)
	if a != XXH3WithLastByte(data, 0) {
		t.Fatal("hash is not deterministic")
	}
	if a == XXH3WithLastByte(data, 1) {
		t.Error("last byte must change the checksum")
	}
	if a != uint32(XXH3(append(append([]byte{}, data...), 0))) {
		t.Error("streaming hash must match one-shot hash of the concatenation")
	}
	buf := AppendXXH3([]byte{9}, data, 0)
	if len(buf) != 5 || buf[0] != 9 {
		t.Errorf("AppendXXH3 = %x", buf)
	}
}
