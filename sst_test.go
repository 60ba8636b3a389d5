package treekv

// sst_test.go implements tests for the SST writer and reader.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aalhour/treekv/internal/logging"
)

func newTestSstWriter(t *testing.T, path string) *SstWriter {
	t.Helper()
	w, err := NewSstWriterBuilder().SetLogger(logging.Discard).Build(path)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return w
}

// =============================================================================
// Writer
// =============================================================================

func TestSstWriter_PutAndFinish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sst")
	w := newTestSstWriter(t, path)

	for i := range 3 {
		if err := w.Put(fmt.Appendf(nil, "key%d", i), []byte("value")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	info, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if info.NumEntries != 3 {
		t.Errorf("NumEntries = %d, want 3", info.NumEntries)
	}
	if !bytes.Equal(info.SmallestKey, []byte("key0")) || !bytes.Equal(info.LargestKey, []byte("key2")) {
		t.Errorf("key range = [%q, %q]", info.SmallestKey, info.LargestKey)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("SST file was not created: %v", err)
	}
	if info.FileSize != uint64(st.Size()) {
		t.Errorf("FileSize = %d, stat says %d", info.FileSize, st.Size())
	}
	if info.FilePath != path {
		t.Errorf("FilePath = %q", info.FilePath)
	}
}

func TestSstWriter_KeyOrder(t *testing.T) {
	w := newTestSstWriter(t, filepath.Join(t.TempDir(), "test.sst"))
	defer w.Abandon()

	if err := w.Put([]byte("b"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"b", "a"} {
		err := w.Put([]byte(k), []byte("2"))
		if !errors.Is(err, ErrKeyOrder) {
			t.Errorf("Put(%q) = %v, want ErrKeyOrder", k, err)
		}
		if err != nil && err.Error() != "keys must be added in order" {
			t.Errorf("message = %q", err.Error())
		}
	}
	if err := w.Delete([]byte("a")); !errors.Is(err, ErrKeyOrder) {
		t.Errorf("Delete out of order = %v", err)
	}
	// The rejected keys left no trace.
	if err := w.Put([]byte("c"), []byte("3")); err != nil {
		t.Fatalf("Put after rejection failed: %v", err)
	}
	if w.props.NumEntries != 2 {
		t.Errorf("entries = %d, want 2", w.props.NumEntries)
	}
}

func TestSstWriter_FinishEmpty(t *testing.T) {
	w := newTestSstWriter(t, filepath.Join(t.TempDir(), "test.sst"))
	defer w.Abandon()

	_, err := w.Finish()
	if Kind(err) != KindEngine || err.Error() != "treekv: can't create sst with no entries" {
		t.Fatalf("Finish on empty writer = %v", err)
	}
	if err := w.Put([]byte("a"), nil); err != nil {
		t.Fatalf("writer unusable after empty Finish: %v", err)
	}
	if _, err := w.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
}

func TestSstWriter_Abandon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sst")
	w := newTestSstWriter(t, path)
	_ = w.Put([]byte("a"), []byte("1"))
	if err := w.Abandon(); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial file still exists: %v", err)
	}
	if err := w.Put([]byte("b"), nil); Kind(err) != KindEngine {
		t.Errorf("Put after Abandon = %v", err)
	}
}

func TestSstWriter_UnknownCF(t *testing.T) {
	e := openTestEngine(t)
	_, err := NewSstWriterBuilder().SetDB(e).SetCF("nope").Build(filepath.Join(t.TempDir(), "x.sst"))
	if Kind(err) != KindCFName {
		t.Fatalf("Build for unknown cf = %v", err)
	}
}

func TestSstWriter_FileSizeGrows(t *testing.T) {
	w := newTestSstWriter(t, filepath.Join(t.TempDir(), "test.sst"))
	defer w.Abandon()
	before := w.FileSize()
	for i := range 200 {
		if err := w.Put(fmt.Appendf(nil, "key%05d", i), bytes.Repeat([]byte("v"), 100)); err != nil {
			t.Fatal(err)
		}
	}
	if w.FileSize() <= before {
		t.Errorf("FileSize did not grow past %d after cutting blocks", before)
	}
}

// =============================================================================
// Reader
// =============================================================================

func TestSst_RoundTripAllCompressions(t *testing.T) {
	types := []CompressionType{
		NoCompression, SnappyCompression, ZlibCompression,
		LZ4Compression, LZ4HCCompression, ZstdCompression,
	}
	for _, ct := range types {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.sst")
			w, err := NewSstWriterBuilder().
				SetCF(CFWrite).
				SetCompressionType(ct).
				SetLogger(logging.Discard).
				Build(path)
			if err != nil {
				t.Fatal(err)
			}
			const n = 1000
			for i := range n {
				key := fmt.Appendf(nil, "key%05d", i)
				if i%10 == 0 {
					err = w.Delete(key)
				} else {
					err = w.Put(key, fmt.Appendf(nil, "value-%d-%s", i, bytes.Repeat([]byte("x"), 20)))
				}
				if err != nil {
					t.Fatal(err)
				}
			}
			if _, err := w.Finish(); err != nil {
				t.Fatal(err)
			}

			r, err := OpenSstReader(path)
			if err != nil {
				t.Fatalf("OpenSstReader failed: %v", err)
			}
			defer r.Close()
			if err := r.VerifyChecksum(); err != nil {
				t.Fatalf("VerifyChecksum failed: %v", err)
			}

			props := r.Properties()
			if r.CF() != CFWrite || props.Compression != ct || props.NumEntries != n {
				t.Errorf("properties = %+v", props)
			}
			if props.NumBlocks < 2 {
				t.Errorf("NumBlocks = %d, want several", props.NumBlocks)
			}

			it, err := r.NewIteratorCF(CFWrite, nil)
			if err != nil {
				t.Fatal(err)
			}
			defer it.Close()
			i := 0
			ok, err := it.Seek(SeekStart)
			for ; ok; ok, err = it.Next() {
				want := fmt.Sprintf("key%05d", i)
				if string(it.Key()) != want {
					t.Fatalf("entry %d key = %q, want %q", i, it.Key(), want)
				}
				if tomb := it.(*CursorIterator).Tombstone(); tomb != (i%10 == 0) {
					t.Fatalf("entry %d tombstone = %v", i, tomb)
				}
				i++
			}
			if err != nil || i != n {
				t.Fatalf("iterated %d entries, err %v", i, err)
			}
		})
	}
}

func TestSst_FinishRead(t *testing.T) {
	w, err := NewSstWriterBuilder().SetInMemory(true).SetLogger(logging.Discard).Build("mem.sst")
	if err != nil {
		t.Fatal(err)
	}
	putAll(t, sstMutable{w}, CFDefault, "a", "b", "c")
	info, rd, err := w.FinishRead()
	if err != nil {
		t.Fatalf("FinishRead failed: %v", err)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(data)) != info.FileSize {
		t.Errorf("read %d bytes, FileSize %d", len(data), info.FileSize)
	}

	r, err := NewSstReaderFromBytes("mem.sst", data)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.VerifyChecksum(); err != nil {
		t.Fatal(err)
	}
	it, _ := r.NewIterator(nil)
	if got := collectBackward(t, it); len(got) != 3 || got[0] != "c" {
		t.Errorf("backward = %v", got)
	}

	fileWriter := newTestSstWriter(t, filepath.Join(t.TempDir(), "f.sst"))
	defer fileWriter.Abandon()
	if _, _, err := fileWriter.FinishRead(); Kind(err) != KindEngine {
		t.Errorf("FinishRead on a file writer = %v", err)
	}
}

// sstMutable lets putAll fill an SstWriter.
type sstMutable struct{ w *SstWriter }

func (m sstMutable) Put(k, v []byte) error                     { return m.w.Put(k, v) }
func (m sstMutable) PutCF(_ string, k, v []byte) error         { return m.w.Put(k, v) }
func (m sstMutable) Delete(k []byte) error                     { return m.w.Delete(k) }
func (m sstMutable) DeleteCF(_ string, k []byte) error         { return m.w.Delete(k) }
func (m sstMutable) DeleteRange(_, _ []byte) error             { return ErrInvalidRange }
func (m sstMutable) DeleteRangeCF(_ string, _, _ []byte) error { return ErrInvalidRange }

func writeTestSst(t *testing.T, path string, n int) ExternalSstFileInfo {
	t.Helper()
	w := newTestSstWriter(t, path)
	for i := range n {
		if err := w.Put(fmt.Appendf(nil, "key%05d", i), bytes.Repeat([]byte("v"), 50)); err != nil {
			t.Fatal(err)
		}
	}
	info, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return info
}

func TestSstReader_DetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sst")
	writeTestSst(t, path, 300)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSstReader(path); !errors.Is(err, ErrCorruption) {
		t.Errorf("OpenSstReader on a flipped byte = %v, want ErrCorruption", err)
	}
}

func TestSstReader_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sst")
	info := writeTestSst(t, path, 300)
	if err := os.Truncate(path, int64(info.FileSize)-3); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSstReader(path); !errors.Is(err, ErrCorruption) {
		t.Errorf("OpenSstReader on a truncated file = %v, want ErrCorruption", err)
	}
	if _, err := OpenSstReader(filepath.Join(t.TempDir(), "missing.sst")); Kind(err) != KindIO {
		t.Errorf("OpenSstReader on a missing file = %v, want Io", err)
	}
}

func TestSstReader_VerifyChecksumCatchesBlockDamage(t *testing.T) {
	payload := bytes.Repeat([]byte("p"), 10)
	rec, err := encodeBlock(NoCompression, 0, appendEntry(nil, []byte("k"), payload, false))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeBlock(rec, true); err != nil {
		t.Fatalf("intact block: %v", err)
	}
	rec[len(rec)-1] ^= 0x01
	if _, err := decodeBlock(rec, false); err != nil {
		t.Errorf("unverified decode must not check xxh3: %v", err)
	}
	if _, err := decodeBlock(rec, true); !errors.Is(err, ErrCorruption) {
		t.Errorf("verified decode = %v, want ErrCorruption", err)
	}
}
