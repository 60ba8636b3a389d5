package treekv

// engine_tree_test.go implements tests for the tree engine.

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/vfs"
)

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Logger = logging.Discard
	return opts
}

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	return openTestEngineAt(t, filepath.Join(t.TempDir(), "db"), testOptions())
}

func openTestEngineAt(t *testing.T, path string, opts *Options) *Engine {
	t.Helper()
	e, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mustGet(t *testing.T, p Peekable, cf, key string) string {
	t.Helper()
	v, err := p.GetCF(cf, []byte(key))
	if err != nil {
		t.Fatalf("GetCF(%s, %s) failed: %v", cf, key, err)
	}
	return string(v)
}

func assertNotFound(t *testing.T, p Peekable, cf, key string) {
	t.Helper()
	if v, err := p.GetCF(cf, []byte(key)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCF(%s, %s) = %q, %v; want ErrNotFound", cf, key, v, err)
	}
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

// =============================================================================
// Open
// =============================================================================

func TestOpen_MissingDirectory(t *testing.T) {
	opts := testOptions()
	opts.CreateIfMissing = false
	_, err := Open(filepath.Join(t.TempDir(), "missing"), opts)
	if Kind(err) != KindIO {
		t.Fatalf("Open err = %v (kind %s), want Io", err, Kind(err))
	}
}

func TestOpen_ErrorIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	e, err := Open(path, testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = e.Close()

	opts := testOptions()
	opts.ErrorIfExists = true
	if _, err := Open(path, opts); Kind(err) != KindEngine {
		t.Fatalf("Open err = %v, want engine error", err)
	}
	if !Exists(path) {
		t.Error("Exists = false for an engine directory")
	}
}

func TestOpen_NilOptions(t *testing.T) {
	e := openTestEngineAt(t, filepath.Join(t.TempDir(), "db"), nil)
	names := e.CFNames()
	for _, cf := range AllCFs {
		if !slices.Contains(names, cf) {
			t.Errorf("CFNames() = %v, missing %s", names, cf)
		}
	}
}

// =============================================================================
// Point operations
// =============================================================================

func TestEngine_PutGetDelete(t *testing.T) {
	e := openTestEngine(t)

	if err := e.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := e.PutCF(CFWrite, []byte("k1"), []byte("w1")); err != nil {
		t.Fatalf("PutCF failed: %v", err)
	}
	if got := mustGet(t, e, CFDefault, "k1"); got != "v1" {
		t.Errorf("default k1 = %q", got)
	}
	if got := mustGet(t, e, CFWrite, "k1"); got != "w1" {
		t.Errorf("write k1 = %q", got)
	}
	if v, err := e.GetOpt(DefaultReadOptions(), CFDefault, []byte("k1")); err != nil || string(v) != "v1" {
		t.Errorf("GetOpt = %q, %v", v, err)
	}

	if err := e.Delete([]byte("k1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	assertNotFound(t, e, CFDefault, "k1")
	if got := mustGet(t, e, CFWrite, "k1"); got != "w1" {
		t.Error("Delete on default touched write")
	}
	if err := e.DeleteCF(CFLock, []byte("never-written")); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
}

func TestEngine_GetReturnsCopy(t *testing.T) {
	e := openTestEngine(t)
	if err := e.Put([]byte("k"), []byte("value")); err != nil {
		t.Fatal(err)
	}
	v, _ := e.Get([]byte("k"))
	v[0] = 'X'
	if got := mustGet(t, e, CFDefault, "k"); got != "value" {
		t.Errorf("mutating a returned value changed the store: %q", got)
	}
}

func TestEngine_UnknownCF(t *testing.T) {
	e := openTestEngine(t)
	checks := map[string]error{
		"GetCF":         func() error { _, err := e.GetCF("nope", []byte("k")); return err }(),
		"PutCF":         e.PutCF("nope", []byte("k"), []byte("v")),
		"DeleteCF":      e.DeleteCF("nope", []byte("k")),
		"DeleteRangeCF": e.DeleteRangeCF("nope", []byte("a"), []byte("b")),
		"NewIteratorCF": func() error { _, err := e.NewIteratorCF("nope", nil); return err }(),
		"FlushCF":       e.FlushCF("nope", false),
	}
	for op, err := range checks {
		var cfErr *CFNameError
		if !errors.As(err, &cfErr) || cfErr.Name != "nope" {
			t.Errorf("%s err = %v, want CFNameError{nope}", op, err)
		}
	}
}

func TestEngine_EmptyKeyAndValue(t *testing.T) {
	e := openTestEngine(t)
	if err := e.Put([]byte{}, []byte{}); err != nil {
		t.Fatalf("Put empty failed: %v", err)
	}
	v, err := e.Get(nil)
	if err != nil || len(v) != 0 {
		t.Fatalf("Get empty = %q, %v", v, err)
	}
}

// =============================================================================
// Range deletion
// =============================================================================

func TestEngine_DeleteRange(t *testing.T) {
	e := openTestEngine(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := e.PutCF(CFWrite, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.DeleteRangeCF(CFWrite, []byte("b"), []byte("d")); err != nil {
		t.Fatalf("DeleteRangeCF failed: %v", err)
	}
	for _, k := range []string{"a", "d", "e"} {
		mustGet(t, e, CFWrite, k)
	}
	for _, k := range []string{"b", "c"} {
		assertNotFound(t, e, CFWrite, k)
	}

	if err := e.DeleteRangeCF(CFWrite, []byte("e"), []byte("a")); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("reversed range err = %v, want ErrInvalidRange", err)
	}
	if err := e.DeleteRangeCF(CFWrite, []byte("d"), []byte("d")); err != nil {
		t.Errorf("empty range err = %v", err)
	}
	mustGet(t, e, CFWrite, "d")
}

func TestEngine_DeleteRangesCF(t *testing.T) {
	e := openTestEngine(t)
	for i := range 10 {
		if err := e.Put(fmt.Appendf(nil, "k%d", i), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	seq := e.LatestSequenceNumber()
	err := e.DeleteRangesCF(CFDefault, []Range{
		{Start: []byte("k1"), End: []byte("k3")},
		{Start: []byte("k7"), End: []byte("k9")},
	})
	if err != nil {
		t.Fatalf("DeleteRangesCF failed: %v", err)
	}
	if got := e.LatestSequenceNumber(); got != seq+1 {
		t.Errorf("DeleteRangesCF used %d commits, want 1", got-seq)
	}
	for i := range 10 {
		key := fmt.Sprintf("k%d", i)
		deleted := (i >= 1 && i < 3) || (i >= 7 && i < 9)
		_, err := e.Get([]byte(key))
		if deleted != errors.Is(err, ErrNotFound) {
			t.Errorf("%s: deleted=%v, Get err=%v", key, deleted, err)
		}
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestEngine_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	e, err := Open(path, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	for i := range 100 {
		if err := e.PutCF(CFRaft, fmt.Appendf(nil, "key%03d", i), fmt.Appendf(nil, "val%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.DeleteRangeCF(CFRaft, []byte("key010"), []byte("key020")); err != nil {
		t.Fatal(err)
	}
	seq := e.LatestSequenceNumber()
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e = openTestEngineAt(t, path, testOptions())
	if got := e.LatestSequenceNumber(); got != seq {
		t.Errorf("sequence after reopen = %d, want %d", got, seq)
	}
	if got := mustGet(t, e, CFRaft, "key099"); got != "val99" {
		t.Errorf("key099 = %q", got)
	}
	assertNotFound(t, e, CFRaft, "key015")
}

func TestEngine_CloneRefCount(t *testing.T) {
	e := openTestEngine(t)
	c := e.Clone()

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if _, err := e.Get([]byte("k")); !errors.Is(err, ErrClosed) {
		t.Errorf("Get on closed handle = %v, want ErrClosed", err)
	}

	if err := c.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("clone stopped working after the original closed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("last Close failed: %v", err)
	}

	// The last Close released the directory lock.
	e2 := openTestEngineAt(t, e.Path(), testOptions())
	if got := mustGet(t, e2, CFDefault, "k"); got != "v" {
		t.Errorf("k = %q", got)
	}
}

func TestEngine_WriteFailureStopsWrites(t *testing.T) {
	fs := vfs.NewFaultInjectionFS(vfs.Default())
	opts := testOptions()
	opts.FS = fs
	e := openTestEngineAt(t, filepath.Join(t.TempDir(), "db"), opts)

	if err := e.Put([]byte("ok"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	fs.InjectWriteError("COMMITLOG", 0)
	if err := e.Put([]byte("bad"), bytes.Repeat([]byte("x"), 64)); err == nil {
		t.Fatal("Put succeeded through an injected write error")
	}
	assertNotFound(t, e, CFDefault, "bad")
	if err := e.Put([]byte("later"), []byte("1")); !errors.Is(err, ErrBackground) {
		t.Errorf("Put after failure = %v, want ErrBackground", err)
	}
	mustGet(t, e, CFDefault, "ok")
}

func TestEngine_ConcurrentWriters(t *testing.T) {
	e := openTestEngine(t)
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				if err := e.Put(fmt.Appendf(nil, "w%d-%03d", w, i), []byte("v")); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := e.LatestSequenceNumber(); got != writers*perWriter {
		t.Errorf("LatestSequenceNumber = %d, want %d", got, writers*perWriter)
	}
	it, _ := e.NewIterator(nil)
	defer it.Close()
	n := 0
	for ok, _ := it.Seek(SeekStart); ok; ok, _ = it.Next() {
		n++
	}
	if n != writers*perWriter {
		t.Errorf("iterated %d keys, want %d", n, writers*perWriter)
	}
}
