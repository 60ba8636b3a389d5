package treekv

// write_batch_test.go implements tests for write batches.

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aalhour/treekv/vfs"
)

func TestWriteBatch_Atomic(t *testing.T) {
	e := openTestEngine(t)
	wb := e.NewWriteBatch()
	defer wb.Close()

	if err := wb.PutCF(CFDefault, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := wb.PutCF(CFWrite, []byte("b"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := wb.DeleteCF(CFDefault, []byte("missing")); err != nil {
		t.Fatal(err)
	}
	assertNotFound(t, e, CFDefault, "a")

	seq := e.LatestSequenceNumber()
	if err := wb.Write(); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := e.LatestSequenceNumber(); got != seq+1 {
		t.Errorf("sequence advanced by %d, want 1", got-seq)
	}
	mustGet(t, e, CFDefault, "a")
	mustGet(t, e, CFWrite, "b")

	// Write does not clear the batch.
	if wb.Count() != 3 {
		t.Errorf("Count after Write = %d, want 3", wb.Count())
	}
}

func TestWriteBatch_UnknownCFAtAppend(t *testing.T) {
	e := openTestEngine(t)
	wb := e.NewWriteBatch()
	defer wb.Close()

	if err := wb.PutCF("nope", []byte("k"), []byte("v")); Kind(err) != KindCFName {
		t.Fatalf("PutCF unknown = %v, want CFName", err)
	}
	if !wb.IsEmpty() {
		t.Error("failed append changed the batch")
	}
	if err := wb.DeleteRangeCF(CFDefault, []byte("b"), []byte("a")); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("reversed range = %v", err)
	}
}

func TestWriteBatch_SavePoints(t *testing.T) {
	e := openTestEngine(t)
	wb := e.NewWriteBatch()
	defer wb.Close()

	if err := wb.RollbackToSavePoint(); !errors.Is(err, ErrNoSavePoint) {
		t.Errorf("rollback without save point = %v", err)
	}
	if err := wb.PopSavePoint(); !errors.Is(err, ErrNoSavePoint) {
		t.Errorf("pop without save point = %v", err)
	}

	putAll(t, wb, CFDefault, "keep")
	wb.SetSavePoint()
	putAll(t, wb, CFDefault, "inner1")
	wb.SetSavePoint()
	putAll(t, wb, CFDefault, "inner2")

	// Merge the innermost save point into the outer one.
	if err := wb.PopSavePoint(); err != nil {
		t.Fatal(err)
	}
	if err := wb.RollbackToSavePoint(); err != nil {
		t.Fatal(err)
	}
	if wb.Count() != 1 {
		t.Errorf("Count after rollback = %d, want 1", wb.Count())
	}
	if err := wb.RollbackToSavePoint(); !errors.Is(err, ErrNoSavePoint) {
		t.Errorf("rollback past the stack = %v", err)
	}

	if err := wb.Write(); err != nil {
		t.Fatal(err)
	}
	mustGet(t, e, CFDefault, "keep")
	assertNotFound(t, e, CFDefault, "inner1")
	assertNotFound(t, e, CFDefault, "inner2")
}

func TestWriteBatch_DeleteRangeSeesEarlierOps(t *testing.T) {
	e := openTestEngine(t)
	putAll(t, e, CFDefault, "a", "c")

	wb := e.NewWriteBatch()
	defer wb.Close()
	putAll(t, wb, CFDefault, "b", "d")
	if err := wb.DeleteRange([]byte("a"), []byte("c\x00")); err != nil {
		t.Fatal(err)
	}
	putAll(t, wb, CFDefault, "b2")
	if err := wb.Write(); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"a", "b", "c"} {
		assertNotFound(t, e, CFDefault, k)
	}
	mustGet(t, e, CFDefault, "b2")
	mustGet(t, e, CFDefault, "d")
}

func TestWriteBatch_ShouldWriteToEngine(t *testing.T) {
	e := openTestEngine(t)
	wb := e.NewWriteBatchWithCap(1 << 10)
	defer wb.Close()

	for i := range WriteBatchMaxKeys {
		if err := wb.Put(fmt.Appendf(nil, "k%d", i), nil); err != nil {
			t.Fatal(err)
		}
	}
	if wb.ShouldWriteToEngine() {
		t.Errorf("ShouldWriteToEngine at %d keys", wb.Count())
	}
	if err := wb.Delete([]byte("one-more")); err != nil {
		t.Fatal(err)
	}
	if !wb.ShouldWriteToEngine() {
		t.Errorf("ShouldWriteToEngine false at %d keys", wb.Count())
	}
	if wb.DataSize() <= 12 {
		t.Errorf("DataSize = %d", wb.DataSize())
	}

	wb.Clear()
	if !wb.IsEmpty() || wb.DataSize() != 12 {
		t.Errorf("after Clear: empty=%v size=%d", wb.IsEmpty(), wb.DataSize())
	}
}

func TestWriteBatch_FailedWriteIsAtomic(t *testing.T) {
	fs := vfs.NewFaultInjectionFS(vfs.Default())
	opts := testOptions()
	opts.FS = fs
	e := openTestEngineAt(t, filepath.Join(t.TempDir(), "db"), opts)
	putAll(t, e, CFDefault, "before")

	wb := e.NewWriteBatch()
	for i := range 20 {
		if err := wb.PutCF(CFWrite, fmt.Appendf(nil, "k%02d", i), []byte("value")); err != nil {
			t.Fatal(err)
		}
	}
	fs.InjectWriteError("COMMITLOG", 0)
	if err := wb.WriteOpt(&WriteOptions{Sync: true}); err == nil {
		t.Fatal("Write succeeded through an injected error")
	}
	if err := wb.Close(); err != nil {
		t.Errorf("Close after failed write = %v", err)
	}
	for i := range 20 {
		assertNotFound(t, e, CFWrite, fmt.Sprintf("k%02d", i))
	}
	mustGet(t, e, CFDefault, "before")
}

func TestWriteBatch_Close(t *testing.T) {
	e := openTestEngine(t)
	wb := e.NewWriteBatch()
	putAll(t, wb, CFDefault, "a")
	if err := wb.Close(); err != nil {
		t.Fatal(err)
	}
	if err := wb.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := wb.Put([]byte("b"), nil); !errors.Is(err, ErrReleased) {
		t.Errorf("Put after Close = %v, want ErrReleased", err)
	}
	if err := wb.Write(); !errors.Is(err, ErrReleased) {
		t.Errorf("Write after Close = %v, want ErrReleased", err)
	}
}
