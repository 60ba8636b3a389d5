// Package enginetest is a conformance suite for treekv.KvEngine
// implementations. A backend's tests call Run with a function that opens
// the backend:
//
//	func TestConformance(t *testing.T) {
//		enginetest.Run(t, func(path string, opts *treekv.Options) (treekv.KvEngine, error) {
//			return Open(path, opts)
//		})
//	}
package enginetest

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/logging"
)

// Opener opens an engine at path. The suite passes a path that does not
// exist yet on first open.
type Opener func(path string, opts *treekv.Options) (treekv.KvEngine, error)

// Options returns the options the suite opens engines with.
func Options() *treekv.Options {
	opts := treekv.DefaultOptions()
	opts.Logger = logging.Discard
	return opts
}

// Run runs the whole suite against open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"PointOps", testPointOps},
		{"ColumnFamilies", testColumnFamilies},
		{"DeleteRange", testDeleteRange},
		{"WriteBatch", testWriteBatch},
		{"WriteBatchSavePoints", testWriteBatchSavePoints},
		{"WriteBatchRangeSeesEarlierOps", testWriteBatchRangeSeesEarlierOps},
		{"Snapshot", testSnapshot},
		{"SnapshotIteratorOutlivesRelease", testSnapshotIteratorOutlivesRelease},
		{"Iterator", testIterator},
		{"IteratorBounds", testIteratorBounds},
		{"IteratorSeesCommittedWrites", testIteratorSeesCommittedWrites},
		{"SequenceNumbers", testSequenceNumbers},
		{"Reopen", testReopen},
		{"Ingest", testIngest},
		{"Closed", testClosed},
		{"ConcurrentWrites", testConcurrentWrites},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open)
		})
	}
}

func openAt(t *testing.T, open Opener, path string) treekv.KvEngine {
	t.Helper()
	e, err := open(path, Options())
	if err != nil {
		t.Fatalf("open %s failed: %v", path, err)
	}
	return e
}

// openFresh opens an engine in a new directory and closes it when the test
// ends.
func openFresh(t *testing.T, open Opener) treekv.KvEngine {
	t.Helper()
	e := openAt(t, open, filepath.Join(t.TempDir(), "db"))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mustPut(t *testing.T, m treekv.SyncMutable, cf string, keys ...string) {
	t.Helper()
	for _, k := range keys {
		if err := m.PutCF(cf, []byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("PutCF(%s, %q) failed: %v", cf, k, err)
		}
	}
}

func expectValue(t *testing.T, p treekv.Peekable, cf, key, want string) {
	t.Helper()
	got, err := p.GetCF(cf, []byte(key))
	if err != nil {
		t.Fatalf("GetCF(%s, %q) failed: %v", cf, key, err)
	}
	if string(got) != want {
		t.Fatalf("GetCF(%s, %q) = %q, want %q", cf, key, got, want)
	}
}

func expectMissing(t *testing.T, p treekv.Peekable, cf, key string) {
	t.Helper()
	if _, err := p.GetCF(cf, []byte(key)); !errors.Is(err, treekv.ErrNotFound) {
		t.Fatalf("GetCF(%s, %q) = %v, want ErrNotFound", cf, key, err)
	}
}

func collect(t *testing.T, it treekv.Iterator, forward bool) []string {
	t.Helper()
	var keys []string
	var ok bool
	var err error
	if forward {
		ok, err = it.Seek(treekv.SeekStart)
	} else {
		ok, err = it.SeekForPrev(treekv.SeekEnd)
	}
	for ok {
		keys = append(keys, string(it.Key()))
		if forward {
			ok, err = it.Next()
		} else {
			ok, err = it.Prev()
		}
	}
	if err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return keys
}

func scan(t *testing.T, it treekv.Iterable, cf string, opts *treekv.IterOptions, forward bool) []string {
	t.Helper()
	iter, err := it.NewIteratorCF(cf, opts)
	if err != nil {
		t.Fatalf("NewIteratorCF(%s) failed: %v", cf, err)
	}
	defer func() { _ = iter.Close() }()
	return collect(t, iter, forward)
}

func expectKeys(t *testing.T, what string, got []string, want ...string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("%s = %q, want %q", what, got, want)
	}
}

func testPointOps(t *testing.T, open Opener) {
	e := openFresh(t, open)

	expectMissing(t, e, treekv.CFDefault, "k")
	if err := e.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	expectValue(t, e, treekv.CFDefault, "k", "v1")
	if err := e.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, err := e.Get([]byte("k"))
	if err != nil || string(got) != "v2" {
		t.Fatalf("Get after overwrite = %q, %v", got, err)
	}

	// Returned values are owned by the caller.
	got[0] = 'x'
	expectValue(t, e, treekv.CFDefault, "k", "v2")

	if err := e.Put([]byte("empty"), nil); err != nil {
		t.Fatal(err)
	}
	if v, err := e.Get([]byte("empty")); err != nil || len(v) != 0 {
		t.Fatalf("Get of an empty value = %q, %v", v, err)
	}

	if err := e.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	expectMissing(t, e, treekv.CFDefault, "k")
	if err := e.Delete([]byte("never-written")); err != nil {
		t.Fatalf("Delete of a missing key failed: %v", err)
	}

	v, err := e.GetOpt(&treekv.ReadOptions{VerifyChecksums: true}, treekv.CFDefault, []byte("empty"))
	if err != nil || len(v) != 0 {
		t.Fatalf("GetOpt = %q, %v", v, err)
	}
}

func testColumnFamilies(t *testing.T, open Opener) {
	e := openFresh(t, open)

	names := e.CFNames()
	for _, cf := range treekv.AllCFs {
		if !slices.Contains(names, cf) {
			t.Errorf("CFNames() = %v, missing %s", names, cf)
		}
	}

	if err := e.PutCF(treekv.CFWrite, []byte("k"), []byte("write")); err != nil {
		t.Fatal(err)
	}
	if err := e.PutCF(treekv.CFLock, []byte("k"), []byte("lock")); err != nil {
		t.Fatal(err)
	}
	expectValue(t, e, treekv.CFWrite, "k", "write")
	expectValue(t, e, treekv.CFLock, "k", "lock")
	expectMissing(t, e, treekv.CFDefault, "k")
	expectMissing(t, e, treekv.CFRaft, "k")

	if _, err := e.GetCF("nope", []byte("k")); treekv.Kind(err) != treekv.KindCFName {
		t.Errorf("GetCF on an unknown cf = %v", err)
	}
	if err := e.PutCF("nope", []byte("k"), nil); treekv.Kind(err) != treekv.KindCFName {
		t.Errorf("PutCF on an unknown cf = %v", err)
	}
	if _, err := e.NewIteratorCF("nope", nil); treekv.Kind(err) != treekv.KindCFName {
		t.Errorf("NewIteratorCF on an unknown cf = %v", err)
	}
	var nameErr *treekv.CFNameError
	if err := e.DeleteCF("nope", []byte("k")); !errors.As(err, &nameErr) || nameErr.Name != "nope" {
		t.Errorf("DeleteCF on an unknown cf = %v", err)
	}
}

func testDeleteRange(t *testing.T, open Opener) {
	e := openFresh(t, open)
	mustPut(t, e, treekv.CFWrite, "a", "b", "c", "d", "e")
	mustPut(t, e, treekv.CFDefault, "b", "c")

	if err := e.DeleteRangeCF(treekv.CFWrite, []byte("b"), []byte("d")); err != nil {
		t.Fatalf("DeleteRangeCF failed: %v", err)
	}
	expectKeys(t, "write cf", scan(t, e, treekv.CFWrite, nil, true), "a", "d", "e")
	expectKeys(t, "default cf", scan(t, e, treekv.CFDefault, nil, true), "b", "c")

	if err := e.DeleteRangeCF(treekv.CFWrite, []byte("e"), []byte("a")); !errors.Is(err, treekv.ErrInvalidRange) {
		t.Errorf("reversed range = %v, want ErrInvalidRange", err)
	}
	if err := e.DeleteRangeCF(treekv.CFWrite, []byte("d"), []byte("d")); err != nil {
		t.Errorf("empty range failed: %v", err)
	}
	expectValue(t, e, treekv.CFWrite, "d", "v-d")

	seq := e.LatestSequenceNumber()
	ranges := []treekv.Range{
		{Start: []byte("a"), End: []byte("b")},
		{Start: []byte("e"), End: []byte("f")},
	}
	if err := e.DeleteRangesCF(treekv.CFWrite, ranges); err != nil {
		t.Fatalf("DeleteRangesCF failed: %v", err)
	}
	if got := e.LatestSequenceNumber(); got != seq+1 {
		t.Errorf("DeleteRangesCF used %d commits, want 1", got-seq)
	}
	expectKeys(t, "write cf", scan(t, e, treekv.CFWrite, nil, true), "d")

	bad := []treekv.Range{{Start: []byte("a"), End: []byte("z")}, {Start: []byte("z"), End: []byte("a")}}
	if err := e.DeleteRangesCF(treekv.CFWrite, bad); !errors.Is(err, treekv.ErrInvalidRange) {
		t.Errorf("DeleteRangesCF with a reversed range = %v", err)
	}
	expectValue(t, e, treekv.CFWrite, "d", "v-d")
}

func testWriteBatch(t *testing.T, open Opener) {
	e := openFresh(t, open)
	mustPut(t, e, treekv.CFDefault, "old")

	wb := e.NewWriteBatch()
	defer func() { _ = wb.Close() }()
	if !wb.IsEmpty() {
		t.Fatal("new batch is not empty")
	}
	if err := wb.PutCF(treekv.CFWrite, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := wb.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := wb.Delete([]byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := wb.PutCF("nope", []byte("x"), nil); treekv.Kind(err) != treekv.KindCFName {
		t.Errorf("PutCF on an unknown cf = %v", err)
	}
	if wb.Count() != 3 || wb.DataSize() == 0 {
		t.Fatalf("Count = %d, DataSize = %d", wb.Count(), wb.DataSize())
	}

	// Nothing is visible before Write.
	expectMissing(t, e, treekv.CFWrite, "a")

	seq := e.LatestSequenceNumber()
	if err := wb.Write(); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := e.LatestSequenceNumber(); got != seq+1 {
		t.Errorf("Write used %d commits, want 1", got-seq)
	}
	expectValue(t, e, treekv.CFWrite, "a", "1")
	expectValue(t, e, treekv.CFDefault, "b", "2")
	expectMissing(t, e, treekv.CFDefault, "old")
	if wb.Count() != 3 {
		t.Errorf("Write cleared the batch: Count = %d", wb.Count())
	}

	wb.Clear()
	if !wb.IsEmpty() {
		t.Error("batch not empty after Clear")
	}
	if err := wb.WriteOpt(&treekv.WriteOptions{Sync: true}); err != nil {
		t.Errorf("writing an empty batch failed: %v", err)
	}
	if got := e.LatestSequenceNumber(); got != seq+1 {
		t.Errorf("empty batch advanced the sequence to %d", got)
	}

	big := e.NewWriteBatchWithCap(64 << 10)
	defer func() { _ = big.Close() }()
	for i := range treekv.WriteBatchMaxKeys + 1 {
		if big.ShouldWriteToEngine() {
			t.Fatalf("ShouldWriteToEngine at %d ops", i)
		}
		if err := big.Put(fmt.Appendf(nil, "k%04d", i), nil); err != nil {
			t.Fatal(err)
		}
	}
	if !big.ShouldWriteToEngine() {
		t.Errorf("ShouldWriteToEngine false at %d ops", big.Count())
	}

	if err := wb.Close(); err != nil {
		t.Fatal(err)
	}
	if err := wb.Put([]byte("late"), nil); !errors.Is(err, treekv.ErrReleased) {
		t.Errorf("Put after Close = %v", err)
	}
	if err := wb.Write(); !errors.Is(err, treekv.ErrReleased) {
		t.Errorf("Write after Close = %v", err)
	}
	if err := wb.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func testWriteBatchSavePoints(t *testing.T, open Opener) {
	e := openFresh(t, open)
	wb := e.NewWriteBatch()
	defer func() { _ = wb.Close() }()

	if err := wb.PopSavePoint(); !errors.Is(err, treekv.ErrNoSavePoint) {
		t.Errorf("PopSavePoint without a save point = %v", err)
	}
	if err := wb.RollbackToSavePoint(); !errors.Is(err, treekv.ErrNoSavePoint) {
		t.Errorf("RollbackToSavePoint without a save point = %v", err)
	}

	_ = wb.Put([]byte("a"), []byte("1"))
	wb.SetSavePoint()
	_ = wb.Put([]byte("b"), []byte("2"))
	wb.SetSavePoint()
	_ = wb.Put([]byte("c"), []byte("3"))
	if err := wb.PopSavePoint(); err != nil {
		t.Fatalf("PopSavePoint failed: %v", err)
	}
	if wb.Count() != 3 {
		t.Fatalf("PopSavePoint changed the batch: Count = %d", wb.Count())
	}
	if err := wb.RollbackToSavePoint(); err != nil {
		t.Fatalf("RollbackToSavePoint failed: %v", err)
	}
	if wb.Count() != 1 {
		t.Fatalf("Count after rollback = %d, want 1", wb.Count())
	}
	if err := wb.Write(); err != nil {
		t.Fatal(err)
	}
	expectValue(t, e, treekv.CFDefault, "a", "1")
	expectMissing(t, e, treekv.CFDefault, "b")
	expectMissing(t, e, treekv.CFDefault, "c")
}

func testWriteBatchRangeSeesEarlierOps(t *testing.T, open Opener) {
	e := openFresh(t, open)
	mustPut(t, e, treekv.CFLock, "a", "c")

	wb := e.NewWriteBatch()
	defer func() { _ = wb.Close() }()
	_ = wb.PutCF(treekv.CFLock, []byte("b"), []byte("batch"))
	_ = wb.PutCF(treekv.CFLock, []byte("z"), []byte("batch"))
	if err := wb.DeleteRangeCF(treekv.CFLock, []byte("a"), []byte("d")); err != nil {
		t.Fatal(err)
	}
	_ = wb.PutCF(treekv.CFLock, []byte("c"), []byte("after"))
	if err := wb.DeleteRangeCF(treekv.CFLock, []byte("b"), []byte("a")); !errors.Is(err, treekv.ErrInvalidRange) {
		t.Errorf("reversed batch range = %v", err)
	}
	if err := wb.Write(); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	expectKeys(t, "lock cf", scan(t, e, treekv.CFLock, nil, true), "c", "z")
	expectValue(t, e, treekv.CFLock, "c", "after")
}

func testSnapshot(t *testing.T, open Opener) {
	e := openFresh(t, open)
	mustPut(t, e, treekv.CFWrite, "a", "b")
	if err := e.PutCF(treekv.CFWrite, []byte("a"), []byte("old")); err != nil {
		t.Fatal(err)
	}

	snap := e.Snapshot()
	if snap.Sequence() != e.LatestSequenceNumber() {
		t.Errorf("Sequence = %d, latest %d", snap.Sequence(), e.LatestSequenceNumber())
	}
	if oldest, ok := e.OldestSnapshotSequenceNumber(); !ok || oldest != snap.Sequence() {
		t.Errorf("OldestSnapshotSequenceNumber = %d, %v", oldest, ok)
	}

	if err := e.PutCF(treekv.CFWrite, []byte("a"), []byte("new")); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteCF(treekv.CFWrite, []byte("b")); err != nil {
		t.Fatal(err)
	}
	mustPut(t, e, treekv.CFWrite, "c")

	expectValue(t, snap, treekv.CFWrite, "a", "old")
	expectValue(t, snap, treekv.CFWrite, "b", "v-b")
	expectMissing(t, snap, treekv.CFWrite, "c")
	expectKeys(t, "snapshot scan", scan(t, snap, treekv.CFWrite, nil, true), "a", "b")
	expectKeys(t, "snapshot reverse scan", scan(t, snap, treekv.CFWrite, nil, false), "b", "a")
	expectKeys(t, "engine scan", scan(t, e, treekv.CFWrite, nil, true), "a", "c")
	if !slices.Contains(snap.CFNames(), treekv.CFWrite) {
		t.Errorf("snapshot CFNames = %v", snap.CFNames())
	}
	if _, err := snap.GetCF("nope", []byte("a")); treekv.Kind(err) != treekv.KindCFName {
		t.Errorf("snapshot GetCF on an unknown cf = %v", err)
	}

	snap.Release()
	snap.Release()
	if _, err := snap.GetCF(treekv.CFWrite, []byte("a")); !errors.Is(err, treekv.ErrReleased) {
		t.Errorf("Get after Release = %v", err)
	}
	if _, err := snap.NewIterator(nil); !errors.Is(err, treekv.ErrReleased) {
		t.Errorf("NewIterator after Release = %v", err)
	}
	if _, ok := e.OldestSnapshotSequenceNumber(); ok {
		t.Error("released snapshot still counted")
	}
}

func testSnapshotIteratorOutlivesRelease(t *testing.T, open Opener) {
	e := openFresh(t, open)
	mustPut(t, e, treekv.CFDefault, "a", "b", "c")

	snap := e.Snapshot()
	it, err := snap.NewIterator(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = it.Close() }()
	snap.Release()

	mustPut(t, e, treekv.CFDefault, "bb")
	expectKeys(t, "iterator after Release", collect(t, it, true), "a", "b", "c")
	expectKeys(t, "reverse after Release", collect(t, it, false), "c", "b", "a")
}

func testIterator(t *testing.T, open Opener) {
	e := openFresh(t, open)
	mustPut(t, e, treekv.CFDefault, "a", "b", "d", "e")
	mustPut(t, e, treekv.CFWrite, "c")

	it, err := e.NewIterator(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = it.Close() }()

	expectKeys(t, "forward", collect(t, it, true), "a", "b", "d", "e")
	expectKeys(t, "backward", collect(t, it, false), "e", "d", "b", "a")

	if ok, _ := it.Valid(); ok {
		t.Error("iterator valid after running off the start")
	}

	ok, err := it.Seek(treekv.SeekKeyAt([]byte("c")))
	if !ok || err != nil || string(it.Key()) != "d" || string(it.Value()) != "v-d" {
		t.Fatalf("Seek(c) = %v, %v at %q", ok, err, it.Key())
	}
	if ok, _ := it.Prev(); !ok || string(it.Key()) != "b" {
		t.Fatalf("Prev after Seek(c) at %q", it.Key())
	}
	if ok, _ := it.Next(); !ok || string(it.Key()) != "d" {
		t.Fatalf("Next after reversing at %q", it.Key())
	}

	ok, err = it.SeekForPrev(treekv.SeekKeyAt([]byte("c")))
	if !ok || err != nil || string(it.Key()) != "b" {
		t.Fatalf("SeekForPrev(c) = %v, %v at %q", ok, err, it.Key())
	}
	if ok, _ := it.SeekForPrev(treekv.SeekKeyAt([]byte("d"))); !ok || string(it.Key()) != "d" {
		t.Fatalf("SeekForPrev(d) at %q", it.Key())
	}
	if ok, _ := it.Seek(treekv.SeekKeyAt([]byte("f"))); ok {
		t.Error("Seek past the last key succeeded")
	}
	if ok, _ := it.SeekForPrev(treekv.SeekKeyAt([]byte("0"))); ok {
		t.Error("SeekForPrev before the first key succeeded")
	}
	if ok, _ := it.Seek(treekv.SeekEnd); !ok || string(it.Key()) != "e" {
		t.Errorf("Seek(SeekEnd) at %q", it.Key())
	}
	if ok, _ := it.SeekForPrev(treekv.SeekStart); !ok || string(it.Key()) != "a" {
		t.Errorf("SeekForPrev(SeekStart) at %q", it.Key())
	}

	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := it.Seek(treekv.SeekStart); !errors.Is(err, treekv.ErrReleased) {
		t.Errorf("Seek after Close = %v", err)
	}

	empty, err := e.NewIteratorCF(treekv.CFRaft, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = empty.Close() }()
	if ok, err := empty.Seek(treekv.SeekStart); ok || err != nil {
		t.Errorf("Seek on an empty cf = %v, %v", ok, err)
	}
}

func testIteratorBounds(t *testing.T, open Opener) {
	e := openFresh(t, open)
	mustPut(t, e, treekv.CFDefault, "a", "b", "c", "d", "e")

	opts := &treekv.IterOptions{LowerBound: []byte("b"), UpperBound: []byte("e")}
	expectKeys(t, "bounded forward", scan(t, e, treekv.CFDefault, opts, true), "b", "c", "d")
	expectKeys(t, "bounded backward", scan(t, e, treekv.CFDefault, opts, false), "d", "c", "b")

	it, err := e.NewIterator(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = it.Close() }()
	if ok, _ := it.Seek(treekv.SeekKeyAt([]byte("a"))); !ok || string(it.Key()) != "b" {
		t.Errorf("Seek below the lower bound at %q", it.Key())
	}
	if ok, _ := it.SeekForPrev(treekv.SeekKeyAt([]byte("z"))); !ok || string(it.Key()) != "d" {
		t.Errorf("SeekForPrev above the upper bound at %q", it.Key())
	}
	if ok, _ := it.Seek(treekv.SeekKeyAt([]byte("e"))); ok {
		t.Error("Seek to the upper bound succeeded")
	}

	upper := &treekv.IterOptions{UpperBound: []byte("c")}
	expectKeys(t, "upper bound only", scan(t, e, treekv.CFDefault, upper, false), "b", "a")
}

func testIteratorSeesCommittedWrites(t *testing.T, open Opener) {
	e := openFresh(t, open)
	it, err := e.NewIterator(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = it.Close() }()

	mustPut(t, e, treekv.CFDefault, "x", "y")
	expectKeys(t, "after writes", collect(t, it, true), "x", "y")
}

func testSequenceNumbers(t *testing.T, open Opener) {
	e := openFresh(t, open)
	start := e.LatestSequenceNumber()
	mustPut(t, e, treekv.CFDefault, "a", "b", "c")
	if got := e.LatestSequenceNumber(); got != start+3 {
		t.Errorf("sequence after 3 puts = %d, want %d", got, start+3)
	}
	if err := e.Delete([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if got := e.LatestSequenceNumber(); got != start+4 {
		t.Errorf("sequence after delete = %d", got)
	}
	if _, ok := e.OldestSnapshotSequenceNumber(); ok {
		t.Error("OldestSnapshotSequenceNumber reported a snapshot")
	}
}

func testReopen(t *testing.T, open Opener) {
	path := filepath.Join(t.TempDir(), "db")
	e := openAt(t, open, path)
	mustPut(t, e, treekv.CFWrite, "a", "b")
	if err := e.DeleteCF(treekv.CFWrite, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := e.Flush(true); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	seq := e.LatestSequenceNumber()
	if e.Path() != path {
		t.Errorf("Path() = %q, want %q", e.Path(), path)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e = openAt(t, open, path)
	defer func() { _ = e.Close() }()
	if got := e.LatestSequenceNumber(); got != seq {
		t.Errorf("sequence after reopen = %d, want %d", got, seq)
	}
	expectMissing(t, e, treekv.CFWrite, "a")
	expectValue(t, e, treekv.CFWrite, "b", "v-b")

	size, err := e.UsedSize()
	if err != nil || size == 0 {
		t.Errorf("UsedSize = %d, %v", size, err)
	}
	stats, err := e.DumpStats()
	if err != nil || !bytes.Contains([]byte(stats), fmt.Appendf(nil, "sequence: %d", seq)) {
		t.Errorf("DumpStats = %q, %v", stats, err)
	}
}

func testIngest(t *testing.T, open Opener) {
	e := openFresh(t, open)
	mustPut(t, e, treekv.CFWrite, "k1", "k3")

	path := filepath.Join(t.TempDir(), "bulk.sst")
	w, err := treekv.NewSstWriterBuilder().
		SetDB(e).
		SetCF(treekv.CFWrite).
		SetCompressionType(treekv.ZstdCompression).
		SetLogger(logging.Discard).
		Build(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"k0", "k2"} {
		if err := w.Put([]byte(k), []byte("sst-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Delete([]byte("k3")); err != nil {
		t.Fatal(err)
	}
	info, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ValidateSSTForIngestion(treekv.CFWrite, path, info.FileSize, 0); err != nil {
		t.Fatalf("ValidateSSTForIngestion failed: %v", err)
	}

	seq := e.LatestSequenceNumber()
	opts := treekv.DefaultIngestOptions()
	opts.MoveFiles = true
	if err := e.IngestExternalFileCF(treekv.CFWrite, opts, path); err != nil {
		t.Fatalf("IngestExternalFileCF failed: %v", err)
	}
	if got := e.LatestSequenceNumber(); got != seq+1 {
		t.Errorf("ingest used %d commits, want 1", got-seq)
	}
	expectKeys(t, "after ingest", scan(t, e, treekv.CFWrite, nil, true), "k0", "k1", "k2")
	expectValue(t, e, treekv.CFWrite, "k2", "sst-k2")

	if err := e.IngestExternalFileCF(treekv.CFWrite, nil, path); err == nil {
		t.Error("ingesting a moved file succeeded")
	}
}

func testClosed(t *testing.T, open Opener) {
	e := openAt(t, open, filepath.Join(t.TempDir(), "db"))
	wb := e.NewWriteBatch()
	defer func() { _ = wb.Close() }()
	_ = wb.Put([]byte("a"), nil)

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); !errors.Is(err, treekv.ErrClosed) {
		t.Errorf("second Close = %v", err)
	}
	if _, err := e.Get([]byte("a")); !errors.Is(err, treekv.ErrClosed) {
		t.Errorf("Get = %v", err)
	}
	if err := e.Put([]byte("a"), nil); !errors.Is(err, treekv.ErrClosed) {
		t.Errorf("Put = %v", err)
	}
	if _, err := e.NewIterator(nil); !errors.Is(err, treekv.ErrClosed) {
		t.Errorf("NewIterator = %v", err)
	}
	if err := wb.Write(); !errors.Is(err, treekv.ErrClosed) {
		t.Errorf("batch Write = %v", err)
	}
	if err := e.Sync(); !errors.Is(err, treekv.ErrClosed) {
		t.Errorf("Sync = %v", err)
	}
	if treekv.Kind(treekv.ErrClosed) != treekv.KindEngine {
		t.Errorf("Kind(ErrClosed) = %v", treekv.Kind(treekv.ErrClosed))
	}
}

func testConcurrentWrites(t *testing.T, open Opener) {
	e := openFresh(t, open)
	const writers, perWriter = 4, 50
	start := e.LatestSequenceNumber()

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				if err := e.Put(fmt.Appendf(nil, "w%d-%03d", w, i), []byte("v")); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Put failed: %v", err)
	}

	if got := e.LatestSequenceNumber(); got != start+writers*perWriter {
		t.Errorf("sequence = %d, want %d", got, start+writers*perWriter)
	}
	if n := len(scan(t, e, treekv.CFDefault, nil, true)); n != writers*perWriter {
		t.Errorf("scan found %d keys, want %d", n, writers*perWriter)
	}
}
