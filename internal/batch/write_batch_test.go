package batch

import (
	"errors"
	"fmt"
	"testing"
)

type recorder struct {
	ops []string
}

func (r *recorder) Put(cf uint32, key, value []byte) error {
	r.ops = append(r.ops, fmt.Sprintf("put(%d,%s,%s)", cf, key, value))
	return nil
}

func (r *recorder) Delete(cf uint32, key []byte) error {
	r.ops = append(r.ops, fmt.Sprintf("del(%d,%s)", cf, key))
	return nil
}

func (r *recorder) DeleteRange(cf uint32, begin, end []byte) error {
	r.ops = append(r.ops, fmt.Sprintf("delrange(%d,%s,%s)", cf, begin, end))
	return nil
}

func iterateOps(t *testing.T, wb *WriteBatch) []string {
	t.Helper()
	var r recorder
	if err := wb.Iterate(&r); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	return r.ops
}

func equalOps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWriteBatch_IterateInOrder(t *testing.T) {
	wb := New()
	wb.Put(0, []byte("a"), []byte("1"))
	wb.Put(3, []byte("b"), []byte("2"))
	wb.Delete(0, []byte("a"))
	wb.Delete(200, []byte("c"))
	wb.DeleteRange(0, []byte("a"), []byte("z"))
	wb.DeleteRange(3, []byte("b"), []byte("c"))

	want := []string{
		"put(0,a,1)", "put(3,b,2)", "del(0,a)", "del(200,c)",
		"delrange(0,a,z)", "delrange(3,b,c)",
	}
	if got := iterateOps(t, wb); !equalOps(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
	if wb.Count() != 6 {
		t.Errorf("Count = %d, want 6", wb.Count())
	}
}

func TestWriteBatch_Sequence(t *testing.T) {
	wb := New()
	wb.Put(0, []byte("k"), []byte("v"))
	wb.SetSequence(42)
	if wb.Sequence() != 42 || wb.Count() != 1 {
		t.Fatalf("seq %d count %d", wb.Sequence(), wb.Count())
	}

	decoded, err := NewFromData(append([]byte(nil), wb.Data()...))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Sequence() != 42 {
		t.Errorf("decoded sequence = %d", decoded.Sequence())
	}
	if got := iterateOps(t, decoded); !equalOps(got, []string{"put(0,k,v)"}) {
		t.Errorf("decoded ops = %v", got)
	}
}

func TestWriteBatch_Clear(t *testing.T) {
	wb := New()
	wb.Put(0, []byte("k"), []byte("v"))
	wb.SetSequence(9)
	wb.SetSavePoint()
	wb.Clear()
	if wb.Count() != 0 || wb.Size() != HeaderSize || wb.Sequence() != 0 {
		t.Errorf("after Clear: count %d size %d seq %d", wb.Count(), wb.Size(), wb.Sequence())
	}
	if err := wb.RollbackToSavePoint(); !errors.Is(err, ErrNoSavePoint) {
		t.Errorf("Clear must drop save points, got %v", err)
	}
}

// =============================================================================
// Save points
// =============================================================================

func TestWriteBatch_RollbackToSavePoint(t *testing.T) {
	wb := New()
	wb.Put(0, []byte("a"), []byte("1"))
	wb.SetSavePoint()
	wb.Put(0, []byte("b"), []byte("2"))
	wb.SetSavePoint()
	wb.Delete(0, []byte("a"))

	if err := wb.RollbackToSavePoint(); err != nil {
		t.Fatal(err)
	}
	if got := iterateOps(t, wb); !equalOps(got, []string{"put(0,a,1)", "put(0,b,2)"}) {
		t.Errorf("after first rollback: %v", got)
	}
	if err := wb.RollbackToSavePoint(); err != nil {
		t.Fatal(err)
	}
	if got := iterateOps(t, wb); !equalOps(got, []string{"put(0,a,1)"}) {
		t.Errorf("after second rollback: %v", got)
	}
	if err := wb.RollbackToSavePoint(); !errors.Is(err, ErrNoSavePoint) {
		t.Errorf("third rollback err = %v, want ErrNoSavePoint", err)
	}
}

func TestWriteBatch_PopSavePointMerges(t *testing.T) {
	wb := New()
	wb.SetSavePoint()
	wb.Put(0, []byte("a"), []byte("1"))
	wb.SetSavePoint()
	wb.Put(0, []byte("b"), []byte("2"))

	if err := wb.PopSavePoint(); err != nil {
		t.Fatal(err)
	}
	if wb.SavePoints() != 1 {
		t.Fatalf("SavePoints = %d, want 1", wb.SavePoints())
	}
	if err := wb.RollbackToSavePoint(); err != nil {
		t.Fatal(err)
	}
	if wb.Count() != 0 || wb.Size() != HeaderSize {
		t.Errorf("rollback past popped save point left count %d size %d", wb.Count(), wb.Size())
	}
	if err := wb.PopSavePoint(); !errors.Is(err, ErrNoSavePoint) {
		t.Errorf("PopSavePoint on empty stack err = %v", err)
	}
}

// =============================================================================
// Corruption
// =============================================================================

func TestWriteBatch_Corrupted(t *testing.T) {
	if _, err := NewFromData([]byte{1, 2, 3}); !errors.Is(err, ErrTooSmall) {
		t.Errorf("short data err = %v", err)
	}

	wb := New()
	wb.Put(1, []byte("key"), []byte("value"))
	data := append([]byte(nil), wb.Data()...)

	truncated, _ := NewFromData(data[:len(data)-2])
	if err := truncated.Iterate(&recorder{}); !errors.Is(err, ErrCorrupted) {
		t.Errorf("truncated err = %v", err)
	}

	badTag := append([]byte(nil), data...)
	badTag[HeaderSize] = 0x7f
	bt, _ := NewFromData(badTag)
	if err := bt.Iterate(&recorder{}); !errors.Is(err, ErrCorrupted) {
		t.Errorf("bad tag err = %v", err)
	}

	badCount := append([]byte(nil), data...)
	badCount[8] = 5
	bc, _ := NewFromData(badCount)
	if err := bc.Iterate(&recorder{}); !errors.Is(err, ErrCorrupted) {
		t.Errorf("count mismatch err = %v", err)
	}
}

func TestWriteBatch_HandlerErrorStops(t *testing.T) {
	wb := New()
	wb.Put(0, []byte("a"), []byte("1"))
	wb.Put(0, []byte("b"), []byte("2"))

	stop := errors.New("stop")
	calls := 0
	err := wb.Iterate(handlerFunc(func() error {
		calls++
		return stop
	}))
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("err %v calls %d", err, calls)
	}
}

type handlerFunc func() error

func (f handlerFunc) Put(uint32, []byte, []byte) error         { return f() }
func (f handlerFunc) Delete(uint32, []byte) error              { return f() }
func (f handlerFunc) DeleteRange(uint32, []byte, []byte) error { return f() }

func TestPool_ReturnsEmptyBatch(t *testing.T) {
	p := NewPool()
	wb := p.Get()
	wb.Put(0, []byte("k"), []byte("v"))
	wb.SetSavePoint()
	p.Put(wb)

	again := p.Get()
	if again.Count() != 0 || again.SavePoints() != 0 {
		t.Errorf("pooled batch not reset: count %d savepoints %d", again.Count(), again.SavePoints())
	}
	p.Put(nil)
}
