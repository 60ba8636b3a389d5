package treekv

// misc_test.go implements tests for maintenance operations.

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestMisc_FlushAndUsedSize(t *testing.T) {
	e := openTestEngine(t)
	before, err := e.UsedSize()
	if err != nil {
		t.Fatal(err)
	}
	putAll(t, e, CFDefault, "a", "b")
	if err := e.Flush(true); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := e.FlushCF(CFRaft, false); err != nil {
		t.Fatalf("FlushCF failed: %v", err)
	}
	after, _ := e.UsedSize()
	if after <= before {
		t.Errorf("UsedSize %d -> %d after writes", before, after)
	}
}

func TestMisc_RewriteLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	e, err := Open(path, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	value := bytes.Repeat([]byte("v"), 100)
	for round := range 5 {
		for i := range 50 {
			if err := e.Put(fmt.Appendf(nil, "key%02d", i), append(value, byte(round))); err != nil {
				t.Fatal(err)
			}
		}
	}
	grown, _ := e.UsedSize()
	if err := e.RewriteLog(); err != nil {
		t.Fatalf("RewriteLog failed: %v", err)
	}
	shrunk, _ := e.UsedSize()
	if shrunk >= grown {
		t.Errorf("RewriteLog did not shrink the log: %d -> %d", grown, shrunk)
	}
	seq := e.LatestSequenceNumber()
	_ = e.Close()

	e = openTestEngineAt(t, path, testOptions())
	if got := e.LatestSequenceNumber(); got != seq {
		t.Errorf("sequence after rewrite and reopen = %d, want %d", got, seq)
	}
	if got := mustGet(t, e, CFDefault, "key07"); got != string(append(value, 4)) {
		t.Errorf("key07 has a stale value")
	}
}

func TestMisc_DumpStats(t *testing.T) {
	e := openTestEngine(t)
	putAll(t, e, CFWrite, "a", "b", "c")
	snap := e.Snapshot()
	defer snap.Release()

	stats, err := e.DumpStats()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"sequence: 3", "snapshots: 1 (oldest seq 3)", "cf write"} {
		if !strings.Contains(stats, want) {
			t.Errorf("DumpStats missing %q:\n%s", want, stats)
		}
	}
}

func TestMisc_ClosedEngine(t *testing.T) {
	e := openTestEngine(t)
	_ = e.Close()
	if err := e.Flush(true); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush = %v", err)
	}
	if _, err := e.UsedSize(); !errors.Is(err, ErrClosed) {
		t.Errorf("UsedSize = %v", err)
	}
	if _, err := e.DumpStats(); !errors.Is(err, ErrClosed) {
		t.Errorf("DumpStats = %v", err)
	}
	if err := e.RewriteLog(); !errors.Is(err, ErrClosed) {
		t.Errorf("RewriteLog = %v", err)
	}
}
