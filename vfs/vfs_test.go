package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFS_AppendAndTruncate(t *testing.T) {
	dir := t.TempDir()
	fs := Default()
	name := filepath.Join(dir, "log")

	f, err := fs.OpenAppend(name)
	if err != nil {
		t.Fatalf("OpenAppend: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err = fs.OpenAppend(name)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.Write([]byte(" world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if size, _ := f.Size(); size != 11 {
		t.Errorf("Size = %d, want 11", size)
	}
	_ = f.Close()

	if err := fs.Truncate(name, 5); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	data, _ := os.ReadFile(name)
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}
	if err := fs.SyncDir(dir); err != nil {
		t.Errorf("SyncDir: %v", err)
	}
}

func TestOSFS_LockIsExclusive(t *testing.T) {
	fs := Default()
	name := filepath.Join(t.TempDir(), "LOCK")

	l, err := fs.Lock(name)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := lockFile(name); err == nil && !isWindows() {
		t.Error("second lock on the same file should fail")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	l2, err := fs.Lock(name)
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	_ = l2.Close()
}

func TestFaultInjectionFS_WriteErrorAfter(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	fs.InjectWriteError("COMMITLOG", 1)

	other, err := fs.Create(filepath.Join(dir, "other"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Write([]byte("x")); err != nil {
		t.Errorf("write to unmatched file failed: %v", err)
	}
	_ = other.Close()

	name := filepath.Join(dir, "COMMITLOG")
	f, err := fs.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("first")); err != nil {
		t.Fatalf("first write should pass: %v", err)
	}
	n, err := f.Write([]byte("second"))
	if !errors.Is(err, ErrInjectedWriteError) {
		t.Fatalf("second write err = %v, want injected error", err)
	}
	if n != 3 {
		t.Errorf("partial write n = %d, want 3", n)
	}
	if _, err := f.Write([]byte("third")); err != nil {
		t.Errorf("error should fire once, got %v", err)
	}
	_ = f.Close()

	data, _ := os.ReadFile(name)
	if string(data) != "firstsecthird" {
		t.Errorf("content = %q", data)
	}
}

func TestFaultInjectionFS_SyncError(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultInjectionFS(Default())
	f, err := fs.Create(filepath.Join(dir, "f"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	fs.InjectSyncError()
	if err := f.Sync(); !errors.Is(err, ErrInjectedSyncError) {
		t.Errorf("Sync err = %v", err)
	}
	if err := fs.SyncDir(dir); !errors.Is(err, ErrInjectedSyncError) {
		t.Errorf("SyncDir err = %v", err)
	}
	fs.ClearErrors()
	if err := f.Sync(); err != nil {
		t.Errorf("Sync after clear: %v", err)
	}
}
