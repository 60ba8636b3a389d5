package vfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")

	// ErrInjectedSyncError is returned when a sync error is injected.
	ErrInjectedSyncError = errors.New("vfs: injected sync error")
)

// FaultInjectionFS wraps an FS and fails writes or syncs on demand.
//
// A write error can be armed for one file (matched by base name) or for all
// files, optionally after a number of successful writes. A failing write is
// partial: the first half of the buffer reaches the file, which is how a
// crash in the middle of an append looks on disk.
type FaultInjectionFS struct {
	base FS

	mu              sync.Mutex
	writeErrorName  string
	writeErrorAfter int
	writeArmed      bool
	syncArmed       bool
	writes          int
}

// NewFaultInjectionFS wraps base.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{base: base}
}

// InjectWriteError makes writes to files whose base name is name fail once
// after writes have succeeded. An empty name matches every file.
func (fs *FaultInjectionFS) InjectWriteError(name string, after int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writeArmed = true
	fs.writeErrorName = name
	fs.writeErrorAfter = after
	fs.writes = 0
}

// InjectSyncError makes every Sync and SyncDir fail until cleared.
func (fs *FaultInjectionFS) InjectSyncError() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.syncArmed = true
}

// ClearErrors disarms all injected errors.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writeArmed = false
	fs.syncArmed = false
	fs.writeErrorName = ""
	fs.writes = 0
}

func (fs *FaultInjectionFS) shouldFailWrite(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.writeArmed {
		return false
	}
	if fs.writeErrorName != "" && fs.writeErrorName != filepath.Base(name) {
		return false
	}
	if fs.writes < fs.writeErrorAfter {
		fs.writes++
		return false
	}
	fs.writeArmed = false
	return true
}

func (fs *FaultInjectionFS) shouldFailSync() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.syncArmed
}

func (fs *FaultInjectionFS) wrap(name string, f WritableFile, err error) (WritableFile, error) {
	if err != nil {
		return nil, err
	}
	return &faultFile{fs: fs, name: name, f: f}, nil
}

// Create implements FS.
func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	f, err := fs.base.Create(name)
	return fs.wrap(name, f, err)
}

// OpenAppend implements FS.
func (fs *FaultInjectionFS) OpenAppend(name string) (WritableFile, error) {
	f, err := fs.base.OpenAppend(name)
	return fs.wrap(name, f, err)
}

// Open implements FS.
func (fs *FaultInjectionFS) Open(name string) (io.ReadCloser, error) { return fs.base.Open(name) }

// Rename implements FS.
func (fs *FaultInjectionFS) Rename(o, n string) error { return fs.base.Rename(o, n) }

// Remove implements FS.
func (fs *FaultInjectionFS) Remove(name string) error { return fs.base.Remove(name) }

// Truncate implements FS.
func (fs *FaultInjectionFS) Truncate(name string, size int64) error {
	return fs.base.Truncate(name, size)
}

// MkdirAll implements FS.
func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	return fs.base.MkdirAll(path, perm)
}

// Stat implements FS.
func (fs *FaultInjectionFS) Stat(name string) (os.FileInfo, error) { return fs.base.Stat(name) }

// Exists implements FS.
func (fs *FaultInjectionFS) Exists(name string) bool { return fs.base.Exists(name) }

// Lock implements FS.
func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error) { return fs.base.Lock(name) }

// SyncDir implements FS.
func (fs *FaultInjectionFS) SyncDir(path string) error {
	if fs.shouldFailSync() {
		return ErrInjectedSyncError
	}
	return fs.base.SyncDir(path)
}

type faultFile struct {
	fs   *FaultInjectionFS
	name string
	f    WritableFile
}

func (ff *faultFile) Write(p []byte) (int, error) {
	if ff.fs.shouldFailWrite(ff.name) {
		n, _ := ff.f.Write(p[:len(p)/2])
		return n, ErrInjectedWriteError
	}
	return ff.f.Write(p)
}

func (ff *faultFile) Sync() error {
	if ff.fs.shouldFailSync() {
		return ErrInjectedSyncError
	}
	return ff.f.Sync()
}

func (ff *faultFile) Close() error         { return ff.f.Close() }
func (ff *faultFile) Size() (int64, error) { return ff.f.Size() }
