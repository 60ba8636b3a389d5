// Package vfs provides the filesystem abstraction used by the tree store and
// the SST writer.
//
// Production code uses Default, which maps every call onto the os package.
// Tests wrap it with FaultInjectionFS to make writes or syncs fail at a chosen
// moment and to check that the store neither publishes nor persists a
// half-applied commit.
package vfs

import (
	"io"
	"os"
)

// FS is the filesystem interface.
type FS interface {
	// Create creates a new writable file, truncating any existing one.
	Create(name string) (WritableFile, error)

	// OpenAppend opens name for appending, creating it when missing.
	OpenAppend(name string) (WritableFile, error)

	// Open opens an existing file for sequential reading.
	Open(name string) (io.ReadCloser, error)

	// Rename atomically renames a file.
	Rename(oldname, newname string) error

	// Remove deletes a file.
	Remove(name string) error

	// Truncate changes the size of the named file.
	Truncate(name string, size int64) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info.
	Stat(name string) (os.FileInfo, error)

	// Exists returns true if the file exists.
	Exists(name string) bool

	// Lock acquires an exclusive lock on a file.
	// The returned Closer releases it.
	Lock(name string) (io.Closer, error)

	// SyncDir syncs a directory so renames and creations in it are durable.
	SyncDir(path string) error
}

// WritableFile is a file that can be appended to.
type WritableFile interface {
	io.Writer
	io.Closer

	// Sync flushes the file contents to stable storage.
	Sync() error

	// Size returns the current file size.
	Size() (int64, error)
}

type osFS struct{}

// Default returns the OS filesystem.
func Default() FS {
	return osFS{}
}

// OrDefault returns fs, or Default when fs is nil.
func OrDefault(fs FS) FS {
	if fs == nil {
		return Default()
	}
	return fs
}

func (osFS) Create(name string) (WritableFile, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &osWritableFile{f: f}, nil
}

func (osFS) OpenAppend(name string) (WritableFile, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &osWritableFile{f: f}, nil
}

func (osFS) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (osFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (osFS) Remove(name string) error {
	return os.Remove(name)
}

func (osFS) Truncate(name string, size int64) error {
	return os.Truncate(name, size)
}

func (osFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (osFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (osFS) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (osFS) Lock(name string) (io.Closer, error) {
	return lockFile(name)
}

func (osFS) SyncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	syncErr := dir.Sync()
	closeErr := dir.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

type osWritableFile struct {
	f *os.File
}

func (wf *osWritableFile) Write(p []byte) (int, error) {
	return wf.f.Write(p)
}

func (wf *osWritableFile) Close() error {
	return wf.f.Close()
}

func (wf *osWritableFile) Sync() error {
	return wf.f.Sync()
}

func (wf *osWritableFile) Size() (int64, error) {
	info, err := wf.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
