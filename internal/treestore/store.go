// Package treestore is a log-structured store of named ordered trees.
//
// All state lives in memory as copy-on-write B-trees and is made durable by
// one append-only commit log. Every commit appends one framed record holding
// an encoded write batch, then publishes a new immutable Version through an
// atomic pointer. Readers load the current Version without locking; a
// snapshot is a retained Version.
//
// On open the log is replayed from the start. A torn tail, left by a crash in
// the middle of an append, is truncated unless ParanoidChecks is set.
// RewriteLog compacts the log to one record per tree.
package treestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/internal/ordtree"
	"github.com/aalhour/treekv/internal/record"
	"github.com/aalhour/treekv/vfs"
)

const (
	// LogFileName is the commit log inside the store directory.
	LogFileName = "COMMITLOG"

	// LockFileName guards the directory against a second opener.
	LockFileName = "LOCK"

	// DefaultTree always exists and has id 0.
	DefaultTree = "default"

	rewriteSuffix = ".rewrite"
)

// Commit log record kinds.
const (
	kindTreeDef byte = 1
	kindBatch   byte = 2
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("treestore: store is closed")

	// ErrCorruption is returned when the commit log cannot be replayed.
	ErrCorruption = errors.New("treestore: corruption")

	// ErrBackground is returned by writes after a commit log append or sync
	// failed. The store must be reopened.
	ErrBackground = errors.New("treestore: writes stopped after a commit log failure")

	// ErrUnknownTree is returned for a tree name or id the store does not have.
	ErrUnknownTree = errors.New("treestore: unknown tree")

	// ErrNotExist is returned when the directory is missing and
	// CreateIfMissing is false.
	ErrNotExist = errors.New("treestore: store does not exist")

	// ErrExists is returned when ErrorIfExists is set and a store exists.
	ErrExists = errors.New("treestore: store already exists")
)

// Options configures Open.
type Options struct {
	// FS is the filesystem. Nil means vfs.Default().
	FS vfs.FS

	// Logger receives store events. Nil means a WARN level stderr logger.
	Logger logging.Logger

	// CreateIfMissing creates the directory and an empty log when missing.
	CreateIfMissing bool

	// ErrorIfExists fails Open when a commit log already exists.
	ErrorIfExists bool

	// Trees lists the trees to create if they do not exist yet. The default
	// tree is always present.
	Trees []string

	// ParanoidChecks fails Open on any commit log damage instead of
	// truncating a torn tail.
	ParanoidChecks bool

	// RewriteLogThreshold triggers RewriteLog after a commit once the log
	// exceeds this many bytes. Zero disables automatic rewrites.
	RewriteLogThreshold int64
}

// Store is a set of named ordered trees backed by a commit log.
type Store struct {
	dir    string
	fs     vfs.FS
	logger logging.Logger
	opts   Options

	lock io.Closer

	// mu serializes commits, syncs, rewrites and Close.
	mu          sync.Mutex
	logFile     vfs.WritableFile
	log         *record.Writer
	logSize     int64
	nextRewrite int64
	bgErr       error
	closed      bool

	current atomic.Pointer[Version]

	snapMu    sync.Mutex
	snapshots map[*Snapshot]struct{}
}

// Open opens or creates the store in dir.
func Open(dir string, opts Options) (*Store, error) {
	fs := vfs.OrDefault(opts.FS)
	logger := logging.OrDefault(opts.Logger)

	if !fs.Exists(dir) {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
		}
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("treestore: create %s: %w", dir, err)
		}
	}

	logPath := filepath.Join(dir, LogFileName)
	if opts.ErrorIfExists && fs.Exists(logPath) {
		return nil, fmt.Errorf("%w: %s", ErrExists, dir)
	}

	lock, err := fs.Lock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, fmt.Errorf("treestore: lock %s: %w", dir, err)
	}

	s := &Store{
		dir:       dir,
		fs:        fs,
		logger:    logger,
		opts:      opts,
		lock:      lock,
		snapshots: make(map[*Snapshot]struct{}),
	}

	v, end, err := s.replay(logPath)
	if err != nil {
		_ = lock.Close()
		return nil, err
	}

	if err := s.openLog(logPath, end); err != nil {
		_ = lock.Close()
		return nil, err
	}

	v, err = s.defineTrees(v, opts.Trees)
	if err != nil {
		_ = s.logFile.Close()
		_ = lock.Close()
		return nil, err
	}
	s.current.Store(v)
	s.resetRewriteTrigger()

	logger.Infof(logging.NSStore+"opened %s: %d trees, seq %d, log %d bytes", dir, len(v.names), v.seq, s.logSize)
	return s, nil
}

func (s *Store) openLog(logPath string, size int64) error {
	f, err := s.fs.OpenAppend(logPath)
	if err != nil {
		return fmt.Errorf("treestore: open commit log: %w", err)
	}
	s.logFile = f
	s.log = record.NewWriter(f, size)
	s.logSize = size
	return nil
}

// defineTrees appends a definition record for every name v does not know.
func (s *Store) defineTrees(v *Version, names []string) (*Version, error) {
	for _, name := range names {
		if _, ok := v.ids[name]; ok {
			continue
		}
		id := v.nextID()
		if _, err := s.appendRecord(encodeTreeDef(id, name)); err != nil {
			return nil, fmt.Errorf("treestore: define tree %q: %w", name, err)
		}
		v = v.withTree(id, name, ordtree.New())
		s.logger.Infof(logging.NSStore+"created tree %q (id %d)", name, id)
	}
	if err := s.logFile.Sync(); err != nil {
		return nil, fmt.Errorf("treestore: sync commit log: %w", err)
	}
	return v, nil
}

func (s *Store) appendRecord(rec []byte) (int, error) {
	n, err := s.log.AddRecord(rec)
	s.logSize += int64(n)
	return n, err
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Logger returns the store logger.
func (s *Store) Logger() logging.Logger {
	return s.logger
}

// Current returns the latest committed Version.
func (s *Store) Current() *Version {
	return s.current.Load()
}

// LogSize returns the size of the commit log in bytes.
func (s *Store) LogSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logSize
}

// Sync fsyncs the commit log.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.bgErr != nil {
		return fmt.Errorf("%w: %v", ErrBackground, s.bgErr)
	}
	if err := s.logFile.Sync(); err != nil {
		s.setBackgroundError("sync", err)
		return fmt.Errorf("treestore: sync commit log: %w", err)
	}
	return nil
}

// Close closes the commit log and releases the directory lock. Snapshots
// taken before Close keep working.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	var errs []error
	if s.bgErr == nil {
		if err := s.logFile.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("treestore: sync commit log: %w", err))
		}
	}
	if err := s.logFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("treestore: close commit log: %w", err))
	}
	if err := s.lock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("treestore: unlock: %w", err))
	}
	return errors.Join(errs...)
}

// setBackgroundError stops writes. Caller holds s.mu.
func (s *Store) setBackgroundError(op string, err error) {
	if s.bgErr != nil {
		return
	}
	s.bgErr = err
	s.logger.Fatalf(logging.NSStore+"commit log %s failed, rejecting writes: %v", op, err)
}

// Exists reports whether dir holds a commit log.
func Exists(fs vfs.FS, dir string) bool {
	return vfs.OrDefault(fs).Exists(filepath.Join(dir, LogFileName))
}

// IsNotExist reports whether err means the store directory is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist) || errors.Is(err, os.ErrNotExist)
}
