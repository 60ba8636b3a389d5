package treestore

import (
	"fmt"
	"path/filepath"

	"github.com/aalhour/treekv/internal/batch"
	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/internal/ordtree"
	"github.com/aalhour/treekv/internal/record"
)

// RewriteLog replaces the commit log with one holding the tree definitions
// and one batch per non-empty tree. The new log is written next to the old
// one and renamed over it, so a crash leaves one of the two intact.
func (s *Store) RewriteLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.bgErr != nil {
		return fmt.Errorf("%w: %v", ErrBackground, s.bgErr)
	}
	return s.rewriteLocked()
}

func (s *Store) rewriteLocked() error {
	v := s.current.Load()
	logPath := filepath.Join(s.dir, LogFileName)
	tmpPath := logPath + rewriteSuffix
	before := s.logSize

	size, err := s.writeCompactLog(tmpPath, v)
	if err != nil {
		_ = s.fs.Remove(tmpPath)
		return err
	}
	if err := s.fs.Rename(tmpPath, logPath); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("treestore: install rewritten log: %w", err)
	}

	// The old file is gone from the directory; every failure from here on
	// leaves the store without a usable log handle.
	_ = s.logFile.Close()
	if err := s.openLog(logPath, size); err != nil {
		s.setBackgroundError("rewrite", err)
		return err
	}
	if err := s.fs.SyncDir(s.dir); err != nil {
		s.setBackgroundError("rewrite", err)
		return fmt.Errorf("treestore: sync dir: %w", err)
	}
	s.resetRewriteTrigger()
	s.logger.Infof(logging.NSStore+"rewrote commit log: %d -> %d bytes at seq %d", before, size, v.seq)
	return nil
}

func (s *Store) writeCompactLog(path string, v *Version) (int64, error) {
	f, err := s.fs.Create(path)
	if err != nil {
		return 0, fmt.Errorf("treestore: create rewritten log: %w", err)
	}
	w := record.NewWriter(f, 0)
	var size int64
	write := func(rec []byte) error {
		n, err := w.AddRecord(rec)
		size += int64(n)
		return err
	}

	var werr error
	for _, name := range v.names {
		if name == DefaultTree {
			continue
		}
		if werr = write(encodeTreeDef(v.ids[name], name)); werr != nil {
			break
		}
	}
	batches := 0
	for _, name := range v.names {
		if werr != nil {
			break
		}
		id := v.ids[name]
		t := v.trees[id]
		if t.Len() == 0 {
			continue
		}
		b := batch.New()
		t.Ascend(func(it ordtree.Item) bool {
			b.Put(id, it.Key, it.Value)
			return true
		})
		b.SetSequence(v.seq)
		werr = write(encodeBatch(b))
		batches++
	}
	if werr == nil && batches == 0 && v.seq > 0 {
		// Keep the sequence number of an empty store.
		b := batch.New()
		b.SetSequence(v.seq)
		werr = write(encodeBatch(b))
	}
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return 0, fmt.Errorf("treestore: write rewritten log: %w", werr)
	}
	return size, nil
}

func (s *Store) resetRewriteTrigger() {
	s.nextRewrite = max(s.opts.RewriteLogThreshold, 2*s.logSize)
}

// TreeStats describes one tree.
type TreeStats struct {
	Name string
	ID   uint32
	Keys int
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Seq               uint64
	LogSize           int64
	Trees             []TreeStats
	Snapshots         int
	OldestSnapshotSeq uint64
}

// Stats returns a summary of the current Version and the commit log.
func (s *Store) Stats() Stats {
	v := s.current.Load()
	st := Stats{
		Seq:       v.seq,
		LogSize:   s.LogSize(),
		Snapshots: s.NumSnapshots(),
	}
	st.OldestSnapshotSeq, _ = s.OldestSnapshotSeq()
	for _, name := range v.names {
		id := v.ids[name]
		st.Trees = append(st.Trees, TreeStats{Name: name, ID: id, Keys: v.trees[id].Len()})
	}
	return st
}
