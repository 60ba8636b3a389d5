package treekv

import (
	"fmt"
	"strings"

	"github.com/aalhour/treekv/internal/treestore"
)

// Flush makes committed writes durable. Writes reach the commit log when
// they commit, so only sync has an effect.
func (e *Engine) Flush(sync bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !sync {
		return nil
	}
	return e.Sync()
}

// FlushCF flushes cf. The commit log is shared by all column families.
func (e *Engine) FlushCF(cf string, sync bool) error {
	v, err := e.current()
	if err != nil {
		return err
	}
	if _, err := lookupTree(v, cf); err != nil {
		return err
	}
	return e.Flush(sync)
}

// Path returns the engine directory.
func (e *Engine) Path() string {
	return e.shared.path
}

// UsedSize returns the size of the commit log.
func (e *Engine) UsedSize() (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	return uint64(e.shared.store.LogSize()), nil
}

// LatestSequenceNumber returns the sequence number of the last commit.
func (e *Engine) LatestSequenceNumber() uint64 {
	return e.shared.store.Current().Seq()
}

// OldestSnapshotSequenceNumber returns the sequence number of the oldest
// live snapshot.
func (e *Engine) OldestSnapshotSequenceNumber() (uint64, bool) {
	return e.shared.store.OldestSnapshotSeq()
}

// RewriteLog rewrites the commit log to one record per column family.
func (e *Engine) RewriteLog() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return storeError("rewrite log", e.shared.path, e.shared.store.RewriteLog())
}

// DumpStats returns a human-readable summary of the engine.
func (e *Engine) DumpStats() (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	st := e.shared.store.Stats()

	var sb strings.Builder
	fmt.Fprintf(&sb, "** treekv stats: %s **\n", e.shared.path)
	fmt.Fprintf(&sb, "sequence: %d\n", st.Seq)
	fmt.Fprintf(&sb, "commit log: %d bytes\n", st.LogSize)
	if st.Snapshots > 0 {
		fmt.Fprintf(&sb, "snapshots: %d (oldest seq %d)\n", st.Snapshots, st.OldestSnapshotSeq)
	} else {
		sb.WriteString("snapshots: 0\n")
	}
	for _, t := range st.Trees {
		fmt.Fprintf(&sb, "cf %-10s id %-3d keys %d\n", t.Name, t.ID, t.Keys)
	}
	return sb.String(), nil
}

// Exists reports whether path holds a tree engine.
func Exists(path string) bool {
	return treestore.Exists(nil, path)
}
