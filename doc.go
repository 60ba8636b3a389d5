/*
Package treekv provides an embeddable ordered key/value storage engine layer.

The package defines a capability contract (KvEngine, Snapshot, Iterator,
WriteBatch, ImportExt, MiscExt) and a reference backend, Engine, that keeps
each column family in a copy-on-write B-tree made durable by an append-only
commit log. The leveldb and bolt packages implement the same contract over
goleveldb and bbolt, and the enginetest package checks any backend against
it.

# Column families

A column family is an independent ordered key space. "default" always
exists; the others are created on Open from Options.ColumnFamilies. Using a
name the engine does not have fails with a *CFNameError.

# Iteration

Iterators are bidirectional cursors built on one-directional bounded scans.
Seek, SeekForPrev, Next and Prev report whether the iterator is positioned.
Reversing direction moves exactly one key. Key and Value panic on an
unpositioned iterator, and Next and Prev panic before the first seek.

# Bulk load

SstWriter writes a sorted run of entries into an SST file and SstReader
reads it back. IngestExternalFileCF applies SST files to an engine in one
atomic write.

# Concurrency

An Engine is safe for concurrent use by multiple goroutines. A Snapshot is
immutable and may be shared. Write batches and iterators are owned by one
goroutine.
*/
package treekv
