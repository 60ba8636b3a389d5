// Commit log dump utility for treekv.
//
// Use `logdump` to print the records of a tree engine's COMMITLOG: tree
// definitions and committed batches with their sequence numbers.
//
// Run the tool:
//
// ```bash
// ./bin/logdump [--ops] [--hex] <engine-dir | COMMITLOG>
// ```
//
// Output ends with the record count, the last sequence number and, if
// the log has a damaged tail, the offset replay would truncate at.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aalhour/treekv/internal/record"
	"github.com/aalhour/treekv/internal/treestore"
)

var (
	showOps   = flag.Bool("ops", false, "Print the operations of every batch")
	hexOutput = flag.Bool("hex", false, "Print keys and values in hex")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Println("Usage: logdump [--ops] [--hex] <engine-dir | COMMITLOG>")
		os.Exit(1)
	}

	if err := dump(os.Stdout, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logPath accepts either an engine directory or the log file itself.
func logPath(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return filepath.Join(path, treestore.LogFileName), nil
	}
	return path, nil
}

func dump(out io.Writer, path string) error {
	path, err := logPath(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := record.NewReader(f)
	// The default tree exists without a definition record.
	names := map[uint32]string{0: treestore.DefaultTree}
	var (
		count   int
		lastSeq uint64
	)
	for {
		rec, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			var decoded treestore.Record
			decoded, err = treestore.DecodeRecord(rec)
			if err == nil {
				count++
				if decoded.Batch == nil {
					names[decoded.TreeID] = decoded.TreeName
					fmt.Fprintf(out, "#%d define tree %d %q\n", count, decoded.TreeID, decoded.TreeName)
					continue
				}
				b := decoded.Batch
				lastSeq = b.Sequence()
				fmt.Fprintf(out, "#%d batch seq=%d ops=%d bytes=%d\n", count, b.Sequence(), b.Count(), b.Size())
				if *showOps {
					if err := b.Iterate(&opPrinter{out: out, names: names}); err != nil {
						return fmt.Errorf("record %d: %w", count, err)
					}
				}
				continue
			}
		}
		fmt.Fprintf(out, "damaged tail after record %d at offset %d: %v\n", count, r.LastRecordEnd(), err)
		break
	}

	fmt.Fprintf(out, "\nTotal records: %d\n", count)
	fmt.Fprintf(out, "Last sequence: %d\n", lastSeq)
	return nil
}

type opPrinter struct {
	out   io.Writer
	names map[uint32]string
}

func (p *opPrinter) tree(id uint32) string {
	if name, ok := p.names[id]; ok {
		return name
	}
	return fmt.Sprintf("?%d", id)
}

func (p *opPrinter) Put(id uint32, key, value []byte) error {
	fmt.Fprintf(p.out, "  put %s %s => %s\n", p.tree(id), format(key), format(value))
	return nil
}

func (p *opPrinter) Delete(id uint32, key []byte) error {
	fmt.Fprintf(p.out, "  delete %s %s\n", p.tree(id), format(key))
	return nil
}

func (p *opPrinter) DeleteRange(id uint32, begin, end []byte) error {
	fmt.Fprintf(p.out, "  delete_range %s [%s, %s)\n", p.tree(id), format(begin), format(end))
	return nil
}

func format(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}
