// Package main provides the sstdump CLI tool for inspecting SST files built
// by treekv.SstWriter.
//
// Usage:
//
//	sstdump --file=<path> [--command=<cmd>] [options]
//
// Commands:
//
//	scan            Scan all entries (default)
//	properties      Show SST file properties
//	check           Verify framing and block checksums
package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aalhour/treekv"
)

var (
	filePath   = flag.String("file", "", "Path to the SST file (required)")
	command    = flag.String("command", "scan", "Command: scan, properties, check")
	hexOutput  = flag.Bool("hex", false, "Output keys and values in hex format")
	limit      = flag.Int("limit", 0, "Limit number of entries (0 = unlimited)")
	fromKey    = flag.String("from", "", "Start key for scan")
	toKey      = flag.String("to", "", "End key for scan (exclusive)")
	reverse    = flag.Bool("reverse", false, "Scan from the largest key down")
	showValues = flag.Bool("values", true, "Show values in scan output")
	help       = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file flag is required")
		printUsage()
		os.Exit(1)
	}

	var err error
	switch *command {
	case "scan":
		err = cmdScan(os.Stdout, *filePath)
	case "properties":
		err = cmdProperties(os.Stdout, *filePath)
	case "check":
		err = cmdCheck(os.Stdout, *filePath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("sstdump - treekv SST file inspection tool")
	fmt.Println()
	fmt.Println("Usage: sstdump --file=<path> [--command=<cmd>] [options]")
	fmt.Println()
	fmt.Println("Commands (--command):")
	fmt.Println("  scan        Scan all entries (default)")
	fmt.Println("  properties  Show SST file properties")
	fmt.Println("  check       Verify framing and block checksums")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func formatOutput(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	// Print as string if printable, else hex
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if len(s) > 2 && s[:2] == "0x" {
		if decoded, err := hex.DecodeString(s[2:]); err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdScan(out io.Writer, path string) error {
	reader, err := treekv.OpenSstReader(path)
	if err != nil {
		return fmt.Errorf("failed to open SST: %w", err)
	}
	defer reader.Close()

	opts := &treekv.IterOptions{}
	if *fromKey != "" {
		opts.LowerBound = parseInput(*fromKey)
	}
	if *toKey != "" {
		opts.UpperBound = parseInput(*toKey)
	}
	iter, err := reader.NewIterator(opts)
	if err != nil {
		return err
	}
	defer iter.Close()
	cur := iter.(*treekv.CursorIterator)

	fmt.Fprintf(out, "SST file: %s (cf %s)\n", path, reader.CF())
	fmt.Fprintln(out, "---")

	move, start := cur.Next, treekv.SeekStart
	if *reverse {
		move, start = cur.Prev, treekv.SeekEnd
	}

	count, tombstones := 0, 0
	var keyBytes, valueBytes int64
	ok, err := cur.Seek(start)
	for ; ok; ok, err = move() {
		key, value := cur.Key(), cur.Value()
		switch {
		case cur.Tombstone():
			fmt.Fprintf(out, "%s => (deleted)\n", formatOutput(key))
			tombstones++
		case *showValues:
			fmt.Fprintf(out, "%s => %s\n", formatOutput(key), formatOutput(value))
		default:
			fmt.Fprintf(out, "%s\n", formatOutput(key))
		}
		keyBytes += int64(len(key))
		valueBytes += int64(len(value))
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	fmt.Fprintln(out, "---")
	fmt.Fprintf(out, "Total entries: %d (%d deletions)\n", count, tombstones)
	fmt.Fprintf(out, "Total key bytes: %d\n", keyBytes)
	fmt.Fprintf(out, "Total value bytes: %d\n", valueBytes)
	return nil
}

func cmdProperties(out io.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	reader, err := treekv.OpenSstReader(path)
	if err != nil {
		return fmt.Errorf("failed to open SST: %w", err)
	}
	defer reader.Close()
	props := reader.Properties()

	fmt.Fprintf(out, "SST file: %s\n", path)
	fmt.Fprintln(out, "---")
	fmt.Fprintf(out, "File name: %s\n", filepath.Base(path))
	fmt.Fprintf(out, "File size: %d bytes\n", info.Size())
	fmt.Fprintf(out, "Column family: %s\n", props.CF)
	fmt.Fprintf(out, "Compression: %s\n", props.Compression)
	fmt.Fprintf(out, "Number of entries: %d\n", props.NumEntries)
	fmt.Fprintf(out, "Number of blocks: %d\n", props.NumBlocks)
	fmt.Fprintf(out, "Raw size: %d bytes\n", props.RawSize)
	if props.RawSize > 0 {
		fmt.Fprintf(out, "Compression ratio: %.2f\n", float64(info.Size())/float64(props.RawSize))
	}
	fmt.Fprintf(out, "Smallest key: %s\n", formatOutput(props.SmallestKey))
	fmt.Fprintf(out, "Largest key: %s\n", formatOutput(props.LargestKey))
	if sum, err := treekv.FileChecksum(path); err == nil {
		fmt.Fprintf(out, "CRC32C: %#08x\n", sum)
	}
	return nil
}

func cmdCheck(out io.Writer, path string) error {
	fmt.Fprintf(out, "Checking SST file: %s\n", path)
	fmt.Fprintln(out, "---")

	reader, err := treekv.OpenSstReader(path)
	if err != nil {
		if errors.Is(err, treekv.ErrCorruption) {
			fmt.Fprintf(out, "Framing check: FAILED (%v)\n", err)
		}
		return fmt.Errorf("failed to open SST: %w", err)
	}
	defer reader.Close()
	fmt.Fprintln(out, "Framing check: PASSED")

	if err := reader.VerifyChecksum(); err != nil {
		fmt.Fprintf(out, "Block checksum verification: FAILED (%v)\n", err)
		return err
	}
	fmt.Fprintln(out, "Block checksum verification: PASSED")

	props := reader.Properties()
	if len(props.SmallestKey) > 0 && bytes.Compare(props.SmallestKey, props.LargestKey) > 0 {
		return fmt.Errorf("smallest key %s sorts after largest key %s",
			formatOutput(props.SmallestKey), formatOutput(props.LargestKey))
	}
	fmt.Fprintf(out, "Verified %d entries in %d blocks\n", props.NumEntries, props.NumBlocks)
	fmt.Fprintln(out, "SST file is valid")
	return nil
}
