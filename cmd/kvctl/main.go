// Package main provides the kvctl CLI tool for reading and writing treekv
// engines of any backend.
//
// Usage:
//
//	kvctl [--config=<file>] [--db=<path>] [--backend=<name>] <command> [args]
//
// Commands:
//
//	get <key>                 Get value for a key
//	put <key> <val>           Put a key-value pair
//	delete <key>              Delete a key
//	scan                      Scan key-value pairs
//	delete_range <from> <to>  Delete [from, to)
//	ingest <sst>...           Ingest SST files
//	cfs                       List column families
//	stats                     Print engine statistics
//	rewrite                   Rewrite the commit log (tree) or compact (leveldb)
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/boltdb"
	"github.com/aalhour/treekv/leveldb"
)

var (
	configPath      = flag.String("config", "", "Path to a TOML config file")
	dbPath          = flag.String("db", "", "Path to the database")
	backendFlag     = flag.String("backend", "tree", "Backend: tree, leveldb, bolt")
	cfName          = flag.String("cf", treekv.CFDefault, "Column family")
	hexOutput       = flag.Bool("hex", false, "Output keys and values in hex format")
	limit           = flag.Int("limit", 0, "Limit number of entries (0 = unlimited)")
	fromKey         = flag.String("from", "", "Start key for scan")
	toKey           = flag.String("to", "", "End key for scan (exclusive)")
	reverse         = flag.Bool("reverse", false, "Scan from the largest key down")
	moveFiles       = flag.Bool("move", false, "Remove SST files after ingesting them")
	createIfMissing = flag.Bool("create_if_missing", true, "Create database if it doesn't exist")
	paranoid        = flag.Bool("paranoid", false, "Fail on any corruption found while opening")
	syncWrites      = flag.Bool("sync", false, "Sync after every write")
	logLevel        = flag.String("log_level", "warn", "Log level: error, warn, info, debug")
	help            = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help || len(flag.Args()) == 0 {
		printUsage()
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err == nil {
		cfg.applyFlags(flag.CommandLine)
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(os.Stdout, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("kvctl - treekv engine tool")
	fmt.Println()
	fmt.Println("Usage: kvctl [--config=<file>] [--db=<path>] [--backend=<name>] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  get <key>                 Get value for a key")
	fmt.Println("  put <key> <val>           Put a key-value pair")
	fmt.Println("  delete <key>              Delete a key")
	fmt.Println("  scan                      Scan key-value pairs (--from, --to, --limit, --reverse)")
	fmt.Println("  delete_range <from> <to>  Delete keys in [from, to)")
	fmt.Println("  ingest <sst>...           Ingest SST files into --cf")
	fmt.Println("  cfs                       List column families")
	fmt.Println("  stats                     Print engine statistics")
	fmt.Println("  rewrite                   Rewrite the commit log (tree) or compact (leveldb)")
	fmt.Println()
	fmt.Println("Keys and values starting with 0x are decoded as hex.")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

// openEngine opens the backend the config names.
func openEngine(cfg *Config) (treekv.KvEngine, error) {
	opts := cfg.Options()
	switch cfg.Backend {
	case "leveldb":
		return leveldb.Open(cfg.DBPath, opts)
	case "bolt":
		return boltdb.Open(cfg.DBPath, opts)
	default:
		return treekv.Open(cfg.DBPath, opts)
	}
}

func run(out io.Writer, cfg *Config, command string, args []string) (err error) {
	cmd, ok := commands[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	if len(args) < cmd.minArgs {
		return fmt.Errorf("usage: kvctl %s", cmd.usage)
	}

	db, err := openEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	return cmd.fn(out, db, cfg, args)
}

type command struct {
	usage   string
	minArgs int
	fn      func(out io.Writer, db treekv.KvEngine, cfg *Config, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"get":          {"get <key>", 1, cmdGet},
		"put":          {"put <key> <value>", 2, cmdPut},
		"delete":       {"delete <key>", 1, cmdDelete},
		"scan":         {"scan", 0, cmdScan},
		"delete_range": {"delete_range <from> <to>", 2, cmdDeleteRange},
		"ingest":       {"ingest <sst>...", 1, cmdIngest},
		"cfs":          {"cfs", 0, cmdCFs},
		"stats":        {"stats", 0, cmdStats},
		"rewrite":      {"rewrite", 0, cmdRewrite},
	}
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
	if strings.HasPrefix(s, "0x") {
		if decoded, err := hex.DecodeString(s[2:]); err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdGet(out io.Writer, db treekv.KvEngine, _ *Config, args []string) error {
	value, err := db.GetCF(*cfName, parseInput(args[0]))
	if errors.Is(err, treekv.ErrNotFound) {
		return fmt.Errorf("key %s not found in cf %s", args[0], *cfName)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, formatOutput(value))
	return nil
}

// write commits fn's operations in one batch, synced if the config asks
// for it.
func write(db treekv.KvEngine, cfg *Config, fn func(wb treekv.WriteBatch) error) error {
	wb := db.NewWriteBatch()
	defer wb.Close()
	if err := fn(wb); err != nil {
		return err
	}
	return wb.WriteOpt(&treekv.WriteOptions{Sync: cfg.Engine.Sync})
}

func cmdPut(out io.Writer, db treekv.KvEngine, cfg *Config, args []string) error {
	err := write(db, cfg, func(wb treekv.WriteBatch) error {
		return wb.PutCF(*cfName, parseInput(args[0]), parseInput(args[1]))
	})
	if err != nil {
		return fmt.Errorf("put failed: %w", err)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

func cmdDelete(out io.Writer, db treekv.KvEngine, cfg *Config, args []string) error {
	err := write(db, cfg, func(wb treekv.WriteBatch) error {
		return wb.DeleteCF(*cfName, parseInput(args[0]))
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

func cmdDeleteRange(out io.Writer, db treekv.KvEngine, cfg *Config, args []string) error {
	err := write(db, cfg, func(wb treekv.WriteBatch) error {
		return wb.DeleteRangeCF(*cfName, parseInput(args[0]), parseInput(args[1]))
	})
	if err != nil {
		return fmt.Errorf("delete_range failed: %w", err)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

func cmdScan(out io.Writer, db treekv.KvEngine, _ *Config, _ []string) error {
	opts := &treekv.IterOptions{}
	if *fromKey != "" {
		opts.LowerBound = parseInput(*fromKey)
	}
	if *toKey != "" {
		opts.UpperBound = parseInput(*toKey)
	}

	// Scan a snapshot so the output is one consistent view.
	snap := db.Snapshot()
	defer snap.Release()
	iter, err := snap.NewIteratorCF(*cfName, opts)
	if err != nil {
		return err
	}
	defer iter.Close()

	move, start := iter.Next, treekv.SeekStart
	if *reverse {
		move, start = iter.Prev, treekv.SeekEnd
	}
	count := 0
	ok, err := iter.Seek(start)
	for ; ok; ok, err = move() {
		fmt.Fprintf(out, "%s => %s\n", formatOutput(iter.Key()), formatOutput(iter.Value()))
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}
	fmt.Fprintf(out, "\n(%d entries scanned at seq %d)\n", count, snap.Sequence())
	return nil
}

func cmdIngest(out io.Writer, db treekv.KvEngine, _ *Config, args []string) error {
	opts := treekv.DefaultIngestOptions()
	opts.MoveFiles = *moveFiles
	if err := db.IngestExternalFileCF(*cfName, opts, args...); err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	fmt.Fprintf(out, "ingested %d files into cf %s at seq %d\n", len(args), *cfName, db.LatestSequenceNumber())
	return nil
}

func cmdCFs(out io.Writer, db treekv.KvEngine, _ *Config, _ []string) error {
	for _, name := range db.CFNames() {
		fmt.Fprintln(out, name)
	}
	return nil
}

func cmdStats(out io.Writer, db treekv.KvEngine, _ *Config, _ []string) error {
	stats, err := db.DumpStats()
	if err != nil {
		return err
	}
	fmt.Fprint(out, stats)
	return nil
}

func cmdRewrite(out io.Writer, db treekv.KvEngine, _ *Config, _ []string) error {
	before, err := db.UsedSize()
	if err != nil {
		return err
	}
	switch e := db.(type) {
	case interface{ RewriteLog() error }:
		err = e.RewriteLog()
	case interface{ Compact() error }:
		err = e.Compact()
	default:
		return fmt.Errorf("backend does not support rewrite")
	}
	if err != nil {
		return err
	}
	after, err := db.UsedSize()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "used size %d -> %d bytes\n", before, after)
	return nil
}
