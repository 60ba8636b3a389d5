// Stress test for treekv engines.
//
// This tool runs concurrent random writes and reads against one backend and
// checks every read against an expected state oracle.
//
// Design:
//   - Keys are split into lock stripes. A writer holds the stripes of every
//     key it touches while it writes the engine and updates the oracle, so a
//     reader holding a stripe sees the engine and the oracle agree.
//   - Snapshot verification copies the oracle for one stripe when taking the
//     snapshot and compares later snapshot reads against that copy, while
//     other workers keep writing.
//   - A reopener periodically closes and reopens the engine and verifies
//     the whole key space against the oracle.
//
// Usage: go run ./cmd/stresstest [flags]
package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/boltdb"
	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/leveldb"
)

// config is one stress run. main fills it from flags.
type config struct {
	backend         string
	path            string
	duration        time.Duration
	numKeys         int64
	valueSize       int
	threads         int
	seed            int64
	reopenPeriod    time.Duration
	log2KeysPerLock uint
	sync            bool
	verbose         bool

	// Operation weights.
	putWeight            int
	getWeight            int
	deleteWeight         int
	batchWeight          int
	rangeDelWeight       int
	iterWeight           int
	snapshotVerifyWeight int
}

func main() {
	var cfg config
	flag.StringVar(&cfg.backend, "backend", "tree", "Backend: tree, leveldb, bolt")
	flag.StringVar(&cfg.path, "db", "", "Database path (default: temp directory)")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "Test duration")
	flag.Int64Var(&cfg.numKeys, "keys", 10000, "Number of keys in the key space")
	flag.IntVar(&cfg.valueSize, "value-size", 100, "Size of each value in bytes")
	flag.IntVar(&cfg.threads, "threads", 16, "Number of concurrent threads")
	flag.Int64Var(&cfg.seed, "seed", 0, "Random seed (0 for time-based)")
	flag.DurationVar(&cfg.reopenPeriod, "reopen", 10*time.Second, "Period between database reopens (0 to disable)")
	flag.UintVar(&cfg.log2KeysPerLock, "log2-keys-per-lock", 4, "Log2 of number of keys per lock")
	flag.BoolVar(&cfg.sync, "sync", false, "Sync writes to disk")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose output")
	flag.IntVar(&cfg.putWeight, "put", 35, "Put operation weight")
	flag.IntVar(&cfg.getWeight, "get", 25, "Get operation weight")
	flag.IntVar(&cfg.deleteWeight, "delete", 10, "Delete operation weight")
	flag.IntVar(&cfg.batchWeight, "batch", 10, "Batch write weight")
	flag.IntVar(&cfg.rangeDelWeight, "range-delete", 5, "Range deletion weight")
	flag.IntVar(&cfg.iterWeight, "iter", 10, "Iterator scan weight")
	flag.IntVar(&cfg.snapshotVerifyWeight, "snapshot-verify", 5, "Snapshot isolation verification weight")
	keep := flag.Bool("keep", false, "Keep database after test")
	flag.Parse()

	if cfg.seed == 0 {
		cfg.seed = time.Now().UnixNano()
	}
	if cfg.path == "" {
		dir, err := os.MkdirTemp("", "treekv-stress-*")
		if err != nil {
			fatal("create temp dir: %v", err)
		}
		cfg.path = filepath.Join(dir, "db")
		if !*keep {
			defer os.RemoveAll(dir)
		}
	}

	fmt.Printf("backend=%s db=%s seed=%d threads=%d keys=%d duration=%v\n",
		cfg.backend, cfg.path, cfg.seed, cfg.threads, cfg.numKeys, cfg.duration)

	stats, err := run(&cfg, os.Stdout)
	printStats(os.Stdout, stats)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println("PASSED")
}

// Stats tracks operation counts.
type Stats struct {
	puts             atomic.Uint64
	gets             atomic.Uint64
	deletes          atomic.Uint64
	batches          atomic.Uint64
	rangeDeletes     atomic.Uint64
	iterVerifies     atomic.Uint64
	snapshotVerifies atomic.Uint64
	reopens          atomic.Uint64
	errors           atomic.Uint64
	verifyFail       atomic.Uint64
}

func printStats(out io.Writer, stats *Stats) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Write Operations:\n")
	fmt.Fprintf(out, "  Puts:        %12d\n", stats.puts.Load())
	fmt.Fprintf(out, "  Deletes:     %12d\n", stats.deletes.Load())
	fmt.Fprintf(out, "  Range Dels:  %12d\n", stats.rangeDeletes.Load())
	fmt.Fprintf(out, "  Batches:     %12d\n", stats.batches.Load())
	fmt.Fprintf(out, "\nRead Operations:\n")
	fmt.Fprintf(out, "  Gets:        %12d\n", stats.gets.Load())
	fmt.Fprintf(out, "  Iter Scans:  %12d verified\n", stats.iterVerifies.Load())
	fmt.Fprintf(out, "  Snapshots:   %12d verified\n", stats.snapshotVerifies.Load())
	fmt.Fprintf(out, "\nMaintenance:\n")
	fmt.Fprintf(out, "  Reopens:     %12d\n", stats.reopens.Load())
	fmt.Fprintf(out, "\nFailures:      %12d\n", stats.verifyFail.Load())
	fmt.Fprintf(out, "Errors:        %12d\n", stats.errors.Load())
}

// expectedState is the oracle. gens[k] is the generation of the value
// stored for key k, 0 when the key is absent. A stripe lock must be held to
// change a generation.
type expectedState struct {
	gens  []atomic.Uint32
	locks []sync.Mutex
	shift uint
	next  atomic.Uint32
}

func newExpectedState(numKeys int64, log2KeysPerLock uint) *expectedState {
	stripes := (numKeys >> log2KeysPerLock) + 1
	return &expectedState{
		gens:  make([]atomic.Uint32, numKeys),
		locks: make([]sync.Mutex, stripes),
		shift: log2KeysPerLock,
	}
}

func (es *expectedState) stripe(key int64) int { return int(key >> es.shift) }

// lockKeys locks the stripes of keys in ascending order and returns the
// matching unlock.
func (es *expectedState) lockKeys(keys ...int64) func() {
	stripes := make([]int, 0, len(keys))
	for _, k := range keys {
		stripes = append(stripes, es.stripe(k))
	}
	slices.Sort(stripes)
	stripes = slices.Compact(stripes)
	for _, s := range stripes {
		es.locks[s].Lock()
	}
	return func() {
		for _, s := range stripes {
			es.locks[s].Unlock()
		}
	}
}

// stripeKeys returns the key range [lo, hi) of key's stripe.
func (es *expectedState) stripeKeys(key int64) (lo, hi int64) {
	lo = int64(es.stripe(key)) << es.shift
	hi = min(lo+int64(1)<<es.shift, int64(len(es.gens)))
	return lo, hi
}

func (es *expectedState) newGen() uint32 { return es.next.Add(1) }

// dbHolder holds the current engine. Workers hold mu for reading while
// they use db; the reopener holds it for writing.
type dbHolder struct {
	mu sync.RWMutex
	db treekv.KvEngine
}

type stresser struct {
	cfg      *config
	out      io.Writer
	expected *expectedState
	stats    *Stats
	holder   dbHolder
	wopts    *treekv.WriteOptions
}

func openEngine(cfg *config) (treekv.KvEngine, error) {
	opts := treekv.DefaultOptions()
	opts.Logger = logging.NewDefaultLogger(logging.LevelWarn)
	switch cfg.backend {
	case "tree":
		return treekv.Open(cfg.path, opts)
	case "leveldb":
		return leveldb.Open(cfg.path, opts)
	case "bolt":
		return boltdb.Open(cfg.path, opts)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.backend)
}

// run stresses the engine for cfg.duration and verifies the full key space
// at the end. It fails on any verification failure or engine error.
func run(cfg *config, out io.Writer) (*Stats, error) {
	s := &stresser{
		cfg:      cfg,
		out:      out,
		expected: newExpectedState(cfg.numKeys, cfg.log2KeysPerLock),
		stats:    &Stats{},
		wopts:    &treekv.WriteOptions{Sync: cfg.sync},
	}
	db, err := openEngine(cfg)
	if err != nil {
		return s.stats, fmt.Errorf("open: %w", err)
	}
	s.holder.db = db

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := range cfg.threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runWorker(i, stop)
		}()
	}
	reopenErr := make(chan error, 1)
	if cfg.reopenPeriod > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reopenErr <- s.runReopener(stop)
		}()
	}

	time.Sleep(cfg.duration)
	close(stop)
	wg.Wait()

	var errs []error
	if cfg.reopenPeriod > 0 {
		errs = append(errs, <-reopenErr)
	}
	if s.holder.db != nil {
		errs = append(errs, s.verifyAll(s.holder.db), s.holder.db.Close())
	}
	if n := s.stats.verifyFail.Load(); n > 0 {
		errs = append(errs, fmt.Errorf("%d verification failures", n))
	}
	if n := s.stats.errors.Load(); n > 0 {
		errs = append(errs, fmt.Errorf("%d operation errors", n))
	}
	return s.stats, errors.Join(errs...)
}

func (s *stresser) runWorker(threadID int, stop chan struct{}) {
	rng := rand.New(rand.NewSource(s.cfg.seed + int64(threadID*1000)))
	cfg := s.cfg
	ops := []struct {
		weight int
		fn     func(db treekv.KvEngine, rng *rand.Rand) error
	}{
		{cfg.putWeight, s.doPut},
		{cfg.getWeight, s.doGet},
		{cfg.deleteWeight, s.doDelete},
		{cfg.batchWeight, s.doBatch},
		{cfg.rangeDelWeight, s.doRangeDelete},
		{cfg.iterWeight, s.doIterVerify},
		{cfg.snapshotVerifyWeight, s.doSnapshotVerify},
	}
	total := 0
	for _, op := range ops {
		total += op.weight
	}
	if total == 0 {
		return
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		r := rng.Intn(total)
		var fn func(db treekv.KvEngine, rng *rand.Rand) error
		for _, op := range ops {
			if r < op.weight {
				fn = op.fn
				break
			}
			r -= op.weight
		}

		s.holder.mu.RLock()
		if s.holder.db == nil {
			// The reopener failed and reports why.
			s.holder.mu.RUnlock()
			return
		}
		err := fn(s.holder.db, rng)
		s.holder.mu.RUnlock()

		if err != nil {
			s.stats.errors.Add(1)
			if cfg.verbose {
				fmt.Fprintf(s.out, "Thread %d error: %v\n", threadID, err)
			}
		}
	}
}

func (s *stresser) runReopener(stop chan struct{}) error {
	ticker := time.NewTicker(s.cfg.reopenPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
		}

		s.holder.mu.Lock()
		if err := s.holder.db.Close(); err != nil {
			s.holder.db = nil
			s.holder.mu.Unlock()
			return fmt.Errorf("close before reopen: %w", err)
		}
		db, err := openEngine(s.cfg)
		if err != nil {
			s.holder.db = nil
			s.holder.mu.Unlock()
			return fmt.Errorf("reopen: %w", err)
		}
		s.holder.db = db
		s.stats.reopens.Add(1)
		err = s.verifyAll(db)
		s.holder.mu.Unlock()
		if err != nil {
			return fmt.Errorf("after reopen: %w", err)
		}
		if s.cfg.verbose {
			fmt.Fprintln(s.out, "Database reopened and verified")
		}
	}
}

func (s *stresser) doPut(db treekv.KvEngine, rng *rand.Rand) error {
	return s.putKey(db, rng.Int63n(s.cfg.numKeys))
}

func (s *stresser) putKey(db treekv.KvEngine, key int64) error {
	unlock := s.expected.lockKeys(key)
	defer unlock()

	gen := s.expected.newGen()
	if err := db.Put(makeKey(key), s.makeValue(key, gen)); err != nil {
		return fmt.Errorf("put %d: %w", key, err)
	}
	s.expected.gens[key].Store(gen)
	s.stats.puts.Add(1)
	return nil
}

func (s *stresser) doDelete(db treekv.KvEngine, rng *rand.Rand) error {
	key := rng.Int63n(s.cfg.numKeys)
	unlock := s.expected.lockKeys(key)
	defer unlock()

	if err := db.Delete(makeKey(key)); err != nil {
		return fmt.Errorf("delete %d: %w", key, err)
	}
	s.expected.gens[key].Store(0)
	s.stats.deletes.Add(1)
	return nil
}

func (s *stresser) doBatch(db treekv.KvEngine, rng *rand.Rand) error {
	keys := make([]int64, 1+rng.Intn(8))
	for i := range keys {
		keys[i] = rng.Int63n(s.cfg.numKeys)
	}
	unlock := s.expected.lockKeys(keys...)
	defer unlock()

	wb := db.NewWriteBatch()
	defer wb.Close()
	// Later ops on a key override earlier ones, like the batch itself.
	gens := make(map[int64]uint32, len(keys))
	for _, k := range keys {
		if rng.Intn(4) == 0 {
			if err := wb.Delete(makeKey(k)); err != nil {
				return err
			}
			gens[k] = 0
			continue
		}
		gen := s.expected.newGen()
		if err := wb.Put(makeKey(k), s.makeValue(k, gen)); err != nil {
			return err
		}
		gens[k] = gen
	}
	if err := wb.WriteOpt(s.wopts); err != nil {
		return fmt.Errorf("batch write: %w", err)
	}
	for k, gen := range gens {
		s.expected.gens[k].Store(gen)
	}
	s.stats.batches.Add(1)
	return nil
}

func (s *stresser) doRangeDelete(db treekv.KvEngine, rng *rand.Rand) error {
	begin := rng.Int63n(s.cfg.numKeys)
	end := min(begin+1+rng.Int63n(16), s.cfg.numKeys)
	keys := make([]int64, 0, end-begin)
	for k := begin; k < end; k++ {
		keys = append(keys, k)
	}
	unlock := s.expected.lockKeys(keys...)
	defer unlock()

	if err := db.DeleteRange(makeKey(begin), makeKey(end)); err != nil {
		return fmt.Errorf("delete range [%d, %d): %w", begin, end, err)
	}
	for _, k := range keys {
		s.expected.gens[k].Store(0)
	}
	s.stats.rangeDeletes.Add(1)
	return nil
}

func (s *stresser) doGet(db treekv.KvEngine, rng *rand.Rand) error {
	key := rng.Int63n(s.cfg.numKeys)
	unlock := s.expected.lockKeys(key)
	defer unlock()

	value, err := db.Get(makeKey(key))
	if err != nil && !errors.Is(err, treekv.ErrNotFound) {
		return fmt.Errorf("get %d: %w", key, err)
	}
	s.check(key, s.expected.gens[key].Load(), value, err == nil)
	s.stats.gets.Add(1)
	return nil
}

// doIterVerify scans one stripe forward or backward and compares it with
// the oracle.
func (s *stresser) doIterVerify(db treekv.KvEngine, rng *rand.Rand) error {
	key := rng.Int63n(s.cfg.numKeys)
	unlock := s.expected.lockKeys(key)
	defer unlock()

	lo, hi := s.expected.stripeKeys(key)
	want := make(map[int64]uint32)
	for k := lo; k < hi; k++ {
		if gen := s.expected.gens[k].Load(); gen != 0 {
			want[k] = gen
		}
	}
	if err := s.verifyScan(db, lo, hi, want, rng.Intn(2) == 0); err != nil {
		return err
	}
	s.stats.iterVerifies.Add(1)
	return nil
}

// doSnapshotVerify copies the oracle for one stripe under its lock, then
// overwrites a key of that stripe and reads the whole stripe through the
// snapshot.
func (s *stresser) doSnapshotVerify(db treekv.KvEngine, rng *rand.Rand) error {
	key := rng.Int63n(s.cfg.numKeys)
	lo, hi := s.expected.stripeKeys(key)

	unlock := s.expected.lockKeys(key)
	snap := db.Snapshot()
	want := make(map[int64]uint32)
	for k := lo; k < hi; k++ {
		if gen := s.expected.gens[k].Load(); gen != 0 {
			want[k] = gen
		}
	}
	unlock()
	defer snap.Release()

	if err := s.putKey(db, lo+rng.Int63n(hi-lo)); err != nil {
		return err
	}

	for k := lo; k < hi; k++ {
		value, err := snap.Get(makeKey(k))
		if err != nil && !errors.Is(err, treekv.ErrNotFound) {
			return fmt.Errorf("snapshot get %d: %w", k, err)
		}
		s.check(k, want[k], value, err == nil)
	}
	if err := s.verifyScan(snap, lo, hi, want, rng.Intn(2) == 0); err != nil {
		return err
	}
	s.stats.snapshotVerifies.Add(1)
	return nil
}

func (s *stresser) verifyScan(src treekv.Iterable, lo, hi int64, want map[int64]uint32, forward bool) error {
	it, err := src.NewIterator(&treekv.IterOptions{LowerBound: makeKey(lo), UpperBound: makeKey(hi)})
	if err != nil {
		return err
	}
	defer it.Close()

	seen := 0
	var ok bool
	if forward {
		ok, err = it.Seek(treekv.SeekStart)
	} else {
		ok, err = it.SeekForPrev(treekv.SeekEnd)
	}
	for ok {
		k, perr := parseKey(it.Key())
		if perr != nil {
			s.fail("scan returned foreign key %q", it.Key())
		} else {
			s.check(k, want[k], it.Value(), true)
		}
		seen++
		if forward {
			ok, err = it.Next()
		} else {
			ok, err = it.Prev()
		}
	}
	if err != nil {
		return fmt.Errorf("scan [%d, %d): %w", lo, hi, err)
	}
	if seen != len(want) {
		s.fail("scan [%d, %d) saw %d keys, want %d", lo, hi, seen, len(want))
	}
	return nil
}

// verifyAll compares every key with the oracle. Callers must keep writers
// out.
func (s *stresser) verifyAll(db treekv.KvEngine) error {
	before := s.stats.verifyFail.Load()
	for k := range s.cfg.numKeys {
		value, err := db.Get(makeKey(k))
		if err != nil && !errors.Is(err, treekv.ErrNotFound) {
			return fmt.Errorf("verify get %d: %w", k, err)
		}
		s.check(k, s.expected.gens[k].Load(), value, err == nil)
	}
	if n := s.stats.verifyFail.Load() - before; n > 0 {
		return fmt.Errorf("full verification: %d failures", n)
	}
	return nil
}

// check compares one read with generation gen, 0 meaning absent.
func (s *stresser) check(key int64, gen uint32, value []byte, found bool) {
	switch {
	case gen == 0 && found:
		s.fail("key %d: found, want absent", key)
	case gen != 0 && !found:
		s.fail("key %d: missing, want generation %d", key, gen)
	case found && !bytes.Equal(value, s.makeValue(key, gen)):
		s.fail("key %d: value generation %d, want %d", key, getValueGen(value), gen)
	}
}

func (s *stresser) fail(format string, args ...any) {
	s.stats.verifyFail.Add(1)
	if s.cfg.verbose {
		fmt.Fprintf(s.out, "VERIFY: "+format+"\n", args...)
	}
}

func makeKey(key int64) []byte {
	return fmt.Appendf(nil, "key%016d", key)
}

func parseKey(b []byte) (int64, error) {
	digits, ok := strings.CutPrefix(string(b), "key")
	if !ok {
		return 0, fmt.Errorf("bad key %q", b)
	}
	return strconv.ParseInt(digits, 10, 64)
}

// makeValue creates a value that encodes the key and generation.
// Format: [key:8 bytes][gen:4 bytes][padding...]
func (s *stresser) makeValue(key int64, gen uint32) []byte {
	value := make([]byte, max(s.cfg.valueSize, 12))
	binary.LittleEndian.PutUint64(value[0:8], uint64(key))
	binary.LittleEndian.PutUint32(value[8:12], gen)
	for i := 12; i < len(value); i++ {
		value[i] = byte((int(key) + int(gen) + i) % 256)
	}
	return value
}

func getValueGen(value []byte) uint32 {
	if len(value) < 12 {
		return 0
	}
	return binary.LittleEndian.Uint32(value[8:12])
}

func fatal(format string, args ...any) {
	fmt.Printf("FATAL: "+format+"\n", args...)
	os.Exit(1)
}
