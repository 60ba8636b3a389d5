package treekv_test

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aalhour/treekv"
)

func ExampleOpen() {
	dir, err := os.MkdirTemp("", "treekv-example-*")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	db, err := treekv.Open(dir, treekv.DefaultOptions())
	if err != nil {
		panic(err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PutCF(treekv.CFWrite, []byte("k"), []byte("v")); err != nil {
		panic(err)
	}

	val, err := db.GetCF(treekv.CFWrite, []byte("k"))
	if err != nil {
		panic(err)
	}

	fmt.Println(string(val))
	// Output:
	// v
}

func ExampleEngine_NewWriteBatch() {
	dir, err := os.MkdirTemp("", "treekv-example-*")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	db, err := treekv.Open(dir, treekv.DefaultOptions())
	if err != nil {
		panic(err)
	}
	defer func() { _ = db.Close() }()

	wb := db.NewWriteBatch()
	defer func() { _ = wb.Close() }()

	_ = wb.Put([]byte("a"), []byte("1"))
	wb.SetSavePoint()
	_ = wb.Put([]byte("b"), []byte("2"))
	_ = wb.RollbackToSavePoint()

	if err := wb.Write(); err != nil {
		panic(err)
	}
	_, err = db.Get([]byte("b"))
	fmt.Println(wb.Count(), treekv.Kind(err))
	// Output:
	// 1 NotFound
}

func ExampleSstWriterBuilder() {
	dir, err := os.MkdirTemp("", "treekv-example-*")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "bulk.sst")
	w, err := treekv.NewSstWriterBuilder().
		SetCompressionType(treekv.SnappyCompression).
		Build(path)
	if err != nil {
		panic(err)
	}
	for _, k := range []string{"apple", "banana", "cherry"} {
		if err := w.Put([]byte(k), []byte("fruit")); err != nil {
			panic(err)
		}
	}
	info, err := w.Finish()
	if err != nil {
		panic(err)
	}

	db, err := treekv.Open(filepath.Join(dir, "db"), treekv.DefaultOptions())
	if err != nil {
		panic(err)
	}
	defer func() { _ = db.Close() }()
	if err := db.IngestExternalFileCF(treekv.CFDefault, nil, path); err != nil {
		panic(err)
	}

	it, err := db.NewIterator(nil)
	if err != nil {
		panic(err)
	}
	defer func() { _ = it.Close() }()
	for ok, _ := it.Seek(treekv.SeekEnd); ok; ok, _ = it.Prev() {
		fmt.Println(string(it.Key()))
	}
	fmt.Println(info.NumEntries)
	// Output:
	// cherry
	// banana
	// apple
	// 3
}
