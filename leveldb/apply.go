package leveldb

import (
	"bytes"
	"fmt"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/ordtree"
)

// applier translates an internal batch into a goleveldb batch. It records
// the batch's own writes in an overlay so a range delete also removes keys
// put earlier in the same batch.
type applier struct {
	s       *sharedDB
	lb      *goleveldb.Batch
	overlay map[uint32]*ordtree.Tree
}

func newApplier(s *sharedDB) *applier {
	return &applier{s: s, lb: new(goleveldb.Batch), overlay: make(map[uint32]*ordtree.Tree)}
}

func (a *applier) resolve(id uint32) (string, *ordtree.Tree, error) {
	cf, ok := a.s.cfs.Name(id)
	if !ok {
		return "", nil, treekv.NewEngineError(fmt.Sprintf("unknown column family id %d", id), nil)
	}
	t, ok := a.overlay[id]
	if !ok {
		t = ordtree.New()
		a.overlay[id] = t
	}
	return cf, t, nil
}

func (a *applier) Put(id uint32, key, value []byte) error {
	cf, t, err := a.resolve(id)
	if err != nil {
		return err
	}
	a.lb.Put(dataKey(cf, key), value)
	t.Set(key, value)
	return nil
}

func (a *applier) Delete(id uint32, key []byte) error {
	cf, t, err := a.resolve(id)
	if err != nil {
		return err
	}
	a.lb.Delete(dataKey(cf, key))
	t.SetTombstone(key)
	return nil
}

// DeleteRange deletes the stored keys of [begin, end) and the ones the
// batch put before it.
func (a *applier) DeleteRange(id uint32, begin, end []byte) error {
	cf, t, err := a.resolve(id)
	if err != nil {
		return err
	}
	if bytes.Compare(begin, end) >= 0 {
		return nil
	}

	keys := t.KeysInRange(begin, end)
	prefix := len(cf) + 1
	it := a.s.db.NewIterator(&util.Range{Start: dataKey(cf, begin), Limit: dataKey(cf, end)}, nil)
	for it.Next() {
		keys = append(keys, bytes.Clone(it.Key()[prefix:]))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return dbError("delete range", a.s.path, err)
	}

	for _, k := range keys {
		a.lb.Delete(dataKey(cf, k))
		t.SetTombstone(k)
	}
	return nil
}
