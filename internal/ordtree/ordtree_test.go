package ordtree

import (
	"fmt"
	"testing"
)

func fill(n int) *Tree {
	t := New()
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("k%04d", i))
		t.Set(k, []byte(fmt.Sprintf("v%d", i)))
	}
	return t
}

func collect(s *Scanner) []string {
	var out []string
	for s.Next() {
		out = append(out, string(s.Key()))
	}
	return out
}

func TestTree_GetSetDelete(t *testing.T) {
	tr := New()
	tr.Set([]byte("a"), []byte("1"))
	tr.Set([]byte("a"), []byte("2"))
	tr.SetTombstone([]byte("b"))

	if it, ok := tr.Get([]byte("a")); !ok || string(it.Value) != "2" || it.Tombstone {
		t.Errorf("Get(a) = %+v, %v", it, ok)
	}
	if it, ok := tr.Get([]byte("b")); !ok || !it.Tombstone {
		t.Errorf("Get(b) = %+v, %v", it, ok)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d", tr.Len())
	}
	if !tr.Delete([]byte("a")) || tr.Delete([]byte("a")) {
		t.Error("Delete should report presence exactly once")
	}
	if _, ok := tr.Get([]byte("a")); ok {
		t.Error("a still present after Delete")
	}
}

func TestTree_CloneIsolation(t *testing.T) {
	orig := fill(500)
	clone := orig.Clone()
	clone.Set([]byte("k0001"), []byte("changed"))
	clone.Delete([]byte("k0002"))
	clone.Set([]byte("new"), []byte("x"))

	if it, _ := orig.Get([]byte("k0001")); string(it.Value) != "v1" {
		t.Errorf("original saw clone write: %q", it.Value)
	}
	if _, ok := orig.Get([]byte("k0002")); !ok {
		t.Error("original lost a key deleted in the clone")
	}
	if orig.Len() != 500 || clone.Len() != 500 {
		t.Errorf("Len orig %d clone %d", orig.Len(), clone.Len())
	}
}

func TestScanner_Bounds(t *testing.T) {
	tr := fill(10)
	tests := []struct {
		name       string
		start, end string
		reverse    bool
		want       []string
	}{
		{"all forward", "", "", false, []string{"k0000", "k0001", "k0002", "k0003", "k0004", "k0005", "k0006", "k0007", "k0008", "k0009"}},
		{"half open forward", "k0003", "k0006", false, []string{"k0003", "k0004", "k0005"}},
		{"between keys", "k0003a", "k0005a", false, []string{"k0004", "k0005"}},
		{"reverse bounded", "k0003", "k0006", true, []string{"k0005", "k0004", "k0003"}},
		{"reverse open start", "", "k0002", true, []string{"k0001", "k0000"}},
		{"reverse open end", "k0008", "", true, []string{"k0009", "k0008"}},
		{"empty range", "k0005", "k0005", false, nil},
		{"past end", "z", "", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var start, end []byte
			if tt.start != "" {
				start = []byte(tt.start)
			}
			if tt.end != "" {
				end = []byte(tt.end)
			}
			got := collect(tr.Scan(start, end, tt.reverse))
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScanner_CrossesChunks(t *testing.T) {
	n := scanChunk*3 + 5
	tr := fill(n)

	fwd := collect(tr.Scan(nil, nil, false))
	if len(fwd) != n {
		t.Fatalf("forward scan saw %d items, want %d", len(fwd), n)
	}
	for i := 1; i < len(fwd); i++ {
		if fwd[i-1] >= fwd[i] {
			t.Fatalf("forward order broken at %d: %s >= %s", i, fwd[i-1], fwd[i])
		}
	}

	rev := collect(tr.Scan(nil, nil, true))
	if len(rev) != n {
		t.Fatalf("reverse scan saw %d items, want %d", len(rev), n)
	}
	for i := range rev {
		if rev[i] != fwd[n-1-i] {
			t.Fatalf("reverse[%d] = %s, want %s", i, rev[i], fwd[n-1-i])
		}
	}
}

func TestScanner_EmptyKey(t *testing.T) {
	tr := New()
	tr.Set([]byte{}, []byte("empty"))
	tr.Set([]byte("a"), []byte("1"))

	if got := collect(tr.Scan(nil, nil, false)); len(got) != 2 || got[0] != "" {
		t.Errorf("forward = %q", got)
	}
	if got := collect(tr.Scan(nil, nil, true)); len(got) != 2 || got[1] != "" {
		t.Errorf("reverse = %q", got)
	}
}

func TestTree_KeysInRange(t *testing.T) {
	tr := fill(5)
	keys := tr.KeysInRange([]byte("k0001"), []byte("k0003"))
	if len(keys) != 2 || string(keys[0]) != "k0001" || string(keys[1]) != "k0002" {
		t.Errorf("KeysInRange = %q", keys)
	}
	if lo, _ := tr.Min(); string(lo.Key) != "k0000" {
		t.Errorf("Min = %s", lo.Key)
	}
	if hi, _ := tr.Max(); string(hi.Key) != "k0004" {
		t.Errorf("Max = %s", hi.Key)
	}
}
