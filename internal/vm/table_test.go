package vm

import (
	"testing"

	"momiji/internal/bytecode"
)

func TestStringInterningIsPointerIdentical(t *testing.T) {
	h := NewHeap()
	a := h.InternString("hello", nil)
	b := h.InternString("hello", nil)
	if a != b {
		t.Fatalf("two interned strings with equal content are not pointer-identical")
	}
}

func TestTableSetGetDelete(t *testing.T) {
	h := NewHeap()
	table := NewTable()
	key := h.InternString("answer", nil)

	if _, ok := table.Get(key); ok {
		t.Fatalf("empty table should not contain the key")
	}

	isNew := table.Set(key, bytecode.Number(42))
	if !isNew {
		t.Fatalf("first Set of a key should report it as new")
	}
	v, ok := table.Get(key)
	if !ok || v.Number != 42 {
		t.Fatalf("got %v, %v; want 42, true", v, ok)
	}

	isNew = table.Set(key, bytecode.Number(43))
	if isNew {
		t.Fatalf("second Set of the same key should not report it as new")
	}

	if !table.Delete(key) {
		t.Fatalf("Delete should report success for a present key")
	}
	if _, ok := table.Get(key); ok {
		t.Fatalf("key should be gone after Delete")
	}
}

func TestTableSurvivesRehashWithTombstones(t *testing.T) {
	h := NewHeap()
	table := NewTable()
	var keys []*String
	for i := 0; i < 64; i++ {
		k := h.InternString(string(rune('a'+i%26)) + string(rune('0'+i%10)), nil)
		keys = append(keys, k)
		table.Set(k, bytecode.Number(float64(i)))
	}
	// delete every other entry to leave tombstones behind, then confirm the
	// survivors are still reachable through the probe sequence.
	for i := 0; i < len(keys); i += 2 {
		table.Delete(keys[i])
	}
	for i := 1; i < len(keys); i += 2 {
		if _, ok := table.Get(keys[i]); !ok {
			t.Fatalf("key at index %d should survive interleaved deletes", i)
		}
	}
}
