package vm

import "momiji/internal/bytecode"

// entry is one slot of the open-addressed table. A real empty slot has a
// nil Key and a Null value; a tombstone has a nil Key and a Bool(true)
// value. Both are distinguishable from a live entry, which always has a
// non-nil Key.
type entry struct {
	Key   *String
	Value bytecode.Value
}

func (e *entry) isEmpty() bool     { return e.Key == nil && e.Value.Type == bytecode.ValNull }
func (e *entry) isTombstone() bool { return e.Key == nil && e.Value.Type == bytecode.ValBool }

const tableMaxLoad = 0.75

// Table is an open-addressed hash table with linear probing and tombstone
// deletion, keyed by interned-string identity. The globals table and the
// string intern table are both one of these; Class method/field tables are
// plain Go maps keyed by name.
type Table struct {
	count   int
	entries []entry
}

func NewTable() *Table { return &Table{} }

func (t *Table) Len() int { return t.count }

// findEntry walks the probe sequence for key starting at its hash, stopping
// at the first real-empty slot (insertion point) or a matching key. It
// never stops at a tombstone, so insertion can reuse the first tombstone it
// passes while still reaching an existing key further down the sequence.
func findEntry(entries []entry, key *String) *entry {
	capacity := len(entries)
	index := key.Hash & uint32(capacity-1)
	var tombstone *entry
	for {
		e := &entries[index]
		switch {
		case e.Key == nil:
			if e.isTombstone() {
				if tombstone == nil {
					tombstone = e
				}
			} else {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
		case e.Key == key:
			return e
		}
		index = (index + 1) & uint32(capacity-1)
	}
}

func (t *Table) adjustCapacity(capacity int) {
	fresh := make([]entry, capacity)
	newCount := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.Key == nil {
			continue
		}
		dest := findEntry(fresh, e.Key)
		dest.Key = e.Key
		dest.Value = e.Value
		newCount++
	}
	t.entries = fresh
	t.count = newCount
}

// Set stores key -> value, returning true if key was not already present
// (mirrors clox's behavior used by SET_GLOBAL to detect set-before-define).
func (t *Table) Set(key *String, value bytecode.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		capacity := 8
		if len(t.entries) > 0 {
			capacity = len(t.entries) * 2
		}
		t.adjustCapacity(capacity)
	}
	e := findEntry(t.entries, key)
	isNew := e.Key == nil
	if isNew && e.isEmpty() {
		t.count++
	}
	e.Key = key
	e.Value = value
	return isNew
}

func (t *Table) Get(key *String) (bytecode.Value, bool) {
	if len(t.entries) == 0 {
		return bytecode.Value{}, false
	}
	e := findEntry(t.entries, key)
	if e.Key == nil {
		return bytecode.Value{}, false
	}
	return e.Value, true
}

func (t *Table) Delete(key *String) bool {
	if len(t.entries) == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.Key == nil {
		return false
	}
	e.Key = nil
	e.Value = bytecode.Bool(true) // tombstone
	return true
}

// FindString looks up the canonical interned String by content, used by
// the allocator before it has a pointer to compare identity against: it
// walks the same probe sequence as findEntry but compares length/hash/bytes
// instead of pointer identity.
func (t *Table) FindString(chars string, hash uint32) *String {
	if len(t.entries) == 0 {
		return nil
	}
	capacity := len(t.entries)
	index := hash & uint32(capacity-1)
	for {
		e := &t.entries[index]
		if e.Key == nil {
			if !e.isTombstone() {
				return nil
			}
		} else if e.Key.Hash == hash && e.Key.Chars == chars {
			return e.Key
		}
		index = (index + 1) & uint32(capacity-1)
	}
}

// RemoveWhite deletes every entry whose key is unmarked, called just before
// sweep so the intern table does not keep otherwise-dead strings alive.
func (t *Table) RemoveWhite() {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Key != nil && !e.Key.Marked {
			t.Delete(e.Key)
		}
	}
}

// Each calls fn for every live entry, used when the GC marks a table's
// entries.
func (t *Table) Each(fn func(key *String, value bytecode.Value)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Key != nil {
			fn(e.Key, e.Value)
		}
	}
}
