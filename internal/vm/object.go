package vm

import "momiji/internal/bytecode"

// String is an immutable, interned byte buffer. Because every String with
// equal content is canonicalized through the intern table (see table.go),
// two Strings are value-equal iff they are the same pointer.
type String struct {
	bytecode.ObjHeader
	Chars string
	Hash  uint32
}

func (s *String) ObjType() string { return "string" }

// fnv1a32 is the hash used to key interned strings and the symbol table.
func fnv1a32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Array is a dense, ordered, growable sequence of Values.
type Array struct {
	bytecode.ObjHeader
	Elements []bytecode.Value
}

func (a *Array) ObjType() string { return "array" }

func NewArray(elems []bytecode.Value) *Array {
	return &Array{Elements: elems}
}

func normalizeIndex(i, length int) (int, bool) {
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

func (a *Array) Get(i int) (bytecode.Value, bool) {
	idx, ok := normalizeIndex(i, len(a.Elements))
	if !ok {
		return bytecode.Value{}, false
	}
	return a.Elements[idx], true
}

// Set normalizes a negative index and additionally allows i == length as an
// append.
func (a *Array) Set(i int, v bytecode.Value) bool {
	if i < 0 {
		i += len(a.Elements)
	}
	if i == len(a.Elements) {
		a.Elements = append(a.Elements, v)
		return true
	}
	if i < 0 || i >= len(a.Elements) {
		return false
	}
	a.Elements[i] = v
	return true
}

func (a *Array) Add(v bytecode.Value) { a.Elements = append(a.Elements, v) }

// GetRange implements a[min:max:step] over already-resolved bounds. An
// omitted bound arrives at the VM as ValNull and is resolved by the VM
// before this call: min/max default to 0 / length for a positive step (max
// exclusive, so a[1:4] yields indices 1,2,3) or to length-1 / 0 for a
// negative step (max inclusive); an omitted step is 1, and a step of 0 is
// treated as 1.
func (a *Array) GetRange(min, max, step int) *Array {
	length := len(a.Elements)
	out := make([]bytecode.Value, 0, length)
	if step == 0 {
		step = 1
	}
	if step > 0 {
		for i := min; i < max && i < length; i += step {
			if i >= 0 {
				out = append(out, a.Elements[i])
			}
		}
	} else {
		for i := min; i >= max && i >= 0; i += step {
			if i < length {
				out = append(out, a.Elements[i])
			}
		}
	}
	return NewArray(out)
}

// Map is an insertion-ordered string-keyed dictionary: a key list for
// deterministic iteration plus a hash table for O(1) lookup.
type Map struct {
	bytecode.ObjHeader
	Keys  []string
	Items map[string]bytecode.Value
}

func (m *Map) ObjType() string { return "map" }

func NewMap() *Map {
	return &Map{Items: make(map[string]bytecode.Value)}
}

func (m *Map) Set(key string, v bytecode.Value) {
	if _, exists := m.Items[key]; !exists {
		m.Keys = append(m.Keys, key)
	}
	m.Items[key] = v
}

func (m *Map) Get(key string) (bytecode.Value, bool) {
	v, ok := m.Items[key]
	return v, ok
}

func (m *Map) Delete(key string) bool {
	if _, ok := m.Items[key]; !ok {
		return false
	}
	delete(m.Items, key)
	for i, k := range m.Keys {
		if k == key {
			m.Keys = append(m.Keys[:i], m.Keys[i+1:]...)
			break
		}
	}
	return true
}

// Function is a compiled callable: its own Chunk plus arity/upvalue
// bookkeeping the VM needs to build a Closure over it.
type Function struct {
	bytecode.ObjHeader
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
}

func (f *Function) ObjType() string { return "function" }

// NativeFn is an externally supplied callable. It receives the argument
// slice and returns a result or an error.
type NativeFn func(args []bytecode.Value) (bytecode.Value, error)

type Native struct {
	bytecode.ObjHeader
	Name string
	Fn   NativeFn
}

func (n *Native) ObjType() string { return "native" }

// Upvalue is either open (Location points into the VM's live operand stack)
// or closed (the value has been copied into Closed and Location now points
// at Closed). The transition from open to closed happens at most once.
type Upvalue struct {
	bytecode.ObjHeader
	Location *bytecode.Value
	Closed   bytecode.Value
	// StackIndex is only meaningful while open; it lets the VM keep the
	// open-upvalue list sorted by descending stack address without
	// re-deriving the index from the Location pointer.
	StackIndex int
}

func (u *Upvalue) ObjType() string { return "upvalue" }

func (u *Upvalue) IsOpen() bool { return u.Location != &u.Closed }

func (u *Upvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// Closure pairs a Function with the Upvalues captured at the moment the
// closure was created.
type Closure struct {
	bytecode.ObjHeader
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) ObjType() string { return "closure" }

// Class holds the method table and the default field values assigned to
// every fresh Instance. MethodNames/FieldNames preserve declaration order
// so printing/iteration is deterministic.
type Class struct {
	bytecode.ObjHeader
	Name         string
	Methods      map[string]*Closure
	MethodNames  []string
	Fields       map[string]bytecode.Value
	FieldNames   []string
	Constructor  *Closure
}

func (c *Class) ObjType() string { return "class" }

func NewClass(name string) *Class {
	return &Class{
		Name:    name,
		Methods: make(map[string]*Closure),
		Fields:  make(map[string]bytecode.Value),
	}
}

func (c *Class) SetMethod(name string, closure *Closure) {
	if _, exists := c.Methods[name]; !exists {
		c.MethodNames = append(c.MethodNames, name)
	}
	c.Methods[name] = closure
	if name == c.Name {
		c.Constructor = closure
	}
}

func (c *Class) SetField(name string, v bytecode.Value) {
	if _, exists := c.Fields[name]; !exists {
		c.FieldNames = append(c.FieldNames, name)
	}
	c.Fields[name] = v
}

// Instance is a live object of some Class; its field table is seeded by
// copying the class's default fields at construction time.
type Instance struct {
	bytecode.ObjHeader
	Class  *Class
	Fields map[string]bytecode.Value
}

func (i *Instance) ObjType() string { return "instance" }

func NewInstance(class *Class) *Instance {
	fields := make(map[string]bytecode.Value, len(class.Fields))
	for k, v := range class.Fields {
		fields[k] = v
	}
	return &Instance{Class: class, Fields: fields}
}

// BoundMethod pairs a receiver with the Closure it was looked up from, the
// value produced by `instance.method` before it is called or stored.
type BoundMethod struct {
	bytecode.ObjHeader
	Receiver bytecode.Value
	Method   *Closure
}

func (b *BoundMethod) ObjType() string { return "bound-method" }
