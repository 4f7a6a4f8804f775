package vm

import (
	"momiji/internal/bytecode"
	"momiji/internal/logging"
)

// sizeOf is a rough per-object byte cost used purely for the collector's
// grow-when-allocated accounting; it does not need to be exact, only
// monotonic with the object's real footprint.
func sizeOf(o bytecode.Obj) int {
	switch v := o.(type) {
	case *String:
		return 32 + len(v.Chars)
	case *Array:
		return 32 + len(v.Elements)*24
	case *Map:
		return 32 + len(v.Items)*48
	case *Function:
		return 64
	case *Native:
		return 32
	case *Upvalue:
		return 24
	case *Closure:
		return 32 + len(v.Upvalues)*8
	case *Class:
		return 64 + len(v.Methods)*16 + len(v.Fields)*16
	case *Instance:
		return 32 + len(v.Fields)*16
	case *BoundMethod:
		return 24
	default:
		return 16
	}
}

// RootProvider is how a component outside the heap (namely the compiler's
// in-progress function chain) tells the collector about objects it is
// keeping alive that are not yet reachable from any runtime root.
type RootProvider interface {
	MarkRoots(h *Heap)
}

// Heap owns every object allocated by the VM: the intrusive singly-linked
// allocation list that the sweeper walks, the string intern table, and the
// tricolor mark-sweep collector's bookkeeping.
type Heap struct {
	objects Obj // head of the allocation list (ObjHeader.Next threads it)

	strings *Table // intern table: canonical *String -> Bool(true)

	gray []bytecode.Obj

	allocatedBytes int
	nextCollection int

	// StressGC forces a collection on every allocation growth, used by
	// tests to prove GC-on/GC-off runs produce identical output.
	StressGC bool

	// HeapGrowth overrides the default 2x next-collection growth factor
	// when positive; see internal/config's MOMIJI_GC_HEAP_GROWTH.
	HeapGrowth float64

	// roots contributed by components other than the VM itself (the
	// active compiler chain, while a program is mid-compile).
	extraRoots []RootProvider
}

// Obj aliases bytecode.Obj so vm package call sites read naturally.
type Obj = bytecode.Obj

func NewHeap() *Heap {
	return &Heap{strings: NewTable(), nextCollection: 1 << 20}
}

func (h *Heap) AddRootProvider(p RootProvider) { h.extraRoots = append(h.extraRoots, p) }

// RemoveRootProvider drops p once its compile has finished, so a REPL that
// builds a fresh Parser per line does not accumulate stale providers.
func (h *Heap) RemoveRootProvider(p RootProvider) {
	for i, r := range h.extraRoots {
		if r == p {
			h.extraRoots = append(h.extraRoots[:i], h.extraRoots[i+1:]...)
			return
		}
	}
}

// track links a freshly allocated object onto the allocation list and
// updates byte accounting, possibly triggering a collection first.
func (h *Heap) track(o bytecode.Obj, collect func()) {
	size := sizeOf(o)
	h.allocatedBytes += size
	if h.StressGC || h.allocatedBytes >= h.nextCollection {
		if collect != nil {
			collect()
		}
	}
	header := o.Header()
	header.Next = h.objects
	h.objects = o
}

// InternString returns the canonical String for the given content,
// allocating and linking a new one only on a miss.
func (h *Heap) InternString(chars string, collect func()) *String {
	hash := fnv1a32(chars)
	if existing := h.strings.FindString(chars, hash); existing != nil {
		return existing
	}
	s := &String{Chars: chars, Hash: hash}
	h.track(s, collect)
	h.strings.Set(s, bytecode.Bool(true))
	return s
}

func (h *Heap) NewArray(elems []bytecode.Value, collect func()) *Array {
	a := NewArray(elems)
	h.track(a, collect)
	return a
}

func (h *Heap) NewMap(collect func()) *Map {
	m := NewMap()
	h.track(m, collect)
	return m
}

func (h *Heap) NewFunction(collect func()) *Function {
	f := &Function{Chunk: bytecode.NewChunk()}
	h.track(f, collect)
	return f
}

func (h *Heap) NewNative(name string, fn NativeFn, collect func()) *Native {
	n := &Native{Name: name, Fn: fn}
	h.track(n, collect)
	return n
}

func (h *Heap) NewUpvalue(slot *bytecode.Value, stackIndex int, collect func()) *Upvalue {
	u := &Upvalue{Location: slot, StackIndex: stackIndex}
	h.track(u, collect)
	return u
}

func (h *Heap) NewClosure(fn *Function, collect func()) *Closure {
	c := &Closure{Function: fn, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
	h.track(c, collect)
	return c
}

func (h *Heap) NewClass(name string, collect func()) *Class {
	c := NewClass(name)
	h.track(c, collect)
	return c
}

func (h *Heap) NewInstanceOf(class *Class, collect func()) *Instance {
	i := NewInstance(class)
	h.track(i, collect)
	return i
}

func (h *Heap) NewBoundMethod(receiver bytecode.Value, method *Closure, collect func()) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, Method: method}
	h.track(b, collect)
	return b
}

// Mark grays an object: a white object becomes gray and is pushed onto the
// worklist; an already-gray-or-black object is left alone. Called both for
// roots and while tracing references.
func (h *Heap) Mark(o bytecode.Obj) {
	if o == nil {
		return
	}
	header := o.Header()
	if header.Marked {
		return
	}
	header.Marked = true
	h.gray = append(h.gray, o)
}

func (h *Heap) MarkValue(v bytecode.Value) {
	if v.Type == bytecode.ValObject {
		h.Mark(v.Obj)
	}
}

// TraceReferences drains the gray worklist, blackening each object by
// marking everything it points to.
func (h *Heap) TraceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o bytecode.Obj) {
	switch v := o.(type) {
	case *String, *Native:
		// no outgoing references
	case *Array:
		for _, e := range v.Elements {
			h.MarkValue(e)
		}
	case *Map:
		for _, k := range v.Keys {
			h.MarkValue(v.Items[k])
		}
	case *Function:
		for _, c := range v.Chunk.Constants {
			h.MarkValue(c)
		}
	case *Upvalue:
		h.MarkValue(v.Closed)
	case *Closure:
		h.Mark(v.Function)
		for _, u := range v.Upvalues {
			h.Mark(u)
		}
	case *Class:
		for _, name := range v.MethodNames {
			h.Mark(v.Methods[name])
		}
		for _, name := range v.FieldNames {
			h.MarkValue(v.Fields[name])
		}
	case *Instance:
		h.Mark(v.Class)
		for _, val := range v.Fields {
			h.MarkValue(val)
		}
	case *BoundMethod:
		h.MarkValue(v.Receiver)
		h.Mark(v.Method)
	}
}

// Collect runs one full mark-sweep cycle: mark every root (VM-owned plus
// any registered RootProvider such as the active compiler chain), trace to
// fixpoint, drop intern-table entries for strings that didn't survive, then
// sweep the allocation list.
func (h *Heap) Collect(markVMRoots func(*Heap)) {
	before := h.allocatedBytes
	if markVMRoots != nil {
		markVMRoots(h)
	}
	for _, p := range h.extraRoots {
		p.MarkRoots(h)
	}
	h.TraceReferences()
	h.strings.RemoveWhite()
	h.sweep()
	h.nextCollection = int(float64(h.allocatedBytes) * h.GrowthFactor())
	if h.nextCollection < 1<<16 {
		h.nextCollection = 1 << 16
	}
	logging.GCCycle(before, h.allocatedBytes, before-h.allocatedBytes)
}

// AllocatedBytes and NextCollection expose the byte-accounting fields the
// GC's invariants are stated in terms of, for the gc_stats() native.
func (h *Heap) AllocatedBytes() int { return h.allocatedBytes }
func (h *Heap) NextCollection() int { return h.nextCollection }

// GrowthFactor returns the multiplier applied to allocatedBytes to pick the
// next collection threshold; it defaults to 2 but HeapGrowth, when set to a
// positive value, overrides it (see internal/config).
func (h *Heap) GrowthFactor() float64 {
	if h.HeapGrowth > 0 {
		return h.HeapGrowth
	}
	return 2
}

func (h *Heap) sweep() {
	var prev bytecode.Obj
	obj := h.objects
	for obj != nil {
		header := obj.Header()
		if header.Marked {
			header.Marked = false
			prev = obj
			obj = header.Next
			continue
		}
		unreached := obj
		obj = header.Next
		if prev != nil {
			prev.Header().Next = obj
		} else {
			h.objects = obj
		}
		h.allocatedBytes -= sizeOf(unreached)
	}
}
