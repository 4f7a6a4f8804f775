package vm

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"momiji/internal/bytecode"
	"momiji/internal/errors"
)

const (
	// FramesMax bounds call depth; StackMax follows clox's convention of
	// sizing the operand stack off the frame count rather than a fixed
	// constant, since every frame can in principle push up to 256 locals.
	FramesMax = 1000
	StackMax  = FramesMax * 256
)

// CallFrame is one active function activation: its Closure, the next
// instruction to execute, and the base index into VM.stack where its
// locals (slot 0 = the callee itself) begin.
type CallFrame struct {
	closure *Closure
	ip      int
	base    int
}

// VM is Momiji's bytecode interpreter: an operand stack, a call-frame
// stack, the globals table, and the heap every object is allocated from.
type VM struct {
	frames []CallFrame
	stack  []bytecode.Value

	globals *Table
	heap    *Heap

	// openUpvalues is kept sorted by descending StackIndex so capture can
	// stop probing as soon as it passes the target slot.
	openUpvalues []*Upvalue

	fileName string
	source   string

	// maybeSource backs the `maybe` literal's pseudo-random Bool. It
	// defaults to a time-seeded generator; SeedMaybe overrides it for
	// deterministic test runs.
	maybeSource *rand.Rand

	Stdout func(string)
}

func New(heap *Heap, fileName, source string) *VM {
	v := &VM{
		heap:        heap,
		globals:     NewTable(),
		fileName:    fileName,
		source:      source,
		maybeSource: rand.New(rand.NewSource(time.Now().UnixNano())),
		Stdout:      func(s string) { fmt.Print(s) },
	}
	v.stack = make([]bytecode.Value, 0, StackMax)
	RegisterNatives(v)
	return v
}

// SeedMaybe reseeds the `maybe` literal's random source, letting the CLI
// (via MOMIJI_SEED) or a test produce deterministic runs.
func (v *VM) SeedMaybe(seed int64) {
	v.maybeSource = rand.New(rand.NewSource(seed))
}

func (v *VM) collect() { v.heap.Collect(v.markRoots) }

// markRoots implements the VM half of Heap.Collect's root set: the operand
// stack, every active closure, every open upvalue, and the globals table.
func (v *VM) markRoots(h *Heap) {
	for _, val := range v.stack {
		h.MarkValue(val)
	}
	for i := range v.frames {
		h.Mark(v.frames[i].closure)
	}
	for _, u := range v.openUpvalues {
		h.Mark(u)
	}
	v.globals.Each(func(key *String, val bytecode.Value) {
		h.Mark(key)
		h.MarkValue(val)
	})
}

func (v *VM) DefineNative(name string, fn NativeFn) {
	n := v.heap.NewNative(name, fn, v.collect)
	key := v.heap.InternString(name, v.collect)
	v.globals.Set(key, bytecode.Object(n))
}

func (v *VM) push(val bytecode.Value) {
	v.stack = append(v.stack, val)
}

func (v *VM) pop() bytecode.Value {
	n := len(v.stack) - 1
	val := v.stack[n]
	v.stack = v.stack[:n]
	return val
}

func (v *VM) peek(distance int) bytecode.Value {
	return v.stack[len(v.stack)-1-distance]
}

// Interpret runs fn (the top-level script Function) to completion.
func (v *VM) Interpret(fn *Function) error {
	closure := v.heap.NewClosure(fn, v.collect)
	v.push(bytecode.Object(closure))
	v.callClosure(closure, 0)
	return v.run()
}

func (v *VM) runtimeError(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	line := 0
	if len(v.frames) > 0 {
		fr := &v.frames[len(v.frames)-1]
		line = fr.closure.Function.Chunk.LineAt(fr.ip)
	}
	snippet := ""
	var stack []errors.StackFrame
	for i := len(v.frames) - 1; i >= 0; i-- {
		fr := &v.frames[i]
		frameLine := fr.closure.Function.Chunk.LineAt(fr.ip)
		name := fr.closure.Function.Name
		if name == "" {
			name = "<script>"
		}
		if i == len(v.frames)-1 {
			snippet = fr.closure.Function.Chunk.SnippetAt(fr.ip)
		}
		stack = append(stack, errors.StackFrame{Function: name, Line: frameLine})
	}
	v.resetStack()
	return errors.NewRuntimeError(msg, line, snippet).WithStack(stack)
}

func (v *VM) resetStack() {
	v.stack = v.stack[:0]
	v.frames = v.frames[:0]
	v.openUpvalues = nil
}

// --- calling ------------------------------------------------------------

func (v *VM) callClosure(closure *Closure, argCount int) error {
	if argCount != closure.Function.Arity {
		return v.runtimeError("expected %d arguments but got %d", closure.Function.Arity, argCount)
	}
	if len(v.frames) >= FramesMax {
		return v.runtimeError("stack overflow")
	}
	v.frames = append(v.frames, CallFrame{
		closure: closure,
		ip:      0,
		base:    len(v.stack) - argCount - 1,
	})
	return nil
}

// callValue implements Momiji's call protocol: a Closure call pushes a new
// frame; a Native call runs synchronously and replaces the call site's
// stack slice with its result; a Class call constructs an Instance and, if
// present, invokes its constructor; a BoundMethod call calls the
// underlying Closure with the bound receiver substituted for the callee.
func (v *VM) callValue(callee bytecode.Value, argCount int) error {
	if !callee.IsObject() {
		return v.runtimeError("can only call functions, classes, and methods")
	}
	switch obj := callee.Obj.(type) {
	case *Closure:
		return v.callClosure(obj, argCount)
	case *Native:
		args := v.stack[len(v.stack)-argCount:]
		result, err := obj.Fn(args)
		if err != nil {
			return v.runtimeError("%s", err.Error())
		}
		v.stack = v.stack[:len(v.stack)-argCount-1]
		v.push(result)
		return nil
	case *Class:
		instance := v.heap.NewInstanceOf(obj, v.collect)
		v.stack[len(v.stack)-argCount-1] = bytecode.Object(instance)
		if obj.Constructor != nil {
			return v.callClosure(obj.Constructor, argCount)
		}
		if argCount != 0 {
			return v.runtimeError("expected 0 arguments but got %d", argCount)
		}
		v.stack = v.stack[:len(v.stack)-argCount]
		return nil
	case *BoundMethod:
		v.stack[len(v.stack)-argCount-1] = obj.Receiver
		return v.callClosure(obj.Method, argCount)
	default:
		return v.runtimeError("can only call functions, classes, and methods")
	}
}

func (v *VM) invoke(name *String, argCount int) error {
	receiver := v.peek(argCount)
	if !receiver.IsObject() {
		return v.runtimeError("only instances have methods")
	}
	instance, ok := receiver.Obj.(*Instance)
	if !ok {
		return v.runtimeError("only instances have methods")
	}
	if field, ok := instance.Fields[name.Chars]; ok {
		v.stack[len(v.stack)-argCount-1] = field
		return v.callValue(field, argCount)
	}
	method, ok := instance.Class.Methods[name.Chars]
	if !ok {
		return v.runtimeError("undefined property '%s'", name.Chars)
	}
	return v.callClosure(method, argCount)
}

// superInvoke resolves name on superclass rather than the receiver's own
// class, used for super.method(...) and for the special literal name
// "super" which means "call superclass's constructor directly".
func (v *VM) superInvoke(name *String, argCount int, superclass *Class) error {
	if name.Chars == "super" {
		if superclass.Constructor == nil {
			v.stack = v.stack[:len(v.stack)-argCount-1]
			v.push(bytecode.Null())
			return nil
		}
		return v.callClosure(superclass.Constructor, argCount)
	}
	method, ok := superclass.Methods[name.Chars]
	if !ok {
		return v.runtimeError("undefined property '%s'", name.Chars)
	}
	return v.callClosure(method, argCount)
}

// --- upvalues -------------------------------------------------------------

func (v *VM) captureUpvalue(stackIndex int) *Upvalue {
	i := 0
	for i < len(v.openUpvalues) && v.openUpvalues[i].StackIndex > stackIndex {
		i++
	}
	if i < len(v.openUpvalues) && v.openUpvalues[i].StackIndex == stackIndex {
		return v.openUpvalues[i]
	}
	created := v.heap.NewUpvalue(&v.stack[stackIndex], stackIndex, v.collect)
	v.openUpvalues = append(v.openUpvalues, nil)
	copy(v.openUpvalues[i+1:], v.openUpvalues[i:])
	v.openUpvalues[i] = created
	return created
}

func (v *VM) closeUpvalues(from int) {
	kept := v.openUpvalues[:0]
	for _, u := range v.openUpvalues {
		if u.StackIndex >= from {
			u.Close()
		} else {
			kept = append(kept, u)
		}
	}
	v.openUpvalues = kept
}

// --- run loop -------------------------------------------------------------

func (v *VM) run() error {
	frame := &v.frames[len(v.frames)-1]
	chunk := frame.closure.Function.Chunk

	readByte := func() byte {
		b := chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() uint16 {
		s := chunk.ReadShort(frame.ip)
		frame.ip += 2
		return s
	}
	readLong := func() uint32 {
		l := chunk.ReadLong(frame.ip)
		frame.ip += 4
		return l
	}
	readConstant := func(idx uint32) bytecode.Value { return chunk.Constants[idx] }
	readString := func(idx uint32) *String { return readConstant(idx).Obj.(*String) }

	syncFrame := func() {
		frame = &v.frames[len(v.frames)-1]
		chunk = frame.closure.Function.Chunk
	}

	for {
		op := bytecode.OpCode(readByte())
		switch op {
		case bytecode.OpConstant:
			v.push(readConstant(uint32(readByte())))
		case bytecode.OpConstantLong:
			v.push(readConstant(readLong()))
		case bytecode.OpNull:
			v.push(bytecode.Null())
		case bytecode.OpTrue:
			v.push(bytecode.Bool(true))
		case bytecode.OpFalse:
			v.push(bytecode.Bool(false))
		case bytecode.OpMaybe:
			v.push(bytecode.Bool(v.maybeSource.Intn(2) == 1))
		case bytecode.OpPop:
			v.pop()
		case bytecode.OpDuplicate:
			depth := int(readByte())
			v.push(v.peek(depth))

		case bytecode.OpDefineGlobal:
			name := readString(uint32(readByte()))
			v.globals.Set(name, v.pop())
		case bytecode.OpGetGlobal:
			name := readString(uint32(readByte()))
			val, ok := v.globals.Get(name)
			if !ok {
				return v.runtimeError("undefined variable '%s'", name.Chars)
			}
			v.push(val)
		case bytecode.OpSetGlobal:
			name := readString(uint32(readByte()))
			if v.globals.Set(name, v.peek(0)) {
				v.globals.Delete(name)
				return v.runtimeError("undefined variable '%s'", name.Chars)
			}

		case bytecode.OpGetLocal:
			slot := int(readByte())
			v.push(v.stack[frame.base+slot])
		case bytecode.OpSetLocal:
			slot := int(readByte())
			v.stack[frame.base+slot] = v.peek(0)

		case bytecode.OpGetUpvalue:
			slot := int(readByte())
			v.push(*frame.closure.Upvalues[slot].Location)
		case bytecode.OpSetUpvalue:
			slot := int(readByte())
			*frame.closure.Upvalues[slot].Location = v.peek(0)
		case bytecode.OpCloseUpvalue:
			v.closeUpvalues(len(v.stack) - 1)
			v.pop()

		case bytecode.OpGetProperty:
			name := readString(uint32(readByte()))
			if err := v.getProperty(name); err != nil {
				return err
			}
		case bytecode.OpSetProperty:
			name := readString(uint32(readByte()))
			value := v.pop()
			receiver := v.pop()
			inst, ok := receiver.Obj.(*Instance)
			if !receiver.IsObject() || !ok {
				return v.runtimeError("only instances have fields")
			}
			inst.Fields[name.Chars] = value
			v.push(value)
		case bytecode.OpInitProperty:
			name := readString(uint32(readByte()))
			value := v.pop()
			class := v.peek(0).Obj.(*Class)
			class.SetField(name.Chars, value)
		case bytecode.OpGetSuper:
			name := readString(uint32(readByte()))
			superclass := v.pop().Obj.(*Class)
			receiver := v.pop()
			method, ok := superclass.Methods[name.Chars]
			if !ok {
				return v.runtimeError("undefined property '%s'", name.Chars)
			}
			bound := v.heap.NewBoundMethod(receiver, method, v.collect)
			v.push(bytecode.Object(bound))

		case bytecode.OpGetIndex:
			index := v.pop()
			target := v.pop()
			val, err := v.getIndex(target, index)
			if err != nil {
				return err
			}
			v.push(val)
		case bytecode.OpSetIndex:
			value := v.pop()
			index := v.pop()
			target := v.pop()
			if err := v.setIndex(target, index, value); err != nil {
				return err
			}
			v.push(value)
		case bytecode.OpGetIndexRanged:
			step := v.pop()
			max := v.pop()
			min := v.pop()
			target := v.pop()
			val, err := v.getIndexRanged(target, min, max, step)
			if err != nil {
				return err
			}
			v.push(val)

		case bytecode.OpEqual:
			b := v.pop()
			a := v.pop()
			v.push(bytecode.Bool(valuesEqual(a, b)))
		case bytecode.OpNotEqual:
			b := v.pop()
			a := v.pop()
			v.push(bytecode.Bool(!valuesEqual(a, b)))
		case bytecode.OpIs:
			b := v.pop()
			a := v.pop()
			v.push(bytecode.Bool(valuesIdentical(a, b)))
		case bytecode.OpGreater, bytecode.OpLess, bytecode.OpGreaterEqual, bytecode.OpLessEqual:
			if err := v.comparison(op); err != nil {
				return err
			}

		case bytecode.OpAdd:
			if err := v.add(); err != nil {
				return err
			}
		case bytecode.OpSubtract:
			if err := v.arith(op); err != nil {
				return err
			}
		case bytecode.OpMultiply:
			if err := v.arith(op); err != nil {
				return err
			}
		case bytecode.OpDivide:
			if err := v.arith(op); err != nil {
				return err
			}
		case bytecode.OpMod:
			if err := v.arith(op); err != nil {
				return err
			}
		case bytecode.OpBitwiseAnd:
			if err := v.arith(op); err != nil {
				return err
			}
		case bytecode.OpBitwiseOr:
			if err := v.arith(op); err != nil {
				return err
			}

		case bytecode.OpNegate:
			if !v.peek(0).IsNumber() {
				return v.runtimeError("operand must be a number")
			}
			v.push(bytecode.Number(-v.pop().Number))
		case bytecode.OpNot:
			v.push(bytecode.Bool(v.pop().IsFalsey()))

		case bytecode.OpPreIncrease:
			v.push(bytecode.Number(numericCoerce(v.pop()) + 1))
		case bytecode.OpPreDecrease:
			v.push(bytecode.Number(numericCoerce(v.pop()) - 1))
		case bytecode.OpPostIncrease:
			old := numericCoerce(v.pop())
			v.push(bytecode.Number(old))
			v.push(bytecode.Number(old + 1))
			v.swapTop2Restore()
		case bytecode.OpPostDecrease:
			old := numericCoerce(v.pop())
			v.push(bytecode.Number(old))
			v.push(bytecode.Number(old - 1))
			v.swapTop2Restore()

		case bytecode.OpJump:
			offset := readShort()
			frame.ip += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := readShort()
			if v.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}
		case bytecode.OpLoop:
			offset := readShort()
			frame.ip -= int(offset)

		case bytecode.OpCall:
			argCount := int(readByte())
			if err := v.callValue(v.peek(argCount), argCount); err != nil {
				return err
			}
			syncFrame()
		case bytecode.OpInvoke:
			name := readString(uint32(readByte()))
			argCount := int(readByte())
			if err := v.invoke(name, argCount); err != nil {
				return err
			}
			syncFrame()
		case bytecode.OpSuperInvoke:
			name := readString(uint32(readByte()))
			argCount := int(readByte())
			superclass := v.pop().Obj.(*Class)
			if err := v.superInvoke(name, argCount, superclass); err != nil {
				return err
			}
			syncFrame()

		case bytecode.OpClosure:
			fn := readConstant(readLong()).Obj.(*Function)
			closure := v.heap.NewClosure(fn, v.collect)
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := readByte()
				if isLocal == 1 {
					closure.Upvalues[i] = v.captureUpvalue(frame.base + int(index))
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
			v.push(bytecode.Object(closure))

		case bytecode.OpArray:
			count := int(readShort())
			elems := make([]bytecode.Value, count)
			copy(elems, v.stack[len(v.stack)-count:])
			v.stack = v.stack[:len(v.stack)-count]
			v.push(bytecode.Object(v.heap.NewArray(elems, v.collect)))
		case bytecode.OpMap:
			count := int(readShort())
			m := v.heap.NewMap(v.collect)
			base := len(v.stack) - count*2
			for i := 0; i < count; i++ {
				key := v.stack[base+i*2]
				val := v.stack[base+i*2+1]
				m.Set(key.Obj.(*String).Chars, val)
			}
			v.stack = v.stack[:base]
			v.push(bytecode.Object(m))

		case bytecode.OpClass:
			name := readString(readLong())
			v.push(bytecode.Object(v.heap.NewClass(name.Chars, v.collect)))
		case bytecode.OpInherit:
			superclass, ok := v.peek(1).Obj.(*Class)
			if !ok {
				return v.runtimeError("superclass must be a class")
			}
			subclass := v.peek(0).Obj.(*Class)
			for _, name := range superclass.MethodNames {
				subclass.SetMethod(name, superclass.Methods[name])
			}
			for _, name := range superclass.FieldNames {
				subclass.SetField(name, superclass.Fields[name])
			}
			v.pop() // subclass
		case bytecode.OpMethod:
			name := readString(readLong())
			method := v.pop().Obj.(*Closure)
			class := v.peek(0).Obj.(*Class)
			class.SetMethod(name.Chars, method)

		case bytecode.OpReturn:
			result := v.pop()
			v.closeUpvalues(frame.base)
			v.frames = v.frames[:len(v.frames)-1]
			if len(v.frames) == 0 {
				v.pop() // the top-level script closure
				if !result.IsNull() {
					v.Stdout(stringify(result) + "\n")
				}
				return nil
			}
			v.stack = v.stack[:frame.base]
			v.push(result)
			syncFrame()

		case bytecode.OpPrint:
			v.Stdout(stringify(v.pop()) + "\n")

		default:
			return v.runtimeError("unknown opcode %d", op)
		}
	}
}

// swapTop2Restore turns the [newValue, oldValue] pair pushed by a postfix
// op back into [oldValue] on top (the expression result) while leaving the
// new value one slot further down for the immediately following
// SET_LOCAL/SET_GLOBAL/SET_UPVALUE to store.
func (v *VM) swapTop2Restore() {
	n := len(v.stack)
	v.stack[n-1], v.stack[n-2] = v.stack[n-2], v.stack[n-1]
}

// --- property / index helpers ---------------------------------------------

func (v *VM) getProperty(name *String) error {
	receiver := v.pop()
	if !receiver.IsObject() {
		return v.runtimeError("only instances have properties")
	}
	switch obj := receiver.Obj.(type) {
	case *Instance:
		if val, ok := obj.Fields[name.Chars]; ok {
			v.push(val)
			return nil
		}
		if method, ok := obj.Class.Methods[name.Chars]; ok {
			bound := v.heap.NewBoundMethod(receiver, method, v.collect)
			v.push(bytecode.Object(bound))
			return nil
		}
		return v.runtimeError("undefined property '%s'", name.Chars)
	case *Class:
		if val, ok := obj.Fields[name.Chars]; ok {
			v.push(val)
			return nil
		}
		return v.runtimeError("undefined property '%s'", name.Chars)
	default:
		return v.runtimeError("only instances have properties")
	}
}

func (v *VM) getIndex(target, index bytecode.Value) (bytecode.Value, error) {
	switch obj := target.Obj.(type) {
	case *Array:
		if !index.IsNumber() {
			return bytecode.Value{}, v.runtimeError("array index must be a number")
		}
		val, ok := obj.Get(int(index.Number))
		if !ok {
			return bytecode.Value{}, v.runtimeError("array index out of range")
		}
		return val, nil
	case *Map:
		key, ok := indexAsMapKey(index)
		if !ok {
			return bytecode.Value{}, v.runtimeError("map key must be a string")
		}
		val, ok := obj.Get(key)
		if !ok {
			return bytecode.Value{}, v.runtimeError("undefined map key '%s'", key)
		}
		return val, nil
	case *String:
		if !index.IsNumber() {
			return bytecode.Value{}, v.runtimeError("string index must be a number")
		}
		idx, ok := normalizeIndex(int(index.Number), len(obj.Chars))
		if !ok {
			return bytecode.Value{}, v.runtimeError("string index out of range")
		}
		return bytecode.Object(v.heap.InternString(string(obj.Chars[idx]), v.collect)), nil
	default:
		return bytecode.Value{}, v.runtimeError("value is not indexable")
	}
}

func (v *VM) setIndex(target, index, value bytecode.Value) error {
	switch obj := target.Obj.(type) {
	case *Array:
		if !index.IsNumber() {
			return v.runtimeError("array index must be a number")
		}
		if !obj.Set(int(index.Number), value) {
			return v.runtimeError("array index out of range")
		}
		return nil
	case *Map:
		key, ok := indexAsMapKey(index)
		if !ok {
			return v.runtimeError("map key must be a string")
		}
		obj.Set(key, value)
		return nil
	default:
		return v.runtimeError("value does not support index assignment")
	}
}

func (v *VM) getIndexRanged(target, min, max, step bytecode.Value) (bytecode.Value, error) {
	arr, ok := target.Obj.(*Array)
	if !ok {
		return bytecode.Value{}, v.runtimeError("slicing is only supported on arrays")
	}
	length := len(arr.Elements)
	s := 1
	if step.IsNumber() {
		s = int(step.Number)
	}
	lo := 0
	if s < 0 {
		lo = length - 1
	}
	if min.IsNumber() {
		lo = int(min.Number)
		if lo < 0 {
			lo += length
		}
	}
	hi := length
	if s < 0 {
		hi = 0
	}
	if max.IsNumber() {
		hi = int(max.Number)
		if hi < 0 {
			hi += length
		}
	}
	return bytecode.Object(arr.GetRange(lo, hi, s)), nil
}

func indexAsMapKey(v bytecode.Value) (string, bool) {
	s, ok := v.Obj.(*String)
	if !v.IsObject() || !ok {
		return "", false
	}
	return s.Chars, true
}

// --- arithmetic / comparison -----------------------------------------------

// numericCoerce implements the spec's Bool->double coercion used by
// arithmetic and inc/dec operators: true is 1, false is 0.
func numericCoerce(v bytecode.Value) float64 {
	switch v.Type {
	case bytecode.ValNumber:
		return v.Number
	case bytecode.ValBool:
		if v.Bool {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

func isArithmetic(v bytecode.Value) bool {
	return v.IsNumber() || v.IsBool()
}

func (v *VM) add() error {
	b := v.peek(0)
	a := v.peek(1)
	switch {
	case a.IsObject() && b.IsObject():
		as, aok := a.Obj.(*String)
		bs, bok := b.Obj.(*String)
		if aok && bok {
			v.pop()
			v.pop()
			v.push(bytecode.Object(v.heap.InternString(as.Chars+bs.Chars, v.collect)))
			return nil
		}
		aa, aok2 := a.Obj.(*Array)
		ba, bok2 := b.Obj.(*Array)
		if aok2 && bok2 {
			v.pop()
			v.pop()
			combined := make([]bytecode.Value, 0, len(aa.Elements)+len(ba.Elements))
			combined = append(combined, aa.Elements...)
			combined = append(combined, ba.Elements...)
			v.push(bytecode.Object(v.heap.NewArray(combined, v.collect)))
			return nil
		}
		return v.runtimeError("operands must be two numbers, two strings, or two arrays")
	case isArithmetic(a) && isArithmetic(b):
		v.pop()
		v.pop()
		v.push(bytecode.Number(numericCoerce(a) + numericCoerce(b)))
		return nil
	default:
		return v.runtimeError("operands must be two numbers, two strings, or two arrays")
	}
}

func (v *VM) arith(op bytecode.OpCode) error {
	b := v.peek(0)
	a := v.peek(1)
	if !isArithmetic(a) || !isArithmetic(b) {
		return v.runtimeError("operands must be numbers")
	}
	v.pop()
	v.pop()
	x, y := numericCoerce(a), numericCoerce(b)
	var result float64
	switch op {
	case bytecode.OpSubtract:
		result = x - y
	case bytecode.OpMultiply:
		result = x * y
	case bytecode.OpDivide:
		if y == 0 {
			return v.runtimeError("division by zero")
		}
		result = x / y
	case bytecode.OpMod:
		if y == 0 {
			return v.runtimeError("division by zero")
		}
		result = math.Mod(x, y)
	case bytecode.OpBitwiseAnd:
		result = float64(int64(x) & int64(y))
	case bytecode.OpBitwiseOr:
		result = float64(int64(x) | int64(y))
	}
	v.push(bytecode.Number(result))
	return nil
}

func (v *VM) comparison(op bytecode.OpCode) error {
	b := v.peek(0)
	a := v.peek(1)
	if !isArithmetic(a) || !isArithmetic(b) {
		return v.runtimeError("operands must be numbers")
	}
	v.pop()
	v.pop()
	x, y := numericCoerce(a), numericCoerce(b)
	var result bool
	switch op {
	case bytecode.OpGreater:
		result = x > y
	case bytecode.OpLess:
		result = x < y
	case bytecode.OpGreaterEqual:
		result = x >= y
	case bytecode.OpLessEqual:
		result = x <= y
	}
	v.push(bytecode.Bool(result))
	return nil
}

// valuesEqual implements content equality: numbers/bools/null compare by
// value, strings compare by interned identity (equivalent to content since
// interning guarantees one canonical pointer per distinct content), and
// every other object compares by identity.
func valuesEqual(a, b bytecode.Value) bool {
	if a.Type != b.Type {
		if isArithmetic(a) && isArithmetic(b) {
			return numericCoerce(a) == numericCoerce(b)
		}
		return false
	}
	switch a.Type {
	case bytecode.ValNull:
		return true
	case bytecode.ValBool:
		return a.Bool == b.Bool
	case bytecode.ValNumber:
		return a.Number == b.Number
	case bytecode.ValObject:
		return a.Obj == b.Obj
	}
	return false
}

// valuesIdentical implements the `is` operator: pointer/tag identity, never
// coercing between types the way valuesEqual does for numbers and bools.
func valuesIdentical(a, b bytecode.Value) bool {
	if a.Type != b.Type {
		return false
	}
	return valuesEqual(a, b)
}

// stringify renders a Value the way print and the top-level auto-print do.
func stringify(v bytecode.Value) string {
	switch v.Type {
	case bytecode.ValNull:
		return "null"
	case bytecode.ValBool:
		return strconv.FormatBool(v.Bool)
	case bytecode.ValNumber:
		return formatNumber(v.Number)
	case bytecode.ValObject:
		return stringifyObject(v.Obj)
	}
	return "?"
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func stringifyObject(o bytecode.Obj) string {
	switch obj := o.(type) {
	case *String:
		return obj.Chars
	case *Array:
		parts := make([]string, len(obj.Elements))
		for i, e := range obj.Elements {
			parts[i] = stringify(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Map:
		parts := make([]string, len(obj.Keys))
		for i, k := range obj.Keys {
			parts[i] = fmt.Sprintf("%s: %s", k, stringify(obj.Items[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Function:
		if obj.Name == "" {
			return "<function>"
		}
		return fmt.Sprintf("<function %s>", obj.Name)
	case *Closure:
		return stringifyObject(obj.Function)
	case *Native:
		return fmt.Sprintf("<native %s>", obj.Name)
	case *Class:
		return fmt.Sprintf("<class %s>", obj.Name)
	case *Instance:
		return fmt.Sprintf("<instance of %s>", obj.Class.Name)
	case *BoundMethod:
		return stringifyObject(obj.Method)
	default:
		return "<object>"
	}
}
