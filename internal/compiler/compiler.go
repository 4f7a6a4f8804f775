// Package compiler implements Momiji's single-pass Pratt compiler: it
// drives the scanner token by token and emits bytecode directly into a
// Chunk as it recognizes each grammar production. There is no
// intermediate AST — by the time a production is recognized, its code has
// already been written.
package compiler

import (
	"momiji/internal/bytecode"
	"momiji/internal/errors"
	"momiji/internal/lexer"
	"momiji/internal/vm"
)

const (
	maxLocals   = 256
	maxUpvalues = 256
	maxArgs     = 255
)

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + - % & |
	precFactor                // * /
	precUnary                 // ! - ++ --
	precCall                  // . () []
	precPrimary
)

type parseFn func(p *Parser, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

type localVar struct {
	name       string
	depth      int
	isCaptured bool
}

type upvalueDesc struct {
	index   uint8
	isLocal bool
}

type functionType int

const (
	typeFunction functionType = iota
	typeScript
	typeMethod
	typeConstructor
	typeLambda
)

// funcCompiler is one nested function-compilation frame. The chain of
// funcCompilers linked through enclosing mirrors the nesting of function
// literals in the source; resolving a free variable walks outward along
// this chain.
type funcCompiler struct {
	enclosing *funcCompiler
	function  *vm.Function
	fnType    functionType

	locals     []localVar
	upvalues   []upvalueDesc
	scopeDepth int
}

type classCompiler struct {
	enclosing     *classCompiler
	name          string
	hasSuperclass bool
}

// Parser owns the token cursor, the active funcCompiler/classCompiler
// chains, and the Heap it allocates constants into. It is itself a
// vm.RootProvider: while a compile is in flight, the Functions under
// construction are reachable only from this chain, so the collector must
// be able to ask the Parser to mark them.
type Parser struct {
	scanner *lexer.Scanner
	heap    *vm.Heap

	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicMode bool

	fileName string
	errors   []error

	fc    *funcCompiler
	class *classCompiler
}

// NewParser creates a Parser ready to compile source as the top-level
// script. Compile drives it to completion.
func NewParser(source, fileName string, heap *vm.Heap) *Parser {
	p := &Parser{scanner: lexer.New(source), heap: heap, fileName: fileName}
	p.fc = p.newFuncCompiler(nil, typeScript)
	return p
}

func (p *Parser) newFuncCompiler(enclosing *funcCompiler, fnType functionType) *funcCompiler {
	fc := &funcCompiler{enclosing: enclosing, fnType: fnType}
	fc.function = p.heap.NewFunction(p.collect)
	if fnType == typeScript {
		fc.function.Name = "<script>"
	}
	// Slot 0 is reserved for the callee itself: "this" for methods and
	// constructors, unnamed (but still occupying the slot) otherwise.
	name := ""
	if fnType == typeMethod || fnType == typeConstructor {
		name = "this"
	}
	fc.locals = append(fc.locals, localVar{name: name, depth: 0})
	return fc
}

// collect is passed to every heap allocation made during compilation so an
// allocation that trips the GC threshold still marks this compiler's
// in-progress Functions as a root first.
func (p *Parser) collect() {
	p.heap.Collect(nil)
}

// MarkRoots implements vm.RootProvider: every Function still under
// construction must survive collection even though it is not yet stored
// anywhere a normal VM root would find it.
func (p *Parser) MarkRoots(h *vm.Heap) {
	for fc := p.fc; fc != nil; fc = fc.enclosing {
		h.Mark(fc.function)
	}
}

// Compile compiles source into a top-level Function ready to be wrapped in
// a Closure and run. On error it returns a nil Function together with
// every error encountered during the pass (not just the first); nothing is
// printed here, the caller decides how to report them.
func Compile(source, fileName string, heap *vm.Heap) (*vm.Function, []error) {
	p := NewParser(source, fileName, heap)
	heap.AddRootProvider(p)
	defer heap.RemoveRootProvider(p)

	p.advance()
	for !p.match(lexer.TokenEOF) {
		p.declaration()
	}
	fn := p.endFunction()
	if p.hadError {
		return nil, p.errors
	}
	return fn, nil
}

func (p *Parser) endFunction() *vm.Function {
	p.emitReturn()
	fn := p.fc.function
	if p.fc.enclosing != nil {
		p.fc = p.fc.enclosing
	}
	return fn
}

// --- token stream -----------------------------------------------------

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.NextToken()
		if p.current.Type != lexer.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *Parser) check(t lexer.TokenType) bool { return p.current.Type == t }

func (p *Parser) match(t lexer.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(t lexer.TokenType, msg string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(msg)
}

// --- error reporting ----------------------------------------------------

func (p *Parser) errorAt(tok lexer.Token, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true
	line := tok.Line
	snippet := p.scanner.CurrentLine()
	p.errors = append(p.errors, errors.NewSyntaxError(msg, line, snippet))
}

func (p *Parser) errorAtCurrent(msg string) { p.errorAt(p.current, msg) }
func (p *Parser) error(msg string)          { p.errorAt(p.previous, msg) }

// synchronize skips tokens until a likely statement boundary, so one
// mistake doesn't cascade into a wall of spurious errors.
func (p *Parser) synchronize() {
	p.panicMode = false
	for p.current.Type != lexer.TokenEOF {
		if p.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch p.current.Type {
		case lexer.TokenClass, lexer.TokenFunction, lexer.TokenGlobal, lexer.TokenLocal,
			lexer.TokenVar, lexer.TokenFor, lexer.TokenIf, lexer.TokenWhile,
			lexer.TokenPrint, lexer.TokenReturn, lexer.TokenSwitch:
			return
		}
		p.advance()
	}
}

// --- emit helpers ---------------------------------------------------

func (p *Parser) chunk() *bytecode.Chunk { return p.fc.function.Chunk }

func (p *Parser) snippet() string { return p.scanner.CurrentLine() }

func (p *Parser) emitByte(b byte) {
	p.chunk().WriteByte(b, p.previous.Line, p.snippet())
}

func (p *Parser) emitOp(op bytecode.OpCode) { p.emitByte(byte(op)) }

func (p *Parser) emitBytes(op bytecode.OpCode, b byte) {
	p.emitOp(op)
	p.emitByte(b)
}

func (p *Parser) emitShort(op bytecode.OpCode, v uint16) {
	p.emitOp(op)
	p.chunk().WriteShort(v, p.previous.Line, p.snippet())
}

func (p *Parser) emitLong(op bytecode.OpCode, v uint32) {
	p.emitOp(op)
	p.chunk().WriteLong(v, p.previous.Line, p.snippet())
}

func (p *Parser) emitJump(op bytecode.OpCode) int {
	p.emitOp(op)
	p.emitByte(0xff)
	p.emitByte(0xff)
	return len(p.chunk().Code) - 2
}

func (p *Parser) patchJump(offset int) {
	jump := len(p.chunk().Code) - offset - 2
	if jump > 0xffff {
		p.error("too much code to jump over")
		return
	}
	p.chunk().Code[offset] = byte(jump >> 8)
	p.chunk().Code[offset+1] = byte(jump)
}

func (p *Parser) emitLoop(loopStart int) {
	p.emitOp(bytecode.OpLoop)
	offset := len(p.chunk().Code) - loopStart + 2
	if offset > 0xffff {
		p.error("loop body too large")
	}
	p.emitByte(byte(offset >> 8))
	p.emitByte(byte(offset))
}

func (p *Parser) emitReturn() {
	if p.fc.fnType == typeConstructor {
		p.emitBytes(bytecode.OpGetLocal, 0)
	} else {
		p.emitOp(bytecode.OpNull)
	}
	p.emitOp(bytecode.OpReturn)
}

// makeConstant appends the value to the current function's constant pool
// and returns its index; callers intern strings on the heap before passing
// them in, so the usual pointer-identity invariant holds for any constant
// that is itself a string.
func (p *Parser) makeConstant(v bytecode.Value) uint32 {
	idx := p.chunk().AddConstant(v)
	return uint32(idx)
}

func (p *Parser) emitConstant(v bytecode.Value) {
	p.emitLong(bytecode.OpConstantLong, p.makeConstant(v))
}

// identifierConstant interns tok's text and adds it to the constant pool,
// returning a one-byte index: GET_GLOBAL/SET_GLOBAL/property opcodes only
// carry a one-byte name operand, so the name's pool index must be at most
// 255. Every call appends a new entry (names are not deduplicated), and
// number and string constants share the same pool, so the limit counts
// every constant added to the chunk so far, not only distinct names.
func (p *Parser) identifierConstant(tok lexer.Token) byte {
	s := p.heap.InternString(tok.Text(), p.collect)
	idx := p.chunk().AddConstant(bytecode.Object(s))
	if idx > 255 {
		p.error("too many distinct names referenced in one function")
		return 0
	}
	return byte(idx)
}

func (p *Parser) internedName(tok lexer.Token) *vm.String {
	return p.heap.InternString(tok.Text(), p.collect)
}

// --- scopes -----------------------------------------------------------

func (p *Parser) beginScope() { p.fc.scopeDepth++ }

func (p *Parser) endScope() {
	p.fc.scopeDepth--
	for len(p.fc.locals) > 0 && p.fc.locals[len(p.fc.locals)-1].depth > p.fc.scopeDepth {
		if p.fc.locals[len(p.fc.locals)-1].isCaptured {
			p.emitOp(bytecode.OpCloseUpvalue)
		} else {
			p.emitOp(bytecode.OpPop)
		}
		p.fc.locals = p.fc.locals[:len(p.fc.locals)-1]
	}
}

func (p *Parser) addLocal(name string) {
	if len(p.fc.locals) >= maxLocals {
		p.error("too many local variables in this function")
		return
	}
	p.fc.locals = append(p.fc.locals, localVar{name: name, depth: -1})
}

func (p *Parser) declareLocal(tok lexer.Token) {
	if p.fc.scopeDepth == 0 {
		return
	}
	name := tok.Text()
	for i := len(p.fc.locals) - 1; i >= 0; i-- {
		l := p.fc.locals[i]
		if l.depth != -1 && l.depth < p.fc.scopeDepth {
			break
		}
		if l.name == name {
			p.error("already a variable with this name in this scope")
		}
	}
	p.addLocal(name)
}

func (p *Parser) markInitialized() {
	if p.fc.scopeDepth == 0 {
		return
	}
	p.fc.locals[len(p.fc.locals)-1].depth = p.fc.scopeDepth
}

func resolveLocal(fc *funcCompiler, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if fc.locals[i].name == name {
			if fc.locals[i].depth == -1 {
				return -2 // read-before-initialized sentinel
			}
			return i
		}
	}
	return -1
}

func addUpvalue(fc *funcCompiler, index uint8, isLocal bool) int {
	for i, u := range fc.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if len(fc.upvalues) >= maxUpvalues {
		return -1
	}
	fc.upvalues = append(fc.upvalues, upvalueDesc{index: index, isLocal: isLocal})
	fc.function.UpvalueCount = len(fc.upvalues)
	return len(fc.upvalues) - 1
}

func resolveUpvalue(p *Parser, fc *funcCompiler, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if local := resolveLocal(fc.enclosing, name); local == -2 {
		p.error("cannot read local variable in its own initializer")
		return -1
	} else if local != -1 {
		fc.enclosing.locals[local].isCaptured = true
		idx := addUpvalue(fc, uint8(local), true)
		if idx == -1 {
			p.error("too many closure variables in this function")
		}
		return idx
	}
	if up := resolveUpvalue(p, fc.enclosing, name); up != -1 {
		idx := addUpvalue(fc, uint8(up), false)
		if idx == -1 {
			p.error("too many closure variables in this function")
		}
		return idx
	}
	return -1
}
