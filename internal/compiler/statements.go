package compiler

import (
	"momiji/internal/bytecode"
	"momiji/internal/lexer"
)

// declaration is the top of the statement grammar: a declaration is either
// a class/function/variable declaration or falls through to statement.
// After each one, if panic mode was entered, it synchronizes so a single
// mistake doesn't cascade.
func (p *Parser) declaration() {
	switch {
	case p.match(lexer.TokenClass):
		p.classDeclaration()
	case p.match(lexer.TokenFunction):
		p.functionDeclaration()
	case p.match(lexer.TokenGlobal):
		p.varDeclaration(true)
	case p.match(lexer.TokenLocal), p.match(lexer.TokenVar):
		p.varDeclaration(false)
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (p *Parser) statement() {
	switch {
	case p.match(lexer.TokenPrint):
		p.printStatement()
	case p.match(lexer.TokenIf):
		p.ifStatement()
	case p.match(lexer.TokenWhile):
		p.whileStatement()
	case p.match(lexer.TokenFor):
		p.forStatement()
	case p.match(lexer.TokenSwitch):
		p.switchStatement()
	case p.match(lexer.TokenReturn):
		p.returnStatement()
	case p.match(lexer.TokenLeftBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) block() {
	for !p.check(lexer.TokenRightBrace) && !p.check(lexer.TokenEOF) {
		p.declaration()
	}
	p.consume(lexer.TokenRightBrace, "expected '}' after block")
}

func (p *Parser) printStatement() {
	p.expression()
	p.consume(lexer.TokenSemicolon, "expected ';' after value")
	p.emitOp(bytecode.OpPrint)
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.consume(lexer.TokenSemicolon, "expected ';' after expression")
	p.emitOp(bytecode.OpPop)
}

func (p *Parser) ifStatement() {
	p.consume(lexer.TokenLeftParen, "expected '(' after 'if'")
	p.expression()
	p.consume(lexer.TokenRightParen, "expected ')' after condition")

	thenJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitOp(bytecode.OpPop)
	p.statement()

	elseJump := p.emitJump(bytecode.OpJump)
	p.patchJump(thenJump)
	p.emitOp(bytecode.OpPop)

	if p.match(lexer.TokenElse) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := len(p.chunk().Code)
	p.consume(lexer.TokenLeftParen, "expected '(' after 'while'")
	p.expression()
	p.consume(lexer.TokenRightParen, "expected ')' after condition")

	exitJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitOp(bytecode.OpPop)
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitOp(bytecode.OpPop)
}

func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(lexer.TokenLeftParen, "expected '(' after 'for'")

	switch {
	case p.match(lexer.TokenSemicolon):
		// no initializer
	case p.match(lexer.TokenLocal), p.match(lexer.TokenVar):
		p.varDeclaration(false)
	default:
		p.expressionStatement()
	}

	loopStart := len(p.chunk().Code)
	exitJump := -1
	if !p.match(lexer.TokenSemicolon) {
		p.expression()
		p.consume(lexer.TokenSemicolon, "expected ';' after loop condition")
		exitJump = p.emitJump(bytecode.OpJumpIfFalse)
		p.emitOp(bytecode.OpPop)
	}

	if !p.check(lexer.TokenRightParen) {
		bodyJump := p.emitJump(bytecode.OpJump)
		incrementStart := len(p.chunk().Code)
		p.expression()
		p.emitOp(bytecode.OpPop)
		p.consume(lexer.TokenRightParen, "expected ')' after for clauses")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	} else {
		p.consume(lexer.TokenRightParen, "expected ')' after for clauses")
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(bytecode.OpPop)
	}
	p.endScope()
}

// switchStatement compiles a chain of case comparisons against the
// subject, falling through to an optional default; each case body is a
// list of statements compiled in the enclosing scope (no scope of its own)
// and ends with an implicit break out of the chain.
func (p *Parser) switchStatement() {
	p.consume(lexer.TokenLeftParen, "expected '(' after 'switch'")
	p.expression()
	p.consume(lexer.TokenRightParen, "expected ')' after switch subject")
	p.consume(lexer.TokenLeftBrace, "expected '{' before switch body")

	var endJumps []int
	for p.match(lexer.TokenCase) {
		p.emitBytes(bytecode.OpDuplicate, 0)
		p.expression()
		p.consume(lexer.TokenColon, "expected ':' after case value")
		p.emitOp(bytecode.OpEqual)
		nextCase := p.emitJump(bytecode.OpJumpIfFalse)
		p.emitOp(bytecode.OpPop) // pop the comparison result
		p.emitOp(bytecode.OpPop) // matched: pop the subject too, body runs on a clean stack
		for !p.check(lexer.TokenCase) && !p.check(lexer.TokenDefault) && !p.check(lexer.TokenRightBrace) {
			p.statement()
		}
		endJumps = append(endJumps, p.emitJump(bytecode.OpJump))
		p.patchJump(nextCase)
		p.emitOp(bytecode.OpPop) // pop the comparison result
	}

	if p.match(lexer.TokenDefault) {
		p.consume(lexer.TokenColon, "expected ':' after 'default'")
		p.emitOp(bytecode.OpPop) // pop the subject, unconditionally taken
		for !p.check(lexer.TokenRightBrace) {
			p.statement()
		}
	} else {
		p.emitOp(bytecode.OpPop)
	}

	for _, j := range endJumps {
		p.patchJump(j)
	}
	p.consume(lexer.TokenRightBrace, "expected '}' after switch body")
}

func (p *Parser) returnStatement() {
	if p.fc.fnType == typeScript {
		p.error("cannot return from top-level code")
	}
	if p.match(lexer.TokenSemicolon) {
		p.emitReturn()
		return
	}
	if p.fc.fnType == typeConstructor {
		p.error("cannot return a value from a constructor")
	}
	p.expression()
	p.consume(lexer.TokenSemicolon, "expected ';' after return value")
	p.emitOp(bytecode.OpReturn)
}

// --- variable declarations -------------------------------------------

// varDeclaration compiles `local`/`var` and `global` declarations alike;
// `isGlobal` forces the binding into the globals table even inside a
// nested scope, matching the language's explicit global/local keywords
// rather than inferring scope from nesting depth alone.
func (p *Parser) varDeclaration(isGlobal bool) {
	p.consume(lexer.TokenIdentifier, "expected a variable name")
	nameTok := p.previous

	var globalIdx byte
	if isGlobal || p.fc.scopeDepth == 0 {
		globalIdx = p.identifierConstant(nameTok)
	} else {
		p.declareLocal(nameTok)
	}

	if p.match(lexer.TokenEqual) {
		p.expression()
	} else {
		p.emitOp(bytecode.OpNull)
	}
	p.consume(lexer.TokenSemicolon, "expected ';' after variable declaration")

	if isGlobal || p.fc.scopeDepth == 0 {
		p.emitBytes(bytecode.OpDefineGlobal, globalIdx)
	} else {
		p.markInitialized()
	}
}

// --- functions ----------------------------------------------------------

func (p *Parser) functionDeclaration() {
	p.consume(lexer.TokenIdentifier, "expected a function name")
	nameTok := p.previous

	global := byte(0)
	isGlobalScope := p.fc.scopeDepth == 0
	if isGlobalScope {
		global = p.identifierConstant(nameTok)
	} else {
		p.declareLocal(nameTok)
		p.markInitialized()
	}

	p.functionBodyNamed(typeFunction, nameTok.Text())

	if isGlobalScope {
		p.emitBytes(bytecode.OpDefineGlobal, global)
	}
}

// functionBody compiles an anonymous function literal (a lambda has no
// name to bind).
func (p *Parser) functionBody(fnType functionType) {
	p.functionBodyNamed(fnType, "")
}

// functionBodyNamed compiles a parameter list and body into a fresh
// funcCompiler frame, then emits OP_CLOSURE over the finished Function so
// the enclosing code captures whatever upvalues the body resolved.
func (p *Parser) functionBodyNamed(fnType functionType, name string) {
	fc := p.newFuncCompiler(p.fc, fnType)
	fc.function.Name = name
	p.fc = fc
	p.beginScope()

	p.consume(lexer.TokenLeftParen, "expected '(' after function name")
	if !p.check(lexer.TokenRightParen) {
		for {
			p.fc.function.Arity++
			if p.fc.function.Arity > maxArgs {
				p.error("cannot declare more than 255 parameters")
			}
			p.consume(lexer.TokenIdentifier, "expected a parameter name")
			p.declareLocal(p.previous)
			p.markInitialized()
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightParen, "expected ')' after parameters")

	if fnType == typeLambda {
		fc.function.Name = "<lambda>"
	}

	if p.match(lexer.TokenArrow) {
		// `=> expr` form: the single expression's value is returned.
		p.expression()
		p.emitOp(bytecode.OpReturn)
	} else {
		p.consume(lexer.TokenLeftBrace, "expected '{' or '=>' before function body")
		p.block()
	}

	fn := p.endFunction()
	p.emitLong(bytecode.OpClosure, uint32(p.chunk().AddConstant(bytecode.Object(fn))))
	for _, u := range fc.upvalues {
		local := byte(0)
		if u.isLocal {
			local = 1
		}
		p.emitByte(local)
		p.emitByte(u.index)
	}
}

// --- classes --------------------------------------------------------------

// classDeclaration follows the canonical scheme: declare the class name,
// emit OP_CLASS, define it as a binding, optionally wire a superclass
// (pushing it, checking for self-inheritance, opening a synthetic `super`
// local scope, and emitting OP_INHERIT), then compile every member while
// the class itself sits on top of the stack, and finally pop it.
func (p *Parser) classDeclaration() {
	p.consume(lexer.TokenIdentifier, "expected a class name")
	nameTok := p.previous
	className := nameTok.Text()
	nameConstant := p.chunk().AddConstant(bytecode.Object(p.heap.InternString(className, p.collect)))
	p.declareLocal(nameTok)

	p.emitLong(bytecode.OpClass, uint32(nameConstant))
	if p.fc.scopeDepth == 0 {
		p.emitBytes(bytecode.OpDefineGlobal, p.identifierConstant(nameTok))
	}
	p.markInitialized()

	cc := &classCompiler{enclosing: p.class, name: className}
	p.class = cc

	if p.match(lexer.TokenColon) {
		p.consume(lexer.TokenIdentifier, "expected a superclass name")
		superTok := p.previous
		p.variable(false)
		if superTok.Text() == className {
			p.error("a class cannot inherit from itself")
		}

		p.beginScope()
		p.addLocal("super")
		p.markInitialized()

		p.namedVariable(nameTok, false)
		p.emitOp(bytecode.OpInherit)
		cc.hasSuperclass = true
	}

	p.namedVariable(nameTok, false)
	p.consume(lexer.TokenLeftBrace, "expected '{' before class body")
	for !p.check(lexer.TokenRightBrace) && !p.check(lexer.TokenEOF) {
		p.classMember(className)
	}
	p.consume(lexer.TokenRightBrace, "expected '}' after class body")
	p.emitOp(bytecode.OpPop)

	if cc.hasSuperclass {
		p.endScope()
	}
	p.class = cc.enclosing
}

// classMember compiles either a field default (`local name = expr;`) or a
// method (`name(params) { ... }`); a method whose name matches the class
// name is the constructor, and the VM routes OP_CALL on a Class value to
// it. The `local` keyword is optional punctuation for a field default (it
// never introduces a method), matching the spec's `local field = expr;`
// class-body grammar.
func (p *Parser) classMember(className string) {
	p.match(lexer.TokenLocal)
	p.consume(lexer.TokenIdentifier, "expected a field or method name")
	nameTok := p.previous

	if p.match(lexer.TokenLeftParen) {
		fnType := typeMethod
		if nameTok.Text() == className {
			fnType = typeConstructor
		}
		nameConstant := uint32(p.chunk().AddConstant(bytecode.Object(p.internedName(nameTok))))
		p.method(nameTok.Text(), nameConstant, fnType)
		return
	}

	name := p.identifierConstant(nameTok)
	if p.match(lexer.TokenEqual) {
		p.expression()
	} else {
		p.emitOp(bytecode.OpNull)
	}
	p.consume(lexer.TokenSemicolon, "expected ';' after field default")
	p.emitBytes(bytecode.OpInitProperty, name)
}

// method compiles a method body in its own funcCompiler. classMember has
// already consumed the '(' after the method name, so method starts at the
// first parameter and consumes the rest of the parameter list through ')'.
// The method name constant is
// 4 bytes wide like OP_CLASS, not the 1-byte width used by property
// access, since the method table is built once at class-definition time
// rather than on every instance access.
func (p *Parser) method(name string, nameConstant uint32, fnType functionType) {
	fc := p.newFuncCompiler(p.fc, fnType)
	fc.function.Name = p.class.name + "." + name
	p.fc = fc
	p.beginScope()

	if !p.check(lexer.TokenRightParen) {
		for {
			p.fc.function.Arity++
			if p.fc.function.Arity > maxArgs {
				p.error("cannot declare more than 255 parameters")
			}
			p.consume(lexer.TokenIdentifier, "expected a parameter name")
			p.declareLocal(p.previous)
			p.markInitialized()
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightParen, "expected ')' after parameters")

	p.consume(lexer.TokenLeftBrace, "expected '{' before method body")
	p.block()

	fn := p.endFunction()
	p.emitLong(bytecode.OpClosure, uint32(p.chunk().AddConstant(bytecode.Object(fn))))
	for _, u := range fc.upvalues {
		local := byte(0)
		if u.isLocal {
			local = 1
		}
		p.emitByte(local)
		p.emitByte(u.index)
	}
	p.emitLong(bytecode.OpMethod, nameConstant)
}
