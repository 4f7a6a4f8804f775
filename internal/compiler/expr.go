package compiler

import (
	"strconv"
	"strings"

	"momiji/internal/bytecode"
	"momiji/internal/lexer"
)

// rules is the Pratt parse table: for each token type, the prefix parser to
// use when it starts an expression, the infix parser to use when it
// follows one, and the binding precedence of that infix use.
var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:   {prefix: (*Parser).grouping, infix: (*Parser).call, precedence: precCall},
		lexer.TokenLeftSquare:  {prefix: (*Parser).arrayLiteral, infix: (*Parser).index, precedence: precCall},
		lexer.TokenLeftBrace:   {prefix: (*Parser).mapLiteral},
		lexer.TokenDot:         {infix: (*Parser).dot, precedence: precCall},
		lexer.TokenMinus:       {prefix: (*Parser).unary, infix: (*Parser).binary, precedence: precTerm},
		lexer.TokenPlus:        {infix: (*Parser).binary, precedence: precTerm},
		lexer.TokenPercent:     {infix: (*Parser).binary, precedence: precTerm},
		lexer.TokenAmp:         {infix: (*Parser).binary, precedence: precTerm},
		lexer.TokenPipe:        {infix: (*Parser).binary, precedence: precTerm},
		lexer.TokenSlash:       {infix: (*Parser).binary, precedence: precFactor},
		lexer.TokenStar:        {infix: (*Parser).binary, precedence: precFactor},
		lexer.TokenBang:        {prefix: (*Parser).unary},
		lexer.TokenBangEqual:   {infix: (*Parser).binary, precedence: precEquality},
		lexer.TokenEqualEqual:  {infix: (*Parser).binary, precedence: precEquality},
		lexer.TokenGreater:     {infix: (*Parser).binary, precedence: precComparison},
		lexer.TokenGreaterEqual: {infix: (*Parser).binary, precedence: precComparison},
		lexer.TokenLess:        {infix: (*Parser).binary, precedence: precComparison},
		lexer.TokenLessEqual:   {infix: (*Parser).binary, precedence: precComparison},
		lexer.TokenIs:          {infix: (*Parser).binary, precedence: precEquality},
		lexer.TokenIdentifier:  {prefix: (*Parser).variable},
		lexer.TokenString:      {prefix: (*Parser).stringLiteral},
		lexer.TokenNumber:      {prefix: (*Parser).number},
		lexer.TokenAnd:         {infix: (*Parser).and_, precedence: precAnd},
		lexer.TokenOr:          {infix: (*Parser).or_, precedence: precOr},
		lexer.TokenTrue:        {prefix: (*Parser).literal},
		lexer.TokenFalse:       {prefix: (*Parser).literal},
		lexer.TokenNull:        {prefix: (*Parser).literal},
		lexer.TokenMaybe:       {prefix: (*Parser).literal},
		lexer.TokenThis:        {prefix: (*Parser).this_},
		lexer.TokenSuper:       {prefix: (*Parser).super_},
		lexer.TokenPlusPlus:    {prefix: (*Parser).prefixIncDec},
		lexer.TokenMinusMinus:  {prefix: (*Parser).prefixIncDec},
		lexer.TokenFunction:    {prefix: (*Parser).lambda},
	}
}

func (p *Parser) getRule(t lexer.TokenType) parseRule {
	if r, ok := rules[t]; ok {
		return r
	}
	return parseRule{}
}

// parsePrecedence is the core of the Pratt loop: it consumes one prefix
// production, then keeps folding infix productions as long as the next
// token's precedence binds at least as tightly as minPrec.
func (p *Parser) parsePrecedence(minPrec precedence) {
	p.advance()
	prefixRule := p.getRule(p.previous.Type).prefix
	if prefixRule == nil {
		p.error("expected an expression")
		return
	}
	canAssign := minPrec <= precAssignment
	prefixRule(p, canAssign)

	for minPrec <= p.getRule(p.current.Type).precedence {
		p.advance()
		infixRule := p.getRule(p.previous.Type).infix
		infixRule(p, canAssign)
	}

	if canAssign && p.match(lexer.TokenEqual) {
		p.error("invalid assignment target")
	}
}

func (p *Parser) expression() { p.parsePrecedence(precAssignment) }

// --- literals -----------------------------------------------------------

func (p *Parser) number(canAssign bool) {
	text := strings.ReplaceAll(p.previous.Text(), "_", "")
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.error("invalid number literal")
		return
	}
	p.emitConstant(bytecode.Number(v))
}

func (p *Parser) stringLiteral(canAssign bool) {
	text := p.previous.Text()
	// Text() includes the surrounding quotes.
	raw := text[1 : len(text)-1]
	s := p.heap.InternString(unescape(raw), p.collect)
	p.emitConstant(bytecode.Object(s))
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (p *Parser) literal(canAssign bool) {
	switch p.previous.Type {
	case lexer.TokenTrue:
		p.emitOp(bytecode.OpTrue)
	case lexer.TokenFalse:
		p.emitOp(bytecode.OpFalse)
	case lexer.TokenNull:
		p.emitOp(bytecode.OpNull)
	case lexer.TokenMaybe:
		p.emitOp(bytecode.OpMaybe)
	}
}

func (p *Parser) grouping(canAssign bool) {
	p.expression()
	p.consume(lexer.TokenRightParen, "expected ')' after expression")
}

func (p *Parser) unary(canAssign bool) {
	opType := p.previous.Type
	p.parsePrecedence(precUnary)
	switch opType {
	case lexer.TokenMinus:
		p.emitOp(bytecode.OpNegate)
	case lexer.TokenBang:
		p.emitOp(bytecode.OpNot)
	}
}

func (p *Parser) binary(canAssign bool) {
	opType := p.previous.Type
	rule := p.getRule(opType)
	p.parsePrecedence(rule.precedence + 1)
	switch opType {
	case lexer.TokenPlus:
		p.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		p.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		p.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		p.emitOp(bytecode.OpDivide)
	case lexer.TokenPercent:
		p.emitOp(bytecode.OpMod)
	case lexer.TokenAmp:
		p.emitOp(bytecode.OpBitwiseAnd)
	case lexer.TokenPipe:
		p.emitOp(bytecode.OpBitwiseOr)
	case lexer.TokenBangEqual:
		p.emitOp(bytecode.OpNotEqual)
	case lexer.TokenEqualEqual:
		p.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		p.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		p.emitOp(bytecode.OpGreaterEqual)
	case lexer.TokenLess:
		p.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		p.emitOp(bytecode.OpLessEqual)
	case lexer.TokenIs:
		p.emitOp(bytecode.OpIs)
	}
}

func (p *Parser) and_(canAssign bool) {
	endJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitOp(bytecode.OpPop)
	p.parsePrecedence(precAnd)
	p.patchJump(endJump)
}

func (p *Parser) or_(canAssign bool) {
	elseJump := p.emitJump(bytecode.OpJumpIfFalse)
	endJump := p.emitJump(bytecode.OpJump)
	p.patchJump(elseJump)
	p.emitOp(bytecode.OpPop)
	p.parsePrecedence(precOr)
	p.patchJump(endJump)
}

// --- variables, assignment, inc/dec --------------------------------------

// namedVariable resolves name against locals, then enclosing upvalues, then
// falls back to treating it as a global, exactly mirroring the original
// NamedVariable dispatch order.
func (p *Parser) namedVariable(tok lexer.Token, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	arg := resolveLocal(p.fc, tok.Text())
	switch {
	case arg == -2:
		p.error("cannot read local variable in its own initializer")
		return
	case arg != -1:
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	default:
		if up := resolveUpvalue(p, p.fc, tok.Text()); up != -1 {
			arg = up
			getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
		} else {
			arg = int(p.identifierConstant(tok))
			getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
		}
	}

	if canAssign && p.match(lexer.TokenEqual) {
		p.expression()
		p.emitBytes(setOp, byte(arg))
		return
	}
	if canAssign && p.matchCompoundAssign() {
		p.emitBytes(getOp, byte(arg))
		p.compoundOp()
		p.emitBytes(setOp, byte(arg))
		return
	}
	if canAssign && (p.check(lexer.TokenPlusPlus) || p.check(lexer.TokenMinusMinus)) {
		p.emitBytes(getOp, byte(arg))
		p.postfixIncDec()
		p.emitBytes(setOp, byte(arg))
		return
	}
	p.emitBytes(getOp, byte(arg))
}

func (p *Parser) variable(canAssign bool) { p.namedVariable(p.previous, canAssign) }

// matchCompoundAssign consumes one of += -= *= /= if present.
func (p *Parser) matchCompoundAssign() bool {
	switch {
	case p.match(lexer.TokenPlusEqual), p.match(lexer.TokenMinusEqual),
		p.match(lexer.TokenStarEqual), p.match(lexer.TokenSlashEqual):
		return true
	}
	return false
}

// compoundOp compiles the right-hand side of a just-consumed compound
// assignment token and emits the matching arithmetic op; the left operand
// is assumed already pushed by the caller.
func (p *Parser) compoundOp() {
	op := p.previous.Type
	p.expression()
	switch op {
	case lexer.TokenPlusEqual:
		p.emitOp(bytecode.OpAdd)
	case lexer.TokenMinusEqual:
		p.emitOp(bytecode.OpSubtract)
	case lexer.TokenStarEqual:
		p.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlashEqual:
		p.emitOp(bytecode.OpDivide)
	}
}

func (p *Parser) postfixIncDec() {
	if p.match(lexer.TokenPlusPlus) {
		p.emitOp(bytecode.OpPostIncrease)
	} else if p.match(lexer.TokenMinusMinus) {
		p.emitOp(bytecode.OpPostDecrease)
	}
}

// prefixIncDec handles a leading ++/-- applied to a variable: ++x compiles
// to "push x, OP_PRE_INCREASE, store back".
func (p *Parser) prefixIncDec(canAssign bool) {
	op := p.previous.Type
	p.consume(lexer.TokenIdentifier, "expected a variable after prefix '++'/'--'")
	tok := p.previous

	var getOp, setOp bytecode.OpCode
	arg := resolveLocal(p.fc, tok.Text())
	switch {
	case arg != -1 && arg != -2:
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	default:
		if up := resolveUpvalue(p, p.fc, tok.Text()); up != -1 {
			arg = up
			getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
		} else {
			arg = int(p.identifierConstant(tok))
			getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
		}
	}
	p.emitBytes(getOp, byte(arg))
	if op == lexer.TokenPlusPlus {
		p.emitOp(bytecode.OpPreIncrease)
	} else {
		p.emitOp(bytecode.OpPreDecrease)
	}
	p.emitBytes(setOp, byte(arg))
}

// --- this / super ---------------------------------------------------------

func (p *Parser) this_(canAssign bool) {
	if p.class == nil {
		p.error("'this' may only be used inside a method")
		return
	}
	p.variable(false)
}

func (p *Parser) super_(canAssign bool) {
	if p.class == nil {
		p.error("'super' may only be used inside a method")
		return
	} else if !p.class.hasSuperclass {
		p.error("cannot use 'super' in a class with no superclass")
	}

	if p.match(lexer.TokenLeftParen) {
		// bare super(args): invoke the superclass constructor directly. The
		// literal name "super" is the VM's signal to call the superclass's
		// constructor rather than look up a method by that name.
		p.namedVariableGet(syntheticToken("this"))
		argCount := p.argumentList()
		p.namedVariableGet(syntheticToken("super"))
		name := p.identifierConstant(syntheticToken("super"))
		p.emitOp(bytecode.OpSuperInvoke)
		p.emitByte(name)
		p.emitByte(byte(argCount))
		return
	}

	p.consume(lexer.TokenDot, "expected '.' or '(' after 'super'")
	p.consume(lexer.TokenIdentifier, "expected a superclass member name")
	name := p.identifierConstant(p.previous)

	p.namedVariableGet(syntheticToken("this"))
	if p.match(lexer.TokenLeftParen) {
		argCount := p.argumentList()
		p.namedVariableGet(syntheticToken("super"))
		p.emitOp(bytecode.OpSuperInvoke)
		p.emitByte(name)
		p.emitByte(byte(argCount))
		return
	}
	p.namedVariableGet(syntheticToken("super"))
	p.emitBytes(bytecode.OpGetSuper, name)
}

// syntheticToken builds a Token for a compiler-introduced identifier (the
// hidden `this`/`super` locals) that does not actually appear in source.
func syntheticToken(text string) lexer.Token {
	return lexer.Token{Type: lexer.TokenIdentifier, Lexeme: text, Source: text, Start: 0, Length: len(text)}
}

// namedVariableGet emits only a read, never an assignment, used for the
// synthetic this/super references threaded through super-call compilation.
func (p *Parser) namedVariableGet(tok lexer.Token) { p.namedVariable(tok, false) }

// --- calls, properties, indexing -----------------------------------------

func (p *Parser) argumentList() int {
	argCount := 0
	if !p.check(lexer.TokenRightParen) {
		for {
			p.expression()
			if argCount == maxArgs {
				p.error("cannot pass more than 255 arguments to a call")
			}
			argCount++
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightParen, "expected ')' after arguments")
	return argCount
}

func (p *Parser) call(canAssign bool) {
	argCount := p.argumentList()
	p.emitBytes(bytecode.OpCall, byte(argCount))
}

// dot compiles `.name`, fusing directly into OP_INVOKE when immediately
// followed by a call, and otherwise into a plain get/set/assignment.
func (p *Parser) dot(canAssign bool) {
	p.consume(lexer.TokenIdentifier, "expected a property name after '.'")
	name := p.identifierConstant(p.previous)

	switch {
	case canAssign && p.match(lexer.TokenEqual):
		p.expression()
		p.emitBytes(bytecode.OpSetProperty, name)
	case canAssign && p.matchCompoundAssign():
		p.emitBytes(bytecode.OpDuplicate, 0)
		p.emitBytes(bytecode.OpGetProperty, name)
		p.compoundOp()
		p.emitBytes(bytecode.OpSetProperty, name)
	case p.match(lexer.TokenLeftParen):
		argCount := p.argumentList()
		p.emitOp(bytecode.OpInvoke)
		p.emitByte(name)
		p.emitByte(byte(argCount))
	default:
		p.emitBytes(bytecode.OpGetProperty, name)
	}
}

// index compiles both a[i] (a single GET/SET_INDEX) and the slicing form
// a[min:max:step], which always emits all three bound values in order so
// the VM's OP_GET_INDEX_RANGED has a fixed, unambiguous stack shape.
func (p *Parser) index(canAssign bool) {
	isSlice := false
	if p.check(lexer.TokenColon) {
		p.emitOp(bytecode.OpNull)
	} else {
		p.expression()
	}
	if p.match(lexer.TokenColon) {
		isSlice = true
		if p.check(lexer.TokenColon) || p.check(lexer.TokenRightSquare) {
			p.emitOp(bytecode.OpNull)
		} else {
			p.expression()
		}
		if p.match(lexer.TokenColon) {
			if p.check(lexer.TokenRightSquare) {
				p.emitOp(bytecode.OpNull)
			} else {
				p.expression()
			}
		} else {
			p.emitOp(bytecode.OpNull)
		}
	}
	p.consume(lexer.TokenRightSquare, "expected ']' after index")

	if isSlice {
		p.emitOp(bytecode.OpGetIndexRanged)
		return
	}

	switch {
	case canAssign && p.match(lexer.TokenEqual):
		p.expression()
		p.emitOp(bytecode.OpSetIndex)
	case canAssign && p.matchCompoundAssign():
		p.emitBytes(bytecode.OpDuplicate, 1)
		p.emitBytes(bytecode.OpDuplicate, 1)
		p.emitOp(bytecode.OpGetIndex)
		p.compoundOp()
		p.emitOp(bytecode.OpSetIndex)
	default:
		p.emitOp(bytecode.OpGetIndex)
	}
}

// --- literals: arrays, maps, lambdas --------------------------------------

func (p *Parser) arrayLiteral(canAssign bool) {
	count := 0
	if !p.check(lexer.TokenRightSquare) {
		for {
			p.expression()
			count++
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightSquare, "expected ']' after array literal")
	if count > 0xffff {
		p.error("array literal has too many elements")
	}
	p.emitShort(bytecode.OpArray, uint16(count))
}

func (p *Parser) mapLiteral(canAssign bool) {
	count := 0
	if !p.check(lexer.TokenRightBrace) {
		for {
			if p.check(lexer.TokenString) {
				p.advance()
				p.stringLiteral(false)
			} else {
				p.consume(lexer.TokenIdentifier, "expected a map key")
				key := p.heap.InternString(p.previous.Text(), p.collect)
				p.emitConstant(bytecode.Object(key))
			}
			p.consume(lexer.TokenColon, "expected ':' after map key")
			p.expression()
			count++
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightBrace, "expected '}' after map literal")
	if count > 0xffff {
		p.error("map literal has too many entries")
	}
	p.emitShort(bytecode.OpMap, uint16(count))
}

// lambda compiles an anonymous `function(...) { ... }` or
// `function(...) => expr` expression.
func (p *Parser) lambda(canAssign bool) {
	p.functionBody(typeLambda)
}
