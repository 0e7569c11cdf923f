// Package compiler implements the single-pass Lox compiler: a Pratt-style
// precedence-climbing parser that consumes tokens from the scanner and emits
// bytecode directly, with no intermediate tree. Locals, upvalues and jump
// patches are resolved as parsing goes.
package compiler

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/dolthub/swiss"
	"github.com/zxul767/lox/lang/machine"
	"github.com/zxul767/lox/lang/scanner"
	"github.com/zxul767/lox/lang/token"
)

// ErrCompile is matched by errors.Is on any error returned from Compile.
var ErrCompile = errors.New("compile error")

// Error is the accumulated compile failure: one formatted message per
// reported error, in source order.
type Error struct {
	Messages []string
}

func (e *Error) Error() string { return strings.Join(e.Messages, "\n") }

// Is makes errors.Is(err, ErrCompile) work.
func (e *Error) Is(target error) bool { return target == ErrCompile }

// Mode alters compilation for the host's execution mode.
type Mode uint8

// PrintLastExpr makes the final top-level expression statement print its
// value, the way the REPL echoes results; its terminating ';' becomes
// optional.
const PrintLastExpr Mode = 1 << iota

// Compile parses src and returns the synthetic top-level function wrapping
// the compiled program. Compile-time objects (interned strings, functions)
// are allocated into heap; the whole pass runs inside the heap's nursery so
// a collection triggered mid-compile cannot reclaim them.
func Compile(heap *machine.Heap, src string, mode Mode) (*machine.Function, error) {
	heap.OpenNursery()
	defer heap.CloseNursery()

	p := &parser{
		heap: heap,
		sc:   scanner.New(src),
		mode: mode,
	}
	p.pushCunit(kindScript, "")

	p.advance()
	for !p.match(token.EOF) {
		p.declaration()
	}
	fn := p.popCunit()

	if p.hadError {
		return nil, &Error{Messages: p.errs}
	}
	return fn, nil
}

type funcKind int8

const (
	kindScript funcKind = iota
	kindFunction
	kindMethod
	kindInitializer
)

// uint8Count bounds locals, upvalues and constant indexes, which must all
// fit in a byte.
const uint8Count = 256

type local struct {
	name       string
	depth      int // -1 while declared but not yet initialized
	isCaptured bool
}

type upvalueRef struct {
	isLocal bool
	index   byte
}

// A cunit holds the compiler state for one function; nested function
// declarations push a new cunit over the enclosing one.
type cunit struct {
	enclosing *cunit
	fn        *machine.Function
	kind      funcKind

	locals  [uint8Count]local
	nlocals int
	upvals  [uint8Count]upvalueRef

	scopeDepth int
	params     []machine.Param

	// identifier-constant dedup, so repeated references to one name share a
	// single constants slot
	names *swiss.Map[string, byte]
}

type classCompiler struct {
	enclosing *classCompiler
	hasSuper  bool
}

type parser struct {
	heap *machine.Heap
	sc   *scanner.Scanner
	mode Mode

	current  scanner.Token
	previous scanner.Token

	hadError  bool
	panicMode bool
	errs      []string

	c     *cunit
	class *classCompiler
}

// ---- precedence and rules ----

type precedence int8

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseRule struct {
	prefix func(*parser, bool)
	infix  func(*parser, bool)
	prec   precedence
}

// rules maps each token kind to its prefix rule, infix rule and infix
// precedence; parsePrecedence drives all expression parsing off it. The
// table is filled in init because the rule functions refer back to it.
var rules [token.WHILE + 1]parseRule

func init() {
	rules = [token.WHILE + 1]parseRule{
		token.LPAREN: {(*parser).grouping, (*parser).callExpr, precCall},
		token.DOT:    {nil, (*parser).dot, precCall},
		token.LBRACK: {nil, (*parser).subscript, precCall},
		token.MINUS:  {(*parser).unary, (*parser).binary, precTerm},
		token.PLUS:   {nil, (*parser).binary, precTerm},
		token.SLASH:  {nil, (*parser).binary, precFactor},
		token.STAR:   {nil, (*parser).binary, precFactor},
		token.BANG:   {(*parser).unary, nil, precNone},
		token.BANGEQ: {nil, (*parser).binary, precEquality},
		token.EQEQ:   {nil, (*parser).binary, precEquality},
		token.GT:     {nil, (*parser).binary, precComparison},
		token.GE:     {nil, (*parser).binary, precComparison},
		token.LT:     {nil, (*parser).binary, precComparison},
		token.LE:     {nil, (*parser).binary, precComparison},
		token.IDENT:  {(*parser).variable, nil, precNone},
		token.NUMBER: {(*parser).number, nil, precNone},
		token.STRING: {(*parser).stringLit, nil, precNone},
		token.AND:    {nil, (*parser).and, precAnd},
		token.OR:     {nil, (*parser).or, precOr},
		token.NIL:    {(*parser).literal, nil, precNone},
		token.TRUE:   {(*parser).literal, nil, precNone},
		token.FALSE:  {(*parser).literal, nil, precNone},
		token.SUPER:  {(*parser).super, nil, precNone},
		token.THIS:   {(*parser).this, nil, precNone},
	}
}

// ---- token plumbing ----

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.sc.Next()
		if p.current.Kind != token.ILLEGAL {
			return
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *parser) consume(kind token.Token, msg string) {
	if p.current.Kind == kind {
		p.advance()
		return
	}
	p.errorAtCurrent(msg)
}

func (p *parser) check(kind token.Token) bool {
	return p.current.Kind == kind
}

func (p *parser) match(kind token.Token) bool {
	if !p.check(kind) {
		return false
	}
	p.advance()
	return true
}

// ---- error reporting ----

func (p *parser) errorAt(tok scanner.Token, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true

	var b strings.Builder
	b.WriteString("[line ")
	b.WriteString(strconv.Itoa(tok.Line))
	b.WriteString("] Error")
	switch tok.Kind {
	case token.EOF:
		b.WriteString(" at end")
	case token.ILLEGAL:
		// the lexeme is the scanner's message, not source text
	default:
		b.WriteString(" at '")
		b.WriteString(tok.Lexeme)
		b.WriteString("'")
	}
	b.WriteString(": ")
	b.WriteString(msg)
	p.errs = append(p.errs, b.String())
}

func (p *parser) error(msg string) {
	p.errorAt(p.previous, msg)
}

func (p *parser) errorAtCurrent(msg string) {
	p.errorAt(p.current, msg)
}

// synchronize skips tokens until a likely statement boundary, so one syntax
// error does not cascade.
func (p *parser) synchronize() {
	p.panicMode = false
	for p.current.Kind != token.EOF {
		if p.previous.Kind == token.SEMI {
			return
		}
		switch p.current.Kind {
		case token.CLASS, token.FUN, token.VAR, token.FOR,
			token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		p.advance()
	}
}

// ---- bytecode emission ----

func (p *parser) chunk() *machine.Chunk {
	return &p.c.fn.Chunk
}

func (p *parser) emitByte(b byte) {
	p.chunk().Write(b, p.previous.Line)
}

func (p *parser) emitOp(op machine.Opcode) {
	p.chunk().WriteOp(op, p.previous.Line)
}

func (p *parser) emitOpByte(op machine.Opcode, b byte) {
	p.emitOp(op)
	p.emitByte(b)
}

func (p *parser) emitReturn() {
	if p.c.kind == kindInitializer {
		p.emitOpByte(machine.GET_LOCAL, 0)
	} else {
		p.emitOp(machine.NIL)
	}
	p.emitOp(machine.RETURN)
}

func (p *parser) makeConstant(v machine.Value) byte {
	idx := p.chunk().AddConstant(v)
	if idx > math.MaxUint8 {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (p *parser) emitConstant(v machine.Value) {
	p.emitOpByte(machine.LOAD_CONSTANT, p.makeConstant(v))
}

// identifierConstant returns the constants-table index of the interned name,
// reusing the existing slot when the chunk already refers to it.
func (p *parser) identifierConstant(name string) byte {
	if idx, ok := p.c.names.Get(name); ok {
		return idx
	}
	idx := p.makeConstant(p.heap.Intern(name))
	p.c.names.Put(name, idx)
	return idx
}

// emitJump emits a forward jump with a placeholder offset and returns the
// placeholder's position for patchJump.
func (p *parser) emitJump(op machine.Opcode) int {
	p.emitOp(op)
	p.emitByte(0xff)
	p.emitByte(0xff)
	return len(p.chunk().Code) - 2
}

func (p *parser) patchJump(offset int) {
	jump := len(p.chunk().Code) - offset - 2
	if jump > math.MaxUint16 {
		p.error("Too much code to jump over.")
	}
	p.chunk().Code[offset] = byte(jump >> 8)
	p.chunk().Code[offset+1] = byte(jump)
}

func (p *parser) emitLoop(loopStart int) {
	p.emitOp(machine.LOOP)
	offset := len(p.chunk().Code) - loopStart + 2
	if offset > math.MaxUint16 {
		p.error("Loop body too large.")
	}
	p.emitByte(byte(offset >> 8))
	p.emitByte(byte(offset))
}

// ---- function compilers ----

func (p *parser) pushCunit(kind funcKind, name string) {
	c := &cunit{
		enclosing: p.c,
		kind:      kind,
		names:     swiss.NewMap[string, byte](8),
	}
	c.fn = p.heap.NewFunction(nil)
	if kind != kindScript {
		c.fn.Name = p.heap.Intern(name)
	}

	// slot 0 is reserved: the receiver in methods, the closure itself
	// elsewhere
	slot0 := &c.locals[0]
	c.nlocals = 1
	slot0.depth = 0
	if kind == kindMethod || kind == kindInitializer {
		slot0.name = "this"
	}

	p.c = c
}

func (p *parser) popCunit() *machine.Function {
	p.emitReturn()
	fn := p.c.fn
	if p.c.kind != kindScript {
		fn.Sig = &machine.Signature{Name: fn.FuncName(), Params: p.c.params}
	}
	p.c = p.c.enclosing
	return fn
}

// ---- scopes, locals and upvalues ----

func (p *parser) beginScope() {
	p.c.scopeDepth++
}

func (p *parser) endScope() {
	c := p.c
	c.scopeDepth--
	for c.nlocals > 0 && c.locals[c.nlocals-1].depth > c.scopeDepth {
		if c.locals[c.nlocals-1].isCaptured {
			p.emitOp(machine.CLOSE_UPVALUE)
		} else {
			p.emitOp(machine.POP)
		}
		c.nlocals--
	}
}

func (p *parser) addLocal(name string) {
	c := p.c
	if c.nlocals == uint8Count {
		p.error("Too many local variables in function.")
		return
	}
	l := &c.locals[c.nlocals]
	c.nlocals++
	l.name = name
	l.depth = -1
	l.isCaptured = false
}

func (p *parser) declareVariable() {
	c := p.c
	if c.scopeDepth == 0 {
		return
	}
	name := p.previous.Lexeme
	for i := c.nlocals - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if l.name == name {
			p.error("Already a variable with this name in this scope.")
		}
	}
	p.addLocal(name)
}

func (p *parser) parseVariable(msg string) byte {
	p.consume(token.IDENT, msg)
	p.declareVariable()
	if p.c.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous.Lexeme)
}

func (p *parser) markInitialized() {
	c := p.c
	if c.scopeDepth == 0 {
		return
	}
	c.locals[c.nlocals-1].depth = c.scopeDepth
}

func (p *parser) defineVariable(global byte) {
	if p.c.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOpByte(machine.DEFINE_GLOBAL, global)
}

func (p *parser) resolveLocal(c *cunit, name string) int {
	for i := c.nlocals - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.name == name {
			if l.depth == -1 {
				p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (p *parser) addUpvalue(c *cunit, index byte, isLocal bool) int {
	n := c.fn.UpvalueCount
	for i := 0; i < n; i++ {
		u := &c.upvals[i]
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if n == uint8Count {
		p.error("Too many closure variables in function.")
		return 0
	}
	c.upvals[n] = upvalueRef{isLocal: isLocal, index: index}
	c.fn.UpvalueCount++
	return n
}

// resolveUpvalue recursively searches the enclosing functions for name. A
// hit in an enclosing function's locals marks that local captured and
// records a local upvalue; a hit further out chains through the parent's
// upvalue list.
func (p *parser) resolveUpvalue(c *cunit, name string) int {
	if c.enclosing == nil {
		return -1
	}
	if local := p.resolveLocal(c.enclosing, name); local != -1 {
		c.enclosing.locals[local].isCaptured = true
		return p.addUpvalue(c, byte(local), true)
	}
	if up := p.resolveUpvalue(c.enclosing, name); up != -1 {
		return p.addUpvalue(c, byte(up), false)
	}
	return -1
}

// ---- declarations ----

func (p *parser) declaration() {
	switch {
	case p.match(token.CLASS):
		p.classDeclaration()
	case p.match(token.FUN):
		p.funDeclaration()
	case p.match(token.VAR):
		p.varDeclaration()
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (p *parser) varDeclaration() {
	global := p.parseVariable("Expect variable name.")
	if p.match(token.EQ) {
		p.expression()
	} else {
		p.emitOp(machine.NIL)
	}
	p.consume(token.SEMI, "Expect ';' after variable declaration.")
	p.defineVariable(global)
}

func (p *parser) funDeclaration() {
	global := p.parseVariable("Expect function name.")
	p.markInitialized()
	p.function(kindFunction)
	p.defineVariable(global)
}

// function compiles a function body into a fresh cunit and emits the
// CLOSURE instruction with the upvalue descriptor pairs.
func (p *parser) function(kind funcKind) {
	p.pushCunit(kind, p.previous.Lexeme)
	p.beginScope()

	p.consume(token.LPAREN, "Expect '(' after function name.")
	if !p.check(token.RPAREN) {
		for {
			p.c.fn.Arity++
			if p.c.fn.Arity > 255 {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := p.parseVariable("Expect parameter name.")
			p.defineVariable(constant)
			p.c.params = append(p.c.params, machine.Param{Name: p.previous.Lexeme, Type: "any"})
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "Expect ')' after parameters.")
	p.consume(token.LBRACE, "Expect '{' before function body.")

	p.docstring()
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.declaration()
	}
	p.consume(token.RBRACE, "Expect '}' after block.")

	child := p.c
	fn := p.popCunit()
	p.emitOpByte(machine.CLOSURE, p.makeConstant(fn))
	for i := 0; i < fn.UpvalueCount; i++ {
		u := child.upvals[i]
		if u.isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(u.index)
	}
}

// docstring records a leading string-literal statement of a function body as
// metadata; it is not compiled into the chunk. A leading string that starts
// a larger expression is compiled normally.
func (p *parser) docstring() {
	if !p.check(token.STRING) {
		return
	}
	p.advance()
	if p.check(token.SEMI) {
		lex := p.previous.Lexeme
		p.c.fn.Doc = p.heap.Intern(lex[1 : len(lex)-1])
		p.advance()
		return
	}
	// not a docstring after all: finish the expression statement whose
	// prefix we already consumed
	p.stringLit(true)
	p.parseInfixFrom(precAssignment, true)
	p.consume(token.SEMI, "Expect ';' after expression.")
	p.emitOp(machine.POP)
}

func (p *parser) classDeclaration() {
	p.consume(token.IDENT, "Expect class name.")
	className := p.previous
	nameConstant := p.identifierConstant(className.Lexeme)
	p.declareVariable()
	p.emitOpByte(machine.CLASS, nameConstant)
	p.defineVariable(nameConstant)

	p.class = &classCompiler{enclosing: p.class}

	if p.match(token.LT) {
		p.consume(token.IDENT, "Expect superclass name.")
		p.variable(false)
		if className.Lexeme == p.previous.Lexeme {
			p.error("A class can't inherit from itself.")
		}
		p.beginScope()
		p.addLocal("super")
		p.defineVariable(0)
		p.namedVariable(className, false)
		p.emitOp(machine.INHERIT)
		p.class.hasSuper = true
	}

	p.namedVariable(className, false)
	p.consume(token.LBRACE, "Expect '{' before class body.")
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.method()
	}
	p.consume(token.RBRACE, "Expect '}' after class body.")
	p.emitOp(machine.POP)

	if p.class.hasSuper {
		p.endScope()
	}
	p.class = p.class.enclosing
}

func (p *parser) method() {
	p.consume(token.IDENT, "Expect method name.")
	constant := p.identifierConstant(p.previous.Lexeme)
	kind := kindMethod
	if p.previous.Lexeme == "__init__" {
		kind = kindInitializer
	}
	p.function(kind)
	p.emitOpByte(machine.METHOD, constant)
}

// ---- statements ----

func (p *parser) statement() {
	switch {
	case p.match(token.PRINT):
		p.printStatement()
	case p.match(token.IF):
		p.ifStatement()
	case p.match(token.RETURN):
		p.returnStatement()
	case p.match(token.WHILE):
		p.whileStatement()
	case p.match(token.FOR):
		p.forStatement()
	case p.match(token.LBRACE):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *parser) block() {
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.declaration()
	}
	p.consume(token.RBRACE, "Expect '}' after block.")
}

func (p *parser) printStatement() {
	p.expression()
	p.consume(token.SEMI, "Expect ';' after value.")
	p.emitOp(machine.PRINT)
}

func (p *parser) expressionStatement() {
	p.expression()
	if p.replEcho() {
		// the final top-level expression of a REPL line prints itself and
		// its ';' is optional
		if p.check(token.EOF) {
			p.emitOp(machine.PRINT)
			return
		}
		p.consume(token.SEMI, "Expect ';' after expression.")
		if p.check(token.EOF) {
			p.emitOp(machine.PRINT)
			return
		}
		p.emitOp(machine.POP)
		return
	}
	p.consume(token.SEMI, "Expect ';' after expression.")
	p.emitOp(machine.POP)
}

func (p *parser) replEcho() bool {
	return p.mode&PrintLastExpr != 0 && p.c.kind == kindScript && p.c.scopeDepth == 0
}

func (p *parser) ifStatement() {
	p.consume(token.LPAREN, "Expect '(' after 'if'.")
	p.expression()
	p.consume(token.RPAREN, "Expect ')' after condition.")

	thenJump := p.emitJump(machine.JUMP_IF_FALSE)
	p.emitOp(machine.POP)
	p.statement()
	elseJump := p.emitJump(machine.JUMP)
	p.patchJump(thenJump)
	p.emitOp(machine.POP)
	if p.match(token.ELSE) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *parser) whileStatement() {
	loopStart := len(p.chunk().Code)
	p.consume(token.LPAREN, "Expect '(' after 'while'.")
	p.expression()
	p.consume(token.RPAREN, "Expect ')' after condition.")

	exitJump := p.emitJump(machine.JUMP_IF_FALSE)
	p.emitOp(machine.POP)
	p.statement()
	p.emitLoop(loopStart)
	p.patchJump(exitJump)
	p.emitOp(machine.POP)
}

// forStatement desugars for(init; cond; step) body into
// { init; while (cond) { body; step; } }, with a missing condition treated
// as true.
func (p *parser) forStatement() {
	p.beginScope()
	p.consume(token.LPAREN, "Expect '(' after 'for'.")
	switch {
	case p.match(token.SEMI):
		// no initializer
	case p.match(token.VAR):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := len(p.chunk().Code)
	exitJump := -1
	if !p.match(token.SEMI) {
		p.expression()
		p.consume(token.SEMI, "Expect ';' after loop condition.")
		exitJump = p.emitJump(machine.JUMP_IF_FALSE)
		p.emitOp(machine.POP)
	}

	if !p.match(token.RPAREN) {
		bodyJump := p.emitJump(machine.JUMP)
		incrementStart := len(p.chunk().Code)
		p.expression()
		p.emitOp(machine.POP)
		p.consume(token.RPAREN, "Expect ')' after for clauses.")
		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)
	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(machine.POP)
	}
	p.endScope()
}

func (p *parser) returnStatement() {
	if p.c.kind == kindScript {
		p.error("Can't return from top-level code.")
	}
	if p.match(token.SEMI) {
		p.emitReturn()
		return
	}
	if p.c.kind == kindInitializer {
		p.error("Can't return a value from an initializer.")
	}
	p.expression()
	p.consume(token.SEMI, "Expect ';' after return value.")
	p.emitOp(machine.RETURN)
}

// ---- expressions ----

func (p *parser) expression() {
	p.parsePrecedence(precAssignment)
}

// parsePrecedence dispatches the prefix rule of the token just consumed,
// then folds infix rules while the next token binds at least as tightly as
// min. Assignability flows into the prefix rule: only when parsing at
// assignment level may a prefix consume a trailing '='.
func (p *parser) parsePrecedence(min precedence) {
	p.advance()
	prefix := rules[p.previous.Kind].prefix
	if prefix == nil {
		p.error("Expect expression.")
		return
	}
	canAssign := min <= precAssignment
	prefix(p, canAssign)
	p.parseInfixFrom(min, canAssign)
}

func (p *parser) parseInfixFrom(min precedence, canAssign bool) {
	for min <= rules[p.current.Kind].prec {
		p.advance()
		rules[p.previous.Kind].infix(p, canAssign)
	}
	if canAssign && p.match(token.EQ) {
		p.error("Invalid assignment target.")
	}
}

func (p *parser) grouping(_ bool) {
	p.expression()
	p.consume(token.RPAREN, "Expect ')' after expression.")
}

func (p *parser) number(_ bool) {
	n, _ := strconv.ParseFloat(p.previous.Lexeme, 64)
	p.emitConstant(machine.Number(n))
}

func (p *parser) stringLit(_ bool) {
	lex := p.previous.Lexeme
	p.emitConstant(p.heap.Intern(lex[1 : len(lex)-1]))
}

func (p *parser) literal(_ bool) {
	switch p.previous.Kind {
	case token.NIL:
		p.emitOp(machine.NIL)
	case token.TRUE:
		p.emitOp(machine.TRUE)
	case token.FALSE:
		p.emitOp(machine.FALSE)
	}
}

func (p *parser) unary(_ bool) {
	op := p.previous.Kind
	p.parsePrecedence(precUnary)
	switch op {
	case token.MINUS:
		p.emitOp(machine.NEGATE)
	case token.BANG:
		p.emitOp(machine.NOT)
	}
}

func (p *parser) binary(_ bool) {
	op := p.previous.Kind
	p.parsePrecedence(rules[op].prec + 1)
	switch op {
	case token.PLUS:
		p.emitOp(machine.ADD)
	case token.MINUS:
		p.emitOp(machine.SUBTRACT)
	case token.STAR:
		p.emitOp(machine.MULTIPLY)
	case token.SLASH:
		p.emitOp(machine.DIVIDE)
	case token.EQEQ:
		p.emitOp(machine.EQUAL)
	case token.BANGEQ:
		p.emitOp(machine.EQUAL)
		p.emitOp(machine.NOT)
	case token.GT:
		p.emitOp(machine.GREATER)
	case token.GE:
		p.emitOp(machine.LESS)
		p.emitOp(machine.NOT)
	case token.LT:
		p.emitOp(machine.LESS)
	case token.LE:
		p.emitOp(machine.GREATER)
		p.emitOp(machine.NOT)
	}
}

// and compiles to a short-circuit jump: if the left operand is falsey it
// stays as the result, otherwise it is popped and the right operand runs.
func (p *parser) and(_ bool) {
	endJump := p.emitJump(machine.JUMP_IF_FALSE)
	p.emitOp(machine.POP)
	p.parsePrecedence(precAnd)
	p.patchJump(endJump)
}

func (p *parser) or(_ bool) {
	elseJump := p.emitJump(machine.JUMP_IF_FALSE)
	endJump := p.emitJump(machine.JUMP)
	p.patchJump(elseJump)
	p.emitOp(machine.POP)
	p.parsePrecedence(precOr)
	p.patchJump(endJump)
}

func (p *parser) callExpr(_ bool) {
	argc := p.argumentList()
	p.emitOpByte(machine.CALL, argc)
}

func (p *parser) argumentList() byte {
	var argc int
	if !p.check(token.RPAREN) {
		for {
			p.expression()
			argc++
			if argc > 255 {
				p.error("Can't have more than 255 arguments.")
			}
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "Expect ')' after arguments.")
	return byte(argc)
}

func (p *parser) dot(canAssign bool) {
	p.consume(token.IDENT, "Expect property name after '.'.")
	name := p.identifierConstant(p.previous.Lexeme)
	switch {
	case canAssign && p.match(token.EQ):
		p.expression()
		p.emitOpByte(machine.SET_PROPERTY, name)
	case p.match(token.LPAREN):
		argc := p.argumentList()
		p.emitOpByte(machine.INVOKE, name)
		p.emitByte(argc)
	default:
		p.emitOpByte(machine.GET_PROPERTY, name)
	}
}

// subscript desugars x[i] to x.__getitem__(i) and x[i] = v to
// x.__setitem__(i, v).
func (p *parser) subscript(canAssign bool) {
	p.expression()
	p.consume(token.RBRACK, "Expect ']' after index.")
	if canAssign && p.match(token.EQ) {
		p.expression()
		p.emitOpByte(machine.INVOKE, p.identifierConstant("__setitem__"))
		p.emitByte(2)
		return
	}
	p.emitOpByte(machine.INVOKE, p.identifierConstant("__getitem__"))
	p.emitByte(1)
}

func (p *parser) variable(canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

func (p *parser) namedVariable(name scanner.Token, canAssign bool) {
	var getOp, setOp machine.Opcode
	arg := p.resolveLocal(p.c, name.Lexeme)
	switch {
	case arg != -1:
		getOp, setOp = machine.GET_LOCAL, machine.SET_LOCAL
	default:
		if arg = p.resolveUpvalue(p.c, name.Lexeme); arg != -1 {
			getOp, setOp = machine.GET_UPVALUE, machine.SET_UPVALUE
		} else {
			arg = int(p.identifierConstant(name.Lexeme))
			getOp, setOp = machine.GET_GLOBAL, machine.SET_GLOBAL
		}
	}

	if canAssign && p.match(token.EQ) {
		p.expression()
		p.emitOpByte(setOp, byte(arg))
		return
	}
	p.emitOpByte(getOp, byte(arg))
}

func (p *parser) this(_ bool) {
	if p.class == nil {
		p.error("Can't use 'this' outside of a class.")
		return
	}
	p.variable(false)
}

func (p *parser) super(_ bool) {
	switch {
	case p.class == nil:
		p.error("Can't use 'super' outside of a class.")
	case !p.class.hasSuper:
		p.error("Can't use 'super' in a class with no superclass.")
	}
	p.consume(token.DOT, "Expect '.' after 'super'.")
	p.consume(token.IDENT, "Expect superclass method name.")
	name := p.identifierConstant(p.previous.Lexeme)

	p.namedVariable(syntheticToken("this"), false)
	if p.match(token.LPAREN) {
		argc := p.argumentList()
		p.namedVariable(syntheticToken("super"), false)
		p.emitOpByte(machine.SUPER_INVOKE, name)
		p.emitByte(argc)
		return
	}
	p.namedVariable(syntheticToken("super"), false)
	p.emitOpByte(machine.GET_SUPER, name)
}

func syntheticToken(name string) scanner.Token {
	return scanner.Token{Kind: token.IDENT, Lexeme: name}
}
