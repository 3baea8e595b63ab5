package compiler

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"

	"github.com/chazu/cinder/vm"
)

// ---------------------------------------------------------------------------
// Compiler: tree to bytecode
// ---------------------------------------------------------------------------

// CompileError reports a malformed tree. It is the only error Compile
// returns.
type CompileError struct {
	Node Node
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Node == nil {
		return "compile: " + e.Msg
	}
	pos := e.Node.Span().Start
	return fmt.Sprintf("compile: %T at %d:%d: %s", e.Node, pos.Line, pos.Column, e.Msg)
}

// Option configures compilation.
type Option func(*options)

type options struct {
	debugInfo bool
	logger    *log.Logger
}

// WithDebugInfo emits LINE markers and disables tail calls so traces keep
// every frame.
func WithDebugInfo(on bool) Option {
	return func(o *options) { o.debugInfo = on }
}

// WithLogger sets the logger used for unit summaries.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Compiler holds the state for compiling one unit. Nested functions get
// their own Compiler.
type Compiler struct {
	opts options
	fn   *Function
	res  *resolution
	unit *vm.CompiledUnit
	b    *vm.BytecodeBuilder

	// Stack depth tracking
	depth    int
	maxDepth int

	// Compiler temporaries, allocated in stack order
	locals    int
	maxLocals int

	// Constant pools
	strings map[string]int
	doubles map[uint64]int

	// Labels and fixups
	labels  []int
	named   map[labelKey]int
	fixups  []fixup
	enclose []*enclosure

	tryDepth int
	lastLine int
	hoisted  map[*FunctionDecl]bool
}

// fault aborts compilation of a malformed tree.
func (c *Compiler) fault(n Node, format string, args ...any) {
	panic(&CompileError{Node: n, Msg: fmt.Sprintf(format, args...)})
}

// Compile compiles a script or function body into a unit.
func Compile(fn *Function, opts ...Option) (unit *vm.CompiledUnit, err error) {
	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*CompileError)
			if !ok {
				panic(r)
			}
			unit, err = nil, ce
		}
	}()
	return compileFunction(fn, o, fn.SourceName), nil
}

// compileFunction compiles fn without modifying it. source names the
// unit's source when fn carries none of its own.
func compileFunction(fn *Function, o options, source string) *vm.CompiledUnit {
	if fn == nil {
		panic(&CompileError{Msg: "nil function"})
	}
	c := &Compiler{
		opts:     o,
		fn:       fn,
		b:        vm.NewBytecodeBuilder(),
		strings:  make(map[string]int),
		doubles:  make(map[uint64]int),
		named:    make(map[labelKey]int),
		hoisted:  make(map[*FunctionDecl]bool),
		lastLine: -1,
	}
	c.res = resolve(fn)
	c.unit = &vm.CompiledUnit{
		Name:            fn.Name,
		SourceName:      source,
		IsFunction:      !fn.IsScript,
		IsGenerator:     fn.IsGenerator,
		NeedsActivation: c.res.activation && !fn.IsScript,
		ParamCount:      len(fn.Params),
		VarNames:        c.res.names,
		VarConst:        c.res.consts,
		LongJumps:       make(map[int]int),
		DebugInfo:       o.debugInfo,
		FirstLinePC:     -1,
	}
	if !c.res.activation {
		c.unit.MaxVars = len(c.res.names)
	}

	if fn.IsGenerator {
		c.emit(vm.OpGenerator)
	}
	c.hoistFunctions()
	for _, s := range fn.Body {
		c.compileStmt(s)
	}
	if fn.IsScript {
		c.emit(vm.OpReturnResult)
	} else {
		c.emit(vm.OpReturnUndef)
	}
	c.resolveFixups()

	c.unit.Code = c.b.Bytes()
	c.unit.MaxStack = c.maxDepth
	c.unit.MaxLocals = c.maxLocals
	c.opts.logger.Debug("compiled unit",
		"name", c.unit.DisplayName(),
		"bytes", len(c.unit.Code),
		"stack", c.unit.MaxStack,
		"locals", c.unit.MaxLocals,
		"handlers", len(c.unit.Exceptions))
	return c.unit
}

// hoistFunctions binds top-level function declarations before the body
// runs.
func (c *Compiler) hoistFunctions() {
	for _, s := range c.fn.Body {
		if d, ok := s.(*FunctionDecl); ok {
			c.hoisted[d] = true
			c.compileFunctionDecl(d)
		}
	}
}

// ---------------------------------------------------------------------------
// Emission with stack depth tracking
// ---------------------------------------------------------------------------

func (c *Compiler) adjust(delta int) {
	c.depth += delta
	if c.depth < 0 {
		c.fault(c.fn, "stack depth went negative")
	}
	c.maxDepth = max(c.maxDepth, c.depth)
}

func (c *Compiler) emit(op vm.Opcode) {
	c.b.Emit(op)
	c.adjust(op.Info().StackEffect)
}

func (c *Compiler) emitIndex(op vm.Opcode, index int) {
	c.b.EmitIndex(op, index)
	effect := op.Info().StackEffect
	if effect == vm.VariableEffect {
		effect = vm.CallEffect(op, index)
	}
	c.adjust(effect)
}

func (c *Compiler) emitString(op vm.Opcode, s string) {
	c.emitIndex(op, c.stringIndex(s))
}

// emitNumber picks the shortest encoding for v. Negative zero always goes
// through the double table.
func (c *Compiler) emitNumber(v float64) {
	switch {
	case v == 0 && !math.Signbit(v):
		c.emit(vm.OpZero)
	case v == 1:
		c.emit(vm.OpOne)
	case v != 0 && v == math.Trunc(v) && v >= math.MinInt16 && v <= math.MaxInt16:
		c.b.EmitShort(vm.OpShort, int16(v))
		c.adjust(1)
	case v != 0 && v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32:
		c.b.EmitInt(vm.OpInt, int32(v))
		c.adjust(1)
	default:
		c.emitIndex(vm.OpNumber, c.doubleIndex(v))
	}
}

func (c *Compiler) stringIndex(s string) int {
	if i, ok := c.strings[s]; ok {
		return i
	}
	i := len(c.unit.Strings)
	c.unit.Strings = append(c.unit.Strings, s)
	c.strings[s] = i
	return i
}

func (c *Compiler) doubleIndex(v float64) int {
	bits := math.Float64bits(v)
	if i, ok := c.doubles[bits]; ok {
		return i
	}
	i := len(c.unit.Doubles)
	c.unit.Doubles = append(c.unit.Doubles, v)
	c.doubles[bits] = i
	return i
}

// allocLocal reserves a compiler temporary. Temporaries are released in
// reverse order of allocation.
func (c *Compiler) allocLocal() int {
	i := c.locals
	c.locals++
	c.maxLocals = max(c.maxLocals, c.locals)
	return i
}

func (c *Compiler) releaseLocal(i int) {
	if i != c.locals-1 {
		c.fault(c.fn, "local %d released out of order", i)
	}
	c.locals--
}

// markLine emits a LINE marker when debug info is on and n starts a new
// source line.
func (c *Compiler) markLine(n Node) {
	if !c.opts.debugInfo {
		return
	}
	line := n.Span().Start.Line
	if line <= 0 || line == c.lastLine {
		return
	}
	if c.unit.FirstLinePC < 0 {
		c.unit.FirstLinePC = c.b.Len()
	}
	c.lastLine = line
	c.emitIndex(vm.OpLine, line)
}

// ---------------------------------------------------------------------------
// Statement compilation
// ---------------------------------------------------------------------------

// compileStmt compiles s. Statements leave the stack as they found it.
func (c *Compiler) compileStmt(s Stmt) {
	start := c.depth
	c.markLine(s)

	switch n := s.(type) {
	case *ExprStmt:
		c.compileExpr(n.X)
		if c.fn.IsScript {
			c.emit(vm.OpPopResult)
		} else {
			c.emit(vm.OpPOP)
		}
	case *VarDecl:
		c.compileVarDecl(n)
	case *FunctionDecl:
		if !c.hoisted[n] {
			c.compileFunctionDecl(n)
		}
	case *Block:
		for _, x := range n.List {
			c.compileStmt(x)
		}
	case *If:
		c.compileIf(n)
	case *While:
		c.compileWhile(n)
	case *DoWhile:
		c.compileDoWhile(n)
	case *For:
		c.compileFor(n)
	case *ForIn:
		c.compileForIn(n)
	case *Break:
		c.compileBreak(n)
	case *Continue:
		c.compileContinue(n)
	case *Labeled:
		c.compileLabeled(n)
	case *Return:
		c.compileReturn(n)
	case *Throw:
		c.compileExpr(n.Value)
		c.emit(vm.OpThrow)
	case *Try:
		c.compileTry(n)
	case *Switch:
		c.compileSwitch(n)
	case *With:
		c.compileWith(n)
	case *Debugger:
		c.emit(vm.OpDebugger)
	case *Empty:
	case nil:
		c.fault(c.fn, "nil statement")
	default:
		c.fault(s, "unknown statement type")
	}

	if c.depth != start {
		c.fault(s, "statement left stack depth %d, want %d", c.depth, start)
	}
}

func (c *Compiler) compileVarDecl(n *VarDecl) {
	if n.Init == nil {
		return
	}
	c.compileExpr(n.Init)
	if n.Const {
		c.initConst(n.Name)
	} else {
		c.storeName(n.Name)
	}
	c.emit(vm.OpPOP)
}

func (c *Compiler) compileFunctionDecl(n *FunctionDecl) {
	if n.Func == nil || n.Func.Name == "" {
		c.fault(n, "function declaration without a name")
	}
	c.compileClosure(n.Func)
	c.storeName(n.Func.Name)
	c.emit(vm.OpPOP)
}

func (c *Compiler) compileIf(n *If) {
	elseLabel := c.newLabel()
	c.compileExpr(n.Cond)
	c.emitJump(vm.OpIfFalse, elseLabel)
	c.compileStmt(n.Then)
	if n.Else == nil {
		c.markLabel(elseLabel)
		return
	}
	end := c.newLabel()
	c.emitJump(vm.OpGoto, end)
	c.markLabel(elseLabel)
	c.compileStmt(n.Else)
	c.markLabel(end)
}

func (c *Compiler) compileWhile(n *While) {
	cont := c.labelFor(n, roleContinue)
	brk := c.labelFor(n, roleBreak)
	c.markLabel(cont)
	c.compileExpr(n.Cond)
	c.emitJump(vm.OpIfFalse, brk)
	c.pushEnclosure(&enclosure{kind: encLoop, node: n})
	c.compileStmt(n.Body)
	c.popEnclosure()
	c.emitJump(vm.OpGoto, cont)
	c.markLabel(brk)
}

func (c *Compiler) compileDoWhile(n *DoWhile) {
	top := c.newLabel()
	c.markLabel(top)
	c.pushEnclosure(&enclosure{kind: encLoop, node: n})
	c.compileStmt(n.Body)
	c.popEnclosure()
	c.markLabel(c.labelFor(n, roleContinue))
	c.compileExpr(n.Cond)
	c.emitJump(vm.OpIfTrue, top)
	c.markLabel(c.labelFor(n, roleBreak))
}

func (c *Compiler) compileFor(n *For) {
	if n.Init != nil {
		c.compileStmt(n.Init)
	}
	top := c.newLabel()
	brk := c.labelFor(n, roleBreak)
	c.markLabel(top)
	if n.Cond != nil {
		c.compileExpr(n.Cond)
		c.emitJump(vm.OpIfFalse, brk)
	}
	c.pushEnclosure(&enclosure{kind: encLoop, node: n})
	c.compileStmt(n.Body)
	c.popEnclosure()
	c.markLabel(c.labelFor(n, roleContinue))
	if n.Update != nil {
		c.compileExpr(n.Update)
		c.emit(vm.OpPOP)
	}
	c.emitJump(vm.OpGoto, top)
	c.markLabel(brk)
}

func (c *Compiler) compileForIn(n *ForIn) {
	c.compileExpr(n.Object)
	e := c.allocLocal()
	c.emitIndex(vm.OpEnumInit, e)
	cont := c.labelFor(n, roleContinue)
	brk := c.labelFor(n, roleBreak)
	c.markLabel(cont)
	c.emitIndex(vm.OpEnumNext, e)
	c.emitJump(vm.OpIfFalse, brk)

	key := func() { c.emitIndex(vm.OpEnumID, e) }
	switch t := n.Target.(type) {
	case *VarDecl:
		if t.Init != nil {
			c.fault(t, "for-in declaration with initialiser")
		}
		c.assignTo(&Name{SpanVal: t.SpanVal, Name: t.Name}, key)
	case Expr:
		c.assignTo(t, key)
	default:
		c.fault(n, "invalid for-in target")
	}
	c.emit(vm.OpPOP)

	c.pushEnclosure(&enclosure{kind: encLoop, node: n})
	c.compileStmt(n.Body)
	c.popEnclosure()
	c.emitJump(vm.OpGoto, cont)
	c.markLabel(brk)
	c.releaseLocal(e)
}

func (c *Compiler) compileLabeled(n *Labeled) {
	c.pushEnclosure(&enclosure{kind: encLabel, node: n, label: n.Label})
	c.compileStmt(n.Body)
	c.popEnclosure()
	c.markLabel(c.labelFor(n, roleBreak))
}

func (c *Compiler) compileSwitch(n *Switch) {
	c.compileExpr(n.Discriminant)
	d := c.allocLocal()
	c.emitIndex(vm.OpSetLocal, d)

	brk := c.labelFor(n, roleBreak)
	caseLabels := make([]int, len(n.Cases))
	deflt := -1
	for i, cs := range n.Cases {
		caseLabels[i] = c.newLabel()
		if cs.Test == nil {
			if deflt >= 0 {
				c.fault(cs, "multiple default clauses")
			}
			deflt = caseLabels[i]
			continue
		}
		c.emitIndex(vm.OpGetLocal, d)
		c.compileExpr(cs.Test)
		c.emit(vm.OpSHEQ)
		c.emitJump(vm.OpIfTrue, caseLabels[i])
	}
	if deflt >= 0 {
		c.emitJump(vm.OpGoto, deflt)
	} else {
		c.emitJump(vm.OpGoto, brk)
	}

	c.pushEnclosure(&enclosure{kind: encSwitch, node: n})
	for i, cs := range n.Cases {
		c.markLabel(caseLabels[i])
		for _, s := range cs.Body {
			c.compileStmt(s)
		}
	}
	c.popEnclosure()
	c.markLabel(brk)
	c.releaseLocal(d)
}

func (c *Compiler) compileWith(n *With) {
	c.compileExpr(n.Object)
	c.emit(vm.OpEnterWith)
	c.pushEnclosure(&enclosure{kind: encWith, node: n})
	c.compileStmt(n.Body)
	c.popEnclosure()
	c.emit(vm.OpLeaveWith)
}

// compileReturn returns through any enclosing finally blocks, leaving with
// scopes on the way. The value is
// parked in the frame result while the finally subroutines run.
func (c *Compiler) compileReturn(n *Return) {
	if c.fn.IsScript {
		c.fault(n, "return outside a function")
	}
	if !c.insideFinally() {
		if n.Value == nil {
			c.emit(vm.OpReturnUndef)
			return
		}
		if call, ok := n.Value.(*Call); ok && c.tailCallAllowed() && call.Special == 0 {
			c.compileCall(call, vm.OpTailCall)
		} else {
			c.compileExpr(n.Value)
		}
		c.emit(vm.OpReturn)
		return
	}
	if n.Value == nil {
		c.emit(vm.OpUndefined)
	} else {
		c.compileExpr(n.Value)
	}
	c.emit(vm.OpPopResult)
	c.exitTo(nil)
	c.emit(vm.OpReturnResult)
}

// tailCallAllowed reports whether a call in return position may replace
// the current frame.
func (c *Compiler) tailCallAllowed() bool {
	return c.tryDepth == 0 && !c.opts.debugInfo && !c.fn.IsGenerator
}

func (c *Compiler) compileBreak(n *Break) {
	target := c.findTarget(n, n.Label, false)
	c.exitTo(target)
	c.emitJump(vm.OpGoto, c.labelFor(target.node, roleBreak))
}

func (c *Compiler) compileContinue(n *Continue) {
	target := c.findTarget(n, n.Label, true)
	c.exitTo(target)
	c.emitJump(vm.OpGoto, c.labelFor(target.node, roleContinue))
}

// ---------------------------------------------------------------------------
// Try statements
// ---------------------------------------------------------------------------

// compileTry lays out
//
//	SCOPE_SAVE scope
//	start:   body
//	tryEnd:  [GOSUB finally] GOTO end
//	catch:   store exception; body
//	catchEnd:[GOSUB finally] GOTO end
//	finally: body; RETSUB
//	end:
//
// The catch record covers the body; the finally record covers the body
// and the catch clause.
func (c *Compiler) compileTry(n *Try) {
	if n.Body == nil || (n.Catch == nil && n.Finally == nil) {
		c.fault(n, "try without catch or finally")
	}
	scopeSlot := c.allocLocal()
	excSlot, finSlot := -1, -1
	if n.Catch != nil {
		excSlot = c.allocLocal()
	}
	if n.Finally != nil {
		finSlot = c.allocLocal()
	}
	c.emitIndex(vm.OpScopeSave, scopeSlot)

	end := c.newLabel()
	var fin *enclosure
	if n.Finally != nil {
		fin = &enclosure{kind: encFinally, node: n, slot: finSlot}
	}

	start := c.b.Len()
	c.tryDepth++
	if fin != nil {
		c.pushEnclosure(fin)
	}
	c.compileStmt(n.Body)
	tryEnd := c.closeInterval()
	if fin != nil {
		c.emitGosub(c.labelFor(n, roleFinally), finSlot)
	}
	c.emitJump(vm.OpGoto, end)

	c.tryDepth--

	catchEnd := tryEnd
	if n.Catch != nil {
		if fin != nil {
			c.tryDepth++
		}
		handler := c.b.Len()
		c.addHandler(n, start, tryEnd, handler, vm.HandlerCatch, excSlot, scopeSlot)
		c.emitIndex(vm.OpGetLocal, excSlot)
		if n.CatchVar != "" {
			c.storeName(n.CatchVar)
		}
		c.emit(vm.OpPOP)
		c.compileStmt(n.Catch)
		catchEnd = c.closeInterval()
		if fin != nil {
			c.emitGosub(c.labelFor(n, roleFinally), finSlot)
		}
		c.emitJump(vm.OpGoto, end)
		if fin != nil {
			c.tryDepth--
		}
	}

	if fin != nil {
		c.popEnclosure()
		handler := c.b.Len()
		c.addHandler(n, start, catchEnd, handler, vm.HandlerFinally, finSlot, scopeSlot)
		c.markLabel(c.labelFor(n, roleFinally))
		c.compileStmt(n.Finally)
		c.emitIndex(vm.OpRetsub, finSlot)
	}
	c.markLabel(end)

	if finSlot >= 0 {
		c.releaseLocal(finSlot)
	}
	if excSlot >= 0 {
		c.releaseLocal(excSlot)
	}
	c.releaseLocal(scopeSlot)
}
