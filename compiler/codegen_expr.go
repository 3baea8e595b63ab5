package compiler

import "github.com/chazu/cinder/vm"

// ---------------------------------------------------------------------------
// Expression compilation
// ---------------------------------------------------------------------------

var binaryOpcodes = map[BinaryOp]vm.Opcode{
	Add:        vm.OpAdd,
	Sub:        vm.OpSub,
	Mul:        vm.OpMul,
	Div:        vm.OpDiv,
	Mod:        vm.OpMod,
	BitAnd:     vm.OpBitAnd,
	BitOr:      vm.OpBitOr,
	BitXor:     vm.OpBitXor,
	Shl:        vm.OpLsh,
	Shr:        vm.OpRsh,
	UShr:       vm.OpURsh,
	Eq:         vm.OpEQ,
	Ne:         vm.OpNE,
	StrictEq:   vm.OpSHEQ,
	StrictNe:   vm.OpSHNE,
	Lt:         vm.OpLT,
	Le:         vm.OpLE,
	Gt:         vm.OpGT,
	Ge:         vm.OpGE,
	In:         vm.OpIn,
	InstanceOf: vm.OpInstanceOf,
}

// compileExpr compiles e. Every expression pushes exactly one value.
func (c *Compiler) compileExpr(e Expr) {
	start := c.depth

	switch n := e.(type) {
	case *NumberLit:
		c.emitNumber(n.Value)
	case *StringLit:
		c.emitString(vm.OpString, n.Value)
	case *BoolLit:
		if n.Value {
			c.emit(vm.OpTrue)
		} else {
			c.emit(vm.OpFalse)
		}
	case *NullLit:
		c.emit(vm.OpNull)
	case *UndefinedLit:
		c.emit(vm.OpUndefined)
	case *This:
		c.emit(vm.OpThis)
	case *Name:
		c.loadName(n.Name)
	case *Assign:
		c.compileAssign(n)
	case *Binary:
		op, ok := binaryOpcodes[n.Op]
		if !ok {
			c.fault(n, "unknown binary operator %d", n.Op)
		}
		c.compileExpr(n.Left)
		c.compileExpr(n.Right)
		c.emit(op)
	case *Logical:
		c.compileLogical(n)
	case *Unary:
		c.compileUnary(n)
	case *Update:
		c.compileUpdate(n)
	case *Conditional:
		c.compileConditional(n)
	case *Call:
		c.compileCall(n, vm.OpCall)
	case *New:
		c.compileExpr(n.Callee)
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.noteArgs(len(n.Args))
		c.emitIndex(vm.OpNew, len(n.Args))
	case *Member:
		c.compileExpr(n.Object)
		c.emitString(vm.OpGetProp, n.Name)
	case *Index:
		c.compileExpr(n.Object)
		c.compileExpr(n.Index)
		c.emit(vm.OpGetElem)
	case *ArrayLit:
		c.compileArrayLit(n)
	case *ObjectLit:
		c.compileObjectLit(n)
	case *FunctionExpr:
		c.compileClosure(n.Func)
	case *Yield:
		if !c.fn.IsGenerator {
			c.fault(n, "yield outside a generator")
		}
		if n.Value == nil {
			c.emit(vm.OpUndefined)
		} else {
			c.compileExpr(n.Value)
		}
		c.emit(vm.OpYield)
	case *Sequence:
		if len(n.List) == 0 {
			c.fault(n, "empty sequence")
		}
		for i, x := range n.List {
			c.compileExpr(x)
			if i < len(n.List)-1 {
				c.emit(vm.OpPOP)
			}
		}
	case nil:
		c.fault(c.fn, "nil expression")
	default:
		c.fault(e, "unknown expression type")
	}

	if c.depth != start+1 {
		c.fault(e, "expression left stack depth %d, want %d", c.depth, start+1)
	}
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (c *Compiler) loadName(name string) {
	if slot := c.res.slot(name); slot >= 0 {
		c.emitIndex(vm.OpGetVar, slot)
		return
	}
	c.emitString(vm.OpName, name)
}

// storeName assigns the value on top of the stack to name, leaving it there.
func (c *Compiler) storeName(name string) {
	if slot := c.res.slot(name); slot >= 0 {
		c.emitIndex(vm.OpSetVar, slot)
		return
	}
	c.emitString(vm.OpSetName, name)
}

// initConst performs the single initialising store of a const.
func (c *Compiler) initConst(name string) {
	if slot := c.res.slot(name); slot >= 0 {
		c.emitIndex(vm.OpSetConstVar, slot)
		return
	}
	c.emitString(vm.OpInitConstName, name)
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

// assignTo stores the value pushed by value into target, leaving the value
// on the stack.
func (c *Compiler) assignTo(target Expr, value func()) {
	switch t := target.(type) {
	case *Name:
		value()
		c.storeName(t.Name)
	case *Member:
		c.compileExpr(t.Object)
		value()
		c.emitString(vm.OpSetProp, t.Name)
	case *Index:
		c.compileExpr(t.Object)
		c.compileExpr(t.Index)
		value()
		c.emit(vm.OpSetElem)
	case *Call:
		c.compileCall(t, vm.OpRefCall)
		value()
		c.emit(vm.OpRefSet)
	default:
		c.fault(target, "invalid assignment target")
	}
}

func (c *Compiler) compileAssign(n *Assign) {
	if n.Op == NoOp {
		c.assignTo(n.Target, func() { c.compileExpr(n.Value) })
		return
	}
	op, ok := binaryOpcodes[n.Op]
	if !ok {
		c.fault(n, "unknown compound operator %d", n.Op)
	}
	c.modify(n.Target, func() {
		c.compileExpr(n.Value)
		c.emit(op)
	})
}

// modify compiles a read-modify-write of target. The current value is on
// top of the stack when update runs; update leaves the new value in its
// place, which is stored and left on the stack.
func (c *Compiler) modify(target Expr, update func()) {
	switch t := target.(type) {
	case *Name:
		c.loadName(t.Name)
		update()
		c.storeName(t.Name)
	case *Member:
		c.compileExpr(t.Object)
		c.emit(vm.OpDUP)
		c.emitString(vm.OpGetProp, t.Name)
		update()
		c.emitString(vm.OpSetProp, t.Name)
	case *Index:
		c.compileExpr(t.Object)
		c.compileExpr(t.Index)
		c.emit(vm.OpDUP2)
		c.emit(vm.OpGetElem)
		update()
		c.emit(vm.OpSetElem)
	case *Call:
		c.compileCall(t, vm.OpRefCall)
		c.emit(vm.OpDUP)
		c.emit(vm.OpRefGet)
		update()
		c.emit(vm.OpRefSet)
	default:
		c.fault(target, "invalid assignment target")
	}
}

func (c *Compiler) compileUpdate(n *Update) {
	step := vm.OpAdd
	if n.Decrement {
		step = vm.OpSub
	}
	if n.Prefix {
		c.modify(n.Target, func() {
			c.emit(vm.OpPos)
			c.emit(vm.OpOne)
			c.emit(step)
		})
		return
	}
	if _, ok := n.Target.(*Name); ok {
		c.modify(n.Target, func() {
			c.emit(vm.OpPos)
			c.emit(vm.OpDUP)
			c.emit(vm.OpOne)
			c.emit(step)
		})
		// old new -> old
		c.emit(vm.OpPOP)
		return
	}
	old := c.allocLocal()
	c.modify(n.Target, func() {
		c.emit(vm.OpPos)
		c.emit(vm.OpDUP)
		c.emitIndex(vm.OpSetLocal, old)
		c.emit(vm.OpOne)
		c.emit(step)
	})
	c.emit(vm.OpPOP)
	c.emitIndex(vm.OpGetLocal, old)
	c.releaseLocal(old)
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (c *Compiler) compileLogical(n *Logical) {
	end := c.newLabel()
	c.compileExpr(n.Left)
	c.emit(vm.OpDUP)
	if n.And {
		c.emitJump(vm.OpIfFalse, end)
	} else {
		c.emitJump(vm.OpIfTrue, end)
	}
	c.emit(vm.OpPOP)
	c.compileExpr(n.Right)
	c.markLabel(end)
}

func (c *Compiler) compileConditional(n *Conditional) {
	elseLabel, end := c.newLabel(), c.newLabel()
	c.compileExpr(n.Test)
	c.emitJump(vm.OpIfFalse, elseLabel)
	depth := c.depth
	c.compileExpr(n.Then)
	c.emitJump(vm.OpGoto, end)
	c.depth = depth
	c.markLabel(elseLabel)
	c.compileExpr(n.Else)
	c.markLabel(end)
}

func (c *Compiler) compileUnary(n *Unary) {
	switch n.Op {
	case Neg:
		c.compileExpr(n.X)
		c.emit(vm.OpNeg)
	case Pos:
		c.compileExpr(n.X)
		c.emit(vm.OpPos)
	case Not:
		c.compileExpr(n.X)
		c.emit(vm.OpNot)
	case BitNot:
		c.compileExpr(n.X)
		c.emit(vm.OpBitNot)
	case Typeof:
		if name, ok := n.X.(*Name); ok && c.res.slot(name.Name) < 0 {
			c.emitString(vm.OpTypeofName, name.Name)
			return
		}
		c.compileExpr(n.X)
		c.emit(vm.OpTypeof)
	case Void:
		c.compileExpr(n.X)
		c.emit(vm.OpPOP)
		c.emit(vm.OpUndefined)
	case Delete:
		c.compileDelete(n.X)
	default:
		c.fault(n, "unknown unary operator %d", n.Op)
	}
}

func (c *Compiler) compileDelete(x Expr) {
	switch t := x.(type) {
	case *Name:
		if c.res.slot(t.Name) >= 0 {
			c.emit(vm.OpFalse)
			return
		}
		c.emitString(vm.OpDelName, t.Name)
	case *Member:
		c.compileExpr(t.Object)
		c.emitString(vm.OpString, t.Name)
		c.emit(vm.OpDelProp)
	case *Index:
		c.compileExpr(t.Object)
		c.compileExpr(t.Index)
		c.emit(vm.OpDelProp)
	default:
		c.compileExpr(x)
		c.emit(vm.OpPOP)
		c.emit(vm.OpTrue)
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// compileCall pushes the callee and its this value, the arguments, and
// then the call instruction op.
func (c *Compiler) compileCall(n *Call, op vm.Opcode) {
	switch callee := n.Callee.(type) {
	case *Name:
		if slot := c.res.slot(callee.Name); slot >= 0 {
			c.emitIndex(vm.OpGetVar, slot)
			c.emit(vm.OpValueAndThis)
		} else {
			c.emitString(vm.OpNameAndThis, callee.Name)
		}
	case *Member:
		c.compileExpr(callee.Object)
		c.emitString(vm.OpPropAndThis, callee.Name)
	case *Index:
		c.compileExpr(callee.Object)
		c.compileExpr(callee.Index)
		c.emit(vm.OpElemAndThis)
	default:
		c.compileExpr(n.Callee)
		c.emit(vm.OpValueAndThis)
	}
	for _, a := range n.Args {
		c.compileExpr(a)
	}
	argc := len(n.Args)
	c.noteArgs(argc)

	if n.Special != 0 && op == vm.OpCall {
		c.b.EmitSpecial(argc, n.Special, n.Span().Start.Line)
		c.adjust(vm.CallEffect(vm.OpCallSpecial, argc))
		return
	}
	c.emitIndex(op, argc)
}

func (c *Compiler) noteArgs(argc int) {
	c.unit.MaxCalleeArgs = max(c.unit.MaxCalleeArgs, argc)
}

// compileClosure compiles fn as a nested unit and pushes a function object
// for it.
func (c *Compiler) compileClosure(fn *Function) {
	if fn == nil {
		c.fault(c.fn, "nil nested function")
	}
	source := fn.SourceName
	if source == "" {
		source = c.unit.SourceName
	}
	nested := compileFunction(fn, c.opts, source)
	c.unit.Nested = append(c.unit.Nested, nested)
	c.emitIndex(vm.OpClosure, len(c.unit.Nested)-1)
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func (c *Compiler) compileArrayLit(n *ArrayLit) {
	info := vm.LiteralInfo{Length: len(n.Elements)}
	count := 0
	for i, e := range n.Elements {
		if e == nil {
			info.Skip = append(info.Skip, i)
		} else {
			count++
		}
	}
	c.emitIndex(vm.OpNewArray, count)
	for _, e := range n.Elements {
		if e == nil {
			continue
		}
		c.compileExpr(e)
		c.emit(vm.OpLiteralSet)
	}
	c.unit.Literals = append(c.unit.Literals, info)
	c.emitIndex(vm.OpArrayLit, len(c.unit.Literals)-1)
}

func (c *Compiler) compileObjectLit(n *ObjectLit) {
	var info vm.LiteralInfo
	c.emitIndex(vm.OpNewObject, len(n.Properties))
	for _, p := range n.Properties {
		c.compileExpr(p.Value)
		switch p.Kind {
		case PropGetter:
			c.emit(vm.OpLiteralGetter)
			info.Kinds = append(info.Kinds, vm.LiteralGetter)
		case PropSetter:
			c.emit(vm.OpLiteralSetter)
			info.Kinds = append(info.Kinds, vm.LiteralSetter)
		default:
			c.emit(vm.OpLiteralSet)
			info.Kinds = append(info.Kinds, vm.LiteralValue)
		}
		info.Keys = append(info.Keys, p.Key)
	}
	c.unit.Literals = append(c.unit.Literals, info)
	c.emitIndex(vm.OpObjectLit, len(c.unit.Literals)-1)
}
