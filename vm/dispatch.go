package vm

import (
	"context"
	"fmt"
)

// ---------------------------------------------------------------------------
// Execution: one run of the dispatch loop over a frame chain
// ---------------------------------------------------------------------------

// execution drives a chain of frames until the root frame returns, a
// generator yields, or an error escapes. Interpreted calls never recurse
// on the Go stack; only host code calling back into the interpreter starts
// a nested execution.
type execution struct {
	in        *Interpreter
	ctx       context.Context
	frame     *CallFrame
	result    Value
	suspended bool // root generator frame yielded
	escaped   error
	countdown int
}

func (in *Interpreter) newExecution(ctx context.Context, f *CallFrame) *execution {
	if in.current == nil {
		in.steps = 0
	}
	return &execution{in: in, ctx: ctx, frame: f, countdown: in.CheckInterval}
}

func (x *execution) run() (Value, error) {
	prev := x.in.current
	defer func() { x.in.current = prev }()

	err := x.checkCancelled()
	for {
		if err == nil {
			if err = x.dispatch(); err == nil {
				return x.result, nil
			}
		}
		if !x.handle(err) {
			return Undefined, x.escaped
		}
		err = nil
	}
}

// deliver returns v to parent, or finishes the execution when parent is
// nil. Reports whether execution continues.
func (x *execution) deliver(parent *CallFrame, v Value) bool {
	if parent == nil {
		x.frame = nil
		x.result = v
		return false
	}
	if parent.frozen {
		parent = parent.cloneFrozen()
	}
	parent.setCallResult(v)
	x.frame = parent
	return true
}

// leave exits f with result v.
func (x *execution) leave(f *CallFrame, v Value) bool {
	x.in.exitFrame(f, v, nil)
	return x.deliver(f.parent, v)
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// dispatch executes instructions until the execution completes (nil) or an
// error is raised in x.frame.
func (x *execution) dispatch() error {
	in := x.in
	ctx := x.ctx
	for {
		if err := x.tick(); err != nil {
			return err
		}
		f := x.frame
		in.current = f
		code := f.unit.Code
		opPos := f.pc
		op := Opcode(code[opPos])
		f.pc++

		switch op {
		// Stack operations
		case OpNOP:
		case OpPOP:
			f.sp--
		case OpPopResult:
			f.result = f.pop()
		case OpDUP:
			f.push(f.top())
		case OpDUP2:
			a, b := f.stack[f.sp-2], f.stack[f.sp-1]
			f.push(a)
			f.push(b)
		case OpSWAP:
			f.stack[f.sp-1], f.stack[f.sp-2] = f.stack[f.sp-2], f.stack[f.sp-1]

		// Constants
		case OpUndefined:
			f.push(Undefined)
		case OpNull:
			f.push(Null)
		case OpTrue:
			f.push(True)
		case OpFalse:
			f.push(False)
		case OpThis:
			f.push(f.this)
		case OpZero:
			f.push(Number(0))
		case OpOne:
			f.push(Number(1))
		case OpShort:
			f.push(Int(readInt16(code, f.pc)))
			f.pc += 2
		case OpInt:
			f.push(Int(readInt32(code, f.pc)))
			f.pc += 4
		case OpNumber:
			f.push(Number(f.unit.Doubles[f.readIndex()]))
		case OpString:
			f.push(String(f.unit.Strings[f.readIndex()]))

		// Variables
		case OpGetVar:
			slot := f.readIndex()
			f.push(f.varSource.stack[slot])
		case OpSetVar:
			slot := f.readIndex()
			vs := f.varSource
			if vs.attrs[slot]&attrReadOnly == 0 {
				vs.stack[slot] = f.top()
			}
		case OpSetConstVar:
			slot := f.readIndex()
			vs := f.varSource
			if vs.attrs[slot]&attrUninitConst != 0 {
				vs.stack[slot] = f.top()
				vs.attrs[slot] &^= attrUninitConst
			}
		case OpGetLocal:
			f.push(*f.local(f.readIndex()))
		case OpSetLocal:
			slot := f.readIndex()
			*f.local(slot) = f.pop()
		case OpName:
			v, err := x.getName(f.scope, f.unit.Strings[f.readIndex()])
			if err != nil {
				return err
			}
			f.push(v)
		case OpSetName:
			if err := x.setName(f.scope, f.unit.Strings[f.readIndex()], f.top()); err != nil {
				return err
			}
		case OpInitConstName:
			f.scope.BindConst(f.unit.Strings[f.readIndex()], f.top())
		case OpDelName:
			f.push(Bool(f.scope.Delete(f.unit.Strings[f.readIndex()])))
		case OpTypeofName:
			name := f.unit.Strings[f.readIndex()]
			b := f.scope.Lookup(name)
			if b == nil {
				f.push(String("undefined"))
				break
			}
			v, err := in.GetProperty(ctx, ObjectValue(b.obj), name)
			if err != nil {
				return err
			}
			f.push(String(TypeOf(v)))
		case OpNameAndThis:
			name := f.unit.Strings[f.readIndex()]
			b := f.scope.Lookup(name)
			if b == nil {
				return in.ReferenceError("%s is not defined", name)
			}
			v, err := in.GetProperty(ctx, ObjectValue(b.obj), name)
			if err != nil {
				return err
			}
			f.push(v)
			if b.with {
				f.push(ObjectValue(b.obj))
			} else {
				f.push(Undefined)
			}
		case OpScopeSave:
			*f.local(f.readIndex()) = scopeValue(f.scope)

		// Properties
		case OpGetProp:
			name := f.unit.Strings[f.readIndex()]
			v, err := in.GetProperty(ctx, f.top(), name)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = v
		case OpSetProp:
			name := f.unit.Strings[f.readIndex()]
			v := f.pop()
			if err := in.SetProperty(ctx, f.top(), name, v); err != nil {
				return err
			}
			f.stack[f.sp-1] = v
		case OpGetElem:
			key := f.pop()
			v, err := in.GetElement(ctx, f.top(), key)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = v
		case OpSetElem:
			v := f.pop()
			key := f.pop()
			if err := in.SetElement(ctx, f.top(), key, v); err != nil {
				return err
			}
			f.stack[f.sp-1] = v
		case OpDelProp:
			key := f.pop()
			ok, err := in.DeleteElement(ctx, f.top(), key)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = Bool(ok)
		case OpPropAndThis:
			name := f.unit.Strings[f.readIndex()]
			obj := f.top()
			v, err := in.GetProperty(ctx, obj, name)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = v
			f.push(obj)
		case OpElemAndThis:
			key := f.pop()
			obj := f.top()
			v, err := in.GetElement(ctx, obj, key)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = v
			f.push(obj)
		case OpValueAndThis:
			f.push(Undefined)
		case OpIn:
			obj := f.pop()
			ok, err := in.HasProperty(ctx, f.top(), obj)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = Bool(ok)
		case OpInstanceOf:
			ctor := f.pop()
			ok, err := in.InstanceOf(ctx, f.top(), ctor)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = Bool(ok)
		case OpRefGet:
			r, err := x.reference(f.top())
			if err != nil {
				return err
			}
			v, err := r.Get(ctx, in)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = v
		case OpRefSet:
			v := f.pop()
			r, err := x.reference(f.top())
			if err != nil {
				return err
			}
			if v, err = r.Set(ctx, in, v); err != nil {
				return err
			}
			f.stack[f.sp-1] = v

		// Arithmetic
		case OpAdd:
			b := f.pop()
			a := f.top()
			if a.kind == KindNumber && b.kind == KindNumber {
				f.stack[f.sp-1] = Number(a.num + b.num)
				break
			}
			v, err := in.add(ctx, a, b)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = v
		case OpSub, OpMul, OpDiv, OpMod:
			b := f.pop()
			a := f.top()
			if a.kind == KindNumber && b.kind == KindNumber {
				f.stack[f.sp-1] = Number(arithFloat(op, a.num, b.num))
				break
			}
			v, err := in.arith(ctx, op, a, b)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = v
		case OpBitAnd, OpBitOr, OpBitXor, OpLsh, OpRsh, OpURsh:
			b := f.pop()
			a := f.top()
			if a.kind == KindNumber && b.kind == KindNumber {
				f.stack[f.sp-1] = Number(bitwiseFloat(op, a.num, b.num))
				break
			}
			v, err := in.bitwise(ctx, op, a, b)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = v
		case OpNeg, OpPos, OpBitNot:
			a := f.top()
			n := a.num
			if a.kind != KindNumber {
				var err error
				if n, err = in.ToNumber(ctx, a); err != nil {
					return err
				}
			}
			switch op {
			case OpNeg:
				n = -n
			case OpBitNot:
				n = float64(^ToInt32(n))
			}
			f.stack[f.sp-1] = Number(n)
		case OpNot:
			f.stack[f.sp-1] = Bool(!ToBoolean(f.top()))
		case OpTypeof:
			f.stack[f.sp-1] = String(TypeOf(f.top()))

		// Comparison
		case OpEQ, OpNE:
			b := f.pop()
			eq, err := in.LooseEquals(ctx, f.top(), b)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = Bool(eq == (op == OpEQ))
		case OpSHEQ, OpSHNE:
			b := f.pop()
			f.stack[f.sp-1] = Bool(StrictEquals(f.top(), b) == (op == OpSHEQ))
		case OpLT, OpLE, OpGT, OpGE:
			b := f.pop()
			a := f.top()
			if a.kind == KindNumber && b.kind == KindNumber {
				f.stack[f.sp-1] = Bool(compareFloat(op, a.num, b.num))
				break
			}
			r, err := in.compare(ctx, op, a, b)
			if err != nil {
				return err
			}
			f.stack[f.sp-1] = Bool(r)

		// Control flow
		case OpGoto:
			f.jump(opPos)
		case OpIfTrue:
			if ToBoolean(f.pop()) {
				f.jump(opPos)
			} else {
				f.pc += 2
			}
		case OpIfFalse:
			if !ToBoolean(f.pop()) {
				f.jump(opPos)
			} else {
				f.pc += 2
			}
		case OpGosub:
			f.pc += 2
			slot := f.readIndex()
			*f.local(slot) = addressValue(f.pc)
			f.jump(opPos)
		case OpRetsub:
			slot := f.readIndex()
			v := *f.local(slot)
			switch v.kind {
			case kindAddress:
				f.pc = int(v.num)
			case kindThrowable:
				return v.ref.(error)
			default:
				panic(fmt.Sprintf("RETSUB: slot %d holds %s", slot, v))
			}

		// Calls
		case OpCall, OpTailCall, OpRefCall:
			if err := x.call(f, op, f.readIndex(), SpecialSite{}); err != nil {
				return err
			}
		case OpCallSpecial:
			argc := f.readIndex()
			kind := f.readIndex()
			line := f.readIndex()
			site := SpecialSite{Kind: kind, SourceName: f.unit.SourceName, Line: line}
			if err := x.call(f, op, argc, site); err != nil {
				return err
			}
		case OpNew:
			if err := x.construct(f, f.readIndex()); err != nil {
				return err
			}
		case OpClosure:
			f.push(ObjectValue(in.NewFunction(f.unit.Nested[f.readIndex()], f.scope)))

		// Returns and exceptions
		case OpReturn:
			if !x.leave(f, f.pop()) {
				return nil
			}
		case OpReturnUndef:
			if !x.leave(f, Undefined) {
				return nil
			}
		case OpReturnResult:
			if !x.leave(f, f.result) {
				return nil
			}
		case OpThrow:
			return &ScriptError{Value: f.pop()}
		case OpEnterWith:
			o, err := in.ToObject(f.pop())
			if err != nil {
				return err
			}
			f.scope = newWithScope(f.scope, o)
		case OpLeaveWith:
			f.scope = f.scope.parent

		// Enumeration
		case OpEnumInit:
			slot := f.readIndex()
			*f.local(slot) = internalValue(newEnumerator(f.pop()))
		case OpEnumNext:
			e := f.local(f.readIndex()).ref.(*enumerator)
			f.push(Bool(e.next()))
		case OpEnumID:
			e := f.local(f.readIndex()).ref.(*enumerator)
			f.push(String(e.current))

		// Literals
		case OpNewArray, OpNewObject:
			n := f.readIndex()
			f.push(internalValue(&literalBuilder{values: make([]Value, 0, n)}))
		case OpLiteralSet, OpLiteralGetter, OpLiteralSetter:
			v := f.pop()
			f.top().ref.(*literalBuilder).add(v, literalKindOf(op))
		case OpArrayLit:
			info := &f.unit.Literals[f.readIndex()]
			b := f.top().ref.(*literalBuilder)
			f.stack[f.sp-1] = ObjectValue(NewArray(in.ArrayPrototype, b.elements(info)))
		case OpObjectLit:
			info := &f.unit.Literals[f.readIndex()]
			b := f.top().ref.(*literalBuilder)
			f.stack[f.sp-1] = ObjectValue(b.object(in.ObjectPrototype, info))

		// Generators
		case OpGenerator:
			if req := f.resume; req != nil {
				f.resume = nil
				if err := req.raise(f); err != nil {
					return err
				}
				break
			}
			f.pc = opPos
			parent := f.parent
			gen := in.newGenerator(f)
			in.exitFrame(f, ObjectValue(gen.object), nil)
			in.logger.Debug("generator created", "unit", f.unit.DisplayName())
			if !x.deliver(parent, ObjectValue(gen.object)) {
				return nil
			}
		case OpYield:
			if req := f.resume; req != nil {
				f.resume = nil
				if err := req.raise(f); err != nil {
					return err
				}
				f.push(req.value)
				break
			}
			gen := f.generator
			if gen == nil {
				panic("YIELD outside a generator frame")
			}
			v := f.pop()
			if gen.closing {
				return in.TypeError("yield from closing generator")
			}
			f.pc = opPos
			f.frozen = true
			gen.frame = f
			in.exitFrame(f, v, nil)
			in.logger.Debug("generator frozen", "unit", f.unit.DisplayName(), "pc", opPos)
			x.frame = nil
			x.result = v
			x.suspended = true
			return nil

		// Debugging
		case OpLine:
			f.line = f.readIndex()
		case OpDebugger:
			if in.observer != nil {
				in.observer.Debugger(f)
			}

		default:
			panic(fmt.Sprintf("unknown opcode %s at %d", op, opPos))
		}
	}
}

// ---------------------------------------------------------------------------
// Name resolution
// ---------------------------------------------------------------------------

func (x *execution) getName(s *Scope, name string) (Value, error) {
	b := s.Lookup(name)
	if b == nil {
		return Undefined, x.in.ReferenceError("%s is not defined", name)
	}
	return x.in.GetProperty(x.ctx, ObjectValue(b.obj), name)
}

func (x *execution) setName(s *Scope, name string, v Value) error {
	b := s.Lookup(name)
	if b == nil {
		b = s.root()
	}
	return x.in.SetProperty(x.ctx, ObjectValue(b.obj), name, v)
}

func (x *execution) reference(v Value) (Reference, error) {
	if v.kind == kindReference {
		return v.ref.(Reference), nil
	}
	return nil, x.in.ReferenceError("invalid assignment target")
}

// ---------------------------------------------------------------------------
// Call and construct
// ---------------------------------------------------------------------------

// call performs CALL, TAIL_CALL, REF_CALL and CALL_SPECIAL. The stack holds
// fn, this and argc arguments.
func (x *execution) call(f *CallFrame, op Opcode, argc int, site SpecialSite) error {
	in := x.in
	base := f.sp - argc - 2
	fnv := f.stack[base]
	this := f.stack[base+1]
	args := f.stack[base+2 : f.sp]
	f.sp = base

	fo := fnv.Object()
	if fo == nil {
		return in.TypeError("%s is not a function", fnv)
	}
	switch impl := fo.internal.(type) {
	case *Function:
		if op == OpRefCall {
			return in.ReferenceError("invalid assignment target")
		}
		if op == OpTailCall {
			return x.tailCall(f, fo, impl, this, args)
		}
		if err := in.checkDepth(f.index + 1); err != nil {
			return err
		}
		f.savedStackTop = base
		f.savedCallKind = callNormal
		callee := in.newFrame(impl.Unit, fo, impl.Scope, this, args, f)
		in.enterFrame(callee, false)
		x.frame = callee
		return nil
	case *Continuation:
		return x.jumpTo(impl, f, Arg(args, 0))
	case continuationCtor:
		return x.capture(f, base)
	case Callable:
		args = append([]Value(nil), args...)
		var v Value
		var err error
		if sc, ok := impl.(SpecialCallable); ok && op == OpCallSpecial {
			v, err = sc.CallSpecial(x.ctx, in, this, args, site)
		} else {
			v, err = impl.Call(x.ctx, in, this, args)
		}
		if err != nil {
			return err
		}
		if op == OpRefCall && v.kind != kindReference {
			return in.ReferenceError("invalid assignment target")
		}
		f.stack[base] = v
		f.sp = base + 1
		return nil
	}
	return in.TypeError("%s is not a function", fnv)
}

// tailCall replaces f with a frame for the callee, linked to f's parent.
func (x *execution) tailCall(f *CallFrame, fo *Object, fn *Function, this Value, args []Value) error {
	in := x.in
	in.exitFrame(f, Undefined, nil)
	callee := in.newFrame(fn.Unit, fo, fn.Scope, this, args, f.parent)
	callee.index = f.index
	in.enterFrame(callee, false)
	x.frame = callee
	return nil
}

// construct performs NEW. The stack holds fn and argc arguments.
func (x *execution) construct(f *CallFrame, argc int) error {
	in := x.in
	base := f.sp - argc - 1
	fnv := f.stack[base]
	args := f.stack[base+1 : f.sp]
	f.sp = base

	fo := fnv.Object()
	if fo == nil {
		return in.TypeError("%s is not a constructor", fnv)
	}
	switch impl := fo.internal.(type) {
	case *Function:
		if err := in.checkDepth(f.index + 1); err != nil {
			return err
		}
		obj, err := in.constructThis(x.ctx, fnv)
		if err != nil {
			return err
		}
		f.stack[base] = ObjectValue(obj)
		f.savedStackTop = base
		f.savedCallKind = callNew
		callee := in.newFrame(impl.Unit, fo, impl.Scope, ObjectValue(obj), args, f)
		in.enterFrame(callee, false)
		x.frame = callee
		return nil
	case continuationCtor:
		return x.capture(f, base)
	case Constructor:
		args = append([]Value(nil), args...)
		v, err := impl.Construct(x.ctx, in, args)
		if err != nil {
			return err
		}
		f.stack[base] = v
		f.sp = base + 1
		return nil
	}
	return in.TypeError("%s is not a constructor", fnv)
}
