package vm

import "fmt"

// ---------------------------------------------------------------------------
// CallFrame: execution state for one invocation
// ---------------------------------------------------------------------------

// callKind says how a call's result is delivered into the caller.
type callKind uint8

const (
	callNormal callKind = iota
	callNew             // keep the constructed object unless an object is returned
)

// Variable slot attributes
const (
	attrReadOnly    uint8 = 1 << iota
	attrUninitConst       // const not yet initialised
)

// CallFrame is the state of one active invocation. Frames form a singly
// linked chain through parent; the chain is independent of the Go stack.
//
// A frozen frame belongs to a generator or continuation snapshot and is
// never mutated. Execution resumes on a clone.
type CallFrame struct {
	unit *CompiledUnit
	fn   *Object // function object, nil for scripts

	// stack holds vars, then locals, then the evaluation stack.
	stack []Value
	attrs []uint8
	sp    int

	pc            int
	line          int
	savedStackTop int
	savedCallKind callKind

	scope  *Scope
	this   Value
	result Value

	parent *CallFrame
	index  int

	frozen    bool
	varSource *CallFrame

	generator *Generator
	resume    *resumeRequest
}

// newFrame builds a frame for unit. Params and variables go to slots, or to
// a fresh activation object when the unit needs one.
func (in *Interpreter) newFrame(unit *CompiledUnit, fn *Object, closure *Scope, this Value, args []Value, parent *CallFrame) *CallFrame {
	f := &CallFrame{
		unit:   unit,
		fn:     fn,
		stack:  make([]Value, unit.FrameSize()),
		attrs:  make([]uint8, unit.MaxVars),
		sp:     unit.MaxVars + unit.MaxLocals,
		scope:  closure,
		this:   this,
		parent: parent,
	}
	f.varSource = f
	if parent != nil {
		f.index = parent.index + 1
	} else if in.current != nil {
		f.index = in.current.index + 1
	}
	if unit.IsFunction && this.IsNullish() {
		f.this = ObjectValue(in.globalObj)
	}

	switch {
	case !unit.IsFunction:
		for _, name := range unit.VarNames {
			if !closure.obj.Has(name) {
				closure.obj.Define(name, Undefined, DontDelete)
			}
		}
	case unit.NeedsActivation:
		act := NewObject(nil)
		act.class = classCall
		for i, name := range unit.VarNames {
			v := Undefined
			if i < unit.ParamCount && i < len(args) {
				v = args[i]
			}
			act.Define(name, v, DontDelete)
		}
		f.scope = NewScope(closure, act)
	default:
		n := min(len(args), unit.ParamCount, unit.MaxVars)
		copy(f.stack[:n], args[:n])
		for i, c := range unit.VarConst {
			if c && i < len(f.attrs) {
				f.attrs[i] = attrReadOnly | attrUninitConst
			}
		}
	}
	return f
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (f *CallFrame) push(v Value) {
	f.stack[f.sp] = v
	f.sp++
}

func (f *CallFrame) pop() Value {
	f.sp--
	return f.stack[f.sp]
}

func (f *CallFrame) top() Value {
	return f.stack[f.sp-1]
}

// stackBase is the slot index of the empty evaluation stack.
func (f *CallFrame) stackBase() int {
	return f.unit.MaxVars + f.unit.MaxLocals
}

func (f *CallFrame) local(i int) *Value {
	return &f.stack[f.unit.MaxVars+i]
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (f *CallFrame) readIndex() int {
	v, next := readIndex(f.unit.Code, f.pc)
	f.pc = next
	return v
}

// jump transfers control to the target of the jump at opPos.
func (f *CallFrame) jump(opPos int) {
	f.pc = JumpTarget(f.unit.Code, opPos, f.unit.LongJumps)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// setCallResult stores a callee result at savedStackTop.
func (f *CallFrame) setCallResult(v Value) {
	if f.savedCallKind != callNew || v.IsObject() {
		f.stack[f.savedStackTop] = v
	}
	f.sp = f.savedStackTop + 1
	f.savedCallKind = callNormal
}

// ---------------------------------------------------------------------------
// Freezing and cloning
// ---------------------------------------------------------------------------

// freeze marks f immutable, clearing stack slots above the pending call
// result so a snapshot does not retain dead values.
func (f *CallFrame) freeze() {
	if f.frozen {
		return
	}
	f.frozen = true
	top := f.savedStackTop
	if top < f.stackBase() {
		return
	}
	if f.savedCallKind == callNormal {
		f.stack[top] = Undefined
	}
	clear(f.stack[top+1:])
}

// cloneFrozen returns a mutable deep copy of a frozen frame, including
// any literal builders and enumerators in its slots. The clone shares the
// parent chain, which stays frozen.
func (f *CallFrame) cloneFrozen() *CallFrame {
	if !f.frozen {
		panic("cloneFrozen: frame is not frozen")
	}
	c := *f
	c.stack = append([]Value(nil), f.stack...)
	c.attrs = append([]uint8(nil), f.attrs...)
	for i, v := range c.stack {
		if v.kind == kindInternal {
			c.stack[i] = internalValue(copyInternal(v.ref))
		}
	}
	c.frozen = false
	c.resume = nil
	if f.varSource == f {
		c.varSource = &c
	}
	return &c
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// Unit returns the compiled unit the frame executes.
func (f *CallFrame) Unit() *CompiledUnit { return f.unit }

// PC returns the program counter.
func (f *CallFrame) PC() int { return f.pc }

// Line returns the last source line marker executed, or 0.
func (f *CallFrame) Line() int { return f.line }

// Parent returns the calling frame.
func (f *CallFrame) Parent() *CallFrame { return f.parent }

// Depth returns the frame's position in the chain.
func (f *CallFrame) Depth() int { return f.index }

// Frozen reports whether the frame belongs to a snapshot.
func (f *CallFrame) Frozen() bool { return f.frozen }

// Scope returns the current scope.
func (f *CallFrame) Scope() *Scope { return f.scope }

func (f *CallFrame) traceEntry() TraceEntry {
	return TraceEntry{
		Unit:     f.unit.SourceName,
		Function: f.unit.DisplayName(),
		Line:     f.line,
		PC:       max(f.pc-1, 0),
	}
}

func (f *CallFrame) String() string {
	return fmt.Sprintf("%s@%d", f.unit.DisplayName(), f.pc)
}
