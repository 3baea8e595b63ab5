package vm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// unitOf builds a script unit from hand-written bytecode.
func unitOf(build func(b *BytecodeBuilder), strs ...string) *CompiledUnit {
	u := &CompiledUnit{
		Name:        "test",
		SourceName:  "test.js",
		Strings:     strs,
		LongJumps:   make(map[int]int),
		FirstLinePC: -1,
	}
	b := NewBytecodeBuilder()
	build(b)
	u.Code = b.Bytes()
	return u
}

// finish sizes u from its code and verifies it.
func finish(t *testing.T, u *CompiledUnit) *CompiledUnit {
	t.Helper()
	a, err := Analyze(u)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	u.MaxStack = a.MaxStack
	u.MaxLocals = a.MaxLocals
	if err := Verify(u); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	return u
}

func runUnit(t *testing.T, in *Interpreter, u *CompiledUnit) (Value, error) {
	t.Helper()
	return in.Run(context.Background(), finish(t, u), nil, Undefined, nil)
}

func TestRunAdd(t *testing.T) {
	u := unitOf(func(b *BytecodeBuilder) {
		b.EmitShort(OpShort, 2)
		b.EmitShort(OpShort, 3)
		b.Emit(OpAdd)
		b.Emit(OpPopResult)
		b.Emit(OpReturnResult)
	})
	v, err := runUnit(t, New(), u)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !v.IsNumber() || v.Float() != 5 {
		t.Errorf("2 + 3 = %v, want 5", v)
	}
}

func TestRunStringConcat(t *testing.T) {
	u := unitOf(func(b *BytecodeBuilder) {
		b.EmitIndex(OpString, 0)
		b.Emit(OpOne)
		b.Emit(OpAdd)
		b.Emit(OpPopResult)
		b.Emit(OpReturnResult)
	}, "a")
	v, err := runUnit(t, New(), u)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v.Str() != "a1" {
		t.Errorf("'a' + 1 = %v, want a1", v)
	}
}

func TestScriptResultDefaultsToUndefined(t *testing.T) {
	u := unitOf(func(b *BytecodeBuilder) {
		b.Emit(OpReturnResult)
	})
	v, err := runUnit(t, New(), u)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsUndefined() {
		t.Errorf("empty script returned %v", v)
	}
}

func TestRunNativeCall(t *testing.T) {
	in := New()
	in.Define("double", func(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
		n, err := in.ToNumber(ctx, Arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return Number(n * 2), nil
	})
	u := unitOf(func(b *BytecodeBuilder) {
		b.EmitIndex(OpNameAndThis, 0)
		b.EmitShort(OpShort, 21)
		b.EmitIndex(OpCall, 1)
		b.Emit(OpPopResult)
		b.Emit(OpReturnResult)
	}, "double")
	v, err := runUnit(t, in, u)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v.Float() != 42 {
		t.Errorf("double(21) = %v, want 42", v)
	}
}

func TestCallHostFunctionDirectly(t *testing.T) {
	in := New()
	fn := in.Define("id", func(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
		return Arg(args, 0), nil
	})
	v, err := in.Call(context.Background(), ObjectValue(fn), Undefined, []Value{String("x")})
	if err != nil {
		t.Fatal(err)
	}
	if v.Str() != "x" {
		t.Errorf("id('x') = %v", v)
	}
	if _, err := in.Call(context.Background(), Number(1), Undefined, nil); err == nil {
		t.Error("calling a number should fail")
	}
}

// countdownScript defines f(n) { if (n === 0) return 0; return f(n - 1) }
// with the recursive call compiled as op, then calls f(depth).
func countdownScript(op Opcode, depth int32) *CompiledUnit {
	f := unitOf(func(b *BytecodeBuilder) {
		b.EmitIndex(OpGetVar, 0)
		b.Emit(OpZero)
		b.Emit(OpSHEQ)
		j := b.EmitJump(OpIfFalse)
		b.Emit(OpZero)
		b.Emit(OpReturn)
		b.PatchJump(j, b.Len(), map[int]int{})
		b.EmitIndex(OpNameAndThis, 0)
		b.EmitIndex(OpGetVar, 0)
		b.Emit(OpOne)
		b.Emit(OpSub)
		b.EmitIndex(op, 1)
		b.Emit(OpReturn)
	}, "f")
	f.Name = "f"
	f.IsFunction = true
	f.ParamCount = 1
	f.VarNames = []string{"n"}
	f.VarConst = []bool{false}
	f.MaxVars = 1

	s := unitOf(func(b *BytecodeBuilder) {
		b.EmitIndex(OpClosure, 0)
		b.EmitIndex(OpSetName, 0)
		b.Emit(OpPOP)
		b.EmitIndex(OpNameAndThis, 0)
		b.EmitInt(OpInt, depth)
		b.EmitIndex(OpCall, 1)
		b.Emit(OpPopResult)
		b.Emit(OpReturnResult)
	}, "f")
	s.Nested = []*CompiledUnit{f}
	return s
}

func TestTailCallKeepsDepth(t *testing.T) {
	in := New(WithMaxFrameDepth(100))
	u := countdownScript(OpTailCall, 5000)
	finish(t, u.Nested[0])
	v, err := runUnit(t, in, u)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v.Float() != 0 {
		t.Errorf("countdown = %v, want 0", v)
	}
}

func TestCallDepthLimit(t *testing.T) {
	in := New(WithMaxFrameDepth(100))
	u := countdownScript(OpCall, 5000)
	finish(t, u.Nested[0])
	_, err := runUnit(t, in, u)
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if name := se.Value.Object().Get("name"); name.Str() != "RangeError" {
		t.Errorf("error name = %v, want RangeError", name)
	}
	if len(se.Trace) != 100 {
		t.Errorf("trace has %d entries, want 100", len(se.Trace))
	}
}

func TestInstructionLimit(t *testing.T) {
	in := New(WithInstructionLimit(1000))
	u := unitOf(func(b *BytecodeBuilder) {})
	b := NewBytecodeBuilder()
	j := b.EmitJump(OpGoto)
	b.PatchJump(j, j, u.LongJumps)
	u.Code = b.Bytes()

	_, err := runUnit(t, in, u)
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if !errors.Is(err, ErrInstructionLimit) {
		t.Errorf("err = %v, want ErrInstructionLimit", err)
	}
	if in.Steps() <= 1000 {
		t.Errorf("Steps = %d, want > 1000", in.Steps())
	}
}

func TestCancelledContext(t *testing.T) {
	in := New()
	u := finish(t, unitOf(func(b *BytecodeBuilder) {
		b.Emit(OpReturnResult)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.Run(ctx, u, nil, Undefined, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCancelDuringLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := New(WithCheckInterval(16))
	calls := 0
	in.Define("tick", func(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
		calls++
		if calls == 10 {
			cancel()
		}
		return Undefined, nil
	})
	u := unitOf(func(b *BytecodeBuilder) {}, "tick")
	b := NewBytecodeBuilder()
	top := b.Len()
	b.EmitIndex(OpNameAndThis, 0)
	b.EmitIndex(OpCall, 0)
	b.Emit(OpPOP)
	j := b.EmitJump(OpGoto)
	b.PatchJump(j, top, u.LongJumps)
	u.Code = b.Bytes()

	_, err := in.Run(ctx, finish(t, u), nil, Undefined, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls < 10 {
		t.Errorf("tick called %d times, want at least 10", calls)
	}
}

func TestFatalErrorSkipsFinally(t *testing.T) {
	// try { for (;;) {} } finally { ran = true }
	in := New(WithInstructionLimit(100))
	u := unitOf(func(b *BytecodeBuilder) {}, "ran")
	b := NewBytecodeBuilder()
	b.EmitIndex(OpScopeSave, 0)
	start := b.Len()
	loop := b.EmitJump(OpGoto)
	b.PatchJump(loop, loop, u.LongJumps)
	end := b.Len()
	handler := b.Len()
	b.Emit(OpTrue)
	b.EmitIndex(OpSetName, 0)
	b.Emit(OpPOP)
	b.EmitIndex(OpRetsub, 1)
	u.Code = b.Bytes()
	u.Exceptions = []ExceptionRecord{{
		TryStart: start, TryEnd: end, HandlerPC: handler,
		Kind: HandlerFinally, ExceptionSlot: 1, ScopeSlot: 0,
	}}

	_, err := runUnit(t, in, u)
	if !errors.Is(err, ErrInstructionLimit) {
		t.Fatalf("err = %v, want ErrInstructionLimit", err)
	}
	if in.GlobalObject().Has("ran") {
		t.Error("finally block ran after a fatal error")
	}
}

func TestThrowCaughtByHandler(t *testing.T) {
	// try { throw "x" } catch (e) { result = e }
	u := unitOf(func(b *BytecodeBuilder) {}, "x")
	b := NewBytecodeBuilder()
	b.EmitIndex(OpScopeSave, 0)
	start := b.Len()
	b.EmitIndex(OpString, 0)
	b.Emit(OpThrow)
	end := b.Len()
	handler := b.Len()
	b.EmitIndex(OpGetLocal, 1)
	b.Emit(OpPopResult)
	b.Emit(OpReturnResult)
	u.Code = b.Bytes()
	u.Exceptions = []ExceptionRecord{{
		TryStart: start, TryEnd: end, HandlerPC: handler,
		Kind: HandlerCatch, ExceptionSlot: 1, ScopeSlot: 0,
	}}

	v, err := runUnit(t, New(), u)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v.Str() != "x" {
		t.Errorf("caught %v, want x", v)
	}
}

// arithmeticUnit evaluates 1 + 2 * 3 groups times.
func arithmeticUnit(groups int) *CompiledUnit {
	return unitOf(func(b *BytecodeBuilder) {
		for range groups {
			b.EmitShort(OpShort, 1)
			b.EmitShort(OpShort, 2)
			b.EmitShort(OpShort, 3)
			b.Emit(OpMul)
			b.Emit(OpAdd)
			b.Emit(OpPopResult)
		}
		b.Emit(OpReturnResult)
	})
}

func TestArithmeticDoesNotAllocate(t *testing.T) {
	in := New()
	ctx := context.Background()
	one := finish(t, arithmeticUnit(1))
	many := finish(t, arithmeticUnit(500))

	v, err := in.Run(ctx, many, nil, Undefined, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v.Float() != 7 {
		t.Fatalf("1 + 2 * 3 = %v, want 7", v)
	}

	allocs := func(u *CompiledUnit) float64 {
		return testing.AllocsPerRun(20, func() {
			if _, err := in.Run(ctx, u, nil, Undefined, nil); err != nil {
				t.Fatal(err)
			}
		})
	}
	// Only per-run setup may allocate; 499 extra groups must add nothing.
	if base, got := allocs(one), allocs(many); got != base {
		t.Errorf("500 arithmetic groups allocate %v times per run, 1 group %v", got, base)
	}
}

// tryCallUnit builds try { name() } catch (e) { result = e } finally
// { ran = true }, with the catch clause left out when catch is false.
func tryCallUnit(withCatch bool) *CompiledUnit {
	u := unitOf(func(b *BytecodeBuilder) {}, "boom", "ran")
	b := NewBytecodeBuilder()
	b.EmitIndex(OpScopeSave, 0)
	start := b.Len()
	b.EmitIndex(OpNameAndThis, 0)
	b.EmitIndex(OpCall, 0)
	b.Emit(OpPOP)
	end := b.Len()
	g1 := b.EmitGosub(2)
	b.Emit(OpReturnResult)

	catchPC, catchEnd, g2 := -1, end, -1
	if withCatch {
		catchPC = b.Len()
		b.EmitIndex(OpGetLocal, 1)
		b.Emit(OpPopResult)
		catchEnd = b.Len()
		g2 = b.EmitGosub(2)
		b.Emit(OpReturnResult)
	}
	finallyPC := b.Len()
	b.Emit(OpTrue)
	b.EmitIndex(OpSetName, 1)
	b.Emit(OpPOP)
	b.EmitIndex(OpRetsub, 2)
	b.PatchJump(g1, finallyPC, u.LongJumps)
	if g2 >= 0 {
		b.PatchJump(g2, finallyPC, u.LongJumps)
	}

	if withCatch {
		u.Exceptions = append(u.Exceptions, ExceptionRecord{
			TryStart: start, TryEnd: end, HandlerPC: catchPC,
			Kind: HandlerCatch, ExceptionSlot: 1, ScopeSlot: 0,
		})
	}
	u.Exceptions = append(u.Exceptions, ExceptionRecord{
		TryStart: start, TryEnd: catchEnd, HandlerPC: finallyPC,
		Kind: HandlerFinally, ExceptionSlot: 2, ScopeSlot: 0,
	})
	u.Code = b.Bytes()
	return u
}

func TestWrappedFatalErrorSkipsFinally(t *testing.T) {
	in := New()
	in.Define("boom", func(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
		return Undefined, fmt.Errorf("nested run: %w", &FatalError{Err: ErrInstructionLimit})
	})
	_, err := runUnit(t, in, tryCallUnit(true))
	var fe *FatalError
	if !errors.As(err, &fe) || !errors.Is(err, ErrInstructionLimit) {
		t.Fatalf("err = %v, want FatalError wrapping ErrInstructionLimit", err)
	}
	var he *HostError
	if errors.As(err, &he) {
		t.Errorf("fatal error escaped as a HostError: %v", err)
	}
	if in.GlobalObject().Has("ran") {
		t.Error("finally block ran after a wrapped fatal error")
	}
}

func TestWrappedScriptErrorIsCatchable(t *testing.T) {
	in := New()
	in.Define("boom", func(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
		return Undefined, fmt.Errorf("boom: %w", in.TypeError("bad operand"))
	})
	v, err := runUnit(t, in, tryCallUnit(true))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if name := v.Object().Get("name"); name.Str() != "TypeError" {
		t.Errorf("caught %v, want a TypeError", v)
	}
	if !in.GlobalObject().Has("ran") {
		t.Error("finally block did not run")
	}
}

func TestHostErrorRunsFinallyOnly(t *testing.T) {
	in := New()
	cause := errors.New("disk on fire")
	in.Define("boom", func(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
		return Undefined, cause
	})
	_, err := runUnit(t, in, tryCallUnit(false))
	var he *HostError
	if !errors.As(err, &he) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want HostError wrapping the cause", err)
	}
	if !in.GlobalObject().Has("ran") {
		t.Error("finally block did not run")
	}
}
