package compiler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/cinder/vm"
)

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		e    Expr
		want vm.Value
	}{
		{"add", bin(Add, num(2), num(3)), vm.Number(5)},
		{"concat", bin(Add, str("a"), num(1)), vm.String("a1")},
		{"precedence", bin(Add, num(1), bin(Mul, num(2), num(3))), vm.Number(7)},
		{"modulo", bin(Mod, num(7), num(4)), vm.Number(3)},
		{"shift", bin(Shl, num(1), num(10)), vm.Number(1024)},
		{"strict", bin(StrictEq, num(1), str("1")), vm.Bool(false)},
		{"loose", bin(Eq, num(1), str("1")), vm.Bool(true)},
		{"compare", bin(Lt, num(2), num(10)), vm.Bool(true)},
		{"large", num(1e10), vm.Number(1e10)},
		{"fraction", bin(Div, num(1), num(4)), vm.Number(0.25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustRun(t, script(expr(tt.e)))
			if !vm.StrictEquals(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompiledSizingMatchesAnalysis(t *testing.T) {
	f := script(
		varDecl("a", &ArrayLit{Elements: []Expr{num(1), nil, num(3)}}),
		decl(fn("f", []string{"x", "y"},
			&Try{
				Body:     block(ret(bin(Add, name("x"), name("y")))),
				CatchVar: "e",
				Catch:    block(ret(name("e"))),
				Finally:  block(expr(assign(name("z"), num(1)))),
			},
		)),
		expr(call(name("f"), num(1), call(name("f"), num(2), num(3)))),
	)
	unit := compileOK(t, f)
	for _, u := range append([]*vm.CompiledUnit{unit}, unit.Nested...) {
		a, err := vm.Analyze(u)
		if err != nil {
			t.Fatalf("Analyze %s: %v", u.DisplayName(), err)
		}
		if a.MaxStack != u.MaxStack || a.MaxLocals != u.MaxLocals {
			t.Errorf("%s: compiled stack %d locals %d, analysis %d %d",
				u.DisplayName(), u.MaxStack, u.MaxLocals, a.MaxStack, a.MaxLocals)
		}
	}
	if len(unit.Nested) != 1 || unit.Nested[0].MaxVars != 3 {
		t.Errorf("nested function should keep x, y, e in slots")
	}
	if unit.MaxCalleeArgs != 2 {
		t.Errorf("MaxCalleeArgs = %d, want 2", unit.MaxCalleeArgs)
	}
}

// ---------------------------------------------------------------------------
// Tail calls
// ---------------------------------------------------------------------------

func loopFunction() *Function {
	return fn("loop", []string{"n"},
		&If{Cond: bin(StrictEq, name("n"), num(0)), Then: ret(str("done"))},
		ret(call(name("loop"), bin(Sub, name("n"), num(1)))),
	)
}

func TestTailCallRunsInConstantDepth(t *testing.T) {
	v := mustRun(t, script(
		decl(loopFunction()),
		expr(call(name("loop"), num(100000))),
	), vm.WithMaxFrameDepth(1000))
	wantString(t, v, "done")
}

func wantRangeError(t *testing.T, err error) {
	t.Helper()
	var se *vm.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if n := se.Value.Object().Get("name"); n.Str() != "RangeError" {
		t.Errorf("error name = %v, want RangeError", n)
	}
}

func TestDeepRecursionRaisesRangeError(t *testing.T) {
	count := fn("count", []string{"n"},
		&If{Cond: bin(StrictEq, name("n"), num(0)), Then: ret(num(0))},
		ret(bin(Add, num(1), call(name("count"), bin(Sub, name("n"), num(1))))),
	)
	_, err := run(t, script(decl(count), expr(call(name("count"), num(5000)))),
		vm.WithMaxFrameDepth(1000))
	wantRangeError(t, err)
}

func TestDebugInfoDisablesTailCalls(t *testing.T) {
	in := vm.New(vm.WithMaxFrameDepth(1000))
	_, err := runIn(t, in, script(
		decl(loopFunction()),
		expr(call(name("loop"), num(5000))),
	), WithDebugInfo(true))
	wantRangeError(t, err)
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestTryCatchFinally(t *testing.T) {
	v := mustRun(t, script(
		varDecl("s", str("t")),
		&Try{
			Body: block(
				expr(assign(name("s"), bin(Add, name("s"), str("c")))),
				throw(str("boom")),
				expr(assign(name("s"), str("unreachable"))),
			),
			CatchVar: "e",
			Catch:    block(expr(assign(name("s"), bin(Add, name("s"), name("e"))))),
			Finally:  block(expr(assign(name("s"), bin(Add, name("s"), str("f"))))),
		},
		expr(name("s")),
	))
	wantString(t, v, "tcboomf")
}

func TestReturnRunsFinally(t *testing.T) {
	f := fn("f", nil, &Try{
		Body:    block(ret(num(1))),
		Finally: block(expr(assign(name("count"), bin(Add, name("count"), num(1))))),
	})
	v := mustRun(t, script(
		varDecl("count", num(0)),
		decl(f),
		expr(bin(Add, call(name("f")), bin(Mul, name("count"), num(10)))),
	))
	wantNumber(t, v, 11)
}

func TestThrowThroughFinallyIsCaughtOutside(t *testing.T) {
	f := fn("f", nil, &Try{
		Body:    block(throw(str("x"))),
		Finally: block(expr(assign(name("s"), bin(Add, name("s"), str("f"))))),
	})
	v := mustRun(t, script(
		varDecl("s", str("")),
		decl(f),
		&Try{
			Body:     block(expr(call(name("f")))),
			CatchVar: "e",
			Catch:    block(expr(assign(name("s"), bin(Add, name("s"), name("e"))))),
		},
		expr(name("s")),
	))
	wantString(t, v, "fx")
}

func TestBreakRunsFinally(t *testing.T) {
	incr := expr(assign(name("n"), bin(Add, name("n"), num(1))))
	v := mustRun(t, script(
		varDecl("n", num(0)),
		&While{Cond: boolean(true), Body: block(&Try{
			Body:    block(incr, &Break{}),
			Finally: block(incr),
		})},
		expr(name("n")),
	))
	wantNumber(t, v, 2)
}

func TestNestedFinallyOrder(t *testing.T) {
	add := func(s string) Stmt {
		return expr(assign(name("s"), bin(Add, name("s"), str(s))))
	}
	f := fn("f", nil, &Try{
		Body: block(&Try{
			Body:    block(ret(str("r"))),
			Finally: block(add("1")),
		}),
		Finally: block(add("2")),
	})
	v := mustRun(t, script(
		varDecl("s", str("")),
		decl(f),
		expr(bin(Add, call(name("f")), name("s"))),
	))
	wantString(t, v, "r12")
}

func TestUncaughtThrowCarriesTrace(t *testing.T) {
	f := fn("thrower", nil, throw(str("bad")))
	_, err := run(t, script(decl(f), expr(call(name("thrower")))))
	var se *vm.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	wantString(t, se.Value, "bad")
	if len(se.Trace) != 2 {
		t.Fatalf("trace has %d entries, want 2", len(se.Trace))
	}
	if !strings.Contains(se.ScriptStack(), "thrower") {
		t.Errorf("stack missing thrower:\n%s", se.ScriptStack())
	}
}

var errHostFailure = errors.New("host failure")

func TestHostErrorRunsFinallyButNotCatch(t *testing.T) {
	in := vm.New()
	in.Define("fail", func(ctx context.Context, in *vm.Interpreter, this vm.Value, args []vm.Value) (vm.Value, error) {
		return vm.Undefined, errHostFailure
	})
	_, err := runIn(t, in, script(
		varDecl("log", str("")),
		&Try{
			Body: block(&Try{
				Body:     block(expr(call(name("fail")))),
				CatchVar: "e",
				Catch:    block(expr(assign(name("log"), bin(Add, name("log"), str("c"))))),
			}),
			Finally: block(expr(assign(name("log"), bin(Add, name("log"), str("f"))))),
		},
	))
	var he *vm.HostError
	if !errors.As(err, &he) {
		t.Fatalf("expected HostError, got %v", err)
	}
	if !errors.Is(err, errHostFailure) {
		t.Errorf("HostError does not wrap the host failure: %v", err)
	}
	wantString(t, in.GlobalObject().Get("log"), "f")
}

func TestNativeScriptErrorIsCatchable(t *testing.T) {
	in := vm.New()
	in.Define("check", func(ctx context.Context, in *vm.Interpreter, this vm.Value, args []vm.Value) (vm.Value, error) {
		return vm.Undefined, in.TypeError("bad argument")
	})
	v, err := runIn(t, in, script(
		&Try{
			Body:     block(expr(call(name("check")))),
			CatchVar: "e",
			Catch:    block(expr(member(name("e"), "name"))),
		},
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantString(t, v, "TypeError")
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

func runGlobal(t *testing.T, in *vm.Interpreter, f *Function, global string) vm.Value {
	t.Helper()
	if _, err := runIn(t, in, f); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return in.GlobalObject().Get(global)
}

func TestGeneratorSend(t *testing.T) {
	ctx := context.Background()
	counter := gen("counter", nil,
		varDecl("a", &Yield{Value: num(1)}),
		varDecl("b", &Yield{Value: bin(Add, name("a"), num(1))}),
		ret(bin(Add, name("b"), num(1))),
	)
	in := vm.New()
	fnv := runGlobal(t, in, script(decl(counter)), "counter")

	gv, err := in.Call(ctx, fnv, vm.Undefined, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	g, ok := vm.GeneratorOf(gv)
	if !ok {
		t.Fatalf("calling a generator function returned %v", gv)
	}

	steps := []struct {
		send vm.Value
		want float64
	}{
		{vm.Undefined, 1},
		{vm.Number(1), 2},
		{vm.Number(2), 3},
	}
	for i, s := range steps {
		v, err := in.Resume(ctx, g, vm.ResumeSend, s.send)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		wantNumber(t, v, s.want)
	}
	if !g.Done() {
		t.Error("generator should be done after returning")
	}
	_, err = in.Resume(ctx, g, vm.ResumeSend, vm.Undefined)
	var se *vm.ScriptError
	if !errors.As(err, &se) || se.Value.Object().Get("name").Str() != "StopIteration" {
		t.Errorf("resuming a finished generator: got %v, want StopIteration", err)
	}
}

func TestGeneratorCloseRunsFinally(t *testing.T) {
	ctx := context.Background()
	g1 := gen("g", nil, &Try{
		Body: block(
			expr(&Yield{Value: num(1)}),
			expr(&Yield{Value: num(2)}),
		),
		Finally: block(expr(assign(name("cleaned"), boolean(true)))),
	})
	in := vm.New()
	fnv := runGlobal(t, in, script(varDecl("cleaned", boolean(false)), decl(g1)), "g")
	gv, err := in.Call(ctx, fnv, vm.Undefined, nil)
	if err != nil {
		t.Fatal(err)
	}
	g, _ := vm.GeneratorOf(gv)
	if v, err := in.Resume(ctx, g, vm.ResumeSend, vm.Undefined); err != nil || v.Float() != 1 {
		t.Fatalf("first resume = %v, %v", v, err)
	}
	if _, err := in.Resume(ctx, g, vm.ResumeClose, vm.Undefined); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !g.Done() {
		t.Error("closed generator should be done")
	}
	if v := in.GlobalObject().Get("cleaned"); !v.Boolean() {
		t.Error("finally block did not run on close")
	}
}

func TestGeneratorThrowIsCaughtAtYield(t *testing.T) {
	ctx := context.Background()
	g1 := gen("g", nil, &Try{
		Body:     block(expr(&Yield{Value: num(1)})),
		CatchVar: "e",
		Catch:    block(expr(&Yield{Value: bin(Add, str("caught "), name("e"))})),
	})
	in := vm.New()
	fnv := runGlobal(t, in, script(decl(g1)), "g")
	gv, err := in.Call(ctx, fnv, vm.Undefined, nil)
	if err != nil {
		t.Fatal(err)
	}
	g, _ := vm.GeneratorOf(gv)
	if _, err := in.Resume(ctx, g, vm.ResumeSend, vm.Undefined); err != nil {
		t.Fatal(err)
	}
	v, err := in.Resume(ctx, g, vm.ResumeThrow, vm.String("x"))
	if err != nil {
		t.Fatalf("throw resume failed: %v", err)
	}
	wantString(t, v, "caught x")
}

func TestYieldWhileClosingIsTypeError(t *testing.T) {
	ctx := context.Background()
	g1 := gen("g", nil, &Try{
		Body:    block(expr(&Yield{Value: num(1)})),
		Finally: block(expr(&Yield{Value: num(2)})),
	})
	in := vm.New()
	fnv := runGlobal(t, in, script(decl(g1)), "g")
	gv, err := in.Call(ctx, fnv, vm.Undefined, nil)
	if err != nil {
		t.Fatal(err)
	}
	g, _ := vm.GeneratorOf(gv)
	if _, err := in.Resume(ctx, g, vm.ResumeSend, vm.Undefined); err != nil {
		t.Fatal(err)
	}
	_, err = in.Resume(ctx, g, vm.ResumeClose, vm.Undefined)
	var se *vm.ScriptError
	if !errors.As(err, &se) || se.Value.Object().Get("name").Str() != "TypeError" {
		t.Errorf("close = %v, want TypeError", err)
	}
}

func TestGeneratorFromScript(t *testing.T) {
	g1 := gen("g", nil, expr(&Yield{Value: num(5)}))
	v := mustRun(t, script(
		decl(g1),
		varDecl("it", call(name("g"))),
		expr(member(call(member(name("it"), "next")), "value")),
	))
	wantNumber(t, v, 5)
}

func TestYieldOutsideGenerator(t *testing.T) {
	_, err := Compile(script(decl(fn("f", nil, expr(&Yield{Value: num(1)})))))
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Continuations
// ---------------------------------------------------------------------------

func TestContinuationRestoreFromHost(t *testing.T) {
	ctx := context.Background()
	in := vm.New()
	var saved *vm.Continuation
	in.Define("save", func(ctx context.Context, in *vm.Interpreter, this vm.Value, args []vm.Value) (vm.Value, error) {
		if k, ok := vm.ContinuationOf(vm.Arg(args, 0)); ok {
			saved = k
			return vm.Number(0), nil
		}
		return vm.Arg(args, 0), nil
	})
	v, err := runIn(t, in, script(
		varDecl("r", call(name("save"), &New{Callee: name("Continuation")})),
		expr(bin(Mul, name("r"), num(2))),
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNumber(t, v, 0)
	if saved == nil {
		t.Fatal("continuation was not captured")
	}
	for _, tc := range []struct{ in, want float64 }{{5, 10}, {10, 20}} {
		v, err := in.Restore(ctx, saved, vm.Number(tc.in))
		if err != nil {
			t.Fatalf("Restore(%v) failed: %v", tc.in, err)
		}
		wantNumber(t, v, tc.want)
	}
}

// saveFirst defines save(x), which records the first continuation passed
// to it and returns 0 for any continuation, or x otherwise.
func saveFirst(in *vm.Interpreter) **vm.Continuation {
	var saved *vm.Continuation
	in.Define("save", func(ctx context.Context, in *vm.Interpreter, this vm.Value, args []vm.Value) (vm.Value, error) {
		if k, ok := vm.ContinuationOf(vm.Arg(args, 0)); ok {
			if saved == nil {
				saved = k
			}
			return vm.Number(0), nil
		}
		return vm.Arg(args, 0), nil
	})
	return &saved
}

// restoreAll restores k once per input and returns the completions.
func restoreAll(t *testing.T, in *vm.Interpreter, k *vm.Continuation, ins ...float64) []vm.Value {
	t.Helper()
	if k == nil {
		t.Fatal("continuation was not captured")
	}
	out := make([]vm.Value, len(ins))
	for i, x := range ins {
		v, err := in.Restore(context.Background(), k, vm.Number(x))
		if err != nil {
			t.Fatalf("Restore(%v) failed: %v", x, err)
		}
		out[i] = v
	}
	return out
}

func TestContinuationRestoresAreIndependentAtDepth3(t *testing.T) {
	// function c(n) { var m = save(new Continuation()); n = n * 10 + m; return n }
	// function b(n) { var r = c(n + 1); n = n + r; return n }
	// function a(n) { var r = b(n + 1); n = n + r; return n }
	// a(1)
	c := fn("c", []string{"n"},
		varDecl("m", call(name("save"), &New{Callee: name("Continuation")})),
		expr(assign(name("n"), bin(Add, bin(Mul, name("n"), num(10)), name("m")))),
		ret(name("n")),
	)
	caller := func(fname, callee string) *Function {
		return fn(fname, []string{"n"},
			varDecl("r", call(name(callee), bin(Add, name("n"), num(1)))),
			expr(assign(name("n"), bin(Add, name("n"), name("r")))),
			ret(name("n")),
		)
	}
	in := vm.New()
	saved := saveFirst(in)
	v, err := runIn(t, in, script(
		decl(c), decl(caller("b", "c")), decl(caller("a", "b")),
		expr(call(name("a"), num(1))),
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNumber(t, v, 33)
	got := restoreAll(t, in, *saved, 5, 7, 5)
	for i, want := range []float64{38, 40, 38} {
		wantNumber(t, got[i], want)
	}
}

func TestContinuationInsideArrayLiteral(t *testing.T) {
	// var arr = [1, save(new Continuation())]
	// arr.length + ":" + arr[arr.length - 1]
	length := member(name("arr"), "length")
	in := vm.New()
	saved := saveFirst(in)
	v, err := runIn(t, in, script(
		varDecl("arr", &ArrayLit{Elements: []Expr{
			num(1),
			call(name("save"), &New{Callee: name("Continuation")}),
		}}),
		expr(bin(Add, bin(Add, length, str(":")), index(name("arr"), bin(Sub, length, num(1))))),
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantString(t, v, "2:0")
	got := restoreAll(t, in, *saved, 5, 7)
	wantString(t, got[0], "2:5")
	wantString(t, got[1], "2:7")
}

func TestContinuationInsideObjectLiteral(t *testing.T) {
	// var o = {a: 1, b: save(new Continuation())}; o.a + o.b
	in := vm.New()
	saved := saveFirst(in)
	v, err := runIn(t, in, script(
		varDecl("o", &ObjectLit{Properties: []*Property{
			{Key: "a", Value: num(1)},
			{Key: "b", Value: call(name("save"), &New{Callee: name("Continuation")})},
		}}),
		expr(bin(Add, member(name("o"), "a"), member(name("o"), "b"))),
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNumber(t, v, 1)
	got := restoreAll(t, in, *saved, 5, 7)
	wantNumber(t, got[0], 6)
	wantNumber(t, got[1], 8)
}

func TestContinuationInsideForIn(t *testing.T) {
	// var out = ""
	// for (var p in {a: 1, b: 2}) out = out + p + save(new Continuation())
	// out
	obj := &ObjectLit{Properties: []*Property{
		{Key: "a", Value: num(1)},
		{Key: "b", Value: num(2)},
	}}
	step := bin(Add, bin(Add, name("out"), name("p")),
		call(name("save"), &New{Callee: name("Continuation")}))
	in := vm.New()
	saved := saveFirst(in)
	v, err := runIn(t, in, script(
		varDecl("out", str("")),
		&ForIn{
			Target: &VarDecl{Name: "p"},
			Object: obj,
			Body:   expr(assign(name("out"), step)),
		},
		expr(name("out")),
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantString(t, v, "a0b0")
	// Each restore resumes inside the first iteration and still visits b.
	got := restoreAll(t, in, *saved, 5, 7)
	wantString(t, got[0], "a5b0")
	wantString(t, got[1], "a7b0")
}

func TestContinuationLoopInScript(t *testing.T) {
	v := mustRun(t, script(
		varDecl("n", num(0)),
		varDecl("k", &New{Callee: name("Continuation")}),
		expr(assign(name("n"), bin(Add, name("n"), num(1)))),
		&If{
			Cond: bin(Lt, name("n"), num(3)),
			Then: expr(call(name("k"), name("k"))),
		},
		expr(name("n")),
	))
	wantNumber(t, v, 3)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestLongJumps(t *testing.T) {
	body := []Stmt{}
	for range 10000 {
		body = append(body, expr(assign(name("x"), num(1))))
	}
	body = append(body, expr(assign(name("i"), bin(Add, name("i"), num(1)))))
	f := script(
		varDecl("i", num(0)),
		&While{Cond: bin(Lt, name("i"), num(2)), Body: block(body...)},
		expr(name("i")),
	)
	unit := compileOK(t, f)
	if len(unit.LongJumps) < 2 {
		t.Errorf("LongJumps = %d entries, want at least 2", len(unit.LongJumps))
	}
	v, err := vm.New().Run(context.Background(), unit, nil, vm.Undefined, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNumber(t, v, 2)
}

func TestSwitchFallthrough(t *testing.T) {
	set := func(v Expr) Stmt { return expr(assign(name("r"), v)) }
	v := mustRun(t, script(
		varDecl("r", str("")),
		&Switch{
			Discriminant: num(2),
			Cases: []*Case{
				{Test: num(1), Body: []Stmt{set(str("one")), &Break{}}},
				{Test: num(2), Body: []Stmt{set(str("two"))}},
				{Test: num(3), Body: []Stmt{set(bin(Add, name("r"), str("three"))), &Break{}}},
				{Body: []Stmt{set(str("default"))}},
			},
		},
		expr(name("r")),
	))
	wantString(t, v, "twothree")
}

func TestSwitchDefault(t *testing.T) {
	v := mustRun(t, script(
		varDecl("r", str("")),
		&Switch{
			Discriminant: str("z"),
			Cases: []*Case{
				{Body: []Stmt{expr(assign(name("r"), str("default")))}},
				{Test: str("a"), Body: []Stmt{expr(assign(name("r"), str("a")))}},
			},
		},
		expr(name("r")),
	))
	wantString(t, v, "a")
}

func TestForIn(t *testing.T) {
	obj := &ObjectLit{Properties: []*Property{
		{Key: "a", Value: num(1)},
		{Key: "b", Value: num(2)},
	}}
	v := mustRun(t, script(
		varDecl("s", str("")),
		&ForIn{
			Target: &VarDecl{Name: "k"},
			Object: obj,
			Body:   expr(assign(name("s"), bin(Add, name("s"), name("k")))),
		},
		expr(name("s")),
	))
	wantString(t, v, "ab")
}

func TestWith(t *testing.T) {
	v := mustRun(t, script(
		varDecl("o", &ObjectLit{Properties: []*Property{{Key: "a", Value: num(1)}}}),
		&With{Object: name("o"), Body: expr(assign(name("a"), num(5)))},
		expr(member(name("o"), "a")),
	))
	wantNumber(t, v, 5)
}

func TestLabeledContinue(t *testing.T) {
	inner := &For{
		Init:   varDecl("j", num(0)),
		Cond:   bin(Lt, name("j"), num(3)),
		Update: &Update{Target: name("j")},
		Body: block(
			&If{Cond: bin(StrictEq, name("j"), num(1)), Then: &Continue{Label: "outer"}},
			expr(&Update{Target: name("n")}),
		),
	}
	v := mustRun(t, script(
		varDecl("n", num(0)),
		&Labeled{Label: "outer", Body: &For{
			Init:   varDecl("i", num(0)),
			Cond:   bin(Lt, name("i"), num(3)),
			Update: &Update{Target: name("i")},
			Body:   inner,
		}},
		expr(name("n")),
	))
	wantNumber(t, v, 3)
}

func TestReturnLeavesWithBeforeFinally(t *testing.T) {
	// function f() { try { with (o) { return 1 } } finally { seen = tag } }
	f := fn("f", nil, &Try{
		Body:    block(&With{Object: name("o"), Body: block(ret(num(1)))}),
		Finally: block(expr(assign(name("seen"), name("tag")))),
	})
	v := mustRun(t, script(
		varDecl("tag", str("global")),
		varDecl("seen", str("")),
		varDecl("o", &ObjectLit{Properties: []*Property{{Key: "tag", Value: str("with")}}}),
		decl(f),
		varDecl("r", call(name("f"))),
		expr(bin(Add, bin(Add, name("seen"), str(":")), name("r"))),
	))
	wantString(t, v, "global:1")
}

func TestCompileLeavesTreeUnchanged(t *testing.T) {
	inner := fn("inner", nil, varDecl("x", num(1)), ret(name("shared")))
	outer := fn("outer", nil, varDecl("shared", num(2)), ret(&FunctionExpr{Func: inner}))
	root := script(decl(outer))

	first := compileOK(t, root)
	if inner.SourceName != "" {
		t.Errorf("nested SourceName set to %q", inner.SourceName)
	}
	if outer.Vars != nil || inner.Vars != nil {
		t.Errorf("Vars filled in: outer %v, inner %v", outer.Vars, inner.Vars)
	}
	if outer.NeedsActivation {
		t.Error("NeedsActivation set on the input tree")
	}

	outerUnit := first.Nested[0]
	if !outerUnit.NeedsActivation {
		t.Error("outer unit should use an activation object")
	}
	if got := outerUnit.Nested[0].SourceName; got != "test.js" {
		t.Errorf("inner unit SourceName = %q, want test.js", got)
	}

	second := compileOK(t, root)
	if !bytes.Equal(first.Code, second.Code) || !bytes.Equal(outerUnit.Code, second.Nested[0].Code) {
		t.Error("compiling the same tree twice produced different code")
	}
}

func TestBreakOutsideLoop(t *testing.T) {
	_, err := Compile(script(&Break{}))
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
}

func TestReturnInScript(t *testing.T) {
	_, err := Compile(script(ret(num(1))))
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Assignment forms
// ---------------------------------------------------------------------------

func TestCompoundAndPostfix(t *testing.T) {
	v := mustRun(t, script(
		varDecl("a", &ArrayLit{Elements: []Expr{num(1), num(2)}}),
		expr(&Assign{Op: Add, Target: index(name("a"), num(0)), Value: num(5)}),
		varDecl("o", &ObjectLit{Properties: []*Property{{Key: "v", Value: num(1)}}}),
		varDecl("p", &Update{Target: member(name("o"), "v")}),
		varDecl("q", &Update{Target: index(name("a"), num(1))}),
		varDecl("i", num(5)),
		varDecl("j", &Update{Target: name("i")}),
		varDecl("k", &Update{Target: name("i"), Prefix: true, Decrement: true}),
		expr(&ArrayLit{Elements: []Expr{
			index(name("a"), num(0)),
			index(name("a"), num(1)),
			member(name("o"), "v"),
			name("p"), name("q"), name("i"), name("j"), name("k"),
		}}),
	))
	arr := v.Object()
	if arr == nil || !arr.IsArray() {
		t.Fatalf("expected array, got %v", v)
	}
	want := []float64{6, 3, 2, 1, 2, 5, 5, 5}
	got := arr.Elements()
	if len(got) != len(want) {
		t.Fatalf("got %d elements, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Float() != w {
			t.Errorf("element %d = %v, want %v", i, got[i], w)
		}
	}
}

func TestPostfixInFunctionSlots(t *testing.T) {
	f := fn("f", []string{"x"},
		varDecl("old", &Update{Target: name("x")}),
		ret(bin(Add, bin(Mul, name("old"), num(10)), name("x"))),
	)
	v := mustRun(t, script(decl(f), expr(call(name("f"), num(4)))))
	wantNumber(t, v, 45)
}

func TestGetterSetter(t *testing.T) {
	getter := fn("", nil, ret(bin(Add, name("store"), num(1))))
	setter := fn("", []string{"v"}, expr(assign(name("store"), bin(Mul, name("v"), num(2)))))
	v := mustRun(t, script(
		varDecl("store", num(0)),
		varDecl("o", &ObjectLit{Properties: []*Property{
			{Key: "x", Kind: PropGetter, Value: &FunctionExpr{Func: getter}},
			{Key: "x", Kind: PropSetter, Value: &FunctionExpr{Func: setter}},
		}}),
		expr(assign(member(name("o"), "x"), num(5))),
		expr(member(name("o"), "x")),
	))
	wantNumber(t, v, 11)
}

type lineReporter struct{}

func (lineReporter) Call(ctx context.Context, in *vm.Interpreter, this vm.Value, args []vm.Value) (vm.Value, error) {
	return vm.Number(-1), nil
}

func (lineReporter) CallSpecial(ctx context.Context, in *vm.Interpreter, this vm.Value, args []vm.Value, site vm.SpecialSite) (vm.Value, error) {
	return vm.String(site.SourceName + ":" + vm.NumberToString(float64(site.Line))), nil
}

func TestSpecialCallSeesLine(t *testing.T) {
	in := vm.New()
	in.GlobalObject().Define("where", vm.ObjectValue(in.NewNative("where", lineReporter{})), 0)

	c := call(name("where"))
	c.Special = 1
	c.SpanVal = Span{Start: Position{Line: 42}}
	v, err := runIn(t, in, script(expr(c)))
	if err != nil {
		t.Fatal(err)
	}
	wantString(t, v, "test.js:42")

	v, err = runIn(t, in, script(expr(call(name("where")))))
	if err != nil {
		t.Fatal(err)
	}
	wantNumber(t, v, -1)
}

type cell struct{ v vm.Value }

func (c *cell) Get(ctx context.Context, in *vm.Interpreter) (vm.Value, error) { return c.v, nil }

func (c *cell) Set(ctx context.Context, in *vm.Interpreter, v vm.Value) (vm.Value, error) {
	c.v = v
	return v, nil
}

func TestReferenceAssignment(t *testing.T) {
	in := vm.New()
	c := &cell{v: vm.Number(0)}
	in.Define("slot", func(ctx context.Context, in *vm.Interpreter, this vm.Value, args []vm.Value) (vm.Value, error) {
		return vm.ReferenceValue(c), nil
	})
	_, err := runIn(t, in, script(
		expr(assign(call(name("slot")), num(5))),
		expr(&Assign{Op: Add, Target: call(name("slot")), Value: num(2)}),
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNumber(t, c.v, 7)
}

func TestAssignToInterpretedCallFails(t *testing.T) {
	_, err := run(t, script(
		decl(fn("f", nil, ret(num(1)))),
		expr(assign(call(name("f")), num(5))),
	))
	var se *vm.ScriptError
	if !errors.As(err, &se) || se.Value.Object().Get("name").Str() != "ReferenceError" {
		t.Errorf("got %v, want ReferenceError", err)
	}
}

func TestTypeofUnboundName(t *testing.T) {
	v := mustRun(t, script(expr(&Unary{Op: Typeof, X: name("nowhere")})))
	wantString(t, v, "undefined")
}

func TestUnboundNameIsReferenceError(t *testing.T) {
	_, err := run(t, script(expr(name("nowhere"))))
	var se *vm.ScriptError
	if !errors.As(err, &se) || se.Value.Object().Get("name").Str() != "ReferenceError" {
		t.Errorf("got %v, want ReferenceError", err)
	}
}

func TestClosureCapturesActivation(t *testing.T) {
	// function make() { var n = 0; return function() { n = n + 1; return n; }; }
	inner := fn("", nil,
		expr(assign(name("n"), bin(Add, name("n"), num(1)))),
		ret(name("n")),
	)
	mk := fn("make", nil,
		varDecl("n", num(0)),
		ret(&FunctionExpr{Func: inner}),
	)
	v := mustRun(t, script(
		decl(mk),
		varDecl("c", call(name("make"))),
		expr(call(name("c"))),
		expr(call(name("c"))),
	))
	wantNumber(t, v, 2)
}

func TestConstructor(t *testing.T) {
	point := fn("Point", []string{"x"},
		expr(assign(member(&This{}, "x"), name("x"))),
	)
	v := mustRun(t, script(
		decl(point),
		varDecl("p", &New{Callee: name("Point"), Args: []Expr{num(3)}}),
		expr(bin(InstanceOf, name("p"), name("Point"))),
	))
	if !v.Boolean() {
		t.Errorf("p instanceof Point = %v, want true", v)
	}
}

func TestConstIgnoresLaterWrites(t *testing.T) {
	// function f() { const c = 1; c = 5; return c }
	f := fn("f", nil,
		&VarDecl{Name: "c", Init: num(1), Const: true},
		expr(assign(name("c"), num(5))),
		ret(name("c")),
	)
	v := mustRun(t, script(decl(f), expr(call(name("f")))))
	wantNumber(t, v, 1)
}

func TestDeleteAndIn(t *testing.T) {
	// var o = {a: 1, b: 2}; delete o.a; ("a" in o) + "," + ("b" in o)
	lit := &ObjectLit{Properties: []*Property{
		{Key: "a", Value: num(1)},
		{Key: "b", Value: num(2)},
	}}
	v := mustRun(t, script(
		varDecl("o", lit),
		expr(&Unary{Op: Delete, X: member(name("o"), "a")}),
		expr(bin(Add, bin(Add, bin(In, str("a"), name("o")), str(",")), bin(In, str("b"), name("o")))),
	))
	wantString(t, v, "false,true")
}
