package compiler

import (
	"context"
	"testing"

	"github.com/chazu/cinder/vm"
)

// Tree builders. Tests construct the tree a parser would produce.

func num(f float64) Expr { return &NumberLit{Value: f} }
func str(s string) Expr { return &StringLit{Value: s} }
func name(n string) *Name { return &Name{Name: n} }
func boolean(b bool) Expr { return &BoolLit{Value: b} }
func expr(e Expr) Stmt { return &ExprStmt{X: e} }
func ret(e Expr) Stmt { return &Return{Value: e} }
func throw(e Expr) Stmt { return &Throw{Value: e} }
func block(s ...Stmt) *Block { return &Block{List: s} }

func bin(op BinaryOp, l, r Expr) Expr { return &Binary{Op: op, Left: l, Right: r} }

func call(callee Expr, args ...Expr) *Call { return &Call{Callee: callee, Args: args} }

func member(obj Expr, n string) *Member { return &Member{Object: obj, Name: n} }

func index(obj, i Expr) *Index { return &Index{Object: obj, Index: i} }

func assign(target, value Expr) Expr { return &Assign{Target: target, Value: value} }

func varDecl(n string, init Expr) Stmt { return &VarDecl{Name: n, Init: init} }

func script(body ...Stmt) *Function {
	return &Function{IsScript: true, SourceName: "test.js", Body: body}
}

func fn(fname string, params []string, body ...Stmt) *Function {
	return &Function{Name: fname, Params: params, Body: body}
}

func gen(fname string, params []string, body ...Stmt) *Function {
	f := fn(fname, params, body...)
	f.IsGenerator = true
	return f
}

func decl(f *Function) Stmt { return &FunctionDecl{Func: f} }

func compileOK(t *testing.T, f *Function, opts ...Option) *vm.CompiledUnit {
	t.Helper()
	unit, err := Compile(f, opts...)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if err := vm.Verify(unit); err != nil {
		t.Fatalf("Verify failed: %v\n%s", err, vm.Disassemble(unit))
	}
	return unit
}

// run compiles and runs a script in a fresh interpreter.
func run(t *testing.T, f *Function, opts ...vm.Option) (vm.Value, error) {
	t.Helper()
	return runIn(t, vm.New(opts...), f)
}

func runIn(t *testing.T, in *vm.Interpreter, f *Function, opts ...Option) (vm.Value, error) {
	t.Helper()
	unit := compileOK(t, f, opts...)
	return in.Run(context.Background(), unit, nil, vm.Undefined, nil)
}

func mustRun(t *testing.T, f *Function, opts ...vm.Option) vm.Value {
	t.Helper()
	v, err := run(t, f, opts...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return v
}

func wantNumber(t *testing.T, v vm.Value, want float64) {
	t.Helper()
	if !v.IsNumber() || v.Float() != want {
		t.Errorf("got %v, want %v", v, want)
	}
}

func wantString(t *testing.T, v vm.Value, want string) {
	t.Helper()
	if !v.IsString() || v.Str() != want {
		t.Errorf("got %v, want %q", v, want)
	}
}
