package vm

import "context"

// ---------------------------------------------------------------------------
// Callables
// ---------------------------------------------------------------------------

// Callable is implemented by host functions installed as function objects.
type Callable interface {
	Call(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error)
}

// Constructor is implemented by host functions usable with new.
type Constructor interface {
	Construct(ctx context.Context, in *Interpreter, args []Value) (Value, error)
}

// SpecialCallable receives the call-site metadata carried by CALL_SPECIAL.
// Callables that do not implement it are called normally.
type SpecialCallable interface {
	CallSpecial(ctx context.Context, in *Interpreter, this Value, args []Value, site SpecialSite) (Value, error)
}

// SpecialSite describes a CALL_SPECIAL call site.
type SpecialSite struct {
	Kind       int
	SourceName string
	Line       int
}

// Reference is a host-provided assignable location returned by a native
// invoked through REF_CALL.
type Reference interface {
	Get(ctx context.Context, in *Interpreter) (Value, error)
	Set(ctx context.Context, in *Interpreter, v Value) (Value, error)
}

// NativeFunc is the common shape of a host function.
type NativeFunc func(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error)

// Call implements Callable.
func (f NativeFunc) Call(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
	return f(ctx, in, this, args)
}

// Native pairs a call behaviour with an optional construct behaviour.
type Native struct {
	Name string
	Fn   NativeFunc
	New  NativeFunc // nil if not constructible; this is undefined
}

// Call implements Callable.
func (n *Native) Call(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
	return n.Fn(ctx, in, this, args)
}

// Construct implements Constructor.
func (n *Native) Construct(ctx context.Context, in *Interpreter, args []Value) (Value, error) {
	if n.New == nil {
		return Undefined, in.TypeError("%s is not a constructor", n.Name)
	}
	return n.New(ctx, in, Undefined, args)
}

// Function is the payload of an interpreted function object: a compiled
// unit closed over the scope it was created in.
type Function struct {
	Unit  *CompiledUnit
	Scope *Scope
}

// continuationCtor marks the host-exposed Continuation constructor. Calling
// it captures the calling frame chain.
type continuationCtor struct{}

// Arg returns args[i], or undefined if absent.
func Arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// isCallable reports whether o can be called.
func isCallable(o *Object) bool {
	if o == nil {
		return false
	}
	switch o.internal.(type) {
	case *Function, Callable, *Continuation, continuationCtor:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Function object creation
// ---------------------------------------------------------------------------

// NewFunction creates a function object for unit closed over scope.
func (in *Interpreter) NewFunction(unit *CompiledUnit, scope *Scope) *Object {
	fn := NewHostObject(classFunction, in.FunctionPrototype, &Function{Unit: unit, Scope: scope})
	proto := NewObject(in.ObjectPrototype)
	proto.Define("constructor", ObjectValue(fn), DontEnum)
	fn.Define("prototype", ObjectValue(proto), DontEnum|DontDelete)
	fn.Define("length", Int(unit.ParamCount), ReadOnly|DontEnum|DontDelete)
	fn.Define("name", String(unit.Name), ReadOnly|DontEnum|DontDelete)
	return fn
}

// NewNative creates a function object for a host callable.
func (in *Interpreter) NewNative(name string, c Callable) *Object {
	fn := NewHostObject(classFunction, in.FunctionPrototype, c)
	fn.Define("name", String(name), ReadOnly|DontEnum|DontDelete)
	return fn
}

// Define binds a host function in the global scope.
func (in *Interpreter) Define(name string, fn NativeFunc) *Object {
	obj := in.NewNative(name, fn)
	in.globalObj.Define(name, ObjectValue(obj), DontEnum)
	return obj
}
