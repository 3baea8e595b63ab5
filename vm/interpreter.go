package vm

import (
	"context"

	"github.com/charmbracelet/log"
)

// ---------------------------------------------------------------------------
// Interpreter: bytecode execution engine
// ---------------------------------------------------------------------------

// Default limits
const (
	DefaultMaxFrameDepth = 1000
	DefaultCheckInterval = 1024
)

// FrameObserver is notified as frames are entered and exited. resumed is
// true when a frame is re-entered by a generator resume or continuation
// restore.
type FrameObserver interface {
	EnterFrame(f *CallFrame, resumed bool)
	ExitFrame(f *CallFrame, result Value, err error)
	Debugger(f *CallFrame)
}

// Interpreter executes compiled units. It is single-threaded: an
// Interpreter must not be used from two goroutines at once.
type Interpreter struct {
	// Limits. Exceeding MaxFrameDepth raises a catchable RangeError;
	// exceeding InstructionLimit (0 = unlimited) is fatal. The context is
	// polled every CheckInterval instructions.
	MaxFrameDepth    int
	InstructionLimit int64
	CheckInterval    int

	ObjectPrototype    *Object
	FunctionPrototype  *Object
	ArrayPrototype     *Object
	ErrorPrototype     *Object
	GeneratorPrototype *Object

	globalObj *Object
	global    *Scope

	observer FrameObserver
	logger   *log.Logger

	steps   int64
	current *CallFrame // innermost frame that called out to host code
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithMaxFrameDepth sets the maximum frame chain depth.
func WithMaxFrameDepth(n int) Option {
	return func(in *Interpreter) { in.MaxFrameDepth = n }
}

// WithInstructionLimit sets the per-run instruction budget.
func WithInstructionLimit(n int64) Option {
	return func(in *Interpreter) { in.InstructionLimit = n }
}

// WithCheckInterval sets how often the context is polled.
func WithCheckInterval(n int) Option {
	return func(in *Interpreter) { in.CheckInterval = n }
}

// WithObserver installs a frame observer.
func WithObserver(o FrameObserver) Option {
	return func(in *Interpreter) { in.observer = o }
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(l *log.Logger) Option {
	return func(in *Interpreter) { in.logger = l }
}

// New creates an interpreter with a fresh global scope.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{
		MaxFrameDepth: DefaultMaxFrameDepth,
		CheckInterval: DefaultCheckInterval,
		logger:        log.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.CheckInterval <= 0 {
		in.CheckInterval = DefaultCheckInterval
	}

	in.ObjectPrototype = NewObject(nil)
	in.FunctionPrototype = NewObject(in.ObjectPrototype)
	in.ArrayPrototype = NewObject(in.ObjectPrototype)
	in.ErrorPrototype = NewObject(in.ObjectPrototype)
	in.ErrorPrototype.Define("name", String("Error"), DontEnum)
	in.ErrorPrototype.Define("message", String(""), DontEnum)
	in.GeneratorPrototype = NewObject(in.ObjectPrototype)

	in.globalObj = NewObject(in.ObjectPrototype)
	in.globalObj.class = classGlobal
	in.global = NewScope(nil, in.globalObj)

	in.installGeneratorMethods()
	in.globalObj.Define("Continuation",
		ObjectValue(NewHostObject(classFunction, in.FunctionPrototype, continuationCtor{})), DontEnum)
	return in
}

// Global returns the global scope.
func (in *Interpreter) Global() *Scope { return in.global }

// GlobalObject returns the object backing the global scope.
func (in *Interpreter) GlobalObject() *Object { return in.globalObj }

// Steps returns the number of instructions executed by the current or most
// recent top-level run.
func (in *Interpreter) Steps() int64 { return in.steps }

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Run executes unit with the given scope (the global scope if nil).
func (in *Interpreter) Run(ctx context.Context, unit *CompiledUnit, scope *Scope, this Value, args []Value) (Value, error) {
	if scope == nil {
		scope = in.global
	}
	f := in.newFrame(unit, nil, scope, this, args, nil)
	if err := in.checkDepth(f.index); err != nil {
		return Undefined, err
	}
	return in.execute(ctx, f)
}

// Call invokes fn with the given receiver and arguments.
func (in *Interpreter) Call(ctx context.Context, fn Value, this Value, args []Value) (Value, error) {
	o := fn.Object()
	if o == nil {
		return Undefined, in.TypeError("%s is not a function", fn)
	}
	switch impl := o.internal.(type) {
	case *Function:
		f := in.newFrame(impl.Unit, o, impl.Scope, this, args, nil)
		if err := in.checkDepth(f.index); err != nil {
			return Undefined, err
		}
		return in.execute(ctx, f)
	case *Continuation:
		return in.Restore(ctx, impl, Arg(args, 0))
	case continuationCtor:
		return Undefined, in.TypeError("Continuation must be called from script code")
	case Callable:
		return impl.Call(ctx, in, this, args)
	}
	return Undefined, in.TypeError("%s is not a function", fn)
}

// Construct invokes fn as a constructor.
func (in *Interpreter) Construct(ctx context.Context, fn Value, args []Value) (Value, error) {
	o := fn.Object()
	if o == nil {
		return Undefined, in.TypeError("%s is not a constructor", fn)
	}
	switch impl := o.internal.(type) {
	case *Function:
		obj, err := in.constructThis(ctx, fn)
		if err != nil {
			return Undefined, err
		}
		f := in.newFrame(impl.Unit, o, impl.Scope, ObjectValue(obj), args, nil)
		if err := in.checkDepth(f.index); err != nil {
			return Undefined, err
		}
		v, err := in.execute(ctx, f)
		if err != nil || v.IsObject() {
			return v, err
		}
		return ObjectValue(obj), nil
	case Constructor:
		return impl.Construct(ctx, in, args)
	}
	return Undefined, in.TypeError("%s is not a constructor", fn)
}

// constructThis allocates the receiver for new fn(...).
func (in *Interpreter) constructThis(ctx context.Context, fn Value) (*Object, error) {
	pv, err := in.GetProperty(ctx, fn, "prototype")
	if err != nil {
		return nil, err
	}
	proto := pv.Object()
	if proto == nil {
		proto = in.ObjectPrototype
	}
	return NewObject(proto), nil
}

// execute runs f as the root of a new execution.
func (in *Interpreter) execute(ctx context.Context, f *CallFrame) (Value, error) {
	x := in.newExecution(ctx, f)
	in.enterFrame(f, false)
	return x.run()
}

func (in *Interpreter) checkDepth(index int) error {
	if in.MaxFrameDepth > 0 && index >= in.MaxFrameDepth {
		return in.RangeError("maximum call depth %d exceeded", in.MaxFrameDepth)
	}
	return nil
}

func (in *Interpreter) enterFrame(f *CallFrame, resumed bool) {
	if in.observer != nil {
		in.observer.EnterFrame(f, resumed)
	}
}

func (in *Interpreter) exitFrame(f *CallFrame, result Value, err error) {
	if in.observer != nil {
		in.observer.ExitFrame(f, result, err)
	}
}
