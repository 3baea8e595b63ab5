package vm

import (
	"context"
	"errors"
)

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

// ResumeOp selects how a suspended generator is resumed.
type ResumeOp uint8

const (
	ResumeSend  ResumeOp = iota // yield evaluates to the sent value
	ResumeThrow                 // the value is thrown at the yield
	ResumeClose                 // finally blocks run, then the generator ends
)

// Generator is a suspended generator body. Its frame is frozen between
// resumptions.
type Generator struct {
	frame   *CallFrame
	object  *Object
	running bool
	closing bool
	done    bool
}

// Object returns the script object wrapping the generator.
func (g *Generator) Object() *Object { return g.object }

// Done reports whether the generator has finished.
func (g *Generator) Done() bool { return g.done }

// GeneratorOf returns the generator wrapped by v.
func GeneratorOf(v Value) (*Generator, bool) {
	o := v.Object()
	if o == nil {
		return nil, false
	}
	g, ok := o.internal.(*Generator)
	return g, ok
}

type resumeRequest struct {
	op    ResumeOp
	value Value
}

// raise returns the error a throw or close request injects at the
// resumption point.
func (r *resumeRequest) raise(f *CallFrame) error {
	switch r.op {
	case ResumeThrow:
		return &ScriptError{Value: r.value}
	case ResumeClose:
		return &GeneratorClosing{gen: f.generator}
	}
	return nil
}

// newGenerator freezes f at its GENERATOR instruction and detaches it from
// the caller.
func (in *Interpreter) newGenerator(f *CallFrame) *Generator {
	g := &Generator{frame: f}
	g.object = NewHostObject(classGenerator, in.GeneratorPrototype, g)
	f.generator = g
	f.frozen = true
	f.parent = nil
	f.index = 0
	return g
}

// Resume continues g. It returns the next yielded value, or the return
// value once g finishes.
func (in *Interpreter) Resume(ctx context.Context, g *Generator, op ResumeOp, v Value) (Value, error) {
	if g.running {
		return Undefined, in.TypeError("generator is already running")
	}
	if g.done {
		switch op {
		case ResumeClose:
			return Undefined, nil
		case ResumeThrow:
			return Undefined, &ScriptError{Value: v}
		}
		return Undefined, in.Throw("StopIteration", "generator has already finished")
	}

	f := g.frame.cloneFrozen()
	f.resume = &resumeRequest{op: op, value: v}
	if in.current != nil {
		f.index = in.current.index + 1
	} else {
		f.index = 0
	}
	if op == ResumeClose {
		g.closing = true
	}
	g.running = true
	defer func() { g.running = false }()

	in.logger.Debug("generator resumed", "unit", f.unit.DisplayName(), "op", op)
	x := in.newExecution(ctx, f)
	in.enterFrame(f, true)
	result, err := x.run()
	if x.suspended {
		return result, nil
	}

	g.done = true
	g.frame = nil
	if err != nil {
		var closing *GeneratorClosing
		if errors.As(err, &closing) && closing.gen == g {
			return Undefined, nil
		}
		return Undefined, err
	}
	return result, nil
}

// installGeneratorMethods defines next, send, throw and close on the
// generator prototype. Each returns a {value, done} object.
func (in *Interpreter) installGeneratorMethods() {
	method := func(name string, op ResumeOp) {
		fn := NativeFunc(func(ctx context.Context, in *Interpreter, this Value, args []Value) (Value, error) {
			g, ok := GeneratorOf(this)
			if !ok {
				return Undefined, in.TypeError("%s called on incompatible receiver %s", name, this)
			}
			v, err := in.Resume(ctx, g, op, Arg(args, 0))
			if err != nil {
				return Undefined, err
			}
			return ObjectValue(in.iterResult(v, g.done)), nil
		})
		in.GeneratorPrototype.Define(name, ObjectValue(in.NewNative(name, fn)), DontEnum)
	}
	method("next", ResumeSend)
	method("send", ResumeSend)
	method("throw", ResumeThrow)
	method("close", ResumeClose)
}

func (in *Interpreter) iterResult(v Value, done bool) *Object {
	o := NewObject(in.ObjectPrototype)
	o.Define("value", v, 0)
	o.Define("done", Bool(done), 0)
	return o
}
