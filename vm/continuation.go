package vm

import "context"

// ---------------------------------------------------------------------------
// Continuations
// ---------------------------------------------------------------------------

// Continuation is an immutable snapshot of a frame chain, captured by the
// script-visible Continuation constructor. It may be restored any number
// of times.
type Continuation struct {
	frame  *CallFrame
	object *Object
}

// Object returns the callable script object wrapping the continuation.
func (k *Continuation) Object() *Object { return k.object }

// ContinuationOf returns the continuation wrapped by v.
func ContinuationOf(v Value) (*Continuation, bool) {
	o := v.Object()
	if o == nil {
		return nil, false
	}
	k, ok := o.internal.(*Continuation)
	return k, ok
}

// continuationJump unwinds to the frame shared by the live chain and the
// captured chain, then resumes the captured leaf with result as the value
// of its pending call. It runs finally blocks but is invisible to catch.
type continuationJump struct {
	captured *CallFrame
	branch   *CallFrame
	result   Value
}

func (j *continuationJump) Error() string { return "continuation jump" }

// capture freezes f and its unfrozen ancestors and continues on a clone of
// f with the new continuation object as the call result. base is the stack
// slot the result goes to.
func (x *execution) capture(f *CallFrame, base int) error {
	f.savedStackTop = base
	f.savedCallKind = callNormal
	for y := f; y != nil && !y.frozen; y = y.parent {
		y.freeze()
	}
	k := &Continuation{frame: f}
	k.object = NewHostObject("Continuation", x.in.FunctionPrototype, k)
	x.in.logger.Debug("continuation captured", "unit", f.unit.DisplayName(), "depth", f.index)

	live := f.cloneFrozen()
	live.setCallResult(ObjectValue(k.object))
	x.frame = live
	return nil
}

// jumpTo starts restoring k from the live frame f.
func (x *execution) jumpTo(k *Continuation, f *CallFrame, v Value) error {
	return &continuationJump{captured: k.frame, branch: branchFrame(k.frame, f), result: v}
}

// branchFrame returns the deepest frame shared by the chains of a and b,
// or nil if they share none.
func branchFrame(a, b *CallFrame) *CallFrame {
	if a == nil || b == nil {
		return nil
	}
	for a.index > b.index {
		if a = a.parent; a == nil {
			return nil
		}
	}
	for b.index > a.index {
		if b = b.parent; b == nil {
			return nil
		}
	}
	for a != b {
		a, b = a.parent, b.parent
		if a == nil || b == nil {
			return nil
		}
	}
	return a
}

// enterContinuation re-enters the captured frames below the branch and
// resumes on a clone of the captured leaf.
func (x *execution) enterContinuation(j *continuationJump) {
	in := x.in
	if in.observer != nil {
		var chain []*CallFrame
		for y := j.captured; y != nil && y != j.branch; y = y.parent {
			chain = append(chain, y)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			in.enterFrame(chain[i], true)
		}
	}
	live := j.captured.cloneFrozen()
	live.setCallResult(j.result)
	x.frame = live
	in.logger.Debug("continuation restored", "unit", live.unit.DisplayName(), "depth", live.index)
}

// Restore resumes k from host code with v as the result of the call that
// captured it. The restored chain runs to completion and its root result
// is returned.
func (in *Interpreter) Restore(ctx context.Context, k *Continuation, v Value) (Value, error) {
	x := in.newExecution(ctx, nil)
	x.enterContinuation(&continuationJump{captured: k.frame, result: v})
	return x.run()
}
