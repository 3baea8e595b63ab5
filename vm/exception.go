package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Exception dispatch
// ---------------------------------------------------------------------------

// handle routes err raised in x.frame to the innermost handler allowed to
// see it, unwinding frames as needed. It reports false when the error
// escapes the execution; x.escaped then holds it.
func (x *execution) handle(err error) bool {
	in := x.in
	err = wrapHost(err)
	state := classify(err)
	cj, _ := err.(*continuationJump)

	f := x.frame
	for f != nil {
		if state != exFatal {
			if r := findHandler(f, state == exFinally); r != nil {
				enterHandler(f, r, err)
				x.frame = f
				return true
			}
		}
		err = annotate(err, f)
		in.exitFrame(f, Undefined, err)

		parent := f.parent
		if parent == nil {
			break
		}
		if cj != nil && parent == cj.branch {
			x.enterContinuation(cj)
			return true
		}
		if parent.frozen {
			parent = parent.cloneFrozen()
		}
		f = parent
	}

	x.frame = nil
	if cj != nil {
		x.enterContinuation(cj)
		return true
	}
	x.escaped = err
	in.logger.Debug("error escaped", "err", err)
	return false
}

// wrapHost reduces err to one of the interpreter's own error types. An
// interpreter error wrapped by a native keeps its class, with fatal errors
// taking precedence; anything else becomes a HostError.
func wrapHost(err error) error {
	var (
		fe *FatalError
		cj *continuationJump
		gc *GeneratorClosing
		se *ScriptError
		he *HostError
	)
	switch {
	case errors.As(err, &fe):
		return fe
	case errors.As(err, &cj):
		return cj
	case errors.As(err, &gc):
		return gc
	case errors.As(err, &se):
		return se
	case errors.As(err, &he):
		return he
	}
	return &HostError{Err: err}
}

// findHandler returns the innermost exception record covering the
// instruction before f.pc, or nil.
func findHandler(f *CallFrame, finallyOnly bool) *ExceptionRecord {
	pc := f.pc - 1
	var best *ExceptionRecord
	for i := range f.unit.Exceptions {
		r := &f.unit.Exceptions[i]
		if !r.Covers(pc) || (finallyOnly && r.Kind != HandlerFinally) {
			continue
		}
		if best != nil {
			if best.TryEnd < r.TryEnd {
				continue
			}
			if best.TryStart > r.TryStart || best.TryEnd == r.TryEnd {
				panic(fmt.Sprintf("%s: exception records [%d,%d) and [%d,%d) do not nest",
					f.unit.DisplayName(), best.TryStart, best.TryEnd, r.TryStart, r.TryEnd))
			}
		}
		best = r
	}
	return best
}

// enterHandler transfers control to r's handler with an empty stack.
// Catch handlers receive the thrown value; finally handlers receive the
// pending error, which RETSUB rethrows.
func enterHandler(f *CallFrame, r *ExceptionRecord, err error) {
	f.sp = f.stackBase()
	if r.Kind == HandlerCatch {
		*f.local(r.ExceptionSlot) = err.(*ScriptError).Value
	} else {
		*f.local(r.ExceptionSlot) = throwableValue(err)
	}
	if s, ok := f.local(r.ScopeSlot).ref.(*Scope); ok {
		f.scope = s
	}
	f.pc = r.HandlerPC
}
