package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInstructionLimit is wrapped in a FatalError when a run exceeds its
// instruction budget.
var ErrInstructionLimit = errors.New("instruction limit exceeded")

// TraceEntry is one frame of a script stack trace.
type TraceEntry struct {
	Unit     string
	Function string
	Line     int
	PC       int
}

func (e TraceEntry) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("at %s (%s:%d)", e.Function, e.Unit, e.Line)
	}
	return fmt.Sprintf("at %s (%s pc %d)", e.Function, e.Unit, e.PC)
}

// ScriptError is a catchable exception thrown by script code or raised by
// the interpreter (TypeError, RangeError, ReferenceError).
type ScriptError struct {
	Value Value
	Trace []TraceEntry
}

func (e *ScriptError) Error() string {
	if o := e.Value.Object(); o != nil && o.class == classError {
		return errorSummary(o)
	}
	return "uncaught exception: " + e.Value.String()
}

// ScriptStack renders the trace, innermost frame first.
func (e *ScriptError) ScriptStack() string {
	return formatTrace(e.Trace)
}

// HostError wraps an error returned by host code once it escapes the
// interpreter. Host errors run finally blocks but are never caught.
type HostError struct {
	Err   error
	Trace []TraceEntry
}

func (e *HostError) Error() string { return "host error: " + e.Err.Error() }
func (e *HostError) Unwrap() error { return e.Err }

// ScriptStack renders the trace, innermost frame first.
func (e *HostError) ScriptStack() string {
	return formatTrace(e.Trace)
}

// FatalError aborts execution without running catch or finally blocks.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// GeneratorClosing is raised inside a generator being closed. It runs
// finally blocks, is invisible to catch, and is swallowed when it escapes
// the generator.
type GeneratorClosing struct {
	gen *Generator
}

func (e *GeneratorClosing) Error() string { return "generator closing" }

func formatTrace(trace []TraceEntry) string {
	var sb strings.Builder
	for _, t := range trace {
		sb.WriteString("\t")
		sb.WriteString(t.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Error objects
// ---------------------------------------------------------------------------

// NewError creates an error object with the given name and message.
func (in *Interpreter) NewError(name, message string) *Object {
	o := NewObject(in.ErrorPrototype)
	o.class = classError
	o.Define("name", String(name), DontEnum)
	o.Define("message", String(message), DontEnum)
	return o
}

// Throw returns a ScriptError carrying a new error object.
func (in *Interpreter) Throw(name, format string, args ...any) error {
	return &ScriptError{Value: ObjectValue(in.NewError(name, fmt.Sprintf(format, args...)))}
}

func (in *Interpreter) TypeError(format string, args ...any) error {
	return in.Throw("TypeError", format, args...)
}

func (in *Interpreter) RangeError(format string, args ...any) error {
	return in.Throw("RangeError", format, args...)
}

func (in *Interpreter) ReferenceError(format string, args ...any) error {
	return in.Throw("ReferenceError", format, args...)
}

func errorSummary(o *Object) string {
	name := o.Get("name")
	msg := o.Get("message")
	switch {
	case msg.IsString() && msg.Str() != "":
		return name.String() + ": " + msg.Str()
	default:
		return name.String()
	}
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// exState says which handlers may see an error.
type exState uint8

const (
	exCatch   exState = iota // catch and finally
	exFinally                // finally only
	exFatal                  // no handlers
)

func classify(err error) exState {
	switch err.(type) {
	case *ScriptError:
		return exCatch
	case *FatalError:
		return exFatal
	default:
		return exFinally
	}
}

// annotate appends a trace entry for f to errors that carry a trace.
func annotate(err error, f *CallFrame) error {
	switch e := err.(type) {
	case *ScriptError:
		e.Trace = append(e.Trace, f.traceEntry())
	case *HostError:
		e.Trace = append(e.Trace, f.traceEntry())
	}
	return err
}
