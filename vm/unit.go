package vm

import "fmt"

// ---------------------------------------------------------------------------
// CompiledUnit: bytecode for one script or function body
// ---------------------------------------------------------------------------

// CompiledUnit is the output of compiling a script or function body. It is
// immutable once compiled and may be shared by any number of function
// objects and frames.
type CompiledUnit struct {
	// Identity
	Name            string
	SourceName      string
	IsFunction      bool // false for top-level scripts
	IsGenerator     bool
	NeedsActivation bool // variables live in a scope object, not slots

	// Signature. VarNames lists params first, then declared variables.
	ParamCount int
	VarNames   []string
	VarConst   []bool

	// Code and constant pools
	Code       []byte
	Strings    []string
	Doubles    []float64
	Exceptions []ExceptionRecord
	LongJumps  map[int]int // operand offset -> absolute target
	Nested     []*CompiledUnit
	Literals   []LiteralInfo

	// Frame sizing. A frame has exactly MaxVars+MaxLocals+MaxStack slots.
	MaxVars       int
	MaxLocals     int
	MaxStack      int
	MaxCalleeArgs int

	// Debugging support
	DebugInfo   bool
	FirstLinePC int // pc of the first LINE marker, -1 if none
}

// HandlerKind distinguishes catch and finally handlers.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFinally
)

func (k HandlerKind) String() string {
	if k == HandlerFinally {
		return "finally"
	}
	return "catch"
}

// ExceptionRecord describes one guarded interval [TryStart, TryEnd).
// ExceptionSlot and ScopeSlot index the locals region of the frame.
type ExceptionRecord struct {
	TryStart      int
	TryEnd        int
	HandlerPC     int
	Kind          HandlerKind
	ExceptionSlot int
	ScopeSlot     int
}

// Covers reports whether pc lies in the guarded interval.
func (r ExceptionRecord) Covers(pc int) bool {
	return r.TryStart <= pc && pc < r.TryEnd
}

// LiteralKind says how a literal element is installed.
type LiteralKind uint8

const (
	LiteralValue LiteralKind = iota
	LiteralGetter
	LiteralSetter
)

// LiteralInfo describes an array or object literal. Object literals list
// their keys and kinds; sparse arrays list the indexes of their holes.
type LiteralInfo struct {
	Keys   []string
	Kinds  []LiteralKind
	Length int
	Skip   []int
}

// FrameSize returns the number of value slots a frame for u needs.
func (u *CompiledUnit) FrameSize() int {
	return u.MaxVars + u.MaxLocals + u.MaxStack
}

// DisplayName returns a name suitable for traces.
func (u *CompiledUnit) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.IsFunction:
		return "<anonymous>"
	default:
		return "<script>"
	}
}

func (u *CompiledUnit) String() string {
	return fmt.Sprintf("%s (%s)", u.DisplayName(), u.SourceName)
}
