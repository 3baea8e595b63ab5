package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// ErrVerify is wrapped by every verification failure.
var ErrVerify = errors.New("verify")

// Analysis is the sizing of a unit recomputed from its code.
type Analysis struct {
	MaxStack   int
	MaxLocals  int
	MaxVarSlot int // highest variable slot referenced, -1 if none
	Starts     map[int]bool
}

func verifyErr(u *CompiledUnit, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrVerify, u.DisplayName(), fmt.Sprintf(format, args...))
}

// Analyze decodes u and recomputes its stack and local usage by abstract
// interpretation of stack depth. Every jump target and handler must be an
// instruction start and every path must agree on the depth at each
// instruction.
func Analyze(u *CompiledUnit) (*Analysis, error) {
	a := &Analysis{MaxVarSlot: -1, Starts: make(map[int]bool)}
	var order []Instruction
	byPos := make(map[int]Instruction)
	for pc := 0; pc < len(u.Code); {
		ins, err := DecodeAt(u, pc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrVerify, u.DisplayName(), err)
		}
		a.Starts[pc] = true
		order = append(order, ins)
		byPos[pc] = ins
		pc += ins.Size
	}

	for _, ins := range order {
		switch ins.Op {
		case OpGetLocal, OpSetLocal, OpScopeSave, OpRetsub, OpEnumInit, OpEnumNext, OpEnumID:
			a.MaxLocals = max(a.MaxLocals, ins.Operands[0]+1)
		case OpGosub:
			a.MaxLocals = max(a.MaxLocals, ins.Operands[1]+1)
		case OpGetVar, OpSetVar, OpSetConstVar:
			a.MaxVarSlot = max(a.MaxVarSlot, ins.Operands[0])
		case OpString, OpName, OpSetName, OpInitConstName, OpDelName, OpTypeofName,
			OpNameAndThis, OpGetProp, OpSetProp, OpPropAndThis:
			if ins.Operands[0] >= len(u.Strings) {
				return nil, verifyErr(u, "string index %d out of range at %d", ins.Operands[0], ins.Pos)
			}
		case OpNumber:
			if ins.Operands[0] >= len(u.Doubles) {
				return nil, verifyErr(u, "double index %d out of range at %d", ins.Operands[0], ins.Pos)
			}
		case OpClosure:
			if ins.Operands[0] >= len(u.Nested) {
				return nil, verifyErr(u, "nested unit %d out of range at %d", ins.Operands[0], ins.Pos)
			}
		case OpArrayLit, OpObjectLit:
			if ins.Operands[0] >= len(u.Literals) {
				return nil, verifyErr(u, "literal %d out of range at %d", ins.Operands[0], ins.Pos)
			}
		}
		if ins.Op.IsJump() && !a.Starts[ins.Operands[0]] {
			return nil, verifyErr(u, "%s at %d targets %d, not an instruction start", ins.Op, ins.Pos, ins.Operands[0])
		}
	}

	ends := make(map[int]bool)
	for i, r := range u.Exceptions {
		switch {
		case r.TryStart >= r.TryEnd:
			return nil, verifyErr(u, "exception record %d has empty interval [%d,%d)", i, r.TryStart, r.TryEnd)
		case !a.Starts[r.TryStart] || !a.Starts[r.HandlerPC]:
			return nil, verifyErr(u, "exception record %d does not start at an instruction", i)
		case r.TryEnd != len(u.Code) && !a.Starts[r.TryEnd]:
			return nil, verifyErr(u, "exception record %d does not end at an instruction", i)
		case ends[r.TryEnd]:
			return nil, verifyErr(u, "exception records share end offset %d", r.TryEnd)
		}
		ends[r.TryEnd] = true
		a.MaxLocals = max(a.MaxLocals, r.ExceptionSlot+1, r.ScopeSlot+1)
	}

	depth := make(map[int]int, len(order))
	type item struct{ pc, d int }
	var work []item
	seed := func(pc, d int) error {
		if old, ok := depth[pc]; ok {
			if old != d {
				return verifyErr(u, "stack depth mismatch at %d: %d vs %d", pc, old, d)
			}
			return nil
		}
		depth[pc] = d
		work = append(work, item{pc, d})
		return nil
	}
	drain := func() error {
		for len(work) > 0 {
			it := work[len(work)-1]
			work = work[:len(work)-1]
			ins := byPos[it.pc]
			d := it.d + ins.Effect()
			if d < 0 {
				return verifyErr(u, "stack underflow at %d (%s)", ins.Pos, ins.Op)
			}
			a.MaxStack = max(a.MaxStack, d)
			if ins.Op.IsJump() {
				if err := seed(ins.Operands[0], d); err != nil {
					return err
				}
			}
			if ins.Op.Info().Terminal {
				continue
			}
			next := ins.Pos + ins.Size
			if next >= len(u.Code) {
				return verifyErr(u, "control falls off the end after %d (%s)", ins.Pos, ins.Op)
			}
			if err := seed(next, d); err != nil {
				return err
			}
		}
		return nil
	}

	if len(order) > 0 {
		if err := seed(0, 0); err != nil {
			return nil, err
		}
	}
	for _, r := range u.Exceptions {
		if err := seed(r.HandlerPC, 0); err != nil {
			return nil, err
		}
	}
	if err := drain(); err != nil {
		return nil, err
	}
	// Unreachable code is still checked, from an empty stack.
	for _, ins := range order {
		if _, ok := depth[ins.Pos]; !ok {
			if err := seed(ins.Pos, 0); err != nil {
				return nil, err
			}
			if err := drain(); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// Verify checks u and its nested units: the recomputed stack and local
// usage must equal the declared sizing, variable slots must be in range,
// and the exception table must be well formed.
func Verify(u *CompiledUnit) error {
	a, err := Analyze(u)
	if err != nil {
		return err
	}
	if a.MaxStack != u.MaxStack {
		return verifyErr(u, "MaxStack is %d, code needs %d", u.MaxStack, a.MaxStack)
	}
	if a.MaxLocals != u.MaxLocals {
		return verifyErr(u, "MaxLocals is %d, code needs %d", u.MaxLocals, a.MaxLocals)
	}
	if a.MaxVarSlot >= u.MaxVars {
		return verifyErr(u, "variable slot %d out of range (MaxVars %d)", a.MaxVarSlot, u.MaxVars)
	}
	for _, n := range u.Nested {
		if err := Verify(n); err != nil {
			return err
		}
	}
	return nil
}
