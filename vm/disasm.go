package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// DisassembleInstruction formats ins, resolving constant-pool operands
// against u.
func DisassembleInstruction(u *CompiledUnit, ins Instruction) string {
	name := ins.Op.Name()
	switch ins.Op {
	case OpString, OpName, OpSetName, OpInitConstName, OpDelName, OpTypeofName,
		OpNameAndThis, OpGetProp, OpSetProp, OpPropAndThis:
		idx := ins.Operands[0]
		if idx < len(u.Strings) {
			return fmt.Sprintf("%04d  %s %d %s", ins.Pos, name, idx, strconv.Quote(u.Strings[idx]))
		}
	case OpNumber:
		idx := ins.Operands[0]
		if idx < len(u.Doubles) {
			return fmt.Sprintf("%04d  %s %d (%s)", ins.Pos, name, idx, NumberToString(u.Doubles[idx]))
		}
	case OpGetVar, OpSetVar, OpSetConstVar:
		slot := ins.Operands[0]
		if slot < len(u.VarNames) {
			return fmt.Sprintf("%04d  %s %d %s", ins.Pos, name, slot, u.VarNames[slot])
		}
	case OpGoto, OpIfTrue, OpIfFalse:
		return fmt.Sprintf("%04d  %s -> %04d", ins.Pos, name, ins.Operands[0])
	case OpGosub:
		return fmt.Sprintf("%04d  %s -> %04d local %d", ins.Pos, name, ins.Operands[0], ins.Operands[1])
	case OpCallSpecial:
		return fmt.Sprintf("%04d  %s argc=%d kind=%d line=%d", ins.Pos, name, ins.Operands[0], ins.Operands[1], ins.Operands[2])
	}
	if len(ins.Operands) == 0 {
		return fmt.Sprintf("%04d  %s", ins.Pos, name)
	}
	return fmt.Sprintf("%04d  %s %d", ins.Pos, name, ins.Operands[0])
}

// Disassemble returns a listing of u and its nested units.
func Disassemble(u *CompiledUnit) string {
	var sb strings.Builder
	disassembleUnit(&sb, u, "")
	return sb.String()
}

func disassembleUnit(sb *strings.Builder, u *CompiledUnit, indent string) {
	kind := "script"
	if u.IsFunction {
		kind = "function"
	}
	if u.IsGenerator {
		kind = "generator"
	}
	fmt.Fprintf(sb, "%s%s %s  vars=%d locals=%d stack=%d\n",
		indent, kind, u.DisplayName(), u.MaxVars, u.MaxLocals, u.MaxStack)
	for pc := 0; pc < len(u.Code); {
		ins, err := DecodeAt(u, pc)
		if err != nil {
			fmt.Fprintf(sb, "%s%04d  <%v>\n", indent, pc, err)
			break
		}
		sb.WriteString(indent)
		sb.WriteString(DisassembleInstruction(u, ins))
		sb.WriteByte('\n')
		pc += ins.Size
	}
	for _, r := range u.Exceptions {
		fmt.Fprintf(sb, "%s  %s [%04d, %04d) -> %04d exc=%d scope=%d\n",
			indent, r.Kind, r.TryStart, r.TryEnd, r.HandlerPC, r.ExceptionSlot, r.ScopeSlot)
	}
	for _, n := range u.Nested {
		disassembleUnit(sb, n, indent+"  ")
	}
}
