package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op     Opcode
		name   string
		format OperandFormat
		effect int
	}{
		{OpNOP, "NOP", FmtNone, 0},
		{OpPOP, "POP", FmtNone, -1},
		{OpDUP2, "DUP2", FmtNone, 2},
		{OpShort, "SHORT", FmtShort, 1},
		{OpInt, "INT", FmtInt, 1},
		{OpSetVar, "SET_VAR", FmtIndex, 0},
		{OpSetLocal, "SET_LOCAL", FmtIndex, -1},
		{OpNameAndThis, "NAME_AND_THIS", FmtIndex, 2},
		{OpSetElem, "SET_ELEM", FmtNone, -2},
		{OpGoto, "GOTO", FmtJump, 0},
		{OpIfFalse, "IF_FALSE", FmtJump, -1},
		{OpGosub, "GOSUB", FmtGosub, 0},
		{OpCallSpecial, "CALL_SPECIAL", FmtSpecial, VariableEffect},
		{OpYield, "YIELD", FmtNone, 0},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.op, info.Name, tt.name)
		}
		if info.Format != tt.format {
			t.Errorf("%s: Format = %d, want %d", tt.op, info.Format, tt.format)
		}
		if info.StackEffect != tt.effect {
			t.Errorf("%s: StackEffect = %d, want %d", tt.op, info.StackEffect, tt.effect)
		}
	}
}

func TestTerminalOpcodes(t *testing.T) {
	for _, op := range []Opcode{OpGoto, OpRetsub, OpReturn, OpReturnUndef, OpReturnResult, OpThrow} {
		if !op.Info().Terminal {
			t.Errorf("%s should be terminal", op)
		}
	}
	for _, op := range []Opcode{OpIfTrue, OpGosub, OpCall, OpTailCall, OpYield} {
		if op.Info().Terminal {
			t.Errorf("%s should not be terminal", op)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xEE)
	if op.Valid() {
		t.Fatal("0xEE should not be a valid opcode")
	}
	if !strings.HasPrefix(op.String(), "UNKNOWN_") {
		t.Errorf("String() = %q, want UNKNOWN_ prefix", op.String())
	}
}

func TestCallEffect(t *testing.T) {
	tests := []struct {
		op   Opcode
		argc int
		want int
	}{
		{OpCall, 0, -1},
		{OpCall, 3, -4},
		{OpTailCall, 2, -3},
		{OpRefCall, 1, -2},
		{OpCallSpecial, 2, -3},
		{OpNew, 0, 0},
		{OpNew, 2, -2},
	}
	for _, tt := range tests {
		if got := CallEffect(tt.op, tt.argc); got != tt.want {
			t.Errorf("CallEffect(%s, %d) = %d, want %d", tt.op, tt.argc, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Encoding and decoding
// ---------------------------------------------------------------------------

func decodeAll(t *testing.T, u *CompiledUnit) []Instruction {
	t.Helper()
	var out []Instruction
	for pc := 0; pc < len(u.Code); {
		ins, err := DecodeAt(u, pc)
		if err != nil {
			t.Fatalf("DecodeAt(%d): %v", pc, err)
		}
		out = append(out, ins)
		pc += ins.Size
	}
	return out
}

func TestDecodeOperands(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitShort(OpShort, -300)
	b.EmitInt(OpInt, -100000)
	b.EmitIndex(OpGetLocal, 300)
	b.EmitSpecial(2, 7, 1234)
	b.Emit(OpReturnUndef)
	u := &CompiledUnit{Code: b.Bytes()}

	ins := decodeAll(t, u)
	if len(ins) != 5 {
		t.Fatalf("decoded %d instructions, want 5", len(ins))
	}
	checks := []struct {
		op   Opcode
		size int
		ops  []int
	}{
		{OpShort, 3, []int{-300}},
		{OpInt, 5, []int{-100000}},
		{OpGetLocal, 3, []int{300}}, // 300 needs two uvarint bytes
		{OpCallSpecial, 5, []int{2, 7, 1234}},
		{OpReturnUndef, 1, nil},
	}
	for i, c := range checks {
		got := ins[i]
		if got.Op != c.op || got.Size != c.size {
			t.Errorf("instruction %d = %s size %d, want %s size %d", i, got.Op, got.Size, c.op, c.size)
			continue
		}
		if len(got.Operands) != len(c.ops) {
			t.Errorf("%s: operands %v, want %v", got.Op, got.Operands, c.ops)
			continue
		}
		for j := range c.ops {
			if got.Operands[j] != c.ops[j] {
				t.Errorf("%s: operands %v, want %v", got.Op, got.Operands, c.ops)
			}
		}
	}
	if e := ins[3].Effect(); e != -3 {
		t.Errorf("CALL_SPECIAL argc 2 effect = %d, want -3", e)
	}
}

func TestDecodeTruncated(t *testing.T) {
	u := &CompiledUnit{Code: []byte{byte(OpInt), 1, 2}}
	if _, err := DecodeAt(u, 0); err == nil {
		t.Fatal("expected error for truncated INT")
	}
	u = &CompiledUnit{Code: []byte{0xEE}}
	if _, err := DecodeAt(u, 0); err == nil {
		t.Fatal("expected error for unknown opcode")
	}
}

func TestShortJump(t *testing.T) {
	b := NewBytecodeBuilder()
	lj := make(map[int]int)
	b.Emit(OpNOP)
	j := b.EmitJump(OpGoto)
	b.Emit(OpNOP)
	target := b.Len()
	b.Emit(OpReturnUndef)
	b.PatchJump(j, target, lj)

	if len(lj) != 0 {
		t.Errorf("short jump recorded %d long jumps", len(lj))
	}
	if got := JumpTarget(b.Bytes(), j, lj); got != target {
		t.Errorf("JumpTarget = %d, want %d", got, target)
	}
}

func TestLongJump(t *testing.T) {
	b := NewBytecodeBuilder()
	lj := make(map[int]int)
	j := b.EmitJump(OpGoto)
	for b.Len() < 40000 {
		b.Emit(OpNOP)
	}
	target := b.Len()
	b.Emit(OpReturnUndef)
	b.PatchJump(j, target, lj)

	if lj[j+1] != target {
		t.Fatalf("LongJumps[%d] = %d, want %d", j+1, lj[j+1], target)
	}
	if got := JumpTarget(b.Bytes(), j, lj); got != target {
		t.Errorf("JumpTarget = %d, want %d", got, target)
	}

	u := &CompiledUnit{Code: b.Bytes(), LongJumps: lj}
	ins, err := DecodeAt(u, j)
	if err != nil {
		t.Fatal(err)
	}
	if ins.Operands[0] != target {
		t.Errorf("decoded target = %d, want %d", ins.Operands[0], target)
	}
}

func TestSelfJumpUsesLongJump(t *testing.T) {
	b := NewBytecodeBuilder()
	lj := make(map[int]int)
	j := b.EmitJump(OpGoto)
	b.PatchJump(j, j, lj)
	if got, ok := lj[j+1]; !ok || got != j {
		t.Fatalf("self jump not recorded as long jump: %v", lj)
	}
	if got := JumpTarget(b.Bytes(), j, lj); got != j {
		t.Errorf("JumpTarget = %d, want %d", got, j)
	}
}

func TestGosubOperands(t *testing.T) {
	b := NewBytecodeBuilder()
	lj := make(map[int]int)
	g := b.EmitGosub(3)
	b.Emit(OpReturnUndef)
	target := b.Len()
	b.EmitIndex(OpRetsub, 3)
	b.PatchJump(g, target, lj)

	ins, err := DecodeAt(&CompiledUnit{Code: b.Bytes(), LongJumps: lj}, g)
	if err != nil {
		t.Fatal(err)
	}
	if ins.Operands[0] != target || ins.Operands[1] != 3 {
		t.Errorf("GOSUB operands = %v, want [%d 3]", ins.Operands, target)
	}
}

func TestDisassemble(t *testing.T) {
	u := finish(t, unitOf(func(b *BytecodeBuilder) {
		b.EmitShort(OpShort, 2)
		b.EmitIndex(OpString, 0)
		b.Emit(OpAdd)
		b.Emit(OpPopResult)
		b.Emit(OpReturnResult)
	}, "x"))
	out := Disassemble(u)
	for _, want := range []string{"SHORT", "STRING", "ADD", "RETURN_RESULT"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %s:\n%s", want, out)
		}
	}
}
