package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNOP       Opcode = 0x00 // no operation
	OpPOP       Opcode = 0x01 // discard top of stack
	OpPopResult Opcode = 0x02 // pop into the frame result
	OpDUP       Opcode = 0x03 // duplicate top of stack
	OpDUP2      Opcode = 0x04 // duplicate top two values
	OpSWAP      Opcode = 0x05 // swap top two values
)

// Push Constants
const (
	OpUndefined Opcode = 0x10 // push undefined
	OpNull      Opcode = 0x11 // push null
	OpTrue      Opcode = 0x12 // push true
	OpFalse     Opcode = 0x13 // push false
	OpThis      Opcode = 0x14 // push this
	OpZero      Opcode = 0x15 // push 0
	OpOne       Opcode = 0x16 // push 1
	OpShort     Opcode = 0x17 // push 16-bit signed integer
	OpInt       Opcode = 0x18 // push 32-bit signed integer
	OpNumber    Opcode = 0x19 // push double from the double table
	OpString    Opcode = 0x1A // push string from the string table
)

// Variable Operations
const (
	OpGetVar        Opcode = 0x20 // push variable slot
	OpSetVar        Opcode = 0x21 // store top into variable slot
	OpSetConstVar   Opcode = 0x22 // initialise const variable slot
	OpGetLocal      Opcode = 0x23 // push compiler temporary
	OpSetLocal      Opcode = 0x24 // pop into compiler temporary
	OpName          Opcode = 0x25 // push scope binding by name
	OpSetName       Opcode = 0x26 // store top into scope binding by name
	OpInitConstName Opcode = 0x27 // define read-only binding in the current scope
	OpDelName       Opcode = 0x28 // delete scope binding, push result
	OpTypeofName    Opcode = 0x29 // typeof of a possibly unbound name
	OpNameAndThis   Opcode = 0x2A // push function and this for a named call
	OpScopeSave     Opcode = 0x2B // save current scope into a temporary
)

// Property Operations
const (
	OpGetProp      Opcode = 0x30 // obj -> obj.name
	OpSetProp      Opcode = 0x31 // obj value -> value
	OpGetElem      Opcode = 0x32 // obj key -> obj[key]
	OpSetElem      Opcode = 0x33 // obj key value -> value
	OpDelProp      Opcode = 0x34 // obj key -> bool
	OpPropAndThis  Opcode = 0x35 // obj -> fn this
	OpElemAndThis  Opcode = 0x36 // obj key -> fn this
	OpValueAndThis Opcode = 0x37 // fn -> fn undefined
	OpIn           Opcode = 0x38 // key obj -> bool
	OpInstanceOf   Opcode = 0x39 // value ctor -> bool
	OpRefGet       Opcode = 0x3A // ref -> value
	OpRefSet       Opcode = 0x3B // ref value -> value
)

// Arithmetic
const (
	OpAdd    Opcode = 0x40
	OpSub    Opcode = 0x41
	OpMul    Opcode = 0x42
	OpDiv    Opcode = 0x43
	OpMod    Opcode = 0x44
	OpNeg    Opcode = 0x45
	OpPos    Opcode = 0x46 // ToNumber
	OpBitNot Opcode = 0x47
	OpNot    Opcode = 0x48
	OpTypeof Opcode = 0x49
	OpBitAnd Opcode = 0x4A
	OpBitOr  Opcode = 0x4B
	OpBitXor Opcode = 0x4C
	OpLsh    Opcode = 0x4D
	OpRsh    Opcode = 0x4E
	OpURsh   Opcode = 0x4F
)

// Comparison
const (
	OpEQ   Opcode = 0x50
	OpNE   Opcode = 0x51
	OpSHEQ Opcode = 0x52 // strict equality
	OpSHNE Opcode = 0x53
	OpLT   Opcode = 0x54
	OpLE   Opcode = 0x55
	OpGT   Opcode = 0x56
	OpGE   Opcode = 0x57
)

// Control Flow
const (
	OpGoto    Opcode = 0x60 // unconditional jump (16-bit offset)
	OpIfTrue  Opcode = 0x61 // pop, jump if truthy
	OpIfFalse Opcode = 0x62 // pop, jump if falsy
	OpGosub   Opcode = 0x63 // enter finally subroutine (16-bit offset, local slot)
	OpRetsub  Opcode = 0x64 // leave finally subroutine (local slot)
)

// Calls
const (
	OpCall        Opcode = 0x70 // fn this args... -> result
	OpTailCall    Opcode = 0x71 // call in return position
	OpCallSpecial Opcode = 0x72 // call carrying special-kind and line metadata
	OpNew         Opcode = 0x73 // fn args... -> object
	OpRefCall     Opcode = 0x74 // fn this args... -> reference
	OpClosure     Opcode = 0x75 // push function object for nested unit
)

// Returns and exceptions
const (
	OpReturn       Opcode = 0x80 // return top of stack
	OpReturnUndef  Opcode = 0x81 // return undefined
	OpReturnResult Opcode = 0x82 // return frame result
	OpThrow        Opcode = 0x83 // throw top of stack
	OpEnterWith    Opcode = 0x88 // obj -> (scope := with(obj))
	OpLeaveWith    Opcode = 0x89 // restore enclosing scope
)

// Enumeration
const (
	OpEnumInit Opcode = 0x90 // obj -> (enumerator into temporary)
	OpEnumNext Opcode = 0x91 // push whether another key is available
	OpEnumID   Opcode = 0x92 // push current key
)

// Literals
const (
	OpNewArray      Opcode = 0xA0 // allocate array literal builder
	OpNewObject     Opcode = 0xA1 // allocate object literal builder
	OpLiteralSet    Opcode = 0xA2 // builder value -> builder
	OpLiteralGetter Opcode = 0xA3 // builder fn -> builder
	OpLiteralSetter Opcode = 0xA4 // builder fn -> builder
	OpArrayLit      Opcode = 0xA5 // builder -> array
	OpObjectLit     Opcode = 0xA6 // builder -> object
)

// Generators
const (
	OpGenerator Opcode = 0xB0 // generator entry point
	OpYield     Opcode = 0xB1 // value -> sent value
)

// Debugging
const (
	OpLine     Opcode = 0xF0 // source line marker
	OpDebugger Opcode = 0xF1 // debugger statement
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandFormat describes the operand bytes following an opcode.
type OperandFormat uint8

const (
	FmtNone    OperandFormat = iota
	FmtJump                  // int16 offset relative to the opcode
	FmtGosub                 // int16 offset, uvarint local slot
	FmtIndex                 // one uvarint
	FmtShort                 // int16 immediate
	FmtInt                   // int32 immediate
	FmtSpecial               // uvarint argc, uvarint kind, uvarint line
)

// VariableEffect marks opcodes whose stack effect depends on argc.
const VariableEffect = math.MinInt32

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string        // human-readable name
	Format      OperandFormat // operand layout
	StackEffect int           // net effect on stack (VariableEffect = depends on argc)
	Terminal    bool          // control never falls through
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP:       {"NOP", FmtNone, 0, false},
	OpPOP:       {"POP", FmtNone, -1, false},
	OpPopResult: {"POP_RESULT", FmtNone, -1, false},
	OpDUP:       {"DUP", FmtNone, 1, false},
	OpDUP2:      {"DUP2", FmtNone, 2, false},
	OpSWAP:      {"SWAP", FmtNone, 0, false},

	OpUndefined: {"UNDEFINED", FmtNone, 1, false},
	OpNull:      {"NULL", FmtNone, 1, false},
	OpTrue:      {"TRUE", FmtNone, 1, false},
	OpFalse:     {"FALSE", FmtNone, 1, false},
	OpThis:      {"THIS", FmtNone, 1, false},
	OpZero:      {"ZERO", FmtNone, 1, false},
	OpOne:       {"ONE", FmtNone, 1, false},
	OpShort:     {"SHORT", FmtShort, 1, false},
	OpInt:       {"INT", FmtInt, 1, false},
	OpNumber:    {"NUMBER", FmtIndex, 1, false},
	OpString:    {"STRING", FmtIndex, 1, false},

	OpGetVar:        {"GET_VAR", FmtIndex, 1, false},
	OpSetVar:        {"SET_VAR", FmtIndex, 0, false},
	OpSetConstVar:   {"SET_CONST_VAR", FmtIndex, 0, false},
	OpGetLocal:      {"GET_LOCAL", FmtIndex, 1, false},
	OpSetLocal:      {"SET_LOCAL", FmtIndex, -1, false},
	OpName:          {"NAME", FmtIndex, 1, false},
	OpSetName:       {"SET_NAME", FmtIndex, 0, false},
	OpInitConstName: {"INIT_CONST_NAME", FmtIndex, 0, false},
	OpDelName:       {"DEL_NAME", FmtIndex, 1, false},
	OpTypeofName:    {"TYPEOF_NAME", FmtIndex, 1, false},
	OpNameAndThis:   {"NAME_AND_THIS", FmtIndex, 2, false},
	OpScopeSave:     {"SCOPE_SAVE", FmtIndex, 0, false},

	OpGetProp:      {"GET_PROP", FmtIndex, 0, false},
	OpSetProp:      {"SET_PROP", FmtIndex, -1, false},
	OpGetElem:      {"GET_ELEM", FmtNone, -1, false},
	OpSetElem:      {"SET_ELEM", FmtNone, -2, false},
	OpDelProp:      {"DEL_PROP", FmtNone, -1, false},
	OpPropAndThis:  {"PROP_AND_THIS", FmtIndex, 1, false},
	OpElemAndThis:  {"ELEM_AND_THIS", FmtNone, 0, false},
	OpValueAndThis: {"VALUE_AND_THIS", FmtNone, 1, false},
	OpIn:           {"IN", FmtNone, -1, false},
	OpInstanceOf:   {"INSTANCEOF", FmtNone, -1, false},
	OpRefGet:       {"REF_GET", FmtNone, 0, false},
	OpRefSet:       {"REF_SET", FmtNone, -1, false},

	OpAdd:    {"ADD", FmtNone, -1, false},
	OpSub:    {"SUB", FmtNone, -1, false},
	OpMul:    {"MUL", FmtNone, -1, false},
	OpDiv:    {"DIV", FmtNone, -1, false},
	OpMod:    {"MOD", FmtNone, -1, false},
	OpNeg:    {"NEG", FmtNone, 0, false},
	OpPos:    {"POS", FmtNone, 0, false},
	OpBitNot: {"BITNOT", FmtNone, 0, false},
	OpNot:    {"NOT", FmtNone, 0, false},
	OpTypeof: {"TYPEOF", FmtNone, 0, false},
	OpBitAnd: {"BITAND", FmtNone, -1, false},
	OpBitOr:  {"BITOR", FmtNone, -1, false},
	OpBitXor: {"BITXOR", FmtNone, -1, false},
	OpLsh:    {"LSH", FmtNone, -1, false},
	OpRsh:    {"RSH", FmtNone, -1, false},
	OpURsh:   {"URSH", FmtNone, -1, false},

	OpEQ:   {"EQ", FmtNone, -1, false},
	OpNE:   {"NE", FmtNone, -1, false},
	OpSHEQ: {"SHEQ", FmtNone, -1, false},
	OpSHNE: {"SHNE", FmtNone, -1, false},
	OpLT:   {"LT", FmtNone, -1, false},
	OpLE:   {"LE", FmtNone, -1, false},
	OpGT:   {"GT", FmtNone, -1, false},
	OpGE:   {"GE", FmtNone, -1, false},

	OpGoto:    {"GOTO", FmtJump, 0, true},
	OpIfTrue:  {"IF_TRUE", FmtJump, -1, false},
	OpIfFalse: {"IF_FALSE", FmtJump, -1, false},
	OpGosub:   {"GOSUB", FmtGosub, 0, false},
	OpRetsub:  {"RETSUB", FmtIndex, 0, true},

	OpCall:        {"CALL", FmtIndex, VariableEffect, false},
	OpTailCall:    {"TAIL_CALL", FmtIndex, VariableEffect, false},
	OpCallSpecial: {"CALL_SPECIAL", FmtSpecial, VariableEffect, false},
	OpNew:         {"NEW", FmtIndex, VariableEffect, false},
	OpRefCall:     {"REF_CALL", FmtIndex, VariableEffect, false},
	OpClosure:     {"CLOSURE", FmtIndex, 1, false},

	OpReturn:       {"RETURN", FmtNone, -1, true},
	OpReturnUndef:  {"RETURN_UNDEF", FmtNone, 0, true},
	OpReturnResult: {"RETURN_RESULT", FmtNone, 0, true},
	OpThrow:        {"THROW", FmtNone, -1, true},
	OpEnterWith:    {"ENTER_WITH", FmtNone, -1, false},
	OpLeaveWith:    {"LEAVE_WITH", FmtNone, 0, false},

	OpEnumInit: {"ENUM_INIT", FmtIndex, -1, false},
	OpEnumNext: {"ENUM_NEXT", FmtIndex, 1, false},
	OpEnumID:   {"ENUM_ID", FmtIndex, 1, false},

	OpNewArray:      {"NEW_ARRAY", FmtIndex, 1, false},
	OpNewObject:     {"NEW_OBJECT", FmtIndex, 1, false},
	OpLiteralSet:    {"LITERAL_SET", FmtNone, -1, false},
	OpLiteralGetter: {"LITERAL_GETTER", FmtNone, -1, false},
	OpLiteralSetter: {"LITERAL_SETTER", FmtNone, -1, false},
	OpArrayLit:      {"ARRAY_LIT", FmtIndex, 0, false},
	OpObjectLit:     {"OBJECT_LIT", FmtIndex, 0, false},

	OpGenerator: {"GENERATOR", FmtNone, 0, false},
	OpYield:     {"YIELD", FmtNone, 0, false},

	OpLine:     {"LINE", FmtIndex, 0, false},
	OpDebugger: {"DEBUGGER", FmtNone, 0, false},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// IsJump reports whether the opcode carries a 16-bit jump offset.
func (op Opcode) IsJump() bool {
	f := op.Info().Format
	return f == FmtJump || f == FmtGosub
}

// CallEffect returns the stack effect of a call-family opcode with argc
// arguments. NEW has no this slot.
func CallEffect(op Opcode, argc int) int {
	if op == OpNew {
		return -argc
	}
	return -(argc + 1)
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitIndex appends an opcode with a single uvarint operand.
func (b *BytecodeBuilder) EmitIndex(op Opcode, index int) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.AppendUvarint(b.bytes, uint64(index))
}

// EmitShort appends an opcode with a signed 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitShort(op Opcode, v int16) {
	b.bytes = append(b.bytes, byte(op), byte(v), byte(uint16(v)>>8))
}

// EmitInt appends an opcode with a signed 32-bit operand (little-endian).
func (b *BytecodeBuilder) EmitInt(op Opcode, v int32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(v))
}

// EmitSpecial appends a CALL_SPECIAL instruction.
func (b *BytecodeBuilder) EmitSpecial(argc, kind, line int) {
	b.bytes = append(b.bytes, byte(OpCallSpecial))
	b.bytes = binary.AppendUvarint(b.bytes, uint64(argc))
	b.bytes = binary.AppendUvarint(b.bytes, uint64(kind))
	b.bytes = binary.AppendUvarint(b.bytes, uint64(line))
}

// EmitJump appends a jump with a zero placeholder offset and returns the
// position of the opcode, to be passed to PatchJump.
func (b *BytecodeBuilder) EmitJump(op Opcode) int {
	pos := len(b.bytes)
	b.bytes = append(b.bytes, byte(op), 0, 0)
	return pos
}

// EmitGosub appends a GOSUB with a placeholder offset and the local slot that
// receives the return address. Returns the opcode position.
func (b *BytecodeBuilder) EmitGosub(slot int) int {
	pos := b.EmitJump(OpGosub)
	b.bytes = binary.AppendUvarint(b.bytes, uint64(slot))
	return pos
}

// PatchJump writes the offset from the jump at opPos to target. An offset
// that does not fit a signed 16-bit field, or is zero, is written as 0 and
// target is recorded in longJumps keyed by the operand position.
func (b *BytecodeBuilder) PatchJump(opPos, target int, longJumps map[int]int) {
	offset := target - opPos
	if offset != 0 && offset >= math.MinInt16 && offset <= math.MaxInt16 {
		binary.LittleEndian.PutUint16(b.bytes[opPos+1:], uint16(int16(offset)))
		return
	}
	b.bytes[opPos+1], b.bytes[opPos+2] = 0, 0
	longJumps[opPos+1] = target
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

// readIndex decodes a uvarint operand at pc, returning the value and the
// position after it.
func readIndex(code []byte, pc int) (int, int) {
	v, n := binary.Uvarint(code[pc:])
	if n <= 0 {
		panic(fmt.Sprintf("bad operand at %d", pc))
	}
	return int(v), pc + n
}

func readInt16(code []byte, pc int) int {
	return int(int16(binary.LittleEndian.Uint16(code[pc:])))
}

func readInt32(code []byte, pc int) int {
	return int(int32(binary.LittleEndian.Uint32(code[pc:])))
}

// JumpTarget returns the absolute target of the jump whose opcode is at opPos.
func JumpTarget(code []byte, opPos int, longJumps map[int]int) int {
	offset := readInt16(code, opPos+1)
	if offset != 0 {
		return opPos + offset
	}
	target, ok := longJumps[opPos+1]
	if !ok {
		panic(fmt.Sprintf("missing long jump for operand at %d", opPos+1))
	}
	return target
}

// Instruction is a decoded instruction.
type Instruction struct {
	Op       Opcode
	Pos      int   // offset of the opcode
	Size     int   // total bytes including operands
	Operands []int // decoded operands; for jumps, the absolute target
}

// DecodeAt decodes the instruction at pos.
func DecodeAt(u *CompiledUnit, pos int) (Instruction, error) {
	code := u.Code
	if pos >= len(code) {
		return Instruction{}, fmt.Errorf("decode: offset %d past end of code", pos)
	}
	op := Opcode(code[pos])
	if !op.Valid() {
		return Instruction{}, fmt.Errorf("decode: unknown opcode %02X at %d", byte(op), pos)
	}
	ins := Instruction{Op: op, Pos: pos}
	pc := pos + 1
	need := func(n int) error {
		if pc+n > len(code) {
			return fmt.Errorf("decode: truncated %s at %d", op, pos)
		}
		return nil
	}
	index := func() (int, error) {
		v, n := binary.Uvarint(code[pc:])
		if n <= 0 {
			return 0, fmt.Errorf("decode: bad operand for %s at %d", op, pos)
		}
		pc += n
		return int(v), nil
	}

	switch op.Info().Format {
	case FmtNone:
	case FmtJump, FmtGosub:
		if err := need(2); err != nil {
			return ins, err
		}
		offset := readInt16(code, pc)
		target := pos + offset
		if offset == 0 {
			t, ok := u.LongJumps[pc]
			if !ok {
				return ins, fmt.Errorf("decode: %s at %d has zero offset and no long jump", op, pos)
			}
			target = t
		}
		pc += 2
		ins.Operands = append(ins.Operands, target)
		if op == OpGosub {
			slot, err := index()
			if err != nil {
				return ins, err
			}
			ins.Operands = append(ins.Operands, slot)
		}
	case FmtIndex:
		v, err := index()
		if err != nil {
			return ins, err
		}
		ins.Operands = append(ins.Operands, v)
	case FmtShort:
		if err := need(2); err != nil {
			return ins, err
		}
		ins.Operands = append(ins.Operands, readInt16(code, pc))
		pc += 2
	case FmtInt:
		if err := need(4); err != nil {
			return ins, err
		}
		ins.Operands = append(ins.Operands, readInt32(code, pc))
		pc += 4
	case FmtSpecial:
		for i := 0; i < 3; i++ {
			v, err := index()
			if err != nil {
				return ins, err
			}
			ins.Operands = append(ins.Operands, v)
		}
	}
	ins.Size = pc - pos
	return ins, nil
}

// Effect returns the net stack effect of the instruction.
func (ins Instruction) Effect() int {
	info := ins.Op.Info()
	if info.StackEffect != VariableEffect {
		return info.StackEffect
	}
	return CallEffect(ins.Op, ins.Operands[0])
}
