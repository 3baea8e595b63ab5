package vm

import (
	"fmt"
	"math"
)

// Value is a tagged union holding any script value.
//
// Numbers are stored unboxed in num, so arithmetic on them never allocates.
// Strings, objects and internal payloads live in ref. The zero Value is
// undefined.
type Value struct {
	kind Kind
	num  float64
	ref  any
}

// Kind identifies the type stored in a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindObject

	// Internal kinds never observed by script code.
	kindAddress   // GOSUB return address, num holds the pc
	kindThrowable // pending error parked in a finally slot
	kindScope     // scope saved by SCOPE_SAVE
	kindInternal  // enumerators, literal builders
	kindReference // result of REF_CALL
)

// Pre-defined values
var (
	Undefined = Value{}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBoolean, num: 1}
	False     = Value{kind: KindBoolean}
	NaN       = Value{kind: KindNumber, num: math.NaN()}
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Number returns a number value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Int returns a number value holding i.
func Int(i int) Value {
	return Value{kind: KindNumber, num: float64(i)}
}

// String returns a string value.
func String(s string) Value {
	return Value{kind: KindString, ref: s}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ObjectValue wraps an object.
func ObjectValue(o *Object) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, ref: o}
}

func addressValue(pc int) Value {
	return Value{kind: kindAddress, num: float64(pc)}
}

func throwableValue(err error) Value {
	return Value{kind: kindThrowable, ref: err}
}

func scopeValue(s *Scope) Value {
	return Value{kind: kindScope, ref: s}
}

func internalValue(x any) Value {
	return Value{kind: kindInternal, ref: x}
}

// ReferenceValue wraps a host reference so it can be returned from a
// native called through REF_CALL.
func ReferenceValue(r Reference) Value {
	return Value{kind: kindReference, ref: r}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Kind returns the type tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsNumber() bool    { return v.kind == KindNumber }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsBoolean() bool   { return v.kind == KindBoolean }
func (v Value) IsObject() bool    { return v.kind == KindObject }

// IsNullish reports whether v is null or undefined.
func (v Value) IsNullish() bool {
	return v.kind == KindUndefined || v.kind == KindNull
}

// ---------------------------------------------------------------------------
// Extraction
// ---------------------------------------------------------------------------

// Float returns the number payload. It panics if v is not a number.
func (v Value) Float() float64 {
	if v.kind != KindNumber {
		panic("Value.Float: not a number")
	}
	return v.num
}

// Str returns the string payload. It panics if v is not a string.
func (v Value) Str() string {
	if v.kind != KindString {
		panic("Value.Str: not a string")
	}
	return v.ref.(string)
}

// Boolean returns the boolean payload. It panics if v is not a boolean.
func (v Value) Boolean() bool {
	if v.kind != KindBoolean {
		panic("Value.Boolean: not a boolean")
	}
	return v.num != 0
}

// Object returns the object payload, or nil if v is not an object.
func (v Value) Object() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.ref.(*Object)
}

// String returns a debug representation of v. It never invokes script code.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindNumber:
		return NumberToString(v.num)
	case KindString:
		return v.ref.(string)
	case KindObject:
		o := v.ref.(*Object)
		if o.class == classError {
			return errorSummary(o)
		}
		return "[object " + o.class + "]"
	case kindAddress:
		return fmt.Sprintf("<address %d>", int(v.num))
	case kindThrowable:
		return fmt.Sprintf("<throwable %v>", v.ref)
	case kindScope:
		return "<scope>"
	case kindReference:
		return "<reference>"
	default:
		return "<internal>"
	}
}
