package vm

import (
	"context"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Primitive conversions
// ---------------------------------------------------------------------------

// ToBoolean converts v to a boolean. It never runs script code.
func ToBoolean(v Value) bool {
	switch v.kind {
	case KindBoolean:
		return v.num != 0
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return v.ref.(string) != ""
	case KindObject:
		return true
	default:
		return false
	}
}

// TypeOf returns the typeof string for v.
func TypeOf(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "object"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		if isCallable(v.ref.(*Object)) {
			return "function"
		}
		return "object"
	default:
		return "undefined"
	}
}

// NumberToString formats f the way script code sees numbers.
func NumberToString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	a := math.Abs(f)
	if a >= 1e-6 && a < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Go writes 1e-07; script code expects 1e-7.
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		mant, exp := s[:i], s[i+1:]
		sign := exp[0]
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		s = mant + "e" + string(sign) + digits
	}
	return s
}

// StringToNumber parses s as a numeric literal. Unparseable strings yield
// NaN; blank strings yield 0.
func StringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}
	// Reject forms ParseFloat accepts but script numerals do not.
	lower := strings.ToLower(s)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.ContainsAny(s, "_xXpP") {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// ToInt32 applies the ToInt32 wrapping conversion.
func ToInt32(f float64) int32 {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f >= math.MinInt32 && f <= math.MaxInt32 {
		return int32(f)
	}
	m := math.Mod(math.Trunc(f), 4294967296)
	if m < 0 {
		m += 4294967296
	}
	return int32(uint32(m))
}

// ToUint32 applies the ToUint32 wrapping conversion.
func ToUint32(f float64) uint32 {
	return uint32(ToInt32(f))
}

// primitiveNumber converts a non-object value to a number.
func primitiveNumber(v Value) float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBoolean:
		return v.num
	case KindNull:
		return 0
	case KindString:
		return StringToNumber(v.ref.(string))
	default:
		return math.NaN()
	}
}

// primitiveString converts a non-object value to a string.
func primitiveString(v Value) string {
	if v.kind == KindNumber {
		return NumberToString(v.num)
	}
	return v.String()
}

// ---------------------------------------------------------------------------
// Conversions that may run script code
// ---------------------------------------------------------------------------

// ToPrimitive converts objects by calling valueOf/toString. hint is
// "number", "string" or "" (default, treated as number).
func (in *Interpreter) ToPrimitive(ctx context.Context, v Value, hint string) (Value, error) {
	o := v.Object()
	if o == nil {
		return v, nil
	}
	order := [2]string{"valueOf", "toString"}
	if hint == "string" {
		order = [2]string{"toString", "valueOf"}
	}
	for _, name := range order {
		fn, err := in.GetProperty(ctx, v, name)
		if err != nil {
			return Undefined, err
		}
		if !isCallable(fn.Object()) {
			continue
		}
		r, err := in.Call(ctx, fn, v, nil)
		if err != nil {
			return Undefined, err
		}
		if !r.IsObject() {
			return r, nil
		}
	}
	if o.class == classError {
		return String(errorSummary(o)), nil
	}
	return String(in.defaultString(o)), nil
}

// defaultString renders objects that have no toString of their own.
func (in *Interpreter) defaultString(o *Object) string {
	if o.array {
		parts := make([]string, len(o.elems))
		for i, e := range o.elems {
			if !e.IsNullish() {
				parts[i] = primitiveString(e)
			}
		}
		return strings.Join(parts, ",")
	}
	if o.class == classFunction {
		return "function " + o.Get("name").String() + "() { [code] }"
	}
	return "[object " + o.class + "]"
}

// ToNumber converts v to a number.
func (in *Interpreter) ToNumber(ctx context.Context, v Value) (float64, error) {
	if v.kind == KindNumber {
		return v.num, nil
	}
	if v.kind == KindObject {
		p, err := in.ToPrimitive(ctx, v, "number")
		if err != nil {
			return 0, err
		}
		return primitiveNumber(p), nil
	}
	return primitiveNumber(v), nil
}

// ToString converts v to a string.
func (in *Interpreter) ToString(ctx context.Context, v Value) (string, error) {
	if v.kind == KindString {
		return v.ref.(string), nil
	}
	if v.kind == KindObject {
		p, err := in.ToPrimitive(ctx, v, "string")
		if err != nil {
			return "", err
		}
		return primitiveString(p), nil
	}
	return primitiveString(v), nil
}

// ToObject converts v to an object. Primitives have no wrapper objects here,
// so only objects convert; null and undefined raise a TypeError.
func (in *Interpreter) ToObject(v Value) (*Object, error) {
	if o := v.Object(); o != nil {
		return o, nil
	}
	if v.IsNullish() {
		return nil, in.TypeError("%s has no properties", v)
	}
	return nil, in.TypeError("%s is not an object", v)
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// StrictEquals implements ===. NaN is unequal to itself; 0 and -0 are equal.
func StrictEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindNumber, KindBoolean:
		return a.num == b.num
	case KindString:
		return a.ref.(string) == b.ref.(string)
	default:
		return a.ref == b.ref
	}
}

// LooseEquals implements ==.
func (in *Interpreter) LooseEquals(ctx context.Context, a, b Value) (bool, error) {
	if a.kind == b.kind {
		return StrictEquals(a, b), nil
	}
	switch {
	case a.IsNullish() && b.IsNullish():
		return true, nil
	case a.IsNullish() || b.IsNullish():
		return false, nil
	case a.kind == KindNumber && b.kind == KindString:
		return a.num == StringToNumber(b.Str()), nil
	case a.kind == KindString && b.kind == KindNumber:
		return StringToNumber(a.Str()) == b.num, nil
	case a.kind == KindBoolean:
		return in.LooseEquals(ctx, Number(a.num), b)
	case b.kind == KindBoolean:
		return in.LooseEquals(ctx, a, Number(b.num))
	case a.kind == KindObject:
		p, err := in.ToPrimitive(ctx, a, "")
		if err != nil {
			return false, err
		}
		return in.LooseEquals(ctx, p, b)
	case b.kind == KindObject:
		p, err := in.ToPrimitive(ctx, b, "")
		if err != nil {
			return false, err
		}
		return in.LooseEquals(ctx, a, p)
	}
	return false, nil
}
