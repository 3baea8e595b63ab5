package vm

import (
	"context"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Property access
// ---------------------------------------------------------------------------

// GetProperty reads obj.name, invoking getters.
func (in *Interpreter) GetProperty(ctx context.Context, obj Value, name string) (Value, error) {
	o := obj.Object()
	if o == nil {
		return in.primitiveProperty(obj, name)
	}
	p := o.find(name)
	switch {
	case p == nil:
		return Undefined, nil
	case p.isAccessor():
		if p.getter == nil {
			return Undefined, nil
		}
		return in.Call(ctx, ObjectValue(p.getter), obj, nil)
	default:
		return p.value, nil
	}
}

func (in *Interpreter) primitiveProperty(v Value, name string) (Value, error) {
	switch v.kind {
	case KindUndefined, KindNull:
		return Undefined, in.TypeError("cannot read property %q of %s", name, v)
	case KindString:
		s := v.ref.(string)
		if name == "length" {
			return Int(len(s)), nil
		}
		if i, ok := arrayIndex(name); ok && i < len(s) {
			return String(s[i : i+1]), nil
		}
	}
	return Undefined, nil
}

// SetProperty assigns obj.name = v, invoking setters. Writes to read-only
// properties and to primitives are ignored.
func (in *Interpreter) SetProperty(ctx context.Context, obj Value, name string, v Value) error {
	o := obj.Object()
	if o == nil {
		if obj.IsNullish() {
			return in.TypeError("cannot set property %q of %s", name, obj)
		}
		return nil
	}
	if o.array {
		if _, ok := arrayIndex(name); ok || name == "length" {
			o.Define(name, v, 0)
			return nil
		}
	}
	for x := o; x != nil; x = x.proto {
		p, ok := x.props[name]
		if !ok {
			continue
		}
		if p.isAccessor() {
			if p.setter == nil {
				return nil
			}
			_, err := in.Call(ctx, ObjectValue(p.setter), obj, []Value{v})
			return err
		}
		if p.flags&ReadOnly != 0 {
			return nil
		}
		if x == o {
			p.value = v
			return nil
		}
		break
	}
	o.addProp(name, &property{value: v})
	return nil
}

// propertyKey converts an element key to a property name.
func (in *Interpreter) propertyKey(ctx context.Context, key Value) (string, error) {
	switch key.kind {
	case KindString:
		return key.ref.(string), nil
	case KindNumber:
		if key.num >= 0 && key.num < math.MaxInt32 && key.num == math.Trunc(key.num) {
			return strconv.Itoa(int(key.num)), nil
		}
		return NumberToString(key.num), nil
	}
	return in.ToString(ctx, key)
}

// elemIndex returns the integral array index carried by key, if any.
func elemIndex(key Value) (int, bool) {
	if key.kind != KindNumber || key.num < 0 || key.num >= math.MaxInt32 || key.num != math.Trunc(key.num) {
		return 0, false
	}
	return int(key.num), true
}

// GetElement reads obj[key].
func (in *Interpreter) GetElement(ctx context.Context, obj, key Value) (Value, error) {
	if o := obj.Object(); o != nil && o.array {
		if i, ok := elemIndex(key); ok {
			if i < len(o.elems) {
				return o.elems[i], nil
			}
			return Undefined, nil
		}
	}
	name, err := in.propertyKey(ctx, key)
	if err != nil {
		return Undefined, err
	}
	return in.GetProperty(ctx, obj, name)
}

// SetElement assigns obj[key] = v.
func (in *Interpreter) SetElement(ctx context.Context, obj, key, v Value) error {
	if o := obj.Object(); o != nil && o.array {
		if i, ok := elemIndex(key); ok {
			o.setIndex(i, v)
			return nil
		}
	}
	name, err := in.propertyKey(ctx, key)
	if err != nil {
		return err
	}
	return in.SetProperty(ctx, obj, name, v)
}

// DeleteElement implements delete obj[key].
func (in *Interpreter) DeleteElement(ctx context.Context, obj, key Value) (bool, error) {
	o := obj.Object()
	if o == nil {
		if obj.IsNullish() {
			return false, in.TypeError("cannot delete property of %s", obj)
		}
		return true, nil
	}
	name, err := in.propertyKey(ctx, key)
	if err != nil {
		return false, err
	}
	return o.Delete(name), nil
}

// HasProperty implements key in obj.
func (in *Interpreter) HasProperty(ctx context.Context, key, obj Value) (bool, error) {
	o := obj.Object()
	if o == nil {
		return false, in.TypeError("invalid 'in' operand %s", obj)
	}
	name, err := in.propertyKey(ctx, key)
	if err != nil {
		return false, err
	}
	return o.Has(name), nil
}

// InstanceOf implements v instanceof ctor.
func (in *Interpreter) InstanceOf(ctx context.Context, v, ctor Value) (bool, error) {
	c := ctor.Object()
	if !isCallable(c) {
		return false, in.TypeError("invalid 'instanceof' operand %s", ctor)
	}
	o := v.Object()
	if o == nil {
		return false, nil
	}
	pv, err := in.GetProperty(ctx, ctor, "prototype")
	if err != nil {
		return false, err
	}
	proto := pv.Object()
	if proto == nil {
		return false, in.TypeError("'prototype' of %s is not an object", c.Get("name"))
	}
	for x := o.proto; x != nil; x = x.proto {
		if x == proto {
			return true, nil
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// add implements the + operator for the non-numeric cases.
func (in *Interpreter) add(ctx context.Context, a, b Value) (Value, error) {
	pa, err := in.ToPrimitive(ctx, a, "")
	if err != nil {
		return Undefined, err
	}
	pb, err := in.ToPrimitive(ctx, b, "")
	if err != nil {
		return Undefined, err
	}
	if pa.kind == KindString || pb.kind == KindString {
		return String(primitiveString(pa) + primitiveString(pb)), nil
	}
	return Number(primitiveNumber(pa) + primitiveNumber(pb)), nil
}

// arith implements the numeric binary operators.
func (in *Interpreter) arith(ctx context.Context, op Opcode, a, b Value) (Value, error) {
	x, err := in.ToNumber(ctx, a)
	if err != nil {
		return Undefined, err
	}
	y, err := in.ToNumber(ctx, b)
	if err != nil {
		return Undefined, err
	}
	return Number(arithFloat(op, x, y)), nil
}

func arithFloat(op Opcode, x, y float64) float64 {
	switch op {
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpDiv:
		return x / y
	case OpMod:
		return math.Mod(x, y)
	}
	panic("arith: unexpected opcode " + op.String())
}

// bitwise implements the int32 binary operators.
func (in *Interpreter) bitwise(ctx context.Context, op Opcode, a, b Value) (Value, error) {
	x, err := in.ToNumber(ctx, a)
	if err != nil {
		return Undefined, err
	}
	y, err := in.ToNumber(ctx, b)
	if err != nil {
		return Undefined, err
	}
	return Number(bitwiseFloat(op, x, y)), nil
}

func bitwiseFloat(op Opcode, x, y float64) float64 {
	l := ToInt32(x)
	switch op {
	case OpBitAnd:
		return float64(l & ToInt32(y))
	case OpBitOr:
		return float64(l | ToInt32(y))
	case OpBitXor:
		return float64(l ^ ToInt32(y))
	case OpLsh:
		return float64(l << (ToUint32(y) & 31))
	case OpRsh:
		return float64(l >> (ToUint32(y) & 31))
	case OpURsh:
		return float64(uint32(l) >> (ToUint32(y) & 31))
	}
	panic("bitwise: unexpected opcode " + op.String())
}

// compare implements the relational operators. Comparisons involving NaN
// are false.
func (in *Interpreter) compare(ctx context.Context, op Opcode, a, b Value) (bool, error) {
	pa, err := in.ToPrimitive(ctx, a, "number")
	if err != nil {
		return false, err
	}
	pb, err := in.ToPrimitive(ctx, b, "number")
	if err != nil {
		return false, err
	}
	if pa.kind == KindString && pb.kind == KindString {
		x, y := pa.Str(), pb.Str()
		switch op {
		case OpLT:
			return x < y, nil
		case OpLE:
			return x <= y, nil
		case OpGT:
			return x > y, nil
		default:
			return x >= y, nil
		}
	}
	return compareFloat(op, primitiveNumber(pa), primitiveNumber(pb)), nil
}

func compareFloat(op Opcode, x, y float64) bool {
	switch op {
	case OpLT:
		return x < y
	case OpLE:
		return x <= y
	case OpGT:
		return x > y
	default:
		return x >= y
	}
}
