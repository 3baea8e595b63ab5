package vm

import "slices"

// ---------------------------------------------------------------------------
// Literal builders
// ---------------------------------------------------------------------------

// literalBuilder accumulates the element values of an array or object
// literal between NEW_ARRAY/NEW_OBJECT and ARRAY_LIT/OBJECT_LIT.
type literalBuilder struct {
	values []Value
	kinds  []LiteralKind
}

func literalKindOf(op Opcode) LiteralKind {
	switch op {
	case OpLiteralGetter:
		return LiteralGetter
	case OpLiteralSetter:
		return LiteralSetter
	default:
		return LiteralValue
	}
}

func (b *literalBuilder) add(v Value, kind LiteralKind) {
	b.values = append(b.values, v)
	b.kinds = append(b.kinds, kind)
}

func (b *literalBuilder) clone() *literalBuilder {
	return &literalBuilder{values: slices.Clone(b.values), kinds: slices.Clone(b.kinds)}
}

// elements lays the values out as array elements, leaving holes at the
// skip indexes.
func (b *literalBuilder) elements(info *LiteralInfo) []Value {
	length := max(info.Length, len(b.values)+len(info.Skip))
	elems := make([]Value, length)
	skip, j := 0, 0
	for i := range elems {
		if skip < len(info.Skip) && info.Skip[skip] == i {
			skip++
			continue
		}
		if j < len(b.values) {
			elems[i] = b.values[j]
			j++
		}
	}
	return elems
}

// object installs the values under info's keys.
func (b *literalBuilder) object(proto *Object, info *LiteralInfo) *Object {
	o := NewObject(proto)
	for i, key := range info.Keys {
		if i >= len(b.values) {
			break
		}
		v := b.values[i]
		switch b.kinds[i] {
		case LiteralGetter:
			o.defineAccessor(key, v.Object(), nil)
		case LiteralSetter:
			o.defineAccessor(key, nil, v.Object())
		default:
			o.Define(key, v, 0)
		}
	}
	return o
}

// ---------------------------------------------------------------------------
// For-in enumeration
// ---------------------------------------------------------------------------

// enumerator walks a snapshot of the enumerable keys of an object and its
// prototype chain. Keys deleted during the loop are skipped.
type enumerator struct {
	obj     *Object
	keys    []string
	pos     int
	current string
}

func newEnumerator(v Value) *enumerator {
	e := &enumerator{obj: v.Object()}
	if e.obj == nil {
		return e
	}
	seen := make(map[string]bool)
	for x := e.obj; x != nil; x = x.proto {
		for _, k := range x.OwnKeys() {
			if !seen[k] {
				seen[k] = true
				e.keys = append(e.keys, k)
			}
		}
	}
	return e
}

// clone copies the cursor. The key snapshot is never written after
// newEnumerator and stays shared.
func (e *enumerator) clone() *enumerator {
	c := *e
	return &c
}

func (e *enumerator) next() bool {
	for e.pos < len(e.keys) {
		k := e.keys[e.pos]
		e.pos++
		if e.obj.Has(k) {
			e.current = k
			return true
		}
	}
	return false
}

// copyInternal returns a private copy of a mutable internal payload.
func copyInternal(x any) any {
	switch x := x.(type) {
	case *literalBuilder:
		return x.clone()
	case *enumerator:
		return x.clone()
	}
	return x
}
