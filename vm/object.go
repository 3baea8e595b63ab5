package vm

import (
	"strconv"
)

// Object classes
const (
	classObject    = "Object"
	classArray     = "Array"
	classFunction  = "Function"
	classError     = "Error"
	classGenerator = "Generator"
	classGlobal    = "global"
	classCall      = "Call" // activation object
)

// PropertyFlags control how a property may be used.
type PropertyFlags uint8

const (
	ReadOnly PropertyFlags = 1 << iota
	DontEnum
	DontDelete
)

// property is an own property slot. Accessor properties have a getter or
// setter function object and ignore value.
type property struct {
	value  Value
	getter *Object
	setter *Object
	flags  PropertyFlags
}

func (p *property) isAccessor() bool {
	return p.getter != nil || p.setter != nil
}

// Object is a prototype-based property bag. Arrays keep their indexed
// elements in elems; everything else lives in props, with keys preserving
// insertion order.
type Object struct {
	class    string
	proto    *Object
	props    map[string]*property
	keys     []string
	elems    []Value
	array    bool
	internal any
}

// NewObject creates an ordinary object with the given prototype.
func NewObject(proto *Object) *Object {
	return &Object{class: classObject, proto: proto}
}

// NewArray creates an array object holding elems.
func NewArray(proto *Object, elems []Value) *Object {
	return &Object{class: classArray, proto: proto, elems: elems, array: true}
}

// NewHostObject creates an object of the given class carrying a host payload.
func NewHostObject(class string, proto *Object, internal any) *Object {
	return &Object{class: class, proto: proto, internal: internal}
}

// Class returns the object's class name.
func (o *Object) Class() string { return o.class }

// Proto returns the prototype, or nil.
func (o *Object) Proto() *Object { return o.proto }

// SetProto replaces the prototype.
func (o *Object) SetProto(p *Object) { o.proto = p }

// Internal returns the host payload.
func (o *Object) Internal() any { return o.internal }

// IsArray reports whether o is an array.
func (o *Object) IsArray() bool { return o.array }

// Elements returns the array elements. The slice is shared.
func (o *Object) Elements() []Value { return o.elems }

// ---------------------------------------------------------------------------
// Array index helpers
// ---------------------------------------------------------------------------

// arrayIndex parses name as a canonical array index.
func arrayIndex(name string) (int, bool) {
	n := len(name)
	if n == 0 || n > 10 || (n > 1 && name[0] == '0') {
		return 0, false
	}
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || i >= 1<<31-1 {
		return 0, false
	}
	return i, true
}

func (o *Object) setLength(n int) {
	switch {
	case n < len(o.elems):
		clear(o.elems[n:])
		o.elems = o.elems[:n]
	case n > len(o.elems):
		o.elems = append(o.elems, make([]Value, n-len(o.elems))...)
	}
}

func (o *Object) setIndex(i int, v Value) {
	if i >= len(o.elems) {
		o.setLength(i + 1)
	}
	o.elems[i] = v
}

// ---------------------------------------------------------------------------
// Own properties
// ---------------------------------------------------------------------------

// own returns the own property named name. Array elements and length are
// returned as transient data properties.
func (o *Object) own(name string) *property {
	if o.array {
		if name == "length" {
			return &property{value: Int(len(o.elems)), flags: DontEnum | DontDelete}
		}
		if i, ok := arrayIndex(name); ok {
			if i < len(o.elems) {
				return &property{value: o.elems[i]}
			}
			return nil
		}
	}
	return o.props[name]
}

// HasOwn reports whether o has an own property named name.
func (o *Object) HasOwn(name string) bool {
	return o.own(name) != nil
}

// Has reports whether name is found on o or its prototype chain.
func (o *Object) Has(name string) bool {
	for x := o; x != nil; x = x.proto {
		if x.own(name) != nil {
			return true
		}
	}
	return false
}

// find walks the prototype chain for name.
func (o *Object) find(name string) *property {
	for x := o; x != nil; x = x.proto {
		if p := x.own(name); p != nil {
			return p
		}
	}
	return nil
}

// Get returns the data value of name on o or its prototype chain without
// invoking accessors. Missing properties and accessors yield undefined.
func (o *Object) Get(name string) Value {
	p := o.find(name)
	if p == nil || p.isAccessor() {
		return Undefined
	}
	return p.value
}

// Define creates or replaces an own data property.
func (o *Object) Define(name string, v Value, flags PropertyFlags) {
	if o.array {
		if name == "length" {
			if v.kind == KindNumber && v.num >= 0 && v.num == float64(int(v.num)) {
				o.setLength(int(v.num))
			}
			return
		}
		if i, ok := arrayIndex(name); ok {
			o.setIndex(i, v)
			return
		}
	}
	if p, ok := o.props[name]; ok {
		*p = property{value: v, flags: flags}
		return
	}
	o.addProp(name, &property{value: v, flags: flags})
}

// defineAccessor installs a getter or setter, keeping the other half of an
// existing accessor pair.
func (o *Object) defineAccessor(name string, getter, setter *Object) {
	p, ok := o.props[name]
	if !ok || !p.isAccessor() {
		p = &property{}
		if ok {
			o.props[name] = p
		} else {
			o.addProp(name, p)
		}
	}
	if getter != nil {
		p.getter = getter
	}
	if setter != nil {
		p.setter = setter
	}
}

func (o *Object) addProp(name string, p *property) {
	if o.props == nil {
		o.props = make(map[string]*property)
	}
	o.props[name] = p
	o.keys = append(o.keys, name)
}

// Put assigns an own data property, respecting ReadOnly. Returns false if
// the assignment was refused.
func (o *Object) Put(name string, v Value) bool {
	if p, ok := o.props[name]; ok {
		if p.flags&ReadOnly != 0 || p.isAccessor() {
			return false
		}
		p.value = v
		return true
	}
	o.Define(name, v, 0)
	return true
}

// Delete removes an own property. Returns false for undeletable properties.
func (o *Object) Delete(name string) bool {
	if o.array {
		if name == "length" {
			return false
		}
		if i, ok := arrayIndex(name); ok {
			if i < len(o.elems) {
				o.elems[i] = Undefined
			}
			return true
		}
	}
	p, ok := o.props[name]
	if !ok {
		return true
	}
	if p.flags&DontDelete != 0 {
		return false
	}
	delete(o.props, name)
	for i, k := range o.keys {
		if k == name {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// OwnKeys returns the enumerable own keys in order: array indices first,
// then properties in insertion order.
func (o *Object) OwnKeys() []string {
	keys := make([]string, 0, len(o.elems)+len(o.keys))
	for i := range o.elems {
		keys = append(keys, strconv.Itoa(i))
	}
	for _, k := range o.keys {
		if o.props[k].flags&DontEnum == 0 {
			keys = append(keys, k)
		}
	}
	return keys
}
