package vm

// Scope is one link of a name-resolution chain. Each scope is backed by an
// object: the global object, a function activation, or the operand of a
// with statement.
type Scope struct {
	parent *Scope
	obj    *Object
	with   bool
}

// NewScope creates a scope backed by obj.
func NewScope(parent *Scope, obj *Object) *Scope {
	return &Scope{parent: parent, obj: obj}
}

func newWithScope(parent *Scope, obj *Object) *Scope {
	return &Scope{parent: parent, obj: obj, with: true}
}

// Parent returns the enclosing scope.
func (s *Scope) Parent() *Scope { return s.parent }

// Object returns the backing object.
func (s *Scope) Object() *Object { return s.obj }

// Lookup returns the innermost scope binding name, or nil.
func (s *Scope) Lookup(name string) *Scope {
	for x := s; x != nil; x = x.parent {
		if x.obj.Has(name) {
			return x
		}
	}
	return nil
}

// Get returns the data value bound to name without invoking accessors.
func (s *Scope) Get(name string) (Value, bool) {
	if b := s.Lookup(name); b != nil {
		return b.obj.Get(name), true
	}
	return Undefined, false
}

// Set assigns name in the innermost scope binding it, or creates a binding
// on the outermost scope. Returns false if the binding is read-only.
func (s *Scope) Set(name string, v Value) bool {
	b := s.Lookup(name)
	if b == nil {
		b = s.root()
	}
	return b.obj.Put(name, v)
}

// Bind defines name directly in this scope.
func (s *Scope) Bind(name string, v Value) {
	s.obj.Define(name, v, 0)
}

// BindConst defines a read-only name in this scope.
func (s *Scope) BindConst(name string, v Value) {
	s.obj.Define(name, v, ReadOnly|DontDelete)
}

// Delete removes name from the innermost scope binding it.
func (s *Scope) Delete(name string) bool {
	if b := s.Lookup(name); b != nil {
		return b.obj.Delete(name)
	}
	return true
}

func (s *Scope) root() *Scope {
	x := s
	for x.parent != nil {
		x = x.parent
	}
	return x
}
