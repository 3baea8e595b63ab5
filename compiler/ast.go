package compiler

// ---------------------------------------------------------------------------
// Tree: the parsed form of a script or function body
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all tree nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Function is the root of a compilation: a script or a function body.
// Vars lists variables declared outside the body, after the parameters.
// Declarations found in the body are collected by the compiler; the tree
// itself is never modified.
type Function struct {
	SpanVal     Span
	Name        string
	SourceName  string
	IsScript    bool
	IsGenerator bool
	Params      []string
	Vars        []Var
	Body        []Stmt

	// NeedsActivation forces variables into a scope object. The compiler
	// also uses one when a nested function or with statement needs it.
	NeedsActivation bool
}

// Var is a declared variable.
type Var struct {
	Name  string
	Const bool
}

func (n *Function) Span() Span { return n.SpanVal }
func (n *Function) node()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt evaluates an expression for its side effects.
type ExprStmt struct {
	SpanVal Span
	X       Expr
}

// VarDecl declares one variable, with an optional initialiser.
type VarDecl struct {
	SpanVal Span
	Name    string
	Init    Expr // nil if absent
	Const   bool
}

// FunctionDecl declares a named function, bound when the body starts.
type FunctionDecl struct {
	SpanVal Span
	Func    *Function
}

// Block is a braced statement list.
type Block struct {
	SpanVal Span
	List    []Stmt
}

// If is an if statement.
type If struct {
	SpanVal Span
	Cond    Expr
	Then    Stmt
	Else    Stmt // nil if absent
}

// While is a while loop.
type While struct {
	SpanVal Span
	Cond    Expr
	Body    Stmt
}

// DoWhile is a do-while loop.
type DoWhile struct {
	SpanVal Span
	Body    Stmt
	Cond    Expr
}

// For is a C-style for loop. Any clause may be nil.
type For struct {
	SpanVal Span
	Init    Stmt
	Cond    Expr
	Update  Expr
	Body    Stmt
}

// ForIn iterates the enumerable keys of Object. Target is a Name, Member
// or Index expression, or a VarDecl without initialiser.
type ForIn struct {
	SpanVal Span
	Target  Node
	Object  Expr
	Body    Stmt
}

// Break exits the innermost loop or switch, or the statement labeled Label.
type Break struct {
	SpanVal Span
	Label   string
}

// Continue starts the next iteration of the innermost loop, or of the loop
// labeled Label.
type Continue struct {
	SpanVal Span
	Label   string
}

// Labeled attaches a label to a statement.
type Labeled struct {
	SpanVal Span
	Label   string
	Body    Stmt
}

// Return returns from the function. Value may be nil.
type Return struct {
	SpanVal Span
	Value   Expr
}

// Throw throws a value.
type Throw struct {
	SpanVal Span
	Value   Expr
}

// Try is a try statement with a catch clause, a finally clause, or both.
type Try struct {
	SpanVal  Span
	Body     *Block
	CatchVar string
	Catch    *Block // nil if absent
	Finally  *Block // nil if absent
}

// Switch dispatches on strict equality with each case's test.
type Switch struct {
	SpanVal      Span
	Discriminant Expr
	Cases        []*Case
}

// Case is one clause of a switch. A nil Test marks the default clause.
type Case struct {
	SpanVal Span
	Test    Expr
	Body    []Stmt
}

// With evaluates Body with Object's properties in scope.
type With struct {
	SpanVal Span
	Object  Expr
	Body    Stmt
}

// Debugger is a debugger statement.
type Debugger struct {
	SpanVal Span
}

// Empty is an empty statement.
type Empty struct {
	SpanVal Span
}

func (n *ExprStmt) Span() Span     { return n.SpanVal }
func (n *VarDecl) Span() Span      { return n.SpanVal }
func (n *FunctionDecl) Span() Span { return n.SpanVal }
func (n *Block) Span() Span        { return n.SpanVal }
func (n *If) Span() Span           { return n.SpanVal }
func (n *While) Span() Span        { return n.SpanVal }
func (n *DoWhile) Span() Span      { return n.SpanVal }
func (n *For) Span() Span          { return n.SpanVal }
func (n *ForIn) Span() Span        { return n.SpanVal }
func (n *Break) Span() Span        { return n.SpanVal }
func (n *Continue) Span() Span     { return n.SpanVal }
func (n *Labeled) Span() Span      { return n.SpanVal }
func (n *Return) Span() Span       { return n.SpanVal }
func (n *Throw) Span() Span        { return n.SpanVal }
func (n *Try) Span() Span          { return n.SpanVal }
func (n *Switch) Span() Span       { return n.SpanVal }
func (n *Case) Span() Span         { return n.SpanVal }
func (n *With) Span() Span         { return n.SpanVal }
func (n *Debugger) Span() Span     { return n.SpanVal }
func (n *Empty) Span() Span        { return n.SpanVal }

func (n *ExprStmt) node()     {}
func (n *VarDecl) node()      {}
func (n *FunctionDecl) node() {}
func (n *Block) node()        {}
func (n *If) node()           {}
func (n *While) node()        {}
func (n *DoWhile) node()      {}
func (n *For) node()          {}
func (n *ForIn) node()        {}
func (n *Break) node()        {}
func (n *Continue) node()     {}
func (n *Labeled) node()      {}
func (n *Return) node()       {}
func (n *Throw) node()        {}
func (n *Try) node()          {}
func (n *Switch) node()       {}
func (n *Case) node()         {}
func (n *With) node()         {}
func (n *Debugger) node()     {}
func (n *Empty) node()        {}

func (n *ExprStmt) stmt()     {}
func (n *VarDecl) stmt()      {}
func (n *FunctionDecl) stmt() {}
func (n *Block) stmt()        {}
func (n *If) stmt()           {}
func (n *While) stmt()        {}
func (n *DoWhile) stmt()      {}
func (n *For) stmt()          {}
func (n *ForIn) stmt()        {}
func (n *Break) stmt()        {}
func (n *Continue) stmt()     {}
func (n *Labeled) stmt()      {}
func (n *Return) stmt()       {}
func (n *Throw) stmt()        {}
func (n *Try) stmt()          {}
func (n *Switch) stmt()       {}
func (n *With) stmt()         {}
func (n *Debugger) stmt()     {}
func (n *Empty) stmt()        {}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NumberLit is a numeric literal.
type NumberLit struct {
	SpanVal Span
	Value   float64
}

// StringLit is a string literal.
type StringLit struct {
	SpanVal Span
	Value   string
}

// BoolLit is true or false.
type BoolLit struct {
	SpanVal Span
	Value   bool
}

// NullLit is null.
type NullLit struct {
	SpanVal Span
}

// UndefinedLit is undefined.
type UndefinedLit struct {
	SpanVal Span
}

// This is the this keyword.
type This struct {
	SpanVal Span
}

// Name is an identifier reference.
type Name struct {
	SpanVal Span
	Name    string
}

// Assign is an assignment. Op is NoOp for plain =, otherwise the operator
// of a compound assignment such as +=.
type Assign struct {
	SpanVal Span
	Op      BinaryOp
	Target  Expr // Name, Member, Index or Call
	Value   Expr
}

// Binary is a binary operator expression.
type Binary struct {
	SpanVal Span
	Op      BinaryOp
	Left    Expr
	Right   Expr
}

// Logical is && or ||.
type Logical struct {
	SpanVal Span
	And     bool
	Left    Expr
	Right   Expr
}

// Unary is a prefix operator expression.
type Unary struct {
	SpanVal Span
	Op      UnaryOp
	X       Expr
}

// Update is ++ or --, prefix or postfix.
type Update struct {
	SpanVal   Span
	Decrement bool
	Prefix    bool
	Target    Expr
}

// Conditional is test ? then : else.
type Conditional struct {
	SpanVal Span
	Test    Expr
	Then    Expr
	Else    Expr
}

// Call is a function call. A non-zero Special marks a call the host wants
// to see with its source line.
type Call struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
	Special int
}

// New is a constructor call.
type New struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

// Member is obj.name.
type Member struct {
	SpanVal Span
	Object  Expr
	Name    string
}

// Index is obj[index].
type Index struct {
	SpanVal Span
	Object  Expr
	Index   Expr
}

// ArrayLit is an array literal. Nil elements are holes.
type ArrayLit struct {
	SpanVal  Span
	Elements []Expr
}

// ObjectLit is an object literal.
type ObjectLit struct {
	SpanVal    Span
	Properties []*Property
}

// PropertyKind distinguishes plain, getter and setter properties.
type PropertyKind int

const (
	PropValue PropertyKind = iota
	PropGetter
	PropSetter
)

// Property is one entry of an object literal.
type Property struct {
	Key   string
	Kind  PropertyKind
	Value Expr // a FunctionExpr for getters and setters
}

// FunctionExpr is a function literal.
type FunctionExpr struct {
	SpanVal Span
	Func    *Function
}

// Yield suspends a generator. Value may be nil.
type Yield struct {
	SpanVal Span
	Value   Expr
}

// Sequence is a comma expression.
type Sequence struct {
	SpanVal Span
	List    []Expr
}

func (n *NumberLit) Span() Span    { return n.SpanVal }
func (n *StringLit) Span() Span    { return n.SpanVal }
func (n *BoolLit) Span() Span      { return n.SpanVal }
func (n *NullLit) Span() Span      { return n.SpanVal }
func (n *UndefinedLit) Span() Span { return n.SpanVal }
func (n *This) Span() Span         { return n.SpanVal }
func (n *Name) Span() Span         { return n.SpanVal }
func (n *Assign) Span() Span       { return n.SpanVal }
func (n *Binary) Span() Span       { return n.SpanVal }
func (n *Logical) Span() Span      { return n.SpanVal }
func (n *Unary) Span() Span        { return n.SpanVal }
func (n *Update) Span() Span       { return n.SpanVal }
func (n *Conditional) Span() Span  { return n.SpanVal }
func (n *Call) Span() Span         { return n.SpanVal }
func (n *New) Span() Span          { return n.SpanVal }
func (n *Member) Span() Span       { return n.SpanVal }
func (n *Index) Span() Span        { return n.SpanVal }
func (n *ArrayLit) Span() Span     { return n.SpanVal }
func (n *ObjectLit) Span() Span    { return n.SpanVal }
func (n *FunctionExpr) Span() Span { return n.SpanVal }
func (n *Yield) Span() Span        { return n.SpanVal }
func (n *Sequence) Span() Span     { return n.SpanVal }

func (n *NumberLit) node()    {}
func (n *StringLit) node()    {}
func (n *BoolLit) node()      {}
func (n *NullLit) node()      {}
func (n *UndefinedLit) node() {}
func (n *This) node()         {}
func (n *Name) node()         {}
func (n *Assign) node()       {}
func (n *Binary) node()       {}
func (n *Logical) node()      {}
func (n *Unary) node()        {}
func (n *Update) node()       {}
func (n *Conditional) node()  {}
func (n *Call) node()         {}
func (n *New) node()          {}
func (n *Member) node()       {}
func (n *Index) node()        {}
func (n *ArrayLit) node()     {}
func (n *ObjectLit) node()    {}
func (n *FunctionExpr) node() {}
func (n *Yield) node()        {}
func (n *Sequence) node()     {}

func (n *NumberLit) expr()    {}
func (n *StringLit) expr()    {}
func (n *BoolLit) expr()      {}
func (n *NullLit) expr()      {}
func (n *UndefinedLit) expr() {}
func (n *This) expr()         {}
func (n *Name) expr()         {}
func (n *Assign) expr()       {}
func (n *Binary) expr()       {}
func (n *Logical) expr()      {}
func (n *Unary) expr()        {}
func (n *Update) expr()       {}
func (n *Conditional) expr()  {}
func (n *Call) expr()         {}
func (n *New) expr()          {}
func (n *Member) expr()       {}
func (n *Index) expr()        {}
func (n *ArrayLit) expr()     {}
func (n *ObjectLit) expr()    {}
func (n *FunctionExpr) expr() {}
func (n *Yield) expr()        {}
func (n *Sequence) expr()     {}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// BinaryOp is a binary operator.
type BinaryOp int

const (
	NoOp BinaryOp = iota
	Add
	Sub
	Mul
	Div
	Mod
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
	UShr
	Eq
	Ne
	StrictEq
	StrictNe
	Lt
	Le
	Gt
	Ge
	In
	InstanceOf
)

// UnaryOp is a prefix operator.
type UnaryOp int

const (
	Neg UnaryOp = iota
	Pos
	Not
	BitNot
	Typeof
	Void
	Delete
)
