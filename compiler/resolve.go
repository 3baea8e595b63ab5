package compiler

// ---------------------------------------------------------------------------
// Resolution: declarations and variable storage, before code generation
// ---------------------------------------------------------------------------

// resolution is the variable layout of one function.
type resolution struct {
	names      []string // params first, then vars
	consts     []bool
	index      map[string]int
	activation bool
}

// slot returns the variable slot for name, or -1 when name must be looked
// up through the scope chain.
func (r *resolution) slot(name string) int {
	if r.activation {
		return -1
	}
	if i, ok := r.index[name]; ok {
		return i
	}
	return -1
}

// resolve collects fn's declarations and decides whether its variables can
// live in frame slots. fn is not modified. Scripts always bind by name. A
// function needs an activation object when a nested function refers to one
// of its variables, or when its body contains a with statement.
func resolve(fn *Function) *resolution {
	r := &resolution{index: make(map[string]int)}
	declare := func(name string, isConst bool) {
		if _, ok := r.index[name]; ok {
			return
		}
		r.index[name] = len(r.names)
		r.names = append(r.names, name)
		r.consts = append(r.consts, isConst)
	}
	for _, p := range fn.Params {
		declare(p, false)
	}
	for _, v := range fn.Vars {
		declare(v.Name, v.Const)
	}

	hasWith := false
	for _, s := range fn.Body {
		inspect(s, func(n Node) bool {
			switch n := n.(type) {
			case *VarDecl:
				declare(n.Name, n.Const)
			case *FunctionDecl:
				declare(n.Func.Name, false)
				return false
			case *Try:
				if n.Catch != nil && n.CatchVar != "" {
					declare(n.CatchVar, false)
				}
			case *With:
				hasWith = true
			case *FunctionExpr:
				return false
			}
			return true
		})
	}

	r.activation = fn.IsScript || fn.NeedsActivation || hasWith
	if !r.activation {
		free := make(map[string]bool)
		for _, s := range fn.Body {
			inspect(s, func(n Node) bool {
				switch n := n.(type) {
				case *FunctionDecl:
					freeNames(n.Func, free)
					return false
				case *FunctionExpr:
					freeNames(n.Func, free)
					return false
				}
				return true
			})
		}
		for name := range free {
			if _, ok := r.index[name]; ok {
				r.activation = true
				break
			}
		}
	}
	return r
}

// freeNames adds every identifier referenced in fn or its nested functions.
// Shadowing is ignored, which can only force an activation object where
// none was needed.
func freeNames(fn *Function, out map[string]bool) {
	for _, s := range fn.Body {
		inspect(s, func(n Node) bool {
			switch n := n.(type) {
			case *Name:
				out[n.Name] = true
			case *FunctionDecl:
				freeNames(n.Func, out)
				return false
			case *FunctionExpr:
				freeNames(n.Func, out)
				return false
			}
			return true
		})
	}
}

// inspect walks the tree rooted at n in depth-first order, calling visit
// for each node. Children are skipped when visit returns false. Nested
// function bodies are never entered.
func inspect(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	walkStmt := func(s Stmt) {
		if s != nil {
			inspect(s, visit)
		}
	}
	walkExpr := func(e Expr) {
		if e != nil {
			inspect(e, visit)
		}
	}
	switch n := n.(type) {
	case *ExprStmt:
		walkExpr(n.X)
	case *VarDecl:
		walkExpr(n.Init)
	case *Block:
		for _, s := range n.List {
			walkStmt(s)
		}
	case *If:
		walkExpr(n.Cond)
		walkStmt(n.Then)
		walkStmt(n.Else)
	case *While:
		walkExpr(n.Cond)
		walkStmt(n.Body)
	case *DoWhile:
		walkStmt(n.Body)
		walkExpr(n.Cond)
	case *For:
		walkStmt(n.Init)
		walkExpr(n.Cond)
		walkExpr(n.Update)
		walkStmt(n.Body)
	case *ForIn:
		if n.Target != nil {
			inspect(n.Target, visit)
		}
		walkExpr(n.Object)
		walkStmt(n.Body)
	case *Labeled:
		walkStmt(n.Body)
	case *Return:
		walkExpr(n.Value)
	case *Throw:
		walkExpr(n.Value)
	case *Try:
		if n.Body != nil {
			walkStmt(n.Body)
		}
		if n.Catch != nil {
			walkStmt(n.Catch)
		}
		if n.Finally != nil {
			walkStmt(n.Finally)
		}
	case *Switch:
		walkExpr(n.Discriminant)
		for _, c := range n.Cases {
			walkExpr(c.Test)
			for _, s := range c.Body {
				walkStmt(s)
			}
		}
	case *With:
		walkExpr(n.Object)
		walkStmt(n.Body)
	case *Assign:
		walkExpr(n.Target)
		walkExpr(n.Value)
	case *Binary:
		walkExpr(n.Left)
		walkExpr(n.Right)
	case *Logical:
		walkExpr(n.Left)
		walkExpr(n.Right)
	case *Unary:
		walkExpr(n.X)
	case *Update:
		walkExpr(n.Target)
	case *Conditional:
		walkExpr(n.Test)
		walkExpr(n.Then)
		walkExpr(n.Else)
	case *Call:
		walkExpr(n.Callee)
		for _, a := range n.Args {
			walkExpr(a)
		}
	case *New:
		walkExpr(n.Callee)
		for _, a := range n.Args {
			walkExpr(a)
		}
	case *Member:
		walkExpr(n.Object)
	case *Index:
		walkExpr(n.Object)
		walkExpr(n.Index)
	case *ArrayLit:
		for _, e := range n.Elements {
			walkExpr(e)
		}
	case *ObjectLit:
		for _, p := range n.Properties {
			walkExpr(p.Value)
		}
	case *Yield:
		walkExpr(n.Value)
	case *Sequence:
		for _, e := range n.List {
			walkExpr(e)
		}
	}
}
