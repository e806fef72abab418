package reach

import "github.com/velalang/velac/internal/ast"

// TypeRef is a resolved-type descriptor a front end attaches to an AST node
// via Node.Data(); this package never resolves types itself (spec.md §6
// treats the tree as already fully checked), it only consumes what's
// already hanging off the node.
type TypeRef struct {
	TypeID  string
	IsTrait bool
	// Traits lists every trait/interface this type is already known to
	// satisfy, so AddType/AddSubtype can restore that symmetry the moment
	// the type first enters the graph, mirroring add_type's "traits are
	// never discovered after the fact" invariant in reach.c.
	Traits []string
}

// CallRef is attached to a Call or FFICall node: the statically resolved
// callee, enough to enqueue its body without re-deriving overload
// resolution here. Mirrors reachable_call / reachable_ffi's use of the
// already-typechecked postfix/arg ast_t nodes in reach.c.
type CallRef struct {
	Receiver TypeRef
	ShortName string
	FullName  string
	Kind      MethodKind
	Params    []TypeRef
	Return    *TypeRef
	Body      ast.Node
}

// FieldRef is attached to an FVar, FLet, or Embed node: the type of the
// field being declared, mirrored from TK_LET/TK_VAR/TK_EMBEDREF's
// deferred_reify(ast_type(ast), ...) call in reachable_expr.
type FieldRef struct {
	Type TypeRef
}

// LiteralRef is attached to any node carrying a literal value (true,
// false, an integer, a float, a string). ast.Kind has no dedicated
// literal tag, so literals are recognised structurally: a node with a
// *LiteralRef in Data() is treated as one regardless of Kind(), the same
// way reachable_expr's TK_TRUE/FALSE/INT/FLOAT/STRING cases all funnel
// into a single reachable_method(r, reify, type, stringtab("create"), ...)
// call on the literal's own type.
type LiteralRef struct {
	Type TypeRef
}

// addTypeRef registers ref's type (and, if it's new to the graph, every
// trait it's already known to satisfy) and returns the resulting Type.
func addTypeRef(g *Graph, ref TypeRef) *Type {
	_, existed := g.Lookup(ref.TypeID)
	t := g.AddType(ref.TypeID, ref.IsTrait)
	if existed {
		return t
	}
	for _, traitID := range ref.Traits {
		trait := g.AddType(traitID, true)
		g.AddSubtype(t, trait)
	}
	return t
}

// handleCall adds the callee's receiver type, reifies the callee method
// onto it, enqueues its body, and adds every parameter/return type —
// reachable_call/reachable_fun's shape: add the type, then
// reachable_method to add (and schedule) the method itself.
func handleCall(g *Graph, ref *CallRef) {
	recv := addTypeRef(g, ref.Receiver)

	m := &Method{
		ShortName:  ref.ShortName,
		FullName:   ref.FullName,
		Kind:       ref.Kind,
		VtableIndex: -1,
		AST:        ref.Body,
	}
	for _, p := range ref.Params {
		m.ParamTypes = append(m.ParamTypes, addTypeRef(g, p))
	}
	if ref.Return != nil {
		m.ReturnType = addTypeRef(g, *ref.Return)
	}

	g.EnqueueMethod(recv, m)
}

// addLiteral adds a literal's type to the graph. In the original this is
// reachable_method(r, reify, type, stringtab("create"), NULL, opt): a
// literal's type is added as reachable but its constructor isn't walked
// here (a literal type's create() has no user body to traverse), so this
// only needs AddType, not a full EnqueueMethod.
func addLiteral(g *Graph, ref *LiteralRef) {
	addTypeRef(g, ref.Type)
}

// walkNode inspects one AST node per spec.md §4.4's body-walk rules and
// always recurses into children, mirroring reachable_expr's default case
// of recursing into every child when the node itself isn't one of the
// handled forms.
func walkNode(g *Graph, n ast.Node) {
	// Dispatch on Data()'s concrete type rather than Kind(): Call/FFICall
	// nodes carry a *CallRef, FVar/FLet/Embed carry a *FieldRef, and a
	// literal — which ast.Kind has no dedicated tag for — carries a
	// *LiteralRef regardless of which Kind it was built with. This is the
	// Go-side version of reachable_expr's switch, just keyed on the
	// resolved payload instead of a literal TK_* tag that doesn't exist
	// here.
	switch ref := n.Data().(type) {
	case *CallRef:
		handleCall(g, ref)
	case *FieldRef:
		addTypeRef(g, ref.Type)
	case *LiteralRef:
		addLiteral(g, ref)
	}

	for _, child := range n.Children() {
		walkNode(g, child)
	}
}

// DefaultWalker is the concrete Walker this package ships: it walks m's
// AST body (if any — a method without one, e.g. an FFI declaration with
// no Pony-level body, contributes only what handleCall already added from
// its call site) adding every callee method, literal type, and field type
// it finds along the way.
func DefaultWalker(g *Graph, recv *Type, m *Method) {
	if m.AST == nil {
		return
	}
	walkNode(g, m.AST)
}
