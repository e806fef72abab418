// Package reach implements C4: construction of the reachability graph from
// a fully checked AST and a set of entry methods, by breadth-first
// traversal of the call graph.
//
// Grounded on _examples/original_source/src/libponyc/reach/reach.c (read in
// full for its overall shape: a worklist of (type, method) pairs, a
// reachable-types table keyed by mangled type id, each type holding a
// nested table of method-name -> reified methods) and on
// _examples/original_source/src/libponyc/reach/subtype.c for the
// bidirectional subtype-registration shape. The original's 2000+ lines are
// mostly Pony-specific type reification and capability checking that sits
// upstream of this package's input (spec.md §6 treats the AST as already
// fully checked); what is carried over here is the graph-construction
// algorithm spec.md §4.4 describes: the worklist, the method naming
// scheme, the trait/subtype symmetry, and tuple synthesis.
package reach

import (
	"strings"

	"github.com/velalang/velac/internal/ast"
	"github.com/velalang/velac/internal/xdebug"
)

// MethodKind distinguishes the three callable forms a type can expose.
type MethodKind int

const (
	MethodFun MethodKind = iota
	MethodBe
	MethodNew
)

// Method is one reified (type-argument-substituted) method reachable on
// some type, under some receiver capability.
type Method struct {
	// ShortName is "cap_shortname[_A1_A2]" — the key within a type's
	// method group.
	ShortName string
	// FullName is "pkg_Type[_A1_A2]_cap_shortname[_A1_A2]_args_result" —
	// the externally visible, globally unique symbol.
	FullName string
	Kind     MethodKind
	// Forwarding is set when this method was installed on a concrete type
	// because the type satisfies a trait/interface that declares it,
	// rather than because the type itself defines it; the painter must
	// still see it so dispatch through the trait works.
	Forwarding bool
	// VtableIndex is assigned by internal/paint; -1 until painted.
	VtableIndex int
	AST         ast.Node
	ParamTypes  []*Type
	ReturnType  *Type
}

// MethodGroup holds every reified Method sharing one short name on one
// type — normally just one, but a generic method instantiated at several
// type arguments produces siblings that must be painted identically.
type MethodGroup struct {
	ShortName string
	Methods   []*Method
}

// Type is one reachable, fully-reified type: a concrete class/actor/
// primitive/struct, a trait/interface (reachable only as a dispatch
// target, never instantiated), or a synthetic tuple type.
type Type struct {
	// ID is the mangled type id ("pkg_Type[_A1_A2]"), unique per distinct
	// reification; union/intersection types with the same structural
	// members share an ID.
	ID      string
	IsTrait bool
	// Tuple holds the element types when this Type is a synthesized
	// tuple; nil otherwise.
	Tuple []*Type

	// Methods is keyed by short name; see MethodGroup.
	Methods map[string]*MethodGroup
	// methodOrder preserves insertion order for deterministic painting,
	// mirroring the original's name_next linked-list append order.
	methodOrder []string

	// Subtypes is the bidirectional "satisfies" set: for a concrete type
	// it holds every trait/interface/union it has been registered
	// against; for a trait it holds every concrete type registered as
	// satisfying it.
	Subtypes map[string]*Type

	// VtableSize is assigned by internal/paint.
	VtableSize int

	AST ast.Node
}

func newType(id string, isTrait bool) *Type {
	return &Type{ID: id, IsTrait: isTrait, Methods: make(map[string]*MethodGroup), Subtypes: make(map[string]*Type)}
}

// addMethod installs a reified method under its short name, creating the
// name's MethodGroup on first use. Returns the Method (possibly one
// already present with the same full name, left untouched).
func (t *Type) addMethod(m *Method) *Method {
	g, ok := t.Methods[m.ShortName]
	if !ok {
		g = &MethodGroup{ShortName: m.ShortName}
		t.Methods[m.ShortName] = g
		t.methodOrder = append(t.methodOrder, m.ShortName)
	}
	for _, existing := range g.Methods {
		if existing.FullName == m.FullName {
			return existing
		}
	}
	g.Methods = append(g.Methods, m)
	return m
}

// MethodNames returns this type's method short names in the order they
// were first added, for deterministic iteration (the painter depends on a
// stable but otherwise arbitrary order across runs of the same program).
func (t *Type) MethodNames() []string {
	out := make([]string, len(t.methodOrder))
	copy(out, t.methodOrder)
	return out
}

// Graph is the full reachability graph: every type and method transitively
// reachable from the program's entry methods.
type Graph struct {
	types      map[string]*Type
	typeOrder  []string
	worklist   []pendingMethod
	onType     func(*Type)
	resolveMethod func(recv *Type, shortName string, site ast.Node) *Method
}

type pendingMethod struct {
	recv *Type
	m    *Method
}

// New creates an empty reachability graph.
func New() *Graph {
	return &Graph{types: make(map[string]*Type)}
}

// Types returns every reachable type, in first-reached order.
func (g *Graph) Types() []*Type {
	out := make([]*Type, len(g.typeOrder))
	for i, id := range g.typeOrder {
		out[i] = g.types[id]
	}
	return out
}

// Len returns the number of reachable types.
func (g *Graph) Len() int { return len(g.typeOrder) }

// Lookup returns the reachable type with the given mangled id, if any.
func (g *Graph) Lookup(id string) (*Type, bool) {
	t, ok := g.types[id]
	return t, ok
}

// AddType registers id as reachable if it is not already, returning the
// (possibly freshly created) Type. Adding a type is symmetric with respect
// to traits: if id already has recorded subtype relationships from an
// earlier AddSubtype call (it was reached as a trait target before being
// reached as a concrete type, or vice-versa), those relationships persist.
func (g *Graph) AddType(id string, isTrait bool) *Type {
	if t, ok := g.types[id]; ok {
		return t
	}
	t := newType(id, isTrait)
	g.types[id] = t
	g.typeOrder = append(g.typeOrder, id)
	return t
}

// AddTuple registers a synthetic tuple type with one field per element,
// per spec.md §4.4 ("Tuples are added as synthetic types with one field
// per element"). The id is derived deterministically from the element ids
// so that two call sites producing the same tuple shape share one Type.
func (g *Graph) AddTuple(elems []*Type) *Type {
	ids := make([]string, len(elems))
	for i, e := range elems {
		ids[i] = e.ID
	}
	id := "(" + strings.Join(ids, ", ") + ")"
	t := g.AddType(id, false)
	if t.Tuple == nil {
		t.Tuple = elems
	}
	return t
}

// AddSubtype registers that concrete satisfies trait, symmetrically:
// trait gains concrete in its Subtypes set and concrete gains trait in
// its own. If trait was already reachable with methods of its own (it is
// itself used as a dispatch target), every one of trait's methods is
// retroactively installed on concrete as a forwarding method, and queued
// for the worklist so its body is (if not already) made reachable too —
// this is the "adding a trait retroactively adds every already-reachable
// subtype's matching method under the trait" rule from spec.md §4.4,
// applied in the direction that keeps it symmetric no matter which side
// is added to the graph first.
func (g *Graph) AddSubtype(concrete, trait *Type) {
	if _, ok := trait.Subtypes[concrete.ID]; ok {
		return
	}
	trait.Subtypes[concrete.ID] = concrete
	concrete.Subtypes[trait.ID] = trait
	xdebug.Assertf(concrete.Subtypes[trait.ID] == trait && trait.Subtypes[concrete.ID] == concrete,
		"reach: AddSubtype(%s, %s) failed to register symmetrically", concrete.ID, trait.ID)

	for _, name := range trait.MethodNames() {
		group := trait.Methods[name]
		for _, tm := range group.Methods {
			fwd := &Method{
				ShortName:  tm.ShortName,
				FullName:   strings.Replace(tm.FullName, trait.ID, concrete.ID, 1),
				Kind:       tm.Kind,
				Forwarding: true,
				VtableIndex: -1,
				AST:        tm.AST,
				ParamTypes: tm.ParamTypes,
				ReturnType: tm.ReturnType,
			}
			installed := concrete.addMethod(fwd)
			g.worklist = append(g.worklist, pendingMethod{recv: concrete, m: installed})
		}
	}
}

// Walker is supplied by the caller to drive the BFS: given a receiver type
// and a method already installed on it (its AST, if any, is on Method.AST),
// Walk must add every further reachable type/method the method's body
// uses (parameter/return types, call sites, literals, field accesses) by
// calling back into the Graph (AddType, AddSubtype, EnqueueMethod, ...).
// Keeping this as a caller-supplied hook is what lets this package stay
// independent of the concrete type-checker/resolver producing the AST.
type Walker func(g *Graph, recv *Type, m *Method)

// EnqueueMethod installs m on recv (if not already present under its full
// name) and schedules its body for traversal.
func (g *Graph) EnqueueMethod(recv *Type, m *Method) *Method {
	installed := recv.addMethod(m)
	g.worklist = append(g.worklist, pendingMethod{recv: recv, m: installed})
	return installed
}

// Run drains the worklist, calling walk for every (type, method) pair
// exactly once per distinct full name — the same termination argument as
// the original: the universe of (type, method-name, capability, type-args)
// tuples is finite in a well-typed program, and addMethod dedups on full
// name, so each pair is walked at most once.
func (g *Graph) Run(walk Walker) {
	visited := make(map[string]bool)
	for len(g.worklist) > 0 {
		item := g.worklist[0]
		g.worklist = g.worklist[1:]

		key := item.recv.ID + "#" + item.m.FullName
		if visited[key] {
			continue
		}
		visited[key] = true

		walk(g, item.recv, item.m)
	}
}

// MangleShortName builds "cap_shortname[_A1_A2]" per spec.md §4.4.
func MangleShortName(cap string, name string, typeArgs []string) string {
	s := cap + "_" + name
	for _, a := range typeArgs {
		s += "_" + a
	}
	return s
}

// MangleFullName builds
// "pkg_Type[_A1_A2]_cap_shortname[_A1_A2]_args_result" per spec.md §4.4.
func MangleFullName(pkg, typeName string, typeTypeArgs []string, cap, methodName string, methodTypeArgs []string, argTypes []string, resultType string) string {
	var b strings.Builder
	b.WriteString(pkg)
	b.WriteByte('_')
	b.WriteString(typeName)
	for _, a := range typeTypeArgs {
		b.WriteByte('_')
		b.WriteString(a)
	}
	b.WriteByte('_')
	b.WriteString(MangleShortName(cap, methodName, methodTypeArgs))
	if len(argTypes) > 0 {
		b.WriteByte('_')
		b.WriteString(strings.Join(argTypes, "_"))
	}
	b.WriteByte('_')
	b.WriteString(resultType)
	return b.String()
}
