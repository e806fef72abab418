// Package ast defines the opaque tagged-tree interface that C4/C5 consume,
// per spec.md §6 ("External interfaces"): the lexer, parser, and full
// checker that produce this tree are out of scope here. This package
// carries only the shape the reachability graph and painter need: a kind
// tag, child and parent navigation (there is no sibling accessor), an
// optional per-scope symbol table, literal accessors, and a generic
// definition pointer.
//
// Grounded on the Kind set enumerated in spec.md §6 and, for shape, on
// _examples/original_source/src/libponyc/ast/ast.h's ast_t accessor
// surface (ast_child, ast_sibling, ast_parent, ast_data, ast_get — reduced
// to what C4/C5 actually call).
package ast

import "github.com/velalang/velac/internal/symtab"

// Kind tags a Node. Only the kinds spec.md §6 names the core as depending
// on are represented; a real front end would carry many more.
type Kind int

const (
	Program Kind = iota
	Package
	Module
	Class
	Actor
	Primitive
	Struct
	Trait
	Interface
	TypeDecl
	Nominal
	UnionType
	IsectType
	TupleType
	Fun
	Be
	New
	FVar
	FLet
	Embed
	Call
	FFICall
	Match
	If
	While
	Repeat
	For
	Try
)

func (k Kind) String() string {
	switch k {
	case Program:
		return "PROGRAM"
	case Package:
		return "PACKAGE"
	case Module:
		return "MODULE"
	case Class:
		return "CLASS"
	case Actor:
		return "ACTOR"
	case Primitive:
		return "PRIMITIVE"
	case Struct:
		return "STRUCT"
	case Trait:
		return "TRAIT"
	case Interface:
		return "INTERFACE"
	case TypeDecl:
		return "TYPE"
	case Nominal:
		return "NOMINAL"
	case UnionType:
		return "UNIONTYPE"
	case IsectType:
		return "ISECTTYPE"
	case TupleType:
		return "TUPLETYPE"
	case Fun:
		return "FUN"
	case Be:
		return "BE"
	case New:
		return "NEW"
	case FVar:
		return "FVAR"
	case FLet:
		return "FLET"
	case Embed:
		return "EMBED"
	case Call:
		return "CALL"
	case FFICall:
		return "FFICALL"
	case Match:
		return "MATCH"
	case If:
		return "IF"
	case While:
		return "WHILE"
	case Repeat:
		return "REPEAT"
	case For:
		return "FOR"
	case Try:
		return "TRY"
	default:
		return "UNKNOWN"
	}
}

// Node is the opaque tree interface C4/C5 traverse. It is satisfied by
// *Tree here, and would be satisfied by a real parser's node type in a
// complete front end.
type Node interface {
	Kind() Kind
	Children() []Node
	Parent() Node
	// Symtab returns this node's scope, or nil if it introduces no scope
	// of its own (most node kinds don't).
	Symtab() *symtab.Table[Node]
	// Data is a generic slot for attaching a pointer to this node's
	// definition (e.g. a CALL node's resolved target method), mirroring
	// ast_data/ast_setdata.
	Data() any
	SetData(any)
	StringValue() string
	IntValue() int64
	FloatValue() float64
}

// Tree is a constructible Node, used by tests and by any front end that
// wants a ready-made implementation instead of rolling its own.
type Tree struct {
	kind     Kind
	parent   *Tree
	children []*Tree
	scope    *symtab.Table[Node]
	data     any
	str      string
	ival     int64
	fval     float64
}

// NewTree creates a detached node of the given kind.
func NewTree(kind Kind) *Tree {
	return &Tree{kind: kind}
}

// Append adds child as the last child of t, wiring up its parent pointer.
func (t *Tree) Append(child *Tree) *Tree {
	child.parent = t
	t.children = append(t.children, child)
	return t
}

// WithScope attaches a symbol table to t.
func (t *Tree) WithScope(s *symtab.Table[Node]) *Tree {
	t.scope = s
	return t
}

// WithString sets a string literal payload and returns t for chaining.
func (t *Tree) WithString(s string) *Tree { t.str = s; return t }

// WithInt sets an integer literal payload and returns t for chaining.
func (t *Tree) WithInt(i int64) *Tree { t.ival = i; return t }

// WithFloat sets a float literal payload and returns t for chaining.
func (t *Tree) WithFloat(f float64) *Tree { t.fval = f; return t }

func (t *Tree) Kind() Kind { return t.kind }

func (t *Tree) Children() []Node {
	out := make([]Node, len(t.children))
	for i, c := range t.children {
		out[i] = c
	}
	return out
}

func (t *Tree) Parent() Node {
	if t.parent == nil {
		return nil
	}
	return t.parent
}

func (t *Tree) Symtab() *symtab.Table[Node] { return t.scope }
func (t *Tree) Data() any                   { return t.data }
func (t *Tree) SetData(d any)               { t.data = d }
func (t *Tree) StringValue() string         { return t.str }
func (t *Tree) IntValue() int64             { return t.ival }
func (t *Tree) FloatValue() float64         { return t.fval }
