// Package symtab implements C3: a per-scope symbol table mapping an
// interned name to a definition handle plus a status, with case-insensitive
// collision detection and the branch-merge semantics used by flow-typing.
//
// Grounded line-for-line on
// _examples/original_source/src/libponyc/ast/symtab.c. The original keys
// its hashmap on the interned name's pointer identity (sym_hash/sym_cmp);
// here the interned handle's value equality plays the same role, since
// internal/intern guarantees one canonical Name per distinct byte string.
package symtab

import (
	"strings"
	"unicode"

	"github.com/OneOfOne/xxhash"

	"github.com/velalang/velac/internal/container/hashmap"
	"github.com/velalang/velac/internal/intern"
)

// Status is a symbol's definite-assignment status, mirroring sym_status_t.
type Status int

const (
	// StatusNone is returned for a name with no entry at all.
	StatusNone Status = iota
	StatusUndefined
	StatusDefined
	StatusConsumed
	// StatusNoCase marks the synthetic case-folded shadow entry inserted by
	// Add to reserve a name's case-insensitive variants; it is never
	// returned as the status of a real lookup (Find hides it).
	StatusNoCase
)

type entry[D any] struct {
	name        intern.Name
	def         D
	hasDef      bool
	status      Status
	branchCount int
}

// Table is a single lexical scope's symbol table. D is the type of a
// definition handle (an AST node pointer in the original; here, whatever
// the caller's reachability/resolution layer uses — see internal/ast.Node
// for the concrete instantiation used by internal/reach).
type Table[D any] struct {
	syms *hashmap.Map[intern.Name, *entry[D]]
}

func nameHash(n intern.Name) uint64 {
	return xxhash.ChecksumString64(n.String())
}

func nameEq(a, b intern.Name) bool { return a == b }

// New creates an empty symbol table.
func New[D any]() *Table[D] {
	return &Table[D]{syms: hashmap.New[intern.Name, *entry[D]](8, nameHash, nameEq)}
}

// isNameType reports whether name denotes a type (as opposed to a value):
// its first character, skipping at most one leading underscore used for
// privacy, is an uppercase letter.
func isNameType(name string) bool {
	s := name
	if strings.HasPrefix(s, "_") {
		s = s[1:]
	}
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// isNamePrivate reports whether name is private (begins with an underscore).
func isNamePrivate(name string) bool {
	return strings.HasPrefix(name, "_")
}

// nameWithoutCase returns the case-folded shadow name used to detect
// cross-namespace collisions: type names fold to upper case, value names to
// lower case. It returns name unchanged (same handle) when folding is a
// no-op, exactly like name_without_case returning the same pointer.
func nameWithoutCase(name intern.Name) intern.Name {
	s := name.String()
	var folded string
	if isNameType(s) {
		folded = strings.ToUpper(s)
	} else {
		folded = strings.ToLower(s)
	}
	if folded == s {
		return name
	}
	return intern.Intern(folded)
}

// Add inserts name with the given definition and status. It fails (returns
// false) if name is already present, or if a case-folded variant of name is
// already reserved by a name in the other namespace.
func (t *Table[D]) Add(name intern.Name, def D, hasDef bool, status Status) bool {
	noCase := nameWithoutCase(name)

	if noCase != name {
		if _, ok := t.syms.Get(noCase); ok {
			return false
		}
		var zero D
		t.syms.Put(noCase, &entry[D]{name: noCase, def: zero, hasDef: false, status: StatusNoCase})
	}

	if _, ok := t.syms.Get(name); ok {
		return false
	}
	t.syms.Put(name, &entry[D]{name: name, def: def, hasDef: hasDef, status: status})
	return true
}

// Find returns the definition and status for name. ok is false if name has
// no entry, or if its only entry is a case-folding shadow (StatusNoCase).
func (t *Table[D]) Find(name intern.Name) (def D, status Status, ok bool) {
	e, found := t.syms.Get(name)
	if !found {
		return def, StatusNone, false
	}
	if e.status == StatusNoCase {
		return def, StatusNoCase, false
	}
	return e.def, e.status, true
}

// FindCase is Find, but additionally matches the case-folded variant of
// name when no exact entry exists — used to detect a prior declaration that
// only differs by letter case.
func (t *Table[D]) FindCase(name intern.Name) (def D, status Status, ok bool) {
	if e, found := t.syms.Get(name); found {
		return e.def, e.status, true
	}

	noCase := nameWithoutCase(name)
	if noCase != name {
		return t.FindCase(noCase)
	}

	return def, StatusNone, false
}

// SetStatus sets name's status, creating a def-less entry if none exists.
func (t *Table[D]) SetStatus(name intern.Name, status Status) {
	if e, ok := t.syms.Get(name); ok {
		e.status = status
		return
	}
	var zero D
	t.syms.Put(name, &entry[D]{name: name, def: zero, hasDef: false, status: status})
}

// forEach walks every live entry via the hashmap's external iterator.
func (t *Table[D]) forEach(fn func(*entry[D])) {
	for i := hashmap.Begin; ; {
		_, e, ok := t.syms.Next(&i)
		if !ok {
			return
		}
		fn(e)
	}
}

// InheritStatus copies the status of src's outer-scope entries (those with
// no definition of their own) into dst, adding any missing entries.
func (t *Table[D]) InheritStatus(src *Table[D]) {
	src.forEach(func(sym *entry[D]) {
		if sym.hasDef {
			return
		}
		if dsym, ok := t.syms.Get(sym.name); ok {
			dsym.status = sym.status
		} else {
			t.syms.Put(sym.name, &entry[D]{name: sym.name, status: sym.status})
		}
	})
}

// InheritBranch merges src, a single control-flow branch's outer-scope
// entries, into dst, which accumulates the merge across all branches seen
// so far:
//   - an entry DEFINED in every branch merged so far stays DEFINED;
//   - otherwise it is UNDEFINED with a count of how many branches defined it;
//   - an entry CONSUMED in any branch is CONSUMED in the merge, permanently.
func (t *Table[D]) InheritBranch(src *Table[D]) {
	src.forEach(func(sym *entry[D]) {
		if sym.hasDef {
			return
		}

		dsym, ok := t.syms.Get(sym.name)
		if ok {
			switch sym.status {
			case StatusDefined:
				if dsym.status == StatusDefined || dsym.status == StatusUndefined {
					dsym.branchCount++
				}
			case StatusUndefined:
				if dsym.status == StatusDefined {
					dsym.status = StatusUndefined
				}
			case StatusConsumed:
				dsym.status = StatusConsumed
				dsym.branchCount = 0
			}
			return
		}

		cp := &entry[D]{name: sym.name, status: sym.status}
		if cp.status == StatusDefined {
			cp.branchCount = 1
		}
		t.syms.Put(sym.name, cp)
	})
}

// CanMergePublic reports whether MergePublic(dst, src) would succeed,
// without mutating dst: every public, non-case-shadow entry of src (other
// than the conventional "Main" entry point name) must not already collide,
// case-insensitively, with an entry in dst.
func (t *Table[D]) CanMergePublic(src *Table[D]) bool {
	ok := true
	src.forEach(func(sym *entry[D]) {
		if !ok {
			return
		}
		if isNamePrivate(sym.name.String()) || sym.status == StatusNoCase || sym.name.String() == "Main" {
			return
		}
		if _, _, found := t.FindCase(sym.name); found {
			ok = false
		}
	})
	return ok
}

// MergePublic adds every public, non-case-shadow entry of src (other than
// "Main") into dst via Add, stopping and returning false at the first
// collision.
func (t *Table[D]) MergePublic(src *Table[D]) bool {
	ok := true
	src.forEach(func(sym *entry[D]) {
		if !ok {
			return
		}
		if isNamePrivate(sym.name.String()) || sym.status == StatusNoCase || sym.name.String() == "Main" {
			return
		}
		if !t.Add(sym.name, sym.def, sym.hasDef, sym.status) {
			ok = false
		}
	})
	return ok
}

// Len returns the number of entries, including case-folding shadows.
func (t *Table[D]) Len() int { return t.syms.Len() }

// Dup returns an independent copy of t.
func (t *Table[D]) Dup() *Table[D] {
	n := New[D]()
	t.forEach(func(sym *entry[D]) {
		cp := *sym
		n.syms.Put(cp.name, &cp)
	})
	return n
}
