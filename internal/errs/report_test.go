package errs

import (
	"strings"
	"testing"
)

func TestReportErrorIncludesKindLocationAndNotes(t *testing.T) {
	loc := Location{File: "main.vl", Line: 12, Column: 4}
	r := New(Type, loc, "cannot assign iso to val").
		WithNote(Location{File: "main.vl", Line: 9, Column: 1}, "declared here")

	msg := r.Error()
	for _, want := range []string{"main.vl:12:4", "type", "cannot assign iso to val", "declared here"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestBatchAddCollectsNonInternalReports(t *testing.T) {
	var b Batch
	b.Add(New(Lex, Location{Line: 1}, "unexpected rune"))
	b.Add(New(Parse, Location{Line: 2}, "expected ')'"))

	if !b.HasErrors() {
		t.Fatalf("expected HasErrors() true after two Adds")
	}
	if len(b.Reports()) != 2 {
		t.Fatalf("len(Reports()) = %d, want 2", len(b.Reports()))
	}
}

func TestBatchAddPanicsOnInternalReport(t *testing.T) {
	var b Batch
	var caught *Report

	func() {
		defer Recover(&caught)
		b.Add(InternalErr(Location{}, errAssertionStub, "unreachable state"))
	}()

	if caught == nil {
		t.Fatalf("expected Recover to catch the panicked internal Report")
	}
	if caught.Kind != Internal {
		t.Fatalf("caught.Kind = %v, want Internal", caught.Kind)
	}
	if caught.Cause() == nil {
		t.Fatalf("expected Cause() to carry the wrapped error")
	}
}

type stubErr string

func (e stubErr) Error() string { return string(e) }

var errAssertionStub = stubErr("invariant violated")
