package rex

import (
	"bytes"
	"sort"
	"testing"

	"github.com/bytesentry/rulecore/hir"
)

func mustCompile(t *testing.T, e hir.Expr) *Program {
	t.Helper()
	prog, err := Compile(e, CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return prog
}

func atomStrings(atoms []RegexpAtom) []string {
	var out []string
	for _, a := range atoms {
		out = append(out, string(a.Atom.Bytes))
	}
	sort.Strings(out)
	return out
}

func TestCompileLiteralExact(t *testing.T) {
	e := hir.Literal{Bytes: []byte("abcd")}
	prog := mustCompile(t, e)

	if len(prog.Atoms) != 1 {
		t.Fatalf("atoms = %d, want 1", len(prog.Atoms))
	}
	a := prog.Atoms[0]
	if !bytes.Equal(a.Atom.Bytes, []byte("abcd")) {
		t.Errorf("atom bytes = %q, want %q", a.Atom.Bytes, "abcd")
	}
	if !a.Atom.Exact {
		t.Errorf("atom should be exact: whole literal, within cap")
	}

	if prog.Forward[len(prog.Forward)-1] != byte(OpMatch) {
		t.Errorf("forward stream must end in MATCH")
	}
	if prog.Backward[len(prog.Backward)-1] != byte(OpMatch) {
		t.Errorf("backward stream must end in MATCH")
	}
}

func TestCompileLiteralCappedInexact(t *testing.T) {
	e := hir.Literal{Bytes: []byte("abcde")}
	prog := mustCompile(t, e)

	if len(prog.Atoms) != 1 {
		t.Fatalf("atoms = %d, want 1", len(prog.Atoms))
	}
	a := prog.Atoms[0]
	if !bytes.Equal(a.Atom.Bytes, []byte("abcd")) {
		t.Errorf("atom bytes = %q, want %q (length cap)", a.Atom.Bytes, "abcd")
	}
	if a.Atom.Exact {
		t.Errorf("atom truncated by length cap must be inexact")
	}
}

func TestCompileAlternationPerBranchAtoms(t *testing.T) {
	e := hir.Alternate{Subs: []hir.Expr{
		hir.Literal{Bytes: []byte("ab")},
		hir.Literal{Bytes: []byte("cd")},
		hir.Literal{Bytes: []byte("ef")},
	}}
	prog := mustCompile(t, e)

	got := atomStrings(prog.Atoms)
	want := []string{"ab", "cd", "ef"}
	if len(got) != len(want) {
		t.Fatalf("atoms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("atoms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, a := range prog.Atoms {
		if a.Atom.Exact {
			t.Errorf("branch atom %q of a bare top-level alternation should be inexact: entering any branch still took an unconfirmed SPLIT decision", a.Atom.Bytes)
		}
	}
}

func TestCompilePrefixedAlternation(t *testing.T) {
	e := hir.Concat{Subs: []hir.Expr{
		hir.Literal{Bytes: []byte("1")},
		hir.Alternate{Subs: []hir.Expr{
			hir.Literal{Bytes: []byte("ab")},
			hir.Literal{Bytes: []byte("cd")},
			hir.Literal{Bytes: []byte("ef")},
		}},
	}}
	prog := mustCompile(t, e)

	got := atomStrings(prog.Atoms)
	want := []string{"1ab", "1cd", "1ef"}
	if len(got) != len(want) {
		t.Fatalf("atoms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("atoms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, a := range prog.Atoms {
		if !a.Atom.Exact {
			t.Errorf("branch atom %q should be exact: the shared literal prefix anchors it to the regex's start", a.Atom.Bytes)
		}
	}
}

func TestCompileClassExpansion(t *testing.T) {
	// abc[0-2x-y]def
	e := hir.Concat{Subs: []hir.Expr{
		hir.Literal{Bytes: []byte("abc")},
		hir.Class{Ranges: []hir.ClassRange{{Lo: '0', Hi: '2'}, {Lo: 'x', Hi: 'y'}}},
		hir.Literal{Bytes: []byte("def")},
	}}
	prog := mustCompile(t, e)

	got := atomStrings(prog.Atoms)
	want := []string{"abc0", "abc1", "abc2", "abcx", "abcy"}
	if len(got) != len(want) {
		t.Fatalf("atoms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("atoms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, a := range prog.Atoms {
		if a.Atom.Exact {
			t.Errorf("atom %q truncated before 'def' must be inexact", a.Atom.Bytes)
		}
	}
}

func TestCompileClassOverBudgetStopsExtraction(t *testing.T) {
	// abcd[acegikmoqsuwy024]ef — "abcd" already fills the 4-byte atom cap,
	// so the 16-member class is never reached by the budget check;
	// extraction stops at "abcd".
	members := []byte("acegikmoqsuwy024")
	e := hir.Concat{Subs: []hir.Expr{
		hir.Literal{Bytes: []byte("abcd")},
		hir.ClassFromBytes(members),
		hir.Literal{Bytes: []byte("ef")},
	}}
	prog := mustCompile(t, e)

	if len(prog.Atoms) != 1 {
		t.Fatalf("atoms = %d, want 1", len(prog.Atoms))
	}
	if !bytes.Equal(prog.Atoms[0].Atom.Bytes, []byte("abcd")) {
		t.Errorf("atom = %q, want %q", prog.Atoms[0].Atom.Bytes, "abcd")
	}
	if prog.Atoms[0].Atom.Exact {
		t.Errorf("atom must be inexact: pattern continues past 'abcd'")
	}
}

func TestCompileUnboundedRepeatAtom(t *testing.T) {
	// (abc){2,}
	maxNil := (*int)(nil)
	e := hir.Repeat{Sub: hir.Literal{Bytes: []byte("abc")}, Min: 2, Max: maxNil, Greedy: true}
	prog := mustCompile(t, e)

	if len(prog.Atoms) != 1 {
		t.Fatalf("atoms = %d, want 1", len(prog.Atoms))
	}
	a := prog.Atoms[0]
	if !bytes.Equal(a.Atom.Bytes, []byte("abca")) {
		t.Errorf("atom = %q, want %q", a.Atom.Bytes, "abca")
	}
	if a.Atom.Exact {
		t.Errorf("atom truncated mid-repetition must be inexact")
	}
}

func TestCompileOptionalGroupSkipsToLiteral(t *testing.T) {
	// (|abc)de
	e := hir.Concat{Subs: []hir.Expr{
		hir.Alternate{Subs: []hir.Expr{
			hir.Concat{Subs: nil},
			hir.Literal{Bytes: []byte("abc")},
		}},
		hir.Literal{Bytes: []byte("de")},
	}}
	prog := mustCompile(t, e)

	if len(prog.Atoms) != 1 {
		t.Fatalf("atoms = %d, want 1", len(prog.Atoms))
	}
	if !bytes.Equal(prog.Atoms[0].Atom.Bytes, []byte("de")) {
		t.Errorf("atom = %q, want %q", prog.Atoms[0].Atom.Bytes, "de")
	}
	if prog.Atoms[0].Atom.Exact {
		t.Errorf("atom 'de' follows an optional group entered through a SPLIT: must be inexact")
	}
}

func TestCompileHexMaskedByte(t *testing.T) {
	// 01 02 ?? 03, where ?? is constrained to values {0,1,2,3} (mask 0xFC)
	e := hir.Concat{Subs: []hir.Expr{
		hir.Byte(0x01),
		hir.Byte(0x02),
		hir.MaskedByte{Value: 0x00, Mask: 0xFC},
		hir.Byte(0x03),
	}}
	prog := mustCompile(t, e)

	got := atomStrings(prog.Atoms)
	want := []string{
		string([]byte{0x01, 0x02, 0x00, 0x03}),
		string([]byte{0x01, 0x02, 0x01, 0x03}),
		string([]byte{0x01, 0x02, 0x02, 0x03}),
		string([]byte{0x01, 0x02, 0x03, 0x03}),
	}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("atoms = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("atoms[%d] = %q, want %q", i, []byte(got[i]), []byte(want[i]))
		}
	}
	for _, a := range prog.Atoms {
		if !a.Atom.Exact {
			t.Errorf("atom %x must be exact: masked byte fully enumerated within cap", a.Atom.Bytes)
		}
	}
}

func TestEpsilonClosurePriorityAndTermination(t *testing.T) {
	e := hir.Alternate{Subs: []hir.Expr{
		hir.Literal{Bytes: []byte("ab")},
		hir.Literal{Bytes: []byte("cd")},
	}}
	prog := mustCompile(t, e)

	c := NewClosure()
	addrs := c.Compute(prog.Forward, 0)
	if len(addrs) != 2 {
		t.Fatalf("closure from entry = %v, want 2 addresses", addrs)
	}
	// first branch's LIT must have priority (appear first)
	in0 := decode(prog.Forward, addrs[0])
	if in0.Op != OpLit || in0.Byte != 'a' {
		t.Errorf("first closure address = %+v, want LIT 'a'", in0)
	}
}

func TestVMMatchesCompiledLiteral(t *testing.T) {
	prog := mustCompile(t, hir.Literal{Bytes: []byte("needle")})
	vm := NewVM()

	idx := vm.FindIndex(prog.Forward, []byte("haystack needle here"))
	if idx == nil {
		t.Fatalf("expected a match")
	}
	if got := "haystack needle here"[idx[0]:idx[1]]; got != "needle" {
		t.Errorf("matched %q, want %q", got, "needle")
	}
}

func TestVMNoMatch(t *testing.T) {
	prog := mustCompile(t, hir.Literal{Bytes: []byte("needle")})
	vm := NewVM()
	if idx := vm.FindIndex(prog.Forward, []byte("no match here")); idx != nil {
		t.Errorf("expected no match, got %v", idx)
	}
}

func TestVMMatchesAlternation(t *testing.T) {
	prog := mustCompile(t, hir.Alternate{Subs: []hir.Expr{
		hir.Literal{Bytes: []byte("cat")},
		hir.Literal{Bytes: []byte("dog")},
	}})
	vm := NewVM()

	for _, in := range []string{"I have a cat", "I have a dog", "a cat and a dog"} {
		if idx := vm.FindIndex(prog.Forward, []byte(in)); idx == nil {
			t.Errorf("FindIndex(%q) = nil, want a match", in)
		}
	}
	if idx := vm.FindIndex(prog.Forward, []byte("I have a bird")); idx != nil {
		t.Errorf("FindIndex(bird) = %v, want nil", idx)
	}
}
