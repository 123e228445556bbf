package rex

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bytesentry/rulecore/hir"
)

// CompileOptions tunes the atom-extraction policy.
type CompileOptions struct {
	// AtomCap is the maximum length, in bytes, of an extracted atom (A in
	// the lowering rules). Zero selects the default of 4.
	AtomCap int
	// ClassRangeThreshold is the maximum number of [lo,hi] ranges a byte
	// class may have before it is emitted as CLASS_BITMAP instead of
	// CLASS_RANGES (R in the lowering rules). Zero selects the default of 15.
	ClassRangeThreshold int
	// ExpansionBudget caps the product of class/masked-byte cardinalities
	// an atom may expand across (E in the lowering rules). Zero selects
	// the default of 16.
	ExpansionBudget int
}

func (o CompileOptions) normalize() CompileOptions {
	if o.AtomCap <= 0 {
		o.AtomCap = 4
	}
	if o.ClassRangeThreshold <= 0 {
		o.ClassRangeThreshold = 15
	}
	if o.ExpansionBudget <= 0 {
		o.ExpansionBudget = 16
	}
	return o
}

// CompileError reports a rejected HIR or an address-width overflow during
// lowering; per the error handling design these are always surfaced, never
// recovered silently.
type CompileError struct {
	Reason string
}

func (e *CompileError) Error() string { return "rex: compile error: " + e.Reason }

// Program is the result of compiling a regex HIR: parallel forward/backward
// bytecode plus the atoms extracted for pre-filtering.
type Program struct {
	Forward  []byte
	Backward []byte
	Atoms    []RegexpAtom
}

// Compile lowers a regex HIR into forward/backward bytecode and an ordered
// atom list.
func Compile(e hir.Expr, opts CompileOptions) (*Program, error) {
	opts = opts.normalize()

	fwd, err := compileStream(e, false, opts)
	if err != nil {
		return nil, err
	}
	bck, err := compileStream(e, true, opts)
	if err != nil {
		return nil, err
	}

	fwdCode := closeWithMatch(fwd)
	bckCode := closeWithMatch(bck)
	if uint64(len(fwdCode)) > math.MaxUint32 || uint64(len(bckCode)) > math.MaxUint32 {
		return nil, &CompileError{Reason: "bytecode exceeds the 32-bit address width"}
	}

	atoms := extractAtoms(fwd.runs, bck.runs, fwdCode, bckCode, opts)

	return &Program{Forward: fwdCode, Backward: bckCode, Atoms: atoms}, nil
}

// closeWithMatch appends the single accepting MATCH instruction every
// stream terminates with (invariant 1).
func closeWithMatch(f fragment) []byte {
	code := append([]byte(nil), f.code...)
	code = append(code, byte(OpMatch))
	return code
}

// seg is one atom-candidate position: a run of possible byte values at a
// fixed bytecode address.
type seg struct {
	addr   int
	width  int
	values []byte // concrete candidate byte values; len>1 means inexact unless within budget
	soft   bool    // true if presence isn't guaranteed (pulled from an unbounded repeat's tail)
}

// run is a maximal contiguous candidate atom run.
type run struct {
	segs []seg
	// terminal is true when reaching the end of segs coincides with the end
	// of this path's accepting language: an atom that consumes the whole
	// run only qualifies as exact (policy 2) when terminal holds. Unbounded
	// repeats are never terminal, since more repetitions may still follow.
	terminal bool
}

// fragment is a relocatable chunk of bytecode: code with a list of 4-byte
// address operand offsets (relocs) that must be rebased whenever the
// fragment is spliced into a larger buffer, and the atom runs discovered
// while building it.
type fragment struct {
	code   []byte
	relocs []int
	runs   []run
}

// rebase translates a child fragment's relocs (offsets relative to its own
// 0-based code) into the parent's combined code: the value already written
// at each site (absolute within the child) is shifted by base, and the
// returned offsets are absolute within code so they can propagate further
// up if this fragment is itself embedded in something larger.
func rebase(code []byte, offsets []int, base int) []int {
	out := make([]int, len(offsets))
	for i, off := range offsets {
		pos := base + off
		v := binary.BigEndian.Uint32(code[pos : pos+4])
		binary.BigEndian.PutUint32(code[pos:pos+4], v+uint32(base))
		out[i] = pos
	}
	return out
}

func rebaseSegs(segs []seg, base int) []seg {
	out := make([]seg, len(segs))
	for i, s := range segs {
		out[i] = s
		out[i].addr += base
	}
	return out
}

func rebaseRuns(runs []run, base int) []run {
	out := make([]run, len(runs))
	for i, r := range runs {
		out[i] = run{segs: rebaseSegs(r.segs, base), terminal: r.terminal}
	}
	return out
}

// compileStream compiles e for the forward stream (rev=false) or the
// backward stream (rev=true). The two share all control-flow construction
// logic; only Concat's child order and Literal's byte order differ, per the
// "reversal distributed into children" lowering rule.
func compileStream(e hir.Expr, rev bool, opts CompileOptions) (fragment, error) {
	switch v := e.(type) {
	case hir.Literal:
		return compileLiteral(v, rev), nil
	case hir.MaskedByte:
		return compileMaskedByte(v), nil
	case hir.Class:
		return compileClass(v, opts)
	case hir.Any:
		return compileAny(), nil
	case hir.Concat:
		return compileConcat(v, rev, opts)
	case hir.Alternate:
		return compileAlternate(v, rev, opts)
	case hir.Repeat:
		return compileRepeat(v, rev, opts)
	default:
		return fragment{}, &CompileError{Reason: fmt.Sprintf("unsupported HIR node %T", e)}
	}
}

func compileLiteral(v hir.Literal, rev bool) fragment {
	bytes := v.Bytes
	if rev {
		bytes = reverseBytes(bytes)
	}
	var cb codeBuffer
	var segs []seg
	for _, b := range bytes {
		addr := cb.here()
		cb.lit(b)
		segs = append(segs, seg{addr: addr, width: 2, values: []byte{b}})
	}
	var runs []run
	if len(segs) > 0 {
		runs = []run{{segs: segs, terminal: true}}
	}
	return fragment{code: cb.bytes(), runs: runs}
}

func compileMaskedByte(v hir.MaskedByte) fragment {
	var cb codeBuffer
	addr := cb.here()
	cb.maskedByte(v.Value, v.Mask)
	values := enumerateMask(v.Value, v.Mask)
	return fragment{
		code: cb.bytes(),
		runs: []run{{segs: []seg{{addr: addr, width: 3, values: values}}, terminal: true}},
	}
}

func enumerateMask(value, mask byte) []byte {
	var out []byte
	for x := 0; x < 256; x++ {
		b := byte(x)
		if b&mask == value&mask {
			out = append(out, b)
		}
	}
	return out
}

func compileClass(v hir.Class, opts CompileOptions) (fragment, error) {
	ranges := make([]ClassRange, len(v.Ranges))
	total := 0
	for i, r := range v.Ranges {
		ranges[i] = ClassRange{Lo: r.Lo, Hi: r.Hi}
		total += int(r.Hi) - int(r.Lo) + 1
	}

	var cb codeBuffer
	addr := cb.here()
	var width int
	if len(ranges) <= opts.ClassRangeThreshold {
		cb.classRanges(ranges)
		width = 2 + 2*len(ranges)
	} else {
		var bits [32]byte
		for _, r := range v.Ranges {
			for b := int(r.Lo); b <= int(r.Hi); b++ {
				bits[b/8] |= 1 << (uint(b) % 8)
			}
		}
		cb.classBitmap(bits)
		width = 33
	}

	var values []byte
	if total <= 256 {
		for _, r := range v.Ranges {
			for b := int(r.Lo); b <= int(r.Hi); b++ {
				values = append(values, byte(b))
			}
		}
	}

	return fragment{
		code: cb.bytes(),
		runs: []run{{segs: []seg{{addr: addr, width: width, values: values}}, terminal: true}},
	}, nil
}

func compileAny() fragment {
	var cb codeBuffer
	addr := cb.here()
	cb.anyByte()
	// Any is modeled with a 256-value candidate set: in practice this
	// always exceeds the expansion budget and simply terminates atom
	// extraction at this position.
	values := make([]byte, 256)
	for i := range values {
		values[i] = byte(i)
	}
	return fragment{
		code: cb.bytes(),
		runs: []run{{segs: []seg{{addr: addr, width: 2, values: values}}, terminal: true}},
	}
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// isSkippable reports whether e may match the empty string, meaning a
// Concat walk cannot assume any of its content is present and must treat
// it as a hard break between atom runs.
func isSkippable(e hir.Expr) bool {
	switch v := e.(type) {
	case hir.Repeat:
		return v.Min == 0
	case hir.Alternate:
		for _, s := range v.Subs {
			if isEmptyMatch(s) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func isEmptyMatch(e hir.Expr) bool {
	switch v := e.(type) {
	case hir.Concat:
		return len(v.Subs) == 0
	case hir.Literal:
		return len(v.Bytes) == 0
	default:
		return false
	}
}

func compileConcat(v hir.Concat, rev bool, opts CompileOptions) (fragment, error) {
	subs := v.Subs
	if rev {
		subs = reverseExprs(subs)
	}

	var code []byte
	var relocs []int
	forks := [][]seg{{}}
	forkTerminal := []bool{true}
	var closed []run

	flush := func() {
		for i, pfx := range forks {
			if len(pfx) > 0 {
				closed = append(closed, run{segs: pfx, terminal: forkTerminal[i]})
			}
		}
		forks = [][]seg{{}}
		forkTerminal = []bool{true}
	}

	for _, sub := range subs {
		f, err := compileStream(sub, rev, opts)
		if err != nil {
			return fragment{}, err
		}

		base := len(code)
		code = append(code, f.code...)
		relocs = append(relocs, rebase(code, f.relocs, base)...)
		fRuns := rebaseRuns(f.runs, base)

		switch {
		case isSkippable(sub):
			flush()

		case isAlternation(sub):
			var newForks [][]seg
			var newTerminal []bool
			for _, pfx := range forks {
				for _, r := range fRuns {
					merged := append(append([]seg(nil), pfx...), r.segs...)
					newForks = append(newForks, merged)
					newTerminal = append(newTerminal, r.terminal)
				}
			}
			if len(newForks) > 0 {
				forks = newForks
				forkTerminal = newTerminal
			}

		default:
			if len(fRuns) > 0 {
				segsToAdd := fRuns[0].segs
				var newForks [][]seg
				var newTerminal []bool
				for _, pfx := range forks {
					newForks = append(newForks, append(append([]seg(nil), pfx...), segsToAdd...))
					newTerminal = append(newTerminal, fRuns[0].terminal)
				}
				forks = newForks
				forkTerminal = newTerminal
				// A nested sub-expression's later runs (e.g. an inner
				// Concat that itself contained an optional gap) aren't
				// contiguous with this prefix; keep them as already-closed.
				closed = append(closed, fRuns[1:]...)
			}
		}
	}

	for i, pfx := range forks {
		if len(pfx) > 0 {
			closed = append(closed, run{segs: pfx, terminal: forkTerminal[i]})
		}
	}

	return fragment{code: code, relocs: relocs, runs: closed}, nil
}

func isAlternation(e hir.Expr) bool {
	_, ok := e.(hir.Alternate)
	return ok
}

func reverseExprs(subs []hir.Expr) []hir.Expr {
	out := make([]hir.Expr, len(subs))
	for i, s := range subs {
		out[len(subs)-1-i] = s
	}
	return out
}

// compileAlternate emits SPLIT_N followed by each branch's code and a
// trailing JUMP to a shared exit for every branch but the last.
func compileAlternate(v hir.Alternate, rev bool, opts CompileOptions) (fragment, error) {
	k := len(v.Subs)
	var cb codeBuffer
	splitOffs := cb.splitN(k)

	code := cb.bytes()
	var relocs []int
	var jumpOffs []int
	var runs []run

	for i, sub := range v.Subs {
		branchStart := len(code)
		binary.BigEndian.PutUint32(code[splitOffs[i]:splitOffs[i]+4], uint32(branchStart))
		relocs = append(relocs, splitOffs[i])

		f, err := compileStream(sub, rev, opts)
		if err != nil {
			return fragment{}, err
		}
		code = append(code, f.code...)
		relocs = append(relocs, rebase(code, f.relocs, branchStart)...)
		fRuns := rebaseRuns(f.runs, branchStart)
		if len(fRuns) > 0 {
			runs = append(runs, fRuns[0])
		} else {
			runs = append(runs, run{})
		}

		if i < k-1 {
			jmpOpOff := len(code)
			code = append(code, byte(OpJump), 0, 0, 0, 0)
			jumpOffs = append(jumpOffs, jmpOpOff+1)
		}
	}

	exit := len(code)
	for _, jo := range jumpOffs {
		binary.BigEndian.PutUint32(code[jo:jo+4], uint32(exit))
		relocs = append(relocs, jo)
	}

	return fragment{code: code, relocs: relocs, runs: runs}, nil
}

// compileRepeat unrolls bounded quantifiers and builds the loop-guard
// SPLIT_A/SPLIT_B shape for unbounded ones, per the lowering rules.
func compileRepeat(v hir.Repeat, rev bool, opts CompileOptions) (fragment, error) {
	if v.Min == 0 && v.Max == nil {
		return compileStar(v.Sub, v.Greedy, rev, opts)
	}
	if v.Max == nil {
		return compilePlusLike(v.Sub, v.Min, v.Greedy, rev, opts)
	}
	return compileBounded(v.Sub, v.Min, *v.Max, v.Greedy, rev, opts)
}

func compileStar(sub hir.Expr, greedy, rev bool, opts CompileOptions) (fragment, error) {
	var code []byte
	var relocs []int

	var splitOff int
	if greedy {
		code = append(code, byte(OpSplitA), 0, 0, 0, 0)
		splitOff = 1
	} else {
		code = append(code, byte(OpSplitB), 0, 0, 0, 0)
		splitOff = 1
	}

	bodyStart := len(code)
	f, err := compileStream(sub, rev, opts)
	if err != nil {
		return fragment{}, err
	}
	code = append(code, f.code...)
	relocs = append(relocs, rebase(code, f.relocs, bodyStart)...)

	jmpOpOff := len(code)
	code = append(code, byte(OpJump), 0, 0, 0, 0)
	binary.BigEndian.PutUint32(code[jmpOpOff+1:jmpOpOff+5], uint32(0))
	relocs = append(relocs, jmpOpOff+1)

	exit := len(code)
	binary.BigEndian.PutUint32(code[splitOff:splitOff+4], uint32(exit))
	relocs = append(relocs, splitOff)

	return fragment{code: code, relocs: relocs}, nil
}

// compilePlusLike builds min>=1 repetitions with an unbounded tail: the
// first copy doubles as the loop body, guarded by a backedge split, and is
// followed by the remaining (min-1) mandatory copies.
func compilePlusLike(sub hir.Expr, min int, greedy, rev bool, opts CompileOptions) (fragment, error) {
	var code []byte
	var relocs []int

	loopStart := len(code)
	f0, err := compileStream(sub, rev, opts)
	if err != nil {
		return fragment{}, err
	}
	code = append(code, f0.code...)
	relocs = append(relocs, rebase(code, f0.relocs, loopStart)...)
	segs0 := rebaseSegsFromRuns(f0.runs, loopStart)

	var splitOff int
	if greedy {
		code = append(code, byte(OpSplitB), 0, 0, 0, 0)
	} else {
		code = append(code, byte(OpSplitA), 0, 0, 0, 0)
	}
	splitOff = len(code) - 4
	binary.BigEndian.PutUint32(code[splitOff:splitOff+4], uint32(loopStart))
	relocs = append(relocs, splitOff)

	// segs0's bytes are guaranteed: min>=1 means this first, loopable copy
	// always executes at least once.
	segs := append([]seg(nil), segs0...)

	for i := 1; i < min; i++ {
		base := len(code)
		fi, err := compileStream(sub, rev, opts)
		if err != nil {
			return fragment{}, err
		}
		code = append(code, fi.code...)
		relocs = append(relocs, rebase(code, fi.relocs, base)...)
		segs = append(segs, rebaseSegsFromRuns(fi.runs, base)...)
	}

	// The loop can always repeat further, so this run never reaches a
	// guaranteed end: an atom that consumes it fully still only narrows
	// candidates for the unbounded tail beyond it (policy 2).
	return fragment{code: code, relocs: relocs, runs: []run{{segs: segs, terminal: false}}}, nil
}

func compileBounded(sub hir.Expr, min, max int, greedy, rev bool, opts CompileOptions) (fragment, error) {
	var code []byte
	var relocs []int
	var segs []seg

	for i := 0; i < min; i++ {
		base := len(code)
		f, err := compileStream(sub, rev, opts)
		if err != nil {
			return fragment{}, err
		}
		code = append(code, f.code...)
		relocs = append(relocs, rebase(code, f.relocs, base)...)
		segs = append(segs, rebaseSegsFromRuns(f.runs, base)...)
	}

	optional := max - min
	for i := 0; i < optional; i++ {
		if greedy {
			code = append(code, byte(OpSplitA), 0, 0, 0, 0)
		} else {
			code = append(code, byte(OpSplitB), 0, 0, 0, 0)
		}
		splitOff := len(code) - 4
		base := len(code)
		f, err := compileStream(sub, rev, opts)
		if err != nil {
			return fragment{}, err
		}
		code = append(code, f.code...)
		relocs = append(relocs, rebase(code, f.relocs, base)...)
		fsegs := rebaseSegsFromRuns(f.runs, base)
		for j := range fsegs {
			fsegs[j].soft = true
		}
		segs = append(segs, fsegs...)
		// Skipping this optional copy lands right after it — either the
		// next optional guard or, for the last one, the overall exit.
		binary.BigEndian.PutUint32(code[splitOff:splitOff+4], uint32(len(code)))
		relocs = append(relocs, splitOff)
	}

	var runs []run
	if len(segs) > 0 {
		runs = []run{{segs: segs, terminal: true}}
	}
	return fragment{code: code, relocs: relocs, runs: runs}, nil
}

func rebaseSegsFromRuns(runs []run, base int) []seg {
	if len(runs) == 0 {
		return nil
	}
	return rebaseSegs(runs[0].segs, base)
}
