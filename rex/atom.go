package rex

// Atom is a short run of concrete bytes extracted from a compiled pattern
// for Aho-Corasick-style pre-filtering. Exact atoms fully determine a match
// at their position; inexact atoms (drawn from one branch of an
// alternation, or truncated by the length cap) only narrow candidates —
// the caller must still run the full bytecode to confirm.
type Atom struct {
	Bytes []byte
	Exact bool
}

// CodeLoc pairs an atom's entry point in both code streams. BckSeqID
// disambiguates atoms that share the same backward address but arose from
// different branches of an alternation unrolled during backward codegen
// (see Compile's atom-extraction pass).
type CodeLoc struct {
	Fwd       ForwardLoc
	Bck       BackwardLoc
	BckSeqID  int
}

// RegexpAtom is one entry of Compile's extracted-atom list.
type RegexpAtom struct {
	Atom    Atom
	CodeLoc CodeLoc
}

// extractAtoms applies the atom-selection policies to each pair of
// corresponding forward/backward runs (fwdRuns[i] and bckRuns[i] always
// describe the same run, since compileStream's reversal only reorders a
// run's own bytes and the children within a Concat — see compile.go).
func extractAtoms(fwdRuns, bckRuns []run, fwdCode, bckCode []byte, opts CompileOptions) []RegexpAtom {
	n := len(fwdRuns)
	if len(bckRuns) < n {
		n = len(bckRuns)
	}

	var atoms []RegexpAtom
	for i := 0; i < n; i++ {
		fr := fwdRuns[i]
		br := bckRuns[i]
		if len(fr.segs) == 0 {
			continue
		}

		included, exact, candidates := expandRun(fr.segs, fr.terminal, opts)
		if included == 0 || len(candidates) == 0 {
			continue
		}

		last := fr.segs[included-1]
		fwdAddr := last.addr + last.width

		bckAddr := 0
		if len(br.segs) > 0 {
			lastB := br.segs[len(br.segs)-1]
			bckAddr = lastB.addr + lastB.width
		}

		for _, bytes := range candidates {
			atoms = append(atoms, RegexpAtom{
				Atom: Atom{Bytes: bytes, Exact: exact},
				CodeLoc: CodeLoc{
					Fwd: NewForwardLoc(fwdCode, fwdAddr),
					Bck: NewBackwardLoc(bckCode, bckAddr),
				},
			})
		}
	}

	assignBckSeqIDs(atoms)
	return atoms
}

// expandRun walks a run's segments left to right, building the cross
// product of candidate byte sequences up to the length cap (policy 1) and
// within the expansion budget (policy 3), and reports whether the included
// prefix exactly spans the run's accepting language (policy 2).
func expandRun(segs []seg, terminal bool, opts CompileOptions) (included int, exact bool, candidates [][]byte) {
	candidates = [][]byte{{}}
	multiplicity := 1
	truncated := false
	soft := false

	for _, s := range segs {
		if included >= opts.AtomCap {
			truncated = true
			break
		}
		if len(s.values) == 0 {
			truncated = true
			break
		}
		if len(s.values) == 1 {
			for i := range candidates {
				candidates[i] = append(candidates[i], s.values[0])
			}
		} else {
			newMultiplicity := multiplicity * len(s.values)
			if newMultiplicity > opts.ExpansionBudget {
				truncated = true
				break
			}
			multiplicity = newMultiplicity
			next := make([][]byte, 0, len(candidates)*len(s.values))
			for _, c := range candidates {
				for _, v := range s.values {
					nc := append(append([]byte(nil), c...), v)
					next = append(next, nc)
				}
			}
			candidates = next
		}
		if s.soft {
			soft = true
		}
		included++
	}

	completed := !truncated && included == len(segs)
	// An atom only fully determines a match if it also covers the regex's
	// own start: a run beginning mid-pattern (e.g. one branch of a bare
	// top-level alternation, entered only after an epsilon SPLIT) still
	// requires the caller to know which branch was taken, so it narrows
	// candidates rather than confirming them. segs[0].addr==0 holds for a
	// plain literal and for a literal prefix merged with a following
	// alternation (the prefix's first byte sits at the program's start),
	// but not for an alternation's branches when nothing precedes them.
	startsAtProgramStart := len(segs) > 0 && segs[0].addr == 0
	exact = completed && terminal && !soft && startsAtProgramStart
	return included, exact, candidates
}

// assignBckSeqIDs disambiguates atoms sharing the same backward address —
// which happens when several alternation branches resume backward
// verification at the same point — by numbering them in the order
// encountered.
func assignBckSeqIDs(atoms []RegexpAtom) {
	seen := make(map[int]int)
	for i := range atoms {
		addr := atoms[i].CodeLoc.Bck.Addr()
		atoms[i].CodeLoc.BckSeqID = seen[addr]
		seen[addr]++
	}
}
