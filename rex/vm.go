package rex

// VM runs the thread-list NFA interpreter: a current/next pair of active
// instruction addresses, advanced one input byte at a time, with the
// destinations epsilon-closed before the next step. It exists to confirm
// candidate matches surfaced by atom pre-filtering, not as a primary
// scanning path.
type VM struct {
	closure *Closure
}

// NewVM returns a VM with its own epsilon-closure scratch space.
func NewVM() *VM {
	return &VM{closure: NewClosure()}
}

// FindIndex returns the leftmost match of code within b as a [start, end)
// pair, or nil if code never matches anywhere in b.
func (vm *VM) FindIndex(code []byte, b []byte) []int {
	for start := 0; start <= len(b); start++ {
		if end, ok := vm.matchFrom(code, b, start); ok {
			return []int{start, end}
		}
	}
	return nil
}

// matchFrom runs the interpreter anchored at start. Threads are kept in
// priority order (the order the epsilon-closure yields them, so SPLIT
// priority decides it) and duplicates are dropped. When a thread reaches
// MATCH, its position is recorded and every lower-priority thread after it
// is discarded, so a greedy repeat keeps extending the match while a lazy
// one stops at the first accepting position.
func (vm *VM) matchFrom(code []byte, b []byte, start int) (int, bool) {
	current := dedup(vm.closure.Compute(code, 0))

	matched := false
	matchEnd := start
	observe := func(addrs []int, pos int) []int {
		for i, a := range addrs {
			if decode(code, a).Op == OpMatch {
				matched = true
				matchEnd = pos
				return addrs[:i]
			}
		}
		return addrs
	}
	current = observe(current, start)

	pos := start
	for pos < len(b) && len(current) > 0 {
		b0 := b[pos]
		var nextAddrs []int
		for _, a := range current {
			in := decode(code, a)
			if in.Op == OpMatch {
				continue
			}
			if in.matchByte(b0) {
				nextAddrs = append(nextAddrs, in.Next)
			}
		}
		if len(nextAddrs) == 0 {
			break
		}
		pos++

		var closed []int
		seen := make(map[int]bool, len(nextAddrs))
		for _, a := range nextAddrs {
			for _, c := range vm.closure.Compute(code, a) {
				if !seen[c] {
					seen[c] = true
					closed = append(closed, c)
				}
			}
		}
		current = observe(closed, pos)
	}
	return matchEnd, matched
}

func dedup(addrs []int) []int {
	seen := make(map[int]bool, len(addrs))
	out := make([]int, 0, len(addrs))
	for _, a := range addrs {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// Regexp adapts a compiled Program to the minimal surface scanner's
// pluggable regex engines expose (FindIndex/String), so rex can stand in
// for an RE2-family engine wherever the caller already has a parsed HIR
// rather than pattern text — rex does not implement regex syntax parsing.
type Regexp struct {
	prog    *Program
	pattern string
	vm      *VM
}

// NewRegexp wraps a compiled Program for scanning.
func NewRegexp(pattern string, prog *Program) *Regexp {
	return &Regexp{prog: prog, pattern: pattern, vm: NewVM()}
}

// FindIndex reports the leftmost match of the regex in b.
func (r *Regexp) FindIndex(b []byte) []int {
	return r.vm.FindIndex(r.prog.Forward, b)
}

// String returns the source pattern text, for diagnostics.
func (r *Regexp) String() string { return r.pattern }
