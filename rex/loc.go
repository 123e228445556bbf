package rex

import "fmt"

// ForwardLoc is a validated address into a forward code stream. Construct
// via NewForwardLoc, which panics on an out-of-range address — a malformed
// code location is a compiler bug, not a recoverable runtime condition.
type ForwardLoc struct {
	addr int
}

// NewForwardLoc validates addr against code and returns a ForwardLoc.
func NewForwardLoc(code []byte, addr int) ForwardLoc {
	if addr < 0 || addr >= len(code) {
		panic(fmt.Sprintf("rex: forward code address %d out of range [0,%d)", addr, len(code)))
	}
	return ForwardLoc{addr: addr}
}

// Addr returns the underlying bytecode address.
func (f ForwardLoc) Addr() int { return f.addr }

// BackwardLoc is the backward-stream counterpart of ForwardLoc.
type BackwardLoc struct {
	addr int
}

// NewBackwardLoc validates addr against code and returns a BackwardLoc.
func NewBackwardLoc(code []byte, addr int) BackwardLoc {
	if addr < 0 || addr >= len(code) {
		panic(fmt.Sprintf("rex: backward code address %d out of range [0,%d)", addr, len(code)))
	}
	return BackwardLoc{addr: addr}
}

// Addr returns the underlying bytecode address.
func (b BackwardLoc) Addr() int { return b.addr }
