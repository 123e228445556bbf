// Package rex compiles a regex hir.Expr into two parallel bytecode streams —
// one that matches forward from a candidate start position, one that
// matches backward from a candidate end position — plus an ordered list of
// literal atoms suitable for Aho-Corasick-style pre-filtering. It also
// provides the epsilon-closure and thread-list primitives the scan loop
// drives the compiled code with.
package rex

// Op is a single bytecode opcode.
type Op byte

const (
	// OpLit matches one exact byte operand.
	OpLit Op = iota
	// OpMaskedByte matches a byte b where b&mask == value&mask.
	OpMaskedByte
	// OpClassRanges matches a byte falling in any of a list of [lo,hi] ranges.
	OpClassRanges
	// OpClassBitmap matches a byte via a 256-bit membership bitmap.
	OpClassBitmap
	// OpAnyByte matches any single byte.
	OpAnyByte
	// OpJump transfers control unconditionally to addr.
	OpJump
	// OpSplitA forks with the fallthrough (next instruction) as primary and
	// addr as secondary; greedy quantifiers prefer the fallthrough.
	OpSplitA
	// OpSplitB forks with addr as primary and the fallthrough as secondary;
	// greedy quantifiers prefer addr.
	OpSplitB
	// OpSplitN forks k ways, trying each target in listed order.
	OpSplitN
	// OpMatch accepts.
	OpMatch
)

func (o Op) String() string {
	switch o {
	case OpLit:
		return "LIT"
	case OpMaskedByte:
		return "MASKED_BYTE"
	case OpClassRanges:
		return "CLASS_RANGES"
	case OpClassBitmap:
		return "CLASS_BITMAP"
	case OpAnyByte:
		return "ANY_BYTE"
	case OpJump:
		return "JUMP"
	case OpSplitA:
		return "SPLIT_A"
	case OpSplitB:
		return "SPLIT_B"
	case OpSplitN:
		return "SPLIT_N"
	case OpMatch:
		return "MATCH"
	default:
		return "?"
	}
}

// addrWidth is the byte width of an encoded code address operand.
const addrWidth = 4

// isConsuming reports whether an opcode consumes one input byte when
// executed, as opposed to a control-transfer or acceptance instruction.
func (o Op) isConsuming() bool {
	switch o {
	case OpLit, OpMaskedByte, OpClassRanges, OpClassBitmap, OpAnyByte:
		return true
	default:
		return false
	}
}
