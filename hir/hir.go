// Package hir defines the regex high-level intermediate representation that
// rex compiles into parallel forward/backward bytecode. It is intentionally
// narrow: raw bytes only (no Unicode rune ranges), no backreferences, no
// capture groups beyond structural grouping for quantifiers and
// alternation — the same surface a YARA-style regex string actually needs.
package hir

// Expr is a node in the regex HIR.
type Expr interface {
	hirNode()
}

// Literal is a concrete run of bytes, matched in sequence.
type Literal struct {
	Bytes []byte
}

func (Literal) hirNode() {}

// ClassRange is an inclusive [Lo,Hi] byte range within a Class.
type ClassRange struct {
	Lo, Hi byte
}

// Class matches any single byte falling in one of Ranges. Ranges need not be
// sorted or merged; rex uses them in the order given, without sorting or
// merging them.
type Class struct {
	Ranges []ClassRange
}

func (Class) hirNode() {}

// MaskedByte matches a single byte b where b&Mask == Value&Mask, the HIR
// form of a YARA hex-string nibble mask (e.g. 4? or ?4).
type MaskedByte struct {
	Value byte
	Mask  byte
}

func (MaskedByte) hirNode() {}

// Any matches a single arbitrary byte.
type Any struct{}

func (Any) hirNode() {}

// Concat matches each element of Subs in sequence.
type Concat struct {
	Subs []Expr
}

func (Concat) hirNode() {}

// Alternate matches any one of Subs, trying them in order (first alternative
// has priority under greedy epsilon-closure traversal).
type Alternate struct {
	Subs []Expr
}

func (Alternate) hirNode() {}

// Repeat matches Sub repeated between Min and Max times (Max nil means
// unbounded, i.e. {m,}). Greedy false means the quantifier is lazy (?),
// affecting SPLIT_A/SPLIT_B priority ordering only, not the matched set.
type Repeat struct {
	Sub    Expr
	Min    int
	Max    *int
	Greedy bool
}

func (Repeat) hirNode() {}

// Byte is a convenience Literal of length 1.
func Byte(b byte) Literal { return Literal{Bytes: []byte{b}} }

// ClassFromBytes builds a Class of single-byte (degenerate) ranges from an
// explicit byte set. FromHexTokens does not use it: hex-string alternations
// like (41|42|43) become an Alternate of single-byte Literals.
func ClassFromBytes(bytes []byte) Class {
	ranges := make([]ClassRange, len(bytes))
	for i, b := range bytes {
		ranges[i] = ClassRange{Lo: b, Hi: b}
	}
	return Class{Ranges: ranges}
}
