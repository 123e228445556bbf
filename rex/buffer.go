package rex

import "encoding/binary"

// ClassRange is an inclusive [Lo,Hi] byte range, the rex-level mirror of
// hir.ClassRange (kept separate so this package doesn't need to import hir
// just to describe its own bytecode operands).
type ClassRange struct {
	Lo, Hi byte
}

// codeBuffer is a flat byte buffer under construction. Targets not yet
// known at the point they're referenced (forward jumps, alternation exits,
// backedges) are written as placeholders whose offsets the emitting call
// returns; the caller patches them in place once the target address is
// known. This is the approach spec's design notes call out as simpler to
// test against fixtures than an arena of linked nodes: one append-only
// []byte, patched in place.
type codeBuffer struct {
	buf []byte
}

func newCodeBuffer() *codeBuffer {
	return &codeBuffer{buf: make([]byte, 0, 64)}
}

// here returns the address the next emitted instruction will occupy.
func (c *codeBuffer) here() int { return len(c.buf) }

func (c *codeBuffer) emitByte(b byte) {
	c.buf = append(c.buf, b)
}

// emitAddr appends a placeholder 4-byte address and returns its offset, to
// be filled in later via patch once the real target is known.
func (c *codeBuffer) emitAddr() int {
	off := len(c.buf)
	c.buf = append(c.buf, 0, 0, 0, 0)
	return off
}

func (c *codeBuffer) patch(off int, target int) {
	binary.BigEndian.PutUint32(c.buf[off:off+4], uint32(target))
}

func (c *codeBuffer) lit(b byte) {
	c.emitByte(byte(OpLit))
	c.emitByte(b)
}

func (c *codeBuffer) maskedByte(value, mask byte) {
	c.emitByte(byte(OpMaskedByte))
	c.emitByte(value)
	c.emitByte(mask)
}

func (c *codeBuffer) classRanges(ranges []ClassRange) {
	c.emitByte(byte(OpClassRanges))
	c.emitByte(byte(len(ranges)))
	for _, r := range ranges {
		c.emitByte(r.Lo)
		c.emitByte(r.Hi)
	}
}

func (c *codeBuffer) classBitmap(bits [32]byte) {
	c.emitByte(byte(OpClassBitmap))
	c.buf = append(c.buf, bits[:]...)
}

func (c *codeBuffer) anyByte() {
	c.emitByte(byte(OpAnyByte))
	c.emitByte(0) // fixed 2-byte width, operand unused
}

// jump emits a JUMP with a placeholder target and returns its patch offset.
func (c *codeBuffer) jump() int {
	c.emitByte(byte(OpJump))
	return c.emitAddr()
}

func (c *codeBuffer) jumpTo(target int) {
	c.emitByte(byte(OpJump))
	off := c.emitAddr()
	c.patch(off, target)
}

// splitA emits SPLIT_A with a placeholder secondary target (the primary is
// always the fallthrough address, i.e. here() after this instruction).
func (c *codeBuffer) splitA() int {
	c.emitByte(byte(OpSplitA))
	return c.emitAddr()
}

// splitB emits SPLIT_B with a placeholder primary target (the secondary is
// the fallthrough).
func (c *codeBuffer) splitB() int {
	c.emitByte(byte(OpSplitB))
	return c.emitAddr()
}

// splitN emits a k-way split with placeholder targets, returning their
// patch offsets in listed (priority) order.
func (c *codeBuffer) splitN(k int) []int {
	c.emitByte(byte(OpSplitN))
	c.emitByte(byte(k))
	offs := make([]int, k)
	for i := 0; i < k; i++ {
		offs[i] = c.emitAddr()
	}
	return offs
}

func (c *codeBuffer) match() {
	c.emitByte(byte(OpMatch))
}

func (c *codeBuffer) bytes() []byte {
	return c.buf
}
