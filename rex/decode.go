package rex

import "encoding/binary"

// Instr is a decoded instruction: its opcode, address, and the address of
// the next instruction in linear (non-branching) order.
type Instr struct {
	Op       Op
	Addr     int
	Next     int // address of the following instruction in the stream
	Byte     byte
	Mask     byte
	Ranges   []ClassRange
	Bitmap   [32]byte
	Targets  []int // jump/split target address(es), in priority order
	Fallthru bool  // true if Next itself is a valid (fallthrough) branch target
}

// decode reads the instruction at addr in code.
func decode(code []byte, addr int) Instr {
	op := Op(code[addr])
	in := Instr{Op: op, Addr: addr}

	switch op {
	case OpLit:
		in.Byte = code[addr+1]
		in.Next = addr + 2

	case OpMaskedByte:
		in.Byte = code[addr+1]
		in.Mask = code[addr+2]
		in.Next = addr + 3

	case OpClassRanges:
		n := int(code[addr+1])
		ranges := make([]ClassRange, n)
		p := addr + 2
		for i := 0; i < n; i++ {
			ranges[i] = ClassRange{Lo: code[p], Hi: code[p+1]}
			p += 2
		}
		in.Ranges = ranges
		in.Next = p

	case OpClassBitmap:
		copy(in.Bitmap[:], code[addr+1:addr+33])
		in.Next = addr + 33

	case OpAnyByte:
		in.Next = addr + 2

	case OpJump:
		target := int(binary.BigEndian.Uint32(code[addr+1 : addr+5]))
		in.Targets = []int{target}
		in.Next = addr + 5

	case OpSplitA:
		// primary = fallthrough, secondary = addr operand
		secondary := int(binary.BigEndian.Uint32(code[addr+1 : addr+5]))
		in.Next = addr + 5
		in.Targets = []int{in.Next, secondary}
		in.Fallthru = true

	case OpSplitB:
		primary := int(binary.BigEndian.Uint32(code[addr+1 : addr+5]))
		in.Next = addr + 5
		in.Targets = []int{primary, in.Next}
		in.Fallthru = true

	case OpSplitN:
		k := int(code[addr+1])
		targets := make([]int, k)
		p := addr + 2
		for i := 0; i < k; i++ {
			targets[i] = int(binary.BigEndian.Uint32(code[p : p+4]))
			p += 4
		}
		in.Targets = targets
		in.Next = p

	case OpMatch:
		in.Next = addr + 1

	default:
		in.Next = addr + 1
	}

	return in
}

// matchByte reports whether b is accepted by a consuming instruction.
func (in Instr) matchByte(b byte) bool {
	switch in.Op {
	case OpLit:
		return b == in.Byte
	case OpMaskedByte:
		return b&in.Mask == in.Byte&in.Mask
	case OpClassRanges:
		for _, r := range in.Ranges {
			if b >= r.Lo && b <= r.Hi {
				return true
			}
		}
		return false
	case OpClassBitmap:
		return in.Bitmap[b/8]&(1<<(b%8)) != 0
	case OpAnyByte:
		return true
	default:
		return false
	}
}
