package wasmgen

// Opcode bytes used by the generator, named the way the binary spec names
// them. Only the subset main's body actually emits is listed.
const (
	opBlock   = 0x02
	opLoop    = 0x03
	opIf      = 0x04
	opElse    = 0x05
	opEnd     = 0x0B
	opBr      = 0x0C
	opBrIf    = 0x0D
	opReturn  = 0x0F
	opCall    = 0x10

	opDrop = 0x1A

	opLocalGet  = 0x20
	opLocalSet  = 0x21
	opLocalTee  = 0x22
	opGlobalGet = 0x23

	opI32Load  = 0x28
	opI64Load  = 0x29
	opF64Load  = 0x2B
	opI32Store = 0x36
	opI64Store = 0x37
	opF64Store = 0x39

	opI32Const = 0x41
	opI64Const = 0x42
	opF64Const = 0x44

	opI32Eqz  = 0x45
	opI32Eq   = 0x46
	opI32Ne   = 0x47
	opI32LtS  = 0x48
	opI32GtS  = 0x4A
	opI32LeS  = 0x4C
	opI32GeS  = 0x4E

	opI64Eqz = 0x50
	opI64Eq  = 0x51
	opI64Ne  = 0x52
	opI64LtS = 0x53
	opI64GtS = 0x55
	opI64LeS = 0x57
	opI64GeS = 0x59
	opI64GeU = 0x5A

	opF64Eq = 0x61
	opF64Ne = 0x62
	opF64Lt = 0x63
	opF64Gt = 0x64
	opF64Le = 0x65
	opF64Ge = 0x66

	opI32And = 0x71
	opI32Or  = 0x72

	opI64Add  = 0x7C
	opI64Sub  = 0x7D
	opI64Mul  = 0x7E
	opI64DivS = 0x7F
	opI64RemS = 0x81
	opI64And  = 0x83
	opI64Or   = 0x84
	opI64Xor  = 0x85
	opI64Shl  = 0x86
	opI64ShrS = 0x87

	opF64Neg = 0x9A

	opF64Add = 0xA0
	opF64Sub = 0xA1
	opF64Mul = 0xA2
	opF64Div = 0xA3

	opI64ExtendI32U  = 0xAD
	opI64TruncF64S   = 0xB0
	opF64ConvertI64S = 0xB9

	opRefNull  = 0xD0
	opRefIsNull = 0xD1
)

// blockTypeEmpty is the "no result" block type byte (absence of a value
// type, distinct from any real type byte).
const blockTypeEmpty = 0x40

// funcBody accumulates one function's locals and instruction stream. Unlike
// rex's codeBuffer, WASM control flow is structured (block/loop/if nest by
// nature) so closing a construct never needs a backpatched address, only a
// plain opEnd/opElse byte.
type funcBody struct {
	code       []byte
	localTypes []byte // one entry per declared local, in declaration order
}

func newFuncBody() *funcBody {
	return &funcBody{}
}

// addLocal declares a new function-local of the given type and returns its
// index. Params always come first in the local index space; main has none,
// so locals are numbered from 0.
func (b *funcBody) addLocal(t byte) uint32 {
	idx := uint32(len(b.localTypes))
	b.localTypes = append(b.localTypes, t)
	return idx
}

func (b *funcBody) emit(op byte) { b.code = append(b.code, op) }

func (b *funcBody) emitIdx(op byte, idx uint32) {
	b.code = append(b.code, op)
	b.code = appendULEB(b.code, uint64(idx))
}

func (b *funcBody) i32Const(v int32) {
	b.code = append(b.code, opI32Const)
	b.code = appendSLEB(b.code, int64(v))
}

func (b *funcBody) i64Const(v int64) {
	b.code = append(b.code, opI64Const)
	b.code = appendSLEB(b.code, v)
}

func (b *funcBody) f64Const(bits uint64) {
	b.code = append(b.code, opF64Const)
	b.code = appendF64(b.code, bits)
}

func (b *funcBody) localGet(idx uint32) { b.emitIdx(opLocalGet, idx) }
func (b *funcBody) localSet(idx uint32) { b.emitIdx(opLocalSet, idx) }
func (b *funcBody) localTee(idx uint32) { b.emitIdx(opLocalTee, idx) }
func (b *funcBody) globalGet(idx uint32) { b.emitIdx(opGlobalGet, idx) }

func (b *funcBody) call(name string) { b.emitIdx(opCall, funcIdx(name)) }

// memarg appends a memory immediate for the given memory index: alignment
// (as log2, in the flags byte) and byte offset, both ULEB128. Module has
// more than one memory, so a non-zero memIdx sets the multi-memory flag bit
// (0x40) and appends the index between flags and offset, per that
// proposal's encoding.
func (b *funcBody) memarg(align, memIdx, offset uint32) {
	flags := align
	if memIdx != 0 {
		flags |= 0x40
	}
	b.code = appendULEB(b.code, uint64(flags))
	if memIdx != 0 {
		b.code = appendULEB(b.code, uint64(memIdx))
	}
	b.code = appendULEB(b.code, uint64(offset))
}

func (b *funcBody) i64Load(memIdx uint32, offset uint32) {
	b.emit(opI64Load)
	b.memarg(3, memIdx, offset)
}

func (b *funcBody) i64Store(memIdx uint32, offset uint32) {
	b.emit(opI64Store)
	b.memarg(3, memIdx, offset)
}

func (b *funcBody) f64Load(memIdx uint32, offset uint32) {
	b.emit(opF64Load)
	b.memarg(3, memIdx, offset)
}

func (b *funcBody) f64Store(memIdx uint32, offset uint32) {
	b.emit(opF64Store)
	b.memarg(3, memIdx, offset)
}

func (b *funcBody) i32Load(memIdx uint32, offset uint32) {
	b.emit(opI32Load)
	b.memarg(2, memIdx, offset)
}

func (b *funcBody) i32Store(memIdx uint32, offset uint32) {
	b.emit(opI32Store)
	b.memarg(2, memIdx, offset)
}

// block/loop/if all take a single-byte block type: blockTypeEmpty for no
// result, or a value type byte for a single result. The generator never
// needs multi-result blocks: maybe-undef pairs are threaded through the
// shared scratch locals instead of block results.
func (b *funcBody) block(bt byte) { b.code = append(b.code, opBlock, bt) }
func (b *funcBody) loop(bt byte)  { b.code = append(b.code, opLoop, bt) }
func (b *funcBody) ifStart(bt byte) { b.code = append(b.code, opIf, bt) }
func (b *funcBody) elseStart()    { b.emit(opElse) }
func (b *funcBody) end()         { b.emit(opEnd) }

func (b *funcBody) br(depth uint32)   { b.emitIdx(opBr, depth) }
func (b *funcBody) brIf(depth uint32) { b.emitIdx(opBrIf, depth) }

func (b *funcBody) drop() { b.emit(opDrop) }

func (b *funcBody) refNullExtern() {
	b.code = append(b.code, opRefNull, ValExternref)
}

// build encodes the function's locals declaration followed by its
// instruction stream and a trailing opEnd, wrapped with a byte-length
// prefix as the code section's per-function format requires.
func (b *funcBody) build() []byte {
	// Group consecutive identical-type locals into (count, type) runs, the
	// encoding the format uses instead of listing every local individually.
	var groups [][2]uint32 // [type, count]
	for _, t := range b.localTypes {
		if len(groups) > 0 && groups[len(groups)-1][0] == uint32(t) {
			groups[len(groups)-1][1]++
			continue
		}
		groups = append(groups, [2]uint32{uint32(t), 1})
	}

	var localsBuf []byte
	for _, g := range groups {
		localsBuf = appendULEB(localsBuf, uint64(g[1]))
		localsBuf = append(localsBuf, byte(g[0]))
	}

	body := appendULEB(nil, uint64(len(groups)))
	body = append(body, localsBuf...)
	body = append(body, b.code...)
	body = append(body, opEnd)

	out := appendULEB(nil, uint64(len(body)))
	return append(out, body...)
}
