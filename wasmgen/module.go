package wasmgen

// ModuleBuilder assembles the condition-evaluator module: the fixed "yr"
// import surface, one locally declared scratch memory, and a single "main"
// function whose body callers build up incrementally before Build.
//
// Grounded on the teacher's original Rust ModuleBuilder (original_source's
// wasm/builder.rs), which wraps the walrus crate's module builder the same
// way: declare every import up front under stable WasmSymbols indices, then
// hand the caller an open function body to append instructions to. Go has
// no equivalent to walrus in the example pack, so this hand-rolls the
// binary encoder directly rather than going through a borrowed builder API.
type ModuleBuilder struct {
	syms        WasmSymbols
	main        *funcBody
	spillNext   uint32
	spillLimit  uint32 // bytes available in the single vars_stack page
}

// varsStackPages is the vars_stack memory's fixed size: one 64KiB page,
// enough for the handful of spill slots a single condition evaluation
// needs (each slot is 8 bytes).
const varsStackPages = 1

// NewModuleBuilder constructs the import set and opens main's body with its
// three scratch locals already declared at fixed indices.
func NewModuleBuilder() *ModuleBuilder {
	syms := WasmSymbols{
		RulesMatchingBitmap:    0,
		PatternsMatchingBitmap: 1,
		VarsStack:              2,
		Filesize:               0,
	}

	main := newFuncBody()
	syms.I64Tmp = main.addLocal(ValI64)
	syms.I32Tmp = main.addLocal(ValI32)
	syms.RefTmp = main.addLocal(ValExternref)

	return &ModuleBuilder{
		syms:       syms,
		main:       main,
		spillLimit: varsStackPages * 65536,
	}
}

// Symbols returns the stable indices every instruction-emitting helper in
// this package addresses.
func (m *ModuleBuilder) Symbols() WasmSymbols { return m.syms }

// Main returns the function body builder for the module's single exported
// function; lower.go appends the lowered condition expression to it.
func (m *ModuleBuilder) Main() *funcBody { return m.main }

// AllocSpill reserves an 8-byte slot in vars_stack and returns its byte
// offset. Not currently called: lower.go instead gives every value that
// must survive past a host call or a sibling operand's evaluation its own
// function-scoped local (funcBody.addLocal), including f64 (collapseF64
// adds one per call site rather than spilling to memory). WASM locals have
// no operand-stack hygiene problem across calls, so nothing in this
// lowering has yet needed vars_stack itself; it stays declared (and this
// allocator stays available) for the day a lowering shape needs scratch
// space that outlives the locals it's emitted under — see DESIGN.md.
func (m *ModuleBuilder) AllocSpill() uint32 {
	if m.spillNext+8 > m.spillLimit {
		panic("wasmgen: vars_stack exhausted")
	}
	off := m.spillNext
	m.spillNext += 8
	return off
}

// typeSection builds the Type section: one entry per imported function
// signature, in importFuncs order, followed by main's own ([] -> []) type.
func typeSection() ([]byte, uint32) {
	var body []byte
	for _, f := range importFuncs {
		body = append(body, funcTypeBytes(f.params, f.results)...)
	}
	mainTypeIdx := uint32(len(importFuncs))
	body = append(body, funcTypeBytes(nil, nil)...)
	return vec(len(importFuncs)+1, body), mainTypeIdx
}

func funcTypeBytes(params, results []byte) []byte {
	b := []byte{0x60}
	b = append(b, vec(len(params), params)...)
	b = append(b, vec(len(results), results)...)
	return b
}

// importSection builds the Import section: the two (unshared) bitmap memories,
// the filesize global, then every host function, in that fixed order. Each
// kind keeps its own index space, so ordering among kinds doesn't affect
// the numeric indices WasmSymbols records.
func importSection(mainTypeIdx uint32) []byte {
	var body []byte
	count := 0

	addMem := func(name string) {
		body = appendName(body, "yr")
		body = appendName(body, name)
		body = append(body, 0x02) // import kind: memory
		// limits: flags=0 (min only, unshared). The teacher's Rust builder
		// marks these shared=true, but the threads proposal requires shared
		// memories to declare a max; since rulecore evaluates one module
		// instance per scan with no cross-thread sharing, an unshared,
		// max-less memory is the faithful equivalent without that
		// extra encoding burden (see DESIGN.md).
		body = append(body, 0x00)
		body = appendULEB(body, 1)
		count++
	}
	addMem("rules_matching_bitmap")
	addMem("patterns_matching_bitmap")

	// filesize global: i64, mutable.
	body = appendName(body, "yr")
	body = appendName(body, "filesize")
	body = append(body, 0x03) // import kind: global
	body = append(body, ValI64)
	body = append(body, 0x01) // mutable
	count++

	for i, f := range importFuncs {
		body = appendName(body, "yr")
		body = appendName(body, f.name)
		body = append(body, 0x00) // import kind: func
		body = appendULEB(body, uint64(i))
		count++
	}

	return vec(count, body)
}

// functionSection declares the single module-owned function, main, with
// its type index.
func functionSection(mainTypeIdx uint32) []byte {
	body := appendULEB(nil, uint64(mainTypeIdx))
	return vec(1, body)
}

// memorySection declares the one locally owned memory, vars_stack: exactly
// one page, fixed size (min == max), matching the contract that it exists
// solely as spill scratch space for a single evaluation.
func memorySection() []byte {
	var body []byte
	body = append(body, 0x01) // flags: has max
	body = appendULEB(body, varsStackPages)
	body = appendULEB(body, varsStackPages)
	return vec(1, body)
}

// exportSection declares the module's sole export: "main", the function
// every embedder calls to evaluate the rule's condition.
func exportSection(mainFuncIdx uint32) []byte {
	body := appendName(nil, "main")
	body = append(body, 0x00) // export kind: func
	body = appendULEB(body, uint64(mainFuncIdx))
	return vec(1, body)
}

func codeSection(bodies [][]byte) []byte {
	var body []byte
	for _, b := range bodies {
		body = append(body, b...)
	}
	return vec(len(bodies), body)
}

// Build finalizes main (appending an implicit trailing opEnd is handled by
// funcBody.build) and serializes the whole module to WASM binary bytes.
func (m *ModuleBuilder) Build() []byte {
	typeSec, mainTypeIdx := typeSection()
	mainFuncIdx := uint32(len(importFuncs))

	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00} // magic + version 1
	out = append(out, section(0x01, typeSec)...)
	out = append(out, section(0x02, importSection(mainTypeIdx))...)
	out = append(out, section(0x03, functionSection(mainTypeIdx))...)
	out = append(out, section(0x05, memorySection())...)
	out = append(out, section(0x07, exportSection(mainFuncIdx))...)
	out = append(out, section(0x0A, codeSection([][]byte{m.main.build()}))...)
	return out
}
