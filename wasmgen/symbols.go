package wasmgen

// Value type encoding bytes, per the WASM binary format.
const (
	ValI32       byte = 0x7F
	ValI64       byte = 0x7E
	ValF32       byte = 0x7D
	ValF64       byte = 0x7C
	ValExternref byte = 0x6F
	ValFuncref   byte = 0x70
)

// importFunc describes one imported host function: its wire name under the
// "yr" namespace and its signature. maybe-undef results are modeled by
// listing both the value type and the trailing ValI32 defined-flag in
// Results, matching the wire convention the host functions use.
type importFunc struct {
	name    string
	params  []byte
	results []byte
}

// importFuncs lists every host function rulecore imports. WasmSymbols has
// no entries for them; funcIdx resolves each by name. This mirrors the Rust ModuleBuilder's import! invocations:
// one entry per rule-matching primitive, string comparison/containment
// predicate, and structured-data lookup. The function index space is
// allocated in this order, starting at 0.
var importFuncs = []importFunc{
	{"rule_match", []byte{ValI32}, nil},
	{"is_pat_match", []byte{ValI32}, []byte{ValI32}},
	{"is_pat_match_at", []byte{ValI32, ValI64}, []byte{ValI32}},
	{"is_pat_match_in", []byte{ValI32, ValI64, ValI64}, []byte{ValI32}},

	{"literal_to_ref", []byte{ValI64}, []byte{ValExternref}},

	// Buffer-offset reads backing the uint8/uint16/uint32[be] condition
	// functions. builder.rs's own import set has no such functions (data
	// access is presumably wired outside the condition-only module it
	// builds), so these five are this package's addition: same [I64]->[I64]
	// position-to-value shape as is_pat_match_at's position argument, with
	// the out-of-range zero fallback done host-side like the other lookups.
	{"uint8", []byte{ValI64}, []byte{ValI64}},
	{"uint16", []byte{ValI64}, []byte{ValI64}},
	{"uint32", []byte{ValI64}, []byte{ValI64}},
	{"uint16be", []byte{ValI64}, []byte{ValI64}},
	{"uint32be", []byte{ValI64}, []byte{ValI64}},

	{"str_eq", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_ne", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_gt", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_lt", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_ge", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_le", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_contains", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_icontains", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_startswith", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_endswith", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_istartswith", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_iendswith", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_iequals", []byte{ValExternref, ValExternref}, []byte{ValI32}},
	{"str_len", []byte{ValExternref}, []byte{ValI64}},

	{"lookup_integer", []byte{ValI32}, []byte{ValI64, ValI32}},
	{"lookup_float", []byte{ValI32}, []byte{ValF64, ValI32}},
	{"lookup_bool", []byte{ValI32}, []byte{ValI32, ValI32}},
	{"lookup_string", []byte{ValI32}, []byte{ValExternref}},
	{"lookup_array", []byte{ValI32}, nil},
	{"lookup_struct", []byte{ValI32}, nil},
	{"lookup_map", []byte{ValI32}, nil},

	{"array_lookup_integer", []byte{ValI64}, []byte{ValI64, ValI32}},
	{"array_lookup_float", []byte{ValI64}, []byte{ValF64, ValI32}},
	{"array_lookup_bool", []byte{ValI64}, []byte{ValI32, ValI32}},
	{"array_lookup_string", []byte{ValI64}, []byte{ValExternref}},
	{"array_lookup_struct", []byte{ValI64}, []byte{ValI32}},

	{"map_lookup_integer_integer", []byte{ValI64}, []byte{ValI64, ValI32}},
	{"map_lookup_string_integer", []byte{ValExternref}, []byte{ValI64, ValI32}},
	{"map_lookup_integer_float", []byte{ValI64}, []byte{ValF64, ValI32}},
	{"map_lookup_string_float", []byte{ValExternref}, []byte{ValF64, ValI32}},
	{"map_lookup_integer_bool", []byte{ValI64}, []byte{ValI32, ValI32}},
	{"map_lookup_string_bool", []byte{ValExternref}, []byte{ValI32, ValI32}},
	{"map_lookup_integer_string", []byte{ValI64}, []byte{ValExternref}},
	{"map_lookup_string_string", []byte{ValExternref}, []byte{ValExternref}},
	{"map_lookup_integer_struct", []byte{ValI64}, []byte{ValI32}},
	{"map_lookup_string_struct", []byte{ValExternref}, []byte{ValI32}},
}

// funcIdx returns the function index of a named host import, panicking if
// the name is unknown: a programmer error in the generator, never a runtime
// condition.
func funcIdx(name string) uint32 {
	for i, f := range importFuncs {
		if f.name == name {
			return uint32(i)
		}
	}
	panic("wasmgen: unknown host import " + name)
}

// WasmSymbols holds the stable numeric indices every emitted module shares:
// the two imported bitmap memories, the imported filesize global, the
// locally declared scratch-value memory, and the three function-scoped
// scratch locals main's body threads values through. Mirrors the Rust
// WasmSymbols the teacher's ModuleBuilder returns alongside a built module.
type WasmSymbols struct {
	RulesMatchingBitmap    uint32 // memory index
	PatternsMatchingBitmap uint32 // memory index
	Filesize               uint32 // global index
	VarsStack              uint32 // memory index, locally declared

	I64Tmp uint32 // local index, i64 scratch
	I32Tmp uint32 // local index, i32 scratch
	RefTmp uint32 // local index, externref scratch
}
