package wasmgen

import (
	"math"

	"github.com/bytesentry/rulecore/ast"
)

// Lowerer walks a rule's condition expression and appends the WASM
// instructions that evaluate it to a ModuleBuilder's main function,
// mirroring scanner's evalExpr/evalValue tree-walk (condeval.go) one
// AST node at a time instead of interpreting it directly.
//
// Every value-producing node pushes exactly one WASM value, tagged by a
// static "kind" byte (the WASM value type it left on the stack: ValI64 for
// integers, ValF64 for floats, ValI32 for booleans, ValExternref for
// strings) so callers know how to consume or convert it, the same role
// value.kind plays in condeval.
type Lowerer struct {
	mb   *ModuleBuilder
	b    *funcBody
	syms WasmSymbols

	stringNames []string
	patternIdx  map[string]int32

	fieldIdx  map[string]int32
	nextField int32

	stringLits []string
}

// NewLowerer prepares a lowerer over mb's main function body. stringNames
// lists every $-prefixed pattern the rule declares, in the order
// is_pat_match's i32 argument indexes them.
func NewLowerer(mb *ModuleBuilder, stringNames []string) *Lowerer {
	lw := &Lowerer{
		mb:          mb,
		b:           mb.Main(),
		syms:        mb.Symbols(),
		stringNames: stringNames,
		patternIdx:  make(map[string]int32, len(stringNames)),
		fieldIdx:    make(map[string]int32),
	}
	for i, name := range stringNames {
		lw.patternIdx[name] = int32(i)
	}
	return lw
}

// StringLiterals returns every distinct string literal the condition
// referenced, in literal_to_ref index order, so the caller can hand the
// host runtime a matching string table.
func (lw *Lowerer) StringLiterals() []string { return lw.stringLits }

// FieldPaths returns every structured-data field path the condition
// referenced, in lookup_*'s i32 field-id order, so the caller can hand the
// host runtime a matching field table.
func (lw *Lowerer) FieldPaths() []string {
	paths := make([]string, len(lw.fieldIdx))
	for path, id := range lw.fieldIdx {
		paths[id] = path
	}
	return paths
}

// LowerRule appends "if (cond) { rule_match(ruleIdx) }" to main, where
// ruleIdx is the rule's own compile-time index (the argument rule_match
// reports matches under). Call once per rule sharing this module.
func (lw *Lowerer) LowerRule(ruleIdx int32, cond ast.Expr) {
	lw.lowerBool(cond)
	lw.b.ifStart(blockTypeEmpty)
	lw.b.i32Const(ruleIdx)
	lw.b.call("rule_match")
	lw.b.end()
}

func (lw *Lowerer) fieldID(path string) int32 {
	if id, ok := lw.fieldIdx[path]; ok {
		return id
	}
	id := lw.nextField
	lw.nextField++
	lw.fieldIdx[path] = id
	return id
}

func (lw *Lowerer) stringLitIndex(s string) int64 {
	for i, lit := range lw.stringLits {
		if lit == s {
			return int64(i)
		}
	}
	lw.stringLits = append(lw.stringLits, s)
	return int64(len(lw.stringLits) - 1)
}

// lowerBool emits code producing an i32 {0,1}, mirroring evalExpr's
// boolean-context evaluation.
func (lw *Lowerer) lowerBool(e ast.Expr) {
	switch n := e.(type) {
	case ast.StringRef:
		lw.b.i32Const(lw.patternIdx[n.Name])
		lw.b.call("is_pat_match")

	case ast.AtExpr:
		lw.b.i32Const(lw.patternIdx[n.Ref.Name])
		lw.lowerIntValue(n.Pos)
		lw.b.call("is_pat_match_at")

	case ast.BoolLit:
		if n.Value {
			lw.b.i32Const(1)
		} else {
			lw.b.i32Const(0)
		}

	case ast.UnaryExpr:
		if n.Op == "not" {
			lw.lowerBool(n.Operand)
			lw.b.emit(opI32Eqz)
			return
		}
		k := lw.lowerValue(n)
		lw.convStackToBoolI32(k)

	case ast.ParenExpr:
		lw.lowerBool(n.Inner)

	case ast.AnyOf:
		lw.lowerAnyAllOf(n.Pattern, false)

	case ast.AllOf:
		lw.lowerAnyAllOf(n.Pattern, true)

	case ast.BinaryExpr:
		switch n.Op {
		case "and":
			lw.lowerBool(n.Left)
			lw.b.ifStart(ValI32)
			lw.lowerBool(n.Right)
			lw.b.elseStart()
			lw.b.i32Const(0)
			lw.b.end()
		case "or":
			lw.lowerBool(n.Left)
			lw.b.ifStart(ValI32)
			lw.b.i32Const(1)
			lw.b.elseStart()
			lw.lowerBool(n.Right)
			lw.b.end()
		default:
			k := lw.lowerValue(n)
			lw.convStackToBoolI32(k)
		}

	case ast.StringCompareExpr:
		lw.lowerStringCompare(n)

	case ast.StringContainsExpr:
		lw.lowerStringContains(n)

	default:
		k := lw.lowerValue(e)
		lw.convStackToBoolI32(k)
	}
}

// lowerAnyAllOf expands "any/all of <pattern>" at compile time: the set of
// matching string names is static, so the result is just an OR-chain (any)
// or AND-chain (all) of is_pat_match calls. allOf selects the AND chain.
func (lw *Lowerer) lowerAnyAllOf(pattern string, allOf bool) {
	names := matchingNames(pattern, lw.stringNames)
	if len(names) == 0 {
		lw.b.i32Const(0)
		return
	}
	lw.b.i32Const(lw.patternIdx[names[0]])
	lw.b.call("is_pat_match")
	for _, name := range names[1:] {
		lw.b.i32Const(lw.patternIdx[name])
		lw.b.call("is_pat_match")
		if allOf {
			lw.b.emit(opI32And)
		} else {
			lw.b.emit(opI32Or)
		}
	}
}

func matchingNames(pattern string, names []string) []string {
	if pattern == "them" {
		return names
	}
	if len(pattern) == 0 || pattern[len(pattern)-1] != '*' {
		for _, n := range names {
			if n == pattern {
				return []string{n}
			}
		}
		return nil
	}
	prefix := pattern[:len(pattern)-1]
	var out []string
	for _, n := range names {
		if len(n) >= len(prefix) && n[:len(prefix)] == prefix {
			out = append(out, n)
		}
	}
	return out
}

// lowerValue emits code producing exactly one value of the returned kind
// (a WASM value type byte), mirroring evalValue.
func (lw *Lowerer) lowerValue(e ast.Expr) byte {
	switch n := e.(type) {
	case ast.IntLit:
		lw.b.i64Const(n.Value)
		return ValI64

	case ast.FloatLit:
		lw.b.f64Const(math.Float64bits(n.Value))
		return ValF64

	case ast.StringLit:
		lw.b.i64Const(lw.stringLitIndex(n.Value))
		lw.b.call("literal_to_ref")
		return ValExternref

	case ast.BoolLit:
		if n.Value {
			lw.b.i32Const(1)
		} else {
			lw.b.i32Const(0)
		}
		return ValI32

	case ast.FuncCall:
		lw.lowerFuncCall(n)
		return ValI64

	case ast.ParenExpr:
		return lw.lowerValue(n.Inner)

	case ast.UnaryExpr:
		return lw.lowerUnaryValue(n)

	case ast.BinaryExpr:
		if n.Op == "and" || n.Op == "or" {
			lw.lowerBool(n)
			return ValI32
		}
		return lw.lowerBinaryValue(n)

	case ast.LookupExpr:
		return lw.lowerLookupValue(n)

	case ast.StringCompareExpr:
		lw.lowerStringCompare(n)
		return ValI32

	case ast.StringContainsExpr:
		lw.lowerStringContains(n)
		return ValI32

	default:
		lw.lowerBool(e)
		return ValI32
	}
}

// lowerIntValue lowers e and converts it to i64 in place, for operands
// (like AtExpr's position) that must be an integer.
func (lw *Lowerer) lowerIntValue(e ast.Expr) {
	k := lw.lowerValue(e)
	lw.convStackToI64(k)
}

func (lw *Lowerer) lowerUnaryValue(n ast.UnaryExpr) byte {
	switch n.Op {
	case "not":
		k := lw.lowerValue(n.Operand)
		lw.convStackToBoolI32(k)
		lw.b.emit(opI32Eqz)
		return ValI32
	case "~":
		k := lw.lowerValue(n.Operand)
		lw.convStackToI64(k)
		lw.b.i64Const(-1)
		lw.b.emit(opI64Xor)
		return ValI64
	case "-":
		k := lw.lowerValue(n.Operand)
		if k == ValF64 {
			lw.b.emit(opF64Neg)
			return ValF64
		}
		tmp := lw.b.addLocal(ValI64)
		lw.convStackToI64(k)
		lw.b.localSet(tmp)
		lw.b.i64Const(0)
		lw.b.localGet(tmp)
		lw.b.emit(opI64Sub)
		return ValI64
	default:
		return lw.lowerValue(n.Operand)
	}
}

func (lw *Lowerer) lowerBinaryValue(n ast.BinaryExpr) byte {
	lk := lw.lowerValue(n.Left)
	tmpL := lw.b.addLocal(lk)
	lw.b.localSet(tmpL)

	rk := lw.lowerValue(n.Right)
	tmpR := lw.b.addLocal(rk)
	lw.b.localSet(tmpR)

	float := lk == ValF64 || rk == ValF64

	switch n.Op {
	case "==", "!=", "<", "<=", ">", ">=":
		lw.pushConverted(tmpL, lk, float)
		lw.pushConverted(tmpR, rk, float)
		if float {
			lw.b.emit(f64CmpOp(n.Op))
		} else {
			lw.b.emit(i64CmpOp(n.Op))
		}
		return ValI32

	case "+", "-", "*":
		lw.pushConverted(tmpL, lk, float)
		lw.pushConverted(tmpR, rk, float)
		if float {
			lw.b.emit(f64ArithOp(n.Op))
			return ValF64
		}
		lw.b.emit(i64ArithOp(n.Op))
		return ValI64

	case "\\", "%":
		li := lw.b.addLocal(ValI64)
		lw.pushConverted(tmpL, lk, false)
		lw.b.localSet(li)
		ri := lw.b.addLocal(ValI64)
		lw.pushConverted(tmpR, rk, false)
		lw.b.localSet(ri)

		lw.b.localGet(ri)
		lw.b.emit(opI64Eqz)
		lw.b.ifStart(ValI64)
		lw.b.i64Const(0)
		lw.b.elseStart()
		lw.b.localGet(li)
		lw.b.localGet(ri)
		if n.Op == "\\" {
			lw.b.emit(opI64DivS)
		} else {
			lw.b.emit(opI64RemS)
		}
		lw.b.end()
		return ValI64

	case "&", "|", "^":
		lw.pushConverted(tmpL, lk, false)
		lw.pushConverted(tmpR, rk, false)
		lw.b.emit(bitwiseOp(n.Op))
		return ValI64

	case "<<", ">>":
		// i64.shl/shr_s mask the shift count mod 64, so a count >= 64 wraps
		// around instead of zeroing out. condeval's Go `<< uint(n)` produces
		// 0 for any n >= 64 (and for negative n, which wraps to a huge
		// uint); guard the same way here so the tree-walk and WASM
		// evaluators agree on this edge rather than just on the common case.
		shiftCount := lw.b.addLocal(ValI64)
		lw.pushConverted(tmpR, rk, false)
		lw.b.localSet(shiftCount)
		lhs := lw.b.addLocal(ValI64)
		lw.pushConverted(tmpL, lk, false)
		lw.b.localSet(lhs)

		lw.b.localGet(shiftCount)
		lw.b.i64Const(64)
		lw.b.emit(opI64GeU)
		lw.b.ifStart(ValI64)
		lw.b.i64Const(0)
		lw.b.elseStart()
		lw.b.localGet(lhs)
		lw.b.localGet(shiftCount)
		lw.b.emit(bitwiseOp(n.Op))
		lw.b.end()
		return ValI64

	default:
		lw.b.i32Const(0)
		return ValI32
	}
}

func i64CmpOp(op string) byte {
	switch op {
	case "==":
		return opI64Eq
	case "!=":
		return opI64Ne
	case "<":
		return opI64LtS
	case "<=":
		return opI64LeS
	case ">":
		return opI64GtS
	default: // ">="
		return opI64GeS
	}
}

func f64CmpOp(op string) byte {
	switch op {
	case "==":
		return opF64Eq
	case "!=":
		return opF64Ne
	case "<":
		return opF64Lt
	case "<=":
		return opF64Le
	case ">":
		return opF64Gt
	default: // ">="
		return opF64Ge
	}
}

func i64ArithOp(op string) byte {
	switch op {
	case "+":
		return opI64Add
	case "-":
		return opI64Sub
	default: // "*"
		return opI64Mul
	}
}

func f64ArithOp(op string) byte {
	switch op {
	case "+":
		return opF64Add
	case "-":
		return opF64Sub
	default: // "*"
		return opF64Mul
	}
}

func bitwiseOp(op string) byte {
	switch op {
	case "&":
		return opI64And
	case "|":
		return opI64Or
	case "^":
		return opI64Xor
	case "<<":
		return opI64Shl
	default: // ">>"
		return opI64ShrS
	}
}

// pushConverted reloads slot (declared with kind) and, if wantFloat
// differs from kind's natural domain, converts it the way asInt()/asFloat()
// would.
func (lw *Lowerer) pushConverted(slot uint32, kind byte, wantFloat bool) {
	lw.b.localGet(slot)
	if wantFloat {
		lw.convStackToF64(kind)
	} else {
		lw.convStackToI64(kind)
	}
}

// convStackToI64 converts the current stack-top value of kind to i64,
// matching value.asInt(): floats truncate toward zero, bools widen 0/1,
// strings always become 0 (condeval never inspects string content for
// asInt; its default case returns the zero i field a string value carries).
func (lw *Lowerer) convStackToI64(kind byte) {
	switch kind {
	case ValI64:
	case ValI32:
		lw.b.emit(opI64ExtendI32U)
	case ValF64:
		lw.b.emit(opI64TruncF64S)
	case ValExternref:
		lw.b.drop()
		lw.b.i64Const(0)
	}
}

// convStackToF64 converts the current stack-top value of kind to f64,
// matching value.asFloat().
func (lw *Lowerer) convStackToF64(kind byte) {
	switch kind {
	case ValF64:
	case ValI64:
		lw.b.emit(opF64ConvertI64S)
	case ValI32:
		lw.b.emit(opI64ExtendI32U)
		lw.b.emit(opF64ConvertI64S)
	case ValExternref:
		lw.b.drop()
		lw.b.f64Const(0)
	}
}

// convStackToBoolI32 converts the current stack-top value of kind to an i32
// {0,1}, matching value.truthy().
func (lw *Lowerer) convStackToBoolI32(kind byte) {
	switch kind {
	case ValI32:
	case ValI64:
		lw.b.i64Const(0)
		lw.b.emit(opI64Ne)
	case ValF64:
		lw.b.f64Const(0)
		lw.b.emit(opF64Ne)
	case ValExternref:
		lw.b.localSet(lw.syms.RefTmp)
		lw.b.localGet(lw.syms.RefTmp)
		lw.b.emit(opRefIsNull)
		lw.b.ifStart(ValI32)
		lw.b.i32Const(0)
		lw.b.elseStart()
		lw.b.localGet(lw.syms.RefTmp)
		lw.b.call("str_len")
		lw.b.i64Const(0)
		lw.b.emit(opI64Ne)
		lw.b.end()
	}
}

func (lw *Lowerer) lowerFuncCall(fn ast.FuncCall) {
	if len(fn.Args) == 0 {
		lw.b.i64Const(0)
		return
	}
	lw.lowerIntValue(fn.Args[0])
	switch fn.Name {
	case "uint32be", "uint16be", "uint32", "uint16", "uint8":
		lw.b.call(fn.Name)
	default:
		lw.b.drop()
		lw.b.i64Const(0)
	}
}

func (lw *Lowerer) lowerStringCompare(e ast.StringCompareExpr) {
	lw.lowerStringOperand(e.Left)
	lw.lowerStringOperand(e.Right)
	switch e.Op {
	case ast.StrEq:
		lw.b.call("str_eq")
	case ast.StrNe:
		lw.b.call("str_ne")
	case ast.StrGt:
		lw.b.call("str_gt")
	case ast.StrLt:
		lw.b.call("str_lt")
	case ast.StrGe:
		lw.b.call("str_ge")
	case ast.StrLe:
		lw.b.call("str_le")
	case ast.StrIEquals:
		lw.b.call("str_iequals")
	}
}

func (lw *Lowerer) lowerStringContains(e ast.StringContainsExpr) {
	lw.lowerStringOperand(e.Haystack)
	lw.lowerStringOperand(e.Needle)
	switch e.Op {
	case ast.Contains:
		lw.b.call("str_contains")
	case ast.IContains:
		lw.b.call("str_icontains")
	case ast.StartsWith:
		lw.b.call("str_startswith")
	case ast.IStartsWith:
		lw.b.call("str_istartswith")
	case ast.EndsWith:
		lw.b.call("str_endswith")
	case ast.IEndsWith:
		lw.b.call("str_iendswith")
	}
}

// lowerStringOperand lowers e and ensures an externref ends up on the
// stack; only StringLit/LookupExpr(String) operands are expected here.
func (lw *Lowerer) lowerStringOperand(e ast.Expr) {
	k := lw.lowerValue(e)
	if k != ValExternref {
		lw.b.drop()
		lw.b.i64Const(lw.stringLitIndex(""))
		lw.b.call("literal_to_ref")
	}
}

// lowerLookupValue lowers a terminal (non-container) LookupExpr, pushing
// one value of the WASM type matching e.Kind.
func (lw *Lowerer) lowerLookupValue(e ast.LookupExpr) byte {
	parent, hasParent := lookupParent(e)
	switch {
	case !hasParent:
		lw.b.i32Const(lw.fieldID(pathKey(e)))
		return lw.callLeaf("lookup", e.Kind)

	case parent.Kind == ast.LookupStruct:
		lw.ensureCurrent(parent)
		lw.b.i32Const(lw.fieldID(pathKey(e)))
		return lw.callLeaf("lookup", e.Kind)

	case parent.Kind == ast.LookupArray:
		lw.ensureCurrent(parent)
		lw.lowerIndexAsI64(e.Index)
		return lw.callLeaf("array_lookup", e.Kind)

	case parent.Kind == ast.LookupMap:
		lw.ensureCurrent(parent)
		if e.Key != nil {
			lw.lowerStringOperand(e.Key)
			return lw.callLeaf("map_lookup_string", e.Kind)
		}
		lw.lowerIndexAsI64(e.Index)
		return lw.callLeaf("map_lookup_integer", e.Kind)

	default:
		lw.b.i32Const(lw.fieldID(pathKey(e)))
		return lw.callLeaf("lookup", e.Kind)
	}
}

// callLeaf calls "<prefix>_<kind>" (e.g. "lookup_integer",
// "array_lookup_string") and collapses its maybe-undef result, returning
// the WASM type of the value left on the stack.
func (lw *Lowerer) callLeaf(prefix string, kind ast.LookupKind) byte {
	switch kind {
	case ast.LookupInteger:
		lw.b.call(prefix + "_integer")
		lw.collapseI64()
		return ValI64
	case ast.LookupFloat:
		lw.b.call(prefix + "_float")
		lw.collapseF64()
		return ValF64
	case ast.LookupBool:
		lw.b.call(prefix + "_bool")
		lw.collapseBool()
		return ValI32
	case ast.LookupString:
		lw.b.call(prefix + "_string")
		return ValExternref
	default:
		lw.b.call(prefix)
		lw.b.drop()
		return ValI32
	}
}

func (lw *Lowerer) lowerIndexAsI64(e ast.Expr) {
	if e == nil {
		lw.b.i64Const(0)
		return
	}
	k := lw.lowerValue(e)
	lw.convStackToI64(k)
}

// ensureCurrent makes e, a container-kind LookupExpr (struct/array/map),
// the host's "current" navigation target, recursing through its own
// ancestry first. Each ancestor is re-navigated from the root on every
// call; repeated sibling lookups under the same struct re-walk the chain
// rather than caching "current" across calls. Simpler, and correct as long
// as the host's descend calls are idempotent, at the cost of redundant
// calls for deeply shared prefixes.
func (lw *Lowerer) ensureCurrent(e ast.LookupExpr) {
	parent, hasParent := lookupParent(e)
	if !hasParent {
		lw.b.i32Const(lw.fieldID(pathKey(e)))
		lw.containerCall("lookup", e.Kind)
		return
	}
	switch parent.Kind {
	case ast.LookupStruct:
		lw.ensureCurrent(parent)
		lw.b.i32Const(lw.fieldID(pathKey(e)))
		lw.containerCall("lookup", e.Kind)
	case ast.LookupArray:
		lw.ensureCurrent(parent)
		lw.lowerIndexAsI64(e.Index)
		// Only struct-typed elements can be descended into further; there
		// is no array_lookup_array/array_lookup_map host import.
		lw.b.call("array_lookup_struct")
		lw.b.drop()
	case ast.LookupMap:
		lw.ensureCurrent(parent)
		if e.Key != nil {
			lw.lowerStringOperand(e.Key)
			lw.b.call("map_lookup_string_struct")
		} else {
			lw.lowerIndexAsI64(e.Index)
			lw.b.call("map_lookup_integer_struct")
		}
		lw.b.drop()
	default:
		lw.b.i32Const(lw.fieldID(pathKey(e)))
		lw.containerCall("lookup", e.Kind)
	}
}

func (lw *Lowerer) containerCall(prefix string, kind ast.LookupKind) {
	switch kind {
	case ast.LookupArray:
		lw.b.call(prefix + "_array")
	case ast.LookupMap:
		lw.b.call(prefix + "_map")
	default:
		lw.b.call(prefix + "_struct")
	}
}

func (lw *Lowerer) collapseI64() {
	lw.b.localSet(lw.syms.I32Tmp)
	lw.b.localSet(lw.syms.I64Tmp)
	lw.b.localGet(lw.syms.I32Tmp)
	lw.b.ifStart(ValI64)
	lw.b.localGet(lw.syms.I64Tmp)
	lw.b.elseStart()
	lw.b.i64Const(0)
	lw.b.end()
}

func (lw *Lowerer) collapseF64() {
	lw.b.localSet(lw.syms.I32Tmp)
	tmp := lw.b.addLocal(ValF64)
	lw.b.localSet(tmp)
	lw.b.localGet(lw.syms.I32Tmp)
	lw.b.ifStart(ValF64)
	lw.b.localGet(tmp)
	lw.b.elseStart()
	lw.b.f64Const(0)
	lw.b.end()
}

func (lw *Lowerer) collapseBool() {
	lw.b.localSet(lw.syms.I32Tmp)
	tmp := lw.b.addLocal(ValI32)
	lw.b.localSet(tmp)
	lw.b.localGet(lw.syms.I32Tmp)
	lw.b.ifStart(ValI32)
	lw.b.localGet(tmp)
	lw.b.elseStart()
	lw.b.i32Const(0)
	lw.b.end()
}

func lookupParent(e ast.LookupExpr) (ast.LookupExpr, bool) {
	if e.Parent == nil {
		return ast.LookupExpr{}, false
	}
	p, ok := e.Parent.(ast.LookupExpr)
	return p, ok
}

// pathKey builds a stable, globally unique field-id key for a lookup node:
// its ancestor chain joined by ".", with an array/map ancestor contributing
// a "[]" marker instead of an index (every element of the same array/map
// shares one field-id space, since the host resolves field ids against
// whichever struct is currently selected).
func pathKey(e ast.LookupExpr) string {
	parent, hasParent := lookupParent(e)
	if !hasParent {
		return e.Field
	}
	base := pathKey(parent)
	if parent.Kind == ast.LookupArray || parent.Kind == ast.LookupMap {
		base += "[]"
	}
	if e.Field == "" {
		return base
	}
	if base == "" {
		return e.Field
	}
	return base + "." + e.Field
}
