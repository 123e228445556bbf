package scanner

import (
	"encoding/binary"
	"strings"

	"github.com/bytesentry/rulecore/ast"
)

// evalContext holds the context for evaluating a condition.
type evalContext struct {
	matches     map[string][]int // string name -> list of match positions
	buf         []byte            // the buffer being scanned
	stringNames []string          // all string names defined in the rule
	lookup      LookupHost        // optional structured-data host, may be nil
}

// LookupHost resolves structured-data field lookups (e.g. pe.entry_point)
// for condeval, mirroring the wasmgen lookup_* host imports. Scans that
// never reference such fields can pass a nil LookupHost.
type LookupHost interface {
	LookupValue(path []string) (value any, defined bool)
}

// value is the tagged result of evaluating any condition sub-expression.
// condeval is untyped at the ast level, so every evalValue call produces
// one of these and callers coerce as needed, matching the "maybe-undef"
// discipline the WASM emitter uses on the wire.
type value struct {
	kind    ast.LookupKind
	i       int64
	f       float64
	s       string
	b       bool
	defined bool
}

func intValue(v int64) value   { return value{kind: ast.LookupInteger, i: v, defined: true} }
func floatValue(v float64) value { return value{kind: ast.LookupFloat, f: v, defined: true} }
func strValue(v string) value  { return value{kind: ast.LookupString, s: v, defined: true} }
func boolValue(v bool) value   { return value{kind: ast.LookupBool, b: v, defined: true} }

func (v value) asInt() int64 {
	switch v.kind {
	case ast.LookupFloat:
		return int64(v.f)
	case ast.LookupBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return v.i
	}
}

func (v value) asFloat() float64 {
	if v.kind == ast.LookupFloat {
		return v.f
	}
	return float64(v.asInt())
}

func (v value) truthy() bool {
	switch v.kind {
	case ast.LookupBool:
		return v.b
	case ast.LookupString:
		return v.s != ""
	case ast.LookupFloat:
		return v.f != 0
	default:
		return v.i != 0
	}
}

// evalExpr evaluates a condition expression and returns true if it matches.
func evalExpr(expr ast.Expr, ctx *evalContext) bool {
	switch e := expr.(type) {
	case ast.StringRef:
		_, ok := ctx.matches[e.Name]
		return ok

	case ast.AtExpr:
		positions, ok := ctx.matches[e.Ref.Name]
		if !ok {
			return false
		}
		pos := evalExprInt(e.Pos, ctx)
		for _, p := range positions {
			if int64(p) == pos {
				return true
			}
		}
		return false

	case ast.BoolLit:
		return e.Value

	case ast.UnaryExpr:
		if e.Op == "not" {
			return !evalExpr(e.Operand, ctx)
		}
		return evalValue(e, ctx).truthy()

	case ast.ParenExpr:
		return evalExpr(e.Inner, ctx)

	case ast.AnyOf:
		return evalAnyOf(e, ctx)

	case ast.AllOf:
		return evalAllOf(e, ctx)

	case ast.BinaryExpr:
		switch e.Op {
		case "and":
			return evalExpr(e.Left, ctx) && evalExpr(e.Right, ctx)
		case "or":
			return evalExpr(e.Left, ctx) || evalExpr(e.Right, ctx)
		}
		return evalValue(e, ctx).truthy()

	case ast.StringCompareExpr:
		return evalStringCompare(e, ctx)

	case ast.StringContainsExpr:
		return evalStringContains(e, ctx)

	default:
		return evalValue(expr, ctx).truthy()
	}
}

// evalExprInt evaluates an expression that should return an integer.
func evalExprInt(expr ast.Expr, ctx *evalContext) int64 {
	return evalValue(expr, ctx).asInt()
}

// evalValue is the general-purpose evaluator every typed helper funnels
// through; wasmgen's stack lowering mirrors it case for case. The wasmgen
// tests only validate emitted modules and do not run them against it.
func evalValue(expr ast.Expr, ctx *evalContext) value {
	switch e := expr.(type) {
	case ast.IntLit:
		return intValue(e.Value)
	case ast.FloatLit:
		return floatValue(e.Value)
	case ast.StringLit:
		return strValue(e.Value)
	case ast.BoolLit:
		return boolValue(e.Value)
	case ast.FuncCall:
		return intValue(evalFuncCall(e, ctx))
	case ast.ParenExpr:
		return evalValue(e.Inner, ctx)
	case ast.UnaryExpr:
		v := evalValue(e.Operand, ctx)
		switch e.Op {
		case "not":
			return boolValue(!v.truthy())
		case "~":
			return intValue(^v.asInt())
		case "-":
			if v.kind == ast.LookupFloat {
				return floatValue(-v.f)
			}
			return intValue(-v.asInt())
		}
		return v
	case ast.BinaryExpr:
		return evalBinaryValue(e, ctx)
	case ast.LookupExpr:
		return evalLookup(e, ctx)
	case ast.StringCompareExpr:
		return boolValue(evalStringCompare(e, ctx))
	case ast.StringContainsExpr:
		return boolValue(evalStringContains(e, ctx))
	default:
		return boolValue(evalExpr(expr, ctx))
	}
}

func evalBinaryValue(e ast.BinaryExpr, ctx *evalContext) value {
	switch e.Op {
	case "and":
		return boolValue(evalExpr(e.Left, ctx) && evalExpr(e.Right, ctx))
	case "or":
		return boolValue(evalExpr(e.Left, ctx) || evalExpr(e.Right, ctx))
	}

	l := evalValue(e.Left, ctx)
	r := evalValue(e.Right, ctx)
	float := l.kind == ast.LookupFloat || r.kind == ast.LookupFloat

	switch e.Op {
	case "==":
		return boolValue(compareNumeric(l, r, float) == 0)
	case "!=":
		return boolValue(compareNumeric(l, r, float) != 0)
	case "<":
		return boolValue(compareNumeric(l, r, float) < 0)
	case "<=":
		return boolValue(compareNumeric(l, r, float) <= 0)
	case ">":
		return boolValue(compareNumeric(l, r, float) > 0)
	case ">=":
		return boolValue(compareNumeric(l, r, float) >= 0)
	case "+":
		if float {
			return floatValue(l.asFloat() + r.asFloat())
		}
		return intValue(l.asInt() + r.asInt())
	case "-":
		if float {
			return floatValue(l.asFloat() - r.asFloat())
		}
		return intValue(l.asInt() - r.asInt())
	case "*":
		if float {
			return floatValue(l.asFloat() * r.asFloat())
		}
		return intValue(l.asInt() * r.asInt())
	case "\\":
		if r.asInt() == 0 {
			return intValue(0)
		}
		return intValue(l.asInt() / r.asInt())
	case "%":
		if r.asInt() == 0 {
			return intValue(0)
		}
		return intValue(l.asInt() % r.asInt())
	case "&":
		return intValue(l.asInt() & r.asInt())
	case "|":
		return intValue(l.asInt() | r.asInt())
	case "^":
		return intValue(l.asInt() ^ r.asInt())
	case "<<":
		return intValue(l.asInt() << uint(r.asInt()))
	case ">>":
		return intValue(l.asInt() >> uint(r.asInt()))
	default:
		return boolValue(false)
	}
}

func compareNumeric(l, r value, float bool) int {
	if float {
		lf, rf := l.asFloat(), r.asFloat()
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		default:
			return 0
		}
	}
	li, ri := l.asInt(), r.asInt()
	switch {
	case li < ri:
		return -1
	case li > ri:
		return 1
	default:
		return 0
	}
}

// evalFuncCall evaluates a function call and returns its integer result.
func evalFuncCall(fn ast.FuncCall, ctx *evalContext) int64 {
	if len(fn.Args) == 0 {
		return 0
	}
	pos := evalExprInt(fn.Args[0], ctx)
	if pos < 0 || int(pos) >= len(ctx.buf) {
		return 0
	}

	switch fn.Name {
	case "uint32be":
		if int(pos)+4 > len(ctx.buf) {
			return 0
		}
		return int64(binary.BigEndian.Uint32(ctx.buf[pos:]))

	case "uint16be":
		if int(pos)+2 > len(ctx.buf) {
			return 0
		}
		return int64(binary.BigEndian.Uint16(ctx.buf[pos:]))

	case "uint32":
		if int(pos)+4 > len(ctx.buf) {
			return 0
		}
		return int64(binary.LittleEndian.Uint32(ctx.buf[pos:]))

	case "uint16":
		if int(pos)+2 > len(ctx.buf) {
			return 0
		}
		return int64(binary.LittleEndian.Uint16(ctx.buf[pos:]))

	case "uint8":
		return int64(ctx.buf[pos])

	default:
		return 0
	}
}

func evalStringCompare(e ast.StringCompareExpr, ctx *evalContext) bool {
	l := evalValue(e.Left, ctx).s
	r := evalValue(e.Right, ctx).s
	switch e.Op {
	case ast.StrEq:
		return l == r
	case ast.StrNe:
		return l != r
	case ast.StrGt:
		return l > r
	case ast.StrLt:
		return l < r
	case ast.StrGe:
		return l >= r
	case ast.StrLe:
		return l <= r
	case ast.StrIEquals:
		return strings.EqualFold(l, r)
	default:
		return false
	}
}

func evalStringContains(e ast.StringContainsExpr, ctx *evalContext) bool {
	h := evalValue(e.Haystack, ctx).s
	n := evalValue(e.Needle, ctx).s
	switch e.Op {
	case ast.Contains:
		return strings.Contains(h, n)
	case ast.IContains:
		return strings.Contains(strings.ToLower(h), strings.ToLower(n))
	case ast.StartsWith:
		return strings.HasPrefix(h, n)
	case ast.IStartsWith:
		return strings.HasPrefix(strings.ToLower(h), strings.ToLower(n))
	case ast.EndsWith:
		return strings.HasSuffix(h, n)
	case ast.IEndsWith:
		return strings.HasSuffix(strings.ToLower(h), strings.ToLower(n))
	default:
		return false
	}
}

// evalLookup resolves a structured-data field via ctx.lookup, mirroring the
// WASM emitter's maybe-undef lookup_* imports: an unresolved field or a nil
// host yields an undefined value whose truthiness is false.
func evalLookup(e ast.LookupExpr, ctx *evalContext) value {
	if ctx.lookup == nil {
		return value{}
	}
	path := lookupPath(e)
	raw, defined := ctx.lookup.LookupValue(path)
	if !defined {
		return value{}
	}
	switch v := raw.(type) {
	case int64:
		return intValue(v)
	case int:
		return intValue(int64(v))
	case float64:
		return floatValue(v)
	case bool:
		return boolValue(v)
	case string:
		return strValue(v)
	default:
		return value{}
	}
}

func lookupPath(e ast.LookupExpr) []string {
	var path []string
	if e.Parent != nil {
		if parentLookup, ok := e.Parent.(ast.LookupExpr); ok {
			path = lookupPath(parentLookup)
		}
	}
	if e.Field != "" {
		path = append(path, e.Field)
	}
	return path
}

// evalAnyOf evaluates "any of" expressions.
func evalAnyOf(e ast.AnyOf, ctx *evalContext) bool {
	names := matchingStringNames(e.Pattern, ctx.stringNames)
	for _, name := range names {
		if _, ok := ctx.matches[name]; ok {
			return true
		}
	}
	return false
}

// evalAllOf evaluates "all of" expressions.
func evalAllOf(e ast.AllOf, ctx *evalContext) bool {
	names := matchingStringNames(e.Pattern, ctx.stringNames)
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if _, ok := ctx.matches[name]; !ok {
			return false
		}
	}
	return true
}

// matchingStringNames returns string names that match the pattern.
// Pattern can be "them" (all strings) or a wildcard like "$b64_*".
func matchingStringNames(pattern string, stringNames []string) []string {
	if pattern == "them" {
		return stringNames
	}

	if !strings.HasSuffix(pattern, "*") {
		// Exact match
		for _, name := range stringNames {
			if name == pattern {
				return []string{name}
			}
		}
		return nil
	}

	// Wildcard match
	prefix := strings.TrimSuffix(pattern, "*")
	var result []string
	for _, name := range stringNames {
		if strings.HasPrefix(name, prefix) {
			result = append(result, name)
		}
	}
	return result
}
