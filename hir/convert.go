package hir

import "github.com/bytesentry/rulecore/ast"

// FromHexTokens lowers a parsed YARA hex-string body into HIR, giving rex a
// real-world input source beyond hand-built fixtures. Wildcards become Any,
// jumps become bounded/unbounded Repeat over Any, and alternations become
// Alternate. No MaskedByte is produced.
func FromHexTokens(tokens []ast.HexToken) Expr {
	subs := make([]Expr, 0, len(tokens))
	for _, t := range tokens {
		subs = append(subs, fromHexToken(t))
	}
	if len(subs) == 1 {
		return subs[0]
	}
	return Concat{Subs: subs}
}

func fromHexToken(t ast.HexToken) Expr {
	switch v := t.(type) {
	case ast.HexByte:
		return Byte(v.Value)
	case ast.HexWildcard:
		return Any{}
	case ast.HexJump:
		max := v.Max
		min := 0
		if v.Min != nil {
			min = *v.Min
		}
		return Repeat{Sub: Any{}, Min: min, Max: max, Greedy: true}
	case ast.HexAlt:
		subs := make([]Expr, len(v.Alternatives))
		for i, item := range v.Alternatives {
			if item.Wildcard {
				subs[i] = Any{}
			} else if item.Byte != nil {
				subs[i] = Byte(*item.Byte)
			}
		}
		return Alternate{Subs: subs}
	default:
		return Concat{}
	}
}

// FromLiteral lowers a flat byte string (a TextString body, or a HexString
// whose tokens are all concrete bytes) into a single Literal node.
func FromLiteral(b []byte) Expr {
	return Literal{Bytes: append([]byte(nil), b...)}
}
