package scanner

import "github.com/wasilibs/go-re2/experimental"

// Regexp is the minimal surface scanner needs from a compiled regex engine.
// go-re2's Latin1 regexes, stdlib's regexp.Regexp, coregex's Regexp, and
// rex.Regexp (github.com/bytesentry/rulecore/rex) all satisfy it. The first
// three can stand in behind CompileFunc; rex.Regexp is built from HIR, not
// pattern text, and is used only for hex strings (compileHexViaRex).
type Regexp interface {
	FindIndex(b []byte) []int
	String() string
}

// CompileFunc compiles a pattern into a Regexp. Swapping it lets callers
// compare regex engines (cmd/regex-bench). It takes pattern text, so rex,
// which compiles HIR, has no CompileFunc.
type CompileFunc func(pattern string) (Regexp, error)

// defaultRegexCompiler parses RE2 syntax through go-re2's WASM-compiled
// engine, restricted to the Latin-1 byte range scanner operates over.
func defaultRegexCompiler(pattern string) (Regexp, error) {
	return experimental.CompileLatin1(pattern)
}
