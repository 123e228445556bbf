package internal

import (
	"github.com/bytesentry/rulecore/parser"
	"github.com/bytesentry/rulecore/scanner"
)

func YargoRules(yaraFile string) (*scanner.Rules, error) {
	p := parser.New()
	ruleSet, err := p.ParseFile(yaraFile)
	if err != nil {
		return nil, err
	}

	return scanner.Compile(ruleSet)
}
