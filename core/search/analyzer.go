package search

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Analyzer splits text into lower-cased words on Unicode word boundaries.
// The same analyzer is applied to documents and queries.
type Analyzer struct {
	tokenizer analysis.Tokenizer
	filters   []analysis.TokenFilter
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{
		tokenizer: unicode.NewUnicodeTokenizer(),
		filters:   []analysis.TokenFilter{lowercase.NewLowerCaseFilter()},
	}
}

// Terms returns the tokens of text in order, duplicates included.
func (a *Analyzer) Terms(text string) []string {
	if text == "" {
		return nil
	}

	stream := a.tokenizer.Tokenize([]byte(text))
	for _, f := range a.filters {
		stream = f.Filter(stream)
	}

	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// QueryTerms analyzes every raw query term and drops duplicates, keeping
// first-seen order.
func (a *Analyzer) QueryTerms(raw []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range raw {
		for _, t := range a.Terms(r) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
