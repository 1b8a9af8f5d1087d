package utils

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// Tokenize splits text into word and punctuation tokens using prose's
// tokenizer, keeping the original casing. Aliases and questions must go
// through the same function so token boundaries agree.
func Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return strings.Fields(text)
	}

	tokens := doc.Tokens()
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Text == "" {
			continue
		}
		out = append(out, tok.Text)
	}
	return out
}

func LowerAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.ToLower(t)
	}
	return out
}

// IsAcronym reports whether a token looks like an acronym: at least two
// upper-case letters and no lower-case letters.
func IsAcronym(token string) bool {
	upper := 0
	for _, r := range token {
		switch {
		case unicode.IsLower(r):
			return false
		case unicode.IsUpper(r):
			upper++
		case unicode.IsDigit(r), r == '&', r == '-':
		default:
			return false
		}
	}
	return upper >= 2
}

// IsWord reports whether a token contains at least one letter.
func IsWord(token string) bool {
	for _, r := range token {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
