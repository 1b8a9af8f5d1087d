package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeKeepsAcronymsWhole(t *testing.T) {
	tokens := Tokenize("Who does DEPSECDEF report to?")

	assert.Contains(t, tokens, "DEPSECDEF")
	assert.Contains(t, tokens, "report")
	assert.NotContains(t, tokens, "SECDEF")
	assert.Nil(t, Tokenize("   "))
}

func TestIsAcronym(t *testing.T) {
	cases := map[string]bool{
		"SECDEF":   true,
		"DSCA":     true,
		"G2G":      true,
		"Security": false,
		"A":        false,
		"sc":       false,
		"?":        false,
	}
	for token, want := range cases {
		assert.Equal(t, want, IsAcronym(token), token)
	}
}
