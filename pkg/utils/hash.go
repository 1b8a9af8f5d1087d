package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// NormalizeQuestion lowercases, drops trailing punctuation and collapses
// whitespace so trivially different spellings of one question share a key.
func NormalizeQuestion(question string) string {
	fields := strings.Fields(strings.ToLower(question))
	normalized := strings.Join(fields, " ")
	return strings.TrimRightFunc(normalized, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// QuestionHash keys overrides and training samples.
func QuestionHash(question string) string {
	return HashString(NormalizeQuestion(question))
}
