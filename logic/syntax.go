package logic

import (
	"strings"
	"unicode"
)

// SyntaxValidator decides whether a sentence is well formed.
// Implementations must be deterministic for the verifier to stay referentially transparent.
type SyntaxValidator interface {
	IsWellFormed(sentence string) bool
}

// SyntaxValidatorFunc adapts a plain function.
type SyntaxValidatorFunc func(sentence string) bool

func (f SyntaxValidatorFunc) IsWellFormed(sentence string) bool {
	return f(sentence)
}

const DefaultMaxWords = 10

// ReferenceValidator is the in-process fallback used when the formal grammar engine is not reachable.
// A sentence is well formed when, after trimming one run of terminal punctuation,
// it has between 1 and MaxWords words and every word is letters (apostrophes and hyphens allowed inside).
type ReferenceValidator struct {
	MaxWords int
}

func NewReferenceValidator() *ReferenceValidator {
	return &ReferenceValidator{MaxWords: DefaultMaxWords}
}

func (v *ReferenceValidator) IsWellFormed(sentence string) bool {
	maxWords := v.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	trimmed := strings.TrimRight(strings.TrimSpace(sentence), ".?!")
	words := strings.Fields(trimmed)
	if len(words) == 0 || len(words) > maxWords {
		return false
	}
	for _, word := range words {
		if !isWord(word) {
			return false
		}
	}
	return true
}

func isWord(word string) bool {
	runes := []rune(word)
	for i, r := range runes {
		if unicode.IsLetter(r) {
			continue
		}
		inner := i > 0 && i < len(runes)-1
		if inner && (r == '\'' || r == '-') {
			continue
		}
		// allow a trailing comma between clauses
		if r == ',' && i == len(runes)-1 && i > 0 {
			continue
		}
		return false
	}
	return true
}
