package retrieval

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lower-cased word tokens. Runs of Han
// characters become overlapping bigrams; a lone Han character is its own
// token.
func Tokenize(text string) []string {
	var tokens []string
	var word []rune
	var han []rune

	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, strings.ToLower(string(word)))
			word = word[:0]
		}
	}
	flushHan := func() {
		switch {
		case len(han) == 1:
			tokens = append(tokens, string(han))
		case len(han) > 1:
			for i := 0; i+1 < len(han); i++ {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#':
			flushHan()
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}

// KeywordOverlap is the fraction of distinct query tokens that also occur
// in the excerpt.
func KeywordOverlap(query, excerpt string) float64 {
	queryTokens := distinct(Tokenize(query))
	if len(queryTokens) == 0 {
		return 0
	}
	excerptTokens := distinct(Tokenize(excerpt))

	found := 0
	for tok := range queryTokens {
		if _, ok := excerptTokens[tok]; ok {
			found++
		}
	}
	return float64(found) / float64(len(queryTokens))
}

func distinct(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
