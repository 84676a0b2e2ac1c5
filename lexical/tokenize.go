package lexical

import (
	"strings"
	"unicode"
)

// word is a run of alphanumeric parts joined by '-', '.', '_' or '/'.
type word struct {
	raw   string
	parts []string
}

func isJoiner(r rune) bool {
	return r == '-' || r == '.' || r == '_' || r == '/'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// scan splits text into words. A joiner only binds when it sits between
// two alphanumeric runes, so "end." and "-x" do not produce compounds.
func scan(text string) []word {
	runes := []rune(text)
	var words []word
	i := 0
	for i < len(runes) {
		if !isWordRune(runes[i]) {
			i++
			continue
		}
		start := i
		var parts []string
		partStart := i
		for i < len(runes) {
			if isWordRune(runes[i]) {
				i++
				continue
			}
			if isJoiner(runes[i]) && i+1 < len(runes) && isWordRune(runes[i+1]) {
				parts = append(parts, string(runes[partStart:i]))
				i++
				partStart = i
				continue
			}
			break
		}
		parts = append(parts, string(runes[partStart:i]))
		words = append(words, word{raw: string(runes[start:i]), parts: parts})
	}
	return words
}

func keepTerm(term string) bool {
	if term == "" || stopWords[term] {
		return false
	}
	runes := []rune(term)
	if len(runes) == 1 {
		return unicode.IsDigit(runes[0])
	}
	return true
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// compound returns the joined form of a multi-part word, or "" when the
// parts look like an abbreviation ("e.g.") rather than an identifier.
func compound(parts []string) string {
	if len(parts) < 2 {
		return ""
	}
	digits := false
	short := false
	for _, p := range parts {
		if hasDigit(p) {
			digits = true
		}
		if len([]rune(p)) < 2 {
			short = true
		}
	}
	if short && !digits {
		return ""
	}
	return strings.ToLower(strings.Join(parts, "-"))
}

// Tokenize returns the keyword terms of text in order of appearance.
// Terms are lower-cased; stop words and single letters are dropped.
func Tokenize(text string) []string {
	var terms []string
	for _, w := range scan(text) {
		for _, p := range w.parts {
			p = strings.ToLower(p)
			if keepTerm(p) {
				terms = append(terms, p)
			}
		}
		if c := compound(w.parts); c != "" {
			terms = append(terms, c)
		}
	}
	return terms
}

// Terms returns the term frequencies of text.
func Terms(text string) map[string]int {
	tf := make(map[string]int)
	for _, t := range Tokenize(text) {
		tf[t]++
	}
	return tf
}

// UniqueTerms returns the distinct terms of text in order of first appearance.
func UniqueTerms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokenize(text) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func isAcronym(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}

// Identifiers returns the terms of a query that name something exactly:
// words containing digits, joined compounds, and ALL-CAPS acronyms.
// Vector search tends to miss these, so fusion boosts chunks containing them.
func Identifiers(query string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] && !stopWords[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, w := range scan(query) {
		if c := compound(w.parts); c != "" {
			add(c)
			continue
		}
		if len(w.parts) == 1 && (hasDigit(w.raw) || isAcronym(w.raw)) {
			add(strings.ToLower(w.raw))
		}
	}
	return out
}
