package lexical

// Stop words are never indexed or queried.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "or": true, "were": true, "been": true, "has": true,
	"had": true, "does": true, "did": true, "what": true, "which": true,
	"who": true, "whom": true, "how": true, "why": true, "when": true,
	"where": true, "can": true, "could": true, "should": true, "would": true,
	"will": true, "shall": true, "may": true, "might": true, "must": true,
	"about": true, "into": true, "than": true, "then": true, "there": true,
	"these": true, "those": true, "its": true, "our": true, "their": true,
	"your": true, "we": true, "they": true, "he": true, "she": true, "i": true,
	"me": true, "my": true, "so": true, "if": true, "no": true, "any": true,
	"all": true, "also": true, "such": true,
}

// IsStopWord reports whether a lower-cased term is a stop word.
func IsStopWord(term string) bool {
	return stopWords[term]
}
