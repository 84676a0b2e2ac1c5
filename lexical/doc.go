// Package lexical turns text into keyword terms and scores them with BM25.
//
// The same tokenizer runs at ingestion time, when chunk term frequencies
// are written to the keyword index, and at query time, so both sides of a
// keyword match agree on what a term is. Hyphen, dot and underscore joined
// runs such as "ISO-9001" produce their parts plus a joined compound term,
// which lets identifiers match exactly.
package lexical
