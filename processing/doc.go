// Package processing turns raw document content into ordered chunk records.
//
// A Processor parses content according to its source type (plain text,
// markdown, text extracted from a PDF, or a web page fetched by URL),
// normalizes whitespace and strips structural noise, then splits the
// normalized text into overlapping chunks with a Chunker.
//
// Chunks cover the normalized text with no gaps. Each chunk records its
// rune span, so the source can be reconstructed by concatenating chunk
// texts and dropping the overlapping prefix of every chunk after the first.
//
// Two chunking modes exist. ModeCharacter cuts at a fixed rune count and
// overlaps consecutive chunks by exactly Overlap runes. ModeSentence only
// cuts at sentence boundaries, falls back to a hard cut when a single
// sentence exceeds the chunk size, and carries whole trailing sentences
// (at most Overlap runes) into the next chunk.
package processing
