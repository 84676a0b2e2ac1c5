// Package reembed re-embeds the chunks of an existing collection with the
// current embedding provider.
//
// Chunks are read document by document, embedded in batches with retry
// and exponential backoff, normalized to unit length, and written back
// one document per transaction, so a document never mixes vectors from
// two models. Progress is reported to an io.Writer.
//
// The provider must produce vectors of the collection's pinned dimension.
// Changing the dimension requires ingesting into a new collection.
package reembed
