package badger

import (
	"encoding/binary"

	"github.com/poiesic/docusense/core"
)

// Key prefixes for different data types. Collection names never contain
// ':' so string segments can be joined with it safely.
const (
	documentPrefix     = "doc"
	documentSumPrefix  = "docsum"
	documentColPrefix  = "doccol"
	documentIDSeq      = "docseq"
	collectionPrefix   = "col"
	chunkPrefix        = "chunk"
	chunkDocumentIndex = "chunkdoc"
	chunkIDSeq         = "chunkseq"
	vectorPrefix       = "vec"
	postingPrefix      = "kwp"
	jobPrefix          = "job"
	answerPrefix       = "ans"
	answerIDSeq        = "ansseq"
	feedbackPrefix     = "fbk"
	feedbackIDSeq      = "fbkseq"
)

// makeKey joins string segments with ':' and appends big-endian IDs.
// BigEndian keeps lexicographic order equal to numeric order.
func makeKey(segments []string, ids ...uint64) []byte {
	size := 0
	for _, s := range segments {
		size += len(s) + 1
	}
	buf := make([]byte, 0, size+8*len(ids))
	for _, s := range segments {
		buf = append(buf, s...)
		buf = append(buf, ':')
	}
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	return buf
}

// idSuffix reads the trailing big-endian ID of a key.
func idSuffix(key []byte) core.ID {
	if len(key) < 8 {
		return 0
	}
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id core.ID) []byte {
	return makeKey([]string{documentPrefix}, uint64(id))
}

// makeDocumentSumKey maps a content checksum to its document.
// Format: docsum:collection:checksum
func makeDocumentSumKey(collection, checksum string) []byte {
	return makeKey([]string{documentSumPrefix, collection, checksum})
}

// makeDocumentCollectionKey indexes documents by collection.
// Format: doccol:collection:id
func makeDocumentCollectionKey(collection string, id core.ID) []byte {
	return makeKey([]string{documentColPrefix, collection}, uint64(id))
}

func makeDocumentCollectionPrefix(collection string) []byte {
	return makeKey([]string{documentColPrefix, collection})
}

func makeCollectionKey(name string) []byte {
	return makeKey([]string{collectionPrefix, name})
}

// makeChunkKey generates a key for a chunk's record (text, span, terms).
func makeChunkKey(id core.ID) []byte {
	return makeKey([]string{chunkPrefix}, uint64(id))
}

// makeChunkDocumentKey orders a document's chunks by sequence.
// Format: chunkdoc:documentID:sequence
func makeChunkDocumentKey(documentID core.ID, sequence int) []byte {
	return makeKey([]string{chunkDocumentIndex}, uint64(documentID), uint64(sequence))
}

func makeChunkDocumentPrefix(documentID core.ID) []byte {
	return makeKey([]string{chunkDocumentIndex}, uint64(documentID))
}

// makeVectorKey stores a chunk's embedding.
// Format: vec:collection:chunkID
func makeVectorKey(collection string, chunkID core.ID) []byte {
	return makeKey([]string{vectorPrefix, collection}, uint64(chunkID))
}

func makeVectorPrefix(collection string) []byte {
	return makeKey([]string{vectorPrefix, collection})
}

// makePostingKey stores one term occurrence record for a chunk.
// Format: kwp:collection:term:chunkID
func makePostingKey(collection, term string, chunkID core.ID) []byte {
	return makeKey([]string{postingPrefix, collection, term}, uint64(chunkID))
}

func makePostingPrefix(collection, term string) []byte {
	return makeKey([]string{postingPrefix, collection, term})
}

func makeJobKey(id string) []byte {
	return makeKey([]string{jobPrefix, id})
}

func makeJobPrefix() []byte {
	return makeKey([]string{jobPrefix})
}

func makeAnswerKey(id core.ID) []byte {
	return makeKey([]string{answerPrefix}, uint64(id))
}

// makeFeedbackKey orders feedback on an answer by insertion.
// Format: fbk:answerID:feedbackSeq
func makeFeedbackKey(answerID core.ID, seq uint64) []byte {
	return makeKey([]string{feedbackPrefix}, uint64(answerID), seq)
}

func makeFeedbackPrefix(answerID core.ID) []byte {
	return makeKey([]string{feedbackPrefix}, uint64(answerID))
}
