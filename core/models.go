package core

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for documents, chunks and answers.
// It is generated using content-based hashing or database sequences.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChecksumFromContent returns the hex encoded BLAKE2b-256 digest of text.
// Documents with the same checksum in one collection are duplicates.
func ChecksumFromContent(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// SourceType identifies how a document's raw content must be parsed.
type SourceType string

const (
	SourceTypeText     SourceType = "text"
	SourceTypeMarkdown SourceType = "markdown"
	// SourceTypePDF is text already extracted from a PDF.
	SourceTypePDF SourceType = "pdf"
	// SourceTypeURL is a web page; Source holds the address.
	SourceTypeURL SourceType = "url"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

// Collection groups documents that share one embedding space.
type Collection struct {
	Name string
	// Dimension is pinned by the first committed document. Zero means unset.
	Dimension      int
	ReadyDocuments int
	ChunkCount     int
	// TokenTotal is the sum of keyword token counts over all chunks, used
	// for the average document length in BM25.
	TokenTotal int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AverageChunkLength returns the mean keyword length of the collection's chunks.
func (c *Collection) AverageChunkLength() float64 {
	if c.ChunkCount == 0 {
		return 0
	}
	return float64(c.TokenTotal) / float64(c.ChunkCount)
}

// Document is a unit of user supplied content inside a collection.
type Document struct {
	Id         ID
	Collection string
	Title      string
	SourceType SourceType
	Source     string // URL or file path the content came from, if any
	Content    string // raw content; empty for URL sources until fetched
	Checksum   string
	Status     DocumentStatus
	Error      string
	ChunkCount int
	// JobId is the most recent ingestion job for this document.
	JobId      string
	InsertedAt time.Time
	UpdatedAt  time.Time
	Metadata   map[string]string
}

// Span is a half-open range of rune offsets into a document's normalized text.
type Span struct {
	Start int
	End   int
}

// Len returns the number of runes covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Chunk is a bounded span of a document's text; the unit of embedding and retrieval.
type Chunk struct {
	Id         ID
	DocumentId ID
	Collection string
	Sequence   int // position within the document, starting at 0
	Text       string
	Span       Span
	Header     string // nearest preceding markdown heading, if any
	TokenCount int
	// Terms maps keyword tokens to their frequency in Text. It backs the
	// keyword index entry for the chunk.
	Terms  map[string]int
	Vector []float32
}

// Embedded reports whether the chunk has an embedding vector.
func (c *Chunk) Embedded() bool {
	return len(c.Vector) > 0
}

// TermCount returns the keyword length of the chunk.
func (c *Chunk) TermCount() int {
	n := 0
	for _, tf := range c.Terms {
		n += tf
	}
	return n
}

// JobState is the state machine value of an ingestion job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Active reports whether the job is queued or running.
func (s JobState) Active() bool {
	return s == JobQueued || s == JobRunning
}

// IngestionJob tracks one attempt at ingesting a document.
type IngestionJob struct {
	Id         string
	DocumentId ID
	Collection string
	State      JobState
	Progress   int // 0-100
	Attempts   int // embedding attempts used by the last batch
	Error      string
	ErrorKind  ErrorKind
	// Supersedes is the failed job this one replaces, if any.
	Supersedes  string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	UpdatedAt   time.Time
}

// ScoredChunk is a chunk identifier with a raw score from one index.
type ScoredChunk struct {
	ChunkId    ID
	DocumentId ID
	Sequence   int
	Score      float64
}

// Candidate is a query scoped retrieval result. It is never persisted.
type Candidate struct {
	Chunk         *Chunk
	DocumentTitle string
	VectorScore   float64 // raw cosine similarity
	KeywordScore  float64 // raw BM25
	FusedScore    float64
	Rank          int // 1-based
}

// Citation points from answer text to the chunk it is grounded in.
type Citation struct {
	Index         int // 1-based display index used in the prompt
	ChunkId       ID
	DocumentId    ID
	DocumentTitle string
	Sequence      int
	Snippet       string
	Score         float64
}

// Answer is a synthesized response to a question.
type Answer struct {
	Id         ID
	Collection string
	Question   string
	Text       string
	Citations  []Citation
	Confidence float64
	Latency    time.Duration
	Model      string
	CreatedAt  time.Time
}

// Feedback is a rating left on a logged answer.
type Feedback struct {
	AnswerId  ID
	Rating    int // +1 or -1
	Note      string
	CreatedAt time.Time
}
