package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/lexical"
	"github.com/poiesic/docusense/storage"
	"golang.org/x/sync/errgroup"
)

// Default fusion policy.
const (
	DefaultVectorWeight     = 0.65
	DefaultKeywordWeight    = 0.35
	DefaultIdentifierBoost  = 0.15
	DefaultTopMFactor       = 4
	DefaultMinTopM          = 20
	DefaultEmbeddingTimeout = 10 * time.Second
	DefaultSearchTimeout    = 5 * time.Second
)

// BGEQueryPrefix is the retrieval instruction recommended for BGE models.
const BGEQueryPrefix = "Represent this sentence for searching relevant passages: "

// Config holds the retrieval policy.
type Config struct {
	VectorWeight  float64
	KeywordWeight float64
	// IdentifierBoost is added in proportion to how many identifier-like
	// query terms (codes, numbers, acronyms) a chunk contains.
	IdentifierBoost float64
	// TopM is how many results each branch returns before fusion. Zero
	// means DefaultTopMFactor*k, at least DefaultMinTopM. Never below k.
	TopM int
	// KeywordFallback lets a search continue on keyword results alone
	// when the query cannot be embedded.
	KeywordFallback  bool
	QueryPrefix      string
	EmbeddingTimeout time.Duration
	SearchTimeout    time.Duration
}

// DefaultConfig returns the default retrieval policy.
func DefaultConfig() Config {
	return Config{
		VectorWeight:     DefaultVectorWeight,
		KeywordWeight:    DefaultKeywordWeight,
		IdentifierBoost:  DefaultIdentifierBoost,
		EmbeddingTimeout: DefaultEmbeddingTimeout,
		SearchTimeout:    DefaultSearchTimeout,
	}
}

// Validate checks the fusion weights.
func (c Config) Validate() error {
	if c.VectorWeight < 0 || c.KeywordWeight < 0 || c.IdentifierBoost < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidWeights)
	}
	if c.VectorWeight == 0 && c.KeywordWeight == 0 {
		return fmt.Errorf("%w: vector and keyword weights are both zero", ErrInvalidWeights)
	}
	if c.TopM < 0 {
		return fmt.Errorf("top_m must not be negative, got %d", c.TopM)
	}
	return nil
}

func (c Config) topM(k int) int {
	if c.TopM > 0 {
		return max(c.TopM, k)
	}
	return max(DefaultTopMFactor*k, DefaultMinTopM)
}

// Searcher provides hybrid vector and keyword search over document chunks.
// It is safe for concurrent use.
type Searcher struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	embedder  ai.Embedder
	config    Config
	logger    *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithConfig replaces the retrieval policy.
func WithConfig(cfg Config) Option {
	return func(s *Searcher) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		s.config = cfg
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Searcher, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		documents: documents,
		chunks:    chunks,
		embedder:  embedder,
		config:    DefaultConfig(),
		logger:    slog.Default().With("component", "search"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Config returns the searcher's retrieval policy.
func (s *Searcher) Config() Config {
	return s.config
}

// Search returns up to k chunks of collection ranked by fused relevance
// to query.
func (s *Searcher) Search(ctx context.Context, collection, query string, k int) ([]*core.Candidate, error) {
	return s.SearchWithMonitor(ctx, collection, query, k, nil)
}

// SearchWithMonitor is Search with monitoring.
// The monitor receives callbacks at each stage of the search process.
func (s *Searcher) SearchWithMonitor(ctx context.Context, collection, query string, k int, monitor SearchMonitor) ([]*core.Candidate, error) {
	if err := core.ValidateQuery(collection, query, k); err != nil {
		return nil, err
	}
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(collection, query)

	col, err := s.documents.GetCollection(ctx, collection)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && col.ChunkCount == 0) {
		monitor.Finish(nil)
		return []*core.Candidate{}, nil
	}
	if err != nil {
		return nil, err
	}

	m := s.config.topM(k)
	terms := lexical.UniqueTerms(query)

	var (
		queryVector []float32
		vectorHits  []core.ScoredChunk
		keywordHits []core.ScoredChunk
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := s.embedQuery(gctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !s.config.KeywordFallback {
				return err
			}
			s.logger.Warn("query embedding failed, using keyword results only",
				"collection", collection, "error", err)
			monitor.Degraded(err)
			return nil
		}
		monitor.AfterQueryEmbedding(len(vector))
		if len(vector) != col.Dimension {
			return fmt.Errorf("%w: query has %d dimensions, collection %q uses %d",
				core.ErrDimensionMismatch, len(vector), collection, col.Dimension)
		}

		hits, err := withTimeout(gctx, s.config.SearchTimeout, func(ctx context.Context) ([]core.ScoredChunk, error) {
			return s.chunks.FindSimilar(ctx, collection, vector, m)
		})
		if err != nil {
			return s.indexError(ctx, "vector", err)
		}
		monitor.AfterVectorSearch(hits)
		queryVector, vectorHits = vector, hits
		return nil
	})
	g.Go(func() error {
		if len(terms) == 0 {
			monitor.AfterKeywordSearch(terms, nil)
			return nil
		}
		hits, err := withTimeout(gctx, s.config.SearchTimeout, func(ctx context.Context) ([]core.ScoredChunk, error) {
			return s.chunks.FindByKeywords(ctx, collection, terms, m)
		})
		if err != nil {
			return s.indexError(ctx, "keyword", err)
		}
		monitor.AfterKeywordSearch(terms, hits)
		keywordHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates, err := s.rank(ctx, vectorHits, keywordHits, queryVector, lexical.Identifiers(query))
	if err != nil {
		return nil, err
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	if err := s.attachTitles(ctx, candidates); err != nil {
		return nil, err
	}

	s.logger.Debug("search complete", "collection", collection,
		"vector_hits", len(vectorHits), "keyword_hits", len(keywordHits), "candidates", len(candidates))
	monitor.Finish(candidates)
	return candidates, nil
}

// embedQuery embeds the query under the embedding timeout.
func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := withTimeout(ctx, s.config.EmbeddingTimeout, func(ctx context.Context) ([]float32, error) {
		return s.embedder.EmbedText(ctx, s.config.QueryPrefix+query)
	})
	if err != nil {
		if errors.Is(err, core.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", core.ErrEmbeddingUnavailable)
	}
	return vector, nil
}

// indexError classifies a failed index call. Caller cancellation passes
// through; dimension errors keep their kind; anything else is an index
// failure.
func (s *Searcher) indexError(ctx context.Context, index string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, core.ErrDimensionMismatch) || errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Error("index search failed", "index", index, "error", err)
	return fmt.Errorf("%w: %s search: %w", core.ErrIndexUnavailable, index, err)
}

// rank loads the chunks found by either branch and fuses their scores.
func (s *Searcher) rank(ctx context.Context, vectorHits, keywordHits []core.ScoredChunk, queryVector []float32, identifiers []string) ([]*core.Candidate, error) {
	ids := make([]core.ID, 0, len(vectorHits)+len(keywordHits))
	seen := make(map[core.ID]bool, cap(ids))
	for _, hits := range [][]core.ScoredChunk{vectorHits, keywordHits} {
		for _, h := range hits {
			if !seen[h.ChunkId] {
				seen[h.ChunkId] = true
				ids = append(ids, h.ChunkId)
			}
		}
	}
	if len(ids) == 0 {
		return []*core.Candidate{}, nil
	}

	loaded, err := s.chunks.GetChunks(ctx, ids...)
	if err != nil {
		return nil, err
	}
	chunks := make(map[core.ID]*core.Chunk, len(loaded))
	for _, c := range loaded {
		chunks[c.Id] = c
	}
	return fuse(chunks, vectorHits, keywordHits, queryVector, identifiers, s.config), nil
}

// attachTitles fills in the document title of each candidate.
func (s *Searcher) attachTitles(ctx context.Context, candidates []*core.Candidate) error {
	titles := make(map[core.ID]string)
	for _, c := range candidates {
		title, ok := titles[c.Chunk.DocumentId]
		if !ok {
			doc, err := s.documents.GetDocument(ctx, c.Chunk.DocumentId)
			if err != nil {
				return err
			}
			title = doc.Title
			titles[c.Chunk.DocumentId] = title
		}
		c.DocumentTitle = title
	}
	return nil
}

// withTimeout runs fn under a timeout derived from ctx. A zero timeout
// means none.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
