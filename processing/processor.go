package processing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/lexical"
)

// Default chunking parameters.
const (
	DefaultChunkSize = 800
	DefaultOverlap   = 200
)

// Source is a document's raw content and how to interpret it.
type Source struct {
	Type    core.SourceType
	Content string // raw text for text, markdown and pdf sources
	URL     string // address for url sources
	Title   string // caller supplied title, optional
}

// Result is the outcome of processing one document.
type Result struct {
	Title  string
	Text   string // normalized text the chunk spans refer to
	Chunks []*core.Chunk
}

// Processor parses, normalizes and chunks documents.
// It is safe for concurrent use.
type Processor struct {
	chunker *Chunker
	fetcher Fetcher
	counter TokenCounter
	logger  *slog.Logger
}

// Option is a functional option for configuring a Processor.
type Option func(*Processor) error

// WithChunker replaces the default character chunker.
func WithChunker(c *Chunker) Option {
	return func(p *Processor) error {
		if c == nil {
			return fmt.Errorf("%w: chunker is nil", ErrInvalidChunkConfig)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		p.chunker = c
		return nil
	}
}

// WithFetcher sets the fetcher used for url sources.
func WithFetcher(f Fetcher) Option {
	return func(p *Processor) error {
		p.fetcher = f
		return nil
	}
}

// WithTokenCounter sets how chunk token counts are measured.
func WithTokenCounter(tc TokenCounter) Option {
	return func(p *Processor) error {
		if tc != nil {
			p.counter = tc
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// NewProcessor creates a Processor. Without options it chunks 800 runes
// with 200 runes of overlap, counts words as tokens and fetches URLs over HTTP.
func NewProcessor(opts ...Option) (*Processor, error) {
	p := &Processor{
		chunker: &Chunker{Size: DefaultChunkSize, Overlap: DefaultOverlap, Mode: ModeCharacter},
		fetcher: NewHTTPFetcher(0),
		counter: WordCounter{},
		logger:  slog.Default().With("component", "document-processor"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Process turns src into chunks. It fails with core.ErrUnsupportedFormat
// for unknown source types or non-text URL content, and with
// core.ErrEmptyDocument when nothing remains after normalization.
// Chunk IDs, document IDs and vectors are left for the caller to fill.
func (p *Processor) Process(ctx context.Context, src Source) (*Result, error) {
	raw, htmlTitleText, err := p.extract(ctx, src)
	if err != nil {
		return nil, err
	}

	text := Normalize(raw)
	if text == "" {
		return nil, core.ErrEmptyDocument
	}

	var headings []heading
	if src.Type == core.SourceTypeMarkdown {
		headings = markdownHeadings(text)
	}

	runes := []rune(text)
	spans := p.chunker.Split(text)
	chunks := make([]*core.Chunk, len(spans))
	for i, span := range spans {
		chunkText := string(runes[span.Start:span.End])
		chunks[i] = &core.Chunk{
			Sequence:   i,
			Text:       chunkText,
			Span:       span,
			Header:     headerAt(headings, span.Start),
			TokenCount: p.counter.CountTokens(chunkText),
			Terms:      lexical.Terms(chunkText),
		}
	}

	firstHeading := ""
	if len(headings) > 0 {
		firstHeading = headings[0].text
	}

	p.logger.Debug("processed document", "type", src.Type, "runes", len(runes), "chunks", len(chunks))
	return &Result{
		Title:  deriveTitle(text, src.Title, htmlTitleText, firstHeading),
		Text:   text,
		Chunks: chunks,
	}, nil
}

// extract returns the text of src before normalization and, for HTML
// pages, the page title.
func (p *Processor) extract(ctx context.Context, src Source) (string, string, error) {
	switch src.Type {
	case core.SourceTypeText:
		return src.Content, "", nil
	case core.SourceTypeMarkdown:
		return cleanMarkdown(src.Content), "", nil
	case core.SourceTypePDF:
		return cleanPDFText(src.Content), "", nil
	case core.SourceTypeURL:
		return p.extractURL(ctx, src.URL)
	}
	return "", "", fmt.Errorf("%w: source type %q", core.ErrUnsupportedFormat, src.Type)
}

func (p *Processor) extractURL(ctx context.Context, url string) (string, string, error) {
	if p.fetcher == nil {
		return "", "", ErrFetcherRequired
	}
	res, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", "", err
	}

	body := string(res.Body)
	switch {
	case res.ContentType == "text/html" || res.ContentType == "application/xhtml+xml":
		return stripHTML(body), htmlTitle(body), nil
	case res.ContentType == "text/markdown" || res.ContentType == "text/x-markdown":
		return cleanMarkdown(body), "", nil
	case strings.HasPrefix(res.ContentType, "text/"):
		return body, "", nil
	}
	return "", "", fmt.Errorf("%w: content type %q at %s", core.ErrUnsupportedFormat, res.ContentType, url)
}
