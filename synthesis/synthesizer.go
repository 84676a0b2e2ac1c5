package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/core"
)

// Default synthesis settings.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultSnippetLength = 200
)

// Config holds the synthesis policy.
type Config struct {
	// Timeout bounds the model call. Zero means no timeout.
	Timeout time.Duration
	// MinRetrievalScore skips the model when the best fused score is
	// below it. Zero disables the check.
	MinRetrievalScore float64
	// SnippetLength is the number of runes of chunk text kept on a citation.
	SnippetLength int
}

// DefaultConfig returns the default synthesis policy.
func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultTimeout,
		SnippetLength: DefaultSnippetLength,
	}
}

// Synthesizer produces cited answers from retrieval candidates.
// It is safe for concurrent use and never retries the model.
type Synthesizer struct {
	completer ai.Completer
	config    Config
	logger    *slog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithConfig replaces the synthesis policy.
func WithConfig(cfg Config) Option {
	return func(s *Synthesizer) error {
		if cfg.MinRetrievalScore < 0 {
			return fmt.Errorf("min retrieval score must not be negative, got %v", cfg.MinRetrievalScore)
		}
		if cfg.SnippetLength <= 0 {
			cfg.SnippetLength = DefaultSnippetLength
		}
		s.config = cfg
		return nil
	}
}

// NewSynthesizer creates a new synthesizer.
func NewSynthesizer(completer ai.Completer, opts ...Option) (*Synthesizer, error) {
	if completer == nil {
		return nil, ErrCompleterRequired
	}
	s := &Synthesizer{
		completer: completer,
		config:    DefaultConfig(),
		logger:    slog.Default().With("component", "synthesis"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Synthesize answers question from candidates, which must be ranked best
// first. The returned answer has no ID, collection or latency; the caller
// owns those.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, candidates []*core.Candidate) (*core.Answer, error) {
	if len(candidates) == 0 || candidates[0].FusedScore < s.config.MinRetrievalScore {
		s.logger.Debug("not enough retrieval evidence, skipping model", "candidates", len(candidates))
		return &core.Answer{
			Question:   question,
			Text:       InsufficientInformation,
			Citations:  []core.Citation{},
			Confidence: 0,
		}, nil
	}

	prompt := BuildPrompt(question, candidates)
	reply, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	text, used := ParseCitations(reply, len(candidates))
	citations := make([]core.Citation, 0, len(used))
	for _, idx := range used {
		citations = append(citations, s.citation(idx, candidates[idx-1]))
	}

	confidence := Confidence(candidates, used)
	if strings.Contains(text, strings.TrimSuffix(Refusal, ".")) {
		confidence = 0
	}

	s.logger.Debug("answer synthesized",
		"candidates", len(candidates), "citations", len(citations), "confidence", confidence)
	return &core.Answer{
		Question:   question,
		Text:       text,
		Citations:  citations,
		Confidence: confidence,
		Model:      s.completer.Model(),
	}, nil
}

// complete calls the model under the configured timeout. Model failures
// and timeouts become ErrSynthesisUnavailable; cancellation by the caller
// is returned unchanged.
func (s *Synthesizer) complete(ctx context.Context, prompt ai.Prompt) (string, error) {
	callCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	reply, err := s.completer.Complete(callCtx, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		s.logger.Error("completion failed", "model", s.completer.Model(), "error", err)
		return "", fmt.Errorf("%w: %w", core.ErrSynthesisUnavailable, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: %w", core.ErrSynthesisUnavailable, ErrEmptyCompletion)
	}
	return reply, nil
}

func (s *Synthesizer) citation(idx int, c *core.Candidate) core.Citation {
	return core.Citation{
		Index:         idx,
		ChunkId:       c.Chunk.Id,
		DocumentId:    c.Chunk.DocumentId,
		DocumentTitle: c.DocumentTitle,
		Sequence:      c.Chunk.Sequence,
		Snippet:       snippet(c.Chunk.Text, s.config.SnippetLength),
		Score:         c.FusedScore,
	}
}

// snippet returns the first n runes of text, marking a cut with "...".
func snippet(text string, n int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
