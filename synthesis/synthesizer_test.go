package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/ai/mock"
	"github.com/poiesic/docusense/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(id core.ID, title, text string, score float64) *core.Candidate {
	return &core.Candidate{
		Chunk:         &core.Chunk{Id: id, DocumentId: id * 10, Sequence: int(id), Text: text},
		DocumentTitle: title,
		FusedScore:    score,
	}
}

func testCandidates() []*core.Candidate {
	return []*core.Candidate{
		candidate(1, "Returns", "Customers may return hardware within 30 days of delivery.", 0.9),
		candidate(2, "Refunds", "Refunds are issued to the original payment method.", 0.8),
		candidate(3, "Shipping", "Shipping takes five business days.", 0.3),
	}
}

func TestNewSynthesizer(t *testing.T) {
	_, err := NewSynthesizer(nil)
	assert.Equal(t, ErrCompleterRequired, err)

	s, err := NewSynthesizer(mock.NewMockCompleter())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), s.config)

	_, err = NewSynthesizer(mock.NewMockCompleter(), WithConfig(Config{MinRetrievalScore: -1}))
	assert.Error(t, err)

	s, err = NewSynthesizer(mock.NewMockCompleter(), WithConfig(Config{}), WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultSnippetLength, s.config.SnippetLength)
}

func TestBuildPrompt(t *testing.T) {
	candidates := testCandidates()
	candidates[1].Chunk.Header = "Payment"

	prompt := BuildPrompt("Can I return a laptop?", candidates)

	assert.Contains(t, prompt.System, "ONLY on the provided context")
	assert.Contains(t, prompt.System, Refusal)
	assert.Contains(t, prompt.User, "[1] (source: Returns)\nCustomers may return hardware")
	assert.Contains(t, prompt.User, "[2] (source: Refunds, section: Payment)")
	assert.Contains(t, prompt.User, "[3] (source: Shipping)")
	assert.True(t, strings.HasSuffix(prompt.User, "Question: Can I return a laptop?\n\nAnswer:"))

	// presentation order is the ranking order
	assert.Less(t, strings.Index(prompt.User, "[1]"), strings.Index(prompt.User, "[2]"))
	assert.Less(t, strings.Index(prompt.User, "[2]"), strings.Index(prompt.User, "[3]"))
}

func TestSynthesize_CitedAnswer(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.Response = "You can return it within 30 days [1], and the refund goes to your card [2, 5]."
	s, err := NewSynthesizer(completer)
	require.NoError(t, err)

	answer, err := s.Synthesize(context.Background(), "Can I return a laptop?", testCandidates())
	require.NoError(t, err)

	assert.Equal(t, "You can return it within 30 days [1], and the refund goes to your card [2].", answer.Text)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, 1, answer.Citations[0].Index)
	assert.Equal(t, core.ID(1), answer.Citations[0].ChunkId)
	assert.Equal(t, core.ID(10), answer.Citations[0].DocumentId)
	assert.Equal(t, "Returns", answer.Citations[0].DocumentTitle)
	assert.Equal(t, 0.9, answer.Citations[0].Score)
	assert.Equal(t, 2, answer.Citations[1].Index)
	assert.Equal(t, "mock", answer.Model)
	assert.Equal(t, "Can I return a laptop?", answer.Question)
	assert.Equal(t, 1, completer.CallCount())

	// 0.5*0.85 + 0.3*0.9 + 0.2*(1 - 0.6/0.9)
	assert.InDelta(t, 0.425+0.27+0.2*(1-0.6/0.9), answer.Confidence, 1e-9)
}

func TestSynthesize_NoCandidatesSkipsModel(t *testing.T) {
	completer := mock.NewMockCompleter()
	s, err := NewSynthesizer(completer)
	require.NoError(t, err)

	answer, err := s.Synthesize(context.Background(), "Anything?", nil)
	require.NoError(t, err)
	assert.Equal(t, InsufficientInformation, answer.Text)
	assert.Zero(t, answer.Confidence)
	assert.NotNil(t, answer.Citations)
	assert.Empty(t, answer.Citations)
	assert.Equal(t, 0, completer.CallCount())
}

func TestSynthesize_MinRetrievalScore(t *testing.T) {
	completer := mock.NewMockCompleter()
	s, err := NewSynthesizer(completer, WithConfig(Config{MinRetrievalScore: 0.95}))
	require.NoError(t, err)

	answer, err := s.Synthesize(context.Background(), "Can I return a laptop?", testCandidates())
	require.NoError(t, err)
	assert.Equal(t, InsufficientInformation, answer.Text)
	assert.Equal(t, 0, completer.CallCount())
}

func TestSynthesize_Refusal(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.Response = Refusal
	s, err := NewSynthesizer(completer)
	require.NoError(t, err)

	answer, err := s.Synthesize(context.Background(), "What is the CEO's salary?", testCandidates())
	require.NoError(t, err)
	assert.Equal(t, Refusal, answer.Text)
	assert.Empty(t, answer.Citations)
	assert.Zero(t, answer.Confidence)
}

func TestSynthesize_ModelFailure(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, prompt ai.Prompt) (string, error) {
		return "", errors.New("model overloaded")
	}
	s, err := NewSynthesizer(completer)
	require.NoError(t, err)

	answer, err := s.Synthesize(context.Background(), "Can I return a laptop?", testCandidates())
	assert.Nil(t, answer)
	require.ErrorIs(t, err, core.ErrSynthesisUnavailable)
	assert.Equal(t, core.KindSynthesisUnavailable, core.KindOf(err))
	assert.Equal(t, 1, completer.CallCount())
}

func TestSynthesize_ModelTimeout(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, prompt ai.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s, err := NewSynthesizer(completer, WithConfig(Config{Timeout: 20 * time.Millisecond}))
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "Can I return a laptop?", testCandidates())
	assert.ErrorIs(t, err, core.ErrSynthesisUnavailable)
}

func TestSynthesize_CallerCancellation(t *testing.T) {
	completer := mock.NewMockCompleter()
	s, err := NewSynthesizer(completer)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Synthesize(ctx, "Can I return a laptop?", testCandidates())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrSynthesisUnavailable)
}

func TestSynthesize_EmptyCompletion(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.Response = "   "
	s, err := NewSynthesizer(completer)
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "Can I return a laptop?", testCandidates())
	assert.ErrorIs(t, err, core.ErrSynthesisUnavailable)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		cited  []int
		want   float64
	}{
		{"no candidates", nil, nil, 0},
		{"uniform and cited", []float64{0.8, 0.8, 0.8}, []int{1}, 0.5*0.8 + 0.3*0.8 + 0.2},
		{"nothing cited", []float64{0.8, 0.8, 0.8}, nil, 0.3*0.8 + 0.2},
		{"dispersed top three", []float64{0.8, 0.4, 0.2}, []int{1}, 0.5*0.8 + 0.3*0.8 + 0.2*0.25},
		{"single candidate", []float64{0.6}, []int{1}, 0.5*0.6 + 0.3*0.6 + 0.2},
		{"scores above one are clamped", []float64{1.15, 1.15}, []int{1, 2}, 1},
		{"zero top score", []float64{0, 0}, []int{1}, 0},
		{"out of range index ignored", []float64{0.5}, []int{1, 4}, 0.5*0.5 + 0.3*0.5 + 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var candidates []*core.Candidate
			for i, s := range tt.scores {
				candidates = append(candidates, candidate(core.ID(i+1), "doc", "text", s))
			}
			assert.InDelta(t, tt.want, Confidence(candidates, tt.cited), 1e-9)
		})
	}
}

func TestConfidence_LowTopScoreLowersConfidence(t *testing.T) {
	strong := []*core.Candidate{candidate(1, "a", "x", 0.9), candidate(2, "b", "y", 0.85)}
	weak := []*core.Candidate{candidate(1, "a", "x", 0.3), candidate(2, "b", "y", 0.25)}
	assert.Greater(t, Confidence(strong, []int{1}), Confidence(weak, []int{1}))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet("  short  ", 10))
	assert.Equal(t, "héllo...", snippet("héllo world", 5))
}
