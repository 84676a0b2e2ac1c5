package docusense

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/ai/mock"
	"github.com/poiesic/docusense/config"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
	"github.com/poiesic/docusense/storage/badger"
	"github.com/poiesic/docusense/synthesis"
)

const pumpManual = `# Pump Maintenance

The pump seal must be replaced every 6 months. Inspect the impeller for
wear during each seal replacement.

## Valves

Valve V-101 is torqued to 45 Nm after every inspection.`

// countingAnswers records how often answers are logged.
type countingAnswers struct {
	storage.AnswerRepository
	added atomic.Int32
}

func (c *countingAnswers) AddAnswer(ctx context.Context, answer *core.Answer) (*core.Answer, error) {
	c.added.Add(1)
	return c.AnswerRepository.AddAnswer(ctx, answer)
}

type testEngine struct {
	*Engine
	embedder  *mock.MockEmbedder
	completer *mock.MockCompleter
	answers   *countingAnswers
}

func newTestEngine(t *testing.T, mutate func(*config.Config)) *testEngine {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Ingestion.Workers = 2
	cfg.Ingestion.BaseDelay = time.Millisecond
	cfg.Ingestion.ShutdownTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	answers := &countingAnswers{AnswerRepository: repos.Answers}
	repos.Answers = answers

	embedder := mock.NewMockEmbedderWithDimension(32)
	completer := mock.NewMockCompleter()
	completer.Response = "The pump seal must be replaced every 6 months [1]."

	engine, err := NewEngine(cfg,
		WithRepositories(repos),
		WithProvider(mock.NewMockProviderWithServices(embedder, completer)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	return &testEngine{Engine: engine, embedder: embedder, completer: completer, answers: answers}
}

func (e *testEngine) ingest(t *testing.T, collection, content string) *core.IngestionJob {
	t.Helper()
	ctx := context.Background()

	jobID, err := e.Ingest(ctx, collection, IngestRequest{SourceType: core.SourceTypeMarkdown, Content: content})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	job, err := e.WaitForJob(waitCtx, jobID, 5*time.Millisecond)
	require.NoError(t, err)
	return job
}

func TestNewEngine(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		e, err := NewEngine(nil)
		require.ErrorIs(t, err, ErrConfigRequired)
		assert.Nil(t, e)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Chunking.Overlap = cfg.Chunking.Size
		_, err := NewEngine(cfg, WithProvider(mock.NewMockProvider()))
		require.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("opens badger from config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.Path = filepath.Join(t.TempDir(), "db")

		e, err := NewEngine(cfg, WithProvider(mock.NewMockProvider()))
		require.NoError(t, err)
		assert.Same(t, cfg, e.Config())
		require.NoError(t, e.Close())
	})
}

func TestEngine_IngestAndAsk(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	job := e.ingest(t, "manuals", pumpManual)
	require.Equal(t, core.JobCompleted, job.State)

	docs, err := e.Documents(ctx, "manuals")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Pump Maintenance", docs[0].Title)
	assert.Equal(t, core.DocumentReady, docs[0].Status)

	answer, err := e.Ask(ctx, "manuals", "How often is the pump seal replaced?", 3)
	require.NoError(t, err)

	assert.Equal(t, "manuals", answer.Collection)
	assert.Equal(t, "The pump seal must be replaced every 6 months [1].", answer.Text)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, docs[0].Id, answer.Citations[0].DocumentId)
	assert.Equal(t, "Pump Maintenance", answer.Citations[0].DocumentTitle)
	assert.Greater(t, answer.Confidence, 0.0)
	assert.Positive(t, answer.Latency)
	assert.Equal(t, "mock", answer.Model)

	assert.NotZero(t, answer.Id, "answer is logged")
	assert.Equal(t, int32(1), e.answers.added.Load())
	assert.Contains(t, e.completer.LastPrompt().User, "pump seal")
}

func TestEngine_AskDefaultK(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Retrieval.DefaultK = 1 })
	e.ingest(t, "manuals", pumpManual)

	answer, err := e.Ask(context.Background(), "manuals", "pump seal", 0)
	require.NoError(t, err)
	assert.Len(t, answer.Citations, 1)
	assert.Contains(t, e.completer.LastPrompt().User, "[1]")
	assert.NotContains(t, e.completer.LastPrompt().User, "[2]")
}

func TestEngine_AskEmptyCollection(t *testing.T) {
	e := newTestEngine(t, nil)

	answer, err := e.Ask(context.Background(), "empty", "What is the torque of V-101?", 5)
	require.NoError(t, err)
	assert.Equal(t, synthesis.InsufficientInformation, answer.Text)
	assert.Empty(t, answer.Citations)
	assert.Zero(t, answer.Confidence)
	assert.Zero(t, e.completer.CallCount())
	assert.Zero(t, e.embedder.CallCount(), "nothing to search, nothing embedded")
}

func TestEngine_AskFailureIsNotLogged(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Synthesis.Timeout = 20 * time.Millisecond })
	e.ingest(t, "manuals", pumpManual)

	e.completer.CompleteFunc = func(ctx context.Context, prompt ai.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	answer, err := e.Ask(context.Background(), "manuals", "How often is the pump seal replaced?", 3)
	require.ErrorIs(t, err, core.ErrSynthesisUnavailable)
	assert.Equal(t, core.KindSynthesisUnavailable, core.KindOf(err))
	assert.Nil(t, answer)
	assert.Zero(t, e.answers.added.Load())
}

func TestEngine_AnswerLoggingDisabled(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Synthesis.LogAnswers = false })
	e.ingest(t, "manuals", pumpManual)

	answer, err := e.Ask(context.Background(), "manuals", "pump seal", 3)
	require.NoError(t, err)
	assert.Zero(t, answer.Id)
	assert.Zero(t, e.answers.added.Load())
}

func TestEngine_Feedback(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	e.ingest(t, "manuals", pumpManual)

	answer, err := e.Ask(ctx, "manuals", "pump seal", 3)
	require.NoError(t, err)

	require.NoError(t, e.Feedback(ctx, answer.Id, 1, "spot on"))
	require.NoError(t, e.Feedback(ctx, answer.Id, -1, ""))

	logged, feedback, err := e.Answer(ctx, answer.Id)
	require.NoError(t, err)
	assert.Equal(t, answer.Text, logged.Text)
	require.Len(t, feedback, 2)
	assert.Equal(t, 1, feedback[0].Rating)
	assert.Equal(t, "spot on", feedback[0].Note)

	t.Run("invalid rating", func(t *testing.T) {
		err := e.Feedback(ctx, answer.Id, 5, "")
		require.ErrorIs(t, err, core.ErrInvalidRating)
	})

	t.Run("unknown answer", func(t *testing.T) {
		err := e.Feedback(ctx, answer.Id+1000, 1, "")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestEngine_RetryAndCancel(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Ingestion.MaxAttempts = 1 })
	ctx := context.Background()

	e.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, assert.AnError
	}
	failed := e.ingest(t, "manuals", pumpManual)
	require.Equal(t, core.JobFailed, failed.State)
	assert.Equal(t, core.KindEmbeddingUnavailable, failed.ErrorKind)

	e.embedder.Reset()
	retried, err := e.RetryDocument(ctx, failed.DocumentId)
	require.NoError(t, err)
	assert.Equal(t, failed.Id, retried.Supersedes)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	done, err := e.WaitForJob(waitCtx, retried.Id, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, done.State)

	err = e.CancelJob(ctx, done.Id)
	require.ErrorIs(t, err, core.ErrJobAlreadyTerminal)

	status, err := e.GetJobStatus(ctx, done.Id)
	require.NoError(t, err)
	assert.Equal(t, 100, status.Progress)
}

func TestEngine_IngestValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Ingest(ctx, "bad name", IngestRequest{SourceType: core.SourceTypeText, Content: "x"})
	require.ErrorIs(t, err, core.ErrInvalidCollection)

	_, err = e.Ingest(ctx, "manuals", IngestRequest{SourceType: "docx", Content: "x"})
	require.ErrorIs(t, err, core.ErrUnsupportedFormat)

	_, err = e.Documents(ctx, "bad/name")
	require.ErrorIs(t, err, core.ErrInvalidCollection)
}

func TestEngine_Search(t *testing.T) {
	e := newTestEngine(t, nil)
	e.ingest(t, "manuals", pumpManual)

	candidates, err := e.Search(context.Background(), "manuals", "V-101 torque", 2)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Contains(t, candidates[0].Chunk.Text, "V-101")
}

func TestEngine_Reembed(t *testing.T) {
	e := newTestEngine(t, nil)
	e.ingest(t, "manuals", pumpManual)

	var progress bytes.Buffer
	result, err := e.Reembed(context.Background(), "manuals", &progress)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Documents)
	assert.Positive(t, result.Chunks)
	assert.Contains(t, progress.String(), "Reembedding complete")
}
