package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/lexical"
	"github.com/poiesic/docusense/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepos(t *testing.T) *storage.Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func addDocument(t *testing.T, repos *storage.Repositories, collection, content string) *core.Document {
	t.Helper()
	doc, err := repos.Documents.AddDocument(context.Background(), &core.Document{
		Collection: collection,
		SourceType: core.SourceTypeText,
		Content:    content,
	})
	require.NoError(t, err)
	return doc
}

// startJob adds a job for doc, makes it the document's job and moves it
// to running.
func startJob(t *testing.T, repos *storage.Repositories, doc *core.Document) string {
	t.Helper()
	ctx := context.Background()
	job := &core.IngestionJob{
		Id:         uuid.NewString(),
		DocumentId: doc.Id,
		Collection: doc.Collection,
		State:      core.JobQueued,
	}
	require.NoError(t, repos.Jobs.AddJob(ctx, job))
	doc.JobId = job.Id
	_, err := repos.Documents.UpdateDocument(ctx, doc)
	require.NoError(t, err)
	_, err = repos.Jobs.TransitionJob(ctx, job.Id, core.JobQueued, core.JobRunning, nil)
	require.NoError(t, err)
	return job.Id
}

func makeChunks(texts []string, vectors [][]float32) []*core.Chunk {
	chunks := make([]*core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &core.Chunk{
			Sequence: i,
			Text:     text,
			Terms:    lexical.Terms(text),
			Vector:   vectors[i],
		}
	}
	return chunks
}

// commitDocument ingests texts as one ready document.
func commitDocument(t *testing.T, repos *storage.Repositories, collection string, texts []string, vectors [][]float32) *core.Document {
	t.Helper()
	doc := addDocument(t, repos, collection, fmt.Sprint(texts))
	jobID := startJob(t, repos, doc)
	require.NoError(t, repos.Chunks.CommitDocument(context.Background(), doc, jobID, makeChunks(texts, vectors)))
	return doc
}

func TestDocumentRepository_AddAndGet(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	doc := addDocument(t, repos, "manuals", "The pump must be primed before use.")
	assert.NotZero(t, doc.Id)
	assert.Equal(t, core.DocumentPending, doc.Status)
	assert.Equal(t, core.ChecksumFromContent("The pump must be primed before use."), doc.Checksum)
	assert.False(t, doc.InsertedAt.IsZero())

	got, err := repos.Documents.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.Collection, got.Collection)

	_, err = repos.Documents.GetDocument(ctx, doc.Id+100)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentRepository_Duplicate(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	first := addDocument(t, repos, "manuals", "same content")

	_, err := repos.Documents.AddDocument(ctx, &core.Document{
		Collection: "manuals",
		SourceType: core.SourceTypeText,
		Content:    "same content",
	})
	require.ErrorIs(t, err, core.ErrDuplicateDocument)
	var dup *core.DuplicateDocumentError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.Id, dup.ExistingId)

	// Same content in another collection is fine
	other := addDocument(t, repos, "archive", "same content")
	assert.NotEqual(t, first.Id, other.Id)
}

func TestDocumentRepository_UpdateAndList(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	a := addDocument(t, repos, "manuals", "alpha")
	b := addDocument(t, repos, "manuals", "beta")
	addDocument(t, repos, "archive", "gamma")

	a.Status = core.DocumentFailed
	a.Error = "embedding unavailable"
	_, err := repos.Documents.UpdateDocument(ctx, a)
	require.NoError(t, err)

	docs, err := repos.Documents.ListDocuments(ctx, "manuals")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, a.Id, docs[0].Id)
	assert.Equal(t, core.DocumentFailed, docs[0].Status)
	assert.Equal(t, b.Id, docs[1].Id)

	_, err = repos.Documents.UpdateDocument(ctx, &core.Document{Id: 9999})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkRepository_CommitDocument(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	doc := addDocument(t, repos, "manuals", "content")
	jobID := startJob(t, repos, doc)
	doc.Title = "Pump manual"

	chunks := makeChunks(
		[]string{"prime the pump", "check the valve pressure"},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
	)
	require.NoError(t, repos.Chunks.CommitDocument(ctx, doc, jobID, chunks))

	stored, err := repos.Documents.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentReady, stored.Status)
	assert.Equal(t, 2, stored.ChunkCount)
	assert.Equal(t, "Pump manual", stored.Title)

	job, err := repos.Jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, job.State)
	assert.Equal(t, 100, job.Progress)

	col, err := repos.Documents.GetCollection(ctx, "manuals")
	require.NoError(t, err)
	assert.Equal(t, 3, col.Dimension)
	assert.Equal(t, 1, col.ReadyDocuments)
	assert.Equal(t, 2, col.ChunkCount)
	assert.Equal(t, 5, col.TokenTotal) // prime pump + check valve pressure

	got, err := repos.Chunks.GetDocumentChunks(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Sequence)
	assert.Equal(t, "prime the pump", got[0].Text)
	assert.Equal(t, []float32{1, 0, 0}, got[0].Vector)
	assert.Equal(t, doc.Id, got[1].DocumentId)

	byID, err := repos.Chunks.GetChunks(ctx, got[1].Id, 424242)
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "check the valve pressure", byID[0].Text)
}

func TestChunkRepository_CommitRequiresRunningJob(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	doc := addDocument(t, repos, "manuals", "content")
	jobID := startJob(t, repos, doc)
	_, err := repos.Jobs.TransitionJob(ctx, jobID, core.JobRunning, core.JobFailed, nil)
	require.NoError(t, err)

	err = repos.Chunks.CommitDocument(ctx, doc, jobID, makeChunks([]string{"text"}, [][]float32{{1}}))
	assert.ErrorIs(t, err, core.ErrJobAlreadyTerminal)

	// Nothing became visible
	results, err := repos.Chunks.FindByKeywords(ctx, "manuals", []string{"text"}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	_, err = repos.Documents.GetCollection(ctx, "manuals")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkRepository_CommitRequiresDocumentOwner(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	doc := addDocument(t, repos, "manuals", "content")
	stale := startJob(t, repos, doc)
	current := startJob(t, repos, doc)

	err := repos.Chunks.CommitDocument(ctx, doc, stale, makeChunks([]string{"text"}, [][]float32{{1}}))
	assert.ErrorIs(t, err, core.ErrJobAlreadyTerminal)

	require.NoError(t, repos.Chunks.CommitDocument(ctx, doc, current, makeChunks([]string{"text"}, [][]float32{{1}})))

	// A ready document accepts no further commits, even from a job it points at.
	again := startJob(t, repos, doc)
	err = repos.Chunks.CommitDocument(ctx, doc, again, makeChunks([]string{"text"}, [][]float32{{1}}))
	assert.ErrorIs(t, err, core.ErrJobAlreadyTerminal)

	col, err := repos.Documents.GetCollection(ctx, "manuals")
	require.NoError(t, err)
	assert.Equal(t, 1, col.ReadyDocuments)
	assert.Equal(t, 1, col.ChunkCount)
	results, err := repos.Chunks.FindByKeywords(ctx, "manuals", []string{"text"}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChunkRepository_DimensionPinned(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	commitDocument(t, repos, "manuals", []string{"first"}, [][]float32{{1, 0, 0}})

	doc := addDocument(t, repos, "manuals", "second document")
	jobID := startJob(t, repos, doc)
	err := repos.Chunks.CommitDocument(ctx, doc, jobID, makeChunks([]string{"second"}, [][]float32{{1, 0}}))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	job, err := repos.Jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.JobRunning, job.State, "rejected commit must not touch the job")

	_, err = repos.Chunks.FindSimilar(ctx, "manuals", []float32{1, 0}, 5)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	err = repos.Chunks.CommitDocument(ctx, doc, jobID, makeChunks([]string{"a", "b"}, [][]float32{{1, 0, 0}, {1, 0}}))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch, "mixed dimensions within one document")
}

func TestChunkRepository_FindSimilar(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	results, err := repos.Chunks.FindSimilar(ctx, "manuals", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results, "unknown collection is empty, not an error")

	doc := commitDocument(t, repos, "manuals",
		[]string{"close", "near", "far"},
		[][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 0, 1}})
	commitDocument(t, repos, "other", []string{"elsewhere"}, [][]float32{{1, 0, 0}})

	results, err = repos.Chunks.FindSimilar(ctx, "manuals", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, doc.Id, results[0].DocumentId)
	assert.Equal(t, 0, results[0].Sequence)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, 1, results[1].Sequence)
	assert.Greater(t, results[0].Score, results[1].Score)

	_, err = repos.Chunks.FindSimilar(ctx, "manuals", []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestChunkRepository_FindByKeywords(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	commitDocument(t, repos, "manuals",
		[]string{
			"Quality management follows ISO-9001 certification rules",
			"General guidance on quality and process improvement",
			"Unrelated notes about lunch",
		},
		[][]float32{{1, 0}, {0, 1}, {1, 1}})

	results, err := repos.Chunks.FindByKeywords(ctx, "manuals", lexical.Tokenize("ISO-9001 quality"), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Sequence, "the chunk with the identifier ranks first")
	assert.Greater(t, results[0].Score, results[1].Score)

	results, err = repos.Chunks.FindByKeywords(ctx, "manuals", []string{"nonexistent"}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = repos.Chunks.FindByKeywords(ctx, "empty", []string{"quality"}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChunkRepository_UpdateChunkVectors(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	doc := commitDocument(t, repos, "manuals", []string{"one", "two"}, [][]float32{{1, 0}, {0, 1}})
	chunks, err := repos.Chunks.GetDocumentChunks(ctx, doc.Id)
	require.NoError(t, err)

	err = repos.Chunks.UpdateChunkVectors(ctx, doc.Id, map[core.ID][]float32{
		chunks[0].Id: {0, 1},
		chunks[1].Id: {1, 0},
	})
	require.NoError(t, err)

	results, err := repos.Chunks.FindSimilar(ctx, "manuals", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, chunks[1].Id, results[0].ChunkId)

	err = repos.Chunks.UpdateChunkVectors(ctx, doc.Id, map[core.ID][]float32{chunks[0].Id: {1, 0, 0}})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	err = repos.Chunks.UpdateChunkVectors(ctx, doc.Id, map[core.ID][]float32{9999: {1, 0}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobRepository_TransitionJob(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	job := &core.IngestionJob{Id: uuid.NewString(), DocumentId: 1, Collection: "manuals", State: core.JobQueued}
	require.NoError(t, repos.Jobs.AddJob(ctx, job))
	assert.ErrorIs(t, repos.Jobs.AddJob(ctx, job), storage.ErrDuplicateKey)

	running, err := repos.Jobs.TransitionJob(ctx, job.Id, core.JobQueued, core.JobRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, core.JobRunning, running.State)
	assert.False(t, running.StartedAt.IsZero())

	_, err = repos.Jobs.TransitionJob(ctx, job.Id, core.JobQueued, core.JobRunning, nil)
	assert.ErrorIs(t, err, core.ErrJobAlreadyActive)

	failed, err := repos.Jobs.TransitionJob(ctx, job.Id, core.JobRunning, core.JobFailed, func(j *core.IngestionJob) {
		j.Error = "provider down"
		j.ErrorKind = core.KindEmbeddingUnavailable
	})
	require.NoError(t, err)
	assert.Equal(t, core.KindEmbeddingUnavailable, failed.ErrorKind)
	assert.False(t, failed.CompletedAt.IsZero())

	_, err = repos.Jobs.TransitionJob(ctx, job.Id, core.JobQueued, core.JobRunning, nil)
	assert.ErrorIs(t, err, core.ErrJobAlreadyTerminal)

	_, err = repos.Jobs.TransitionJob(ctx, "missing", core.JobQueued, core.JobRunning, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobRepository_ExclusiveStart(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	job := &core.IngestionJob{Id: uuid.NewString(), DocumentId: 1, Collection: "manuals", State: core.JobQueued}
	require.NoError(t, repos.Jobs.AddJob(ctx, job))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repos.Jobs.TransitionJob(ctx, job.Id, core.JobQueued, core.JobRunning, nil)
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, core.ErrJobAlreadyActive)
	}
	assert.Equal(t, 1, won, "exactly one worker may start the job")
}

func TestDocumentRepository_SupersedeJob(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	doc := addDocument(t, repos, "manuals", "content")
	failedJob := startJob(t, repos, doc)
	doc.Status = core.DocumentFailed
	doc.Error = "embedding unavailable"
	_, err := repos.Documents.UpdateDocument(ctx, doc)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repos.Documents.SupersedeJob(ctx, doc.Id, failedJob, fmt.Sprintf("retry-%d", i))
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			assert.Equal(t, -1, winner, "only one retry may supersede the failed job")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, core.ErrJobAlreadyActive)
	}
	require.NotEqual(t, -1, winner)

	stored, err := repos.Documents.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("retry-%d", winner), stored.JobId)
	assert.Equal(t, core.DocumentPending, stored.Status)
	assert.Empty(t, stored.Error)

	t.Run("ready document", func(t *testing.T) {
		ready := commitDocument(t, repos, "manuals", []string{"ready text"}, [][]float32{{1}})
		_, err := repos.Documents.SupersedeJob(ctx, ready.Id, ready.JobId, "another")
		assert.ErrorIs(t, err, core.ErrJobAlreadyTerminal)
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := repos.Documents.SupersedeJob(ctx, 9999, "", "another")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestDocumentRepository_FailDocument(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	doc := addDocument(t, repos, "manuals", "content")
	jobID := startJob(t, repos, doc)

	changed, err := repos.Documents.FailDocument(ctx, doc.Id, "someone-else", "boom")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = repos.Documents.FailDocument(ctx, doc.Id, jobID, "boom")
	require.NoError(t, err)
	assert.True(t, changed)
	stored, err := repos.Documents.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentFailed, stored.Status)
	assert.Equal(t, "boom", stored.Error)

	ready := commitDocument(t, repos, "manuals", []string{"ready text"}, [][]float32{{1}})
	changed, err = repos.Documents.FailDocument(ctx, ready.Id, ready.JobId, "late failure")
	require.NoError(t, err)
	assert.False(t, changed, "a ready document never flips to failed")

	_, err = repos.Documents.FailDocument(ctx, 9999, jobID, "boom")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobRepository_UpdateAndList(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	queued := &core.IngestionJob{Id: uuid.NewString(), State: core.JobQueued}
	done := &core.IngestionJob{Id: uuid.NewString(), State: core.JobQueued}
	require.NoError(t, repos.Jobs.AddJob(ctx, queued))
	require.NoError(t, repos.Jobs.AddJob(ctx, done))
	_, err := repos.Jobs.TransitionJob(ctx, done.Id, core.JobQueued, core.JobFailed, nil)
	require.NoError(t, err)

	queued.Progress = 40
	require.NoError(t, repos.Jobs.UpdateJob(ctx, queued))
	got, err := repos.Jobs.GetJob(ctx, queued.Id)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	// Progress writes never resurrect a terminal job
	done.Progress = 50
	done.State = core.JobRunning
	require.NoError(t, repos.Jobs.UpdateJob(ctx, done))
	got, err = repos.Jobs.GetJob(ctx, done.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, got.State)

	list, err := repos.Jobs.ListJobs(ctx, core.JobQueued)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, queued.Id, list[0].Id)
}

func TestAnswerRepository(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	answer, err := repos.Answers.AddAnswer(ctx, &core.Answer{
		Collection: "manuals",
		Question:   "How do I prime the pump?",
		Text:       "Open the valve first [1].",
		Citations:  []core.Citation{{Index: 1, ChunkId: 3, DocumentId: 1}},
		Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.NotZero(t, answer.Id)

	got, err := repos.Answers.GetAnswer(ctx, answer.Id)
	require.NoError(t, err)
	assert.Equal(t, answer.Text, got.Text)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, core.ID(3), got.Citations[0].ChunkId)

	require.NoError(t, repos.Answers.AddFeedback(ctx, &core.Feedback{AnswerId: answer.Id, Rating: 1}))
	require.NoError(t, repos.Answers.AddFeedback(ctx, &core.Feedback{AnswerId: answer.Id, Rating: -1, Note: "wrong valve"}))

	feedback, err := repos.Answers.GetFeedback(ctx, answer.Id)
	require.NoError(t, err)
	require.Len(t, feedback, 2)
	assert.Equal(t, 1, feedback[0].Rating)
	assert.Equal(t, "wrong valve", feedback[1].Note)

	err = repos.Answers.AddFeedback(ctx, &core.Feedback{AnswerId: answer.Id + 50, Rating: 1})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	unchanged, err := repos.Answers.GetAnswer(ctx, answer.Id)
	require.NoError(t, err)
	assert.Equal(t, got, unchanged)
}
