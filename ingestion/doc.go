// Package ingestion drives documents through parse, chunk, embed and commit.
//
// Each ingestion attempt is an IngestionJob with the state machine
// queued -> running -> completed | failed. The Pipeline:
//   - stores the document and a queued job, then returns the job ID
//   - hands the job ID to a worker pool through an in-process queue
//   - starts the job with a compare-and-set from queued to running, so a
//     duplicate delivery is rejected rather than re-executed
//   - embeds chunks in batches with bounded exponential backoff
//   - commits chunks, vectors and keyword postings in one transaction
//     that also marks the document ready and the job completed
//
// Failures are recorded on both the job and the document with an error
// kind. A failed document can be retried with a new job that supersedes
// the failed one.
package ingestion
