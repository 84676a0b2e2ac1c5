package storage

import (
	"fmt"

	"github.com/poiesic/docusense/core"
)

// CheckCommitOwner reports whether the job may commit chunks for doc.
// Only the document's current job can commit, and only once.
func CheckCommitOwner(doc *core.Document, jobID string) error {
	if doc.Status == core.DocumentReady {
		return fmt.Errorf("%w: document %d is already ready", core.ErrJobAlreadyTerminal, doc.Id)
	}
	if doc.JobId != jobID {
		return fmt.Errorf("%w: job %s was superseded by %s for document %d",
			core.ErrJobAlreadyTerminal, jobID, doc.JobId, doc.Id)
	}
	return nil
}

// CheckSupersede reports whether doc still belongs to previousJobID and
// can be handed to a new job.
func CheckSupersede(doc *core.Document, previousJobID string) error {
	switch {
	case doc.Status == core.DocumentReady:
		return fmt.Errorf("%w: document %d is already ready", core.ErrJobAlreadyTerminal, doc.Id)
	case doc.JobId != previousJobID:
		return fmt.Errorf("%w: document %d was retried by job %s", core.ErrJobAlreadyActive, doc.Id, doc.JobId)
	}
	return nil
}
