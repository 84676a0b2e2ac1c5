package badger

import (
	"github.com/poiesic/docusense/storage"
)

// NewRepositories opens (or creates) a badger database in dir and returns
// every repository built on it. Closing the bundle closes the database.
func NewRepositories(dir string) (*storage.Repositories, error) {
	backend, err := OpenBackend(dir, false)
	if err != nil {
		return nil, err
	}
	return openRepositories(backend)
}

func openRepositories(backend *Backend) (*storage.Repositories, error) {
	docs, err := newDocumentRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	chunks, err := newChunkRepository(backend)
	if err != nil {
		docs.Close()
		backend.Close()
		return nil, err
	}
	answers, err := newAnswerRepository(backend)
	if err != nil {
		chunks.Close()
		docs.Close()
		backend.Close()
		return nil, err
	}
	return storage.NewRepositories(docs, chunks, newJobRepository(backend), answers, backend.Close), nil
}
