package processing

import "errors"

var (
	// ErrInvalidChunkConfig indicates a non-positive size, a negative
	// overlap, an overlap not smaller than the size, or an unknown mode.
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

	// ErrFetchFailed indicates a URL source could not be retrieved.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrFetcherRequired indicates a URL source with no Fetcher configured.
	ErrFetcherRequired = errors.New("fetcher is required for url sources")
)
