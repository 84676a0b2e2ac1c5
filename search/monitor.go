package search

import (
	"github.com/poiesic/docusense/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
// The vector and keyword hooks are called from concurrent goroutines.
type SearchMonitor interface {
	Start(collection, query string)
	AfterQueryEmbedding(dimension int)
	// Degraded is called when the vector branch is skipped in favor of
	// keyword results alone.
	Degraded(err error)
	AfterVectorSearch(hits []core.ScoredChunk)
	AfterKeywordSearch(terms []string, hits []core.ScoredChunk)
	Finish(candidates []*core.Candidate)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                                   {}
func (n *noopMonitor) AfterQueryEmbedding(_ int)                           {}
func (n *noopMonitor) Degraded(_ error)                                    {}
func (n *noopMonitor) AfterVectorSearch(_ []core.ScoredChunk)              {}
func (n *noopMonitor) AfterKeywordSearch(_ []string, _ []core.ScoredChunk) {}
func (n *noopMonitor) Finish(_ []*core.Candidate)                          {}
