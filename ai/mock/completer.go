package mock

import (
	"context"
	"sync"

	"github.com/poiesic/docusense/ai"
)

// MockCompleter is a test double for ai.Completer.
type MockCompleter struct {
	// CompleteFunc is called by Complete if set.
	// If nil, Complete returns Response.
	CompleteFunc func(ctx context.Context, prompt ai.Prompt) (string, error)

	// Response is returned when CompleteFunc is nil.
	Response string

	mu         sync.Mutex
	callCount  int
	lastPrompt ai.Prompt
}

// NewMockCompleter creates a MockCompleter that cites the first context passage.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{Response: "Based on the provided documents [1]."}
}

// Complete implements ai.Completer.
func (m *MockCompleter) Complete(ctx context.Context, prompt ai.Prompt) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.lastPrompt = prompt
	fn := m.CompleteFunc
	resp := m.Response
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return resp, nil
}

// Model implements ai.Completer.
func (m *MockCompleter) Model() string {
	return "mock"
}

// CallCount returns the number of Complete calls.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastPrompt returns the prompt of the most recent Complete call.
func (m *MockCompleter) LastPrompt() ai.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

// Reset clears the call count and custom function.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.CompleteFunc = nil
}
