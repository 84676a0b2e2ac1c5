package core

import (
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{
			name:     "same content produces same ID",
			content:  "test content",
			wantSame: true,
		},
		{
			name:     "empty string",
			content:  "",
			wantSame: true,
		},
		{
			name:     "long content",
			content:  "This is a much longer piece of content that should still hash consistently",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestChecksumFromContent(t *testing.T) {
	a := ChecksumFromContent("quality manual")
	b := ChecksumFromContent("quality manual")
	c := ChecksumFromContent("quality manual v2")

	if a != b {
		t.Errorf("ChecksumFromContent() not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Errorf("ChecksumFromContent() collided for different content")
	}
	if len(a) != 64 {
		t.Errorf("ChecksumFromContent() length = %d, want 64", len(a))
	}
}

func TestJobState(t *testing.T) {
	tests := []struct {
		state    JobState
		terminal bool
		active   bool
	}{
		{JobQueued, false, true},
		{JobRunning, false, true},
		{JobCompleted, true, false},
		{JobFailed, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.state.Active(); got != tt.active {
				t.Errorf("Active() = %v, want %v", got, tt.active)
			}
		})
	}
}

func TestChunk_TermCount(t *testing.T) {
	c := &Chunk{Terms: map[string]int{"iso": 2, "9001": 2, "audit": 1}}
	if got := c.TermCount(); got != 5 {
		t.Errorf("TermCount() = %d, want 5", got)
	}
	if c.Embedded() {
		t.Errorf("Embedded() = true for chunk without vector")
	}
}

func TestCollection_AverageChunkLength(t *testing.T) {
	empty := &Collection{}
	if got := empty.AverageChunkLength(); got != 0 {
		t.Errorf("AverageChunkLength() = %v, want 0", got)
	}
	c := &Collection{ChunkCount: 4, TokenTotal: 10}
	if got := c.AverageChunkLength(); got != 2.5 {
		t.Errorf("AverageChunkLength() = %v, want 2.5", got)
	}
}
