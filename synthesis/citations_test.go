package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCitations(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		n        int
		wantText string
		wantUsed []int
	}{
		{
			name:     "single",
			text:     "Returns are accepted within 30 days [1].",
			n:        3,
			wantText: "Returns are accepted within 30 days [1].",
			wantUsed: []int{1},
		},
		{
			name:     "grouped",
			text:     "Both sites are certified [1, 3].",
			n:        3,
			wantText: "Both sites are certified [1, 3].",
			wantUsed: []int{1, 3},
		},
		{
			name:     "adjacent",
			text:     "Refunds are issued quickly [2][1].",
			n:        2,
			wantText: "Refunds are issued quickly [2][1].",
			wantUsed: []int{2, 1},
		},
		{
			name:     "repeated",
			text:     "First [1]. Second [2]. Again [1].",
			n:        2,
			wantText: "First [1]. Second [2]. Again [1].",
			wantUsed: []int{1, 2},
		},
		{
			name:     "invalid index removed",
			text:     "The warranty lasts two years [7].",
			n:        3,
			wantText: "The warranty lasts two years.",
			wantUsed: nil,
		},
		{
			name:     "invalid index dropped from group",
			text:     "Audits happen twice a year [2, 9].",
			n:        3,
			wantText: "Audits happen twice a year [2].",
			wantUsed: []int{2},
		},
		{
			name:     "zero is invalid",
			text:     "See [0] and [1] for details.",
			n:        1,
			wantText: "See and [1] for details.",
			wantUsed: []int{1},
		},
		{
			name:     "no citations",
			text:     "  I cannot answer this based on the provided documents.  ",
			n:        2,
			wantText: "I cannot answer this based on the provided documents.",
			wantUsed: nil,
		},
		{
			name:     "non numeric brackets untouched",
			text:     "Use the [config] section [1].",
			n:        1,
			wantText: "Use the [config] section [1].",
			wantUsed: []int{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, used := ParseCitations(tt.text, tt.n)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantUsed, used)
		})
	}
}
