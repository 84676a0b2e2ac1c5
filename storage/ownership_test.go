package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/poiesic/docusense/core"
)

func TestCheckCommitOwner(t *testing.T) {
	tests := []struct {
		name string
		doc  core.Document
		job  string
		want error
	}{
		{"current job", core.Document{Id: 1, JobId: "a", Status: core.DocumentProcessing}, "a", nil},
		{"superseded job", core.Document{Id: 1, JobId: "b", Status: core.DocumentProcessing}, "a", core.ErrJobAlreadyTerminal},
		{"already ready", core.Document{Id: 1, JobId: "a", Status: core.DocumentReady}, "a", core.ErrJobAlreadyTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCommitOwner(&tt.doc, tt.job)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckSupersede(t *testing.T) {
	tests := []struct {
		name     string
		doc      core.Document
		previous string
		want     error
	}{
		{"failed document", core.Document{Id: 1, JobId: "a", Status: core.DocumentFailed}, "a", nil},
		{"failure not yet recorded", core.Document{Id: 1, JobId: "a", Status: core.DocumentProcessing}, "a", nil},
		{"already retried", core.Document{Id: 1, JobId: "b", Status: core.DocumentPending}, "a", core.ErrJobAlreadyActive},
		{"ready", core.Document{Id: 1, JobId: "a", Status: core.DocumentReady}, "a", core.ErrJobAlreadyTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSupersede(&tt.doc, tt.previous)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
