package api

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/poiesic/docusense/core"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON names, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateParams returns a ValidationError naming every failed field, or nil.
func validateParams(params any) error {
	err := validate.Struct(params)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make(map[string]string, len(errs))
	for _, e := range errs {
		fields[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return NewValidationError(fields)
}

type IngestParams struct {
	Title      string            `json:"title" validate:"max=512"`
	SourceType string            `json:"source_type" validate:"required,oneof=text markdown pdf url"`
	Content    string            `json:"content" validate:"required_unless=SourceType url"`
	Source     string            `json:"source" validate:"required_if=SourceType url,omitempty,url"`
	Metadata   map[string]string `json:"metadata"`
}

type AskParams struct {
	Question string `json:"question" validate:"required,max=4000"`
	K        int    `json:"k" validate:"gte=0,lte=50"`
}

type FeedbackParams struct {
	Rating int    `json:"rating" validate:"oneof=-1 1"`
	Note   string `json:"note" validate:"max=2000"`
}

type IngestResponse struct {
	JobId string `json:"job_id"`
}

type JobResponse struct {
	Id          string         `json:"id"`
	DocumentId  core.ID        `json:"document_id"`
	Collection  string         `json:"collection"`
	State       core.JobState  `json:"state"`
	Progress    int            `json:"progress"`
	Attempts    int            `json:"attempts"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   core.ErrorKind `json:"error_kind,omitempty"`
	Supersedes  string         `json:"supersedes,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func newJobResponse(job *core.IngestionJob) JobResponse {
	resp := JobResponse{
		Id:         job.Id,
		DocumentId: job.DocumentId,
		Collection: job.Collection,
		State:      job.State,
		Progress:   job.Progress,
		Attempts:   job.Attempts,
		Error:      job.Error,
		ErrorKind:  job.ErrorKind,
		Supersedes: job.Supersedes,
		CreatedAt:  job.CreatedAt,
	}
	if !job.CompletedAt.IsZero() {
		resp.CompletedAt = &job.CompletedAt
	}
	return resp
}

type DocumentResponse struct {
	Id         core.ID             `json:"id"`
	Title      string              `json:"title"`
	SourceType core.SourceType     `json:"source_type"`
	Source     string              `json:"source,omitempty"`
	Status     core.DocumentStatus `json:"status"`
	Error      string              `json:"error,omitempty"`
	ChunkCount int                 `json:"chunk_count"`
	JobId      string              `json:"job_id"`
	InsertedAt time.Time           `json:"inserted_at"`
}

func newDocumentResponse(doc *core.Document) DocumentResponse {
	return DocumentResponse{
		Id:         doc.Id,
		Title:      doc.Title,
		SourceType: doc.SourceType,
		Source:     doc.Source,
		Status:     doc.Status,
		Error:      doc.Error,
		ChunkCount: doc.ChunkCount,
		JobId:      doc.JobId,
		InsertedAt: doc.InsertedAt,
	}
}

type CitationResponse struct {
	Index         int     `json:"index"`
	ChunkId       core.ID `json:"chunk_id"`
	DocumentId    core.ID `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Sequence      int     `json:"sequence"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"score"`
}

type AnswerResponse struct {
	Id         core.ID            `json:"id,omitempty"`
	Question   string             `json:"question"`
	Answer     string             `json:"answer"`
	Citations  []CitationResponse `json:"citations"`
	Confidence float64            `json:"confidence"`
	LatencyMs  int64              `json:"latency_ms"`
	Model      string             `json:"model,omitempty"`
}

func newAnswerResponse(answer *core.Answer) AnswerResponse {
	citations := make([]CitationResponse, len(answer.Citations))
	for i, c := range answer.Citations {
		citations[i] = CitationResponse(c)
	}
	return AnswerResponse{
		Id:         answer.Id,
		Question:   answer.Question,
		Answer:     answer.Text,
		Citations:  citations,
		Confidence: answer.Confidence,
		LatencyMs:  answer.Latency.Milliseconds(),
		Model:      answer.Model,
	}
}
