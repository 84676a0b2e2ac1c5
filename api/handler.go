package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/poiesic/docusense"
	"github.com/poiesic/docusense/core"
)

// Service is the part of the engine the HTTP adapter needs.
type Service interface {
	Ingest(ctx context.Context, collection string, req docusense.IngestRequest) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*core.IngestionJob, error)
	RetryDocument(ctx context.Context, documentID core.ID) (*core.IngestionJob, error)
	CancelJob(ctx context.Context, jobID string) error
	Ask(ctx context.Context, collection, question string, k int) (*core.Answer, error)
	Feedback(ctx context.Context, answerID core.ID, rating int, note string) error
	Documents(ctx context.Context, collection string) ([]*core.Document, error)
}

type CheckHandler struct{}

func NewCheckHandler() *CheckHandler {
	return &CheckHandler{}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

type Handler struct {
	service Service
	// askTimeout bounds a whole question, retrieval and synthesis included.
	askTimeout time.Duration
}

func NewHandler(service Service, askTimeout time.Duration) *Handler {
	return &Handler{service: service, askTimeout: askTimeout}
}

func parseID(c *fiber.Ctx) (core.ID, error) {
	raw := c.Params("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidID(raw)
	}
	return core.ID(id), nil
}

// HandleIngest accepts a document and answers 202 with the job tracking it.
func (h *Handler) HandleIngest(c *fiber.Ctx) error {
	var params IngestParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if err := validateParams(&params); err != nil {
		return err
	}

	jobID, err := h.service.Ingest(c.UserContext(), c.Params("collection"), docusense.IngestRequest{
		Title:      params.Title,
		SourceType: core.SourceType(params.SourceType),
		Content:    params.Content,
		Source:     params.Source,
		Metadata:   params.Metadata,
	})
	if err != nil {
		return err
	}
	c.Location("/api/v1/jobs/" + jobID)
	return c.Status(fiber.StatusAccepted).JSON(IngestResponse{JobId: jobID})
}

func (h *Handler) HandleGetJob(c *fiber.Ctx) error {
	job, err := h.service.GetJobStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(newJobResponse(job))
}

func (h *Handler) HandleCancelJob(c *fiber.Ctx) error {
	if err := h.service.CancelJob(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) HandleRetryDocument(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	job, err := h.service.RetryDocument(c.UserContext(), id)
	if err != nil {
		return err
	}
	c.Location("/api/v1/jobs/" + job.Id)
	return c.Status(fiber.StatusAccepted).JSON(IngestResponse{JobId: job.Id})
}

func (h *Handler) HandleListDocuments(c *fiber.Ctx) error {
	docs, err := h.service.Documents(c.UserContext(), c.Params("collection"))
	if err != nil {
		return err
	}
	resp := make([]DocumentResponse, len(docs))
	for i, doc := range docs {
		resp[i] = newDocumentResponse(doc)
	}
	return c.JSON(resp)
}

func (h *Handler) HandleAsk(c *fiber.Ctx) error {
	var params AskParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if err := validateParams(&params); err != nil {
		return err
	}

	ctx := c.UserContext()
	if h.askTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.askTimeout)
		defer cancel()
	}

	answer, err := h.service.Ask(ctx, c.Params("collection"), params.Question, params.K)
	if err != nil {
		return err
	}
	return c.JSON(newAnswerResponse(answer))
}

func (h *Handler) HandleFeedback(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var params FeedbackParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if err := validateParams(&params); err != nil {
		return err
	}

	if err := h.service.Feedback(c.UserContext(), id, params.Rating, params.Note); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
