package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/ingestion"
	"github.com/poiesic/docusense/storage"
)

// KindNotFound is reported for missing documents, jobs and answers.
const KindNotFound core.ErrorKind = "NotFound"

// Error is the JSON body of every failed request.
type Error struct {
	Code    int            `json:"-"`
	Message string         `json:"error"`
	Kind    core.ErrorKind `json:"kind"`
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, kind core.ErrorKind, msg string) Error {
	return Error{Code: code, Message: msg, Kind: kind}
}

func ErrBadRequest() Error {
	return NewError(fiber.StatusBadRequest, core.KindInvalidInput, "invalid JSON request")
}

func ErrInvalidID(id string) Error {
	return NewError(fiber.StatusBadRequest, core.KindInvalidInput, fmt.Sprintf("invalid id %q", id))
}

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Status int               `json:"-"`
	Kind   core.ErrorKind    `json:"kind"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Kind:   core.KindInvalidInput,
		Errors: errors,
	}
}

var kindStatus = map[core.ErrorKind]int{
	core.KindInvalidInput:         fiber.StatusBadRequest,
	core.KindUnsupportedFormat:    fiber.StatusUnsupportedMediaType,
	core.KindEmptyDocument:        fiber.StatusUnprocessableEntity,
	core.KindDuplicateDocument:    fiber.StatusConflict,
	core.KindJobAlreadyActive:     fiber.StatusConflict,
	core.KindJobAlreadyTerminal:   fiber.StatusConflict,
	core.KindDimensionMismatch:    fiber.StatusConflict,
	core.KindEmbeddingUnavailable: fiber.StatusServiceUnavailable,
	core.KindSynthesisUnavailable: fiber.StatusServiceUnavailable,
	core.KindIndexUnavailable:     fiber.StatusServiceUnavailable,
	core.KindCanceled:             fiber.StatusServiceUnavailable,
	core.KindInterrupted:          fiber.StatusServiceUnavailable,
	core.KindTimeout:              fiber.StatusGatewayTimeout,
}

// fromDomain converts a pipeline error into an API error.
func fromDomain(err error) Error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NewError(fiber.StatusNotFound, KindNotFound, err.Error())
	case errors.Is(err, ingestion.ErrPipelineClosed), errors.Is(err, ingestion.ErrQueueFull):
		return NewError(fiber.StatusServiceUnavailable, core.KindInternal, err.Error())
	}

	kind := core.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		return NewError(fiber.StatusInternalServerError, core.KindInternal, "internal error")
	}
	return NewError(status, kind, err.Error())
}

// ErrorHandler renders every error returned by a handler as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var (
		apiErr Error
		valErr ValidationError
		fbErr  *fiber.Error
	)
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &valErr):
		return c.Status(valErr.Status).JSON(valErr)
	case errors.As(err, &fbErr):
		apiErr = NewError(fbErr.Code, core.KindInvalidInput, fbErr.Message)
		switch {
		case fbErr.Code == fiber.StatusNotFound:
			apiErr.Kind = KindNotFound
		case fbErr.Code >= fiber.StatusInternalServerError:
			apiErr.Kind = core.KindInternal
		}
	default:
		apiErr = fromDomain(err)
	}

	logger := slog.Default().With("component", "api")
	switch {
	case apiErr.Code == fiber.StatusInternalServerError:
		logger.Error("request failed",
			"method", c.Method(), "path", c.Path(), "status", apiErr.Code, "error", err)
	case apiErr.Code > fiber.StatusInternalServerError:
		logger.Warn("request not served",
			"method", c.Method(), "path", c.Path(), "status", apiErr.Code, "kind", apiErr.Kind, "error", err)
	}
	return c.Status(apiErr.Code).JSON(apiErr)
}
