package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/visibility-gap/internal/db"
	"github.com/jonathan/visibility-gap/internal/pipeline"
	"github.com/jonathan/visibility-gap/internal/provider"
	"github.com/jonathan/visibility-gap/internal/schemas"
)

// ErrNotConfigured is returned by endpoints whose collaborator was not wired, e.g. persistence.
var ErrNotConfigured = errors.New("not configured on this server")

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrJobNotFound indicates the job is unknown to every project on this server
type ErrJobNotFound struct {
	JobID string
}

func (e *ErrJobNotFound) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		reqErr       *ErrValidation
		fieldErrs    validator.ValidationErrors
		schemaErr    *schemas.ValidationError
		notFound     *ErrJobNotFound
		providerErr  *provider.Error
		phaseTimeout *pipeline.PhaseTimedOutError
	)

	switch {
	case errors.As(err, &reqErr), errors.As(err, &fieldErrs), errors.As(err, &schemaErr):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, db.ErrNotFound), errors.Is(err, pipeline.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, ErrNotConfigured), errors.Is(err, provider.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.As(err, &phaseTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &providerErr):
		if providerErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders err for clients. Field errors from the validator are listed one by one.
func errorBody(err error) map[string]any {
	body := map[string]any{"error": err.Error()}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		body["error"] = "request validation failed"
		body["fields"] = fields
	}

	var schemaErr *schemas.ValidationError
	if errors.As(err, &schemaErr) {
		fields := make(map[string]string, len(schemaErr.Errors))
		for _, fe := range schemaErr.Errors {
			fields[fe.Field] = fe.Message
		}
		body["error"] = "row validation failed"
		body["fields"] = fields
	}
	return body
}
