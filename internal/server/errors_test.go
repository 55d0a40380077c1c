package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/visibility-gap/internal/db"
	"github.com/jonathan/visibility-gap/internal/pipeline"
	"github.com/jonathan/visibility-gap/internal/provider"
	"github.com/jonathan/visibility-gap/internal/schemas"
	"github.com/jonathan/visibility-gap/internal/types"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "kind", Message: "unknown phase"}
	assert.Equal(t, "validation error: kind - unknown phase", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestErrJobNotFound(t *testing.T) {
	err := &ErrJobNotFound{JobID: "abc"}
	assert.Equal(t, "job not found: abc", err.Error())
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	req := types.ClassifyRequest{}
	fieldErr := req.Validate()
	require.Error(t, fieldErr)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validator", fieldErr, http.StatusBadRequest},
		{"schema", &schemas.ValidationError{Errors: []schemas.FieldError{{Field: "0.url", Message: "required"}}}, http.StatusBadRequest},
		{"db not found", fmt.Errorf("lookup: %w", db.ErrNotFound), http.StatusNotFound},
		{"unknown job", pipeline.ErrUnknownJob, http.StatusNotFound},
		{"not running", pipeline.ErrNotRunning, http.StatusConflict},
		{"not configured", fmt.Errorf("opportunities: %w", ErrNotConfigured), http.StatusServiceUnavailable},
		{"circuit open", &provider.Error{Op: "get job", Message: "upstream unavailable", Cause: provider.ErrCircuitOpen}, http.StatusServiceUnavailable},
		{"upstream 404", &provider.Error{Op: "get job", StatusCode: 404, Message: "no such job"}, http.StatusNotFound},
		{"upstream 500", &provider.Error{Op: "get job", StatusCode: 500, Message: "boom"}, http.StatusBadGateway},
		{"phase timeout", &pipeline.PhaseTimedOutError{Phase: types.PhaseGap}, http.StatusGatewayTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestErrorBody(t *testing.T) {
	body := errorBody(errors.New("plain"))
	assert.Equal(t, "plain", body["error"])
	assert.NotContains(t, body, "fields")

	err := (&types.ClassifyRequest{}).Validate()
	var fieldErrs validator.ValidationErrors
	require.ErrorAs(t, err, &fieldErrs)
	body = errorBody(err)
	assert.Equal(t, "request validation failed", body["error"])
	assert.Equal(t, map[string]string{"ClassifyRequest.Domains": "required"}, body["fields"])

	body = errorBody(&schemas.ValidationError{Errors: []schemas.FieldError{{Field: "0.url", Message: "url is required"}}})
	assert.Equal(t, "row validation failed", body["error"])
	assert.Equal(t, map[string]string{"0.url": "url is required"}, body["fields"])
}
