package handler_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pattern-playground/internal/apperror"
	"github.com/sakif/pattern-playground/internal/handler"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantKind    string
		wantMessage string
	}{
		{"validation", apperror.ValidationFailed("codeA", "codeA is required"), http.StatusBadRequest, "validation_error", "codeA is required"},
		{"not found", apperror.NotFound("snippet", "s1"), http.StatusNotFound, "not_found", "snippet not found with id s1"},
		{"forbidden", apperror.Forbidden("not yours"), http.StatusForbidden, "forbidden", "not yours"},
		{"conflict", apperror.Conflict("snippet", "s1"), http.StatusConflict, "conflict", "snippet conflict with id s1"},
		{"busy", apperror.Busy("too many comparisons"), http.StatusTooManyRequests, "busy", "too many comparisons"},
		{"unavailable", apperror.Unavailable("snippet storage"), http.StatusServiceUnavailable, "unavailable", "snippet storage is not available"},
		{"wrapped", fmt.Errorf("service: %w", apperror.NotFound("user", "u1")), http.StatusNotFound, "not_found", "user not found with id u1"},
		{"plain error hides its text", errors.New("database on fire"), http.StatusInternalServerError, "internal_error", "An internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.WriteError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var res handler.ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
			assert.Equal(t, tt.wantKind, res.Error)
			assert.Equal(t, tt.wantMessage, res.Message)
		})
	}
}

func TestWriteErrorBusySetsRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	handler.WriteError(rr, apperror.Busy("later"))
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	rr = httptest.NewRecorder()
	handler.WriteError(rr, apperror.NotFound("x", "y"))
	assert.Empty(t, rr.Header().Get("Retry-After"))
}
