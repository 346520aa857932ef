package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"phishnot_server/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"not found", fmt.Errorf("classification x: %w", domain.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{"invalid", fmt.Errorf("%w: user_verdict", domain.ErrInvalidInput), CodeInvalidInput, http.StatusBadRequest},
		{"conflict", domain.ErrConflict, CodeConflict, http.StatusConflict},
		{"store", fmt.Errorf("save: %w", domain.ErrStoreUnavailable), CodeStoreUnavailable, http.StatusServiceUnavailable},
		{"invariant", domain.ErrInvariantViolation, CodeInvariantViolation, http.StatusInternalServerError},
		{"classifier", fmt.Errorf("classify: %w", domain.ErrClassifierUnavailable), CodeExternalError, http.StatusBadGateway},
		{"unknown", errors.New("boom"), CodeInternalError, http.StatusInternalServerError},
		{"passthrough", BadRequest("nope"), CodeBadRequest, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromDomain(tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.status, GetHTTPStatus(tt.err))
		})
	}
}

func TestStoreUnavailableHidesCause(t *testing.T) {
	err := StoreUnavailable(errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	assert.NotContains(t, err.Message, "10.0.0.5")
	assert.True(t, err.Retryable())
	assert.ErrorContains(t, err, "connection refused")
}

func TestRateLimitedDetails(t *testing.T) {
	err := RateLimited(1700000000, 42)

	assert.Equal(t, http.StatusTooManyRequests, err.Status)
	assert.Equal(t, int64(1700000000), err.Details["reset_at"])
	assert.Equal(t, 42, err.Details["retry_after"])
	assert.True(t, err.Retryable())
}
