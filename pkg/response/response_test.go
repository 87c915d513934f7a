package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umoja-loans/loan-engine/pkg/apperrors"
)

func TestFromErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "ineligible",
			err:     apperrors.Ineligible("You have an active loan"),
			status:  http.StatusUnprocessableEntity,
			message: "You have an active loan",
		},
		{
			name:    "invalid transition",
			err:     apperrors.InvalidTransition("repaid", "disbursed"),
			status:  http.StatusConflict,
			message: "cannot transition loan from repaid to disbursed",
		},
		{
			name:    "not found",
			err:     apperrors.NotFound("loan", "abc"),
			status:  http.StatusNotFound,
			message: "loan abc not found",
		},
		{
			name:    "gateway",
			err:     apperrors.Gateway("Service temporarily unavailable", nil),
			status:  http.StatusBadGateway,
			message: "Service temporarily unavailable",
		},
		{
			name:    "system error stays opaque",
			err:     apperrors.System(errors.New("pq: connection refused")),
			status:  http.StatusInternalServerError,
			message: "Internal server error",
		},
		{
			name:    "untyped error stays opaque",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestRawSkipsEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Raw(rec, http.StatusOK, map[string]int{"ResultCode": 0})

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body["ResultCode"])
}
