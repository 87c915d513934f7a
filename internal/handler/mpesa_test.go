package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umoja-loans/loan-engine/internal/domain"
	"github.com/umoja-loans/loan-engine/internal/reconciler"
	"github.com/umoja-loans/loan-engine/internal/repository"
)

type unknownTxnRepo struct {
	repository.TransactionRepository
}

func (unknownTxnRepo) GetByCheckoutID(_ context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	return nil, sql.ErrNoRows
}

func newCallbackHandler(t *testing.T) *MpesaHandler {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	rec := reconciler.NewReconciler(nil, nil, nil, unknownTxnRepo{}, nil, "254", log)
	return NewMpesaHandler(rec, nil, log)
}

func postCallback(t *testing.T, h *MpesaHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mpesa/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	return rec
}

// The gateway retries on anything but an acknowledgment, so the callback
// endpoint answers 200 with ResultCode 0 no matter what arrived.
func TestCallbackAlwaysAcknowledges(t *testing.T) {
	h := newCallbackHandler(t)

	tests := []struct {
		name string
		body string
		desc string
	}{
		{
			name: "malformed json",
			body: "{not json",
			desc: "Accepted",
		},
		{
			name: "unknown checkout request",
			body: `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_unknown","ResultCode":0}}}`,
			desc: "Success",
		},
		{
			name: "missing checkout request id",
			body: `{"Body":{"stkCallback":{"ResultCode":0}}}`,
			desc: "Success",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCallback(t, h, tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)

			var ack callbackAck
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
			assert.Equal(t, 0, ack.ResultCode)
			assert.Equal(t, tt.desc, ack.ResultDesc)
		})
	}
}
