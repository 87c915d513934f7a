package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umoja-loans/loan-engine/internal/config"
	"github.com/umoja-loans/loan-engine/pkg/apperrors"
)

type fakeDaraja struct {
	tokenCalls int
	pushCalls  int
	pushStatus int
	pushBody   map[string]interface{}
	lastPush   stkPushRequest
}

func (f *fakeDaraja) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		user, _, _ := r.BasicAuth()
		if user == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "test-token",
			"expires_in":   "3599",
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		f.pushCalls++
		_ = json.NewDecoder(r.Body).Decode(&f.lastPush)
		if f.pushStatus != 0 {
			w.WriteHeader(f.pushStatus)
		}
		_ = json.NewEncoder(w).Encode(f.pushBody)
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"ResultCode": "0",
			"ResultDesc": "The service request is processed successfully.",
		})
	})
	return mux
}

func newTestGateway(t *testing.T, f *fakeDaraja) *MpesaGateway {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	return NewMpesaGateway(config.MpesaConfig{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/api/v1/mpesa/callback",
		CountryPrefix:  "254",
		Timeout:        5 * time.Second,
	}, log)
}

func TestInitiatePushSuccess(t *testing.T) {
	daraja := &fakeDaraja{pushBody: map[string]interface{}{
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
		"CheckoutRequestID":   "ws_CO_123456",
	}}
	gw := newTestGateway(t, daraja)

	result, err := gw.InitiatePush(context.Background(), "0712345678", 1150, "ab12cd34", "Loan Repayment")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ws_CO_123456", result.CheckoutRequestID)

	// The request went out with the normalized phone number.
	assert.Equal(t, "254712345678", daraja.lastPush.PhoneNumber)
	assert.Equal(t, "254712345678", daraja.lastPush.PartyA)
	assert.Equal(t, int64(1150), daraja.lastPush.Amount)
	assert.Equal(t, "ab12cd34", daraja.lastPush.AccountReference)
	assert.Equal(t, "CustomerPayBillOnline", daraja.lastPush.TransactionType)
}

func TestInitiatePushRejected(t *testing.T) {
	daraja := &fakeDaraja{pushBody: map[string]interface{}{
		"ResponseCode":        "1",
		"ResponseDescription": "Insufficient funds on the MMF account",
	}}
	gw := newTestGateway(t, daraja)

	result, err := gw.InitiatePush(context.Background(), "0712345678", 500, "ref", "Loan Repayment")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Insufficient funds on the MMF account", result.Message)
}

func TestInitiatePushServerError(t *testing.T) {
	daraja := &fakeDaraja{pushStatus: http.StatusInternalServerError, pushBody: map[string]interface{}{}}
	gw := newTestGateway(t, daraja)

	_, err := gw.InitiatePush(context.Background(), "0712345678", 500, "ref", "Loan Repayment")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGateway)
}

func TestAccessTokenCached(t *testing.T) {
	daraja := &fakeDaraja{pushBody: map[string]interface{}{
		"ResponseCode":      "0",
		"CheckoutRequestID": "ws_CO_1",
	}}
	gw := newTestGateway(t, daraja)

	_, err := gw.InitiatePush(context.Background(), "0712345678", 100, "ref", "d")
	require.NoError(t, err)
	_, err = gw.InitiatePush(context.Background(), "0712345678", 100, "ref", "d")
	require.NoError(t, err)

	assert.Equal(t, 2, daraja.pushCalls)
	assert.Equal(t, 1, daraja.tokenCalls, "token fetched once and reused")
}

func TestQueryPush(t *testing.T) {
	daraja := &fakeDaraja{}
	gw := newTestGateway(t, daraja)

	status, err := gw.QueryPush(context.Background(), "ws_CO_123456")
	require.NoError(t, err)
	assert.Equal(t, "0", status.ResultCode)
}
