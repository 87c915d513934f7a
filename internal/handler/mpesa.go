package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/gateway"
	"github.com/umoja-loans/loan-engine/internal/reconciler"
	"github.com/umoja-loans/loan-engine/pkg/response"
)

// MpesaHandler receives gateway callbacks and serves push status queries.
type MpesaHandler struct {
	reconciler *reconciler.Reconciler
	gateway    gateway.Gateway
	log        *logrus.Logger
}

func NewMpesaHandler(rec *reconciler.Reconciler, gw gateway.Gateway, log *logrus.Logger) *MpesaHandler {
	return &MpesaHandler{reconciler: rec, gateway: gw, log: log}
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Callback handles the asynchronous payment-result notification. The
// response always reports success to the gateway — even on internal failure —
// so the gateway never retry-storms a callback this system cannot recover
// from on its own. Recovery of a failed callback is an out-of-band
// operational action.
func (h *MpesaHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var envelope gateway.CallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		h.log.Warnf("malformed mpesa callback: %v", err)
		response.Raw(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		return
	}

	if err := h.reconciler.HandleCallback(r.Context(), &envelope); err != nil {
		h.log.Errorf("callback processing failed: %v", err)
		response.Raw(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		return
	}

	response.Raw(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Success"})
}

// QueryStatus asks the gateway for the state of an in-flight push payment.
func (h *MpesaHandler) QueryStatus(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := mux.Vars(r)["checkoutRequestId"]

	status, err := h.gateway.QueryPush(r.Context(), checkoutRequestID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, status)
}
