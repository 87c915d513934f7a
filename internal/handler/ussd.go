package handler

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/ussd"
)

// USSDHandler bridges the telco gateway's form-encoded requests onto the
// session protocol. Replies are plain text: "CON " continues the session,
// "END " terminates it.
type USSDHandler struct {
	svc *ussd.Service
	log *logrus.Logger
}

func NewUSSDHandler(svc *ussd.Service, log *logrus.Logger) *USSDHandler {
	return &USSDHandler{svc: svc, log: log}
}

func (h *USSDHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeUSSD(w, "END Service temporarily unavailable. Please try again later.")
		return
	}

	sessionID := r.FormValue("sessionId")
	serviceCode := r.FormValue("serviceCode")
	phoneNumber := r.FormValue("phoneNumber")
	text := r.FormValue("text")

	if phoneNumber == "" {
		writeUSSD(w, "END Invalid request.")
		return
	}

	reply, err := h.svc.Process(r.Context(), sessionID, serviceCode, phoneNumber, text)
	if err != nil {
		h.log.Errorf("ussd session error: %v", err)
		writeUSSD(w, "END Service temporarily unavailable. Please try again later.")
		return
	}

	prefix := "CON "
	if reply.Terminal {
		prefix = "END "
	}
	writeUSSD(w, prefix+reply.Message)
}

func writeUSSD(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
