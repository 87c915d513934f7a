package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/domain"
	"github.com/umoja-loans/loan-engine/internal/repository"
	"github.com/umoja-loans/loan-engine/internal/service"
	"github.com/umoja-loans/loan-engine/internal/workflow"
	"github.com/umoja-loans/loan-engine/pkg/response"
)

// LoanHandler exposes the loan lifecycle over HTTP.
type LoanHandler struct {
	svc          *service.LoanService
	users        repository.UserRepository
	orchestrator *workflow.Orchestrator
	validate     *validator.Validate
	log          *logrus.Logger
}

func NewLoanHandler(svc *service.LoanService, users repository.UserRepository, orchestrator *workflow.Orchestrator, log *logrus.Logger) *LoanHandler {
	return &LoanHandler{
		svc:          svc,
		users:        users,
		orchestrator: orchestrator,
		validate:     validator.New(),
		log:          log,
	}
}

// RegisterUser creates (or returns) the user and wallet for a phone number.
func (h *LoanHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.svc.RegisterUser(r.Context(), &req)
	if err != nil {
		h.log.Errorf("register user: %v", err)
		response.FromError(w, err)
		return
	}
	response.Created(w, result)
}

// ApplyLoan creates a new loan application.
func (h *LoanHandler) ApplyLoan(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplyLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	loan, err := h.svc.Apply(r.Context(), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, loan)
}

// GetUserLoans returns all loans for one user.
func (h *LoanHandler) GetUserLoans(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["userId"])
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	loans, err := h.svc.UserLoans(r.Context(), userID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, loans)
}

// ApproveLoan approves a PENDING loan and queues the asynchronous
// disbursement workflow. The APPROVED->DISBURSED transition happens later;
// callers observe it by polling the loan status.
func (h *LoanHandler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["loanId"])
	if err != nil {
		response.BadRequest(w, "invalid loan id")
		return
	}

	loan, err := h.svc.Approve(r.Context(), loanID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	user, err := h.users.GetByID(r.Context(), loan.UserID)
	if err != nil {
		h.log.WithField("loan_id", loanID).Errorf("owner lookup failed after approve: %v", err)
		response.FromError(w, err)
		return
	}

	h.orchestrator.QueueDisbursement(loan, user.PhoneNumber)

	response.Success(w, map[string]interface{}{
		"message": "Loan approved and disbursement initiated",
		"loan_id": loan.ID,
	})
}

// RejectLoan rejects a PENDING loan.
func (h *LoanHandler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["loanId"])
	if err != nil {
		response.BadRequest(w, "invalid loan id")
		return
	}

	loan, err := h.svc.Reject(r.Context(), loanID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, loan)
}

// RepayLoan records a repayment reported directly (with a gateway receipt in
// hand) and queues the confirmation side effects.
func (h *LoanHandler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	var req domain.RepayLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	loan, err := h.svc.DisbursedLoanForUser(r.Context(), req.UserID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.orchestrator.QueueRepaymentConfirmation(service.RepaymentInput{
		LoanID:       loan.ID,
		Amount:       req.Amount,
		MpesaReceipt: req.MpesaReceipt,
	})

	response.Success(w, map[string]string{"message": "Repayment processing initiated"})
}

// InitiateRepayment pushes a payment request for the outstanding amount to
// the user's phone.
func (h *LoanHandler) InitiateRepayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID uuid.UUID `json:"user_id" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.svc.InitiateRepayment(r.Context(), req.UserID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, result)
}
