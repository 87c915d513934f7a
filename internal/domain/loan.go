package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Loan statuses. Transitions move forward only:
// PENDING -> APPROVED -> DISBURSED -> {REPAID, DEFAULTED}, PENDING -> REJECTED.
const (
	LoanStatusPending   = "pending"
	LoanStatusApproved  = "approved"
	LoanStatusRejected  = "rejected"
	LoanStatusDisbursed = "disbursed"
	LoanStatusRepaid    = "repaid"
	LoanStatusDefaulted = "defaulted"
)

// ActiveLoanStatuses are the statuses counted by the single-active-loan rule.
var ActiveLoanStatuses = []string{LoanStatusPending, LoanStatusApproved, LoanStatusDisbursed}

// Loan represents a single loan application and its lifecycle.
type Loan struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	TermDays        int             `json:"term_days" db:"term_days"`
	InterestRate    decimal.Decimal `json:"interest_rate" db:"interest_rate"`
	AmountDue       decimal.Decimal `json:"amount_due" db:"amount_due"`
	Purpose         string          `json:"purpose" db:"purpose"`
	Status          string          `json:"status" db:"status"`
	ApplicationDate time.Time       `json:"application_date" db:"application_date"`
	ApprovedDate    *time.Time      `json:"approved_date,omitempty" db:"approved_date"`
	DisbursedDate   *time.Time      `json:"disbursed_date,omitempty" db:"disbursed_date"`
	DueDate         time.Time       `json:"due_date" db:"due_date"`
}

// IsActive reports whether the loan counts against the single-active-loan rule.
func (l *Loan) IsActive() bool {
	switch l.Status {
	case LoanStatusPending, LoanStatusApproved, LoanStatusDisbursed:
		return true
	}
	return false
}

// DTOs for requests and responses

type ApplyLoanRequest struct {
	UserID   uuid.UUID       `json:"user_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"required"`
	TermDays int             `json:"term_days" validate:"required,gt=0"`
	Purpose  string          `json:"purpose" validate:"max=200"`
}

type RepayLoanRequest struct {
	UserID       uuid.UUID       `json:"user_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"required"`
	MpesaReceipt string          `json:"mpesa_receipt" validate:"required"`
}

// RepaymentOutcome reports the result of a recorded repayment.
type RepaymentOutcome struct {
	Loan        *Loan           `json:"loan"`
	FullyRepaid bool            `json:"fully_repaid"`
	Remaining   decimal.Decimal `json:"remaining"`
}

// Eligibility is the result of the eligibility evaluation. The Reason wording
// is part of the user contract: it is rendered verbatim on the USSD screen.
type Eligibility struct {
	Eligible  bool            `json:"eligible"`
	Reason    string          `json:"reason,omitempty"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

// LoanFilter narrows and orders the admin loan listing.
type LoanFilter struct {
	Status    string
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Search    string
	SortBy    string
	SortDesc  bool
	Page      int
	Limit     int
}

// Pagination carries listing metadata for admin responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type LoanListResponse struct {
	Data       []*Loan    `json:"data"`
	Pagination Pagination `json:"pagination"`
}
