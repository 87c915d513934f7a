package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TransactionTypeApplication  = "application"
	TransactionTypeDisbursement = "disbursement"
	TransactionTypeRepayment    = "repayment"
	TransactionTypeFee          = "fee"
)

// Transaction statuses. A row never changes again once it reaches
// completed or failed; corrections are new rows.
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
)

// Transaction is an append-only ledger entry. MpesaReceipt is the payment
// gateway's idempotency key and is unique when present; CheckoutRequestID
// correlates an in-flight push payment to its eventual callback.
type Transaction struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	UserID            uuid.UUID       `json:"user_id" db:"user_id"`
	LoanID            *uuid.UUID      `json:"loan_id,omitempty" db:"loan_id"`
	Type              string          `json:"type" db:"type"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	MpesaReceipt      *string         `json:"mpesa_receipt,omitempty" db:"mpesa_receipt"`
	MpesaPhone        *string         `json:"mpesa_phone,omitempty" db:"mpesa_phone"`
	CheckoutRequestID *string         `json:"checkout_request_id,omitempty" db:"checkout_request_id"`
	Status            string          `json:"status" db:"status"`
	Description       string          `json:"description" db:"description"`
	ErrorMessage      *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	UserID *uuid.UUID
	LoanID *uuid.UUID
	Type   string
	Status string
	Page   int
	Limit  int
}

type TransactionListResponse struct {
	Data       []*Transaction `json:"data"`
	Pagination Pagination     `json:"pagination"`
}
