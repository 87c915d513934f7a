package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Credit score domain bounds. Scores are only adjusted through repayment
// outcomes and must stay inside [MinCreditScore, MaxCreditScore].
const (
	MinCreditScore = 300
	MaxCreditScore = 850
)

// User is created on first contact (USSD session or explicit registration)
// and never deleted, only deactivated.
type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	NationalID  *string   `json:"national_id,omitempty" db:"national_id"`
	FirstName   string    `json:"first_name" db:"first_name"`
	LastName    string    `json:"last_name" db:"last_name"`
	CreditScore int       `json:"credit_score" db:"credit_score"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Wallet is 1:1 with a user and created atomically with it.
//
// Invariants: CurrentLoanLimit <= TotalLoanLimit, LoanBalance >= 0, and
// LoanBalance equals the sum of AmountDue over the user's DISBURSED loans.
type Wallet struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	LoanBalance      decimal.Decimal `json:"loan_balance" db:"loan_balance"`
	TotalLoanLimit   decimal.Decimal `json:"total_loan_limit" db:"total_loan_limit"`
	CurrentLoanLimit decimal.Decimal `json:"current_loan_limit" db:"current_loan_limit"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

type UserResponse struct {
	User   *User   `json:"user"`
	Wallet *Wallet `json:"wallet"`
}

type RegisterUserRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,min=9,max=15"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}
