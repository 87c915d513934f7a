package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/umoja-loans/loan-engine/internal/domain"
)

// Store is the atomic unit of work over wallets, loans, users and the
// transaction ledger. Every balance-affecting loan transition must run inside
// WithinTx so that concurrent mutations of the same wallet serialize on the
// wallet row lock instead of interleaving.
type Store interface {
	// WithinTx runs fn inside a database transaction. All writes apply
	// together or not at all.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the operations available inside an atomic unit. *ForUpdate reads
// take row locks that hold until commit.
type Tx interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	InsertUser(ctx context.Context, user *domain.User) error
	UpdateUserCreditScore(ctx context.Context, userID uuid.UUID, score int) error

	WalletForUpdate(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	InsertWallet(ctx context.Context, wallet *domain.Wallet) error
	UpdateWallet(ctx context.Context, wallet *domain.Wallet) error

	LoanForUpdate(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	InsertLoan(ctx context.Context, loan *domain.Loan) error
	UpdateLoan(ctx context.Context, loan *domain.Loan) error
	CountActiveLoans(ctx context.Context, userID uuid.UUID) (int, error)

	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	UpdateTransaction(ctx context.Context, txn *domain.Transaction) error
	TransactionByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error)
}

// UserRepository defines read access to users and wallets.
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByPhone(ctx context.Context, phoneNumber string) (*domain.User, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	List(ctx context.Context, page, limit int) ([]*domain.User, int, error)
	ListWallets(ctx context.Context, page, limit int) ([]*domain.Wallet, int, error)
}

// LoanRepository defines read access to loans.
type LoanRepository interface {
	GetByID(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	GetByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Loan, error)

	// List applies the admin filter: status, amount range, free-text search
	// over purpose and owner phone, whitelisted sorting, pagination.
	List(ctx context.Context, filter domain.LoanFilter) ([]*domain.Loan, int, error)

	// DueForDefault returns DISBURSED loans whose due date has passed.
	DueForDefault(ctx context.Context, now time.Time) ([]*domain.Loan, error)

	// ApprovedWithFailedDisbursement returns APPROVED loans whose last
	// disbursement attempt failed, for scheduler-driven retry.
	ApprovedWithFailedDisbursement(ctx context.Context) ([]*domain.Loan, error)
}

// TransactionRepository defines read access to the transaction ledger.
type TransactionRepository interface {
	GetByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Transaction, error)
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error)
	List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, int, error)
	RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Transaction, error)
}
