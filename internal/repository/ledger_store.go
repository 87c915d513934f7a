package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/umoja-loans/loan-engine/internal/domain"
)

type ledgerStore struct {
	db *sqlx.DB
}

// NewStore creates the sqlx-backed atomic store.
func NewStore(db *sqlx.DB) Store {
	return &ledgerStore{db: db}
}

func (s *ledgerStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

type ledgerTx struct {
	tx *sqlx.Tx
}

const userColumns = `id, phone_number, national_id, first_name, last_name, credit_score, is_active, created_at, updated_at`

func (t *ledgerTx) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := t.tx.GetContext(ctx, &user, query, userID); err != nil {
		return nil, err
	}
	return &user, nil
}

func (t *ledgerTx) InsertUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, phone_number, national_id, first_name, last_name, credit_score, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.ExecContext(ctx, query,
		user.ID,
		user.PhoneNumber,
		user.NationalID,
		user.FirstName,
		user.LastName,
		user.CreditScore,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return err
}

func (t *ledgerTx) UpdateUserCreditScore(ctx context.Context, userID uuid.UUID, score int) error {
	query := `UPDATE users SET credit_score = $2, updated_at = $3 WHERE id = $1`
	_, err := t.tx.ExecContext(ctx, query, userID, score, time.Now().UTC())
	return err
}

const walletColumns = `id, user_id, available_balance, loan_balance, total_loan_limit, current_loan_limit, created_at, updated_at`

// WalletForUpdate locks the wallet row until commit. This lock is what
// serializes concurrent money mutations for one user.
func (t *ledgerTx) WalletForUpdate(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	var wallet domain.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &wallet, query, userID); err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (t *ledgerTx) InsertWallet(ctx context.Context, wallet *domain.Wallet) error {
	query := `
		INSERT INTO wallets (id, user_id, available_balance, loan_balance, total_loan_limit, current_loan_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.ExecContext(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.AvailableBalance,
		wallet.LoanBalance,
		wallet.TotalLoanLimit,
		wallet.CurrentLoanLimit,
		wallet.CreatedAt,
		wallet.UpdatedAt,
	)
	return err
}

func (t *ledgerTx) UpdateWallet(ctx context.Context, wallet *domain.Wallet) error {
	query := `
		UPDATE wallets
		SET available_balance = $2, loan_balance = $3, total_loan_limit = $4, current_loan_limit = $5, updated_at = $6
		WHERE id = $1
	`
	_, err := t.tx.ExecContext(ctx, query,
		wallet.ID,
		wallet.AvailableBalance,
		wallet.LoanBalance,
		wallet.TotalLoanLimit,
		wallet.CurrentLoanLimit,
		time.Now().UTC(),
	)
	return err
}

const loanColumns = `id, user_id, amount, term_days, interest_rate, amount_due, purpose, status, application_date, approved_date, disbursed_date, due_date`

func (t *ledgerTx) LoanForUpdate(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	var loan domain.Loan
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &loan, query, loanID); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (t *ledgerTx) InsertLoan(ctx context.Context, loan *domain.Loan) error {
	query := `
		INSERT INTO loans (id, user_id, amount, term_days, interest_rate, amount_due, purpose, status, application_date, approved_date, disbursed_date, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := t.tx.ExecContext(ctx, query,
		loan.ID,
		loan.UserID,
		loan.Amount,
		loan.TermDays,
		loan.InterestRate,
		loan.AmountDue,
		loan.Purpose,
		loan.Status,
		loan.ApplicationDate,
		loan.ApprovedDate,
		loan.DisbursedDate,
		loan.DueDate,
	)
	return err
}

func (t *ledgerTx) UpdateLoan(ctx context.Context, loan *domain.Loan) error {
	query := `
		UPDATE loans
		SET amount_due = $2, status = $3, approved_date = $4, disbursed_date = $5, due_date = $6
		WHERE id = $1
	`
	_, err := t.tx.ExecContext(ctx, query,
		loan.ID,
		loan.AmountDue,
		loan.Status,
		loan.ApprovedDate,
		loan.DisbursedDate,
		loan.DueDate,
	)
	return err
}

func (t *ledgerTx) CountActiveLoans(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM loans WHERE user_id = $1 AND status IN ('pending', 'approved', 'disbursed')`
	if err := t.tx.GetContext(ctx, &count, query, userID); err != nil {
		return 0, err
	}
	return count, nil
}

const transactionColumns = `id, user_id, loan_id, type, amount, mpesa_receipt, mpesa_phone, checkout_request_id, status, description, error_message, created_at, updated_at, completed_at`

func (t *ledgerTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, loan_id, type, amount, mpesa_receipt, mpesa_phone, checkout_request_id, status, description, error_message, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := t.tx.ExecContext(ctx, query,
		txn.ID,
		txn.UserID,
		txn.LoanID,
		txn.Type,
		txn.Amount,
		txn.MpesaReceipt,
		txn.MpesaPhone,
		txn.CheckoutRequestID,
		txn.Status,
		txn.Description,
		txn.ErrorMessage,
		txn.CreatedAt,
		txn.UpdatedAt,
		txn.CompletedAt,
	)
	return err
}

func (t *ledgerTx) UpdateTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET amount = $2, mpesa_receipt = $3, status = $4, error_message = $5, updated_at = $6, completed_at = $7
		WHERE id = $1
	`
	_, err := t.tx.ExecContext(ctx, query,
		txn.ID,
		txn.Amount,
		txn.MpesaReceipt,
		txn.Status,
		txn.ErrorMessage,
		time.Now().UTC(),
		txn.CompletedAt,
	)
	return err
}

// TransactionByCheckoutID locks the correlated transaction row so that two
// deliveries of the same gateway callback cannot both observe it pending.
func (t *ledgerTx) TransactionByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	var txn domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &txn, query, checkoutRequestID); err != nil {
		return nil, err
	}
	return &txn, nil
}

// ErrNoDisbursedLoan signals that a user has no loan in DISBURSED status.
var ErrNoDisbursedLoan = errors.New("no disbursed loan for user")

// IsNotFound reports whether a repository error means "no rows".
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
