package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/umoja-loans/loan-engine/internal/domain"
)

type transactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) GetByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Transaction, error) {
	txns := []*domain.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE loan_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &txns, query, loanID); err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *transactionRepository) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	var txn domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = $1`
	if err := r.db.GetContext(ctx, &txn, query, checkoutRequestID); err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *transactionRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	addArg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UserID != nil {
		where = append(where, "user_id = "+addArg(*filter.UserID))
	}
	if filter.LoanID != nil {
		where = append(where, "loan_id = "+addArg(*filter.LoanID))
	}
	if filter.Type != "" {
		where = append(where, "type = "+addArg(filter.Type))
	}
	if filter.Status != "" {
		where = append(where, "status = "+addArg(filter.Status))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM transactions WHERE `+whereClause, args...); err != nil {
		return nil, 0, err
	}

	limitArg := addArg(filter.Limit)
	offsetArg := addArg((filter.Page - 1) * filter.Limit)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + whereClause +
		` ORDER BY created_at DESC LIMIT ` + limitArg + ` OFFSET ` + offsetArg

	txns := []*domain.Transaction{}
	if err := r.db.SelectContext(ctx, &txns, query, args...); err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (r *transactionRepository) RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	txns := []*domain.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &txns, query, userID, limit); err != nil {
		return nil, err
	}
	return txns, nil
}
