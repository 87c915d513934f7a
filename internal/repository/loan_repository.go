package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/umoja-loans/loan-engine/internal/domain"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) GetByID(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	var loan domain.Loan
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	if err := r.db.GetContext(ctx, &loan, query, loanID); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) GetByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Loan, error) {
	loans := []*domain.Loan{}
	query := `SELECT ` + loanColumns + ` FROM loans WHERE user_id = $1 ORDER BY application_date DESC`
	if err := r.db.SelectContext(ctx, &loans, query, userID); err != nil {
		return nil, err
	}
	return loans, nil
}

// sortColumns whitelists the fields the admin listing may order by.
var sortColumns = map[string]string{
	"amount":           "l.amount",
	"amount_due":       "l.amount_due",
	"term_days":        "l.term_days",
	"status":           "l.status",
	"purpose":          "l.purpose",
	"application_date": "l.application_date",
	"approved_date":    "l.approved_date",
	"disbursed_date":   "l.disbursed_date",
	"due_date":         "l.due_date",
}

func (r *loanRepository) List(ctx context.Context, filter domain.LoanFilter) ([]*domain.Loan, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	addArg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "l.status = "+addArg(filter.Status))
	}
	if filter.MinAmount != nil {
		where = append(where, "l.amount >= "+addArg(*filter.MinAmount))
	}
	if filter.MaxAmount != nil {
		where = append(where, "l.amount <= "+addArg(*filter.MaxAmount))
	}
	if filter.Search != "" {
		p := addArg("%" + filter.Search + "%")
		where = append(where, "(l.purpose ILIKE "+p+" OR u.phone_number ILIKE "+p+")")
	}

	whereClause := strings.Join(where, " AND ")

	countQuery := `SELECT COUNT(*) FROM loans l JOIN users u ON u.id = l.user_id WHERE ` + whereClause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	orderBy, ok := sortColumns[filter.SortBy]
	if !ok {
		orderBy = "l.application_date"
		filter.SortDesc = true
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	limitArg := addArg(filter.Limit)
	offsetArg := addArg((filter.Page - 1) * filter.Limit)

	selectCols := prefixColumns(loanColumns, "l.")
	query := `SELECT ` + selectCols + ` FROM loans l JOIN users u ON u.id = l.user_id WHERE ` + whereClause +
		` ORDER BY ` + orderBy + ` ` + direction + ` LIMIT ` + limitArg + ` OFFSET ` + offsetArg

	loans := []*domain.Loan{}
	if err := r.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

func (r *loanRepository) DueForDefault(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	loans := []*domain.Loan{}
	query := `SELECT ` + loanColumns + ` FROM loans WHERE status = 'disbursed' AND due_date < $1 ORDER BY due_date`
	if err := r.db.SelectContext(ctx, &loans, query, now); err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) ApprovedWithFailedDisbursement(ctx context.Context) ([]*domain.Loan, error) {
	loans := []*domain.Loan{}
	query := `
		SELECT ` + prefixColumns(loanColumns, "l.") + `
		FROM loans l
		WHERE l.status = 'approved'
		  AND EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.loan_id = l.id AND t.type = 'disbursement' AND t.status = 'failed'
		  )
		ORDER BY l.approved_date
	`
	if err := r.db.SelectContext(ctx, &loans, query); err != nil {
		return nil, err
	}
	return loans, nil
}

func prefixColumns(columns, prefix string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}
