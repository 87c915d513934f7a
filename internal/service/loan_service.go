package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/config"
	"github.com/umoja-loans/loan-engine/internal/domain"
	"github.com/umoja-loans/loan-engine/internal/gateway"
	"github.com/umoja-loans/loan-engine/internal/repository"
	"github.com/umoja-loans/loan-engine/pkg/apperrors"
	"github.com/umoja-loans/loan-engine/pkg/utils"
)

// ErrAlreadyReconciled signals that a repayment referenced a transaction
// that already left the pending state. Callers treat it as a no-op.
var ErrAlreadyReconciled = errors.New("transaction already reconciled")

// LoanService owns the loan state machine and the wallet ledger. Every
// balance-affecting transition runs inside a single Store.WithinTx unit:
// status read, validation and ledger writes apply together or not at all.
type LoanService struct {
	store   repository.Store
	users   repository.UserRepository
	loans   repository.LoanRepository
	txns    repository.TransactionRepository
	gateway gateway.Gateway
	cfg     *config.Config
	log     *logrus.Logger
}

func NewLoanService(
	store repository.Store,
	users repository.UserRepository,
	loans repository.LoanRepository,
	txns repository.TransactionRepository,
	gw gateway.Gateway,
	cfg *config.Config,
	log *logrus.Logger,
) *LoanService {
	return &LoanService{
		store:   store,
		users:   users,
		loans:   loans,
		txns:    txns,
		gateway: gw,
		cfg:     cfg,
		log:     log,
	}
}

// RegisterUser returns the user for a phone number, creating the user and
// wallet together on first contact.
func (s *LoanService) RegisterUser(ctx context.Context, req *domain.RegisterUserRequest) (*domain.UserResponse, error) {
	existing, err := s.users.GetByPhone(ctx, req.PhoneNumber)
	if err == nil {
		wallet, werr := s.users.GetWallet(ctx, existing.ID)
		if werr != nil {
			return nil, apperrors.System(werr)
		}
		return &domain.UserResponse{User: existing, Wallet: wallet}, nil
	}
	if !repository.IsNotFound(err) {
		return nil, apperrors.System(err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:          uuid.New(),
		PhoneNumber: req.PhoneNumber,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		CreditScore: domain.MinCreditScore,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	wallet := &domain.Wallet{
		ID:               uuid.New(),
		UserID:           user.ID,
		AvailableBalance: decimal.Zero,
		LoanBalance:      decimal.Zero,
		TotalLoanLimit:   s.cfg.TotalLoanLimit(),
		CurrentLoanLimit: s.cfg.InitialLoanLimit(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		return tx.InsertWallet(ctx, wallet)
	})
	if err != nil {
		return nil, apperrors.System(err)
	}

	s.log.WithField("phone", user.PhoneNumber).Info("registered new user")
	return &domain.UserResponse{User: user, Wallet: wallet}, nil
}

// Apply creates a PENDING loan after the eligibility check. The wallet row
// lock serializes concurrent applications by one user, so the
// single-active-loan rule cannot be raced.
func (s *LoanService) Apply(ctx context.Context, req *domain.ApplyLoanRequest) (*domain.Loan, error) {
	var loan *domain.Loan

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		user, err := tx.GetUser(ctx, req.UserID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NotFound("user", req.UserID.String())
			}
			return err
		}

		wallet, err := tx.WalletForUpdate(ctx, req.UserID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NotFound("wallet", req.UserID.String())
			}
			return err
		}

		active, err := tx.CountActiveLoans(ctx, req.UserID)
		if err != nil {
			return err
		}

		eligibility := EvaluateEligibility(user, wallet, active > 0, req.Amount)
		if !eligibility.Eligible {
			return apperrors.Ineligible(eligibility.Reason)
		}

		rate := s.cfg.InterestRate()
		now := time.Now().UTC()
		loan = &domain.Loan{
			ID:              uuid.New(),
			UserID:          req.UserID,
			Amount:          req.Amount,
			TermDays:        req.TermDays,
			InterestRate:    rate,
			AmountDue:       req.Amount.Add(req.Amount.Mul(rate)),
			Purpose:         req.Purpose,
			Status:          domain.LoanStatusPending,
			ApplicationDate: now,
			DueDate:         now.AddDate(0, 0, req.TermDays),
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return err
		}

		txn := &domain.Transaction{
			ID:          uuid.New(),
			UserID:      req.UserID,
			LoanID:      &loan.ID,
			Type:        domain.TransactionTypeApplication,
			Amount:      req.Amount,
			Status:      domain.TransactionStatusPending,
			Description: fmt.Sprintf("Loan application for %s (%s)", req.Amount.StringFixed(2), req.Purpose),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, wrapServiceErr(err)
	}

	s.log.WithFields(logrus.Fields{
		"loan_id": loan.ID,
		"user_id": loan.UserID,
		"amount":  loan.Amount,
	}).Info("created loan application")
	return loan, nil
}

// Approve moves a PENDING loan to APPROVED. Re-invocation on a non-PENDING
// loan fails with an invalid-transition error.
func (s *LoanService) Approve(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	var loan *domain.Loan

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NotFound("loan", loanID.String())
			}
			return err
		}

		if loan.Status != domain.LoanStatusPending {
			return apperrors.InvalidTransition(loan.Status, domain.LoanStatusApproved)
		}

		now := time.Now().UTC()
		loan.Status = domain.LoanStatusApproved
		loan.ApprovedDate = &now
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, wrapServiceErr(err)
	}

	s.log.WithField("loan_id", loan.ID).Info("approved loan")
	return loan, nil
}

// Reject moves a PENDING loan to the terminal REJECTED status.
func (s *LoanService) Reject(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	var loan *domain.Loan

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NotFound("loan", loanID.String())
			}
			return err
		}

		if loan.Status != domain.LoanStatusPending {
			return apperrors.InvalidTransition(loan.Status, domain.LoanStatusRejected)
		}

		loan.Status = domain.LoanStatusRejected
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, wrapServiceErr(err)
	}

	s.log.WithField("loan_id", loan.ID).Info("rejected loan")
	return loan, nil
}

// Disburse moves an APPROVED loan to DISBURSED and applies the wallet
// mutation in the same atomic unit. The status guard inside the transaction
// is the sole safeguard against double disbursement: a second concurrent
// attempt blocks on the row lock, then sees a non-APPROVED status and fails
// without touching the wallet.
func (s *LoanService) Disburse(ctx context.Context, loanID uuid.UUID, gatewayReceipt string) (*domain.Loan, error) {
	var loan *domain.Loan

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NotFound("loan", loanID.String())
			}
			return err
		}

		if loan.Status != domain.LoanStatusApproved {
			return apperrors.InvalidTransition(loan.Status, domain.LoanStatusDisbursed)
		}

		wallet, err := tx.WalletForUpdate(ctx, loan.UserID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		loan.Status = domain.LoanStatusDisbursed
		loan.DisbursedDate = &now
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		wallet.AvailableBalance = wallet.AvailableBalance.Add(loan.Amount)
		wallet.LoanBalance = wallet.LoanBalance.Add(loan.AmountDue)
		wallet.CurrentLoanLimit = wallet.CurrentLoanLimit.Sub(loan.Amount)
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return err
		}

		txn := &domain.Transaction{
			ID:          uuid.New(),
			UserID:      loan.UserID,
			LoanID:      &loan.ID,
			Type:        domain.TransactionTypeDisbursement,
			Amount:      loan.Amount,
			Status:      domain.TransactionStatusCompleted,
			Description: fmt.Sprintf("Disbursement of %s", loan.Amount.StringFixed(2)),
			CreatedAt:   now,
			UpdatedAt:   now,
			CompletedAt: &now,
		}
		if gatewayReceipt != "" {
			txn.MpesaReceipt = &gatewayReceipt
		}
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, wrapServiceErr(err)
	}

	s.log.WithFields(logrus.Fields{
		"loan_id": loan.ID,
		"amount":  loan.Amount,
	}).Info("disbursed loan")
	return loan, nil
}

// MarkDisbursementFailed records the failed-disbursement marker so the
// scheduler can retry later. The loan stays APPROVED; no money moved.
func (s *LoanService) MarkDisbursementFailed(ctx context.Context, loanID uuid.UUID, reason string) error {
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		loan, err := tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NotFound("loan", loanID.String())
			}
			return err
		}

		if loan.Status != domain.LoanStatusApproved {
			// Disbursement already landed or the loan moved on; nothing to mark.
			return nil
		}

		now := time.Now().UTC()
		txn := &domain.Transaction{
			ID:           uuid.New(),
			UserID:       loan.UserID,
			LoanID:       &loan.ID,
			Type:         domain.TransactionTypeDisbursement,
			Amount:       loan.Amount,
			Status:       domain.TransactionStatusFailed,
			Description:  "Disbursement failed",
			ErrorMessage: &reason,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.InsertTransaction(ctx, txn)
	})
	return wrapServiceErr(err)
}

// RepaymentInput describes one repayment to record. CheckoutRequestID is set
// when the repayment resolves a previously initiated push payment.
type RepaymentInput struct {
	LoanID            uuid.UUID
	Amount            decimal.Decimal
	MpesaReceipt      string
	PayerPhone        string
	CheckoutRequestID string
}

// RecordRepayment applies a repayment to a DISBURSED loan. On full
// repayment the loan closes, the wallet loan balance is zeroed, the full
// original principal's limit is restored and the credit score is bumped
// (bounded at the maximum). A partial repayment only decrements the amounts.
func (s *LoanService) RecordRepayment(ctx context.Context, input RepaymentInput) (*domain.RepaymentOutcome, error) {
	var outcome *domain.RepaymentOutcome

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		// Resolve the pending push-payment row first: once it has left
		// pending, this payment was already applied and the whole unit
		// becomes a no-op.
		var pending *domain.Transaction
		if input.CheckoutRequestID != "" {
			existing, err := tx.TransactionByCheckoutID(ctx, input.CheckoutRequestID)
			if err != nil && !repository.IsNotFound(err) {
				return err
			}
			if existing != nil {
				if existing.Status != domain.TransactionStatusPending {
					return ErrAlreadyReconciled
				}
				pending = existing
			}
		}

		loan, err := tx.LoanForUpdate(ctx, input.LoanID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NotFound("loan", input.LoanID.String())
			}
			return err
		}

		if loan.Status != domain.LoanStatusDisbursed {
			return apperrors.InvalidTransition(loan.Status, domain.LoanStatusRepaid)
		}

		wallet, err := tx.WalletForUpdate(ctx, loan.UserID)
		if err != nil {
			return err
		}

		remaining := loan.AmountDue.Sub(input.Amount)
		fullyRepaid := remaining.LessThanOrEqual(decimal.Zero)

		if fullyRepaid {
			loan.Status = domain.LoanStatusRepaid
			loan.AmountDue = decimal.Zero
			// Zeroed, not decremented: correct only while a user can hold a
			// single active loan, since overpayment is not tracked as credit.
			wallet.LoanBalance = decimal.Zero
			wallet.CurrentLoanLimit = wallet.CurrentLoanLimit.Add(loan.Amount)
			remaining = decimal.Zero
		} else {
			loan.AmountDue = remaining
			wallet.LoanBalance = wallet.LoanBalance.Sub(input.Amount)
		}

		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return err
		}

		if fullyRepaid {
			user, err := tx.GetUser(ctx, loan.UserID)
			if err != nil {
				return err
			}
			score := user.CreditScore + s.cfg.Business.RepaymentBonus
			if score > domain.MaxCreditScore {
				score = domain.MaxCreditScore
			}
			if err := tx.UpdateUserCreditScore(ctx, loan.UserID, score); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if pending != nil {
			pending.Amount = input.Amount
			pending.MpesaReceipt = &input.MpesaReceipt
			pending.Status = domain.TransactionStatusCompleted
			pending.CompletedAt = &now
			if err := tx.UpdateTransaction(ctx, pending); err != nil {
				return err
			}
		} else {
			txn := &domain.Transaction{
				ID:          uuid.New(),
				UserID:      loan.UserID,
				LoanID:      &loan.ID,
				Type:        domain.TransactionTypeRepayment,
				Amount:      input.Amount,
				Status:      domain.TransactionStatusCompleted,
				Description: fmt.Sprintf("Repayment of %s", input.Amount.StringFixed(2)),
				CreatedAt:   now,
				UpdatedAt:   now,
				CompletedAt: &now,
			}
			if input.MpesaReceipt != "" {
				txn.MpesaReceipt = &input.MpesaReceipt
			}
			if input.PayerPhone != "" {
				txn.MpesaPhone = &input.PayerPhone
			}
			if err := tx.InsertTransaction(ctx, txn); err != nil {
				return err
			}
		}

		outcome = &domain.RepaymentOutcome{
			Loan:        loan,
			FullyRepaid: fullyRepaid,
			Remaining:   remaining,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyReconciled) {
			return nil, err
		}
		return nil, wrapServiceErr(err)
	}

	s.log.WithFields(logrus.Fields{
		"loan_id":      outcome.Loan.ID,
		"amount":       input.Amount,
		"fully_repaid": outcome.FullyRepaid,
	}).Info("recorded repayment")
	return outcome, nil
}

// DisbursedLoanForUser returns the user's DISBURSED loan, if any.
func (s *LoanService) DisbursedLoanForUser(ctx context.Context, userID uuid.UUID) (*domain.Loan, error) {
	loans, err := s.loans.GetByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	for _, loan := range loans {
		if loan.Status == domain.LoanStatusDisbursed {
			return loan, nil
		}
	}
	return nil, apperrors.NotFound("disbursed loan for user", userID.String())
}

// InitiateRepayment pushes a payment request for the outstanding amount to
// the user's phone and records the pending repayment transaction carrying
// the checkout request id for later reconciliation.
func (s *LoanService) InitiateRepayment(ctx context.Context, userID uuid.UUID) (*gateway.PushResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NotFound("user", userID.String())
		}
		return nil, apperrors.System(err)
	}

	loan, err := s.DisbursedLoanForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	amount := loan.AmountDue.IntPart()
	reference := loan.ID.String()[:8]
	result, err := s.gateway.InitiatePush(ctx, user.PhoneNumber, amount, reference, "Loan Repayment")
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	phone := utils.NormalizePhone(user.PhoneNumber, s.cfg.Mpesa.CountryPrefix)
	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:                uuid.New(),
		UserID:            userID,
		LoanID:            &loan.ID,
		Type:              domain.TransactionTypeRepayment,
		Amount:            loan.AmountDue,
		MpesaPhone:        &phone,
		CheckoutRequestID: &result.CheckoutRequestID,
		Status:            domain.TransactionStatusPending,
		Description:       fmt.Sprintf("Repayment push for loan %s", reference),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, apperrors.System(err)
	}

	return result, nil
}

// MarkDefaulted sweeps DISBURSED loans past their due date into DEFAULTED.
// Wallet balances are untouched: the default is a status label, recovery is
// an external action. Returns the number of loans marked.
func (s *LoanService) MarkDefaulted(ctx context.Context, now time.Time) (int, error) {
	due, err := s.loans.DueForDefault(ctx, now)
	if err != nil {
		return 0, apperrors.System(err)
	}

	marked := 0
	for _, candidate := range due {
		err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
			loan, err := tx.LoanForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// Re-check under the lock; a repayment may have closed it since.
			if loan.Status != domain.LoanStatusDisbursed || !loan.DueDate.Before(now) {
				return nil
			}
			loan.Status = domain.LoanStatusDefaulted
			if err := tx.UpdateLoan(ctx, loan); err != nil {
				return err
			}
			marked++
			return nil
		})
		if err != nil {
			s.log.WithField("loan_id", candidate.ID).Errorf("failed to mark default: %v", err)
		}
	}

	return marked, nil
}

// UserLoans returns all loans for a user, newest application first.
func (s *LoanService) UserLoans(ctx context.Context, userID uuid.UUID) ([]*domain.Loan, error) {
	loans, err := s.loans.GetByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	return loans, nil
}

// ListLoans returns the filtered, sorted, paginated admin listing.
func (s *LoanService) ListLoans(ctx context.Context, filter domain.LoanFilter) (*domain.LoanListResponse, error) {
	var maxPage = s.cfg.Business.MaxPageSize
	filter.Page, filter.Limit, _ = utils.PageBounds(filter.Page, filter.Limit, maxPage)

	loans, total, err := s.loans.List(ctx, filter)
	if err != nil {
		return nil, apperrors.System(err)
	}

	return &domain.LoanListResponse{
		Data: loans,
		Pagination: domain.Pagination{
			Page:       filter.Page,
			Limit:      filter.Limit,
			Total:      total,
			TotalPages: utils.TotalPages(total, filter.Limit),
		},
	}, nil
}

// wrapServiceErr passes through typed application errors and wraps anything
// else as an opaque system error.
func wrapServiceErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.System(err)
}
