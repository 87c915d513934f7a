package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/domain"
	"github.com/umoja-loans/loan-engine/internal/gateway"
	"github.com/umoja-loans/loan-engine/internal/repository"
	"github.com/umoja-loans/loan-engine/internal/service"
)

// Confirmer hands a reconciled payment to the repayment workflow.
type Confirmer interface {
	QueueRepaymentConfirmation(input service.RepaymentInput) bool
}

// Reconciler consumes asynchronous payment-result notifications from the
// gateway and reconciles them against in-flight transactions. Notifications
// are delivered at least once and may reference push payments this system
// never initiated; both cases must resolve to a safe no-op.
type Reconciler struct {
	store         repository.Store
	users         repository.UserRepository
	loans         repository.LoanRepository
	txns          repository.TransactionRepository
	confirmer     Confirmer
	countryPrefix string
	log           *logrus.Logger
}

func NewReconciler(
	store repository.Store,
	users repository.UserRepository,
	loans repository.LoanRepository,
	txns repository.TransactionRepository,
	confirmer Confirmer,
	countryPrefix string,
	log *logrus.Logger,
) *Reconciler {
	return &Reconciler{
		store:         store,
		users:         users,
		loans:         loans,
		txns:          txns,
		confirmer:     confirmer,
		countryPrefix: countryPrefix,
		log:           log,
	}
}

// HandleCallback processes one gateway notification. Errors are internal
// only: the HTTP boundary acknowledges success to the gateway regardless, so
// a replayed or unrecoverable callback never turns into a retry storm.
func (r *Reconciler) HandleCallback(ctx context.Context, envelope *gateway.CallbackEnvelope) error {
	cb := envelope.Body.StkCallback
	log := r.log.WithField("checkout_request_id", cb.CheckoutRequestID)

	if cb.CheckoutRequestID == "" {
		log.Warn("callback without checkout request id, ignoring")
		return nil
	}

	txn, err := r.txns.GetByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if repository.IsNotFound(err) {
			// Stale or forged: this system never initiated that push.
			log.Warn("callback references unknown push payment, ignoring")
			return nil
		}
		return err
	}

	if txn.Status != domain.TransactionStatusPending {
		log.Info("transaction already reconciled, ignoring replay")
		return nil
	}

	if !cb.Succeeded() {
		return r.markFailed(ctx, cb.CheckoutRequestID, cb.ResultDesc)
	}

	amount, receipt, phone, err := cb.PaymentDetails()
	if err != nil {
		log.Warnf("malformed success callback: %v", err)
		return nil
	}

	user, err := r.resolveUserByPhone(ctx, phone)
	if err != nil {
		log.Warnf("no user for payer phone, ignoring payment: %v", err)
		return nil
	}

	loan, err := r.disbursedLoan(ctx, user.ID)
	if err != nil {
		// Defensive: never invent a repayment target.
		log.WithField("user_id", user.ID).Warn("payer has no disbursed loan, ignoring payment")
		return nil
	}

	r.confirmer.QueueRepaymentConfirmation(service.RepaymentInput{
		LoanID:            loan.ID,
		Amount:            decimal.NewFromFloat(amount),
		MpesaReceipt:      receipt,
		PayerPhone:        phone,
		CheckoutRequestID: cb.CheckoutRequestID,
	})

	log.WithField("receipt", receipt).Info("queued repayment confirmation")
	return nil
}

// markFailed flips the pending transaction to failed with the gateway's
// reason. No ledger action: no money moved.
func (r *Reconciler) markFailed(ctx context.Context, checkoutRequestID, reason string) error {
	return r.store.WithinTx(ctx, func(tx repository.Tx) error {
		txn, err := tx.TransactionByCheckoutID(ctx, checkoutRequestID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return err
		}
		if txn.Status != domain.TransactionStatusPending {
			return nil
		}

		now := time.Now().UTC()
		txn.Status = domain.TransactionStatusFailed
		txn.ErrorMessage = &reason
		txn.CompletedAt = &now
		return tx.UpdateTransaction(ctx, txn)
	})
}

// resolveUserByPhone looks the payer up by the callback phone number, also
// trying the local "0" form since users register with whichever format the
// telco forwarded.
func (r *Reconciler) resolveUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	user, err := r.users.GetByPhone(ctx, phone)
	if err == nil {
		return user, nil
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}

	if strings.HasPrefix(phone, r.countryPrefix) {
		local := "0" + strings.TrimPrefix(phone, r.countryPrefix)
		return r.users.GetByPhone(ctx, local)
	}
	return nil, err
}

func (r *Reconciler) disbursedLoan(ctx context.Context, userID uuid.UUID) (*domain.Loan, error) {
	loans, err := r.loans.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, loan := range loans {
		if loan.Status == domain.LoanStatusDisbursed {
			return loan, nil
		}
	}
	return nil, repository.ErrNoDisbursedLoan
}
