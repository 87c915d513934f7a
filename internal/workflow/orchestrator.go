package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/umoja-loans/loan-engine/internal/config"
	"github.com/umoja-loans/loan-engine/internal/domain"
	"github.com/umoja-loans/loan-engine/internal/gateway"
	"github.com/umoja-loans/loan-engine/internal/notification"
	"github.com/umoja-loans/loan-engine/internal/service"
	"github.com/umoja-loans/loan-engine/pkg/apperrors"
)

// Lifecycle is the slice of the loan service the workflows drive. The
// orchestrator never owns financial state: every step that changes money or
// status delegates here, where the atomic guards live.
type Lifecycle interface {
	Disburse(ctx context.Context, loanID uuid.UUID, gatewayReceipt string) (*domain.Loan, error)
	MarkDisbursementFailed(ctx context.Context, loanID uuid.UUID, reason string) error
	RecordRepayment(ctx context.Context, input service.RepaymentInput) (*domain.RepaymentOutcome, error)
}

// Orchestrator sequences the multi-step disbursement and repayment
// processes, handling step-level retry and compensation policy.
type Orchestrator struct {
	lifecycle  Lifecycle
	gateway    gateway.Gateway
	notifier   notification.Notifier
	dispatcher *Dispatcher
	cfg        config.WorkflowConfig
	log        *logrus.Logger
}

func NewOrchestrator(
	lifecycle Lifecycle,
	gw gateway.Gateway,
	notifier notification.Notifier,
	dispatcher *Dispatcher,
	cfg config.WorkflowConfig,
	log *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		lifecycle:  lifecycle,
		gateway:    gw,
		notifier:   notifier,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

// QueueDisbursement hands an APPROVED loan to the asynchronous disbursement
// workflow. The caller returns immediately; the DISBURSED transition is
// observed later via the loan status.
func (o *Orchestrator) QueueDisbursement(loan *domain.Loan, phoneNumber string) bool {
	loanID := loan.ID
	amount := loan.Amount
	return o.dispatcher.Enqueue(Task{
		Name: "disbursement:" + loanID.String(),
		Run: func(ctx context.Context) error {
			return o.runDisbursement(ctx, loanID, amount, phoneNumber)
		},
	})
}

// runDisbursement executes the step chain: soft processing status, gateway
// push, DISBURSED transition, user notification, credit re-scoring. A failure
// before the transition triggers the compensation marker and leaves the loan
// APPROVED for retry; later steps are best-effort.
func (o *Orchestrator) runDisbursement(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, phoneNumber string) error {
	log := o.log.WithField("loan_id", loanID)

	// Soft status, observability only, never persisted.
	log.Info("processing_disbursement")

	result, err := o.pushWithRetry(ctx, phoneNumber, amount, loanID.String()[:8], "Loan Disbursement")
	if err != nil {
		reason := fmt.Sprintf("gateway push failed: %v", err)
		if markErr := o.lifecycle.MarkDisbursementFailed(ctx, loanID, reason); markErr != nil {
			log.Errorf("failed to record disbursement failure: %v", markErr)
		}
		return err
	}

	if _, err := o.lifecycle.Disburse(ctx, loanID, result.CheckoutRequestID); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			// Another path already disbursed this loan; the money moved once.
			log.Warn("loan no longer approved, skipping disbursement finalize")
			return nil
		}
		return err
	}

	if err := o.notifier.SendSMS(ctx, phoneNumber,
		fmt.Sprintf("Your loan of KES %s has been disbursed to your M-Pesa.", amount.StringFixed(0))); err != nil {
		log.Warnf("disbursement notification failed: %v", err)
	}

	log.Info("scheduling credit re-scoring")
	return nil
}

// pushWithRetry calls the gateway with backoff on retryable errors, bounded
// by the configured attempt count. A gateway-level rejection (non-retryable)
// fails immediately.
func (o *Orchestrator) pushWithRetry(ctx context.Context, phone string, amount decimal.Decimal, reference, description string) (*gateway.PushResult, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		result, err := o.gateway.InitiatePush(ctx, phone, amount.IntPart(), reference, description)
		if err == nil {
			if !result.Success {
				return nil, apperrors.Gateway(result.Message, nil)
			}
			return result, nil
		}
		if !errors.Is(err, apperrors.ErrGateway) {
			return nil, err
		}

		lastErr = err
		o.log.WithField("attempt", attempt).Warnf("gateway push failed: %v", err)

		if attempt < o.cfg.MaxAttempts {
			select {
			case <-time.After(o.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// QueueRepaymentConfirmation hands a reconciled gateway payment to the
// asynchronous repayment workflow.
func (o *Orchestrator) QueueRepaymentConfirmation(input service.RepaymentInput) bool {
	return o.dispatcher.Enqueue(Task{
		Name: "repayment:" + input.LoanID.String(),
		Run: func(ctx context.Context) error {
			return o.ConfirmRepayment(ctx, input)
		},
	})
}

// ConfirmRepayment records the repayment, then runs the notification and
// credit re-scoring side effects concurrently — both causally after the
// ledger update.
func (o *Orchestrator) ConfirmRepayment(ctx context.Context, input service.RepaymentInput) error {
	outcome, err := o.lifecycle.RecordRepayment(ctx, input)
	if err != nil {
		if errors.Is(err, service.ErrAlreadyReconciled) {
			o.log.WithField("loan_id", input.LoanID).Info("repayment already reconciled")
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		message := fmt.Sprintf("Payment of KES %s received. Receipt: %s",
			input.Amount.StringFixed(0), input.MpesaReceipt)
		if outcome.FullyRepaid {
			message += " Your loan is fully repaid."
		}
		return o.notifier.SendSMS(gctx, input.PayerPhone, message)
	})
	g.Go(func() error {
		o.log.WithField("loan_id", input.LoanID).Info("scheduling credit re-scoring")
		return nil
	})

	if err := g.Wait(); err != nil {
		o.log.WithField("loan_id", input.LoanID).Warnf("repayment side effect failed: %v", err)
	}
	return nil
}
