package ussd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/domain"
	"github.com/umoja-loans/loan-engine/internal/gateway"
	"github.com/umoja-loans/loan-engine/internal/notification"
	"github.com/umoja-loans/loan-engine/internal/repository"
	"github.com/umoja-loans/loan-engine/pkg/apperrors"
)

// LoanAPI is the slice of the loan service the session protocol drives.
type LoanAPI interface {
	RegisterUser(ctx context.Context, req *domain.RegisterUserRequest) (*domain.UserResponse, error)
	Apply(ctx context.Context, req *domain.ApplyLoanRequest) (*domain.Loan, error)
	UserLoans(ctx context.Context, userID uuid.UUID) ([]*domain.Loan, error)
	InitiateRepayment(ctx context.Context, userID uuid.UUID) (*gateway.PushResult, error)
}

// Service is the thin session-protocol adapter. A session is stateless
// between requests: every request re-parses the full *-delimited path and
// re-derives the screen from it, so identical paths always reproduce the
// same prompt.
type Service struct {
	loans    LoanAPI
	txns     repository.TransactionRepository
	notifier notification.Notifier
	menu     *Menu
	log      *logrus.Logger
}

func NewService(loans LoanAPI, txns repository.TransactionRepository, notifier notification.Notifier, log *logrus.Logger) *Service {
	s := &Service{
		loans:    loans,
		txns:     txns,
		notifier: notifier,
		log:      log,
	}
	s.menu = s.buildMenu()
	return s
}

// Process handles one session request and returns the reply text plus
// whether the session terminates. Any unrecovered error resolves to a
// terminal, user-readable message rather than leaving the gateway waiting.
func (s *Service) Process(ctx context.Context, sessionID, serviceCode, phoneNumber, text string) (Reply, error) {
	registered, err := s.loans.RegisterUser(ctx, &domain.RegisterUserRequest{PhoneNumber: phoneNumber})
	if err != nil {
		s.log.WithField("session_id", sessionID).Errorf("user registration failed: %v", err)
		return Reply{Message: "Service temporarily unavailable. Please try again later.", Terminal: true}, nil
	}

	session := &Session{User: registered.User, Inputs: parsePath(text)}

	reply, err := s.menu.Run(ctx, session)
	if err != nil {
		s.log.WithField("session_id", sessionID).Errorf("session failed: %v", err)
		return Reply{Message: "Service temporarily unavailable. Please try again later.", Terminal: true}, nil
	}
	return reply, nil
}

func parsePath(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return strings.Split(text, "*")
}

func (s *Service) buildMenu() *Menu {
	return &Menu{
		Order: []string{"1", "2", "3", "4"},
		Flows: map[string]*Flow{
			"1": {
				Title: "Apply for Loan",
				Steps: []Step{
					{
						Prompt: func(ctx context.Context, sess *Session) (string, error) {
							return "Enter loan amount (KES):", nil
						},
						Validate: validAmount,
					},
					{
						Prompt: func(ctx context.Context, sess *Session) (string, error) {
							return "Select loan purpose:\n1. Emergency\n2. Business\n3. Education\n4. Other", nil
						},
					},
				},
				Finish: s.finishApplication,
			},
			"2": {Title: "Check Loan Status", Finish: s.loanStatus},
			"3": {Title: "Repay Loan", Finish: s.repayLoan},
			"4": {Title: "Transaction History", Finish: s.transactionHistory},
		},
	}
}

func (s *Service) finishApplication(ctx context.Context, sess *Session) (string, error) {
	amount, _ := decimal.NewFromString(sess.Inputs[1])
	purpose := purposeFor(sess.Inputs[2])

	loan, err := s.loans.Apply(ctx, &domain.ApplyLoanRequest{
		UserID:   sess.User.ID,
		Amount:   amount,
		TermDays: 30,
		Purpose:  purpose,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrIneligible) {
			return "Application failed: " + apperrors.MessageOf(err), nil
		}
		return "", err
	}

	reference := loan.ID.String()[:8]
	if err := s.notifier.SendSMS(ctx, sess.User.PhoneNumber,
		fmt.Sprintf("Loan application received for KES %s. Ref: %s. We'll notify you once processed.",
			amount.StringFixed(0), reference)); err != nil {
		s.log.Warnf("application sms failed: %v", err)
	}

	return fmt.Sprintf(
		"Loan application received!\nAmount: KES %s\nPurpose: %s\nRef: %s\nYou will receive an SMS confirmation.",
		amount.StringFixed(0), purpose, reference), nil
}

func (s *Service) loanStatus(ctx context.Context, sess *Session) (string, error) {
	loans, err := s.loans.UserLoans(ctx, sess.User.ID)
	if err != nil {
		return "", err
	}
	if len(loans) == 0 {
		return "No loan applications found.", nil
	}

	latest := loans[0]
	return fmt.Sprintf("Latest Loan:\nAmount: KES %s\nStatus: %s\nDate: %s",
		latest.Amount.StringFixed(0),
		latest.Status,
		latest.ApplicationDate.Format("02/01/2006")), nil
}

func (s *Service) repayLoan(ctx context.Context, sess *Session) (string, error) {
	result, err := s.loans.InitiateRepayment(ctx, sess.User.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "You have no active loan to repay.", nil
		}
		if errors.Is(err, apperrors.ErrGateway) {
			// Fall back to manual repayment instructions.
			return "To repay your loan:\n1. Go to M-Pesa\n2. Lipa Na M-Pesa\n3. Paybill: 123456\n4. Account: Your Phone\nWe'll confirm via SMS.", nil
		}
		return "", err
	}
	if !result.Success {
		return "Repayment request failed: " + result.Message, nil
	}
	return "Payment request sent to your phone. Enter your M-Pesa PIN to complete repayment.", nil
}

func (s *Service) transactionHistory(ctx context.Context, sess *Session) (string, error) {
	txns, err := s.txns.RecentByUser(ctx, sess.User.ID, 3)
	if err != nil {
		return "", err
	}
	if len(txns) == 0 {
		return "No transactions found.", nil
	}

	text := "Recent Transactions:"
	for _, txn := range txns {
		text += fmt.Sprintf("\n%s KES %s (%s)", txn.Type, txn.Amount.StringFixed(0), txn.Status)
	}
	return text, nil
}
