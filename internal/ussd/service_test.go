package ussd

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umoja-loans/loan-engine/internal/domain"
	"github.com/umoja-loans/loan-engine/internal/gateway"
	"github.com/umoja-loans/loan-engine/internal/repository"
	"github.com/umoja-loans/loan-engine/pkg/apperrors"
)

type fakeLoanAPI struct {
	user *domain.User

	applyReq  *domain.ApplyLoanRequest
	applyLoan *domain.Loan
	applyErr  error

	userLoans []*domain.Loan

	pushResult *gateway.PushResult
	pushErr    error
}

func (f *fakeLoanAPI) RegisterUser(_ context.Context, req *domain.RegisterUserRequest) (*domain.UserResponse, error) {
	return &domain.UserResponse{User: f.user, Wallet: &domain.Wallet{}}, nil
}

func (f *fakeLoanAPI) Apply(_ context.Context, req *domain.ApplyLoanRequest) (*domain.Loan, error) {
	f.applyReq = req
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return f.applyLoan, nil
}

func (f *fakeLoanAPI) UserLoans(_ context.Context, userID uuid.UUID) ([]*domain.Loan, error) {
	return f.userLoans, nil
}

func (f *fakeLoanAPI) InitiateRepayment(_ context.Context, userID uuid.UUID) (*gateway.PushResult, error) {
	return f.pushResult, f.pushErr
}

type fakeHistory struct {
	repository.TransactionRepository
	txns []*domain.Transaction
}

func (f *fakeHistory) RecentByUser(_ context.Context, userID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	if len(f.txns) > limit {
		return f.txns[:limit], nil
	}
	return f.txns, nil
}

type nopNotifier struct{ messages []string }

func (n *nopNotifier) SendSMS(_ context.Context, phoneNumber, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func newTestSession(t *testing.T) (*Service, *fakeLoanAPI, *fakeHistory, *nopNotifier) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	api := &fakeLoanAPI{
		user: &domain.User{ID: uuid.New(), PhoneNumber: "0712345678"},
	}
	history := &fakeHistory{}
	notifier := &nopNotifier{}
	return NewService(api, history, notifier, log), api, history, notifier
}

func process(t *testing.T, svc *Service, text string) Reply {
	t.Helper()
	reply, err := svc.Process(context.Background(), "sess-1", "*384#", "0712345678", text)
	require.NoError(t, err)
	return reply
}

func TestWelcomeScreen(t *testing.T) {
	svc, _, _, _ := newTestSession(t)

	reply := process(t, svc, "")
	assert.False(t, reply.Terminal)
	assert.Contains(t, reply.Message, "Welcome to Umoja Loans")
	assert.Contains(t, reply.Message, "1. Apply for Loan")
	assert.Contains(t, reply.Message, "2. Check Loan Status")
	assert.Contains(t, reply.Message, "3. Repay Loan")
	assert.Contains(t, reply.Message, "4. Transaction History")
}

func TestApplyFlowPrompts(t *testing.T) {
	svc, _, _, _ := newTestSession(t)

	reply := process(t, svc, "1")
	assert.False(t, reply.Terminal)
	assert.Equal(t, "Enter loan amount (KES):", reply.Message)

	reply = process(t, svc, "1*5000")
	assert.False(t, reply.Terminal)
	assert.Contains(t, reply.Message, "Select loan purpose:")
	assert.Contains(t, reply.Message, "2. Business")
}

func TestApplyFlowCompletes(t *testing.T) {
	svc, api, _, notifier := newTestSession(t)
	api.applyLoan = &domain.Loan{
		ID:     uuid.MustParse("a1b2c3d4-0000-0000-0000-000000000000"),
		Amount: decimal.NewFromInt(5000),
		Status: domain.LoanStatusPending,
	}

	reply := process(t, svc, "1*5000*2")
	assert.True(t, reply.Terminal)
	assert.Contains(t, reply.Message, "Loan application received!")
	assert.Contains(t, reply.Message, "KES 5000")
	assert.Contains(t, reply.Message, "Business")
	assert.Contains(t, reply.Message, "Ref: a1b2c3d4")

	require.NotNil(t, api.applyReq)
	assert.Equal(t, api.user.ID, api.applyReq.UserID)
	assert.True(t, api.applyReq.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "Business", api.applyReq.Purpose)
	assert.Equal(t, 30, api.applyReq.TermDays)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "Ref: a1b2c3d4")
}

func TestApplyFlowIneligible(t *testing.T) {
	svc, api, _, _ := newTestSession(t)
	api.applyErr = apperrors.Ineligible("You have an active loan")

	reply := process(t, svc, "1*5000*1")
	assert.True(t, reply.Terminal)
	assert.Equal(t, "Application failed: You have an active loan", reply.Message)
}

func TestApplyFlowInvalidAmount(t *testing.T) {
	svc, _, _, _ := newTestSession(t)

	reply := process(t, svc, "1*abc")
	assert.True(t, reply.Terminal)
	assert.Equal(t, "Invalid amount entered. Please try again.", reply.Message)

	reply = process(t, svc, "1*0")
	assert.True(t, reply.Terminal)
	assert.Equal(t, "Invalid amount entered. Please try again.", reply.Message)
}

func TestSamePathSameScreen(t *testing.T) {
	svc, _, _, _ := newTestSession(t)

	first := process(t, svc, "1*5000")
	second := process(t, svc, "1*5000")
	assert.Equal(t, first, second, "identical paths reproduce the same prompt")
}

func TestInvalidMenuOption(t *testing.T) {
	svc, _, _, _ := newTestSession(t)

	reply := process(t, svc, "9")
	assert.True(t, reply.Terminal)
	assert.Equal(t, "Invalid option. Please try again.", reply.Message)
}

func TestLoanStatus(t *testing.T) {
	svc, api, _, _ := newTestSession(t)

	reply := process(t, svc, "2")
	assert.True(t, reply.Terminal)
	assert.Equal(t, "No loan applications found.", reply.Message)

	api.userLoans = []*domain.Loan{{
		Amount:          decimal.NewFromInt(5000),
		Status:          domain.LoanStatusDisbursed,
		ApplicationDate: time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
	}}

	reply = process(t, svc, "2")
	assert.True(t, reply.Terminal)
	assert.Contains(t, reply.Message, "KES 5000")
	assert.Contains(t, reply.Message, "disbursed")
	assert.Contains(t, reply.Message, "15/08/2026")
}

func TestRepayPushesPayment(t *testing.T) {
	svc, api, _, _ := newTestSession(t)
	api.pushResult = &gateway.PushResult{Success: true, CheckoutRequestID: "ws_CO_1"}

	reply := process(t, svc, "3")
	assert.True(t, reply.Terminal)
	assert.Contains(t, reply.Message, "Payment request sent to your phone")
}

func TestRepayWithoutActiveLoan(t *testing.T) {
	svc, api, _, _ := newTestSession(t)
	api.pushErr = apperrors.NotFound("disbursed loan for user", "x")

	reply := process(t, svc, "3")
	assert.True(t, reply.Terminal)
	assert.Equal(t, "You have no active loan to repay.", reply.Message)
}

func TestRepayFallsBackWhenGatewayDown(t *testing.T) {
	svc, api, _, _ := newTestSession(t)
	api.pushErr = apperrors.Gateway("Service temporarily unavailable", nil)

	reply := process(t, svc, "3")
	assert.True(t, reply.Terminal)
	assert.Contains(t, reply.Message, "Paybill")
}

func TestTransactionHistory(t *testing.T) {
	svc, _, history, _ := newTestSession(t)

	reply := process(t, svc, "4")
	assert.True(t, reply.Terminal)
	assert.Equal(t, "No transactions found.", reply.Message)

	history.txns = []*domain.Transaction{
		{Type: domain.TransactionTypeDisbursement, Amount: decimal.NewFromInt(5000), Status: domain.TransactionStatusCompleted},
		{Type: domain.TransactionTypeRepayment, Amount: decimal.NewFromInt(2000), Status: domain.TransactionStatusCompleted},
	}

	reply = process(t, svc, "4")
	assert.True(t, reply.Terminal)
	assert.Contains(t, reply.Message, "Recent Transactions:")
	assert.Contains(t, reply.Message, "disbursement KES 5000 (completed)")
	assert.Contains(t, reply.Message, "repayment KES 2000 (completed)")
}
