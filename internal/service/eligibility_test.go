package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/umoja-loans/loan-engine/internal/domain"
)

func TestEvaluateEligibility(t *testing.T) {
	user := &domain.User{CreditScore: 500}
	wallet := &domain.Wallet{CurrentLoanLimit: decimal.NewFromInt(5000)}

	tests := []struct {
		name          string
		user          *domain.User
		hasActiveLoan bool
		amount        decimal.Decimal
		eligible      bool
		reason        string
	}{
		{
			name:     "eligible",
			user:     user,
			amount:   decimal.NewFromInt(1000),
			eligible: true,
		},
		{
			name:   "zero amount",
			user:   user,
			amount: decimal.Zero,
			reason: ReasonInvalidAmount,
		},
		{
			name:   "negative amount",
			user:   user,
			amount: decimal.NewFromInt(-50),
			reason: ReasonInvalidAmount,
		},
		{
			name:   "over current limit",
			user:   user,
			amount: decimal.NewFromInt(5001),
			reason: ReasonExceedsLimit,
		},
		{
			name:     "at the limit is allowed",
			user:     user,
			amount:   decimal.NewFromInt(5000),
			eligible: true,
		},
		{
			name:   "score below floor",
			user:   &domain.User{CreditScore: domain.MinCreditScore - 1},
			amount: decimal.NewFromInt(1000),
			reason: ReasonLowScore,
		},
		{
			name:          "active loan",
			user:          user,
			hasActiveLoan: true,
			amount:        decimal.NewFromInt(1000),
			reason:        ReasonActiveLoan,
		},
		{
			// Rules apply in order: the limit check fires before the
			// active-loan check.
			name:          "over limit with active loan",
			user:          user,
			hasActiveLoan: true,
			amount:        decimal.NewFromInt(9000),
			reason:        ReasonExceedsLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EvaluateEligibility(tt.user, wallet, tt.hasActiveLoan, tt.amount)
			assert.Equal(t, tt.eligible, result.Eligible)
			assert.Equal(t, tt.reason, result.Reason)
			if tt.eligible {
				assert.True(t, result.MaxAmount.Equal(wallet.CurrentLoanLimit))
			}
		})
	}
}
