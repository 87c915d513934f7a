package service

import (
	"github.com/shopspring/decimal"

	"github.com/umoja-loans/loan-engine/internal/domain"
)

// Eligibility reason strings. These are surfaced verbatim on the USSD screen
// and in API responses, so the wording is part of the contract.
const (
	ReasonInvalidAmount = "Invalid loan amount"
	ReasonExceedsLimit  = "Amount exceeds loan limit"
	ReasonLowScore      = "Low credit score"
	ReasonActiveLoan    = "You have an active loan"
)

// EvaluateEligibility is a pure decision over a user/wallet snapshot and a
// requested amount. Rules apply in order; the first failing reason wins.
func EvaluateEligibility(user *domain.User, wallet *domain.Wallet, hasActiveLoan bool, amount decimal.Decimal) domain.Eligibility {
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.Eligibility{Eligible: false, Reason: ReasonInvalidAmount}
	}

	if amount.GreaterThan(wallet.CurrentLoanLimit) {
		return domain.Eligibility{Eligible: false, Reason: ReasonExceedsLimit}
	}

	if user.CreditScore < domain.MinCreditScore {
		return domain.Eligibility{Eligible: false, Reason: ReasonLowScore}
	}

	if hasActiveLoan {
		return domain.Eligibility{Eligible: false, Reason: ReasonActiveLoan}
	}

	return domain.Eligibility{Eligible: true, MaxAmount: wallet.CurrentLoanLimit}
}
