package ledger

import "errors"

// Validation errors surfaced to callers. None of them leaves a loan
// partially mutated: a failed payment commits nothing.
var (
	ErrInvalidAmount                        = errors.New("payment amount must be positive")
	ErrDistributionMismatch                 = errors.New("distribution does not sum to payment amount")
	ErrDistributionExceedsBalance           = errors.New("distribution exceeds outstanding balance")
	ErrLoanNotPayable                       = errors.New("loan does not accept payments")
	ErrInsufficientAmountForFullInstallment = errors.New("amount does not cover a full installment")
	ErrNoPenaltyOutstanding                 = errors.New("no penalty outstanding")
	ErrOverpaymentNotSupported              = errors.New("payment exceeds allocatable balance")
	ErrInsufficientCollateralValue          = errors.New("insufficient collateral value")
	ErrUnknownStrategy                      = errors.New("unknown payment strategy")
)
