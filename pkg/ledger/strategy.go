package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/movendo/loanledger/pkg/models"
	"github.com/movendo/loanledger/pkg/money"
)

// Strategy selects how a payment is allocated against a loan's components.
// It is a closed set; allocation dispatches exhaustively over it.
type Strategy int

const (
	// AutoWaterfall walks PENALTY, INTEREST, CAPITAL, OTHER over the due
	// components, earliest installment first within each kind.
	AutoWaterfall Strategy = iota
	// FullInstallment settles whole installments in ascending order and
	// never pays an installment partially.
	FullInstallment
	// CapitalOnly reduces principal across installments, earliest first.
	CapitalOnly
	// PenaltyOnly clears outstanding penalties, earliest first.
	PenaltyOnly
)

func (s Strategy) String() string {
	switch s {
	case AutoWaterfall:
		return "AUTO_WATERFALL"
	case FullInstallment:
		return "FULL_INSTALLMENT"
	case CapitalOnly:
		return "CAPITAL_ONLY"
	case PenaltyOnly:
		return "PENALTY_ONLY"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps the wire name of a strategy to its enum value.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "AUTO_WATERFALL":
		return AutoWaterfall, nil
	case "FULL_INSTALLMENT":
		return FullInstallment, nil
	case "CAPITAL_ONLY":
		return CapitalOnly, nil
	case "PENALTY_ONLY":
		return PenaltyOnly, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Distribution is a caller-specified split of a payment by component kind.
// A nil *Distribution on a PaymentRequest means automatic allocation.
type Distribution struct {
	Penalty  decimal.Decimal `json:"penalty"`
	Interest decimal.Decimal `json:"interest"`
	Capital  decimal.Decimal `json:"capital"`
	Other    decimal.Decimal `json:"other"`
}

func (d Distribution) Total() decimal.Decimal {
	return money.Sum(d.Penalty, d.Interest, d.Capital, d.Other)
}

func (d Distribution) amountFor(kind models.ComponentKind) decimal.Decimal {
	switch kind {
	case models.KindPenalty:
		return d.Penalty
	case models.KindInterest:
		return d.Interest
	case models.KindCapital:
		return d.Capital
	case models.KindOther:
		return d.Other
	}
	return decimal.Zero
}

// PaymentRequest carries one payment into the allocation engine.
type PaymentRequest struct {
	LoanID            uuid.UUID
	Amount            decimal.Decimal
	PaymentMethodID   string
	Strategy          Strategy
	InstallmentNumber int           // FullInstallment starting point; 0 means earliest unpaid
	Distribution      *Distribution // overrides automatic allocation when set
	ReferenceDocument string
	Notes             string
	Date              time.Time // zero means now
}

// ComponentChange describes one component touched by an allocation.
type ComponentChange struct {
	ComponentID       uuid.UUID             `json:"component_id"`
	InstallmentNumber int                   `json:"installment_number"`
	Kind              models.ComponentKind  `json:"kind"`
	Applied           decimal.Decimal       `json:"applied"`
	PaidBefore        decimal.Decimal       `json:"paid_before"`
	PaidAfter         decimal.Decimal       `json:"paid_after"`
	Balance           decimal.Decimal       `json:"balance"`
	State             models.ComponentState `json:"state"`
}

// BalanceSummary aggregates a loan's outstanding balances by kind. Balances
// are always recomputed from components, never stored.
type BalanceSummary struct {
	Capital             decimal.Decimal `json:"capital"`
	Interest            decimal.Decimal `json:"interest"`
	Penalty             decimal.Decimal `json:"penalty"`
	Other               decimal.Decimal `json:"other"`
	Total               decimal.Decimal `json:"total"`
	InstallmentsPaid    int             `json:"installments_paid"`
	InstallmentsPending int             `json:"installments_pending"`
}

// PaymentResult is what the engine returns for one successful payment.
type PaymentResult struct {
	Movement   *models.Movement  `json:"movement"`
	Applied    Distribution      `json:"applied"`
	Changes    []ComponentChange `json:"changes"`
	Balances   BalanceSummary    `json:"balances"`
	LoanStatus models.LoanStatus `json:"loan_status"`
}
