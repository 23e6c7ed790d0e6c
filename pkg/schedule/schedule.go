// Package schedule builds the installment components of a loan at
// disbursement time: the fixed-installment (French) amortization table, or a
// single bullet maturity.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/movendo/loanledger/pkg/models"
	"github.com/movendo/loanledger/pkg/money"
)

// DaysPerYear fixes the day-count convention at 30/360. The periodic rate is
// annualRate * frequencyDays / 360, for both schedule construction and mora
// accrual. This is a constant of the engine, never inferred per call.
const DaysPerYear = 360

var ErrInvalidLoanTerms = errors.New("invalid loan terms")

// Terms are the inputs the generator needs from a loan.
type Terms struct {
	Principal        decimal.Decimal
	AnnualRate       decimal.Decimal
	TermInstallments int
	FrequencyDays    int
	Bullet           bool
	Disbursement     time.Time
}

func (t Terms) Validate() error {
	if t.Principal.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: principal %s must be positive", ErrInvalidLoanTerms, t.Principal)
	}
	if t.AnnualRate.IsNegative() {
		return fmt.Errorf("%w: annual rate %s must not be negative", ErrInvalidLoanTerms, t.AnnualRate)
	}
	if t.TermInstallments < 1 {
		return fmt.Errorf("%w: term %d must be at least 1", ErrInvalidLoanTerms, t.TermInstallments)
	}
	if t.FrequencyDays <= 0 {
		return fmt.Errorf("%w: frequency %d days must be positive", ErrInvalidLoanTerms, t.FrequencyDays)
	}
	return nil
}

// PeriodicRate converts the annual nominal rate to the per-period rate under
// the 30/360 convention.
func PeriodicRate(annualRate decimal.Decimal, frequencyDays int) decimal.Decimal {
	return annualRate.Mul(decimal.NewFromInt(int64(frequencyDays))).
		Div(decimal.NewFromInt(DaysPerYear))
}

// LevelPayment computes the annuity payment A = P*i / (1 - (1+i)^-n).
// float64 is used only for the power term; monetary arithmetic stays in
// decimal.
func LevelPayment(principal, periodicRate decimal.Decimal, term int) decimal.Decimal {
	if periodicRate.IsZero() {
		return money.Round(principal.Div(decimal.NewFromInt(int64(term))))
	}
	i := periodicRate.InexactFloat64()
	factor := 1 - math.Pow(1+i, -float64(term))
	return money.Round(principal.Mul(periodicRate).Div(decimal.NewFromFloat(factor)))
}

// Generate produces the initial CAPITAL and INTEREST components of a loan.
// PENALTY components are not created here; they appear lazily once an
// installment goes overdue. The last installment's capital is forced to the
// remaining balance so that the capital components sum to the principal
// exactly.
func Generate(loanID uuid.UUID, t Terms) ([]*models.Component, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Bullet {
		return generateBullet(loanID, t), nil
	}
	return generateAmortizing(loanID, t), nil
}

func generateBullet(loanID uuid.UUID, t Terms) []*models.Component {
	due := t.Disbursement.AddDate(0, 0, t.FrequencyDays*t.TermInstallments)
	rate := PeriodicRate(t.AnnualRate, t.FrequencyDays)
	// Simple interest over the full term.
	interest := money.Round(t.Principal.Mul(rate).Mul(decimal.NewFromInt(int64(t.TermInstallments))))
	return []*models.Component{
		newComponent(loanID, 1, models.KindCapital, due, money.Round(t.Principal)),
		newComponent(loanID, 1, models.KindInterest, due, interest),
	}
}

func generateAmortizing(loanID uuid.UUID, t Terms) []*models.Component {
	rate := PeriodicRate(t.AnnualRate, t.FrequencyDays)
	payment := LevelPayment(t.Principal, rate, t.TermInstallments)

	components := make([]*models.Component, 0, 2*t.TermInstallments)
	balance := money.Round(t.Principal)

	for k := 1; k <= t.TermInstallments; k++ {
		due := t.Disbursement.AddDate(0, 0, k*t.FrequencyDays)

		interest := money.Round(balance.Mul(rate))
		capital := payment.Sub(interest)
		if k == t.TermInstallments {
			// Absorb rounding residue: the final capital closes the
			// balance to exactly zero.
			capital = balance
		}

		components = append(components,
			newComponent(loanID, k, models.KindCapital, due, capital),
			newComponent(loanID, k, models.KindInterest, due, interest),
		)
		balance = balance.Sub(capital)
	}

	return components
}

func newComponent(loanID uuid.UUID, number int, kind models.ComponentKind, due time.Time, amount decimal.Decimal) *models.Component {
	return &models.Component{
		ID:                uuid.New(),
		LoanID:            loanID,
		InstallmentNumber: number,
		Kind:              kind,
		DueDate:           due,
		OriginalAmount:    amount,
		PaidAmount:        decimal.Zero,
	}
}
