// Package mora computes late-payment penalties on overdue installments.
// Accrual is idempotent: the calculator recomputes each installment's total
// penalty as of the reference date and overwrites the PENALTY component's
// original amount, preserving whatever has already been paid.
package mora

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/movendo/loanledger/pkg/models"
	"github.com/movendo/loanledger/pkg/money"
)

// Policy computes the total penalty owed on an installment given its overdue
// capital+interest balance and the number of whole days it is late. The rate
// and base vary by product, so the policy is pluggable.
type Policy interface {
	Penalty(overdueBalance decimal.Decimal, daysOverdue int) decimal.Decimal
}

// DailyRatePolicy is the baseline policy: a simple daily rate applied to the
// outstanding balance for every day overdue.
type DailyRatePolicy struct {
	Rate decimal.Decimal
}

func (p DailyRatePolicy) Penalty(overdueBalance decimal.Decimal, daysOverdue int) decimal.Decimal {
	if daysOverdue <= 0 {
		return decimal.Zero
	}
	return money.Round(overdueBalance.Mul(p.Rate).Mul(decimal.NewFromInt(int64(daysOverdue))))
}

// OverdueInstallment is one display line of the accrual result.
type OverdueInstallment struct {
	Number      int             `json:"installment_number"`
	DueDate     time.Time       `json:"due_date"`
	DaysOverdue int             `json:"days_overdue"`
	Penalty     decimal.Decimal `json:"penalty"`
}

type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) *Calculator {
	return &Calculator{policy: policy}
}

// DaysOverdue counts whole days between the due date and the reference date,
// never negative.
func DaysOverdue(due, asOf time.Time) int {
	if !asOf.After(due) {
		return 0
	}
	return int(asOf.Sub(due).Hours() / 24)
}

// Accrue recomputes penalties for every overdue installment of a loan as of
// the reference date. It mutates existing PENALTY components in place and
// returns any newly created ones (which the caller must persist alongside
// the changed set), plus the per-installment display lines.
//
// Installments whose CAPITAL and INTEREST components are fully paid are
// skipped even if nominally overdue; their penalty components are left
// untouched.
func (c *Calculator) Accrue(loanID uuid.UUID, components []*models.Component, asOf time.Time) (created []*models.Component, changed []*models.Component, lines []OverdueInstallment) {
	type installment struct {
		number  int
		due     time.Time
		base    decimal.Decimal // outstanding capital + interest
		penalty *models.Component
	}

	byNumber := make(map[int]*installment)
	for _, comp := range components {
		if comp.InstallmentNumber == 0 {
			continue // loan-level components carry no due date
		}
		inst, ok := byNumber[comp.InstallmentNumber]
		if !ok {
			inst = &installment{number: comp.InstallmentNumber, due: comp.DueDate, base: decimal.Zero}
			byNumber[comp.InstallmentNumber] = inst
		}
		switch comp.Kind {
		case models.KindCapital, models.KindInterest:
			inst.base = inst.base.Add(comp.Balance())
		case models.KindPenalty:
			inst.penalty = comp
		}
	}

	for _, inst := range byNumber {
		if !inst.due.Before(asOf) || inst.base.LessThanOrEqual(decimal.Zero) {
			continue
		}

		days := DaysOverdue(inst.due, asOf)
		total := c.policy.Penalty(inst.base, days)

		switch {
		case inst.penalty != nil:
			// Overwrite the accrued total but never drop below what has
			// already been paid.
			newOriginal := total
			if newOriginal.LessThan(inst.penalty.PaidAmount) {
				newOriginal = inst.penalty.PaidAmount
			}
			if !newOriginal.Equal(inst.penalty.OriginalAmount) {
				inst.penalty.OriginalAmount = newOriginal
				changed = append(changed, inst.penalty)
			}
		case total.GreaterThan(decimal.Zero):
			comp := &models.Component{
				ID:                uuid.New(),
				LoanID:            loanID,
				InstallmentNumber: inst.number,
				Kind:              models.KindPenalty,
				DueDate:           inst.due,
				OriginalAmount:    total,
				PaidAmount:        decimal.Zero,
			}
			created = append(created, comp)
		}

		lines = append(lines, OverdueInstallment{
			Number:      inst.number,
			DueDate:     inst.due,
			DaysOverdue: days,
			Penalty:     total,
		})
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].Number < lines[j].Number })
	return created, changed, lines
}
