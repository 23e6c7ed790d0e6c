package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/movendo/loanledger/pkg/models"
	"github.com/movendo/loanledger/pkg/mora"
)

// KindBalance is the paid/outstanding split of one component kind within an
// installment.
type KindBalance struct {
	Original decimal.Decimal `json:"original"`
	Paid     decimal.Decimal `json:"paid"`
	Balance  decimal.Decimal `json:"balance"`
}

func (b *KindBalance) add(comp *models.Component) {
	b.Original = b.Original.Add(comp.OriginalAmount)
	b.Paid = b.Paid.Add(comp.PaidAmount)
	b.Balance = b.Balance.Add(comp.Balance())
}

// StatementLine is the consolidated view of one installment.
type StatementLine struct {
	Number      int                   `json:"installment_number"`
	DueDate     time.Time             `json:"due_date"`
	DaysOverdue int                   `json:"days_overdue"`
	Capital     KindBalance           `json:"capital"`
	Interest    KindBalance           `json:"interest"`
	Penalty     KindBalance           `json:"penalty"`
	Other       KindBalance           `json:"other"`
	Status      models.ComponentState `json:"status"`
}

// Statement is the account statement of one loan as of a reference date.
type Statement struct {
	LoanID              uuid.UUID         `json:"loan_id"`
	AsOf                time.Time         `json:"as_of"`
	LoanStatus          models.LoanStatus `json:"loan_status"`
	Lines               []StatementLine   `json:"lines"`
	Totals              BalanceSummary    `json:"totals"`
	OverdueInstallments int               `json:"overdue_installments"`
	NextDueDate         *time.Time        `json:"next_due_date,omitempty"`
	NextDueAmount       decimal.Decimal   `json:"next_due_amount"`
}

// Statement builds the consolidated statement for a loan. Mora is recomputed
// first (and persisted through the idempotent accrual path), so the
// statement is always as of the reference date; repeated calls never double
// count.
func (l *Ledger) Statement(loanID uuid.UUID, asOf time.Time) (*Statement, error) {
	lock := l.lockLoan(loanID)
	lock.Lock()
	defer lock.Unlock()

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = time.Now()
	}
	if _, err := l.accrueLocked(loanID, asOf); err != nil {
		return nil, err
	}
	components, err := l.storage.GetComponentsForLoan(loanID)
	if err != nil {
		return nil, err
	}

	st := &Statement{
		LoanID:        loanID,
		AsOf:          asOf,
		LoanStatus:    loan.Status,
		Totals:        summarize(components),
		NextDueAmount: decimal.Zero,
	}

	for _, inst := range groupInstallments(components) {
		line := StatementLine{
			Number:  inst.number,
			DueDate: inst.dueDate,
			Status:  inst.state(),
		}
		for _, comp := range inst.components {
			switch comp.Kind {
			case models.KindCapital:
				line.Capital.add(comp)
			case models.KindInterest:
				line.Interest.add(comp)
			case models.KindPenalty:
				line.Penalty.add(comp)
			case models.KindOther:
				line.Other.add(comp)
			}
		}

		outstanding := inst.outstanding()
		if outstanding.GreaterThan(decimal.Zero) {
			if inst.dueDate.Before(asOf) {
				line.DaysOverdue = mora.DaysOverdue(inst.dueDate, asOf)
				st.OverdueInstallments++
			}
			if st.NextDueDate == nil {
				due := inst.dueDate
				st.NextDueDate = &due
				st.NextDueAmount = outstanding
			}
		}

		st.Lines = append(st.Lines, line)
	}
	return st, nil
}
