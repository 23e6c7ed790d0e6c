package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/movendo/loanledger/pkg/models"
	"github.com/movendo/loanledger/pkg/money"
)

// kindOrder is the waterfall priority: penalties and interest are cleared
// before principal, and older obligations before newer ones within a kind.
var kindOrder = []models.ComponentKind{
	models.KindPenalty,
	models.KindInterest,
	models.KindCapital,
	models.KindOther,
}

// ApplyPayment applies one payment to a loan under the requested strategy.
// Mora is re-accrued first inside the same critical section, so the
// allocation never runs against stale penalty balances. On any validation
// error nothing is persisted; on success the movement, the touched
// components, and the loan commit in one transaction.
func (l *Ledger) ApplyPayment(req PaymentRequest) (*PaymentResult, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, req.Amount)
	}
	if req.Distribution != nil && !money.Equal(req.Distribution.Total(), req.Amount) {
		return nil, fmt.Errorf("%w: distribution sums to %s, amount is %s",
			ErrDistributionMismatch, req.Distribution.Total(), req.Amount)
	}

	lock := l.lockLoan(req.LoanID)
	lock.Lock()
	defer lock.Unlock()

	loan, err := l.storage.GetLoan(req.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan %s is %s", ErrLoanNotPayable, loan.ID, loan.Status)
	}

	components, err := l.storage.GetComponentsForLoan(loan.ID)
	if err != nil {
		return nil, err
	}

	when := req.Date
	if when.IsZero() {
		when = time.Now()
	}

	created, changed, _ := l.mora.Accrue(loan.ID, components, when)
	components = append(components, created...)

	paidBefore := make(map[uuid.UUID]decimal.Decimal, len(components))
	for _, comp := range components {
		paidBefore[comp.ID] = comp.PaidAmount
	}

	var allocations []models.MovementAllocation
	if req.Distribution != nil {
		allocations, err = l.allocateManual(components, *req.Distribution)
	} else {
		switch req.Strategy {
		case AutoWaterfall:
			allocations, err = l.allocateWaterfall(components, req.Amount, when)
		case FullInstallment:
			allocations, err = l.allocateFullInstallments(components, req.Amount, req.InstallmentNumber)
		case CapitalOnly:
			allocations, err = l.allocateSingleKind(components, req.Amount, models.KindCapital)
		case PenaltyOnly:
			allocations, err = l.allocatePenaltyOnly(components, req.Amount)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownStrategy, req.Strategy)
		}
	}
	if err != nil {
		return nil, err
	}

	strategyLabel := req.Strategy.String()
	if req.Distribution != nil {
		strategyLabel = "MANUAL"
	}
	movement := &models.Movement{
		ID:                uuid.New(),
		LoanID:            loan.ID,
		Timestamp:         when,
		TotalAmount:       req.Amount,
		PaymentMethodID:   req.PaymentMethodID,
		Strategy:          strategyLabel,
		ReferenceDocument: req.ReferenceDocument,
		Notes:             req.Notes,
		Allocations:       allocations,
	}

	balances := summarize(components)
	release := false
	if balances.Total.IsZero() {
		loan.Status = models.LoanStatusPaidOff
		release = true
	}

	// Persist every component the payment or the accrual touched.
	dirty := make(map[uuid.UUID]*models.Component)
	for _, comp := range append(created, changed...) {
		dirty[comp.ID] = comp
	}
	byID := make(map[uuid.UUID]*models.Component, len(components))
	for _, comp := range components {
		byID[comp.ID] = comp
	}
	for _, a := range allocations {
		dirty[a.ComponentID] = byID[a.ComponentID]
	}
	toPersist := make([]*models.Component, 0, len(dirty))
	for _, comp := range dirty {
		toPersist = append(toPersist, comp)
	}

	if err := l.storage.ApplyAllocation(loan, toPersist, movement, release); err != nil {
		return nil, err
	}
	if release {
		l.logger.Info("loan paid off",
			zap.String("loan_id", loan.ID.String()),
			zap.String("movement_id", movement.ID.String()))
	}

	result := &PaymentResult{
		Movement:   movement,
		Balances:   balances,
		LoanStatus: loan.Status,
	}
	for _, a := range allocations {
		comp := byID[a.ComponentID]
		result.Changes = append(result.Changes, ComponentChange{
			ComponentID:       comp.ID,
			InstallmentNumber: comp.InstallmentNumber,
			Kind:              comp.Kind,
			Applied:           a.Amount,
			PaidBefore:        paidBefore[comp.ID],
			PaidAfter:         comp.PaidAmount,
			Balance:           comp.Balance(),
			State:             comp.State(),
		})
		switch a.Kind {
		case models.KindPenalty:
			result.Applied.Penalty = result.Applied.Penalty.Add(a.Amount)
		case models.KindInterest:
			result.Applied.Interest = result.Applied.Interest.Add(a.Amount)
		case models.KindCapital:
			result.Applied.Capital = result.Applied.Capital.Add(a.Amount)
		case models.KindOther:
			result.Applied.Other = result.Applied.Other.Add(a.Amount)
		}
	}

	l.logger.Info("payment applied",
		zap.String("loan_id", loan.ID.String()),
		zap.String("movement_id", movement.ID.String()),
		zap.String("strategy", strategyLabel),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.Int("components_touched", len(allocations)),
	)
	return result, nil
}

// outstandingOfKind returns a kind's unpaid components ordered by due date,
// earliest first.
func outstandingOfKind(components []*models.Component, kind models.ComponentKind) []*models.Component {
	var out []*models.Component
	for _, comp := range components {
		if comp.Kind == kind && comp.Balance().GreaterThan(decimal.Zero) {
			out = append(out, comp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].InstallmentNumber < out[j].InstallmentNumber
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}

// pay applies min(remaining, balance) to a component and records the
// allocation. It returns the amount applied.
func pay(comp *models.Component, remaining decimal.Decimal, allocations *[]models.MovementAllocation) decimal.Decimal {
	applied := money.Min(remaining, comp.Balance())
	if applied.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	comp.PaidAmount = comp.PaidAmount.Add(applied)
	*allocations = append(*allocations, models.MovementAllocation{
		ComponentID:       comp.ID,
		InstallmentNumber: comp.InstallmentNumber,
		Kind:              comp.Kind,
		Amount:            applied,
	})
	return applied
}

// allocateWaterfall walks PENALTY, INTEREST, CAPITAL, OTHER over the
// components due on or before the payment date. Excess beyond the due
// balance is a prepayment against future capital when the policy allows it,
// otherwise the payment is rejected.
func (l *Ledger) allocateWaterfall(components []*models.Component, amount decimal.Decimal, when time.Time) ([]models.MovementAllocation, error) {
	var allocations []models.MovementAllocation
	remaining := amount

	for _, kind := range kindOrder {
		for _, comp := range outstandingOfKind(components, kind) {
			if comp.DueDate.After(when) {
				continue
			}
			remaining = remaining.Sub(pay(comp, remaining, &allocations))
			if remaining.IsZero() {
				return allocations, nil
			}
		}
	}

	return l.consumeExcess(components, remaining, allocations)
}

// allocateFullInstallments settles whole installments in ascending due
// order, starting at the requested number when given. An installment whose
// full outstanding balance cannot be covered receives nothing.
func (l *Ledger) allocateFullInstallments(components []*models.Component, amount decimal.Decimal, startNumber int) ([]models.MovementAllocation, error) {
	var allocations []models.MovementAllocation
	remaining := amount
	covered := 0

	for _, inst := range groupInstallments(components) {
		if startNumber > 0 && inst.number < startNumber {
			continue
		}
		needed := inst.outstanding()
		if needed.IsZero() {
			continue
		}
		if remaining.LessThan(needed) {
			break
		}
		for _, kind := range kindOrder {
			for _, comp := range inst.components {
				if comp.Kind != kind {
					continue
				}
				remaining = remaining.Sub(pay(comp, remaining, &allocations))
			}
		}
		covered++
	}

	if covered == 0 {
		return nil, fmt.Errorf("%w: %s does not settle any installment", ErrInsufficientAmountForFullInstallment, amount)
	}
	return l.consumeExcess(components, remaining, allocations)
}

// allocateSingleKind applies the amount to one component kind across
// installments, earliest due first.
func (l *Ledger) allocateSingleKind(components []*models.Component, amount decimal.Decimal, kind models.ComponentKind) ([]models.MovementAllocation, error) {
	var allocations []models.MovementAllocation
	remaining := amount

	for _, comp := range outstandingOfKind(components, kind) {
		remaining = remaining.Sub(pay(comp, remaining, &allocations))
		if remaining.IsZero() {
			break
		}
	}
	if remaining.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s exceeds outstanding %s balance", ErrOverpaymentNotSupported, amount, kind)
	}
	return allocations, nil
}

func (l *Ledger) allocatePenaltyOnly(components []*models.Component, amount decimal.Decimal) ([]models.MovementAllocation, error) {
	if len(outstandingOfKind(components, models.KindPenalty)) == 0 {
		return nil, ErrNoPenaltyOutstanding
	}
	return l.allocateSingleKind(components, amount, models.KindPenalty)
}

// allocateManual applies a caller-specified split per kind, still earliest
// due first within each kind. A kind's amount may not exceed that kind's
// outstanding balance.
func (l *Ledger) allocateManual(components []*models.Component, dist Distribution) ([]models.MovementAllocation, error) {
	var allocations []models.MovementAllocation

	for _, kind := range kindOrder {
		target := dist.amountFor(kind)
		if target.LessThanOrEqual(decimal.Zero) {
			continue
		}
		outstanding := outstandingOfKind(components, kind)
		total := decimal.Zero
		for _, comp := range outstanding {
			total = total.Add(comp.Balance())
		}
		if target.GreaterThan(total) {
			return nil, fmt.Errorf("%w: %s requested for %s, %s outstanding",
				ErrDistributionExceedsBalance, target, kind, total)
		}
		remaining := target
		for _, comp := range outstanding {
			remaining = remaining.Sub(pay(comp, remaining, &allocations))
			if remaining.IsZero() {
				break
			}
		}
	}
	return allocations, nil
}

// consumeExcess handles whatever is left after a strategy ran out of
// targets: prepay future capital when allowed, otherwise reject.
func (l *Ledger) consumeExcess(components []*models.Component, remaining decimal.Decimal, allocations []models.MovementAllocation) ([]models.MovementAllocation, error) {
	if remaining.LessThanOrEqual(decimal.Zero) {
		return allocations, nil
	}
	if !l.opts.AllowPrepayment {
		return nil, fmt.Errorf("%w: %s unallocated", ErrOverpaymentNotSupported, remaining)
	}
	for _, comp := range outstandingOfKind(components, models.KindCapital) {
		remaining = remaining.Sub(pay(comp, remaining, &allocations))
		if remaining.IsZero() {
			return allocations, nil
		}
	}
	return nil, fmt.Errorf("%w: %s unallocated after prepayment", ErrOverpaymentNotSupported, remaining)
}
