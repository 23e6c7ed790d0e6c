package mora

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/movendo/loanledger/pkg/models"
)

var testPolicy = DailyRatePolicy{Rate: decimal.NewFromFloat(0.001)} // 0.1% per day

func makeComponent(loanID uuid.UUID, number int, kind models.ComponentKind, due time.Time, original, paid float64) *models.Component {
	return &models.Component{
		ID:                uuid.New(),
		LoanID:            loanID,
		InstallmentNumber: number,
		Kind:              kind,
		DueDate:           due,
		OriginalAmount:    decimal.NewFromFloat(original),
		PaidAmount:        decimal.NewFromFloat(paid),
	}
}

func TestAccrueCreatesPenalty(t *testing.T) {
	calc := NewCalculator(testPolicy)
	loanID := uuid.New()
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	components := []*models.Component{
		makeComponent(loanID, 1, models.KindCapital, due, 800, 0),
		makeComponent(loanID, 1, models.KindInterest, due, 200, 0),
	}

	asOf := due.AddDate(0, 0, 10)
	created, changed, lines := calc.Accrue(loanID, components, asOf)

	if len(created) != 1 || len(changed) != 0 {
		t.Fatalf("Expected 1 created and 0 changed, got %d/%d", len(created), len(changed))
	}

	// 1000 outstanding * 0.001 * 10 days = 10.00
	expected := decimal.NewFromInt(10)
	if !created[0].OriginalAmount.Equal(expected) {
		t.Errorf("Expected penalty 10.00, got %s", created[0].OriginalAmount)
	}
	if created[0].Kind != models.KindPenalty || created[0].InstallmentNumber != 1 {
		t.Errorf("Penalty component mislabelled: %+v", created[0])
	}

	if len(lines) != 1 || lines[0].DaysOverdue != 10 || !lines[0].Penalty.Equal(expected) {
		t.Errorf("Unexpected overdue lines: %+v", lines)
	}
}

func TestAccrueIsIdempotent(t *testing.T) {
	calc := NewCalculator(testPolicy)
	loanID := uuid.New()
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	components := []*models.Component{
		makeComponent(loanID, 1, models.KindCapital, due, 800, 0),
		makeComponent(loanID, 1, models.KindInterest, due, 200, 0),
	}

	asOf := due.AddDate(0, 0, 5)
	created, _, _ := calc.Accrue(loanID, components, asOf)
	components = append(components, created...)
	firstTotal := created[0].OriginalAmount

	created2, changed2, lines2 := calc.Accrue(loanID, components, asOf)
	if len(created2) != 0 || len(changed2) != 0 {
		t.Fatalf("Second accrual at the same date must be a no-op, got %d created, %d changed", len(created2), len(changed2))
	}
	if !lines2[0].Penalty.Equal(firstTotal) {
		t.Errorf("Penalty changed across identical accruals: %s vs %s", firstTotal, lines2[0].Penalty)
	}
}

func TestAccrueTopsUpOverTime(t *testing.T) {
	calc := NewCalculator(testPolicy)
	loanID := uuid.New()
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	components := []*models.Component{
		makeComponent(loanID, 1, models.KindCapital, due, 1000, 0),
	}

	created, _, _ := calc.Accrue(loanID, components, due.AddDate(0, 0, 5))
	components = append(components, created...)

	_, changed, _ := calc.Accrue(loanID, components, due.AddDate(0, 0, 9))
	if len(changed) != 1 {
		t.Fatalf("Expected the penalty component to be topped up, got %d changed", len(changed))
	}
	// 1000 * 0.001 * 9 = 9.00
	if !changed[0].OriginalAmount.Equal(decimal.NewFromInt(9)) {
		t.Errorf("Expected topped-up penalty 9.00, got %s", changed[0].OriginalAmount)
	}
}

func TestAccruePreservesPaidAmount(t *testing.T) {
	calc := NewCalculator(testPolicy)
	loanID := uuid.New()
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	penalty := makeComponent(loanID, 1, models.KindPenalty, due, 8, 6)
	components := []*models.Component{
		makeComponent(loanID, 1, models.KindCapital, due, 500, 0),
		penalty,
	}

	// Recomputed total (500 * 0.001 * 4 = 2.00) is below the 6.00 already
	// paid; the original amount must not drop under paid.
	calc.Accrue(loanID, components, due.AddDate(0, 0, 4))
	if penalty.OriginalAmount.LessThan(penalty.PaidAmount) {
		t.Errorf("Penalty original %s fell below paid %s", penalty.OriginalAmount, penalty.PaidAmount)
	}
}

func TestAccrueSkipsSettledAndCurrentInstallments(t *testing.T) {
	calc := NewCalculator(testPolicy)
	loanID := uuid.New()
	asOf := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	paidDue := asOf.AddDate(0, 0, -30)
	futureDue := asOf.AddDate(0, 0, 30)
	components := []*models.Component{
		// Fully paid installment, nominally overdue.
		makeComponent(loanID, 1, models.KindCapital, paidDue, 100, 100),
		makeComponent(loanID, 1, models.KindInterest, paidDue, 20, 20),
		// Not yet due.
		makeComponent(loanID, 2, models.KindCapital, futureDue, 100, 0),
	}

	created, changed, lines := calc.Accrue(loanID, components, asOf)
	if len(created) != 0 || len(changed) != 0 || len(lines) != 0 {
		t.Errorf("Expected no accrual, got created=%d changed=%d lines=%d", len(created), len(changed), len(lines))
	}
}
