// Package ledger implements the loan ledger engine: schedule creation at
// disbursement, on-demand mora accrual, payment allocation against a loan's
// components, and the consolidated account statement.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/movendo/loanledger/pkg/models"
	"github.com/movendo/loanledger/pkg/money"
	"github.com/movendo/loanledger/pkg/mora"
	"github.com/movendo/loanledger/pkg/schedule"
	"github.com/movendo/loanledger/pkg/store"
)

// Options configure engine policy.
type Options struct {
	// PenaltyPolicy computes mora on overdue installments. Defaults to a
	// 0.1% simple daily rate when nil.
	PenaltyPolicy mora.Policy
	// AllowPrepayment applies payment excess to future capital components
	// instead of rejecting it.
	AllowPrepayment bool
}

// Ledger handles the business logic for loans, payments, and guarantees.
// All mutations of one loan's components are serialized behind a per-loan
// mutex; payments against different loans proceed in parallel.
type Ledger struct {
	storage store.Storage
	mora    *mora.Calculator
	opts    Options
	logger  *zap.Logger

	mu        sync.Mutex
	loanLocks map[uuid.UUID]*sync.Mutex

	// Serializes collateral commitment checks across loan creations.
	guaranteeMu sync.Mutex
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts Options, logger *zap.Logger) *Ledger {
	if opts.PenaltyPolicy == nil {
		opts.PenaltyPolicy = mora.DailyRatePolicy{Rate: decimal.NewFromFloat(0.001)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		storage:   s,
		mora:      mora.NewCalculator(opts.PenaltyPolicy),
		opts:      opts,
		logger:    logger,
		loanLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (l *Ledger) lockLoan(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.loanLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.loanLocks[id] = lock
	}
	return lock
}

// CommitmentInput pledges part of a guarantee's value to a new loan.
type CommitmentInput struct {
	GuaranteeID uuid.UUID
	Amount      decimal.Decimal
}

// CreateLoanInput holds the terms of a new loan.
type CreateLoanInput struct {
	CustomerKey      string
	Principal        decimal.Decimal
	AnnualRate       decimal.Decimal
	TermInstallments int
	FrequencyDays    int
	Bullet           bool
	Currency         string
	DisbursementDate time.Time
	Commitments      []CommitmentInput
}

// CreateLoan validates the terms and collateral, generates the installment
// schedule, and stores loan, components, and commitments atomically. The
// loan starts ACTIVE at its disbursement date.
func (l *Ledger) CreateLoan(input CreateLoanInput) (*models.Loan, []*models.Component, error) {
	if input.DisbursementDate.IsZero() {
		input.DisbursementDate = time.Now()
	}

	loanID := uuid.New()
	components, err := schedule.Generate(loanID, schedule.Terms{
		Principal:        input.Principal,
		AnnualRate:       input.AnnualRate,
		TermInstallments: input.TermInstallments,
		FrequencyDays:    input.FrequencyDays,
		Bullet:           input.Bullet,
		Disbursement:     input.DisbursementDate,
	})
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	loan := &models.Loan{
		ID:               loanID,
		CustomerKey:      input.CustomerKey,
		Principal:        input.Principal,
		AnnualRate:       input.AnnualRate,
		TermInstallments: input.TermInstallments,
		FrequencyDays:    input.FrequencyDays,
		Bullet:           input.Bullet,
		Currency:         input.Currency,
		DisbursementDate: input.DisbursementDate,
		Status:           models.LoanStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	l.guaranteeMu.Lock()
	defer l.guaranteeMu.Unlock()

	commitments := make([]*models.GuaranteeCommitment, 0, len(input.Commitments))
	for _, c := range input.Commitments {
		available, err := l.AvailableValue(c.GuaranteeID)
		if err != nil {
			return nil, nil, err
		}
		if c.Amount.GreaterThan(available) {
			return nil, nil, fmt.Errorf("%w: guarantee %s has %s available, %s requested",
				ErrInsufficientCollateralValue, c.GuaranteeID, available, c.Amount)
		}
		commitments = append(commitments, &models.GuaranteeCommitment{
			GuaranteeID:     c.GuaranteeID,
			LoanID:          loanID,
			CommittedAmount: c.Amount,
		})
	}

	if err := l.storage.CreateLoan(loan, components, commitments); err != nil {
		return nil, nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("principal", loan.Principal.StringFixed(2)),
		zap.Int("installments", loan.TermInstallments),
		zap.Bool("bullet", loan.Bullet),
	)
	return loan, components, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// GetSchedule retrieves a loan's components ordered by due date.
func (l *Ledger) GetSchedule(loanID uuid.UUID) ([]*models.Component, error) {
	return l.storage.GetComponentsForLoan(loanID)
}

// GetMovements retrieves a loan's payment history.
func (l *Ledger) GetMovements(loanID uuid.UUID) ([]*models.Movement, error) {
	return l.storage.GetMovementsForLoan(loanID)
}

// CancelLoan moves a loan to CANCELLED and releases its guarantee
// commitments. Loans already in a terminal state cannot be cancelled.
func (l *Ledger) CancelLoan(id uuid.UUID) (*models.Loan, error) {
	lock := l.lockLoan(id)
	lock.Lock()
	defer lock.Unlock()

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if loan.Status.Terminal() {
		return nil, fmt.Errorf("%w: loan %s is %s", ErrLoanNotPayable, loan.ID, loan.Status)
	}

	loan.Status = models.LoanStatusCancelled
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}
	if err := l.storage.ReleaseCommitmentsForLoan(loan.ID); err != nil {
		return nil, err
	}

	l.logger.Info("loan cancelled", zap.String("loan_id", loan.ID.String()))
	return loan, nil
}

// Accrue recomputes mora for one loan as of the reference date and persists
// the resulting PENALTY components. Re-invoking it at the same date is a
// no-op.
func (l *Ledger) Accrue(loanID uuid.UUID, asOf time.Time) ([]mora.OverdueInstallment, error) {
	lock := l.lockLoan(loanID)
	lock.Lock()
	defer lock.Unlock()
	return l.accrueLocked(loanID, asOf)
}

func (l *Ledger) accrueLocked(loanID uuid.UUID, asOf time.Time) ([]mora.OverdueInstallment, error) {
	components, err := l.storage.GetComponentsForLoan(loanID)
	if err != nil {
		return nil, err
	}
	created, changed, lines := l.mora.Accrue(loanID, components, asOf)
	if len(created)+len(changed) > 0 {
		if err := l.storage.UpsertComponents(append(created, changed...)); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

// AccrueAll runs mora accrual over every active loan. It is the entry point
// for the periodic re-accrual sweep.
func (l *Ledger) AccrueAll(asOf time.Time) {
	loans, err := l.storage.GetAllActiveLoans()
	if err != nil {
		l.logger.Error("failed to list active loans for accrual", zap.Error(err))
		return
	}
	for _, loan := range loans {
		lines, err := l.Accrue(loan.ID, asOf)
		if err != nil {
			l.logger.Error("mora accrual failed",
				zap.String("loan_id", loan.ID.String()), zap.Error(err))
			continue
		}
		if len(lines) > 0 {
			l.logger.Debug("mora accrued",
				zap.String("loan_id", loan.ID.String()),
				zap.Int("overdue_installments", len(lines)))
		}
	}
}

// summarize aggregates outstanding balances by kind and counts installments
// fully paid versus pending.
func summarize(components []*models.Component) BalanceSummary {
	s := BalanceSummary{
		Capital:  decimal.Zero,
		Interest: decimal.Zero,
		Penalty:  decimal.Zero,
		Other:    decimal.Zero,
	}
	unpaid := make(map[int]bool)
	seen := make(map[int]bool)
	for _, comp := range components {
		balance := comp.Balance()
		switch comp.Kind {
		case models.KindCapital:
			s.Capital = s.Capital.Add(balance)
		case models.KindInterest:
			s.Interest = s.Interest.Add(balance)
		case models.KindPenalty:
			s.Penalty = s.Penalty.Add(balance)
		case models.KindOther:
			s.Other = s.Other.Add(balance)
		}
		if comp.InstallmentNumber > 0 {
			seen[comp.InstallmentNumber] = true
			if balance.GreaterThan(decimal.Zero) {
				unpaid[comp.InstallmentNumber] = true
			}
		}
	}
	s.Total = money.Sum(s.Capital, s.Interest, s.Penalty, s.Other)
	s.InstallmentsPending = len(unpaid)
	s.InstallmentsPaid = len(seen) - len(unpaid)
	return s
}

// installmentView groups a loan's components by sequence number.
type installmentView struct {
	number     int
	dueDate    time.Time
	components []*models.Component
}

func (v *installmentView) outstanding() decimal.Decimal {
	total := decimal.Zero
	for _, c := range v.components {
		total = total.Add(c.Balance())
	}
	return total
}

func (v *installmentView) state() models.ComponentState {
	anyPaid := false
	allPaid := true
	for _, c := range v.components {
		switch c.State() {
		case models.ComponentPaid:
			anyPaid = true
		case models.ComponentPartial:
			anyPaid = true
			allPaid = false
		default:
			allPaid = false
		}
	}
	if allPaid {
		return models.ComponentPaid
	}
	if anyPaid {
		return models.ComponentPartial
	}
	return models.ComponentPending
}

// groupInstallments returns the loan's installments ordered by due date.
// Loan-level components (number 0) are excluded.
func groupInstallments(components []*models.Component) []*installmentView {
	byNumber := make(map[int]*installmentView)
	for _, comp := range components {
		if comp.InstallmentNumber == 0 {
			continue
		}
		v, ok := byNumber[comp.InstallmentNumber]
		if !ok {
			v = &installmentView{number: comp.InstallmentNumber, dueDate: comp.DueDate}
			byNumber[comp.InstallmentNumber] = v
		}
		v.components = append(v.components, comp)
	}
	views := make([]*installmentView, 0, len(byNumber))
	for _, v := range byNumber {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].dueDate.Equal(views[j].dueDate) {
			return views[i].number < views[j].number
		}
		return views[i].dueDate.Before(views[j].dueDate)
	})
	return views
}
