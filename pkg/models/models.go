package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPendingDisbursement LoanStatus = "PENDING_DISBURSEMENT"
	LoanStatusActive              LoanStatus = "ACTIVE"
	LoanStatusPaidOff             LoanStatus = "PAID_OFF"
	LoanStatusCancelled           LoanStatus = "CANCELLED"
)

// Terminal reports whether the loan can no longer receive payments.
func (s LoanStatus) Terminal() bool {
	return s == LoanStatusPaidOff || s == LoanStatusCancelled
}

type ComponentKind string

const (
	KindCapital  ComponentKind = "CAPITAL"
	KindInterest ComponentKind = "INTEREST"
	KindPenalty  ComponentKind = "PENALTY"
	KindOther    ComponentKind = "OTHER"
)

type ComponentState string

const (
	ComponentPending ComponentState = "PENDING"
	ComponentPartial ComponentState = "PARTIAL"
	ComponentPaid    ComponentState = "PAID"
)

type Loan struct {
	ID               uuid.UUID       `json:"id"`
	CustomerKey      string          `json:"customer_key"` // Link to external customer system
	Principal        decimal.Decimal `json:"principal"`
	AnnualRate       decimal.Decimal `json:"annual_rate"` // Nominal annual rate, e.g. 0.24 for 24%
	TermInstallments int             `json:"term_installments"`
	FrequencyDays    int             `json:"frequency_days"` // Days between installments
	Bullet           bool            `json:"bullet"`         // Single maturity instead of amortizing
	Currency         string          `json:"currency"`
	DisbursementDate time.Time       `json:"disbursement_date"`
	Status           LoanStatus      `json:"status"`
	Version          int64           `json:"version"` // Optimistic concurrency guard on the aggregate
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Component is one ledger line of a loan. The set of components is the sole
// source of truth for outstanding balances; Balance and State are always
// derived, never stored.
type Component struct {
	ID                uuid.UUID       `json:"id"`
	LoanID            uuid.UUID       `json:"loan_id"`
	InstallmentNumber int             `json:"installment_number"` // 0 for loan-level components
	Kind              ComponentKind   `json:"kind"`
	DueDate           time.Time       `json:"due_date"`
	OriginalAmount    decimal.Decimal `json:"original_amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
}

func (c *Component) Balance() decimal.Decimal {
	return c.OriginalAmount.Sub(c.PaidAmount)
}

func (c *Component) State() ComponentState {
	switch {
	case c.Balance().IsZero():
		return ComponentPaid
	case c.PaidAmount.IsZero():
		return ComponentPending
	default:
		return ComponentPartial
	}
}

// Movement is an immutable record of one applied payment. Movements are
// append-only; they are never updated or deleted.
type Movement struct {
	ID                uuid.UUID            `json:"id"`
	LoanID            uuid.UUID            `json:"loan_id"`
	Timestamp         time.Time            `json:"timestamp"`
	TotalAmount       decimal.Decimal      `json:"total_amount"`
	PaymentMethodID   string               `json:"payment_method_id"`
	Strategy          string               `json:"strategy"`
	ReferenceDocument string               `json:"reference_document,omitempty"`
	Notes             string               `json:"notes,omitempty"`
	Allocations       []MovementAllocation `json:"allocations"`
}

// MovementAllocation links a movement to one component it paid.
type MovementAllocation struct {
	ComponentID       uuid.UUID       `json:"component_id"`
	InstallmentNumber int             `json:"installment_number"`
	Kind              ComponentKind   `json:"kind"`
	Amount            decimal.Decimal `json:"amount"`
}

type Guarantee struct {
	ID              uuid.UUID       `json:"id"`
	OwnerPersonID   string          `json:"owner_person_id"`
	Type            string          `json:"type"`
	Description     string          `json:"description"`
	CommercialValue decimal.Decimal `json:"commercial_value"`
	RealizableValue decimal.Decimal `json:"realizable_value"`
}

// GuaranteeCommitment pledges part of a guarantee's realizable value to a
// loan. Committed value across active loans may never exceed the
// guarantee's realizable value.
type GuaranteeCommitment struct {
	GuaranteeID     uuid.UUID       `json:"guarantee_id"`
	LoanID          uuid.UUID       `json:"loan_id"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
}
