package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/movendo/loanledger/pkg/models"
)

// CreateGuaranteeInput describes a new guarantee to register.
type CreateGuaranteeInput struct {
	OwnerPersonID   string
	Type            string
	Description     string
	CommercialValue decimal.Decimal
	RealizableValue decimal.Decimal
}

// CreateGuarantee registers a guarantee so its realizable value can back
// loans.
func (l *Ledger) CreateGuarantee(input CreateGuaranteeInput) (*models.Guarantee, error) {
	g := &models.Guarantee{
		ID:              uuid.New(),
		OwnerPersonID:   input.OwnerPersonID,
		Type:            input.Type,
		Description:     input.Description,
		CommercialValue: input.CommercialValue,
		RealizableValue: input.RealizableValue,
	}
	if err := l.storage.CreateGuarantee(g); err != nil {
		return nil, err
	}
	return g, nil
}

// GetGuarantee retrieves a guarantee by its ID.
func (l *Ledger) GetGuarantee(id uuid.UUID) (*models.Guarantee, error) {
	return l.storage.GetGuarantee(id)
}

// AvailableValue is the guarantee's realizable value minus what is committed
// to loans. Commitments released at loan termination are zeroed, so the sum
// over all rows equals the sum over active commitments.
func (l *Ledger) AvailableValue(guaranteeID uuid.UUID) (decimal.Decimal, error) {
	g, err := l.storage.GetGuarantee(guaranteeID)
	if err != nil {
		return decimal.Zero, err
	}
	commitments, err := l.storage.GetCommitmentsForGuarantee(guaranteeID)
	if err != nil {
		return decimal.Zero, err
	}
	available := g.RealizableValue
	for _, c := range commitments {
		available = available.Sub(c.CommittedAmount)
	}
	return available, nil
}

// GetCommitmentsForLoan retrieves the commitments backing a loan.
func (l *Ledger) GetCommitmentsForLoan(loanID uuid.UUID) ([]*models.GuaranteeCommitment, error) {
	return l.storage.GetCommitmentsForLoan(loanID)
}
