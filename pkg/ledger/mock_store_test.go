package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/movendo/loanledger/pkg/models"
	"github.com/movendo/loanledger/pkg/store"
)

// MockStore is an in-memory implementation of the Storage interface for
// testing. Reads return copies, like a real database, so in-memory mutations
// by a failed allocation never leak into stored state.
type MockStore struct {
	loans       map[uuid.UUID]*models.Loan
	components  map[uuid.UUID]map[uuid.UUID]*models.Component // by loan, then component ID
	movements   []*models.Movement
	guarantees  map[uuid.UUID]*models.Guarantee
	commitments []*models.GuaranteeCommitment
}

func NewMockStore() *MockStore {
	return &MockStore{
		loans:      make(map[uuid.UUID]*models.Loan),
		components: make(map[uuid.UUID]map[uuid.UUID]*models.Component),
		guarantees: make(map[uuid.UUID]*models.Guarantee),
	}
}

func (m *MockStore) CreateLoan(loan *models.Loan, components []*models.Component, commitments []*models.GuaranteeCommitment) error {
	copied := *loan
	m.loans[loan.ID] = &copied
	m.components[loan.ID] = make(map[uuid.UUID]*models.Component)
	for _, comp := range components {
		c := *comp
		m.components[loan.ID][comp.ID] = &c
	}
	for _, commitment := range commitments {
		c := *commitment
		m.commitments = append(m.commitments, &c)
	}
	return nil
}

func (m *MockStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	copied := *loan
	return &copied, nil
}

func (m *MockStore) GetAllLoans() ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for id := range m.loans {
		loan, _ := m.GetLoan(id)
		loans = append(loans, loan)
	}
	return loans, nil
}

func (m *MockStore) GetAllActiveLoans() ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for id, l := range m.loans {
		if l.Status == models.LoanStatusActive {
			loan, _ := m.GetLoan(id)
			loans = append(loans, loan)
		}
	}
	return loans, nil
}

func (m *MockStore) UpdateLoan(loan *models.Loan) error {
	current, ok := m.loans[loan.ID]
	if !ok || current.Version != loan.Version {
		return fmt.Errorf("loan %s: %w", loan.ID, store.ErrConcurrentModification)
	}
	copied := *loan
	copied.Version++
	m.loans[loan.ID] = &copied
	loan.Version++
	return nil
}

func (m *MockStore) GetComponentsForLoan(loanID uuid.UUID) ([]*models.Component, error) {
	var components []*models.Component
	for _, comp := range m.components[loanID] {
		c := *comp
		components = append(components, &c)
	}
	return components, nil
}

func (m *MockStore) UpsertComponents(components []*models.Component) error {
	for _, comp := range components {
		byID, ok := m.components[comp.LoanID]
		if !ok {
			byID = make(map[uuid.UUID]*models.Component)
			m.components[comp.LoanID] = byID
		}
		c := *comp
		byID[comp.ID] = &c
	}
	return nil
}

func (m *MockStore) ApplyAllocation(loan *models.Loan, components []*models.Component, movement *models.Movement, releaseCommitments bool) error {
	if err := m.UpdateLoan(loan); err != nil {
		return err
	}
	if err := m.UpsertComponents(components); err != nil {
		return err
	}
	m.movements = append(m.movements, movement)
	if releaseCommitments {
		for _, c := range m.commitments {
			if c.LoanID == loan.ID {
				c.CommittedAmount = decimal.Zero
			}
		}
	}
	return nil
}

func (m *MockStore) GetMovementsForLoan(loanID uuid.UUID) ([]*models.Movement, error) {
	movements := []*models.Movement{}
	for _, mv := range m.movements {
		if mv.LoanID == loanID {
			movements = append(movements, mv)
		}
	}
	return movements, nil
}

func (m *MockStore) CreateGuarantee(g *models.Guarantee) error {
	copied := *g
	m.guarantees[g.ID] = &copied
	return nil
}

func (m *MockStore) GetGuarantee(id uuid.UUID) (*models.Guarantee, error) {
	g, ok := m.guarantees[id]
	if !ok {
		return nil, fmt.Errorf("guarantee %s: %w", id, store.ErrNotFound)
	}
	copied := *g
	return &copied, nil
}

func (m *MockStore) GetCommitmentsForGuarantee(guaranteeID uuid.UUID) ([]*models.GuaranteeCommitment, error) {
	commitments := []*models.GuaranteeCommitment{}
	for _, c := range m.commitments {
		if c.GuaranteeID == guaranteeID {
			copied := *c
			commitments = append(commitments, &copied)
		}
	}
	return commitments, nil
}

func (m *MockStore) GetCommitmentsForLoan(loanID uuid.UUID) ([]*models.GuaranteeCommitment, error) {
	commitments := []*models.GuaranteeCommitment{}
	for _, c := range m.commitments {
		if c.LoanID == loanID {
			copied := *c
			commitments = append(commitments, &copied)
		}
	}
	return commitments, nil
}

func (m *MockStore) ReleaseCommitmentsForLoan(loanID uuid.UUID) error {
	for _, c := range m.commitments {
		if c.LoanID == loanID {
			c.CommittedAmount = decimal.Zero
		}
	}
	return nil
}

func (m *MockStore) Close() error {
	return nil
}
