package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/movendo/loanledger/pkg/models"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification is returned when a version-checked write
	// loses against a concurrent update. Callers may retry.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Storage defines the persistence boundary of the engine. Implementations
// must make ApplyAllocation atomic: the movement, the component updates, the
// loan update, and any commitment release commit together or not at all.
type Storage interface {
	CreateLoan(loan *models.Loan, components []*models.Component, commitments []*models.GuaranteeCommitment) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	GetAllLoans() ([]*models.Loan, error)
	GetAllActiveLoans() ([]*models.Loan, error)
	UpdateLoan(loan *models.Loan) error

	GetComponentsForLoan(loanID uuid.UUID) ([]*models.Component, error)
	UpsertComponents(components []*models.Component) error
	ApplyAllocation(loan *models.Loan, components []*models.Component, movement *models.Movement, releaseCommitments bool) error
	GetMovementsForLoan(loanID uuid.UUID) ([]*models.Movement, error)

	CreateGuarantee(guarantee *models.Guarantee) error
	GetGuarantee(id uuid.UUID) (*models.Guarantee, error)
	GetCommitmentsForGuarantee(guaranteeID uuid.UUID) ([]*models.GuaranteeCommitment, error)
	GetCommitmentsForLoan(loanID uuid.UUID) ([]*models.GuaranteeCommitment, error)
	ReleaseCommitmentsForLoan(loanID uuid.UUID) error

	Close() error
}
