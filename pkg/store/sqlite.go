package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/movendo/loanledger/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_key TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_rate TEXT NOT NULL,
		term_installments INTEGER NOT NULL,
		frequency_days INTEGER NOT NULL,
		bullet INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		disbursement_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS components (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		due_date DATETIME NOT NULL,
		original_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		total_amount TEXT NOT NULL,
		payment_method_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		reference_document TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS movement_allocations (
		movement_id TEXT NOT NULL,
		component_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		FOREIGN KEY(movement_id) REFERENCES movements(id),
		FOREIGN KEY(component_id) REFERENCES components(id)
	);
	CREATE TABLE IF NOT EXISTS guarantees (
		id TEXT PRIMARY KEY,
		owner_person_id TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		commercial_value TEXT NOT NULL DEFAULT '0',
		realizable_value TEXT NOT NULL DEFAULT '0'
	);
	CREATE TABLE IF NOT EXISTS guarantee_commitments (
		guarantee_id TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		committed_amount TEXT NOT NULL,
		PRIMARY KEY(guarantee_id, loan_id),
		FOREIGN KEY(guarantee_id) REFERENCES guarantees(id),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_components_loan ON components(loan_id);
	CREATE INDEX IF NOT EXISTS idx_movements_loan ON movements(loan_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateLoan inserts a loan together with its schedule components and
// guarantee commitments in one transaction.
func (s *SQLiteStore) CreateLoan(loan *models.Loan, components []*models.Component, commitments []*models.GuaranteeCommitment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO loans (id, customer_key, principal, annual_rate, term_installments, frequency_days, bullet, currency, disbursement_date, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerKey, loan.Principal, loan.AnnualRate, loan.TermInstallments, loan.FrequencyDays, loan.Bullet, loan.Currency, loan.DisbursementDate, loan.Status, loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	for _, comp := range components {
		if err := upsertComponent(tx, comp); err != nil {
			return err
		}
	}

	for _, c := range commitments {
		_, err = tx.Exec(
			`INSERT INTO guarantee_commitments (guarantee_id, loan_id, committed_amount) VALUES (?, ?, ?)`,
			c.GuaranteeID.String(), c.LoanID.String(), c.CommittedAmount,
		)
		if err != nil {
			return fmt.Errorf("failed to create guarantee commitment: %w", err)
		}
	}

	return tx.Commit()
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(
		`SELECT id, customer_key, principal, annual_rate, term_installments, frequency_days, bullet, currency, disbursement_date, status, version, created_at, updated_at
		FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(
		`SELECT id, customer_key, principal, annual_rate, term_installments, frequency_days, bullet, currency, disbursement_date, status, version, created_at, updated_at FROM loans`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

// GetAllActiveLoans retrieves all loans in ACTIVE status.
func (s *SQLiteStore) GetAllActiveLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(
		`SELECT id, customer_key, principal, annual_rate, term_installments, frequency_days, bullet, currency, disbursement_date, status, version, created_at, updated_at FROM loans WHERE status = ?`,
		models.LoanStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get active loans: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

// UpdateLoan writes a loan back with an optimistic version check; the loan's
// Version field is bumped on success.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	loan.UpdatedAt = time.Now()
	result, err := s.db.Exec(
		`UPDATE loans SET customer_key = ?, status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		loan.CustomerKey, loan.Status, loan.UpdatedAt, loan.ID.String(), loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if err := checkVersioned(result, loan.ID); err != nil {
		return err
	}
	loan.Version++
	return nil
}

// GetComponentsForLoan retrieves a loan's components ordered by due date.
func (s *SQLiteStore) GetComponentsForLoan(loanID uuid.UUID) ([]*models.Component, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, installment_number, kind, due_date, original_amount, paid_amount
		FROM components WHERE loan_id = ? ORDER BY due_date ASC, installment_number ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get components for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var components []*models.Component
	for rows.Next() {
		comp, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		components = append(components, comp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return components, nil
}

// UpsertComponents writes components outside a payment, used by standalone
// mora accrual.
func (s *SQLiteStore) UpsertComponents(components []*models.Component) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, comp := range components {
		if err := upsertComponent(tx, comp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ApplyAllocation commits one payment: the movement with its breakdown, the
// touched components, the loan (version-checked), and optionally the release
// of the loan's guarantee commitments. Everything happens in a single
// transaction.
func (s *SQLiteStore) ApplyAllocation(loan *models.Loan, components []*models.Component, movement *models.Movement, releaseCommitments bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan.UpdatedAt = time.Now()
	result, err := tx.Exec(
		`UPDATE loans SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		loan.Status, loan.UpdatedAt, loan.ID.String(), loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if err := checkVersioned(result, loan.ID); err != nil {
		return err
	}

	for _, comp := range components {
		if err := upsertComponent(tx, comp); err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		`INSERT INTO movements (id, loan_id, timestamp, total_amount, payment_method_id, strategy, reference_document, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		movement.ID.String(), movement.LoanID.String(), movement.Timestamp, movement.TotalAmount, movement.PaymentMethodID, movement.Strategy, movement.ReferenceDocument, movement.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to create movement: %w", err)
	}
	for _, a := range movement.Allocations {
		_, err = tx.Exec(
			`INSERT INTO movement_allocations (movement_id, component_id, installment_number, kind, amount) VALUES (?, ?, ?, ?, ?)`,
			movement.ID.String(), a.ComponentID.String(), a.InstallmentNumber, a.Kind, a.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to create movement allocation: %w", err)
		}
	}

	if releaseCommitments {
		_, err = tx.Exec(`UPDATE guarantee_commitments SET committed_amount = '0' WHERE loan_id = ?`, loan.ID.String())
		if err != nil {
			return fmt.Errorf("failed to release guarantee commitments: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	loan.Version++
	return nil
}

// GetMovementsForLoan retrieves a loan's movements with their allocation
// breakdowns, oldest first.
func (s *SQLiteStore) GetMovementsForLoan(loanID uuid.UUID) ([]*models.Movement, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, timestamp, total_amount, payment_method_id, strategy, reference_document, notes
		FROM movements WHERE loan_id = ? ORDER BY timestamp ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get movements for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var movements []*models.Movement
	for rows.Next() {
		var m models.Movement
		var idStr, loanIDStr string
		if err := rows.Scan(&idStr, &loanIDStr, &m.Timestamp, &m.TotalAmount, &m.PaymentMethodID, &m.Strategy, &m.ReferenceDocument, &m.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan movement row: %w", err)
		}
		m.ID = uuid.MustParse(idStr)
		m.LoanID = uuid.MustParse(loanIDStr)
		movements = append(movements, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}

	for _, m := range movements {
		if m.Allocations, err = s.getAllocations(m.ID); err != nil {
			return nil, err
		}
	}
	return movements, nil
}

func (s *SQLiteStore) getAllocations(movementID uuid.UUID) ([]models.MovementAllocation, error) {
	rows, err := s.db.Query(
		`SELECT component_id, installment_number, kind, amount FROM movement_allocations WHERE movement_id = ?`,
		movementID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get allocations for movement %s: %w", movementID, err)
	}
	defer rows.Close()

	var allocations []models.MovementAllocation
	for rows.Next() {
		var a models.MovementAllocation
		var compIDStr string
		if err := rows.Scan(&compIDStr, &a.InstallmentNumber, &a.Kind, &a.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan allocation row: %w", err)
		}
		a.ComponentID = uuid.MustParse(compIDStr)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// CreateGuarantee inserts a new guarantee.
func (s *SQLiteStore) CreateGuarantee(g *models.Guarantee) error {
	_, err := s.db.Exec(
		`INSERT INTO guarantees (id, owner_person_id, type, description, commercial_value, realizable_value)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID.String(), g.OwnerPersonID, g.Type, g.Description, g.CommercialValue, g.RealizableValue,
	)
	if err != nil {
		return fmt.Errorf("failed to create guarantee: %w", err)
	}
	return nil
}

// GetGuarantee retrieves a guarantee by its ID.
func (s *SQLiteStore) GetGuarantee(id uuid.UUID) (*models.Guarantee, error) {
	var g models.Guarantee
	var idStr string
	row := s.db.QueryRow(
		`SELECT id, owner_person_id, type, description, commercial_value, realizable_value FROM guarantees WHERE id = ?`,
		id.String())
	if err := row.Scan(&idStr, &g.OwnerPersonID, &g.Type, &g.Description, &g.CommercialValue, &g.RealizableValue); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("guarantee %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get guarantee: %w", err)
	}
	g.ID = uuid.MustParse(idStr)
	return &g, nil
}

// GetCommitmentsForGuarantee retrieves all commitments pledged from a guarantee.
func (s *SQLiteStore) GetCommitmentsForGuarantee(guaranteeID uuid.UUID) ([]*models.GuaranteeCommitment, error) {
	return s.getCommitments(`SELECT guarantee_id, loan_id, committed_amount FROM guarantee_commitments WHERE guarantee_id = ?`, guaranteeID)
}

// GetCommitmentsForLoan retrieves all commitments backing a loan.
func (s *SQLiteStore) GetCommitmentsForLoan(loanID uuid.UUID) ([]*models.GuaranteeCommitment, error) {
	return s.getCommitments(`SELECT guarantee_id, loan_id, committed_amount FROM guarantee_commitments WHERE loan_id = ?`, loanID)
}

func (s *SQLiteStore) getCommitments(query string, id uuid.UUID) ([]*models.GuaranteeCommitment, error) {
	rows, err := s.db.Query(query, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get commitments: %w", err)
	}
	defer rows.Close()

	var commitments []*models.GuaranteeCommitment
	for rows.Next() {
		var c models.GuaranteeCommitment
		var guaranteeIDStr, loanIDStr string
		if err := rows.Scan(&guaranteeIDStr, &loanIDStr, &c.CommittedAmount); err != nil {
			return nil, fmt.Errorf("failed to scan commitment row: %w", err)
		}
		c.GuaranteeID = uuid.MustParse(guaranteeIDStr)
		c.LoanID = uuid.MustParse(loanIDStr)
		commitments = append(commitments, &c)
	}
	return commitments, rows.Err()
}

// ReleaseCommitmentsForLoan zeroes the committed amounts backing a loan,
// freeing the guarantee value for other loans.
func (s *SQLiteStore) ReleaseCommitmentsForLoan(loanID uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE guarantee_commitments SET committed_amount = '0' WHERE loan_id = ?`, loanID.String())
	if err != nil {
		return fmt.Errorf("failed to release guarantee commitments: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func upsertComponent(tx *sql.Tx, comp *models.Component) error {
	_, err := tx.Exec(
		`INSERT INTO components (id, loan_id, installment_number, kind, due_date, original_amount, paid_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET original_amount = excluded.original_amount, paid_amount = excluded.paid_amount`,
		comp.ID.String(), comp.LoanID.String(), comp.InstallmentNumber, comp.Kind, comp.DueDate, comp.OriginalAmount, comp.PaidAmount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert component %s: %w", comp.ID, err)
	}
	return nil
}

func checkVersioned(result sql.Result, loanID uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", loanID, ErrConcurrentModification)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr string
	err := row.Scan(&idStr, &loan.CustomerKey, &loan.Principal, &loan.AnnualRate, &loan.TermInstallments, &loan.FrequencyDays, &loan.Bullet, &loan.Currency, &loan.DisbursementDate, &loan.Status, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func scanComponent(rows *sql.Rows) (*models.Component, error) {
	var comp models.Component
	var idStr, loanIDStr string
	if err := rows.Scan(&idStr, &loanIDStr, &comp.InstallmentNumber, &comp.Kind, &comp.DueDate, &comp.OriginalAmount, &comp.PaidAmount); err != nil {
		return nil, fmt.Errorf("failed to scan component row: %w", err)
	}
	comp.ID = uuid.MustParse(idStr)
	comp.LoanID = uuid.MustParse(loanIDStr)
	return &comp, nil
}
