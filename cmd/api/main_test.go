package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/movendo/loanledger/pkg/ledger"
	"github.com/movendo/loanledger/pkg/models"
	"github.com/movendo/loanledger/pkg/store"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test_api.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewServer(s, ledger.Options{}, zap.NewNop())
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr
}

func TestAPI_LoanLifecycle(t *testing.T) {
	server := setupTestServer(t)
	router := server.router()

	// Register a guarantee backing the loan.
	var guarantee models.Guarantee
	rr := doJSON(t, router, "POST", "/guarantees", map[string]interface{}{
		"owner_person_id":  "p1",
		"type":             "vehicle",
		"realizable_value": 8000,
	}, &guarantee)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating guarantee, got %d: %s", rr.Code, rr.Body.String())
	}

	// Create a loan disbursed today; nothing is overdue yet.
	var created struct {
		Loan     models.Loan         `json:"loan"`
		Schedule []*models.Component `json:"schedule"`
	}
	rr = doJSON(t, router, "POST", "/loans", map[string]interface{}{
		"customer_key":      "cust1",
		"principal":         12000,
		"annual_rate":       0.24,
		"term_installments": 12,
		"frequency_days":    30,
		"currency":          "USD",
		"disbursement_date": time.Now().Format(dateLayout),
		"commitments": []map[string]interface{}{
			{"guarantee_id": guarantee.ID, "amount": 5000},
		},
	}, &created)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating loan, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(created.Schedule) != 24 {
		t.Fatalf("Expected 24 schedule components, got %d", len(created.Schedule))
	}
	loanID := created.Loan.ID

	// Guarantee availability reflects the commitment.
	var avail struct {
		AvailableValue decimal.Decimal `json:"available_value"`
	}
	doJSON(t, router, "GET", fmt.Sprintf("/guarantees/%s/available", guarantee.ID), nil, &avail)
	if !avail.AvailableValue.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("Expected 3000 available, got %s", avail.AvailableValue)
	}

	// A non-positive payment is rejected.
	rr = doJSON(t, router, "POST", fmt.Sprintf("/loans/%s/payments", loanID), map[string]interface{}{
		"amount":   0,
		"strategy": "AUTO_WATERFALL",
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero amount, got %d", rr.Code)
	}

	// Settle the first installment in full.
	firstTotal := decimal.Zero
	for _, comp := range created.Schedule {
		if comp.InstallmentNumber == 1 {
			firstTotal = firstTotal.Add(comp.OriginalAmount)
		}
	}
	var result ledger.PaymentResult
	rr = doJSON(t, router, "POST", fmt.Sprintf("/loans/%s/payments", loanID), map[string]interface{}{
		"amount":            firstTotal,
		"payment_method_id": "cash",
		"strategy":          "FULL_INSTALLMENT",
	}, &result)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for payment, got %d: %s", rr.Code, rr.Body.String())
	}
	if result.Balances.InstallmentsPaid != 1 {
		t.Errorf("Expected 1 installment paid, got %d", result.Balances.InstallmentsPaid)
	}
	if result.LoanStatus != models.LoanStatusActive {
		t.Errorf("Expected loan still ACTIVE, got %s", result.LoanStatus)
	}

	// The movement is on record.
	var movements []*models.Movement
	doJSON(t, router, "GET", fmt.Sprintf("/loans/%s/movements", loanID), nil, &movements)
	if len(movements) != 1 || len(movements[0].Allocations) != 2 {
		t.Fatalf("Expected 1 movement with 2 allocations, got %+v", movements)
	}

	// Statement reflects the settled installment.
	var statement ledger.Statement
	rr = doJSON(t, router, "GET", fmt.Sprintf("/loans/%s/statement", loanID), nil, &statement)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 for statement, got %d", rr.Code)
	}
	if len(statement.Lines) != 12 || statement.Lines[0].Status != models.ComponentPaid {
		t.Errorf("Unexpected statement: %d lines, first status %s", len(statement.Lines), statement.Lines[0].Status)
	}
	if statement.NextDueDate == nil {
		t.Error("Expected a next due date on the statement")
	}

	// An amount beyond the outstanding balance is rejected.
	rr = doJSON(t, router, "POST", fmt.Sprintf("/loans/%s/payments", loanID), map[string]interface{}{
		"amount":   999999,
		"strategy": "AUTO_WATERFALL",
	}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for overpayment, got %d", rr.Code)
	}
}

func TestAPI_ManualDistributionValidation(t *testing.T) {
	server := setupTestServer(t)
	router := server.router()

	var created struct {
		Loan models.Loan `json:"loan"`
	}
	rr := doJSON(t, router, "POST", "/loans", map[string]interface{}{
		"customer_key":      "cust2",
		"principal":         1000,
		"annual_rate":       0.12,
		"term_installments": 4,
		"frequency_days":    30,
		"currency":          "USD",
	}, &created)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating loan, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, "POST", fmt.Sprintf("/loans/%s/payments", created.Loan.ID), map[string]interface{}{
		"amount": 100.00,
		"distribution": map[string]interface{}{
			"interest": 49.99,
			"capital":  50.00,
		},
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for mismatched distribution, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_CancelLoan(t *testing.T) {
	server := setupTestServer(t)
	router := server.router()

	var created struct {
		Loan models.Loan `json:"loan"`
	}
	rr := doJSON(t, router, "POST", "/loans", map[string]interface{}{
		"customer_key":      "cust3",
		"principal":         500,
		"annual_rate":       0.10,
		"term_installments": 2,
		"frequency_days":    15,
		"currency":          "USD",
	}, &created)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating loan, got %d", rr.Code)
	}

	var cancelled models.Loan
	rr = doJSON(t, router, "POST", fmt.Sprintf("/loans/%s/cancel", created.Loan.ID), nil, &cancelled)
	if rr.Code != http.StatusOK || cancelled.Status != models.LoanStatusCancelled {
		t.Fatalf("Expected cancelled loan, got %d / %s", rr.Code, cancelled.Status)
	}

	rr = doJSON(t, router, "POST", fmt.Sprintf("/loans/%s/payments", created.Loan.ID), map[string]interface{}{
		"amount":   10,
		"strategy": "AUTO_WATERFALL",
	}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 paying a cancelled loan, got %d", rr.Code)
	}
}

func TestAPI_UnknownLoan(t *testing.T) {
	server := setupTestServer(t)
	router := server.router()

	rr := doJSON(t, router, "GET", "/loans/00000000-0000-0000-0000-000000000001", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown loan, got %d", rr.Code)
	}

	rr = doJSON(t, router, "GET", "/loans/not-a-uuid", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed loan ID, got %d", rr.Code)
	}
}
