package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/movendo/loanledger/pkg/config"
	"github.com/movendo/loanledger/pkg/ledger"
	"github.com/movendo/loanledger/pkg/mora"
	"github.com/movendo/loanledger/pkg/schedule"
	"github.com/movendo/loanledger/pkg/store"
)

const dateLayout = "2006-01-02"

// paymentRetries bounds automatic retries on optimistic-lock conflicts.
const paymentRetries = 3

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	logger  *zap.Logger
}

func NewServer(s store.Storage, opts ledger.Options, logger *zap.Logger) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, opts, logger),
		storage: s,
		logger:  logger,
	}
}

func moraPolicy(dailyRate float64) mora.Policy {
	return mora.DailyRatePolicy{Rate: decimal.NewFromFloat(dailyRate)}
}

// initializeLogger creates a zap logger based on configuration.
func initializeLogger(loggingConfig config.LoggingConfig) (*zap.Logger, error) {
	level := loggingConfig.Level
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	format := loggingConfig.Format
	if format == "" {
		format = "json"
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}

// writeError maps engine errors to HTTP statuses. Validation failures carry
// their full context to the client.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, schedule.ErrInvalidLoanTerms),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrDistributionMismatch),
		errors.Is(err, ledger.ErrUnknownStrategy):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrLoanNotPayable),
		errors.Is(err, ledger.ErrDistributionExceedsBalance),
		errors.Is(err, ledger.ErrInsufficientAmountForFullInstallment),
		errors.Is(err, ledger.ErrNoPenaltyOutstanding),
		errors.Is(err, ledger.ErrOverpaymentNotSupported),
		errors.Is(err, ledger.ErrInsufficientCollateralValue):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
		s.logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func loanIDFromRequest(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

type commitmentRequest struct {
	GuaranteeID uuid.UUID       `json:"guarantee_id"`
	Amount      decimal.Decimal `json:"amount"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerKey      string              `json:"customer_key"`
		Principal        decimal.Decimal     `json:"principal"`
		AnnualRate       decimal.Decimal     `json:"annual_rate"`
		TermInstallments int                 `json:"term_installments"`
		FrequencyDays    int                 `json:"frequency_days"`
		Bullet           bool                `json:"bullet"`
		Currency         string              `json:"currency"`
		DisbursementDate string              `json:"disbursement_date"`
		Commitments      []commitmentRequest `json:"commitments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	input := ledger.CreateLoanInput{
		CustomerKey:      req.CustomerKey,
		Principal:        req.Principal,
		AnnualRate:       req.AnnualRate,
		TermInstallments: req.TermInstallments,
		FrequencyDays:    req.FrequencyDays,
		Bullet:           req.Bullet,
		Currency:         req.Currency,
	}
	if req.DisbursementDate != "" {
		d, err := time.Parse(dateLayout, req.DisbursementDate)
		if err != nil {
			http.Error(w, "Invalid disbursement date", http.StatusBadRequest)
			return
		}
		input.DisbursementDate = d
	}
	for _, c := range req.Commitments {
		input.Commitments = append(input.Commitments, ledger.CommitmentInput{
			GuaranteeID: c.GuaranteeID,
			Amount:      c.Amount,
		})
	}

	loan, components, err := s.ledger.CreateLoan(input)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"loan":     loan,
		"schedule": components,
	})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := loanIDFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := loanIDFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	components, err := s.ledger.GetSchedule(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, components)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := loanIDFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount            decimal.Decimal      `json:"amount"`
		PaymentMethodID   string               `json:"payment_method_id"`
		Strategy          string               `json:"strategy"`
		InstallmentNumber int                  `json:"installment_number"`
		Distribution      *ledger.Distribution `json:"distribution"`
		ReferenceDocument string               `json:"reference_document"`
		Notes             string               `json:"notes"`
		Date              string               `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	strategy := ledger.AutoWaterfall
	if req.Strategy != "" {
		if strategy, err = ledger.ParseStrategy(req.Strategy); err != nil {
			s.writeError(w, err)
			return
		}
	}

	payment := ledger.PaymentRequest{
		LoanID:            loanID,
		Amount:            req.Amount,
		PaymentMethodID:   req.PaymentMethodID,
		Strategy:          strategy,
		InstallmentNumber: req.InstallmentNumber,
		Distribution:      req.Distribution,
		ReferenceDocument: req.ReferenceDocument,
		Notes:             req.Notes,
	}
	if req.Date != "" {
		d, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			http.Error(w, "Invalid payment date", http.StatusBadRequest)
			return
		}
		payment.Date = d
	}

	var result *ledger.PaymentResult
	for attempt := 0; attempt < paymentRetries; attempt++ {
		result, err = s.ledger.ApplyPayment(payment)
		if !errors.Is(err, store.ErrConcurrentModification) {
			break
		}
		s.logger.Warn("payment conflicted, retrying",
			zap.String("loan_id", loanID.String()), zap.Int("attempt", attempt+1))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) getStatementHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := loanIDFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	asOf := time.Now()
	if q := r.URL.Query().Get("asOf"); q != "" {
		if asOf, err = time.Parse(dateLayout, q); err != nil {
			http.Error(w, "Invalid asOf date", http.StatusBadRequest)
			return
		}
	}

	statement, err := s.ledger.Statement(loanID, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (s *Server) listMovementsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := loanIDFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	movements, err := s.ledger.GetMovements(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (s *Server) cancelLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := loanIDFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	loan, err := s.ledger.CancelLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) createGuaranteeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerPersonID   string          `json:"owner_person_id"`
		Type            string          `json:"type"`
		Description     string          `json:"description"`
		CommercialValue decimal.Decimal `json:"commercial_value"`
		RealizableValue decimal.Decimal `json:"realizable_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	guarantee, err := s.ledger.CreateGuarantee(ledger.CreateGuaranteeInput{
		OwnerPersonID:   req.OwnerPersonID,
		Type:            req.Type,
		Description:     req.Description,
		CommercialValue: req.CommercialValue,
		RealizableValue: req.RealizableValue,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, guarantee)
}

func (s *Server) guaranteeAvailableHandler(w http.ResponseWriter, r *http.Request) {
	guaranteeID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid guarantee ID", http.StatusBadRequest)
		return
	}
	available, err := s.ledger.AvailableValue(guaranteeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"available_value": available})
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/statement", s.getStatementHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/movements", s.listMovementsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/cancel", s.cancelLoanHandler).Methods("POST")
	router.HandleFunc("/guarantees", s.createGuaranteeHandler).Methods("POST")
	router.HandleFunc("/guarantees/{id}/available", s.guaranteeAvailableHandler).Methods("GET")
	return router
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfiguration(*configPath)
	if err != nil {
		cfg = config.Default()
	}

	logger, err := initializeLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return
	}
	defer logger.Sync()

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to initialize SQLite store", zap.Error(err))
	}
	defer sqliteStore.Close()

	opts := ledger.Options{
		PenaltyPolicy:   nil,
		AllowPrepayment: cfg.Engine.AllowPrepayment,
	}
	if cfg.Engine.PenaltyDailyRate > 0 {
		opts.PenaltyPolicy = moraPolicy(cfg.Engine.PenaltyDailyRate)
	}

	server := NewServer(sqliteStore, opts, logger)

	// Periodic mora re-accrual over active loans.
	if cfg.Engine.AccrualSweepMinutes > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.Engine.AccrualSweepMinutes) * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				logger.Debug("running mora accrual sweep")
				server.ledger.AccrueAll(time.Now())
			}
		}()
	}

	logger.Info("server starting", zap.String("address", cfg.ListenAddress))
	logger.Fatal("server stopped", zap.Error(http.ListenAndServe(cfg.ListenAddress, server.router())))
}
