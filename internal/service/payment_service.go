package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

type paymentApplier interface {
	ApplyPayment(ctx context.Context, payment *models.PaymentTransaction) (*models.PaymentResult, error)
	ResetStudentMonth(ctx context.Context, month, studentID, groupID string) (*models.MonthlySnapshot, error)
}

type paymentLedger interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentTransaction, int, error)
	SumForTriple(ctx context.Context, studentID, groupID, month string) (decimal.Decimal, error)
	TotalForTriple(ctx context.Context, studentID, groupID, month string) (*models.PaymentTotal, error)
}

// LedgerCheck reports whether the aggregate cache agrees with the ledger
// for one (student, group, month) triple.
type LedgerCheck struct {
	StudentID    string          `json:"student_id"`
	GroupID      string          `json:"group_id"`
	Month        string          `json:"month"`
	LedgerSum    decimal.Decimal `json:"ledger_sum"`
	CachedAmount decimal.Decimal `json:"cached_amount"`
	Consistent   bool            `json:"consistent"`
}

// ApplyPaymentRequest records one payment against a snapshot row.
type ApplyPaymentRequest struct {
	StudentID string          `json:"student_id" validate:"required,uuid4"`
	GroupID   string          `json:"group_id" validate:"required,uuid4"`
	Month     string          `json:"month" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,oneof=cash card transfer other"`
	Note      *string         `json:"note,omitempty"`
}

// PaymentService validates and records payments against snapshot rows.
// The ledger insert, aggregate upsert and snapshot update all happen in
// one repository transaction.
type PaymentService struct {
	snapshots paymentApplier
	ledger    paymentLedger
	summaries summaryInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(snapshots paymentApplier, ledger paymentLedger, summaries summaryInvalidator, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		snapshots: snapshots,
		ledger:    ledger,
		summaries: summaries,
		validator: validate,
		logger:    logger,
	}
}

// Apply records a payment. The target snapshot row must already exist;
// payments never create billing rows.
func (s *PaymentService) Apply(ctx context.Context, req ApplyPaymentRequest, createdBy string) (*models.PaymentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !models.ValidMonth(req.Month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}

	payment := &models.PaymentTransaction{
		StudentID: req.StudentID,
		GroupID:   req.GroupID,
		Month:     req.Month,
		Amount:    req.Amount,
		Method:    req.Method,
		Note:      req.Note,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}

	result, err := s.snapshots.ApplyPayment(ctx, payment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no billing record for student, group and month")
		}
		s.logger.Error("failed to apply payment", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	s.summaries.Invalidate(ctx)

	s.logger.Info("payment recorded",
		zap.String("month", req.Month),
		zap.String("student_id", req.StudentID),
		zap.String("group_id", req.GroupID),
		zap.String("method", req.Method),
		zap.String("amount", req.Amount.String()),
	)
	return result, nil
}

// List returns ledger rows with pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentTransaction, *models.Pagination, error) {
	if filter.Month != "" && !models.ValidMonth(filter.Month) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	payments, total, err := s.ledger.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list payments", zap.Error(err))
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Verify cross-checks the append-only ledger against the aggregate cache
// for one triple. With every write running in a single transaction the
// two must always agree; a mismatch means someone touched the tables
// outside the engine.
func (s *PaymentService) Verify(ctx context.Context, month, studentID, groupID string) (*LedgerCheck, error) {
	if !models.ValidMonth(month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	sum, err := s.ledger.SumForTriple(ctx, studentID, groupID, month)
	if err != nil {
		s.logger.Error("failed to sum ledger", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	total, err := s.ledger.TotalForTriple(ctx, studentID, groupID, month)
	if err != nil {
		s.logger.Error("failed to load payment total", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	cached := decimal.Zero
	if total != nil {
		cached = total.PaidAmount
	}
	check := &LedgerCheck{
		StudentID:    studentID,
		GroupID:      groupID,
		Month:        month,
		LedgerSum:    sum,
		CachedAmount: cached,
		Consistent:   sum.Equal(cached),
	}
	if !check.Consistent {
		s.logger.Warn("ledger and aggregate cache disagree",
			zap.String("month", month),
			zap.String("student_id", studentID),
			zap.String("group_id", groupID),
			zap.String("ledger_sum", sum.String()),
			zap.String("cached_amount", cached.String()),
		)
	}
	return check, nil
}

// Reset wipes one student's financial state for a month: ledger rows and
// the aggregate cache go away, overlapping discount rules deactivate and
// the snapshot returns to its just-generated state.
func (s *PaymentService) Reset(ctx context.Context, month, studentID, groupID string) (*models.MonthlySnapshot, error) {
	if !models.ValidMonth(month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	snapshot, err := s.snapshots.ResetStudentMonth(ctx, month, studentID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no billing record for student, group and month")
		}
		s.logger.Error("failed to reset student month", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	s.summaries.Invalidate(ctx)

	s.logger.Info("student month reset",
		zap.String("month", month),
		zap.String("student_id", studentID),
		zap.String("group_id", groupID),
	)
	return snapshot, nil
}
