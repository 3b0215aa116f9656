package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

type snapshotStore interface {
	CountByMonth(ctx context.Context, month string) (int, error)
	BatchCreatedAt(ctx context.Context, month string) (*time.Time, error)
	InsertBatch(ctx context.Context, snapshots []models.MonthlySnapshot) (int, error)
	InsertIfAbsent(ctx context.Context, snapshot *models.MonthlySnapshot) (bool, error)
	FindByID(ctx context.Context, id string) (*models.MonthlySnapshot, error)
	List(ctx context.Context, filter models.SnapshotFilter) ([]models.MonthlySnapshot, int, error)
	Summary(ctx context.Context, filter models.SnapshotFilter) (*models.SnapshotSummary, error)
	Months(ctx context.Context) ([]string, error)
	PurgeMonth(ctx context.Context, month string) (*models.PurgeResult, error)
	UpdatePartial(ctx context.Context, id string, patch models.SnapshotUpdate) (*models.MonthlySnapshot, error)
}

type enrollmentSource interface {
	EligiblePairs(ctx context.Context, month string) ([]models.EligiblePair, error)
	Diagnostics(ctx context.Context, month string) (*models.GenerationDiagnostics, error)
	LateJoinCandidates(ctx context.Context, month string, after time.Time) ([]models.LateJoinCandidate, error)
}

type attendanceSource interface {
	Counters(ctx context.Context, groupID, studentID string, monthStart, monthEnd, joinedAt time.Time) (*models.AttendanceCounters, error)
}

type discountSource interface {
	ListActiveForMonth(ctx context.Context, studentID, groupID, month string) ([]models.DiscountRule, error)
}

type paymentCacheSource interface {
	TotalForTriple(ctx context.Context, studentID, groupID, month string) (*models.PaymentTotal, error)
}

type summaryInvalidator interface {
	Invalidate(ctx context.Context)
}

// GenerateSnapshotsRequest asks for a snapshot batch.
type GenerateSnapshotsRequest struct {
	Month string `json:"month" validate:"required"`
}

// BackfillResult reports a late-join backfill run.
type BackfillResult struct {
	Month          string `json:"month"`
	Candidates     int    `json:"candidates"`
	CreatedRecords int    `json:"created_records"`
}

// UpdateSnapshotRequest is the partial update payload for one row.
type UpdateSnapshotRequest struct {
	MonthlyStatus        *models.MonthlyStatus `json:"monthly_status,omitempty"`
	RequiredAmount       *decimal.Decimal      `json:"required_amount,omitempty"`
	PaidAmount           *decimal.Decimal      `json:"paid_amount,omitempty"`
	AttendancePercentage *float64              `json:"attendance_percentage,omitempty"`
}

// SnapshotService materialises monthly billing snapshots and keeps the
// batch lifecycle (generate, backfill, list, update, purge) together.
type SnapshotService struct {
	snapshots   snapshotStore
	enrollments enrollmentSource
	attendance  attendanceSource
	discounts   discountSource
	payments    paymentCacheSource
	summaries   summaryInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSnapshotService constructs SnapshotService.
func NewSnapshotService(snapshots snapshotStore, enrollments enrollmentSource, attendance attendanceSource, discounts discountSource, payments paymentCacheSource, summaries summaryInvalidator, validate *validator.Validate, logger *zap.Logger) *SnapshotService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotService{
		snapshots:   snapshots,
		enrollments: enrollments,
		attendance:  attendance,
		discounts:   discounts,
		payments:    payments,
		summaries:   summaries,
		validator:   validate,
		logger:      logger,
	}
}

// Generate creates the month's snapshot batch. It fails with a conflict
// when rows already exist and with a precondition failure (carrying
// eligibility diagnostics) when nothing qualifies.
func (s *SnapshotService) Generate(ctx context.Context, req GenerateSnapshotsRequest) (*models.GenerationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}
	if !models.ValidMonth(req.Month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}

	existing, err := s.snapshots.CountByMonth(ctx, req.Month)
	if err != nil {
		return nil, s.internal(err, "failed to check existing snapshots")
	}
	if existing > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrConflict, "snapshot batch already exists for month",
			map[string]interface{}{"month": req.Month, "existing_records": existing})
	}

	pairs, err := s.enrollments.EligiblePairs(ctx, req.Month)
	if err != nil {
		return nil, s.internal(err, "failed to list eligible pairs")
	}
	if len(pairs) == 0 {
		diag, diagErr := s.enrollments.Diagnostics(ctx, req.Month)
		if diagErr != nil {
			s.logger.Warn("generation diagnostics failed", zap.String("month", req.Month), zap.Error(diagErr))
			diag = &models.GenerationDiagnostics{}
		}
		return nil, appErrors.WithDetails(appErrors.ErrPreconditionFailed, "no eligible student-group pairs for month",
			map[string]interface{}{
				"month":           req.Month,
				"eligible_groups": diag.EligibleGroups,
				"eligible_links":  diag.EligibleLinks,
			})
	}

	snapshots := make([]models.MonthlySnapshot, 0, len(pairs))
	for i := range pairs {
		snapshot, err := s.buildSnapshot(ctx, req.Month, pairs[i])
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snapshot)
	}

	created, err := s.snapshots.InsertBatch(ctx, snapshots)
	if err != nil {
		return nil, s.internal(err, "failed to insert snapshot batch")
	}

	summary, err := s.snapshots.Summary(ctx, models.SnapshotFilter{Month: req.Month})
	if err != nil {
		return nil, s.internal(err, "failed to summarise snapshot batch")
	}
	s.summaries.Invalidate(ctx)

	s.logger.Info("snapshot batch generated",
		zap.String("month", req.Month),
		zap.Int("created_records", created),
	)
	return &models.GenerationResult{Month: req.Month, CreatedRecords: created, Summary: *summary}, nil
}

// Backfill inserts snapshot rows for pairs that became eligible after the
// month's batch was generated. Safe to run repeatedly: the unique key on
// (month, student, group) makes each insert a no-op the second time.
func (s *SnapshotService) Backfill(ctx context.Context, month string) (*BackfillResult, error) {
	if !models.ValidMonth(month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	batchAt, err := s.snapshots.BatchCreatedAt(ctx, month)
	if err != nil {
		return nil, s.internal(err, "failed to look up snapshot batch")
	}
	if batchAt == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no snapshot batch exists for month")
	}

	candidates, err := s.enrollments.LateJoinCandidates(ctx, month, *batchAt)
	if err != nil {
		return nil, s.internal(err, "failed to list late-join candidates")
	}

	result := &BackfillResult{Month: month, Candidates: len(candidates)}
	for i := range candidates {
		snapshot, err := s.buildSnapshot(ctx, month, candidates[i].EligiblePair)
		if err != nil {
			return nil, err
		}
		inserted, err := s.snapshots.InsertIfAbsent(ctx, snapshot)
		if err != nil {
			return nil, s.internal(err, "failed to insert late-join snapshot")
		}
		if inserted {
			result.CreatedRecords++
		}
	}
	if result.CreatedRecords > 0 {
		s.summaries.Invalidate(ctx)
	}

	s.logger.Info("late-join backfill finished",
		zap.String("month", month),
		zap.Int("candidates", result.Candidates),
		zap.Int("created_records", result.CreatedRecords),
	)
	return result, nil
}

// LateJoiners reports backfill candidates without inserting anything.
func (s *SnapshotService) LateJoiners(ctx context.Context, month string) ([]models.LateJoinCandidate, error) {
	if !models.ValidMonth(month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	batchAt, err := s.snapshots.BatchCreatedAt(ctx, month)
	if err != nil {
		return nil, s.internal(err, "failed to look up snapshot batch")
	}
	if batchAt == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no snapshot batch exists for month")
	}
	candidates, err := s.enrollments.LateJoinCandidates(ctx, month, *batchAt)
	if err != nil {
		return nil, s.internal(err, "failed to list late-join candidates")
	}
	return candidates, nil
}

// buildSnapshot assembles one frozen row: identity copied from the live
// pair, price frozen, discount summed from active rules, amounts seeded
// from the aggregate cache when present.
func (s *SnapshotService) buildSnapshot(ctx context.Context, month string, pair models.EligiblePair) (*models.MonthlySnapshot, error) {
	monthStart, monthEnd, err := models.MonthRange(month)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}

	snapshot := &models.MonthlySnapshot{
		Month:          month,
		StudentID:      pair.StudentID,
		GroupID:        pair.GroupID,
		StudentName:    pair.StudentName,
		StudentPhone:   pair.StudentPhone,
		GroupName:      pair.GroupName,
		Subject:        pair.Subject,
		TeacherName:    pair.TeacherName,
		MonthlyStatus:  pair.MonthlyStatus,
		RequiredAmount: pair.GroupPrice,
	}

	rules, err := s.discounts.ListActiveForMonth(ctx, pair.StudentID, pair.GroupID, month)
	if err != nil {
		return nil, s.internal(err, "failed to load discount rules")
	}
	snapshot.DiscountAmount = models.SumDiscounts(rules, snapshot.RequiredAmount)

	counters, err := s.attendance.Counters(ctx, pair.GroupID, pair.StudentID, monthStart, monthEnd, pair.JoinedAt)
	if err != nil {
		return nil, s.internal(err, "failed to compute attendance")
	}
	snapshot.TotalLessons = counters.TotalLessons
	snapshot.AttendedLessons = counters.AttendedLessons
	snapshot.AttendancePercentage = counters.Percentage

	total, err := s.payments.TotalForTriple(ctx, pair.StudentID, pair.GroupID, month)
	if err != nil {
		return nil, s.internal(err, "failed to load payment totals")
	}
	if total != nil {
		snapshot.PaidAmount = total.PaidAmount
		snapshot.LastPaymentDate = total.LastPaymentDate
	}

	snapshot.Recalculate()
	return snapshot, nil
}

// List returns snapshots with pagination metadata and the batch summary.
func (s *SnapshotService) List(ctx context.Context, filter models.SnapshotFilter) ([]models.MonthlySnapshot, *models.Pagination, *models.SnapshotSummary, error) {
	if !models.ValidMonth(filter.Month) {
		return nil, nil, nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	if filter.MonthlyStatus != "" && !filter.MonthlyStatus.Valid() {
		return nil, nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown monthly_status")
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown payment_status")
	}
	snapshots, total, err := s.snapshots.List(ctx, filter)
	if err != nil {
		return nil, nil, nil, s.internal(err, "failed to list snapshots")
	}
	summary, err := s.snapshots.Summary(ctx, filter)
	if err != nil {
		return nil, nil, nil, s.internal(err, "failed to summarise snapshots")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return snapshots, pagination, summary, nil
}

// Get returns one snapshot row by id.
func (s *SnapshotService) Get(ctx context.Context, id string) (*models.MonthlySnapshot, error) {
	snapshot, err := s.snapshots.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "snapshot not found")
		}
		return nil, s.internal(err, "failed to find snapshot")
	}
	return snapshot, nil
}

// Update applies a partial patch to one snapshot and rederives the
// dependent fields.
func (s *SnapshotService) Update(ctx context.Context, id string, req UpdateSnapshotRequest) (*models.MonthlySnapshot, error) {
	if req.MonthlyStatus != nil && !req.MonthlyStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown monthly_status")
	}
	if req.RequiredAmount != nil && req.RequiredAmount.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "required_amount must not be negative")
	}
	if req.PaidAmount != nil && req.PaidAmount.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "paid_amount must not be negative")
	}
	patch := models.SnapshotUpdate{
		MonthlyStatus:        req.MonthlyStatus,
		RequiredAmount:       req.RequiredAmount,
		PaidAmount:           req.PaidAmount,
		AttendancePercentage: req.AttendancePercentage,
	}
	snapshot, err := s.snapshots.UpdatePartial(ctx, id, patch)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "snapshot not found")
		}
		return nil, s.internal(err, "failed to update snapshot")
	}
	s.summaries.Invalidate(ctx)
	return snapshot, nil
}

// Purge destroys the month's billing data across all four stores.
func (s *SnapshotService) Purge(ctx context.Context, month string) (*models.PurgeResult, error) {
	if !models.ValidMonth(month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	result, err := s.snapshots.PurgeMonth(ctx, month)
	if err != nil {
		return nil, s.internal(err, "failed to purge month")
	}
	s.summaries.Invalidate(ctx)
	s.logger.Info("month purged",
		zap.String("month", month),
		zap.Int64("snapshots", result.Snapshots),
		zap.Int64("payments", result.Payments),
		zap.Int64("payment_totals", result.PaymentTotals),
		zap.Int64("discount_rules", result.DiscountRules),
	)
	return result, nil
}

// Months lists every month with a snapshot batch.
func (s *SnapshotService) Months(ctx context.Context) ([]string, error) {
	months, err := s.snapshots.Months(ctx)
	if err != nil {
		return nil, s.internal(err, "failed to list months")
	}
	return months, nil
}

// internal logs the cause and returns an opaque error to the caller.
func (s *SnapshotService) internal(err error, message string) error {
	s.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
}
