package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

type discountApplier interface {
	ApplyDiscount(ctx context.Context, month, studentID, groupID string, discountType models.DiscountType, discountValue decimal.Decimal, description *string) (*models.DiscountResult, error)
}

type discountLister interface {
	ListForStudent(ctx context.Context, studentID, groupID string) ([]models.DiscountRule, error)
}

// ApplyDiscountRequest applies a discount to one snapshot row and records
// the matching month-scoped rule.
type ApplyDiscountRequest struct {
	StudentID     string              `json:"student_id" validate:"required,uuid4"`
	GroupID       string              `json:"group_id" validate:"required,uuid4"`
	Month         string              `json:"month" validate:"required"`
	DiscountType  models.DiscountType `json:"discount_type" validate:"required"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	Description   *string             `json:"description,omitempty"`
}

// DiscountService validates and applies discounts.
type DiscountService struct {
	snapshots discountApplier
	rules     discountLister
	summaries summaryInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDiscountService constructs DiscountService.
func NewDiscountService(snapshots discountApplier, rules discountLister, summaries summaryInvalidator, validate *validator.Validate, logger *zap.Logger) *DiscountService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscountService{
		snapshots: snapshots,
		rules:     rules,
		summaries: summaries,
		validator: validate,
		logger:    logger,
	}
}

// Apply sets the month's discount for one snapshot row. Percent values
// must stay within (0, 100]; fixed amounts must be positive.
func (s *DiscountService) Apply(ctx context.Context, req ApplyDiscountRequest) (*models.DiscountResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid discount payload")
	}
	if !models.ValidMonth(req.Month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	if !req.DiscountType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount_type must be percent or amount")
	}
	if !req.DiscountValue.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount_value must be positive")
	}
	if req.DiscountType == models.DiscountTypePercent && req.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "percent discount cannot exceed 100")
	}

	result, err := s.snapshots.ApplyDiscount(ctx, req.Month, req.StudentID, req.GroupID, req.DiscountType, req.DiscountValue, req.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no billing record for student, group and month")
		}
		s.logger.Error("failed to apply discount", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	s.summaries.Invalidate(ctx)

	s.logger.Info("discount applied",
		zap.String("month", req.Month),
		zap.String("student_id", req.StudentID),
		zap.String("group_id", req.GroupID),
		zap.String("discount_type", string(req.DiscountType)),
		zap.String("discount_value", req.DiscountValue.String()),
	)
	return result, nil
}

// RulesForStudent lists every discount rule recorded for a (student,
// group) pair.
func (s *DiscountService) RulesForStudent(ctx context.Context, studentID, groupID string) ([]models.DiscountRule, error) {
	rules, err := s.rules.ListForStudent(ctx, studentID, groupID)
	if err != nil {
		s.logger.Error("failed to list discount rules", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	return rules, nil
}
