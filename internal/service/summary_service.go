package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

const summaryCacheKeyPrefix = "billing:summary:"

type summarySnapshotReader interface {
	Summary(ctx context.Context, filter models.SnapshotFilter) (*models.SnapshotSummary, error)
	GroupBreakdown(ctx context.Context, month string) ([]models.GroupBillingBreakdown, error)
}

type methodTotalReader interface {
	MethodTotals(ctx context.Context, month string) ([]models.PaymentMethodTotal, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// SummaryService builds the cached per-month billing overview.
type SummaryService struct {
	snapshots summarySnapshotReader
	payments  methodTotalReader
	cache     summaryCache
	ttl       time.Duration
	logger    *zap.Logger
}

// NewSummaryService constructs SummaryService.
func NewSummaryService(snapshots summarySnapshotReader, payments methodTotalReader, cache summaryCache, ttl time.Duration, logger *zap.Logger) *SummaryService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{
		snapshots: snapshots,
		payments:  payments,
		cache:     cache,
		ttl:       ttl,
		logger:    logger,
	}
}

// MonthSummary returns the month's billing overview, served from cache
// when possible. Any write against the month invalidates the cache.
func (s *SummaryService) MonthSummary(ctx context.Context, month string) (*models.MonthBillingSummary, error) {
	if !models.ValidMonth(month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}

	key := summaryCacheKeyPrefix + month
	var cached models.MonthBillingSummary
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if err != appErrors.ErrCacheMiss {
		s.logger.Warn("summary cache read failed", zap.String("month", month), zap.Error(err))
	}

	summary, err := s.snapshots.Summary(ctx, models.SnapshotFilter{Month: month})
	if err != nil {
		s.logger.Error("failed to summarise month", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	if summary.TotalRecords == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no snapshot batch exists for month")
	}
	groups, err := s.snapshots.GroupBreakdown(ctx, month)
	if err != nil {
		s.logger.Error("failed to break down month per group", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	methods, err := s.payments.MethodTotals(ctx, month)
	if err != nil {
		s.logger.Error("failed to total payment methods", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}

	result := &models.MonthBillingSummary{
		Month:         month,
		Summary:       *summary,
		Groups:        groups,
		MethodTotals:  methods,
		TotalDiscount: summary.TotalDiscount,
	}

	if err := s.cache.Set(ctx, key, result, s.ttl); err != nil {
		s.logger.Warn("summary cache write failed", zap.String("month", month), zap.Error(err))
	}
	return result, nil
}

// Invalidate drops every cached month summary. Called after any write
// that changes snapshot amounts. Failures only log; the cache entries
// expire on their own TTL anyway.
func (s *SummaryService) Invalidate(ctx context.Context) {
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("%s*", summaryCacheKeyPrefix)); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.Error(err))
	}
}
