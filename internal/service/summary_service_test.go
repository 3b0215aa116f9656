package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

type fakeSummaryReader struct {
	summary     models.SnapshotSummary
	groups      []models.GroupBillingBreakdown
	summaryHits int
}

func (f *fakeSummaryReader) Summary(context.Context, models.SnapshotFilter) (*models.SnapshotSummary, error) {
	f.summaryHits++
	s := f.summary
	return &s, nil
}

func (f *fakeSummaryReader) GroupBreakdown(context.Context, string) ([]models.GroupBillingBreakdown, error) {
	return f.groups, nil
}

type fakeMethodTotals struct {
	totals []models.PaymentMethodTotal
}

func (f *fakeMethodTotals) MethodTotals(context.Context, string) ([]models.PaymentMethodTotal, error) {
	return f.totals, nil
}

type memoryCache struct {
	values  map[string][]byte
	deletes int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(context.Context, string) error {
	m.deletes++
	m.values = map[string][]byte{}
	return nil
}

func TestSummaryService_MonthSummary_CachesSecondRead(t *testing.T) {
	reader := &fakeSummaryReader{
		summary: models.SnapshotSummary{TotalRecords: 80, PaidCount: 50, TotalDiscount: dec("3400000")},
		groups:  []models.GroupBillingBreakdown{{GroupID: "grp-1", GroupName: "Matematika B2", Students: 20}},
	}
	cache := newMemoryCache()
	svc := NewSummaryService(reader, &fakeMethodTotals{totals: []models.PaymentMethodTotal{{Method: "cash", Count: 30, Total: dec("12000000")}}}, cache, time.Minute, nil)

	first, err := svc.MonthSummary(context.Background(), "2025-02")
	require.NoError(t, err)
	assert.Equal(t, 80, first.Summary.TotalRecords)
	assert.True(t, first.TotalDiscount.Equal(dec("3400000")))

	second, err := svc.MonthSummary(context.Background(), "2025-02")
	require.NoError(t, err)
	assert.Equal(t, first.Month, second.Month)
	assert.Equal(t, 1, reader.summaryHits, "second read must come from cache")
}

func TestSummaryService_MonthSummary_NotFoundForEmptyMonth(t *testing.T) {
	svc := NewSummaryService(&fakeSummaryReader{}, &fakeMethodTotals{}, newMemoryCache(), time.Minute, nil)

	_, err := svc.MonthSummary(context.Background(), "2025-02")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSummaryService_Invalidate_DropsCachedMonths(t *testing.T) {
	reader := &fakeSummaryReader{summary: models.SnapshotSummary{TotalRecords: 10}}
	cache := newMemoryCache()
	svc := NewSummaryService(reader, &fakeMethodTotals{}, cache, time.Minute, nil)

	_, err := svc.MonthSummary(context.Background(), "2025-02")
	require.NoError(t, err)

	svc.Invalidate(context.Background())
	assert.Equal(t, 1, cache.deletes)

	_, err = svc.MonthSummary(context.Background(), "2025-02")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.summaryHits)
}
