package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

type fakeDiscountApplier struct {
	lastType  models.DiscountType
	lastValue decimal.Decimal
	result    *models.DiscountResult
	err       error
}

func (f *fakeDiscountApplier) ApplyDiscount(_ context.Context, _, _, _ string, discountType models.DiscountType, discountValue decimal.Decimal, _ *string) (*models.DiscountResult, error) {
	f.lastType = discountType
	f.lastValue = discountValue
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDiscountRules struct {
	rules []models.DiscountRule
}

func (f *fakeDiscountRules) ListForStudent(context.Context, string, string) ([]models.DiscountRule, error) {
	return f.rules, nil
}

func validDiscountRequest() ApplyDiscountRequest {
	return ApplyDiscountRequest{
		StudentID:     testStudentID,
		GroupID:       testGroupID,
		Month:         "2025-02",
		DiscountType:  models.DiscountTypePercent,
		DiscountValue: dec("50"),
	}
}

func TestDiscountService_Apply_PassesRuleAndInvalidates(t *testing.T) {
	applier := &fakeDiscountApplier{result: &models.DiscountResult{
		OriginalAmount:    dec("2400000"),
		DiscountAmount:    dec("1200000"),
		EffectiveRequired: dec("1200000"),
		DebtAmount:        dec("200000"),
		PaymentStatus:     models.PaymentStatusPartial,
	}}
	invalidator := &fakeInvalidator{}
	svc := NewDiscountService(applier, &fakeDiscountRules{}, invalidator, nil, nil)

	result, err := svc.Apply(context.Background(), validDiscountRequest())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartial, result.PaymentStatus)
	assert.Equal(t, models.DiscountTypePercent, applier.lastType)
	assert.True(t, applier.lastValue.Equal(dec("50")))
	assert.Equal(t, 1, invalidator.calls)
}

func TestDiscountService_Apply_RejectsInvalidPayloads(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ApplyDiscountRequest)
	}{
		{"bad month", func(r *ApplyDiscountRequest) { r.Month = "2025-13" }},
		{"unknown type", func(r *ApplyDiscountRequest) { r.DiscountType = "loyalty" }},
		{"zero value", func(r *ApplyDiscountRequest) { r.DiscountValue = dec("0") }},
		{"negative value", func(r *ApplyDiscountRequest) { r.DiscountValue = dec("-10") }},
		{"percent above hundred", func(r *ApplyDiscountRequest) { r.DiscountValue = dec("101") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			invalidator := &fakeInvalidator{}
			svc := NewDiscountService(&fakeDiscountApplier{}, &fakeDiscountRules{}, invalidator, nil, nil)

			req := validDiscountRequest()
			tc.mutate(&req)
			_, err := svc.Apply(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
			assert.Equal(t, 0, invalidator.calls)
		})
	}
}

func TestDiscountService_Apply_MapsMissingSnapshotToNotFound(t *testing.T) {
	invalidator := &fakeInvalidator{}
	svc := NewDiscountService(&fakeDiscountApplier{err: sql.ErrNoRows}, &fakeDiscountRules{}, invalidator, nil, nil)

	_, err := svc.Apply(context.Background(), validDiscountRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, invalidator.calls)
}

func TestDiscountService_RulesForStudent(t *testing.T) {
	rules := []models.DiscountRule{{
		StudentID:     testStudentID,
		GroupID:       testGroupID,
		DiscountType:  models.DiscountTypeAmount,
		DiscountValue: dec("100000"),
		StartMonth:    "2025-02",
		EndMonth:      "2025-02",
		IsActive:      true,
	}}
	svc := NewDiscountService(&fakeDiscountApplier{}, &fakeDiscountRules{rules: rules}, &fakeInvalidator{}, nil, nil)

	got, err := svc.RulesForStudent(context.Background(), testStudentID, testGroupID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.DiscountTypeAmount, got[0].DiscountType)
}
