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

type fakePaymentApplier struct {
	lastPayment *models.PaymentTransaction
	result      *models.PaymentResult
	resetSnap   *models.MonthlySnapshot
	err         error
}

func (f *fakePaymentApplier) ApplyPayment(_ context.Context, payment *models.PaymentTransaction) (*models.PaymentResult, error) {
	f.lastPayment = payment
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakePaymentApplier) ResetStudentMonth(context.Context, string, string, string) (*models.MonthlySnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resetSnap, nil
}

type fakeLedger struct {
	payments  []models.PaymentTransaction
	total     int
	ledgerSum decimal.Decimal
	cached    *models.PaymentTotal
}

func (f *fakeLedger) List(context.Context, models.PaymentFilter) ([]models.PaymentTransaction, int, error) {
	return f.payments, f.total, nil
}

func (f *fakeLedger) SumForTriple(context.Context, string, string, string) (decimal.Decimal, error) {
	return f.ledgerSum, nil
}

func (f *fakeLedger) TotalForTriple(context.Context, string, string, string) (*models.PaymentTotal, error) {
	return f.cached, nil
}

const (
	testStudentID = "8f14e45f-ceea-467f-a9c9-7b5a2e3c1d0a"
	testGroupID   = "45c48cce-2e2d-4fbc-aa1c-6d9f8e7b5a3c"
)

func validPaymentRequest() ApplyPaymentRequest {
	return ApplyPaymentRequest{
		StudentID: testStudentID,
		GroupID:   testGroupID,
		Month:     "2025-02",
		Amount:    dec("200000"),
		Method:    "cash",
	}
}

func TestPaymentService_Apply_StampsActorAndInvalidates(t *testing.T) {
	applier := &fakePaymentApplier{result: &models.PaymentResult{
		PaidAmount:    dec("1200000"),
		DebtAmount:    dec("0"),
		PaymentStatus: models.PaymentStatusPaid,
	}}
	invalidator := &fakeInvalidator{}
	svc := NewPaymentService(applier, &fakeLedger{}, invalidator, nil, nil)

	result, err := svc.Apply(context.Background(), validPaymentRequest(), "user-7")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, result.PaymentStatus)
	require.NotNil(t, applier.lastPayment)
	assert.Equal(t, "user-7", applier.lastPayment.CreatedBy)
	assert.False(t, applier.lastPayment.CreatedAt.IsZero())
	assert.Equal(t, 1, invalidator.calls)
}

func TestPaymentService_Apply_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewPaymentService(&fakePaymentApplier{}, &fakeLedger{}, &fakeInvalidator{}, nil, nil)

	req := validPaymentRequest()
	req.Amount = dec("0")
	_, err := svc.Apply(context.Background(), req, "user-7")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req.Amount = dec("-5000")
	_, err = svc.Apply(context.Background(), req, "user-7")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPaymentService_Apply_RejectsUnknownMethod(t *testing.T) {
	svc := NewPaymentService(&fakePaymentApplier{}, &fakeLedger{}, &fakeInvalidator{}, nil, nil)

	req := validPaymentRequest()
	req.Method = "crypto"
	_, err := svc.Apply(context.Background(), req, "user-7")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPaymentService_Apply_MapsMissingSnapshotToNotFound(t *testing.T) {
	invalidator := &fakeInvalidator{}
	svc := NewPaymentService(&fakePaymentApplier{err: sql.ErrNoRows}, &fakeLedger{}, invalidator, nil, nil)

	_, err := svc.Apply(context.Background(), validPaymentRequest(), "user-7")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, invalidator.calls)
}

func TestPaymentService_Reset_ReturnsSnapshot(t *testing.T) {
	snap := &models.MonthlySnapshot{
		Month:          "2025-02",
		RequiredAmount: dec("900000"),
		DebtAmount:     dec("900000"),
		PaymentStatus:  models.PaymentStatusUnpaid,
	}
	invalidator := &fakeInvalidator{}
	svc := NewPaymentService(&fakePaymentApplier{resetSnap: snap}, &fakeLedger{}, invalidator, nil, nil)

	result, err := svc.Reset(context.Background(), "2025-02", testStudentID, testGroupID)
	require.NoError(t, err)
	assert.True(t, result.PaidAmount.IsZero())
	assert.Equal(t, models.PaymentStatusUnpaid, result.PaymentStatus)
	assert.Equal(t, 1, invalidator.calls)
}

func TestPaymentService_Reset_NotFound(t *testing.T) {
	svc := NewPaymentService(&fakePaymentApplier{err: sql.ErrNoRows}, &fakeLedger{}, &fakeInvalidator{}, nil, nil)

	_, err := svc.Reset(context.Background(), "2025-02", testStudentID, testGroupID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPaymentService_Verify_AgreementAndMismatch(t *testing.T) {
	consistent := &fakeLedger{
		ledgerSum: dec("1200000"),
		cached:    &models.PaymentTotal{PaidAmount: dec("1200000")},
	}
	svc := NewPaymentService(&fakePaymentApplier{}, consistent, &fakeInvalidator{}, nil, nil)

	check, err := svc.Verify(context.Background(), "2025-02", testStudentID, testGroupID)
	require.NoError(t, err)
	assert.True(t, check.Consistent)

	drifted := &fakeLedger{
		ledgerSum: dec("1200000"),
		cached:    &models.PaymentTotal{PaidAmount: dec("1000000")},
	}
	svc = NewPaymentService(&fakePaymentApplier{}, drifted, &fakeInvalidator{}, nil, nil)

	check, err = svc.Verify(context.Background(), "2025-02", testStudentID, testGroupID)
	require.NoError(t, err)
	assert.False(t, check.Consistent)
	assert.True(t, check.LedgerSum.Equal(dec("1200000")))
	assert.True(t, check.CachedAmount.Equal(dec("1000000")))
}

func TestPaymentService_Verify_MissingCacheRowReadsAsZero(t *testing.T) {
	ledger := &fakeLedger{ledgerSum: dec("0")}
	svc := NewPaymentService(&fakePaymentApplier{}, ledger, &fakeInvalidator{}, nil, nil)

	check, err := svc.Verify(context.Background(), "2025-02", testStudentID, testGroupID)
	require.NoError(t, err)
	assert.True(t, check.Consistent, "no payments anywhere is consistent")
}

func TestPaymentService_List_PaginationDefaults(t *testing.T) {
	svc := NewPaymentService(&fakePaymentApplier{}, &fakeLedger{total: 7}, &fakeInvalidator{}, nil, nil)

	_, pagination, err := svc.List(context.Background(), models.PaymentFilter{Month: "2025-02"})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 50, pagination.PageSize)
	assert.Equal(t, 7, pagination.TotalCount)
}
