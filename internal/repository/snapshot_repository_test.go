package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bekzod-dev/tcenter-api/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSnapshotRepository_CountByMonth(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM monthly_snapshots WHERE month = \$1`).
		WithArgs("2025-02").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := repo.CountByMonth(context.Background(), "2025-02")
	require.NoError(t, err)
	assert.Equal(t, 12, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_ApplyPayment_RunsWholeSequenceInOneTx(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	payment := &models.PaymentTransaction{
		StudentID: "stu-1",
		GroupID:   "grp-1",
		Month:     "2025-02",
		Amount:    dec("200000"),
		Method:    "cash",
		CreatedBy: "user-7",
		CreatedAt: time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE monthly_snapshots\s+SET paid_amount = paid_amount \+ \$4`).
		WithArgs("2025-02", "stu-1", "grp-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "user-7").
		WillReturnRows(sqlmock.NewRows([]string{"paid_amount", "required_amount", "discount_amount", "monthly_status"}).
			AddRow("1200000", "2400000", "1200000", "active"))
	mock.ExpectExec(`INSERT INTO payment_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO payment_totals`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE monthly_snapshots SET debt_amount = \$4, payment_status = \$5`).
		WithArgs("2025-02", "stu-1", "grp-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.ApplyPayment(context.Background(), payment)
	require.NoError(t, err)
	assert.True(t, result.PaidAmount.Equal(dec("1200000")))
	assert.True(t, result.DebtAmount.IsZero(), "debt %s", result.DebtAmount)
	assert.Equal(t, models.PaymentStatusPaid, result.PaymentStatus)
	assert.NotEmpty(t, payment.ID, "ledger id assigned inside tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_ApplyPayment_MissingSnapshotRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE monthly_snapshots\s+SET paid_amount = paid_amount \+ \$4`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.ApplyPayment(context.Background(), &models.PaymentTransaction{
		StudentID: "stu-1", GroupID: "grp-1", Month: "2025-02", Amount: dec("200000"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_ApplyDiscount_OverwritesScopedRuleAndRecomputes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT paid_amount, required_amount, discount_amount, monthly_status\s+FROM monthly_snapshots[\s\S]+FOR UPDATE`).
		WithArgs("2025-02", "stu-1", "grp-1").
		WillReturnRows(sqlmock.NewRows([]string{"paid_amount", "required_amount", "discount_amount", "monthly_status"}).
			AddRow("1000000", "2400000", "0", "active"))
	mock.ExpectExec(`UPDATE discount_rules\s+SET discount_type = \$4`).
		WithArgs("stu-1", "grp-1", "2025-02", "percent", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE monthly_snapshots\s+SET discount_amount = \$4, debt_amount = \$5, payment_status = \$6`).
		WithArgs("2025-02", "stu-1", "grp-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.ApplyDiscount(context.Background(), "2025-02", "stu-1", "grp-1",
		models.DiscountTypePercent, dec("50"), nil)
	require.NoError(t, err)
	assert.True(t, result.DiscountAmount.Equal(dec("1200000")), "discount %s", result.DiscountAmount)
	assert.True(t, result.EffectiveRequired.Equal(dec("1200000")))
	assert.True(t, result.DebtAmount.Equal(dec("200000")), "debt recomputed against stored paid_amount")
	assert.Equal(t, models.PaymentStatusPartial, result.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_ApplyDiscount_InsertsRuleWhenNoneScoped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT paid_amount, required_amount, discount_amount, monthly_status\s+FROM monthly_snapshots[\s\S]+FOR UPDATE`).
		WithArgs("2025-02", "stu-1", "grp-1").
		WillReturnRows(sqlmock.NewRows([]string{"paid_amount", "required_amount", "discount_amount", "monthly_status"}).
			AddRow("0", "900000", "0", "active"))
	mock.ExpectExec(`UPDATE discount_rules\s+SET discount_type = \$4`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO discount_rules`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE monthly_snapshots\s+SET discount_amount = \$4, debt_amount = \$5, payment_status = \$6`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.ApplyDiscount(context.Background(), "2025-02", "stu-1", "grp-1",
		models.DiscountTypeAmount, dec("100000"), nil)
	require.NoError(t, err)
	assert.True(t, result.DiscountAmount.Equal(dec("100000")), "fixed amounts pass through untouched")
	assert.True(t, result.DebtAmount.Equal(dec("800000")))
	assert.Equal(t, models.PaymentStatusUnpaid, result.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_ApplyDiscount_MissingSnapshotRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT paid_amount, required_amount, discount_amount, monthly_status\s+FROM monthly_snapshots[\s\S]+FOR UPDATE`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.ApplyDiscount(context.Background(), "2025-02", "stu-1", "grp-1",
		models.DiscountTypePercent, dec("50"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_List_ClampsPageSizeToConfiguredLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 25)

	mock.ExpectQuery(`SELECT [\s\S]+ FROM monthly_snapshots WHERE month = \$1 ORDER BY student_name ASC LIMIT 25 OFFSET 0`).
		WithArgs("2025-02").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM monthly_snapshots WHERE month = \$1`).
		WithArgs("2025-02").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.SnapshotFilter{Month: "2025-02", PageSize: 500})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_PurgeMonth_ReportsPerTableCounts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM payment_transactions WHERE month = \$1`).
		WithArgs("2025-02").
		WillReturnResult(sqlmock.NewResult(0, 34))
	mock.ExpectExec(`DELETE FROM payment_totals WHERE month = \$1`).
		WithArgs("2025-02").
		WillReturnResult(sqlmock.NewResult(0, 20))
	mock.ExpectExec(`DELETE FROM monthly_snapshots WHERE month = \$1`).
		WithArgs("2025-02").
		WillReturnResult(sqlmock.NewResult(0, 120))
	mock.ExpectExec(`DELETE FROM discount_rules WHERE start_month = \$1 AND end_month = \$1`).
		WithArgs("2025-02").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`UPDATE discount_rules SET is_active = FALSE`).
		WithArgs("2025-02").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.PurgeMonth(context.Background(), "2025-02")
	require.NoError(t, err)
	assert.Equal(t, int64(120), result.Snapshots)
	assert.Equal(t, int64(34), result.Payments)
	assert.Equal(t, int64(20), result.PaymentTotals)
	assert.Equal(t, int64(5), result.DiscountRules)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_InsertIfAbsent_ConflictReturnsFalse(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	mock.ExpectExec(`INSERT INTO monthly_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.InsertIfAbsent(context.Background(), &models.MonthlySnapshot{
		Month: "2025-02", StudentID: "stu-1", GroupID: "grp-1",
		MonthlyStatus: models.MonthlyStatusActive, PaymentStatus: models.PaymentStatusUnpaid,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_BatchCreatedAt_NilWhenNoBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, 0)

	mock.ExpectQuery(`SELECT MIN\(created_at\) FROM monthly_snapshots WHERE month = \$1`).
		WithArgs("2025-02").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))

	created, err := repo.BatchCreatedAt(context.Background(), "2025-02")
	require.NoError(t, err)
	assert.Nil(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}
