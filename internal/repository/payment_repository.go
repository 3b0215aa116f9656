package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/bekzod-dev/tcenter-api/internal/models"
)

// PaymentRepository reads the append-only ledger and the aggregate
// payment cache. All writes to both tables happen inside the snapshot
// repository's transactions via the package-level tx helpers below.
type PaymentRepository struct {
	db        *sqlx.DB
	pageLimit int
}

// NewPaymentRepository constructs the repository. pageSizeLimit caps
// requested page sizes; zero falls back to the package default.
func NewPaymentRepository(db *sqlx.DB, pageSizeLimit int) *PaymentRepository {
	return &PaymentRepository{db: db, pageLimit: pageSizeLimit}
}

const paymentColumns = `id, student_id, group_id, month, amount, method, note, created_by, created_at`

// List returns ledger rows matching the filter, newest first.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentTransaction, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.GroupID != "" {
		where = append(where, fmt.Sprintf("group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.Month != "" {
		where = append(where, fmt.Sprintf("month = $%d", len(args)+1))
		args = append(args, filter.Month)
	}
	clause := strings.Join(where, " AND ")

	page, size := normalizePaging(filter.Page, filter.PageSize, r.pageLimit)
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT `+paymentColumns+` FROM payment_transactions WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		clause, size, offset)
	var payments []models.PaymentTransaction
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM payment_transactions WHERE %s`, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// TotalForTriple returns the aggregate cache row for a (student, group,
// month) key, or nil when no payment has been recorded yet.
func (r *PaymentRepository) TotalForTriple(ctx context.Context, studentID, groupID, month string) (*models.PaymentTotal, error) {
	const query = `SELECT student_id, group_id, month, required_amount, paid_amount, last_payment_date
        FROM payment_totals WHERE student_id = $1 AND group_id = $2 AND month = $3`
	var total models.PaymentTotal
	if err := r.db.GetContext(ctx, &total, query, studentID, groupID, month); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find payment total: %w", err)
	}
	return &total, nil
}

// SumForTriple sums the ledger for a (student, group, month) key.
func (r *PaymentRepository) SumForTriple(ctx context.Context, studentID, groupID, month string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM payment_transactions
        WHERE student_id = $1 AND group_id = $2 AND month = $3`
	var sum decimal.Decimal
	if err := r.db.GetContext(ctx, &sum, query, studentID, groupID, month); err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return sum, nil
}

// MethodTotals aggregates the month's ledger per payment method.
func (r *PaymentRepository) MethodTotals(ctx context.Context, month string) ([]models.PaymentMethodTotal, error) {
	const query = `SELECT method, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total
        FROM payment_transactions WHERE month = $1
        GROUP BY method ORDER BY total DESC`
	var totals []models.PaymentMethodTotal
	if err := r.db.SelectContext(ctx, &totals, query, month); err != nil {
		return nil, fmt.Errorf("method totals: %w", err)
	}
	return totals, nil
}

func insertPaymentTx(ctx context.Context, tx *sqlx.Tx, payment *models.PaymentTransaction) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	const query = `INSERT INTO payment_transactions (` + paymentColumns + `)
        VALUES (:id, :student_id, :group_id, :month, :amount, :method, :note, :created_by, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// upsertPaymentTotalTx keeps the aggregate cache in lockstep with the
// ledger: the paid total moves by a store-side increment, never by a
// value computed in application code.
func upsertPaymentTotalTx(ctx context.Context, tx *sqlx.Tx, payment *models.PaymentTransaction, required decimal.Decimal) error {
	const query = `INSERT INTO payment_totals (student_id, group_id, month, required_amount, paid_amount, last_payment_date)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (student_id, group_id, month)
        DO UPDATE SET paid_amount = payment_totals.paid_amount + EXCLUDED.paid_amount,
                      last_payment_date = EXCLUDED.last_payment_date`
	if _, err := tx.ExecContext(ctx, query,
		payment.StudentID, payment.GroupID, payment.Month,
		required, payment.Amount, payment.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert payment total: %w", err)
	}
	return nil
}

func deletePaymentsForTripleTx(ctx context.Context, tx *sqlx.Tx, studentID, groupID, month string) error {
	const query = `DELETE FROM payment_transactions WHERE student_id = $1 AND group_id = $2 AND month = $3`
	if _, err := tx.ExecContext(ctx, query, studentID, groupID, month); err != nil {
		return fmt.Errorf("delete payments: %w", err)
	}
	return nil
}

func deletePaymentTotalTx(ctx context.Context, tx *sqlx.Tx, studentID, groupID, month string) error {
	const query = `DELETE FROM payment_totals WHERE student_id = $1 AND group_id = $2 AND month = $3`
	if _, err := tx.ExecContext(ctx, query, studentID, groupID, month); err != nil {
		return fmt.Errorf("delete payment total: %w", err)
	}
	return nil
}
