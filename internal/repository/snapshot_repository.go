package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/bekzod-dev/tcenter-api/internal/models"
)

// SnapshotRepository handles persistence of monthly billing snapshots and
// owns the transactional reconciliation sequences that span the ledger,
// the aggregate cache and the snapshot table.
type SnapshotRepository struct {
	db        *sqlx.DB
	pageLimit int
}

// NewSnapshotRepository constructs the repository. pageSizeLimit caps
// requested page sizes; zero falls back to the package default.
func NewSnapshotRepository(db *sqlx.DB, pageSizeLimit int) *SnapshotRepository {
	return &SnapshotRepository{db: db, pageLimit: pageSizeLimit}
}

const (
	defaultPageSize     = 50
	fallbackPageSizeCap = 200
)

func normalizePaging(page, size, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if limit <= 0 {
		limit = fallbackPageSizeCap
	}
	if size > limit {
		size = limit
	}
	return page, size
}

const snapshotColumns = `id, month, student_id, group_id, student_name, student_phone, group_name, subject, teacher_name,
        monthly_status, payment_status, required_amount, discount_amount, paid_amount, debt_amount,
        total_lessons, attended_lessons, attendance_percentage, last_payment_date, payment_made_by, created_at, updated_at`

// CountByMonth returns how many snapshot rows exist for a month.
func (r *SnapshotRepository) CountByMonth(ctx context.Context, month string) (int, error) {
	const query = `SELECT COUNT(*) FROM monthly_snapshots WHERE month = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, month); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return count, nil
}

// BatchCreatedAt returns the creation timestamp of the month's snapshot
// batch, or nil when no batch exists.
func (r *SnapshotRepository) BatchCreatedAt(ctx context.Context, month string) (*time.Time, error) {
	const query = `SELECT MIN(created_at) FROM monthly_snapshots WHERE month = $1`
	var created *time.Time
	if err := r.db.GetContext(ctx, &created, query, month); err != nil {
		return nil, fmt.Errorf("batch created at: %w", err)
	}
	return created, nil
}

// InsertBatch persists a freshly generated snapshot batch in one
// transaction so a mid-batch failure leaves no partial month behind.
func (r *SnapshotRepository) InsertBatch(ctx context.Context, snapshots []models.MonthlySnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot batch: %w", err)
	}
	now := time.Now().UTC()
	for i := range snapshots {
		if snapshots[i].ID == "" {
			snapshots[i].ID = uuid.NewString()
		}
		snapshots[i].CreatedAt = now
		snapshots[i].UpdatedAt = now
		if err := insertSnapshotTx(ctx, tx, &snapshots[i]); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot batch: %w", err)
	}
	return len(snapshots), nil
}

// InsertIfAbsent inserts a late-join snapshot row, relying on the unique
// (month, student_id, group_id) key so repeated backfills never duplicate.
func (r *SnapshotRepository) InsertIfAbsent(ctx context.Context, snapshot *models.MonthlySnapshot) (bool, error) {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	snapshot.CreatedAt = now
	snapshot.UpdatedAt = now
	const query = `INSERT INTO monthly_snapshots (` + snapshotColumns + `)
        VALUES (:id, :month, :student_id, :group_id, :student_name, :student_phone, :group_name, :subject, :teacher_name,
                :monthly_status, :payment_status, :required_amount, :discount_amount, :paid_amount, :debt_amount,
                :total_lessons, :attended_lessons, :attendance_percentage, :last_payment_date, :payment_made_by, :created_at, :updated_at)
        ON CONFLICT (month, student_id, group_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, snapshot)
	if err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert snapshot result: %w", err)
	}
	return affected > 0, nil
}

func insertSnapshotTx(ctx context.Context, tx *sqlx.Tx, snapshot *models.MonthlySnapshot) error {
	const query = `INSERT INTO monthly_snapshots (` + snapshotColumns + `)
        VALUES (:id, :month, :student_id, :group_id, :student_name, :student_phone, :group_name, :subject, :teacher_name,
                :monthly_status, :payment_status, :required_amount, :discount_amount, :paid_amount, :debt_amount,
                :total_lessons, :attended_lessons, :attendance_percentage, :last_payment_date, :payment_made_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, snapshot); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// FindByID returns a snapshot by primary key.
func (r *SnapshotRepository) FindByID(ctx context.Context, id string) (*models.MonthlySnapshot, error) {
	const query = `SELECT ` + snapshotColumns + ` FROM monthly_snapshots WHERE id = $1`
	var snapshot models.MonthlySnapshot
	if err := r.db.GetContext(ctx, &snapshot, query, id); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// FindByTriple returns the snapshot for a (month, student, group) key.
func (r *SnapshotRepository) FindByTriple(ctx context.Context, month, studentID, groupID string) (*models.MonthlySnapshot, error) {
	const query = `SELECT ` + snapshotColumns + ` FROM monthly_snapshots WHERE month = $1 AND student_id = $2 AND group_id = $3`
	var snapshot models.MonthlySnapshot
	if err := r.db.GetContext(ctx, &snapshot, query, month, studentID, groupID); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func snapshotFilterClause(filter models.SnapshotFilter) (string, []interface{}) {
	where := []string{"month = $1"}
	args := []interface{}{filter.Month}
	if filter.GroupID != "" {
		where = append(where, fmt.Sprintf("group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.MonthlyStatus != "" {
		where = append(where, fmt.Sprintf("monthly_status = $%d", len(args)+1))
		args = append(args, filter.MonthlyStatus)
	}
	if filter.PaymentStatus != "" {
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)+1))
		args = append(args, filter.PaymentStatus)
	}
	if filter.Teacher != "" {
		where = append(where, fmt.Sprintf("teacher_name = $%d", len(args)+1))
		args = append(args, filter.Teacher)
	}
	if filter.Subject != "" {
		where = append(where, fmt.Sprintf("subject = $%d", len(args)+1))
		args = append(args, filter.Subject)
	}
	return strings.Join(where, " AND "), args
}

// List returns snapshots matching the filter plus the total match count.
func (r *SnapshotRepository) List(ctx context.Context, filter models.SnapshotFilter) ([]models.MonthlySnapshot, int, error) {
	clause, args := snapshotFilterClause(filter)

	allowedSorts := map[string]string{
		"student_name": "student_name",
		"group_name":   "group_name",
		"debt_amount":  "debt_amount",
		"created_at":   "created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "student_name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page, size := normalizePaging(filter.Page, filter.PageSize, r.pageLimit)
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT `+snapshotColumns+` FROM monthly_snapshots WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		clause, orderBy, order, size, offset)

	var snapshots []models.MonthlySnapshot
	if err := r.db.SelectContext(ctx, &snapshots, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list snapshots: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM monthly_snapshots WHERE %s`, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count snapshots: %w", err)
	}
	return snapshots, total, nil
}

// ListForExport returns every snapshot matching the filter without
// pagination, ordered for a stable spreadsheet.
func (r *SnapshotRepository) ListForExport(ctx context.Context, filter models.SnapshotFilter) ([]models.MonthlySnapshot, error) {
	clause, args := snapshotFilterClause(filter)
	query := fmt.Sprintf(`SELECT `+snapshotColumns+` FROM monthly_snapshots WHERE %s ORDER BY group_name ASC, student_name ASC`, clause)
	var snapshots []models.MonthlySnapshot
	if err := r.db.SelectContext(ctx, &snapshots, query, args...); err != nil {
		return nil, fmt.Errorf("list snapshots for export: %w", err)
	}
	return snapshots, nil
}

// Summary aggregates snapshots matching the filter.
func (r *SnapshotRepository) Summary(ctx context.Context, filter models.SnapshotFilter) (*models.SnapshotSummary, error) {
	clause, args := snapshotFilterClause(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) AS total_records,
        COUNT(*) FILTER (WHERE payment_status = 'paid') AS paid_count,
        COUNT(*) FILTER (WHERE payment_status = 'partial') AS partial_count,
        COUNT(*) FILTER (WHERE payment_status = 'unpaid') AS unpaid_count,
        COUNT(*) FILTER (WHERE payment_status = 'inactive') AS inactive_count,
        COALESCE(SUM(required_amount), 0) AS total_required,
        COALESCE(SUM(discount_amount), 0) AS total_discount,
        COALESCE(SUM(paid_amount), 0) AS total_paid,
        COALESCE(SUM(debt_amount), 0) AS total_debt
        FROM monthly_snapshots WHERE %s`, clause)
	var summary models.SnapshotSummary
	if err := r.db.GetContext(ctx, &summary, query, args...); err != nil {
		return nil, fmt.Errorf("summarise snapshots: %w", err)
	}
	return &summary, nil
}

// GroupBreakdown aggregates a month's snapshots per group.
func (r *SnapshotRepository) GroupBreakdown(ctx context.Context, month string) ([]models.GroupBillingBreakdown, error) {
	const query = `SELECT group_id, group_name, COUNT(*) AS students,
        COALESCE(SUM(required_amount - discount_amount), 0) AS total_required,
        COALESCE(SUM(paid_amount), 0) AS total_paid,
        COALESCE(SUM(debt_amount), 0) AS total_debt
        FROM monthly_snapshots WHERE month = $1
        GROUP BY group_id, group_name
        ORDER BY group_name ASC`
	var rows []models.GroupBillingBreakdown
	if err := r.db.SelectContext(ctx, &rows, query, month); err != nil {
		return nil, fmt.Errorf("group breakdown: %w", err)
	}
	return rows, nil
}

// Months lists every month that has a snapshot batch, newest first.
func (r *SnapshotRepository) Months(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT month FROM monthly_snapshots ORDER BY month DESC`
	var months []string
	if err := r.db.SelectContext(ctx, &months, query); err != nil {
		return nil, fmt.Errorf("list snapshot months: %w", err)
	}
	return months, nil
}

type snapshotAmounts struct {
	PaidAmount     decimal.Decimal      `db:"paid_amount"`
	RequiredAmount decimal.Decimal      `db:"required_amount"`
	DiscountAmount decimal.Decimal      `db:"discount_amount"`
	MonthlyStatus  models.MonthlyStatus `db:"monthly_status"`
}

// ApplyPayment runs the full payment sequence (snapshot increment, ledger
// append, aggregate cache upsert, status recompute) in one transaction.
// The snapshot increment happens store-side and first, so the row lock it
// takes serialises concurrent payments for the same triple. Returns
// sql.ErrNoRows when no snapshot exists for the triple.
func (r *SnapshotRepository) ApplyPayment(ctx context.Context, payment *models.PaymentTransaction) (*models.PaymentResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment tx: %w", err)
	}

	const increment = `UPDATE monthly_snapshots
        SET paid_amount = paid_amount + $4,
            last_payment_date = $5,
            payment_made_by = $6,
            updated_at = NOW()
        WHERE month = $1 AND student_id = $2 AND group_id = $3
        RETURNING paid_amount, required_amount, discount_amount, monthly_status`
	var amounts snapshotAmounts
	if err := tx.QueryRowxContext(ctx, increment,
		payment.Month, payment.StudentID, payment.GroupID,
		payment.Amount, payment.CreatedAt, payment.CreatedBy,
	).StructScan(&amounts); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := insertPaymentTx(ctx, tx, payment); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := upsertPaymentTotalTx(ctx, tx, payment, amounts.RequiredAmount); err != nil {
		tx.Rollback()
		return nil, err
	}

	effective := amounts.RequiredAmount.Sub(amounts.DiscountAmount)
	debt := effective.Sub(amounts.PaidAmount)
	status := models.DerivePaymentStatus(amounts.PaidAmount, effective, amounts.MonthlyStatus)

	const finalize = `UPDATE monthly_snapshots SET debt_amount = $4, payment_status = $5
        WHERE month = $1 AND student_id = $2 AND group_id = $3`
	if _, err := tx.ExecContext(ctx, finalize, payment.Month, payment.StudentID, payment.GroupID, debt, status); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("finalize payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment: %w", err)
	}
	return &models.PaymentResult{PaidAmount: amounts.PaidAmount, DebtAmount: debt, PaymentStatus: status}, nil
}

// ApplyDiscount upserts the month-scoped discount rule and recomputes the
// snapshot against its stored paid amount, all in one transaction.
// Returns sql.ErrNoRows when no snapshot exists for the triple.
func (r *SnapshotRepository) ApplyDiscount(ctx context.Context, month, studentID, groupID string, discountType models.DiscountType, discountValue decimal.Decimal, description *string) (*models.DiscountResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin discount tx: %w", err)
	}

	const lock = `SELECT paid_amount, required_amount, discount_amount, monthly_status
        FROM monthly_snapshots
        WHERE month = $1 AND student_id = $2 AND group_id = $3
        FOR UPDATE`
	var amounts snapshotAmounts
	if err := tx.QueryRowxContext(ctx, lock, month, studentID, groupID).StructScan(&amounts); err != nil {
		tx.Rollback()
		return nil, err
	}

	rule := models.DiscountRule{
		StudentID:     studentID,
		GroupID:       groupID,
		DiscountType:  discountType,
		DiscountValue: discountValue,
		StartMonth:    month,
		EndMonth:      month,
		IsActive:      true,
		Description:   description,
	}
	discountAmount := rule.Amount(amounts.RequiredAmount)

	if err := upsertMonthScopedRuleTx(ctx, tx, &rule); err != nil {
		tx.Rollback()
		return nil, err
	}

	effective := amounts.RequiredAmount.Sub(discountAmount)
	debt := effective.Sub(amounts.PaidAmount)
	status := models.DerivePaymentStatus(amounts.PaidAmount, effective, amounts.MonthlyStatus)

	const update = `UPDATE monthly_snapshots
        SET discount_amount = $4, debt_amount = $5, payment_status = $6, updated_at = NOW()
        WHERE month = $1 AND student_id = $2 AND group_id = $3`
	if _, err := tx.ExecContext(ctx, update, month, studentID, groupID, discountAmount, debt, status); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("apply discount: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit discount: %w", err)
	}
	return &models.DiscountResult{
		OriginalAmount:    amounts.RequiredAmount,
		DiscountAmount:    discountAmount,
		EffectiveRequired: effective,
		DebtAmount:        debt,
		PaymentStatus:     status,
	}, nil
}

// ResetStudentMonth clears one student's billing for a month: overlapping
// discount rules are deactivated, the triple's ledger and cache rows are
// deleted, and the snapshot's amounts return to their unpaid baseline.
// The snapshot row itself survives. Returns sql.ErrNoRows when no
// snapshot exists for the triple.
func (r *SnapshotRepository) ResetStudentMonth(ctx context.Context, month, studentID, groupID string) (*models.MonthlySnapshot, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reset tx: %w", err)
	}

	const lock = `SELECT paid_amount, required_amount, discount_amount, monthly_status
        FROM monthly_snapshots
        WHERE month = $1 AND student_id = $2 AND group_id = $3
        FOR UPDATE`
	var amounts snapshotAmounts
	if err := tx.QueryRowxContext(ctx, lock, month, studentID, groupID).StructScan(&amounts); err != nil {
		tx.Rollback()
		return nil, err
	}

	if _, err := deactivateOverlappingRulesTx(ctx, tx, studentID, groupID, month); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := deletePaymentsForTripleTx(ctx, tx, studentID, groupID, month); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := deletePaymentTotalTx(ctx, tx, studentID, groupID, month); err != nil {
		tx.Rollback()
		return nil, err
	}

	status := models.DerivePaymentStatus(decimal.Zero, amounts.RequiredAmount, amounts.MonthlyStatus)
	const reset = `UPDATE monthly_snapshots
        SET paid_amount = 0, discount_amount = 0, debt_amount = required_amount,
            payment_status = $4, last_payment_date = NULL, payment_made_by = NULL, updated_at = NOW()
        WHERE month = $1 AND student_id = $2 AND group_id = $3`
	if _, err := tx.ExecContext(ctx, reset, month, studentID, groupID, status); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("reset snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reset: %w", err)
	}
	return r.FindByTriple(ctx, month, studentID, groupID)
}

// PurgeMonth deletes the month's rows across all four stores and reports
// per-table counts. Month-scoped discount rules are deleted; wider rules
// overlapping the month are deactivated instead.
func (r *SnapshotRepository) PurgeMonth(ctx context.Context, month string) (*models.PurgeResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purge tx: %w", err)
	}

	result := &models.PurgeResult{}

	res, err := tx.ExecContext(ctx, `DELETE FROM payment_transactions WHERE month = $1`, month)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("purge payments: %w", err)
	}
	result.Payments, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM payment_totals WHERE month = $1`, month)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("purge payment totals: %w", err)
	}
	result.PaymentTotals, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM monthly_snapshots WHERE month = $1`, month)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("purge snapshots: %w", err)
	}
	result.Snapshots, _ = res.RowsAffected()

	deleted, err := deleteMonthScopedRulesTx(ctx, tx, month)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	deactivated, err := deactivateRulesOverlappingMonthTx(ctx, tx, month)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	result.DiscountRules = deleted + deactivated

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purge: %w", err)
	}
	return result, nil
}

// UpdatePartial applies a partial update to a snapshot row and rederives
// the dependent fields under a row lock. Returns sql.ErrNoRows when the
// snapshot does not exist.
func (r *SnapshotRepository) UpdatePartial(ctx context.Context, id string, patch models.SnapshotUpdate) (*models.MonthlySnapshot, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update tx: %w", err)
	}

	const lock = `SELECT ` + snapshotColumns + ` FROM monthly_snapshots WHERE id = $1 FOR UPDATE`
	var snapshot models.MonthlySnapshot
	if err := tx.QueryRowxContext(ctx, lock, id).StructScan(&snapshot); err != nil {
		tx.Rollback()
		return nil, err
	}

	if patch.MonthlyStatus != nil {
		snapshot.MonthlyStatus = *patch.MonthlyStatus
	}
	if patch.RequiredAmount != nil {
		snapshot.RequiredAmount = *patch.RequiredAmount
	}
	if patch.PaidAmount != nil {
		snapshot.PaidAmount = *patch.PaidAmount
	}
	if patch.AttendancePercentage != nil {
		snapshot.AttendancePercentage = *patch.AttendancePercentage
	}
	snapshot.Recalculate()
	snapshot.UpdatedAt = time.Now().UTC()

	const update = `UPDATE monthly_snapshots
        SET monthly_status = :monthly_status, payment_status = :payment_status,
            required_amount = :required_amount, paid_amount = :paid_amount,
            debt_amount = :debt_amount, attendance_percentage = :attendance_percentage,
            updated_at = :updated_at
        WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, update, &snapshot); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("update snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return &snapshot, nil
}
