package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bekzod-dev/tcenter-api/internal/models"
)

// DiscountRepository reads time-ranged discount rules. Month-scoped rule
// writes run inside the snapshot repository's transactions via the tx
// helpers below.
type DiscountRepository struct {
	db *sqlx.DB
}

// NewDiscountRepository constructs the repository.
func NewDiscountRepository(db *sqlx.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

const discountColumns = `id, student_id, group_id, discount_type, discount_value, start_month, end_month, is_active, description, created_at, updated_at`

// ListActiveForMonth returns every active rule whose range covers the
// month. YYYY-MM keys order lexicographically, so plain comparisons work.
func (r *DiscountRepository) ListActiveForMonth(ctx context.Context, studentID, groupID, month string) ([]models.DiscountRule, error) {
	const query = `SELECT ` + discountColumns + ` FROM discount_rules
        WHERE student_id = $1 AND group_id = $2 AND is_active = TRUE
          AND start_month <= $3 AND end_month >= $3
        ORDER BY created_at ASC`
	var rules []models.DiscountRule
	if err := r.db.SelectContext(ctx, &rules, query, studentID, groupID, month); err != nil {
		return nil, fmt.Errorf("list active discounts: %w", err)
	}
	return rules, nil
}

// ListForStudent returns all rules for a (student, group) pair.
func (r *DiscountRepository) ListForStudent(ctx context.Context, studentID, groupID string) ([]models.DiscountRule, error) {
	const query = `SELECT ` + discountColumns + ` FROM discount_rules
        WHERE student_id = $1 AND group_id = $2
        ORDER BY start_month DESC, created_at DESC`
	var rules []models.DiscountRule
	if err := r.db.SelectContext(ctx, &rules, query, studentID, groupID); err != nil {
		return nil, fmt.Errorf("list discounts: %w", err)
	}
	return rules, nil
}

// upsertMonthScopedRuleTx overwrites the rule scoped to exactly one month
// (start_month = end_month) or inserts it when absent. Month-scoped rules
// never stack with themselves.
func upsertMonthScopedRuleTx(ctx context.Context, tx *sqlx.Tx, rule *models.DiscountRule) error {
	const update = `UPDATE discount_rules
        SET discount_type = $4, discount_value = $5, description = $6, is_active = TRUE, updated_at = NOW()
        WHERE student_id = $1 AND group_id = $2 AND start_month = $3 AND end_month = $3`
	res, err := tx.ExecContext(ctx, update,
		rule.StudentID, rule.GroupID, rule.StartMonth,
		rule.DiscountType, rule.DiscountValue, rule.Description,
	)
	if err != nil {
		return fmt.Errorf("update discount rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update discount rule result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	const insert = `INSERT INTO discount_rules (` + discountColumns + `)
        VALUES (:id, :student_id, :group_id, :discount_type, :discount_value, :start_month, :end_month, :is_active, :description, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, rule); err != nil {
		return fmt.Errorf("insert discount rule: %w", err)
	}
	return nil
}

func deactivateOverlappingRulesTx(ctx context.Context, tx *sqlx.Tx, studentID, groupID, month string) (int64, error) {
	const query = `UPDATE discount_rules SET is_active = FALSE, updated_at = NOW()
        WHERE student_id = $1 AND group_id = $2 AND is_active = TRUE
          AND start_month <= $3 AND end_month >= $3`
	res, err := tx.ExecContext(ctx, query, studentID, groupID, month)
	if err != nil {
		return 0, fmt.Errorf("deactivate discounts: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func deleteMonthScopedRulesTx(ctx context.Context, tx *sqlx.Tx, month string) (int64, error) {
	const query = `DELETE FROM discount_rules WHERE start_month = $1 AND end_month = $1`
	res, err := tx.ExecContext(ctx, query, month)
	if err != nil {
		return 0, fmt.Errorf("delete month discounts: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func deactivateRulesOverlappingMonthTx(ctx context.Context, tx *sqlx.Tx, month string) (int64, error) {
	const query = `UPDATE discount_rules SET is_active = FALSE, updated_at = NOW()
        WHERE is_active = TRUE AND start_month <= $1 AND end_month >= $1`
	res, err := tx.ExecContext(ctx, query, month)
	if err != nil {
		return 0, fmt.Errorf("deactivate month discounts: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
