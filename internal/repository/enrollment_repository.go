package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bekzod-dev/tcenter-api/internal/models"
)

// EnrollmentRepository is a read-only view over the enrollment source:
// students, groups and the group_students membership table. The billing
// engine never writes to these tables.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const eligiblePairSelect = `SELECT gs.student_id, s.full_name AS student_name, COALESCE(s.phone, '') AS student_phone,
        gs.group_id, g.name AS group_name, g.subject, g.teacher_name, g.price AS group_price, gs.joined_at,
        COALESCE((SELECT e.status FROM student_status_events e
                  WHERE e.student_id = gs.student_id AND e.group_id = gs.group_id AND e.changed_at < $1
                  ORDER BY e.changed_at DESC LIMIT 1), 'active') AS monthly_status
        FROM group_students gs
        JOIN students s ON s.id = gs.student_id
        JOIN groups g ON g.id = gs.group_id
        WHERE gs.status = 'active' AND g.status = 'active' AND g.start_date < $1`

// EligiblePairs returns every (student, group) membership that qualifies
// for the billing month: active membership in an active, started group,
// joined on or before the month.
func (r *EnrollmentRepository) EligiblePairs(ctx context.Context, month string) ([]models.EligiblePair, error) {
	_, monthEnd, err := models.MonthRange(month)
	if err != nil {
		return nil, fmt.Errorf("parse month: %w", err)
	}
	query := eligiblePairSelect + ` AND gs.joined_at < $1 ORDER BY g.name ASC, s.full_name ASC`
	var pairs []models.EligiblePair
	if err := r.db.SelectContext(ctx, &pairs, query, monthEnd); err != nil {
		return nil, fmt.Errorf("list eligible pairs: %w", err)
	}
	return pairs, nil
}

// Diagnostics counts eligible groups and eligible membership links for a
// month, reported when generation finds nothing to bill.
func (r *EnrollmentRepository) Diagnostics(ctx context.Context, month string) (*models.GenerationDiagnostics, error) {
	_, monthEnd, err := models.MonthRange(month)
	if err != nil {
		return nil, fmt.Errorf("parse month: %w", err)
	}
	const query = `SELECT
        (SELECT COUNT(*) FROM groups g WHERE g.status = 'active' AND g.start_date < $1) AS eligible_groups,
        (SELECT COUNT(*) FROM group_students gs
         JOIN groups g ON g.id = gs.group_id
         WHERE gs.status = 'active' AND g.status = 'active' AND g.start_date < $1 AND gs.joined_at < $1) AS eligible_links`
	var diag models.GenerationDiagnostics
	if err := r.db.GetContext(ctx, &diag, query, monthEnd); err != nil {
		return nil, fmt.Errorf("generation diagnostics: %w", err)
	}
	return &diag, nil
}

// LateJoinCandidates finds memberships that became eligible strictly
// after the batch timestamp but still within the month, and that have no
// snapshot row yet. HasActivity flags pairs with attendance or ledger
// rows for the month, to split "already started" from "not yet started".
func (r *EnrollmentRepository) LateJoinCandidates(ctx context.Context, month string, after time.Time) ([]models.LateJoinCandidate, error) {
	monthStart, monthEnd, err := models.MonthRange(month)
	if err != nil {
		return nil, fmt.Errorf("parse month: %w", err)
	}
	const query = `SELECT gs.student_id, s.full_name AS student_name, COALESCE(s.phone, '') AS student_phone,
        gs.group_id, g.name AS group_name, g.subject, g.teacher_name, g.price AS group_price, gs.joined_at,
        COALESCE((SELECT e.status FROM student_status_events e
                  WHERE e.student_id = gs.student_id AND e.group_id = gs.group_id AND e.changed_at < $2
                  ORDER BY e.changed_at DESC LIMIT 1), 'active') AS monthly_status,
        (EXISTS (SELECT 1 FROM lessons l
                 JOIN lesson_attendance la ON la.lesson_id = l.id
                 WHERE l.group_id = gs.group_id AND la.student_id = gs.student_id
                   AND l.lesson_date >= $4 AND l.lesson_date < $2)
         OR EXISTS (SELECT 1 FROM payment_transactions pt
                    WHERE pt.student_id = gs.student_id AND pt.group_id = gs.group_id AND pt.month = $1)) AS has_activity
        FROM group_students gs
        JOIN students s ON s.id = gs.student_id
        JOIN groups g ON g.id = gs.group_id
        WHERE gs.status = 'active' AND g.status = 'active' AND g.start_date < $2
          AND gs.joined_at > $3 AND gs.joined_at < $2
          AND NOT EXISTS (SELECT 1 FROM monthly_snapshots ms
                          WHERE ms.month = $1 AND ms.student_id = gs.student_id AND ms.group_id = gs.group_id)
        ORDER BY gs.joined_at ASC`
	var candidates []models.LateJoinCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, month, monthEnd, after, monthStart); err != nil {
		return nil, fmt.Errorf("list late-join candidates: %w", err)
	}
	return candidates, nil
}

// JoinedAt returns when the student joined the group, or sql.ErrNoRows
// when no membership exists.
func (r *EnrollmentRepository) JoinedAt(ctx context.Context, studentID, groupID string) (time.Time, error) {
	const query = `SELECT joined_at FROM group_students WHERE student_id = $1 AND group_id = $2`
	var joined time.Time
	if err := r.db.GetContext(ctx, &joined, query, studentID, groupID); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("find join date: %w", err)
	}
	return joined, nil
}
