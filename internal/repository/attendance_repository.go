package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bekzod-dev/tcenter-api/internal/models"
)

// AttendanceRepository is a read-only view over the attendance source:
// lessons and per-lesson marks. Used to freeze counters at snapshot time
// and to answer live attendance queries for months without a snapshot.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

type lessonMarkRow struct {
	LessonID   string               `db:"lesson_id"`
	LessonDate time.Time            `db:"lesson_date"`
	Status     *models.LessonStatus `db:"status"`
}

// lessonMarks returns every lesson of the group within [monthStart,
// monthEnd) joined with the student's mark, oldest first.
func (r *AttendanceRepository) lessonMarks(ctx context.Context, groupID, studentID string, monthStart, monthEnd time.Time) ([]lessonMarkRow, error) {
	const query = `SELECT l.id AS lesson_id, l.lesson_date, la.status
        FROM lessons l
        LEFT JOIN lesson_attendance la ON la.lesson_id = l.id AND la.student_id = $2
        WHERE l.group_id = $1 AND l.lesson_date >= $3 AND l.lesson_date < $4
        ORDER BY l.lesson_date ASC`
	var rows []lessonMarkRow
	if err := r.db.SelectContext(ctx, &rows, query, groupID, studentID, monthStart, monthEnd); err != nil {
		return nil, fmt.Errorf("list lesson marks: %w", err)
	}
	return rows, nil
}

// Counters computes the month's attendance counters for one student,
// counting only lessons on or after the join date.
func (r *AttendanceRepository) Counters(ctx context.Context, groupID, studentID string, monthStart, monthEnd, joinedAt time.Time) (*models.AttendanceCounters, error) {
	rows, err := r.lessonMarks(ctx, groupID, studentID, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	counters := &models.AttendanceCounters{}
	joinDay := dayOf(joinedAt)
	for _, row := range rows {
		if row.LessonDate.Before(joinDay) {
			continue
		}
		counters.TotalLessons++
		if row.Status != nil && row.Status.Attended() {
			counters.AttendedLessons++
		}
	}
	if counters.TotalLessons > 0 {
		counters.Percentage = float64(counters.AttendedLessons) / float64(counters.TotalLessons) * 100
	}
	return counters, nil
}

// Breakdown returns the per-lesson view for a live attendance report.
// Lessons before the join date carry a nil status and are excluded from
// the counters; unmarked lessons after it get the not-marked sentinel.
func (r *AttendanceRepository) Breakdown(ctx context.Context, groupID, studentID string, monthStart, monthEnd, joinedAt time.Time) ([]models.LessonAttendanceEntry, *models.AttendanceCounters, error) {
	rows, err := r.lessonMarks(ctx, groupID, studentID, monthStart, monthEnd)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]models.LessonAttendanceEntry, 0, len(rows))
	counters := &models.AttendanceCounters{}
	joinDay := dayOf(joinedAt)
	for _, row := range rows {
		entry := models.LessonAttendanceEntry{LessonID: row.LessonID, LessonDate: row.LessonDate}
		if !row.LessonDate.Before(joinDay) {
			status := models.LessonStatusNotMarked
			if row.Status != nil {
				status = *row.Status
			}
			entry.Status = &status
			counters.TotalLessons++
			if status.Attended() {
				counters.AttendedLessons++
			}
		}
		entries = append(entries, entry)
	}
	if counters.TotalLessons > 0 {
		counters.Percentage = float64(counters.AttendedLessons) / float64(counters.TotalLessons) * 100
	}
	return entries, counters, nil
}

// dayOf truncates a timestamp to midnight UTC so a student joining at
// 14:00 on the 15th still counts the lesson held that morning.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
