package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bekzod-dev/tcenter-api/internal/models"
)

func lessonRows(dates []time.Time, statuses []interface{}) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"lesson_id", "lesson_date", "status"})
	for i, date := range dates {
		rows.AddRow(date.Format("l-2006-01-02"), date, statuses[i])
	}
	return rows
}

func TestAttendanceRepository_Counters_SkipsLessonsBeforeJoinDay(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	monthStart := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	// Joined midday on Feb 10; the lesson that morning still counts.
	joinedAt := time.Date(2025, 2, 10, 14, 0, 0, 0, time.UTC)

	dates := []time.Time{
		time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 12, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 17, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 19, 9, 0, 0, 0, time.UTC),
	}
	statuses := []interface{}{"present", "present", "present", "late", "absent", nil}

	mock.ExpectQuery(`SELECT l\.id AS lesson_id, l\.lesson_date, la\.status`).
		WithArgs("grp-1", "stu-1", monthStart, monthEnd).
		WillReturnRows(lessonRows(dates, statuses))

	counters, err := repo.Counters(context.Background(), "grp-1", "stu-1", monthStart, monthEnd, joinedAt)
	require.NoError(t, err)
	assert.Equal(t, 4, counters.TotalLessons)
	assert.Equal(t, 2, counters.AttendedLessons, "present and late both count")
	assert.InDelta(t, 50, counters.Percentage, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepository_Breakdown_MarksSentinelAndPreJoinNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	monthStart := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	joinedAt := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	dates := []time.Time{
		time.Date(2025, 2, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 12, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 19, 9, 0, 0, 0, time.UTC),
	}
	statuses := []interface{}{nil, "present", nil}

	mock.ExpectQuery(`SELECT l\.id AS lesson_id, l\.lesson_date, la\.status`).
		WithArgs("grp-1", "stu-1", monthStart, monthEnd).
		WillReturnRows(lessonRows(dates, statuses))

	entries, counters, err := repo.Breakdown(context.Background(), "grp-1", "stu-1", monthStart, monthEnd, joinedAt)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Nil(t, entries[0].Status, "pre-join lesson stays unstated")
	require.NotNil(t, entries[1].Status)
	assert.Equal(t, models.LessonStatusPresent, *entries[1].Status)
	require.NotNil(t, entries[2].Status)
	assert.Equal(t, models.LessonStatusNotMarked, *entries[2].Status)

	assert.Equal(t, 2, counters.TotalLessons)
	assert.Equal(t, 1, counters.AttendedLessons)
	assert.NoError(t, mock.ExpectationsWereMet())
}
