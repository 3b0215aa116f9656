package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

type fakeTripleReader struct {
	snapshot *models.MonthlySnapshot
	err      error
}

func (f *fakeTripleReader) FindByTriple(context.Context, string, string, string) (*models.MonthlySnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeJoinDates struct {
	joinedAt time.Time
	err      error
}

func (f *fakeJoinDates) JoinedAt(context.Context, string, string) (time.Time, error) {
	return f.joinedAt, f.err
}

type fakeBreakdown struct {
	entries  []models.LessonAttendanceEntry
	counters models.AttendanceCounters
}

func (f *fakeBreakdown) Breakdown(context.Context, string, string, time.Time, time.Time, time.Time) ([]models.LessonAttendanceEntry, *models.AttendanceCounters, error) {
	c := f.counters
	return f.entries, &c, nil
}

func TestAttendanceService_Report_FrozenCountersFromSnapshot(t *testing.T) {
	// Live data says 7 of 10; the snapshot froze 6 of 10 at generation
	// time and must win.
	svc := NewAttendanceService(
		&fakeTripleReader{snapshot: &models.MonthlySnapshot{
			TotalLessons:         10,
			AttendedLessons:      6,
			AttendancePercentage: 60,
		}},
		&fakeJoinDates{joinedAt: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
		&fakeBreakdown{counters: models.AttendanceCounters{TotalLessons: 10, AttendedLessons: 7, Percentage: 70}},
		nil,
	)

	report, err := svc.Report(context.Background(), "2025-02", "stu-1", "grp-1")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceSourceSnapshot, report.Source)
	assert.Equal(t, 6, report.Counters.AttendedLessons)
	assert.InDelta(t, 60, report.Counters.Percentage, 0.001)
}

func TestAttendanceService_Report_LiveWhenNoSnapshot(t *testing.T) {
	status := models.LessonStatusPresent
	svc := NewAttendanceService(
		&fakeTripleReader{err: sql.ErrNoRows},
		&fakeJoinDates{joinedAt: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)},
		&fakeBreakdown{
			entries: []models.LessonAttendanceEntry{
				{LessonID: "l-1", LessonDate: time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)},
				{LessonID: "l-2", LessonDate: time.Date(2025, 2, 12, 0, 0, 0, 0, time.UTC), Status: &status},
			},
			counters: models.AttendanceCounters{TotalLessons: 1, AttendedLessons: 1, Percentage: 100},
		},
		nil,
	)

	report, err := svc.Report(context.Background(), "2025-02", "stu-1", "grp-1")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceSourceLive, report.Source)
	assert.Equal(t, 1, report.Counters.TotalLessons)
	require.Len(t, report.Lessons, 2)
	assert.Nil(t, report.Lessons[0].Status, "pre-join lesson carries no status")
}

func TestAttendanceService_Report_UnknownMembership(t *testing.T) {
	svc := NewAttendanceService(
		&fakeTripleReader{},
		&fakeJoinDates{err: sql.ErrNoRows},
		&fakeBreakdown{},
		nil,
	)

	_, err := svc.Report(context.Background(), "2025-02", "stu-1", "grp-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceService_Report_RejectsBadMonth(t *testing.T) {
	svc := NewAttendanceService(&fakeTripleReader{}, &fakeJoinDates{}, &fakeBreakdown{}, nil)

	_, err := svc.Report(context.Background(), "02-2025", "stu-1", "grp-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
